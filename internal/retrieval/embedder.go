package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/ataleck/sage/internal/engine"
)

// Embedder generates embedding vectors for knowledge chunks through the
// inference engine, pinned to one embedding model. Mixing vectors from
// different models in the same table would make similarity meaningless.
type Embedder struct {
	engine engine.Engine
	model  string
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Embed returns the embedding vector for text. Leading and trailing
// whitespace is stripped first so trivially reformatted text embeds the
// same way.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding empty text")
	}

	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("engine returned empty vector for model %s", e.model)
	}
	return vec, nil
}
