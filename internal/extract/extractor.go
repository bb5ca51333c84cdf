// Package extract turns free conversation text into structured memory
// candidates using a local LLM with schema-constrained JSON output.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ataleck/sage/internal/engine"
)

// ErrBadExtraction indicates the model's response was not valid JSON or did
// not match the expected shape. The extraction pipeline treats this as a
// step failure; there is no partial parsing or best-effort recovery.
var ErrBadExtraction = errors.New("malformed extraction response")

const extractionTimeout = 60 * time.Second

// Entity is one named entity the model identified in the text.
type Entity struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Details string `json:"details"`
}

// Result holds the structured extraction output: entities worth remembering
// and distinct self-contained knowledge statements.
type Result struct {
	Entities  []Entity `json:"entities"`
	Knowledge []string `json:"knowledge"`
}

// Chatter is the chat-completion capability the extractor needs.
// engine.Engine satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Extractor uses a fast local LLM to extract entities and knowledge from
// conversation text.
type Extractor struct {
	client Chatter
	model  string
}

// NewExtractor creates an Extractor using the given chat client and model name.
func NewExtractor(client Chatter, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

// Extract analyses the text and returns the structured result. Unlike a
// best-effort classifier, any failure here (provider error, empty response,
// malformed JSON) is returned to the caller: the extraction pipeline needs
// to record the failure on its run, not swallow it.
func (e *Extractor) Extract(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: empty input text", ErrBadExtraction)
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	raw, err := e.client.Chat(ctx, e.model, BuildPrompt(text), extractionSchema())
	if err != nil {
		return Result{}, fmt.Errorf("extraction chat: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return Result{}, fmt.Errorf("%w: empty response", ErrBadExtraction)
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadExtraction, err)
	}
	for i, ent := range result.Entities {
		if ent.Name == "" || ent.Type == "" {
			return Result{}, fmt.Errorf("%w: entity %d missing name or type", ErrBadExtraction, i)
		}
	}
	return result, nil
}

// extractionSchema returns the JSON schema for structured extraction output.
func extractionSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"entities": {
				Type:        "array",
				Description: "Objects with name, type, and details fields",
				Items:       &engine.SchemaProperty{Type: "object"},
			},
			"knowledge": {
				Type:        "array",
				Description: "Self-contained knowledge statements",
				Items:       &engine.SchemaProperty{Type: "string"},
			},
		},
		Required: []string{"entities", "knowledge"},
	}
}
