package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"testing"

	"github.com/ataleck/sage/internal/retrieval"
	"github.com/ataleck/sage/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// hashEmbedder derives a deterministic vector from the text bytes. Identical
// text always embeds to the identical vector, like a real embedding model.
type hashEmbedder struct {
	dim int
}

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, h.dim)
	for i := range v {
		f := fnv.New32a()
		fmt.Fprintf(f, "%d:%s", i, text)
		v[i] = float32(f.Sum32()%1000)/1000 + 0.001
	}
	return v, nil
}

// mapEmbedder returns a fixed vector per text, for tests that need to
// control similarity ordering.
type mapEmbedder struct {
	vectors map[string][]float32
}

func (m *mapEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, ok := m.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector registered for %q", text)
	}
	return v, nil
}

// failingEmbedder simulates an unreachable embedding backend.
type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("engine not running")
}

func newTestSemantic(t *testing.T, embedder Embedder) (*Semantic, retrieval.VectorStore) {
	t.Helper()
	store := newTestStore(t)
	vectors := retrieval.NewSQLiteStore(store.DB())
	return NewSemantic(embedder, vectors), vectors
}
