package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/ataleck/sage/internal/retrieval"
	"github.com/google/uuid"
)

// vectorTable is the similarity-index table semantic memory owns.
const vectorTable = "knowledge_vectors"

// defaultTopK is the result count when a query filter leaves TopK unset.
const defaultTopK = 3

// Embedder turns text into a fixed-length vector. It must be deterministic:
// identical input produces identical vectors, which is what the exact-text
// dedup below relies on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Semantic persists free-text knowledge chunks as embeddings in a
// similarity-searchable index.
//
// Dedup is exact-text only: before inserting, a top-1 search filtered to the
// chunk's literal text decides whether the chunk is already stored. Identical
// bytes are suppressed; paraphrases are not. That is a known limitation of
// the current design, not something to quietly patch over.
type Semantic struct {
	embedder Embedder
	vectors  retrieval.VectorStore
}

var _ Module = (*Semantic)(nil)

func NewSemantic(embedder Embedder, vectors retrieval.VectorStore) *Semantic {
	return &Semantic{embedder: embedder, vectors: vectors}
}

// Store embeds the chunk and inserts it under a fresh UUID, unless an
// identical chunk is already present.
func (s *Semantic) Store(ctx context.Context, rec Record) error {
	if rec.Kind != KindKnowledge || rec.Knowledge == nil {
		return fmt.Errorf("%w: semantic store requires a knowledge record", ErrValidation)
	}
	k := rec.Knowledge
	if k.Text == "" {
		return fmt.Errorf("%w: knowledge requires text", ErrValidation)
	}

	vector, err := s.embedder.Embed(ctx, k.Text)
	if err != nil {
		return fmt.Errorf("embedding chunk: %w", err)
	}

	existing, err := s.vectors.Search(vectorTable, vector, 1, retrieval.TextEqualsFilter(k.Text))
	if err != nil {
		return storageErr("checking for duplicate chunk", err)
	}
	if len(existing) > 0 {
		return nil
	}

	sourceType := k.SourceType
	if sourceType == "" {
		sourceType = "conversation"
	}
	tags := k.Tags
	if tags == "" {
		tags = "[]"
	}
	createdAt := k.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err = s.vectors.Insert(vectorTable, []retrieval.Record{{
		ID:         uuid.NewString(),
		SourceID:   k.SourceID,
		SourceType: sourceType,
		TextChunk:  k.Text,
		Embedding:  vector,
		CreatedAt:  createdAt,
		Tags:       tags,
	}})
	if err != nil {
		return storageErr("inserting chunk", err)
	}
	return nil
}

// Query embeds QueryText and returns the TopK nearest chunks in
// descending-similarity order.
func (s *Semantic) Query(ctx context.Context, f Filter) ([]Record, error) {
	if f.Kind != KindKnowledge {
		return nil, fmt.Errorf("%w: semantic query requires kind %q", ErrValidation, KindKnowledge)
	}
	if f.QueryText == "" {
		return nil, fmt.Errorf("%w: semantic query requires queryText", ErrValidation)
	}
	topK := f.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	vector, err := s.embedder.Embed(ctx, f.QueryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := s.vectors.Search(vectorTable, vector, topK, "")
	if err != nil {
		return nil, storageErr("searching chunks", err)
	}

	records := make([]Record, 0, len(matches))
	for _, m := range matches {
		records = append(records, Record{Kind: KindKnowledge, Knowledge: &Knowledge{
			ID:         m.ID,
			Text:       m.TextChunk,
			SourceID:   m.SourceID,
			SourceType: m.SourceType,
			Tags:       m.Tags,
			Score:      m.Score,
			CreatedAt:  m.CreatedAt,
		}})
	}
	return records, nil
}

// Delete removes a chunk from the index by ID.
func (s *Semantic) Delete(ctx context.Context, f Filter) error {
	if f.Kind != KindKnowledge {
		return fmt.Errorf("%w: semantic delete requires kind %q", ErrValidation, KindKnowledge)
	}
	if f.ID == "" {
		return fmt.Errorf("%w: delete requires id", ErrValidation)
	}
	if err := s.vectors.Delete(vectorTable, f.ID); err != nil {
		return storageErr("deleting chunk", err)
	}
	return nil
}
