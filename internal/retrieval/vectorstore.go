package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The current implementation uses SQLite with brute-force cosine
// similarity; an ANN-capable backend can be swapped in behind the same
// interface.
//
//   - All record data uses the same Record/ScoredRecord types regardless of
//     backend.
//   - The "table" parameter is included for backends that support multiple
//     tables. The SQLite implementation accepts only "knowledge_vectors".
//   - The "filter" parameter in Search accepts a SQL-like predicate for
//     metadata filtering. The SQLite backend supports the single form
//     produced by TextEqualsFilter (exact text_chunk equality), which is
//     what semantic-memory deduplication needs.
type VectorStore interface {
	// Insert adds records to the given table.
	Insert(table string, records []Record) error

	// Search performs vector similarity search, returning the top-K most
	// similar records. filter is an optional predicate (see TextEqualsFilter).
	Search(table string, vector []float32, topK int, filter string) ([]ScoredRecord, error)

	// GetByIDs returns records matching the given IDs from the given table.
	GetByIDs(ctx context.Context, table string, ids []string) ([]Record, error)

	// Delete removes a record by ID from the given table.
	Delete(table string, id string) error

	// CreateTable ensures the named table exists. Idempotent.
	CreateTable(name string) error

	// ExportAll returns all records from the given table.
	// Used for data migration between backends.
	ExportAll(table string) ([]Record, error)

	// Count returns the number of records in the given table.
	Count(table string) (int, error)
}

// Record represents a row in the vector store.
type Record struct {
	ID         string
	SourceID   string
	SourceType string
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
	Tags       string // JSON array stored as text
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

const textFilterPrefix = "text_chunk = '"

// TextEqualsFilter builds a Search filter matching records whose text_chunk
// equals text exactly. Single quotes are doubled, SQL style, so the filter
// survives round-tripping through parseTextFilter.
func TextEqualsFilter(text string) string {
	return textFilterPrefix + strings.ReplaceAll(text, "'", "''") + "'"
}

// parseTextFilter extracts the literal from a TextEqualsFilter predicate.
// Returns ok=false for an empty filter; errors on any other predicate form.
func parseTextFilter(filter string) (text string, ok bool, err error) {
	if filter == "" {
		return "", false, nil
	}
	if !strings.HasPrefix(filter, textFilterPrefix) || !strings.HasSuffix(filter, "'") {
		return "", false, fmt.Errorf("unsupported filter predicate %q", filter)
	}
	quoted := filter[len(textFilterPrefix) : len(filter)-1]
	return strings.ReplaceAll(quoted, "''", "'"), true, nil
}
