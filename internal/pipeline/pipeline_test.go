package pipeline

import (
	"context"
	"testing"

	"github.com/ataleck/sage/internal/extract"
	"github.com/ataleck/sage/internal/memory"
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

// fakeModule implements memory.Module with canned query results and
// recorded stores.
type fakeModule struct {
	records  []memory.Record
	queryErr error
	storeErr error
	stored   []memory.Record
}

func (f *fakeModule) Store(ctx context.Context, rec memory.Record) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, rec)
	return nil
}

func (f *fakeModule) Query(ctx context.Context, filter memory.Filter) ([]memory.Record, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.records, nil
}

func (f *fakeModule) Delete(ctx context.Context, filter memory.Filter) error {
	return nil
}

// fakeExtractor returns a canned extraction result.
type fakeExtractor struct {
	result extract.Result
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) (extract.Result, error) {
	f.calls++
	if f.err != nil {
		return extract.Result{}, f.err
	}
	return f.result, nil
}

func entityRecord(name, typ, details string) memory.Record {
	return memory.Record{Kind: memory.KindEntity, Entity: &memory.Entity{
		Name:    name,
		Type:    typ,
		Details: details,
	}}
}

func knowledgeRecord(text string, score float32) memory.Record {
	return memory.Record{Kind: memory.KindKnowledge, Knowledge: &memory.Knowledge{
		Text:  text,
		Score: score,
	}}
}
