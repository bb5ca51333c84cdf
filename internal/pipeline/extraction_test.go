package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ataleck/sage/internal/extract"
	"github.com/ataleck/sage/internal/memory"
	"github.com/ataleck/sage/internal/storage"
	"github.com/google/uuid"
)

func newRunningRun(t *testing.T, store *storage.Store) string {
	t.Helper()
	runID := uuid.NewString()
	err := store.CreateRun(storage.Run{
		ID:        runID,
		Type:      storage.RunTypeMemoryExtraction,
		Status:    storage.RunStatusRunning,
		StartTime: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return runID
}

func TestExtractAndStoreSuccess(t *testing.T) {
	store := newTestStore(t)
	structured := &fakeModule{}
	semantic := &fakeModule{}
	extractor := &fakeExtractor{result: extract.Result{
		Entities: []extract.Entity{
			{Name: "Alice", Type: "Person", Details: "staff engineer"},
			{Name: "Acme Corp", Type: "Company"},
		},
		Knowledge: []string{
			"Alice joined Acme Corp in early 2024",
			"ok noted",
		},
	}}
	p := NewExtraction(extractor, structured, semantic, store)
	runID := newRunningRun(t, store)

	if err := p.ExtractAndStore(context.Background(), "Alice told me she joined Acme Corp in early 2024", runID); err != nil {
		t.Fatalf("ExtractAndStore: %v", err)
	}

	run, err := store.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != storage.RunStatusCompleted {
		t.Errorf("run status = %q, want completed", run.Status)
	}
	if run.FinalOutput != "Stored 2 entities. Stored 1 knowledge chunks." {
		t.Errorf("final output = %q", run.FinalOutput)
	}

	steps, err := store.ListRunSteps(runID)
	if err != nil {
		t.Fatalf("ListRunSteps: %v", err)
	}
	wantSteps := []string{"ExtractDataWithLLM", "StoreEntities", "StoreKnowledge"}
	if len(steps) != len(wantSteps) {
		t.Fatalf("got %d steps, want %d", len(steps), len(wantSteps))
	}
	for i, step := range steps {
		if step.StepName != wantSteps[i] {
			t.Errorf("step %d name = %q, want %q", i, step.StepName, wantSteps[i])
		}
		if step.StepOrder != i+1 {
			t.Errorf("step %d order = %d, want %d", i, step.StepOrder, i+1)
		}
		if step.Status != storage.RunStatusCompleted {
			t.Errorf("step %q status = %q, want completed", step.StepName, step.Status)
		}
	}

	if len(structured.stored) != 2 {
		t.Errorf("stored %d entities, want 2", len(structured.stored))
	}
	// "ok noted" is below the five-word floor and never reaches the store.
	if len(semantic.stored) != 1 {
		t.Fatalf("stored %d knowledge chunks, want 1", len(semantic.stored))
	}
	if semantic.stored[0].Knowledge.Text != "Alice joined Acme Corp in early 2024" {
		t.Errorf("stored chunk = %q", semantic.stored[0].Knowledge.Text)
	}
}

func TestExtractAndStoreKnowledgeWordFloor(t *testing.T) {
	store := newTestStore(t)
	semantic := &fakeModule{}
	extractor := &fakeExtractor{result: extract.Result{
		Knowledge: []string{
			"one two three four",      // 4 words: dropped
			"one two three four five", // 5 words: stored
		},
	}}
	p := NewExtraction(extractor, &fakeModule{}, semantic, store)
	runID := newRunningRun(t, store)

	if err := p.ExtractAndStore(context.Background(), "text", runID); err != nil {
		t.Fatalf("ExtractAndStore: %v", err)
	}
	if len(semantic.stored) != 1 {
		t.Fatalf("stored %d chunks, want 1", len(semantic.stored))
	}
	if semantic.stored[0].Knowledge.Text != "one two three four five" {
		t.Errorf("stored chunk = %q", semantic.stored[0].Knowledge.Text)
	}

	run, _ := store.GetRun(runID)
	if run.FinalOutput != "Stored 0 entities. Stored 1 knowledge chunks." {
		t.Errorf("final output = %q", run.FinalOutput)
	}
}

func TestExtractAndStoreExtractorFailure(t *testing.T) {
	store := newTestStore(t)
	structured := &fakeModule{}
	semantic := &fakeModule{}
	extractor := &fakeExtractor{err: fmt.Errorf("%w: not json", extract.ErrBadExtraction)}
	p := NewExtraction(extractor, structured, semantic, store)
	runID := newRunningRun(t, store)

	err := p.ExtractAndStore(context.Background(), "text", runID)
	if !errors.Is(err, extract.ErrBadExtraction) {
		t.Fatalf("got %v, want ErrBadExtraction", err)
	}

	run, getErr := store.GetRun(runID)
	if getErr != nil {
		t.Fatalf("GetRun: %v", getErr)
	}
	if run.Status != storage.RunStatusFailed {
		t.Errorf("run status = %q, want failed", run.Status)
	}
	if !strings.Contains(run.ErrorMessage, "not json") {
		t.Errorf("run error = %q, want extraction error recorded", run.ErrorMessage)
	}

	steps, _ := store.ListRunSteps(runID)
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1 (remaining steps skipped)", len(steps))
	}
	if steps[0].Status != storage.RunStatusFailed {
		t.Errorf("step status = %q, want failed", steps[0].Status)
	}
	if len(structured.stored) != 0 || len(semantic.stored) != 0 {
		t.Error("nothing may be stored after a failed extraction step")
	}
}

func TestExtractAndStoreEntityStoreFailure(t *testing.T) {
	store := newTestStore(t)
	structured := &fakeModule{storeErr: memory.ErrStorageUnavailable}
	semantic := &fakeModule{}
	extractor := &fakeExtractor{result: extract.Result{
		Entities:  []extract.Entity{{Name: "Alice", Type: "Person"}},
		Knowledge: []string{"Alice joined Acme Corp in early 2024"},
	}}
	p := NewExtraction(extractor, structured, semantic, store)
	runID := newRunningRun(t, store)

	err := p.ExtractAndStore(context.Background(), "text", runID)
	if !errors.Is(err, memory.ErrStorageUnavailable) {
		t.Fatalf("got %v, want ErrStorageUnavailable", err)
	}

	run, _ := store.GetRun(runID)
	if run.Status != storage.RunStatusFailed {
		t.Errorf("run status = %q, want failed", run.Status)
	}

	steps, _ := store.ListRunSteps(runID)
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2 (StoreKnowledge skipped)", len(steps))
	}
	if steps[0].Status != storage.RunStatusCompleted {
		t.Errorf("ExtractDataWithLLM status = %q, want completed", steps[0].Status)
	}
	if steps[1].Status != storage.RunStatusFailed {
		t.Errorf("StoreEntities status = %q, want failed", steps[1].Status)
	}
	if len(semantic.stored) != 0 {
		t.Error("StoreKnowledge must not run after StoreEntities failed")
	}
}

func TestEnqueueCreatesRunAndJob(t *testing.T) {
	store := newTestStore(t)

	runID, err := Enqueue(store, "some conversation text")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	run, err := store.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != storage.RunStatusRunning {
		t.Errorf("run status = %q, want running", run.Status)
	}
	if run.Type != storage.RunTypeMemoryExtraction {
		t.Errorf("run type = %q, want %q", run.Type, storage.RunTypeMemoryExtraction)
	}

	job, err := store.ClaimNextJob([]string{JobTypeMemoryExtract})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
	if job.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1 (failed extractions are not retried)", job.MaxAttempts)
	}

	var payload struct {
		RunID string `json:"run_id"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if payload.RunID != runID {
		t.Errorf("payload run_id = %q, want %q", payload.RunID, runID)
	}
	if payload.Text != "some conversation text" {
		t.Errorf("payload text = %q", payload.Text)
	}
}
