package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ataleck/sage/internal/extract"
	"github.com/ataleck/sage/internal/memory"
	"github.com/ataleck/sage/internal/storage"
	"github.com/google/uuid"
)

// JobTypeMemoryExtract is the queue job type for extraction runs.
const JobTypeMemoryExtract = "memory_extract"

// minKnowledgeWords is the quality floor for knowledge chunks: shorter
// statements are noise ("ok, noted") and never reach the semantic store.
const minKnowledgeWords = 5

// TextExtractor is the structured-extraction capability of step one.
// *extract.Extractor satisfies it.
type TextExtractor interface {
	Extract(ctx context.Context, text string) (extract.Result, error)
}

// Extraction is the write-path pipeline: extract entities and knowledge
// from conversation text with an LLM, then store them through the memory
// modules, recording each step against a pre-created run row.
type Extraction struct {
	extractor  TextExtractor
	structured memory.Module
	semantic   memory.Module
	recorder   *Recorder
	runs       RunLog
}

func NewExtraction(extractor TextExtractor, structured, semantic memory.Module, runs RunLog) *Extraction {
	return &Extraction{
		extractor:  extractor,
		structured: structured,
		semantic:   semantic,
		recorder:   NewRecorder(runs),
		runs:       runs,
	}
}

// extractPayload is the job payload enqueued by the chat flow.
type extractPayload struct {
	RunID string `json:"run_id"`
	Text  string `json:"text"`
}

// JobEnqueuer is the queue surface Enqueue needs. *storage.Store satisfies it.
type JobEnqueuer interface {
	CreateRun(run storage.Run) error
	EnqueueJob(job storage.Job) error
}

// Enqueue pre-creates a running run row and queues an extraction job for
// text. The caller gets the run ID back immediately; the worker does the
// rest. MaxAttempts is 1: a failed extraction run stays failed and is
// inspected through its run record, not retried.
func Enqueue(store JobEnqueuer, text string) (string, error) {
	runID := uuid.NewString()
	if err := store.CreateRun(storage.Run{
		ID:        runID,
		Type:      storage.RunTypeMemoryExtraction,
		Status:    storage.RunStatusRunning,
		StartTime: time.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}

	payload, err := json.Marshal(extractPayload{RunID: runID, Text: text})
	if err != nil {
		return "", fmt.Errorf("marshalling payload: %w", err)
	}
	if err := store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobTypeMemoryExtract,
		PayloadJSON: string(payload),
		MaxAttempts: 1,
	}); err != nil {
		return "", fmt.Errorf("enqueueing job: %w", err)
	}
	return runID, nil
}

// ExtractAndStore executes the three extraction steps against runID and
// marks the run's terminal state. Any step failure aborts the remaining
// steps and fails the run; the error is returned for the worker's job
// bookkeeping but must never reach a chat response.
func (p *Extraction) ExtractAndStore(ctx context.Context, text, runID string) error {
	start := time.Now()

	fail := func(err error) error {
		if failErr := p.runs.FailRun(runID, err.Error(), time.Since(start).Milliseconds()); failErr != nil {
			return fmt.Errorf("marking run failed: %v (run error: %w)", failErr, err)
		}
		return err
	}

	var result extract.Result
	_, err := p.recorder.Step(runID, 1, "ExtractDataWithLLM", jsonPayload(map[string]any{"text": text}), func() (string, error) {
		var stepErr error
		result, stepErr = p.extractor.Extract(ctx, text)
		if stepErr != nil {
			return "", stepErr
		}
		return jsonPayload(map[string]any{
			"entities":  len(result.Entities),
			"knowledge": len(result.Knowledge),
		}), nil
	})
	if err != nil {
		return fail(err)
	}

	var entitiesStored int
	_, err = p.recorder.Step(runID, 2, "StoreEntities", jsonPayload(map[string]any{"count": len(result.Entities)}), func() (string, error) {
		for _, e := range result.Entities {
			rec := memory.Record{Kind: memory.KindEntity, Entity: &memory.Entity{
				Name:    e.Name,
				Type:    e.Type,
				Details: e.Details,
			}}
			if storeErr := p.structured.Store(ctx, rec); storeErr != nil {
				return "", fmt.Errorf("storing entity %q: %w", e.Name, storeErr)
			}
			entitiesStored++
		}
		return jsonPayload(map[string]any{"stored": entitiesStored}), nil
	})
	if err != nil {
		return fail(err)
	}

	var chunksStored int
	_, err = p.recorder.Step(runID, 3, "StoreKnowledge", jsonPayload(map[string]any{"count": len(result.Knowledge)}), func() (string, error) {
		for _, chunk := range result.Knowledge {
			if len(strings.Fields(chunk)) < minKnowledgeWords {
				continue
			}
			rec := memory.Record{Kind: memory.KindKnowledge, Knowledge: &memory.Knowledge{
				Text:     chunk,
				SourceID: runID,
			}}
			if storeErr := p.semantic.Store(ctx, rec); storeErr != nil {
				return "", fmt.Errorf("storing knowledge chunk: %w", storeErr)
			}
			chunksStored++
		}
		return jsonPayload(map[string]any{"stored": chunksStored}), nil
	})
	if err != nil {
		return fail(err)
	}

	summary := fmt.Sprintf("Stored %d entities. Stored %d knowledge chunks.", entitiesStored, chunksStored)
	if err := p.runs.CompleteRun(runID, summary, time.Since(start).Milliseconds()); err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	return nil
}

func jsonPayload(fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return "{}"
	}
	return string(b)
}
