package pipeline

import (
	"fmt"
	"time"

	"github.com/ataleck/sage/internal/storage"
)

// RunLog is the append-only run/step sink the pipelines record into.
// *storage.Store satisfies it.
type RunLog interface {
	CreateRun(run storage.Run) error
	CompleteRun(id, finalOutput string, durationMs int64) error
	FailRun(id, errMsg string, durationMs int64) error
	AppendRunStep(step storage.RunStep) error
}

// Recorder writes one terminal step row per executed step. Step rows are
// never updated after the fact; a step's outcome is known when it is
// written.
type Recorder struct {
	log RunLog
}

func NewRecorder(log RunLog) *Recorder {
	return &Recorder{log: log}
}

// Step runs fn and records its outcome as step row (runID, order, name).
// On success the row carries status completed with fn's output payload; on
// failure it carries status failed with the error message, and the error is
// returned so the caller aborts the remaining steps. A failure to persist
// the step row is itself an error: an unrecorded step must not count as
// executed.
func (r *Recorder) Step(runID string, order int, name, input string, fn func() (string, error)) (string, error) {
	start := time.Now()
	output, err := fn()
	duration := time.Since(start).Milliseconds()

	step := storage.RunStep{
		RunID:        runID,
		StepOrder:    order,
		StepName:     name,
		InputPayload: input,
		DurationMs:   duration,
	}
	if err != nil {
		step.Status = storage.RunStatusFailed
		step.ErrorMessage = err.Error()
		if logErr := r.log.AppendRunStep(step); logErr != nil {
			return "", fmt.Errorf("recording failed step %s: %v (step error: %w)", name, logErr, err)
		}
		return "", err
	}

	step.Status = storage.RunStatusCompleted
	step.OutputPayload = output
	if logErr := r.log.AppendRunStep(step); logErr != nil {
		return "", fmt.Errorf("recording step %s: %w", name, logErr)
	}
	return output, nil
}
