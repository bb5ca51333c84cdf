package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ataleck/sage/internal/storage"
)

type runView struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	FinalOutput  string `json:"final_output,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type runStepView struct {
	StepOrder     int    `json:"step_order"`
	StepName      string `json:"step_name"`
	Status        string `json:"status"`
	InputPayload  string `json:"input_payload,omitempty"`
	OutputPayload string `json:"output_payload,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
}

func toRunView(run storage.Run) runView {
	v := runView{
		ID:           run.ID,
		Type:         run.Type,
		Status:       run.Status,
		StartTime:    run.StartTime.UTC().Format(time.RFC3339),
		DurationMs:   run.DurationMs,
		FinalOutput:  run.FinalOutput,
		ErrorMessage: run.ErrorMessage,
	}
	if !run.EndTime.IsZero() {
		v.EndTime = run.EndTime.UTC().Format(time.RFC3339)
	}
	return v
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		runs, err := deps.Store.ListRuns(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}

		out := make([]runView, 0, len(runs))
		for _, run := range runs {
			out = append(out, toRunView(run))
		}
		writeJSON(w, out)
	}
}

// handleGetRun returns one run together with its recorded steps, the data
// behind after-the-fact inspection of an extraction.
func handleGetRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		run, err := deps.Store.GetRun(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		steps, err := deps.Store.ListRunSteps(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list steps: %v", err)
			return
		}

		stepViews := make([]runStepView, 0, len(steps))
		for _, s := range steps {
			stepViews = append(stepViews, runStepView{
				StepOrder:     s.StepOrder,
				StepName:      s.StepName,
				Status:        s.Status,
				InputPayload:  s.InputPayload,
				OutputPayload: s.OutputPayload,
				ErrorMessage:  s.ErrorMessage,
				DurationMs:    s.DurationMs,
			})
		}

		writeJSON(w, struct {
			runView
			Steps []runStepView `json:"steps"`
		}{toRunView(run), stepViews})
	}
}
