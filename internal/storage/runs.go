package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateRun inserts a new pipeline run in the running state.
func (s *Store) CreateRun(run Run) error {
	startTime := run.StartTime
	if startTime.IsZero() {
		startTime = time.Now().UTC()
	}
	status := run.Status
	if status == "" {
		status = RunStatusRunning
	}
	_, err := s.db.Exec(`
		INSERT INTO pipeline_runs (id, type, status, start_time, duration_ms, final_output, error_message)
		VALUES (?, ?, ?, ?, 0, '', '')`,
		run.ID, run.Type, status, startTime.Format(time.RFC3339),
	)
	return err
}

// CompleteRun marks a running run as completed with its summary output.
func (s *Store) CompleteRun(id, finalOutput string, durationMs int64) error {
	return s.finishRun(id, RunStatusCompleted, finalOutput, "", durationMs)
}

// FailRun marks a running run as failed with the error message.
func (s *Store) FailRun(id, errMsg string, durationMs int64) error {
	return s.finishRun(id, RunStatusFailed, "", errMsg, durationMs)
}

// finishRun writes a terminal status; a run that already reached a terminal
// state is left untouched (zero rows matched reports ErrNotFound).
func (s *Store) finishRun(id, status, finalOutput, errMsg string, durationMs int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE pipeline_runs
		SET status = ?, end_time = ?, duration_ms = ?, final_output = ?, error_message = ?
		WHERE id = ? AND status = ?`,
		status, now, durationMs, finalOutput, errMsg, id, RunStatusRunning,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetRun(id string) (Run, error) {
	var r Run
	var startTime string
	var endTime sql.NullString
	err := s.db.QueryRow(`
		SELECT id, type, status, start_time, end_time, duration_ms, final_output, error_message
		FROM pipeline_runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Type, &r.Status, &startTime, &endTime, &r.DurationMs, &r.FinalOutput, &r.ErrorMessage)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	if r.StartTime, err = time.Parse(time.RFC3339, startTime); err != nil {
		return Run{}, fmt.Errorf("parsing start_time: %w", err)
	}
	if endTime.Valid {
		if r.EndTime, err = time.Parse(time.RFC3339, endTime.String); err != nil {
			return Run{}, fmt.Errorf("parsing end_time: %w", err)
		}
	}
	return r, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(limit, offset int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, type, status, start_time, end_time, duration_ms, final_output, error_message
		FROM pipeline_runs ORDER BY start_time DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var r Run
		var startTime string
		var endTime sql.NullString
		if err := rows.Scan(&r.ID, &r.Type, &r.Status, &startTime, &endTime, &r.DurationMs, &r.FinalOutput, &r.ErrorMessage); err != nil {
			return nil, err
		}
		if r.StartTime, err = time.Parse(time.RFC3339, startTime); err != nil {
			return nil, fmt.Errorf("parsing start_time: %w", err)
		}
		if endTime.Valid {
			if r.EndTime, err = time.Parse(time.RFC3339, endTime.String); err != nil {
				return nil, fmt.Errorf("parsing end_time: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// AppendRunStep records a terminal step row. Steps are append-only and never
// updated after the write.
func (s *Store) AppendRunStep(step RunStep) error {
	_, err := s.db.Exec(`
		INSERT INTO pipeline_run_steps (run_id, step_order, step_name, status, input_payload, output_payload, error_message, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, step.StepOrder, step.StepName, step.Status,
		step.InputPayload, step.OutputPayload, step.ErrorMessage, step.DurationMs,
	)
	return err
}

// ListRunSteps returns the steps of a run in execution order.
func (s *Store) ListRunSteps(runID string) ([]RunStep, error) {
	rows, err := s.db.Query(`
		SELECT run_id, step_order, step_name, status, input_payload, output_payload, error_message, duration_ms
		FROM pipeline_run_steps WHERE run_id = ? ORDER BY step_order ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunStep
	for rows.Next() {
		var st RunStep
		if err := rows.Scan(&st.RunID, &st.StepOrder, &st.StepName, &st.Status, &st.InputPayload, &st.OutputPayload, &st.ErrorMessage, &st.DurationMs); err != nil {
			return nil, err
		}
		results = append(results, st)
	}
	return results, rows.Err()
}
