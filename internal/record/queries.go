package record

import (
	"database/sql"
	"fmt"
)

// RunRecord represents a row in the runs table.
type RunRecord struct {
	Pipeline   string
	Number     int
	Status     string
	Reason     string
	StartedAt  string
	FinishedAt string
	CreatedAt  string
}

// StageRecord represents one stage transition in the stage_results log.
type StageRecord struct {
	Stage     string
	Status    string
	ExitCode  int
	Reason    string
	OutputRef string
	Timestamp string
}

// GateRecord represents a row in the gate_results table.
type GateRecord struct {
	Stage     string
	Policy    string
	Passed    bool
	Reason    string
	Timestamp string
}

// EventRecord represents a row in the run_events table.
type EventRecord struct {
	Stage     string
	Event     string
	Detail    string
	Timestamp string
}

// RunSnapshot is a run's state reconstructed purely from the recorded log.
type RunSnapshot struct {
	Run    RunRecord
	Stages []StageRecord // latest transition per stage
	Gates  []GateRecord
}

// CreateRun allocates the next monotonic build number for a pipeline and
// records the run as Pending. Allocation happens inside one transaction so
// concurrent pipelines never collide.
func (r *Recorder) CreateRun(pipeline string) (int, error) {
	tx, err := r.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var number int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(number), 0) + 1 FROM runs WHERE pipeline = ?`, pipeline,
	).Scan(&number); err != nil {
		return 0, fmt.Errorf("allocate run number: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO runs (pipeline, number, status) VALUES (?, ?, 'Pending')`,
		pipeline, number,
	); err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return number, nil
}

// StartRun transitions a run to Running and stamps its start time.
func (r *Recorder) StartRun(pipeline string, number int) error {
	_, err := r.conn.Exec(
		`UPDATE runs SET status = 'Running', started_at = datetime('now') WHERE pipeline = ? AND number = ?`,
		pipeline, number,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return r.LogEvent(pipeline, number, "", "run_started", "")
}

// FinishRun records a run's terminal status and reason.
func (r *Recorder) FinishRun(pipeline string, number int, status, reason string) error {
	_, err := r.conn.Exec(
		`UPDATE runs SET status = ?, reason = ?, finished_at = datetime('now') WHERE pipeline = ? AND number = ?`,
		status, reason, pipeline, number,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return r.LogEvent(pipeline, number, "", "run_finished", status)
}

// LogStage appends a stage transition. Transitions are never updated in
// place; recovery reads the latest row per stage.
func (r *Recorder) LogStage(pipeline string, number int, stage, status string, exitCode int, reason, outputRef string) error {
	_, err := r.conn.Exec(
		`INSERT INTO stage_results (pipeline, run_number, stage, status, exit_code, reason, output_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pipeline, number, stage, status, exitCode, reason, outputRef,
	)
	if err != nil {
		return fmt.Errorf("log stage %q: %w", stage, err)
	}
	return nil
}

// LogGate appends a gate evaluation result.
func (r *Recorder) LogGate(pipeline string, number int, stage, policy string, passed bool, reason string) error {
	_, err := r.conn.Exec(
		`INSERT INTO gate_results (pipeline, run_number, stage, policy, passed, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		pipeline, number, stage, policy, passed, reason,
	)
	if err != nil {
		return fmt.Errorf("log gate %q: %w", policy, err)
	}
	return nil
}

// LogEvent appends a run event.
func (r *Recorder) LogEvent(pipeline string, number int, stage, event, detail string) error {
	_, err := r.conn.Exec(
		`INSERT INTO run_events (pipeline, run_number, stage, event, detail) VALUES (?, ?, ?, ?, ?)`,
		pipeline, number, stage, event, detail,
	)
	if err != nil {
		return fmt.Errorf("log event %q: %w", event, err)
	}
	return nil
}

// GetRun returns a single run, or nil if it does not exist.
func (r *Recorder) GetRun(pipeline string, number int) (*RunRecord, error) {
	row := r.conn.QueryRow(
		`SELECT pipeline, number, status, COALESCE(reason,''), COALESCE(started_at,''), COALESCE(finished_at,''), created_at
		 FROM runs WHERE pipeline = ? AND number = ?`,
		pipeline, number,
	)
	var rec RunRecord
	err := row.Scan(&rec.Pipeline, &rec.Number, &rec.Status, &rec.Reason, &rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &rec, nil
}

// ListRuns returns runs for a pipeline, newest first. Pass "" to list all
// pipelines.
func (r *Recorder) ListRuns(pipeline string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT pipeline, number, status, COALESCE(reason,''), COALESCE(started_at,''), COALESCE(finished_at,''), created_at
	          FROM runs`
	args := []interface{}{}
	if pipeline != "" {
		query += ` WHERE pipeline = ?`
		args = append(args, pipeline)
	}
	query += ` ORDER BY pipeline, number DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.Pipeline, &rec.Number, &rec.Status, &rec.Reason, &rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// Recover reconstructs a run's state from the recorded log: the run row,
// the latest transition per stage, and every gate result.
func (r *Recorder) Recover(pipeline string, number int) (*RunSnapshot, error) {
	run, err := r.GetRun(pipeline, number)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s #%d not found", pipeline, number)
	}

	snap := &RunSnapshot{Run: *run}

	rows, err := r.conn.Query(
		`SELECT stage, status, COALESCE(exit_code, 0), COALESCE(reason,''), COALESCE(output_ref,''), timestamp
		 FROM stage_results
		 WHERE pipeline = ? AND run_number = ?
		   AND id IN (SELECT MAX(id) FROM stage_results WHERE pipeline = ? AND run_number = ? GROUP BY stage)
		 ORDER BY id`,
		pipeline, number, pipeline, number,
	)
	if err != nil {
		return nil, fmt.Errorf("recover stages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s StageRecord
		if err := rows.Scan(&s.Stage, &s.Status, &s.ExitCode, &s.Reason, &s.OutputRef, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		snap.Stages = append(snap.Stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	gateRows, err := r.conn.Query(
		`SELECT stage, policy, passed, COALESCE(reason,''), timestamp
		 FROM gate_results WHERE pipeline = ? AND run_number = ? ORDER BY id`,
		pipeline, number,
	)
	if err != nil {
		return nil, fmt.Errorf("recover gates: %w", err)
	}
	defer gateRows.Close()
	for gateRows.Next() {
		var g GateRecord
		if err := gateRows.Scan(&g.Stage, &g.Policy, &g.Passed, &g.Reason, &g.Timestamp); err != nil {
			return nil, fmt.Errorf("scan gate: %w", err)
		}
		snap.Gates = append(snap.Gates, g)
	}
	return snap, gateRows.Err()
}

// ListEvents returns the ordered event log for a run.
func (r *Recorder) ListEvents(pipeline string, number int) ([]EventRecord, error) {
	rows, err := r.conn.Query(
		`SELECT COALESCE(stage,''), event, COALESCE(detail,''), timestamp
		 FROM run_events WHERE pipeline = ? AND run_number = ? ORDER BY id`,
		pipeline, number,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.Stage, &e.Event, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
