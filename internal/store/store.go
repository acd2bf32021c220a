// Package store provides SQLite-backed history for conductor.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/conductor/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the conductor SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS process_events (
		id TEXT PRIMARY KEY,
		process_id TEXT NOT NULL,
		event TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plan_runs (
		id TEXT PRIMARY KEY,
		request TEXT NOT NULL,
		plan TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS domain_results (
		run_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		value TEXT,
		error TEXT,
		PRIMARY KEY (run_id, domain),
		FOREIGN KEY (run_id) REFERENCES plan_runs(id)
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		subject TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_process_events_process_id ON process_events(process_id);
	CREATE INDEX IF NOT EXISTS idx_plan_runs_created_at ON plan_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_subject ON decisions(subject);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Process Event Operations ---

// RecordProcessEvent appends a lifecycle event for a managed process.
func (s *Store) RecordProcessEvent(processID, event, detail string) (*models.ProcessEvent, error) {
	ev := &models.ProcessEvent{
		ID:        uuid.New().String(),
		ProcessID: processID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO process_events (id, process_id, event, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.ProcessID, ev.Event, ev.Detail, ev.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert process event: %w", err)
	}
	return ev, nil
}

// ListProcessEvents returns the most recent events, optionally for one process.
func (s *Store) ListProcessEvents(processID string, limit int) ([]models.ProcessEvent, error) {
	query := `SELECT id, process_id, event, detail, created_at FROM process_events`
	var args []interface{}

	if processID != "" {
		query += ` WHERE process_id = ?`
		args = append(args, processID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query process events: %w", err)
	}
	defer rows.Close()

	var events []models.ProcessEvent
	for rows.Next() {
		var ev models.ProcessEvent
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ProcessID, &ev.Event, &detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan process event: %w", err)
		}
		ev.Detail = detail.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Plan Run Operations ---

// CreatePlanRun inserts a plan run. A rejected run carries the scheduling error
// and is finished immediately.
func (s *Store) CreatePlanRun(request string, plan models.ExecutionPlan, status models.RunStatus, errMsg string) (*models.PlanRun, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}

	now := time.Now().UTC()
	run := &models.PlanRun{
		ID:        uuid.New().String(),
		Request:   request,
		Plan:      plan,
		Status:    status,
		Error:     errMsg,
		CreatedAt: now,
	}
	var finishedAt interface{}
	if status == models.RunStatusRejected {
		run.FinishedAt = &now
		finishedAt = now
	}

	_, err = s.db.Exec(
		`INSERT INTO plan_runs (id, request, plan, status, error, created_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Request, string(planJSON), run.Status, run.Error, run.CreatedAt, finishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert plan run: %w", err)
	}
	return run, nil
}

// FinishPlanRun stores per-domain results and marks the run completed, or
// partial when any domain failed.
func (s *Store) FinishPlanRun(id string, results map[string]models.TaskResult) (models.RunStatus, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	status := models.RunStatusCompleted
	for domain, r := range results {
		if r.Failed() {
			status = models.RunStatusPartial
		}
		var value interface{}
		if len(r.Value) > 0 {
			value = string(r.Value)
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO domain_results (run_id, domain, value, error) VALUES (?, ?, ?, ?)`,
			id, domain, value, r.Error,
		); err != nil {
			return "", fmt.Errorf("insert domain result: %w", err)
		}
	}

	res, err := tx.Exec(
		`UPDATE plan_runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return "", fmt.Errorf("update plan run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("plan run %s not found", id)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return status, nil
}

// GetPlanRun retrieves a plan run with its domain results.
func (s *Store) GetPlanRun(id string) (*models.PlanRun, error) {
	run, err := scanPlanRun(s.db.QueryRow(
		`SELECT id, request, plan, status, error, created_at, finished_at FROM plan_runs WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT domain, value, error FROM domain_results WHERE run_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query domain results: %w", err)
	}
	defer rows.Close()

	run.Results = make(map[string]models.TaskResult)
	for rows.Next() {
		var domain string
		var value, errMsg sql.NullString
		if err := rows.Scan(&domain, &value, &errMsg); err != nil {
			return nil, fmt.Errorf("scan domain result: %w", err)
		}
		r := models.TaskResult{Error: errMsg.String}
		if value.Valid {
			r.Value = json.RawMessage(value.String)
		}
		run.Results[domain] = r
	}
	return run, rows.Err()
}

// ListPlanRuns returns the most recent plan runs without their results.
func (s *Store) ListPlanRuns(limit int) ([]models.PlanRun, error) {
	query := `SELECT id, request, plan, status, error, created_at, finished_at FROM plan_runs ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query plan runs: %w", err)
	}
	defer rows.Close()

	var runs []models.PlanRun
	for rows.Next() {
		run, err := scanPlanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlanRun(row rowScanner) (*models.PlanRun, error) {
	run := &models.PlanRun{}
	var planJSON string
	var errMsg sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(&run.ID, &run.Request, &planJSON, &run.Status, &errMsg, &run.CreatedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan run: %w", err)
	}
	if err := json.Unmarshal([]byte(planJSON), &run.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	run.Error = errMsg.String
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

// --- Decision Operations ---

// WriteDecision writes a decision record.
func (s *Store) WriteDecision(action, inputsHash, outcome, subject, details string) (*models.Decision, error) {
	d := &models.Decision{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		Subject:    subject,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO decisions (id, action, inputs_hash, outcome, subject, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Action, d.InputsHash, d.Outcome, d.Subject, d.Details, d.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return d, nil
}

// ListDecisions returns decisions for a subject, newest first.
func (s *Store) ListDecisions(subject string) ([]models.Decision, error) {
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, subject, details, timestamp FROM decisions WHERE subject = ? ORDER BY timestamp DESC`,
		subject,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.Decision
	for rows.Next() {
		var d models.Decision
		var subj, details sql.NullString
		if err := rows.Scan(&d.ID, &d.Action, &d.InputsHash, &d.Outcome, &subj, &details, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Subject = subj.String
		d.Details = details.String
		out = append(out, d)
	}
	return out, rows.Err()
}
