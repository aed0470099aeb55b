package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"amplicon-pipeline/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists runs, stage progress, ledger entries and errors in SQLite.
type Store struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		config TEXT,
		status TEXT,
		resumed INTEGER DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME,
		finished_at DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS stage_progress (
		run_id TEXT,
		stage TEXT,
		status TEXT,
		started_at DATETIME,
		ended_at DATETIME,
		files INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		workers INTEGER DEFAULT 0,
		detail TEXT,
		PRIMARY KEY (run_id, stage)
	);`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		run_id TEXT,
		seq INTEGER,
		stage TEXT,
		before_count INTEGER,
		after_count INTEGER,
		delta INTEGER,
		reason TEXT,
		absolute INTEGER DEFAULT 0,
		created_at DATETIME,
		PRIMARY KEY (run_id, seq)
	);`,
	`CREATE TABLE IF NOT EXISTS run_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		stage TEXT,
		error_message TEXT,
		created_at DATETIME
	);`,
}

// Open connects to (and if needed creates) the SQLite database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// one writer; the dispatcher never writes here concurrently but the API may read
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun stores a new pipeline run with its resolved configuration.
func (s *Store) SaveRun(runID string, cfg model.PipelineConfig, resumed bool) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(`INSERT INTO runs (id, config, status, resumed, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, string(cfgJSON), model.StatusRunning, resumed, now, now)
	return err
}

// UpdateRunStatus updates run status; terminal statuses also set finished_at.
func (s *Store) UpdateRunStatus(runID, status string) error {
	now := time.Now().UTC()
	if status == model.StatusCompleted || status == model.StatusFailed {
		_, err := s.db.Exec(`UPDATE runs SET status = ?, updated_at = ?, finished_at = ? WHERE id = ?`, status, now, now, runID)
		return err
	}
	_, err := s.db.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`, status, now, runID)
	return err
}

// SaveRunError records an error for a run.
func (s *Store) SaveRunError(runID, stage string, err error) error {
	if err == nil {
		return nil
	}
	_, e := s.db.Exec(`INSERT INTO run_errors (run_id, stage, error_message, created_at) VALUES (?, ?, ?, ?)`,
		runID, stage, err.Error(), time.Now().UTC())
	return e
}

// SaveStageProgress upserts the progress row of one stage.
func (s *Store) SaveStageProgress(runID string, m model.StageMetrics) error {
	_, err := s.db.Exec(`INSERT INTO stage_progress (run_id, stage, status, started_at, ended_at, files, failed, workers, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, stage) DO UPDATE SET
			status = excluded.status, started_at = excluded.started_at, ended_at = excluded.ended_at,
			files = excluded.files, failed = excluded.failed, workers = excluded.workers, detail = excluded.detail`,
		runID, m.Stage, m.Status, m.StartTime.UTC(), nullTime(m.EndTime), m.Files, m.Failed, m.Workers, m.Detail)
	return err
}

// SaveLedgerEntry appends one read-count transition.
func (s *Store) SaveLedgerEntry(runID string, e model.LedgerEntry) error {
	_, err := s.db.Exec(`INSERT INTO ledger_entries (run_id, seq, stage, before_count, after_count, delta, reason, absolute, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, e.Seq, e.Stage, e.Before, e.After, e.Delta, e.Reason, e.Absolute, e.Timestamp.UTC())
	return err
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]model.RunRecord, error) {
	rows, err := s.db.Query(`SELECT id, config, status, resumed, created_at, updated_at, finished_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun fetches one run; sql.ErrNoRows when absent.
func (s *Store) GetRun(runID string) (model.RunRecord, error) {
	row := s.db.QueryRow(`SELECT id, config, status, resumed, created_at, updated_at, finished_at FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

// LatestRun returns the most recently created run.
func (s *Store) LatestRun() (model.RunRecord, error) {
	row := s.db.QueryRow(`SELECT id, config, status, resumed, created_at, updated_at, finished_at FROM runs ORDER BY created_at DESC LIMIT 1`)
	return scanRun(row)
}

// GetLedger returns the ledger of a run in recording order.
func (s *Store) GetLedger(runID string) ([]model.LedgerEntry, error) {
	rows, err := s.db.Query(`SELECT seq, stage, before_count, after_count, delta, reason, absolute, created_at
		FROM ledger_entries WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.Seq, &e.Stage, &e.Before, &e.After, &e.Delta, &e.Reason, &e.Absolute, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetStageProgress returns the stage rows of a run in start order.
func (s *Store) GetStageProgress(runID string) ([]model.StageMetrics, error) {
	rows, err := s.db.Query(`SELECT stage, status, started_at, ended_at, files, failed, workers, detail
		FROM stage_progress WHERE run_id = ? ORDER BY started_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StageMetrics
	for rows.Next() {
		var (
			m      model.StageMetrics
			ended  sql.NullTime
			detail sql.NullString
		)
		if err := rows.Scan(&m.Stage, &m.Status, &m.StartTime, &ended, &m.Files, &m.Failed, &m.Workers, &detail); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			m.EndTime = &t
			m.Duration = t.Sub(m.StartTime)
		}
		m.Detail = detail.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetRunErrors returns the errors recorded for a run.
func (s *Store) GetRunErrors(runID string) ([]model.RunError, error) {
	rows, err := s.db.Query(`SELECT id, run_id, stage, error_message, created_at FROM run_errors WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunError
	for rows.Next() {
		var e model.RunError
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (model.RunRecord, error) {
	var (
		r        model.RunRecord
		finished sql.NullTime
	)
	if err := sc.Scan(&r.ID, &r.Config, &r.Status, &r.Resumed, &r.CreatedAt, &r.UpdatedAt, &finished); err != nil {
		return r, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
