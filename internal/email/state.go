package email

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRunLedger records one summary row per triage run. Message-level
// classification is never stored.
type SQLiteRunLedger struct {
	db   *sql.DB
	path string
}

// NewSQLiteRunLedger opens (or creates) the run ledger database
func NewSQLiteRunLedger(dbPath string) (*SQLiteRunLedger, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// A single writer per run; also keeps :memory: databases on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	ledger := &SQLiteRunLedger{
		db:   db,
		path: dbPath,
	}

	if err := ledger.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return ledger, nil
}

func (s *SQLiteRunLedger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS triage_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		dry_run BOOLEAN NOT NULL DEFAULT 0,
		total_unread INTEGER NOT NULL DEFAULT 0,
		analyzed INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		other INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		labeled INTEGER NOT NULL DEFAULT 0,
		label_failures INTEGER NOT NULL DEFAULT 0,
		marked_read INTEGER NOT NULL DEFAULT 0,
		failed_batches INTEGER NOT NULL DEFAULT 0,
		residual_unread INTEGER NOT NULL DEFAULT 0,
		report_path TEXT,
		status TEXT NOT NULL,
		error_message TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_triage_runs_started_at ON triage_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_triage_runs_status ON triage_runs(status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// RecordRun stores a run summary and returns its row id
func (s *SQLiteRunLedger) RecordRun(run *RunRecord) (int64, error) {
	if run.Status == "" {
		run.Status = RunStatusCompleted
	}

	query := `
		INSERT INTO triage_runs (
			started_at, finished_at, dry_run, total_unread, analyzed,
			priority, other, skipped, labeled, label_failures,
			marked_read, failed_batches, residual_unread, report_path,
			status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		run.StartedAt,
		run.FinishedAt,
		run.DryRun,
		run.TotalUnread,
		run.Analyzed,
		run.Priority,
		run.Other,
		run.Skipped,
		run.Labeled,
		run.LabelFailures,
		run.MarkedRead,
		run.FailedBatches,
		run.ResidualUnread,
		run.ReportPath,
		run.Status,
		run.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}
	run.ID = id

	return id, nil
}

// GetRecentRuns returns the most recent runs, newest first
func (s *SQLiteRunLedger) GetRecentRuns(limit int) ([]RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, dry_run, total_unread, analyzed,
			   priority, other, skipped, labeled, label_failures,
			   marked_read, failed_batches, residual_unread,
			   COALESCE(report_path, ''), status, COALESCE(error_message, '')
		FROM triage_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.DryRun,
			&run.TotalUnread,
			&run.Analyzed,
			&run.Priority,
			&run.Other,
			&run.Skipped,
			&run.Labeled,
			&run.LabelFailures,
			&run.MarkedRead,
			&run.FailedBatches,
			&run.ResidualUnread,
			&run.ReportPath,
			&run.Status,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

// GetStats aggregates the ledger
func (s *SQLiteRunLedger) GetStats() (*LedgerStats, error) {
	stats := &LedgerStats{}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(marked_read), 0),
			COALESCE(SUM(priority), 0)
		FROM triage_runs
	`
	err := s.db.QueryRow(query).Scan(
		&stats.TotalRuns,
		&stats.FailedRuns,
		&stats.MessagesRead,
		&stats.PriorityFound,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger stats: %w", err)
	}

	// MAX() drops the column type, so order instead to keep time scanning
	var lastRun time.Time
	err = s.db.QueryRow("SELECT started_at FROM triage_runs ORDER BY started_at DESC LIMIT 1").Scan(&lastRun)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get last run time: %w", err)
	default:
		stats.LastRun = lastRun
	}

	return stats, nil
}

// Cleanup removes runs started before olderThan and returns how many were removed
func (s *SQLiteRunLedger) Cleanup(olderThan time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM triage_runs WHERE started_at < ?", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old runs: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}

// Close closes the database connection
func (s *SQLiteRunLedger) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetDatabasePath returns the database file path
func (s *SQLiteRunLedger) GetDatabasePath() string {
	return s.path
}
