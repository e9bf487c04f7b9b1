package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database holding all chartdesk state.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the database at path and applies the
// schema. The caller owns the returned store and must Close it.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single pooled connection keeps the
	// driver from fighting itself under concurrent claims.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		canonical_name TEXT NOT NULL,
		entry_date TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		progress_step TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		run_count INTEGER NOT NULL DEFAULT 0,
		last_run_id TEXT,
		last_rows_added INTEGER NOT NULL DEFAULT 0,
		file_location TEXT NOT NULL DEFAULT 'new',
		version_count INTEGER NOT NULL DEFAULT 1,
		pending_filename TEXT NOT NULL DEFAULT '',
		selected_page INTEGER,
		page_count INTEGER,
		candidate_pages TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_live_canonical
		ON jobs(canonical_name) WHERE status != 'deleted';

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		model TEXT NOT NULL,
		extracted_at TEXT NOT NULL,
		rows_inserted INTEGER NOT NULL DEFAULT 0,
		raw_result TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_id);

	CREATE TABLE IF NOT EXISTS chart_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		job_id TEXT NOT NULL REFERENCES jobs(id),
		entry_date TEXT NOT NULL DEFAULT '',
		chart_title TEXT NOT NULL DEFAULT '',
		chart_section TEXT NOT NULL DEFAULT '',
		this_week INTEGER,
		last_week INTEGER,
		two_weeks_ago INTEGER,
		weeks_on_chart INTEGER,
		title TEXT NOT NULL DEFAULT '',
		artist TEXT NOT NULL DEFAULT '',
		label TEXT NOT NULL DEFAULT '',
		source_file TEXT NOT NULL DEFAULT '',
		extracted_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chart_rows_run ON chart_rows(run_id);
	CREATE INDEX IF NOT EXISTS idx_chart_rows_job ON chart_rows(job_id);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
