package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveRun persists a run and its extracted rows in one transaction and
// bumps the job's run counter. Rows are stamped with the run and job ids.
func (s *Store) SaveRun(ctx context.Context, run *Run, rows []ChartRow) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.JobID == "" {
		return errors.New("run.JobID is required")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.ExtractedAt.IsZero() {
		run.ExtractedAt = time.Now().UTC()
	}
	run.RowsInserted = len(rows)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, job_id, model, extracted_at, rows_inserted, raw_result, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.Model, formatTime(run.ExtractedAt),
		run.RowsInserted, run.RawResult, string(run.Status), run.Error)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i := range rows {
		rows[i].RunID = run.ID
		rows[i].JobID = run.JobID
		if rows[i].ExtractedAt.IsZero() {
			rows[i].ExtractedAt = run.ExtractedAt
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chart_rows (run_id, job_id, entry_date, chart_title, chart_section,
				this_week, last_week, two_weeks_ago, weeks_on_chart,
				title, artist, label, source_file, extracted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rows[i].RunID, rows[i].JobID, rows[i].EntryDate,
			rows[i].ChartTitle, rows[i].ChartSection,
			nullableInt(rows[i].ThisWeek), nullableInt(rows[i].LastWeek),
			nullableInt(rows[i].TwoWeeksAgo), nullableInt(rows[i].WeeksOnChart),
			rows[i].Title, rows[i].Artist, rows[i].Label,
			rows[i].SourceFile, formatTime(rows[i].ExtractedAt))
		if err != nil {
			return fmt.Errorf("insert chart row: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET run_count = run_count + 1 WHERE id = ?`, run.JobID)
	if err != nil {
		return fmt.Errorf("bump run count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// SetActiveRun points the job at the run whose rows the export should use.
// Only runs that actually inserted rows may become active.
func (s *Store) SetActiveRun(ctx context.Context, jobID, runID string, rowsAdded int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_run_id = ?, last_rows_added = ?
		 WHERE id = ?
		   AND EXISTS (SELECT 1 FROM runs WHERE id = ? AND job_id = jobs.id AND rows_inserted > 0)`,
		runID, rowsAdded, jobID, runID)
	if err != nil {
		return fmt.Errorf("set active run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s has no rows or does not belong to job %s", runID, jobID)
	}
	return nil
}

// UpdateRunStatus applies a terminal status and error text to a run.
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ? WHERE id = ?`,
		string(status), errText, runID)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, job_id, model, extracted_at, rows_inserted, raw_result, status, error`

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var extracted, status string
	err := row.Scan(&run.ID, &run.JobID, &run.Model, &extracted,
		&run.RowsInserted, &run.RawResult, &status, &run.Error)
	if err != nil {
		return nil, err
	}
	run.ExtractedAt = parseTime(extracted)
	run.Status = RunStatus(status)
	return &run, nil
}

// GetRun returns a run by id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

// RunsForJob returns a job's runs, newest first.
func (s *Store) RunsForJob(ctx context.Context, jobID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE job_id = ? ORDER BY extracted_at DESC, id DESC`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
