package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job or run does not exist.
var ErrNotFound = errors.New("not found")

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeFormat, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

const jobColumns = `id, filename, canonical_name, entry_date, status, progress_step, last_error,
	created_at, started_at, finished_at, run_count, last_run_id, last_rows_added,
	file_location, version_count, pending_filename, selected_page, page_count, candidate_pages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status, created string
	var started, finished, lastRun, candidates sql.NullString
	var selectedPage, pageCount sql.NullInt64

	err := row.Scan(
		&job.ID, &job.Filename, &job.CanonicalName, &job.EntryDate, &status,
		&job.ProgressStep, &job.LastError, &created, &started, &finished,
		&job.RunCount, &lastRun, &job.LastRowsAdded, &job.FileLocation,
		&job.VersionCount, &job.PendingFilename, &selectedPage, &pageCount,
		&candidates,
	)
	if err != nil {
		return nil, err
	}

	job.Status = JobStatus(status)
	job.CreatedAt = parseTime(created)
	job.StartedAt = parseTimePtr(started)
	job.FinishedAt = parseTimePtr(finished)
	if lastRun.Valid {
		job.LastRunID = lastRun.String
	}
	if selectedPage.Valid {
		v := int(selectedPage.Int64)
		job.SelectedPage = &v
	}
	if pageCount.Valid {
		v := int(pageCount.Int64)
		job.PageCount = &v
	}
	if candidates.Valid && candidates.String != "" {
		// Leave CandidatePages nil on a malformed column rather than
		// failing the whole read.
		_ = json.Unmarshal([]byte(candidates.String), &job.CandidatePages)
	}
	return &job, nil
}

// CreateJob inserts a new job. Missing ID, timestamps, and status fields
// are filled with defaults.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if !job.Status.Valid() {
		return fmt.Errorf("invalid job status %q", job.Status)
	}
	if job.FileLocation == "" {
		job.FileLocation = FileLocationNew
	}
	if job.VersionCount == 0 {
		job.VersionCount = 1
	}

	var candidates any
	if len(job.CandidatePages) > 0 {
		b, err := json.Marshal(job.CandidatePages)
		if err != nil {
			return fmt.Errorf("marshal candidate pages: %w", err)
		}
		candidates = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, filename, canonical_name, entry_date, status, progress_step,
			last_error, created_at, run_count, last_rows_added, file_location,
			version_count, pending_filename, selected_page, page_count, candidate_pages)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, job.CanonicalName, job.EntryDate, string(job.Status),
		job.ProgressStep, job.LastError, formatTime(job.CreatedAt), job.RunCount,
		job.LastRowsAdded, job.FileLocation, job.VersionCount, job.PendingFilename,
		nullableInt(job.SelectedPage), nullableInt(job.PageCount), candidates,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// GetJob returns a job by id, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// GetLiveJobByCanonical returns the live (non-deleted) job for a canonical
// filename, or nil if there is none.
func (s *Store) GetLiveJobByCanonical(ctx context.Context, canonical string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE canonical_name = ? AND status != ?
		 ORDER BY created_at ASC LIMIT 1`,
		canonical, string(StatusDeleted))
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest-first. Deleted jobs are excluded unless
// includeDeleted is set.
func (s *Store) ListJobs(ctx context.Context, includeDeleted bool) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if !includeDeleted {
		query += ` WHERE status != ?`
		args = append(args, string(StatusDeleted))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// UpdateJob applies the non-nil fields of upd to a job.
func (s *Store) UpdateJob(ctx context.Context, id string, upd JobUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.Filename != nil {
		add("filename", *upd.Filename)
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return fmt.Errorf("invalid job status %q", *upd.Status)
		}
		add("status", string(*upd.Status))
	}
	if upd.ProgressStep != nil {
		add("progress_step", *upd.ProgressStep)
	}
	if upd.LastError != nil {
		add("last_error", *upd.LastError)
	}
	if upd.StartedAt != nil {
		add("started_at", formatTime(*upd.StartedAt))
	}
	if upd.FinishedAt != nil {
		add("finished_at", formatTime(*upd.FinishedAt))
	}
	if upd.LastRowsAdded != nil {
		add("last_rows_added", *upd.LastRowsAdded)
	}
	if upd.FileLocation != nil {
		add("file_location", *upd.FileLocation)
	}
	if upd.PendingFilename != nil {
		add("pending_filename", *upd.PendingFilename)
	}
	if upd.SelectedPage != nil {
		add("selected_page", *upd.SelectedPage)
	}
	if upd.PageCount != nil {
		add("page_count", *upd.PageCount)
	}
	if upd.CandidatePages != nil {
		b, err := json.Marshal(upd.CandidatePages)
		if err != nil {
			return fmt.Errorf("marshal candidate pages: %w", err)
		}
		add("candidate_pages", string(b))
	}
	if upd.EntryDate != nil {
		add("entry_date", *upd.EntryDate)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimQueued atomically flips up to limit queued jobs to processing,
// oldest first, and returns them. Two concurrent callers never receive
// the same job: the select and the guarded updates share one transaction,
// and each update re-checks the queued status.
func (s *Store) ClaimQueued(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		string(StatusQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("select queued: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	now := formatTime(time.Now())
	var claimedIDs []string
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, started_at = ?, finished_at = NULL,
				progress_step = 'claimed', last_error = ''
			 WHERE id = ? AND status = ?`,
			string(StatusProcessing), now, id, string(StatusQueued))
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			claimedIDs = append(claimedIDs, id)
		}
	}

	var claimed []Job
	for _, id := range claimedIDs {
		row := tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		job, err := scanJob(row)
		if err != nil {
			return nil, fmt.Errorf("read claimed job %s: %w", id, err)
		}
		claimed = append(claimed, *job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

// ActiveProcessingCount returns the number of jobs currently processing.
func (s *Store) ActiveProcessingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = ?`, string(StatusProcessing)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count processing: %w", err)
	}
	return n, nil
}

// CountByStatus returns job counts grouped by status.
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// RequeueStuckProcessing sweeps jobs left processing by a crashed worker
// back to queued. Called once at startup before the poller begins.
func (s *Store) RequeueStuckProcessing(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress_step = '', started_at = NULL
		 WHERE status = ?`,
		string(StatusQueued), string(StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RequeueJob forces a job back to queued for a rerun, clearing the error
// and timestamps from the previous attempt. Processing and deleted jobs
// cannot be requeued.
func (s *Store) RequeueJob(ctx context.Context, id string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == StatusProcessing || job.Status == StatusDeleted {
		return fmt.Errorf("job %s is %s and cannot be requeued", id, job.Status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress_step = '', last_error = '',
			started_at = NULL, finished_at = NULL
		 WHERE id = ? AND status NOT IN (?, ?)`,
		string(StatusQueued), id, string(StatusProcessing), string(StatusDeleted))
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s changed state during requeue", id)
	}
	return nil
}

// PromotePending promotes a job's pending replacement file, if any, into a
// fresh queued version. Returns true when a promotion happened.
func (s *Store) PromotePending(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin promote tx: %w", err)
	}
	defer tx.Rollback()

	var pending string
	err = tx.QueryRowContext(ctx,
		`SELECT pending_filename FROM jobs WHERE id = ?`, id).Scan(&pending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return false, err
	}
	if pending == "" {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET filename = pending_filename, pending_filename = '',
			version_count = version_count + 1, status = ?, progress_step = '',
			last_error = '', started_at = NULL, finished_at = NULL,
			file_location = ?, selected_page = NULL, page_count = NULL,
			candidate_pages = NULL
		 WHERE id = ?`,
		string(StatusQueued), FileLocationNew, id)
	if err != nil {
		return false, fmt.Errorf("promote pending: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit promote: %w", err)
	}
	return true, nil
}

// ReplaceFile swaps a newer upload into an idle job, bumping the version
// and requeueing it from scratch. Processing jobs must use the pending
// path instead so the in-flight attempt is not pulled out from under the
// worker.
func (s *Store) ReplaceFile(ctx context.Context, id, filename string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET filename = ?, pending_filename = '',
			version_count = version_count + 1, status = ?, progress_step = '',
			last_error = '', started_at = NULL, finished_at = NULL,
			file_location = ?, selected_page = NULL, page_count = NULL,
			candidate_pages = NULL
		 WHERE id = ? AND status NOT IN (?, ?)`,
		filename, string(StatusQueued), FileLocationNew,
		id, string(StatusProcessing), string(StatusDeleted))
	if err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s is processing or deleted and cannot be replaced", id)
	}
	return nil
}
