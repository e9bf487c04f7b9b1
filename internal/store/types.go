// Package store is the transactional persistence layer: jobs, runs,
// extracted chart rows, and runtime settings, all in one SQLite file.
package store

import (
	"time"

	"github.com/chartdesk/chartdesk/internal/chart"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued         JobStatus = "queued"
	StatusProcessing     JobStatus = "processing"
	StatusAwaitingReview JobStatus = "awaiting_review"
	StatusCompleted      JobStatus = "completed"
	StatusError          JobStatus = "error"
	StatusCancelled      JobStatus = "cancelled"
	StatusDeleted        JobStatus = "deleted"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// Busy reports whether the pipeline currently owns the job's file.
// Uploads arriving for a busy job are parked as the pending filename
// instead of replacing the file out from under a running extraction.
// Awaiting review is not busy: the job is parked, nothing holds the file.
func (s JobStatus) Busy() bool {
	return s == StatusProcessing
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusAwaitingReview,
		StatusCompleted, StatusError, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// File locations.
const (
	FileLocationNew       = "new"
	FileLocationCompleted = "completed"
	FileLocationMissing   = "missing"
)

// Job is one physical chart document under management.
type Job struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	CanonicalName string    `json:"canonical_name"`
	EntryDate     string    `json:"entry_date"` // YYYY-MM-DD, parsed from the filename
	Status        JobStatus `json:"status"`
	ProgressStep  string    `json:"progress_step"`
	LastError     string    `json:"last_error"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	RunCount      int    `json:"run_count"`
	LastRunID     string `json:"last_run_id,omitempty"`
	LastRowsAdded int    `json:"last_rows_added"`

	FileLocation    string `json:"file_location"`
	VersionCount    int    `json:"version_count"`
	PendingFilename string `json:"pending_filename,omitempty"`

	// PDF page selection state. Nil until a candidate scan has run.
	SelectedPage   *int  `json:"selected_page,omitempty"`
	PageCount      *int  `json:"page_count,omitempty"`
	CandidatePages []int `json:"candidate_pages,omitempty"`
}

// RunStatus is the outcome of one extraction attempt.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// Run records one extraction attempt for a job.
type Run struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	Model        string    `json:"model"`
	ExtractedAt  time.Time `json:"extracted_at"`
	RowsInserted int       `json:"rows_inserted"`
	// RawResult is the full attempt log as JSON, kept for audit.
	RawResult string    `json:"raw_result,omitempty"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// ChartRow is one persisted extracted table entry.
type ChartRow struct {
	ID    int64  `json:"id"`
	RunID string `json:"run_id"`
	JobID string `json:"job_id"`

	EntryDate string `json:"entry_date"`
	chart.Row

	SourceFile  string    `json:"source_file"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// JobUpdate carries partial job field updates; nil fields are untouched.
type JobUpdate struct {
	Filename        *string
	Status          *JobStatus
	ProgressStep    *string
	LastError       *string
	StartedAt       *time.Time
	FinishedAt      *time.Time
	LastRowsAdded   *int
	FileLocation    *string
	PendingFilename *string
	SelectedPage    *int
	PageCount       *int
	CandidatePages  []int
	EntryDate       *string
}
