// Package scan feeds documents into the job queue: inbox directory
// sweeps, a filesystem watcher, and multipart upload intake. All three
// paths funnel through the same canonical-name dedupe so one logical
// document is always one Job.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chartdesk/chartdesk/internal/chart"
	"github.com/chartdesk/chartdesk/internal/home"
	"github.com/chartdesk/chartdesk/internal/pdfdoc"
	"github.com/chartdesk/chartdesk/internal/store"
)

// ErrUnsupportedType is returned for files that are not PDFs or page
// images.
var ErrUnsupportedType = errors.New("unsupported file type")

// Outcome says what intake did with a file.
type Outcome string

const (
	// OutcomeCreated means a new Job was created.
	OutcomeCreated Outcome = "created"
	// OutcomeReplaced means an idle live Job was re-versioned in place.
	OutcomeReplaced Outcome = "replaced"
	// OutcomePending means the live Job was processing, so the file was
	// recorded as its pending replacement.
	OutcomePending Outcome = "pending"
	// OutcomeUnchanged means the file is already tracked and nothing
	// needed to change.
	OutcomeUnchanged Outcome = "unchanged"
)

// Intake registers files with the job store.
type Intake struct {
	store  *store.Store
	home   *home.Dir
	logger *slog.Logger
}

// NewIntake creates an Intake rooted at the given home directory.
func NewIntake(st *store.Store, h *home.Dir, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{store: st, home: h, logger: logger}
}

// Result reports one intake decision.
type Result struct {
	Job     *store.Job `json:"job"`
	Outcome Outcome    `json:"outcome"`
}

// Upload stores an uploaded file in the inbox and registers it. The
// upload always counts as new content: an idle live job for the same
// canonical name is re-versioned, a processing one gets it as pending.
func (in *Intake) Upload(ctx context.Context, filename string, src io.Reader) (*Result, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return nil, errors.New("filename is required")
	}
	if !pdfdoc.IsSupported(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(filename))
	}

	dest := in.home.InboxPath(filename)
	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create inbox file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(dest)
		return nil, fmt.Errorf("write inbox file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("close inbox file: %w", err)
	}

	return in.register(ctx, filename, true)
}

// ScanInbox registers every supported file in the inbox directory.
// Files already tracked by a live job are left alone.
func (in *Intake) ScanInbox(ctx context.Context) ([]Result, error) {
	entries, err := os.ReadDir(in.home.InboxPath())
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || !pdfdoc.IsSupported(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var results []Result
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := in.register(ctx, name, false)
		if err != nil {
			in.logger.Warn("inbox file not registered", "file", name, "error", err)
			continue
		}
		if res.Outcome != OutcomeUnchanged {
			results = append(results, *res)
		}
	}
	return results, nil
}

// register applies the one-live-job-per-canonical-name rule.
// freshContent marks uploads, which always supersede the tracked file;
// inbox sweeps pass false so re-seeing a known file is a no-op.
func (in *Intake) register(ctx context.Context, filename string, freshContent bool) (*Result, error) {
	canonical := chart.CanonicalName(filename)
	live, err := in.store.GetLiveJobByCanonical(ctx, canonical)
	if err != nil {
		return nil, err
	}

	if live == nil {
		job := &store.Job{
			Filename:      filename,
			CanonicalName: canonical,
		}
		// Entry date is best-effort here; the pipeline re-parses and
		// fails the job visibly when it stays unresolvable.
		if date, err := chart.ParseEntryDate(filename); err == nil {
			job.EntryDate = date
		}
		if err := in.store.CreateJob(ctx, job); err != nil {
			return nil, err
		}
		in.logger.Info("job created",
			"job_id", job.ID, "file", filename, "canonical", canonical)
		return &Result{Job: job, Outcome: OutcomeCreated}, nil
	}

	if !freshContent && live.Filename == filename {
		return &Result{Job: live, Outcome: OutcomeUnchanged}, nil
	}

	if live.Status.Busy() {
		pending := filename
		if err := in.store.UpdateJob(ctx, live.ID, store.JobUpdate{PendingFilename: &pending}); err != nil {
			return nil, err
		}
		in.logger.Info("replacement queued behind processing job",
			"job_id", live.ID, "file", filename)
		updated, err := in.store.GetJob(ctx, live.ID)
		if err != nil {
			return nil, err
		}
		return &Result{Job: updated, Outcome: OutcomePending}, nil
	}

	previous := live.Filename
	if err := in.store.ReplaceFile(ctx, live.ID, filename); err != nil {
		return nil, err
	}
	if previous != filename {
		in.removeStaleFile(previous)
	}
	in.logger.Info("job re-versioned with new file",
		"job_id", live.ID, "file", filename, "previous", previous)
	updated, err := in.store.GetJob(ctx, live.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Job: updated, Outcome: OutcomeReplaced}, nil
}

// removeStaleFile deletes a superseded source file from either staging
// location. Best effort: a missing file is fine.
func (in *Intake) removeStaleFile(filename string) {
	for _, path := range []string{in.home.InboxPath(filename), in.home.CompletedPath(filename)} {
		if err := os.Remove(path); err == nil {
			in.logger.Debug("removed superseded file", "path", path)
			return
		}
	}
}

// RemoveJobFiles deletes a job's source file from both staging
// locations, for job deletion. Best effort: rows stay for audit even
// when the file is already gone.
func (in *Intake) RemoveJobFiles(job *store.Job) {
	if job == nil || job.Filename == "" {
		return
	}
	in.removeStaleFile(job.Filename)
	if job.PendingFilename != "" && job.PendingFilename != job.Filename {
		in.removeStaleFile(job.PendingFilename)
	}
}
