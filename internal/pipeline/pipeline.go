// Package pipeline runs one claimed job end to end: validate, pick a
// page, extract, chase missing ranks, persist, and file the source
// document. All failures are caught here and written to the job store;
// nothing escapes to the scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chartdesk/chartdesk/internal/chart"
	"github.com/chartdesk/chartdesk/internal/extract"
	"github.com/chartdesk/chartdesk/internal/home"
	"github.com/chartdesk/chartdesk/internal/pageselect"
	"github.com/chartdesk/chartdesk/internal/pdfdoc"
	"github.com/chartdesk/chartdesk/internal/store"
)

// extractDPI is the render resolution for the model-input image. Higher
// than the selector's scoring DPI: small rank digits must stay legible.
const extractDPI = 200

// Outcome is the terminal disposition of one pipeline pass.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeAwaitingReview Outcome = "awaiting_review"
	OutcomeError          Outcome = "error"
	OutcomeCancelled      Outcome = "cancelled"
)

// Options carries the per-tick tunables the scheduler resolved from
// settings.
type Options struct {
	PrimaryModel   string
	FallbackModel  string
	MaxScanPages   int
	CandidateLimit int
}

// Runner executes claimed jobs.
type Runner struct {
	store        *store.Store
	home         *home.Dir
	client       extract.Client
	selector     *pageselect.Selector
	completeness chart.CompletenessConfig
	logger       *slog.Logger

	// openDoc opens a PDF as a scorable document. Swapped in tests.
	openDoc func(path string) (pageselect.Document, error)
}

// Config assembles a Runner.
type Config struct {
	Store    *store.Store
	Home     *home.Dir
	Client   extract.Client
	Selector *pageselect.Selector
	// Completeness overrides the gap-detection clamps when non-nil.
	Completeness *chart.CompletenessConfig
	Logger       *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	selector := cfg.Selector
	if selector == nil {
		selector = pageselect.NewSelector(logger)
	}
	completeness := chart.DefaultCompletenessConfig()
	if cfg.Completeness != nil {
		completeness = *cfg.Completeness
	}
	return &Runner{
		store:        cfg.Store,
		home:         cfg.Home,
		client:       cfg.Client,
		selector:     selector,
		completeness: completeness,
		logger:       logger,
		openDoc: func(path string) (pageselect.Document, error) {
			return pdfdoc.OpenPDF(path)
		},
	}
}

// Process runs one job to a terminal disposition. ctx is the job's
// cancellation token; a fired token unwinds at the next checkpoint and
// the job is recorded as cancelled, never as a failure.
func (r *Runner) Process(ctx context.Context, job *store.Job, opts Options) (outcome Outcome) {
	log := r.logger.With("job_id", job.ID, "file", job.Filename)
	audit := newAuditLog()

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panic", "panic", p)
			outcome = r.recordFailure(ctx, job, audit, opts.PrimaryModel, fmt.Errorf("internal error: %v", p))
		}
	}()

	log.Info("processing job", "model", opts.PrimaryModel, "version", job.VersionCount)

	// Step 1: validate the file and its entry date.
	if err := r.checkpoint(ctx, job, "validating file"); err != nil {
		return r.recordFailure(ctx, job, audit, opts.PrimaryModel, err)
	}
	path, location, err := r.locateFile(ctx, job)
	if err != nil {
		return r.recordFailure(ctx, job, audit, opts.PrimaryModel, err)
	}
	mimeType, err := pdfdoc.MimeForFile(job.Filename)
	if err != nil {
		return r.recordFailure(ctx, job, audit, opts.PrimaryModel, err)
	}
	entryDate, err := r.resolveEntryDate(ctx, job)
	if err != nil {
		return r.recordFailure(ctx, job, audit, opts.PrimaryModel, err)
	}

	// Step 2: PDFs with no confirmed page suspend for review.
	isPDF := pdfdoc.IsPDF(job.Filename)
	if isPDF && job.SelectedPage == nil {
		out, err := r.suspendForReview(ctx, job, path, opts)
		if err != nil {
			return r.recordFailure(ctx, job, audit, opts.PrimaryModel, err)
		}
		return out
	}

	// Step 3: produce the model-input image.
	if err := r.checkpoint(ctx, job, "rendering page"); err != nil {
		return r.recordFailure(ctx, job, audit, opts.PrimaryModel, err)
	}
	image, imageMime, err := r.loadImage(ctx, job, path, isPDF, mimeType)
	if err != nil {
		return r.recordFailure(ctx, job, audit, opts.PrimaryModel, err)
	}

	// Step 4: full extraction.
	if err := r.checkpoint(ctx, job, "extracting rows"); err != nil {
		return r.recordFailure(ctx, job, audit, opts.PrimaryModel, err)
	}
	res, err := r.client.Extract(ctx, &extract.Request{
		Image:     image,
		MimeType:  imageMime,
		Model:     opts.PrimaryModel,
		Mode:      extract.ModeFull,
		EntryDate: entryDate,
	})
	if err != nil {
		audit.add(attemptRecord{Model: opts.PrimaryModel, Mode: string(extract.ModeFull), Error: err.Error()})
		return r.recordFailure(ctx, job, audit, opts.PrimaryModel, fmt.Errorf("full extraction: %w", err))
	}
	rows := res.Rows
	audit.add(attemptRecord{
		Model: res.Model, Mode: string(extract.ModeFull),
		RowsReturned: len(rows), RowsAdded: len(rows), RowsDropped: res.Dropped,
	})
	if len(rows) == 0 {
		return r.recordFailure(ctx, job, audit, res.Model,
			errors.New("extraction returned no chart rows for this page"))
	}

	// Step 5: chase missing ranks, escalating to the fallback model once.
	finalModel := res.Model
	missing := r.completeness.FindMissingGroups(rows, job.Filename)
	if len(missing) > 0 {
		rows, finalModel, missing = r.retryMissing(ctx, job, audit, rows, missing, image, imageMime, entryDate, opts, finalModel)
		if err := ctx.Err(); err != nil {
			return r.recordFailure(ctx, job, audit, finalModel, err)
		}
	}

	// Step 6: persist the run, degraded or not, with whatever we have.
	if err := r.checkpoint(ctx, job, "persisting results"); err != nil {
		return r.recordFailure(ctx, job, audit, finalModel, err)
	}
	run := &store.Run{
		JobID:  job.ID,
		Model:  finalModel,
		Status: store.RunCompleted,
	}
	if len(missing) > 0 {
		audit.GapSummary = summarizeGaps(missing)
		run.Status = store.RunError
		run.Error = "incomplete after retries: " + audit.GapSummary
	}
	run.RawResult = audit.marshal()

	chartRows := make([]store.ChartRow, len(rows))
	for i, row := range rows {
		chartRows[i] = store.ChartRow{
			EntryDate:  entryDate,
			Row:        row,
			SourceFile: job.Filename,
		}
	}
	if err := r.store.SaveRun(r.writeCtx(ctx), run, chartRows); err != nil {
		return r.recordFailure(ctx, job, audit, finalModel, fmt.Errorf("persist run: %w", err))
	}
	if err := r.store.SetActiveRun(r.writeCtx(ctx), job.ID, run.ID, len(chartRows)); err != nil {
		// The run and rows are in; only the pointer flip failed. Flag the
		// existing run instead of minting a second one.
		msg := fmt.Sprintf("activate run: %v", err)
		if uerr := r.store.UpdateRunStatus(r.writeCtx(ctx), run.ID, store.RunError, msg); uerr != nil {
			log.Error("run error state not recorded", "run_id", run.ID, "error", uerr)
		}
		r.writeJobError(ctx, job, msg)
		return OutcomeError
	}

	// A cancel that lands after persistence still marks the job
	// cancelled; the rows stay.
	if err := ctx.Err(); err != nil {
		r.writeJobCancelled(ctx, job)
		return OutcomeCancelled
	}

	if len(missing) > 0 {
		r.writeJobError(ctx, job, "incomplete after retries: "+audit.GapSummary)
		log.Warn("job finished degraded",
			"rows", len(chartRows), "gaps", audit.GapSummary, "model", finalModel)
		return OutcomeError
	}

	// Step 7: file the source document and close out the job.
	if location == store.FileLocationNew {
		if err := r.moveToCompleted(ctx, job, path); err != nil {
			// Rows are already persisted; only the filing failed.
			r.writeJobError(ctx, job, fmt.Sprintf("rows saved, but moving the file failed: %v", err))
			return OutcomeError
		}
	}

	now := time.Now().UTC()
	done := store.StatusCompleted
	step := "done"
	empty := ""
	if err := r.store.UpdateJob(r.writeCtx(ctx), job.ID, store.JobUpdate{
		Status:       &done,
		ProgressStep: &step,
		LastError:    &empty,
		FinishedAt:   &now,
	}); err != nil {
		log.Error("job finished but final status write failed", "error", err)
		return OutcomeError
	}

	log.Info("job completed", "rows", len(chartRows), "model", finalModel)
	return OutcomeCompleted
}

// retryMissing runs the targeted escalation ladder: primary model once,
// then the fallback model once if it differs. The returned model is the
// one the persisted run is attributed to: the last one that added rows.
func (r *Runner) retryMissing(
	ctx context.Context,
	job *store.Job,
	audit *auditLog,
	rows []chart.Row,
	missing []chart.MissingGroup,
	image []byte,
	imageMime, entryDate string,
	opts Options,
	finalModel string,
) ([]chart.Row, string, []chart.MissingGroup) {
	models := []string{opts.PrimaryModel}
	if opts.FallbackModel != "" && opts.FallbackModel != opts.PrimaryModel {
		models = append(models, opts.FallbackModel)
	}

	for _, model := range models {
		if len(missing) == 0 {
			break
		}
		if err := r.checkpoint(ctx, job, "retrying missing rows"); err != nil {
			return rows, finalModel, missing
		}

		res, err := r.client.Extract(ctx, &extract.Request{
			Image:     image,
			MimeType:  imageMime,
			Model:     model,
			Mode:      extract.ModeTargeted,
			Missing:   missing,
			EntryDate: entryDate,
		})
		if err != nil {
			// A failed retry is not fatal; the rows in hand still count.
			audit.add(attemptRecord{Model: model, Mode: string(extract.ModeTargeted), Error: err.Error()})
			if ctx.Err() != nil {
				return rows, finalModel, missing
			}
			continue
		}

		merged := chart.MergeRows(rows, res.Rows, missing)
		rows = merged.Merged
		if merged.Added > 0 {
			finalModel = res.Model
		}
		missing = r.completeness.FindMissingGroups(rows, job.Filename)
		audit.add(attemptRecord{
			Model: res.Model, Mode: string(extract.ModeTargeted),
			RowsReturned: len(res.Rows), RowsAdded: merged.Added, RowsDropped: res.Dropped,
			RemainingGaps: summarizeGaps(missing),
		})
	}
	return rows, finalModel, missing
}

// suspendForReview persists the candidate pages and parks the job until
// a human confirms one. This is a suspension, not a failure: the job
// resumes from the top once the choice lands.
func (r *Runner) suspendForReview(ctx context.Context, job *store.Job, path string, opts Options) (Outcome, error) {
	if err := r.checkpoint(ctx, job, "selecting candidate pages"); err != nil {
		return "", err
	}

	doc, err := r.openDoc(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	maxScan := opts.MaxScanPages
	if maxScan <= 0 {
		maxScan = pageselect.DefaultMaxScanPages
	}
	limit := opts.CandidateLimit
	if limit <= 0 {
		limit = pageselect.DefaultCandidateLimit
	}

	candidates, err := r.selector.SelectCandidates(ctx, doc, maxScan, limit)
	if err != nil {
		return "", fmt.Errorf("select candidate pages: %w", err)
	}

	pageCount := doc.PageCount()
	awaiting := store.StatusAwaitingReview
	step := "awaiting page confirmation"
	if err := r.store.UpdateJob(r.writeCtx(ctx), job.ID, store.JobUpdate{
		Status:         &awaiting,
		ProgressStep:   &step,
		SelectedPage:   &candidates[0],
		PageCount:      &pageCount,
		CandidatePages: candidates,
	}); err != nil {
		return "", fmt.Errorf("persist candidates: %w", err)
	}

	r.logger.Info("job awaiting page review",
		"job_id", job.ID, "candidates", candidates, "pages", pageCount)
	return OutcomeAwaitingReview, nil
}

// loadImage produces the model-input image: a render of the confirmed
// page for PDFs, the raw bytes for image files.
func (r *Runner) loadImage(ctx context.Context, job *store.Job, path string, isPDF bool, mimeType string) ([]byte, string, error) {
	if !isPDF {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("read image file: %w", err)
		}
		return data, mimeType, nil
	}

	doc, err := r.openDoc(path)
	if err != nil {
		return nil, "", fmt.Errorf("open pdf: %w", err)
	}
	page := *job.SelectedPage
	if page < 1 || page > doc.PageCount() {
		return nil, "", fmt.Errorf("selected page %d outside document (1-%d)", page, doc.PageCount())
	}
	data, err := doc.RenderPage(ctx, page, extractDPI)
	if err != nil {
		return nil, "", fmt.Errorf("render page %d: %w", page, err)
	}
	return data, "image/png", nil
}

// locateFile finds the job's source file in either staging location.
func (r *Runner) locateFile(ctx context.Context, job *store.Job) (string, string, error) {
	inbox := r.home.InboxPath(job.Filename)
	if _, err := os.Stat(inbox); err == nil {
		return inbox, store.FileLocationNew, nil
	}
	completed := r.home.CompletedPath(job.Filename)
	if _, err := os.Stat(completed); err == nil {
		return completed, store.FileLocationCompleted, nil
	}

	missing := store.FileLocationMissing
	_ = r.store.UpdateJob(r.writeCtx(ctx), job.ID, store.JobUpdate{FileLocation: &missing})
	return "", "", fmt.Errorf("file %q not found in inbox or completed", job.Filename)
}

// resolveEntryDate returns the job's entry date, re-parsing the filename
// when it was never set.
func (r *Runner) resolveEntryDate(ctx context.Context, job *store.Job) (string, error) {
	if job.EntryDate != "" {
		return job.EntryDate, nil
	}
	date, err := chart.ParseEntryDate(job.Filename)
	if err != nil {
		return "", err
	}
	if err := r.store.UpdateJob(r.writeCtx(ctx), job.ID, store.JobUpdate{EntryDate: &date}); err != nil {
		return "", err
	}
	job.EntryDate = date
	return date, nil
}

// moveToCompleted files the source document under a collision-safe name
// and records where it went.
func (r *Runner) moveToCompleted(ctx context.Context, job *store.Job, path string) error {
	if err := r.checkpoint(ctx, job, "filing document"); err != nil {
		return err
	}

	destName := job.Filename
	if _, err := os.Stat(r.home.CompletedPath(destName)); err == nil {
		ext := filepath.Ext(destName)
		base := strings.TrimSuffix(destName, ext)
		destName = fmt.Sprintf("%s-%s%s", base, uuid.New().String()[:8], ext)
	}

	if err := os.Rename(path, r.home.CompletedPath(destName)); err != nil {
		return err
	}

	completed := store.FileLocationCompleted
	update := store.JobUpdate{FileLocation: &completed}
	if destName != job.Filename {
		update.Filename = &destName
	}
	if err := r.store.UpdateJob(r.writeCtx(ctx), job.ID, update); err != nil {
		return err
	}
	job.Filename = destName
	return nil
}

// checkpoint re-checks the cancellation token and records the progress
// step. Every remote call and persistence write sits behind one.
func (r *Runner) checkpoint(ctx context.Context, job *store.Job, step string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.store.UpdateJob(ctx, job.ID, store.JobUpdate{ProgressStep: &step})
}

// writeCtx detaches store writes from the job token so terminal states
// can still be recorded after a cancel.
func (r *Runner) writeCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// recordFailure classifies an error as cancellation or failure, writes
// it to the job, and records a run for the attempt audit.
func (r *Runner) recordFailure(ctx context.Context, job *store.Job, audit *auditLog, model string, err error) Outcome {
	cancelled := errors.Is(err, context.Canceled) || ctx.Err() != nil

	run := &store.Run{
		JobID:     job.ID,
		Model:     model,
		Status:    store.RunError,
		Error:     err.Error(),
		RawResult: audit.marshal(),
	}
	if cancelled {
		run.Status = store.RunCancelled
		run.Error = "cancelled by request"
	}
	if saveErr := r.store.SaveRun(r.writeCtx(ctx), run, nil); saveErr != nil {
		r.logger.Error("failure run not recorded", "job_id", job.ID, "error", saveErr)
	}

	if cancelled {
		r.writeJobCancelled(ctx, job)
		return OutcomeCancelled
	}
	r.logger.Warn("job failed", "job_id", job.ID, "error", err)
	r.writeJobError(ctx, job, err.Error())
	return OutcomeError
}

func (r *Runner) writeJobError(ctx context.Context, job *store.Job, msg string) {
	now := time.Now().UTC()
	failed := store.StatusError
	if err := r.store.UpdateJob(r.writeCtx(ctx), job.ID, store.JobUpdate{
		Status:     &failed,
		LastError:  &msg,
		FinishedAt: &now,
	}); err != nil {
		r.logger.Error("job error state not recorded", "job_id", job.ID, "error", err)
	}
}

func (r *Runner) writeJobCancelled(ctx context.Context, job *store.Job) {
	now := time.Now().UTC()
	cancelled := store.StatusCancelled
	msg := "cancelled by request"
	if err := r.store.UpdateJob(r.writeCtx(ctx), job.ID, store.JobUpdate{
		Status:     &cancelled,
		LastError:  &msg,
		FinishedAt: &now,
	}); err != nil {
		r.logger.Error("job cancelled state not recorded", "job_id", job.ID, "error", err)
	}
}

// summarizeGaps renders missing groups as a short human-readable list.
func summarizeGaps(missing []chart.MissingGroup) string {
	if len(missing) == 0 {
		return ""
	}
	parts := make([]string, len(missing))
	for i, g := range missing {
		name := g.ChartTitle
		if g.ChartSection != "" {
			name = g.ChartSection + " / " + name
		}
		parts[i] = fmt.Sprintf("%s: %s", name, chart.FormatRanges(g.MissingRanks))
	}
	return strings.Join(parts, "; ")
}
