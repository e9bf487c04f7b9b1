// Package worker schedules claimed jobs onto the extraction pipeline.
// A single poll loop claims queued work up to the configured concurrency
// budget, each claim runs as its own goroutine with a cancellation token,
// and a serialized export pass regenerates the spreadsheets after
// completions. The store stays the only authoritative state; the
// scheduler holds nothing that cannot be rebuilt after a restart.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chartdesk/chartdesk/internal/config"
	"github.com/chartdesk/chartdesk/internal/export"
	"github.com/chartdesk/chartdesk/internal/pageselect"
	"github.com/chartdesk/chartdesk/internal/pipeline"
	"github.com/chartdesk/chartdesk/internal/store"
)

// DefaultPollInterval is the tick spacing used when the settings store
// has no usable value.
const DefaultPollInterval = 15 * time.Second

// Config assembles a Scheduler.
type Config struct {
	Store    *store.Store
	Runner   *pipeline.Runner
	Exporter *export.Exporter
	Logger   *slog.Logger

	// OnJobChange fires after any job reaches a new state. Fire and
	// forget: consumers must return quickly and may miss events.
	OnJobChange func(jobID string)

	// OnExportDone fires after an export pass rewrites the files.
	OnExportDone func(summary export.Summary)
}

// Scheduler owns the poll loop, the per-job cancellation tokens, and the
// serialized export queue.
type Scheduler struct {
	store    *store.Store
	runner   *pipeline.Runner
	exporter *export.Exporter
	logger   *slog.Logger

	kick       chan struct{}
	exportKick chan struct{}

	mu     sync.Mutex
	tokens map[string]context.CancelFunc

	ticking atomic.Bool
	wg      sync.WaitGroup

	onJobChange  func(string)
	onExportDone func(export.Summary)
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        cfg.Store,
		runner:       cfg.Runner,
		exporter:     cfg.Exporter,
		logger:       logger,
		kick:         make(chan struct{}, 1),
		exportKick:   make(chan struct{}, 1),
		tokens:       make(map[string]context.CancelFunc),
		onJobChange:  cfg.OnJobChange,
		onExportDone: cfg.OnExportDone,
	}
}

// Run drives the scheduler until ctx is cancelled. Jobs left processing
// by a previous crash are swept back to queued before the first claim.
func (s *Scheduler) Run(ctx context.Context) error {
	swept, err := s.store.RequeueStuckProcessing(ctx)
	if err != nil {
		return fmt.Errorf("requeue stuck jobs: %w", err)
	}
	if swept > 0 {
		s.logger.Warn("requeued jobs left processing by a previous run", "count", swept)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.exportLoop(ctx)
	}()

	interval := s.pollInterval(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("worker started", "poll_interval", interval)
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("worker stopping")
			s.wg.Wait()
			s.logger.Info("worker stopped")
			return nil
		case <-s.kick:
			s.tick(ctx)
		case <-ticker.C:
			s.tick(ctx)
			if next := s.pollInterval(ctx); next != interval {
				s.logger.Info("poll interval changed", "from", interval, "to", next)
				ticker.Reset(next)
				interval = next
			}
		}
	}
}

// Kick requests an immediate re-poll. Non-blocking; pending kicks
// coalesce into one.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// RequestExport queues an export pass. Requests arriving while one is
// running coalesce into a single follow-up pass.
func (s *Scheduler) RequestExport() {
	select {
	case s.exportKick <- struct{}{}:
	default:
	}
}

// tick claims as much queued work as the concurrency budget allows.
// Safe to call concurrently: overlapping calls collapse into one pass,
// and a pass with nothing claimable changes nothing.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		return
	}
	defer s.ticking.Store(false)

	if ctx.Err() != nil {
		return
	}
	if s.setting(ctx, config.KeyWorkerPaused).BoolOr(false) {
		s.logger.Debug("worker paused, not claiming")
		return
	}

	limit := s.setting(ctx, config.KeyWorkerMaxConcurrent).IntOr(2)
	if limit < 1 {
		limit = 1
	}

	dbActive, err := s.store.ActiveProcessingCount(ctx)
	if err != nil {
		s.logger.Error("processing count read failed", "error", err)
		return
	}
	// The store count lags just after a restart; live tokens lag just
	// after a claim. The larger of the two never over-claims.
	active := dbActive
	if live := s.liveTokenCount(); live > active {
		active = live
	}

	available := limit - active
	if available <= 0 {
		return
	}

	jobs, err := s.store.ClaimQueued(ctx, available)
	if err != nil {
		s.logger.Error("claim failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	opts := s.options(ctx)
	s.logger.Info("claimed jobs",
		"count", len(jobs), "active", active, "limit", limit, "model", opts.PrimaryModel)
	for _, job := range jobs {
		s.launch(ctx, job, opts)
	}
}

// launch registers a cancellation token for the job and runs it on its
// own goroutine.
func (s *Scheduler) launch(ctx context.Context, job store.Job, opts pipeline.Options) {
	jobCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.tokens[job.ID] = cancel
	s.mu.Unlock()

	s.notifyJobChanged(job.ID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(jobCtx, &job, opts)
	}()
}

// runJob runs one claimed job and performs the always-executed epilogue:
// token release, pending-file promotion, notifications, and a re-poll so
// one job's outcome never stalls the rest of the queue.
func (s *Scheduler) runJob(ctx context.Context, job *store.Job, opts pipeline.Options) {
	outcome := s.runner.Process(ctx, job, opts)

	s.releaseToken(job.ID)

	base := context.WithoutCancel(ctx)
	promoted, err := s.store.PromotePending(base, job.ID)
	if err != nil {
		s.logger.Error("pending promotion failed", "job_id", job.ID, "error", err)
	} else if promoted {
		s.logger.Info("promoted pending replacement into a fresh version", "job_id", job.ID)
	}

	s.notifyJobChanged(job.ID)

	if outcome == pipeline.OutcomeCompleted && s.setting(base, config.KeyExportAuto).BoolOr(true) {
		s.RequestExport()
	}

	s.Kick()
}

// Cancel stops a job. The persisted status flips to cancelled first so
// observers see the stop immediately; a live pipeline observes its token
// at the next checkpoint and unwinds.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}

	now := time.Now().UTC()
	cancelled := store.StatusCancelled
	msg := "cancelled by request"
	if err := s.store.UpdateJob(ctx, jobID, store.JobUpdate{
		Status:     &cancelled,
		LastError:  &msg,
		FinishedAt: &now,
	}); err != nil {
		return err
	}

	s.mu.Lock()
	cancel, live := s.tokens[jobID]
	s.mu.Unlock()
	if live {
		cancel()
	}

	s.logger.Info("job cancelled", "job_id", jobID, "was_running", live)
	s.notifyJobChanged(jobID)
	return nil
}

// Rerun forces a job back to queued and re-polls.
func (s *Scheduler) Rerun(ctx context.Context, jobID string) error {
	if err := s.store.RequeueJob(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("job requeued for rerun", "job_id", jobID)
	s.notifyJobChanged(jobID)
	s.Kick()
	return nil
}

// Status is a snapshot of the scheduler for the status surfaces.
type Status struct {
	Paused        bool                    `json:"paused"`
	MaxConcurrent int                     `json:"max_concurrent"`
	LiveJobs      int                     `json:"live_jobs"`
	Counts        map[store.JobStatus]int `json:"counts"`
}

// Snapshot reports the scheduler's current view of the queue.
func (s *Scheduler) Snapshot(ctx context.Context) (*Status, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Paused:        s.setting(ctx, config.KeyWorkerPaused).BoolOr(false),
		MaxConcurrent: s.setting(ctx, config.KeyWorkerMaxConcurrent).IntOr(2),
		LiveJobs:      s.liveTokenCount(),
		Counts:        counts,
	}, nil
}

func (s *Scheduler) exportLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.exportKick:
			s.runExport(ctx)
		}
	}
}

func (s *Scheduler) runExport(ctx context.Context) {
	summary, err := s.exporter.WriteCSV(ctx)
	if err != nil {
		s.logger.Error("csv export failed", "error", err)
		return
	}
	if _, err := s.exporter.WriteXLSX(ctx); err != nil {
		s.logger.Error("xlsx export failed", "error", err)
	}
	if s.onExportDone != nil {
		s.onExportDone(*summary)
	}
}

func (s *Scheduler) releaseToken(jobID string) {
	s.mu.Lock()
	cancel, ok := s.tokens[jobID]
	delete(s.tokens, jobID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Scheduler) liveTokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Scheduler) notifyJobChanged(jobID string) {
	if s.onJobChange != nil {
		s.onJobChange(jobID)
	}
}

// setting reads one runtime setting, falling back to the seeded default
// when the store is unreadable or the key is absent.
func (s *Scheduler) setting(ctx context.Context, key string) *config.Entry {
	entry, err := s.store.Settings().Get(ctx, key)
	if err != nil {
		s.logger.Warn("settings read failed, using default", "key", key, "error", err)
		return config.GetDefault(key)
	}
	if entry == nil {
		return config.GetDefault(key)
	}
	return entry
}

func (s *Scheduler) pollInterval(ctx context.Context) time.Duration {
	secs := s.setting(ctx, config.KeyWorkerPollSeconds).IntOr(0)
	if secs < 1 {
		return DefaultPollInterval
	}
	return time.Duration(secs) * time.Second
}

func (s *Scheduler) options(ctx context.Context) pipeline.Options {
	return pipeline.Options{
		PrimaryModel:   s.setting(ctx, config.KeyExtractionModel).StringOr(""),
		FallbackModel:  s.setting(ctx, config.KeyExtractionFallbackModel).StringOr(""),
		MaxScanPages:   s.setting(ctx, config.KeySelectionMaxScanPages).IntOr(pageselect.DefaultMaxScanPages),
		CandidateLimit: s.setting(ctx, config.KeySelectionCandidates).IntOr(pageselect.DefaultCandidateLimit),
	}
}
