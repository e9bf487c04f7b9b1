package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/chartdesk/chartdesk/internal/chart"
	"github.com/chartdesk/chartdesk/internal/extract"
	"github.com/chartdesk/chartdesk/internal/home"
	"github.com/chartdesk/chartdesk/internal/pageselect"
	"github.com/chartdesk/chartdesk/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	runner *Runner
	store  *store.Store
	home   *home.Dir
}

func newTestEnv(t *testing.T, client extract.Client) *testEnv {
	t.Helper()
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New: %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	st, err := store.Open(h.DBPath(), discardLogger())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	r := NewRunner(Config{Store: st, Home: h, Client: client, Logger: discardLogger()})
	return &testEnv{runner: r, store: st, home: h}
}

// seedJob writes a fixture file into the inbox and registers a queued job
// for it.
func (e *testEnv) seedJob(t *testing.T, filename string) *store.Job {
	t.Helper()
	writeFixture(t, e.home.InboxPath(filename))
	job := &store.Job{Filename: filename, CanonicalName: chart.CanonicalName(filename)}
	if date, err := chart.ParseEntryDate(filename); err == nil {
		job.EntryDate = date
	}
	if err := e.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func (e *testEnv) reload(t *testing.T, id string) *store.Job {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return job
}

func writeFixture(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func rankedRows(title string, ranks ...int) []chart.Row {
	rows := make([]chart.Row, len(ranks))
	for i, n := range ranks {
		rank := n
		rows[i] = chart.Row{
			ChartTitle: title,
			ThisWeek:   &rank,
			Title:      fmt.Sprintf("Song %d", n),
			Artist:     fmt.Sprintf("Artist %d", n),
			Label:      "TK",
		}
	}
	return rows
}

// fakeDoc stands in for an opened PDF.
type fakeDoc struct {
	pages  int
	text   func(page int) (string, error)
	render func(page, dpi int) ([]byte, error)
}

func (d fakeDoc) PageCount() int { return d.pages }

func (d fakeDoc) PageText(_ context.Context, page int) (string, error) {
	if d.text == nil {
		return "", errors.New("no text layer")
	}
	return d.text(page)
}

func (d fakeDoc) RenderPage(_ context.Context, page, dpi int) ([]byte, error) {
	if d.render == nil {
		return nil, errors.New("no raster")
	}
	return d.render(page, dpi)
}

// cancelAfterExtract fires the cancel func the moment the wrapped
// extraction call returns, so the token is observed between extraction
// and the completeness check.
type cancelAfterExtract struct {
	inner  extract.Client
	cancel context.CancelFunc
}

func (c *cancelAfterExtract) Name() string { return "cancel-after" }

func (c *cancelAfterExtract) Extract(ctx context.Context, req *extract.Request) (*extract.Result, error) {
	res, err := c.inner.Extract(ctx, req)
	c.cancel()
	return res, err
}

func TestProcessCompletesImageJob(t *testing.T) {
	mock := &extract.MockClient{Rows: rankedRows("Disco Top 3", 1, 2, 3)}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.png")

	out := env.runner.Process(context.Background(), job, Options{PrimaryModel: "vision-a"})
	if out != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", out, OutcomeCompleted)
	}

	got := env.reload(t, job.ID)
	if got.Status != store.StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, store.StatusCompleted)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty", got.LastError)
	}
	if got.FileLocation != store.FileLocationCompleted {
		t.Errorf("FileLocation = %q, want %q", got.FileLocation, store.FileLocationCompleted)
	}
	if got.RunCount != 1 || got.LastRunID == "" || got.LastRowsAdded != 3 {
		t.Errorf("run bookkeeping = (%d, %q, %d), want (1, non-empty, 3)",
			got.RunCount, got.LastRunID, got.LastRowsAdded)
	}

	if _, err := os.Stat(env.home.InboxPath(job.Filename)); !os.IsNotExist(err) {
		t.Errorf("inbox file should be gone, stat err = %v", err)
	}
	if _, err := os.Stat(env.home.CompletedPath(got.Filename)); err != nil {
		t.Errorf("completed file missing: %v", err)
	}

	runs, err := env.store.RunsForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RunsForJob: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != store.RunCompleted {
		t.Errorf("run status = %q, want %q", run.Status, store.RunCompleted)
	}
	if run.Model != "vision-a" {
		t.Errorf("run model = %q, want vision-a", run.Model)
	}
	if run.RowsInserted != 3 {
		t.Errorf("RowsInserted = %d, want 3", run.RowsInserted)
	}
	if !strings.Contains(run.RawResult, `"mode":"full"`) {
		t.Errorf("RawResult missing full attempt: %s", run.RawResult)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d extraction calls, want 1", len(reqs))
	}
	if reqs[0].Mode != extract.ModeFull {
		t.Errorf("mode = %q, want %q", reqs[0].Mode, extract.ModeFull)
	}
	if reqs[0].EntryDate != "1979-11-17" {
		t.Errorf("entry date = %q, want 1979-11-17", reqs[0].EntryDate)
	}
	if reqs[0].MimeType != "image/png" {
		t.Errorf("mime = %q, want image/png", reqs[0].MimeType)
	}
}

func TestProcessFillsGapsWithTargetedRetry(t *testing.T) {
	mock := &extract.MockClient{Queue: [][]chart.Row{
		rankedRows("Disco Top 5", 1, 2, 4, 5),
		rankedRows("Disco Top 5", 3),
	}}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.png")

	out := env.runner.Process(context.Background(), job, Options{PrimaryModel: "vision-a"})
	if out != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", out, OutcomeCompleted)
	}

	rows, err := env.store.ActiveChartRows(context.Background())
	if err != nil {
		t.Fatalf("ActiveChartRows: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want 5", len(rows))
	}
	for i, row := range rows {
		if row.ThisWeek == nil || *row.ThisWeek != i+1 {
			t.Errorf("row %d rank = %v, want %d", i, row.ThisWeek, i+1)
		}
	}

	reqs := mock.Requests()
	if len(reqs) != 2 {
		t.Fatalf("got %d extraction calls, want 2", len(reqs))
	}
	if reqs[1].Mode != extract.ModeTargeted {
		t.Errorf("second call mode = %q, want %q", reqs[1].Mode, extract.ModeTargeted)
	}
	if len(reqs[1].Missing) != 1 {
		t.Fatalf("got %d missing groups, want 1", len(reqs[1].Missing))
	}
	if got := chart.FormatRanges(reqs[1].Missing[0].MissingRanks); got != "3" {
		t.Errorf("missing ranks = %q, want 3", got)
	}

	runs, err := env.store.RunsForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RunsForJob: %v", err)
	}
	if len(runs) != 1 || runs[0].Model != "vision-a" {
		t.Errorf("runs = %d, model = %q; want 1 run attributed to vision-a",
			len(runs), runs[0].Model)
	}
	if !strings.Contains(runs[0].RawResult, `"mode":"targeted"`) {
		t.Errorf("RawResult missing targeted attempt: %s", runs[0].RawResult)
	}
}

func TestProcessEscalatesToFallbackModel(t *testing.T) {
	mock := &extract.MockClient{Queue: [][]chart.Row{
		rankedRows("Disco Top 5", 1, 2, 4, 5),
		{},
		rankedRows("Disco Top 5", 3),
	}}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.png")

	out := env.runner.Process(context.Background(), job, Options{
		PrimaryModel:  "vision-a",
		FallbackModel: "vision-xl",
	})
	if out != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", out, OutcomeCompleted)
	}

	if mock.Calls() != 3 {
		t.Errorf("extraction calls = %d, want 3", mock.Calls())
	}
	reqs := mock.Requests()
	if reqs[2].Model != "vision-xl" {
		t.Errorf("third call model = %q, want vision-xl", reqs[2].Model)
	}

	runs, err := env.store.RunsForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RunsForJob: %v", err)
	}
	if runs[0].Model != "vision-xl" {
		t.Errorf("run attributed to %q, want vision-xl", runs[0].Model)
	}
}

func TestProcessDegradedKeepsPartialRows(t *testing.T) {
	mock := &extract.MockClient{Queue: [][]chart.Row{
		rankedRows("Disco Top 5", 1, 2, 4, 5),
	}}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.png")

	out := env.runner.Process(context.Background(), job, Options{PrimaryModel: "vision-a"})
	if out != OutcomeError {
		t.Fatalf("outcome = %q, want %q", out, OutcomeError)
	}

	got := env.reload(t, job.ID)
	if got.Status != store.StatusError {
		t.Errorf("status = %q, want %q", got.Status, store.StatusError)
	}
	if !strings.Contains(got.LastError, "incomplete after retries") ||
		!strings.Contains(got.LastError, "3") {
		t.Errorf("LastError = %q, want gap summary naming rank 3", got.LastError)
	}
	if got.LastRunID == "" {
		t.Error("degraded run should still be the active run")
	}

	// Partial data beats none: the four extracted rows are kept.
	rows, err := env.store.ActiveChartRows(context.Background())
	if err != nil {
		t.Fatalf("ActiveChartRows: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("got %d rows, want 4", len(rows))
	}

	runs, err := env.store.RunsForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RunsForJob: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Status != store.RunError {
		t.Errorf("run status = %q, want %q", runs[0].Status, store.RunError)
	}
	if runs[0].RowsInserted != 4 {
		t.Errorf("RowsInserted = %d, want 4", runs[0].RowsInserted)
	}

	// The source file is not filed away on a degraded finish.
	if _, err := os.Stat(env.home.InboxPath(job.Filename)); err != nil {
		t.Errorf("inbox file should remain: %v", err)
	}
}

func TestProcessFailsWhenNoRowsExtracted(t *testing.T) {
	mock := &extract.MockClient{}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.png")

	out := env.runner.Process(context.Background(), job, Options{PrimaryModel: "vision-a"})
	if out != OutcomeError {
		t.Fatalf("outcome = %q, want %q", out, OutcomeError)
	}

	got := env.reload(t, job.ID)
	if !strings.Contains(got.LastError, "no chart rows") {
		t.Errorf("LastError = %q, want a no-rows message", got.LastError)
	}
	if mock.Calls() != 1 {
		t.Errorf("extraction calls = %d, want 1 (no retries on empty)", mock.Calls())
	}

	runs, err := env.store.RunsForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RunsForJob: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != store.RunError || runs[0].RowsInserted != 0 {
		t.Errorf("want one empty error run, got %+v", runs)
	}
	if got.LastRunID != "" {
		t.Errorf("LastRunID = %q, want empty (no active run)", got.LastRunID)
	}
}

func TestProcessValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		prepare  func(t *testing.T, env *testEnv, job *store.Job)
		wantErr  string
	}{
		{
			name:     "missing file",
			filename: "billboard 1979-11-17.png",
			prepare: func(t *testing.T, env *testEnv, job *store.Job) {
				if err := os.Remove(env.home.InboxPath(job.Filename)); err != nil {
					t.Fatalf("remove fixture: %v", err)
				}
			},
			wantErr: "not found",
		},
		{
			name:     "unsupported type",
			filename: "notes 1979-01-05.txt",
			wantErr:  "unsupported file type",
		},
		{
			name:     "no entry date",
			filename: "scanned charts.png",
			wantErr:  "no YYYY-MM-DD date",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &extract.MockClient{Rows: rankedRows("Disco Top 3", 1, 2, 3)}
			env := newTestEnv(t, mock)
			job := env.seedJob(t, tt.filename)
			if tt.prepare != nil {
				tt.prepare(t, env, job)
			}

			out := env.runner.Process(context.Background(), job, Options{PrimaryModel: "vision-a"})
			if out != OutcomeError {
				t.Fatalf("outcome = %q, want %q", out, OutcomeError)
			}

			got := env.reload(t, job.ID)
			if got.Status != store.StatusError {
				t.Errorf("status = %q, want %q", got.Status, store.StatusError)
			}
			if !strings.Contains(got.LastError, tt.wantErr) {
				t.Errorf("LastError = %q, want substring %q", got.LastError, tt.wantErr)
			}
			if mock.Calls() != 0 {
				t.Errorf("extraction calls = %d, want 0", mock.Calls())
			}

			// Even pre-extraction failures leave an audit run behind.
			runs, err := env.store.RunsForJob(context.Background(), job.ID)
			if err != nil {
				t.Fatalf("RunsForJob: %v", err)
			}
			if len(runs) != 1 || runs[0].Status != store.RunError {
				t.Errorf("want one error run, got %+v", runs)
			}
		})
	}
}

func TestProcessMissingFileMarksLocation(t *testing.T) {
	mock := &extract.MockClient{}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.png")
	if err := os.Remove(env.home.InboxPath(job.Filename)); err != nil {
		t.Fatalf("remove fixture: %v", err)
	}

	env.runner.Process(context.Background(), job, Options{PrimaryModel: "vision-a"})

	got := env.reload(t, job.ID)
	if got.FileLocation != store.FileLocationMissing {
		t.Errorf("FileLocation = %q, want %q", got.FileLocation, store.FileLocationMissing)
	}
}

func TestProcessCancelledMidExtraction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := &extract.MockClient{Rows: rankedRows("Disco Top 3", 1, 2, 3)}
	env := newTestEnv(t, &cancelAfterExtract{inner: mock, cancel: cancel})
	job := env.seedJob(t, "billboard 1979-11-17.png")

	out := env.runner.Process(ctx, job, Options{PrimaryModel: "vision-a"})
	if out != OutcomeCancelled {
		t.Fatalf("outcome = %q, want %q", out, OutcomeCancelled)
	}

	got := env.reload(t, job.ID)
	if got.Status != store.StatusCancelled {
		t.Errorf("status = %q, want %q", got.Status, store.StatusCancelled)
	}
	if got.LastError != "cancelled by request" {
		t.Errorf("LastError = %q, want the plain cancellation reason", got.LastError)
	}

	runs, err := env.store.RunsForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RunsForJob: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Status != store.RunCancelled {
		t.Errorf("run status = %q, want %q", runs[0].Status, store.RunCancelled)
	}
	if runs[0].Error != "cancelled by request" {
		t.Errorf("run error = %q, want the plain cancellation reason", runs[0].Error)
	}

	// Unwound before persistence: no rows landed.
	rows, err := env.store.ActiveChartRows(context.Background())
	if err != nil {
		t.Fatalf("ActiveChartRows: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d active rows, want 0", len(rows))
	}
}

func TestProcessCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &extract.MockClient{Rows: rankedRows("Disco Top 3", 1, 2, 3)}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.png")

	out := env.runner.Process(ctx, job, Options{PrimaryModel: "vision-a"})
	if out != OutcomeCancelled {
		t.Fatalf("outcome = %q, want %q", out, OutcomeCancelled)
	}
	if mock.Calls() != 0 {
		t.Errorf("extraction calls = %d, want 0", mock.Calls())
	}
	got := env.reload(t, job.ID)
	if got.Status != store.StatusCancelled {
		t.Errorf("status = %q, want %q", got.Status, store.StatusCancelled)
	}
}

func TestProcessSuspendsPDFForReview(t *testing.T) {
	mock := &extract.MockClient{}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.pdf")

	chartText := "Billboard Chart  This Week  Last Week  Two Weeks Ago  " +
		"Weeks on Chart  Title  Artist  Label  Top 100 Singles\n" +
		"1 2 3 4 5 6 7 8 9 10 11 12"
	env.runner.openDoc = func(string) (pageselect.Document, error) {
		return fakeDoc{
			pages: 3,
			text: func(page int) (string, error) {
				if page == 2 {
					return chartText, nil
				}
				return "letters to the editor and assorted publisher notes", nil
			},
		}, nil
	}

	out := env.runner.Process(context.Background(), job, Options{PrimaryModel: "vision-a"})
	if out != OutcomeAwaitingReview {
		t.Fatalf("outcome = %q, want %q", out, OutcomeAwaitingReview)
	}

	got := env.reload(t, job.ID)
	if got.Status != store.StatusAwaitingReview {
		t.Errorf("status = %q, want %q", got.Status, store.StatusAwaitingReview)
	}
	if got.SelectedPage == nil || *got.SelectedPage != 2 {
		t.Errorf("SelectedPage = %v, want 2", got.SelectedPage)
	}
	if got.PageCount == nil || *got.PageCount != 3 {
		t.Errorf("PageCount = %v, want 3", got.PageCount)
	}
	if len(got.CandidatePages) != 3 || got.CandidatePages[0] != 2 {
		t.Errorf("CandidatePages = %v, want best-first with page 2 leading", got.CandidatePages)
	}
	if mock.Calls() != 0 {
		t.Errorf("extraction calls = %d, want 0 before page confirmation", mock.Calls())
	}
}

func TestProcessExtractsConfirmedPDFPage(t *testing.T) {
	mock := &extract.MockClient{Rows: rankedRows("Disco Top 3", 1, 2, 3)}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.pdf")

	two := 2
	if err := env.store.UpdateJob(context.Background(), job.ID, store.JobUpdate{SelectedPage: &two}); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	job = env.reload(t, job.ID)

	var renderedPage, renderedDPI int
	env.runner.openDoc = func(string) (pageselect.Document, error) {
		return fakeDoc{
			pages: 4,
			render: func(page, dpi int) ([]byte, error) {
				renderedPage, renderedDPI = page, dpi
				return []byte("rendered-page-bytes"), nil
			},
		}, nil
	}

	out := env.runner.Process(context.Background(), job, Options{PrimaryModel: "vision-a"})
	if out != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", out, OutcomeCompleted)
	}
	if renderedPage != 2 || renderedDPI != extractDPI {
		t.Errorf("rendered page %d at %d dpi, want 2 at %d", renderedPage, renderedDPI, extractDPI)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d extraction calls, want 1", len(reqs))
	}
	if reqs[0].MimeType != "image/png" {
		t.Errorf("mime = %q, want image/png", reqs[0].MimeType)
	}
	if !bytes.Equal(reqs[0].Image, []byte("rendered-page-bytes")) {
		t.Error("extraction did not receive the rendered page bytes")
	}
}

func TestProcessRejectsOutOfRangePage(t *testing.T) {
	mock := &extract.MockClient{}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.pdf")

	seven := 7
	if err := env.store.UpdateJob(context.Background(), job.ID, store.JobUpdate{SelectedPage: &seven}); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	job = env.reload(t, job.ID)

	env.runner.openDoc = func(string) (pageselect.Document, error) {
		return fakeDoc{pages: 4}, nil
	}

	out := env.runner.Process(context.Background(), job, Options{PrimaryModel: "vision-a"})
	if out != OutcomeError {
		t.Fatalf("outcome = %q, want %q", out, OutcomeError)
	}
	got := env.reload(t, job.ID)
	if !strings.Contains(got.LastError, "outside document") {
		t.Errorf("LastError = %q, want an out-of-range message", got.LastError)
	}
}

func TestProcessMovesFileUnderCollisionSafeName(t *testing.T) {
	mock := &extract.MockClient{Rows: rankedRows("Disco Top 3", 1, 2, 3)}
	env := newTestEnv(t, mock)
	job := env.seedJob(t, "billboard 1979-11-17.png")

	// A previous job already filed a document under the same name.
	writeFixture(t, env.home.CompletedPath("billboard 1979-11-17.png"))

	out := env.runner.Process(context.Background(), job, Options{PrimaryModel: "vision-a"})
	if out != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", out, OutcomeCompleted)
	}

	got := env.reload(t, job.ID)
	if got.Filename == "billboard 1979-11-17.png" {
		t.Fatal("filename should have been de-collided")
	}
	if !strings.HasPrefix(got.Filename, "billboard 1979-11-17-") ||
		!strings.HasSuffix(got.Filename, ".png") {
		t.Errorf("Filename = %q, want suffixed variant of the original", got.Filename)
	}
	if _, err := os.Stat(env.home.CompletedPath(got.Filename)); err != nil {
		t.Errorf("filed document missing: %v", err)
	}
}
