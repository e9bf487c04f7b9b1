package scan

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/chartdesk/chartdesk/internal/home"
	"github.com/chartdesk/chartdesk/internal/store"
)

func newTestIntake(t *testing.T) (*Intake, *store.Store, *home.Dir) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New: %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}

	st, err := store.Open(h.DBPath(), logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return NewIntake(st, h, logger), st, h
}

func writeInboxFile(t *testing.T, h *home.Dir, name string) {
	t.Helper()
	if err := os.WriteFile(h.InboxPath(name), []byte("fake scan"), 0o644); err != nil {
		t.Fatalf("write inbox file: %v", err)
	}
}

func TestUploadCreatesJob(t *testing.T) {
	in, _, h := newTestIntake(t)

	res, err := in.Upload(context.Background(), "Disco 1979-11-17.pdf", strings.NewReader("pdf bytes"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Errorf("Outcome = %q, want created", res.Outcome)
	}
	if res.Job.CanonicalName != "disco 1979-11-17" {
		t.Errorf("CanonicalName = %q", res.Job.CanonicalName)
	}
	if res.Job.EntryDate != "1979-11-17" {
		t.Errorf("EntryDate = %q, want parsed from filename", res.Job.EntryDate)
	}
	if res.Job.Status != store.StatusQueued {
		t.Errorf("Status = %q, want queued", res.Job.Status)
	}

	data, err := os.ReadFile(h.InboxPath("Disco 1979-11-17.pdf"))
	if err != nil {
		t.Fatalf("uploaded file not in inbox: %v", err)
	}
	if string(data) != "pdf bytes" {
		t.Errorf("inbox file content = %q", data)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	in, _, _ := newTestIntake(t)

	if _, err := in.Upload(context.Background(), "notes.txt", strings.NewReader("x")); err == nil {
		t.Error("Upload accepted a .txt file")
	}
	if _, err := in.Upload(context.Background(), "", strings.NewReader("x")); err == nil {
		t.Error("Upload accepted an empty filename")
	}
}

func TestUploadMergesIntoLiveJob(t *testing.T) {
	in, st, _ := newTestIntake(t)
	ctx := context.Background()

	first, err := in.Upload(ctx, "Disco 1979-11-17.pdf", strings.NewReader("v1"))
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}

	// An idle live job is re-versioned in place, not duplicated.
	second, err := in.Upload(ctx, "Disco 1979-11-17 (2).pdf", strings.NewReader("v2"))
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if second.Outcome != OutcomeReplaced {
		t.Errorf("Outcome = %q, want replaced", second.Outcome)
	}
	if second.Job.ID != first.Job.ID {
		t.Error("duplicate upload created a second job for the same canonical name")
	}
	if second.Job.VersionCount != 2 {
		t.Errorf("VersionCount = %d, want 2", second.Job.VersionCount)
	}
	if second.Job.Filename != "Disco 1979-11-17 (2).pdf" {
		t.Errorf("Filename = %q, want the new upload", second.Job.Filename)
	}

	jobs, err := st.ListJobs(ctx, false)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("store holds %d jobs, want 1", len(jobs))
	}
}

func TestUploadWhileProcessingQueuesPending(t *testing.T) {
	in, st, _ := newTestIntake(t)
	ctx := context.Background()

	first, err := in.Upload(ctx, "Disco 1979-11-17.pdf", strings.NewReader("v1"))
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	claimed, err := st.ClaimQueued(ctx, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimQueued: %v (%d)", err, len(claimed))
	}

	second, err := in.Upload(ctx, "Disco 1979-11-17 v2.pdf", strings.NewReader("v2"))
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if second.Outcome != OutcomePending {
		t.Errorf("Outcome = %q, want pending", second.Outcome)
	}
	if second.Job.PendingFilename != "Disco 1979-11-17 v2.pdf" {
		t.Errorf("PendingFilename = %q", second.Job.PendingFilename)
	}
	if second.Job.Filename != first.Job.Filename {
		t.Error("processing job's filename changed under the worker")
	}
	if second.Job.Status != store.StatusProcessing {
		t.Errorf("Status = %q, want still processing", second.Job.Status)
	}
}

func TestScanInbox(t *testing.T) {
	in, _, h := newTestIntake(t)
	ctx := context.Background()

	writeInboxFile(t, h, "Disco 1979-11-17.pdf")
	writeInboxFile(t, h, "Disco 1979-11-24.png")
	writeInboxFile(t, h, "notes.txt")
	writeInboxFile(t, h, ".hidden.pdf")

	results, err := in.ScanInbox(ctx)
	if err != nil {
		t.Fatalf("ScanInbox: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("registered %d files, want 2 (unsupported and hidden skipped)", len(results))
	}
	for _, res := range results {
		if res.Outcome != OutcomeCreated {
			t.Errorf("Outcome = %q, want created", res.Outcome)
		}
	}

	// A second sweep over the same files is a no-op.
	results, err = in.ScanInbox(ctx)
	if err != nil {
		t.Fatalf("second ScanInbox: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("second sweep registered %d files, want 0", len(results))
	}
}

func TestScanInboxLeavesProcessingJobAlone(t *testing.T) {
	in, st, h := newTestIntake(t)
	ctx := context.Background()

	writeInboxFile(t, h, "Disco 1979-11-17.pdf")
	if _, err := in.ScanInbox(ctx); err != nil {
		t.Fatalf("ScanInbox: %v", err)
	}
	claimed, err := st.ClaimQueued(ctx, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimQueued: %v (%d)", err, len(claimed))
	}

	results, err := in.ScanInbox(ctx)
	if err != nil {
		t.Fatalf("ScanInbox: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("sweep touched a processing job's file: %+v", results)
	}

	job, err := st.GetJob(ctx, claimed[0].ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.PendingFilename != "" {
		t.Errorf("sweep set PendingFilename = %q on an unchanged file", job.PendingFilename)
	}
}
