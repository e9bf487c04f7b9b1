package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chartdesk/chartdesk/internal/chart"
	"github.com/chartdesk/chartdesk/internal/extract"
	"github.com/chartdesk/chartdesk/internal/server/endpoints"
	"github.com/chartdesk/chartdesk/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubExtractClient answers every extraction with the same fixed rows.
type stubExtractClient struct {
	rows []chart.Row
}

func (c *stubExtractClient) Name() string { return "stub" }

func (c *stubExtractClient) Extract(ctx context.Context, req *extract.Request) (*extract.Result, error) {
	raw, _ := json.Marshal(map[string]any{"rows": c.rows})
	return &extract.Result{
		Rows:             c.rows,
		Model:            req.Model,
		RawJSON:          raw,
		PromptTokens:     120,
		CompletionTokens: 80,
		TotalTokens:      200,
	}, nil
}

func fixedRows(title string, ranks ...int) []chart.Row {
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

func pngFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

// startServer runs a server on a free port and waits until it answers.
func startServer(t *testing.T, client extract.Client) (*Server, string, context.CancelFunc, chan error) {
	t.Helper()

	srv, err := New(Config{
		Port:          "0",
		HomePath:      t.TempDir(),
		ExtractClient: client,
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	serverCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(serverCtx)
	}()

	baseURL, err := waitForServer(srv, 15*time.Second)
	if err != nil {
		cancel()
		t.Fatalf("server did not start: %v", err)
	}
	return srv, baseURL, cancel, errCh
}

// waitForServer polls the server until it responds or timeout.
func waitForServer(srv *Server, timeout time.Duration) (string, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		baseURL := "http://" + srv.Addr()
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return baseURL, nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return "", fmt.Errorf("server not ready after %s", timeout)
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestServer_FullLifecycle(t *testing.T) {
	client := &stubExtractClient{rows: fixedRows("Best Sellers", 1, 2, 3)}
	srv, baseURL, cancel, errCh := startServer(t, client)

	const filename = "Santa Fe Sentinel 1951-06-02.png"
	var jobID string

	t.Run("health_endpoint", func(t *testing.T) {
		var health endpoints.HealthResponse
		if status := getJSON(t, baseURL+"/health", &health); status != http.StatusOK {
			t.Errorf("health status = %d, want %d", status, http.StatusOK)
		}
		if health.Status != "ok" {
			t.Errorf("health.Status = %q, want %q", health.Status, "ok")
		}
	})

	t.Run("ready_endpoint", func(t *testing.T) {
		var health endpoints.HealthResponse
		if status := getJSON(t, baseURL+"/ready", &health); status != http.StatusOK {
			t.Errorf("ready status = %d, want %d", status, http.StatusOK)
		}
		if health.Store != "ok" {
			t.Errorf("health.Store = %q, want %q", health.Store, "ok")
		}
	})

	t.Run("status_endpoint", func(t *testing.T) {
		var status endpoints.StatusResponse
		if code := getJSON(t, baseURL+"/status", &status); code != http.StatusOK {
			t.Fatalf("status code = %d, want %d", code, http.StatusOK)
		}
		if status.Server != "running" {
			t.Errorf("status.Server = %q, want %q", status.Server, "running")
		}
		if status.Worker.MaxConcurrent != 2 {
			t.Errorf("MaxConcurrent = %d, want 2 (seeded default)", status.Worker.MaxConcurrent)
		}
	})

	t.Run("upload_and_extract", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("files", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(pngFixture(t)); err != nil {
			t.Fatalf("write part: %v", err)
		}
		mw.Close()

		resp, err := http.Post(baseURL+"/api/upload", mw.FormDataContentType(), &body)
		if err != nil {
			t.Fatalf("POST /api/upload: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("upload status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var upload endpoints.UploadResponse
		if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
			t.Fatalf("decode upload response: %v", err)
		}
		if len(upload.Results) != 1 {
			t.Fatalf("len(Results) = %d, want 1", len(upload.Results))
		}
		job := upload.Results[0].Job
		if job == nil || job.ID == "" {
			t.Fatal("upload did not return a registered job")
		}
		jobID = job.ID

		final := waitForJobStatus(t, baseURL, jobID, store.StatusCompleted)
		if final.EntryDate != "1951-06-02" {
			t.Errorf("EntryDate = %q, want %q", final.EntryDate, "1951-06-02")
		}
		if final.LastRowsAdded != 3 {
			t.Errorf("LastRowsAdded = %d, want 3", final.LastRowsAdded)
		}
		if final.FileLocation != store.FileLocationCompleted {
			t.Errorf("FileLocation = %q, want %q", final.FileLocation, store.FileLocationCompleted)
		}
		if _, err := os.Stat(srv.Home().CompletedPath(filename)); err != nil {
			t.Errorf("completed file missing: %v", err)
		}
		if _, err := os.Stat(srv.Home().InboxPath(filename)); !os.IsNotExist(err) {
			t.Errorf("inbox file still present after completion")
		}
	})

	t.Run("runs_and_rows", func(t *testing.T) {
		if jobID == "" {
			t.Skip("upload subtest failed")
		}
		var jobResp endpoints.JobResponse
		if code := getJSON(t, baseURL+"/api/jobs/"+jobID, &jobResp); code != http.StatusOK {
			t.Fatalf("get job status = %d, want %d", code, http.StatusOK)
		}
		if len(jobResp.Runs) != 1 {
			t.Fatalf("len(Runs) = %d, want 1", len(jobResp.Runs))
		}
		run := jobResp.Runs[0]
		if run.Status != store.RunCompleted {
			t.Errorf("run.Status = %q, want %q", run.Status, store.RunCompleted)
		}

		var rowsResp endpoints.RunRowsResponse
		if code := getJSON(t, baseURL+"/api/runs/"+run.ID+"/rows", &rowsResp); code != http.StatusOK {
			t.Fatalf("get rows status = %d, want %d", code, http.StatusOK)
		}
		if len(rowsResp.Rows) != 3 {
			t.Errorf("len(Rows) = %d, want 3", len(rowsResp.Rows))
		}
	})

	t.Run("export_artifacts", func(t *testing.T) {
		// Completion queues an export pass; poll until the file lands.
		deadline := time.Now().Add(5 * time.Second)
		for {
			if code := getJSON(t, baseURL+"/api/export/csv", nil); code == http.StatusOK {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("CSV export never became downloadable")
			}
			time.Sleep(50 * time.Millisecond)
		}

		resp, err := http.Get(baseURL + "/api/export/csv")
		if err != nil {
			t.Fatalf("GET csv: %v", err)
		}
		defer resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
			t.Errorf("csv Content-Type = %q", ct)
		}
		data, _ := io.ReadAll(resp.Body)
		if !bytes.Contains(data, []byte("Song 1")) {
			t.Errorf("csv export missing extracted rows")
		}

		if code := getJSON(t, baseURL+"/api/export/xlsx", nil); code != http.StatusOK {
			t.Errorf("xlsx status = %d, want %d", code, http.StatusOK)
		}
	})

	t.Run("settings_roundtrip", func(t *testing.T) {
		body := strings.NewReader(`{"value": 5}`)
		req, err := http.NewRequest(http.MethodPut, baseURL+"/api/settings/worker.max_concurrent", body)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PUT setting: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("PUT status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var setting endpoints.SettingResponse
		if code := getJSON(t, baseURL+"/api/settings/worker.max_concurrent", &setting); code != http.StatusOK {
			t.Fatalf("GET setting status = %d", code)
		}
		if got, want := fmt.Sprint(setting.Entry.Value), "5"; got != want {
			t.Errorf("value after update = %s, want %s", got, want)
		}

		reset, err := http.Post(baseURL+"/api/settings/reset/worker.max_concurrent", "application/json", nil)
		if err != nil {
			t.Fatalf("POST reset: %v", err)
		}
		reset.Body.Close()
		if reset.StatusCode != http.StatusOK {
			t.Fatalf("reset status = %d, want %d", reset.StatusCode, http.StatusOK)
		}
		if code := getJSON(t, baseURL+"/api/settings/worker.max_concurrent", &setting); code != http.StatusOK {
			t.Fatalf("GET setting status = %d", code)
		}
		if got, want := fmt.Sprint(setting.Entry.Value), "2"; got != want {
			t.Errorf("value after reset = %s, want %s", got, want)
		}
	})

	t.Run("unknown_job_is_404", func(t *testing.T) {
		if code := getJSON(t, baseURL+"/api/jobs/no-such-job", nil); code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", code, http.StatusNotFound)
		}
	})

	t.Run("frontend_index", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/")
		if err != nil {
			t.Fatalf("GET /: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
			t.Errorf("Content-Type = %q, want text/html", ct)
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	// Shutdown server
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned error on shutdown: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
	})
}

// findJobByFilename polls the jobs API until exactly one job tracks the
// given file, and returns its ID.
func findJobByFilename(t *testing.T, baseURL, filename string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var list endpoints.ListJobsResponse
		if code := getJSON(t, baseURL+"/api/jobs", &list); code == http.StatusOK {
			var ids []string
			for _, j := range list.Jobs {
				if j.Filename == filename {
					ids = append(ids, j.ID)
				}
			}
			if len(ids) > 1 {
				t.Fatalf("%d jobs track %s, want 1", len(ids), filename)
			}
			if len(ids) == 1 {
				return ids[0]
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("no job registered for %s", filename)
	return ""
}

// waitForJobStatus polls the jobs API until the job reaches want.
func waitForJobStatus(t *testing.T, baseURL, jobID string, want store.JobStatus) *store.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	var last store.JobStatus
	for time.Now().Before(deadline) {
		var resp endpoints.JobResponse
		if code := getJSON(t, baseURL+"/api/jobs/"+jobID, &resp); code == http.StatusOK {
			last = resp.Job.Status
			if last == want {
				return resp.Job
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s (stuck at %s)", jobID, want, last)
	return nil
}

func TestServer_DeleteJob(t *testing.T) {
	client := &stubExtractClient{rows: fixedRows("Best Sellers", 1, 2)}
	srv, baseURL, cancel, errCh := startServer(t, client)
	defer func() {
		cancel()
		<-errCh
	}()

	const filename = "Weekly Charts 1952-03-08.png"
	if err := os.WriteFile(srv.Home().InboxPath(filename), pngFixture(t), 0o644); err != nil {
		t.Fatalf("write inbox file: %v", err)
	}
	resp, err := http.Post(baseURL+"/api/scan", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/scan: %v", err)
	}
	defer resp.Body.Close()
	var scanResp endpoints.ScanResponse
	if err := json.NewDecoder(resp.Body).Decode(&scanResp); err != nil {
		t.Fatalf("decode scan response: %v", err)
	}
	// The inbox watcher may have swept the file first; either way the
	// canonical-name dedupe leaves exactly one job for it.
	jobID := findJobByFilename(t, baseURL, filename)

	waitForJobStatus(t, baseURL, jobID, store.StatusCompleted)

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/api/jobs/"+jobID, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE job: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", del.StatusCode, http.StatusOK)
	}

	var jobResp endpoints.JobResponse
	if code := getJSON(t, baseURL+"/api/jobs/"+jobID, &jobResp); code != http.StatusOK {
		t.Fatalf("get job after delete status = %d", code)
	}
	if jobResp.Job.Status != store.StatusDeleted {
		t.Errorf("status after delete = %q, want %q", jobResp.Job.Status, store.StatusDeleted)
	}
	if _, err := os.Stat(srv.Home().CompletedPath(filename)); !os.IsNotExist(err) {
		t.Errorf("completed file still present after delete")
	}

	// Deleted jobs disappear from the default listing.
	var list endpoints.ListJobsResponse
	if code := getJSON(t, baseURL+"/api/jobs", &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	for _, j := range list.Jobs {
		if j.ID == jobID {
			t.Errorf("deleted job still listed by default")
		}
	}
	if code := getJSON(t, baseURL+"/api/jobs?include_deleted=true", &list); code != http.StatusOK {
		t.Fatalf("list include_deleted status = %d", code)
	}
	found := false
	for _, j := range list.Jobs {
		if j.ID == jobID {
			found = true
		}
	}
	if !found {
		t.Errorf("deleted job missing from include_deleted listing")
	}
}

func TestServer_DoubleStart(t *testing.T) {
	client := &stubExtractClient{rows: fixedRows("Best Sellers", 1)}
	srv, _, cancel, errCh := startServer(t, client)
	defer func() {
		cancel()
		<-errCh
	}()

	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should return error")
	}
}
