package endpoints

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chartdesk/chartdesk/internal/api"
	"github.com/chartdesk/chartdesk/internal/scan"
	"github.com/chartdesk/chartdesk/internal/svcctx"
)

// UploadResponse reports what intake did with each uploaded file.
type UploadResponse struct {
	Results []scan.Result `json:"results"`
}

// UploadEndpoint handles POST /api/upload with multipart file upload.
type UploadEndpoint struct{}

var _ api.Endpoint = (*UploadEndpoint)(nil)

func (e *UploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/upload", e.handler
}

func (e *UploadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload chart documents
//	@Description	Upload page images or PDFs into the inbox. Each file is registered under the one-job-per-document rule: new documents create jobs, re-uploads re-version or park behind a running extraction.
//	@Tags			intake
//	@Accept			mpfd
//	@Produce		json
//	@Param			files	formData	file	true	"Chart page images or PDFs"
//	@Success		200		{object}	UploadResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/upload [post]
func (e *UploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 100 << 20 // 100MB
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	intake := svcctx.IntakeFrom(r.Context())
	if intake == nil {
		writeError(w, http.StatusServiceUnavailable, "intake not initialized")
		return
	}

	var results []scan.Result
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusInternalServerError,
				fmt.Sprintf("failed to open uploaded file %s: %v", fh.Filename, err))
			return
		}
		res, err := intake.Upload(r.Context(), fh.Filename, src)
		src.Close()
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, scan.ErrUnsupportedType) {
				status = http.StatusBadRequest
			}
			writeError(w, status, fmt.Sprintf("%s: %v", fh.Filename, err))
			return
		}
		results = append(results, *res)
	}

	// Wake the worker so fresh queued jobs start promptly.
	if sched := svcctx.SchedulerFrom(r.Context()); sched != nil {
		sched.Kick()
	}

	writeJSON(w, http.StatusOK, UploadResponse{Results: results})
}

func (e *UploadEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <files...>",
		Short: "Upload chart documents to the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				part, err := mw.CreateFormFile("files", filepath.Base(path))
				if err != nil {
					f.Close()
					return err
				}
				if _, err := io.Copy(part, f); err != nil {
					f.Close()
					return err
				}
				f.Close()
			}
			if err := mw.Close(); err != nil {
				return err
			}

			client := api.NewClient(getServerURL())
			var resp UploadResponse
			if err := client.PostMultipart(cmd.Context(), "/api/upload",
				mw.FormDataContentType(), &buf, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
