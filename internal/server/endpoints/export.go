package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/chartdesk/chartdesk/internal/api"
	"github.com/chartdesk/chartdesk/internal/export"
	"github.com/chartdesk/chartdesk/internal/svcctx"
)

// ExportResponse carries the summaries of a completed export pass.
type ExportResponse struct {
	CSV  *export.Summary `json:"csv"`
	XLSX *export.Summary `json:"xlsx"`
}

// RunExportEndpoint handles POST /api/export.
type RunExportEndpoint struct{}

var _ api.Endpoint = (*RunExportEndpoint)(nil)

func (e *RunExportEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/export", e.handler
}

func (e *RunExportEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Regenerate exports
//	@Description	Rewrite the CSV and XLSX exports from the current active rows and return their summaries
//	@Tags			export
//	@Produce		json
//	@Success		200	{object}	ExportResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/export [post]
func (e *RunExportEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	exp := svcctx.ExporterFrom(r.Context())
	if exp == nil {
		writeError(w, http.StatusServiceUnavailable, "exporter not initialized")
		return
	}

	csvSummary, err := exp.WriteCSV(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	xlsxSummary, err := exp.WriteXLSX(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ExportResponse{CSV: csvSummary, XLSX: xlsxSummary})
}

func (e *RunExportEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Regenerate the CSV and XLSX exports now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ExportResponse
			if err := client.Post(cmd.Context(), "/api/export", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DownloadCSVEndpoint handles GET /api/export/csv.
type DownloadCSVEndpoint struct{}

var _ api.Endpoint = (*DownloadCSVEndpoint)(nil)

func (e *DownloadCSVEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/export/csv", e.handler
}

func (e *DownloadCSVEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Download the CSV export
//	@Tags			export
//	@Produce		text/csv
//	@Success		200	{file}		file
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/export/csv [get]
func (e *DownloadCSVEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	exp := svcctx.ExporterFrom(r.Context())
	if exp == nil {
		writeError(w, http.StatusServiceUnavailable, "exporter not initialized")
		return
	}
	path := exp.CSVPath()
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "no export generated yet")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="charts.csv"`)
	http.ServeFile(w, r, path)
}

func (e *DownloadCSVEndpoint) Command(getServerURL func() string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Download the CSV export",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			data, err := client.GetRaw(cmd.Context(), "/api/export/csv")
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "charts.csv", "Output file path")
	return cmd
}

// DownloadXLSXEndpoint handles GET /api/export/xlsx.
type DownloadXLSXEndpoint struct{}

var _ api.Endpoint = (*DownloadXLSXEndpoint)(nil)

func (e *DownloadXLSXEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/export/xlsx", e.handler
}

func (e *DownloadXLSXEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Download the XLSX export
//	@Tags			export
//	@Produce		application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
//	@Success		200	{file}		file
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/export/xlsx [get]
func (e *DownloadXLSXEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	exp := svcctx.ExporterFrom(r.Context())
	if exp == nil {
		writeError(w, http.StatusServiceUnavailable, "exporter not initialized")
		return
	}
	path := exp.XLSXPath()
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "no export generated yet")
		return
	}
	w.Header().Set("Content-Type",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="charts.xlsx"`)
	http.ServeFile(w, r, path)
}

func (e *DownloadXLSXEndpoint) Command(getServerURL func() string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "xlsx",
		Short: "Download the XLSX export",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			data, err := client.GetRaw(cmd.Context(), "/api/export/xlsx")
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "charts.xlsx", "Output file path")
	return cmd
}
