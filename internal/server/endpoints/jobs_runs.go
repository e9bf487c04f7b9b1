package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/chartdesk/chartdesk/internal/api"
	"github.com/chartdesk/chartdesk/internal/store"
	"github.com/chartdesk/chartdesk/internal/svcctx"
)

// RunsResponse lists a job's extraction runs, newest first.
type RunsResponse struct {
	Runs []store.Run `json:"runs"`
}

// JobRunsEndpoint handles GET /api/jobs/{id}/runs.
type JobRunsEndpoint struct{}

var _ api.Endpoint = (*JobRunsEndpoint)(nil)

func (e *JobRunsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/runs", e.handler
}

func (e *JobRunsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List a job's runs
//	@Description	Every extraction attempt recorded for the job, newest first
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	RunsResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/runs [get]
func (e *JobRunsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	id := r.PathValue("id")
	if _, err := st.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	runs, err := st.RunsForJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

func (e *JobRunsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "runs <id>",
		Short: "List a job's extraction runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RunsResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/runs", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RunRowsResponse returns the rows one run extracted.
type RunRowsResponse struct {
	Run  *store.Run      `json:"run"`
	Rows []store.ChartRow `json:"rows"`
}

// RunRowsEndpoint handles GET /api/runs/{id}/rows.
type RunRowsEndpoint struct{}

var _ api.Endpoint = (*RunRowsEndpoint)(nil)

func (e *RunRowsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/runs/{id}/rows", e.handler
}

func (e *RunRowsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a run's rows
//	@Description	The chart rows one extraction run produced, in insertion order
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Run ID"
//	@Success		200	{object}	RunRowsResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/runs/{id}/rows [get]
func (e *RunRowsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	id := r.PathValue("id")
	run, err := st.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	rows, err := st.RowsForRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RunRowsResponse{Run: run, Rows: rows})
}

func (e *RunRowsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "rows <run-id>",
		Short: "Get the rows one extraction run produced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RunRowsResponse
			if err := client.Get(cmd.Context(), "/api/runs/"+args[0]+"/rows", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
