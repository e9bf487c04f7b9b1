package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/chartdesk/chartdesk/internal/api"
	"github.com/chartdesk/chartdesk/internal/store"
	"github.com/chartdesk/chartdesk/internal/svcctx"
)

// RerunJobEndpoint handles POST /api/jobs/{id}/rerun.
type RerunJobEndpoint struct{}

var _ api.Endpoint = (*RerunJobEndpoint)(nil)

func (e *RerunJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/rerun", e.handler
}

func (e *RerunJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Rerun a job
//	@Description	Requeue a finished job for a fresh extraction attempt
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	JobResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/rerun [post]
func (e *RerunJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sched := svcctx.SchedulerFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())
	if sched == nil || st == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	id := r.PathValue("id")
	if err := sched.Rerun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusConflict, err.Error())
		}
		return
	}

	job, err := st.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: job})
}

func (e *RerunJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "rerun <id>",
		Short: "Requeue a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp JobResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/rerun", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CancelJobEndpoint handles POST /api/jobs/{id}/cancel.
type CancelJobEndpoint struct{}

var _ api.Endpoint = (*CancelJobEndpoint)(nil)

func (e *CancelJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/cancel", e.handler
}

func (e *CancelJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Cancel a job
//	@Description	Stop a queued, parked, or running job. Running extractions unwind at their next checkpoint.
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	JobResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/cancel [post]
func (e *CancelJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sched := svcctx.SchedulerFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())
	if sched == nil || st == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	id := r.PathValue("id")
	if err := sched.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusConflict, err.Error())
		}
		return
	}

	job, err := st.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: job})
}

func (e *CancelJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp JobResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DeleteJobEndpoint handles DELETE /api/jobs/{id}.
type DeleteJobEndpoint struct{}

var _ api.Endpoint = (*DeleteJobEndpoint)(nil)

func (e *DeleteJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/jobs/{id}", e.handler
}

func (e *DeleteJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Delete a job
//	@Description	Mark a job deleted and remove its source files. Extracted rows are kept for audit but leave the export.
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	JobResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/jobs/{id} [delete]
func (e *DeleteJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	intake := svcctx.IntakeFrom(r.Context())
	if st == nil || intake == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	id := r.PathValue("id")
	job, err := st.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if job.Status.Busy() {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("job %s is processing; cancel it first", id))
		return
	}
	if job.Status == store.StatusDeleted {
		writeJSON(w, http.StatusOK, JobResponse{Job: job})
		return
	}

	deleted := store.StatusDeleted
	now := time.Now().UTC()
	if err := st.UpdateJob(r.Context(), id, store.JobUpdate{
		Status:     &deleted,
		FinishedAt: &now,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	intake.RemoveJobFiles(job)

	// The deleted job's rows leave the export on the next pass.
	if sched := svcctx.SchedulerFrom(r.Context()); sched != nil {
		sched.RequestExport()
	}

	job, err = st.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: job})
}

func (e *DeleteJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a job and its source files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/jobs/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted job %s\n", args[0])
			return nil
		},
	}
}
