package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chartdesk/chartdesk/internal/api"
	"github.com/chartdesk/chartdesk/internal/store"
	"github.com/chartdesk/chartdesk/internal/svcctx"
)

// ConfirmPageRequest selects the page to extract from a multi-page document.
type ConfirmPageRequest struct {
	Page int `json:"page"`
}

// ConfirmPageEndpoint handles POST /api/jobs/{id}/page.
type ConfirmPageEndpoint struct{}

var _ api.Endpoint = (*ConfirmPageEndpoint)(nil)

func (e *ConfirmPageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/page", e.handler
}

func (e *ConfirmPageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Confirm the chart page
//	@Description	Set the page to extract and requeue the job. Used to resume jobs awaiting review, or to re-extract with a different page.
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Job ID"
//	@Param			body	body		ConfirmPageRequest	true	"1-based page number"
//	@Success		200		{object}	JobResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/jobs/{id}/page [post]
func (e *ConfirmPageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	sched := svcctx.SchedulerFrom(r.Context())
	if st == nil || sched == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	var req ConfirmPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Page < 1 {
		writeError(w, http.StatusBadRequest, "page must be 1 or greater")
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
	if job.Status == store.StatusProcessing || job.Status == store.StatusDeleted {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("job %s is %s and cannot take a page confirmation", id, job.Status))
		return
	}
	if job.PageCount != nil && req.Page > *job.PageCount {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("page %d outside document (1-%d)", req.Page, *job.PageCount))
		return
	}

	page := req.Page
	if err := st.UpdateJob(r.Context(), id, store.JobUpdate{SelectedPage: &page}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := st.RequeueJob(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	sched.Kick()

	job, err = st.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: job})
}

func (e *ConfirmPageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <id> <page>",
		Short: "Confirm the chart page and requeue the job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("page must be a number: %w", err)
			}
			client := api.NewClient(getServerURL())
			var resp JobResponse
			path := "/api/jobs/" + args[0] + "/page"
			if err := client.Post(cmd.Context(), path, ConfirmPageRequest{Page: page}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
