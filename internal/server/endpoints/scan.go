package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/chartdesk/chartdesk/internal/api"
	"github.com/chartdesk/chartdesk/internal/scan"
	"github.com/chartdesk/chartdesk/internal/svcctx"
)

// ScanResponse reports what an inbox sweep registered.
type ScanResponse struct {
	Results []scan.Result `json:"results"`
	Count   int           `json:"count"`
}

// ScanInboxEndpoint handles POST /api/scan.
type ScanInboxEndpoint struct{}

var _ api.Endpoint = (*ScanInboxEndpoint)(nil)

func (e *ScanInboxEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/scan", e.handler
}

func (e *ScanInboxEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Sweep the inbox
//	@Description	Register every supported file in the inbox directory. Files already tracked are left alone.
//	@Tags			intake
//	@Produce		json
//	@Success		200	{object}	ScanResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/scan [post]
func (e *ScanInboxEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	intake := svcctx.IntakeFrom(r.Context())
	if intake == nil {
		writeError(w, http.StatusServiceUnavailable, "intake not initialized")
		return
	}

	results, err := intake.ScanInbox(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if len(results) > 0 {
		if sched := svcctx.SchedulerFrom(r.Context()); sched != nil {
			sched.Kick()
		}
	}

	writeJSON(w, http.StatusOK, ScanResponse{Results: results, Count: len(results)})
}

func (e *ScanInboxEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Sweep the server's inbox directory for new files",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ScanResponse
			if err := client.Post(cmd.Context(), "/api/scan", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
