// Package extract calls a vision-language model to turn a scanned chart
// page into structured rows. The model is an untrusted collaborator:
// every response is schema-validated, normalized, and stripped of rows
// that are missing required fields before anything downstream sees it.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chartdesk/chartdesk/internal/chart"
)

// Mode selects the instruction set for an extraction call.
type Mode string

const (
	// ModeFull asks for every row on the page.
	ModeFull Mode = "full"
	// ModeTargeted asks only for rows filling specific rank gaps.
	ModeTargeted Mode = "targeted"
)

// ErrNoRows is returned when the model responds with a valid but empty
// row list.
var ErrNoRows = errors.New("extraction returned no rows")

// Request describes one extraction call.
type Request struct {
	// Image is the raw page image. MimeType must be one of the
	// supported raster types (image/png, image/jpeg).
	Image    []byte
	MimeType string

	// Model is the OpenRouter model identifier serving the call.
	Model string

	Mode Mode

	// Missing drives the targeted instruction set; required when Mode
	// is ModeTargeted.
	Missing []chart.MissingGroup

	// EntryDate is the chart week ("YYYY-MM-DD"), given to the model as
	// context only.
	EntryDate string
}

// Validate checks the request is complete enough to send.
func (r *Request) Validate() error {
	if r == nil {
		return errors.New("request is nil")
	}
	if len(r.Image) == 0 {
		return errors.New("image is empty")
	}
	if r.MimeType == "" {
		return errors.New("mime type is required")
	}
	if r.Model == "" {
		return errors.New("model is required")
	}
	switch r.Mode {
	case ModeFull:
	case ModeTargeted:
		if len(r.Missing) == 0 {
			return errors.New("targeted mode requires missing groups")
		}
	default:
		return fmt.Errorf("unknown extraction mode %q", r.Mode)
	}
	return nil
}

// Result carries the normalized outcome of one extraction call.
type Result struct {
	// Rows are the normalized, validated rows. Rows the model returned
	// without a chart title, song title, or artist are not included.
	Rows []chart.Row

	// Dropped counts raw rows discarded during normalization.
	Dropped int

	// Model is the model that actually served the call, which may
	// differ from the requested one when the provider routes.
	Model string

	// RawJSON is the validated response payload, kept for run audits.
	RawJSON json.RawMessage

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the vision extraction boundary.
type Client interface {
	// Extract sends one page image to the model and returns normalized
	// rows. Implementations must honor ctx cancellation.
	Extract(ctx context.Context, req *Request) (*Result, error)

	// Name returns the client identifier.
	Name() string
}
