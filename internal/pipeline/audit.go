package pipeline

import (
	"encoding/json"
	"time"
)

// attemptRecord is one extraction call in a run's audit trail.
type attemptRecord struct {
	Model         string `json:"model"`
	Mode          string `json:"mode"`
	RowsReturned  int    `json:"rows_returned"`
	RowsAdded     int    `json:"rows_added"`
	RowsDropped   int    `json:"rows_dropped,omitempty"`
	RemainingGaps string `json:"remaining_gaps,omitempty"`
	Error         string `json:"error,omitempty"`
	At            string `json:"at"`
}

// auditLog is the raw-result payload stored with each run. It records
// every model call so a degraded or failed run can be explained later.
type auditLog struct {
	Attempts   []attemptRecord `json:"attempts"`
	GapSummary string          `json:"gap_summary,omitempty"`
}

func newAuditLog() *auditLog {
	return &auditLog{}
}

func (a *auditLog) add(rec attemptRecord) {
	if rec.At == "" {
		rec.At = time.Now().UTC().Format(time.RFC3339)
	}
	a.Attempts = append(a.Attempts, rec)
}

// marshal renders the log as JSON. Never fails: the payload is plain
// strings and ints.
func (a *auditLog) marshal() string {
	data, err := json.Marshal(a)
	if err != nil {
		return ""
	}
	return string(data)
}
