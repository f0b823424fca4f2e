package models

import "time"

// HarvestRun tracks a harvest executed by the daemon
type HarvestRun struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Config      HarvestConfig `json:"config"`
	OutputBase  string        `json:"output_base"`
	WithXLSX    bool          `json:"with_xlsx"`
	RecordCount int           `json:"record_count"`
	QueryCount  int           `json:"query_count"`
	CSVPath     string        `json:"csv_path,omitempty"`
	JSONPath    string        `json:"json_path,omitempty"`
	XLSXPath    string        `json:"xlsx_path,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// Finished reports whether the run reached a terminal status
func (r HarvestRun) Finished() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// Harvest run status constants
const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)
