package harvest

import (
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
)

// StopReason tells why a branch walk ended
type StopReason string

const (
	// StopExhausted means the walk reached number 1
	StopExhausted StopReason = "exhausted"
	// StopMissCutoff means too many consecutive numbers were missing
	StopMissCutoff StopReason = "miss_cutoff"
	// StopDateCutoff means a voucher older than the range was found
	StopDateCutoff StopReason = "date_cutoff"
	// StopEmpty means the branch has no authorized vouchers
	StopEmpty StopReason = "empty"
	// StopError means a remote failure ended the branch early
	StopError StopReason = "error"
	// StopCancelled means the run was cancelled mid-branch
	StopCancelled StopReason = "cancelled"
)

// BranchStats summarizes the walk of one (sale point, voucher type) branch
type BranchStats struct {
	SalePoint      int        `json:"sale_point"`
	VoucherType    int        `json:"voucher_type"`
	LastAuthorized int64      `json:"last_authorized"`
	Queries        int        `json:"queries"`
	Found          int        `json:"found"`
	Recorded       int        `json:"recorded"`
	Misses         int        `json:"misses"`
	Errors         int        `json:"errors"`
	Skipped        int        `json:"skipped"`
	LowestNumber   int64      `json:"lowest_number,omitempty"`
	StopReason     StopReason `json:"stop_reason"`
	Err            string     `json:"error,omitempty"`
}

// Stats aggregates a whole run
type Stats struct {
	SalePoints   int           `json:"sale_points"`
	VoucherTypes int           `json:"voucher_types"`
	Branches     int           `json:"branches"`
	Queries      int           `json:"queries"`
	Records      int           `json:"records"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Result is the outcome of a harvest run. On cancellation it holds the
// branches completed so far.
type Result struct {
	Records  []models.VoucherRecord `json:"records"`
	Branches []BranchStats          `json:"branches"`
	Stats    Stats                  `json:"stats"`
}
