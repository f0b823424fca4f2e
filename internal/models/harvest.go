package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Harvest defaults
const (
	DefaultMaxConsecutiveMisses = 80
	DefaultRequestPacing        = 40 * time.Millisecond
	DefaultWorkers              = 1
)

// HarvestConfig scopes a single harvest run. It is immutable once the run starts.
type HarvestConfig struct {
	DateFrom             time.Time     `json:"date_from"`
	DateTo               time.Time     `json:"date_to"`
	IncludeTypes         []int         `json:"include_types,omitempty"`
	ExcludeTypes         []int         `json:"exclude_types,omitempty"`
	MaxConsecutiveMisses int           `json:"max_consecutive_misses"`
	RequestPacing        time.Duration `json:"request_pacing"`

	// Workers bounds how many (sale point, voucher type) branches are walked
	// concurrently. One reproduces the sequential walk.
	Workers int `json:"workers"`

	// TransportErrorsAsMisses counts failed voucher lookups toward the
	// consecutive-miss cutoff.
	TransportErrorsAsMisses bool `json:"transport_errors_as_misses"`

	// SkipInactiveSalePoints drops blocked or decommissioned sale points.
	SkipInactiveSalePoints bool `json:"skip_inactive_sale_points"`
}

// NewHarvestConfig returns a config for [from, to] with default limits
func NewHarvestConfig(from, to time.Time) HarvestConfig {
	return HarvestConfig{
		DateFrom:                DateOnly(from),
		DateTo:                  DateOnly(to),
		MaxConsecutiveMisses:    DefaultMaxConsecutiveMisses,
		RequestPacing:           DefaultRequestPacing,
		Workers:                 DefaultWorkers,
		TransportErrorsAsMisses: true,
	}
}

// Validate checks the config invariants
func (c HarvestConfig) Validate() error {
	if c.DateFrom.IsZero() || c.DateTo.IsZero() {
		return errors.New("date range is required")
	}
	if DateOnly(c.DateFrom).After(DateOnly(c.DateTo)) {
		return fmt.Errorf("date_from %s is after date_to %s",
			c.DateFrom.Format(ISODateLayout), c.DateTo.Format(ISODateLayout))
	}
	if c.MaxConsecutiveMisses < 1 {
		return fmt.Errorf("max_consecutive_misses must be at least 1, got %d", c.MaxConsecutiveMisses)
	}
	if c.RequestPacing < 0 {
		return fmt.Errorf("request_pacing must not be negative, got %s", c.RequestPacing)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}

// InRange reports whether d falls within [DateFrom, DateTo], both ends inclusive
func (c HarvestConfig) InRange(d time.Time) bool {
	day := DateOnly(d)
	return !day.Before(DateOnly(c.DateFrom)) && !day.After(DateOnly(c.DateTo))
}

// BeforeRange reports whether d is strictly earlier than DateFrom
func (c HarvestConfig) BeforeRange(d time.Time) bool {
	return DateOnly(d).Before(DateOnly(c.DateFrom))
}

// EffectiveTypes filters the remote voucher types by the include/exclude
// lists, keeping the remote order
func (c HarvestConfig) EffectiveTypes(all []VoucherType) []VoucherType {
	out := make([]VoucherType, 0, len(all))
	for _, vt := range all {
		if len(c.IncludeTypes) > 0 && !slices.Contains(c.IncludeTypes, vt.ID) {
			continue
		}
		if slices.Contains(c.ExcludeTypes, vt.ID) {
			continue
		}
		out = append(out, vt)
	}
	return out
}
