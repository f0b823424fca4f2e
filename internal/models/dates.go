package models

import (
	"fmt"
	"strings"
	"time"
)

// AFIPDateLayout is the compact date format used by WSFEv1 (YYYYMMDD)
const AFIPDateLayout = "20060102"

// ISODateLayout is the date format accepted on the command line
const ISODateLayout = "2006-01-02"

// ParseAFIPDate parses a YYYYMMDD date. Empty input yields nil.
func ParseAFIPDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "NULL" {
		return nil, nil
	}
	t, err := time.ParseInLocation(AFIPDateLayout, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid AFIP date %q: %w", s, err)
	}
	return &t, nil
}

// FormatAFIPDate renders a date as YYYYMMDD, or "" for nil
func FormatAFIPDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(AFIPDateLayout)
}

// ParseISODate parses a YYYY-MM-DD date at UTC midnight
func ParseISODate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(ISODateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

// DateOnly truncates t to its calendar date at UTC midnight
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
