package database

import (
	"fmt"
	"time"
)

// TimeLayout is the TEXT encoding used for every timestamp column.
// It is fixed-width UTC with nanoseconds so lexical order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime encodes t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a stored timestamp. RFC 3339 values written by
// hand or by older tooling are accepted too.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
