package ingest

import (
	"strings"
	"time"
)

// timestampLayouts are tried in order. Fractional seconds are accepted after
// the seconds field even when a layout does not spell them out.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"01/02/2006 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"15:04:05",
}

// ParseTimestamp parses a raw timestamp cell. ok is false for anything that
// does not match a known layout; such rows are dropped by the loader.
func ParseTimestamp(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
