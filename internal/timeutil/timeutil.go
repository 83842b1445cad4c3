package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Layouts accepted from cluster documents, snapshot metadata and the
// checkpoint file. Offset-less forms are taken as UTC.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Parse converts an ISO-8601 timestamp string into a UTC time.Time.
// All arithmetic downstream assumes UTC, so normalization happens here
// and nowhere else.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// FromMillis converts an epoch-milliseconds value (the cluster's
// start_time_in_millis representation) into a UTC time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Format renders a timestamp the way it is persisted and the way it is
// embedded into executor range queries.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
