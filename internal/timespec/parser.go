// Package timespec parses the --since and --until flags of the council CLI.
package timespec

import (
	"fmt"
	"strings"
	"time"
)

// Window is a closed time range in Unix milliseconds. A zero bound is open.
type Window struct {
	SinceMs int64
	UntilMs int64
}

// Contains reports whether ms falls inside the window.
func (w Window) Contains(ms int64) bool {
	if w.SinceMs > 0 && ms < w.SinceMs {
		return false
	}
	if w.UntilMs > 0 && ms > w.UntilMs {
		return false
	}
	return true
}

// IsOpen reports whether neither bound is set.
func (w Window) IsOpen() bool {
	return w.SinceMs == 0 && w.UntilMs == 0
}

// Parse turns a time specification into Unix milliseconds relative to now.
// Accepted forms:
//   - "now"
//   - Go durations, meaning that long ago: "90s", "15m", "1h30m"
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//   - calendar dates, midnight UTC: "2025-10-29"
func Parse(spec string, now time.Time) (int64, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}
	if strings.EqualFold(spec, "now") {
		return now.UnixMilli(), nil
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.Parse(time.DateOnly, spec); err == nil {
		return t.UnixMilli(), nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("invalid time specification: %s (durations count back from now and cannot be negative)", spec)
		}
		return now.Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m', a date like '2025-10-29' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// ParseWindow parses both flags. Empty flags leave their bound open.
func ParseWindow(since, until string, now time.Time) (Window, error) {
	var w Window
	var err error

	if since != "" {
		if w.SinceMs, err = Parse(since, now); err != nil {
			return Window{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if w.UntilMs, err = Parse(until, now); err != nil {
			return Window{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if w.SinceMs > 0 && w.UntilMs > 0 && w.SinceMs >= w.UntilMs {
		return Window{}, fmt.Errorf("--since must be before --until")
	}
	return w, nil
}
