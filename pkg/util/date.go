package util

import (
	"strconv"
	"time"
)

// timeLayouts are tried in order for human-entered timestamps.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02"}

// ParseTime accepts RFC3339 timestamps, bare dates, and unix seconds.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses s or returns def when s is empty or unreadable.
func ParseTimeDefault(s string, def time.Time) time.Time {
	t, ok := ParseTime(s)
	if !ok {
		return def
	}
	return t
}

// AlignFromTo truncates both ends of a window to step boundaries. A step of
// zero or less aligns to whole minutes.
func AlignFromTo(from, to time.Time, step time.Duration) (time.Time, time.Time) {
	if step <= 0 {
		step = time.Minute
	}
	return from.Truncate(step), to.Truncate(step)
}
