package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// inClockWindow reports whether t's local clock time falls inside the
// [start, end) window given in minutes since midnight. end < start denotes an
// overnight window that wraps across midnight; end == start matches the whole
// day.
func inClockWindow(t time.Time, start, end int) bool {
	hour, minute, _ := t.Clock()
	now := hour*60 + minute

	if start == end {
		return true
	}
	if start < end {
		return now >= start && now < end
	}
	// overnight wrap, e.g. 22:00-06:00
	return now >= start || now < end
}
