package outlier

import (
	"strconv"
	"strings"
	"time"
)

// Layouts tried for free-form publish timestamps, in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	time.RFC1123,
	time.RFC822,
	"Jan 2, 2006",
	"02 Jan 2006",
}

// parsePublishTime understands the timestamp shapes the scrape adapters
// emit: integer/float epoch seconds, an 8-digit compact date, or a general
// date string. ok is false when nothing parses.
func parsePublishTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	// Epoch seconds, possibly fractional.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		// Compact dates are digits too; an 8-digit run that looks like a
		// plausible YYYYMMDD is treated as one.
		compact := strings.NewReplacer("/", "", "-", "", ".", "").Replace(s)
		if len(compact) == 8 && isDigits(compact) {
			if t, err := time.ParseInLocation("20060102", compact, time.Local); err == nil {
				return t, true
			}
		}
		if f > 0 {
			sec := int64(f)
			nsec := int64((f - float64(sec)) * 1e9)
			return time.Unix(sec, nsec), true
		}
		return time.Time{}, false
	}

	// Compact date with separators, e.g. 2024-06-01 or 2024/06/01.
	compact := strings.NewReplacer("/", "", "-", "", ".", "").Replace(s)
	if len(compact) == 8 && isDigits(compact) {
		if t, err := time.ParseInLocation("20060102", compact, time.Local); err == nil {
			return t, true
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// withinWindow reports whether the publish time falls inside the recency
// window. Unparseable timestamps pass: an item is never rejected solely
// because its date could not be read.
func withinWindow(raw string, now time.Time, days int) bool {
	t, ok := parsePublishTime(raw)
	if !ok {
		return true
	}
	return now.Sub(t) <= time.Duration(days)*24*time.Hour
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
