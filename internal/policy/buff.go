package policy

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for ISO-8601 timestamps. Fractional seconds are accepted
// after the seconds field by time.Parse even when the layout omits them.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z07",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z07",
	"2006-01-02T15:04Z07:00",
}

// Layouts without a zone; the instant is taken as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 string. A trailing "Z" means UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsActive reports whether a buff with the given expiry marker is still running
// at now. Anything it cannot interpret counts as inactive.
func IsActive(marker any, now time.Time) bool {
	nowMs := float64(now.UnixNano()) / float64(time.Millisecond)
	switch v := marker.(type) {
	case nil:
		return false
	case float64:
		return v > nowMs
	case float32:
		return float64(v) > nowMs
	case int:
		return float64(v) > nowMs
	case int64:
		return float64(v) > nowMs
	case json.Number:
		ms, err := v.Float64()
		if err != nil {
			return false
		}
		return ms > nowMs
	case string:
		if v == "" {
			return false
		}
		if isDigits(v) {
			ms, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return false
			}
			return ms > nowMs
		}
		expiry, ok := ParseTimestamp(v)
		return ok && expiry.After(now)
	default:
		return false
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
