package parse

import "time"

// ParseUpstreamTime parses the ISO-8601 timestamps the upstream emits,
// with or without a trailing "Z", always returning a UTC instant. An
// empty or unparseable string returns the zero time with ok=false; the
// two cases are not told apart.
func ParseUpstreamTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
