package domain

import (
	"encoding/json"
	"time"
)

// storeTimestamp is the wrapper some document stores use when exporting
// timestamps.
type storeTimestamp struct {
	Seconds     *int64 `json:"seconds"`
	Nanoseconds int64  `json:"nanoseconds"`
	// underscore-prefixed variant produced by server-side SDK exports
	USeconds     *int64 `json:"_seconds"`
	UNanoseconds int64  `json:"_nanoseconds"`
}

// ParseInstant resolves a JSON value to an instant. It accepts RFC 3339
// strings, a bare YYYY-MM-DD date, epoch milliseconds, and
// {"seconds","nanoseconds"} wrappers. ok is false for null, empty or
// unrecognised input.
func ParseInstant(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return parseInstantString(str)
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		if ms <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)).UTC(), true
	}

	var ts storeTimestamp
	if err := json.Unmarshal(raw, &ts); err == nil {
		switch {
		case ts.Seconds != nil:
			return time.Unix(*ts.Seconds, ts.Nanoseconds).UTC(), true
		case ts.USeconds != nil:
			return time.Unix(*ts.USeconds, ts.UNanoseconds).UTC(), true
		}
	}
	return time.Time{}, false
}

func parseInstantString(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
