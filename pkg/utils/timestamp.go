package utils

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp decodes the time shapes the backend emits: RFC3339 strings,
// unix milliseconds (number or numeric string) and Firestore-style
// {"_seconds": n, "_nanoseconds": n} objects. Anything else decodes to the
// zero time instead of failing the surrounding payload.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.Time = ParseTimestamp(data)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func ParseTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
		return ParseTimeString(s)
	case '{':
		var fs struct {
			Seconds     *int64 `json:"_seconds"`
			Nanoseconds int64  `json:"_nanoseconds"`
			AltSeconds  *int64 `json:"seconds"`
			AltNanos    int64  `json:"nanos"`
		}
		if err := json.Unmarshal(raw, &fs); err != nil {
			return time.Time{}
		}
		if fs.Seconds != nil {
			return time.Unix(*fs.Seconds, fs.Nanoseconds).UTC()
		}
		if fs.AltSeconds != nil {
			return time.Unix(*fs.AltSeconds, fs.AltNanos).UTC()
		}
		return time.Time{}
	default:
		var ms float64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return time.Time{}
		}
		return time.UnixMilli(int64(ms)).UTC()
	}
}

func ParseTimeString(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
