package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseEventTime decodes a timestamp that may be encoded as epoch milliseconds,
// fractional epoch seconds, or an RFC3339 string.
func ParseEventTime(raw json.RawMessage) (time.Time, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("parse time: %w", err)
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromNumber(n), nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time: %w", err)
		}
		return t, nil
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return fromNumber(n), nil
}

// UnixMillis renders t as epoch milliseconds.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// Values below 1e11 cannot be millisecond timestamps after 1973, so they are
// treated as (possibly fractional) seconds.
func fromNumber(n float64) time.Time {
	if math.Abs(n) < 1e11 {
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return time.UnixMilli(int64(n)).UTC()
}
