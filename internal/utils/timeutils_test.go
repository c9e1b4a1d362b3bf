package utils

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseEventTime(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"millis":        "1714564800000",
		"seconds":       "1714564800",
		"quoted millis": `"1714564800000"`,
		"rfc3339":       `"2024-05-01T12:00:00Z"`,
	}
	for name, raw := range cases {
		got, err := ParseEventTime(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: expected %v, got %v", name, want, got)
		}
	}
}

func TestParseEventTimeRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "null", `"yesterday"`, "{}"} {
		if _, err := ParseEventTime(json.RawMessage(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
