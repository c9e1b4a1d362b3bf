package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/honeypulse/honeypulse/internal/utils"
)

// Event is a single honeypot/log record flowing through the pipeline. Fields
// other than the named ones are carried verbatim in Attributes.
type Event struct {
	ID         string
	SourceIP   string
	Country    string
	Timestamp  time.Time
	Attributes map[string]json.RawMessage
}

var reservedEventKeys = map[string]struct{}{
	"id":        {},
	"src_ip":    {},
	"country":   {},
	"timestamp": {},
}

// WithTimestamp returns a copy of e stamped with t.
func (e Event) WithTimestamp(t time.Time) Event {
	out := e.clone()
	out.Timestamp = t
	return out
}

// WithID returns a copy of e carrying id.
func (e Event) WithID(id string) Event {
	out := e.clone()
	out.ID = id
	return out
}

// Attribute decodes the named attribute into a string, reporting whether it was present.
func (e Event) Attribute(key string) (string, bool) {
	raw, ok := e.Attributes[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw), true
	}
	return s, true
}

func (e Event) clone() Event {
	out := e
	out.Attributes = maps.Clone(e.Attributes)
	return out
}

// MarshalJSON flattens attributes next to the named fields; timestamps are epoch milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(e.Attributes)+4)
	for k, v := range e.Attributes {
		if _, reserved := reservedEventKeys[k]; reserved {
			continue
		}
		doc[k] = v
	}
	if e.ID != "" {
		doc["id"] = e.ID
	}
	doc["src_ip"] = e.SourceIP
	if e.Country != "" {
		doc["country"] = e.Country
	}
	doc["timestamp"] = utils.UnixMillis(e.Timestamp)
	return json.Marshal(doc)
}

// UnmarshalJSON accepts the flattened representation produced by MarshalJSON and the
// raw honeypot dataset rows (RFC3339 or epoch timestamps).
func (e *Event) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("event must be a JSON object")
	}

	var out Event
	if raw, ok := doc["id"]; ok {
		if err := json.Unmarshal(raw, &out.ID); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
	}
	if raw, ok := doc["src_ip"]; ok {
		if err := json.Unmarshal(raw, &out.SourceIP); err != nil {
			return fmt.Errorf("decode src_ip: %w", err)
		}
	}
	if raw, ok := doc["country"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &out.Country); err != nil {
			return fmt.Errorf("decode country: %w", err)
		}
	}
	if raw, ok := doc["timestamp"]; ok {
		ts, err := utils.ParseEventTime(raw)
		if err != nil {
			return fmt.Errorf("decode timestamp: %w", err)
		}
		out.Timestamp = ts
	}

	for k, v := range doc {
		if _, reserved := reservedEventKeys[k]; reserved {
			continue
		}
		if out.Attributes == nil {
			out.Attributes = make(map[string]json.RawMessage, len(doc))
		}
		out.Attributes[k] = v
	}

	*e = out
	return nil
}
