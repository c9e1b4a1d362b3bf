package models

import (
	"encoding/json"
	"fmt"
)

// EnrichmentPayload is sent to the classifier: the event plus the window it landed in.
type EnrichmentPayload struct {
	CurrentLog Event   `json:"current_log"`
	RecentLogs []Event `json:"recent_logs"`
}

// NewEnrichmentPayload pairs the current event with a snapshot of the window.
func NewEnrichmentPayload(current Event, window []Event) EnrichmentPayload {
	if window == nil {
		window = []Event{}
	}
	return EnrichmentPayload{CurrentLog: current, RecentLogs: window}
}

// Classifications derived from a boolean isAttack verdict.
const (
	ClassificationAttack = "attack"
	ClassificationBenign = "benign"
)

// ClassifiedEvent is the classifier's verdict. The body is owned by the classifier
// contract and is forwarded to persistence untouched; only the verdict fields are
// decoded locally.
type ClassifiedEvent struct {
	EventID        string
	Raw            json.RawMessage
	Classification string
	AttackType     string
}

// DecodeClassifiedEvent parses a classifier response body. Bodies wrapped in a
// "classifiedLog" envelope are unwrapped first.
func DecodeClassifiedEvent(eventID string, body []byte) (ClassifiedEvent, error) {
	var envelope struct {
		ClassifiedLog json.RawMessage `json:"classifiedLog"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ClassifiedEvent{}, fmt.Errorf("decode classification: %w", err)
	}
	if len(envelope.ClassifiedLog) > 0 && string(envelope.ClassifiedLog) != "null" {
		body = envelope.ClassifiedLog
	}

	var verdict struct {
		Classification string `json:"classification"`
		AttackType     string `json:"attack_type"`
		AttackTypeAlt  string `json:"attackType"`
		IsAttack       *bool  `json:"isAttack"`
	}
	if err := json.Unmarshal(body, &verdict); err != nil {
		return ClassifiedEvent{}, fmt.Errorf("decode classification: %w", err)
	}
	classification := verdict.Classification
	if classification == "" && verdict.IsAttack != nil {
		classification = ClassificationBenign
		if *verdict.IsAttack {
			classification = ClassificationAttack
		}
	}
	attackType := verdict.AttackType
	if attackType == "" {
		attackType = verdict.AttackTypeAlt
	}
	return ClassifiedEvent{
		EventID:        eventID,
		Raw:            append(json.RawMessage(nil), body...),
		Classification: classification,
		AttackType:     attackType,
	}, nil
}

// MarshalJSON emits the classifier's body verbatim.
func (c ClassifiedEvent) MarshalJSON() ([]byte, error) {
	if len(c.Raw) == 0 {
		return []byte("null"), nil
	}
	return c.Raw, nil
}
