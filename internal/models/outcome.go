package models

import "fmt"

// Stage names the downstream call an event was dropped at.
type Stage string

const (
	StageClassify Stage = "classify"
	StagePersist  Stage = "persist"
)

// OutcomeStatus is the delivery result for one consumed event.
type OutcomeStatus string

const (
	OutcomeDelivered OutcomeStatus = "delivered"
	OutcomeDropped   OutcomeStatus = "dropped"
)

// Outcome records what happened to a consumed event. Delivery is at-most-once:
// a dropped event is never retried.
type Outcome struct {
	EventID        string
	Status         OutcomeStatus
	Stage          Stage
	Reason         error
	Classification string
}

// Delivered reports that both stages succeeded for the event.
func Delivered(eventID, classification string) Outcome {
	return Outcome{EventID: eventID, Status: OutcomeDelivered, Classification: classification}
}

// Dropped reports that the event was lost at stage because of reason.
func Dropped(eventID string, stage Stage, reason error) Outcome {
	return Outcome{EventID: eventID, Status: OutcomeDropped, Stage: stage, Reason: reason}
}

func (o Outcome) String() string {
	if o.Status == OutcomeDropped {
		return fmt.Sprintf("%s dropped at %s: %v", o.EventID, o.Stage, o.Reason)
	}
	return fmt.Sprintf("%s delivered", o.EventID)
}
