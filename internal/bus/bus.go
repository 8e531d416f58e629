// Package bus is the at-most-once, best-effort event channel between the
// occupation coordinator and its observers. Delivery order is only loosely
// preserved; consumers treat the audit log, not the live stream, as
// authoritative.
package bus

import (
	"context"
	"time"
)

// EventType enumerates the published event kinds.
type EventType string

const (
	EventTake             EventType = "TAKE"
	EventPause            EventType = "PAUSE"
	EventFinish           EventType = "FINISH"
	EventStateChange      EventType = "STATE_CHANGE"
	EventInspectionResult EventType = "INSPECTION_RESULT"
	EventRepairStarted    EventType = "REPAIR_STARTED"
	EventRepairCompleted  EventType = "REPAIR_COMPLETED"
	EventRepairBlocked    EventType = "REPAIR_BLOCKED"
)

// Event is the payload pushed to observers on every state change.
type Event struct {
	Type        EventType `json:"event_type"`
	UnitID      string    `json:"unit_id"`
	Worker      string    `json:"worker,omitempty"`
	StateDetail string    `json:"state_detail,omitempty"`
	At          time.Time `json:"timestamp"`
}

// Subscription is one observer attachment. Close detaches; the channel is
// closed afterwards.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Bus publishes events to all current subscribers. Publish failures are the
// caller's to log and swallow; they must never abort a primary transition.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context) (Subscription, error)
	Close() error
}
