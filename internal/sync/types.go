package sync

import (
	"time"
)

// Outcome is the conflict resolver's verdict for one local/remote pair.
type Outcome string

const (
	OutcomeUseRemote Outcome = "use_remote"
	OutcomeUseLocal  Outcome = "use_local"
	OutcomeEscalate  Outcome = "escalate"
)

// Decision carries the resolver's verdict plus a human-readable reason for
// logs and conflict records.
type Decision struct {
	Outcome        Outcome
	Reason         string
	PriorityResync bool // UseLocal verdicts that should jump the push queue
}

// SyncResult summarizes one orchestrator cycle.
type SyncResult struct {
	Success        bool
	TasksPulled    int
	TasksMerged    int
	TasksDeleted   int
	TasksKept      int
	OpsPushed      int
	OpsFailed      int
	AuditsPushed   int
	ConflictsFound int
	Errors         []error
	Duration       time.Duration
	Timestamp      time.Time
}

// EventType labels a notification published to UI collaborators.
type EventType string

const (
	EventOnlineStatus  EventType = "online_status"
	EventCycleComplete EventType = "cycle_complete"
	EventPendingCount  EventType = "pending_count"
	EventConflict      EventType = "conflict"
)

// Event is one notification published by the engine. Collaborators subscribe
// through an EventSink instead of binding to any UI framework.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventSink receives engine notifications. The websocket hub implements this.
type EventSink interface {
	Publish(event Event)
}

// nopSink drops events when no sink is wired.
type nopSink struct{}

func (nopSink) Publish(Event) {}
