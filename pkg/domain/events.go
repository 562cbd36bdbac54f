package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStateSynced       EventType = "state_synced"
	EventConflictResolved  EventType = "conflict_resolved"
	EventPresenceChanged   EventType = "presence_changed"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventSessionCreated    EventType = "session_created"
	EventSessionDeleted    EventType = "session_deleted"
)

// Event is pushed to the participants of a session after a committed change.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"sessionId"`
	Timestamp time.Time    `json:"timestamp"`
	Version   int64        `json:"version"`
	Diff      *StateDiff   `json:"diff,omitempty"`
	Conflict  ConflictType `json:"conflictType,omitempty"`

	// Participant is set for presence and membership events.
	Participant *Participant `json:"participant,omitempty"`
}

// SyncEvent describes a committed synchronization or resolution, for hooks.
type SyncEvent struct {
	SessionID       string
	Applied         int
	FromVersion     int64
	ToVersion       int64
	PropagationTime time.Duration
	Conflict        ConflictType // Empty for ordinary synchronization
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnSync     func(context.Context, *SyncEvent)
	OnResolve  func(context.Context, *SyncEvent)
	OnPresence func(context.Context, string, *Participant)
}
