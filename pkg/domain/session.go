package domain

import (
	"sort"
	"time"
)

// SessionStatus tracks the lifecycle of a session.
// Expired and deleted sessions are not represented: they are simply absent from the store.
type SessionStatus string

const (
	StatusCreated SessionStatus = "created" // No participant has joined yet
	StatusActive  SessionStatus = "active"  // At least one join has happened
)

// CollaborationSession is the unit persisted by the session store.
type CollaborationSession struct {
	SessionID    string                  `json:"sessionId"`
	Status       SessionStatus           `json:"status"`
	Participants map[string]*Participant `json:"participants"`
	SharedState  SharedState             `json:"sharedState"`
	CreatedAt    time.Time               `json:"createdAt"`
	LastUpdate   time.Time               `json:"lastUpdate"`
}

// NewSession creates a session in the Created state. The initial state is
// deep-copied and its version forced to InitialVersion.
func NewSession(sessionID string, initial SharedState, now time.Time) *CollaborationSession {
	state := initial.Clone().Normalize()
	state.Version = InitialVersion
	return &CollaborationSession{
		SessionID:    sessionID,
		Status:       StatusCreated,
		Participants: make(map[string]*Participant),
		SharedState:  state,
		CreatedAt:    now,
		LastUpdate:   now,
	}
}

// Snapshot returns a deep copy of the session.
func (s *CollaborationSession) Snapshot() *CollaborationSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.SharedState = s.SharedState.Clone()
	cp.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		cp.Participants[id] = p.Clone()
	}
	return &cp
}

// Expired reports whether the session has been idle for longer than ttl.
// A zero ttl never expires.
func (s *CollaborationSession) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastUpdate) > ttl
}

// ActiveParticipants returns the active participants ordered by join time, then user ID.
func (s *CollaborationSession) ActiveParticipants() []Participant {
	out := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.IsActive {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Participant is a user present in a session.
type Participant struct {
	UserID    string     `json:"userId"`
	Username  string     `json:"username"`
	Cursor    *Cursor    `json:"cursor,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
	IsActive  bool       `json:"isActive"`
	JoinedAt  time.Time  `json:"joinedAt"`
}

// Clone returns a deep copy of the participant.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Cursor != nil {
		c := *p.Cursor
		cp.Cursor = &c
	}
	if p.Selection != nil {
		s := *p.Selection
		s.IDs = append([]string(nil), p.Selection.IDs...)
		cp.Selection = &s
	}
	return &cp
}

// Cursor is a participant's pointer position in one of the workspace views.
type Cursor struct {
	View string  `json:"view,omitempty" mapstructure:"view"` // e.g. "viewport3d", "queryBuilder"
	X    float64 `json:"x" mapstructure:"x"`
	Y    float64 `json:"y" mapstructure:"y"`
	Z    float64 `json:"z,omitempty" mapstructure:"z"`
}

// Selection is the set of objects (tracks, events, query clauses) a participant has selected.
type Selection struct {
	View string   `json:"view,omitempty" mapstructure:"view"`
	IDs  []string `json:"ids" mapstructure:"ids"`
}
