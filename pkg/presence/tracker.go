package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/concord/internal/logging"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/observability"
	"github.com/aretw0/concord/pkg/ports"
	"github.com/aretw0/concord/pkg/session"
	"github.com/mitchellh/mapstructure"
)

// Update carries a partial presence change.
// A nil field leaves the current value untouched unless the matching Clear flag is set.
type Update struct {
	Cursor         *domain.Cursor
	Selection      *domain.Selection
	ClearCursor    bool
	ClearSelection bool
}

// Tracker maintains participant membership and presence on top of the session store.
type Tracker struct {
	sessions  *session.Manager
	publisher ports.Publisher
	hooks     domain.LifecycleHooks
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithPublisher sends join, leave and presence events to p.
func WithPublisher(p ports.Publisher) Option {
	return func(t *Tracker) {
		t.publisher = p
	}
}

// WithHooks registers lifecycle callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(t *Tracker) {
		t.hooks = h
	}
}

// WithMetrics counts applied presence updates.
func WithMetrics(m *observability.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithLogger configures a logger for the Tracker.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// NewTracker creates a presence tracker over sessions.
func NewTracker(sessions *session.Manager, opts ...Option) *Tracker {
	t := &Tracker{
		sessions: sessions,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Join upserts the participant as active with a fresh JoinedAt.
// Joining twice with the same user ID leaves exactly one entry. The first join moves the
// session from created to active.
func (t *Tracker) Join(ctx context.Context, sessionID string, p domain.Participant) (*domain.Participant, error) {
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: participant without user id", domain.ErrInvalidUpdate)
	}
	name, err := SanitizeUsername(p.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidUpdate, err)
	}
	p.Username = name

	var joined *domain.Participant
	sess, err := t.sessions.Update(ctx, sessionID, func(s *domain.CollaborationSession) error {
		entry := p.Clone()
		entry.IsActive = true
		entry.JoinedAt = t.sessions.Now()
		s.Participants[entry.UserID] = entry
		s.Status = domain.StatusActive
		joined = entry.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Debug("participant joined", "session_id", sessionID, "user_id", p.UserID)
	t.publish(domain.Event{
		Type:        domain.EventParticipantJoined,
		SessionID:   sessionID,
		Timestamp:   sess.LastUpdate,
		Version:     sess.SharedState.Version,
		Participant: joined,
	})
	return joined, nil
}

// Leave deactivates the participant and drops its cursor and selection.
// The session itself is kept even when no one is left.
func (t *Tracker) Leave(ctx context.Context, sessionID, userID string) error {
	var left *domain.Participant
	sess, err := t.sessions.Update(ctx, sessionID, func(s *domain.CollaborationSession) error {
		p, ok := s.Participants[userID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, userID)
		}
		p.IsActive = false
		p.Cursor = nil
		p.Selection = nil
		left = p.Clone()
		return nil
	})
	if err != nil {
		return err
	}

	t.logger.Debug("participant left", "session_id", sessionID, "user_id", userID)
	t.publish(domain.Event{
		Type:        domain.EventParticipantLeft,
		SessionID:   sessionID,
		Timestamp:   sess.LastUpdate,
		Version:     sess.SharedState.Version,
		Participant: left,
	})
	return nil
}

// UpdatePresence overwrites the supplied presence fields of an active participant.
func (t *Tracker) UpdatePresence(ctx context.Context, sessionID, userID string, u Update) (*domain.Participant, error) {
	var updated *domain.Participant
	sess, err := t.sessions.Update(ctx, sessionID, func(s *domain.CollaborationSession) error {
		p, err := activeParticipant(s, userID)
		if err != nil {
			return err
		}
		apply(p, u)
		updated = p.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.announce(ctx, sess, updated)
	return updated, nil
}

// ApplyUpdates applies cursor_move and selection_change updates in order under one lock.
// Updates for unknown or inactive participants are skipped. It returns how many were applied.
func (t *Tracker) ApplyUpdates(ctx context.Context, sessionID string, updates []domain.StateUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	changed := make(map[string]*domain.Participant)
	var order []string
	sess, err := t.sessions.Update(ctx, sessionID, func(s *domain.CollaborationSession) error {
		for _, upd := range updates {
			u, err := Decode(upd)
			if err != nil {
				return err
			}
			p, err := activeParticipant(s, upd.UserID)
			if err != nil {
				t.logger.Debug("presence update skipped", "session_id", sessionID, "user_id", upd.UserID, "err", err)
				continue
			}
			apply(p, u)
			if _, seen := changed[p.UserID]; !seen {
				order = append(order, p.UserID)
			}
			changed[p.UserID] = p.Clone()
		}
		if len(changed) == 0 {
			return errNothingApplied
		}
		return nil
	})
	if errors.Is(err, errNothingApplied) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	for _, id := range order {
		t.announce(ctx, sess, changed[id])
	}
	return len(changed), nil
}

// Active returns the session's active participants, ordered by join time.
func (t *Tracker) Active(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	sess, err := t.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.ActiveParticipants(), nil
}

// errNothingApplied aborts the commit when a batch touched nobody.
var errNothingApplied = errors.New("no presence change")

func activeParticipant(s *domain.CollaborationSession, userID string) (*domain.Participant, error) {
	p, ok := s.Participants[userID]
	if !ok || !p.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, userID)
	}
	return p, nil
}

func apply(p *domain.Participant, u Update) {
	switch {
	case u.ClearCursor:
		p.Cursor = nil
	case u.Cursor != nil:
		c := *u.Cursor
		p.Cursor = &c
	}
	switch {
	case u.ClearSelection:
		p.Selection = nil
	case u.Selection != nil:
		sel := *u.Selection
		sel.IDs = append([]string(nil), u.Selection.IDs...)
		p.Selection = &sel
	}
}

func (t *Tracker) announce(ctx context.Context, sess *domain.CollaborationSession, p *domain.Participant) {
	t.metrics.IncPresence()
	if t.hooks.OnPresence != nil {
		t.hooks.OnPresence(ctx, sess.SessionID, p)
	}
	t.publish(domain.Event{
		Type:        domain.EventPresenceChanged,
		SessionID:   sess.SessionID,
		Timestamp:   sess.LastUpdate,
		Version:     sess.SharedState.Version,
		Participant: p,
	})
}

func (t *Tracker) publish(e domain.Event) {
	if t.publisher != nil {
		t.publisher.Publish(e)
	}
}

// Decode converts a cursor_move or selection_change update into a presence Update.
// Empty data clears the corresponding field.
func Decode(upd domain.StateUpdate) (Update, error) {
	switch upd.Type {
	case domain.CursorMove:
		return cursorUpdate(upd.Data)
	case domain.SelectionChange:
		return selectionUpdate(upd.Data)
	default:
		return Update{}, fmt.Errorf("%w: %q is not a presence update", domain.ErrInvalidUpdate, upd.Type)
	}
}

func cursorUpdate(data domain.Fields) (Update, error) {
	if len(data) == 0 {
		return Update{ClearCursor: true}, nil
	}
	var c domain.Cursor
	if err := decodeInto(data, &c); err != nil {
		return Update{}, err
	}
	return Update{Cursor: &c}, nil
}

func selectionUpdate(data domain.Fields) (Update, error) {
	if len(data) == 0 {
		return Update{ClearSelection: true}, nil
	}
	var s domain.Selection
	if err := decodeInto(data, &s); err != nil {
		return Update{}, err
	}
	return Update{Selection: &s}, nil
}

func decodeInto(data domain.Fields, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]any(data)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidUpdate, err)
	}
	return nil
}
