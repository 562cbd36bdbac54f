package concord

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/concord/internal/logging"
	"github.com/aretw0/concord/pkg/adapters/memory"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/engine"
	"github.com/aretw0/concord/pkg/observability"
	"github.com/aretw0/concord/pkg/ports"
	"github.com/aretw0/concord/pkg/presence"
	"github.com/aretw0/concord/pkg/session"
)

// Engine is the high-level entry point for the library.
// It wires the session store, presence tracker and synchronization engine.
type Engine struct {
	sessions *session.Manager
	tracker  *presence.Tracker
	engine   *engine.Engine

	publisher ports.Publisher
	logger    *slog.Logger
}

type config struct {
	hooks       domain.LifecycleHooks
	publisher   ports.Publisher
	logger      *slog.Logger
	metrics     *observability.Metrics
	sessionOpts []session.Option
}

// Option defines a functional option for configuring the Engine.
type Option func(*config)

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *config) {
		c.hooks = hooks
	}
}

// WithPublisher sends every committed change to p.
func WithPublisher(p ports.Publisher) Option {
	return func(c *config) {
		c.publisher = p
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetrics records engine metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithLocker coordinates session locks across replicas sharing one store.
func WithLocker(l ports.DistributedLocker) Option {
	return func(c *config) {
		c.sessionOpts = append(c.sessionOpts, session.WithLocker(l))
	}
}

// WithSessionTTL sets how long an idle session survives (default 24h). Zero disables expiry.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.sessionOpts = append(c.sessionOpts, session.WithTTL(ttl))
	}
}

// WithLockTimeout bounds the wait for a session lock (default 5s).
func WithLockTimeout(d time.Duration) Option {
	return func(c *config) {
		c.sessionOpts = append(c.sessionOpts, session.WithLockTimeout(d))
	}
}

// WithShards sets the number of cache and lock shards.
func WithShards(n int) Option {
	return func(c *config) {
		c.sessionOpts = append(c.sessionOpts, session.WithShards(n))
	}
}

// WithClock overrides time.Now for session timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.sessionOpts = append(c.sessionOpts, session.WithClock(now))
	}
}

// New creates an Engine over store. A nil store uses an in-memory one.
func New(store ports.KVStore, opts ...Option) *Engine {
	c := config{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&c)
	}
	if store == nil {
		store = memory.NewStore(memory.DefaultCleanupInterval)
	}

	sessionOpts := append([]session.Option{
		session.WithLogger(c.logger),
		session.WithMetrics(c.metrics),
	}, c.sessionOpts...)
	sessions := session.NewManager(store, sessionOpts...)

	tracker := presence.NewTracker(sessions,
		presence.WithPublisher(c.publisher),
		presence.WithHooks(c.hooks),
		presence.WithMetrics(c.metrics),
		presence.WithLogger(c.logger),
	)

	return &Engine{
		sessions: sessions,
		tracker:  tracker,
		engine: engine.New(sessions, tracker,
			engine.WithPublisher(c.publisher),
			engine.WithLifecycleHooks(c.hooks),
			engine.WithMetrics(c.metrics),
			engine.WithLogger(c.logger),
		),
		publisher: c.publisher,
		logger:    c.logger,
	}
}

// Sessions returns the underlying session store.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// CreateSession registers a session at version 1.
// It fails with domain.ErrDuplicateSession if the ID is live.
func (e *Engine) CreateSession(ctx context.Context, sessionID string, initial domain.SharedState) (*domain.CollaborationSession, error) {
	sess, err := e.sessions.Create(ctx, sessionID, initial)
	if err != nil {
		return nil, err
	}
	e.publish(domain.Event{
		Type:      domain.EventSessionCreated,
		SessionID: sessionID,
		Timestamp: sess.CreatedAt,
		Version:   sess.SharedState.Version,
	})
	return sess, nil
}

// GetSession returns a copy of the session, or domain.ErrSessionNotFound.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*domain.CollaborationSession, error) {
	return e.sessions.Get(ctx, sessionID)
}

// GetSessionState returns the current shared state snapshot.
func (e *Engine) GetSessionState(ctx context.Context, sessionID string) (domain.SharedState, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.SharedState{}, err
	}
	return sess.SharedState, nil
}

// DeleteSession removes the session.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	e.publish(domain.Event{
		Type:      domain.EventSessionDeleted,
		SessionID: sessionID,
		Timestamp: e.sessions.Now(),
	})
	return nil
}

// ListSessions returns the stored session IDs.
func (e *Engine) ListSessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// JoinSession upserts the participant as active. It reports false when the session
// does not exist; err is reserved for infrastructure failures such as lock timeouts.
func (e *Engine) JoinSession(ctx context.Context, sessionID string, p domain.Participant) (bool, error) {
	_, err := e.tracker.Join(ctx, sessionID, p)
	return found(err)
}

// LeaveSession deactivates the participant. It reports false when the session or
// participant does not exist.
func (e *Engine) LeaveSession(ctx context.Context, sessionID, userID string) (bool, error) {
	return found(e.tracker.Leave(ctx, sessionID, userID))
}

// UpdateParticipantPresence overwrites the cursor and selection supplied in u.
// A nil field leaves the current value untouched; ClearCursor and ClearSelection remove it.
// It reports false when the session or participant is unknown. The version never moves.
func (e *Engine) UpdateParticipantPresence(ctx context.Context, sessionID, userID string, u presence.Update) (bool, error) {
	_, err := e.tracker.UpdatePresence(ctx, sessionID, userID, u)
	return found(err)
}

// GetActiveParticipants returns the participants with IsActive set, ordered by join time.
func (e *Engine) GetActiveParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return e.tracker.Active(ctx, sessionID)
}

// SynchronizeState applies updates in order, one version step per state update.
func (e *Engine) SynchronizeState(ctx context.Context, sessionID string, updates []domain.StateUpdate) (*engine.Result, error) {
	return e.engine.Synchronize(ctx, sessionID, updates)
}

// ResolveConflicts folds a concurrent batch into one version step using strategy
// (merge when empty).
func (e *Engine) ResolveConflicts(ctx context.Context, sessionID string, updates []domain.StateUpdate, strategy domain.ResolutionStrategy) (*engine.Resolution, error) {
	return e.engine.Resolve(ctx, sessionID, updates, strategy)
}

// Submit synchronizes a single-author batch and resolves a multi-author one.
func (e *Engine) Submit(ctx context.Context, sessionID string, updates []domain.StateUpdate) (*engine.Result, error) {
	return e.engine.Submit(ctx, sessionID, updates)
}

// Reap removes expired sessions once.
func (e *Engine) Reap(ctx context.Context) (int, error) {
	return e.sessions.Reap(ctx)
}

// RunReaper removes expired sessions every interval until ctx is done.
func (e *Engine) RunReaper(ctx context.Context, interval time.Duration) error {
	return e.sessions.Run(ctx, interval)
}

func (e *Engine) publish(ev domain.Event) {
	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

// found turns not-found errors into a false result.
func found(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrParticipantNotFound):
		return false, nil
	default:
		return false, err
	}
}
