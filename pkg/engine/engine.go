package engine

import (
	"context"
	"log/slog"

	"github.com/aretw0/concord/internal/logging"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/merge"
	"github.com/aretw0/concord/pkg/observability"
	"github.com/aretw0/concord/pkg/ports"
	"github.com/aretw0/concord/pkg/presence"
	"github.com/aretw0/concord/pkg/session"
)

// Engine applies batches of state updates to sessions.
type Engine struct {
	sessions  *session.Manager
	presence  *presence.Tracker
	publisher ports.Publisher
	hooks     domain.LifecycleHooks
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithPublisher sends committed state changes to p.
func WithPublisher(p ports.Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithMetrics records commits and conflicts.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine over the session store and presence tracker.
func New(sessions *session.Manager, tracker *presence.Tracker, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		presence: tracker,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit routes a batch: when more than one user authored state-changing updates it
// is resolved as a conflict with the merge strategy, otherwise it is synchronized.
func (e *Engine) Submit(ctx context.Context, sessionID string, updates []domain.StateUpdate) (*Result, error) {
	if !merge.IsConflicting(updates) {
		return e.Synchronize(ctx, sessionID, updates)
	}

	res, err := e.Resolve(ctx, sessionID, updates, domain.ResolutionMerge)
	if err != nil {
		return nil, err
	}
	return &Result{
		Success:           res.Success,
		SynchronizedState: res.ResolvedState,
		PropagationTime:   res.propagation,
		PropagationTimeMs: millis(res.propagation),
		Conflict:          &res.ConflictResolution,
	}, nil
}

// splitBatch validates updates, pre-decodes presence updates so a malformed one
// fails the call before anything commits, and orders both halves.
func splitBatch(updates []domain.StateUpdate) (state, pres []domain.StateUpdate, err error) {
	if err := domain.ValidateAll(updates); err != nil {
		return nil, nil, err
	}
	state, pres = merge.Partition(updates)
	for _, u := range pres {
		if _, err := presence.Decode(u); err != nil {
			return nil, nil, err
		}
	}
	return merge.Order(state), merge.Order(pres), nil
}

func (e *Engine) applyPresence(ctx context.Context, sessionID string, pres []domain.StateUpdate) {
	if len(pres) == 0 || e.presence == nil {
		return
	}
	if _, err := e.presence.ApplyUpdates(ctx, sessionID, pres); err != nil {
		e.logger.Warn("presence updates dropped", "session_id", sessionID, "count", len(pres), "err", err)
	}
}

func (e *Engine) publish(ev domain.Event) {
	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}
