package engine

import (
	"context"
	"time"

	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/merge"
)

// Result is the outcome of Synchronize or Submit.
type Result struct {
	Success           bool               `json:"success"`
	SynchronizedState domain.SharedState `json:"synchronizedState"`
	PropagationTime   time.Duration      `json:"-"`
	PropagationTimeMs float64            `json:"propagationTimeMs"`

	// Conflict is set when Submit routed the batch through the resolver.
	Conflict *domain.ConflictResolution `json:"conflict,omitempty"`
}

// Synchronize applies updates in deterministic order, advancing the version by one
// per state-changing update, and commits the result as a single write.
// A failing batch leaves the session untouched.
func (e *Engine) Synchronize(ctx context.Context, sessionID string, updates []domain.StateUpdate) (*Result, error) {
	ordered, pres, err := splitBatch(updates)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		state    domain.SharedState
		previous domain.SharedState
		at       time.Time
	)
	if len(ordered) == 0 {
		sess, err := e.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		state = sess.SharedState
	} else {
		sess, err := e.sessions.Update(ctx, sessionID, func(s *domain.CollaborationSession) error {
			next, err := merge.ApplyAll(s.SharedState, ordered)
			if err != nil {
				return err
			}
			previous = s.SharedState
			next.Version = s.SharedState.Version + int64(len(ordered))
			s.SharedState = next
			return nil
		})
		if err != nil {
			return nil, err
		}
		state = sess.SharedState
		at = sess.LastUpdate
	}
	elapsed := time.Since(start)

	e.applyPresence(ctx, sessionID, pres)

	if len(ordered) > 0 {
		e.committed(ctx, sessionID, &previous, state, at, len(ordered), elapsed, "")
	}

	return &Result{
		Success:           true,
		SynchronizedState: state,
		PropagationTime:   elapsed,
		PropagationTimeMs: millis(elapsed),
	}, nil
}

// committed publishes and records a commit. An empty conflict marks ordinary synchronization.
func (e *Engine) committed(ctx context.Context, sessionID string, previous *domain.SharedState, state domain.SharedState, at time.Time, applied int, elapsed time.Duration, conflict domain.ConflictType) {
	path := "sync"
	evType := domain.EventStateSynced
	hook := e.hooks.OnSync
	if conflict != "" {
		path = "resolve"
		evType = domain.EventConflictResolved
		hook = e.hooks.OnResolve
		e.metrics.IncConflict(string(conflict))
	}
	e.metrics.ObserveCommit(path, applied, elapsed)

	e.logger.Debug("state committed",
		"session_id", sessionID,
		"path", path,
		"applied", applied,
		"version", state.Version,
		"propagation", elapsed,
	)

	if hook != nil {
		hook(ctx, &domain.SyncEvent{
			SessionID:       sessionID,
			Applied:         applied,
			FromVersion:     previous.Version,
			ToVersion:       state.Version,
			PropagationTime: elapsed,
			Conflict:        conflict,
		})
	}

	e.publish(domain.Event{
		Type:      evType,
		SessionID: sessionID,
		Timestamp: at,
		Version:   state.Version,
		Diff:      domain.Diff(previous, state),
		Conflict:  conflict,
	})
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
