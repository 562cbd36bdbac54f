package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/merge"
)

// Resolution extends domain.ConflictResolution with the time spent resolving.
type Resolution struct {
	domain.ConflictResolution
	propagation time.Duration
}

// PropagationTime returns the wall-clock time spent ordering, merging and persisting.
func (r *Resolution) PropagationTime() time.Duration {
	return r.propagation
}

// Resolve folds a batch of concurrently authored updates into the session as one
// resolution step, advancing the version by exactly one.
//
// For an absent session the returned resolution has Success false and
// ConflictType version_mismatch, and the error wraps domain.ErrSessionNotFound.
// An empty strategy means merge. user_choice is rejected with domain.ErrUnsupportedResolution.
func (e *Engine) Resolve(ctx context.Context, sessionID string, updates []domain.StateUpdate, strategy domain.ResolutionStrategy) (*Resolution, error) {
	if strategy == "" {
		strategy = domain.ResolutionMerge
	}
	if strategy != domain.ResolutionMerge && strategy != domain.ResolutionLastWriterWins {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedResolution, strategy)
	}

	ordered, pres, err := splitBatch(updates)
	if err != nil {
		return nil, err
	}

	conflict := merge.Classify(ordered)
	toApply := ordered
	if strategy == domain.ResolutionLastWriterWins {
		toApply = merge.LastPerSubtree(ordered)
	}

	start := time.Now()
	var (
		state    domain.SharedState
		previous domain.SharedState
		at       time.Time
	)
	if len(toApply) == 0 {
		var sess *domain.CollaborationSession
		if sess, err = e.sessions.Get(ctx, sessionID); err == nil {
			state = sess.SharedState
		}
	} else {
		var sess *domain.CollaborationSession
		sess, err = e.sessions.Update(ctx, sessionID, func(s *domain.CollaborationSession) error {
			next, err := merge.ApplyAll(s.SharedState, toApply)
			if err != nil {
				return err
			}
			previous = s.SharedState
			next.Version = s.SharedState.Version + 1
			s.SharedState = next
			return nil
		})
		if err == nil {
			state = sess.SharedState
			at = sess.LastUpdate
		}
	}
	if errors.Is(err, domain.ErrSessionNotFound) {
		return &Resolution{ConflictResolution: domain.ConflictResolution{
			ConflictType: domain.ConflictVersionMismatch,
			Resolution:   strategy,
			Success:      false,
		}}, err
	}
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	e.applyPresence(ctx, sessionID, pres)

	if len(toApply) > 0 {
		e.committed(ctx, sessionID, &previous, state, at, len(toApply), elapsed, conflict)
	}

	return &Resolution{
		ConflictResolution: domain.ConflictResolution{
			ConflictType:  conflict,
			Resolution:    strategy,
			ResolvedState: state,
			Success:       true,
		},
		propagation: elapsed,
	}, nil
}
