package merge

import (
	"fmt"

	"github.com/aretw0/concord/pkg/domain"
)

// Apply merges a single update into state and returns the new snapshot.
// The version is left untouched; callers decide how much to advance it.
// Presence updates are rejected because they never touch SharedState.
func Apply(state domain.SharedState, update domain.StateUpdate) (domain.SharedState, error) {
	switch update.Type {
	case domain.ParameterChange, domain.QueryUpdate, domain.VisualizationUpdate:
		target, _ := update.Type.Target()
		current, _ := state.Subtree(target)
		return state.WithSubtree(target, MergeFields(current, update.Data)), nil
	case domain.CursorMove, domain.SelectionChange:
		return state, fmt.Errorf("%w: %s does not modify shared state", domain.ErrInvalidUpdate, update.Type)
	default:
		return state, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidUpdate, update.Type)
	}
}

// ApplyAll applies updates in the given order. Nothing is returned on error, so a
// failing batch leaves no partial result behind.
func ApplyAll(state domain.SharedState, updates []domain.StateUpdate) (domain.SharedState, error) {
	next := state
	for i, u := range updates {
		var err error
		next, err = Apply(next, u)
		if err != nil {
			return state, fmt.Errorf("update %d: %w", i, err)
		}
	}
	return next, nil
}

// MergeFields returns base with patch merged in. Neither argument is modified.
// The merge recurses: when both sides hold an object under the same key, the objects are
// merged key by key instead of the patch replacing the base value. Any other value overwrites.
func MergeFields(base, patch domain.Fields) domain.Fields {
	out := base.Clone()
	if out == nil {
		out = domain.Fields{}
	}
	for k, v := range patch {
		out[k] = mergeValue(out[k], v)
	}
	return out
}

func mergeValue(existing, incoming any) any {
	dst, okDst := asObject(existing)
	src, okSrc := asObject(incoming)
	if !okDst || !okSrc {
		return domain.CloneValue(incoming)
	}
	merged := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		merged[k] = v
	}
	for k, v := range src {
		merged[k] = mergeValue(dst[k], v)
	}
	return merged
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case domain.Fields:
		return t, true
	}
	return nil, false
}
