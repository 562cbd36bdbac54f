package merge

import (
	"sort"

	"github.com/aretw0/concord/pkg/domain"
)

// Order returns a copy of updates sorted by timestamp. Ties keep arrival order
// (the index in the input slice) and then fall back to userId, so the same batch
// always produces the same sequence.
func Order(updates []domain.StateUpdate) []domain.StateUpdate {
	type indexed struct {
		u   domain.StateUpdate
		idx int
	}
	items := make([]indexed, len(updates))
	for i, u := range updates {
		items[i] = indexed{u: u, idx: i}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.u.Timestamp != b.u.Timestamp {
			return a.u.Timestamp < b.u.Timestamp
		}
		if a.idx != b.idx {
			return a.idx < b.idx
		}
		return a.u.UserID < b.u.UserID
	})

	out := make([]domain.StateUpdate, len(items))
	for i, it := range items {
		out[i] = it.u
	}
	return out
}

// Partition splits updates into those that modify SharedState and presence-only ones,
// preserving relative order.
func Partition(updates []domain.StateUpdate) (state, presence []domain.StateUpdate) {
	for _, u := range updates {
		if u.Type.IsPresence() {
			presence = append(presence, u)
		} else {
			state = append(state, u)
		}
	}
	return state, presence
}

// DistinctUsers counts the distinct userIds in updates.
func DistinctUsers(updates []domain.StateUpdate) int {
	seen := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		seen[u.UserID] = struct{}{}
	}
	return len(seen)
}

// IsConflicting reports whether a batch should go through conflict resolution:
// more than one distinct user authored state-changing updates in it.
func IsConflicting(updates []domain.StateUpdate) bool {
	state, _ := Partition(updates)
	return DistinctUsers(state) > 1
}
