package domain

import (
	"reflect"
)

// StateDiff represents the changes between two SharedState snapshots.
// It is designed to be serialized to JSON for partial updates on the client.
type StateDiff struct {
	// FromVersion and ToVersion bracket the change so clients can detect gaps.
	FromVersion int64 `json:"fromVersion"`
	ToVersion   int64 `json:"toVersion"`

	// Each delta contains only changed, added or deleted top-level keys.
	// For deletions, the key is present with a nil value.
	// Clients should merge these updates into their local state.
	AnalysisParameters Fields `json:"analysisParameters,omitempty"`
	QueryState         Fields `json:"queryState,omitempty"`
	VisualizationState Fields `json:"visualizationState,omitempty"`
}

// Diff calculates the difference between oldState and newState.
// If oldState is nil, it returns a diff representing the entire newState (initial load).
func Diff(oldState *SharedState, newState SharedState) *StateDiff {
	diff := &StateDiff{ToVersion: newState.Version}

	var oldParams, oldQuery, oldVis Fields
	if oldState != nil {
		diff.FromVersion = oldState.Version
		oldParams = oldState.AnalysisParameters
		oldQuery = oldState.QueryState
		oldVis = oldState.VisualizationState
	}

	diff.AnalysisParameters = diffFields(oldParams, newState.AnalysisParameters)
	diff.QueryState = diffFields(oldQuery, newState.QueryState)
	diff.VisualizationState = diffFields(oldVis, newState.VisualizationState)

	return diff
}

func diffFields(old, new Fields) Fields {
	delta := make(Fields)

	// Check for Added or Modified
	for k, newVal := range new {
		oldVal, exists := old[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}

	// Check for Deletions
	for k := range old {
		if _, exists := new[k]; !exists {
			delta[k] = nil
		}
	}

	// Return nil if delta is empty so omitempty can remove the key
	if len(delta) == 0 {
		return nil
	}
	return delta
}

// IsEmpty checks if the diff contains any field changes.
func (d *StateDiff) IsEmpty() bool {
	return len(d.AnalysisParameters) == 0 &&
		len(d.QueryState) == 0 &&
		len(d.VisualizationState) == 0
}
