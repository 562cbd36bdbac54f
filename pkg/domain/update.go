package domain

import "fmt"

// UpdateType tags a StateUpdate. It is the discriminant of the update sum type:
// three variants merge into a SharedState subtree, two only move presence.
type UpdateType string

const (
	ParameterChange     UpdateType = "parameter_change"
	QueryUpdate         UpdateType = "query_update"
	VisualizationUpdate UpdateType = "visualization_update"
	CursorMove          UpdateType = "cursor_move"
	SelectionChange     UpdateType = "selection_change"
)

// Target returns the SharedState subtree an update of this type merges into.
// Presence updates return ok=false.
func (t UpdateType) Target() (Subtree, bool) {
	switch t {
	case ParameterChange:
		return SubtreeAnalysisParameters, true
	case QueryUpdate:
		return SubtreeQueryState, true
	case VisualizationUpdate:
		return SubtreeVisualizationState, true
	}
	return "", false
}

// IsPresence reports whether the update only touches participant presence.
func (t UpdateType) IsPresence() bool {
	return t == CursorMove || t == SelectionChange
}

// Valid reports whether t is one of the known variants.
func (t UpdateType) Valid() bool {
	switch t {
	case ParameterChange, QueryUpdate, VisualizationUpdate, CursorMove, SelectionChange:
		return true
	}
	return false
}

// StateUpdate is a single client edit.
type StateUpdate struct {
	Type   UpdateType `json:"type"`
	UserID string     `json:"userId"`

	// Timestamp is a logical or wall-clock (unix millis) value; only its order matters.
	Timestamp int64 `json:"timestamp"`

	Data Fields `json:"data"`

	// Version is the version the client believed it was editing against.
	// It is a hint for conflict detection and never a precondition.
	Version int64 `json:"version"`
}

// Validate checks the update is well-formed.
func (u StateUpdate) Validate() error {
	if !u.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidUpdate, u.Type)
	}
	if u.UserID == "" {
		return fmt.Errorf("%w: missing userId", ErrInvalidUpdate)
	}
	return nil
}

// ValidateAll validates every update, reporting the index of the first bad one.
func ValidateAll(updates []StateUpdate) error {
	for i, u := range updates {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("update %d: %w", i, err)
		}
	}
	return nil
}
