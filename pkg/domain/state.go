package domain

// Subtree names one of the three independently mergeable sections of SharedState.
type Subtree string

const (
	SubtreeAnalysisParameters Subtree = "analysisParameters"
	SubtreeQueryState         Subtree = "queryState"
	SubtreeVisualizationState Subtree = "visualizationState"
)

// Fields is a flat field-name to value mapping. Values decoded from JSON may be
// nested objects (map[string]any), which merge recursively.
type Fields map[string]any

// SharedState is the versioned document every participant of a session views.
//
// SharedState values are snapshots: code that produces a new state must go through
// Clone (or the merge package) and never mutate a snapshot that has been handed out.
type SharedState struct {
	AnalysisParameters Fields `json:"analysisParameters"`
	QueryState         Fields `json:"queryState"`
	VisualizationState Fields `json:"visualizationState"`

	// Version starts at 1 on creation and strictly increases on every committed write.
	Version int64 `json:"version"`
}

// InitialVersion is the version every session starts at, regardless of caller input.
const InitialVersion int64 = 1

// NewSharedState creates an empty state at InitialVersion.
func NewSharedState() SharedState {
	return SharedState{
		AnalysisParameters: Fields{},
		QueryState:         Fields{},
		VisualizationState: Fields{},
		Version:            InitialVersion,
	}
}

// Subtree returns the fields for the named subtree.
func (s SharedState) Subtree(name Subtree) (Fields, bool) {
	switch name {
	case SubtreeAnalysisParameters:
		return s.AnalysisParameters, true
	case SubtreeQueryState:
		return s.QueryState, true
	case SubtreeVisualizationState:
		return s.VisualizationState, true
	}
	return nil, false
}

// WithSubtree returns a copy of s with the named subtree replaced.
// The other subtrees are shared with s, which is safe because snapshots are never mutated.
func (s SharedState) WithSubtree(name Subtree, fields Fields) SharedState {
	switch name {
	case SubtreeAnalysisParameters:
		s.AnalysisParameters = fields
	case SubtreeQueryState:
		s.QueryState = fields
	case SubtreeVisualizationState:
		s.VisualizationState = fields
	}
	return s
}

// Clone returns a deep copy of the state.
func (s SharedState) Clone() SharedState {
	return SharedState{
		AnalysisParameters: s.AnalysisParameters.Clone(),
		QueryState:         s.QueryState.Clone(),
		VisualizationState: s.VisualizationState.Clone(),
		Version:            s.Version,
	}
}

// Normalize replaces nil subtrees with empty ones so that JSON consumers always see objects.
func (s SharedState) Normalize() SharedState {
	if s.AnalysisParameters == nil {
		s.AnalysisParameters = Fields{}
	}
	if s.QueryState == nil {
		s.QueryState = Fields{}
	}
	if s.VisualizationState == nil {
		s.VisualizationState = Fields{}
	}
	return s
}

// Clone returns a deep copy of f. Nested maps and slices are copied; scalars are shared.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies JSON-shaped values.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = CloneValue(inner)
		}
		return m
	case Fields:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = CloneValue(inner)
		}
		return s
	default:
		return v
	}
}
