package domain

// ConflictType classifies why a batch went through the conflict resolver.
type ConflictType string

const (
	ConflictConcurrentEdit    ConflictType = "concurrent_edit"    // Several users, disjoint fields
	ConflictVersionMismatch   ConflictType = "version_mismatch"   // Session absent
	ConflictParameterConflict ConflictType = "parameter_conflict" // Several users wrote the same field
)

// ResolutionStrategy selects how a conflicting batch is folded into the state.
type ResolutionStrategy string

const (
	// ResolutionMerge applies every update in deterministic order with field-level merge.
	ResolutionMerge ResolutionStrategy = "merge"
	// ResolutionLastWriterWins keeps, per subtree, only the last ordered update's data.
	ResolutionLastWriterWins ResolutionStrategy = "last_writer_wins"
	// ResolutionUserChoice is reserved for client-side resolution and is rejected server-side.
	ResolutionUserChoice ResolutionStrategy = "user_choice"
)

// ConflictResolution is the outcome of resolving a conflicting batch.
type ConflictResolution struct {
	ConflictType  ConflictType       `json:"conflictType"`
	Resolution    ResolutionStrategy `json:"resolution"`
	ResolvedState SharedState        `json:"resolvedState"`
	Success       bool               `json:"success"`
}
