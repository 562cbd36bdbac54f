/*
Package concord is a collaborative session synchronization engine.

Several users inspect and edit one shared analysis workspace: analysis parameters,
query state and visualization state. Their edits arrive out of order and may touch
the same fields. Concord orders each batch deterministically, merges it field by
field into a single versioned SharedState, and tracks each participant's cursor and
selection alongside it without moving the version.

# Architecture

  - pkg/session: the session store, a write-through cache over a ports.KVStore with a
    bounded per-session lock and a TTL reaper.
  - pkg/presence: participant membership, cursors and selections.
  - pkg/merge: pure ordering and field-merge functions.
  - pkg/engine: the synchronization engine and the conflict resolver.

The Engine type in this package wires them together.

# Usage

	eng := concord.New(nil) // in-memory store

	ctx := context.Background()
	initial := domain.NewSharedState()
	initial.AnalysisParameters["energyRange"] = map[string]any{"min": 1.0, "max": 10.0}

	if _, err := eng.CreateSession(ctx, "analysis-42", initial); err != nil {
		log.Fatal(err)
	}

	res, err := eng.SynchronizeState(ctx, "analysis-42", []domain.StateUpdate{
		{Type: domain.ParameterChange, UserID: "alice", Timestamp: 100,
			Data: domain.Fields{"energyRange": map[string]any{"min": 2.0}}},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.SynchronizedState.Version) // 2

Batches authored by several users can be folded into a single version step with
ResolveConflicts, or routed automatically with Submit.
*/
package concord
