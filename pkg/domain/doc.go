/*
Package domain contains the core data model of the Concord synchronization engine.

It defines the entities shared by every other package and is kept free of I/O and
persistence concerns.

# Key Entities

  - CollaborationSession: a workspace instance with its participants and shared state.
  - SharedState: the versioned document (analysis parameters, query state, visualization state).
  - StateUpdate: one client edit, tagged by UpdateType.
  - ConflictResolution: the outcome of folding a concurrent batch into the state.
  - Participant: a user's presence (cursor, selection) in a session.
*/
package domain
