// Package presence tracks who is in a session and where their cursor and selection are.
//
// Presence lives beside the shared state: it is persisted with the session but never
// changes SharedState.Version and is never subject to conflict resolution. The last
// write for a given user always wins.
package presence
