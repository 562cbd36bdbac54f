package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in the store (absent or expired).
var ErrSessionNotFound = errors.New("session not found")

// ErrDuplicateSession is returned when creating a session whose ID is already in use.
var ErrDuplicateSession = errors.New("session already exists")

// ErrParticipantNotFound is returned when a presence or leave call targets an unknown user.
var ErrParticipantNotFound = errors.New("participant not found")

// ErrLockTimeout is returned when a session's lock could not be acquired within the configured bound.
// Callers should retry with backoff.
var ErrLockTimeout = errors.New("timed out waiting for session lock")

// ErrInvalidUpdate is returned when a batch contains a malformed update. The batch is not applied.
var ErrInvalidUpdate = errors.New("invalid state update")

// ErrUnsupportedResolution is returned for resolution strategies the server does not implement.
var ErrUnsupportedResolution = errors.New("unsupported resolution strategy")
