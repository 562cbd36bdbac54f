package domain

import "time"

const (
	// DefaultSessionTTL is how long a session survives without updates.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultLockTimeout bounds the wait for a session's lock.
	DefaultLockTimeout = 5 * time.Second
)
