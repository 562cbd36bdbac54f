/*
Package session implements the session store.

Sessions live in a durable ports.KVStore and in a sharded in-memory cache kept
coherent by write-through. Every mutation runs under a per-session lock with a
bounded wait; different sessions never share a lock. A background reaper removes
sessions whose last update is older than the configured TTL.
*/
package session
