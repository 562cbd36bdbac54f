/*
Package ports defines the driven ports (interfaces) of the Concord engine.

These interfaces decouple the synchronization core from external implementations,
allowing sessions to live in memory, on disk or in Redis, and events to be pushed
over any transport.

# Key Interfaces

  - KVStore: durable key-value storage with per-key TTL, one entry per session.
  - DistributedLocker: cross-replica mutual exclusion for a session ID.
  - Publisher: receives committed session events for delivery to clients.
*/
package ports
