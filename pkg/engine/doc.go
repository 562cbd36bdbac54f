/*
Package engine implements the synchronization engine and the conflict resolver.

Both paths order a batch deterministically (timestamp, then arrival index, then
user ID) and merge it field by field into the session's shared state under the
session lock. They differ in how far the version moves:

  - Synchronize advances the version by one per applied update.
  - Resolve folds the whole batch into a single resolution step and advances it by one.

Cursor and selection updates found in either kind of batch are handed to the
presence tracker and never move the version.
*/
package engine
