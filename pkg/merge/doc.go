/*
Package merge folds StateUpdates into SharedState snapshots.

Merging is field-level, not character-level: each key of an update's data overwrites
the same key of the target subtree, keys absent from the data are untouched, and
values that are objects on both sides merge recursively. Two updates that touch
disjoint fields therefore never clobber each other; two updates that touch the same
field resolve to whichever is applied last under Order.

Every function here is pure: inputs are never mutated and results never alias them.
*/
package merge
