// ABOUTME: Package service is the storage façade every caller goes through
// ABOUTME: Lock-wrapped updaters, post-commit change events, diagnostics on failure

// Package service exposes stored chat state behind a single façade.
//
// Reads pass through to the active storage provider unlocked; atomic
// provider writes guarantee a reader never sees a torn value. Mutations
// follow one shape: acquire the named lock for the affected key, load the
// current value, run the caller's updater on it (nil when absent), save the
// result, release the lock, then publish a change event. The updater shape
// makes every mutation a read-modify-write, which is what keeps concurrent
// instances from clobbering each other's edits.
//
// Lock keys never nest. Operations spanning two domains, like deleting a
// chat's metadata and content, take the keys sequentially and leave a
// tolerable intermediate state rather than risking lock-order deadlocks.
package service
