// ABOUTME: Package migration moves whole stores: backend switches and backup archives
// ABOUTME: Rescue relay, rollback on failed restore, id-remapped append imports

// Package migration implements the whole-store operations layered on the
// storage façade: switching between backends, exporting a backup archive,
// and importing one with a dry-run preview.
//
// A backend switch dumps the old provider, replays the snapshot into a
// freshly cleared target, and only then makes the target active. The relay
// is rescue-aware: attachment bytes still living only in process memory are
// emitted ahead of the chat that references them, rewritten to persisted,
// so a restore that dies partway never leaves a dangling persisted
// reference. Any restore failure rolls back to the old provider.
//
// Archives are zip files whose layout mirrors the tree backend, including
// the trailing-byte blob sharding, so import and export share the same
// bucket arithmetic as live storage. Import in append mode regenerates
// every identifier through one remap table applied to every
// cross-reference; replace mode wipes first and keeps archive identifiers.
package migration
