// ABOUTME: Package coordinator synchronizes storage access across app instances
// ABOUTME: Named file locks plus a dual-channel change broadcast with echo suppression

// Package coordinator keeps concurrent app instances from corrupting shared
// storage and tells them when it changes.
//
// Two mechanisms, both rooted under the application data directory:
//
// Locking. Every mutation of a shared record runs inside WithLock with a
// named key — KeyMeta for the hierarchy/metadata cluster, KeyChatContent(id)
// for a single chat's message tree, KeyGlobal for whole-store operations like
// migration. Keys map to per-key lock files taken with OS advisory locks, so
// exclusion holds across processes, not just goroutines. Waiting is
// surfaced through optional callbacks (OnWaiting after a threshold, OnSlow
// when the held section runs long) and is unbounded by default; callers that
// prefer failure over waiting set AcquireTimeout and handle ErrLockTimeout.
//
// Broadcast. After a mutation commits, Publish sends a ChangeEvent through
// two parallel channels: an in-process fan-out for subscribers in the same
// instance, and a shared key file (events/latest.json) that other instances
// watch. Events carry a sequence number so an instance never re-delivers its
// own writes and duplicate filesystem notifications collapse to one
// delivery. Neither channel is guaranteed in every hosting context, so
// consumers treat events as wake-up hints and reload authoritative state
// from storage.
package coordinator
