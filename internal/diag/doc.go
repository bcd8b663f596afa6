// ABOUTME: Package diag retains recent storage diagnostics for UI surfacing
// ABOUTME: Ring buffer plus subscriber fan-out, mirrored to the structured log

// Package diag collects storage-layer diagnostics that are worth showing a
// user but not worth failing an operation over: records skipped as corrupt,
// locks held past their advisory thresholds, best-effort broadcast channels
// failing.
//
// The Reporter keeps a bounded ring of recent events for after-the-fact
// inspection (the diag CLI command reads it) and fans live events out to
// subscribers so a host can raise a "storage is struggling" indicator the
// moment something degrades. Everything is also mirrored to slog.
package diag
