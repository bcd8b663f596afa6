// ABOUTME: Validation error type shared by all persisted domain shapes
// ABOUTME: Carries entity, field and reason so callers can surface precise failures

package model

import "fmt"

// ValidationError is returned when a value fails its schema check before
// being written, or when a serialized form cannot be decoded into a valid
// value. It is never produced for declared backward-compatible defaults.
type ValidationError struct {
	Entity string // e.g. "chat_meta", "settings"
	Field  string // offending field, empty when the whole document is bad
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("invalid %s: field %q: %s", e.Entity, e.Field, e.Reason)
}

// invalid is a shorthand constructor used by Validate implementations.
func invalid(entity, field, reason string) *ValidationError {
	return &ValidationError{Entity: entity, Field: field, Reason: reason}
}
