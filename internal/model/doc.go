// Package model defines the persisted domain types of the ember storage
// core and the schemas of their serialized forms.
//
// # Shapes
//
// Core models:
//
//   - MessageNode: one message in a chat's branching reply tree
//   - ChatMeta / ChatContent: the two independently stored halves of a Chat
//   - ChatGroup: a named, collapsible sidebar container
//   - Hierarchy: the single ordered sidebar document
//   - Attachment / BinaryObject: binary payload metadata
//   - Settings: the global settings document
//
// Cross-cutting shapes:
//
//   - ChangeEvent: typed cross-instance change notifications
//   - Chunk / Snapshot: the backend-agnostic migration representation
//
// # Validation
//
// Every persisted type has a Validate method checked before any write and
// after every decode. Failures are *ValidationError values carrying entity,
// field and reason. Decoders (DecodeSettings, DecodeChatMeta, ...) accept
// declared older layouts and fill backward-compatible defaults; anything
// else fails validation rather than being silently coerced.
//
// # The reply tree
//
// MessageNode trees are stored as nested documents but traversed through
// cycle-safe helpers (Walk, Find, PathTo). ChatContent.CurrentLeafID points
// at the tip of the active path; ActivePath derives the path from it.
package model
