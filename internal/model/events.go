// ABOUTME: Typed change events broadcast to other instances after a committed mutation
// ABOUTME: Encode/Decode validate the tag and required fields so the wire form stays schema-checked

package model

import (
	"encoding/json"
	"time"
)

// EventType tags a change event variant.
type EventType string

const (
	// EventChatMetaAndGroup signals that chat metadata, a group, or the
	// hierarchy changed. ID optionally narrows it to one chat.
	EventChatMetaAndGroup EventType = "chat_meta_and_chat_group"
	// EventChatContent signals the reply tree of one chat changed.
	EventChatContent EventType = "chat_content"
	// EventGeneration signals a generation lifecycle change for one chat.
	EventGeneration EventType = "chat_content_generation"
	// EventSettings signals the settings document changed.
	EventSettings EventType = "settings"
	// EventMigration signals a backend switch or restore completed.
	EventMigration EventType = "migration"
)

// GenerationStatus is the payload of a chat_content_generation event.
type GenerationStatus string

const (
	GenerationStarted      GenerationStatus = "started"
	GenerationStopped      GenerationStatus = "stopped"
	GenerationAbortRequest GenerationStatus = "abort_request"
)

// ChangeEvent is the cross-instance notification emitted after a locked
// mutation commits. Subscribers treat every variant as "refresh this
// resource", so duplicate delivery across channels is harmless.
type ChangeEvent struct {
	Type      EventType        `json:"type"`
	ID        string           `json:"id,omitempty"`
	Status    GenerationStatus `json:"status,omitempty"`
	Timestamp time.Time        `json:"timestamp"`

	// Seq orders events written through the shared-key fallback channel.
	// Zero for events that only travelled in-process.
	Seq uint64 `json:"seq,omitempty"`
}

// Validate checks the tag and the fields that tag requires.
func (e *ChangeEvent) Validate() error {
	switch e.Type {
	case EventChatMetaAndGroup, EventSettings, EventMigration:
	case EventChatContent:
		if e.ID == "" {
			return invalid("change_event", "id", "required for chat_content")
		}
	case EventGeneration:
		if e.ID == "" {
			return invalid("change_event", "id", "required for chat_content_generation")
		}
		switch e.Status {
		case GenerationStarted, GenerationStopped, GenerationAbortRequest:
		default:
			return invalid("change_event", "status", "unknown status "+string(e.Status))
		}
	case "":
		return invalid("change_event", "type", "must not be empty")
	default:
		return invalid("change_event", "type", "unknown type "+string(e.Type))
	}
	return nil
}

// EncodeEvent serializes a validated event.
func EncodeEvent(e *ChangeEvent) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeEvent parses and validates a serialized event.
func DecodeEvent(data []byte) (*ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, invalid("change_event", "", "malformed event: "+err.Error())
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
