// ABOUTME: Attachment and BinaryObject types for binary payload metadata
// ABOUTME: Attachment status tracks whether bytes are durable, in-process only, or lost

package model

import "time"

// AttachmentStatus describes where an attachment's bytes live.
type AttachmentStatus string

const (
	// AttachmentPersisted means the bytes are durable in the binary store
	// under the attachment's ID.
	AttachmentPersisted AttachmentStatus = "persisted"
	// AttachmentMemory means the bytes exist only in the writing process.
	// This status must never survive a successful write to a
	// binary-capable backend.
	AttachmentMemory AttachmentStatus = "memory"
	// AttachmentMissing means the bytes are gone, typically because the
	// chat passed through a backend without binary support.
	AttachmentMissing AttachmentStatus = "missing"
)

// Attachment is a file attached to a message node. The payload itself is
// stored separately as a BinaryObject keyed by the attachment ID; Data only
// carries in-process bytes for status "memory" and is never serialized.
type Attachment struct {
	ID           string           `json:"id"`
	OriginalName string           `json:"original_name,omitempty"`
	MimeType     string           `json:"mime_type,omitempty"`
	Size         int64            `json:"size"`
	UploadedAt   time.Time        `json:"uploaded_at"`
	Status       AttachmentStatus `json:"status"`

	// Data holds the raw bytes while Status is "memory". It never touches
	// the serialized form.
	Data []byte `json:"-"`
}

// Validate checks the attachment's serialized shape.
func (a *Attachment) Validate() error {
	if a.ID == "" {
		return invalid("attachment", "id", "must not be empty")
	}
	switch a.Status {
	case AttachmentPersisted, AttachmentMemory, AttachmentMissing:
	case "":
		return invalid("attachment", "status", "must not be empty")
	default:
		return invalid("attachment", "status", "unknown status "+string(a.Status))
	}
	if a.Size < 0 {
		return invalid("attachment", "size", "must not be negative")
	}
	return nil
}

// BinaryObject is the metadata record for a stored binary payload. It is
// decoupled from any single Attachment so the same bytes can be referenced
// from multiple places. Objects are immutable once written; the store never
// garbage-collects them on its own.
type BinaryObject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the binary object metadata.
func (b *BinaryObject) Validate() error {
	if b.ID == "" {
		return invalid("binary_object", "id", "must not be empty")
	}
	if b.Size < 0 {
		return invalid("binary_object", "size", "must not be negative")
	}
	return nil
}
