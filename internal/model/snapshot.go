// ABOUTME: Backend-agnostic Snapshot with a lazy chunk stream for migration and backup
// ABOUTME: Chunks are tagged variants so bulk content flows without living wholly in memory

package model

import "time"

// ChunkType tags a snapshot content chunk.
type ChunkType string

const (
	ChunkSettings     ChunkType = "settings"
	ChunkChatGroup    ChunkType = "chat_group"
	ChunkChat         ChunkType = "chat"
	ChunkAttachment   ChunkType = "attachment"
	ChunkBinaryObject ChunkType = "binary_object"
)

// AttachmentChunk carries real attachment bytes for one chat's attachment,
// emitted during rescue so the bytes land before the referencing metadata.
type AttachmentChunk struct {
	ChatID       string    `json:"chat_id"`
	AttachmentID string    `json:"attachment_id"`
	OriginalName string    `json:"original_name,omitempty"`
	MimeType     string    `json:"mime_type,omitempty"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Blob         []byte    `json:"-"`
}

// BinaryObjectChunk carries a stored binary object's metadata and bytes.
type BinaryObjectChunk struct {
	BinaryObject
	Blob []byte `json:"-"`
}

// Chunk is one element of a snapshot's content stream. Exactly the field
// matching Type is set.
type Chunk struct {
	Type       ChunkType          `json:"type"`
	Settings   *Settings          `json:"settings,omitempty"`
	Group      *ChatGroup         `json:"chat_group,omitempty"`
	Chat       *Chat              `json:"chat,omitempty"`
	Attachment *AttachmentChunk   `json:"attachment,omitempty"`
	Binary     *BinaryObjectChunk `json:"binary_object,omitempty"`
}

// Validate checks the tag and its payload.
func (c *Chunk) Validate() error {
	switch c.Type {
	case ChunkSettings:
		if c.Settings == nil {
			return invalid("chunk", "settings", "missing payload")
		}
		return c.Settings.Validate()
	case ChunkChatGroup:
		if c.Group == nil {
			return invalid("chunk", "chat_group", "missing payload")
		}
		return c.Group.Validate()
	case ChunkChat:
		if c.Chat == nil {
			return invalid("chunk", "chat", "missing payload")
		}
		return c.Chat.Validate()
	case ChunkAttachment:
		if c.Attachment == nil || c.Attachment.AttachmentID == "" {
			return invalid("chunk", "attachment", "missing payload")
		}
		return nil
	case ChunkBinaryObject:
		if c.Binary == nil {
			return invalid("chunk", "binary_object", "missing payload")
		}
		return c.Binary.Validate()
	default:
		return invalid("chunk", "type", "unknown chunk type "+string(c.Type))
	}
}

// ChunkStream is a pull-based sequence of chunks. Next returns (nil, nil)
// when the stream is exhausted. Streams are single-use and not safe for
// concurrent pulls.
type ChunkStream interface {
	Next() (*Chunk, error)
}

// SnapshotStructure is the eager half of a snapshot: everything needed to
// render a listing, without message bodies or blobs.
type SnapshotStructure struct {
	Settings   *Settings    `json:"settings,omitempty"`
	Hierarchy  *Hierarchy   `json:"hierarchy,omitempty"`
	ChatMetas  []*ChatMeta  `json:"chat_metas"`
	ChatGroups []*ChatGroup `json:"chat_groups"`
}

// Snapshot is the migration unit: the eager structure plus the lazy content
// stream the consumer drains exactly once.
type Snapshot struct {
	Structure SnapshotStructure
	Content   ChunkStream
}

// SliceStream wraps a fixed chunk slice as a ChunkStream. Used by tests and
// by producers whose content is already materialized.
type SliceStream struct {
	chunks []*Chunk
	pos    int
}

// NewSliceStream returns a stream over the given chunks.
func NewSliceStream(chunks []*Chunk) *SliceStream {
	return &SliceStream{chunks: chunks}
}

// Next implements ChunkStream.
func (s *SliceStream) Next() (*Chunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, nil
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// FuncStream adapts a pull function to a ChunkStream.
type FuncStream func() (*Chunk, error)

// Next implements ChunkStream.
func (f FuncStream) Next() (*Chunk, error) { return f() }
