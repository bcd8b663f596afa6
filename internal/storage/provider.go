// ABOUTME: StorageProvider contract every backend implements, plus shared request types
// ABOUTME: Missing single-entity reads return (nil, nil); corrupt records degrade to not-found

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/emberchat/ember/internal/model"
)

// ErrNoBinarySupport is returned by SaveFile/GetFile on a backend whose
// CanPersistBinary reports false.
var ErrNoBinarySupport = errors.New("backend cannot persist binary objects")

// SaveFileRequest carries one binary payload into the store. CreatedAt is
// preserved when set so restore and import keep original creation times; a
// zero value means the object is new and the store stamps the current time.
type SaveFileRequest struct {
	BinaryObjectID string
	Name           string
	MimeType       string
	Blob           []byte
	CreatedAt      time.Time
}

// Provider is the capability set any storage backend must implement.
//
// Contract notes:
//
//   - Init is idempotent; calling it on an initialized store is a no-op.
//   - Every load of a single entity returns (nil, nil) when the entity is
//     absent or its stored form is corrupt; bulk listings skip corrupt
//     records instead of failing.
//   - Every save validates the value first and returns a
//     *model.ValidationError without touching storage on failure.
//   - ClearAll wipes only this provider's own namespace.
//   - The provider itself performs no cross-process locking; callers
//     serialize writes through the coordinator.
type Provider interface {
	// Init prepares the backend (schema, directories). Idempotent.
	Init(ctx context.Context) error

	// Kind reports which registered backend this is.
	Kind() Kind

	// CanPersistBinary reports whether SaveFile stores real bytes. A
	// backend without the capability must leave attachments marked
	// "missing" or "memory" rather than silently dropping bytes.
	CanPersistBinary() bool

	LoadHierarchy(ctx context.Context) (*model.Hierarchy, error)
	SaveHierarchy(ctx context.Context, h *model.Hierarchy) error

	LoadChatMeta(ctx context.Context, id string) (*model.ChatMeta, error)
	SaveChatMeta(ctx context.Context, m *model.ChatMeta) error
	DeleteChatMeta(ctx context.Context, id string) error
	ListChatMetas(ctx context.Context) ([]*model.ChatMeta, error)

	LoadChatContent(ctx context.Context, id string) (*model.ChatContent, error)
	SaveChatContent(ctx context.Context, id string, c *model.ChatContent) error
	DeleteChatContent(ctx context.Context, id string) error

	LoadChatGroup(ctx context.Context, id string) (*model.ChatGroup, error)
	SaveChatGroup(ctx context.Context, g *model.ChatGroup) error
	DeleteChatGroup(ctx context.Context, id string) error
	ListChatGroups(ctx context.Context) ([]*model.ChatGroup, error)

	LoadSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s *model.Settings) error

	// SaveFile persists one binary payload; GetFile returns (nil, nil)
	// for an unknown or not-yet-committed object.
	SaveFile(ctx context.Context, req *SaveFileRequest) error
	GetFile(ctx context.Context, id string) ([]byte, error)
	HasAttachments(ctx context.Context) (bool, error)
	ListBinaryObjects(ctx context.Context) ([]*model.BinaryObject, error)
	DeleteBinaryObject(ctx context.Context, id string) error

	// Dump produces the backend-agnostic snapshot; Restore replaces the
	// full state from one. Restore expects a cleared store.
	Dump(ctx context.Context) (*model.Snapshot, error)
	Restore(ctx context.Context, snap *model.Snapshot) error

	// ClearAll wipes this provider's namespace.
	ClearAll(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}
