// ABOUTME: Mock in-memory Provider implementation for testing
// ABOUTME: Allows service and migration tests to run without SQLite or a filesystem

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emberchat/ember/internal/model"
)

// MockProvider is an in-memory Provider for tests. Binary capability is
// configurable so both backend shapes can be simulated.
type MockProvider struct {
	mu        sync.RWMutex
	kind      Kind
	binary    bool
	settings  *model.Settings
	hierarchy *model.Hierarchy
	metas     map[string]*model.ChatMeta
	contents  map[string]*model.ChatContent
	groups    map[string]*model.ChatGroup
	blobs     map[string][]byte
	blobMeta  map[string]*model.BinaryObject

	// FailRestoreAfter, when > 0, makes Restore fail after consuming that
	// many chunks. Used by rollback tests.
	FailRestoreAfter int
}

// NewMockProvider creates a mock of the given kind. Binary support follows
// the kind: tree has it, flat does not.
func NewMockProvider(kind Kind) *MockProvider {
	return &MockProvider{
		kind:     kind,
		binary:   kind == KindTree,
		metas:    make(map[string]*model.ChatMeta),
		contents: make(map[string]*model.ChatContent),
		groups:   make(map[string]*model.ChatGroup),
		blobs:    make(map[string][]byte),
		blobMeta: make(map[string]*model.BinaryObject),
	}
}

// Init implements Provider.
func (m *MockProvider) Init(ctx context.Context) error { return nil }

// Kind implements Provider.
func (m *MockProvider) Kind() Kind { return m.kind }

// CanPersistBinary implements Provider.
func (m *MockProvider) CanPersistBinary() bool { return m.binary }

// Close implements Provider.
func (m *MockProvider) Close() error { return nil }

// LoadHierarchy implements Provider.
func (m *MockProvider) LoadHierarchy(ctx context.Context) (*model.Hierarchy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.hierarchy == nil {
		return nil, nil
	}
	h := *m.hierarchy
	return &h, nil
}

// SaveHierarchy implements Provider.
func (m *MockProvider) SaveHierarchy(ctx context.Context, h *model.Hierarchy) error {
	if err := h.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.hierarchy = &cp
	return nil
}

// LoadChatMeta implements Provider.
func (m *MockProvider) LoadChatMeta(ctx context.Context, id string) (*model.ChatMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.metas[id]
	if !ok {
		return nil, nil
	}
	cp := *meta
	return &cp, nil
}

// SaveChatMeta implements Provider.
func (m *MockProvider) SaveChatMeta(ctx context.Context, meta *model.ChatMeta) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *meta
	m.metas[cp.ID] = &cp
	return nil
}

// DeleteChatMeta implements Provider.
func (m *MockProvider) DeleteChatMeta(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metas, id)
	return nil
}

// ListChatMetas implements Provider.
func (m *MockProvider) ListChatMetas(ctx context.Context) ([]*model.ChatMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.metas))
	for id := range m.metas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*model.ChatMeta, 0, len(ids))
	for _, id := range ids {
		cp := *m.metas[id]
		out = append(out, &cp)
	}
	return out, nil
}

// LoadChatContent implements Provider.
func (m *MockProvider) LoadChatContent(ctx context.Context, id string) (*model.ChatContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contents[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// SaveChatContent implements Provider.
func (m *MockProvider) SaveChatContent(ctx context.Context, id string, c *model.ChatContent) error {
	if id == "" {
		return &model.ValidationError{Entity: "chat_content", Field: "id", Reason: "must not be empty"}
	}
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contents[id] = &cp
	return nil
}

// DeleteChatContent implements Provider.
func (m *MockProvider) DeleteChatContent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contents, id)
	return nil
}

// LoadChatGroup implements Provider.
func (m *MockProvider) LoadChatGroup(ctx context.Context, id string) (*model.ChatGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

// SaveChatGroup implements Provider.
func (m *MockProvider) SaveChatGroup(ctx context.Context, g *model.ChatGroup) error {
	if err := g.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.groups[cp.ID] = &cp
	return nil
}

// DeleteChatGroup implements Provider.
func (m *MockProvider) DeleteChatGroup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, id)
	return nil
}

// ListChatGroups implements Provider.
func (m *MockProvider) ListChatGroups(ctx context.Context) ([]*model.ChatGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*model.ChatGroup, 0, len(ids))
	for _, id := range ids {
		cp := *m.groups[id]
		out = append(out, &cp)
	}
	return out, nil
}

// LoadSettings implements Provider.
func (m *MockProvider) LoadSettings(ctx context.Context) (*model.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, nil
	}
	cp := *m.settings
	return &cp, nil
}

// SaveSettings implements Provider.
func (m *MockProvider) SaveSettings(ctx context.Context, s *model.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings = &cp
	return nil
}

// SaveFile implements Provider.
func (m *MockProvider) SaveFile(ctx context.Context, req *SaveFileRequest) error {
	if !m.binary {
		return ErrNoBinarySupport
	}
	if req.BinaryObjectID == "" {
		return &model.ValidationError{Entity: "binary_object", Field: "id", Reason: "must not be empty"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	blob := make([]byte, len(req.Blob))
	copy(blob, req.Blob)
	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	m.blobs[req.BinaryObjectID] = blob
	m.blobMeta[req.BinaryObjectID] = &model.BinaryObject{
		ID:        req.BinaryObjectID,
		Name:      req.Name,
		MimeType:  req.MimeType,
		Size:      int64(len(blob)),
		CreatedAt: created,
	}
	return nil
}

// GetFile implements Provider.
func (m *MockProvider) GetFile(ctx context.Context, id string) ([]byte, error) {
	if !m.binary {
		return nil, ErrNoBinarySupport
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[id]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

// HasAttachments implements Provider.
func (m *MockProvider) HasAttachments(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs) > 0, nil
}

// ListBinaryObjects implements Provider.
func (m *MockProvider) ListBinaryObjects(ctx context.Context) ([]*model.BinaryObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.blobMeta))
	for id := range m.blobMeta {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*model.BinaryObject, 0, len(ids))
	for _, id := range ids {
		cp := *m.blobMeta[id]
		out = append(out, &cp)
	}
	return out, nil
}

// DeleteBinaryObject implements Provider.
func (m *MockProvider) DeleteBinaryObject(ctx context.Context, id string) error {
	if !m.binary {
		return ErrNoBinarySupport
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id)
	delete(m.blobMeta, id)
	return nil
}

// ClearAll implements Provider.
func (m *MockProvider) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = nil
	m.hierarchy = nil
	m.metas = make(map[string]*model.ChatMeta)
	m.contents = make(map[string]*model.ChatContent)
	m.groups = make(map[string]*model.ChatGroup)
	m.blobs = make(map[string][]byte)
	m.blobMeta = make(map[string]*model.BinaryObject)
	return nil
}
