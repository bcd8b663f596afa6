// ABOUTME: Hierarchical directory-tree backend with per-entity JSON documents
// ABOUTME: Documents live under settings/hierarchy/chats/groups; blobs in the sharded store

package treestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/emberchat/ember/internal/fsutil"
	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/storage"
)

func init() {
	storage.Register(storage.KindTree, func(cfg storage.Config) (storage.Provider, error) {
		return Open(cfg)
	})
}

// Store is the hierarchical backend. Every entity is one JSON document in a
// predictable location; binary payloads live in the sharded blob store.
//
// Layout under the root:
//
//	settings.json
//	hierarchy.json
//	chats/<id>/meta.json
//	chats/<id>/content.json
//	groups/<id>.json
//	blobs/<shard>/<id>.bin|<id>.ok|index.json
type Store struct {
	root   string
	logger *slog.Logger
}

// Open opens (or creates) the tree store under cfg.DataDir.
func Open(cfg storage.Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		root:   filepath.Join(cfg.DataDir, "tree"),
		logger: logger.With("component", "treestore"),
	}
	if err := s.Init(context.Background()); err != nil {
		return nil, err
	}
	s.logger.Info("tree store opened", "root", s.root)
	return s, nil
}

// Init creates the directory skeleton. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	for _, dir := range []string{s.root, s.chatsDir(), s.groupsDir(), s.blobsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating store directory: %w", err)
		}
	}
	return nil
}

// Kind implements storage.Provider.
func (s *Store) Kind() storage.Kind { return storage.KindTree }

// CanPersistBinary implements storage.Provider.
func (s *Store) CanPersistBinary() bool { return true }

// Close implements storage.Provider. The tree store holds no handles open
// between operations.
func (s *Store) Close() error { return nil }

func (s *Store) settingsPath() string       { return filepath.Join(s.root, "settings.json") }
func (s *Store) hierarchyPath() string      { return filepath.Join(s.root, "hierarchy.json") }
func (s *Store) chatsDir() string           { return filepath.Join(s.root, "chats") }
func (s *Store) chatDir(id string) string   { return filepath.Join(s.chatsDir(), id) }
func (s *Store) metaPath(id string) string  { return filepath.Join(s.chatDir(id), "meta.json") }
func (s *Store) contentPath(id string) string {
	return filepath.Join(s.chatDir(id), "content.json")
}
func (s *Store) groupsDir() string          { return filepath.Join(s.root, "groups") }
func (s *Store) groupPath(id string) string { return filepath.Join(s.groupsDir(), id+".json") }
func (s *Store) blobsDir() string           { return filepath.Join(s.root, "blobs") }

// readDoc returns a document's bytes, or (nil, nil) when absent.
func (s *Store) readDoc(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}
	return data, nil
}

// LoadHierarchy implements storage.Provider.
func (s *Store) LoadHierarchy(ctx context.Context) (*model.Hierarchy, error) {
	data, err := s.readDoc(s.hierarchyPath())
	if err != nil || data == nil {
		return nil, err
	}
	h, err := model.DecodeHierarchy(data)
	if err != nil {
		s.logger.Warn("corrupt hierarchy document", "error", err)
		return nil, nil
	}
	return h, nil
}

// SaveHierarchy implements storage.Provider.
func (s *Store) SaveHierarchy(ctx context.Context, h *model.Hierarchy) error {
	if err := h.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encoding hierarchy: %w", err)
	}
	return fsutil.AtomicWriteFile(s.hierarchyPath(), data, 0644)
}

// LoadChatMeta implements storage.Provider.
func (s *Store) LoadChatMeta(ctx context.Context, id string) (*model.ChatMeta, error) {
	data, err := s.readDoc(s.metaPath(id))
	if err != nil || data == nil {
		return nil, err
	}
	m, err := model.DecodeChatMeta(data)
	if err != nil {
		s.logger.Warn("corrupt chat meta document", "chat_id", id, "error", err)
		return nil, nil
	}
	return m, nil
}

// SaveChatMeta implements storage.Provider.
func (s *Store) SaveChatMeta(ctx context.Context, m *model.ChatMeta) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding chat meta: %w", err)
	}
	return fsutil.AtomicWriteFile(s.metaPath(m.ID), data, 0644)
}

// DeleteChatMeta implements storage.Provider. Removing the last document of
// a chat removes its directory.
func (s *Store) DeleteChatMeta(ctx context.Context, id string) error {
	if err := os.Remove(s.metaPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting chat meta: %w", err)
	}
	s.removeChatDirIfEmpty(id)
	return nil
}

// ListChatMetas implements storage.Provider. Chats whose meta document is
// corrupt or absent are skipped.
func (s *Store) ListChatMetas(ctx context.Context) ([]*model.ChatMeta, error) {
	entries, err := os.ReadDir(s.chatsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	var metas []*model.ChatMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := s.LoadChatMeta(ctx, e.Name())
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		metas = append(metas, m)
	}
	return metas, nil
}

// LoadChatContent implements storage.Provider.
func (s *Store) LoadChatContent(ctx context.Context, id string) (*model.ChatContent, error) {
	data, err := s.readDoc(s.contentPath(id))
	if err != nil || data == nil {
		return nil, err
	}
	c, err := model.DecodeChatContent(data)
	if err != nil {
		s.logger.Warn("corrupt chat content document", "chat_id", id, "error", err)
		return nil, nil
	}
	return c, nil
}

// SaveChatContent implements storage.Provider.
func (s *Store) SaveChatContent(ctx context.Context, id string, c *model.ChatContent) error {
	if id == "" {
		return &model.ValidationError{Entity: "chat_content", Field: "id", Reason: "must not be empty"}
	}
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding chat content: %w", err)
	}
	return fsutil.AtomicWriteFile(s.contentPath(id), data, 0644)
}

// DeleteChatContent implements storage.Provider.
func (s *Store) DeleteChatContent(ctx context.Context, id string) error {
	if err := os.Remove(s.contentPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting chat content: %w", err)
	}
	s.removeChatDirIfEmpty(id)
	return nil
}

func (s *Store) removeChatDirIfEmpty(id string) {
	// best effort; a non-empty dir is left alone
	os.Remove(s.chatDir(id))
}

// LoadChatGroup implements storage.Provider.
func (s *Store) LoadChatGroup(ctx context.Context, id string) (*model.ChatGroup, error) {
	data, err := s.readDoc(s.groupPath(id))
	if err != nil || data == nil {
		return nil, err
	}
	g, err := model.DecodeChatGroup(data)
	if err != nil {
		s.logger.Warn("corrupt chat group document", "group_id", id, "error", err)
		return nil, nil
	}
	return g, nil
}

// SaveChatGroup implements storage.Provider.
func (s *Store) SaveChatGroup(ctx context.Context, g *model.ChatGroup) error {
	if err := g.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding chat group: %w", err)
	}
	return fsutil.AtomicWriteFile(s.groupPath(g.ID), data, 0644)
}

// DeleteChatGroup implements storage.Provider.
func (s *Store) DeleteChatGroup(ctx context.Context, id string) error {
	if err := os.Remove(s.groupPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting chat group: %w", err)
	}
	return nil
}

// ListChatGroups implements storage.Provider. Corrupt documents are skipped.
func (s *Store) ListChatGroups(ctx context.Context) ([]*model.ChatGroup, error) {
	entries, err := os.ReadDir(s.groupsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	var groups []*model.ChatGroup
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		g, err := s.LoadChatGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		if g == nil {
			continue
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// LoadSettings implements storage.Provider.
func (s *Store) LoadSettings(ctx context.Context) (*model.Settings, error) {
	data, err := s.readDoc(s.settingsPath())
	if err != nil || data == nil {
		return nil, err
	}
	st, err := model.DecodeSettings(data)
	if err != nil {
		s.logger.Warn("corrupt settings document", "error", err)
		return nil, nil
	}
	return st, nil
}

// SaveSettings implements storage.Provider.
func (s *Store) SaveSettings(ctx context.Context, st *model.Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return fsutil.AtomicWriteFile(s.settingsPath(), data, 0644)
}

// ClearAll implements storage.Provider. Only this backend's root is wiped;
// the skeleton is recreated so the store stays usable.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("clearing tree store: %w", err)
	}
	return s.Init(ctx)
}
