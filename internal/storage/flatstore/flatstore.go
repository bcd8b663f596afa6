// ABOUTME: Flat key-addressed SQLite backend without binary capability
// ABOUTME: One records table keyed by namespace-prefixed keys, WAL mode for concurrent readers

package flatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/storage"
)

const (
	keySettings  = "settings"
	keyHierarchy = "hierarchy"

	prefixChatMeta    = "chat-meta:"
	prefixChatContent = "chat-content:"
	prefixGroup       = "group:"
)

func init() {
	storage.Register(storage.KindFlat, func(cfg storage.Config) (storage.Provider, error) {
		return Open(cfg)
	})
}

// Store is the flat backend: every document lives as one row in a single
// records table, addressed by a namespace-prefixed key. It cannot persist
// binary payloads.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the flat store under cfg.DataDir. Parent
// directories are created if needed.
func Open(cfg storage.Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "flatstore")

	path := filepath.Join(cfg.DataDir, "flat.db")
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps unlocked readers off the writers' backs
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("flat store opened", "path", path)
	return s, nil
}

// OpenMemory opens an in-memory flat store, used by tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Each pooled connection gets its own :memory: database, so the pool
	// must stay at a single connection.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.Default().With("component", "flatstore")}
	if err := s.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the schema if it does not exist. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS records (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Kind implements storage.Provider.
func (s *Store) Kind() storage.Kind { return storage.KindFlat }

// CanPersistBinary implements storage.Provider. The flat backend has no
// byte storage.
func (s *Store) CanPersistBinary() bool { return false }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// get returns the raw value for a key, or (nil, nil) when absent.
func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM records WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading record %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing record %q: %w", key, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting record %q: %w", key, err)
	}
	return nil
}

// LoadHierarchy implements storage.Provider.
func (s *Store) LoadHierarchy(ctx context.Context) (*model.Hierarchy, error) {
	data, err := s.get(ctx, keyHierarchy)
	if err != nil || data == nil {
		return nil, err
	}
	h, err := model.DecodeHierarchy(data)
	if err != nil {
		// Corrupt single record reads as not found
		s.logger.Warn("corrupt hierarchy record", "error", err)
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
	return s.put(ctx, keyHierarchy, data)
}

// LoadChatMeta implements storage.Provider.
func (s *Store) LoadChatMeta(ctx context.Context, id string) (*model.ChatMeta, error) {
	data, err := s.get(ctx, prefixChatMeta+id)
	if err != nil || data == nil {
		return nil, err
	}
	m, err := model.DecodeChatMeta(data)
	if err != nil {
		s.logger.Warn("corrupt chat meta record", "chat_id", id, "error", err)
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
	return s.put(ctx, prefixChatMeta+m.ID, data)
}

// DeleteChatMeta implements storage.Provider.
func (s *Store) DeleteChatMeta(ctx context.Context, id string) error {
	return s.delete(ctx, prefixChatMeta+id)
}

// ListChatMetas implements storage.Provider. Corrupt rows are skipped.
func (s *Store) ListChatMetas(ctx context.Context) ([]*model.ChatMeta, error) {
	return listPrefixed(ctx, s, prefixChatMeta, model.DecodeChatMeta)
}

// LoadChatContent implements storage.Provider.
func (s *Store) LoadChatContent(ctx context.Context, id string) (*model.ChatContent, error) {
	data, err := s.get(ctx, prefixChatContent+id)
	if err != nil || data == nil {
		return nil, err
	}
	c, err := model.DecodeChatContent(data)
	if err != nil {
		s.logger.Warn("corrupt chat content record", "chat_id", id, "error", err)
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
	return s.put(ctx, prefixChatContent+id, data)
}

// DeleteChatContent implements storage.Provider.
func (s *Store) DeleteChatContent(ctx context.Context, id string) error {
	return s.delete(ctx, prefixChatContent+id)
}

// LoadChatGroup implements storage.Provider.
func (s *Store) LoadChatGroup(ctx context.Context, id string) (*model.ChatGroup, error) {
	data, err := s.get(ctx, prefixGroup+id)
	if err != nil || data == nil {
		return nil, err
	}
	g, err := model.DecodeChatGroup(data)
	if err != nil {
		s.logger.Warn("corrupt chat group record", "group_id", id, "error", err)
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
	return s.put(ctx, prefixGroup+g.ID, data)
}

// DeleteChatGroup implements storage.Provider.
func (s *Store) DeleteChatGroup(ctx context.Context, id string) error {
	return s.delete(ctx, prefixGroup+id)
}

// ListChatGroups implements storage.Provider. Corrupt rows are skipped.
func (s *Store) ListChatGroups(ctx context.Context) ([]*model.ChatGroup, error) {
	return listPrefixed(ctx, s, prefixGroup, model.DecodeChatGroup)
}

// LoadSettings implements storage.Provider.
func (s *Store) LoadSettings(ctx context.Context) (*model.Settings, error) {
	data, err := s.get(ctx, keySettings)
	if err != nil || data == nil {
		return nil, err
	}
	st, err := model.DecodeSettings(data)
	if err != nil {
		s.logger.Warn("corrupt settings record", "error", err)
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
	return s.put(ctx, keySettings, data)
}

// SaveFile implements storage.Provider; the flat backend stores no bytes.
func (s *Store) SaveFile(ctx context.Context, req *storage.SaveFileRequest) error {
	return storage.ErrNoBinarySupport
}

// GetFile implements storage.Provider.
func (s *Store) GetFile(ctx context.Context, id string) ([]byte, error) {
	return nil, storage.ErrNoBinarySupport
}

// HasAttachments implements storage.Provider.
func (s *Store) HasAttachments(ctx context.Context) (bool, error) {
	return false, nil
}

// ListBinaryObjects implements storage.Provider.
func (s *Store) ListBinaryObjects(ctx context.Context) ([]*model.BinaryObject, error) {
	return nil, nil
}

// DeleteBinaryObject implements storage.Provider.
func (s *Store) DeleteBinaryObject(ctx context.Context, id string) error {
	return storage.ErrNoBinarySupport
}

// ClearAll implements storage.Provider. Only this backend's records table
// is touched.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("clearing records: %w", err)
	}
	return nil
}

// listPrefixed scans all records under a key prefix, decoding each with
// decode and skipping rows that fail.
func listPrefixed[T any](ctx context.Context, s *Store, prefix string, decode func([]byte) (*T, error)) ([]*T, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM records WHERE key LIKE ? ORDER BY key", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("listing records %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		v, err := decode(value)
		if err != nil {
			s.logger.Warn("skipping corrupt record", "key", key, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
