// ABOUTME: StorageService façade: lock-wrapped read-modify-write over the active provider
// ABOUTME: Every committed mutation publishes a change event after the lock is released

package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emberchat/ember/internal/coordinator"
	"github.com/emberchat/ember/internal/diag"
	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/storage"
)

// Coordinator is the slice of the coordinator the service needs.
type Coordinator interface {
	WithLock(ctx context.Context, key coordinator.LockKey, fn func(ctx context.Context) error) error
	Publish(event *model.ChangeEvent)
}

// Service is the single entry point for reading and mutating stored state.
// Reads pass straight through to the active provider; mutations run a
// caller-supplied updater against the current value inside the proper named
// lock, save the result, and publish a change event once the lock is
// released. No operation ever holds two lock keys at once.
type Service struct {
	coord  Coordinator
	diag   *diag.Reporter
	logger *slog.Logger

	mu       sync.RWMutex
	provider storage.Provider
}

// New creates a Service over the given provider.
func New(provider storage.Provider, coord Coordinator, reporter *diag.Reporter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = diag.NewReporter(0, logger)
	}
	return &Service{
		coord:    coord,
		diag:     reporter,
		logger:   logger.With("component", "service"),
		provider: provider,
	}
}

// Provider returns the active storage provider.
func (s *Service) Provider() storage.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// SetProvider swaps the active provider. The migration engine calls this
// after a successful backend switch, while it holds the global lock.
func (s *Service) SetProvider(p storage.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = p
}

// Diag returns the diagnostic reporter for this service.
func (s *Service) Diag() *diag.Reporter {
	return s.diag
}

// Read passthroughs. Reads are deliberately unlocked: providers write
// atomically, so a concurrent reader sees either the old or the new
// committed value, never a torn one.

func (s *Service) LoadHierarchy(ctx context.Context) (*model.Hierarchy, error) {
	return s.Provider().LoadHierarchy(ctx)
}

func (s *Service) LoadChatMeta(ctx context.Context, id string) (*model.ChatMeta, error) {
	return s.Provider().LoadChatMeta(ctx, id)
}

func (s *Service) ListChatMetas(ctx context.Context) ([]*model.ChatMeta, error) {
	return s.Provider().ListChatMetas(ctx)
}

func (s *Service) LoadChatContent(ctx context.Context, id string) (*model.ChatContent, error) {
	return s.Provider().LoadChatContent(ctx, id)
}

func (s *Service) LoadChatGroup(ctx context.Context, id string) (*model.ChatGroup, error) {
	return s.Provider().LoadChatGroup(ctx, id)
}

func (s *Service) ListChatGroups(ctx context.Context) ([]*model.ChatGroup, error) {
	return s.Provider().ListChatGroups(ctx)
}

// LoadSettings returns the stored settings, falling back to defaults when
// nothing has been written yet.
func (s *Service) LoadSettings(ctx context.Context) (*model.Settings, error) {
	settings, err := s.Provider().LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return model.DefaultSettings(), nil
	}
	return settings, nil
}

// UpdateChatMeta runs updater against the stored metadata for id (nil when
// the chat is unknown) and saves the result under the metadata lock.
// Updater returning (nil, nil) leaves storage untouched.
func (s *Service) UpdateChatMeta(ctx context.Context, id string, updater func(*model.ChatMeta) (*model.ChatMeta, error)) error {
	changed, err := runUpdate(ctx, s, coordinator.KeyMeta,
		func(ctx context.Context, p storage.Provider) (*model.ChatMeta, error) {
			return p.LoadChatMeta(ctx, id)
		},
		func(ctx context.Context, p storage.Provider, m *model.ChatMeta) error {
			return p.SaveChatMeta(ctx, m)
		},
		updater)
	if err != nil {
		return s.fail("update chat meta", id, err)
	}
	if changed {
		s.coord.Publish(&model.ChangeEvent{Type: model.EventChatMetaAndGroup, ID: id})
	}
	return nil
}

// UpdateChatContent runs updater against the stored message tree for id
// under that chat's content lock.
func (s *Service) UpdateChatContent(ctx context.Context, id string, updater func(*model.ChatContent) (*model.ChatContent, error)) error {
	changed, err := runUpdate(ctx, s, coordinator.KeyChatContent(id),
		func(ctx context.Context, p storage.Provider) (*model.ChatContent, error) {
			return p.LoadChatContent(ctx, id)
		},
		func(ctx context.Context, p storage.Provider, c *model.ChatContent) error {
			return p.SaveChatContent(ctx, id, c)
		},
		updater)
	if err != nil {
		return s.fail("update chat content", id, err)
	}
	if changed {
		s.coord.Publish(&model.ChangeEvent{Type: model.EventChatContent, ID: id})
	}
	return nil
}

// UpdateHierarchy runs updater against the stored hierarchy under the
// metadata lock. An absent hierarchy is presented as an empty one.
func (s *Service) UpdateHierarchy(ctx context.Context, updater func(*model.Hierarchy) (*model.Hierarchy, error)) error {
	changed, err := runUpdate(ctx, s, coordinator.KeyMeta,
		func(ctx context.Context, p storage.Provider) (*model.Hierarchy, error) {
			h, err := p.LoadHierarchy(ctx)
			if err != nil {
				return nil, err
			}
			if h == nil {
				h = &model.Hierarchy{}
			}
			return h, nil
		},
		func(ctx context.Context, p storage.Provider, h *model.Hierarchy) error {
			return p.SaveHierarchy(ctx, h)
		},
		updater)
	if err != nil {
		return s.fail("update hierarchy", "", err)
	}
	if changed {
		s.coord.Publish(&model.ChangeEvent{Type: model.EventChatMetaAndGroup})
	}
	return nil
}

// UpdateChatGroup runs updater against the stored group for id under the
// metadata lock. Updater returning (nil, nil) deletes the group record.
func (s *Service) UpdateChatGroup(ctx context.Context, id string, updater func(*model.ChatGroup) (*model.ChatGroup, error)) error {
	var changed bool
	err := s.coord.WithLock(ctx, coordinator.KeyMeta, func(ctx context.Context) error {
		p := s.Provider()
		current, err := p.LoadChatGroup(ctx, id)
		if err != nil {
			return err
		}
		next, err := updater(current)
		if err != nil {
			return err
		}
		if next == nil {
			if current == nil {
				return nil
			}
			if err := p.DeleteChatGroup(ctx, id); err != nil {
				return err
			}
			changed = true
			return nil
		}
		if err := p.SaveChatGroup(ctx, next); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return s.fail("update chat group", id, err)
	}
	if changed {
		s.coord.Publish(&model.ChangeEvent{Type: model.EventChatMetaAndGroup, ID: id})
	}
	return nil
}

// DeleteChatGroup removes a group and splices its hierarchy entry out,
// promoting any children to the deleted group's position.
func (s *Service) DeleteChatGroup(ctx context.Context, id string) error {
	err := s.coord.WithLock(ctx, coordinator.KeyMeta, func(ctx context.Context) error {
		p := s.Provider()
		if err := p.DeleteChatGroup(ctx, id); err != nil {
			return err
		}
		h, err := p.LoadHierarchy(ctx)
		if err != nil || h == nil {
			return err
		}
		h.Entries = spliceGroup(h.Entries, id)
		return p.SaveHierarchy(ctx, h)
	})
	if err != nil {
		return s.fail("delete chat group", id, err)
	}
	s.coord.Publish(&model.ChangeEvent{Type: model.EventChatMetaAndGroup, ID: id})
	return nil
}

// spliceGroup removes the entry for groupID, lifting its members into its
// sidebar position as bare chat entries.
func spliceGroup(entries []model.HierarchyEntry, groupID string) []model.HierarchyEntry {
	out := make([]model.HierarchyEntry, 0, len(entries))
	for _, e := range entries {
		if e.Kind == model.EntryGroup && e.GroupID == groupID {
			for _, chatID := range e.Members {
				out = append(out, model.HierarchyEntry{Kind: model.EntryChat, ChatID: chatID})
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

// UpdateSettings runs updater against the stored settings under the global
// lock. An absent settings record is presented as the defaults.
func (s *Service) UpdateSettings(ctx context.Context, updater func(*model.Settings) (*model.Settings, error)) error {
	changed, err := runUpdate(ctx, s, coordinator.KeyGlobal,
		func(ctx context.Context, p storage.Provider) (*model.Settings, error) {
			settings, err := p.LoadSettings(ctx)
			if err != nil {
				return nil, err
			}
			if settings == nil {
				settings = model.DefaultSettings()
			}
			return settings, nil
		},
		func(ctx context.Context, p storage.Provider, v *model.Settings) error {
			return p.SaveSettings(ctx, v)
		},
		updater)
	if err != nil {
		return s.fail("update settings", "", err)
	}
	if changed {
		s.coord.Publish(&model.ChangeEvent{Type: model.EventSettings})
	}
	return nil
}

// SaveAttachment persists the in-memory bytes of a "memory" attachment and
// flips its status to "persisted". On a backend without binary support the
// attachment is left untouched and ErrNoBinarySupport is returned; the
// caller decides whether memory status is acceptable.
func (s *Service) SaveAttachment(ctx context.Context, att *model.Attachment) error {
	if att.Status == model.AttachmentPersisted {
		return nil
	}
	if att.Data == nil {
		return s.fail("save attachment", att.ID,
			&model.ValidationError{Entity: "attachment", Field: "data", Reason: "no bytes to persist"})
	}
	p := s.Provider()
	if !p.CanPersistBinary() {
		return storage.ErrNoBinarySupport
	}
	err := p.SaveFile(ctx, &storage.SaveFileRequest{
		BinaryObjectID: att.ID,
		Name:           att.OriginalName,
		MimeType:       att.MimeType,
		Blob:           att.Data,
		CreatedAt:      att.UploadedAt,
	})
	if err != nil {
		return s.fail("save attachment", att.ID, err)
	}
	att.Status = model.AttachmentPersisted
	att.Size = int64(len(att.Data))
	att.Data = nil
	return nil
}

// GetAttachment returns the stored bytes for an attachment ID, or
// (nil, nil) when the bytes were never committed.
func (s *Service) GetAttachment(ctx context.Context, id string) ([]byte, error) {
	return s.Provider().GetFile(ctx, id)
}

// DeleteChat removes a chat's metadata, hierarchy entry and content. The
// metadata lock and the content lock are taken one after the other, never
// nested; a reader between the two sees a chat mid-deletion, which
// decoders already tolerate as a missing record.
func (s *Service) DeleteChat(ctx context.Context, id string) error {
	err := s.coord.WithLock(ctx, coordinator.KeyMeta, func(ctx context.Context) error {
		p := s.Provider()
		if err := p.DeleteChatMeta(ctx, id); err != nil {
			return err
		}
		h, err := p.LoadHierarchy(ctx)
		if err != nil || h == nil {
			return err
		}
		h.Entries = removeChat(h.Entries, id)
		return p.SaveHierarchy(ctx, h)
	})
	if err != nil {
		return s.fail("delete chat meta", id, err)
	}

	err = s.coord.WithLock(ctx, coordinator.KeyChatContent(id), func(ctx context.Context) error {
		return s.Provider().DeleteChatContent(ctx, id)
	})
	if err != nil {
		return s.fail("delete chat content", id, err)
	}

	s.coord.Publish(&model.ChangeEvent{Type: model.EventChatMetaAndGroup, ID: id})
	s.coord.Publish(&model.ChangeEvent{Type: model.EventChatContent, ID: id})
	return nil
}

// removeChat drops the bare entry for the chat and strips it from every
// group's member list.
func removeChat(entries []model.HierarchyEntry, chatID string) []model.HierarchyEntry {
	out := make([]model.HierarchyEntry, 0, len(entries))
	for _, e := range entries {
		if e.Kind == model.EntryChat && e.ChatID == chatID {
			continue
		}
		if e.Kind == model.EntryGroup {
			members := make([]string, 0, len(e.Members))
			for _, m := range e.Members {
				if m != chatID {
					members = append(members, m)
				}
			}
			e.Members = members
		}
		out = append(out, e)
	}
	return out
}

// NotifyGeneration broadcasts a generation status change for a chat. This
// is broadcast-only: generation state is ephemeral and never stored.
func (s *Service) NotifyGeneration(chatID string, status model.GenerationStatus) {
	s.coord.Publish(&model.ChangeEvent{
		Type:   model.EventGeneration,
		ID:     chatID,
		Status: status,
	})
}

// ClearAll wipes the active provider's namespace under the global lock.
func (s *Service) ClearAll(ctx context.Context) error {
	err := s.coord.WithLock(ctx, coordinator.KeyGlobal, func(ctx context.Context) error {
		return s.Provider().ClearAll(ctx)
	})
	if err != nil {
		return s.fail("clear all", "", err)
	}
	s.coord.Publish(&model.ChangeEvent{Type: model.EventMigration, Timestamp: time.Now().UTC()})
	return nil
}

// fail routes an operation failure through diagnostics and wraps it.
func (s *Service) fail(op, id string, err error) error {
	details := map[string]any{"error": err.Error()}
	if id != "" {
		details["id"] = id
	}
	s.diag.Report("service", op+" failed", details)
	if id != "" {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// runUpdate is the shared read-modify-write skeleton: lock, load current,
// apply updater, save. Updater returning a nil value skips the save.
func runUpdate[T any](
	ctx context.Context,
	s *Service,
	key coordinator.LockKey,
	load func(ctx context.Context, p storage.Provider) (*T, error),
	save func(ctx context.Context, p storage.Provider, v *T) error,
	updater func(*T) (*T, error),
) (bool, error) {
	var changed bool
	err := s.coord.WithLock(ctx, key, func(ctx context.Context) error {
		p := s.Provider()
		current, err := load(ctx, p)
		if err != nil {
			return err
		}
		next, err := updater(current)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if err := save(ctx, p, next); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}
