// ABOUTME: Migration engine: backend switch with blob rescue and rollback
// ABOUTME: Dump runs unlocked for backups; switch holds the global key throughout

package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emberchat/ember/internal/coordinator"
	"github.com/emberchat/ember/internal/diag"
	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/service"
	"github.com/emberchat/ember/internal/storage"
)

// ErrSwitchRolledBack wraps any failure during a backend switch after which
// the previously active provider was kept. The stored data is intact; only
// the switch did not happen.
var ErrSwitchRolledBack = errors.New("backend switch rolled back")

// Engine runs the whole-store operations: backend switches, archive
// export/import and their dry-run analysis.
type Engine struct {
	svc    *service.Service
	coord  service.Coordinator
	diag   *diag.Reporter
	cfg    storage.Config
	logger *slog.Logger

	// open is storage.Open unless a test injects a provider.
	open func(kind storage.Kind, cfg storage.Config) (storage.Provider, error)
}

// NewEngine creates a migration engine over the given service. cfg is used
// to open target providers during a switch.
func NewEngine(svc *service.Service, coord service.Coordinator, cfg storage.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		svc:    svc,
		coord:  coord,
		diag:   svc.Diag(),
		cfg:    cfg,
		logger: logger.With("component", "migration"),
		open:   storage.Open,
	}
}

// DumpWithoutLock snapshots the active provider without taking any lock.
// A write racing the dump may be missed; that is acceptable for a user
// backup and is why SwitchProvider does not use this path.
func (e *Engine) DumpWithoutLock(ctx context.Context) (*model.Snapshot, error) {
	snap, err := e.svc.Provider().Dump(ctx)
	if err != nil {
		return nil, fmt.Errorf("dumping active backend: %w", err)
	}
	return snap, nil
}

// SwitchProvider migrates all stored state to the backend named by newKind
// and makes it the active provider. The whole operation runs under the
// global key. On any restore failure the old provider stays active, the
// half-written target is closed, and the error wraps ErrSwitchRolledBack.
func (e *Engine) SwitchProvider(ctx context.Context, newKind storage.Kind) error {
	old := e.svc.Provider()
	if old.Kind() == newKind {
		return nil
	}

	err := e.coord.WithLock(ctx, coordinator.KeyGlobal, func(ctx context.Context) error {
		snap, err := old.Dump(ctx)
		if err != nil {
			return fmt.Errorf("dumping %s backend: %w", old.Kind(), err)
		}

		target, err := e.open(newKind, e.cfg)
		if err != nil {
			return fmt.Errorf("opening %s backend: %w", newKind, err)
		}
		if err := target.Init(ctx); err != nil {
			target.Close()
			return fmt.Errorf("initializing %s backend: %w", newKind, err)
		}
		if err := target.ClearAll(ctx); err != nil {
			target.Close()
			return fmt.Errorf("clearing %s backend: %w", newKind, err)
		}

		// Relay through the rescue stream so in-memory attachment bytes
		// become durable on a binary-capable target instead of being lost.
		if target.CanPersistBinary() {
			snap.Content = newRescueStream(snap.Content)
		}

		if err := target.Restore(ctx, snap); err != nil {
			target.Close()
			e.diag.Report("migration", "backend switch failed, previous backend kept", map[string]any{
				"from":  string(old.Kind()),
				"to":    string(newKind),
				"error": err.Error(),
			})
			return fmt.Errorf("%w: restoring into %s: %w", ErrSwitchRolledBack, newKind, err)
		}

		// Record the new active backend inside the migrated settings.
		settings, err := target.LoadSettings(ctx)
		if err != nil {
			target.Close()
			return fmt.Errorf("%w: reading migrated settings: %w", ErrSwitchRolledBack, err)
		}
		if settings == nil {
			settings = model.DefaultSettings()
		}
		settings.ActiveBackend = string(newKind)
		if err := target.SaveSettings(ctx, settings); err != nil {
			target.Close()
			return fmt.Errorf("%w: recording active backend: %w", ErrSwitchRolledBack, err)
		}

		e.svc.SetProvider(target)
		if err := old.Close(); err != nil {
			e.logger.Warn("closing previous backend failed", "kind", string(old.Kind()), "error", err)
		}
		e.logger.Info("backend switched", "from", string(old.Kind()), "to", string(newKind))
		return nil
	})
	if err != nil {
		return err
	}

	e.coord.Publish(&model.ChangeEvent{Type: model.EventMigration})
	return nil
}

// rescueStream relays a chunk stream, re-emitting every in-memory
// attachment's bytes as a standalone attachment chunk ahead of its chat
// chunk, with the reference rewritten to "persisted". Bytes always land
// before the metadata pointing at them, so a restore that dies partway
// never leaves a persisted reference with no backing blob.
type rescueStream struct {
	src     model.ChunkStream
	pending []*model.Chunk
}

func newRescueStream(src model.ChunkStream) *rescueStream {
	return &rescueStream{src: src}
}

// Next implements model.ChunkStream.
func (r *rescueStream) Next() (*model.Chunk, error) {
	if len(r.pending) > 0 {
		c := r.pending[0]
		r.pending = r.pending[1:]
		return c, nil
	}

	chunk, err := r.src.Next()
	if err != nil || chunk == nil {
		return chunk, err
	}
	if chunk.Type != model.ChunkChat || chunk.Chat == nil || chunk.Chat.Content.Root == nil {
		return chunk, nil
	}

	rescued := rescueChat(chunk.Chat)
	if len(rescued) == 0 {
		return chunk, nil
	}
	r.pending = append(rescued[1:], chunk)
	return rescued[0], nil
}

// rescueChat rewrites every rescuable attachment in the chat's tree to
// "persisted" and returns the byte-carrying chunks to emit first. Memory
// attachments without bytes degrade to "missing"; the bytes are already
// gone and pretending otherwise would fabricate a dangling reference.
func rescueChat(chat *model.Chat) []*model.Chunk {
	var out []*model.Chunk
	chat.Content.Root.Walk(func(node *model.MessageNode) bool {
		for _, att := range node.Attachments {
			if att.Status != model.AttachmentMemory {
				continue
			}
			if len(att.Data) == 0 {
				att.Status = model.AttachmentMissing
				continue
			}
			out = append(out, &model.Chunk{
				Type: model.ChunkAttachment,
				Attachment: &model.AttachmentChunk{
					ChatID:       chat.Meta.ID,
					AttachmentID: att.ID,
					OriginalName: att.OriginalName,
					MimeType:     att.MimeType,
					Size:         int64(len(att.Data)),
					UploadedAt:   att.UploadedAt,
					Blob:         att.Data,
				},
			})
			att.Status = model.AttachmentPersisted
			att.Size = int64(len(att.Data))
			att.Data = nil
		}
		return true
	})
	return out
}
