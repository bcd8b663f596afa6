// ABOUTME: Tests for backend switching: blob rescue at depth and rollback
// ABOUTME: Runs against the in-memory mock provider with an injected target

package migration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchat/ember/internal/coordinator"
	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/service"
	"github.com/emberchat/ember/internal/storage"
)

// fakeCoordinator runs tasks inline and records published events.
type fakeCoordinator struct {
	keys   []coordinator.LockKey
	events []*model.ChangeEvent
}

func (f *fakeCoordinator) WithLock(ctx context.Context, key coordinator.LockKey, fn func(ctx context.Context) error) error {
	f.keys = append(f.keys, key)
	return fn(ctx)
}

func (f *fakeCoordinator) Publish(event *model.ChangeEvent) {
	f.events = append(f.events, event)
}

func newTestEngine(kind storage.Kind) (*Engine, *storage.MockProvider, *fakeCoordinator) {
	provider := storage.NewMockProvider(kind)
	coord := &fakeCoordinator{}
	svc := service.New(provider, coord, nil, nil)
	return NewEngine(svc, coord, storage.Config{}, nil), provider, coord
}

// chatWithMemoryAttachment builds a chat whose attachment sits two replies
// deep, bytes only in memory.
func chatWithMemoryAttachment(chatID, attID string, blob []byte) (*model.ChatMeta, *model.ChatContent) {
	meta := &model.ChatMeta{ID: chatID, Title: "Draft", UpdatedAt: time.Now()}
	content := &model.ChatContent{
		Root: &model.MessageNode{
			ID: "root", Role: model.RoleSystem, Timestamp: time.Now(),
			Replies: []*model.MessageNode{{
				ID: "q1", Role: model.RoleUser, Timestamp: time.Now(),
				Replies: []*model.MessageNode{{
					ID: "a1", Role: model.RoleAssistant, Timestamp: time.Now(),
					Attachments: []*model.Attachment{{
						ID:           attID,
						OriginalName: "sketch.png",
						MimeType:     "image/png",
						Status:       model.AttachmentMemory,
						Data:         blob,
					}},
				}},
			}},
		},
	}
	return meta, content
}

func TestSwitchProviderRescuesMemoryAttachmentAtDepth(t *testing.T) {
	engine, old, coord := newTestEngine(storage.KindFlat)
	ctx := context.Background()

	blob := []byte("png bytes")
	meta, content := chatWithMemoryAttachment("chat-1", "att-1", blob)
	require.NoError(t, old.SaveChatMeta(ctx, meta))
	require.NoError(t, old.SaveChatContent(ctx, "chat-1", content))
	require.NoError(t, old.SaveHierarchy(ctx, &model.Hierarchy{Entries: []model.HierarchyEntry{
		{Kind: model.EntryChat, ChatID: "chat-1"},
	}}))

	target := storage.NewMockProvider(storage.KindTree)
	engine.open = func(kind storage.Kind, cfg storage.Config) (storage.Provider, error) {
		require.Equal(t, storage.KindTree, kind)
		return target, nil
	}

	require.NoError(t, engine.SwitchProvider(ctx, storage.KindTree))
	assert.Same(t, storage.Provider(target), engine.svc.Provider())

	// The bytes landed in the binary store under the attachment id.
	got, err := target.GetFile(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	// The deep reference was rewritten to persisted with no loose bytes.
	migrated, err := target.LoadChatContent(ctx, "chat-1")
	require.NoError(t, err)
	att := migrated.Root.Replies[0].Replies[0].Attachments[0]
	assert.Equal(t, model.AttachmentPersisted, att.Status)
	assert.Nil(t, att.Data)
	assert.Equal(t, int64(len(blob)), att.Size)

	// Hierarchy carried over, active backend recorded, event published.
	h, err := target.LoadHierarchy(ctx)
	require.NoError(t, err)
	require.Len(t, h.Entries, 1)
	settings, err := target.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tree", settings.ActiveBackend)
	require.Len(t, coord.events, 1)
	assert.Equal(t, model.EventMigration, coord.events[0].Type)
	require.Equal(t, []coordinator.LockKey{coordinator.KeyGlobal}, coord.keys)
}

func TestSwitchProviderRollsBackOnRestoreFailure(t *testing.T) {
	engine, old, coord := newTestEngine(storage.KindFlat)
	ctx := context.Background()

	for _, id := range []string{"chat-1", "chat-2", "chat-3"} {
		require.NoError(t, old.SaveChatMeta(ctx, &model.ChatMeta{ID: id, Title: id}))
	}

	target := storage.NewMockProvider(storage.KindTree)
	target.FailRestoreAfter = 1
	engine.open = func(storage.Kind, storage.Config) (storage.Provider, error) {
		return target, nil
	}

	err := engine.SwitchProvider(ctx, storage.KindTree)
	require.ErrorIs(t, err, ErrSwitchRolledBack)
	require.ErrorIs(t, err, storage.ErrInjectedRestoreFailure)

	// The old provider stays active and intact; no event announces a
	// migration that did not happen.
	assert.Same(t, storage.Provider(old), engine.svc.Provider())
	metas, err := old.ListChatMetas(ctx)
	require.NoError(t, err)
	assert.Len(t, metas, 3)
	assert.Empty(t, coord.events)

	recent := engine.diag.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "migration", recent[0].Source)
}

func TestSwitchProviderSameKindIsNoop(t *testing.T) {
	engine, old, coord := newTestEngine(storage.KindFlat)

	require.NoError(t, engine.SwitchProvider(context.Background(), storage.KindFlat))
	assert.Same(t, storage.Provider(old), engine.svc.Provider())
	assert.Empty(t, coord.keys)
	assert.Empty(t, coord.events)
}

func TestDumpWithoutLockTakesNoKey(t *testing.T) {
	engine, old, coord := newTestEngine(storage.KindFlat)
	ctx := context.Background()

	require.NoError(t, old.SaveChatMeta(ctx, &model.ChatMeta{ID: "chat-1", Title: "Solo"}))

	snap, err := engine.DumpWithoutLock(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Structure.ChatMetas, 1)
	assert.Empty(t, coord.keys)
}
