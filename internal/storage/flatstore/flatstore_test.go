// ABOUTME: Tests for the flat SQLite backend: round-trips, corrupt-record skip, dump/restore
// ABOUTME: Uses in-memory databases throughout

package flatstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testChat(id string) (*model.ChatMeta, *model.ChatContent) {
	meta := &model.ChatMeta{
		ID:        id,
		Title:     "test chat",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}
	content := &model.ChatContent{
		Root: &model.MessageNode{
			ID:      "root",
			Role:    model.RoleUser,
			Content: "hi",
			Replies: []*model.MessageNode{
				{ID: "a1", Role: model.RoleAssistant, Content: "hello"},
			},
		},
		CurrentLeafID: "a1",
	}
	return meta, content
}

func TestOpenMemorySurvivesConcurrentUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Concurrent calls would each land on a private empty database if the
	// pool opened more than one :memory: connection.
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.SaveChatMeta(ctx, &model.ChatMeta{ID: fmt.Sprintf("chat-%d", i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent SaveChatMeta: %v", err)
		}
	}

	metas, err := s.ListChatMetas(ctx)
	if err != nil {
		t.Fatalf("ListChatMetas: %v", err)
	}
	if len(metas) != 8 {
		t.Errorf("got %d chats, want 8", len(metas))
	}
}

func TestChatRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta, content := testChat("chat-1")
	if err := s.SaveChatMeta(ctx, meta); err != nil {
		t.Fatalf("SaveChatMeta: %v", err)
	}
	if err := s.SaveChatContent(ctx, "chat-1", content); err != nil {
		t.Fatalf("SaveChatContent: %v", err)
	}

	gotMeta, err := s.LoadChatMeta(ctx, "chat-1")
	if err != nil {
		t.Fatalf("LoadChatMeta: %v", err)
	}
	if gotMeta == nil || gotMeta.Title != meta.Title || !gotMeta.CreatedAt.Equal(meta.CreatedAt) {
		t.Errorf("meta mismatch: %+v", gotMeta)
	}

	gotContent, err := s.LoadChatContent(ctx, "chat-1")
	if err != nil {
		t.Fatalf("LoadChatContent: %v", err)
	}
	if gotContent == nil || gotContent.CurrentLeafID != "a1" {
		t.Fatalf("content mismatch: %+v", gotContent)
	}
	if gotContent.Root.Replies[0].Content != "hello" {
		t.Errorf("tree not preserved: %+v", gotContent.Root)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.LoadChatMeta(ctx, "ghost")
	if err != nil || m != nil {
		t.Errorf("missing meta: got (%v, %v), want (nil, nil)", m, err)
	}
	st, err := s.LoadSettings(ctx)
	if err != nil || st != nil {
		t.Errorf("missing settings: got (%v, %v), want (nil, nil)", st, err)
	}
	h, err := s.LoadHierarchy(ctx)
	if err != nil || h != nil {
		t.Errorf("missing hierarchy: got (%v, %v), want (nil, nil)", h, err)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveChatMeta(ctx, &model.ChatMeta{})
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// Nothing was written
	metas, err := s.ListChatMetas(ctx)
	if err != nil {
		t.Fatalf("ListChatMetas: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("invalid save touched storage: %v", metas)
	}
}

func TestCorruptRecordReadsAsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.put(ctx, prefixChatMeta+"bad", []byte(`{"title":"no id"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	m, err := s.LoadChatMeta(ctx, "bad")
	if err != nil {
		t.Fatalf("LoadChatMeta returned error for corrupt record: %v", err)
	}
	if m != nil {
		t.Errorf("corrupt record decoded: %+v", m)
	}
}

func TestListSkipsCorruptSiblings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	good, _ := testChat("chat-good")
	if err := s.SaveChatMeta(ctx, good); err != nil {
		t.Fatalf("SaveChatMeta: %v", err)
	}
	if err := s.put(ctx, prefixChatMeta+"chat-bad", []byte("not json")); err != nil {
		t.Fatalf("put: %v", err)
	}

	metas, err := s.ListChatMetas(ctx)
	if err != nil {
		t.Fatalf("ListChatMetas: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != "chat-good" {
		t.Errorf("expected only the valid chat, got %+v", metas)
	}
}

func TestNoBinarySupport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if s.CanPersistBinary() {
		t.Fatal("flat store must not report binary capability")
	}
	err := s.SaveFile(ctx, &storage.SaveFileRequest{BinaryObjectID: "b1", Blob: []byte("x")})
	if !errors.Is(err, storage.ErrNoBinarySupport) {
		t.Errorf("SaveFile: got %v, want ErrNoBinarySupport", err)
	}
	has, err := s.HasAttachments(ctx)
	if err != nil || has {
		t.Errorf("HasAttachments: got (%v, %v)", has, err)
	}
}

func TestDumpRestoreIdempotence(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	settings := model.DefaultSettings()
	settings.DefaultModel = "m1"
	if err := src.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	group := &model.ChatGroup{ID: "g1", Name: "work", UpdatedAt: time.Now().UTC()}
	if err := src.SaveChatGroup(ctx, group); err != nil {
		t.Fatalf("SaveChatGroup: %v", err)
	}
	meta, content := testChat("chat-1")
	meta.GroupID = "g1"
	if err := src.SaveChatMeta(ctx, meta); err != nil {
		t.Fatalf("SaveChatMeta: %v", err)
	}
	if err := src.SaveChatContent(ctx, meta.ID, content); err != nil {
		t.Fatalf("SaveChatContent: %v", err)
	}
	hierarchy := &model.Hierarchy{Entries: []model.HierarchyEntry{
		{Kind: model.EntryGroup, GroupID: "g1", Members: []string{"chat-1"}},
	}}
	if err := src.SaveHierarchy(ctx, hierarchy); err != nil {
		t.Fatalf("SaveHierarchy: %v", err)
	}

	snap, err := src.Dump(ctx)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}

	dst := newTestStore(t)
	if err := dst.Restore(ctx, snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	metas, _ := dst.ListChatMetas(ctx)
	if len(metas) != 1 || metas[0].ID != "chat-1" || metas[0].GroupID != "g1" {
		t.Errorf("chat listing differs after restore: %+v", metas)
	}
	groups, _ := dst.ListChatGroups(ctx)
	if len(groups) != 1 || groups[0].Name != "work" {
		t.Errorf("group listing differs after restore: %+v", groups)
	}
	h, _ := dst.LoadHierarchy(ctx)
	if h == nil || len(h.Entries) != 1 || h.Entries[0].GroupID != "g1" {
		t.Errorf("hierarchy differs after restore: %+v", h)
	}
	c, _ := dst.LoadChatContent(ctx, "chat-1")
	if c == nil || c.CurrentLeafID != "a1" {
		t.Errorf("content differs after restore: %+v", c)
	}
}

func TestRestoreDowngradesPersistedAttachments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	chat := &model.Chat{
		Meta: model.ChatMeta{ID: "chat-att"},
		Content: model.ChatContent{
			Root: &model.MessageNode{
				ID:   "r",
				Role: model.RoleUser,
				Attachments: []*model.Attachment{
					{ID: "att-1", Status: model.AttachmentPersisted, Size: 3},
				},
			},
		},
	}
	snap := &model.Snapshot{
		Content: model.NewSliceStream([]*model.Chunk{
			{Type: model.ChunkChat, Chat: chat},
		}),
	}
	if err := s.Restore(ctx, snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	c, err := s.LoadChatContent(ctx, "chat-att")
	if err != nil || c == nil {
		t.Fatalf("LoadChatContent: (%v, %v)", c, err)
	}
	if got := c.Root.Attachments[0].Status; got != model.AttachmentMissing {
		t.Errorf("attachment status: got %q, want missing", got)
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta, _ := testChat("chat-1")
	if err := s.SaveChatMeta(ctx, meta); err != nil {
		t.Fatalf("SaveChatMeta: %v", err)
	}
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	metas, err := s.ListChatMetas(ctx)
	if err != nil {
		t.Fatalf("ListChatMetas: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("records survived ClearAll: %v", metas)
	}
}
