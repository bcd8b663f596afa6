// ABOUTME: Tests for the tree backend's document half: round-trips, atomicity, corrupt skip
// ABOUTME: Blob store behavior is covered separately in blobs_test.go

package treestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestInitIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
}

func TestChatRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta := &model.ChatMeta{
		ID:        "chat-1",
		Title:     "tree chat",
		CreatedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Overrides: &model.Overrides{Model: "local-7b"},
	}
	content := &model.ChatContent{
		Root: &model.MessageNode{
			ID: "r", Role: model.RoleSystem, Content: "prompt",
			Replies: []*model.MessageNode{
				{ID: "u1", Role: model.RoleUser, Content: "question",
					Replies: []*model.MessageNode{
						{ID: "a1", Role: model.RoleAssistant, Content: "answer", Thinking: "hmm"},
					}},
			},
		},
		CurrentLeafID: "a1",
	}

	if err := s.SaveChatMeta(ctx, meta); err != nil {
		t.Fatalf("SaveChatMeta: %v", err)
	}
	if err := s.SaveChatContent(ctx, meta.ID, content); err != nil {
		t.Fatalf("SaveChatContent: %v", err)
	}

	gotMeta, err := s.LoadChatMeta(ctx, "chat-1")
	if err != nil || gotMeta == nil {
		t.Fatalf("LoadChatMeta: (%v, %v)", gotMeta, err)
	}
	if gotMeta.Overrides == nil || gotMeta.Overrides.Model != "local-7b" {
		t.Errorf("overrides lost: %+v", gotMeta.Overrides)
	}
	gotContent, err := s.LoadChatContent(ctx, "chat-1")
	if err != nil || gotContent == nil {
		t.Fatalf("LoadChatContent: (%v, %v)", gotContent, err)
	}
	path := gotContent.ActivePath()
	if len(path) != 3 || path[2].Thinking != "hmm" {
		t.Errorf("active path mismatch: %+v", path)
	}
}

func TestSettingsAndHierarchyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	settings := model.DefaultSettings()
	settings.ActiveBackend = "tree"
	settings.Profiles = []model.ProviderProfile{{ID: "p1", Name: "local"}}
	if err := s.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err := s.LoadSettings(ctx)
	if err != nil || got == nil {
		t.Fatalf("LoadSettings: (%v, %v)", got, err)
	}
	if len(got.Profiles) != 1 || got.Profiles[0].ID != "p1" {
		t.Errorf("profiles mismatch: %+v", got.Profiles)
	}

	h := &model.Hierarchy{Entries: []model.HierarchyEntry{
		{Kind: model.EntryChat, ChatID: "c1"},
	}}
	if err := s.SaveHierarchy(ctx, h); err != nil {
		t.Fatalf("SaveHierarchy: %v", err)
	}
	gotH, err := s.LoadHierarchy(ctx)
	if err != nil || gotH == nil || len(gotH.Entries) != 1 {
		t.Fatalf("LoadHierarchy: (%+v, %v)", gotH, err)
	}
}

func TestDocumentWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveSettings(ctx, model.DefaultSettings()); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == "" && !e.IsDir() {
			t.Errorf("stray file in store root: %s", e.Name())
		}
	}
}

func TestCorruptDocumentReadsAsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := os.MkdirAll(s.chatDir("bad"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.metaPath("bad"), []byte("{{{"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := s.LoadChatMeta(ctx, "bad")
	if err != nil {
		t.Fatalf("corrupt document returned error: %v", err)
	}
	if m != nil {
		t.Errorf("corrupt document decoded: %+v", m)
	}

	// And listing skips it while keeping valid siblings.
	good := &model.ChatMeta{ID: "good"}
	if err := s.SaveChatMeta(ctx, good); err != nil {
		t.Fatalf("SaveChatMeta: %v", err)
	}
	metas, err := s.ListChatMetas(ctx)
	if err != nil {
		t.Fatalf("ListChatMetas: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != "good" {
		t.Errorf("listing: got %+v, want only %q", metas, "good")
	}
}

func TestDeleteChatRemovesBothHalves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta := &model.ChatMeta{ID: "c1"}
	if err := s.SaveChatMeta(ctx, meta); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveChatContent(ctx, "c1", &model.ChatContent{}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteChatContent(ctx, "c1"); err != nil {
		t.Fatalf("DeleteChatContent: %v", err)
	}
	if err := s.DeleteChatMeta(ctx, "c1"); err != nil {
		t.Fatalf("DeleteChatMeta: %v", err)
	}
	if _, err := os.Stat(s.chatDir("c1")); !os.IsNotExist(err) {
		t.Errorf("chat directory survived delete")
	}
}

func TestGroupRoundTripAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, g := range []*model.ChatGroup{
		{ID: "g1", Name: "alpha", Collapsed: true},
		{ID: "g2", Name: "beta"},
	} {
		if err := s.SaveChatGroup(ctx, g); err != nil {
			t.Fatalf("SaveChatGroup(%s): %v", g.ID, err)
		}
	}
	groups, err := s.ListChatGroups(ctx)
	if err != nil {
		t.Fatalf("ListChatGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if err := s.DeleteChatGroup(ctx, "g1"); err != nil {
		t.Fatalf("DeleteChatGroup: %v", err)
	}
	g, err := s.LoadChatGroup(ctx, "g1")
	if err != nil || g != nil {
		t.Errorf("deleted group still loads: (%+v, %v)", g, err)
	}
}

func TestClearAllWipesOnlyOwnNamespace(t *testing.T) {
	dataDir := t.TempDir()
	s, err := Open(storage.Config{DataDir: dataDir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	if err := s.SaveChatMeta(ctx, &model.ChatMeta{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	// A sibling namespace in the same data dir must survive.
	other := filepath.Join(dataDir, "flat.db")
	if err := os.WriteFile(other, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	metas, _ := s.ListChatMetas(ctx)
	if len(metas) != 0 {
		t.Errorf("chats survived ClearAll")
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("ClearAll touched a foreign namespace: %v", err)
	}
}
