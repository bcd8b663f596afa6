// ABOUTME: Tests for archive export, dry-run analysis and import modes
// ABOUTME: Covers append-mode id remapping, settings merges and malformed-record skips

package migration

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/storage"
)

// seededBlobCreatedAt is the creation time of the blob exportSeededArchive
// writes; imports must carry it through unchanged.
var seededBlobCreatedAt = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

// seedSource fills a binary-capable provider with one group, one chat with
// a persisted attachment, a hierarchy and settings, then exports it.
func exportSeededArchive(t *testing.T) []byte {
	t.Helper()
	engine, src, _ := newTestEngine(storage.KindTree)
	ctx := context.Background()

	require.NoError(t, src.SaveFile(ctx, &storage.SaveFileRequest{
		BinaryObjectID: "att-1",
		Name:           "sketch.png",
		MimeType:       "image/png",
		Blob:           []byte("png bytes"),
		CreatedAt:      seededBlobCreatedAt,
	}))
	require.NoError(t, src.SaveChatGroup(ctx, &model.ChatGroup{ID: "grp-1", Name: "Work"}))
	require.NoError(t, src.SaveChatMeta(ctx, &model.ChatMeta{
		ID: "chat-1", Title: "Design notes", GroupID: "grp-1", UpdatedAt: time.Now(),
	}))
	require.NoError(t, src.SaveChatContent(ctx, "chat-1", &model.ChatContent{
		Root: &model.MessageNode{
			ID: "root", Role: model.RoleSystem, Timestamp: time.Now(),
			Replies: []*model.MessageNode{{
				ID: "m1", Role: model.RoleUser, Timestamp: time.Now(),
				Attachments: []*model.Attachment{{
					ID: "att-1", Status: model.AttachmentPersisted, Size: 9,
				}},
			}},
		},
	}))
	require.NoError(t, src.SaveHierarchy(ctx, &model.Hierarchy{Entries: []model.HierarchyEntry{
		{Kind: model.EntryGroup, GroupID: "grp-1", Members: []string{"chat-1"}},
	}}))
	settings := model.DefaultSettings()
	settings.DefaultModel = "ember-large"
	settings.SystemPrompt = "be brief"
	require.NoError(t, src.SaveSettings(ctx, settings))

	var buf bytes.Buffer
	require.NoError(t, engine.ExportArchive(ctx, &buf))
	return buf.Bytes()
}

func TestAnalyzeReportsArchiveContents(t *testing.T) {
	raw := exportSeededArchive(t)
	engine, _, _ := newTestEngine(storage.KindTree)

	preview, err := engine.Analyze(context.Background(), bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	assert.Equal(t, 1, preview.ChatCount)
	assert.Equal(t, 1, preview.GroupCount)
	assert.Equal(t, []string{"Design notes"}, preview.Titles)
	assert.True(t, preview.NestedGroups)
	assert.Equal(t, 1, preview.BinaryObjects)
	assert.Zero(t, preview.SkippedRecords)
}

func TestAnalyzeRejectsForeignArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("just a zip"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	engine, _, _ := newTestEngine(storage.KindTree)
	_, err = engine.Analyze(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.ErrorIs(t, err, ErrNotArchive)
}

func TestAnalyzeSkipsMalformedRecords(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name string, data []byte) {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	mf, err := json.Marshal(manifest{App: archiveApp, FormatVersion: 1, ExportedAt: time.Now()})
	require.NoError(t, err)
	write(manifestName, mf)
	write(chatMetasName, []byte(`[{"id":"chat-1","title":"Good"},{"title":"no id"}]`))
	write(chatsPrefix+"chat-1.json", []byte(`{{{not json`))
	write(groupsPrefix+"grp-1.json", []byte(`{"id":"grp-1","name":"Fine"}`))
	// A blob entry whose name carries no id must be skipped, not fatal.
	write(blobsPrefix+"00/.bin", []byte("orphan bytes"))
	require.NoError(t, zw.Close())

	engine, _, _ := newTestEngine(storage.KindTree)
	preview, err := engine.Analyze(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	assert.Equal(t, 1, preview.ChatCount)
	assert.Equal(t, 1, preview.GroupCount)
	assert.Zero(t, preview.BinaryObjects)
	assert.Equal(t, 3, preview.SkippedRecords)
}

func TestImportAppendRemapsEveryCrossReference(t *testing.T) {
	raw := exportSeededArchive(t)
	engine, target, coord := newTestEngine(storage.KindTree)
	ctx := context.Background()

	require.NoError(t, target.SaveChatMeta(ctx, &model.ChatMeta{ID: "existing", Title: "Mine"}))
	require.NoError(t, target.SaveHierarchy(ctx, &model.Hierarchy{Entries: []model.HierarchyEntry{
		{Kind: model.EntryChat, ChatID: "existing"},
	}}))

	require.NoError(t, engine.Import(ctx, bytes.NewReader(raw), int64(len(raw)), ImportConfig{
		Mode:        ModeAppend,
		TitlePrefix: "[import] ",
	}))

	metas, err := target.ListChatMetas(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)

	var imported *model.ChatMeta
	for _, m := range metas {
		if m.ID != "existing" {
			imported = m
		}
	}
	require.NotNil(t, imported)
	assert.Equal(t, "[import] Design notes", imported.Title)
	assert.NotEqual(t, "chat-1", imported.ID)
	assert.NotEqual(t, "grp-1", imported.GroupID)

	// The group got the same fresh id the meta references.
	group, err := target.LoadChatGroup(ctx, imported.GroupID)
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, "[import] Work", group.Name)

	// Hierarchy entries reference only remapped ids, after the existing one.
	h, err := target.LoadHierarchy(ctx)
	require.NoError(t, err)
	require.Len(t, h.Entries, 2)
	assert.Equal(t, "existing", h.Entries[0].ChatID)
	assert.Equal(t, imported.GroupID, h.Entries[1].GroupID)
	assert.Equal(t, []string{imported.ID}, h.Entries[1].Members)

	// The attachment reference and the stored blob share one fresh id.
	content, err := target.LoadChatContent(ctx, imported.ID)
	require.NoError(t, err)
	att := content.Root.Replies[0].Attachments[0]
	assert.NotEqual(t, "att-1", att.ID)
	assert.Equal(t, model.AttachmentPersisted, att.Status)
	blob, err := target.GetFile(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes"), blob)

	// Creation time survives the archive round-trip.
	objects, err := target.ListBinaryObjects(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.True(t, objects[0].CreatedAt.Equal(seededBlobCreatedAt))

	require.Len(t, coord.events, 1)
	assert.Equal(t, model.EventMigration, coord.events[0].Type)
}

func TestImportReplaceWipesAndKeepsIDs(t *testing.T) {
	raw := exportSeededArchive(t)
	engine, target, _ := newTestEngine(storage.KindTree)
	ctx := context.Background()

	require.NoError(t, target.SaveChatMeta(ctx, &model.ChatMeta{ID: "existing", Title: "Doomed"}))

	require.NoError(t, engine.Import(ctx, bytes.NewReader(raw), int64(len(raw)), ImportConfig{
		Mode: ModeReplace,
	}))

	metas, err := target.ListChatMetas(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "chat-1", metas[0].ID)

	// Replace mode defaults every settings field to the archive's value,
	// but never the active backend.
	settings, err := target.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ember-large", settings.DefaultModel)
	assert.Equal(t, "tree", settings.ActiveBackend)
}

func TestImportSettingsMergePolicies(t *testing.T) {
	raw := exportSeededArchive(t)
	engine, target, _ := newTestEngine(storage.KindTree)
	ctx := context.Background()

	current := model.DefaultSettings()
	current.ActiveBackend = "tree"
	current.DefaultModel = "local-small"
	current.SystemPrompt = "house rules"
	require.NoError(t, target.SaveSettings(ctx, current))

	require.NoError(t, engine.Import(ctx, bytes.NewReader(raw), int64(len(raw)), ImportConfig{
		Mode: ModeAppend,
		SettingsMerge: map[string]MergePolicy{
			"default_model": MergeReplace,
		},
	}))

	settings, err := target.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ember-large", settings.DefaultModel, "explicitly replaced")
	assert.Equal(t, "house rules", settings.SystemPrompt, "append default keeps")
}

func TestImportDegradesMemoryAttachments(t *testing.T) {
	engine, src, _ := newTestEngine(storage.KindTree)
	ctx := context.Background()

	require.NoError(t, src.SaveChatMeta(ctx, &model.ChatMeta{ID: "chat-1", Title: "Draft"}))
	require.NoError(t, src.SaveChatContent(ctx, "chat-1", &model.ChatContent{
		Root: &model.MessageNode{
			ID: "root", Role: model.RoleUser, Timestamp: time.Now(),
			Attachments: []*model.Attachment{{
				ID: "att-mem", Status: model.AttachmentMemory, Data: []byte("unsaved"),
			}},
		},
	}))
	var buf bytes.Buffer
	require.NoError(t, engine.ExportArchive(ctx, &buf))

	// The archive carries no bytes for a memory attachment, so after an
	// import no process can still supply them.
	dest, target, _ := newTestEngine(storage.KindTree)
	require.NoError(t, dest.Import(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len()), ImportConfig{
		Mode: ModeReplace,
	}))

	content, err := target.LoadChatContent(ctx, "chat-1")
	require.NoError(t, err)
	att := content.Root.Attachments[0]
	assert.Equal(t, model.AttachmentMissing, att.Status)
}

func TestImportWithoutBinarySupportDowngradesAttachments(t *testing.T) {
	raw := exportSeededArchive(t)
	engine, target, _ := newTestEngine(storage.KindFlat)
	ctx := context.Background()

	require.NoError(t, engine.Import(ctx, bytes.NewReader(raw), int64(len(raw)), ImportConfig{
		Mode: ModeReplace,
	}))

	content, err := target.LoadChatContent(ctx, "chat-1")
	require.NoError(t, err)
	att := content.Root.Replies[0].Attachments[0]
	assert.Equal(t, model.AttachmentMissing, att.Status)

	recent := engine.diag.Recent(1)
	require.Len(t, recent, 1)
	assert.Contains(t, recent[0].Message, "dropping binary objects")
}
