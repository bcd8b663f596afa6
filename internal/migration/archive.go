// ABOUTME: Backup archive export, dry-run analysis and configurable import
// ABOUTME: Zip layout mirrors the tree backend so import/export share the blob sharding

package migration

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberchat/ember/internal/coordinator"
	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/storage"
)

const (
	archiveApp           = "ember"
	archiveFormatVersion = 1

	manifestName  = "manifest.json"
	settingsName  = "settings.json"
	hierarchyName = "hierarchy.json"
	chatMetasName = "chat-metas.json"
	chatsPrefix   = "chats/"
	groupsPrefix  = "groups/"
	blobsPrefix   = "blobs/"
)

// ErrNotArchive is returned when the input is not a recognizable backup.
var ErrNotArchive = errors.New("not an ember backup archive")

// manifest identifies a backup archive and its format generation.
type manifest struct {
	App           string    `json:"app"`
	FormatVersion int       `json:"format_version"`
	ExportedAt    time.Time `json:"exported_at"`
}

// ImportMode selects how an import treats existing data.
type ImportMode string

const (
	// ModeAppend adds the archive's content next to existing data,
	// regenerating every imported identifier.
	ModeAppend ImportMode = "append"
	// ModeReplace wipes existing data first and keeps archive identifiers.
	ModeReplace ImportMode = "replace"
)

// MergePolicy decides one settings field during import.
type MergePolicy string

const (
	MergeKeep    MergePolicy = "keep"
	MergeReplace MergePolicy = "replace"
)

// settingsFields are the top-level settings fields an import can merge.
var settingsFields = []string{
	"endpoint", "default_model", "title_model", "autotitle",
	"system_prompt", "params", "provider_profiles",
}

// ImportConfig tunes Import.
type ImportConfig struct {
	Mode ImportMode
	// TitlePrefix is prepended to every imported chat title and group
	// name, letting a user mark what came from the archive.
	TitlePrefix string
	// SettingsMerge overrides the per-field policy. Unlisted fields
	// default to keep in append mode and replace in replace mode. The
	// active backend field is never imported.
	SettingsMerge map[string]MergePolicy
}

// Preview is the dry-run result of Analyze.
type Preview struct {
	ChatCount      int
	GroupCount     int
	Titles         []string
	NestedGroups   bool
	BinaryObjects  int
	SkippedRecords int
}

// ExportArchive writes a backup of the active provider to w. The dump runs
// unlocked, so a write racing the export may be missed.
func (e *Engine) ExportArchive(ctx context.Context, w io.Writer) error {
	snap, err := e.DumpWithoutLock(ctx)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	writeDoc := func(name string, v any) error {
		f, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding %s: %w", name, err)
		}
		_, err = f.Write(data)
		return err
	}

	if err := writeDoc(manifestName, manifest{
		App:           archiveApp,
		FormatVersion: archiveFormatVersion,
		ExportedAt:    time.Now().UTC(),
	}); err != nil {
		return err
	}
	if snap.Structure.Settings != nil {
		if err := writeDoc(settingsName, snap.Structure.Settings); err != nil {
			return err
		}
	}
	if snap.Structure.Hierarchy != nil {
		if err := writeDoc(hierarchyName, snap.Structure.Hierarchy); err != nil {
			return err
		}
	}
	if err := writeDoc(chatMetasName, snap.Structure.ChatMetas); err != nil {
		return err
	}
	for _, g := range snap.Structure.ChatGroups {
		if err := writeDoc(groupsPrefix+g.ID+".json", g); err != nil {
			return err
		}
	}

	// Drain the content stream: chat bodies and blob bytes. Settings and
	// group chunks were already written from the eager structure.
	indexes := make(map[string]map[string]blobIndexEntry)
	writeBlob := func(id, name, mime string, createdAt time.Time, blob []byte) error {
		shard := blobShard(id)
		f, err := zw.Create(blobsPrefix + shard + "/" + id + ".bin")
		if err != nil {
			return fmt.Errorf("creating blob %s: %w", id, err)
		}
		if _, err := f.Write(blob); err != nil {
			return err
		}
		if indexes[shard] == nil {
			indexes[shard] = make(map[string]blobIndexEntry)
		}
		indexes[shard][id] = blobIndexEntry{
			Name:      name,
			MimeType:  mime,
			Size:      int64(len(blob)),
			CreatedAt: createdAt,
		}
		return nil
	}

	for {
		chunk, err := snap.Content.Next()
		if err != nil {
			return fmt.Errorf("reading snapshot content: %w", err)
		}
		if chunk == nil {
			break
		}
		switch chunk.Type {
		case model.ChunkChat:
			if err := writeDoc(chatsPrefix+chunk.Chat.Meta.ID+".json", &chunk.Chat.Content); err != nil {
				return err
			}
		case model.ChunkAttachment:
			a := chunk.Attachment
			if err := writeBlob(a.AttachmentID, a.OriginalName, a.MimeType, a.UploadedAt, a.Blob); err != nil {
				return err
			}
		case model.ChunkBinaryObject:
			b := chunk.Binary
			if err := writeBlob(b.ID, b.Name, b.MimeType, b.CreatedAt, b.Blob); err != nil {
				return err
			}
		}
	}

	for shard, idx := range indexes {
		if err := writeDoc(blobsPrefix+shard+"/index.json", idx); err != nil {
			return err
		}
	}
	return zw.Close()
}

// blobIndexEntry mirrors the tree backend's bucket index records.
type blobIndexEntry struct {
	Name      string    `json:"name,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// blobShard buckets a blob id by its trailing byte, same as the live store.
func blobShard(id string) string {
	return fmt.Sprintf("%02x", id[len(id)-1])
}

// blobRecord is one parsed archive blob with its index metadata.
type blobRecord struct {
	ID   string
	Meta blobIndexEntry
	Data []byte
}

// archiveData is a fully parsed backup archive.
type archiveData struct {
	Manifest  manifest
	Settings  *model.Settings
	Hierarchy *model.Hierarchy
	Metas     []*model.ChatMeta
	Contents  map[string]*model.ChatContent
	Groups    []*model.ChatGroup
	Blobs     []*blobRecord
	Skipped   int
}

// parseArchive reads a backup archive, skipping malformed individual
// records and counting them. Only a missing or foreign manifest is fatal.
func parseArchive(r io.ReaderAt, size int64) (*archiveData, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}

	data := &archiveData{Contents: make(map[string]*model.ChatContent)}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	readAll := func(f *zip.File) ([]byte, error) {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	mf, ok := files[manifestName]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrNotArchive, manifestName)
	}
	raw, err := readAll(mf)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", manifestName, err)
	}
	if err := json.Unmarshal(raw, &data.Manifest); err != nil || data.Manifest.App != archiveApp {
		return nil, fmt.Errorf("%w: unrecognized manifest", ErrNotArchive)
	}
	if data.Manifest.FormatVersion > archiveFormatVersion {
		return nil, fmt.Errorf("archive format version %d is newer than supported %d",
			data.Manifest.FormatVersion, archiveFormatVersion)
	}

	blobIndexes := make(map[string]map[string]blobIndexEntry)
	blobBytes := make(map[string][]byte)

	for name, f := range files {
		switch {
		case name == manifestName:
		case name == settingsName:
			raw, err := readAll(f)
			if err == nil {
				if s, derr := model.DecodeSettings(raw); derr == nil {
					data.Settings = s
					continue
				}
			}
			data.Skipped++
		case name == hierarchyName:
			raw, err := readAll(f)
			if err == nil {
				if h, derr := model.DecodeHierarchy(raw); derr == nil {
					data.Hierarchy = h
					continue
				}
			}
			data.Skipped++
		case name == chatMetasName:
			raw, err := readAll(f)
			var metas []*model.ChatMeta
			if err == nil && json.Unmarshal(raw, &metas) == nil {
				for _, m := range metas {
					if m.Validate() != nil {
						data.Skipped++
						continue
					}
					data.Metas = append(data.Metas, m)
				}
				continue
			}
			data.Skipped++
		case strings.HasPrefix(name, chatsPrefix):
			id := strings.TrimSuffix(path.Base(name), ".json")
			raw, err := readAll(f)
			if err == nil {
				if c, derr := model.DecodeChatContent(raw); derr == nil {
					data.Contents[id] = c
					continue
				}
			}
			data.Skipped++
		case strings.HasPrefix(name, groupsPrefix):
			raw, err := readAll(f)
			if err == nil {
				if g, derr := model.DecodeChatGroup(raw); derr == nil {
					data.Groups = append(data.Groups, g)
					continue
				}
			}
			data.Skipped++
		case strings.HasPrefix(name, blobsPrefix) && path.Base(name) == "index.json":
			shard := path.Base(path.Dir(name))
			raw, err := readAll(f)
			var idx map[string]blobIndexEntry
			if err == nil && json.Unmarshal(raw, &idx) == nil {
				blobIndexes[shard] = idx
				continue
			}
			data.Skipped++
		case strings.HasPrefix(name, blobsPrefix) && strings.HasSuffix(name, ".bin"):
			id := strings.TrimSuffix(path.Base(name), ".bin")
			if id == "" {
				data.Skipped++
				continue
			}
			raw, err := readAll(f)
			if err != nil {
				data.Skipped++
				continue
			}
			blobBytes[id] = raw
		}
	}

	for id, blob := range blobBytes {
		meta := blobIndexes[blobShard(id)][id]
		if meta.Size == 0 {
			meta.Size = int64(len(blob))
		}
		data.Blobs = append(data.Blobs, &blobRecord{ID: id, Meta: meta, Data: blob})
	}
	return data, nil
}

// Analyze parses an archive without side effects and reports what an
// import of it would bring in. Malformed records are skipped and counted,
// never fatal.
func (e *Engine) Analyze(ctx context.Context, r io.ReaderAt, size int64) (*Preview, error) {
	data, err := parseArchive(r, size)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		ChatCount:      len(data.Metas),
		GroupCount:     len(data.Groups),
		BinaryObjects:  len(data.Blobs),
		SkippedRecords: data.Skipped,
	}
	for _, m := range data.Metas {
		p.Titles = append(p.Titles, m.Title)
	}
	if data.Hierarchy != nil {
		for _, entry := range data.Hierarchy.Entries {
			if entry.Kind == model.EntryGroup {
				p.NestedGroups = true
				break
			}
		}
	}
	return p, nil
}

// Import applies a backup archive to the active provider under the global
// key. Append mode regenerates every imported identifier through one remap
// table so nothing collides with existing data; replace mode wipes the
// store first and keeps archive identifiers. Blob bytes are written before
// any metadata referencing them.
func (e *Engine) Import(ctx context.Context, r io.ReaderAt, size int64, cfg ImportConfig) error {
	if cfg.Mode == "" {
		cfg.Mode = ModeAppend
	}
	data, err := parseArchive(r, size)
	if err != nil {
		return err
	}
	if data.Skipped > 0 {
		e.diag.Report("migration", "import skipped malformed records", map[string]any{
			"skipped": data.Skipped,
		})
	}

	remap := newIDRemap(cfg.Mode == ModeAppend)

	err = e.coord.WithLock(ctx, coordinator.KeyGlobal, func(ctx context.Context) error {
		p := e.svc.Provider()
		if cfg.Mode == ModeReplace {
			if err := p.ClearAll(ctx); err != nil {
				return fmt.Errorf("clearing store for replace import: %w", err)
			}
		}

		binaryOK := p.CanPersistBinary()
		if !binaryOK && len(data.Blobs) > 0 {
			e.diag.Report("migration", "import dropping binary objects", map[string]any{
				"count":  len(data.Blobs),
				"reason": storage.ErrNoBinarySupport.Error(),
			})
		}
		if binaryOK {
			for _, blob := range data.Blobs {
				if err := p.SaveFile(ctx, &storage.SaveFileRequest{
					BinaryObjectID: remap.id(blob.ID),
					Name:           blob.Meta.Name,
					MimeType:       blob.Meta.MimeType,
					Blob:           blob.Data,
					CreatedAt:      blob.Meta.CreatedAt,
				}); err != nil {
					return fmt.Errorf("importing blob %s: %w", blob.ID, err)
				}
			}
		}

		for _, g := range data.Groups {
			group := *g
			group.ID = remap.id(g.ID)
			if cfg.TitlePrefix != "" {
				group.Name = cfg.TitlePrefix + group.Name
			}
			if err := p.SaveChatGroup(ctx, &group); err != nil {
				return fmt.Errorf("importing group %s: %w", g.ID, err)
			}
		}

		for _, m := range data.Metas {
			meta := *m
			meta.ID = remap.id(m.ID)
			if meta.GroupID != "" {
				meta.GroupID = remap.id(meta.GroupID)
			}
			if cfg.TitlePrefix != "" {
				meta.Title = cfg.TitlePrefix + meta.Title
			}
			if err := p.SaveChatMeta(ctx, &meta); err != nil {
				return fmt.Errorf("importing chat %s: %w", m.ID, err)
			}

			content := data.Contents[m.ID]
			if content == nil {
				continue
			}
			remapAttachments(content, remap, binaryOK)
			if err := p.SaveChatContent(ctx, meta.ID, content); err != nil {
				return fmt.Errorf("importing chat content %s: %w", m.ID, err)
			}
		}

		if err := e.importHierarchy(ctx, p, data.Hierarchy, cfg.Mode, remap); err != nil {
			return err
		}
		return e.importSettings(ctx, p, data.Settings, cfg)
	})
	if err != nil {
		e.diag.Report("migration", "import failed", map[string]any{"error": err.Error()})
		return err
	}

	e.coord.Publish(&model.ChangeEvent{Type: model.EventMigration})
	return nil
}

// remapAttachments applies the id remap to every attachment reference in
// the tree. Memory attachments always degrade to missing (no process holds
// their bytes after an archive round-trip), and on a backend without binary
// support persisted references degrade too, matching restore semantics.
func remapAttachments(content *model.ChatContent, remap *idRemap, binaryOK bool) {
	if content.Root == nil {
		return
	}
	content.Root.Walk(func(n *model.MessageNode) bool {
		for _, a := range n.Attachments {
			a.ID = remap.id(a.ID)
			switch {
			case a.Status == model.AttachmentMemory:
				a.Status = model.AttachmentMissing
			case !binaryOK && a.Status == model.AttachmentPersisted:
				a.Status = model.AttachmentMissing
			}
		}
		return true
	})
}

// importHierarchy merges the archive's sidebar entries after the existing
// ones (append) or installs them outright (replace).
func (e *Engine) importHierarchy(ctx context.Context, p storage.Provider, imported *model.Hierarchy, mode ImportMode, remap *idRemap) error {
	if imported == nil {
		return nil
	}

	entries := make([]model.HierarchyEntry, 0, len(imported.Entries))
	for _, entry := range imported.Entries {
		mapped := entry
		switch entry.Kind {
		case model.EntryChat:
			mapped.ChatID = remap.id(entry.ChatID)
		case model.EntryGroup:
			mapped.GroupID = remap.id(entry.GroupID)
			mapped.Members = make([]string, len(entry.Members))
			for i, m := range entry.Members {
				mapped.Members[i] = remap.id(m)
			}
		}
		entries = append(entries, mapped)
	}

	merged := &model.Hierarchy{Entries: entries}
	if mode == ModeAppend {
		current, err := p.LoadHierarchy(ctx)
		if err != nil {
			return err
		}
		if current != nil {
			merged.Entries = append(current.Entries, entries...)
		}
	}
	return p.SaveHierarchy(ctx, merged)
}

// importSettings applies the per-field merge policy. The active backend
// field is never taken from the archive; it always reflects the provider
// the import actually ran against.
func (e *Engine) importSettings(ctx context.Context, p storage.Provider, imported *model.Settings, cfg ImportConfig) error {
	if imported == nil {
		return nil
	}
	current, err := p.LoadSettings(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		current = model.DefaultSettings()
	}

	defaultPolicy := MergeKeep
	if cfg.Mode == ModeReplace {
		defaultPolicy = MergeReplace
	}
	policy := func(field string) MergePolicy {
		if pol, ok := cfg.SettingsMerge[field]; ok {
			return pol
		}
		return defaultPolicy
	}

	merged := *current
	for _, field := range settingsFields {
		if policy(field) != MergeReplace {
			continue
		}
		switch field {
		case "endpoint":
			merged.Endpoint = imported.Endpoint
		case "default_model":
			merged.DefaultModel = imported.DefaultModel
		case "title_model":
			merged.TitleModel = imported.TitleModel
		case "autotitle":
			merged.Autotitle = imported.Autotitle
		case "system_prompt":
			merged.SystemPrompt = imported.SystemPrompt
		case "params":
			merged.Params = imported.Params
		case "provider_profiles":
			merged.Profiles = imported.Profiles
		}
	}
	merged.ActiveBackend = string(p.Kind())
	return p.SaveSettings(ctx, &merged)
}

// idRemap regenerates identifiers for append-mode imports. Every lookup of
// the same source id yields the same fresh id, which is what keeps
// cross-references (attachment ids, group memberships, hierarchy entries)
// consistent. In replace mode it is the identity.
type idRemap struct {
	active bool
	table  map[string]string
}

func newIDRemap(active bool) *idRemap {
	return &idRemap{active: active, table: make(map[string]string)}
}

func (r *idRemap) id(old string) string {
	if !r.active || old == "" {
		return old
	}
	if fresh, ok := r.table[old]; ok {
		return fresh
	}
	fresh := uuid.New().String()
	r.table[old] = fresh
	return fresh
}
