// ABOUTME: Dump and Restore for the mock provider, including FailRestoreAfter fault injection
// ABOUTME: Keeps the mock honest against the same snapshot semantics as real backends

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/emberchat/ember/internal/model"
)

// ErrInjectedRestoreFailure is returned by MockProvider.Restore when
// FailRestoreAfter triggers.
var ErrInjectedRestoreFailure = errors.New("injected restore failure")

// Dump implements Provider.
func (m *MockProvider) Dump(ctx context.Context) (*model.Snapshot, error) {
	settings, _ := m.LoadSettings(ctx)
	hierarchy, _ := m.LoadHierarchy(ctx)
	metas, _ := m.ListChatMetas(ctx)
	groups, _ := m.ListChatGroups(ctx)
	objects, _ := m.ListBinaryObjects(ctx)

	var chunks []*model.Chunk
	if settings != nil {
		chunks = append(chunks, &model.Chunk{Type: model.ChunkSettings, Settings: settings})
	}
	for _, g := range groups {
		chunks = append(chunks, &model.Chunk{Type: model.ChunkChatGroup, Group: g})
	}
	for _, meta := range metas {
		content, _ := m.LoadChatContent(ctx, meta.ID)
		if content == nil {
			content = &model.ChatContent{}
		}
		chunks = append(chunks, &model.Chunk{
			Type: model.ChunkChat,
			Chat: &model.Chat{Meta: *meta, Content: *content},
		})
	}
	for _, obj := range objects {
		blob, _ := m.GetFile(ctx, obj.ID)
		chunks = append(chunks, &model.Chunk{
			Type:   model.ChunkBinaryObject,
			Binary: &model.BinaryObjectChunk{BinaryObject: *obj, Blob: blob},
		})
	}

	return &model.Snapshot{
		Structure: model.SnapshotStructure{
			Settings:   settings,
			Hierarchy:  hierarchy,
			ChatMetas:  metas,
			ChatGroups: groups,
		},
		Content: model.NewSliceStream(chunks),
	}, nil
}

// Restore implements Provider.
func (m *MockProvider) Restore(ctx context.Context, snap *model.Snapshot) error {
	if snap.Structure.Hierarchy != nil {
		if err := m.SaveHierarchy(ctx, snap.Structure.Hierarchy); err != nil {
			return err
		}
	}
	consumed := 0
	for {
		chunk, err := snap.Content.Next()
		if err != nil {
			return err
		}
		if chunk == nil {
			return nil
		}
		consumed++
		if m.FailRestoreAfter > 0 && consumed > m.FailRestoreAfter {
			return ErrInjectedRestoreFailure
		}
		switch chunk.Type {
		case model.ChunkSettings:
			settings := *chunk.Settings
			settings.ActiveBackend = string(m.kind)
			if err := m.SaveSettings(ctx, &settings); err != nil {
				return err
			}
		case model.ChunkChatGroup:
			if err := m.SaveChatGroup(ctx, chunk.Group); err != nil {
				return err
			}
		case model.ChunkChat:
			chat := chunk.Chat
			if !m.binary && chat.Content.Root != nil {
				chat.Content.Root.Walk(func(n *model.MessageNode) bool {
					for _, a := range n.Attachments {
						if a.Status == model.AttachmentPersisted {
							a.Status = model.AttachmentMissing
						}
					}
					return true
				})
			}
			if err := m.SaveChatMeta(ctx, &chat.Meta); err != nil {
				return err
			}
			if err := m.SaveChatContent(ctx, chat.Meta.ID, &chat.Content); err != nil {
				return err
			}
		case model.ChunkAttachment:
			if !m.binary {
				continue
			}
			a := chunk.Attachment
			if err := m.SaveFile(ctx, &SaveFileRequest{
				BinaryObjectID: a.AttachmentID,
				Name:           a.OriginalName,
				MimeType:       a.MimeType,
				Blob:           a.Blob,
				CreatedAt:      a.UploadedAt,
			}); err != nil {
				return err
			}
		case model.ChunkBinaryObject:
			if !m.binary {
				continue
			}
			b := chunk.Binary
			if err := m.SaveFile(ctx, &SaveFileRequest{
				BinaryObjectID: b.ID,
				Name:           b.Name,
				MimeType:       b.MimeType,
				Blob:           b.Blob,
				CreatedAt:      b.CreatedAt,
			}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown snapshot chunk type %q", chunk.Type)
		}
	}
}
