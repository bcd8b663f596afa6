// ABOUTME: Snapshot dump and restore for the flat backend
// ABOUTME: Restore downgrades persisted attachments to missing since no bytes can back them

package flatstore

import (
	"context"
	"fmt"

	"github.com/emberchat/ember/internal/model"
)

// Dump implements storage.Provider. The structure half is read eagerly;
// chat content documents are loaded one at a time as the stream is pulled.
func (s *Store) Dump(ctx context.Context) (*model.Snapshot, error) {
	settings, err := s.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	hierarchy, err := s.LoadHierarchy(ctx)
	if err != nil {
		return nil, err
	}
	metas, err := s.ListChatMetas(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.ListChatGroups(ctx)
	if err != nil {
		return nil, err
	}

	snap := &model.Snapshot{
		Structure: model.SnapshotStructure{
			Settings:   settings,
			Hierarchy:  hierarchy,
			ChatMetas:  metas,
			ChatGroups: groups,
		},
	}

	var (
		sentSettings bool
		groupIdx     int
		metaIdx      int
	)
	snap.Content = model.FuncStream(func() (*model.Chunk, error) {
		if !sentSettings {
			sentSettings = true
			if settings != nil {
				return &model.Chunk{Type: model.ChunkSettings, Settings: settings}, nil
			}
		}
		if groupIdx < len(groups) {
			g := groups[groupIdx]
			groupIdx++
			return &model.Chunk{Type: model.ChunkChatGroup, Group: g}, nil
		}
		for metaIdx < len(metas) {
			meta := metas[metaIdx]
			metaIdx++
			content, err := s.LoadChatContent(ctx, meta.ID)
			if err != nil {
				return nil, err
			}
			if content == nil {
				content = &model.ChatContent{}
			}
			return &model.Chunk{
				Type: model.ChunkChat,
				Chat: &model.Chat{Meta: *meta, Content: *content},
			}, nil
		}
		return nil, nil
	})
	return snap, nil
}

// Restore implements storage.Provider. The flat backend cannot back
// persisted attachment references with bytes, so incoming chats have any
// persisted attachment rewritten to missing; binary object chunks are
// dropped with a log line rather than failing the restore.
func (s *Store) Restore(ctx context.Context, snap *model.Snapshot) error {
	if snap.Structure.Hierarchy != nil {
		if err := s.SaveHierarchy(ctx, snap.Structure.Hierarchy); err != nil {
			return err
		}
	}
	for {
		chunk, err := snap.Content.Next()
		if err != nil {
			return fmt.Errorf("reading snapshot stream: %w", err)
		}
		if chunk == nil {
			return nil
		}
		switch chunk.Type {
		case model.ChunkSettings:
			settings := *chunk.Settings
			settings.ActiveBackend = "flat"
			if err := s.SaveSettings(ctx, &settings); err != nil {
				return err
			}
		case model.ChunkChatGroup:
			if err := s.SaveChatGroup(ctx, chunk.Group); err != nil {
				return err
			}
		case model.ChunkChat:
			chat := chunk.Chat
			downgraded := 0
			if chat.Content.Root != nil {
				chat.Content.Root.Walk(func(n *model.MessageNode) bool {
					for _, a := range n.Attachments {
						if a.Status == model.AttachmentPersisted {
							a.Status = model.AttachmentMissing
							downgraded++
						}
					}
					return true
				})
			}
			if downgraded > 0 {
				s.logger.Warn("attachments downgraded to missing",
					"chat_id", chat.Meta.ID, "count", downgraded)
			}
			if err := s.SaveChatMeta(ctx, &chat.Meta); err != nil {
				return err
			}
			if err := s.SaveChatContent(ctx, chat.Meta.ID, &chat.Content); err != nil {
				return err
			}
		case model.ChunkAttachment, model.ChunkBinaryObject:
			s.logger.Warn("dropping binary payload, flat backend has no binary store")
		default:
			return fmt.Errorf("unknown snapshot chunk type %q", chunk.Type)
		}
	}
}
