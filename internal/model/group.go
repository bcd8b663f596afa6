// ABOUTME: ChatGroup and the single ordered Hierarchy document for the sidebar
// ABOUTME: Hierarchy mixes bare chat refs and group refs and is edited as one atomic unit

package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// ChatGroup is a named, collapsible container for chats. Overrides set on
// the group apply to member chats that do not override them locally.
type ChatGroup struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Collapsed bool       `json:"collapsed"`
	UpdatedAt time.Time  `json:"updated_at"`
	Overrides *Overrides `json:"overrides,omitempty"`
}

// Validate checks the group document.
func (g *ChatGroup) Validate() error {
	if g.ID == "" {
		return invalid("chat_group", "id", "must not be empty")
	}
	return nil
}

// HierarchyEntryKind tags an entry in the sidebar hierarchy.
type HierarchyEntryKind string

const (
	EntryChat  HierarchyEntryKind = "chat"
	EntryGroup HierarchyEntryKind = "group"
)

// HierarchyEntry is one top-level sidebar item: either a bare chat
// reference or a group reference carrying the ordered IDs of its members.
type HierarchyEntry struct {
	Kind    HierarchyEntryKind `json:"kind"`
	ChatID  string             `json:"chat_id,omitempty"`
	GroupID string             `json:"group_id,omitempty"`
	Members []string           `json:"members,omitempty"`
}

// Hierarchy is the single ordered document describing the sidebar. Keeping
// it in one document means a reorder is applied or not applied as a whole,
// never half of it.
type Hierarchy struct {
	Entries []HierarchyEntry `json:"entries"`
}

// Validate checks every entry references the right ID for its kind.
func (h *Hierarchy) Validate() error {
	for i, e := range h.Entries {
		switch e.Kind {
		case EntryChat:
			if e.ChatID == "" {
				return invalid("hierarchy", "entries", "chat entry without chat_id at index "+strconv.Itoa(i))
			}
		case EntryGroup:
			if e.GroupID == "" {
				return invalid("hierarchy", "entries", "group entry without group_id at index "+strconv.Itoa(i))
			}
		default:
			return invalid("hierarchy", "entries", "unknown entry kind at index "+strconv.Itoa(i))
		}
	}
	return nil
}

// ChatIDs returns every chat referenced by the hierarchy, bare entries and
// group members alike, in sidebar order.
func (h *Hierarchy) ChatIDs() []string {
	var ids []string
	for _, e := range h.Entries {
		switch e.Kind {
		case EntryChat:
			ids = append(ids, e.ChatID)
		case EntryGroup:
			ids = append(ids, e.Members...)
		}
	}
	return ids
}

// DecodeChatGroup decodes a serialized group document.
func DecodeChatGroup(data []byte) (*ChatGroup, error) {
	var g ChatGroup
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, invalid("chat_group", "", "malformed document: "+err.Error())
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// DecodeHierarchy decodes the sidebar document. Declared backward-compatible
// default: entries without a kind are treated as chat references, the only
// entry type older layouts had.
func DecodeHierarchy(data []byte) (*Hierarchy, error) {
	var h Hierarchy
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, invalid("hierarchy", "", "malformed document: "+err.Error())
	}
	for i := range h.Entries {
		if h.Entries[i].Kind == "" && h.Entries[i].ChatID != "" {
			h.Entries[i].Kind = EntryChat
		}
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

