// ABOUTME: Chat split into ChatMeta (listing fields) and ChatContent (reply tree plus leaf pointer)
// ABOUTME: The split keeps listing and search free of message bodies

package model

import (
	"encoding/json"
	"time"
)

// ChatMeta carries everything about a chat except its message tree, so
// listings never load message bodies.
type ChatMeta struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	GroupID   string     `json:"group_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Overrides *Overrides `json:"overrides,omitempty"`
}

// Validate checks the meta document.
func (m *ChatMeta) Validate() error {
	if m.ID == "" {
		return invalid("chat_meta", "id", "must not be empty")
	}
	return nil
}

// ChatContent is the other half of a chat: the reply tree and the pointer
// to the node at the tip of the currently active path.
type ChatContent struct {
	Root          *MessageNode `json:"root,omitempty"`
	CurrentLeafID string       `json:"current_leaf_id,omitempty"`
}

// Validate checks the tree and that the leaf pointer, when set, names a
// node inside it.
func (c *ChatContent) Validate() error {
	if c.Root == nil {
		if c.CurrentLeafID != "" {
			return invalid("chat_content", "current_leaf_id", "set on empty tree")
		}
		return nil
	}
	if err := c.Root.Validate(); err != nil {
		return err
	}
	if c.CurrentLeafID != "" && c.Root.Find(c.CurrentLeafID) == nil {
		return invalid("chat_content", "current_leaf_id", "node "+c.CurrentLeafID+" not in tree")
	}
	return nil
}

// ActivePath returns the nodes along the current path, root first. An empty
// leaf pointer yields just the root; an empty tree yields nil.
func (c *ChatContent) ActivePath() []*MessageNode {
	if c.Root == nil {
		return nil
	}
	if c.CurrentLeafID == "" {
		return []*MessageNode{c.Root}
	}
	return c.Root.PathTo(c.CurrentLeafID)
}

// Chat joins both halves for code paths that need the whole thing, such as
// migration chunks. Storage always reads and writes the halves separately.
type Chat struct {
	Meta    ChatMeta    `json:"meta"`
	Content ChatContent `json:"content"`
}

// Validate checks both halves.
func (c *Chat) Validate() error {
	if err := c.Meta.Validate(); err != nil {
		return err
	}
	return c.Content.Validate()
}

// DecodeChatMeta decodes a serialized chat meta document. Declared
// backward-compatible defaults: a legacy "name" field is accepted for
// Title, and missing timestamps decode to zero times.
func DecodeChatMeta(data []byte) (*ChatMeta, error) {
	var raw struct {
		ChatMeta

		LegacyName string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid("chat_meta", "", "malformed document: "+err.Error())
	}
	m := raw.ChatMeta
	if m.Title == "" && raw.LegacyName != "" {
		m.Title = raw.LegacyName
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeChatContent decodes a serialized chat content document. A leaf
// pointer naming a node that no longer exists is cleared rather than
// rejected: older writers could drop a subtree without fixing the pointer,
// and the declared default is "fall back to the root path".
func DecodeChatContent(data []byte) (*ChatContent, error) {
	var c ChatContent
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, invalid("chat_content", "", "malformed document: "+err.Error())
	}
	if c.Root != nil && c.CurrentLeafID != "" && c.Root.Find(c.CurrentLeafID) == nil {
		c.CurrentLeafID = ""
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
