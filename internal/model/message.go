// ABOUTME: MessageNode reply tree with roles, thinking text and attachments
// ABOUTME: Provides cycle-safe traversal helpers used by validation and migration

package model

import "time"

// Role identifies the author kind of a message node.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageNode is one message in a chat's reply tree. Replies branch: each
// node may carry any number of ordered reply nodes, and the tree rooted at
// a chat's Root node holds every variant of the conversation. Cycles are
// forbidden; Validate rejects a tree that reuses a node ID.
type MessageNode struct {
	ID          string        `json:"id"`
	Role        Role          `json:"role"`
	Content     string        `json:"content"`
	Thinking    string        `json:"thinking,omitempty"`
	Model       string        `json:"model,omitempty"`
	Attachments []*Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Replies     []*MessageNode `json:"replies,omitempty"`
}

// Validate checks the whole tree rooted at n: IDs present and unique,
// roles known, attachments valid.
func (n *MessageNode) Validate() error {
	seen := make(map[string]bool)
	return n.validate(seen)
}

func (n *MessageNode) validate(seen map[string]bool) error {
	if n.ID == "" {
		return invalid("message_node", "id", "must not be empty")
	}
	if seen[n.ID] {
		return invalid("message_node", "id", "duplicate node id "+n.ID)
	}
	seen[n.ID] = true
	switch n.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	case "":
		return invalid("message_node", "role", "must not be empty")
	default:
		return invalid("message_node", "role", "unknown role "+string(n.Role))
	}
	for _, a := range n.Attachments {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	for _, r := range n.Replies {
		if err := r.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

// Walk visits every node in the tree in depth-first order, parents before
// replies. The visit function returning false stops the walk. Walk is safe
// on trees that would fail Validate: a revisited node is skipped rather
// than recursed into, so a cyclic input cannot hang the caller.
func (n *MessageNode) Walk(visit func(*MessageNode) bool) {
	seen := make(map[*MessageNode]bool)
	var walk func(*MessageNode) bool
	walk = func(node *MessageNode) bool {
		if node == nil || seen[node] {
			return true
		}
		seen[node] = true
		if !visit(node) {
			return false
		}
		for _, r := range node.Replies {
			if !walk(r) {
				return false
			}
		}
		return true
	}
	walk(n)
}

// Find returns the node with the given ID, or nil.
func (n *MessageNode) Find(id string) *MessageNode {
	var found *MessageNode
	n.Walk(func(node *MessageNode) bool {
		if node.ID == id {
			found = node
			return false
		}
		return true
	})
	return found
}

// PathTo returns the chain of nodes from the root n down to the node with
// the given ID, inclusive. Returns nil when the ID is not in the tree.
func (n *MessageNode) PathTo(id string) []*MessageNode {
	var path []*MessageNode
	var descend func(node *MessageNode) bool
	descend = func(node *MessageNode) bool {
		if node == nil {
			return false
		}
		path = append(path, node)
		if node.ID == id {
			return true
		}
		for _, r := range node.Replies {
			if descend(r) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if !descend(n) {
		return nil
	}
	return path
}
