// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// MODE TYPE
// =============================================================================

// Mode determines how a chat builds context for each turn.
type Mode string

const (
	// ModeConversation replays the full prior transcript on every turn.
	ModeConversation Mode = "conversation"

	// ModeSingleInteractive replays only the chat's fixed instruction plus
	// the new input; prior turns are never resent.
	ModeSingleInteractive Mode = "singleInteractive"
)

// Valid reports whether the mode is one of the known values.
func (m Mode) Valid() bool {
	return m == ModeConversation || m == ModeSingleInteractive
}

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat holds one conversation thread bound to a fixed model and mode.
//
// Messages are ordered newest-first. ModelName is fixed at creation; a chat
// may only be opened for generation against a loaded model of the same name.
type Chat struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Messages   []*Message `json:"messages"`
	Mode       Mode       `json:"mode"`
	UserPrompt string     `json:"userPrompt"`
	CreatedAt  int64      `json:"createdAt"` // unix milliseconds
	UpdatedAt  int64      `json:"updatedAt"` // unix milliseconds
	ModelName  string     `json:"modelName"`
}

// NewChat creates an empty chat for the given model and mode with a
// timestamp-derived placeholder title.
func NewChat(modelName string, mode Mode) *Chat {
	now := NowMillis()
	return &Chat{
		ID:        "chat_" + uuid.NewString(),
		Title:     "Chat " + time.UnixMilli(now).Format("2006-01-02 15:04"),
		Messages:  make([]*Message, 0),
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
		ModelName: modelName,
	}
}

// =============================================================================
// MESSAGE ACCESS
// =============================================================================

// Prepend inserts a message at the front (newest-first order) and bumps
// UpdatedAt.
func (c *Chat) Prepend(msg *Message) {
	c.Messages = append([]*Message{msg}, c.Messages...)
	c.UpdatedAt = NowMillis()
}

// Newest returns the most recent message, or nil if the chat is empty.
func (c *Chat) Newest() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[0]
}

// Chronological returns the messages oldest-first (the reverse of storage
// order), as required when replaying history to the engine.
func (c *Chat) Chronological() []*Message {
	out := make([]*Message, len(c.Messages))
	for i, msg := range c.Messages {
		out[len(c.Messages)-1-i] = msg
	}
	return out
}

// FindMessage returns the message with the given ID and its index, or
// (nil, -1) when absent.
func (c *Chat) FindMessage(id string) (*Message, int) {
	for i, msg := range c.Messages {
		if msg.ID == id {
			return msg, i
		}
	}
	return nil, -1
}

// RemoveMessage deletes a message by ID. Returns false when absent.
func (c *Chat) RemoveMessage(id string) bool {
	_, i := c.FindMessage(id)
	if i < 0 {
		return false
	}
	c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
	c.UpdatedAt = NowMillis()
	return true
}

// MessageCount returns the number of messages.
func (c *Chat) MessageCount() int {
	return len(c.Messages)
}

// Clone creates a deep copy of the chat. Repository callers receive clones
// so view-state mutation can never alias persisted truth.
func (c *Chat) Clone() *Chat {
	clone := *c
	clone.Messages = make([]*Message, len(c.Messages))
	for i, msg := range c.Messages {
		msgCopy := *msg
		clone.Messages[i] = &msgCopy
	}
	return &clone
}

// =============================================================================
// CHAT HISTORY DOCUMENT
// =============================================================================

// ChatHistory is the root of the persisted document: every chat keyed by ID
// plus the currently selected chat. An empty CurrentChatID means none.
//
// Invariant: CurrentChatID, when set, references an existing key of Chats.
type ChatHistory struct {
	Chats         map[string]*Chat `json:"chats"`
	CurrentChatID string           `json:"currentChatId,omitempty"`
}

// NewChatHistory returns an empty history document.
func NewChatHistory() *ChatHistory {
	return &ChatHistory{Chats: make(map[string]*Chat)}
}

// Get returns the chat with the given ID, or nil.
func (h *ChatHistory) Get(id string) *Chat {
	return h.Chats[id]
}

// AnyOtherID returns the ID of any chat except the excluded one, or "" when
// none remain. Used to reassign CurrentChatID after a delete.
func (h *ChatHistory) AnyOtherID(exclude string) string {
	for id := range h.Chats {
		if id != exclude {
			return id
		}
	}
	return ""
}
