// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// StreamingID is the reserved ID of the transient streaming placeholder.
// At most one message with this ID exists, only in memory.
const StreamingID = "streaming_id"

// Message represents a single persisted message in a chat.
// Messages are immutable once stored; only the streaming placeholder's
// content is rewritten in place while generation is running.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds

	// Generation statistics, set on completed assistant messages.
	TokenCount   int     `json:"token_count,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
	TokensPerSec float64 `json:"tokens_per_sec,omitempty"`
	TTFTMs       int64   `json:"ttft_ms,omitempty"`
}

// GenStats carries per-generation statistics attached to a completed
// assistant message.
type GenStats struct {
	TokenCount   int
	DurationMs   int64
	TokensPerSec float64
	TTFTMs       int64
}

// NewMessage creates a message with a generated ID and the current time.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: NowMillis(),
	}
}

// NewStreamingPlaceholder creates the transient assistant message that
// mirrors in-progress generation in the view.
func NewStreamingPlaceholder() *Message {
	return &Message{
		ID:        StreamingID,
		Role:      RoleAssistant,
		Timestamp: NowMillis(),
	}
}

// IsPlaceholder reports whether this is the transient streaming message.
func (m *Message) IsPlaceholder() bool {
	return m.ID == StreamingID
}

// Preview returns a single-line, rune-truncated snippet of the content.
func (m *Message) Preview(maxRunes int) string {
	return util.TruncateRunes(util.CollapseLine(m.Content), maxRunes)
}

// NowMillis returns the current time as unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
