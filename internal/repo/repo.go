// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package repo

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrChatNotFound is returned when the addressed chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrMessageNotFound is returned when the addressed message does not
	// exist within its chat.
	ErrMessageNotFound = errors.New("message not found")
)

// =============================================================================
// CHAT REPOSITORY
// =============================================================================

// titleMessageLimit is the message count up to which a first user message
// still becomes the chat title. With the user message and one assistant
// reply present the title is already settled.
const titleMessageLimit = 2

// ChatRepository mutates the chat history document. It owns the document
// exclusively for the duration of each operation.
type ChatRepository struct {
	store *storage.HistoryStore
	log   zerolog.Logger
}

// New creates a repository over the given history store.
func New(store *storage.HistoryStore, log zerolog.Logger) *ChatRepository {
	return &ChatRepository{store: store, log: log}
}

// CreateChat registers a new empty chat for the model and mode, makes it
// the current chat, and returns it.
func (r *ChatRepository) CreateChat(modelName string, mode model.Mode) (*model.Chat, error) {
	history := r.store.Load()

	chat := model.NewChat(modelName, mode)
	history.Chats[chat.ID] = chat
	history.CurrentChatID = chat.ID

	if err := r.store.Save(history); err != nil {
		return nil, err
	}
	r.log.Debug().Str("chat_id", chat.ID).Str("model", modelName).Str("mode", string(mode)).Msg("chat created")
	return chat.Clone(), nil
}

// AddMessage prepends a new message (newest-first) and bumps UpdatedAt.
//
// Title derivation: when the chat has no configured user prompt, the first
// user message becomes the title. "First" is judged after insertion, so a
// user message landing in a chat with at most one prior message qualifies.
func (r *ChatRepository) AddMessage(chatID string, role model.Role, content string) (*model.Message, error) {
	history := r.store.Load()
	chat := history.Get(chatID)
	if chat == nil {
		return nil, ErrChatNotFound
	}

	msg := model.NewMessage(role, content)
	chat.Prepend(msg)

	if chat.UserPrompt == "" && role == model.RoleUser && chat.MessageCount() <= titleMessageLimit {
		chat.Title = content
	}

	if err := r.store.Save(history); err != nil {
		return nil, err
	}
	copied := *msg
	return &copied, nil
}

// AddAssistantMessage persists a completed assistant reply carrying its
// generation statistics. Same prepend and save discipline as AddMessage.
func (r *ChatRepository) AddAssistantMessage(chatID, content string, stats model.GenStats) (*model.Message, error) {
	history := r.store.Load()
	chat := history.Get(chatID)
	if chat == nil {
		return nil, ErrChatNotFound
	}

	msg := model.NewMessage(model.RoleAssistant, content)
	msg.TokenCount = stats.TokenCount
	msg.DurationMs = stats.DurationMs
	msg.TokensPerSec = stats.TokensPerSec
	msg.TTFTMs = stats.TTFTMs
	chat.Prepend(msg)

	if err := r.store.Save(history); err != nil {
		return nil, err
	}
	copied := *msg
	return &copied, nil
}

// DeleteMessage removes a single message by ID. No cascading side effects.
func (r *ChatRepository) DeleteMessage(chatID, messageID string) error {
	history := r.store.Load()
	chat := history.Get(chatID)
	if chat == nil {
		return ErrChatNotFound
	}
	if !chat.RemoveMessage(messageID) {
		return ErrMessageNotFound
	}
	return r.store.Save(history)
}

// UpdateUserPrompt sets the chat's fixed instruction and mirrors it into
// the title (the instruction doubles as the display name in
// singleInteractive mode). Returns the updated chat.
func (r *ChatRepository) UpdateUserPrompt(chatID, prompt string) (*model.Chat, error) {
	history := r.store.Load()
	chat := history.Get(chatID)
	if chat == nil {
		return nil, ErrChatNotFound
	}

	chat.UserPrompt = prompt
	chat.Title = prompt
	chat.UpdatedAt = model.NowMillis()

	if err := r.store.Save(history); err != nil {
		return nil, err
	}
	return chat.Clone(), nil
}

// UpdateChatTitle sets an explicit title.
func (r *ChatRepository) UpdateChatTitle(chatID, title string) error {
	history := r.store.Load()
	chat := history.Get(chatID)
	if chat == nil {
		return ErrChatNotFound
	}
	chat.Title = title
	chat.UpdatedAt = model.NowMillis()
	return r.store.Save(history)
}

// GetChat returns a deep copy of the chat.
func (r *ChatRepository) GetChat(chatID string) (*model.Chat, error) {
	history := r.store.Load()
	chat := history.Get(chatID)
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat.Clone(), nil
}

// GetHistory returns the full history document.
func (r *ChatRepository) GetHistory() *model.ChatHistory {
	return r.store.Load()
}

// DeleteChat removes a chat. When the deleted chat was current, the
// current chat is reassigned to any remaining chat, or cleared when none
// remain.
func (r *ChatRepository) DeleteChat(chatID string) error {
	history := r.store.Load()
	if history.Get(chatID) == nil {
		return ErrChatNotFound
	}

	delete(history.Chats, chatID)
	if history.CurrentChatID == chatID {
		history.CurrentChatID = history.AnyOtherID(chatID)
	}
	return r.store.Save(history)
}

// SetCurrentChat marks the chat as current.
func (r *ChatRepository) SetCurrentChat(chatID string) error {
	history := r.store.Load()
	if history.Get(chatID) == nil {
		return ErrChatNotFound
	}
	history.CurrentChatID = chatID
	return r.store.Save(history)
}
