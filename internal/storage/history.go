// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/kv"
	"github.com/jeranaias/rigchat/internal/model"
)

// historyKey is the single key the whole document lives under.
const historyKey = "chat_history"

// =============================================================================
// HISTORY STORE
// =============================================================================

// HistoryStore loads and saves the complete ChatHistory document.
type HistoryStore struct {
	kv  kv.Store
	log zerolog.Logger
}

// NewHistoryStore creates a store over the given kv substrate.
func NewHistoryStore(store kv.Store, log zerolog.Logger) *HistoryStore {
	return &HistoryStore{kv: store, log: log}
}

// Load returns the persisted history, or an empty one when nothing is
// stored or the stored blob fails to parse. Corruption is never surfaced
// to callers; it is logged and the store degrades to empty.
func (s *HistoryStore) Load() *model.ChatHistory {
	raw, ok, err := s.kv.GetString(historyKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("chat history read failed, starting empty")
		return model.NewChatHistory()
	}
	if !ok {
		return model.NewChatHistory()
	}

	var history model.ChatHistory
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		s.log.Warn().Err(err).Msg("chat history corrupt, starting empty")
		return model.NewChatHistory()
	}
	if history.Chats == nil {
		history.Chats = make(map[string]*model.Chat)
	}
	return &history
}

// Save serializes the complete document and overwrites the stored blob.
func (s *HistoryStore) Save(history *model.ChatHistory) error {
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal chat history: %w", err)
	}
	if err := s.kv.Set(historyKey, string(raw)); err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	return nil
}
