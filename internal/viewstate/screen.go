// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package viewstate

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/generate"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/repo"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrChatGone means the mounted chat no longer exists; the screen
	// must be abandoned (navigate back).
	ErrChatGone = errors.New("chat no longer exists")

	// ErrPromptRequired gates sends in single-interactive mode until the
	// fixed instruction is configured.
	ErrPromptRequired = errors.New("instruction prompt must be configured before sending")

	// ErrNotMounted means the screen has no chat attached.
	ErrNotMounted = errors.New("screen is not mounted")
)

// =============================================================================
// SCREEN
// =============================================================================

// Screen is the conversation view-state for one mounted chat. The
// navigation title is always re-derived from the persisted chat, never
// cached past a refresh.
type Screen struct {
	mu sync.Mutex

	repo  *repo.ChatRepository
	coord *generate.Coordinator
	log   zerolog.Logger

	chat *model.Chat
}

// NewScreen creates an unmounted screen.
func NewScreen(r *repo.ChatRepository, c *generate.Coordinator, log zerolog.Logger) *Screen {
	return &Screen{
		repo:  r,
		coord: c,
		log:   log.With().Str("component", "viewstate").Logger(),
	}
}

// Mount attaches the screen to a chat and marks it current. Returns
// ErrChatGone when the chat has been deleted out from under the
// navigation stack.
func (s *Screen) Mount(chatID string) error {
	chat, err := s.repo.GetChat(chatID)
	if err != nil {
		if errors.Is(err, repo.ErrChatNotFound) {
			return ErrChatGone
		}
		return err
	}
	if err := s.repo.SetCurrentChat(chatID); err != nil {
		return err
	}

	s.mu.Lock()
	s.chat = chat
	s.mu.Unlock()
	s.log.Debug().Str("chat_id", chatID).Msg("screen mounted")
	return nil
}

// Mounted reports whether a chat is attached.
func (s *Screen) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat != nil
}

// Title returns the navigation title derived from the persisted chat.
func (s *Screen) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat == nil {
		return ""
	}
	return s.chat.Title
}

// Refresh reloads the chat from the store, re-deriving the title and
// message list. Returns ErrChatGone when the chat was deleted.
func (s *Screen) Refresh() error {
	s.mu.Lock()
	chat := s.chat
	s.mu.Unlock()
	if chat == nil {
		return ErrNotMounted
	}

	fresh, err := s.repo.GetChat(chat.ID)
	if err != nil {
		if errors.Is(err, repo.ErrChatNotFound) {
			s.mu.Lock()
			s.chat = nil
			s.mu.Unlock()
			return ErrChatGone
		}
		return err
	}

	s.mu.Lock()
	s.chat = fresh
	s.mu.Unlock()
	return nil
}

// NeedsPrompt reports whether sends are blocked pending instruction
// configuration.
func (s *Screen) NeedsPrompt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat != nil && s.chat.Mode == model.ModeSingleInteractive && s.chat.UserPrompt == ""
}

// ConfigurePrompt sets the chat's fixed instruction, unblocking sends.
func (s *Screen) ConfigurePrompt(prompt string) error {
	s.mu.Lock()
	chat := s.chat
	s.mu.Unlock()
	if chat == nil {
		return ErrNotMounted
	}

	updated, err := s.repo.UpdateUserPrompt(chat.ID, prompt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.chat = updated
	s.mu.Unlock()
	return nil
}

// Send runs one generation turn for the mounted chat. Blocks until the
// turn resolves, then refreshes the screen from persisted truth.
func (s *Screen) Send(ctx context.Context, content string) error {
	s.mu.Lock()
	chat := s.chat
	s.mu.Unlock()
	if chat == nil {
		return ErrNotMounted
	}
	if chat.Mode == model.ModeSingleInteractive && chat.UserPrompt == "" {
		return ErrPromptRequired
	}

	genErr := s.coord.Generate(ctx, chat.ID, content)

	// Whatever happened, persisted truth may have moved; resync.
	if err := s.Refresh(); err != nil && !errors.Is(err, ErrChatGone) {
		s.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("refresh after send failed")
	}
	return genErr
}

// Messages returns what the screen should render: the coordinator's
// live view (with the streaming placeholder) while generating, the
// persisted transcript otherwise.
func (s *Screen) Messages() []*model.Message {
	if s.coord.State() == generate.StateGenerating {
		return s.coord.Messages()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat == nil {
		return nil
	}
	return s.chat.Clone().Messages
}

// Teardown detaches the screen, stopping any in-flight generation so no
// streaming call outlives navigation away.
func (s *Screen) Teardown() {
	s.coord.Cancel()
	s.mu.Lock()
	s.chat = nil
	s.mu.Unlock()
}
