// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/repo"
	"github.com/jeranaias/rigchat/internal/session"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrGenerationInFlight rejects a generate call while one is running.
	ErrGenerationInFlight = errors.New("a generation is already in flight")

	// ErrModelMismatch rejects generating into a chat that was started
	// with a different model than the one currently loaded.
	ErrModelMismatch = errors.New("chat belongs to a different model")
)

// errorReplyText is persisted as the assistant turn when generation
// fails, so the transcript records that a turn occurred.
const errorReplyText = "Sorry, an error occurred while generating a response. Please try again."

// =============================================================================
// COORDINATOR
// =============================================================================

// State is the per-screen generation state.
type State int

const (
	StateIdle State = iota
	StateGenerating
)

// Coordinator drives one chat turn at a time against the loaded model
// session. It owns a transient clone of the chat (the view) holding the
// streaming placeholder; persisted truth stays in the repository.
type Coordinator struct {
	mu sync.Mutex

	repo    *repo.ChatRepository
	session *session.Manager
	sub     Subscriber
	log     zerolog.Logger

	systemPrompt string
	batchSize    int
	maxFPS       int

	state  State
	cancel *engine.CancelToken
	view   *model.Chat
}

// Options tune the coordinator's streaming behavior.
type Options struct {
	SystemPrompt string
	BatchSize    int
	MaxFPS       int
}

// NewCoordinator creates an idle coordinator. A nil subscriber discards
// events.
func NewCoordinator(r *repo.ChatRepository, s *session.Manager, sub Subscriber, log zerolog.Logger, opts Options) *Coordinator {
	if sub == nil {
		sub = NopSubscriber{}
	}
	return &Coordinator{
		repo:         r,
		session:      s,
		sub:          sub,
		log:          log.With().Str("component", "generate").Logger(),
		systemPrompt: opts.SystemPrompt,
		batchSize:    opts.BatchSize,
		maxFPS:       opts.MaxFPS,
		state:        StateIdle,
	}
}

// State reports whether a generation is in flight.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a snapshot of the view's messages, newest first,
// including the streaming placeholder while generation runs.
func (c *Coordinator) Messages() []*model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return nil
	}
	return c.view.Clone().Messages
}

// Cancel signals the in-flight generation to stop. No-op when idle;
// safe to call repeatedly.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateGenerating && c.cancel != nil {
		c.cancel.Cancel()
	}
}

// Generate runs one full turn: persist the user message, stream the
// assistant reply into the view placeholder, and persist the final text.
// Blocks until the turn resolves; callers run it off their event loop.
// Rejects with ErrGenerationInFlight when called re-entrantly.
func (c *Coordinator) Generate(ctx context.Context, chatID, userContent string) error {
	c.mu.Lock()
	if c.state == StateGenerating {
		c.mu.Unlock()
		return ErrGenerationInFlight
	}
	c.state = StateGenerating
	c.cancel = engine.NewCancelToken()
	token := c.cancel
	c.mu.Unlock()

	err := c.run(ctx, chatID, userContent, token)

	c.mu.Lock()
	c.state = StateIdle
	c.cancel = nil
	c.mu.Unlock()
	return err
}

func (c *Coordinator) run(ctx context.Context, chatID, userContent string, cancel *engine.CancelToken) error {
	chat, err := c.repo.GetChat(chatID)
	if err != nil {
		return err
	}

	// Guard before persisting: a reply from the wrong model must not be
	// invited into this chat's transcript.
	if loaded, ok := c.session.LoadedModel(); !ok {
		return session.ErrNotLoaded
	} else if chat.ModelName != "" && chat.ModelName != loaded.Name {
		return ErrModelMismatch
	}

	// Persist the user message first so a crash mid-generation never
	// loses user input.
	userMsg, err := c.repo.AddMessage(chatID, model.RoleUser, userContent)
	if err != nil {
		return err
	}

	chat, err = c.repo.GetChat(chatID)
	if err != nil {
		return err
	}
	c.setView(chat)

	prompt := c.buildPrompt(chat, userMsg)

	buf := NewStreamingBuffer(c.batchSize, c.maxFPS, func(batch string) {
		c.appendToPlaceholder(chatID, batch)
	})
	res, err := c.session.Generate(ctx, prompt, buf.Add, cancel)
	buf.Drain()

	switch {
	case err != nil:
		c.log.Error().Err(err).Str("chat_id", chatID).Msg("generation failed")
		c.persistErrorReply(chatID)
		c.sub.OnError(chatID, err)
		return err

	case res.Cancelled:
		c.log.Info().Str("chat_id", chatID).Int("tokens", res.TokenCount).Msg("generation cancelled")
		c.sub.OnCancelled(chatID)
		return nil

	default:
		return c.complete(chatID, res)
	}
}

// buildPrompt assembles the prompt sequence for the chat's mode. The
// user message is already persisted, so in conversation mode it arrives
// as the last entry of the chronological replay.
func (c *Coordinator) buildPrompt(chat *model.Chat, userMsg *model.Message) []engine.PromptMessage {
	prompt := []engine.PromptMessage{{Role: model.RoleSystem.String(), Content: c.systemPrompt}}

	if chat.Mode == model.ModeSingleInteractive {
		// Each turn is stateless against the fixed instruction; prior
		// turns are not replayed.
		prompt = append(prompt,
			engine.PromptMessage{Role: model.RoleUser.String(), Content: chat.UserPrompt},
			engine.PromptMessage{Role: model.RoleUser.String(), Content: userMsg.Content},
		)
		return prompt
	}

	for _, msg := range chat.Chronological() {
		prompt = append(prompt, engine.PromptMessage{Role: msg.Role.String(), Content: msg.Content})
	}
	return prompt
}

// complete persists the trimmed reply and swaps the view placeholder for
// the persisted message.
func (c *Coordinator) complete(chatID string, res session.Result) error {
	text := strings.TrimSpace(res.Text)
	msg, err := c.repo.AddAssistantMessage(chatID, text, model.GenStats{
		TokenCount:   res.TokenCount,
		DurationMs:   res.Duration.Milliseconds(),
		TokensPerSec: res.TokensPerSec(),
		TTFTMs:       res.TTFT.Milliseconds(),
	})
	if err != nil {
		c.persistErrorReply(chatID)
		c.sub.OnError(chatID, err)
		return err
	}

	c.mu.Lock()
	if c.view != nil {
		c.view.RemoveMessage(model.StreamingID)
		copied := *msg
		c.view.Prepend(&copied)
	}
	c.mu.Unlock()

	c.log.Info().Str("chat_id", chatID).
		Int("tokens", res.TokenCount).
		Float64("tokens_per_sec", res.TokensPerSec()).
		Msg("generation completed")
	c.sub.OnCompleted(chatID, msg)
	return nil
}

// persistErrorReply records a generic assistant turn and resyncs the
// view from persisted truth.
func (c *Coordinator) persistErrorReply(chatID string) {
	if _, err := c.repo.AddMessage(chatID, model.RoleAssistant, errorReplyText); err != nil {
		c.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to persist error reply")
	}
	chat, err := c.repo.GetChat(chatID)
	if err != nil {
		c.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to reload chat after error")
		return
	}
	c.setView(chat)
}

func (c *Coordinator) setView(chat *model.Chat) {
	c.mu.Lock()
	c.view = chat
	c.mu.Unlock()
}

// appendToPlaceholder routes a visible batch into the view's streaming
// placeholder: inserted when the newest message is a user message (or
// none exists), appended in place otherwise.
func (c *Coordinator) appendToPlaceholder(chatID, batch string) {
	c.mu.Lock()
	if c.view != nil {
		newest := c.view.Newest()
		if newest == nil || newest.Role == model.RoleUser {
			ph := model.NewStreamingPlaceholder()
			ph.Content = batch
			c.view.Prepend(ph)
		} else if newest.IsPlaceholder() {
			newest.Content += batch
		}
	}
	c.mu.Unlock()

	c.sub.OnTokens(chatID, batch)
}
