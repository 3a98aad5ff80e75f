// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import "github.com/jeranaias/rigchat/internal/model"

// =============================================================================
// EVENTS
// =============================================================================

// Subscriber receives generation progress for a chat. All callbacks run
// on the generating goroutine; implementations hand off to their own
// loop if they need to.
type Subscriber interface {
	// OnTokens delivers a batched chunk of newly visible text. The
	// placeholder message in the view already contains it.
	OnTokens(chatID, batch string)

	// OnCompleted delivers the persisted assistant message that replaced
	// the streaming placeholder. Its ID differs from model.StreamingID.
	OnCompleted(chatID string, msg *model.Message)

	// OnCancelled signals a user-cancelled generation. Nothing was
	// persisted; the view placeholder holds the partial text.
	OnCancelled(chatID string)

	// OnError signals a failed generation. A generic assistant message
	// was persisted and the view reloaded from the store.
	OnError(chatID string, err error)
}

// NopSubscriber discards all events.
type NopSubscriber struct{}

func (NopSubscriber) OnTokens(string, string) {}
func (NopSubscriber) OnCompleted(string, *model.Message) {}
func (NopSubscriber) OnCancelled(string) {}
func (NopSubscriber) OnError(string, error) {}
