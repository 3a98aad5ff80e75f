// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generate coordinates a chat turn end to end: it persists the
// user message, builds the prompt for the chat's mode, streams tokens
// into a transient placeholder message, and reconciles the placeholder
// with the persisted assistant reply on completion. One generation may
// be in flight per coordinator at a time.
package generate
