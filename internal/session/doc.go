// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the lifecycle of the single live inference
// session. At most one engine handle exists at a time; loading a new
// model releases the prior handle synchronously before constructing the
// new one. Generation streams tokens through a caller callback and
// honors cooperative cancellation at per-token boundaries; cancellation
// is a normal terminal transition, not an error.
package session
