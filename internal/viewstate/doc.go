// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package viewstate holds the per-screen conversation state contract:
// mounting a chat by ID, deriving the navigation title from persisted
// truth, gating sends behind prompt configuration in single-interactive
// mode, and stopping in-flight generation on teardown.
package viewstate
