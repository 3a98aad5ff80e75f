// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the chat history document.
//
// The entire ChatHistory is one JSON blob under a single key of the kv
// substrate. Every save rewrites the whole document; there are no partial
// or merge writes. A blob that fails to parse degrades to an empty history
// rather than failing the caller - corruption is logged, never fatal.
package storage
