// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package repo implements CRUD over the persisted chat history.
//
// Every operation follows read-entire-document, mutate-in-memory,
// write-entire-document. That is safe because there is exactly one
// in-process writer driven by the UI; no cross-process write path exists.
//
// Lookup failures are uniform: any operation addressing an absent chat or
// message returns ErrChatNotFound / ErrMessageNotFound. (The legacy client
// silently ignored deleteMessage on an unknown chat; this repository does
// not.)
package repo
