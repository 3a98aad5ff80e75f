// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
//
// A Chat keeps its messages newest-first; every read and append preserves
// that order. Timestamps are stored as integer milliseconds so the
// serialized document is stable across platforms.
//
// The streaming placeholder (ID StreamingID) is a purely in-memory message
// representing in-progress generation. It is never written to storage.
package model
