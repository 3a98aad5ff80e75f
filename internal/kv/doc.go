// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kv provides the synchronous key-value substrate the persistent
// store is built on.
//
// Three implementations share one contract: a file-backed store using
// atomic whole-file writes, a SQLite-backed store, and an in-memory store
// for tests. Values are opaque strings; callers own serialization.
package kv
