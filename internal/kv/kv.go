// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

// Store is a synchronous string key-value store.
//
// GetString reports ok=false when the key is absent; that is not an error.
// Implementations must make Set durable before returning.
type Store interface {
	GetString(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}
