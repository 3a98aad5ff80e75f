// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import "sync/atomic"

// CancelToken is a cooperative cancellation flag passed by reference into a
// generation call and checked at each token boundary.
//
// Cancellation is not an error condition: when the token is signaled the
// generation issues a stop request to the engine and resolves normally with
// the text produced so far.
//
// Safe for concurrent use; Cancel is idempotent and signaling a token with
// no generation in flight is a no-op.
type CancelToken struct {
	flag atomic.Bool
}

// NewCancelToken returns an unsignaled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel signals the token. Calling it repeatedly has no further effect.
func (t *CancelToken) Cancel() {
	t.flag.Store(true)
}

// Cancelled reports whether the token has been signaled.
func (t *CancelToken) Cancelled() bool {
	return t.flag.Load()
}
