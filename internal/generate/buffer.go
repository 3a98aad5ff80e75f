// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

const (
	defaultBatchSize = 15
	defaultMaxFPS    = 30
)

// StreamingBuffer batches tokens for visible updates. Every token is
// delivered to the flush callback eventually; the buffer only controls
// WHEN batches become visible, flushing once either the batch size is
// reached or the frame-rate limiter grants a slot. Sub-frame-rate token
// storms therefore coalesce instead of forcing an update per token.
//
// Thread-safe: tokens arrive from the streaming goroutine.
type StreamingBuffer struct {
	mu      sync.Mutex
	pending strings.Builder
	count   int

	batchSize int
	limiter   *rate.Limiter
	flush     func(batch string)
}

// NewStreamingBuffer creates a buffer delivering batches to flush.
// Non-positive batchSize or maxFPS fall back to defaults.
func NewStreamingBuffer(batchSize, maxFPS int, flush func(batch string)) *StreamingBuffer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = defaultMaxFPS
	}
	return &StreamingBuffer{
		batchSize: batchSize,
		limiter:   rate.NewLimiter(rate.Limit(maxFPS), 1),
		flush:     flush,
	}
}

// Add appends a token and flushes if a threshold is met.
func (b *StreamingBuffer) Add(token string) {
	b.mu.Lock()
	b.pending.WriteString(token)
	b.count++
	shouldFlush := b.count >= b.batchSize || b.limiter.Allow()
	var batch string
	if shouldFlush {
		batch = b.pending.String()
		b.pending.Reset()
		b.count = 0
	}
	b.mu.Unlock()

	if shouldFlush && batch != "" {
		b.flush(batch)
	}
}

// Drain forces out whatever is pending, regardless of thresholds.
// Called once at end of stream so no token stays invisible.
func (b *StreamingBuffer) Drain() {
	b.mu.Lock()
	batch := b.pending.String()
	b.pending.Reset()
	b.count = 0
	b.mu.Unlock()

	if batch != "" {
		b.flush(batch)
	}
}
