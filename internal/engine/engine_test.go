// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParams(t *testing.T) {
	rp := DefaultRuntimeParams()
	assert.Equal(t, 4096, rp.ContextSize)
	assert.Equal(t, 512, rp.BatchSize)
	assert.Positive(t, rp.ThreadCount)

	sp := DefaultSamplingParams()
	assert.InDelta(t, 0.7, sp.Temperature, 1e-9)
	assert.InDelta(t, 0.9, sp.TopP, 1e-9)
	assert.Equal(t, 1024, sp.MaxTokens)
}

func TestWithStopMarkers_MergesDefaults(t *testing.T) {
	p := SamplingParams{StopSequences: []string{"###"}}
	merged := p.WithStopMarkers()

	require.Contains(t, merged.StopSequences, "###")
	for _, marker := range DefaultStopMarkers {
		assert.Contains(t, merged.StopSequences, marker)
	}
	// Original untouched.
	assert.Equal(t, []string{"###"}, p.StopSequences)
}

func TestWithStopMarkers_Dedupes(t *testing.T) {
	p := SamplingParams{StopSequences: []string{"</s>", "</s>", "<|eot_id|>"}}
	merged := p.WithStopMarkers()

	seen := make(map[string]int)
	for _, s := range merged.StopSequences {
		seen[s]++
	}
	for s, n := range seen {
		assert.Equal(t, 1, n, "marker %q duplicated", s)
	}
}

func TestCancelToken(t *testing.T) {
	tok := NewCancelToken()
	require.False(t, tok.Cancelled())

	tok.Cancel()
	assert.True(t, tok.Cancelled())

	// Idempotent.
	tok.Cancel()
	assert.True(t, tok.Cancelled())
}
