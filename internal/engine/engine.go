// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"time"
)

// =============================================================================
// PARAMETERS
// =============================================================================

// RuntimeParams configure how a model is loaded into the engine.
type RuntimeParams struct {
	ContextSize int `json:"context_size"`
	BatchSize   int `json:"batch_size"`
	ThreadCount int `json:"threads"`
	GPULayers   int `json:"gpu_layers"`
}

// DefaultRuntimeParams returns conservative defaults suitable for most
// mobile-class hardware.
func DefaultRuntimeParams() RuntimeParams {
	return RuntimeParams{
		ContextSize: 4096,
		BatchSize:   512,
		ThreadCount: 4,
		GPULayers:   0,
	}
}

// SamplingParams configure token sampling for a single completion.
type SamplingParams struct {
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	MaxTokens     int      `json:"max_tokens"`
	StopSequences []string `json:"stop,omitempty"`
}

// DefaultSamplingParams returns the default sampling configuration.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   1024,
	}
}

// DefaultStopMarkers are end-of-turn tokens across known chat-template
// families. They are always passed alongside any configured stop sequences
// to suppress runaway generation.
var DefaultStopMarkers = []string{
	"</s>",
	"<|eot_id|>",
	"<|end|>",
	"<|im_end|>",
	"<|endoftext|>",
	"<end_of_turn>",
	"<|eom_id|>",
}

// WithStopMarkers returns a copy of p whose stop sequences include the
// default end-of-turn markers (deduplicated, configured sequences first).
func (p SamplingParams) WithStopMarkers() SamplingParams {
	seen := make(map[string]bool, len(p.StopSequences)+len(DefaultStopMarkers))
	merged := make([]string, 0, len(p.StopSequences)+len(DefaultStopMarkers))
	for _, s := range p.StopSequences {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	for _, s := range DefaultStopMarkers {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	out := p
	out.StopSequences = merged
	return out
}

// =============================================================================
// PROMPT AND RESULT TYPES
// =============================================================================

// PromptMessage is one entry of the prompt sequence sent to the engine.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResult is the terminal result of a streamed completion.
type CompletionResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
	StopReason       string
}

// ModelInfo holds model metadata resolved from a model file.
type ModelInfo struct {
	Architecture  string `json:"architecture"`
	VocabSize     int    `json:"vocab_size"`
	ContextLength int    `json:"context_length"`
	Quantization  string `json:"quantization,omitempty"`
}

// =============================================================================
// ENGINE CONTRACT
// =============================================================================

// TokenFunc receives each partial token as it is produced.
type TokenFunc func(token string)

// Engine constructs live model handles and introspects model files.
type Engine interface {
	// Load constructs a handle for the model file at path. The engine holds
	// at most one model; callers release any prior handle first.
	Load(ctx context.Context, path string, params RuntimeParams) (Handle, error)

	// LoadInfo resolves model metadata without requiring a loaded handle.
	LoadInfo(ctx context.Context, path string) (ModelInfo, error)
}

// Handle is a loaded model ready to generate text.
type Handle interface {
	// Complete streams a completion for the prompt sequence, invoking
	// onToken for every partial token in order. It blocks until the stream
	// terminates (normally, by stop request, or with an error).
	Complete(ctx context.Context, prompt []PromptMessage, params SamplingParams, onToken TokenFunc) (CompletionResult, error)

	// Stop signals the engine to end the running completion at the next
	// token boundary. Cooperative: a slow token delays its effect.
	Stop()

	// Release frees the engine resources behind this handle.
	Release(ctx context.Context) error
}
