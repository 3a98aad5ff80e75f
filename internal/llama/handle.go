// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jeranaias/rigchat/internal/engine"
)

// =============================================================================
// LIVE HANDLE
// =============================================================================

type generateRequest struct {
	Messages    []engine.PromptMessage `json:"messages"`
	Temperature float64                `json:"temperature"`
	TopP        float64                `json:"top_p"`
	MaxTokens   int                    `json:"max_tokens"`
	Stop        []string               `json:"stop,omitempty"`
	Stream      bool                   `json:"stream"`
}

// handle is the daemon-side loaded model. The daemon holds one model, so
// the handle carries no identifier; Release unloads whatever is resident.
type handle struct {
	client *Client
}

// Complete streams a completion, invoking onToken per content chunk.
func (h *handle) Complete(ctx context.Context, prompt []engine.PromptMessage, params engine.SamplingParams, onToken engine.TokenFunc) (engine.CompletionResult, error) {
	start := time.Now()

	reqBody := generateRequest{
		Messages:    prompt,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stop:        params.StopSequences,
		Stream:      true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return engine.CompletionResult{}, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	// No client timeout while streaming; lifetime is bounded by ctx.
	streamClient := &http.Client{}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.client.config.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return engine.CompletionResult{}, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := streamClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return engine.CompletionResult{}, ErrTimeout
		}
		return engine.CompletionResult{}, ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return engine.CompletionResult{}, ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		var derr daemonError
		if err := json.NewDecoder(resp.Body).Decode(&derr); err == nil && derr.Error != "" {
			return engine.CompletionResult{}, &ClientError{Type: ErrTypeInvalidResponse, Message: derr.Error}
		}
		return engine.CompletionResult{}, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "generate request failed: " + resp.Status,
		}
	}

	reader := newStreamReader(resp.Body)
	final, err := reader.process(ctx, onToken)
	if err != nil {
		return engine.CompletionResult{}, err
	}

	return engine.CompletionResult{
		Text:             reader.accumulated(),
		PromptTokens:     final.PromptTokens,
		CompletionTokens: final.CompletionTokens,
		Duration:         time.Since(start),
		StopReason:       final.DoneReason,
	}, nil
}

// Stop signals the daemon to end the running completion. Fire-and-forget:
// a failed stop simply means the stream runs to its natural end.
func (h *handle) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.client.post(ctx, h.client.httpClient, "/api/stop", struct{}{}, nil)
}

// Release unloads the resident model.
func (h *handle) Release(ctx context.Context) error {
	return h.client.post(ctx, h.client.httpClient, "/api/unload", struct{}{}, nil)
}
