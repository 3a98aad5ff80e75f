// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeranaias/rigchat/internal/engine"
)

func newTestClient(url string) *Client {
	return NewClientWithConfig(&ClientConfig{BaseURL: url})
}

func TestCheckRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).CheckRunning(context.Background()); err != nil {
		t.Errorf("CheckRunning failed: %v", err)
	}
}

func TestCheckRunning_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately unreachable

	err := newTestClient(srv.URL).CheckRunning(context.Background())
	if !IsNotRunning(err) {
		t.Errorf("expected not-running error, got %v", err)
	}
}

func TestLoad_Success(t *testing.T) {
	var gotReq loadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/load" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	params := engine.RuntimeParams{ContextSize: 2048, BatchSize: 256, ThreadCount: 2, GPULayers: 8}
	h, err := newTestClient(srv.URL).Load(context.Background(), "/models/tiny.model", params)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if h == nil {
		t.Fatal("expected a handle")
	}
	if gotReq.Path != "/models/tiny.model" || gotReq.ContextSize != 2048 || gotReq.GPULayers != 8 {
		t.Errorf("load request = %+v", gotReq)
	}
}

func TestLoad_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Load(context.Background(), "/nope.model", engine.DefaultRuntimeParams())
	if !IsModelNotFound(err) {
		t.Errorf("expected model-not-found, got %v", err)
	}
}

func TestLoad_DaemonErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(daemonError{Error: "out of memory"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Load(context.Background(), "/big.model", engine.DefaultRuntimeParams())
	if err == nil || err.Error() != "out of memory" {
		t.Errorf("expected daemon error text, got %v", err)
	}
}

func TestLoadInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/info" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(engine.ModelInfo{
			Architecture:  "llama",
			VocabSize:     32000,
			ContextLength: 4096,
		})
	}))
	defer srv.Close()

	info, err := newTestClient(srv.URL).LoadInfo(context.Background(), "/models/tiny.model")
	if err != nil {
		t.Fatalf("LoadInfo failed: %v", err)
	}
	if info.Architecture != "llama" || info.VocabSize != 32000 || info.ContextLength != 4096 {
		t.Errorf("info = %+v", info)
	}
}

func TestComplete_StreamsTokens(t *testing.T) {
	tokens := []string{"Hel", "lo", " wor", "ld"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream=true")
		}
		for _, tok := range tokens {
			fmt.Fprintf(w, "{\"content\":%q}\n", tok)
		}
		fmt.Fprintln(w, `{"done":true,"done_reason":"stop","prompt_tokens":12,"completion_tokens":4}`)
	}))
	defer srv.Close()

	h := &handle{client: newTestClient(srv.URL)}

	var received []string
	result, err := h.Complete(context.Background(),
		[]engine.PromptMessage{{Role: "user", Content: "hi"}},
		engine.DefaultSamplingParams(),
		func(tok string) { received = append(received, tok) })
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if result.Text != "Hello world" {
		t.Errorf("Text = %q, want %q", result.Text, "Hello world")
	}
	if len(received) != len(tokens) {
		t.Errorf("received %d tokens, want %d", len(received), len(tokens))
	}
	if result.CompletionTokens != 4 || result.PromptTokens != 12 {
		t.Errorf("token counts = %+v", result)
	}
	if result.StopReason != "stop" {
		t.Errorf("StopReason = %q", result.StopReason)
	}
}

func TestComplete_SkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"content":"ok"}`)
		fmt.Fprintln(w, `this is not json`)
		fmt.Fprintln(w, `{"content":"!","done":true}`)
	}))
	defer srv.Close()

	h := &handle{client: newTestClient(srv.URL)}
	result, err := h.Complete(context.Background(), nil, engine.SamplingParams{}, nil)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if result.Text != "ok!" {
		t.Errorf("Text = %q, want %q", result.Text, "ok!")
	}
}

func TestComplete_EOFWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"content":"partial"}`)
		// Stream ends without a done chunk.
	}))
	defer srv.Close()

	h := &handle{client: newTestClient(srv.URL)}
	result, err := h.Complete(context.Background(), nil, engine.SamplingParams{}, nil)
	if err != nil {
		t.Fatalf("Complete should tolerate missing done chunk, got %v", err)
	}
	if result.Text != "partial" {
		t.Errorf("Text = %q, want %q", result.Text, "partial")
	}
}

func TestComplete_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"content":"x"}`)
	}))
	defer srv.Close()

	h := &handle{client: newTestClient(srv.URL)}
	_, err := h.Complete(ctx, nil, engine.SamplingParams{}, nil)
	if err == nil {
		t.Error("expected an error from a cancelled context")
	}
}

func TestClientError_Is(t *testing.T) {
	wrapped := fmt.Errorf("loading: %w", &ClientError{Type: ErrTypeNotRunning, Message: "down"})
	if !errors.Is(wrapped, ErrNotRunning) {
		t.Error("ClientError should match sentinels by type")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/unload" {
			calls++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := &handle{client: newTestClient(srv.URL)}
	if err := h.Release(context.Background()); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := h.Release(context.Background()); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("unload calls = %d, want 2", calls)
	}
}
