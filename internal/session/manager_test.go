// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/kv"
)

// =============================================================================
// FAKE ENGINE
// =============================================================================

type fakeHandle struct {
	tokens    []string
	completed bool
	stopAfter int // stop truncates the stream after this many tokens once Stop is called
	stopCalls int
	released  bool
}

func (h *fakeHandle) Complete(ctx context.Context, prompt []engine.PromptMessage, params engine.SamplingParams, onToken engine.TokenFunc) (engine.CompletionResult, error) {
	text := ""
	for i, tok := range h.tokens {
		if h.stopCalls > 0 && i >= h.stopAfter {
			break
		}
		text += tok
		if onToken != nil {
			onToken(tok)
		}
	}
	h.completed = true
	return engine.CompletionResult{Text: text, CompletionTokens: len(h.tokens), StopReason: "stop"}, nil
}

func (h *fakeHandle) Stop() { h.stopCalls++ }

func (h *fakeHandle) Release(ctx context.Context) error {
	h.released = true
	return nil
}

type fakeEngine struct {
	handles  []*fakeHandle
	loadErr  error
	infoErr  error
	info     engine.ModelInfo
	nextToks []string
}

func (e *fakeEngine) Load(ctx context.Context, path string, params engine.RuntimeParams) (engine.Handle, error) {
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	h := &fakeHandle{tokens: e.nextToks, stopAfter: len(e.nextToks)}
	e.handles = append(e.handles, h)
	return h, nil
}

func (e *fakeEngine) LoadInfo(ctx context.Context, path string) (engine.ModelInfo, error) {
	if e.infoErr != nil {
		return engine.ModelInfo{}, e.infoErr
	}
	return e.info, nil
}

func newTestManager(eng *fakeEngine) *Manager {
	return NewManager(eng, kv.NewMemStore(), zerolog.Nop())
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestManager_InitiallyUnloaded(t *testing.T) {
	m := newTestManager(&fakeEngine{})
	if m.State() != StateUnloaded {
		t.Errorf("state = %v, want unloaded", m.State())
	}
	if _, ok := m.LoadedModel(); ok {
		t.Error("LoadedModel should report nothing loaded")
	}
}

func TestManager_LoadModel(t *testing.T) {
	eng := &fakeEngine{info: engine.ModelInfo{Architecture: "llama", ContextLength: 4096}}
	m := newTestManager(eng)

	ref := ModelRef{Name: "tiny", Path: "/models/tiny.model"}
	if err := m.LoadModel(context.Background(), ref); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	if m.State() != StateLoaded {
		t.Errorf("state = %v, want loaded", m.State())
	}
	got, ok := m.LoadedModel()
	if !ok || got != ref {
		t.Errorf("LoadedModel = %v, %v", got, ok)
	}
	if m.ModelInfo().Architecture != "llama" {
		t.Errorf("ModelInfo = %+v", m.ModelInfo())
	}
}

func TestManager_LoadPersistsLastUsed(t *testing.T) {
	eng := &fakeEngine{}
	store := kv.NewMemStore()
	m := NewManager(eng, store, zerolog.Nop())

	if _, ok := m.LastUsedPath(); ok {
		t.Error("expected no last-used path before first load")
	}
	if err := m.LoadModel(context.Background(), ModelRef{Name: "a", Path: "/m/a.model"}); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	path, ok := m.LastUsedPath()
	if !ok || path != "/m/a.model" {
		t.Errorf("LastUsedPath = %q, %v", path, ok)
	}
}

func TestManager_LoadReleasesPriorHandle(t *testing.T) {
	eng := &fakeEngine{}
	m := newTestManager(eng)

	ctx := context.Background()
	if err := m.LoadModel(ctx, ModelRef{Name: "a", Path: "/m/a.model"}); err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if err := m.LoadModel(ctx, ModelRef{Name: "b", Path: "/m/b.model"}); err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	if len(eng.handles) != 2 {
		t.Fatalf("handles = %d, want 2", len(eng.handles))
	}
	if !eng.handles[0].released {
		t.Error("first handle should be released before second load")
	}
	if eng.handles[1].released {
		t.Error("second handle should still be live")
	}
	got, _ := m.LoadedModel()
	if got.Name != "b" {
		t.Errorf("active model = %q, want b", got.Name)
	}
}

func TestManager_LoadFailureStaysUnloaded(t *testing.T) {
	eng := &fakeEngine{loadErr: errors.New("mmap failed")}
	m := newTestManager(eng)

	err := m.LoadModel(context.Background(), ModelRef{Name: "a", Path: "/m/a.model"})
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Op != "load" {
		t.Errorf("expected load EngineError, got %v", err)
	}
	if m.State() != StateUnloaded {
		t.Errorf("state = %v, want unloaded after failed load", m.State())
	}
}

func TestManager_InfoFailureDoesNotFailLoad(t *testing.T) {
	eng := &fakeEngine{infoErr: errors.New("bad header")}
	m := newTestManager(eng)

	if err := m.LoadModel(context.Background(), ModelRef{Name: "a", Path: "/m/a.model"}); err != nil {
		t.Fatalf("load should succeed without metadata: %v", err)
	}
	if m.State() != StateLoaded {
		t.Errorf("state = %v, want loaded", m.State())
	}
}

func TestManager_UnloadIdempotent(t *testing.T) {
	eng := &fakeEngine{}
	m := newTestManager(eng)
	ctx := context.Background()

	if err := m.Unload(ctx); err != nil {
		t.Fatalf("unload of empty manager failed: %v", err)
	}

	if err := m.LoadModel(ctx, ModelRef{Name: "a", Path: "/m/a.model"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := m.Unload(ctx); err != nil {
		t.Fatalf("unload failed: %v", err)
	}
	if err := m.Unload(ctx); err != nil {
		t.Fatalf("second unload failed: %v", err)
	}
	if m.State() != StateUnloaded {
		t.Errorf("state = %v, want unloaded", m.State())
	}
	if !eng.handles[0].released {
		t.Error("handle should be released")
	}
}

func TestManager_ForceUnloadIfActive(t *testing.T) {
	eng := &fakeEngine{}
	m := newTestManager(eng)
	ctx := context.Background()

	if err := m.LoadModel(ctx, ModelRef{Name: "a", Path: "/m/a.model"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	unloaded, err := m.ForceUnloadIfActive(ctx, "/m/other.model")
	if err != nil || unloaded {
		t.Errorf("unrelated path: unloaded=%v err=%v", unloaded, err)
	}
	if m.State() != StateLoaded {
		t.Error("unrelated path must not unload")
	}

	unloaded, err = m.ForceUnloadIfActive(ctx, "/m/a.model")
	if err != nil || !unloaded {
		t.Errorf("active path: unloaded=%v err=%v", unloaded, err)
	}
	if m.State() != StateUnloaded {
		t.Error("active path should force unload")
	}
}

// =============================================================================
// GENERATION
// =============================================================================

func TestManager_GenerateNotLoaded(t *testing.T) {
	m := newTestManager(&fakeEngine{})
	_, err := m.Generate(context.Background(), nil, nil, engine.NewCancelToken())
	if !errors.Is(err, ErrNotLoaded) {
		t.Errorf("err = %v, want ErrNotLoaded", err)
	}
}

func TestManager_GenerateAccumulates(t *testing.T) {
	eng := &fakeEngine{nextToks: []string{"Hel", "lo", "!"}}
	m := newTestManager(eng)
	ctx := context.Background()

	if err := m.LoadModel(ctx, ModelRef{Name: "a", Path: "/m/a.model"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	var seen []string
	res, err := m.Generate(ctx, []engine.PromptMessage{{Role: "user", Content: "hi"}},
		func(tok string) { seen = append(seen, tok) }, engine.NewCancelToken())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Text != "Hello!" {
		t.Errorf("Text = %q, want %q", res.Text, "Hello!")
	}
	if res.TokenCount != 3 || len(seen) != 3 {
		t.Errorf("token count = %d, callbacks = %d, want 3/3", res.TokenCount, len(seen))
	}
	if res.Cancelled {
		t.Error("normal completion should not report cancelled")
	}
}

func TestManager_GenerateCancelMidStream(t *testing.T) {
	eng := &fakeEngine{nextToks: []string{"a", "b", "c", "d", "e"}}
	m := newTestManager(eng)
	ctx := context.Background()

	if err := m.LoadModel(ctx, ModelRef{Name: "a", Path: "/m/a.model"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	handle := eng.handles[0]
	handle.stopAfter = 2

	token := engine.NewCancelToken()
	count := 0
	res, err := m.Generate(ctx, nil, func(string) {
		count++
		if count == 2 {
			token.Cancel()
		}
	}, token)
	if err != nil {
		t.Fatalf("cancellation must not surface as an error: %v", err)
	}
	if !res.Cancelled {
		t.Error("result should report cancellation")
	}
	if res.Text != "ab" {
		t.Errorf("Text = %q, want tokens up to the stop point", res.Text)
	}
	if handle.stopCalls != 1 {
		t.Errorf("Stop calls = %d, want exactly 1", handle.stopCalls)
	}
}

func TestManager_GenerateMergesStopMarkers(t *testing.T) {
	eng := &fakeEngine{nextToks: []string{"x"}}
	m := newTestManager(eng)
	ctx := context.Background()

	if err := m.LoadModel(ctx, ModelRef{Name: "a", Path: "/m/a.model"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	var gotParams engine.SamplingParams
	h := &capturingHandle{inner: eng.handles[0], params: &gotParams}
	m.mu.Lock()
	m.handle = h
	m.mu.Unlock()

	if _, err := m.Generate(ctx, nil, nil, nil); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(gotParams.StopSequences) < len(engine.DefaultStopMarkers) {
		t.Errorf("stop sequences = %v, want default markers merged in", gotParams.StopSequences)
	}
}

type capturingHandle struct {
	inner  engine.Handle
	params *engine.SamplingParams
}

func (h *capturingHandle) Complete(ctx context.Context, prompt []engine.PromptMessage, params engine.SamplingParams, onToken engine.TokenFunc) (engine.CompletionResult, error) {
	*h.params = params
	return h.inner.Complete(ctx, prompt, params, onToken)
}

func (h *capturingHandle) Stop() { h.inner.Stop() }
func (h *capturingHandle) Release(ctx context.Context) error { return h.inner.Release(ctx) }

type failingHandle struct{ fakeHandle }

func (h *failingHandle) Complete(ctx context.Context, prompt []engine.PromptMessage, params engine.SamplingParams, onToken engine.TokenFunc) (engine.CompletionResult, error) {
	return engine.CompletionResult{}, errors.New("kv cache overflow")
}

func TestManager_GenerateEngineError(t *testing.T) {
	eng := &fakeEngine{}
	m := newTestManager(eng)
	ctx := context.Background()

	if err := m.LoadModel(ctx, ModelRef{Name: "a", Path: "/m/a.model"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	m.mu.Lock()
	m.handle = &failingHandle{}
	m.mu.Unlock()

	_, err := m.Generate(ctx, nil, nil, engine.NewCancelToken())
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Op != "generate" {
		t.Errorf("expected generate EngineError, got %v", err)
	}
}
