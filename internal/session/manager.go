// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/kv"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotLoaded is returned when generation is requested with no active
// model session. Checked synchronously before any engine call.
var ErrNotLoaded = errors.New("no model loaded")

// EngineError wraps a failure from the inference engine, tagged with the
// operation that failed.
type EngineError struct {
	Op  string // "load", "generate", "unload"
	Err error
}

func (e *EngineError) Error() string {
	return "engine " + e.Op + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// =============================================================================
// STATE MACHINE
// =============================================================================

// State is the session lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

// ModelRef identifies a model file in the library.
type ModelRef struct {
	Name string
	Path string
}

// lastUsedKey is where the most recently loaded model path is persisted
// for auto-reload on next launch.
const lastUsedKey = "last_used_model_path"

// =============================================================================
// MANAGER
// =============================================================================

// Result carries the outcome of a completed or cancelled generation.
type Result struct {
	Text       string
	TokenCount int
	Duration   time.Duration
	TTFT       time.Duration
	Cancelled  bool
}

// TokensPerSec computes throughput over the generation window.
func (r Result) TokensPerSec() float64 {
	secs := r.Duration.Seconds()
	if secs <= 0 || r.TokenCount == 0 {
		return 0
	}
	return float64(r.TokenCount) / secs
}

// Manager owns the one live engine handle. Loads and unloads are
// serialized under the manager lock; Generate snapshots the handle and
// runs without holding the lock, since a generation can take minutes.
// Loading while a generation is in flight against the same handle is a
// caller discipline error the manager does not arbitrate.
type Manager struct {
	mu sync.Mutex

	engine engine.Engine
	store  kv.Store
	log    zerolog.Logger

	state    State
	handle   engine.Handle
	selected ModelRef
	info     engine.ModelInfo

	runtime  engine.RuntimeParams
	sampling engine.SamplingParams
}

// NewManager creates a session manager in the Unloaded state.
func NewManager(eng engine.Engine, store kv.Store, log zerolog.Logger) *Manager {
	return &Manager{
		engine:   eng,
		store:    store,
		log:      log.With().Str("component", "session").Logger(),
		state:    StateUnloaded,
		runtime:  engine.DefaultRuntimeParams(),
		sampling: engine.DefaultSamplingParams(),
	}
}

// SetRuntimeParams configures parameters applied to subsequent loads.
func (m *Manager) SetRuntimeParams(params engine.RuntimeParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runtime = params
}

// SetSamplingParams configures parameters applied to subsequent
// generations.
func (m *Manager) SetSamplingParams(params engine.SamplingParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampling = params
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LoadedModel returns the active model reference, if any.
func (m *Manager) LoadedModel() (ModelRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateLoaded {
		return ModelRef{}, false
	}
	return m.selected, true
}

// ModelInfo returns metadata resolved for the loaded model. Zero value
// when nothing is loaded or introspection failed.
func (m *Manager) ModelInfo() engine.ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// LastUsedPath returns the persisted path of the most recently loaded
// model, for auto-reload on launch.
func (m *Manager) LastUsedPath() (string, bool) {
	path, ok, err := m.store.GetString(lastUsedKey)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read last-used model path")
		return "", false
	}
	return path, ok
}

// LoadModel loads the model at ref.Path, releasing any prior handle
// first. The release completes before the new load starts so two handles
// never coexist. On failure the manager remains Unloaded.
func (m *Manager) LoadModel(ctx context.Context, ref ModelRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil {
		if err := m.handle.Release(ctx); err != nil {
			m.log.Warn().Err(err).Str("model", m.selected.Name).
				Msg("failed to release prior session, proceeding with load")
		}
		m.handle = nil
		m.info = engine.ModelInfo{}
	}
	m.state = StateLoading
	m.selected = ref
	m.log.Info().Str("model", ref.Name).Str("path", ref.Path).Msg("loading model")

	h, err := m.engine.Load(ctx, ref.Path, m.runtime)
	if err != nil {
		m.state = StateUnloaded
		m.selected = ModelRef{}
		return &EngineError{Op: "load", Err: err}
	}

	// Metadata is advisory; a failed lookup does not fail the load.
	info, err := m.engine.LoadInfo(ctx, ref.Path)
	if err != nil {
		m.log.Warn().Err(err).Str("model", ref.Name).Msg("model info unavailable")
	} else {
		m.info = info
	}

	m.handle = h
	m.state = StateLoaded

	if err := m.store.Set(lastUsedKey, ref.Path); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist last-used model path")
	}
	m.log.Info().Str("model", ref.Name).
		Str("arch", m.info.Architecture).
		Int("context_length", m.info.ContextLength).
		Msg("model loaded")
	return nil
}

// Unload releases the engine handle if present. Idempotent.
func (m *Manager) Unload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil {
		m.state = StateUnloaded
		return nil
	}

	err := m.handle.Release(ctx)
	m.handle = nil
	m.selected = ModelRef{}
	m.info = engine.ModelInfo{}
	m.state = StateUnloaded
	if err != nil {
		return &EngineError{Op: "unload", Err: err}
	}
	m.log.Info().Msg("model unloaded")
	return nil
}

// ForceUnloadIfActive unloads when path backs the loaded session.
// Reports whether an unload happened. Used before deleting a model file
// out from under the engine.
func (m *Manager) ForceUnloadIfActive(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	active := m.state == StateLoaded && m.selected.Path == path
	m.mu.Unlock()
	if !active {
		return false, nil
	}
	return true, m.Unload(ctx)
}

// Generate streams a completion for prompt, invoking onToken per token.
// The cancellation token is polled on every token boundary; when
// signaled, a stop request is issued to the engine and Generate returns
// the text accumulated so far with a nil error. Default stop markers for
// known chat-template families are always merged into the sampling
// parameters. Fails with ErrNotLoaded before touching the engine when no
// session is live.
func (m *Manager) Generate(ctx context.Context, prompt []engine.PromptMessage, onToken engine.TokenFunc, cancel *engine.CancelToken) (Result, error) {
	m.mu.Lock()
	if m.state != StateLoaded || m.handle == nil {
		m.mu.Unlock()
		return Result{}, ErrNotLoaded
	}
	h := m.handle
	params := m.sampling.WithStopMarkers()
	m.mu.Unlock()

	var (
		acc        strings.Builder
		tokenCount int
		firstTok   time.Time
		stopped    bool
	)
	start := time.Now()

	wrapped := func(tok string) {
		if tokenCount == 0 {
			firstTok = time.Now()
		}
		tokenCount++
		acc.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
		if cancel != nil && cancel.Cancelled() && !stopped {
			stopped = true
			h.Stop()
		}
	}

	_, err := h.Complete(ctx, prompt, params, wrapped)

	res := Result{
		Text:       acc.String(),
		TokenCount: tokenCount,
		Duration:   time.Since(start),
		Cancelled:  cancel != nil && cancel.Cancelled(),
	}
	if tokenCount > 0 {
		res.TTFT = firstTok.Sub(start)
	}

	if err != nil {
		// A stream torn down after a stop request is the expected shape
		// of cancellation, not a failure.
		if res.Cancelled {
			return res, nil
		}
		return Result{}, &EngineError{Op: "generate", Err: err}
	}
	return res, nil
}

// Describe returns a short human-readable summary of the session, used
// by status displays.
func (m *Manager) Describe() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateLoaded:
		if m.info.Architecture != "" {
			return fmt.Sprintf("%s (%s, ctx %d)", m.selected.Name, m.info.Architecture, m.info.ContextLength)
		}
		return m.selected.Name
	case StateLoading:
		return "loading " + m.selected.Name
	default:
		return "no model loaded"
	}
}
