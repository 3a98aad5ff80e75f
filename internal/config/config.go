// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the root application configuration.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Models   ModelsConfig   `toml:"models"`
	Storage  StorageConfig  `toml:"storage"`
	Sampling SamplingConfig `toml:"sampling"`
	Chat     ChatConfig     `toml:"chat"`
	Log      LogConfig      `toml:"log"`
}

// EngineConfig configures the inference daemon client and runtime
// parameters applied at model load.
type EngineConfig struct {
	// DaemonURL of the local inference daemon. Explicit IPv4 avoids
	// IPv6 resolution issues with "localhost" on some platforms.
	DaemonURL       string `toml:"daemon_url"`
	TimeoutSecs     int    `toml:"timeout_secs"`
	LoadTimeoutSecs int    `toml:"load_timeout_secs"`

	ContextSize int `toml:"context_size"`
	BatchSize   int `toml:"batch_size"`
	Threads     int `toml:"threads"`
	GPULayers   int `toml:"gpu_layers"`
}

// ModelsConfig configures the model file library.
type ModelsConfig struct {
	Dir             string `toml:"dir"`
	AutoReloadLast  bool   `toml:"auto_reload_last"`
	WatchDebounceMs int    `toml:"watch_debounce_ms"`
}

// StorageConfig configures the chat history substrate.
type StorageConfig struct {
	// Backend selects the KV substrate: "file" or "sqlite".
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// SamplingConfig configures generation sampling.
// Values outside valid ranges are clamped during validation.
type SamplingConfig struct {
	Temperature float64 `toml:"temperature"`
	TopP        float64 `toml:"top_p"`
	MaxTokens   int     `toml:"max_tokens"`
}

// ChatConfig configures turn orchestration and streaming display.
type ChatConfig struct {
	SystemPrompt    string `toml:"system_prompt"`
	StreamBatchSize int    `toml:"stream_batch_size"`
	StreamMaxFPS    int    `toml:"stream_max_fps"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level: trace, debug, info, warn, error.
	Level string `toml:"level"`
	// Format: "console" or "json".
	Format string `toml:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".rigchat")

	return &Config{
		Engine: EngineConfig{
			DaemonURL:       "http://127.0.0.1:8580",
			TimeoutSecs:     30,
			LoadTimeoutSecs: 300,
			ContextSize:     4096,
			BatchSize:       512,
			Threads:         4,
			GPULayers:       0,
		},
		Models: ModelsConfig{
			Dir:             filepath.Join(base, "models"),
			AutoReloadLast:  true,
			WatchDebounceMs: 500,
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    filepath.Join(base, "chats.json"),
		},
		Sampling: SamplingConfig{
			Temperature: 0.7,
			TopP:        0.9,
			MaxTokens:   1024,
		},
		Chat: ChatConfig{
			SystemPrompt:    "You are a helpful assistant.",
			StreamBatchSize: 15,
			StreamMaxFPS:    30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ConfigDir returns the rigchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPath returns the default TOML config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from the default path. A missing file is not
// an error; defaults plus environment overrides apply.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from an explicit TOML file, layering
// environment overrides on top and validating the result. A missing
// file yields defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as TOML, creating the directory if
// needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides layers RIGCHAT_* environment variables over the
// loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGCHAT_DAEMON_URL"); v != "" {
		c.Engine.DaemonURL = v
	}
	if v := os.Getenv("RIGCHAT_MODELS_DIR"); v != "" {
		c.Models.Dir = v
	}
	if v := os.Getenv("RIGCHAT_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("RIGCHAT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("RIGCHAT_SYSTEM_PROMPT"); v != "" {
		c.Chat.SystemPrompt = v
	}
	if v := os.Getenv("RIGCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("RIGCHAT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sampling.MaxTokens = n
		}
	}
	if v := os.Getenv("RIGCHAT_GPU_LAYERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.GPULayers = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration, clamping recoverable out-of-range
// values and returning errors only for unusable ones.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Engine.DaemonURL == "" {
		errs = append(errs, ValidationError{"engine.daemon_url", "must not be empty"})
	}
	if c.Engine.TimeoutSecs <= 0 {
		c.Engine.TimeoutSecs = 30
	}
	if c.Engine.LoadTimeoutSecs <= 0 {
		c.Engine.LoadTimeoutSecs = 300
	}
	if c.Engine.ContextSize < 512 {
		c.Engine.ContextSize = 512
	}
	if c.Engine.BatchSize <= 0 {
		c.Engine.BatchSize = 512
	}
	if c.Engine.Threads <= 0 {
		c.Engine.Threads = 4
	}
	if c.Engine.GPULayers < 0 {
		c.Engine.GPULayers = 0
	}

	if c.Models.Dir == "" {
		errs = append(errs, ValidationError{"models.dir", "must not be empty"})
	}
	if c.Models.WatchDebounceMs <= 0 {
		c.Models.WatchDebounceMs = 500
	}

	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, ValidationError{"storage.backend", fmt.Sprintf("unknown backend %q (want file or sqlite)", c.Storage.Backend)})
	}
	if c.Storage.Path == "" {
		errs = append(errs, ValidationError{"storage.path", "must not be empty"})
	}

	// Sampling values clamp rather than fail; a bad knob should not
	// brick the app.
	if c.Sampling.Temperature < 0 {
		c.Sampling.Temperature = 0
	}
	if c.Sampling.Temperature > 2 {
		c.Sampling.Temperature = 2
	}
	if c.Sampling.TopP <= 0 || c.Sampling.TopP > 1 {
		c.Sampling.TopP = 0.9
	}
	if c.Sampling.MaxTokens <= 0 {
		c.Sampling.MaxTokens = 1024
	}

	if c.Chat.StreamBatchSize <= 0 {
		c.Chat.StreamBatchSize = 15
	}
	if c.Chat.StreamMaxFPS <= 0 || c.Chat.StreamMaxFPS > 60 {
		c.Chat.StreamMaxFPS = 30
	}

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		c.Log.Level = "info"
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		c.Log.Format = "console"
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
