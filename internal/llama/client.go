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
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the inference daemon client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches client errors by type so sentinels work with errors.Is.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "inference daemon is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model file not found"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration for the daemon client.
type ClientConfig struct {
	// BaseURL of the daemon API. Explicit IPv4 avoids IPv6 resolution
	// issues with "localhost" on some platforms.
	BaseURL string

	// Timeout for non-streaming requests.
	Timeout time.Duration

	// LoadTimeout for model load requests, which can take many seconds on
	// large models.
	LoadTimeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:     "http://127.0.0.1:8580",
		Timeout:     30 * time.Second,
		LoadTimeout: 5 * time.Minute,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client speaks the daemon's HTTP API and implements engine.Engine.
// Safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a client, filling defaults for zero values.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8580"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.LoadTimeout == 0 {
		config.LoadTimeout = 5 * time.Minute
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// CheckRunning verifies that the daemon is reachable.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/health", nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from daemon: " + resp.Status,
		}
	}
	return nil
}

// =============================================================================
// ENGINE IMPLEMENTATION
// =============================================================================

type loadRequest struct {
	Path        string `json:"path"`
	ContextSize int    `json:"context_size"`
	BatchSize   int    `json:"batch_size"`
	Threads     int    `json:"threads"`
	GPULayers   int    `json:"gpu_layers"`
}

type infoRequest struct {
	Path string `json:"path"`
}

type daemonError struct {
	Error string `json:"error"`
}

// Load asks the daemon to load the model file and returns the live handle.
func (c *Client) Load(ctx context.Context, path string, params engine.RuntimeParams) (engine.Handle, error) {
	body := loadRequest{
		Path:        path,
		ContextSize: params.ContextSize,
		BatchSize:   params.BatchSize,
		Threads:     params.ThreadCount,
		GPULayers:   params.GPULayers,
	}

	// Model loads get their own, longer deadline.
	loadClient := &http.Client{Timeout: c.config.LoadTimeout}
	if err := c.post(ctx, loadClient, "/api/load", body, nil); err != nil {
		return nil, err
	}
	return &handle{client: c}, nil
}

// LoadInfo resolves model metadata from the model file.
func (c *Client) LoadInfo(ctx context.Context, path string) (engine.ModelInfo, error) {
	var info engine.ModelInfo
	if err := c.post(ctx, c.httpClient, "/api/info", infoRequest{Path: path}, &info); err != nil {
		return engine.ModelInfo{}, err
	}
	return info, nil
}

// post sends a JSON request and decodes the JSON response into out (when
// out is non-nil), translating failures into ClientErrors.
func (c *Client) post(ctx context.Context, httpClient *http.Client, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		var derr daemonError
		if err := json.NewDecoder(resp.Body).Decode(&derr); err == nil && derr.Error != "" {
			return &ClientError{Type: ErrTypeInvalidResponse, Message: derr.Error}
		}
		return &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "request failed: " + resp.Status,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
		}
	}
	return nil
}

// IsNotRunning checks if an error indicates the daemon is unreachable.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsModelNotFound checks if an error is a model-not-found error.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}
