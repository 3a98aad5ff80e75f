// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llama

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// =============================================================================
// STREAM READER
// =============================================================================

// streamChunk is one NDJSON line of a streaming completion.
type streamChunk struct {
	Content          string `json:"content"`
	Done             bool   `json:"done"`
	DoneReason       string `json:"done_reason,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// streamReader parses newline-delimited JSON chunks off a response body.
type streamReader struct {
	reader *bufio.Reader
	// strings.Builder avoids quadratic allocations while accumulating.
	acc strings.Builder
}

func newStreamReader(r io.Reader) *streamReader {
	return &streamReader{reader: bufio.NewReader(r)}
}

// process reads chunks until the stream terminates, invoking onToken for
// each non-empty content chunk. Returns the terminal chunk.
func (s *streamReader) process(ctx context.Context, onToken func(string)) (streamChunk, error) {
	for {
		select {
		case <-ctx.Done():
			return streamChunk{}, ctx.Err()
		default:
		}

		line, err := s.reader.ReadBytes('\n')
		if err != nil && (err != io.EOF || len(line) == 0) {
			if err == io.EOF {
				// Daemon closed the stream without a done chunk; treat the
				// text gathered so far as the completion.
				return streamChunk{Done: true, DoneReason: "eof"}, nil
			}
			return streamChunk{}, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream read failed", Cause: err}
		}

		var chunk streamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip malformed lines rather than aborting the stream.
			continue
		}

		if chunk.Content != "" {
			s.acc.WriteString(chunk.Content)
			if onToken != nil {
				onToken(chunk.Content)
			}
		}
		if chunk.Done {
			return chunk, nil
		}
	}
}

// accumulated returns everything received so far.
func (s *streamReader) accumulated() string {
	return s.acc.String()
}
