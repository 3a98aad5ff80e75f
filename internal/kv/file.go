// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// FILE-BACKED STORE
// =============================================================================

// FileStore keeps all keys in a single JSON file, rewritten atomically on
// every mutation. Reads are served from memory; the file is only parsed at
// open time.
//
// A file that fails to parse is treated as empty rather than fatal - the
// first successful Set rewrites it wholesale.
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// OpenFileStore opens (or initializes) a file-backed store at path.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		// Corrupt file degrades to empty; callers decide whether to log.
		s.data = make(map[string]string)
	}
	return s, nil
}

// GetString returns the value for key, with ok=false when absent.
func (s *FileStore) GetString(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set stores the value and rewrites the backing file atomically.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.flushLocked()
}

// Delete removes the key and rewrites the backing file atomically.
// Deleting an absent key is a no-op.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flushLocked()
}

// Close releases nothing for a file store but satisfies the interface.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	return util.AtomicWriteFile(s.path, raw, 0644)
}
