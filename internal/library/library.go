// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// TYPES
// =============================================================================

// modelExt is the extension model files carry in the library directory.
const modelExt = ".model"

// ErrModelFileNotFound is returned when a named model has no file.
var ErrModelFileNotFound = errors.New("model file not found")

// ModelFile is one entry in the library.
type ModelFile struct {
	Name      string // file name without extension
	Path      string // absolute path
	SizeBytes int64
}

// Unloader releases the live engine session when the file backing it is
// about to be deleted.
type Unloader interface {
	ForceUnloadIfActive(ctx context.Context, path string) (bool, error)
}

// ProgressFunc receives download progress as a 0-100 percentage. Called
// with 100 exactly once, on completion.
type ProgressFunc func(percent float64)

// =============================================================================
// LIBRARY
// =============================================================================

// Library manages model files under a single directory.
type Library struct {
	dir      string
	unloader Unloader
	log      zerolog.Logger
	client   *http.Client
}

// New creates a library over dir, creating it if needed. A nil unloader
// means deletes never have to interrupt a session.
func New(dir string, unloader Unloader, log zerolog.Logger) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}
	return &Library{
		dir:      dir,
		unloader: unloader,
		log:      log.With().Str("component", "library").Logger(),
		client:   &http.Client{},
	}, nil
}

// Dir returns the library directory.
func (l *Library) Dir() string {
	return l.dir
}

// List scans the directory for model files, sorted by name.
func (l *Library) List() ([]ModelFile, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read models directory: %w", err)
	}

	var models []ModelFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), modelExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		models = append(models, ModelFile{
			Name:      strings.TrimSuffix(entry.Name(), modelExt),
			Path:      filepath.Join(l.dir, entry.Name()),
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

// Resolve finds a library entry by name.
func (l *Library) Resolve(name string) (ModelFile, error) {
	path := filepath.Join(l.dir, name+modelExt)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ModelFile{}, ErrModelFileNotFound
		}
		return ModelFile{}, err
	}
	return ModelFile{Name: name, Path: path, SizeBytes: info.Size()}, nil
}

// Import copies a model file from outside the library into it. The
// source keeps its base name.
func (l *Library) Import(ctx context.Context, srcPath string) (ModelFile, error) {
	base := filepath.Base(srcPath)
	if !strings.HasSuffix(base, modelExt) {
		return ModelFile{}, fmt.Errorf("not a model file: %s", base)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return ModelFile{}, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	dst := filepath.Join(l.dir, base)
	size, err := l.writeAtomic(ctx, dst, src, 0, nil)
	if err != nil {
		return ModelFile{}, err
	}

	l.log.Info().Str("name", base).Int64("bytes", size).Msg("model imported")
	return ModelFile{
		Name:      strings.TrimSuffix(base, modelExt),
		Path:      dst,
		SizeBytes: size,
	}, nil
}

// Delete removes a model file. When the file backs the live session,
// that session is force-unloaded first so the engine never holds a
// deleted file.
func (l *Library) Delete(ctx context.Context, name string) error {
	mf, err := l.Resolve(name)
	if err != nil {
		return err
	}

	if l.unloader != nil {
		unloaded, err := l.unloader.ForceUnloadIfActive(ctx, mf.Path)
		if err != nil {
			return fmt.Errorf("failed to unload active model: %w", err)
		}
		if unloaded {
			l.log.Info().Str("name", name).Msg("active session unloaded before delete")
		}
	}

	if err := os.Remove(mf.Path); err != nil {
		return fmt.Errorf("failed to delete model file: %w", err)
	}
	l.log.Info().Str("name", name).Msg("model deleted")
	return nil
}

// Download fetches a model file over HTTP into the library, reporting
// progress as a 0-100 percentage. The file lands atomically: a partial
// download never appears under its final name.
func (l *Library) Download(ctx context.Context, url, name string, progress ProgressFunc) (ModelFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ModelFile{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return ModelFile{}, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ModelFile{}, fmt.Errorf("download failed: %s", resp.Status)
	}

	dst := filepath.Join(l.dir, name+modelExt)
	size, err := l.writeAtomic(ctx, dst, resp.Body, resp.ContentLength, progress)
	if err != nil {
		return ModelFile{}, err
	}

	if progress != nil {
		progress(100)
	}
	l.log.Info().Str("name", name).Int64("bytes", size).Msg("model downloaded")
	return ModelFile{Name: name, Path: dst, SizeBytes: size}, nil
}

// writeAtomic streams src into dst via a temp file in the same
// directory, renaming only after a clean close. Progress (when total is
// known) is capped below 100; the caller reports completion.
func (l *Library) writeAtomic(ctx context.Context, dst string, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	tmp, err := os.CreateTemp(l.dir, filepath.Base(dst)+".partial-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpName) // no-op after a successful rename
	}()

	var written int64
	buf := make([]byte, 256*1024)
	lastReport := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				return 0, fmt.Errorf("write failed: %w", werr)
			}
			written += int64(n)
			if progress != nil && total > 0 && time.Since(lastReport) >= 100*time.Millisecond {
				pct := float64(written) / float64(total) * 100
				if pct > 99.9 {
					pct = 99.9
				}
				progress(pct)
				lastReport = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, fmt.Errorf("read failed: %w", rerr)
		}
	}

	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close failed: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, fmt.Errorf("rename failed: %w", err)
	}
	return written, nil
}
