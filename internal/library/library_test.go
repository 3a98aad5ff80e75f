// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package library

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := New(t.TempDir(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return lib
}

func writeModel(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// =============================================================================
// LIST / RESOLVE
// =============================================================================

func TestList_OnlyModelFiles(t *testing.T) {
	lib := newTestLibrary(t)
	writeModel(t, lib.Dir(), "beta.model", "bb")
	writeModel(t, lib.Dir(), "alpha.model", "a")
	writeModel(t, lib.Dir(), "notes.txt", "ignore me")
	if err := os.Mkdir(filepath.Join(lib.Dir(), "sub.model"), 0o755); err != nil {
		t.Fatal(err)
	}

	models, err := lib.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2: %+v", len(models), models)
	}
	if models[0].Name != "alpha" || models[1].Name != "beta" {
		t.Errorf("order = %q, %q, want sorted by name", models[0].Name, models[1].Name)
	}
	if models[0].SizeBytes != 1 {
		t.Errorf("SizeBytes = %d, want 1", models[0].SizeBytes)
	}
}

func TestList_EmptyDirectory(t *testing.T) {
	lib := newTestLibrary(t)
	models, err := lib.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("models = %d, want 0", len(models))
	}
}

func TestResolve(t *testing.T) {
	lib := newTestLibrary(t)
	writeModel(t, lib.Dir(), "tiny.model", "weights")

	mf, err := lib.Resolve("tiny")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if mf.Name != "tiny" || mf.SizeBytes != 7 {
		t.Errorf("resolved = %+v", mf)
	}

	if _, err := lib.Resolve("missing"); !errors.Is(err, ErrModelFileNotFound) {
		t.Errorf("err = %v, want ErrModelFileNotFound", err)
	}
}

// =============================================================================
// IMPORT / DELETE
// =============================================================================

func TestImport(t *testing.T) {
	lib := newTestLibrary(t)
	src := writeModel(t, t.TempDir(), "ext.model", "external weights")

	mf, err := lib.Import(context.Background(), src)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if mf.Name != "ext" {
		t.Errorf("Name = %q", mf.Name)
	}
	data, err := os.ReadFile(mf.Path)
	if err != nil || string(data) != "external weights" {
		t.Errorf("imported content = %q, err = %v", data, err)
	}
}

func TestImport_RejectsWrongExtension(t *testing.T) {
	lib := newTestLibrary(t)
	src := writeModel(t, t.TempDir(), "weights.bin", "x")
	if _, err := lib.Import(context.Background(), src); err == nil {
		t.Error("expected rejection of a non-model extension")
	}
}

type recordingUnloader struct {
	paths    []string
	unloaded bool
}

func (u *recordingUnloader) ForceUnloadIfActive(ctx context.Context, path string) (bool, error) {
	u.paths = append(u.paths, path)
	return u.unloaded, nil
}

func TestDelete_ForcesUnloadOfActiveModel(t *testing.T) {
	unloader := &recordingUnloader{unloaded: true}
	lib, err := New(t.TempDir(), unloader, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	path := writeModel(t, lib.Dir(), "active.model", "w")

	if err := lib.Delete(context.Background(), "active"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(unloader.paths) != 1 || unloader.paths[0] != path {
		t.Errorf("unloader saw %v, want %q", unloader.paths, path)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be gone")
	}
}

func TestDelete_UnknownModel(t *testing.T) {
	lib := newTestLibrary(t)
	if err := lib.Delete(context.Background(), "ghost"); !errors.Is(err, ErrModelFileNotFound) {
		t.Errorf("err = %v, want ErrModelFileNotFound", err)
	}
}

// =============================================================================
// DOWNLOAD
// =============================================================================

func TestDownload(t *testing.T) {
	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	lib := newTestLibrary(t)
	var reports []float64
	mf, err := lib.Download(context.Background(), srv.URL, "fetched", func(pct float64) {
		reports = append(reports, pct)
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if mf.SizeBytes != int64(len(payload)) {
		t.Errorf("SizeBytes = %d, want %d", mf.SizeBytes, len(payload))
	}

	if len(reports) == 0 {
		t.Fatal("expected progress reports")
	}
	last := reports[len(reports)-1]
	if last != 100 {
		t.Errorf("final progress = %v, want 100", last)
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] < reports[i-1] {
			t.Errorf("progress went backwards: %v", reports)
			break
		}
	}

	data, err := os.ReadFile(mf.Path)
	if err != nil || len(data) != len(payload) {
		t.Errorf("downloaded %d bytes, err = %v", len(data), err)
	}
}

func TestDownload_HTTPErrorLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	lib := newTestLibrary(t)
	if _, err := lib.Download(context.Background(), srv.URL, "missing", nil); err == nil {
		t.Fatal("expected download failure")
	}
	if _, err := os.Stat(filepath.Join(lib.Dir(), "missing.model")); !os.IsNotExist(err) {
		t.Error("failed download must not leave a file under the final name")
	}
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatch_NotifiesOnNewModel(t *testing.T) {
	lib := newTestLibrary(t)

	changes := make(chan []ModelFile, 4)
	w, err := lib.Watch(50*time.Millisecond, func(models []ModelFile) {
		changes <- models
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	writeModel(t, lib.Dir(), "fresh.model", "w")

	select {
	case models := <-changes:
		if len(models) != 1 || models[0].Name != "fresh" {
			t.Errorf("models = %+v", models)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification within timeout")
	}
}
