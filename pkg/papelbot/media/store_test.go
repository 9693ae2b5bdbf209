package media

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSystemSink_Store(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSystemSink(StoreConfig{UploadDir: dir}, nil)

	t.Run("writes the file", func(t *testing.T) {
		path, err := sink.Store("a.pdf", []byte("%PDF-1.4"))
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil || string(data) != "%PDF-1.4" {
			t.Errorf("stored content = %q, err = %v", data, err)
		}
	})

	t.Run("existing name is a collision, never overwritten", func(t *testing.T) {
		if _, err := sink.Store("b.pdf", []byte("first")); err != nil {
			t.Fatalf("first Store() error = %v", err)
		}
		_, err := sink.Store("b.pdf", []byte("second"))
		if !errors.Is(err, ErrNameCollision) {
			t.Fatalf("second Store() error = %v, want ErrNameCollision", err)
		}
		data, _ := os.ReadFile(filepath.Join(dir, "b.pdf"))
		if string(data) != "first" {
			t.Errorf("original content must survive, got %q", data)
		}
	})

	t.Run("rejects empty data", func(t *testing.T) {
		if _, err := sink.Store("c.pdf", nil); err == nil {
			t.Error("expected error for empty data")
		}
	})

	t.Run("name is flattened to its base", func(t *testing.T) {
		path, err := sink.Store("../escape.pdf", []byte("x"))
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if filepath.Dir(path) != dir {
			t.Errorf("file escaped upload dir: %s", path)
		}
	})

	t.Run("creates the directory on demand", func(t *testing.T) {
		nested := filepath.Join(t.TempDir(), "a", "b")
		s := NewFileSystemSink(StoreConfig{UploadDir: nested}, nil)
		if _, err := s.Store("d.pdf", []byte("x")); err != nil {
			t.Errorf("Store() error = %v", err)
		}
	})
}

func TestFileSystemSink_CleanupStale(t *testing.T) {
	now := time.Now()

	t.Run("removes only files older than retention", func(t *testing.T) {
		dir := t.TempDir()
		sink := NewFileSystemSink(StoreConfig{UploadDir: dir, Retention: 24 * time.Hour}, nil)

		oldPath := filepath.Join(dir, "old.pdf")
		freshPath := filepath.Join(dir, "fresh.pdf")
		os.WriteFile(oldPath, []byte("x"), 0o600)
		os.WriteFile(freshPath, []byte("x"), 0o600)
		os.Chtimes(oldPath, now.Add(-48*time.Hour), now.Add(-48*time.Hour))

		removed, err := sink.CleanupStale(now)
		if err != nil {
			t.Fatalf("CleanupStale() error = %v", err)
		}
		if removed != 1 {
			t.Errorf("removed = %d, want 1", removed)
		}
		if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
			t.Error("old file must be removed")
		}
		if _, err := os.Stat(freshPath); err != nil {
			t.Error("fresh file must survive")
		}
	})

	t.Run("zero retention disables cleanup", func(t *testing.T) {
		dir := t.TempDir()
		sink := NewFileSystemSink(StoreConfig{UploadDir: dir}, nil)

		p := filepath.Join(dir, "keep.pdf")
		os.WriteFile(p, []byte("x"), 0o600)
		os.Chtimes(p, now.Add(-1000*time.Hour), now.Add(-1000*time.Hour))

		removed, err := sink.CleanupStale(now)
		if err != nil || removed != 0 {
			t.Errorf("CleanupStale() = (%d, %v), want (0, nil)", removed, err)
		}
	})

	t.Run("missing directory is not an error", func(t *testing.T) {
		sink := NewFileSystemSink(StoreConfig{
			UploadDir: filepath.Join(t.TempDir(), "nope"),
			Retention: time.Hour,
		}, nil)
		if _, err := sink.CleanupStale(now); err != nil {
			t.Errorf("CleanupStale() error = %v", err)
		}
	})
}
