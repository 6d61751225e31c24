// Package file provides a [storage.Store] that keeps each key in its own file
// inside a directory. Writes go to a temporary file that is synced and then
// renamed over the target, so a crash mid-write leaves the previous value
// intact.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/voicecmd/pkg/storage"
)

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Store persists values as files under a single directory.
// Thread-safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New creates a Store rooted at dir. The directory is created if it does not
// exist.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("file store: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Load reads the file backing key.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read %q: %w", key, err)
	}
	return data, nil
}

// Save atomically replaces the file backing key.
func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file store: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: close: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: rename: %w", err)
	}
	return nil
}

// Close is a no-op; the file store holds no open handles between calls.
func (s *Store) Close() error { return nil }

// path maps key to a file name inside the store directory. Path separators
// are replaced so a key can never escape the directory.
func (s *Store) path(key string) string {
	safe := strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(key)
	return filepath.Join(s.dir, safe+".json")
}
