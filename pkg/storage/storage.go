// Package storage defines the durable key/value abstraction used to mirror
// client-side state (such as the offline command queue) across restarts.
//
// A Store holds opaque byte values under string keys. Values are replaced
// wholesale on every Save; there are no partial updates. Backends live in the
// sub-packages file, sqlite, and postgres.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Store.Load] when no value has been saved under
// the requested key yet.
var ErrNotFound = errors.New("storage: key not found")

// Store is the durable single-key persistence interface.
//
// Implementations must be safe for concurrent use. Save must be durable
// before it returns: a crash immediately after a successful Save must not
// lose the value.
type Store interface {
	// Load returns the value last saved under key. Returns [ErrNotFound] if
	// the key has never been written.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the value stored under key.
	Save(ctx context.Context, key string, value []byte) error

	// Close releases any resources held by the store.
	Close() error
}

// Backend names a storage implementation selectable from configuration.
type Backend string

const (
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// IsValid reports whether b is a recognised backend name.
func (b Backend) IsValid() bool {
	switch b {
	case BackendFile, BackendSQLite, BackendPostgres:
		return true
	}
	return false
}
