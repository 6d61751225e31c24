// Package mock provides an in-memory test double for [storage.Store].
//
// Store records every Save so tests can assert persist ordering, and can be
// configured to fail loads or saves.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicecmd/pkg/storage"
)

// Store is an in-memory mock implementation of storage.Store.
type Store struct {
	mu sync.Mutex

	// Data holds the current value per key. Tests may pre-populate it.
	Data map[string][]byte

	// LoadErr, if non-nil, is returned by every Load call.
	LoadErr error

	// SaveErr, if non-nil, is returned by every Save call (the value is not stored).
	SaveErr error

	// Saves records a copy of every value passed to Save, in order.
	Saves [][]byte

	// Closed is set by Close.
	Closed bool
}

// Load returns a copy of Data[key] or storage.ErrNotFound.
func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	v, ok := s.Data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save records the call and stores a copy of value.
func (s *Store) Save(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), value...)
	s.Saves = append(s.Saves, cp)
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.Data == nil {
		s.Data = make(map[string][]byte)
	}
	s.Data[key] = cp
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// SaveCount returns the number of Save calls. Thread-safe.
func (s *Store) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Saves)
}

// Get returns a copy of the value currently stored under key. Thread-safe.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Data[key]
	return append([]byte(nil), v...), ok
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)
