package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voicecmd/pkg/provider/stt"
	"github.com/MrWong99/voicecmd/pkg/provider/tts"
	"github.com/MrWong99/voicecmd/pkg/storage"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// STTFactory builds a speech-to-text provider.
type STTFactory func(ctx context.Context, entry ProviderEntry, rc RecognitionConfig) (stt.Provider, error)

// TTSFactory builds a text-to-speech provider.
type TTSFactory func(ctx context.Context, entry ProviderEntry) (tts.Provider, error)

// StorageFactory opens a durable store.
type StorageFactory func(ctx context.Context, cfg StorageConfig) (storage.Store, error)

// Registry maps names to constructors. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	stt     map[string]STTFactory
	tts     map[string]TTSFactory
	storage map[storage.Backend]StorageFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:     make(map[string]STTFactory),
		tts:     make(map[string]TTSFactory),
		storage: make(map[storage.Backend]StorageFactory),
	}
}

// RegisterSTT registers an STT factory under name, replacing any previous one.
func (r *Registry) RegisterSTT(name string, f STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// RegisterStorage registers a storage factory for backend.
func (r *Registry) RegisterStorage(backend storage.Backend, f StorageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[backend] = f
}

// CreateSTT builds the STT provider named by entry.Name.
func (r *Registry) CreateSTT(ctx context.Context, entry ProviderEntry, rc RecognitionConfig) (stt.Provider, error) {
	r.mu.RLock()
	f, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(ctx, entry, rc)
}

// CreateTTS builds the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(ctx context.Context, entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	f, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(ctx, entry)
}

// CreateStorage opens the store selected by cfg.Backend.
func (r *Registry) CreateStorage(ctx context.Context, cfg StorageConfig) (storage.Store, error) {
	r.mu.RLock()
	f, ok := r.storage[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: storage/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return f(ctx, cfg)
}

// Names returns the sorted registered names per kind, for startup logging.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string][]string{"stt": nil, "tts": nil, "storage": nil}
	for n := range r.stt {
		out["stt"] = append(out["stt"], n)
	}
	for n := range r.tts {
		out["tts"] = append(out["tts"], n)
	}
	for b := range r.storage {
		out["storage"] = append(out["storage"], string(b))
	}
	for _, v := range out {
		slices.Sort(v)
	}
	return out
}
