// Package recognition turns captured microphone audio into a stream of
// recognition events.
//
// An [Adapter] pairs an [audio.Source] with a streaming [stt.Provider]. Each
// call to [Adapter.Start] opens one [Session] whose [Session.Events] channel
// delivers, strictly in order, an [EventStart], any number of results, audio
// levels and at most one error, and finally an [EventEnd], after which the
// channel is closed. Only one session may be active at a time.
package recognition

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicecmd/internal/observe"
	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/stt"
)

// Option configures an [Adapter].
type Option func(*Adapter)

// WithProviderName sets the name reported by [Adapter.PlatformInfo].
func WithProviderName(name string) Option {
	return func(a *Adapter) { a.providerName = name }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// StartOptions are per-session options.
type StartOptions struct {
	// AudioLevel enables [EventAudioLevel] events.
	AudioLevel bool
}

// Adapter is the recognition entry point. Construct it once in the
// composition root; all methods are safe for concurrent use.
type Adapter struct {
	provider     stt.Provider
	source       audio.Source
	providerName string
	metrics      *observe.Metrics

	mu     sync.Mutex
	cfg    Config
	active *Session
}

// NewAdapter creates an [Adapter]. Either dependency may be nil, in which
// case [Adapter.Supported] reports false and Start always fails.
func NewAdapter(provider stt.Provider, source audio.Source, cfg Config, opts ...Option) *Adapter {
	a := &Adapter{
		provider: provider,
		source:   source,
		cfg:      cfg.withDefaults(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Supported reports whether both a provider and an audio source are present.
func (a *Adapter) Supported() bool {
	return a.provider != nil && a.source != nil
}

// PlatformInfo describes the configured speech capabilities.
func (a *Adapter) PlatformInfo() PlatformInfo {
	return PlatformInfo{
		Provider:   a.providerName,
		Supported:  a.Supported(),
		Streaming:  a.provider != nil,
		AudioInput: a.source != nil,
	}
}

// Config returns the current configuration.
func (a *Adapter) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// UpdateConfig merges u into the configuration. Language and continuity take
// effect with the next session; alternative capping, interim filtering and
// the threshold apply to events not yet emitted by the active session.
func (a *Adapter) UpdateConfig(u ConfigUpdate) Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = a.cfg.merge(u)
	slog.Debug("recognition config updated",
		"language", a.cfg.Language,
		"continuous", a.cfg.Continuous,
		"interim_results", a.cfg.InterimResults,
		"max_alternatives", a.cfg.MaxAlternatives,
		"threshold", a.cfg.ConfidenceThreshold,
	)
	return a.cfg
}

// IsConfidenceAcceptable reports whether c meets the configured threshold.
func (a *Adapter) IsConfidenceAcceptable(c float64) bool {
	return c >= a.Config().ConfidenceThreshold
}

// Active returns the running session, or nil.
func (a *Adapter) Active() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Start opens a new session. Failures before the session exists are returned
// as *[Error] (or [ErrAlreadyListening]) and produce no events.
func (a *Adapter) Start(ctx context.Context, opts StartOptions) (*Session, error) {
	if !a.Supported() {
		err := NewError(TypeServiceNotAllowed, "", nil)
		a.metrics.RecordRecognitionError(ctx, string(err.Type), err.Recoverable)
		return nil, err
	}

	a.mu.Lock()
	if a.active != nil {
		a.mu.Unlock()
		return nil, ErrAlreadyListening
	}
	cfg := a.cfg
	s := newSession(a, cfg, opts)
	a.active = s
	a.mu.Unlock()

	if err := s.open(ctx); err != nil {
		a.release(s)
		a.metrics.RecordRecognitionError(ctx, string(err.Type), err.Recoverable)
		slog.Warn("recognition: start failed", "type", err.Type, "err", err)
		return nil, err
	}

	a.metrics.RecognitionSessions.Add(ctx, 1)
	a.metrics.ActiveRecognition.Add(ctx, 1)
	go s.run()
	return s, nil
}

// release clears s as the active session.
func (a *Adapter) release(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == s {
		a.active = nil
	}
}

// Stop stops the active session, if any.
func (a *Adapter) Stop() {
	if s := a.Active(); s != nil {
		s.Stop()
	}
}

// Abort aborts the active session, if any.
func (a *Adapter) Abort() {
	if s := a.Active(); s != nil {
		s.Abort()
	}
}
