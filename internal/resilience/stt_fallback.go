package resilience

import (
	"context"

	"github.com/MrWong99/voicecmd/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several
// recognition backends. Only session setup is covered: once a session is open
// its errors surface through [stt.SessionHandle.Err].
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Breakers returns the per-backend breakers for health reporting.
func (f *STTFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// StartStream opens a session against the first healthy backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	h, _, err := ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
	return h, err
}
