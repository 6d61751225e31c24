package resilience

import (
	"context"

	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several
// synthesis backends. Audio from a fallback is converted to the primary's
// [audio.Format] so the playback sink never sees a format change.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Breakers returns the per-backend breakers for health reporting.
func (f *TTSFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// Format reports the primary backend's output format.
func (f *TTSFallback) Format() audio.Format {
	return f.group.Primary().Format()
}

// SynthesizeStream starts synthesis on the first healthy backend. Only stream
// setup is covered by failover; a backend that fails mid-stream simply ends
// its audio channel early.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	want := f.Format()
	var got audio.Format
	ch, _, err := ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		got = p.Format()
		return p.SynthesizeStream(ctx, text, voice)
	})
	if err != nil {
		return nil, err
	}
	return audio.ConvertStream(ch, got, want), nil
}

// ListVoices returns available voices from the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	v, _, err := ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
	return v, err
}
