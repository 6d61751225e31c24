package speaker

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/tts"
)

// pitchRange is the semitone span of [tts.VoiceProfile.PitchShift] mapped to
// a 0.5..1.5 pitch multiplier.
const pitchRange = 20.0

// TTSSynthesizer implements [Synthesizer] on top of a streaming TTS provider
// and an audio sink. Pause gates writes to the sink; synthesis keeps running.
type TTSSynthesizer struct {
	provider tts.Provider
	sink     audio.Sink
	voice    tts.VoiceProfile

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

var _ Synthesizer = (*TTSSynthesizer)(nil)

// NewTTSSynthesizer creates a synthesizer speaking with voice.
func NewTTSSynthesizer(provider tts.Provider, sink audio.Sink, voice tts.VoiceProfile) *TTSSynthesizer {
	return &TTSSynthesizer{
		provider: provider,
		sink:     sink,
		voice:    voice,
		resumed:  make(chan struct{}),
	}
}

// VoiceFor returns the voice profile with u's rate and pitch applied.
func (t *TTSSynthesizer) VoiceFor(u Utterance) tts.VoiceProfile {
	v := t.voice
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	v.SpeedFactor = min(max(t.voice.Speed(0.5, 2.0)*rate, 0.5), 2.0)
	if u.Pitch > 0 {
		v.PitchShift = min(max(t.voice.PitchShift+(u.Pitch-1)*pitchRange, -10), 10)
	}
	return v
}

// Speak synthesises u and writes the audio to the sink. It returns ctx.Err()
// when cancelled mid-utterance.
func (t *TTSSynthesizer) Speak(ctx context.Context, u Utterance) error {
	text := make(chan string, 1)
	text <- u.Text
	close(text)

	pcm, err := t.provider.SynthesizeStream(ctx, text, t.VoiceFor(u))
	if err != nil {
		return fmt.Errorf("speaker: synthesize: %w", err)
	}
	defer func() { go audio.Drain(pcm) }()

	format := t.provider.Format()
	for chunk := range pcm {
		if err := t.waitResumed(ctx); err != nil {
			return err
		}
		if err := t.sink.Write(ctx, format, chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("speaker: play: %w", err)
		}
	}
	return ctx.Err()
}

// Pause holds back further audio until Resume.
func (t *TTSSynthesizer) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
	return nil
}

// Resume releases audio held back by Pause.
func (t *TTSSynthesizer) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		t.paused = false
		close(t.resumed)
		t.resumed = make(chan struct{})
	}
	return nil
}

func (t *TTSSynthesizer) waitResumed(ctx context.Context) error {
	t.mu.Lock()
	if !t.paused {
		t.mu.Unlock()
		return nil
	}
	ch := t.resumed
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
