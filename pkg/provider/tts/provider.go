// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs, OpenAI) and
// presents a uniform streaming interface: SynthesizeStream accepts a channel of
// text fragments and returns a channel of raw PCM16 audio in the provider's
// [Provider.Format].
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/voicecmd/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments and returns a channel of PCM
	// chunks. The audio channel is closed when all text has been synthesised
	// or ctx is cancelled. Callers must drain it.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis close the audio channel early.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Format reports the PCM format of the audio produced by SynthesizeStream.
	Format() audio.Format
}
