// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify that
// the correct VoiceProfile and text fragments are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
	// Text collects every fragment read from the text channel. It is complete
	// once the returned audio channel has been closed.
	Text []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is the sequence of audio byte slices emitted on the
	// channel returned by SynthesizeStream, after the text channel closes.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// AudioFormat is returned by Format. Defaults to 16 kHz mono.
	AudioFormat audio.Format

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []*SynthesizeStreamCall

	// ListVoicesCallCount is the number of ListVoices calls.
	ListVoicesCallCount int
}

// SynthesizeStream records the call, collects all text fragments, and then
// emits SynthesizeChunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	call := &SynthesizeStreamCall{Voice: voice}
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, call)
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for {
			select {
			case frag, ok := <-text:
				if !ok {
					for _, c := range chunks {
						select {
						case ch <- c:
						case <-ctx.Done():
							return
						}
					}
					return
				}
				p.mu.Lock()
				call.Text = append(call.Text, frag)
				p.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Format returns AudioFormat, or 16 kHz mono when unset.
func (p *Provider) Format() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AudioFormat == (audio.Format{}) {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return p.AudioFormat
}

// Calls returns a snapshot of the recorded SynthesizeStream calls, with the
// Text slices copied. Thread-safe.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeStreamCall, len(p.SynthesizeStreamCalls))
	for i, c := range p.SynthesizeStreamCalls {
		out[i] = SynthesizeStreamCall{Voice: c.Voice, Text: append([]string(nil), c.Text...)}
	}
	return out
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
