// Package mock provides in-memory implementations of [audio.Source],
// [audio.Stream] and [audio.Sink] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on counts and arguments, and expose exported fields that control
// return values.
//
// Typical usage:
//
//	stream := mock.NewStream(8)
//	src := &mock.Source{Stream: stream}
//	stream.Push(pcm)
//	stream.End()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicecmd/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream] fed by the test through Push.
type Stream struct {
	frames chan []byte

	mu        sync.Mutex
	closed    bool
	CloseErr  error
	CallCount int
}

// NewStream returns a Stream whose frame channel has the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{frames: make(chan []byte, buffer)}
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan []byte { return s.frames }

// Push delivers one frame. It is a no-op after the stream has ended.
func (s *Stream) Push(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- frame
}

// End closes the frame channel as if the device stopped.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// Close implements [audio.Stream]. It ends the stream and returns CloseErr.
func (s *Stream) Close() error {
	s.End()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCount++
	return s.CloseErr
}

// CloseCount returns how many times Close was called.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCount
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source].
type Source struct {
	mu sync.Mutex

	// Stream is returned by Open. When nil, Open returns a fresh stream
	// with a buffer of 16 frames.
	Stream audio.Stream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the format requested by each Open call.
	OpenCalls []audio.Format
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, format audio.Format) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, format)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Stream == nil {
		return NewStream(16), nil
	}
	return s.Stream, nil
}

// OpenCount returns how many times Open was called.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// WriteCall records one [Sink.Write] invocation.
type WriteCall struct {
	Format audio.Format
	PCM    []byte
}

// Sink is a mock [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every Write.
	WriteErr error

	// Block, if non-nil, makes Write wait until the channel is closed or
	// ctx is cancelled before recording the call.
	Block chan struct{}

	// Writes records every successful Write.
	Writes []WriteCall
}

// Write implements [audio.Sink].
func (s *Sink) Write(ctx context.Context, format audio.Format, pcm []byte) error {
	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Writes = append(s.Writes, WriteCall{Format: format, PCM: append([]byte(nil), pcm...)})
	return nil
}

// BytesWritten returns the total number of PCM bytes written.
func (s *Sink) BytesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.Writes {
		n += len(w.PCM)
	}
	return n
}

// Compile-time interface checks.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Stream = (*Stream)(nil)
	_ audio.Sink   = (*Sink)(nil)
)
