// Package audio defines the PCM capture and playback abstractions used by the
// recognition adapter and the feedback speaker.
//
// All audio is little-endian signed 16-bit PCM. A [Source] produces frames from
// a microphone (or a test fixture); a [Sink] plays synthesized speech. The
// concrete device backend lives in the portaudio sub-package; tests use the
// mock sub-package.
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned (possibly wrapped) by a [Source] when the
// operating system refuses access to the capture device.
var ErrPermissionDenied = errors.New("audio: permission denied")

// ErrNoDevice is returned (possibly wrapped) by a [Source] or [Sink] when no
// suitable device exists.
var ErrNoDevice = errors.New("audio: no device available")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM16 byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Source opens capture streams.
type Source interface {
	// Open starts capturing in the requested format. The returned stream
	// delivers frames until Close is called or ctx is cancelled.
	Open(ctx context.Context, format Format) (Stream, error)
}

// Stream is an open capture stream.
type Stream interface {
	// Frames returns the channel of captured PCM frames. It is closed when the
	// stream ends for any reason.
	Frames() <-chan []byte

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// Sink plays PCM audio.
type Sink interface {
	// Write plays pcm and blocks until it has been handed to the device or
	// ctx is cancelled.
	Write(ctx context.Context, format Format, pcm []byte) error
}

// Drain discards everything left on ch until its producer closes it. Callers
// run it in a goroutine when they abandon a stream early, so the producer
// never blocks on a send nobody will receive.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
