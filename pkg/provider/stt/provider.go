// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a streaming recognition service (Deepgram, Google
// Cloud Speech-to-Text, or a local whisper.cpp model) and exposes a uniform
// session abstraction: once opened, a [SessionHandle] accepts raw PCM audio
// and emits two streams of [Transcript] values, low-latency partials and
// authoritative finals.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session has been closed.
var ErrSessionClosed = errors.New("stt: session is closed")

// ErrUnauthorized is wrapped by providers when the service rejects the
// configured credentials.
var ErrUnauthorized = errors.New("stt: unauthorized")

// StreamConfig describes the audio format and recognition options for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the common
	// STT-optimised rate.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// Empty lets the provider use its default.
	Language string

	// InterimResults requests partial transcripts. Providers that cannot
	// produce partials ignore it.
	InterimResults bool

	// MaxAlternatives is the number of alternative hypotheses requested per
	// result. Values below 1 mean 1.
	MaxAlternatives int

	// Keywords are vocabulary hints for command words and project names.
	Keywords []KeywordBoost
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when done. Close flushes any audio already sent,
// waits for the provider's last results to be delivered, and then closes the
// Partials and Finals channels. Callers that keep reading both channels while
// Close runs receive every remaining result. All methods must be safe for
// concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of PCM16 audio matching the StreamConfig.
	// Returns ErrSessionClosed after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Err reports why the session ended, once both channels are closed. It
	// returns nil for a session ended by Close.
	Err() error

	// Close ends the session. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming session. The caller owns the handle
	// and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
