// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Transcript values and inspect
// which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.EmitFinal(stt.Transcript{Text: "close issue 12", Confidence: 0.92})
//	sess.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicecmd/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a new default Session.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded StartStream calls. Thread-safe.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.StartStreamCalls...)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle driven by the test.
//
// EmitPartial and EmitFinal push results; End closes both channels with the
// given terminal error. Close ends the session with a nil error unless
// KeepOpenOnClose is set, in which case the test must call End itself
// (simulating a provider that keeps flushing after Close).
type Session struct {
	mu sync.Mutex

	partials chan stt.Transcript
	finals   chan stt.Transcript
	ended    bool
	err      error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// KeepOpenOnClose makes Close record the call without ending the session.
	KeepOpenOnClose bool

	// Chunks records a copy of every chunk passed to SendAudio.
	Chunks [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed chan struct{}
}

// NewSession returns a Session with buffered result channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
		closed:   make(chan struct{}),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return stt.ErrSessionClosed
	}
	s.Chunks = append(s.Chunks, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Err implements stt.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// EmitPartial delivers an interim transcript. No-op after End.
func (s *Session) EmitPartial(t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	t.IsFinal = false
	s.partials <- t
}

// EmitFinal delivers a final transcript. No-op after End.
func (s *Session) EmitFinal(t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	t.IsFinal = true
	s.finals <- t
}

// End closes both result channels, recording err as the terminal error.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.partials)
	close(s.finals)
}

// Close implements stt.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	first := s.CloseCallCount == 1
	keep := s.KeepOpenOnClose
	closeErr := s.CloseErr
	s.mu.Unlock()
	if first {
		close(s.closed)
	}
	if !keep {
		s.End(nil)
	}
	return closeErr
}

// Closed returns a channel that is closed on the first Close call.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// CloseCount returns the number of Close calls. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// ChunkCount returns the number of SendAudio calls recorded. Thread-safe.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
