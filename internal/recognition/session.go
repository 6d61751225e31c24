package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/stt"
)

const eventBuffer = 32

// Session is one listening session. Callers must read [Session.Events]
// until it is closed.
type Session struct {
	id      string
	adapter *Adapter
	cfg     Config
	opts    StartOptions

	ctx    context.Context
	cancel context.CancelFunc
	stream audio.Stream
	handle stt.SessionHandle
	start  time.Time

	events      chan Event
	levels      chan float64
	captureLost chan struct{}
	pumpDone    chan struct{}
	done        chan struct{}

	stopCh    chan struct{}
	stopOnce  sync.Once
	abortCh   chan struct{}
	abortOnce sync.Once
	aborting  atomic.Bool

	haltOnce sync.Once
	halting  atomic.Bool
}

func newSession(a *Adapter, cfg Config, opts StartOptions) *Session {
	return &Session{
		id:          uuid.NewString(),
		adapter:     a,
		cfg:         cfg,
		opts:        opts,
		events:      make(chan Event, eventBuffer),
		levels:      make(chan float64, 1),
		captureLost: make(chan struct{}),
		pumpDone:    make(chan struct{}),
		done:        make(chan struct{}),
		stopCh:      make(chan struct{}),
		abortCh:     make(chan struct{}),
	}
}

// open acquires the capture device and the provider stream. ctx bounds the
// whole session.
func (s *Session) open(ctx context.Context) *Error {
	if !IsLanguageSupported(s.cfg.Language) {
		return NewError(TypeLanguageNotSupported,
			fmt.Sprintf("Language %q is not supported.", s.cfg.Language), nil)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	format := audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}

	stream, err := s.adapter.source.Open(s.ctx, format)
	if err != nil {
		s.cancel()
		return classifyCapture(err)
	}

	handle, err := s.adapter.provider.StartStream(s.ctx, stt.StreamConfig{
		SampleRate:      format.SampleRate,
		Channels:        format.Channels,
		Language:        s.cfg.Language,
		InterimResults:  s.cfg.InterimResults,
		MaxAlternatives: s.cfg.MaxAlternatives,
		Keywords:        s.cfg.Keywords,
	})
	if err != nil {
		_ = stream.Close()
		s.cancel()
		return Classify(err)
	}

	s.stream = stream
	s.handle = handle
	s.start = time.Now()
	return nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Events returns the ordered event stream. It is closed after [EventEnd].
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the session has fully ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop ends capture and lets the provider deliver its remaining results
// before the session ends.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Abort ends the session immediately. Results not yet emitted are dropped and
// no error event is produced.
func (s *Session) Abort() {
	s.aborting.Store(true)
	s.abortOnce.Do(func() { close(s.abortCh) })
}

// ─── Session loop ───

func (s *Session) run() {
	defer close(s.done)
	defer close(s.events)

	log := slog.With("session_id", s.id)
	log.Info("recognition session started", "language", s.cfg.Language, "continuous", s.cfg.Continuous)

	go s.pump()
	s.events <- EventStart{}

	var noSpeech <-chan time.Time
	if s.cfg.NoSpeechTimeout > 0 {
		t := time.NewTimer(s.cfg.NoSpeechTimeout)
		defer t.Stop()
		noSpeech = t.C
	}

	var (
		partials = s.handle.Partials()
		finals   = s.handle.Finals()
		stopCh   = s.stopCh
		lost     = s.captureLost
		gotAny   bool
		gotFinal bool
		reported bool
		aborted  bool
	)

	report := func(e *Error) {
		if reported {
			return
		}
		reported = true
		s.adapter.metrics.RecordRecognitionError(s.ctx, string(e.Type), e.Recoverable)
		log.Warn("recognition error", "type", e.Type, "recoverable", e.Recoverable, "err", e)
		s.events <- EventError{Err: e}
	}

	// result forwards t unless the session is being torn down.
	result := func(t stt.Transcript) {
		if reported || s.aborting.Load() {
			return
		}
		cfg := s.adapter.Config()
		if !t.IsFinal && !cfg.InterimResults {
			return
		}
		gotAny = true
		noSpeech = nil
		s.events <- EventResult{Result: toResult(t, cfg.MaxAlternatives, s.cfg.Language)}
	}

loop:
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			t.IsFinal = false
			result(t)

		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			// Partials already queued belong before this final.
			partials = drainPending(partials, func(p stt.Transcript) {
				p.IsFinal = false
				result(p)
			})
			t.IsFinal = true
			if !gotFinal && !reported && !s.aborting.Load() {
				gotFinal = true
				s.adapter.metrics.TimeToFinal.Record(s.ctx, time.Since(s.start).Seconds())
			}
			result(t)
			if !s.cfg.Continuous {
				s.halt()
			}

		case lvl := <-s.levels:
			if !reported && !s.aborting.Load() {
				s.events <- EventAudioLevel{Level: lvl}
			}

		case <-noSpeech:
			noSpeech = nil
			if !gotAny {
				report(NewError(TypeNoSpeech, "", nil))
				s.halt()
			}

		case <-lost:
			lost = nil
			if !s.halting.Load() {
				report(NewError(TypeAudioCapture, "The microphone stopped delivering audio.", nil))
				s.halt()
			}

		case <-stopCh:
			stopCh = nil
			s.halt()

		case <-s.abortCh:
			aborted = true
			break loop

		case <-s.ctx.Done():
			aborted = true
			break loop
		}
	}

	s.teardown(partials, finals)

	if !aborted && !s.aborting.Load() {
		if err := s.handle.Err(); err != nil {
			report(Classify(err))
		} else if !gotAny {
			report(NewError(TypeNoSpeech, "", nil))
		}
	}

	s.adapter.release(s)
	s.adapter.metrics.ActiveRecognition.Add(context.WithoutCancel(s.ctx), -1)
	log.Info("recognition session ended", "aborted", aborted, "results", gotAny)
	s.events <- EventEnd{}
}

// pump forwards captured frames to the provider and samples the input level.
func (s *Session) pump() {
	defer close(s.pumpDone)

	var last time.Time
	for frame := range s.stream.Frames() {
		if err := s.handle.SendAudio(frame); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
			slog.Debug("recognition: send audio failed", "session_id", s.id, "err", err)
		}
		if !s.opts.AudioLevel {
			continue
		}
		if now := time.Now(); now.Sub(last) >= s.cfg.LevelInterval {
			last = now
			s.publishLevel(audio.Level(frame))
		}
	}
	if !s.halting.Load() {
		close(s.captureLost)
	}
}

// publishLevel hands lvl to the session loop, replacing any unread value.
func (s *Session) publishLevel(lvl float64) {
	select {
	case s.levels <- lvl:
		return
	default:
	}
	select {
	case <-s.levels:
	default:
	}
	select {
	case s.levels <- lvl:
	default:
	}
}

// halt stops capture and asks the provider to flush. The provider closes its
// result channels once the flush is complete.
func (s *Session) halt() {
	s.haltOnce.Do(func() {
		s.halting.Store(true)
		_ = s.stream.Close()
		go func() {
			if err := s.handle.Close(); err != nil {
				slog.Debug("recognition: provider close failed", "session_id", s.id, "err", err)
			}
		}()
	})
}

// teardown releases every resource. Result channels still open (after an
// abort) are drained in the background so the provider can exit.
func (s *Session) teardown(partials, finals <-chan stt.Transcript) {
	s.halt()
	s.cancel()
	<-s.pumpDone
	if partials != nil {
		go audio.Drain(partials)
	}
	if finals != nil {
		go audio.Drain(finals)
	}
}

// drainPending passes every value already buffered in ch to fn without
// blocking. It returns nil if ch was found closed.
func drainPending(ch <-chan stt.Transcript, fn func(stt.Transcript)) <-chan stt.Transcript {
	for ch != nil {
		select {
		case t, ok := <-ch:
			if !ok {
				return nil
			}
			fn(t)
		default:
			return ch
		}
	}
	return nil
}
