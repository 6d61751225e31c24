// Package speaker plays spoken feedback one utterance at a time.
//
// A [Speaker] owns a FIFO of pending [Response] values. Responses are spoken
// in arrival order; an interrupting response cancels the current utterance
// and plays next, ahead of the queue, which is otherwise left intact.
// [Speaker.Stop] cancels playback and discards everything pending.
//
// Playback goes through a [Synthesizer]. Each utterance carries a generation
// number so that a cancelled synthesis finishing late can never advance the
// queue.
package speaker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voicecmd/internal/observe"
)

// Utterance is a response resolved to concrete delivery parameters.
type Utterance struct {
	Text     string
	Rate     float64
	Pitch    float64
	Emotion  Emotion
	Priority Priority
}

// Synthesizer is the platform speech capability.
type Synthesizer interface {
	// Speak plays u and blocks until playback finishes or ctx is cancelled.
	Speak(ctx context.Context, u Utterance) error
	Pause() error
	Resume() error
}

// EventType names a [Speaker] event.
type EventType string

const (
	EventStart  EventType = "start"
	EventEnd    EventType = "end"
	EventError  EventType = "error"
	EventPause  EventType = "pause"
	EventResume EventType = "resume"
	EventStop   EventType = "stop"
)

// Event is delivered to subscribers on every playback transition.
type Event struct {
	Type EventType `json:"type"`
	Text string    `json:"text,omitempty"`
	Err  error     `json:"-"`
}

// Option configures a [Speaker].
type Option func(*Speaker)

// WithRate sets the base speaking rate the emotion multiplier is applied to.
// Default: 1.0.
func WithRate(rate float64) Option {
	return func(s *Speaker) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithPitch sets the base pitch. Default: 1.0.
func WithPitch(pitch float64) Option {
	return func(s *Speaker) {
		if pitch > 0 {
			s.pitch = pitch
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// utterance outcomes, used for metrics
const (
	outcomeCompleted   = "completed"
	outcomeInterrupted = "interrupted"
	outcomeStopped     = "stopped"
	outcomeError       = "error"
)

type playing struct {
	gen    uint64
	resp   Response
	ctx    context.Context
	cancel context.CancelFunc

	// outcome is set under Speaker.mu when the utterance is superseded.
	outcome string
}

// Speaker serialises spoken feedback. Construct it once in the composition
// root. All methods are safe for concurrent use.
type Speaker struct {
	synth   Synthesizer
	rate    float64
	pitch   float64
	metrics *observe.Metrics

	// emitMu orders state changes with their events. mu guards the rest.
	emitMu    sync.Mutex
	mu        sync.Mutex
	current   *playing
	pending   []Response
	gen       uint64
	subs      map[int]func(Event)
	nextSubID int
	closed    bool

	wg sync.WaitGroup
}

// New creates a [Speaker]. A nil synth yields a speaker on which every
// operation is a silent no-op.
func New(synth Synthesizer, opts ...Option) *Speaker {
	s := &Speaker{
		synth: synth,
		rate:  1.0,
		pitch: 1.0,
		subs:  make(map[int]func(Event)),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetVoice changes the base rate and pitch from the next utterance on.
// Non-positive values leave the current setting.
func (s *Speaker) SetVoice(rate, pitch float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate > 0 {
		s.rate = rate
	}
	if pitch > 0 {
		s.pitch = pitch
	}
}

// Available reports whether a synthesizer is configured.
func (s *Speaker) Available() bool { return s.synth != nil }

// Speak plays r now, queues it behind the current utterance, or, when
// r.Interrupt is set, cancels the current utterance and plays r in its place.
// Blank text is ignored.
func (s *Speaker) Speak(r Response) {
	if s.synth == nil || strings.TrimSpace(r.Text) == "" {
		return
	}

	s.emitMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.emitMu.Unlock()
		return
	}
	if s.current != nil && !r.Interrupt {
		s.pending = append(s.pending, r)
		s.mu.Unlock()
		s.emitMu.Unlock()
		return
	}
	if s.current != nil {
		s.current.outcome = outcomeInterrupted
		s.current.cancel()
	}
	p := s.begin(r)
	s.wg.Add(1)
	subs := s.subscribers()
	s.mu.Unlock()

	emit(subs, Event{Type: EventStart, Text: r.Text})
	s.emitMu.Unlock()

	go s.play(p)
}

// begin makes r the current utterance. Caller holds mu.
func (s *Speaker) begin(r Response) *playing {
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p := &playing{gen: s.gen, resp: r, ctx: ctx, cancel: cancel}
	s.current = p
	return p
}

// play speaks p and then every response dequeued after it, until the queue
// is empty or p is superseded.
func (s *Speaker) play(p *playing) {
	defer s.wg.Done()
	for p != nil {
		p = s.playOne(p)
	}
}

func (s *Speaker) playOne(p *playing) *playing {
	emo, prio := p.resp.emotion(), p.resp.priority()
	rate, pitch := Delivery(emo)
	s.mu.Lock()
	baseRate, basePitch := s.rate, s.pitch
	s.mu.Unlock()
	u := Utterance{
		Text:     p.resp.Text,
		Rate:     baseRate * rate,
		Pitch:    basePitch * pitch,
		Emotion:  emo,
		Priority: prio,
	}

	start := time.Now()
	err := s.synth.Speak(p.ctx, u)
	elapsed := time.Since(start).Seconds()
	p.cancel()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.current != p {
		outcome := p.outcome
		s.mu.Unlock()
		s.metrics.RecordUtterance(context.Background(), string(emo), string(prio), outcome, elapsed)
		return nil
	}

	done := Event{Type: EventEnd, Text: p.resp.Text}
	outcome := outcomeCompleted
	if err != nil && !errors.Is(err, context.Canceled) {
		done = Event{Type: EventError, Text: p.resp.Text, Err: err}
		outcome = outcomeError
	}

	var next *playing
	if len(s.pending) > 0 && !s.closed {
		r := s.pending[0]
		s.pending = s.pending[1:]
		next = s.begin(r)
	} else {
		s.current = nil
	}
	subs := s.subscribers()
	s.mu.Unlock()

	if outcome == outcomeError {
		slog.Warn("speaker: utterance failed", "text", p.resp.Text, "err", err)
	}
	s.metrics.RecordUtterance(context.Background(), string(emo), string(prio), outcome, elapsed)
	emit(subs, done)
	if next != nil {
		emit(subs, Event{Type: EventStart, Text: next.resp.Text})
	}
	return next
}

// Stop cancels the current utterance and discards every pending response.
func (s *Speaker) Stop() {
	if s.synth == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	active := s.current != nil || len(s.pending) > 0
	if s.current != nil {
		s.current.outcome = outcomeStopped
		s.current.cancel()
		s.current = nil
	}
	s.pending = nil
	subs := s.subscribers()
	s.mu.Unlock()

	if active {
		emit(subs, Event{Type: EventStop})
	}
}

// Pause pauses the synthesizer. The queue is unaffected.
func (s *Speaker) Pause() error {
	return s.passthrough(EventPause, func() error { return s.synth.Pause() })
}

// Resume resumes a paused synthesizer.
func (s *Speaker) Resume() error {
	return s.passthrough(EventResume, func() error { return s.synth.Resume() })
}

func (s *Speaker) passthrough(typ EventType, fn func() error) error {
	if s.synth == nil {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	var text string
	if s.current != nil {
		text = s.current.resp.Text
	}
	subs := s.subscribers()
	s.mu.Unlock()
	emit(subs, Event{Type: typ, Text: text})
	return nil
}

// Speaking reports whether an utterance is playing.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Pending returns the number of queued responses, excluding the current one.
func (s *Speaker) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Subscribe registers fn for playback events. fn runs synchronously and must
// not call back into the speaker. The returned function removes it.
func (s *Speaker) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Close stops playback, rejects further responses, and waits for the
// playback goroutine to exit.
func (s *Speaker) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Stop()
	s.wg.Wait()
}

// subscribers snapshots the subscriber list. Caller holds mu.
func (s *Speaker) subscribers() []func(Event) {
	out := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func emit(subs []func(Event), e Event) {
	for _, fn := range subs {
		fn(e)
	}
}

// ─── Phrasing helpers ───

// SpeakCommandResult speaks the outcome of an executed command.
func (s *Speaker) SpeakCommandResult(success bool, message string) {
	s.Speak(CommandResult(success, message))
}

// SpeakConfirmation asks the user to confirm action.
func (s *Speaker) SpeakConfirmation(action string) {
	s.Speak(Confirmation(action))
}

// SpeakSuggestion offers a low-priority hint.
func (s *Speaker) SpeakSuggestion(suggestion string) {
	s.Speak(Suggestion(suggestion))
}

// SpeakErrorWithHelp interrupts playback with an error and a recovery hint.
func (s *Speaker) SpeakErrorWithHelp(errMsg, help string) {
	s.Speak(ErrorWithHelp(errMsg, help))
}
