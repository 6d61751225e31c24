// Package orchestrator is the confidence-gated state machine between voice
// recognition, command execution and spoken feedback.
//
// An [Orchestrator] consumes the events of one recognition session at a
// time, runs every final transcript through its [Policy], and either executes
// the command through the offline-resilient queue or holds it for
// confirmation. Every state change is published as a [State] snapshot on the
// channels returned by [Orchestrator.Subscribe].
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicecmd/internal/observe"
	"github.com/MrWong99/voicecmd/internal/queue"
	"github.com/MrWong99/voicecmd/internal/recognition"
	"github.com/MrWong99/voicecmd/internal/speaker"
	"github.com/MrWong99/voicecmd/internal/voicecmd"
	"github.com/MrWong99/voicecmd/pkg/types"
)

var (
	// ErrNothingPending is returned by confirmation controls when no
	// transcript is awaiting confirmation.
	ErrNothingPending = errors.New("orchestrator: nothing pending")

	// ErrVoiceDisabled is returned by StartListening once voice input has
	// been disabled by an unrecoverable recognition error.
	ErrVoiceDisabled = errors.New("orchestrator: voice input disabled")

	// ErrBusy is returned when listening is requested during an execution.
	ErrBusy = errors.New("orchestrator: command in progress")

	// ErrClosed is returned after [Orchestrator.Close].
	ErrClosed = errors.New("orchestrator: closed")
)

// Fixed phrases spoken by the orchestrator.
const (
	NextPrompt   = "What would you like to do next?"
	TypeFallback = "You can type your command instead."
	UnsureReply  = "Sorry, I didn't catch that. Say yes to run it, or cancel."
)

// DefaultClearDelay is how long an executed transcript stays visible.
const DefaultClearDelay = 2 * time.Second

// DefaultPreviewTimeout bounds one intent preview request.
const DefaultPreviewTimeout = 5 * time.Second

// gatedControls are the filter patterns that change the pending command.
var gatedControls = map[string]bool{"confirm": true, "cancel": true, "edit": true}

// ─── Dependencies ───

// Recognizer opens recognition sessions. It is satisfied by
// *recognition.Adapter.
type Recognizer interface {
	Supported() bool
	Start(ctx context.Context, opts recognition.StartOptions) (*recognition.Session, error)
}

// CommandQueue executes commands and keeps failures for later. It is
// satisfied by *queue.Queue.
type CommandQueue interface {
	AddCommand(ctx context.Context, command string, cmdCtx types.CommandContext, executeImmediately bool) queue.AddResult
	Len() int
	Subscribe(fn func([]queue.Command)) (unsubscribe func())
}

// Speaker voices responses. It is satisfied by *speaker.Speaker.
type Speaker interface {
	Speak(r speaker.Response)
	Stop()
	Subscribe(fn func(speaker.Event)) (unsubscribe func())
}

// IntentParser previews the structured intent of a command. It is satisfied
// by *executor.Client.
type IntentParser interface {
	Parse(ctx context.Context, command string, cmdCtx types.CommandContext) (*types.Intent, error)
}

// ─── Options ───

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithPolicy sets the confidence gate. Invalid policies are ignored.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) {
		if p.Validate() == nil {
			o.policy = p
		}
	}
}

// WithParser enables intent previews for pending transcripts.
func WithParser(p IntentParser) Option {
	return func(o *Orchestrator) { o.parser = p }
}

// WithPreviewTimeout bounds each intent preview. The preview outlives the
// request that produced the transcript but not this timeout.
func WithPreviewTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.previewTimeout = d
		}
	}
}

// WithCommandContext sets the context attached to every voice command.
func WithCommandContext(c types.CommandContext) Option {
	return func(o *Orchestrator) { o.cmdCtx = c }
}

// WithClearDelay sets how long an executed transcript stays in [State].
func WithClearDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.clearDelay = d
		}
	}
}

// WithPromptNext makes the orchestrator ask for the next command after a
// successful execution.
func WithPromptNext(on bool) Option {
	return func(o *Orchestrator) { o.promptNext = on }
}

// WithAudioLevel enables input level metering for listening sessions.
func WithAudioLevel(on bool) Option {
	return func(o *Orchestrator) { o.audioLevel = on }
}

// WithFilter replaces the voice-control phrase filter.
func WithFilter(f *voicecmd.Filter) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.filter = f
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// ─── Orchestrator ───

// Orchestrator is the single owner of the voice-command workflow. All methods
// are safe for concurrent use.
//
// o.mu is never held while calling into the speaker or the queue: both
// notify their subscribers synchronously, and the orchestrator is one of them.
type Orchestrator struct {
	rec     Recognizer
	q       CommandQueue
	spk     Speaker
	parser  IntentParser
	filter  *voicecmd.Filter
	metrics *observe.Metrics

	cmdCtx         types.CommandContext
	clearDelay     time.Duration
	previewTimeout time.Duration
	promptNext     bool
	audioLevel     bool

	// done is cancelled by Close and stops background previews.
	done   context.Context
	cancel context.CancelFunc

	unsubSpeaker func()
	unsubQueue   func()

	mu         sync.Mutex
	policy     Policy
	state      State
	session    *recognition.Session
	executing  int
	lastSpoken *speaker.Response
	clearTimer *time.Timer
	clearGen   uint64
	subs       map[*subscriber]struct{}
	closed     bool
	wg         sync.WaitGroup
}

var _ voicecmd.Controls = (*Orchestrator)(nil)

// New creates an [Orchestrator]. q and spk are required. A nil or
// unsupported rec starts the orchestrator in text-input mode.
func New(rec Recognizer, q CommandQueue, spk Speaker, opts ...Option) (*Orchestrator, error) {
	if q == nil {
		return nil, fmt.Errorf("orchestrator: command queue is required")
	}
	if spk == nil {
		return nil, fmt.Errorf("orchestrator: speaker is required")
	}
	o := &Orchestrator{
		rec:        rec,
		q:          q,
		spk:        spk,
		filter:     voicecmd.New(),
		policy:     DefaultPolicy(),
		clearDelay: DefaultClearDelay,
		subs:       make(map[*subscriber]struct{}),

		previewTimeout: DefaultPreviewTimeout,
	}
	o.done, o.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	o.state.Phase = PhaseIdle
	o.state.QueueDepth = q.Len()
	if rec == nil || !rec.Supported() {
		o.state.VoiceDisabled = true
		o.state.Phase = PhaseTextInput
	}

	o.unsubSpeaker = spk.Subscribe(o.onSpeakerEvent)
	o.unsubQueue = q.Subscribe(o.onQueueChange)
	return o, nil
}

// Policy returns the active confidence gate.
func (o *Orchestrator) Policy() Policy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.policy
}

// SetPolicy replaces the confidence gate. It applies to the next final
// transcript.
func (o *Orchestrator) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	o.policy = p
	o.mu.Unlock()
	slog.Info("confidence policy updated", "threshold", p.Threshold, "medium_band", p.MediumBand, "auto_execute", p.AutoExecute)
	return nil
}

// State returns the current snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// ─── Listening ───

// StartListening stops any ongoing speech and opens a recognition session.
// The session outlives ctx's cancellation but keeps its values. A transcript
// awaiting confirmation stays pending so it can be confirmed by voice.
func (o *Orchestrator) StartListening(ctx context.Context) error {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return ErrClosed
	case o.state.VoiceDisabled:
		o.mu.Unlock()
		return ErrVoiceDisabled
	case o.session != nil:
		o.mu.Unlock()
		return recognition.ErrAlreadyListening
	case o.executing > 0:
		o.mu.Unlock()
		return ErrBusy
	}
	o.mu.Unlock()

	o.spk.Stop()

	sessCtx := context.WithoutCancel(ctx)
	sess, err := o.rec.Start(sessCtx, recognition.StartOptions{AudioLevel: o.audioLevel})
	if err != nil {
		var recErr *recognition.Error
		if errors.As(err, &recErr) {
			o.handleRecognitionError(recErr)
		}
		return fmt.Errorf("orchestrator: start listening: %w", err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		sess.Abort()
		return ErrClosed
	}
	o.session = sess
	o.state.Interim = ""
	o.state.AudioLevel = 0
	o.state.LastError = nil
	o.wg.Add(1)
	o.publishLocked()
	o.mu.Unlock()

	go o.consume(sessCtx, sess)
	return nil
}

// StopListening ends capture and waits for the recogniser's last results.
func (o *Orchestrator) StopListening() {
	if s := o.activeSession(); s != nil {
		s.Stop()
	}
}

// AbortListening ends capture and discards anything not yet delivered.
func (o *Orchestrator) AbortListening() {
	if s := o.activeSession(); s != nil {
		s.Abort()
	}
}

func (o *Orchestrator) activeSession() *recognition.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// consume drains one session's events.
func (o *Orchestrator) consume(ctx context.Context, sess *recognition.Session) {
	defer o.wg.Done()
	for ev := range sess.Events() {
		switch ev := ev.(type) {
		case recognition.EventResult:
			if ev.Result.IsFinal {
				o.HandleResult(ctx, ev.Result)
				continue
			}
			o.update(sess, func(s *State) { s.Interim = ev.Result.Text })

		case recognition.EventAudioLevel:
			o.update(sess, func(s *State) { s.AudioLevel = ev.Level })

		case recognition.EventError:
			o.handleRecognitionError(ev.Err)

		case recognition.EventEnd:
			o.mu.Lock()
			if o.session == sess {
				o.session = nil
				o.state.Interim = ""
				o.state.AudioLevel = 0
				o.publishLocked()
			}
			o.mu.Unlock()
		}
	}
}

// update applies fn if sess is still the active session.
func (o *Orchestrator) update(sess *recognition.Session, fn func(*State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != sess {
		return
	}
	fn(&o.state)
	o.publishLocked()
}

// SubmitText feeds a typed command through the same path as a spoken final
// transcript, with full confidence.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return queue.ErrEmptyCommand
	}
	return o.HandleResult(ctx, recognition.Result{Text: text, Confidence: 1, IsFinal: true})
}

// HandleResult gates one final transcript. While a transcript is pending,
// voice-control phrases ("yes", "cancel", "change it to ...") are tried
// first. A confirm, cancel or edit phrase heard in the low band leaves the
// pending command untouched and asks again. Otherwise the policy decides
// between executing now and asking for confirmation.
func (o *Orchestrator) HandleResult(ctx context.Context, r recognition.Result) error {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return nil
	}
	ctx, span := observe.StartSpan(ctx, "orchestrator.gate",
		trace.WithAttributes(observe.AttrConfidence.Float64(r.Confidence)))
	defer span.End()

	o.mu.Lock()
	pending := o.state.Pending != nil
	policy := o.policy
	o.mu.Unlock()

	if pending {
		if gatedControls[o.filter.Match(text)] && policy.Decide(r.Confidence).Band == BandLow {
			slog.Info("low-confidence voice control ignored", "text", text, "confidence", r.Confidence)
			o.say(speaker.Response{Text: UnsureReply, Emotion: speaker.EmotionWarning, Priority: speaker.PriorityNormal})
			return nil
		}
		matched, err := o.filter.Check(ctx, text, o)
		if matched {
			if err != nil {
				slog.Warn("voice control failed", "text", text, "err", err)
			}
			return err
		}
	}

	d := policy.Decide(r.Confidence)
	o.metrics.RecordGateDecision(ctx, string(d.Band), string(d.Outcome))
	span.SetAttributes(
		attribute.String("voicecmd.gate.band", string(d.Band)),
		attribute.String("voicecmd.gate.outcome", string(d.Outcome)),
	)
	slog.Debug("gate decision", "confidence", r.Confidence, "band", d.Band, "outcome", d.Outcome)

	if d.Outcome == ActionExecute {
		o.mu.Lock()
		o.state.Pending = nil
		o.mu.Unlock()
		_, err := o.ExecuteCommand(ctx, text, o.cmdCtx)
		return err
	}

	p := &Pending{
		Transcript:   text,
		Confidence:   r.Confidence,
		Decision:     d,
		Alternatives: r.Alternatives,
	}
	o.mu.Lock()
	o.state.Pending = p
	o.state.Transcript = text
	o.clearGen++
	o.publishLocked()
	o.mu.Unlock()

	if d.RespeakRecommended {
		o.say(speaker.Response{
			Text:     "I'm not sure I heard that right. Did you mean: " + text + "? Say confirm, or try again.",
			Emotion:  speaker.EmotionWarning,
			Priority: speaker.PriorityNormal,
		})
	} else {
		o.say(speaker.Confirmation(text))
	}
	o.previewIntent(ctx, p)
	return nil
}

// previewIntent fetches the parsed intent of p in the background. The
// request keeps ctx's values but not its cancellation; it ends after the
// preview timeout or on Close.
func (o *Orchestrator) previewIntent(ctx context.Context, p *Pending) {
	if o.parser == nil {
		return
	}
	text := p.Transcript
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.previewTimeout)
	stop := context.AfterFunc(o.done, cancel)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer stop()
		intent, err := o.parser.Parse(ctx, text, o.cmdCtx)
		if err != nil {
			slog.Debug("intent preview failed", "command", text, "err", err)
			return
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.state.Pending == p && p.Transcript == text {
			p.Intent = intent
			o.publishLocked()
		}
	}()
}

// ─── Confirmation controls ───

// Confirm executes the pending transcript.
func (o *Orchestrator) Confirm(ctx context.Context) error {
	o.mu.Lock()
	p := o.state.Pending
	if p == nil {
		o.mu.Unlock()
		return ErrNothingPending
	}
	o.state.Pending = nil
	text := p.Transcript
	o.mu.Unlock()

	_, err := o.ExecuteCommand(ctx, text, o.cmdCtx)
	return err
}

// Edit replaces the pending transcript. An edited transcript counts as high
// confidence but always waits for an explicit confirmation.
func (o *Orchestrator) Edit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return queue.ErrEmptyCommand
	}
	o.mu.Lock()
	old := o.state.Pending
	if old == nil {
		o.mu.Unlock()
		return ErrNothingPending
	}
	p := &Pending{
		Transcript: text,
		Confidence: 1,
		Decision:   Decision{Band: BandHigh, Outcome: ActionConfirm},
		Edited:     true,
	}
	o.state.Pending = p
	o.state.Transcript = text
	o.clearGen++
	o.publishLocked()
	o.mu.Unlock()

	o.say(speaker.Confirmation(text))
	o.previewIntent(context.Background(), p)
	return nil
}

// Cancel discards the pending transcript and aborts any active session.
// Nothing is executed or queued.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	sess := o.session
	had := o.state.Pending != nil || sess != nil
	o.state.Pending = nil
	o.state.Transcript = ""
	o.state.Interim = ""
	o.clearGen++
	o.publishLocked()
	o.mu.Unlock()

	if sess != nil {
		sess.Abort()
	}
	if !had {
		return ErrNothingPending
	}
	slog.Info("command cancelled")
	return nil
}

// StopSpeaking silences the speaker and drops its queue.
func (o *Orchestrator) StopSpeaking() { o.spk.Stop() }

// RepeatLast speaks the most recent response again, interrupting whatever is
// playing.
func (o *Orchestrator) RepeatLast() {
	o.mu.Lock()
	last := o.lastSpoken
	o.mu.Unlock()
	if last == nil {
		return
	}
	r := *last
	r.Interrupt = true
	o.spk.Speak(r)
}

// ─── Execution ───

// ExecuteCommand runs text through the command queue with immediate
// execution and speaks the outcome. A command that could not reach the
// backend is kept in the queue and reported as [ResultQueued] with a nil
// error; a business rejection is [ResultRejected].
func (o *Orchestrator) ExecuteCommand(ctx context.Context, text string, cmdCtx types.CommandContext) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", queue.ErrEmptyCommand
	}

	o.mu.Lock()
	o.executing++
	o.state.Transcript = text
	o.clearGen++
	o.publishLocked()
	o.mu.Unlock()

	res := o.q.AddCommand(ctx, text, cmdCtx, true)

	var (
		outcome Result
		message string
		reply   []speaker.Response
		err     error
	)
	switch {
	case !res.Queued && res.Err != nil:
		err = res.Err
	case res.Queued:
		outcome = ResultQueued
		n := o.q.Len()
		message = fmt.Sprintf("Saved offline. %d %s pending.", n, plural(n, "command", "commands"))
		reply = append(reply, speaker.Response{Text: message, Emotion: speaker.EmotionInfo, Priority: speaker.PriorityNormal})
	case res.Result != nil && res.Result.Success:
		outcome = ResultExecuted
		message = res.Result.Message
		reply = append(reply, speaker.CommandResult(true, message))
		if o.promptNext {
			reply = append(reply, speaker.Suggestion(NextPrompt))
		}
	default:
		outcome = ResultRejected
		if res.Result != nil {
			message = res.Result.Message
		}
		reply = append(reply, speaker.CommandResult(false, message))
	}

	o.mu.Lock()
	o.executing--
	if err == nil {
		o.state.LastOutcome = outcome
		o.state.LastMessage = message
		if outcome != ResultRejected {
			o.scheduleClearLocked()
		}
	}
	o.publishLocked()
	o.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("orchestrator: execute: %w", err)
	}
	slog.Info("command handled", "command", text, "outcome", outcome, "message", message)
	for _, r := range reply {
		o.say(r)
	}
	return outcome, nil
}

// scheduleClearLocked clears the displayed transcript after the clear delay
// unless another transcript replaced it first.
func (o *Orchestrator) scheduleClearLocked() {
	if o.closed {
		return
	}
	if o.clearTimer != nil {
		o.clearTimer.Stop()
	}
	gen := o.clearGen
	o.clearTimer = time.AfterFunc(o.clearDelay, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.clearGen != gen || o.closed {
			return
		}
		o.state.Transcript = ""
		o.publishLocked()
	})
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// ─── Errors ───

// handleRecognitionError records e. Unrecoverable errors disable voice
// input and switch to text entry.
func (o *Orchestrator) handleRecognitionError(e *recognition.Error) {
	o.mu.Lock()
	o.state.LastError = e
	disable := !e.Recoverable && !o.state.VoiceDisabled
	if disable {
		o.state.VoiceDisabled = true
	}
	o.publishLocked()
	o.mu.Unlock()

	if disable {
		slog.Warn("voice input disabled", "type", e.Type, "err", e)
		o.say(speaker.ErrorWithHelp(e.Message, TypeFallback))
	}
}

// EnableVoice clears a previous unrecoverable error so listening can be
// retried, for example after microphone permission was granted.
func (o *Orchestrator) EnableVoice() error {
	if o.rec == nil || !o.rec.Supported() {
		return ErrVoiceDisabled
	}
	o.mu.Lock()
	o.state.VoiceDisabled = false
	o.state.LastError = nil
	o.publishLocked()
	o.mu.Unlock()
	return nil
}

// ─── Speaker and queue observation ───

func (o *Orchestrator) say(r speaker.Response) {
	o.mu.Lock()
	o.lastSpoken = &r
	o.mu.Unlock()
	o.spk.Speak(r)
}

func (o *Orchestrator) onSpeakerEvent(e speaker.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch e.Type {
	case speaker.EventStart, speaker.EventResume:
		o.state.Speaking = true
	case speaker.EventEnd, speaker.EventError, speaker.EventStop:
		o.state.Speaking = false
	default:
		return
	}
	o.publishLocked()
}

func (o *Orchestrator) onQueueChange(cmds []queue.Command) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.QueueDepth == len(cmds) {
		return
	}
	o.state.QueueDepth = len(cmds)
	o.publishLocked()
}

// ─── Subscriptions ───

type subscriber struct {
	ch chan State
}

// Subscribe returns a channel of state snapshots. The channel holds at most
// buffer snapshots (minimum 1); a slow reader loses the oldest ones, never
// the latest. The current state is delivered immediately. cancel closes the
// channel and is safe to call more than once.
func (o *Orchestrator) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan State, buffer)}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	o.subs[sub] = struct{}{}
	sub.send(o.snapshotLocked())
	o.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if _, ok := o.subs[sub]; ok {
				delete(o.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// send delivers s, evicting the oldest buffered snapshot if needed. Callers
// hold o.mu, so sends to one subscriber never race each other.
func (sub *subscriber) send(s State) {
	for {
		select {
		case sub.ch <- s:
			return
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}

func (o *Orchestrator) snapshotLocked() State {
	s := o.state.clone()
	s.Phase = o.phaseLocked()
	s.Listening = o.session != nil
	return s
}

// phaseLocked derives the phase. Executing wins over confirming, which wins
// over listening.
func (o *Orchestrator) phaseLocked() Phase {
	switch {
	case o.executing > 0:
		return PhaseExecuting
	case o.state.Pending != nil:
		return PhaseConfirming
	case o.session != nil:
		return PhaseListening
	case o.state.VoiceDisabled:
		return PhaseTextInput
	default:
		return PhaseIdle
	}
}

func (o *Orchestrator) publishLocked() {
	o.state.Phase = o.phaseLocked()
	o.state.Listening = o.session != nil
	if len(o.subs) == 0 {
		return
	}
	s := o.snapshotLocked()
	for sub := range o.subs {
		sub.send(s)
	}
}

// Close aborts any session, detaches from the speaker and queue, and closes
// every subscription channel.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancel()
	sess := o.session
	if o.clearTimer != nil {
		o.clearTimer.Stop()
	}
	o.mu.Unlock()

	if sess != nil {
		sess.Abort()
	}
	o.unsubSpeaker()
	o.unsubQueue()
	o.wg.Wait()

	o.mu.Lock()
	for sub := range o.subs {
		close(sub.ch)
	}
	clear(o.subs)
	o.mu.Unlock()
}
