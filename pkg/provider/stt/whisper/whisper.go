// Package whisper provides an offline STT provider backed by the whisper.cpp
// CGO bindings.
//
// whisper.cpp is a batch engine, so the provider simulates streaming: PCM
// arriving through SendAudio is segmented with an energy-based silence
// detector and each completed utterance is transcribed in one pass. Only
// final transcripts are produced. Confidence is the mean token probability
// reported by the model.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the RMS level (PCM16 units) below which audio
	// counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	// modelSampleRate is the only rate whisper.cpp accepts.
	modelSampleRate = 16000
)

// transcriber runs batch inference on mono float32 samples at 16 kHz.
type transcriber interface {
	Transcribe(samples []float32, language string) (utterance, error)
}

// utterance is one inference result.
type utterance struct {
	Text       string
	Confidence float64
	Language   string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default language ("en", "de", or "auto").
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThresholdMs sets the trailing-silence duration that ends an
// utterance. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the longest utterance buffered before a
// forced transcription. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// WithRMSThreshold sets the silence threshold in PCM16 units.
func WithRMSThreshold(rms float64) Option {
	return func(p *Provider) { p.rmsThreshold = rms }
}

// Provider implements stt.Provider on a locally loaded whisper model. The
// model is shared by all sessions; each inference gets its own context.
type Provider struct {
	engine transcriber
	closer io.Closer

	language            string
	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64
}

var _ stt.Provider = (*Provider)(nil)

// New loads the model at modelPath. The caller must call Close.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := newProvider(&modelEngine{model: model}, opts...)
	p.closer = model
	return p, nil
}

func newProvider(engine transcriber, opts ...Option) *Provider {
	p := &Provider{
		engine:              engine,
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		rmsThreshold:        defaultRMSThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Close releases the model.
func (p *Provider) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// StartStream opens a new transcription session. cfg.Language overrides the
// provider default; BCP-47 region suffixes are dropped ("en-US" → "en").
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	if base, _, ok := strings.Cut(lang, "-"); ok {
		lang = base
	}
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = defaultSampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	s := &session{
		engine:              p.engine,
		language:            strings.ToLower(lang),
		format:              format,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,
		rmsThreshold:        p.rmsThreshold,

		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript),
		finals:   make(chan stt.Transcript, 16),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	close(s.partials)
	go s.processLoop()
	return s, nil
}

// ---- session ----------------------------------------------------------------

type session struct {
	engine              transcriber
	language            string
	format              audio.Format
	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done     chan struct{}
	loopDone chan struct{}
	once     sync.Once

	errMu sync.Mutex
	err   error
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Partials returns an already-closed channel: whisper produces finals only.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close transcribes whatever speech is still buffered, then closes Finals.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		<-s.loopDone
	})
	return nil
}

// processLoop owns all segmentation state.
func (s *session) processLoop() {
	defer close(s.loopDone)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
		bufferMs  int
	)

	flush := func() {
		pcm, speech := buffer, hadSpeech
		buffer, hadSpeech, silenceMs, bufferMs = nil, false, 0, 0
		if !speech || len(pcm) == 0 {
			return
		}
		s.transcribe(pcm)
	}

	handle := func(chunk []byte) {
		ms := audio.DurationMs(chunk, s.format)
		if audio.RMS(chunk) < s.rmsThreshold {
			if !hadSpeech {
				return
			}
			silenceMs += ms
			bufferMs += ms
			buffer = append(buffer, chunk...)
			if silenceMs >= s.silenceThresholdMs {
				flush()
			}
			return
		}
		hadSpeech = true
		silenceMs = 0
		bufferMs += ms
		buffer = append(buffer, chunk...)
		if s.maxBufferDurationMs > 0 && bufferMs >= s.maxBufferDurationMs {
			flush()
		}
	}

	for {
		select {
		case chunk := <-s.audioCh:
			handle(chunk)
		case <-s.done:
			for {
				select {
				case chunk := <-s.audioCh:
					handle(chunk)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *session) transcribe(pcm []byte) {
	mono := audio.Convert(pcm, s.format, audio.Format{SampleRate: modelSampleRate, Channels: 1})
	u, err := s.engine.Transcribe(audio.PCM16ToFloat32(mono), s.language)
	if err != nil {
		slog.Error("whisper: inference failed", "err", err)
		s.errMu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.errMu.Unlock()
		return
	}
	if u.Text == "" {
		return
	}
	s.finals <- stt.Transcript{
		Text:         u.Text,
		IsFinal:      true,
		Confidence:   u.Confidence,
		Alternatives: []stt.Alternative{{Text: u.Text, Confidence: u.Confidence}},
		Language:     u.Language,
		Duration:     durationOf(mono),
	}
}

func durationOf(mono16k []byte) time.Duration {
	return time.Duration(len(mono16k)/2) * time.Second / modelSampleRate
}

// ---- whisper.cpp engine -----------------------------------------------------

// modelEngine runs inference on a whisper.cpp model.
type modelEngine struct {
	model whisperlib.Model
}

// Transcribe creates a fresh context (contexts are not goroutine-safe, the
// model is) and joins all segments.
func (e *modelEngine) Transcribe(samples []float32, language string) (utterance, error) {
	wctx, err := e.model.NewContext()
	if err != nil {
		return utterance{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: unsupported language, using model default", "language", language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return utterance{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts   []string
		probSum float64
		tokens  int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return utterance{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			if strings.HasPrefix(tok.Text, "[_") {
				continue
			}
			probSum += float64(tok.P)
			tokens++
		}
	}

	u := utterance{Text: strings.Join(parts, " "), Language: wctx.DetectedLanguage()}
	if tokens > 0 {
		u.Confidence = probSum / float64(tokens)
	}
	return u, nil
}
