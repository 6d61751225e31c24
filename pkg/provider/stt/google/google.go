// Package google provides an STT provider backed by Google Cloud
// Speech-to-Text streaming recognition. It implements the stt.Provider
// interface.
//
// Credentials are resolved by the client library (Application Default
// Credentials) unless a credentials file is configured.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MrWong99/voicecmd/pkg/provider/stt"
)

const (
	defaultLanguage   = "en-US"
	defaultModel      = "command_and_search"
	defaultSampleRate = 16000
	flushTimeout      = 5 * time.Second
)

// Option is a functional option for configuring the Google Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithModel sets the recognition model (e.g. "command_and_search", "latest_short").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithClientOptions appends options passed to speech.NewClient.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(p *Provider) { p.clientOpts = append(p.clientOpts, opts...) }
}

// WithCredentialsFile authenticates with a service-account JSON file.
func WithCredentialsFile(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.clientOpts = append(p.clientOpts, option.WithCredentialsFile(path))
		}
	}
}

// streamOpener opens one bidirectional recognition stream.
type streamOpener func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

// Provider implements stt.Provider backed by Google Cloud Speech-to-Text.
type Provider struct {
	language   string
	model      string
	clientOpts []option.ClientOption

	client *speech.Client
	open   streamOpener
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider and its underlying gRPC client.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	p := &Provider{language: defaultLanguage, model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	client, err := speech.NewClient(ctx, p.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google stt: create client: %w", err)
	}
	p.client = client
	p.open = func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
		return client.StreamingRecognize(ctx)
	}
	return p, nil
}

// Close releases the gRPC client.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// StartStream opens a streaming recognition session and sends the
// configuration message.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := p.open(sessCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("google stt: open stream: %w", classify(err))
	}
	if err := stream.Send(p.configRequest(cfg)); err != nil {
		cancel()
		return nil, fmt.Errorf("google stt: send config: %w", classify(err))
	}

	s := &session{
		stream:   stream,
		cancel:   cancel,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
		kill:     make(chan struct{}),
		recvDone: make(chan struct{}),
	}
	go s.recvLoop()
	return s, nil
}

// configRequest builds the first message of a stream.
func (p *Provider) configRequest(cfg stt.StreamConfig) *speechpb.StreamingRecognizeRequest {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = 1
	}
	maxAlt := max(cfg.MaxAlternatives, 1)

	rc := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(sr),
		AudioChannelCount:          int32(channels),
		LanguageCode:               lang,
		MaxAlternatives:            int32(maxAlt),
		EnableAutomaticPunctuation: true,
		Model:                      p.model,
	}
	for _, kw := range cfg.Keywords {
		rc.SpeechContexts = append(rc.SpeechContexts, &speechpb.SpeechContext{
			Phrases: []string{kw.Keyword},
			Boost:   float32(kw.Boost),
		})
	}

	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         rc,
				InterimResults: cfg.InterimResults,
			},
		},
	}
}

// classify wraps authentication failures with stt.ErrUnauthorized while
// keeping the gRPC status reachable through errors.As.
func classify(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %w", stt.ErrUnauthorized, err)
	}
	return err
}

// ---- session ----

type session struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc

	sendMu   sync.Mutex
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done     chan struct{}
	kill     chan struct{}
	recvDone chan struct{}
	once     sync.Once

	errMu sync.Mutex
	err   error
}

func (s *session) SendAudio(chunk []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
	})
	if err != nil {
		return fmt.Errorf("google stt: send audio: %w", classify(err))
	}
	return nil
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close half-closes the stream so Google finalises pending audio, then waits
// up to flushTimeout for the server to end the stream.
func (s *session) Close() error {
	s.once.Do(func() {
		s.sendMu.Lock()
		close(s.done)
		_ = s.stream.CloseSend()
		s.sendMu.Unlock()

		timer := time.NewTimer(flushTimeout)
		defer timer.Stop()
		select {
		case <-s.recvDone:
		case <-timer.C:
			close(s.kill)
			s.cancel()
			<-s.recvDone
		}
		s.cancel()
	})
	return nil
}

func (s *session) recvLoop() {
	defer close(s.recvDone)
	defer close(s.partials)
	defer close(s.finals)

	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closing() {
				s.errMu.Lock()
				s.err = fmt.Errorf("google stt: recv: %w", classify(err))
				s.errMu.Unlock()
			}
			return
		}
		if resp.GetError() != nil {
			s.errMu.Lock()
			s.err = fmt.Errorf("google stt: %w", classify(status.ErrorProto(resp.GetError())))
			s.errMu.Unlock()
			return
		}
		for _, t := range convertResults(resp.GetResults()) {
			ch := s.partials
			if t.IsFinal {
				ch = s.finals
			}
			select {
			case ch <- t:
			case <-s.kill:
				return
			}
		}
	}
}

func (s *session) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// convertResults maps streaming results onto transcripts, skipping results
// without a usable hypothesis.
func convertResults(results []*speechpb.StreamingRecognitionResult) []stt.Transcript {
	out := make([]stt.Transcript, 0, len(results))
	for _, r := range results {
		alts := make([]stt.Alternative, 0, len(r.GetAlternatives()))
		for _, a := range r.GetAlternatives() {
			if a.GetTranscript() == "" {
				continue
			}
			alts = append(alts, stt.Alternative{Text: a.GetTranscript(), Confidence: float64(a.GetConfidence())})
		}
		if len(alts) == 0 {
			continue
		}
		t := stt.Transcript{
			Text:         alts[0].Text,
			Confidence:   alts[0].Confidence,
			Alternatives: alts,
			IsFinal:      r.GetIsFinal(),
			Language:     r.GetLanguageCode(),
		}
		if end := r.GetResultEndTime(); end != nil {
			t.Duration = end.AsDuration()
		}
		out = append(out, t)
	}
	return out
}
