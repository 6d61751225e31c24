// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Each text fragment is synthesised with one request; the raw PCM response
// body (24 kHz, 16-bit, mono) is streamed to the caller as it arrives.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/tts"
)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = "gpt-4o-mini-tts"

	// DefaultVoice is used when a VoiceProfile carries no ID.
	DefaultVoice = "alloy"

	// pcmSampleRate is fixed by the API for response_format=pcm.
	pcmSampleRate = 24000

	readChunk = 4800 // 100 ms of 24 kHz mono PCM16

	minSpeed = 0.25
	maxSpeed = 4.0
)

// builtinVoices is the fixed OpenAI voice catalogue.
var builtinVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs an OpenAI TTS Provider. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: pcmSampleRate, Channels: 1}
}

// ListVoices returns the built-in voice catalogue.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		out = append(out, tts.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}

// SynthesizeStream implements tts.Provider. Fragments are synthesised in
// order; an API error ends the stream early.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai tts: %w", err)
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = DefaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
		Speed:          oai.Float(voice.Speed(minSpeed, maxSpeed)),
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for {
			select {
			case frag, ok := <-text:
				if !ok {
					return
				}
				if strings.TrimSpace(frag) == "" {
					continue
				}
				params.Input = frag
				if err := p.synthesize(ctx, params, out); err != nil {
					if ctx.Err() == nil {
						slog.Warn("openai tts: synthesis failed", "err", err)
					}
					go audio.Drain(text)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// synthesize performs one request and forwards the PCM body in chunks.
func (p *Provider) synthesize(ctx context.Context, params oai.AudioSpeechNewParams, out chan<- []byte) error {
	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, readChunk)
	var carry []byte
	for {
		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			chunk := make([]byte, even)
			copy(chunk, data[:even])
			carry = append([]byte(nil), data[even:]...)
			if even == 0 {
				continue
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai tts: read audio: %w", err)
		}
	}
}
