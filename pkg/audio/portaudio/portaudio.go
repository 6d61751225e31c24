// Package portaudio implements [audio.Source] and [audio.Sink] on the default
// system input and output devices via PortAudio.
//
// [Init] must be called once before any device is opened and [Terminate] once
// on shutdown.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voicecmd/pkg/audio"
)

// DefaultFrameMs is the capture frame length used when none is configured.
const DefaultFrameMs = 20

// Init initialises the PortAudio library.
func Init() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", classify(err))
	}
	return nil
}

// Terminate releases the PortAudio library.
func Terminate() error {
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// classify maps PortAudio errors onto the audio package sentinels where the
// cause is recognisable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pa.DeviceUnavailable) || errors.Is(err, pa.InvalidDevice) {
		return errors.Join(audio.ErrNoDevice, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") {
		return errors.Join(audio.ErrPermissionDenied, err)
	}
	return err
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone captures from the default input device.
type Microphone struct {
	frameMs int
}

// MicOption configures a Microphone.
type MicOption func(*Microphone)

// WithFrameMs sets the capture frame length in milliseconds.
func WithFrameMs(ms int) MicOption {
	return func(m *Microphone) {
		if ms > 0 {
			m.frameMs = ms
		}
	}
}

// NewMicrophone returns a Microphone.
func NewMicrophone(opts ...MicOption) *Microphone {
	m := &Microphone{frameMs: DefaultFrameMs}
	for _, o := range opts {
		o(m)
	}
	return m
}

var _ audio.Source = (*Microphone)(nil)

// Open implements [audio.Source].
func (m *Microphone) Open(ctx context.Context, format audio.Format) (audio.Stream, error) {
	if format.Channels <= 0 {
		format.Channels = 1
	}
	samples := format.SampleRate * m.frameMs / 1000 * format.Channels
	buf := make([]int16, samples)

	stream, err := pa.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), len(buf)/format.Channels, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w", classify(err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w", classify(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &micStream{
		stream: stream,
		frames: make(chan []byte, 32),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.readLoop(ctx, buf)
	return s, nil
}

type micStream struct {
	stream *pa.Stream
	frames chan []byte
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *micStream) Frames() <-chan []byte { return s.frames }

func (s *micStream) readLoop(ctx context.Context, buf []int16) {
	defer close(s.done)
	defer close(s.frames)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.stream.Read(); err != nil {
			if !errors.Is(err, pa.InputOverflowed) {
				slog.Warn("portaudio: input read failed", "err", err)
				return
			}
		}
		frame := make([]byte, len(buf)*2)
		for i, v := range buf {
			frame[i*2] = byte(v)
			frame[i*2+1] = byte(v >> 8)
		}
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		default:
			// Consumer is behind: drop the frame.
		}
	}
}

func (s *micStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.err = errors.Join(s.stream.Stop(), s.stream.Close())
	})
	return s.err
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker plays PCM on the default output device. One output stream is kept
// open per format and reused across writes.
type Speaker struct {
	mu     sync.Mutex
	format audio.Format
	stream *pa.Stream
	buf    []int16
}

// NewSpeaker returns a Speaker.
func NewSpeaker() *Speaker { return &Speaker{} }

var _ audio.Sink = (*Speaker)(nil)

// Write implements [audio.Sink]. PCM is written in device-buffer sized
// chunks so cancellation is observed between chunks.
func (s *Speaker) Write(ctx context.Context, format audio.Format, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStream(format); err != nil {
		return err
	}
	n := len(pcm) / 2
	for off := 0; off < n; off += len(s.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+len(s.buf), n)
		clear(s.buf)
		for i := off; i < end; i++ {
			s.buf[i-off] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		}
		if err := s.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

func (s *Speaker) ensureStream(format audio.Format) error {
	if s.stream != nil && s.format == format {
		return nil
	}
	if s.stream != nil {
		_ = s.stream.Stop()
		_ = s.stream.Close()
		s.stream = nil
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	s.buf = make([]int16, format.SampleRate*DefaultFrameMs/1000*format.Channels)
	stream, err := pa.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), len(s.buf)/format.Channels, s.buf)
	if err != nil {
		return fmt.Errorf("portaudio: open output: %w", classify(err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start output: %w", classify(err))
	}
	s.stream = stream
	s.format = format
	return nil
}

// Close stops and releases the output stream, if any.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	err := errors.Join(s.stream.Stop(), s.stream.Close())
	s.stream = nil
	return err
}
