package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicecmd/pkg/provider/stt"
)

// ---- helpers ----------------------------------------------------------------

// fakeEngine records the sample counts it was asked to transcribe.
type fakeEngine struct {
	mu     sync.Mutex
	calls  []int
	langs  []string
	result utterance
	err    error
}

func (f *fakeEngine) Transcribe(samples []float32, language string) (utterance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, len(samples))
	f.langs = append(f.langs, language)
	return f.result, f.err
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// speechPCM generates a 440 Hz sine wave well above the silence threshold.
func speechPCM(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silencePCM(samples int) []byte { return make([]byte, samples*2) }

func collectFinals(t *testing.T, h stt.SessionHandle) []stt.Transcript {
	t.Helper()
	var out []stt.Transcript
	timeout := time.After(2 * time.Second)
	for {
		select {
		case tr, ok := <-h.Finals():
			if !ok {
				return out
			}
			out = append(out, tr)
		case <-timeout:
			t.Fatal("timed out waiting for Finals to close")
		}
	}
}

// ---- tests ------------------------------------------------------------------

func TestNew_EmptyPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty model path")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	p := newProvider(&fakeEngine{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestPartialsAlreadyClosed(t *testing.T) {
	h, _ := newProvider(&fakeEngine{}).StartStream(context.Background(), stt.StreamConfig{})
	defer h.Close()
	if _, ok := <-h.Partials(); ok {
		t.Error("expected Partials to be closed")
	}
}

func TestSilenceAloneProducesNothing(t *testing.T) {
	eng := &fakeEngine{result: utterance{Text: "ghost"}}
	h, _ := newProvider(eng, WithSilenceThresholdMs(100)).StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	for range 5 {
		_ = h.SendAudio(silencePCM(1600))
	}
	_ = h.Close()
	if got := collectFinals(t, h); len(got) != 0 {
		t.Errorf("expected no transcript, got %+v", got)
	}
	if eng.callCount() != 0 {
		t.Errorf("engine called %d times for silence", eng.callCount())
	}
}

func TestSpeechThenSilenceEmitsFinal(t *testing.T) {
	eng := &fakeEngine{result: utterance{Text: "close issue twelve", Confidence: 0.83, Language: "en"}}
	h, _ := newProvider(eng, WithSilenceThresholdMs(100)).StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Language: "en-US"})

	_ = h.SendAudio(speechPCM(1600))  // 100 ms speech
	_ = h.SendAudio(silencePCM(1600)) // 100 ms silence ends the utterance

	select {
	case tr := <-h.Finals():
		if !tr.IsFinal || tr.Text != "close issue twelve" || tr.Confidence != 0.83 || tr.Language != "en" {
			t.Errorf("transcript = %+v", tr)
		}
		if len(tr.Alternatives) != 1 {
			t.Errorf("alternatives = %+v", tr.Alternatives)
		}
		if tr.Duration != 200*time.Millisecond {
			t.Errorf("duration = %v, want 200ms", tr.Duration)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for final")
	}
	_ = h.Close()

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.langs[0] != "en" {
		t.Errorf("language passed to engine = %q, want en", eng.langs[0])
	}
	if eng.calls[0] != 3200 {
		t.Errorf("samples = %d, want 3200", eng.calls[0])
	}
}

func TestStereo48kIsConvertedForModel(t *testing.T) {
	eng := &fakeEngine{result: utterance{Text: "ok"}}
	h, _ := newProvider(eng).StartStream(context.Background(), stt.StreamConfig{SampleRate: 48000, Channels: 2})
	// 100 ms of stereo 48 kHz: 4800 frames, 9600 samples.
	stereo := make([]byte, 0, 9600*2)
	mono := speechPCM(4800)
	for i := 0; i+1 < len(mono); i += 2 {
		stereo = append(stereo, mono[i], mono[i+1], mono[i], mono[i+1])
	}
	_ = h.SendAudio(stereo)
	_ = h.Close()
	collectFinals(t, h)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.calls) != 1 || eng.calls[0] != 1600 {
		t.Errorf("engine calls = %v, want one call with 1600 samples", eng.calls)
	}
}

func TestMaxBufferForcesFlush(t *testing.T) {
	eng := &fakeEngine{result: utterance{Text: "long"}}
	h, _ := newProvider(eng, WithMaxBufferDurationMs(200)).StartStream(context.Background(), stt.StreamConfig{})
	for range 4 {
		_ = h.SendAudio(speechPCM(1600))
	}
	_ = h.Close()
	if got := collectFinals(t, h); len(got) != 2 {
		t.Errorf("expected 2 forced flushes, got %d", len(got))
	}
}

func TestCloseFlushesBufferedSpeech(t *testing.T) {
	eng := &fakeEngine{result: utterance{Text: "tail"}}
	h, _ := newProvider(eng).StartStream(context.Background(), stt.StreamConfig{})
	_ = h.SendAudio(speechPCM(800))
	_ = h.Close()
	got := collectFinals(t, h)
	if len(got) != 1 || got[0].Text != "tail" {
		t.Errorf("finals = %+v, want the buffered tail", got)
	}
}

func TestInferenceErrorReportedByErr(t *testing.T) {
	boom := errors.New("gpu exploded")
	eng := &fakeEngine{err: boom}
	h, _ := newProvider(eng).StartStream(context.Background(), stt.StreamConfig{})
	_ = h.SendAudio(speechPCM(800))
	_ = h.Close()
	if got := collectFinals(t, h); len(got) != 0 {
		t.Errorf("unexpected finals %+v", got)
	}
	if !errors.Is(h.Err(), boom) {
		t.Errorf("Err() = %v, want %v", h.Err(), boom)
	}
}

func TestSendAudioAfterClose(t *testing.T) {
	h, _ := newProvider(&fakeEngine{}).StartStream(context.Background(), stt.StreamConfig{})
	_ = h.Close()
	_ = h.Close()
	if err := h.SendAudio([]byte{0, 0}); !errors.Is(err, stt.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
}

// TestNativeModel runs a real model when WHISPER_MODEL_PATH is set.
func TestNativeModel(t *testing.T) {
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	p, err := New(path, WithSilenceThresholdMs(100))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	_ = h.SendAudio(speechPCM(16000))
	_ = h.Close()
	for tr := range h.Finals() {
		t.Logf("transcribed %q (confidence %.2f)", tr.Text, tr.Confidence)
	}
}
