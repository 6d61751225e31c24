package speaker

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voicecmd/pkg/audio"
	audiomock "github.com/MrWong99/voicecmd/pkg/audio/mock"
	"github.com/MrWong99/voicecmd/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicecmd/pkg/provider/tts/mock"
)

func TestTTSSynthesizer_StreamsToSink(t *testing.T) {
	format := audio.Format{SampleRate: 24000, Channels: 1}
	provider := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{{1, 2}, {3, 4}, {5, 6}},
		AudioFormat:      format,
	}
	sink := &audiomock.Sink{}
	synth := NewTTSSynthesizer(provider, sink, tts.VoiceProfile{ID: "alloy"})

	err := synth.Speak(context.Background(), Utterance{Text: "Priority set to high", Rate: 1, Pitch: 1})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if got := sink.BytesWritten(); got != 6 {
		t.Errorf("bytes written = %d, want 6", got)
	}
	for _, w := range sink.Writes {
		if w.Format != format {
			t.Errorf("write format = %+v, want %+v", w.Format, format)
		}
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("synthesize calls = %d, want 1", len(calls))
	}
	if len(calls[0].Text) != 1 || calls[0].Text[0] != "Priority set to high" {
		t.Errorf("text = %v", calls[0].Text)
	}
	if calls[0].Voice.ID != "alloy" {
		t.Errorf("voice = %+v", calls[0].Voice)
	}
}

func TestTTSSynthesizer_VoiceFor(t *testing.T) {
	tests := []struct {
		name      string
		base      tts.VoiceProfile
		u         Utterance
		wantSpeed float64
		wantPitch float64
	}{
		{name: "neutral", u: Utterance{Rate: 1, Pitch: 1}, wantSpeed: 1, wantPitch: 0},
		{name: "success", u: Utterance{Rate: 1.1, Pitch: 1.1}, wantSpeed: 1.1, wantPitch: 2},
		{name: "error", u: Utterance{Rate: 0.9, Pitch: 0.9}, wantSpeed: 0.9, wantPitch: -2},
		{name: "base voice scaled", base: tts.VoiceProfile{SpeedFactor: 1.5, PitchShift: 3}, u: Utterance{Rate: 1.1, Pitch: 1.05}, wantSpeed: 1.65, wantPitch: 4},
		{name: "speed clamped", base: tts.VoiceProfile{SpeedFactor: 1.9}, u: Utterance{Rate: 1.5, Pitch: 1}, wantSpeed: 2, wantPitch: 0},
		{name: "pitch clamped", base: tts.VoiceProfile{PitchShift: -9}, u: Utterance{Rate: 1, Pitch: 0.5}, wantSpeed: 1, wantPitch: -10},
		{name: "zero values keep defaults", base: tts.VoiceProfile{PitchShift: 2}, u: Utterance{}, wantSpeed: 1, wantPitch: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := NewTTSSynthesizer(&ttsmock.Provider{}, &audiomock.Sink{}, tt.base)
			v := synth.VoiceFor(tt.u)
			if math.Abs(v.SpeedFactor-tt.wantSpeed) > 1e-9 {
				t.Errorf("SpeedFactor = %v, want %v", v.SpeedFactor, tt.wantSpeed)
			}
			if math.Abs(v.PitchShift-tt.wantPitch) > 1e-9 {
				t.Errorf("PitchShift = %v, want %v", v.PitchShift, tt.wantPitch)
			}
		})
	}
}

func TestTTSSynthesizer_SynthesizeError(t *testing.T) {
	boom := errors.New("quota exceeded")
	synth := NewTTSSynthesizer(&ttsmock.Provider{SynthesizeErr: boom}, &audiomock.Sink{}, tts.VoiceProfile{})
	if err := synth.Speak(context.Background(), Utterance{Text: "x"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestTTSSynthesizer_SinkError(t *testing.T) {
	boom := errors.New("device busy")
	provider := &ttsmock.Provider{SynthesizeChunks: [][]byte{{0, 0}}}
	synth := NewTTSSynthesizer(provider, &audiomock.Sink{WriteErr: boom}, tts.VoiceProfile{})
	if err := synth.Speak(context.Background(), Utterance{Text: "x"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestTTSSynthesizer_CancelStopsPlayback(t *testing.T) {
	provider := &ttsmock.Provider{SynthesizeChunks: [][]byte{{0, 0}, {0, 0}}}
	sink := &audiomock.Sink{Block: make(chan struct{})}
	synth := NewTTSSynthesizer(provider, sink, tts.VoiceProfile{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- synth.Speak(ctx, Utterance{Text: "interrupted"}) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after cancel")
	}
	if sink.BytesWritten() != 0 {
		t.Error("audio written after cancel")
	}
}

func TestTTSSynthesizer_PauseGatesWrites(t *testing.T) {
	provider := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 1}, {2, 2}}}
	sink := &audiomock.Sink{}
	synth := NewTTSSynthesizer(provider, sink, tts.VoiceProfile{})

	if err := synth.Pause(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- synth.Speak(context.Background(), Utterance{Text: "held"}) }()

	time.Sleep(20 * time.Millisecond)
	if n := sink.BytesWritten(); n != 0 {
		t.Fatalf("wrote %d bytes while paused", n)
	}

	if err := synth.Resume(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Speak: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not finish after resume")
	}
	if n := sink.BytesWritten(); n != 4 {
		t.Errorf("bytes written = %d, want 4", n)
	}
}

func TestTTSSynthesizer_WithSpeaker(t *testing.T) {
	provider := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2, 3, 4}}}
	sink := &audiomock.Sink{}
	s := New(NewTTSSynthesizer(provider, sink, tts.VoiceProfile{ID: "v"}))
	defer s.Close()

	ended := make(chan struct{})
	s.Subscribe(func(e Event) {
		if e.Type == EventEnd {
			close(ended)
		}
	})
	s.SpeakCommandResult(true, "Issue closed")

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("utterance never ended")
	}
	calls := provider.Calls()
	if len(calls) != 1 || math.Abs(calls[0].Voice.SpeedFactor-1.1) > 1e-9 {
		t.Errorf("calls = %+v, want one call at speed 1.1", calls)
	}
	if sink.BytesWritten() != 4 {
		t.Errorf("bytes written = %d, want 4", sink.BytesWritten())
	}
}
