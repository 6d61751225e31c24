package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicecmd/pkg/provider/tts/mock"
)

func textOf(frags ...string) <-chan string {
	ch := make(chan string, len(frags))
	for _, f := range frags {
		ch <- f
	}
	close(ch)
	return ch
}

func collect(ch <-chan []byte) [][]byte {
	var out [][]byte
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0}, {2, 0}}}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{{9, 9}}}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	out, err := fb.SynthesizeStream(context.Background(), textOf("Done."), tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks := collect(out); len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if calls := primary.Calls(); len(calls) != 1 || len(calls[0].Text) != 1 || calls[0].Text[0] != "Done." {
		t.Errorf("primary calls = %+v", calls)
	}
	if len(secondary.Calls()) != 0 {
		t.Errorf("secondary should not be called")
	}
}

func TestTTSFallback_FailoverConvertsFormat(t *testing.T) {
	primary := &ttsmock.Provider{
		SynthesizeErr: errors.New("primary down"),
		AudioFormat:   audio.Format{SampleRate: 16000, Channels: 1},
	}
	// 4 mono samples at 32 kHz become 2 samples at 16 kHz.
	secondary := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{{1, 0, 1, 0, 1, 0, 1, 0}},
		AudioFormat:      audio.Format{SampleRate: 32000, Channels: 1},
	}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	if fb.Format() != primary.Format() {
		t.Fatalf("Format() = %+v, want primary format", fb.Format())
	}
	out, err := fb.SynthesizeStream(context.Background(), textOf("hello"), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := collect(out)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if len(chunks[0]) != 4 {
		t.Errorf("converted chunk = %d bytes, want 4", len(chunks[0]))
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	_, err := fb.SynthesizeStream(context.Background(), textOf(), tts.VoiceProfile{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_ListVoicesFailover(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "alloy", Name: "Alloy"}}}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "alloy" {
		t.Errorf("voices = %+v", voices)
	}
}
