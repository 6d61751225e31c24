package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/tts"
)

type speechRequest struct {
	Input          string  `json:"input"`
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func newSpeechServer(t *testing.T, status int, body []byte) (*httptest.Server, func() []speechRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []speechRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		var req speechRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []speechRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]speechRequest(nil), reqs...)
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
	if p.Format() != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Errorf("Format = %+v", p.Format())
	}
}

func TestListVoices(t *testing.T) {
	p, _ := New("key", "")
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != len(builtinVoices) || voices[0].Provider != "openai" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestSynthesizeStream(t *testing.T) {
	pcm := make([]byte, readChunk*2+3)
	srv, requests := newSpeechServer(t, http.StatusOK, pcm)

	p, _ := New("key", "tts-1", WithBaseURL(srv.URL), WithMaxRetries(0))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 3)
	text <- "Saved offline."
	text <- " "
	text <- "Two commands pending."
	close(text)

	out, err := p.SynthesizeStream(ctx, text, tts.VoiceProfile{ID: "nova", SpeedFactor: 1.1})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	total := 0
	for chunk := range out {
		if len(chunk)%2 != 0 {
			t.Errorf("chunk of odd length %d", len(chunk))
		}
		total += len(chunk)
	}
	// Two requests, each with one trailing odd byte held back.
	if want := 2 * (len(pcm) - 1); total != want {
		t.Errorf("total PCM = %d, want %d", total, want)
	}

	reqs := requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests (blank fragment skipped), got %d", len(reqs))
	}
	r := reqs[0]
	if r.Input != "Saved offline." || r.Model != "tts-1" || r.Voice != "nova" || r.ResponseFormat != "pcm" || r.Speed != 1.1 {
		t.Errorf("request = %+v", r)
	}
}

func TestSynthesizeStream_APIErrorClosesStream(t *testing.T) {
	srv, _ := newSpeechServer(t, http.StatusUnauthorized, []byte(`{"error":{"message":"bad key"}}`))
	p, _ := New("key", "", WithBaseURL(srv.URL), WithMaxRetries(0))

	text := make(chan string, 2)
	text <- "hello"
	text <- "world"
	close(text)

	out, err := p.SynthesizeStream(context.Background(), text, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected no audio on API error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close")
	}
}
