package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voicecmd/internal/app"
	"github.com/MrWong99/voicecmd/internal/config"
	"github.com/MrWong99/voicecmd/internal/network"
	"github.com/MrWong99/voicecmd/internal/observe"
	"github.com/MrWong99/voicecmd/internal/orchestrator"
	audiomock "github.com/MrWong99/voicecmd/pkg/audio/mock"
	sttmock "github.com/MrWong99/voicecmd/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voicecmd/pkg/provider/tts/mock"
	storagemock "github.com/MrWong99/voicecmd/pkg/storage/mock"
	"github.com/MrWong99/voicecmd/pkg/types"
)

const baseYAML = `
server:
  listen_addr: "127.0.0.1:0"
executor:
  base_url: http://executor.invalid
`

type fakeExecutor struct {
	mu    sync.Mutex
	calls []types.ExecutionRequest
}

func (f *fakeExecutor) Execute(_ context.Context, req types.ExecutionRequest) (*types.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return &types.ExecutionResult{Success: true, Message: "Done."}, nil
}

func (f *fakeExecutor) Parse(context.Context, string, types.CommandContext) (*types.Intent, error) {
	return &types.Intent{Action: "noop"}, nil
}

func (f *fakeExecutor) Ping(context.Context) error { return nil }

func (f *fakeExecutor) Calls() []types.ExecutionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ExecutionRequest(nil), f.calls...)
}

func loadConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(baseYAML + extra))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) (*app.App, *fakeExecutor) {
	t.Helper()
	exec := &fakeExecutor{}
	opts = append([]app.Option{
		app.WithExecutor(exec),
		app.WithNetwork(network.NewMonitor(network.Config{Initial: true})),
	}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, exec
}

func TestNew_RequiresStore(t *testing.T) {
	t.Parallel()
	cfg := loadConfig(t, "")
	if _, err := app.New(context.Background(), cfg, &app.Providers{}); err == nil {
		t.Fatal("New without store succeeded")
	}
	if _, err := app.New(context.Background(), nil, &app.Providers{Store: &storagemock.Store{}}); err == nil {
		t.Fatal("New without config succeeded")
	}
}

func TestNew_TextOnly(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, loadConfig(t, ""), &app.Providers{Store: &storagemock.Store{}})

	st := a.Orchestrator().State()
	if st.Phase != orchestrator.PhaseTextInput {
		t.Errorf("phase = %q, want text-input without stt", st.Phase)
	}
}

func TestNew_WithVoice(t *testing.T) {
	t.Parallel()
	providers := &app.Providers{
		Store:   &storagemock.Store{},
		STT:     &sttmock.Provider{Session: sttmock.NewSession()},
		STTName: "mock",
		Source:  &audiomock.Source{Stream: audiomock.NewStream(4)},
		TTS:     &ttsmock.Provider{},
		TTSName: "mock",
		Sink:    &audiomock.Sink{},
	}
	a, _ := newApp(t, loadConfig(t, "providers:\n  tts:\n    name: openai\n"), providers)

	if st := a.Orchestrator().State(); st.Phase != orchestrator.PhaseIdle || st.VoiceDisabled {
		t.Errorf("state = %+v, want idle with voice", st)
	}
}

func TestHandler_ServesAPI(t *testing.T) {
	t.Parallel()
	a, exec := newApp(t, loadConfig(t, ""), &app.Providers{Store: &storagemock.Store{}})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/commands/execute", "application/json", strings.NewReader(`{"text":"assign to me"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d", resp.StatusCode)
	}
	if calls := exec.Calls(); len(calls) != 1 || calls[0].Command != "assign to me" {
		t.Errorf("executor calls = %+v", calls)
	}

	ready, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer ready.Body.Close()
	var report struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(ready.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if ready.StatusCode != http.StatusOK || report.Status != "ok" {
		t.Errorf("readyz = %d %q", ready.StatusCode, report.Status)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, loadConfig(t, ""), &app.Providers{Store: &storagemock.Store{}})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestReload(t *testing.T) {
	t.Parallel()
	level := new(slog.LevelVar)
	old := loadConfig(t, "")
	a, _ := newApp(t, old, &app.Providers{Store: &storagemock.Store{}}, app.WithLevelVar(level))

	if level.Level() != slog.LevelInfo {
		t.Fatalf("initial level = %v", level.Level())
	}

	updated := loadConfig(t, "gate:\n  threshold: 0.9\n  auto_execute: false\n")
	updated.Server.LogLevel = config.LogDebug
	a.Reload(old, updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if p := a.Orchestrator().Policy(); p.Threshold != 0.9 || p.AutoExecute {
		t.Errorf("policy = %+v", p)
	}
}

func TestExecutorBreaker_TransitionCountedOnce(t *testing.T) {
	t.Parallel()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	cfg := loadConfig(t, "")
	cfg.Executor.BaseURL = down.URL
	cfg.Executor.Breaker.MaxFailures = 1
	a, err := app.New(context.Background(), cfg, &app.Providers{Store: &storagemock.Store{}},
		app.WithNetwork(network.NewMonitor(network.Config{Initial: true})),
		app.WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	got, err := a.Orchestrator().ExecuteCommand(context.Background(), "close issue 1", types.CommandContext{})
	if err != nil {
		t.Fatal(err)
	}
	if got != orchestrator.ResultQueued {
		t.Fatalf("result = %s, want queued after a 503", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var opened int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "voicecmd.breaker.transitions" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				if state, _ := dp.Attributes.Value("state"); state.AsString() == "open" {
					opened += dp.Value
				}
			}
		}
	}
	if opened != 1 {
		t.Errorf("open transitions = %d, want 1", opened)
	}
}

func TestShutdown_ClosesStoreOnce(t *testing.T) {
	t.Parallel()
	store := &storagemock.Store{}
	a, err := app.New(context.Background(), loadConfig(t, ""), &app.Providers{Store: store},
		app.WithExecutor(&fakeExecutor{}),
		app.WithNetwork(network.Static()),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !store.Closed {
		t.Error("store not closed")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestConversions(t *testing.T) {
	t.Parallel()
	cfg := loadConfig(t, "recognition:\n  keywords: [sprint]\n  interim_results: false\ngate:\n  medium_band: 0\n")

	rc := app.RecognitionConfig(cfg.Recognition)
	if rc.InterimResults || len(rc.Keywords) != 1 || rc.Keywords[0].Keyword != "sprint" {
		t.Errorf("recognition config = %+v", rc)
	}
	if p := app.Policy(cfg.Gate); p.MediumBand != 0 || p.Threshold != 0.7 || !p.AutoExecute {
		t.Errorf("policy = %+v", p)
	}
}
