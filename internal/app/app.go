// Package app wires the voice command subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API and drives background work, and
// Shutdown tears everything down.
//
// For testing, inject doubles via functional options (WithExecutor,
// WithNetwork). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicecmd/internal/api"
	"github.com/MrWong99/voicecmd/internal/config"
	"github.com/MrWong99/voicecmd/internal/executor"
	"github.com/MrWong99/voicecmd/internal/health"
	"github.com/MrWong99/voicecmd/internal/network"
	"github.com/MrWong99/voicecmd/internal/observe"
	"github.com/MrWong99/voicecmd/internal/orchestrator"
	"github.com/MrWong99/voicecmd/internal/queue"
	"github.com/MrWong99/voicecmd/internal/recognition"
	"github.com/MrWong99/voicecmd/internal/resilience"
	"github.com/MrWong99/voicecmd/internal/speaker"
	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/stt"
	"github.com/MrWong99/voicecmd/pkg/provider/tts"
	"github.com/MrWong99/voicecmd/pkg/storage"
)

// shutdownGrace bounds the HTTP server drain when Run's context ends.
const shutdownGrace = 5 * time.Second

// Providers holds the externally built dependencies. Nil STT or Source
// disables voice input; nil TTS or Sink disables spoken feedback. Store is
// required. Populated by main.go via the config registry.
type Providers struct {
	STT     stt.Provider
	STTName string
	TTS     tts.Provider
	TTSName string
	Store   storage.Store
	Source  audio.Source
	Sink    audio.Sink

	// Breakers are the provider failover breakers, reported by /readyz.
	Breakers []*resilience.CircuitBreaker
}

// Executor is the remote command service.
type Executor interface {
	queue.Executor
	orchestrator.IntentParser
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	level     *slog.LevelVar
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	exec       Executor
	breaker    *resilience.CircuitBreaker
	network    *network.Monitor
	queue      *queue.Queue
	recognizer *recognition.Adapter
	speaker    *speaker.Speaker
	orch       *orchestrator.Orchestrator
	health     *health.Handler
	api        *api.Server

	// closers run last-in first-out during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithExecutor injects the remote executor instead of creating an HTTP client.
func WithExecutor(e Executor) Option {
	return func(a *App) { a.exec = e }
}

// WithNetwork injects the connectivity monitor.
func WithNetwork(m *network.Monitor) Option {
	return func(a *App) { a.network = m }
}

// WithLevelVar lets Reload change the log level of the caller's handler.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics sink for every subsystem.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On error, anything
// already created is released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.Store == nil {
		return nil, errors.New("app: a storage backend is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(slogLevel(cfg.Server.LogLevel))
	a.closers = append(a.closers, providers.Store.Close)
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	// ── 1. Executor ──────────────────────────────────────────────────────
	if err := a.initExecutor(); err != nil {
		return nil, fmt.Errorf("app: init executor: %w", err)
	}

	// ── 2. Network monitor ───────────────────────────────────────────────
	a.initNetwork()

	// ── 3. Command queue ─────────────────────────────────────────────────
	q, err := queue.New(providers.Store, a.exec, a.network,
		queue.WithMaxRetries(cfg.Queue.MaxRetries),
		queue.WithSyncInterval(cfg.Queue.SyncInterval),
		queue.WithStorageKey(cfg.Queue.StorageKey),
		queue.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init queue: %w", err)
	}
	a.queue = q

	// ── 4. Recognition ───────────────────────────────────────────────────
	if providers.STT != nil && providers.Source != nil {
		a.recognizer = recognition.NewAdapter(providers.STT, providers.Source,
			RecognitionConfig(cfg.Recognition),
			recognition.WithProviderName(providers.STTName),
			recognition.WithMetrics(a.metrics),
		)
	} else {
		slog.Info("voice input not configured, text input only")
	}

	// ── 5. Speaker ───────────────────────────────────────────────────────
	a.initSpeaker()

	// ── 6. Orchestrator ──────────────────────────────────────────────────
	if err := a.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}

	// ── 7. Health + API ──────────────────────────────────────────────────
	a.initHealth()
	srv, err := api.New(a.orch, a.queue, a.speaker,
		api.WithNetwork(a.network),
		api.WithHealth(a.health),
		api.WithMetrics(a.metrics),
		api.WithCommandContext(cfg.Executor.Context.CommandContext()),
		withRecognizer(a.recognizer),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init api: %w", err)
	}
	a.api = srv

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initExecutor() error {
	if a.exec != nil {
		return nil
	}
	ec := a.cfg.Executor
	client, err := executor.New(ec.BaseURL,
		executor.WithToken(ec.Token),
		executor.WithTimeout(ec.Timeout),
		executor.WithMetrics(a.metrics),
		executor.WithBreaker(resilience.CircuitBreakerConfig{
			Name:         "executor",
			MaxFailures:  ec.Breaker.MaxFailures,
			ResetTimeout: ec.Breaker.ResetTimeout,
		}),
	)
	if err != nil {
		return err
	}
	a.exec = client
	a.breaker = client.Breaker()
	return nil
}

func (a *App) initNetwork() {
	if a.network != nil {
		return
	}
	nc := a.cfg.Network
	var prober network.Prober
	if nc.Probe {
		prober = network.ProberFunc(a.exec.Ping)
	}
	a.network = network.NewMonitor(network.Config{
		Prober:        prober,
		Initial:       true,
		ProbeInterval: nc.ProbeInterval,
		ProbeTimeout:  nc.ProbeTimeout,
		MaxBackoff:    nc.MaxBackoff,
		Metrics:       a.metrics,
	})
}

func (a *App) initSpeaker() {
	sc := a.cfg.Speaker
	var synth speaker.Synthesizer
	switch {
	case sc.Enabled == nil || !*sc.Enabled:
		slog.Info("spoken feedback disabled")
	case a.providers.TTS == nil || a.providers.Sink == nil:
		slog.Warn("spoken feedback enabled but no tts provider or audio output is available")
	default:
		synth = speaker.NewTTSSynthesizer(a.providers.TTS, a.providers.Sink, tts.VoiceProfile{
			ID:          sc.VoiceID,
			Provider:    a.providers.TTSName,
			SpeedFactor: sc.SpeedFactor,
			PitchShift:  sc.PitchShift,
		})
	}
	a.speaker = speaker.New(synth,
		speaker.WithRate(sc.Rate),
		speaker.WithPitch(sc.Pitch),
		speaker.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, func() error {
		a.speaker.Close()
		return nil
	})
}

func (a *App) initOrchestrator() error {
	gc := a.cfg.Gate
	var rec orchestrator.Recognizer
	if a.recognizer != nil {
		rec = a.recognizer
	}
	orch, err := orchestrator.New(rec, a.queue, a.speaker,
		orchestrator.WithPolicy(Policy(gc)),
		orchestrator.WithParser(a.exec),
		orchestrator.WithCommandContext(a.cfg.Executor.Context.CommandContext()),
		orchestrator.WithClearDelay(gc.ClearDelay),
		orchestrator.WithPromptNext(gc.PromptNext),
		orchestrator.WithAudioLevel(a.cfg.Recognition.AudioLevel),
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.orch = orch
	a.closers = append(a.closers, func() error {
		orch.Close()
		return nil
	})
	return nil
}

func (a *App) initHealth() {
	checks := []health.Checker{
		health.StoreCheck(a.providers.Store),
		health.NetworkCheck(a.network.Online),
	}
	if a.breaker != nil {
		checks = append(checks, health.BreakerCheck(a.breaker))
	}
	for _, cb := range a.providers.Breakers {
		checks = append(checks, health.BreakerCheck(cb))
	}
	a.health = health.New(checks...)
}

func withRecognizer(r *recognition.Adapter) api.Option {
	if r == nil {
		return func(*api.Server) {}
	}
	return api.WithRecognizer(r)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the control API handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Orchestrator returns the voice command orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Queue returns the command queue.
func (a *App) Queue() *queue.Queue { return a.queue }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API on cfg.Server.ListenAddr, probes the network
// and synchronises the queue until ctx is cancelled. It returns ctx.Err()
// after a clean stop, or the first fatal error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. The listener is closed on return.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.network.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.queue.Run(gctx, a.network.Changes(gctx))
		return nil
	})

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"voice", a.recognizer != nil,
		"speech", a.speaker.Available(),
		"queued", a.queue.Len(),
	)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new. Changes
// that need a restart are logged and otherwise ignored.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.GateChanged {
		if err := a.orch.SetPolicy(Policy(new.Gate)); err != nil {
			slog.Warn("gate policy not applied", "err", err)
		} else {
			slog.Info("gate policy updated", "threshold", new.Gate.Threshold)
		}
	}
	if d.RecognitionChanged && a.recognizer != nil {
		rc := new.Recognition
		a.recognizer.UpdateConfig(recognition.ConfigUpdate{
			Language:            &rc.Language,
			Continuous:          &rc.Continuous,
			InterimResults:      rc.InterimResults,
			MaxAlternatives:     &rc.MaxAlternatives,
			ConfidenceThreshold: &rc.ConfidenceThreshold,
		})
		slog.Info("recognition settings updated", "language", rc.Language)
	}
	if d.SpeakerChanged {
		a.speaker.SetVoice(new.Speaker.Rate, new.Speaker.Pitch)
	}
	if d.QueueChanged {
		a.queue.SetMaxRetries(new.Queue.MaxRetries)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	a.cfg = new
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems. It is safe to call more than once; only
// the first call does anything.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				errs = append(errs, ctx.Err())
				return
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// ─── Config conversion ───────────────────────────────────────────────────────

// RecognitionConfig converts the YAML recognition section.
func RecognitionConfig(rc config.RecognitionConfig) recognition.Config {
	out := recognition.Config{
		Language:            rc.Language,
		Continuous:          rc.Continuous,
		InterimResults:      rc.InterimResults == nil || *rc.InterimResults,
		MaxAlternatives:     rc.MaxAlternatives,
		ConfidenceThreshold: rc.ConfidenceThreshold,
		NoSpeechTimeout:     rc.NoSpeechTimeout,
		SampleRate:          rc.SampleRate,
	}
	for _, k := range rc.Keywords {
		out.Keywords = append(out.Keywords, stt.KeywordBoost{Keyword: k, Boost: 1})
	}
	return out
}

// Policy converts the YAML gate section.
func Policy(gc config.GateConfig) orchestrator.Policy {
	p := orchestrator.DefaultPolicy()
	if gc.Threshold > 0 {
		p.Threshold = gc.Threshold
	}
	if gc.MediumBand != nil {
		p.MediumBand = *gc.MediumBand
	}
	if gc.AutoExecute != nil {
		p.AutoExecute = *gc.AutoExecute
	}
	return p
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
