// Command voicecmd is the voice command service: it listens for spoken
// commands, confirms uncertain ones, executes them against the remote
// command service and queues them while offline.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/MrWong99/voicecmd/internal/app"
	"github.com/MrWong99/voicecmd/internal/config"
	"github.com/MrWong99/voicecmd/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := cli.StringP("config", "c", "voicecmd.yaml", "path to the YAML configuration file")
	envFile := cli.StringP("env-file", "e", ".env", "env file loaded before the config is expanded")
	listen := cli.StringP("listen", "l", "", "override server.listen_addr")
	showVersion := cli.Bool("version", false, "print the version and exit")
	cli.Parse()

	if *showVersion {
		fmt.Println("voicecmd", version)
		return 0
	}

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voicecmd: load env file %q: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration (watched for hot reload) ───────────────────────────
	var current atomic.Pointer[app.App]
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if a := current.Load(); a != nil {
			a.Reload(old, new)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicecmd: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecmd: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voicecmd starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicecmd",
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, closeProviders, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLevelVar(level),
		app.WithMetrics(observe.DefaultMetrics()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	current.Store(application)

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	current.Store(nil)
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voicecmd, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", providerLabel(cfg.Providers.STT, len(cfg.Providers.STTFallbacks)))
	printRow("TTS", providerLabel(cfg.Providers.TTS, len(cfg.Providers.TTSFallbacks)))
	printRow("Language", cfg.Recognition.Language)
	printRow("Storage", string(cfg.Storage.Backend))
	printRow("Executor", cfg.Executor.BaseURL)
	printRow("Gate", fmt.Sprintf("%.2f / %.2f", cfg.Gate.Threshold, *cfg.Gate.MediumBand))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry, fallbacks int) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case fallbacks > 0:
		return fmt.Sprintf("%s +%d", e.Name, fallbacks)
	case e.Model != "":
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
