package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/voicecmd/internal/app"
	"github.com/MrWong99/voicecmd/internal/config"
	"github.com/MrWong99/voicecmd/internal/resilience"
	"github.com/MrWong99/voicecmd/pkg/audio/portaudio"
	"github.com/MrWong99/voicecmd/pkg/provider/stt"
	"github.com/MrWong99/voicecmd/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voicecmd/pkg/provider/stt/google"
	"github.com/MrWong99/voicecmd/pkg/provider/stt/whisper"
	"github.com/MrWong99/voicecmd/pkg/provider/tts"
	"github.com/MrWong99/voicecmd/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/voicecmd/pkg/provider/tts/openai"
	"github.com/MrWong99/voicecmd/pkg/storage"
	"github.com/MrWong99/voicecmd/pkg/storage/file"
	"github.com/MrWong99/voicecmd/pkg/storage/postgres"
	"github.com/MrWong99/voicecmd/pkg/storage/sqlite"
)

// ── Provider registration ─────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(_ context.Context, entry config.ProviderEntry, rc config.RecognitionConfig) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithLanguage(rc.Language),
			deepgram.WithSampleRate(rc.SampleRate),
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("google", func(ctx context.Context, entry config.ProviderEntry, rc config.RecognitionConfig) (stt.Provider, error) {
		opts := []google.Option{google.WithLanguage(rc.Language)}
		if entry.Model != "" {
			opts = append(opts, google.WithModel(entry.Model))
		}
		if path := entry.OptionString("credentials_file"); path != "" {
			opts = append(opts, google.WithCredentialsFile(path))
		}
		return google.New(ctx, opts...)
	})

	reg.RegisterSTT("whisper-native", func(_ context.Context, entry config.ProviderEntry, rc config.RecognitionConfig) (stt.Provider, error) {
		modelPath := entry.OptionString("model_path")
		if modelPath == "" {
			modelPath = entry.Model
		}
		// whisper takes the bare language subtag.
		lang, _, _ := strings.Cut(rc.Language, "-")
		opts := []whisper.Option{whisper.WithLanguage(strings.ToLower(lang))}
		if ms := entry.OptionInt("silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		if ms := entry.OptionInt("max_buffer_ms"); ms > 0 {
			opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
		}
		if rms := entry.OptionFloat("rms_threshold"); rms > 0 {
			opts = append(opts, whisper.WithRMSThreshold(rms))
		}
		return whisper.New(modelPath, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.OptionString("output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterStorage(storage.BackendFile, func(_ context.Context, sc config.StorageConfig) (storage.Store, error) {
		return file.New(sc.Path)
	})
	reg.RegisterStorage(storage.BackendSQLite, func(_ context.Context, sc config.StorageConfig) (storage.Store, error) {
		return sqlite.New(sc.Path)
	})
	reg.RegisterStorage(storage.BackendPostgres, func(ctx context.Context, sc config.StorageConfig) (storage.Store, error) {
		return postgres.Connect(ctx, sc.DSN)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Provider instantiation ────────────────────────────────────────────────────

// buildProviders creates every configured provider. The returned cleanup
// releases providers and audio devices; the store is owned by the app.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (_ *app.Providers, cleanup func(), err error) {
	var closers []func() error
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
	defer func() {
		if err != nil {
			cleanup()
		}
	}()
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}

	p := &app.Providers{}

	// Audio devices.
	if cfg.Audio.Input == config.AudioPortAudio || cfg.Audio.Output == config.AudioPortAudio {
		if err := portaudio.Init(); err != nil {
			return nil, nil, fmt.Errorf("init portaudio: %w", err)
		}
		closers = append(closers, portaudio.Terminate)
	}
	if cfg.Audio.Input == config.AudioPortAudio {
		p.Source = portaudio.NewMicrophone(portaudio.WithFrameMs(cfg.Audio.FrameMs))
	}
	if cfg.Audio.Output == config.AudioPortAudio {
		spk := portaudio.NewSpeaker()
		p.Sink = spk
		closers = append(closers, spk.Close)
	}

	// Speech-to-text with failover.
	if entry := cfg.Providers.STT; entry.Name != "" {
		primary, err := reg.CreateSTT(ctx, entry, cfg.Recognition)
		if err != nil {
			return nil, nil, fmt.Errorf("stt %q: %w", entry.Name, err)
		}
		track(primary)
		p.STT, p.STTName = primary, entry.Name
		if len(cfg.Providers.STTFallbacks) > 0 {
			fb := resilience.NewSTTFallback(primary, entry.Name, resilience.FallbackConfig{})
			for _, fe := range cfg.Providers.STTFallbacks {
				alt, err := reg.CreateSTT(ctx, fe, cfg.Recognition)
				if err != nil {
					slog.Warn("skipping stt fallback", "name", fe.Name, "err", err)
					continue
				}
				track(alt)
				fb.AddFallback(fe.Name, alt)
			}
			p.STT = fb
			p.Breakers = append(p.Breakers, fb.Breakers()...)
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "fallbacks", len(cfg.Providers.STTFallbacks))
	}

	// Text-to-speech with failover.
	if entry := cfg.Providers.TTS; entry.Name != "" {
		primary, err := reg.CreateTTS(ctx, entry)
		if err != nil {
			return nil, nil, fmt.Errorf("tts %q: %w", entry.Name, err)
		}
		track(primary)
		p.TTS, p.TTSName = primary, entry.Name
		if len(cfg.Providers.TTSFallbacks) > 0 {
			fb := resilience.NewTTSFallback(primary, entry.Name, resilience.FallbackConfig{})
			for _, fe := range cfg.Providers.TTSFallbacks {
				alt, err := reg.CreateTTS(ctx, fe)
				if err != nil {
					slog.Warn("skipping tts fallback", "name", fe.Name, "err", err)
					continue
				}
				track(alt)
				fb.AddFallback(fe.Name, alt)
			}
			p.TTS = fb
			p.Breakers = append(p.Breakers, fb.Breakers()...)
		}
		slog.Info("provider created", "kind", "tts", "name", entry.Name, "fallbacks", len(cfg.Providers.TTSFallbacks))
	}

	// Durable storage.
	store, err := reg.CreateStorage(ctx, cfg.Storage)
	if err != nil {
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("storage %q: %w", cfg.Storage.Backend, err)
	}
	p.Store = store
	slog.Info("storage opened", "backend", cfg.Storage.Backend)

	return p, cleanup, nil
}
