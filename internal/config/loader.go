package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicecmd/internal/recognition"
)

// ValidProviderNames lists the built-in provider names per kind. Unknown
// names only produce a warning so third-party factories can be registered.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "google", "whisper-native"},
	"tts": {"elevenlabs", "openai"},
}

// Load reads, expands and validates the YAML file at path. ${VAR} references
// are replaced from the environment before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r with unknown fields rejected, applies
// defaults and validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		add("server.trace_sample_ratio %v must be within [0, 1]", r)
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			add("providers.stt_fallbacks[%d].name is required", i)
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			add("providers.tts_fallbacks[%d].name is required", i)
		}
		validateProviderName("tts", fb.Name)
	}
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		add("providers.stt_fallbacks requires providers.stt")
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		add("providers.tts_fallbacks requires providers.tts")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; voice input is disabled and commands must be typed")
	}

	rc := cfg.Recognition
	if rc.Language != "" && !recognition.IsLanguageSupported(rc.Language) {
		add("recognition.language %q is not supported", rc.Language)
	}
	if rc.MaxAlternatives < 0 {
		add("recognition.max_alternatives must not be negative")
	}
	if !inRange(rc.ConfidenceThreshold, 0, 1) {
		add("recognition.confidence_threshold %.2f is out of range [0, 1]", rc.ConfidenceThreshold)
	}
	if rc.NoSpeechTimeout < 0 {
		add("recognition.no_speech_timeout must not be negative")
	}
	if rc.SampleRate < 0 {
		add("recognition.sample_rate must not be negative")
	}

	g := cfg.Gate
	if g.Threshold != 0 && !(g.Threshold > 0 && g.Threshold <= 1) {
		add("gate.threshold %.2f is out of range (0, 1]", g.Threshold)
	}
	if g.MediumBand != nil && !inRange(*g.MediumBand, 0, g.Threshold) {
		add("gate.medium_band %.2f must be in [0, gate.threshold]", *g.MediumBand)
	}
	if g.ClearDelay < 0 {
		add("gate.clear_delay must not be negative")
	}

	if cfg.Queue.MaxRetries < 0 {
		add("queue.max_retries must not be negative")
	}
	if cfg.Queue.SyncInterval < 0 {
		add("queue.sync_interval must not be negative")
	}

	switch st := cfg.Storage; {
	case st.Backend != "" && !st.Backend.IsValid():
		add("storage.backend %q is invalid; valid values: file, sqlite, postgres", st.Backend)
	case st.Backend == "postgres" && st.DSN == "":
		add("storage.dsn is required for the postgres backend")
	}

	if cfg.Executor.BaseURL == "" {
		add("executor.base_url is required")
	}
	if cfg.Executor.Timeout < 0 {
		add("executor.timeout must not be negative")
	}

	sp := cfg.Speaker
	if sp.Rate != 0 && !inRange(sp.Rate, 0.5, 2) {
		add("speaker.rate %.2f is out of range [0.5, 2.0]", sp.Rate)
	}
	if sp.Pitch != 0 && !inRange(sp.Pitch, 0.5, 2) {
		add("speaker.pitch %.2f is out of range [0.5, 2.0]", sp.Pitch)
	}
	if sp.SpeedFactor != 0 && !inRange(sp.SpeedFactor, 0.5, 2) {
		add("speaker.speed_factor %.2f is out of range [0.5, 2.0]", sp.SpeedFactor)
	}
	if !inRange(sp.PitchShift, -10, 10) {
		add("speaker.pitch_shift %.2f is out of range [-10, 10]", sp.PitchShift)
	}
	if sp.Enabled != nil && *sp.Enabled && cfg.Providers.TTS.Name == "" {
		add("speaker.enabled requires providers.tts")
	}

	if cfg.Audio.Input != "" && !cfg.Audio.Input.IsValid() {
		add("audio.input %q is invalid; valid values: portaudio, none", cfg.Audio.Input)
	}
	if cfg.Audio.Output != "" && !cfg.Audio.Output.IsValid() {
		add("audio.output %q is invalid; valid values: portaudio, none", cfg.Audio.Output)
	}
	if cfg.Audio.FrameMs < 0 {
		add("audio.frame_ms must not be negative")
	}

	return errors.Join(errs...)
}

func inRange(v, lo, hi float64) bool { return v >= lo && v <= hi }

// validateProviderName warns about names missing from [ValidProviderNames].
func validateProviderName(kind, name string) {
	if name == "" || slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
