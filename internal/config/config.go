// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher for the voicecmd service.
package config

import (
	"time"

	"github.com/MrWong99/voicecmd/pkg/storage"
	"github.com/MrWong99/voicecmd/pkg/types"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration. Load it with [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Gate        GateConfig        `yaml:"gate"`
	Queue       QueueConfig       `yaml:"queue"`
	Storage     StorageConfig     `yaml:"storage"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Network     NetworkConfig     `yaml:"network"`
	Speaker     SpeakerConfig     `yaml:"speaker"`
	Audio       AudioConfig       `yaml:"audio"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// TraceSampleRatio is the fraction of request traces recorded.
	// Default: 1.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the speech providers. Fallbacks are tried in order
// when the primary fails or its circuit breaker is open.
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the configuration block shared by all providers. Name
// selects the factory in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] if it is a string.
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionInt returns Options[key] if it is a whole number.
func (e ProviderEntry) OptionInt(key string) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// OptionFloat returns Options[key] if it is numeric.
func (e ProviderEntry) OptionFloat(key string) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// RecognitionConfig configures the recognition adapter.
type RecognitionConfig struct {
	// Language is a BCP-47 tag. Default: en-US.
	Language string `yaml:"language"`

	// Continuous keeps the session open after the first final result.
	Continuous bool `yaml:"continuous"`

	// InterimResults enables partial hypotheses. Default: true.
	InterimResults *bool `yaml:"interim_results"`

	// MaxAlternatives caps the alternatives per result. Default: 3.
	MaxAlternatives int `yaml:"max_alternatives"`

	// ConfidenceThreshold is the adapter's acceptance threshold. Default: 0.7.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// NoSpeechTimeout ends a silent session. Default: 8s.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// SampleRate of the captured audio. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Keywords are boosted phrases such as project names.
	Keywords []string `yaml:"keywords"`

	// AudioLevel enables input level metering.
	AudioLevel bool `yaml:"audio_level"`
}

// GateConfig configures the confidence gate.
type GateConfig struct {
	// Threshold is the lower bound of the high band. Default: 0.7.
	Threshold float64 `yaml:"threshold"`

	// MediumBand is the width of the medium band below Threshold.
	// Default: 0.2.
	MediumBand *float64 `yaml:"medium_band"`

	// AutoExecute runs high-band commands without confirmation.
	// Default: true.
	AutoExecute *bool `yaml:"auto_execute"`

	// ClearDelay is how long an executed transcript stays visible.
	// Default: 2s.
	ClearDelay time.Duration `yaml:"clear_delay"`

	// PromptNext asks for the next command after a success.
	PromptNext bool `yaml:"prompt_next"`
}

// QueueConfig configures the offline command queue.
type QueueConfig struct {
	// MaxRetries before a command is marked failed. Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// SyncInterval between background sync passes. Default: 30s.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// StorageKey is the key of the persisted snapshot.
	// Default: voicecmd.queue.
	StorageKey string `yaml:"storage_key"`
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	// Backend is file, sqlite or postgres. Default: file.
	Backend storage.Backend `yaml:"backend"`

	// Path is the directory (file) or database file (sqlite).
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// ExecutorConfig configures the remote command executor.
type ExecutorConfig struct {
	// BaseURL of the executor API. Required.
	BaseURL string `yaml:"base_url"`

	// Token is sent as a bearer token.
	Token string `yaml:"token"`

	// Timeout bounds a single request. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Breaker tunes the circuit breaker around the executor.
	Breaker BreakerConfig `yaml:"breaker"`

	// Context is attached to every command.
	Context ContextConfig `yaml:"context"`
}

// BreakerConfig tunes a circuit breaker. Zero values use the breaker's
// defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ContextConfig is the default [types.CommandContext].
type ContextConfig struct {
	IssueID   string `yaml:"issue_id"`
	ProjectID string `yaml:"project_id"`
	UserID    string `yaml:"user_id"`
}

// CommandContext converts c.
func (c ContextConfig) CommandContext() types.CommandContext {
	return types.CommandContext{IssueID: c.IssueID, ProjectID: c.ProjectID, UserID: c.UserID}
}

// NetworkConfig configures the availability monitor.
type NetworkConfig struct {
	// Probe pings the executor to detect connectivity. When false the
	// service assumes it is online until told otherwise through the API.
	Probe bool `yaml:"probe"`

	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
}

// SpeakerConfig configures spoken feedback.
type SpeakerConfig struct {
	// Enabled turns spoken feedback on. Default: true when a TTS provider
	// is configured.
	Enabled *bool `yaml:"enabled"`

	// VoiceID is the provider-specific voice.
	VoiceID string `yaml:"voice_id"`

	// Rate and Pitch are base multipliers in [0.5, 2]. Default: 1.
	Rate  float64 `yaml:"rate"`
	Pitch float64 `yaml:"pitch"`

	// SpeedFactor and PitchShift tune the voice profile itself.
	SpeedFactor float64 `yaml:"speed_factor"`
	PitchShift  float64 `yaml:"pitch_shift"`
}

// AudioDevice names an audio backend.
type AudioDevice string

const (
	AudioPortAudio AudioDevice = "portaudio"
	AudioNone      AudioDevice = "none"
)

// IsValid reports whether d is a recognised device.
func (d AudioDevice) IsValid() bool {
	return d == AudioPortAudio || d == AudioNone
}

// AudioConfig selects the capture and playback devices.
type AudioConfig struct {
	// Input is the microphone backend. Default: portaudio.
	Input AudioDevice `yaml:"input"`

	// Output is the playback backend. Default: portaudio.
	Output AudioDevice `yaml:"output"`

	// FrameMs is the capture frame length. Default: 20.
	FrameMs int `yaml:"frame_ms"`
}

// ─── Defaults ───

// Defaults used by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultStoragePath     = "data"
	DefaultExecutorTimeout = 10 * time.Second
)

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	r := &cfg.Recognition
	if r.Language == "" {
		r.Language = "en-US"
	}
	if r.InterimResults == nil {
		r.InterimResults = ptr(true)
	}
	if r.MaxAlternatives == 0 {
		r.MaxAlternatives = 3
	}
	if r.ConfidenceThreshold == 0 {
		r.ConfidenceThreshold = 0.7
	}
	if r.NoSpeechTimeout == 0 {
		r.NoSpeechTimeout = 8 * time.Second
	}
	if r.SampleRate == 0 {
		r.SampleRate = 16000
	}

	g := &cfg.Gate
	if g.Threshold == 0 {
		g.Threshold = 0.7
	}
	if g.MediumBand == nil {
		g.MediumBand = ptr(0.2)
	}
	if g.AutoExecute == nil {
		g.AutoExecute = ptr(true)
	}
	if g.ClearDelay == 0 {
		g.ClearDelay = 2 * time.Second
	}

	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.SyncInterval == 0 {
		cfg.Queue.SyncInterval = 30 * time.Second
	}
	if cfg.Queue.StorageKey == "" {
		cfg.Queue.StorageKey = "voicecmd.queue"
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.BackendFile
	}
	if cfg.Storage.Path == "" && cfg.Storage.Backend != storage.BackendPostgres {
		cfg.Storage.Path = DefaultStoragePath
		if cfg.Storage.Backend == storage.BackendSQLite {
			cfg.Storage.Path = "voicecmd.db"
		}
	}

	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = DefaultExecutorTimeout
	}

	if cfg.Speaker.Enabled == nil {
		cfg.Speaker.Enabled = ptr(cfg.Providers.TTS.Name != "")
	}
	if cfg.Speaker.Rate == 0 {
		cfg.Speaker.Rate = 1
	}
	if cfg.Speaker.Pitch == 0 {
		cfg.Speaker.Pitch = 1
	}

	if cfg.Audio.Input == "" {
		cfg.Audio.Input = AudioPortAudio
	}
	if cfg.Audio.Output == "" {
		cfg.Audio.Output = AudioPortAudio
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = 20
	}
}

func ptr[T any](v T) *T { return &v }
