package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicecmd/internal/config"
	"github.com/MrWong99/voicecmd/pkg/storage"
)

const minimalYAML = `
executor:
  base_url: http://localhost:9000
`

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  stt:
    name: deepgram
    api_key: dg-key
    model: nova-2
  stt_fallbacks:
    - name: whisper-native
      options:
        model_path: /models/ggml-base.en.bin
  tts:
    name: elevenlabs
    api_key: el-key
recognition:
  language: de-DE
  continuous: true
  interim_results: false
  max_alternatives: 5
  no_speech_timeout: 5s
  keywords: [ISSUE, sprint]
gate:
  threshold: 0.8
  medium_band: 0.3
  auto_execute: false
  prompt_next: true
queue:
  max_retries: 5
  sync_interval: 1m
storage:
  backend: sqlite
  path: /var/lib/voicecmd/queue.db
executor:
  base_url: https://tracker.example.com/api
  token: secret
  timeout: 3s
  breaker:
    max_failures: 2
  context:
    project_id: PRJ
speaker:
  voice_id: rachel
  rate: 1.2
audio:
  input: none
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, minimalYAML)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, ":8080"},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"language", cfg.Recognition.Language, "en-US"},
		{"interim_results", *cfg.Recognition.InterimResults, true},
		{"max_alternatives", cfg.Recognition.MaxAlternatives, 3},
		{"confidence_threshold", cfg.Recognition.ConfidenceThreshold, 0.7},
		{"no_speech_timeout", cfg.Recognition.NoSpeechTimeout, 8 * time.Second},
		{"gate.threshold", cfg.Gate.Threshold, 0.7},
		{"gate.medium_band", *cfg.Gate.MediumBand, 0.2},
		{"gate.auto_execute", *cfg.Gate.AutoExecute, true},
		{"gate.clear_delay", cfg.Gate.ClearDelay, 2 * time.Second},
		{"queue.max_retries", cfg.Queue.MaxRetries, 3},
		{"queue.sync_interval", cfg.Queue.SyncInterval, 30 * time.Second},
		{"queue.storage_key", cfg.Queue.StorageKey, "voicecmd.queue"},
		{"storage.backend", cfg.Storage.Backend, storage.BackendFile},
		{"executor.timeout", cfg.Executor.Timeout, 10 * time.Second},
		{"speaker.enabled", *cfg.Speaker.Enabled, false},
		{"audio.input", cfg.Audio.Input, config.AudioPortAudio},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, fullYAML)

	if cfg.Providers.STT.Name != "deepgram" || cfg.Providers.STT.Model != "nova-2" {
		t.Errorf("stt = %+v", cfg.Providers.STT)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].OptionString("model_path") != "/models/ggml-base.en.bin" {
		t.Errorf("stt fallbacks = %+v", cfg.Providers.STTFallbacks)
	}
	if *cfg.Recognition.InterimResults || !cfg.Recognition.Continuous || cfg.Recognition.NoSpeechTimeout != 5*time.Second {
		t.Errorf("recognition = %+v", cfg.Recognition)
	}
	if cfg.Gate.Threshold != 0.8 || *cfg.Gate.MediumBand != 0.3 || *cfg.Gate.AutoExecute || !cfg.Gate.PromptNext {
		t.Errorf("gate = %+v", cfg.Gate)
	}
	if cfg.Queue.SyncInterval != time.Minute || cfg.Queue.MaxRetries != 5 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Storage.Backend != storage.BackendSQLite || cfg.Storage.Path != "/var/lib/voicecmd/queue.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cc := cfg.Executor.Context.CommandContext(); cc.ProjectID != "PRJ" {
		t.Errorf("command context = %+v", cc)
	}
	if !*cfg.Speaker.Enabled || cfg.Speaker.Rate != 1.2 || cfg.Speaker.Pitch != 1 {
		t.Errorf("speaker = %+v", cfg.Speaker)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "npcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("VOICECMD_TEST_TOKEN", "from-env")
	cfg := mustLoad(t, minimalYAML+"  token: ${VOICECMD_TEST_TOKEN}\n")
	if cfg.Executor.Token != "from-env" {
		t.Errorf("token = %q, want from-env", cfg.Executor.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "executor required",
			yaml:    "server:\n  log_level: info\n",
			wantErr: []string{"executor.base_url is required"},
		},
		{
			name:    "bad log level",
			yaml:    minimalYAML + "server:\n  log_level: verbose\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "trace sample ratio above one",
			yaml:    minimalYAML + "server:\n  trace_sample_ratio: 2\n",
			wantErr: []string{"server.trace_sample_ratio"},
		},
		{
			name:    "unsupported language",
			yaml:    minimalYAML + "recognition:\n  language: tlh\n",
			wantErr: []string{"recognition.language"},
		},
		{
			name:    "gate band wider than threshold",
			yaml:    minimalYAML + "gate:\n  threshold: 0.3\n  medium_band: 0.5\n",
			wantErr: []string{"gate.medium_band"},
		},
		{
			name:    "gate threshold above one",
			yaml:    minimalYAML + "gate:\n  threshold: 1.5\n",
			wantErr: []string{"gate.threshold"},
		},
		{
			name:    "postgres without dsn",
			yaml:    minimalYAML + "storage:\n  backend: postgres\n",
			wantErr: []string{"storage.dsn"},
		},
		{
			name:    "unknown backend",
			yaml:    minimalYAML + "storage:\n  backend: redis\n",
			wantErr: []string{"storage.backend"},
		},
		{
			name:    "speaker without tts",
			yaml:    minimalYAML + "speaker:\n  enabled: true\n",
			wantErr: []string{"speaker.enabled requires providers.tts"},
		},
		{
			name:    "rate out of range",
			yaml:    minimalYAML + "speaker:\n  rate: 3\n",
			wantErr: []string{"speaker.rate"},
		},
		{
			name:    "fallback without primary",
			yaml:    minimalYAML + "providers:\n  tts_fallbacks:\n    - name: openai\n",
			wantErr: []string{"providers.tts_fallbacks requires providers.tts"},
		},
		{
			name: "collects every problem",
			yaml: "server:\n  log_level: loud\naudio:\n  input: alsa\n",
			wantErr: []string{
				"server.log_level",
				"audio.input",
				"executor.base_url",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"model_path": "/m.bin",
		"silence_ms": 500,
		"rms":        0.02,
	}}
	if got := e.OptionString("model_path"); got != "/m.bin" {
		t.Errorf("OptionString = %q", got)
	}
	if got := e.OptionInt("silence_ms"); got != 500 {
		t.Errorf("OptionInt = %d", got)
	}
	if got := e.OptionFloat("rms"); got != 0.02 {
		t.Errorf("OptionFloat = %v", got)
	}
	if got := e.OptionString("missing"); got != "" {
		t.Errorf("missing = %q", got)
	}
}
