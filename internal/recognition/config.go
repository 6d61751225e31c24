package recognition

import (
	"strings"
	"time"

	"github.com/MrWong99/voicecmd/pkg/provider/stt"
)

// Config holds recognition settings.
type Config struct {
	// Language is the BCP-47 recognition locale. Default: "en-US".
	Language string

	// Continuous keeps the session open after a final result. When false the
	// session stops itself after the first final.
	Continuous bool

	// InterimResults forwards partial hypotheses. [DefaultConfig] turns it
	// on. A bool cannot be defaulted, so a Config literal that omits it
	// keeps interims off.
	InterimResults bool

	// MaxAlternatives caps Result.Alternatives. Default: 3.
	MaxAlternatives int

	// ConfidenceThreshold is the acceptance threshold used by
	// [Adapter.IsConfidenceAcceptable]. Default: 0.7.
	ConfidenceThreshold float64

	// NoSpeechTimeout ends a session that produced no result in time.
	// Default: 8s. Negative disables the timer.
	NoSpeechTimeout time.Duration

	// LevelInterval throttles audio level events. Default: 50ms.
	LevelInterval time.Duration

	// SampleRate of captured audio in Hz. Default: 16000 mono.
	SampleRate int

	// Keywords are vocabulary hints passed to the provider.
	Keywords []stt.KeywordBoost
}

// DefaultConfig returns the default recognition settings.
func DefaultConfig() Config {
	return Config{
		Language:            "en-US",
		InterimResults:      true,
		MaxAlternatives:     3,
		ConfidenceThreshold: 0.7,
		NoSpeechTimeout:     8 * time.Second,
		LevelInterval:       50 * time.Millisecond,
		SampleRate:          16000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.MaxAlternatives <= 0 {
		c.MaxAlternatives = d.MaxAlternatives
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.NoSpeechTimeout == 0 {
		c.NoSpeechTimeout = d.NoSpeechTimeout
	}
	if c.LevelInterval <= 0 {
		c.LevelInterval = d.LevelInterval
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	return c
}

// ConfigUpdate is a partial [Config]. Nil fields are left unchanged.
type ConfigUpdate struct {
	Language            *string
	Continuous          *bool
	InterimResults      *bool
	MaxAlternatives     *int
	ConfidenceThreshold *float64
}

func (c Config) merge(u ConfigUpdate) Config {
	if u.Language != nil && *u.Language != "" {
		c.Language = *u.Language
	}
	if u.Continuous != nil {
		c.Continuous = *u.Continuous
	}
	if u.InterimResults != nil {
		c.InterimResults = *u.InterimResults
	}
	if u.MaxAlternatives != nil && *u.MaxAlternatives > 0 {
		c.MaxAlternatives = *u.MaxAlternatives
	}
	if u.ConfidenceThreshold != nil && *u.ConfidenceThreshold >= 0 && *u.ConfidenceThreshold <= 1 {
		c.ConfidenceThreshold = *u.ConfidenceThreshold
	}
	return c
}

// Language is a supported recognition locale.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var supportedLanguages = []Language{
	{Code: "en-US", Name: "English (United States)"},
	{Code: "en-GB", Name: "English (United Kingdom)"},
	{Code: "en-AU", Name: "English (Australia)"},
	{Code: "en-IN", Name: "English (India)"},
	{Code: "es-ES", Name: "Spanish (Spain)"},
	{Code: "es-MX", Name: "Spanish (Mexico)"},
	{Code: "fr-FR", Name: "French (France)"},
	{Code: "de-DE", Name: "German (Germany)"},
	{Code: "it-IT", Name: "Italian (Italy)"},
	{Code: "pt-BR", Name: "Portuguese (Brazil)"},
	{Code: "nl-NL", Name: "Dutch (Netherlands)"},
	{Code: "pl-PL", Name: "Polish (Poland)"},
	{Code: "sv-SE", Name: "Swedish (Sweden)"},
	{Code: "ru-RU", Name: "Russian (Russia)"},
	{Code: "ja-JP", Name: "Japanese (Japan)"},
	{Code: "ko-KR", Name: "Korean (South Korea)"},
	{Code: "zh-CN", Name: "Chinese (Mandarin, Simplified)"},
	{Code: "hi-IN", Name: "Hindi (India)"},
}

// SupportedLanguages returns the locales recognition can be configured with.
func SupportedLanguages() []Language {
	return append([]Language(nil), supportedLanguages...)
}

// IsLanguageSupported reports whether code is a supported locale. The
// comparison ignores case.
func IsLanguageSupported(code string) bool {
	for _, l := range supportedLanguages {
		if strings.EqualFold(l.Code, code) {
			return true
		}
	}
	return false
}

// PlatformInfo describes the speech capabilities available to the adapter.
type PlatformInfo struct {
	Provider   string `json:"provider"`
	Supported  bool   `json:"supported"`
	Streaming  bool   `json:"streaming"`
	AudioInput bool   `json:"audio_input"`
}
