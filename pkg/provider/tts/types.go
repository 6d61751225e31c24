package tts

// VoiceProfile describes the voice used for spoken feedback.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// PitchShift adjusts pitch (-10 to +10, 0 = default). Providers without
	// pitch control ignore it.
	PitchShift float64

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default, 0 = unset).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// Speed returns SpeedFactor clamped to [lo, hi], treating 0 as 1.
func (v VoiceProfile) Speed(lo, hi float64) float64 {
	s := v.SpeedFactor
	if s == 0 {
		s = 1
	}
	return min(max(s, lo), hi)
}
