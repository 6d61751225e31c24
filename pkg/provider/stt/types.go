package stt

import "time"

// Transcript is a recognition result. Both partial and final results use it.
type Transcript struct {
	// Text is the best hypothesis.
	Text string

	// IsFinal reports whether the provider committed to this result.
	IsFinal bool

	// Confidence of the best hypothesis in [0, 1]. Zero when unreported.
	Confidence float64

	// Alternatives holds every hypothesis the provider returned, best first.
	// The first entry matches Text and Confidence.
	Alternatives []Alternative

	// Language is the language the provider recognised, when reported.
	Language string

	// Words contains per-word detail when available.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// Alternative is one recognition hypothesis.
type Alternative struct {
	Text       string
	Confidence float64
}

// WordDetail holds per-word metadata from providers that report it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a vocabulary hint.
type KeywordBoost struct {
	// Keyword is the phrase to favour (e.g. "backlog").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
