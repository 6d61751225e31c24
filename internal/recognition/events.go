package recognition

import (
	"cmp"
	"slices"

	"github.com/MrWong99/voicecmd/pkg/provider/stt"
)

// Alternative is one ranked hypothesis.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is one recognition hypothesis window.
type Result struct {
	Text         string        `json:"text"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	IsFinal      bool          `json:"is_final"`
	Language     string        `json:"language,omitempty"`
}

// toResult converts a provider transcript, ranking alternatives by
// descending confidence and keeping at most maxAlt of them.
func toResult(t stt.Transcript, maxAlt int, lang string) Result {
	alts := make([]Alternative, 0, len(t.Alternatives))
	for _, a := range t.Alternatives {
		alts = append(alts, Alternative{Text: a.Text, Confidence: a.Confidence})
	}
	if len(alts) == 0 && t.Text != "" {
		alts = append(alts, Alternative{Text: t.Text, Confidence: t.Confidence})
	}
	slices.SortStableFunc(alts, func(a, b Alternative) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	if maxAlt > 0 && len(alts) > maxAlt {
		alts = alts[:maxAlt]
	}
	if t.Language != "" {
		lang = t.Language
	}
	return Result{
		Text:         t.Text,
		Confidence:   t.Confidence,
		Alternatives: alts,
		IsFinal:      t.IsFinal,
		Language:     lang,
	}
}

// Event is a session event. The concrete types are [EventStart],
// [EventResult], [EventError], [EventAudioLevel] and [EventEnd].
type Event interface {
	isEvent()
}

// EventStart is always the first event of a session.
type EventStart struct{}

// EventResult carries an interim or final hypothesis.
type EventResult struct {
	Result Result
}

// EventError reports a classified failure. The session ends after it.
type EventError struct {
	Err *Error
}

// EventAudioLevel carries the normalised input level in [0, 1].
type EventAudioLevel struct {
	Level float64
}

// EventEnd is always the last event of a session. The channel is closed
// right after it.
type EventEnd struct{}

func (EventStart) isEvent()      {}
func (EventResult) isEvent()     {}
func (EventError) isEvent()      {}
func (EventAudioLevel) isEvent() {}
func (EventEnd) isEvent()        {}
