package speaker

import "strings"

// Emotion selects the delivery style of a response. It changes rate and
// pitch only, never the wording.
type Emotion string

const (
	EmotionNeutral Emotion = "neutral"
	EmotionSuccess Emotion = "success"
	EmotionError   Emotion = "error"
	EmotionWarning Emotion = "warning"
	EmotionInfo    Emotion = "info"
)

// Priority is carried through to events and metrics. It does not reorder the
// pending queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Response is one piece of spoken feedback.
type Response struct {
	Text     string   `json:"text"`
	Emotion  Emotion  `json:"emotion,omitempty"`
	Priority Priority `json:"priority,omitempty"`

	// Interrupt cancels the utterance currently playing and speaks this one
	// immediately. Queued responses are kept and play afterwards.
	Interrupt bool `json:"interrupt,omitempty"`
}

func (r Response) emotion() Emotion {
	if r.Emotion == "" {
		return EmotionNeutral
	}
	return r.Emotion
}

func (r Response) priority() Priority {
	if r.Priority == "" {
		return PriorityNormal
	}
	return r.Priority
}

// Delivery returns the rate and pitch multipliers for e. Unknown emotions
// get the neutral 1.0/1.0.
func Delivery(e Emotion) (rate, pitch float64) {
	switch e {
	case EmotionSuccess:
		return 1.1, 1.1
	case EmotionError:
		return 0.9, 0.9
	case EmotionWarning:
		return 1.0, 1.05
	default:
		return 1.0, 1.0
	}
}

// ─── Phrasing templates ───

// CommandResult phrases the outcome of an executed command.
func CommandResult(success bool, message string) Response {
	message = strings.TrimSpace(message)
	if success {
		if message == "" {
			message = "Done."
		}
		return Response{Text: message, Emotion: EmotionSuccess, Priority: PriorityHigh}
	}
	if message == "" {
		message = "That command could not be completed."
	}
	return Response{Text: message, Emotion: EmotionError, Priority: PriorityHigh}
}

// Confirmation asks the user to confirm action.
func Confirmation(action string) Response {
	return Response{
		Text:     "Did you mean: " + strings.TrimSpace(action) + "? Say confirm or cancel.",
		Emotion:  EmotionInfo,
		Priority: PriorityNormal,
	}
}

// Suggestion offers a low-priority hint.
func Suggestion(s string) Response {
	return Response{Text: strings.TrimSpace(s), Emotion: EmotionInfo, Priority: PriorityLow}
}

// ErrorWithHelp reports errMsg followed by a recovery hint. It interrupts
// whatever is playing.
func ErrorWithHelp(errMsg, help string) Response {
	text := strings.TrimSpace(errMsg)
	if help = strings.TrimSpace(help); help != "" {
		if text != "" && !strings.HasSuffix(text, ".") {
			text += "."
		}
		text = strings.TrimSpace(text + " " + help)
	}
	return Response{Text: text, Emotion: EmotionError, Priority: PriorityHigh, Interrupt: true}
}
