package orchestrator

import (
	"github.com/MrWong99/voicecmd/internal/recognition"
	"github.com/MrWong99/voicecmd/pkg/types"
)

// Phase is the orchestrator's coarse state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseListening  Phase = "listening"
	PhaseConfirming Phase = "confirming"
	PhaseExecuting  Phase = "executing"

	// PhaseTextInput is forced when voice input is unavailable.
	PhaseTextInput Phase = "text-input"
)

// Result is the outcome of an execution request.
type Result string

const (
	ResultExecuted Result = "executed"
	ResultRejected Result = "rejected"
	ResultQueued   Result = "queued"
)

// Pending is a transcript awaiting confirmation.
type Pending struct {
	Transcript   string                    `json:"transcript"`
	Confidence   float64                   `json:"confidence"`
	Decision     Decision                  `json:"decision"`
	Alternatives []recognition.Alternative `json:"alternatives,omitempty"`

	// Intent is the parser's preview of the command, once available.
	Intent *types.Intent `json:"intent,omitempty"`

	// Edited is set once the user replaced the recognised text.
	Edited bool `json:"edited"`
}

// State is a snapshot of the orchestrator.
type State struct {
	Phase Phase `json:"phase"`

	// Listening reports an active recognition session, also while confirming.
	Listening bool `json:"listening"`

	// Interim is the latest partial hypothesis of the active session.
	Interim string `json:"interim,omitempty"`

	// Transcript is the last accepted command text. It is cleared a short
	// while after a successful execution.
	Transcript string `json:"transcript,omitempty"`

	Pending    *Pending `json:"pending,omitempty"`
	AudioLevel float64  `json:"audio_level"`
	Speaking   bool     `json:"speaking"`
	QueueDepth int      `json:"queue_depth"`

	LastOutcome Result             `json:"last_outcome,omitempty"`
	LastMessage string             `json:"last_message,omitempty"`
	LastError   *recognition.Error `json:"last_error,omitempty"`

	VoiceDisabled bool `json:"voice_disabled"`
}

func (s State) clone() State {
	if s.Pending != nil {
		p := *s.Pending
		p.Alternatives = append([]recognition.Alternative(nil), p.Alternatives...)
		s.Pending = &p
	}
	return s
}
