package recognition

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/coder/websocket"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MrWong99/voicecmd/pkg/audio"
	"github.com/MrWong99/voicecmd/pkg/provider/stt"
)

// ErrAlreadyListening is returned by [Adapter.Start] while a session is active.
var ErrAlreadyListening = errors.New("recognition: a session is already active")

// ErrorType classifies a recognition failure.
type ErrorType string

const (
	TypeNoSpeech             ErrorType = "no-speech"
	TypeAborted              ErrorType = "aborted"
	TypeAudioCapture         ErrorType = "audio-capture"
	TypeNetwork              ErrorType = "network"
	TypeNotAllowed           ErrorType = "not-allowed"
	TypeServiceNotAllowed    ErrorType = "service-not-allowed"
	TypeBadGrammar           ErrorType = "bad-grammar"
	TypeLanguageNotSupported ErrorType = "language-not-supported"
	TypeUnknown              ErrorType = "unknown"
)

// Recoverable reports whether listening may be retried after an error of
// this type. Non-recoverable errors require falling back to typed input.
func (t ErrorType) Recoverable() bool {
	switch t {
	case TypeNotAllowed, TypeAudioCapture, TypeServiceNotAllowed, TypeLanguageNotSupported:
		return false
	}
	return true
}

var defaultMessages = map[ErrorType]string{
	TypeNoSpeech:             "No speech was detected.",
	TypeAborted:              "Listening was cancelled.",
	TypeAudioCapture:         "The microphone could not be used.",
	TypeNetwork:              "The speech service could not be reached.",
	TypeNotAllowed:           "Microphone or speech service access was denied.",
	TypeServiceNotAllowed:    "Speech recognition is not available.",
	TypeBadGrammar:           "The speech service rejected the recognition settings.",
	TypeLanguageNotSupported: "The configured language is not supported.",
	TypeUnknown:              "Speech recognition failed.",
}

// Error is a classified recognition failure.
type Error struct {
	Type        ErrorType `json:"type"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`

	cause error
}

// NewError builds an [Error] of type t. An empty message uses the default
// text for t.
func NewError(t ErrorType, message string, cause error) *Error {
	if message == "" {
		message = defaultMessages[t]
	}
	return &Error{Type: t, Message: message, Recoverable: t.Recoverable(), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("recognition: %s: %s: %v", e.Type, e.Message, e.cause)
	}
	return fmt.Sprintf("recognition: %s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying provider or device error, if known.
func (e *Error) Unwrap() error { return e.cause }

// Classify maps a provider, transport or device error onto an [Error].
// It returns nil for a nil err and err itself if it already is an *Error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return NewError(classifyType(err), "", err)
}

func classifyType(err error) ErrorType {
	switch {
	case errors.Is(err, context.Canceled):
		return TypeAborted
	case errors.Is(err, stt.ErrUnauthorized), errors.Is(err, audio.ErrPermissionDenied):
		return TypeNotAllowed
	case errors.Is(err, audio.ErrNoDevice):
		return TypeAudioCapture
	case errors.Is(err, context.DeadlineExceeded):
		return TypeNetwork
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
			return TypeNetwork
		case codes.PermissionDenied, codes.Unauthenticated:
			return TypeNotAllowed
		case codes.InvalidArgument:
			return TypeBadGrammar
		case codes.Canceled:
			return TypeAborted
		}
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusPolicyViolation:
		return TypeNotAllowed
	case -1:
	default:
		return TypeNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return TypeNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return TypeNetwork
	}
	return TypeUnknown
}

// classifyCapture maps an audio source failure. Anything that is not a
// permission problem is a capture failure.
func classifyCapture(err error) *Error {
	if errors.Is(err, audio.ErrPermissionDenied) {
		return NewError(TypeNotAllowed, "Microphone access was denied.", err)
	}
	return NewError(TypeAudioCapture, "", err)
}
