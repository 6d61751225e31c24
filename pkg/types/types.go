// Package types defines the value types shared between the command queue, the
// remote executor client, and the orchestrator.
//
// These types form the wire contract with the remote command service: a
// command string plus opaque correlation context goes out, a success flag and
// a human-readable message come back.
package types

// CommandContext carries opaque correlation data for a command. The queue and
// the orchestrator never interpret it; it is passed through to the remote
// executor unchanged.
type CommandContext struct {
	// IssueID identifies the issue the user was looking at, if any.
	IssueID string `json:"issueId,omitempty"`

	// ProjectID identifies the active project, if any.
	ProjectID string `json:"projectId,omitempty"`

	// UserID identifies the user issuing the command, if known.
	UserID string `json:"userId,omitempty"`
}

// IsZero reports whether no correlation data is set.
func (c CommandContext) IsZero() bool {
	return c == CommandContext{}
}

// ExecutionRequest is the payload sent to the remote command executor.
type ExecutionRequest struct {
	Command string         `json:"command"`
	Context CommandContext `json:"context"`
}

// ExecutionResult is the outcome reported by the remote executor. Only
// Success and Message are contractually relevant; Intent is an optional echo
// of what the remote parser understood.
type ExecutionResult struct {
	// Success reports whether the remote service executed the command.
	// False means a business-level rejection (command not understood,
	// target not found), not a connectivity problem.
	Success bool `json:"success"`

	// Message is a human-readable summary suitable for speaking aloud.
	Message string `json:"message"`

	// Intent is the structured interpretation of the command, when provided.
	Intent *Intent `json:"intent,omitempty"`
}

// Intent is the structured interpretation of a natural-language command as
// produced by the remote parser.
type Intent struct {
	// Action names the operation (e.g. "update_priority").
	Action string `json:"action"`

	// Description is a short human-readable rendering of the action
	// (e.g. "Set priority of ISSUE-12 to high").
	Description string `json:"description,omitempty"`

	// Parameters holds action-specific arguments.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Confidence is the parser's own confidence in its interpretation.
	Confidence float64 `json:"confidence,omitempty"`
}
