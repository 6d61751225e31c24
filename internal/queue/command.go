package queue

import (
	"time"

	"github.com/MrWong99/voicecmd/pkg/types"
)

// Status is the lifecycle state of a queued [Command].
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValid reports whether s is one of the defined statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Command is one durable, retryable unit of work. Its ID is stable for its
// whole lifetime.
type Command struct {
	ID         string               `json:"id"`
	Command    string               `json:"command"`
	Context    types.CommandContext `json:"context"`
	Timestamp  time.Time            `json:"timestamp"`
	RetryCount int                  `json:"retryCount"`
	Status     Status               `json:"status"`

	// Error is the last failure message. Set only when Status is failed.
	Error string `json:"error,omitempty"`
}

// request builds the payload sent to the remote executor.
func (c *Command) request() types.ExecutionRequest {
	return types.ExecutionRequest{Command: c.Command, Context: c.Context}
}

// AddResult is the outcome of [Queue.AddCommand].
type AddResult struct {
	// Queued reports that the command was stored for later execution rather
	// than executed inline.
	Queued bool

	// Result is the executor's answer when the command ran inline. A result
	// with Success=false is a business rejection; the command is not queued.
	Result *types.ExecutionResult

	// Err is the inline execution failure that caused the command to be
	// queued, or a validation error when nothing was queued.
	Err error
}

// SyncResult tallies one [Queue.SyncQueue] pass.
type SyncResult struct {
	// Successful counts commands the remote service executed successfully.
	Successful int `json:"successful"`

	// Failed counts execution attempts that did not reach the service.
	Failed int `json:"failed"`

	// Rejected counts commands the service executed but refused. They are
	// removed like successful ones.
	Rejected int `json:"rejected"`

	// Pending is the number of commands still pending after the pass.
	Pending int `json:"pending"`
}

// Stats are derived counts by status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
