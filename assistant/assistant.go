// Package assistant owns the provider-side conversational thread for one bot
// session: creating threads, driving runs to completion (including tool call
// dispatch), and rolling over to a fresh thread when the provider rate-limits
// the current one.
package assistant

import (
	"context"
	"errors"
)

// ErrQuotaExceeded marks a rate/quota failure from the completion service.
// It is the only failure class that triggers a thread roll-over.
var ErrQuotaExceeded = errors.New("assistant: quota exceeded")

// Turn roles as the provider reports them.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one user or assistant message within a thread.
type Turn struct {
	Role    string
	Content string
}

// RunStatus is the provider-side state of a run.
type RunStatus string

// Terminal and intermediate run states surfaced by the provider.
const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether the run has reached a final state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	default:
		return false
	}
}

// ToolCall is a structured function-call request attached to a run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolOutput is the result fed back for one tool call.
type ToolOutput struct {
	CallID string
	Output string
}

// Run is a snapshot of one provider-side run.
type Run struct {
	ID        string
	Status    RunStatus
	ToolCalls []ToolCall // populated when Status == RunStatusRequiresAction
	ErrorCode string
	ErrorMsg  string
}

// ToolDefinition declares a callable function to the provider for one run.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// CompletionService is the black-box completion collaborator. Implementations
// must map rate/quota failures to ErrQuotaExceeded (possibly wrapped) and
// propagate everything else.
type CompletionService interface {
	// CreateThread creates a fresh thread and returns its opaque id.
	CreateThread(ctx context.Context) (string, error)

	// AddTurn appends a turn to the thread's server-side history.
	AddTurn(ctx context.Context, threadID, role, content string) error

	// ListRecentTurns returns up to limit turns, newest first.
	ListRecentTurns(ctx context.Context, threadID string, limit int) ([]Turn, error)

	// CreateRun starts an asynchronous run on the thread.
	CreateRun(ctx context.Context, threadID string, tools []ToolDefinition) (Run, error)

	// GetRun polls the current state of a run.
	GetRun(ctx context.Context, threadID, runID string) (Run, error)

	// SubmitToolOutputs feeds tool results back into a run awaiting action.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error

	// LatestAssistantMessage returns the text of the most recent assistant
	// turn, or "" when none exists.
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}
