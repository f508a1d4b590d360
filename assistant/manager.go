package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avablake/emcee/logging"
	"github.com/avablake/emcee/observability"
	"github.com/avablake/emcee/tool"
)

const (
	// historyWindow is how many turns are read from a failing thread before
	// roll-over; seedTurns of those (the most recent 3 user/assistant pairs)
	// are replayed into the replacement thread.
	historyWindow = 20
	seedTurns     = 6
)

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	PollInterval time.Duration
	Logger       logging.Logger
	Metrics      *observability.Metrics
}

// Manager owns the conversational thread handle for the lifetime of one bot
// session. Not safe for concurrent RunToCompletion calls; the scheduler
// guarantees at most one in-flight operation.
type Manager struct {
	svc          CompletionService
	pollInterval time.Duration
	logger       logging.Logger
	metrics      *observability.Metrics

	mu       sync.Mutex
	threadID string
}

// NewManager builds a Manager over the given completion service.
func NewManager(svc CompletionService, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		PollInterval: time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		svc:          svc,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
}

// ThreadID returns the current thread id, or "" before the first EnsureThread.
func (m *Manager) ThreadID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threadID
}

func (m *Manager) setThreadID(id string) {
	m.mu.Lock()
	m.threadID = id
	m.mu.Unlock()
}

// EnsureThread adopts existingID when provided, otherwise creates a new
// thread. Calling it again with the same id never creates a second thread.
func (m *Manager) EnsureThread(ctx context.Context, existingID string) (string, error) {
	if existingID != "" {
		m.setThreadID(existingID)
		return existingID, nil
	}
	id, err := m.svc.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	m.logger.Info("created new thread", "thread_id", id)
	m.setThreadID(id)
	return id, nil
}

// RunToCompletion sends the prompt as a user turn on the current thread,
// drives the run until terminal (dispatching tool calls through the
// registry), and returns the assistant's reply text.
//
// A quota failure triggers exactly one roll-over: the last three
// user/assistant pairs are replayed into a fresh thread and the prompt is
// retried once against the new id. A second quota failure propagates.
func (m *Manager) RunToCompletion(ctx context.Context, prompt string, tools tool.Registry) (string, error) {
	threadID, err := m.EnsureThread(ctx, m.ThreadID())
	if err != nil {
		return "", err
	}

	reply, err := m.runOnce(ctx, threadID, prompt, tools)
	if err == nil || !errors.Is(err, ErrQuotaExceeded) {
		return reply, err
	}

	m.logger.Warn("quota exceeded, rolling thread over", "thread_id", threadID)
	newID, rollErr := m.rollOver(ctx, threadID)
	if rollErr != nil {
		return "", fmt.Errorf("roll-over after quota failure: %w", rollErr)
	}
	m.setThreadID(newID)
	return m.runOnce(ctx, newID, prompt, tools)
}

func (m *Manager) runOnce(ctx context.Context, threadID, prompt string, tools tool.Registry) (string, error) {
	if err := m.svc.AddTurn(ctx, threadID, RoleUser, prompt); err != nil {
		return "", fmt.Errorf("add user turn: %w", err)
	}

	run, err := m.svc.CreateRun(ctx, threadID, toolDefinitions(tools))
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	start := time.Now()
	for {
		switch {
		case run.Status == RunStatusRequiresAction:
			outputs := m.dispatchToolCalls(ctx, run.ToolCalls, tools)
			if err := m.svc.SubmitToolOutputs(ctx, threadID, run.ID, outputs); err != nil {
				return "", fmt.Errorf("submit tool outputs: %w", err)
			}
		case run.Status == RunStatusCompleted:
			m.logger.Info("run completed", "thread_id", threadID, "run_id", run.ID,
				"duration_ms", time.Since(start).Milliseconds())
			if m.metrics != nil {
				m.metrics.ObserveRunDuration(time.Since(start))
			}
			return m.svc.LatestAssistantMessage(ctx, threadID)
		case run.Status.Terminal():
			if run.ErrorCode == "rate_limit_exceeded" {
				return "", fmt.Errorf("run %s: %s: %w", run.ID, run.ErrorMsg, ErrQuotaExceeded)
			}
			return "", fmt.Errorf("run %s ended with status %s: %s", run.ID, run.Status, run.ErrorMsg)
		default:
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(m.pollInterval):
			}
		}

		run, err = m.svc.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return "", fmt.Errorf("poll run: %w", err)
		}
	}
}

// dispatchToolCalls produces exactly one output per incoming call. Unknown
// tools get a "not handled" result and malformed arguments skip just that
// call; neither fails the run.
func (m *Manager) dispatchToolCalls(ctx context.Context, calls []ToolCall, tools tool.Registry) []ToolOutput {
	outputs := make([]ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, ToolOutput{
			CallID: call.ID,
			Output: m.executeToolCall(ctx, call, tools),
		})
	}
	return outputs
}

func (m *Manager) executeToolCall(ctx context.Context, call ToolCall, tools tool.Registry) string {
	handler, ok := tools.Lookup(call.Name)
	if !ok {
		m.logger.Warn("unhandled tool requested", "tool", call.Name)
		m.countToolCall(call.Name, "unhandled")
		return "not handled"
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			m.logger.Warn("malformed tool arguments, skipping call",
				"tool", call.Name, "call_id", call.ID, "error", err)
			m.countToolCall(call.Name, "malformed_args")
			return fmt.Sprintf("error: malformed arguments: %v", err)
		}
	}

	result, err := handler.Call(ctx, args)
	if err != nil {
		m.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
		m.countToolCall(call.Name, "error")
		return fmt.Sprintf("error: %v", err)
	}
	m.countToolCall(call.Name, "ok")
	return fmt.Sprintf("%v", result)
}

func (m *Manager) countToolCall(name, outcome string) {
	if m.metrics != nil {
		m.metrics.ToolCalls.WithLabelValues(name, outcome).Inc()
	}
}

// rollOver reads the failing thread's recent history, creates a fresh thread,
// and replays the last three user/assistant pairs into it in oldest-first
// order. The old thread is abandoned, never deleted.
func (m *Manager) rollOver(ctx context.Context, threadID string) (string, error) {
	turns, err := m.svc.ListRecentTurns(ctx, threadID, historyWindow)
	if err != nil {
		return "", fmt.Errorf("list recent turns: %w", err)
	}
	// The newest turn is the unanswered prompt of the failing request; the
	// retry re-sends it, so seed only the answered pairs before it.
	if len(turns) > 0 && turns[0].Role == RoleUser {
		turns = turns[1:]
	}
	if len(turns) > seedTurns {
		turns = turns[:seedTurns]
	}

	newID, err := m.svc.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create replacement thread: %w", err)
	}

	// turns arrive newest first; replay oldest first.
	for i := len(turns) - 1; i >= 0; i-- {
		if err := m.svc.AddTurn(ctx, newID, turns[i].Role, turns[i].Content); err != nil {
			return "", fmt.Errorf("replay turn into %s: %w", newID, err)
		}
	}
	m.logger.Info("thread rolled over", "old_thread_id", threadID,
		"new_thread_id", newID, "seeded_turns", len(turns))
	if m.metrics != nil {
		m.metrics.RollOvers.Inc()
	}
	return newID, nil
}

func toolDefinitions(tools tool.Registry) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
