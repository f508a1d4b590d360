package assistant

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avablake/emcee/observability"
	"github.com/avablake/emcee/tool"
)

// mockService is a scriptable in-memory CompletionService.
type mockService struct {
	threads        map[string][]Turn // threadID -> turns, oldest first
	created        []string
	runSeq         int
	quotaFailures  int   // CreateRun failures to inject before succeeding
	pendingActions []Run // runs requiring action before completion
	reply          string
	submitted      [][]ToolOutput
}

func newMockService() *mockService {
	return &mockService{threads: map[string][]Turn{}, reply: "hello chat"}
}

func (m *mockService) CreateThread(_ context.Context) (string, error) {
	id := fmt.Sprintf("thread_%d", len(m.created)+1)
	m.created = append(m.created, id)
	m.threads[id] = []Turn{}
	return id, nil
}

func (m *mockService) AddTurn(_ context.Context, threadID, role, content string) error {
	if _, ok := m.threads[threadID]; !ok {
		m.threads[threadID] = []Turn{}
	}
	m.threads[threadID] = append(m.threads[threadID], Turn{Role: role, Content: content})
	return nil
}

func (m *mockService) ListRecentTurns(_ context.Context, threadID string, limit int) ([]Turn, error) {
	turns := m.threads[threadID]
	out := make([]Turn, 0, limit)
	for i := len(turns) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, turns[i])
	}
	return out, nil
}

func (m *mockService) CreateRun(_ context.Context, _ string, _ []ToolDefinition) (Run, error) {
	if m.quotaFailures > 0 {
		m.quotaFailures--
		return Run{}, fmt.Errorf("429: %w", ErrQuotaExceeded)
	}
	m.runSeq++
	return Run{ID: fmt.Sprintf("run_%d", m.runSeq), Status: RunStatusQueued}, nil
}

func (m *mockService) GetRun(_ context.Context, threadID, runID string) (Run, error) {
	if len(m.pendingActions) > 0 {
		next := m.pendingActions[0]
		m.pendingActions = m.pendingActions[1:]
		next.ID = runID
		return next, nil
	}
	m.threads[threadID] = append(m.threads[threadID], Turn{Role: RoleAssistant, Content: m.reply})
	return Run{ID: runID, Status: RunStatusCompleted}, nil
}

func (m *mockService) SubmitToolOutputs(_ context.Context, _, _ string, outputs []ToolOutput) error {
	m.submitted = append(m.submitted, outputs)
	return nil
}

func (m *mockService) LatestAssistantMessage(_ context.Context, threadID string) (string, error) {
	turns := m.threads[threadID]
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleAssistant {
			return turns[i].Content, nil
		}
	}
	return "", nil
}

func fastManager(svc CompletionService) *Manager {
	return NewManager(svc, func(o *ManagerOptions) {
		o.PollInterval = time.Millisecond
	})
}

func TestEnsureThreadReturnsExistingID(t *testing.T) {
	svc := newMockService()
	m := fastManager(svc)

	id, err := m.EnsureThread(context.Background(), "thread_known")
	require.NoError(t, err)
	assert.Equal(t, "thread_known", id)
	assert.Empty(t, svc.created, "no thread must be created for an existing id")
}

func TestEnsureThreadIdempotent(t *testing.T) {
	svc := newMockService()
	m := fastManager(svc)
	ctx := context.Background()

	first, err := m.EnsureThread(ctx, "")
	require.NoError(t, err)

	second, err := m.EnsureThread(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, svc.created, 1)
}

func TestRunToCompletionReturnsReply(t *testing.T) {
	svc := newMockService()
	svc.reply = "glad you asked"
	m := fastManager(svc)

	reply, err := m.RunToCompletion(context.Background(), "say something", nil)
	require.NoError(t, err)
	assert.Equal(t, "glad you asked", reply)

	turns := svc.threads[m.ThreadID()]
	require.NotEmpty(t, turns)
	assert.Equal(t, Turn{Role: RoleUser, Content: "say something"}, turns[0])
}

func TestRollOverOnQuotaFailure(t *testing.T) {
	svc := newMockService()
	m := fastManager(svc)
	ctx := context.Background()

	// Seed an existing thread with eight turns of history.
	_, err := m.EnsureThread(ctx, "")
	require.NoError(t, err)
	oldID := m.ThreadID()
	for i := 0; i < 4; i++ {
		require.NoError(t, svc.AddTurn(ctx, oldID, RoleUser, fmt.Sprintf("user %d", i)))
		require.NoError(t, svc.AddTurn(ctx, oldID, RoleAssistant, fmt.Sprintf("bot %d", i)))
	}

	svc.quotaFailures = 1
	reply, err := m.RunToCompletion(ctx, "new prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello chat", reply)

	// Exactly one replacement thread.
	require.Len(t, svc.created, 2)
	newID := svc.created[1]
	assert.Equal(t, newID, m.ThreadID())
	assert.NotEqual(t, oldID, newID)

	// Seeded with the most recent six turns, oldest first, then the retried
	// prompt and the reply.
	// The failed attempt appended "new prompt" to the old thread before the
	// quota error; it is excluded from the seed because the retry re-sends
	// it. Seeded are the three most recent answered pairs, oldest first.
	turns := svc.threads[newID]
	require.Len(t, turns, 8)
	seeded := turns[:6]
	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "user 1"},
		{Role: RoleAssistant, Content: "bot 1"},
		{Role: RoleUser, Content: "user 2"},
		{Role: RoleAssistant, Content: "bot 2"},
		{Role: RoleUser, Content: "user 3"},
		{Role: RoleAssistant, Content: "bot 3"},
	}, seeded)
	assert.Equal(t, Turn{Role: RoleUser, Content: "new prompt"}, turns[6])
	assert.Equal(t, Turn{Role: RoleAssistant, Content: "hello chat"}, turns[7])
}

func TestRollOverDoesNotDuplicatePendingPrompt(t *testing.T) {
	svc := newMockService()
	m := fastManager(svc)
	ctx := context.Background()

	_, err := m.EnsureThread(ctx, "")
	require.NoError(t, err)

	svc.quotaFailures = 1
	_, err = m.RunToCompletion(ctx, "only once", nil)
	require.NoError(t, err)

	count := 0
	for _, turn := range svc.threads[m.ThreadID()] {
		if turn.Content == "only once" {
			count++
		}
	}
	assert.Equal(t, 1, count, "the retried prompt must appear exactly once in the new thread")
}

func TestRollOverAtMostOncePerRequest(t *testing.T) {
	svc := newMockService()
	m := fastManager(svc)
	ctx := context.Background()

	_, err := m.EnsureThread(ctx, "")
	require.NoError(t, err)

	svc.quotaFailures = 2
	_, err = m.RunToCompletion(ctx, "prompt", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	// Original thread + exactly one roll-over attempt.
	assert.Len(t, svc.created, 2)
}

func TestNonQuotaFailurePropagatesWithoutRollOver(t *testing.T) {
	svc := newMockService()
	svc.pendingActions = []Run{{Status: RunStatusFailed, ErrorMsg: "server exploded"}}
	m := fastManager(svc)

	_, err := m.RunToCompletion(context.Background(), "prompt", nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrQuotaExceeded))
	assert.Len(t, svc.created, 1)
}

func TestRunFailureWithRateLimitCodeRollsOver(t *testing.T) {
	svc := newMockService()
	svc.pendingActions = []Run{{Status: RunStatusFailed, ErrorCode: "rate_limit_exceeded"}}
	m := fastManager(svc)

	reply, err := m.RunToCompletion(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello chat", reply)
	assert.Len(t, svc.created, 2)
}

func TestUnknownToolGetsNotHandledOutput(t *testing.T) {
	svc := newMockService()
	svc.pendingActions = []Run{{
		Status:    RunStatusRequiresAction,
		ToolCalls: []ToolCall{{ID: "call_1", Name: "mystery_tool", Arguments: "{}"}},
	}}
	m := fastManager(svc)

	_, err := m.RunToCompletion(context.Background(), "prompt", tool.Registry{})
	require.NoError(t, err)

	require.Len(t, svc.submitted, 1)
	require.Len(t, svc.submitted[0], 1)
	assert.Equal(t, "call_1", svc.submitted[0][0].CallID)
	assert.Equal(t, "not handled", svc.submitted[0][0].Output)
}

func TestMalformedToolArgsSkipsOnlyThatCall(t *testing.T) {
	called := false
	echo := tool.NewFunctionTool("echo", "Echo", map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []string{"text"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		called = true
		return args["text"], nil
	})
	reg, err := tool.NewRegistry(echo)
	require.NoError(t, err)

	svc := newMockService()
	svc.pendingActions = []Run{{
		Status: RunStatusRequiresAction,
		ToolCalls: []ToolCall{
			{ID: "call_bad", Name: "echo", Arguments: "{not json"},
			{ID: "call_good", Name: "echo", Arguments: `{"text":"hi"}`},
		},
	}}
	m := fastManager(svc)

	_, err = m.RunToCompletion(context.Background(), "prompt", reg)
	require.NoError(t, err)

	require.Len(t, svc.submitted, 1)
	outputs := svc.submitted[0]
	require.Len(t, outputs, 2)
	assert.Contains(t, outputs[0].Output, "malformed arguments")
	assert.Equal(t, "hi", outputs[1].Output)
	assert.True(t, called)
}

func TestManagerRecordsMetrics(t *testing.T) {
	metrics := observability.NewMetrics("assistant_test")
	ctx := context.Background()

	svc := newMockService()
	svc.pendingActions = []Run{{
		Status:    RunStatusRequiresAction,
		ToolCalls: []ToolCall{{ID: "call_1", Name: "mystery_tool", Arguments: "{}"}},
	}}
	m := NewManager(svc, func(o *ManagerOptions) {
		o.PollInterval = time.Millisecond
		o.Metrics = metrics
	})

	_, err := m.RunToCompletion(ctx, "prompt", tool.Registry{})
	require.NoError(t, err)

	svc.quotaFailures = 1
	_, err = m.RunToCompletion(ctx, "again", nil)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RollOvers))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(metrics.ToolCalls.WithLabelValues("mystery_tool", "unhandled")))

	// Two completed runs: the tool-call run and the post-roll-over retry.
	var dm dto.Metric
	require.NoError(t, metrics.RunDuration.Write(&dm))
	assert.Equal(t, uint64(2), dm.Histogram.GetSampleCount())
}
