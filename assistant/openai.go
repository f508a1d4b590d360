package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
)

// OpenAIService implements CompletionService against the OpenAI Assistants
// API (beta threads/runs). The assistant itself is configured provider-side;
// only its id travels in the session document.
type OpenAIService struct {
	client      *openai.Client
	assistantID string
}

// NewOpenAIService builds the adapter from an existing client.
func NewOpenAIService(client *openai.Client, assistantID string) *OpenAIService {
	return &OpenAIService{client: client, assistantID: assistantID}
}

// CreateThread creates a fresh provider-side thread.
func (s *OpenAIService) CreateThread(ctx context.Context) (string, error) {
	thread, err := s.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", classify(err)
	}
	return thread.ID, nil
}

// AddTurn appends a message to the thread.
func (s *OpenAIService) AddTurn(ctx context.Context, threadID, role, content string) error {
	_, err := s.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRole(role),
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(content)},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// ListRecentTurns returns up to limit turns, newest first.
func (s *OpenAIService) ListRecentTurns(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	page, err := s.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Limit: openai.Int(int64(limit)),
		Order: openai.BetaThreadMessageListParamsOrderDesc,
	})
	if err != nil {
		return nil, classify(err)
	}
	turns := make([]Turn, 0, len(page.Data))
	for _, msg := range page.Data {
		turns = append(turns, Turn{Role: string(msg.Role), Content: messageText(msg)})
	}
	return turns, nil
}

// CreateRun starts a run on the thread, declaring the session's tools.
func (s *OpenAIService) CreateRun(ctx context.Context, threadID string, tools []ToolDefinition) (Run, error) {
	params := openai.BetaThreadRunNewParams{AssistantID: s.assistantID}
	for _, def := range tools {
		params.Tools = append(params.Tools, openai.AssistantToolUnionParam{
			OfFunction: &openai.FunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  openai.FunctionParameters(def.Parameters),
				},
			},
		})
	}
	run, err := s.client.Beta.Threads.Runs.New(ctx, threadID, params)
	if err != nil {
		return Run{}, classify(err)
	}
	return convertRun(run), nil
}

// GetRun polls the run state.
func (s *OpenAIService) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := s.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return Run{}, classify(err)
	}
	return convertRun(run), nil
}

// SubmitToolOutputs feeds tool results back into an awaiting run.
func (s *OpenAIService) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error {
	params := openai.BetaThreadRunSubmitToolOutputsParams{}
	for _, out := range outputs {
		params.ToolOutputs = append(params.ToolOutputs,
			openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
				ToolCallID: openai.String(out.CallID),
				Output:     openai.String(out.Output),
			})
	}
	if _, err := s.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, params); err != nil {
		return classify(err)
	}
	return nil
}

// LatestAssistantMessage returns the text of the newest assistant turn.
func (s *OpenAIService) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	// Limit 2 covers the just-sent user turn plus the assistant reply.
	page, err := s.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Limit: openai.Int(2),
		Order: openai.BetaThreadMessageListParamsOrderDesc,
	})
	if err != nil {
		return "", classify(err)
	}
	for _, msg := range page.Data {
		if string(msg.Role) == RoleAssistant {
			return messageText(msg), nil
		}
	}
	return "", nil
}

func convertRun(run *openai.Run) Run {
	out := Run{
		ID:        run.ID,
		Status:    RunStatus(run.Status),
		ErrorCode: string(run.LastError.Code),
		ErrorMsg:  run.LastError.Message,
	}
	for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func messageText(msg openai.Message) string {
	for _, part := range msg.Content {
		if part.Text.Value != "" {
			return part.Text.Value
		}
	}
	return ""
}

// classify maps provider rate/quota failures to ErrQuotaExceeded so the
// manager can roll the thread over; everything else propagates wrapped.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%v: %w", err, ErrQuotaExceeded)
	}
	return fmt.Errorf("openai: %w", err)
}
