package memory

import (
	"context"
	"fmt"

	"github.com/avablake/emcee/tool"
)

// StoreToolName is the function name the assistant calls to persist a memory.
const StoreToolName = "store_user_memory"

// NewStoreTool exposes the engine's write path as a callable tool. The
// assistant invokes it when a chatter says something worth remembering.
func NewStoreTool(engine *Engine) tool.Tool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"username": map[string]any{
				"type":        "string",
				"description": "Twitch username the memory belongs to, without the @ prefix",
			},
			"memory": map[string]any{
				"type":        "string",
				"description": "A short statement worth remembering about this user",
			},
		},
		"required": []string{"username", "memory"},
	}
	return tool.NewFunctionTool(
		StoreToolName,
		"Store a long-term memory about a specific chat user",
		params,
		func(ctx context.Context, args map[string]any) (any, error) {
			username, _ := args["username"].(string)
			text, _ := args["memory"].(string)
			if err := engine.StoreMemory(ctx, username, text); err != nil {
				return nil, err
			}
			return fmt.Sprintf("memory stored for %s", username), nil
		},
	)
}
