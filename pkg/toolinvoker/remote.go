package toolinvoker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"taskengine/internal/utils"
)

// RemoteInvoker dispatches tool calls over the MCP JSON-RPC-style wire
// protocol. It is the remote-procedure transport the Step Executor falls
// back to when an action is not registered locally.
type RemoteInvoker struct {
	mcpClient *client.Client
	logger    utils.ExtendedLogger
}

// NewRemoteInvoker wraps an already-connected mcp-go client.
func NewRemoteInvoker(mcpClient *client.Client, logger utils.ExtendedLogger) *RemoteInvoker {
	return &RemoteInvoker{mcpClient: mcpClient, logger: logger}
}

// Call issues a CallTool request and normalises the mcp-go result into a
// toolinvoker.Result. A successful structured response is decoded into
// Payload when the first text content block is JSON; otherwise the raw
// text is returned.
func (r *RemoteInvoker) Call(ctx context.Context, name string, args map[string]interface{}) (Result, error) {
	if r.mcpClient == nil {
		return Result{}, fmt.Errorf("remote invoker has no connected client")
	}

	callResult, err := r.mcpClient.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		r.logger.Errorf("remote tool call %q failed: %v", name, err)
		return Result{}, fmt.Errorf("remote tool call %q failed: %w", name, err)
	}

	text := firstText(callResult)
	if callResult.IsError {
		return Result{IsError: true, Text: text}, nil
	}

	var decoded interface{}
	if text != "" && json.Unmarshal([]byte(text), &decoded) == nil {
		return Result{Payload: decoded}, nil
	}
	return Result{Payload: text}, nil
}

func firstText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
