package intercept

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/sentryflect/event"
	"github.com/nextlevelbuilder/sentryflect/rce"
	"github.com/nextlevelbuilder/sentryflect/secpatterns"
)

// MCPToolAdapter wraps an MCP client's CallTool so every tool
// invocation over the protocol becomes a Tool-shaped call the
// ToolInterceptor can instrument (glossary: "MCP" is a generic term for
// any tool/function-calling protocol; mark3labs/mcp-go is the concrete
// stand-in the teacher already depends on).
type MCPToolAdapter struct {
	Client   *mcpclient.Client
	ToolName string
	Desc     string
}

// NewMCPToolAdapter builds an adapter for one named tool served by client.
func NewMCPToolAdapter(client *mcpclient.Client, toolName, description string) *MCPToolAdapter {
	return &MCPToolAdapter{Client: client, ToolName: toolName, Desc: description}
}

func (a *MCPToolAdapter) Name() string        { return a.ToolName }
func (a *MCPToolAdapter) Description() string { return a.Desc }

// Invoke calls the underlying MCP tool and flattens its result content
// into a plain map so ToolInterceptor can safe-serialize it uniformly
// with any other Tool implementation.
func (a *MCPToolAdapter) Invoke(ctx context.Context, input map[string]any) (map[string]any, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = a.ToolName
	req.Params.Arguments = input

	result, err := a.Client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("intercept: mcp call_tool %s: %w", a.ToolName, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("intercept: mcp tool %s returned an error result", a.ToolName)
	}

	return map[string]any{
		"mcp.content": event.Safe(result.Content),
	}, nil
}

// mcpClientDetector is a client-wide Applies(...) check: any
// *mcpclient.Client target is considered instrumentable, supporting
// auto-detection when a host registers several transports and only
// some are actually connected.
type mcpClientDetector struct{}

func (mcpClientDetector) Applies(target any) bool {
	_, ok := target.(*mcpclient.Client)
	return ok
}

// MCPClientDetector is the Instrumentable used to auto-detect a live
// MCP client among candidate targets.
var MCPClientDetector Instrumentable = mcpClientDetector{}

// ExtractMCPShellCommand applies the RCE correlator's gated extraction
// (spec §4.8) to a tool-call input string, for the case where the
// "SQL tool" is itself exposed over MCP.
func ExtractMCPShellCommand(patterns *secpatterns.Registry, sql string) (string, bool) {
	if !rce.IsHighRiskSQL(sql) {
		return "", false
	}
	return patterns.ExtractMCPCommand(sql)
}
