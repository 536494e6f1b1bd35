package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the swcache tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	registerTool(srv, &mcp.Tool{
		Name:        "swcache_status",
		Description: "Configured version, lifecycle state and which version controls requests.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.Status(ctx)
	})

	registerTool(srv, &mcp.Tool{
		Name:        "swcache_partitions",
		Description: "List cache partitions with their entry counts and whether the current version owns them.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.Partitions(ctx)
	})

	registerTool(srv, &mcp.Tool{
		Name:        "swcache_activate",
		Description: "Re-run activation: delete partitions of other versions and take control. Idempotent.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.Activate(ctx)
	})

	registerTool(srv, &mcp.Tool{
		Name:        "swcache_events",
		Description: "Recent cache events (hits, misses, stores, guard rejections, fallbacks), newest first.",
		InputSchema: inputSchema(map[string]any{
			"kind":  map[string]any{"type": "string", "description": "Filter by event kind, e.g. guard_reject"},
			"limit": map[string]any{"type": "integer", "description": "Max events (default 100)"},
		}, nil),
	}, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var r struct {
			Kind  string `json:"kind"`
			Limit int    `json:"limit"`
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		return s.Events(ctx, r.Kind, r.Limit)
	})
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// registerTool adapts fn to an MCP tool whose result is fn's value as JSON
// text. Errors become tool errors, not protocol errors.
func registerTool(srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, args json.RawMessage) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := fn(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}
