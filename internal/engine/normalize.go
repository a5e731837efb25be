package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/litemcp/mcp"
	"github.com/ggoodman/litemcp/mcpservice"
)

// normalizeToolResult converts an executor's return value into a tool result.
func normalizeToolResult(v any) (*mcp.CallToolResult, error) {
	switch r := v.(type) {
	case string:
		return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(r)}}, nil
	case *mcp.CallToolResult:
		if r != nil {
			if r.Content == nil {
				r.Content = []mcp.ContentBlock{}
			}
			return r, nil
		}
	case mcp.CallToolResult:
		if r.Content == nil {
			r.Content = []mcp.ContentBlock{}
		}
		return &r, nil
	case mcp.ContentBlock:
		return &mcp.CallToolResult{Content: []mcp.ContentBlock{r}}, nil
	case []mcp.ContentBlock:
		return &mcp.CallToolResult{Content: r}, nil
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("cannot encode result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(string(b))}}, nil
}

// promptArguments flattens raw argument values to strings. JSON strings are
// unquoted; any other JSON value is passed through as its literal text.
func promptArguments(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}

// panicError reports a recovered panic from user code.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func execute(ctx context.Context, x mcpservice.ToolExecutor, args any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, panicError{value: r}
		}
	}()
	return x.Execute(ctx, args)
}

func load(ctx context.Context, l mcpservice.ResourceLoader) (p mcpservice.ResourcePayload, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = mcpservice.ResourcePayload{}, panicError{value: r}
		}
	}()
	return l.Load(ctx)
}

func render(ctx context.Context, l mcpservice.PromptLoader, args map[string]string) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = "", panicError{value: r}
		}
	}()
	return l.Load(ctx, args)
}
