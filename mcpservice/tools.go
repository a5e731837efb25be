package mcpservice

import (
	"context"
	"fmt"

	"github.com/ggoodman/litemcp/mcp"
	"github.com/ggoodman/litemcp/schema"
)

// ToolExecutor runs a tool. args is whatever the tool's schema produced from
// the caller's arguments, or nil when the tool declares no schema.
//
// The returned value is normalized by the engine: a string becomes a single
// text block, a *mcp.CallToolResult or content blocks pass through as-is, and
// anything else is rendered as indented JSON. A returned error is reported to
// the caller as an error result rather than a protocol failure.
type ToolExecutor interface {
	Execute(ctx context.Context, args any) (any, error)
}

// ToolFunc adapts a plain function to ToolExecutor.
type ToolFunc func(ctx context.Context, args any) (any, error)

// Execute implements ToolExecutor.
func (f ToolFunc) Execute(ctx context.Context, args any) (any, error) {
	return f(ctx, args)
}

// Tool is a named operation a client may invoke.
type Tool struct {
	Name        string
	Description string
	// Parameters validates and converts call arguments. When nil, arguments
	// are ignored and the executor receives nil.
	Parameters schema.Schema
	Executor   ToolExecutor
}

// Descriptor returns the tools/list entry for t.
func (t Tool) Descriptor() mcp.Tool {
	desc := mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: mcp.ToolInputSchema{Type: "object"},
	}
	if t.Parameters != nil {
		desc.InputSchema = t.Parameters.Describe()
	}
	return desc
}

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the reflected schema sets additionalProperties=false
// and validation rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a Tool from a typed args struct A. The input schema is
// reflected from A, and fn receives the validated, decoded arguments.
func NewTool[A any](name string, fn func(ctx context.Context, args A) (any, error), opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return Tool{
		Name:        name,
		Description: cfg.description,
		Parameters:  schema.For[A](schema.WithAdditionalProperties(cfg.allowAdditionalProperties)),
		Executor: ToolFunc(func(ctx context.Context, args any) (any, error) {
			a, ok := args.(A)
			if !ok {
				return nil, fmt.Errorf("unexpected argument type %T", args)
			}
			return fn(ctx, a)
		}),
	}
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(s)}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(msg)}, IsError: true}
}
