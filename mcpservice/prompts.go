package mcpservice

import (
	"context"

	"github.com/ggoodman/litemcp/mcp"
)

// PromptLoader renders a prompt into text. args holds only declared argument
// names, and every required argument is present.
type PromptLoader interface {
	Load(ctx context.Context, args map[string]string) (string, error)
}

// PromptLoaderFunc adapts a plain function to PromptLoader.
type PromptLoaderFunc func(ctx context.Context, args map[string]string) (string, error)

// Load implements PromptLoader.
func (f PromptLoaderFunc) Load(ctx context.Context, args map[string]string) (string, error) {
	return f(ctx, args)
}

// PromptArgument declares a named prompt input.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}

// Prompt is a parameterized text template.
type Prompt struct {
	Name        string
	Description string
	Arguments   []PromptArgument
	Loader      PromptLoader
}

// Descriptor returns the prompts/list entry for p.
func (p Prompt) Descriptor() mcp.Prompt {
	desc := mcp.Prompt{Name: p.Name, Description: p.Description}
	for _, a := range p.Arguments {
		desc.Arguments = append(desc.Arguments, mcp.PromptArgument{
			Name:        a.Name,
			Description: a.Description,
			Required:    a.Required,
		})
	}
	return desc
}

// MissingArgument returns the first required argument, in declaration order,
// that is absent from args.
func (p Prompt) MissingArgument(args map[string]string) (string, bool) {
	for _, a := range p.Arguments {
		if !a.Required {
			continue
		}
		if _, ok := args[a.Name]; !ok {
			return a.Name, true
		}
	}
	return "", false
}

// Bind filters args down to the declared argument names.
func (p Prompt) Bind(args map[string]string) map[string]string {
	out := make(map[string]string, len(p.Arguments))
	for _, a := range p.Arguments {
		if v, ok := args[a.Name]; ok {
			out[a.Name] = v
		}
	}
	return out
}
