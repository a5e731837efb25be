package mcpservice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ggoodman/litemcp/mcp"
)

var (
	// ErrDuplicate is returned when a tool name, resource URI or prompt name is
	// already registered. The first registration is kept.
	ErrDuplicate = errors.New("already registered")
	// ErrSealed is returned when registering after the server has started.
	ErrSealed = errors.New("registry is sealed")
	// ErrInvalidDefinition is returned for a definition missing its key or handler.
	ErrInvalidDefinition = errors.New("invalid definition")
)

// Registry holds the tools, resources and prompts a server exposes. Each
// collection keeps registration order for listings and an index for O(1)
// lookup by key. Registry is safe for concurrent use and becomes read-only
// once sealed.
type Registry struct {
	mu     sync.RWMutex
	sealed bool

	tools     []Tool
	toolIndex map[string]int

	resources     []Resource
	resourceIndex map[string]int

	prompts     []Prompt
	promptIndex map[string]int
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		toolIndex:     make(map[string]int),
		resourceIndex: make(map[string]int),
		promptIndex:   make(map[string]int),
	}
}

// AddTool registers t under t.Name.
func (r *Registry) AddTool(t Tool) error {
	if t.Name == "" || t.Executor == nil {
		return fmt.Errorf("tool %q: %w", t.Name, ErrInvalidDefinition)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("tool %q: %w", t.Name, ErrSealed)
	}
	if _, exists := r.toolIndex[t.Name]; exists {
		return fmt.Errorf("tool %q: %w", t.Name, ErrDuplicate)
	}
	r.toolIndex[t.Name] = len(r.tools)
	r.tools = append(r.tools, t)
	return nil
}

// AddResource registers res under res.URI.
func (r *Registry) AddResource(res Resource) error {
	if res.URI == "" || res.Loader == nil {
		return fmt.Errorf("resource %q: %w", res.URI, ErrInvalidDefinition)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("resource %q: %w", res.URI, ErrSealed)
	}
	if _, exists := r.resourceIndex[res.URI]; exists {
		return fmt.Errorf("resource %q: %w", res.URI, ErrDuplicate)
	}
	r.resourceIndex[res.URI] = len(r.resources)
	r.resources = append(r.resources, res)
	return nil
}

// AddPrompt registers p under p.Name.
func (r *Registry) AddPrompt(p Prompt) error {
	if p.Name == "" || p.Loader == nil {
		return fmt.Errorf("prompt %q: %w", p.Name, ErrInvalidDefinition)
	}
	for i, a := range p.Arguments {
		if a.Name == "" {
			return fmt.Errorf("prompt %q argument %d: %w", p.Name, i, ErrInvalidDefinition)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("prompt %q: %w", p.Name, ErrSealed)
	}
	if _, exists := r.promptIndex[p.Name]; exists {
		return fmt.Errorf("prompt %q: %w", p.Name, ErrDuplicate)
	}
	r.promptIndex[p.Name] = len(r.prompts)
	r.prompts = append(r.prompts, p)
	return nil
}

// FindTool looks up a tool by exact, case-sensitive name.
func (r *Registry) FindTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.toolIndex[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// FindResource looks up a resource by exact URI.
func (r *Registry) FindResource(uri string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.resourceIndex[uri]
	if !ok {
		return Resource{}, false
	}
	return r.resources[i], true
}

// FindPrompt looks up a prompt by exact, case-sensitive name.
func (r *Registry) FindPrompt(name string) (Prompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.promptIndex[name]
	if !ok {
		return Prompt{}, false
	}
	return r.prompts[i], true
}

// Tools returns a copy of the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Resources returns a copy of the registered resources in registration order.
func (r *Registry) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resource, len(r.resources))
	copy(out, r.resources)
	return out
}

// Prompts returns a copy of the registered prompts in registration order.
func (r *Registry) Prompts() []Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Prompt, len(r.prompts))
	copy(out, r.prompts)
	return out
}

// Seal makes the registry read-only. Sealing twice is a no-op.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Capabilities derives the advertised capability set. Tools, resources and
// prompts are present only when at least one of each is registered; logging
// is always present.
func (r *Registry) Capabilities() mcp.ServerCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := mcp.ServerCapabilities{Logging: &mcp.LoggingCapability{}}
	if len(r.tools) > 0 {
		caps.Tools = &mcp.ToolsCapability{}
	}
	if len(r.resources) > 0 {
		caps.Resources = &mcp.ResourcesCapability{}
	}
	if len(r.prompts) > 0 {
		caps.Prompts = &mcp.PromptsCapability{}
	}
	return caps
}
