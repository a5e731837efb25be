package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/litemcp/mcp"
	"github.com/invopop/jsonschema"
	qjs "github.com/qri-io/jsonschema"
)

// Option configures For.
type Option func(*reflectConfig)

type reflectConfig struct {
	allowAdditionalProperties bool
}

// WithAdditionalProperties controls whether unknown fields are accepted. When
// false (the default) the reflected schema sets additionalProperties=false.
func WithAdditionalProperties(allow bool) Option {
	return func(c *reflectConfig) { c.allowAdditionalProperties = allow }
}

// Typed is a Schema reflected from the Go type T. Validate returns a T.
type Typed[T any] struct {
	compiled *qjs.Schema
	desc     mcp.ToolInputSchema
}

var _ Schema = (*Typed[struct{}])(nil)

// For reflects T into a JSON Schema using invopop/jsonschema and compiles it
// for validation. T should be a struct; other kinds describe as an empty
// object. It panics if the reflected document cannot be compiled, which only
// happens for types the reflector cannot express.
func For[T any](opts ...Option) *Typed[T] {
	cfg := reflectConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: cfg.allowAdditionalProperties,
	}
	s := r.Reflect(new(T))
	// The validator resolves $id against a global registry; keep reflected
	// documents anonymous.
	s.ID = ""
	s.Version = ""

	doc, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Errorf("schema: marshal reflected %T: %w", *new(T), err))
	}
	compiled := &qjs.Schema{}
	if err := json.Unmarshal(doc, compiled); err != nil {
		panic(fmt.Errorf("schema: compile reflected %T: %w", *new(T), err))
	}

	return &Typed[T]{
		compiled: compiled,
		desc:     toInputSchema(s, cfg.allowAdditionalProperties),
	}
}

// Validate checks raw and decodes it into a T.
func (t *Typed[T]) Validate(ctx context.Context, raw json.RawMessage) (any, error) {
	data := normalize(raw)
	if err := check(ctx, t.compiled, data); err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &ValidationError{Errors: []FieldError{{Message: err.Error()}}}
	}
	return v, nil
}

// Describe returns the advertised input schema.
func (t *Typed[T]) Describe() mcp.ToolInputSchema {
	return t.desc
}

// toInputSchema converts a reflected schema into the simplified
// mcp.ToolInputSchema. Only object schemas map cleanly; anything else is
// exposed as an empty object.
func toInputSchema(s *jsonschema.Schema, allowAdditional bool) mcp.ToolInputSchema {
	out := mcp.ToolInputSchema{Type: "object"}
	if !allowAdditional {
		f := false
		out.AdditionalProperties = &f
	}
	if s == nil || s.Type != "object" {
		out.Properties = map[string]mcp.SchemaProperty{}
		return out
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toProperty(el.Value)
		}
	}
	out.Properties = props
	if len(s.Required) > 0 {
		out.Required = append([]string(nil), s.Required...)
	}
	return out
}

// toProperty recursively maps a reflected node to mcp.SchemaProperty.
func toProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Format:      s.Format,
		Default:     s.Default,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Minimum != "" {
		if f, err := s.Minimum.Float64(); err == nil {
			p.Minimum = &f
		}
	}
	if s.Maximum != "" {
		if f, err := s.Maximum.Float64(); err == nil {
			p.Maximum = &f
		}
	}
	if s.Type == "array" && s.Items != nil {
		item := toProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toProperty(el.Value)
		}
		p.Properties = m
		if len(s.Required) > 0 {
			p.Required = append([]string(nil), s.Required...)
		}
	}
	return p
}
