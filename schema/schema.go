package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ggoodman/litemcp/mcp"
	qjs "github.com/qri-io/jsonschema"
)

// Schema is a validator that knows how to describe itself.
//
// Validate must not panic on malformed input. A rejected input is reported
// as a *ValidationError; any other error is a defect in the schema itself.
// Describe is pure and returns the same value on every call.
type Schema interface {
	Validate(ctx context.Context, raw json.RawMessage) (any, error)
	Describe() mcp.ToolInputSchema
}

// FieldError is a single validation failure.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports why an input was rejected.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "invalid input"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Path == "" || fe.Path == "/" {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fe.Path+": "+fe.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// normalize treats absent arguments as an empty object.
func normalize(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []byte("{}")
	}
	return trimmed
}

// check runs the compiled validator against raw and converts any failures.
func check(ctx context.Context, s *qjs.Schema, raw []byte) error {
	errs, err := s.ValidateBytes(ctx, raw)
	if err != nil {
		return &ValidationError{Errors: []FieldError{{Message: fmt.Sprintf("malformed JSON: %v", err)}}}
	}
	if len(errs) == 0 {
		return nil
	}
	out := make([]FieldError, 0, len(errs))
	for _, ke := range errs {
		out = append(out, FieldError{Path: ke.PropertyPath, Message: ke.Message})
	}
	return &ValidationError{Errors: out}
}

// Document is a Schema backed by a hand-written JSON-Schema document.
type Document struct {
	compiled *qjs.Schema
	desc     mcp.ToolInputSchema
}

var _ Schema = (*Document)(nil)

// Compile parses doc as a JSON-Schema document.
func Compile(doc string) (*Document, error) {
	compiled := &qjs.Schema{}
	if err := json.Unmarshal([]byte(doc), compiled); err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	var desc mcp.ToolInputSchema
	if err := json.Unmarshal([]byte(doc), &desc); err != nil {
		return nil, fmt.Errorf("schema: describe: %w", err)
	}
	if desc.Type == "" {
		desc.Type = "object"
	}
	return &Document{compiled: compiled, desc: desc}, nil
}

// MustCompile is like Compile but panics on error. It is meant for
// package-level schema variables.
func MustCompile(doc string) *Document {
	d, err := Compile(doc)
	if err != nil {
		panic(err)
	}
	return d
}

// Validate checks raw against the document and returns the decoded JSON value.
func (d *Document) Validate(ctx context.Context, raw json.RawMessage) (any, error) {
	data := normalize(raw)
	if err := check(ctx, d.compiled, data); err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &ValidationError{Errors: []FieldError{{Message: err.Error()}}}
	}
	return v, nil
}

// Describe returns the advertised input schema.
func (d *Document) Describe() mcp.ToolInputSchema {
	return d.desc
}
