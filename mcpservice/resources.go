package mcpservice

import (
	"context"
	"encoding/base64"

	"github.com/ggoodman/litemcp/mcp"
)

// ResourcePayload is the content of a resource: either text or binary, never
// both. The zero value is an empty text payload.
type ResourcePayload struct {
	text   string
	blob   []byte
	isBlob bool
}

// TextPayload returns a text payload.
func TextPayload(text string) ResourcePayload {
	return ResourcePayload{text: text}
}

// BlobPayload returns a binary payload. It is base64-encoded on the wire.
func BlobPayload(b []byte) ResourcePayload {
	return ResourcePayload{blob: b, isBlob: true}
}

// IsBlob reports whether the payload is binary.
func (p ResourcePayload) IsBlob() bool { return p.isBlob }

// Text returns the text of a text payload.
func (p ResourcePayload) Text() string { return p.text }

// Blob returns the bytes of a binary payload.
func (p ResourcePayload) Blob() []byte { return p.blob }

// Contents renders the payload as a resources/read entry.
func (p ResourcePayload) Contents(uri, mimeType string) mcp.ResourceContents {
	c := mcp.ResourceContents{URI: uri, MimeType: mimeType}
	if p.isBlob {
		c.Blob = base64.StdEncoding.EncodeToString(p.blob)
		c.Binary = true
		return c
	}
	c.Text = p.text
	return c
}

// ResourceLoader produces the current content of a resource.
type ResourceLoader interface {
	Load(ctx context.Context) (ResourcePayload, error)
}

// ResourceLoaderFunc adapts a plain function to ResourceLoader.
type ResourceLoaderFunc func(ctx context.Context) (ResourcePayload, error)

// Load implements ResourceLoader.
func (f ResourceLoaderFunc) Load(ctx context.Context) (ResourcePayload, error) {
	return f(ctx)
}

// StaticText returns a loader that always yields text.
func StaticText(text string) ResourceLoader {
	return ResourceLoaderFunc(func(context.Context) (ResourcePayload, error) {
		return TextPayload(text), nil
	})
}

// StaticBlob returns a loader that always yields b.
func StaticBlob(b []byte) ResourceLoader {
	return ResourceLoaderFunc(func(context.Context) (ResourcePayload, error) {
		return BlobPayload(b), nil
	})
}

// Resource is addressable content identified by URI.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Loader      ResourceLoader
}

// Descriptor returns the resources/list entry for r.
func (r Resource) Descriptor() mcp.Resource {
	return mcp.Resource{
		URI:         r.URI,
		Name:        r.Name,
		Description: r.Description,
		MimeType:    r.MimeType,
	}
}
