// Package loaders provides mcpservice.ResourceLoader implementations backed
// by the local filesystem and Redis.
package loaders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ggoodman/litemcp/mcpservice"
)

// DefaultMimeType is reported when the extension is not recognized.
const DefaultMimeType = "application/octet-stream"

// MimeType guesses a mime type from the file extension.
func MimeType(path string) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		return mt
	}
	return DefaultMimeType
}

// payloadFor returns text for valid UTF-8 and a blob otherwise.
func payloadFor(data []byte) mcpservice.ResourcePayload {
	if utf8.Valid(data) {
		return mcpservice.TextPayload(string(data))
	}
	return mcpservice.BlobPayload(data)
}

// FileLoader reads a file and caches its contents. Watch keeps the cache
// fresh; without it every Load rereads the file.
type FileLoader struct {
	path string
	log  *slog.Logger

	mu       sync.RWMutex
	watching bool
	gen      uint64
	cached   *mcpservice.ResourcePayload
}

// FileOption customizes a FileLoader.
type FileOption func(*FileLoader)

// WithFileLogger sets the logger used for watch diagnostics.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(f *FileLoader) {
		if l != nil {
			f.log = l
		}
	}
}

// File returns a loader for path.
func File(path string, opts ...FileOption) *FileLoader {
	f := &FileLoader{path: path, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the file path.
func (f *FileLoader) Path() string { return f.path }

// MimeType returns the mime type derived from the path.
func (f *FileLoader) MimeType() string { return MimeType(f.path) }

// Load implements mcpservice.ResourceLoader.
func (f *FileLoader) Load(ctx context.Context) (mcpservice.ResourcePayload, error) {
	f.mu.RLock()
	if f.cached != nil {
		p := *f.cached
		f.mu.RUnlock()
		return p, nil
	}
	watching, gen := f.watching, f.gen
	f.mu.RUnlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mcpservice.ResourcePayload{}, fmt.Errorf("file not found: %s", f.path)
		}
		return mcpservice.ResourcePayload{}, fmt.Errorf("read %s: %w", f.path, err)
	}
	p := payloadFor(data)
	if watching {
		f.mu.Lock()
		// Skip the store if the file changed while it was being read.
		if f.gen == gen && f.watching {
			f.cached = &p
		}
		f.mu.Unlock()
	}
	return p, nil
}

// Watch caches file contents and drops the cache whenever the file changes.
// It blocks until ctx is done. To watch many files, use a shared Watcher.
func (f *FileLoader) Watch(ctx context.Context) error {
	w, err := NewWatcher(f.log)
	if err != nil {
		return err
	}
	if err := w.Add(f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Run(ctx)
}

func (f *FileLoader) invalidate() {
	f.mu.Lock()
	f.gen++
	f.cached = nil
	f.mu.Unlock()
}

var _ mcpservice.ResourceLoader = (*FileLoader)(nil)
