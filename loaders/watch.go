package loaders

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/litemcp/mcpservice"
)

// Watcher keeps many FileLoaders fresh from a single fsnotify watcher. Each
// parent directory is watched once no matter how many files it holds.
type Watcher struct {
	fsw   *fsnotify.Watcher
	log   *slog.Logger
	dirs  map[string]struct{}
	files map[string][]*FileLoader
}

// NewWatcher opens the underlying fsnotify watcher. A nil logger discards
// diagnostics.
func NewWatcher(log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		fsw:   fsw,
		log:   log,
		dirs:  make(map[string]struct{}),
		files: make(map[string][]*FileLoader),
	}, nil
}

// Add registers f. Directories rather than files are watched so atomic
// renames over a file are seen. Add must not be called once Run has started.
func (w *Watcher) Add(f *FileLoader) error {
	target := filepath.Clean(f.path)
	dir := filepath.Dir(target)
	if _, ok := w.dirs[dir]; !ok {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.dirs[dir] = struct{}{}
	}
	w.files[target] = append(w.files[target], f)
	return nil
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run enables caching on every registered loader and invalidates a loader's
// cache whenever its file changes. It blocks until ctx is done and closes
// the watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.setWatching(true)
	defer w.setWatching(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			for _, f := range w.files[filepath.Clean(ev.Name)] {
				f.invalidate()
				w.log.DebugContext(ctx, "loader.file.invalidate", slog.String("path", f.path), slog.String("op", ev.Op.String()))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WarnContext(ctx, "loader.file.watch_error", slog.String("err", err.Error()))
		}
	}
}

func (w *Watcher) setWatching(on bool) {
	for _, group := range w.files {
		for _, f := range group {
			f.mu.Lock()
			f.watching = on
			if !on {
				f.cached = nil
			}
			f.mu.Unlock()
		}
	}
}

// Watch runs one shared Watcher over every FileLoader backing resources.
// Resources with other loaders are ignored. It blocks until ctx is done.
func Watch(ctx context.Context, log *slog.Logger, resources ...mcpservice.Resource) error {
	w, err := NewWatcher(log)
	if err != nil {
		return err
	}
	for _, r := range resources {
		f, ok := r.Loader.(*FileLoader)
		if !ok {
			continue
		}
		if err := w.Add(f); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Run(ctx)
}
