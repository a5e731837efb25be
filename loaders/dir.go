package loaders

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ggoodman/litemcp/mcpservice"
)

// Dir walks root and returns one resource per regular file, each backed by
// a FileLoader. URIs are baseURI joined with the escaped relative path.
// Symlinks and paths escaping root are skipped.
func Dir(ctx context.Context, root, baseURI string, opts ...FileOption) ([]mcpservice.Resource, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, errors.New("loaders: " + root + " is not a directory")
	}

	var out []mcpservice.Resource
	err = fs.WalkDir(os.DirFS(root), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort listing
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !validFSPath(p) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		abs := filepath.Join(root, filepath.FromSlash(p))
		if !within(abs, root) {
			return nil
		}
		f := File(abs, opts...)
		out = append(out, mcpservice.Resource{
			URI:      relToURI(baseURI, p),
			Name:     path.Base(p),
			MimeType: f.MimeType(),
			Loader:   f,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func validFSPath(p string) bool {
	if !fs.ValidPath(p) {
		return false
	}
	// Reject Windows volume names and scheme-like segments.
	return !strings.Contains(p, ":")
}

func relToURI(base, rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(segs, "/")
}

// within reports whether target is root or a descendant of root.
func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
