package mcpservice

import (
	"context"
	"log/slog"
)

// SlogHandler returns a slog.Handler that forwards records to the client
// through l. Record attributes become the notification context.
func (l *Logger) SlogHandler() slog.Handler {
	return &slogHandler{logger: l}
}

type slogHandler struct {
	logger *Logger
	attrs  []slog.Attr
	groups []string
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Bound() && mcpLevel(level).AtLeast(h.logger.Level())
}

func (h *slogHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(fields, a)
	}
	var own []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		own = append(own, a)
		return true
	})
	if len(own) > 0 {
		target := fields
		for _, g := range h.groups {
			sub, ok := target[g].(map[string]any)
			if !ok {
				sub = map[string]any{}
				target[g] = sub
			}
			target = sub
		}
		for _, a := range own {
			addAttr(target, a)
		}
	}

	var data any
	if len(fields) > 0 {
		data = fields
	}
	h.logger.Log(ctx, mcpLevel(r.Level), r.Message, data)
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	if len(h.groups) > 0 {
		// Nest under the open groups so the shape matches the record attrs.
		nested := slog.Group(h.groups[len(h.groups)-1], attrsToAny(attrs)...)
		for i := len(h.groups) - 2; i >= 0; i-- {
			nested = slog.Group(h.groups[i], nested)
		}
		next.attrs = append(append([]slog.Attr(nil), h.attrs...), nested)
		return &next
	}
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func addAttr(dst map[string]any, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		group := v.Group()
		if len(group) == 0 {
			return
		}
		sub := map[string]any{}
		for _, ga := range group {
			addAttr(sub, ga)
		}
		if a.Key == "" {
			for k, gv := range sub {
				dst[k] = gv
			}
			return
		}
		if existing, ok := dst[a.Key].(map[string]any); ok {
			for k, gv := range sub {
				existing[k] = gv
			}
			return
		}
		dst[a.Key] = sub
		return
	}
	if a.Key == "" {
		return
	}
	dst[a.Key] = v.Any()
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
