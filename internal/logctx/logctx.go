package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with request-scoped groups carried in the
// context: req (HTTP), sess (transport session), rpc (JSON-RPC message) and
// target (the tool, resource or prompt being dispatched).
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("method", rd.Method),
			slog.String("path", rd.Path),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("user_agent", rd.UserAgent),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("transport", sd.Transport),
			slog.String("user_id", sd.UserID),
		))
	}

	if msg, ok := ctx.Value(rpcMsgKey{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	if td, ok := ctx.Value(targetKey{}).(*Target); ok {
		r.AddAttrs(slog.Group("target",
			slog.String("kind", td.Kind),
			slog.String("name", td.Name),
		))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the decoration in place on derived loggers.
func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the decoration in place on derived loggers.
func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type rpcMsgKey struct{}

// RPCMessage identifies the JSON-RPC message being handled.
type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsgKey{}, msg)
}

type requestDataKey struct{}

// RequestData describes the inbound HTTP request, for the SSE transport.
type RequestData struct {
	Method     string
	Path       string
	RemoteAddr string
	UserAgent  string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type sessionDataKey struct{}

// SessionData identifies the transport-level session.
type SessionData struct {
	SessionID string
	Transport string
	UserID    string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type targetKey struct{}

// Target names the registry entry a request is dispatched to.
type Target struct {
	Kind string // "tool", "resource" or "prompt"
	Name string
}

func WithTarget(ctx context.Context, data *Target) context.Context {
	return context.WithValue(ctx, targetKey{}, data)
}
