package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/litemcp/auth"
	"github.com/ggoodman/litemcp/internal/jsonrpc"
	"github.com/ggoodman/litemcp/internal/logctx"
	"github.com/ggoodman/litemcp/internal/metrics"
	"github.com/ggoodman/litemcp/mcp"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
	"golang.org/x/time/rate"
)

const (
	defaultMaxMessageSize = 10 << 20
	sessionQueueSize      = 32
	sessionIDParam        = "sessionId"
)

var (
	// ErrClosed is returned when the transport has been shut down.
	ErrClosed = errors.New("sse: transport closed")

	// ErrRateLimited is reported to clients posting faster than the
	// configured per-session limit.
	ErrRateLimited = errors.New("sse: rate limit exceeded")

	jsonMediaType = contenttype.NewMediaType("application/json")
)

// MessageHandler consumes one inbound frame and returns the reply frame, or
// nil when none is due.
type MessageHandler interface {
	HandleMessage(ctx context.Context, data []byte) []byte
}

// Transport serves MCP over HTTP+SSE.
type Transport struct {
	endpoint       string
	port           int
	host           string
	log            *slog.Logger
	authn          auth.Authenticator
	metrics        *metrics.Metrics
	maxMessageSize int64
	rps            rate.Limit
	burst          int

	mu       sync.RWMutex
	ln       net.Listener
	srv      *http.Server
	sessions map[string]*session

	// dispatch contexts outlive the POST that delivered the message.
	baseCtx  context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	inflight sync.WaitGroup
}

type session struct {
	id      string
	userID  string
	limiter *rate.Limiter
	out     chan []byte
	done    chan struct{}
}

// New constructs an SSE transport for endpoint on port. Port 0 picks a free
// port when listening.
func New(endpoint string, port int, opts ...Option) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		endpoint:       endpoint,
		port:           port,
		log:            slog.New(slog.DiscardHandler),
		maxMessageSize: defaultMaxMessageSize,
		rps:            rate.Inf,
		sessions:       make(map[string]*session),
		baseCtx:        ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name identifies the transport in readiness output.
func (t *Transport) Name() string { return "sse" }

// MessagePath is the path clients POST to.
func (t *Transport) MessagePath() string {
	return strings.TrimSuffix(t.endpoint, "/") + "/message"
}

// Listen opens the listening socket. Serve calls it when needed; calling it
// first lets callers learn the bound address.
func (t *Transport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(t.host, strconv.Itoa(t.port)))
	if err != nil {
		return fmt.Errorf("sse: listen: %w", err)
	}
	t.ln = ln
	return nil
}

// URL returns the stream URL once listening, or "" before.
func (t *Transport) URL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.ln == nil {
		return ""
	}
	host := t.host
	if host == "" {
		host = "localhost"
	}
	_, port, _ := net.SplitHostPort(t.ln.Addr().String())
	return "http://" + net.JoinHostPort(host, port) + t.endpoint
}

// Handler returns the HTTP handler dispatching to h. It is exposed so the
// transport can be mounted on an existing server.
func (t *Transport) Handler(h MessageHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return auth.Middleware(t.authn, next) })
		r.Get(t.endpoint, t.handleStream)
		r.Post(t.MessagePath(), func(w http.ResponseWriter, req *http.Request) {
			t.handlePost(w, req, h)
		})
	})
	if t.metrics != nil {
		r.Method(http.MethodGet, "/metrics", t.metrics.Handler())
	}
	return r
}

// Serve listens and serves until ctx is canceled or Close is called.
func (t *Transport) Serve(ctx context.Context, h MessageHandler) error {
	if err := t.Listen(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.srv != nil {
		t.mu.Unlock()
		return errors.New("sse: already serving")
	}
	t.srv = &http.Server{
		Handler:           t.Handler(h),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(t.log.Handler(), slog.LevelWarn),
	}
	srv, ln := t.srv, t.ln
	t.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	t.log.InfoContext(ctx, "sse.serve.start", slog.String("url", t.URL()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := t.Close(shutdownCtx); err != nil {
			t.log.WarnContext(ctx, "transport.error", slog.String("op", "shutdown"), slog.String("err", err.Error()))
		}
		<-errc
		t.log.InfoContext(ctx, "sse.serve.stop", slog.String("reason", "context canceled"))
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			t.log.InfoContext(ctx, "sse.serve.stop", slog.String("reason", "closed"))
			return nil
		}
		t.log.ErrorContext(ctx, "transport.error", slog.String("err", err.Error()))
		return fmt.Errorf("sse: serve: %w", err)
	}
}

// Notify broadcasts a server-to-client notification to every open stream.
func (t *Transport) Notify(ctx context.Context, method mcp.Method, params any) error {
	note, err := jsonrpc.NewNotification(string(method), params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("sse: marshal notification: %w", err)
	}
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	t.mu.RLock()
	targets := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		targets = append(targets, s)
	}
	t.mu.RUnlock()
	for _, s := range targets {
		t.enqueue(ctx, s, b)
	}
	return nil
}

// Sessions reports the number of open streams.
func (t *Transport) Sessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Close ends all streams and shuts the HTTP server down. In-flight handlers
// are canceled and awaited.
func (t *Transport) Close(ctx context.Context) error {
	var err error
	t.once.Do(func() {
		close(t.done)
		t.cancel()
		t.mu.RLock()
		srv := t.srv
		ln := t.ln
		t.mu.RUnlock()
		if srv != nil {
			err = srv.Shutdown(ctx)
		} else if ln != nil {
			err = ln.Close()
		}
		t.inflight.Wait()
	})
	return err
}

func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), requestData(r))

	select {
	case <-t.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	stream, err := sse.Upgrade(w, r)
	if err != nil {
		t.log.ErrorContext(ctx, "sse.stream.upgrade.fail", slog.String("err", err.Error()))
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	s := &session{
		id:      uuid.NewString(),
		limiter: rate.NewLimiter(t.rps, t.burst),
		out:     make(chan []byte, sessionQueueSize),
		done:    make(chan struct{}),
	}
	if u, ok := auth.UserFromContext(r.Context()); ok {
		s.userID = u.UserID()
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: s.id, Transport: "sse", UserID: s.userID})

	t.mu.Lock()
	t.sessions[s.id] = s
	t.mu.Unlock()
	t.metrics.SessionOpened()
	defer func() {
		t.mu.Lock()
		delete(t.sessions, s.id)
		t.mu.Unlock()
		close(s.done)
		t.metrics.SessionClosed()
	}()

	ev := sse.Message{Type: sse.Type("endpoint")}
	ev.AppendData(t.MessagePath() + "?" + sessionIDParam + "=" + s.id)
	if err := send(stream, &ev); err != nil {
		t.log.ErrorContext(ctx, "transport.error", slog.String("op", "endpoint"), slog.String("err", err.Error()))
		return
	}
	t.log.InfoContext(ctx, "sse.stream.open")

	for {
		select {
		case <-r.Context().Done():
			t.log.InfoContext(ctx, "sse.stream.close", slog.String("reason", "client gone"))
			return
		case <-t.done:
			t.log.InfoContext(ctx, "sse.stream.close", slog.String("reason", "shutdown"))
			return
		case data := <-s.out:
			msg := sse.Message{Type: sse.Type("message")}
			msg.AppendData(string(data))
			if err := send(stream, &msg); err != nil {
				t.log.WarnContext(ctx, "transport.error", slog.String("op", "write"), slog.String("err", err.Error()))
				return
			}
		}
	}
}

func send(stream *sse.Session, msg *sse.Message) error {
	if err := stream.Send(msg); err != nil {
		return err
	}
	return stream.Flush()
}

func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request, h MessageHandler) {
	start := time.Now()
	ctx := logctx.WithRequestData(r.Context(), requestData(r))

	id := r.URL.Query().Get(sessionIDParam)
	t.mu.RLock()
	s, ok := t.sessions[id]
	t.mu.RUnlock()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		t.log.WarnContext(ctx, "sse.post.session_unknown", slog.String("session_id", id))
		return
	}
	if u, ok := auth.UserFromContext(r.Context()); ok && s.userID != "" && u.UserID() != s.userID {
		// Treat another user's session as nonexistent.
		writeJSONError(w, http.StatusNotFound, "unknown session")
		t.log.WarnContext(ctx, "sse.post.session_user_mismatch", slog.String("session_id", id))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: s.id, Transport: "sse", UserID: s.userID})

	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusTooManyRequests, ErrRateLimited.Error())
		t.log.WarnContext(ctx, "sse.post.rate_limited")
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		t.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.maxMessageSize))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unable to read body")
		t.log.WarnContext(ctx, "sse.post.read.fail", slog.String("err", err.Error()))
		return
	}
	if !json.Valid(body) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		t.log.WarnContext(ctx, "json.decode.fail")
		return
	}

	select {
	case <-t.done:
		writeJSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	default:
	}

	// Dispatch detached from the POST; the reply travels on the stream.
	dctx := logctx.WithSessionData(t.baseCtx, &logctx.SessionData{SessionID: s.id, Transport: "sse", UserID: s.userID})
	if u, ok := auth.UserFromContext(r.Context()); ok {
		dctx = auth.WithUser(dctx, u)
	}
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		reply := h.HandleMessage(dctx, body)
		if reply != nil {
			t.enqueue(dctx, s, reply)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "Accepted")
	t.log.InfoContext(ctx, "sse.post.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

// enqueue hands data to the session's stream loop, dropping it if the
// stream has ended.
func (t *Transport) enqueue(ctx context.Context, s *session, data []byte) {
	select {
	case s.out <- data:
	case <-s.done:
		t.log.WarnContext(ctx, "sse.session.gone", slog.String("session_id", s.id))
	case <-t.done:
	}
}

func requestData(r *http.Request) *logctx.RequestData {
	return &logctx.RequestData{
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
}

// writeJSONError emits a transport-level rejection body. It does not use
// JSON-RPC framing.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
