// Package litemcp is a small framework for building Model Context Protocol
// servers. Register tools, resources and prompts on a Server, then call Start
// to serve them over stdio or HTTP+SSE until the process is interrupted.
//
//	srv := litemcp.New("echo", "1.0.0")
//	_ = srv.AddTool(mcpservice.NewTool("echo", func(ctx context.Context, a EchoArgs) (any, error) {
//	    return a.Message, nil
//	}))
//	if err := srv.Start(ctx, config.Stdio()); err != nil {
//	    log.Fatal(err)
//	}
package litemcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ggoodman/litemcp/auth"
	"github.com/ggoodman/litemcp/config"
	"github.com/ggoodman/litemcp/internal/engine"
	"github.com/ggoodman/litemcp/internal/logctx"
	"github.com/ggoodman/litemcp/internal/metrics"
	"github.com/ggoodman/litemcp/mcp"
	"github.com/ggoodman/litemcp/mcpservice"
	"github.com/ggoodman/litemcp/sse"
	"github.com/ggoodman/litemcp/stdio"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("litemcp: server already started")

const shutdownTimeout = 5 * time.Second

// State is the lifecycle phase of a Server.
type State int32

const (
	StateUnstarted State = iota
	StateStarting
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Server owns the registry, the diagnostic logger and the lifecycle of one
// transport.
type Server struct {
	name         string
	version      string
	instructions string

	log      *slog.Logger
	levelVar *slog.LevelVar
	registry *mcpservice.Registry
	diag     *mcpservice.Logger
	metrics  *metrics.Metrics
	authn    auth.Authenticator

	stdioOpts     []stdio.Option
	sseOpts       []sse.Option
	handleSignals bool
	onReady       func(addr string)

	state atomic.Int32
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the operational logger. It must not write to stdout when
// serving over stdio. Defaults to a text handler on stderr.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLevelVar lets logging/setLevel also adjust the operational log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(s *Server) { s.levelVar = lv }
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(text string) Option {
	return func(s *Server) { s.instructions = text }
}

// WithAuthenticator requires bearer tokens on the SSE transport.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *Server) { s.authn = a }
}

// WithMetrics enables Prometheus metrics. The SSE transport serves them on
// GET /metrics.
func WithMetrics() Option {
	return func(s *Server) { s.metrics = metrics.New(s.name) }
}

// WithStdioOptions passes options to the stdio transport.
func WithStdioOptions(opts ...stdio.Option) Option {
	return func(s *Server) { s.stdioOpts = append(s.stdioOpts, opts...) }
}

// WithSSEOptions passes options to the SSE transport.
func WithSSEOptions(opts ...sse.Option) Option {
	return func(s *Server) { s.sseOpts = append(s.sseOpts, opts...) }
}

// WithoutSignalHandling stops Start from trapping SIGINT and SIGTERM.
// Shutdown then happens only through ctx or transport EOF.
func WithoutSignalHandling() Option {
	return func(s *Server) { s.handleSignals = false }
}

// WithReadyHook is called with the transport address once the server is
// running.
func WithReadyHook(fn func(addr string)) Option {
	return func(s *Server) { s.onReady = fn }
}

// New creates an unstarted server.
func New(name, version string, opts ...Option) *Server {
	s := &Server{
		name:          name,
		version:       version,
		log:           slog.New(slog.NewTextHandler(os.Stderr, nil)),
		registry:      mcpservice.NewRegistry(),
		handleSignals: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = slog.New(logctx.Handler{Handler: s.log.Handler()})
	loggerOpts := []mcpservice.LoggerOption{mcpservice.WithLoggerSlog(s.log)}
	if s.levelVar != nil {
		loggerOpts = append(loggerOpts, mcpservice.WithLevelVar(s.levelVar))
	}
	s.diag = mcpservice.NewLogger(loggerOpts...)
	return s
}

// Name returns the server name advertised in initialize.
func (s *Server) Name() string { return s.name }

// AddTool registers a tool. It fails after Start.
func (s *Server) AddTool(t mcpservice.Tool) error { return s.registry.AddTool(t) }

// AddResource registers a resource. It fails after Start.
func (s *Server) AddResource(r mcpservice.Resource) error { return s.registry.AddResource(r) }

// AddPrompt registers a prompt. It fails after Start.
func (s *Server) AddPrompt(p mcpservice.Prompt) error { return s.registry.AddPrompt(p) }

// Logger returns the client-facing diagnostic logger. Messages are dropped
// until Start binds it to a transport.
func (s *Server) Logger() *mcpservice.Logger { return s.diag }

// State reports the current lifecycle phase.
func (s *Server) State() State { return State(s.state.Load()) }

// Start seals the registry, starts the transport described by cfg and blocks
// until shutdown. Shutdown is triggered by SIGINT or SIGTERM, by ctx being
// canceled, or by the stdio peer closing its input. A clean shutdown
// returns nil.
func (s *Server) Start(ctx context.Context, cfg config.Transport) error {
	if !s.state.CompareAndSwap(int32(StateUnstarted), int32(StateStarting)) {
		return ErrAlreadyStarted
	}
	defer s.state.Store(int32(StateStopped))

	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid transport config: %w", err)
	}

	s.registry.Seal()
	eng := engine.NewEngine(s.registry,
		mcp.ImplementationInfo{Name: s.name, Version: s.version},
		s.registry.Capabilities(),
		engine.WithLogger(s.log),
		engine.WithDiagnostics(s.diag),
		engine.WithMetrics(s.metrics),
		engine.WithInstructions(s.instructions),
	)

	var (
		addr   string
		notify mcpservice.Notifier
		serve  func(context.Context) error
		closer func(context.Context) error
	)
	switch cfg.Type {
	case config.TransportSSE:
		opts := append([]sse.Option{
			sse.WithLogger(s.log),
			sse.WithAuthenticator(s.authn),
			sse.WithMetrics(s.metrics),
		}, s.sseOpts...)
		t := sse.New(cfg.SSE.Endpoint, cfg.SSE.Port, opts...)
		if err := t.Listen(); err != nil {
			return err
		}
		addr = t.Name() + " " + t.URL()
		notify = t
		serve = func(ctx context.Context) error { return t.Serve(ctx, eng) }
		closer = t.Close
	default:
		opts := append([]stdio.Option{stdio.WithLogger(s.log)}, s.stdioOpts...)
		t := stdio.New(opts...)
		addr = t.Name()
		notify = t
		serve = func(ctx context.Context) error { return t.Serve(ctx, eng) }
		closer = t.Close
	}

	if err := s.diag.Bind(notify); err != nil {
		_ = closer(ctx)
		return fmt.Errorf("bind logger: %w", err)
	}

	if s.handleSignals {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	s.state.Store(int32(StateRunning))
	s.log.InfoContext(ctx, fmt.Sprintf("%s server running on %s", s.name, addr))
	if s.onReady != nil {
		s.onReady(addr)
	}

	serveErr := serve(ctx)

	s.state.Store(int32(StateShuttingDown))
	s.log.InfoContext(ctx, "server.shutdown", slog.String("name", s.name))
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := closer(closeCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.log.WarnContext(ctx, "transport.error", slog.String("op", "close"), slog.String("err", err.Error()))
	}
	if serveErr != nil {
		return serveErr
	}
	s.log.InfoContext(ctx, "server.stopped", slog.String("name", s.name))
	return nil
}
