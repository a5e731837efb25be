package litemcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/litemcp/config"
	"github.com/ggoodman/litemcp/mcpservice"
	"github.com/ggoodman/litemcp/sse"
	"github.com/ggoodman/litemcp/stdio"
)

type echoArgs struct {
	Message string `json:"message"`
}

// pipeClient drives a Server over in-memory pipes as a stdio peer would.
type pipeClient struct {
	t     *testing.T
	in    *io.PipeWriter
	lines chan map[string]any
	logs  *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newPipeServer(t *testing.T, opts ...Option) (*Server, *pipeClient) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	logs := &syncBuffer{}
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithStdioOptions(stdio.WithIO(inR, outW)),
		WithoutSignalHandling(),
	}
	srv := New("test", "1.0.0", append(base, opts...)...)

	pc := &pipeClient{t: t, in: inW, lines: make(chan map[string]any, 16), logs: logs}
	go func() {
		defer close(pc.lines)
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			var m map[string]any
			if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
				continue
			}
			pc.lines <- m
		}
	}()
	t.Cleanup(func() {
		_ = inW.Close()
		_ = outR.Close()
	})
	return srv, pc
}

func (pc *pipeClient) send(frame string) {
	pc.t.Helper()
	if _, err := io.WriteString(pc.in, frame+"\n"); err != nil {
		pc.t.Fatalf("write: %v", err)
	}
}

func (pc *pipeClient) next() map[string]any {
	pc.t.Helper()
	select {
	case m, ok := <-pc.lines:
		if !ok {
			pc.t.Fatal("output closed")
		}
		return m
	case <-time.After(5 * time.Second):
		pc.t.Fatal("timed out waiting for output")
	}
	return nil
}

func startAsync(ctx context.Context, srv *Server, cfg config.Transport) <-chan error {
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx, cfg) }()
	return done
}

func waitState(t *testing.T, srv *Server, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for srv.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", srv.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
	return nil
}

func TestLifecycleStdio(t *testing.T) {
	srv, pc := newPipeServer(t)
	if err := srv.AddTool(mcpservice.NewTool("echo", func(ctx context.Context, a echoArgs) (any, error) {
		return a.Message, nil
	})); err != nil {
		t.Fatal(err)
	}
	if srv.State() != StateUnstarted {
		t.Fatalf("initial state %v", srv.State())
	}

	done := startAsync(context.Background(), srv, config.Stdio())
	waitState(t, srv, StateRunning)

	if err := srv.Start(context.Background(), config.Stdio()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := srv.AddTool(mcpservice.Tool{Name: "late", Executor: mcpservice.ToolFunc(func(context.Context, any) (any, error) { return nil, nil })}); !errors.Is(err, mcpservice.ErrSealed) {
		t.Fatalf("late AddTool = %v, want ErrSealed", err)
	}
	if !strings.Contains(pc.logs.String(), "test server running on stdio") {
		t.Fatalf("readiness line missing from logs:\n%s", pc.logs.String())
	}

	pc.send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"c","version":"0"}}}`)
	res := pc.next()["result"].(map[string]any)
	caps := res["capabilities"].(map[string]any)
	if _, ok := caps["tools"]; !ok {
		t.Fatalf("tools capability missing: %v", caps)
	}
	if _, ok := caps["logging"]; !ok {
		t.Fatalf("logging capability missing: %v", caps)
	}
	if _, ok := caps["resources"]; ok {
		t.Fatalf("resources advertised without resources: %v", caps)
	}
	if _, ok := caps["prompts"]; ok {
		t.Fatalf("prompts advertised without prompts: %v", caps)
	}

	pc.send(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`)
	out := pc.next()
	content := out["result"].(map[string]any)["content"].([]any)[0].(map[string]any)
	if content["text"] != "hi" {
		t.Fatalf("unexpected tool output %v", out)
	}

	// EOF on stdin shuts the server down cleanly.
	_ = pc.in.Close()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if srv.State() != StateStopped {
		t.Fatalf("final state %v", srv.State())
	}
}

func TestDiagnosticLoggerBoundOnStart(t *testing.T) {
	srv, pc := newPipeServer(t)
	if err := srv.AddTool(mcpservice.NewTool("work", func(ctx context.Context, a echoArgs) (any, error) {
		srv.Logger().Info("working", map[string]any{"message": a.Message})
		return "done", nil
	})); err != nil {
		t.Fatal(err)
	}

	// Dropped: not yet bound.
	srv.Logger().Info("too early", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startAsync(ctx, srv, config.Stdio())
	waitState(t, srv, StateRunning)

	pc.send(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"work","arguments":{"message":"m"}}}`)
	note := pc.next()
	if note["method"] != "notifications/message" {
		t.Fatalf("expected log notification first, got %v", note)
	}
	params := note["params"].(map[string]any)
	data := params["data"].(map[string]any)
	if params["level"] != "info" || data["message"] != "working" {
		t.Fatalf("unexpected notification %v", note)
	}
	if reply := pc.next(); reply["id"] != float64(1) {
		t.Fatalf("unexpected reply %v", reply)
	}

	pc.send(`{"jsonrpc":"2.0","id":2,"method":"logging/setLevel","params":{"level":"error"}}`)
	if reply := pc.next(); reply["error"] != nil {
		t.Fatalf("setLevel failed: %v", reply)
	}
	pc.send(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"work","arguments":{"message":"m"}}}`)
	if reply := pc.next(); reply["id"] != float64(3) {
		t.Fatalf("expected reply without notification, got %v", reply)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Start returned %v", err)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	srv := New("bad", "0", WithLogger(slog.New(slog.DiscardHandler)), WithoutSignalHandling())
	err := srv.Start(context.Background(), config.SSEOn("no-slash", 0))
	if err == nil {
		t.Fatal("expected error")
	}
	if srv.State() != StateStopped {
		t.Fatalf("state = %v", srv.State())
	}
	if err := srv.Start(context.Background(), config.Stdio()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("restart = %v", err)
	}
}

func TestLifecycleSSE(t *testing.T) {
	ready := make(chan string, 1)
	srv := New("sse-test", "1.0.0",
		WithLogger(slog.New(testLogHandler(t))),
		WithoutSignalHandling(),
		WithMetrics(),
		WithSSEOptions(sse.WithHost("127.0.0.1")),
		WithReadyHook(func(addr string) { ready <- addr }),
	)
	if err := srv.AddResource(mcpservice.Resource{URI: "mem://a", Name: "a", Loader: mcpservice.StaticText("a")}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startAsync(ctx, srv, config.SSEOn("/sse", 0))

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}
	url, ok := strings.CutPrefix(addr, "sse ")
	if !ok || !strings.HasPrefix(url, "http://127.0.0.1:") {
		t.Fatalf("unexpected address %q", addr)
	}

	metricsURL := strings.TrimSuffix(url, "/sse") + "/metrics"
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(metricsURL); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if srv.State() != StateStopped {
		t.Fatalf("final state %v", srv.State())
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateUnstarted:    "unstarted",
		StateStarting:     "starting",
		StateRunning:      "running",
		StateShuttingDown: "shutting_down",
		StateStopped:      "stopped",
		State(42):         fmt.Sprintf("State(%d)", 42),
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int32(s), got, want)
		}
	}
}

// ============================================================================

// Bridge is an implementation of slog.Handler that works
// with the stdlib testing pkg.
type Bridge struct {
	slog.Handler
	t   testing.TB
	buf *bytes.Buffer
	mu  *sync.Mutex
}

// Handle implements slog.Handler.
func (b *Bridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.Handler.Handle(ctx, rec)
	if err != nil {
		return err
	}

	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}

	// The output comes back with a newline, which we need to
	// trim before feeding to t.Log.
	output = bytes.TrimSuffix(output, []byte("\n"))

	b.t.Helper()

	b.t.Log(string(output))

	return nil
}

// WithAttrs implements slog.Handler.
func (b *Bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Bridge{
		t:       b.t,
		buf:     b.buf,
		mu:      b.mu,
		Handler: b.Handler.WithAttrs(attrs),
	}
}

// WithGroup implements slog.Handler.
func (b *Bridge) WithGroup(name string) slog.Handler {
	return &Bridge{
		t:       b.t,
		buf:     b.buf,
		mu:      b.mu,
		Handler: b.Handler.WithGroup(name),
	}
}

func testLogHandler(t *testing.T) *Bridge {
	b := &Bridge{
		t:   t,
		buf: &bytes.Buffer{},
		mu:  &sync.Mutex{},
	}
	hOpts := &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}
	b.Handler = slog.NewTextHandler(b.buf, hOpts)

	return b
}
