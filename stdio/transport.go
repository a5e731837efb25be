package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/litemcp/internal/jsonrpc"
	"github.com/ggoodman/litemcp/internal/logctx"
	"github.com/ggoodman/litemcp/mcp"
)

const (
	defaultMaxMessageSize = 10 << 20
	readBufferSize        = 64 << 10
)

// ErrClosed is returned when writing to a closed transport.
var ErrClosed = errors.New("stdio: transport closed")

// MessageHandler consumes one inbound frame and returns the reply frame, or
// nil when none is due.
type MessageHandler interface {
	HandleMessage(ctx context.Context, data []byte) []byte
}

// Transport reads newline-delimited JSON-RPC from r and writes replies and
// notifications to w.
type Transport struct {
	r   io.Reader
	w   io.Writer
	log *slog.Logger

	maxMessageSize int

	wmu    sync.Mutex
	closed bool

	inflight sync.WaitGroup
}

// New constructs a Transport over os.Stdin/os.Stdout and applies options.
func New(opts ...Option) *Transport {
	t := &Transport{
		r:              os.Stdin,
		w:              os.Stdout,
		log:            slog.Default(),
		maxMessageSize: defaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name identifies the transport in readiness output.
func (t *Transport) Name() string { return "stdio" }

// Serve runs the read loop until EOF on the reader or until ctx is canceled.
// Each message is dispatched on its own goroutine; Serve waits for those to
// finish before returning. EOF and cancellation are clean exits and return
// nil.
func (t *Transport) Serve(ctx context.Context, h MessageHandler) error {
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Transport: "stdio"})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		br := bufio.NewReaderSize(t.r, min(readBufferSize, t.maxMessageSize))
		for {
			raw, oversized, err := readFrame(br, t.maxMessageSize)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readErr <- err
				return
			}
			line := bytes.TrimSpace(raw)
			if oversized || len(line) > t.maxMessageSize {
				t.log.WarnContext(ctx, "transport.error", slog.String("op", "read"), slog.String("err", "message too large"), slog.Int("limit", t.maxMessageSize))
				t.replyParseError(ctx)
				continue
			}
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
	}()

	defer t.inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			t.log.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", "context canceled"))
			return nil
		case err := <-readErr:
			if err != nil {
				t.log.ErrorContext(ctx, "transport.error", slog.String("err", err.Error()))
				return fmt.Errorf("stdio: read: %w", err)
			}
			t.log.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", "eof"))
			return nil
		case msg := <-lines:
			t.inflight.Add(1)
			go func() {
				defer t.inflight.Done()
				reply := h.HandleMessage(ctx, msg)
				if reply == nil {
					return
				}
				if err := t.writeFrame(reply); err != nil {
					t.log.ErrorContext(ctx, "transport.error", slog.String("op", "write"), slog.String("err", err.Error()))
				}
			}()
		}
	}
}

// Notify writes a server-to-client notification.
func (t *Transport) Notify(ctx context.Context, method mcp.Method, params any) error {
	note, err := jsonrpc.NewNotification(string(method), params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("stdio: marshal notification: %w", err)
	}
	return t.writeFrame(b)
}

// Close stops further writes. The read side ends when the peer closes its
// end of the pipe or Serve's context is canceled.
func (t *Transport) Close(ctx context.Context) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	t.closed = true
	if c, ok := t.w.(io.Closer); ok && t.w != io.Writer(os.Stdout) {
		return c.Close()
	}
	return nil
}

// readFrame returns the next newline-terminated frame. A frame longer than
// limit is consumed up to its newline and reported as oversized with no
// data, so one bad frame does not end the stream.
func readFrame(br *bufio.Reader, limit int) (line []byte, oversized bool, err error) {
	for {
		chunk, rerr := br.ReadSlice('\n')
		if !oversized {
			// Allow for a trailing "\r\n".
			if len(line)+len(chunk) > limit+2 {
				oversized, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case rerr == nil:
			return line, oversized, nil
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case errors.Is(rerr, io.EOF) && (len(line) > 0 || oversized):
			return line, oversized, nil
		default:
			return nil, false, rerr
		}
	}
}

// replyParseError answers a frame that could not be read with a parse error
// carrying a null id.
func (t *Transport) replyParseError(ctx context.Context) {
	b, err := json.Marshal(jsonrpc.NewErrorResponse(nil, jsonrpc.ParseError("Parse error")))
	if err != nil {
		return
	}
	if err := t.writeFrame(b); err != nil {
		t.log.ErrorContext(ctx, "transport.error", slog.String("op", "write"), slog.String("err", err.Error()))
	}
}

func (t *Transport) writeFrame(b []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.closed {
		return ErrClosed
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, '\n')
	if _, err := t.w.Write(buf); err != nil {
		return fmt.Errorf("stdio: write: %w", err)
	}
	return nil
}
