package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/ggoodman/litemcp/internal/jsonrpc"
	"github.com/ggoodman/litemcp/internal/metrics"
	"github.com/ggoodman/litemcp/mcp"
	"github.com/ggoodman/litemcp/mcpservice"
	"github.com/ggoodman/litemcp/schema"
)

var addParams = schema.MustCompile(`{
  "type": "object",
  "properties": {
    "a": { "type": "number" },
    "b": { "type": "number" }
  },
  "required": ["a", "b"]
}`)

type fixture struct {
	reg  *mcpservice.Registry
	diag *mcpservice.Logger
	eng  *Engine

	mu       sync.Mutex
	seenArgs []any
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{reg: mcpservice.NewRegistry(), diag: mcpservice.NewLogger()}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	must(f.reg.AddTool(mcpservice.Tool{
		Name:        "add",
		Description: "Add two numbers",
		Parameters:  addParams,
		Executor: mcpservice.ToolFunc(func(ctx context.Context, args any) (any, error) {
			m := args.(map[string]any)
			return fmt.Sprintf("%v", m["a"].(float64)+m["b"].(float64)), nil
		}),
	}))
	must(f.reg.AddTool(mcpservice.Tool{
		Name: "noschema",
		Executor: mcpservice.ToolFunc(func(ctx context.Context, args any) (any, error) {
			f.mu.Lock()
			f.seenArgs = append(f.seenArgs, args)
			f.mu.Unlock()
			return "ok", nil
		}),
	}))
	must(f.reg.AddTool(mcpservice.Tool{
		Name: "object",
		Executor: mcpservice.ToolFunc(func(ctx context.Context, args any) (any, error) {
			return map[string]any{"a": 1}, nil
		}),
	}))
	must(f.reg.AddTool(mcpservice.Tool{
		Name: "fail",
		Executor: mcpservice.ToolFunc(func(ctx context.Context, args any) (any, error) {
			return nil, errors.New("boom")
		}),
	}))
	must(f.reg.AddTool(mcpservice.Tool{
		Name: "explode",
		Executor: mcpservice.ToolFunc(func(ctx context.Context, args any) (any, error) {
			panic("kaboom")
		}),
	}))
	must(f.reg.AddTool(mcpservice.Tool{
		Name: "custom",
		Executor: mcpservice.ToolFunc(func(ctx context.Context, args any) (any, error) {
			return mcpservice.Errorf("handled: %s", "nope"), nil
		}),
	}))

	must(f.reg.AddResource(mcpservice.Resource{
		URI:      "file:///logs/app.log",
		Name:     "Application Logs",
		MimeType: "text/plain",
		Loader:   mcpservice.StaticText("line 1\nline 2"),
	}))
	must(f.reg.AddResource(mcpservice.Resource{
		URI:    "file:///logo.png",
		Name:   "Logo",
		Loader: mcpservice.StaticBlob([]byte{0x89, 0x50, 0x4e, 0x47}),
	}))
	must(f.reg.AddResource(mcpservice.Resource{
		URI:  "file:///broken",
		Name: "Broken",
		Loader: mcpservice.ResourceLoaderFunc(func(ctx context.Context) (mcpservice.ResourcePayload, error) {
			return mcpservice.ResourcePayload{}, errors.New("disk gone")
		}),
	}))

	must(f.reg.AddPrompt(mcpservice.Prompt{
		Name:        "git-commit",
		Description: "Generate a Git commit message",
		Arguments: []mcpservice.PromptArgument{
			{Name: "changes", Description: "Git diff or description of changes", Required: true},
			{Name: "style"},
			{Name: "scope", Required: true},
		},
		Loader: mcpservice.PromptLoaderFunc(func(ctx context.Context, args map[string]string) (string, error) {
			if _, ok := args["undeclared"]; ok {
				return "", errors.New("undeclared argument leaked")
			}
			return "Generate a concise commit message for: " + args["changes"], nil
		}),
	}))
	must(f.reg.AddPrompt(mcpservice.Prompt{
		Name: "broken",
		Loader: mcpservice.PromptLoaderFunc(func(ctx context.Context, args map[string]string) (string, error) {
			return "", errors.New("template missing")
		}),
	}))

	f.reg.Seal()
	f.eng = NewEngine(
		f.reg,
		mcp.ImplementationInfo{Name: "test", Version: "1.0.0"},
		f.reg.Capabilities(),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithDiagnostics(f.diag),
		WithMetrics(metrics.New("test")),
	)
	return f
}

// call sends a request frame and decodes the reply.
func (f *fixture) call(t *testing.T, method string, params any) *jsonrpc.Response {
	t.Helper()
	frame := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		frame["params"] = params
	}
	b, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return f.send(t, b)
}

func (f *fixture) send(t *testing.T, frame []byte) *jsonrpc.Response {
	t.Helper()
	out := f.eng.HandleMessage(context.Background(), frame)
	if out == nil {
		t.Fatalf("expected a reply to %s", frame)
	}
	var res jsonrpc.Response
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal reply: %v (%s)", err, out)
	}
	return &res
}

func decode[T any](t *testing.T, res *jsonrpc.Response) T {
	t.Helper()
	if res.Error != nil {
		t.Fatalf("unexpected error: %+v", res.Error)
	}
	var v T
	if err := json.Unmarshal(res.Result, &v); err != nil {
		t.Fatalf("decode result: %v (%s)", err, res.Result)
	}
	return v
}

func expectError(t *testing.T, res *jsonrpc.Response, code jsonrpc.ErrorCode, message string) {
	t.Helper()
	if res.Error == nil {
		t.Fatalf("expected error %d, got result %s", code, res.Result)
	}
	if res.Error.Code != code || res.Error.Message != message {
		t.Fatalf("got error (%d, %q), want (%d, %q)", res.Error.Code, res.Error.Message, code, message)
	}
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)

	t.Run("advertises registered capabilities", func(t *testing.T) {
		res := f.call(t, "initialize", map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "c", "version": "0"},
		})
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(res.Result, &raw); err != nil {
			t.Fatalf("decode: %v", err)
		}
		var caps map[string]json.RawMessage
		if err := json.Unmarshal(raw["capabilities"], &caps); err != nil {
			t.Fatalf("decode caps: %v", err)
		}
		for _, k := range []string{"tools", "resources", "prompts", "logging"} {
			if _, ok := caps[k]; !ok {
				t.Fatalf("expected capability %q in %s", k, raw["capabilities"])
			}
		}
		initRes := decode[mcp.InitializeResult](t, res)
		if initRes.ProtocolVersion != "2024-11-05" {
			t.Fatalf("expected requested version to be echoed, got %q", initRes.ProtocolVersion)
		}
		if initRes.ServerInfo.Name != "test" || initRes.ServerInfo.Version != "1.0.0" {
			t.Fatalf("unexpected server info: %+v", initRes.ServerInfo)
		}
	})

	t.Run("unknown version falls back to latest", func(t *testing.T) {
		initRes := decode[mcp.InitializeResult](t, f.call(t, "initialize", map[string]any{"protocolVersion": "1999-01-01"}))
		if initRes.ProtocolVersion != mcp.LatestProtocolVersion {
			t.Fatalf("got %q", initRes.ProtocolVersion)
		}
	})

	t.Run("empty registry advertises logging only", func(t *testing.T) {
		reg := mcpservice.NewRegistry()
		reg.Seal()
		eng := NewEngine(reg, mcp.ImplementationInfo{Name: "empty", Version: "0"}, reg.Capabilities(), WithLogger(slog.New(slog.DiscardHandler)))
		out := eng.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
		if !strings.Contains(string(out), `"capabilities":{"logging":{}}`) {
			t.Fatalf("unexpected initialize result: %s", out)
		}
	})
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	res := f.call(t, "ping", nil)
	if res.Error != nil || string(res.Result) != "{}" {
		t.Fatalf("unexpected ping reply: %+v %s", res.Error, res.Result)
	}
}

func TestToolsList(t *testing.T) {
	f := newFixture(t)
	list := decode[mcp.ListToolsResult](t, f.call(t, "tools/list", nil))
	if len(list.Tools) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(list.Tools))
	}
	add := list.Tools[0]
	if add.Name != "add" || add.Description != "Add two numbers" {
		t.Fatalf("unexpected first tool: %+v", add)
	}
	if add.InputSchema.Properties["a"].Type != "number" {
		t.Fatalf("expected described schema, got %+v", add.InputSchema)
	}
	if list.Tools[1].Name != "noschema" || list.Tools[1].InputSchema.Type != "object" {
		t.Fatalf("unexpected second tool: %+v", list.Tools[1])
	}
}

func TestToolCall(t *testing.T) {
	f := newFixture(t)

	t.Run("valid arguments return text", func(t *testing.T) {
		res := decode[mcp.CallToolResult](t, f.call(t, "tools/call", map[string]any{"name": "add", "arguments": map[string]any{"a": 1, "b": 2}}))
		if res.IsError || len(res.Content) != 1 || res.Content[0].Type != "text" || res.Content[0].Text != "3" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		res := f.call(t, "tools/call", map[string]any{"name": "add", "arguments": map[string]any{"a": 1}})
		expectError(t, res, jsonrpc.ErrorCodeInvalidRequest, "Invalid add arguments")
		if res.Error.Data == nil {
			t.Fatalf("expected validation details in data")
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		expectError(t, f.call(t, "tools/call", map[string]any{"name": "nope"}), jsonrpc.ErrorCodeMethodNotFound, "Unknown tool: nope")
	})

	t.Run("missing name", func(t *testing.T) {
		res := f.call(t, "tools/call", map[string]any{})
		if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
			t.Fatalf("expected invalid params, got %+v", res.Error)
		}
	})

	t.Run("tool without schema ignores arguments", func(t *testing.T) {
		decode[mcp.CallToolResult](t, f.call(t, "tools/call", map[string]any{"name": "noschema", "arguments": map[string]any{"x": 1}}))
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.seenArgs) != 1 || f.seenArgs[0] != nil {
			t.Fatalf("expected executor to receive nil, got %#v", f.seenArgs)
		}
	})

	t.Run("non-string result is indented JSON", func(t *testing.T) {
		res := decode[mcp.CallToolResult](t, f.call(t, "tools/call", map[string]any{"name": "object"}))
		if res.Content[0].Text != "{\n  \"a\": 1\n}" {
			t.Fatalf("unexpected text: %q", res.Content[0].Text)
		}
	})

	t.Run("executor error becomes isError result", func(t *testing.T) {
		res := decode[mcp.CallToolResult](t, f.call(t, "tools/call", map[string]any{"name": "fail"}))
		if !res.IsError || res.Content[0].Text != "Error: boom" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("executor panic becomes isError result", func(t *testing.T) {
		res := decode[mcp.CallToolResult](t, f.call(t, "tools/call", map[string]any{"name": "explode"}))
		if !res.IsError || !strings.Contains(res.Content[0].Text, "kaboom") {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("prebuilt result passes through", func(t *testing.T) {
		res := decode[mcp.CallToolResult](t, f.call(t, "tools/call", map[string]any{"name": "custom"}))
		if !res.IsError || res.Content[0].Text != "handled: nope" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})
}

func TestResources(t *testing.T) {
	f := newFixture(t)

	t.Run("list", func(t *testing.T) {
		list := decode[mcp.ListResourcesResult](t, f.call(t, "resources/list", nil))
		if len(list.Resources) != 3 || list.Resources[0].URI != "file:///logs/app.log" || list.Resources[0].MimeType != "text/plain" {
			t.Fatalf("unexpected list: %+v", list)
		}
	})

	t.Run("read text", func(t *testing.T) {
		res := decode[mcp.ReadResourceResult](t, f.call(t, "resources/read", map[string]any{"uri": "file:///logs/app.log"}))
		if len(res.Contents) != 1 {
			t.Fatalf("expected one content entry")
		}
		c := res.Contents[0]
		if c.URI != "file:///logs/app.log" || c.MimeType != "text/plain" || c.Text != "line 1\nline 2" || c.Blob != "" {
			t.Fatalf("unexpected contents: %+v", c)
		}
	})

	t.Run("read blob", func(t *testing.T) {
		res := decode[mcp.ReadResourceResult](t, f.call(t, "resources/read", map[string]any{"uri": "file:///logo.png"}))
		if c := res.Contents[0]; c.Blob != "iVBORw==" || c.Text != "" {
			t.Fatalf("unexpected contents: %+v", c)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		expectError(t, f.call(t, "resources/read", map[string]any{"uri": "file:///nope"}), jsonrpc.ErrorCodeMethodNotFound, "Unknown resource: file:///nope")
	})

	t.Run("loader failure", func(t *testing.T) {
		res := f.call(t, "resources/read", map[string]any{"uri": "file:///broken"})
		expectError(t, res, jsonrpc.ErrorCodeInternalError, "Error reading resource: disk gone")
		data, _ := res.Error.Data.(map[string]any)
		if data["uri"] != "file:///broken" {
			t.Fatalf("expected uri in error data, got %#v", res.Error.Data)
		}
	})
}

func TestPrompts(t *testing.T) {
	f := newFixture(t)

	t.Run("list", func(t *testing.T) {
		list := decode[mcp.ListPromptsResult](t, f.call(t, "prompts/list", nil))
		if len(list.Prompts) != 2 {
			t.Fatalf("expected 2 prompts, got %d", len(list.Prompts))
		}
		p := list.Prompts[0]
		if p.Name != "git-commit" || len(p.Arguments) != 3 || !p.Arguments[0].Required {
			t.Fatalf("unexpected prompt: %+v", p)
		}
	})

	t.Run("get", func(t *testing.T) {
		res := f.call(t, "prompts/get", map[string]any{
			"name":      "git-commit",
			"arguments": map[string]any{"changes": "fix typo", "scope": "docs", "undeclared": "x"},
		})
		got := decode[mcp.GetPromptResult](t, res)
		if got.Description != "Generate a Git commit message" || len(got.Messages) != 1 {
			t.Fatalf("unexpected result: %+v", got)
		}
		msg := got.Messages[0]
		if msg.Role != mcp.RoleUser || msg.Content.Type != "text" || msg.Content.Text != "Generate a concise commit message for: fix typo" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if !strings.Contains(string(res.Result), `"content":{"type":"text"`) {
			t.Fatalf("content must be a single object: %s", res.Result)
		}
	})

	t.Run("first missing required argument is reported", func(t *testing.T) {
		expectError(t, f.call(t, "prompts/get", map[string]any{"name": "git-commit"}), jsonrpc.ErrorCodeInvalidRequest, "Missing required argument: changes")
		expectError(t, f.call(t, "prompts/get", map[string]any{"name": "git-commit", "arguments": map[string]any{"changes": "x"}}), jsonrpc.ErrorCodeInvalidRequest, "Missing required argument: scope")
	})

	t.Run("unknown", func(t *testing.T) {
		expectError(t, f.call(t, "prompts/get", map[string]any{"name": "nope"}), jsonrpc.ErrorCodeMethodNotFound, "Unknown prompt: nope")
	})

	t.Run("loader failure", func(t *testing.T) {
		expectError(t, f.call(t, "prompts/get", map[string]any{"name": "broken"}), jsonrpc.ErrorCodeInternalError, "Error loading prompt: template missing")
	})

	t.Run("non-string argument values are rendered", func(t *testing.T) {
		got := decode[mcp.GetPromptResult](t, f.call(t, "prompts/get", map[string]any{
			"name":      "git-commit",
			"arguments": map[string]any{"changes": 42, "scope": "x"},
		}))
		if !strings.HasSuffix(got.Messages[0].Content.Text, "42") {
			t.Fatalf("unexpected text: %q", got.Messages[0].Content.Text)
		}
	})
}

func TestSetLoggingLevel(t *testing.T) {
	f := newFixture(t)
	decode[mcp.EmptyResult](t, f.call(t, "logging/setLevel", map[string]any{"level": "error"}))
	if f.diag.Level() != mcp.LoggingLevelError {
		t.Fatalf("expected level to be applied, got %q", f.diag.Level())
	}
	res := f.call(t, "logging/setLevel", map[string]any{"level": "verbose"})
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", res.Error)
	}
}

func TestProtocolErrors(t *testing.T) {
	f := newFixture(t)

	t.Run("parse error", func(t *testing.T) {
		res := f.send(t, []byte(`{"jsonrpc":`))
		if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError {
			t.Fatalf("expected parse error, got %+v", res.Error)
		}
		if !res.ID.IsNil() {
			t.Fatalf("expected null id")
		}
	})

	t.Run("bad version is invalid request", func(t *testing.T) {
		res := f.send(t, []byte(`{"jsonrpc":"1.0","id":9,"method":"ping"}`))
		if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
			t.Fatalf("expected invalid request, got %+v", res.Error)
		}
		if res.ID.String() != "9" {
			t.Fatalf("expected id to be echoed, got %q", res.ID.String())
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		expectError(t, f.call(t, "resources/subscribe", nil), jsonrpc.ErrorCodeMethodNotFound, "Method not found: resources/subscribe")
	})

	t.Run("string ids are preserved", func(t *testing.T) {
		res := f.send(t, []byte(`{"jsonrpc":"2.0","id":"abc","method":"ping"}`))
		if res.ID.String() != "abc" {
			t.Fatalf("got id %q", res.ID.String())
		}
	})

	t.Run("notifications get no reply", func(t *testing.T) {
		for _, frame := range []string{
			`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`,
			`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"fail"}}`,
		} {
			if out := f.eng.HandleMessage(context.Background(), []byte(frame)); out != nil {
				t.Fatalf("unexpected reply to %s: %s", frame, out)
			}
		}
	})

	t.Run("client responses are ignored", func(t *testing.T) {
		if out := f.eng.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":3,"result":{}}`)); out != nil {
			t.Fatalf("unexpected reply: %s", out)
		}
	})
}

func TestConcurrentDispatch(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			frame := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"add","arguments":{"a":%d,"b":1}}}`, i, i)
			out := f.eng.HandleMessage(context.Background(), []byte(frame))
			var res jsonrpc.Response
			if err := json.Unmarshal(out, &res); err != nil {
				errs <- err
				return
			}
			if res.ID.String() != fmt.Sprint(i) {
				errs <- fmt.Errorf("reply id %s for request %d", res.ID, i)
				return
			}
			var tr mcp.CallToolResult
			if err := json.Unmarshal(res.Result, &tr); err != nil {
				errs <- err
				return
			}
			if tr.Content[0].Text != fmt.Sprint(i+1) {
				errs <- fmt.Errorf("request %d: got %q", i, tr.Content[0].Text)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestEmptyTextIsKept(t *testing.T) {
	reg := mcpservice.NewRegistry()
	if err := reg.AddTool(mcpservice.Tool{
		Name: "silent",
		Executor: mcpservice.ToolFunc(func(ctx context.Context, args any) (any, error) {
			return "", nil
		}),
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddPrompt(mcpservice.Prompt{
		Name: "blank",
		Loader: mcpservice.PromptLoaderFunc(func(ctx context.Context, args map[string]string) (string, error) {
			return "", nil
		}),
	}); err != nil {
		t.Fatal(err)
	}
	reg.Seal()
	eng := NewEngine(reg, mcp.ImplementationInfo{Name: "t", Version: "0"}, reg.Capabilities())

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{
			name:  "tool",
			frame: `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"silent"}}`,
			want:  `"content":[{"type":"text","text":""}]`,
		},
		{
			name:  "prompt",
			frame: `{"jsonrpc":"2.0","id":2,"method":"prompts/get","params":{"name":"blank"}}`,
			want:  `"content":{"type":"text","text":""}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := eng.HandleMessage(context.Background(), []byte(tt.frame))
			if !strings.Contains(string(out), tt.want) {
				t.Fatalf("reply %s missing %s", out, tt.want)
			}
		})
	}
}

func TestListRequestsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	for _, method := range []string{"tools/list", "resources/list", "prompts/list"} {
		t.Run(method, func(t *testing.T) {
			frame := []byte(`{"jsonrpc":"2.0","id":5,"method":"` + method + `"}`)
			first := f.eng.HandleMessage(context.Background(), frame)
			if first == nil {
				t.Fatal("no reply")
			}
			for i := 0; i < 3; i++ {
				if again := f.eng.HandleMessage(context.Background(), frame); string(again) != string(first) {
					t.Fatalf("reply %d differs:\n%s\n%s", i, first, again)
				}
			}
		})
	}
}
