package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/ggoodman/litemcp/internal/jsonrpc"
	"github.com/ggoodman/litemcp/internal/logctx"
	"github.com/ggoodman/litemcp/internal/metrics"
	"github.com/ggoodman/litemcp/mcp"
	"github.com/ggoodman/litemcp/mcpservice"
	"github.com/ggoodman/litemcp/schema"
)

// Catalog is the read side of the registry the engine dispatches against.
type Catalog interface {
	FindTool(name string) (mcpservice.Tool, bool)
	FindResource(uri string) (mcpservice.Resource, bool)
	FindPrompt(name string) (mcpservice.Prompt, bool)
	Tools() []mcpservice.Tool
	Resources() []mcpservice.Resource
	Prompts() []mcpservice.Prompt
}

// Engine routes JSON-RPC requests to registered tools, resources and
// prompts and maps every outcome onto a response. It holds no per-request
// state, so requests may be handled concurrently and complete in any order.
type Engine struct {
	catalog      Catalog
	info         mcp.ImplementationInfo
	caps         mcp.ServerCapabilities
	instructions string

	diag    *mcpservice.Logger
	metrics *metrics.Metrics
	log     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithDiagnostics wires the client-facing logger so logging/setLevel can
// adjust it.
func WithDiagnostics(l *mcpservice.Logger) EngineOption {
	return func(e *Engine) { e.diag = l }
}

// WithMetrics records per-request counters and latencies.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(s string) EngineOption {
	return func(e *Engine) { e.instructions = s }
}

// NewEngine builds an engine over catalog. caps is the capability snapshot
// taken when the server started and is returned verbatim from initialize.
func NewEngine(catalog Catalog, info mcp.ImplementationInfo, caps mcp.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog: catalog,
		info:    info,
		caps:    caps,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// HandleMessage processes one inbound frame and returns the encoded reply,
// or nil when no reply is due (notifications and client responses).
func (e *Engine) HandleMessage(ctx context.Context, data []byte) []byte {
	msg, rpcErr := jsonrpc.Decode(data)
	if rpcErr != nil {
		var id *jsonrpc.RequestID
		if msg != nil {
			id = msg.ID
		}
		e.log.InfoContext(ctx, "engine.handle_message.invalid", slog.String("code", rpcErr.Code.String()), slog.String("err", rpcErr.Message))
		return e.encode(ctx, jsonrpc.NewErrorResponse(id, rpcErr))
	}

	switch msg.Type() {
	case "request":
		return e.encode(ctx, e.HandleRequest(ctx, msg.AsRequest()))
	case "notification":
		e.HandleNotification(ctx, msg.AsRequest())
		return nil
	default:
		e.log.DebugContext(ctx, "engine.handle_message.ignored", slog.String("type", msg.Type()), slog.String("id", msg.ID.String()))
		return nil
	}
}

func (e *Engine) encode(ctx context.Context, res *jsonrpc.Response) []byte {
	b, err := json.Marshal(res)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.encode.fail", slog.String("err", err.Error()))
		b, _ = json.Marshal(jsonrpc.NewErrorResponse(res.ID, jsonrpc.InternalError("internal error", nil)))
	}
	return b
}

// handlerFunc serves one method. It returns either a result to marshal or a
// protocol error, never both.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error)

func (e *Engine) route(method string) handlerFunc {
	switch method {
	case string(mcp.InitializeMethod):
		return e.handleInitialize
	case string(mcp.PingMethod):
		return e.handlePing
	case string(mcp.ToolsListMethod):
		return e.handleToolsList
	case string(mcp.ToolsCallMethod):
		return e.handleToolCall
	case string(mcp.ResourcesListMethod):
		return e.handleResourcesList
	case string(mcp.ResourcesReadMethod):
		return e.handleResourcesRead
	case string(mcp.PromptsListMethod):
		return e.handlePromptsList
	case string(mcp.PromptsGetMethod):
		return e.handlePromptsGet
	case string(mcp.LoggingSetLevelMethod):
		return e.handleSetLoggingLevel
	}
	return nil
}

// HandleRequest dispatches a request and always returns a response.
func (e *Engine) HandleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})
	log := e.log.With(slog.String("method", req.Method))

	h := e.route(req.Method)
	if h == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		e.metrics.ObserveRequest("unknown", metrics.OutcomeError, time.Since(start))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound("Method not found: "+req.Method))
	}

	result, rpcErr := e.invoke(ctx, h, req.Params)
	if rpcErr != nil {
		attrs := []any{
			slog.String("code", rpcErr.Code.String()),
			slog.String("err", rpcErr.Message),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		}
		if rpcErr.Code == jsonrpc.ErrorCodeInternalError {
			log.ErrorContext(ctx, "engine.handle_request.fail", attrs...)
		} else {
			log.InfoContext(ctx, "engine.handle_request.invalid", attrs...)
		}
		e.metrics.ObserveRequest(req.Method, metrics.OutcomeError, time.Since(start))
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}

	res, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		e.metrics.ObserveRequest(req.Method, metrics.OutcomeError, time.Since(start))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InternalError("internal error", nil))
	}

	outcome := metrics.OutcomeOK
	if tr, ok := result.(*mcp.CallToolResult); ok && tr.IsError {
		outcome = metrics.OutcomeToolError
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.String("outcome", outcome), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	e.metrics.ObserveRequest(req.Method, outcome, time.Since(start))
	return res
}

// invoke runs h and converts a panic into an internal error.
func (e *Engine) invoke(ctx context.Context, h handlerFunc, params json.RawMessage) (result any, rpcErr *jsonrpc.Error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "engine.handle_request.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			result, rpcErr = nil, jsonrpc.InternalError("internal error", nil)
		}
	}()
	return h(ctx, params)
}

// HandleNotification processes a client notification. Notifications never
// produce a response.
func (e *Engine) HandleNotification(ctx context.Context, note *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: note.Method, Type: "notification"})
	switch note.Method {
	case string(mcp.InitializedNotificationMethod):
		e.log.InfoContext(ctx, "engine.session.initialized")
	case string(mcp.CancelledNotificationMethod):
		// Handlers run to completion; the late reply is harmless.
		e.log.DebugContext(ctx, "engine.handle_notification.cancelled")
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored")
	}
}

func (e *Engine) handleInitialize(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	var req mcp.InitializeRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, jsonrpc.InvalidParams("invalid params")
		}
	}

	version := mcp.LatestProtocolVersion
	if slices.Contains(mcp.SupportedProtocolVersions, req.ProtocolVersion) {
		version = req.ProtocolVersion
	}

	e.log.InfoContext(ctx, "engine.initialize",
		slog.String("client_name", req.ClientInfo.Name),
		slog.String("client_version", req.ClientInfo.Version),
		slog.String("requested_version", req.ProtocolVersion),
		slog.String("protocol_version", version),
	)

	return &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    e.caps,
		ServerInfo:      e.info,
		Instructions:    e.instructions,
	}, nil
}

func (e *Engine) handlePing(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	return &mcp.EmptyResult{}, nil
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	var req mcp.SetLevelRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, jsonrpc.InvalidParams("invalid params")
	}
	if e.diag == nil {
		return &mcp.EmptyResult{}, nil
	}
	if err := e.diag.SetLevel(req.Level); err != nil {
		if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
			return nil, jsonrpc.InvalidParams(fmt.Sprintf("invalid logging level: %q", req.Level))
		}
		return nil, jsonrpc.InternalError("internal error", nil)
	}
	return &mcp.EmptyResult{}, nil
}

func (e *Engine) handleToolsList(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	tools := e.catalog.Tools()
	res := &mcp.ListToolsResult{Tools: make([]mcp.Tool, 0, len(tools))}
	for _, t := range tools {
		res.Tools = append(res.Tools, t.Descriptor())
	}
	return res, nil
}

func (e *Engine) handleToolCall(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	var req mcp.CallToolRequestReceived
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, jsonrpc.InvalidParams("invalid params")
	}
	if req.Name == "" {
		return nil, jsonrpc.InvalidParams("invalid params: missing tool name")
	}

	ctx = logctx.WithTarget(ctx, &logctx.Target{Kind: "tool", Name: req.Name})

	tool, ok := e.catalog.FindTool(req.Name)
	if !ok {
		return nil, jsonrpc.MethodNotFound("Unknown tool: " + req.Name)
	}

	var args any
	if tool.Parameters != nil {
		v, err := tool.Parameters.Validate(ctx, req.Arguments)
		if err != nil {
			var ve *schema.ValidationError
			if errors.As(err, &ve) {
				return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, fmt.Sprintf("Invalid %s arguments", req.Name), ve.Errors)
			}
			e.log.ErrorContext(ctx, "engine.tool.schema.fail", slog.String("err", err.Error()))
			return nil, jsonrpc.InternalError("internal error", nil)
		}
		args = v
	}

	out, err := execute(ctx, tool.Executor, args)
	if err != nil {
		e.log.InfoContext(ctx, "engine.tool.error", slog.String("err", err.Error()))
		return &mcp.CallToolResult{
			Content: []mcp.ContentBlock{mcp.TextContent("Error: " + err.Error())},
			IsError: true,
		}, nil
	}

	res, err := normalizeToolResult(out)
	if err != nil {
		e.log.InfoContext(ctx, "engine.tool.error", slog.String("err", err.Error()))
		return &mcp.CallToolResult{
			Content: []mcp.ContentBlock{mcp.TextContent("Error: " + err.Error())},
			IsError: true,
		}, nil
	}
	return res, nil
}

func (e *Engine) handleResourcesList(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	resources := e.catalog.Resources()
	res := &mcp.ListResourcesResult{Resources: make([]mcp.Resource, 0, len(resources))}
	for _, r := range resources {
		res.Resources = append(res.Resources, r.Descriptor())
	}
	return res, nil
}

func (e *Engine) handleResourcesRead(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	var req mcp.ReadResourceRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, jsonrpc.InvalidParams("invalid params")
	}
	if req.URI == "" {
		return nil, jsonrpc.InvalidParams("invalid params: missing uri")
	}

	ctx = logctx.WithTarget(ctx, &logctx.Target{Kind: "resource", Name: req.URI})

	resource, ok := e.catalog.FindResource(req.URI)
	if !ok {
		return nil, jsonrpc.MethodNotFound("Unknown resource: " + req.URI)
	}

	payload, err := load(ctx, resource.Loader)
	if err != nil {
		return nil, jsonrpc.InternalError("Error reading resource: "+err.Error(), map[string]string{"uri": req.URI})
	}

	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{payload.Contents(resource.URI, resource.MimeType)},
	}, nil
}

func (e *Engine) handlePromptsList(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	prompts := e.catalog.Prompts()
	res := &mcp.ListPromptsResult{Prompts: make([]mcp.Prompt, 0, len(prompts))}
	for _, p := range prompts {
		res.Prompts = append(res.Prompts, p.Descriptor())
	}
	return res, nil
}

func (e *Engine) handlePromptsGet(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	var req mcp.GetPromptRequestReceived
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, jsonrpc.InvalidParams("invalid params")
	}
	if req.Name == "" {
		return nil, jsonrpc.InvalidParams("invalid params: missing prompt name")
	}

	ctx = logctx.WithTarget(ctx, &logctx.Target{Kind: "prompt", Name: req.Name})

	prompt, ok := e.catalog.FindPrompt(req.Name)
	if !ok {
		return nil, jsonrpc.MethodNotFound("Unknown prompt: " + req.Name)
	}

	args := promptArguments(req.Arguments)
	if missing, ok := prompt.MissingArgument(args); ok {
		return nil, jsonrpc.InvalidRequest("Missing required argument: " + missing)
	}

	text, err := render(ctx, prompt.Loader, prompt.Bind(args))
	if err != nil {
		return nil, jsonrpc.InternalError("Error loading prompt: "+err.Error(), nil)
	}

	return &mcp.GetPromptResult{
		Description: prompt.Description,
		Messages: []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.TextContent(text),
		}},
	}, nil
}
