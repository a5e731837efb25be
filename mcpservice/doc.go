// Package mcpservice holds the definitions a server exposes and the
// diagnostic logger that reports back to the client.
//
// Tools, resources and prompts are plain records pairing metadata with a
// handler interface (ToolExecutor, ResourceLoader, PromptLoader). Func
// adapters make it easy to supply a closure:
//
//	reg := mcpservice.NewRegistry()
//	_ = reg.AddTool(mcpservice.NewTool("echo",
//	    func(ctx context.Context, a struct {
//	        Message string `json:"message"`
//	    }) (any, error) {
//	        return "you said: " + a.Message, nil
//	    },
//	    mcpservice.WithToolDescription("Echo a message back to the caller"),
//	))
//	_ = reg.AddResource(mcpservice.Resource{
//	    URI:      "res://hello.txt",
//	    Name:     "hello.txt",
//	    MimeType: "text/plain",
//	    Loader:   mcpservice.StaticText("hello"),
//	})
//
// The Registry rejects duplicate keys (the first registration wins) and is
// sealed when the server starts; later registrations fail with ErrSealed.
// Capabilities derives the advertised capability set from what was
// registered.
//
// Logger is created unbound and becomes live once a transport binds it.
// SlogHandler exposes it as a slog.Handler so ordinary slog calls can reach
// the client.
package mcpservice
