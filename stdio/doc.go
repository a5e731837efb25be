// Package stdio implements a single-connection MCP transport over
// stdin/stdout. It is intended for servers launched as subprocesses by a
// client.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Framing          : newline-delimited JSON-RPC
//	Dispatch         : one goroutine per inbound message; writes serialized
//
// Options allow supplying alternate io.Reader / io.Writer or a custom logger.
//
// Example:
//
//	t := stdio.New()
//	if err := t.Serve(ctx, eng); err != nil { log.Fatal(err) }
//
// Diagnostic output must never be written to stdout while the transport is
// running; use stderr.
package stdio
