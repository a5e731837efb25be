// Package sse implements the HTTP+SSE transport.
//
// A client opens GET <endpoint> and receives an "endpoint" event naming the
// URL to POST JSON-RPC messages to. Replies and server notifications arrive on
// the stream as "message" events. POSTs are acknowledged with 202 Accepted;
// the JSON-RPC reply is delivered on the stream once the handler completes.
//
// WithRateLimit bounds each session's POST rate; excess requests get 429.
package sse
