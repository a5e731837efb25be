// Package mcp contains protocol data types and constants shared by the
// dispatch engine and the transports. It mirrors the wire representation of
// the Model Context Protocol while keeping the surface Go-friendly: exported
// structs with json tags, string constants for method names and enumerations.
//
// The package is free of transport logic. stdio and sse import these types
// but implement their own framing.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Capabilities
//
// ServerCapabilities is computed once when the server starts. A nil pointer
// field means the capability is not advertised.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{mcp.TextContent("hello")},
//	}
package mcp
