package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object,
	// or that the arguments of a valid request failed validation.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method, tool, resource or prompt
	// named by the request does not exist.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates the params object has the wrong shape.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates a handler failed while serving the request.
	ErrorCodeInternalError ErrorCode = -32603
)

// String returns the symbolic name of the code, used in log attributes.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeParseError:
		return "parse_error"
	case ErrorCodeInvalidRequest:
		return "invalid_request"
	case ErrorCodeMethodNotFound:
		return "method_not_found"
	case ErrorCodeInvalidParams:
		return "invalid_params"
	case ErrorCodeInternalError:
		return "internal_error"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// Error is a JSON-RPC error object. It also satisfies the error interface so
// that protocol failures can flow through ordinary Go error returns and be
// recovered with errors.As at the edge.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc %s (%d): %s", e.Code, int(e.Code), e.Message)
}

// NewError builds a protocol error with the given code.
func NewError(code ErrorCode, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// ParseError reports a frame that is not valid JSON.
func ParseError(message string) *Error {
	return NewError(ErrorCodeParseError, message, nil)
}

// InvalidRequest reports a malformed request or rejected arguments.
func InvalidRequest(message string) *Error {
	return NewError(ErrorCodeInvalidRequest, message, nil)
}

// MethodNotFound reports an unknown method or an unknown registry entry.
func MethodNotFound(message string) *Error {
	return NewError(ErrorCodeMethodNotFound, message, nil)
}

// InvalidParams reports params that could not be decoded.
func InvalidParams(message string) *Error {
	return NewError(ErrorCodeInvalidParams, message, nil)
}

// InternalError reports a handler failure. Data is optional.
func InternalError(message string, data any) *Error {
	return NewError(ErrorCodeInternalError, message, data)
}
