package lsprpc

import (
	"errors"
	"fmt"
	"strings"
)

// Standard errors returned by the client runtime.
var (
	// ErrShutdown indicates the connection was torn down, or an operation
	// was attempted after Kill.
	ErrShutdown = errors.New("lsp server shut down")

	// ErrTimeout indicates a request received no response within the
	// configured window.
	ErrTimeout = errors.New("lsp request timed out")

	// ErrInvalidResponse indicates a response arrived but its result could
	// not be decoded into the caller's declared shape.
	ErrInvalidResponse = errors.New("invalid response from server")
)

// RPCError is a server-supplied error object carried in a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes, plus the LSP-reserved range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

// SpawnError reports a failure to launch the language server subprocess.
// It carries the attempted command line and working directory.
type SpawnError struct {
	Path string
	Args []string
	Dir  string
	Err  error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s %s (dir %s): %v", e.Path, strings.Join(e.Args, " "), e.Dir, e.Err)
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// FramingError reports a malformed frame on the server's output stream.
// It is fatal to the reader loop.
type FramingError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing: %s: %v", e.Reason, e.Err)
	}
	return "framing: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *FramingError) Unwrap() error {
	return e.Err
}
