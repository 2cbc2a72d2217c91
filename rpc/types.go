// Package rpc exposes chain and game state via a JSON-RPC 2.0 HTTP endpoint,
// a websocket stream of live instance updates and a typed client.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/JdoubleU92/numgame/core/errs"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object. Engine failures carry their
// stable error code in Data.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the structured part of an engine error.
type ErrorData struct {
	Code string `json:"code"`
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Unwrap maps the engine code back to its sentinel so callers can use
// errors.Is on remote failures.
func (e *Error) Unwrap() error {
	if e.Data == nil {
		return nil
	}
	return errs.FromCode(e.Data.Code)
}

// Standard JSON-RPC error codes, plus server-defined ones in -32000..-32099.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeNotFound       = -32001
	CodeRejected       = -32002
	CodeRateLimited    = -32005
)

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

// engineError maps err to a response, keeping its stable code.
func engineError(id any, err error) Response {
	code := CodeInternalError
	switch errs.Code(err) {
	case "NotFound":
		code = CodeNotFound
	case "InvalidInput":
		code = CodeInvalidParams
	}
	resp := errResponse(id, code, err.Error())
	if c := errs.Code(err); c != "Internal" {
		resp.Error.Data = &ErrorData{Code: c}
	}
	return resp
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
