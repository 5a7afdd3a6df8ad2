package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the JSON-RPC protocol version sent with every request.
const Version = "2.0"

var (
	// ErrClosed is returned once the connection has been closed.
	ErrClosed = errors.New("rpc: connection closed")

	// ErrNoResponse is returned when a response stream ends before any
	// response arrived.
	ErrNoResponse = errors.New("rpc: no response")
)

// Request is a JSON-RPC request. Params is always an array.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request. Nil params are sent as an empty array.
func NewRequest(id, method string, params ...any) Request {
	if params == nil {
		params = []any{}
	}
	return Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// result returns the response payload, a JSON null when the host sent no
// result, or the response error.
func (r Response) result() (json.RawMessage, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	if len(r.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return r.Result, nil
}
