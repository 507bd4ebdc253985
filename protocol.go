package lsprpc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// JSONRPCVersion is the protocol version tag carried by every message.
// Language servers speak JSON-RPC 2.0 exclusively.
const JSONRPCVersion = "2.0"

// RequestID identifies a request on one connection. The protocol allows
// either an integer or a string; outgoing ids are always integers drawn
// from a monotonic counter, but servers may address us with string ids.
// The zero value is the integer id 0.
type RequestID struct {
	str   string
	num   int64
	isStr bool
}

// IntID returns an integer request id.
func IntID(n int64) RequestID {
	return RequestID{num: n}
}

// StringID returns a string request id.
func StringID(s string) RequestID {
	return RequestID{str: s, isStr: true}
}

// String returns the id in human-readable form.
func (id RequestID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON encodes the id as a JSON number or string.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

// UnmarshalJSON decodes a JSON number or string id. null is rejected; an
// envelope with a null id cannot be correlated with anything.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return fmt.Errorf("request id must not be null")
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = RequestID{num: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = RequestID{str: s, isStr: true}
		return nil
	}
	return fmt.Errorf("request id must be an integer or a string, got %s", data)
}

// request is the outgoing request envelope.
type request struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      RequestID `json:"id"`
	Method  string    `json:"method"`
	Params  any       `json:"params,omitempty"`
}

// notification is the outgoing notification envelope. No id, no response.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is the outgoing response envelope, produced only when answering
// a server-to-client request.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// anyResponse holds an incoming response before its result is decoded into
// the caller's declared shape.
type anyResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// anyNotification holds an incoming notification or server-to-client
// request. ID is nil for true notifications.
type anyNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// frameShape is the reader loop's classification of a decoded frame body.
type frameShape int

const (
	shapeUnknown frameShape = iota
	shapeNotification
	shapeResponse
)

// classifyFrame probes a frame body and reports which envelope shape it
// satisfies. Notification shape (a method field) is tried first, then
// response shape (an id field; a response carrying neither result nor error
// is still a response, its result is read as JSON null). Bodies matching
// neither shape, including invalid JSON, are shapeUnknown; the caller logs
// and drops them.
func classifyFrame(body []byte) frameShape {
	if !gjson.ValidBytes(body) {
		return shapeUnknown
	}
	if m := gjson.GetBytes(body, "method"); m.Exists() && m.Type == gjson.String {
		return shapeNotification
	}
	if gjson.GetBytes(body, "id").Exists() {
		return shapeResponse
	}
	return shapeUnknown
}
