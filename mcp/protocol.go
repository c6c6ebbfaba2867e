// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mcpstream/runtime/internal/jsonrpc2"
)

// JSON-RPC 2.0 error codes, per the spec's error table. Negative numbers
// below -32000 are reserved for the protocol itself; application error
// codes use other values.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// JSONRPCID is a JSON-RPC request id: a string, a number, or absent
// (for notifications). The zero value is the "absent" id.
type JSONRPCID struct {
	value any // nil, string, or float64
	set   bool
}

// IsValid reports whether id was present on the wire (as opposed to a
// notification, which carries no id at all).
func (id JSONRPCID) IsValid() bool { return id.set }

func (id JSONRPCID) String() string {
	if !id.set {
		return "<none>"
	}
	return fmt.Sprintf("%v", id.value)
}

func (id JSONRPCID) MarshalJSON() ([]byte, error) {
	if !id.set {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *JSONRPCID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.(type) {
	case nil:
		*id = JSONRPCID{}
	case string, float64:
		*id = JSONRPCID{value: v, set: true}
	default:
		return fmt.Errorf("jsonrpc: invalid id %q", data)
	}
	return nil
}

// StringID builds a JSONRPCID from a string.
func StringID(s string) JSONRPCID { return JSONRPCID{value: s, set: true} }

// IntID builds a JSONRPCID from an integer.
func IntID(n int64) JSONRPCID { return JSONRPCID{value: float64(n), set: true} }

// JSONRPCError is the error object carried by a JSONRPCResponse.
type JSONRPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewJSONRPCError builds a *JSONRPCError for the given code.
func NewJSONRPCError(code int64, format string, args ...any) *JSONRPCError {
	return &JSONRPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// JSONRPCRequest is a JSON-RPC request or notification.
//
// A request has a valid ID; a notification's ID is the zero value.
type JSONRPCRequest struct {
	ID     JSONRPCID       `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (r *JSONRPCRequest) IsNotification() bool { return !r.ID.IsValid() }

// MarshalJSON implements the wire envelope, including the fixed
// "jsonrpc":"2.0" member.
func (r *JSONRPCRequest) MarshalJSON() ([]byte, error) {
	type alias JSONRPCRequest
	return json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		*alias
	}{"2.0", (*alias)(r)})
}

// JSONRPCResponse is a JSON-RPC response: either Result or Error is set, not
// both.
type JSONRPCResponse struct {
	ID     JSONRPCID       `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *JSONRPCError   `json:"error,omitempty"`
}

func (r *JSONRPCResponse) MarshalJSON() ([]byte, error) {
	type alias JSONRPCResponse
	return json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		*alias
	}{"2.0", (*alias)(r)})
}

// envelope is used to sniff the "jsonrpc" field and distinguish requests
// from responses when decoding a batch of unknown messages.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *JSONRPCError   `json:"error"`
}

// ParseMessages decodes a raw POST body into a slice of *JSONRPCRequest.
// The body may be a single JSON object or a JSON array (a "batch" request).
// It returns CodeParseError-flavored errors for malformed JSON and
// CodeInvalidRequest-flavored errors for a well-formed-JSON envelope that
// isn't a valid JSON-RPC request.
func ParseMessages(body []byte) ([]*JSONRPCRequest, error) {
	trimmed := jsonTrimSpace(body)
	if len(trimmed) == 0 {
		return nil, NewJSONRPCError(CodeInvalidRequest, "empty request body")
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, NewJSONRPCError(CodeParseError, "invalid JSON batch: %v", err)
		}
		if len(raws) == 0 {
			return nil, NewJSONRPCError(CodeInvalidRequest, "empty batch")
		}
	} else {
		raws = []json.RawMessage{trimmed}
	}

	out := make([]*JSONRPCRequest, 0, len(raws))
	for _, raw := range raws {
		if !json.Valid(raw) {
			return nil, NewJSONRPCError(CodeParseError, "invalid JSON")
		}
		var env envelope
		// StrictUnmarshal rejects the "Method"-for-"method" style field-name
		// smuggling that Go's default case-insensitive JSON matching would
		// silently accept, which matters here because req.Method drives
		// dispatch.
		if err := jsonrpc2.StrictUnmarshal(raw, &env); err != nil {
			return nil, NewJSONRPCError(CodeInvalidRequest, "invalid JSON-RPC request envelope: %v", err)
		}
		if env.JSONRPC != "2.0" || env.Method == "" {
			return nil, NewJSONRPCError(CodeInvalidRequest, "invalid JSON-RPC request envelope")
		}
		req := &JSONRPCRequest{Method: env.Method, Params: env.Params}
		if len(env.ID) > 0 && string(env.ID) != "null" {
			if err := json.Unmarshal(env.ID, &req.ID); err != nil {
				return nil, NewJSONRPCError(CodeInvalidRequest, "invalid id: %v", err)
			}
		}
		out = append(out, req)
	}
	return out, nil
}

func jsonTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) {
		switch b[start] {
		case ' ', '\t', '\n', '\r':
			start++
			continue
		}
		break
	}
	end := len(b)
	for end > start {
		switch b[end-1] {
		case ' ', '\t', '\n', '\r':
			end--
			continue
		}
		break
	}
	return b[start:end]
}

// Meta is embedded in params/result types that carry protocol-reserved
// metadata, per the MCP "_meta" convention.
type Meta map[string]any

// Implementation describes a client or server name/version pair, exchanged
// during initialize.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the params of the initialize request. Capabilities
// are kept as opaque JSON per the spec's data model (§3): this core
// negotiates nothing about their content, only stores and echoes them.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      *Implementation `json:"clientInfo,omitempty"`
}

// InitializeResult is the result of the initialize request.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      *Implementation `json:"serverInfo,omitempty"`
	Instructions    string          `json:"instructions,omitempty"`
}

// LoggingMessageParams is the payload of a notifications/message
// notification.
type LoggingMessageParams struct {
	Level  LoggingLevel `json:"level"`
	Logger string       `json:"logger,omitempty"`
	Data   any          `json:"data"`
}

// ProgressNotificationParams is the payload of a notifications/progress
// notification.
type ProgressNotificationParams struct {
	ProgressToken any     `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// CancelledParams is the payload of a notifications/cancelled notification.
type CancelledParams struct {
	RequestID JSONRPCID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

// Notification method names relevant to the core (spec §6).
const (
	MethodInitialize                 = "initialize"
	NotificationInitialized          = "notifications/initialized"
	NotificationMessage              = "notifications/message"
	NotificationProgress             = "notifications/progress"
	NotificationCancelled            = "notifications/cancelled"
	NotificationResourcesUpdated     = "notifications/resources/updated"
	NotificationResourcesListChanged = "notifications/resources/list_changed"
	NotificationToolsListChanged     = "notifications/tools/list_changed"
	NotificationPromptsListChanged   = "notifications/prompts/list_changed"
	NotificationRootsListChanged     = "notifications/roots/list_changed"
)
