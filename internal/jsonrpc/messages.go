// Package jsonrpc implements the JSON-RPC 2.0 message model shared by every
// transport: envelope parsing, message classification, and response
// construction.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// MessageType classifies a decoded message. A decoded message is exactly one
// of these; classification never yields two.
type MessageType int

const (
	MessageInvalid MessageType = iota
	MessageRequest
	MessageNotification
	MessageResponse
	MessageErrorResponse
)

func (t MessageType) String() string {
	switch t {
	case MessageRequest:
		return "request"
	case MessageNotification:
		return "notification"
	case MessageResponse:
		return "response"
	case MessageErrorResponse:
		return "error"
	default:
		return "invalid"
	}
}

// AnyMessage is a generic JSON-RPC message (request, notification, or
// response). The ID is an optional unsigned integer; its absence marks a
// notification.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *uint64         `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification
// (without one).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *uint64         `json:"id,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *uint64         `json:"id,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Parse decodes a raw payload into an AnyMessage. A JSON syntax failure or a
// wrong protocol version is a parse error; structural classification happens
// afterwards via Type.
func Parse(data []byte) (*AnyMessage, error) {
	var m AnyMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if m.JSONRPCVersion != ProtocolVersion {
		return nil, fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, m.JSONRPCVersion)
	}
	return &m, nil
}

// Type classifies the message. Priority order: a method with an id is a
// request; a method without an id is a notification; otherwise an error
// field marks an error response and a result field a success response.
// Anything else is invalid.
func (m *AnyMessage) Type() MessageType {
	if m.Method != "" {
		if m.ID != nil {
			return MessageRequest
		}
		return MessageNotification
	}
	if m.Error != nil {
		return MessageErrorResponse
	}
	if len(m.Result) > 0 {
		return MessageResponse
	}
	return MessageInvalid
}

// AsRequest returns the message as a Request if it carries a method,
// otherwise nil.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{
		JSONRPCVersion: m.JSONRPCVersion,
		Method:         m.Method,
		Params:         m.Params,
		ID:             m.ID,
	}
}

// NewRequest builds a request (id != nil) or notification (id == nil).
func NewRequest(method string, params any, id *uint64) (*Request, error) {
	if method == "" {
		return nil, fmt.Errorf("method is required")
	}
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		raw = b
	}
	return &Request{
		JSONRPCVersion: ProtocolVersion,
		Method:         method,
		Params:         raw,
		ID:             id,
	}, nil
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *uint64, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewRawResultResponse builds a successful response embedding pre-encoded
// JSON verbatim as the result.
func NewRawResultResponse(id *uint64, result json.RawMessage) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         result,
		ID:             id,
	}
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *uint64, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// Encode serializes the response to its wire form.
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Encode serializes the request to its wire form.
func (r *Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// NewID returns a pointer to id for use in message builders.
func NewID(id uint64) *uint64 { return &id }
