package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/edgemcp/device-server-go/internal/jsonrpc"
	"github.com/edgemcp/device-server-go/mcp"
	"github.com/edgemcp/device-server-go/sessions"
)

// DefaultMaxResultBytes bounds the encoded size of a tool result. A result
// that does not fit is rejected whole; nothing is ever truncated.
const DefaultMaxResultBytes = 4096

// MethodFunc handles an ad-hoc JSON-RPC method (ping, echo, initialize).
// It returns either a result value or a JSON-RPC error.
type MethodFunc func(ctx context.Context, session *sessions.Session, params json.RawMessage) (any, *jsonrpc.Error)

// Dispatcher routes JSON-RPC requests to the tool registry and to ad-hoc
// method handlers. Method registration happens during assembly; Dispatch is
// safe for concurrent use once the dispatcher is in service.
type Dispatcher struct {
	registry       *Registry
	methods        map[string]MethodFunc
	maxResultBytes int
	log            *slog.Logger

	toolsExecuted atomic.Uint64
	errorCount    atomic.Uint64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxResultBytes overrides the tool result size bound.
func WithMaxResultBytes(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxResultBytes = n
		}
	}
}

// WithDispatcherLogger sets the logger. If not provided, logs are discarded.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher builds a dispatcher over the given registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		methods:        make(map[string]MethodFunc),
		maxResultBytes: DefaultMaxResultBytes,
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RegisterMethod wires an ad-hoc method handler. Assembly-time only; the
// built-in tools/list and tools/call cannot be overridden.
func (d *Dispatcher) RegisterMethod(method string, fn MethodFunc) error {
	if method == "" || fn == nil {
		return fmt.Errorf("mcpserver: method name and handler are required")
	}
	if method == string(mcp.ToolsListMethod) || method == string(mcp.ToolsCallMethod) {
		return fmt.Errorf("mcpserver: method %q is built in", method)
	}
	if _, exists := d.methods[method]; exists {
		return fmt.Errorf("mcpserver: method %q already registered", method)
	}
	d.methods[method] = fn
	return nil
}

// Counters returns the tools-executed and error counts.
func (d *Dispatcher) Counters() (toolsExecuted, errors uint64) {
	return d.toolsExecuted.Load(), d.errorCount.Load()
}

// ResetCounters zeroes both counters.
func (d *Dispatcher) ResetCounters() {
	d.toolsExecuted.Store(0)
	d.errorCount.Store(0)
}

// Dispatch handles one request and returns the response to send. A
// notification (no id) is processed for side effects and yields nil.
func (d *Dispatcher) Dispatch(ctx context.Context, session *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	resp := d.dispatch(ctx, session, req)
	if req.ID == nil {
		return nil
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, session *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.ToolsListMethod:
		return d.listTools(req)
	case mcp.ToolsCallMethod:
		return d.callTool(ctx, session, req)
	case mcp.InitializedNotificationMethod:
		// Handshake acknowledgement, nothing to do.
		return nil
	}
	if fn, ok := d.methods[req.Method]; ok {
		result, rpcErr := fn(ctx, session, req.Params)
		if rpcErr != nil {
			d.errorCount.Add(1)
			return jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		}
		resp, err := jsonrpc.NewResultResponse(req.ID, result)
		if err != nil {
			d.errorCount.Add(1)
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil)
		}
		return resp
	}

	d.errorCount.Add(1)
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Unknown method", nil)
}

func (d *Dispatcher) listTools(req *jsonrpc.Request) *jsonrpc.Response {
	result := mcp.ListToolsResult{Tools: d.registry.Snapshot()}
	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		d.errorCount.Add(1)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil)
	}
	return resp
}

func (d *Dispatcher) callTool(ctx context.Context, session *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	var call mcp.CallToolRequestReceived
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &call); err != nil {
			d.errorCount.Add(1)
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "Missing tool name", nil)
		}
	}
	// A missing or non-string name is an Invalid Request, not Invalid
	// Params. Established wire behavior; clients test against it.
	if call.Name == "" {
		d.errorCount.Add(1)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "Missing tool name", nil)
	}

	tool, ok := d.registry.Lookup(call.Name)
	if !ok {
		d.errorCount.Add(1)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Tool not found", call.Name)
	}

	result, err := tool.Handler(ctx, session, &call)
	if err != nil {
		d.errorCount.Add(1)
		d.log.WarnContext(ctx, "tool execution failed",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeApplicationError, "Tool execution failed", err.Error())
	}
	if result == nil {
		result = &mcp.CallToolResult{}
	}
	if result.IsError {
		d.errorCount.Add(1)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeApplicationError, "Tool execution failed", resultText(result))
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		d.errorCount.Add(1)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil)
	}
	if len(encoded) > d.maxResultBytes {
		d.errorCount.Add(1)
		d.log.WarnContext(ctx, "tool result too large",
			slog.String("tool", call.Name),
			slog.Int("size", len(encoded)),
			slog.Int("max", d.maxResultBytes))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Result exceeds maximum size", nil)
	}

	d.toolsExecuted.Add(1)
	return jsonrpc.NewRawResultResponse(req.ID, encoded)
}

func resultText(r *mcp.CallToolResult) string {
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			return c.Text
		}
	}
	return ""
}
