package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/edgemcp/device-server-go/internal/jsonrpc"
	"github.com/edgemcp/device-server-go/mcp"
	"github.com/edgemcp/device-server-go/sessions"
)

func testDispatcher(t *testing.T, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	r := NewRegistry(0)
	tools := []StaticTool{
		noopTool("echo"),
		noopTool("display_control"),
		{
			Descriptor: mcp.Tool{Name: "failing", InputSchema: mcp.ToolInputSchema{Type: "object"}},
			Handler: func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
				return nil, errors.New("hardware fault")
			},
		},
		{
			Descriptor: mcp.Tool{Name: "verbose", InputSchema: mcp.ToolInputSchema{Type: "object"}},
			Handler: func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
				return TextResult(strings.Repeat("x", 8192)), nil
			},
		},
	}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	r.Freeze()
	return NewDispatcher(r, opts...)
}

func request(t *testing.T, method string, params string, id uint64) *jsonrpc.Request {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	return &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         method,
		Params:         raw,
		ID:             jsonrpc.NewID(id),
	}
}

func TestToolsListReflectsRegistrationOrder(t *testing.T) {
	d := testDispatcher(t)
	resp := d.Dispatch(context.Background(), nil, request(t, "tools/list", "", 1))
	if resp == nil || resp.Error != nil {
		t.Fatalf("tools/list failed: %+v", resp)
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("result decode failed: %v", err)
	}
	want := []string{"echo", "display_control", "failing", "verbose"}
	if len(result.Tools) != len(want) {
		t.Fatalf("listed %d tools, want %d", len(result.Tools), len(want))
	}
	for i, n := range want {
		if result.Tools[i].Name != n {
			t.Fatalf("tools[%d] = %q, want %q", i, result.Tools[i].Name, n)
		}
	}
}

func TestCallToolSuccess(t *testing.T) {
	d := testDispatcher(t)
	resp := d.Dispatch(context.Background(), nil, request(t, "tools/call", `{"name":"echo","arguments":{}}`, 2))
	if resp == nil || resp.Error != nil {
		t.Fatalf("tools/call failed: %+v", resp)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("result decode failed: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "ok" {
		t.Fatalf("result = %+v", result)
	}
	executed, errCount := d.Counters()
	if executed != 1 || errCount != 0 {
		t.Fatalf("counters = (%d, %d), want (1, 0)", executed, errCount)
	}
}

func TestCallToolMissingNameIsInvalidRequest(t *testing.T) {
	d := testDispatcher(t)
	cases := []struct {
		name   string
		params string
	}{
		{"no params", ""},
		{"empty params", `{}`},
		{"name wrong type", `{"name":42}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), nil, request(t, "tools/call", tc.params, 3))
			if resp == nil || resp.Error == nil {
				t.Fatalf("expected error response, got %+v", resp)
			}
			if resp.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
				t.Fatalf("code = %d, want %d", resp.Error.Code, jsonrpc.ErrorCodeInvalidRequest)
			}
			if resp.Error.Message != "Missing tool name" {
				t.Fatalf("message = %q, want %q", resp.Error.Message, "Missing tool name")
			}
		})
	}
}

func TestCallUnknownTool(t *testing.T) {
	d := testDispatcher(t)
	resp := d.Dispatch(context.Background(), nil, request(t, "tools/call", `{"name":"nonexistent"}`, 4))
	if resp == nil || resp.Error == nil {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if resp.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("code = %d, want %d", resp.Error.Code, jsonrpc.ErrorCodeMethodNotFound)
	}
	if !strings.Contains(resp.Error.Message, "not found") {
		t.Fatalf("message = %q, want it to contain %q", resp.Error.Message, "not found")
	}
	executed, errCount := d.Counters()
	if executed != 0 {
		t.Fatalf("toolsExecuted = %d, want 0", executed)
	}
	if errCount != 1 {
		t.Fatalf("errors = %d, want 1", errCount)
	}
}

func TestCallFailingToolYieldsApplicationError(t *testing.T) {
	d := testDispatcher(t)
	resp := d.Dispatch(context.Background(), nil, request(t, "tools/call", `{"name":"failing"}`, 5))
	if resp == nil || resp.Error == nil {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if resp.Error.Code != jsonrpc.ErrorCodeApplicationError {
		t.Fatalf("code = %d, want %d", resp.Error.Code, jsonrpc.ErrorCodeApplicationError)
	}
	_, errCount := d.Counters()
	if errCount != 1 {
		t.Fatalf("errors = %d, want 1", errCount)
	}
}

func TestOversizedResultRejectedWhole(t *testing.T) {
	d := testDispatcher(t)
	resp := d.Dispatch(context.Background(), nil, request(t, "tools/call", `{"name":"verbose"}`, 6))
	if resp == nil || resp.Error == nil {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if resp.Error.Code != jsonrpc.ErrorCodeInternalError {
		t.Fatalf("code = %d, want %d", resp.Error.Code, jsonrpc.ErrorCodeInternalError)
	}
	if len(resp.Result) != 0 {
		t.Fatal("oversized result partially delivered")
	}
	executed, _ := d.Counters()
	if executed != 0 {
		t.Fatalf("toolsExecuted = %d, want 0", executed)
	}
}

func TestUnknownMethod(t *testing.T) {
	d := testDispatcher(t)
	resp := d.Dispatch(context.Background(), nil, request(t, "resources/list", "", 7))
	if resp == nil || resp.Error == nil {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if resp.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("code = %d, want %d", resp.Error.Code, jsonrpc.ErrorCodeMethodNotFound)
	}
}

func TestAdHocMethod(t *testing.T) {
	d := testDispatcher(t)
	err := d.RegisterMethod("ping", func(ctx context.Context, session *sessions.Session, params json.RawMessage) (any, *jsonrpc.Error) {
		return "pong", nil
	})
	if err != nil {
		t.Fatalf("RegisterMethod failed: %v", err)
	}
	resp := d.Dispatch(context.Background(), nil, request(t, "ping", "", 8))
	if resp == nil || resp.Error != nil {
		t.Fatalf("ping failed: %+v", resp)
	}
	if string(resp.Result) != `"pong"` {
		t.Fatalf("result = %s, want \"pong\"", resp.Result)
	}
}

func TestRegisterMethodRejectsBuiltins(t *testing.T) {
	d := testDispatcher(t)
	err := d.RegisterMethod("tools/call", func(ctx context.Context, session *sessions.Session, params json.RawMessage) (any, *jsonrpc.Error) {
		return nil, nil
	})
	if err == nil {
		t.Fatal("RegisterMethod overrode a built-in method")
	}
}

func TestNotificationYieldsNoResponse(t *testing.T) {
	d := testDispatcher(t)
	req := &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         "notifications/initialized",
	}
	if resp := d.Dispatch(context.Background(), nil, req); resp != nil {
		t.Fatalf("notification produced a response: %+v", resp)
	}
}

func TestResetCounters(t *testing.T) {
	d := testDispatcher(t)
	d.Dispatch(context.Background(), nil, request(t, "tools/call", `{"name":"echo"}`, 9))
	d.Dispatch(context.Background(), nil, request(t, "tools/call", `{"name":"nonexistent"}`, 10))
	d.ResetCounters()
	executed, errCount := d.Counters()
	if executed != 0 || errCount != 0 {
		t.Fatalf("counters after reset = (%d, %d), want (0, 0)", executed, errCount)
	}
}
