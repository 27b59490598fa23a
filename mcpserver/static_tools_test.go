package mcpserver

import (
	"context"
	"testing"

	"github.com/edgemcp/device-server-go/mcp"
	"github.com/edgemcp/device-server-go/sessions"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"required,description=Text to echo back"`
	Repeat  int    `json:"repeat,omitempty"`
}

func TestNewToolReflectsSchema(t *testing.T) {
	tool := NewTool("echo", func(ctx context.Context, session *sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
		return TextResult(args.Message), nil
	}, WithToolDescription("Echo a message back"))

	desc := tool.Descriptor
	if desc.Name != "echo" {
		t.Fatalf("Name = %q", desc.Name)
	}
	if desc.Description != "Echo a message back" {
		t.Fatalf("Description = %q", desc.Description)
	}
	if desc.InputSchema.Type != "object" {
		t.Fatalf("schema type = %q, want object", desc.InputSchema.Type)
	}
	prop, ok := desc.InputSchema.Properties["message"]
	if !ok {
		t.Fatalf("schema missing message property: %+v", desc.InputSchema.Properties)
	}
	if prop.Type != "string" {
		t.Fatalf("message type = %q, want string", prop.Type)
	}
	found := false
	for _, r := range desc.InputSchema.Required {
		if r == "message" {
			found = true
		}
	}
	if !found {
		t.Fatalf("message not marked required: %v", desc.InputSchema.Required)
	}
}

func TestNewToolDecodesArguments(t *testing.T) {
	tool := NewTool("echo", func(ctx context.Context, session *sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
		return TextResult(args.Message), nil
	})

	req := &mcp.CallToolRequestReceived{Name: "echo", Arguments: []byte(`{"message":"hello"}`)}
	result, err := tool.Handler(context.Background(), nil, req)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	if result.IsError || result.Content[0].Text != "hello" {
		t.Fatalf("result = %+v", result)
	}
}

func TestNewToolRejectsUnknownFields(t *testing.T) {
	tool := NewTool("echo", func(ctx context.Context, session *sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
		return TextResult(args.Message), nil
	})

	req := &mcp.CallToolRequestReceived{Name: "echo", Arguments: []byte(`{"message":"hi","extra":true}`)}
	result, err := tool.Handler(context.Background(), nil, req)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	if !result.IsError {
		t.Fatal("unknown field accepted by strict decoder")
	}
}

func TestTypedToolTolerancesMissingArguments(t *testing.T) {
	tool := TypedTool(mcp.Tool{Name: "echo", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		func(ctx context.Context, session *sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
			return TextResult(args.Message), nil
		})

	req := &mcp.CallToolRequestReceived{Name: "echo"}
	result, err := tool.Handler(context.Background(), nil, req)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
}
