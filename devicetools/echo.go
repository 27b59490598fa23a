package devicetools

import (
	"context"

	"github.com/edgemcp/device-server-go/mcp"
	"github.com/edgemcp/device-server-go/mcpserver"
	"github.com/edgemcp/device-server-go/sessions"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"required,description=Text to echo back"`
}

// NewEchoTool returns the echo tool, the simplest end-to-end check a
// client can run.
func NewEchoTool() mcpserver.StaticTool {
	return mcpserver.NewTool("echo",
		func(ctx context.Context, session *sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
			return okResult(args.Message, nil), nil
		},
		mcpserver.WithToolDescription("Echo a message back to the caller"))
}
