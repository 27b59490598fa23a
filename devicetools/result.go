package devicetools

import (
	"encoding/json"
	"fmt"

	"github.com/edgemcp/device-server-go/mcp"
	"github.com/edgemcp/device-server-go/mcpserver"
)

// toolResult is the envelope every device tool returns, rendered as the
// text content of the call result.
type toolResult struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func okResult(message string, data map[string]any) *mcp.CallToolResult {
	return renderResult(toolResult{Status: "success", Message: message, Data: data})
}

func errResult(format string, a ...any) *mcp.CallToolResult {
	r := renderResult(toolResult{Status: "error", Message: fmt.Sprintf(format, a...)})
	r.IsError = true
	return r
}

func renderResult(r toolResult) *mcp.CallToolResult {
	b, err := json.Marshal(r)
	if err != nil {
		return mcpserver.Errorf("result encoding failed: %v", err)
	}
	return mcpserver.TextResult(string(b))
}
