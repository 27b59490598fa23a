package devicetools

import (
	"context"

	"github.com/edgemcp/device-server-go/mcp"
	"github.com/edgemcp/device-server-go/mcpserver"
	"github.com/edgemcp/device-server-go/sessions"
)

type statusArgs struct {
	Action string `json:"action" jsonschema:"required,enum=get_health,enum=get_connections,enum=run_diagnostics,description=Status query to run"`
}

// lowHeapThreshold marks the free-heap level below which health degrades.
const lowHeapThreshold = 16 * 1024

// NewStatusTool returns the status tool. It reads device health from the
// display/gpio/system accessors plus the server-provided health source.
func NewStatusTool(d Display, g GPIO, sys System, health HealthSource) mcpserver.StaticTool {
	return mcpserver.NewTool("status",
		func(ctx context.Context, session *sessions.Session, args statusArgs) (*mcp.CallToolResult, error) {
			return runStatusAction(d, g, sys, health, args), nil
		},
		mcpserver.WithToolDescription("Report device health, connections, and diagnostics"))
}

func runStatusAction(d Display, g GPIO, sys System, health HealthSource, args statusArgs) *mcp.CallToolResult {
	switch args.Action {
	case "get_health":
		memoryOK := sys.FreeHeap() > lowHeapThreshold
		status := "healthy"
		if !memoryOK || health.ErrorCount() > 0 {
			status = "degraded"
		}
		return okResult("OK", map[string]any{
			"health_status": status,
			"error_count":   health.ErrorCount(),
			"memory_ok":     memoryOK,
			"uptime_ms":     sys.Uptime().Milliseconds(),
		})

	case "get_connections":
		return okResult("OK", map[string]any{
			"active_connections": health.ActiveConnections(),
		})

	case "run_diagnostics":
		memoryOK := sys.FreeHeap() > lowHeapThreshold
		displayOK := probeDisplay(d)
		gpioOK := probeGPIO(g)
		passed := 0
		for _, ok := range []bool{memoryOK, displayOK, gpioOK} {
			if ok {
				passed++
			}
		}
		return okResult("OK", map[string]any{
			"diagnostics": map[string]any{
				"memory_test":  memoryOK,
				"display_test": displayOK,
				"gpio_test":    gpioOK,
				"total_tests":  3,
				"passed":       passed,
			},
			"display_ok": displayOK,
			"gpio_ok":    gpioOK,
			"memory_ok":  memoryOK,
		})

	default:
		return errResult("Unknown action")
	}
}

func probeDisplay(d Display) bool {
	if d == nil {
		return false
	}
	info := d.Info()
	return info.Width > 0 && info.Height > 0
}

func probeGPIO(g GPIO) bool {
	if g == nil {
		return false
	}
	_, err := g.GetLevel(g.ButtonPin())
	return err == nil
}
