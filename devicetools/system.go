package devicetools

import (
	"context"

	"github.com/edgemcp/device-server-go/mcp"
	"github.com/edgemcp/device-server-go/mcpserver"
	"github.com/edgemcp/device-server-go/sessions"
)

type systemArgs struct {
	Action string `json:"action" jsonschema:"required,enum=get_info,enum=get_stats,enum=get_memory,enum=restart,description=System action to perform"`
}

// NewSystemTool returns the system_info tool bound to sys.
func NewSystemTool(sys System) mcpserver.StaticTool {
	return mcpserver.NewTool("system_info",
		func(ctx context.Context, session *sessions.Session, args systemArgs) (*mcp.CallToolResult, error) {
			return runSystemAction(sys, args), nil
		},
		mcpserver.WithToolDescription("Query system telemetry: chip info, memory, uptime; request a restart"))
}

func runSystemAction(sys System, args systemArgs) *mcp.CallToolResult {
	switch args.Action {
	case "get_info":
		chip := sys.ChipInfo()
		return okResult("OK", map[string]any{
			"chip_model":    chip.Model,
			"chip_revision": chip.Revision,
			"cores":         chip.Cores,
			"version":       chip.Version,
			"free_heap":     sys.FreeHeap(),
			"uptime_ms":     sys.Uptime().Milliseconds(),
		})

	case "get_stats":
		mem := sys.MemStats()
		return okResult("OK", map[string]any{
			"free_heap":     mem.FreeHeap,
			"min_free_heap": mem.MinFreeHeap,
			"uptime_ms":     sys.Uptime().Milliseconds(),
		})

	case "get_memory":
		mem := sys.MemStats()
		return okResult("OK", map[string]any{
			"heap": map[string]any{
				"free":         mem.FreeHeap,
				"minimum_free": mem.MinFreeHeap,
			},
		})

	case "restart":
		if err := sys.Restart(); err != nil {
			return errResult("Restart refused: %v", err)
		}
		return okResult("Restart requested", nil)

	default:
		return errResult("Unknown action")
	}
}
