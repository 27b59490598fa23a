package devicetools

import (
	"context"

	"github.com/edgemcp/device-server-go/mcp"
	"github.com/edgemcp/device-server-go/mcpserver"
	"github.com/edgemcp/device-server-go/sessions"
)

type displayArgs struct {
	Action     string `json:"action" jsonschema:"required,enum=show_text,enum=clear,enum=set_brightness,enum=draw_rect,enum=draw_pixel,enum=get_info,enum=refresh,description=Action to perform on the display"`
	Text       string `json:"text,omitempty" jsonschema:"description=Text to display (for show_text)"`
	X          int    `json:"x,omitempty" jsonschema:"description=X coordinate"`
	Y          int    `json:"y,omitempty" jsonschema:"description=Y coordinate"`
	Width      int    `json:"width,omitempty" jsonschema:"description=Width in pixels (for draw_rect)"`
	Height     int    `json:"height,omitempty" jsonschema:"description=Height in pixels (for draw_rect)"`
	Color      string `json:"color,omitempty" jsonschema:"enum=black,enum=white,enum=red,enum=green,enum=blue,enum=yellow,enum=cyan,enum=magenta,description=Color name"`
	BgColor    string `json:"bg_color,omitempty" jsonschema:"enum=black,enum=white,enum=red,enum=green,enum=blue,enum=yellow,enum=cyan,enum=magenta,description=Background color name"`
	Brightness int    `json:"brightness,omitempty" jsonschema:"description=Brightness percentage (for set_brightness)"`
}

func (a *displayArgs) fg() Color {
	if a.Color == "" {
		return ColorWhite
	}
	return Color(a.Color)
}

func (a *displayArgs) bg() Color {
	if a.BgColor == "" {
		return ColorBlack
	}
	return Color(a.BgColor)
}

// NewDisplayTool returns the display_control tool bound to d.
func NewDisplayTool(d Display) mcpserver.StaticTool {
	return mcpserver.NewTool("display_control",
		func(ctx context.Context, session *sessions.Session, args displayArgs) (*mcp.CallToolResult, error) {
			return runDisplayAction(d, args), nil
		},
		mcpserver.WithToolDescription("Control the device display: text, shapes, brightness, backlight"))
}

func runDisplayAction(d Display, args displayArgs) *mcp.CallToolResult {
	switch args.Action {
	case "show_text":
		if args.Text == "" {
			return errResult("Text parameter required")
		}
		if err := d.DrawText(args.X, args.Y, args.Text, args.fg(), args.bg()); err != nil {
			return errResult("Failed to draw text: %v", err)
		}
		return okResult("OK", map[string]any{"text": args.Text, "x": args.X, "y": args.Y})

	case "clear":
		if err := d.Clear(args.bg()); err != nil {
			return errResult("Failed to clear display: %v", err)
		}
		return okResult("OK", nil)

	case "set_brightness":
		if args.Brightness < 0 || args.Brightness > 100 {
			return errResult("Brightness out of range: %d", args.Brightness)
		}
		if err := d.SetBrightness(args.Brightness); err != nil {
			return errResult("Failed to set brightness: %v", err)
		}
		return okResult("OK", map[string]any{"brightness": args.Brightness})

	case "draw_rect":
		if args.Width < 1 || args.Height < 1 {
			return errResult("Width and height must be positive")
		}
		if err := d.FillRect(args.X, args.Y, args.Width, args.Height, args.fg()); err != nil {
			return errResult("Failed to draw rect: %v", err)
		}
		return okResult("OK", nil)

	case "draw_pixel":
		if err := d.FillRect(args.X, args.Y, 1, 1, args.fg()); err != nil {
			return errResult("Failed to draw pixel: %v", err)
		}
		return okResult("OK", nil)

	case "get_info":
		info := d.Info()
		return okResult("OK", map[string]any{
			"display_width":  info.Width,
			"display_height": info.Height,
			"brightness":     info.Brightness,
			"backlight_on":   info.BacklightOn,
		})

	case "refresh":
		if err := d.Refresh(); err != nil {
			return errResult("Failed to refresh display: %v", err)
		}
		return okResult("OK", nil)

	default:
		return errResult("Unknown action")
	}
}
