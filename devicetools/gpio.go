package devicetools

import (
	"context"

	"github.com/edgemcp/device-server-go/mcp"
	"github.com/edgemcp/device-server-go/mcpserver"
	"github.com/edgemcp/device-server-go/sessions"
)

type gpioArgs struct {
	Action   string `json:"action" jsonschema:"required,enum=set_led,enum=read_button,enum=get_status,enum=set_pin,enum=read_pin,enum=config_pin,description=Action to perform on GPIO"`
	Pin      int    `json:"pin,omitempty" jsonschema:"description=GPIO pin number"`
	State    bool   `json:"state,omitempty" jsonschema:"description=Pin state (true=high false=low)"`
	Mode     int    `json:"mode,omitempty" jsonschema:"enum=0,enum=1,enum=2,enum=3,description=GPIO mode (0=input 1=output 2=input_pullup 3=input_pulldown)"`
	PullMode int    `json:"pull_mode,omitempty" jsonschema:"enum=0,enum=1,enum=2,description=Pull mode (0=floating 1=pullup 2=pulldown)"`
}

const maxPinNumber = 30

// NewGPIOTool returns the gpio_control tool bound to g.
func NewGPIOTool(g GPIO) mcpserver.StaticTool {
	return mcpserver.NewTool("gpio_control",
		func(ctx context.Context, session *sessions.Session, args gpioArgs) (*mcp.CallToolResult, error) {
			return runGPIOAction(g, args), nil
		},
		mcpserver.WithToolDescription("Control GPIO pins: LED, button, and raw pin access"))
}

func runGPIOAction(g GPIO, args gpioArgs) *mcp.CallToolResult {
	if args.Pin < 0 || args.Pin > maxPinNumber {
		return errResult("Pin out of range: %d", args.Pin)
	}

	switch args.Action {
	case "set_led":
		if err := g.SetLevel(g.LEDPin(), args.State); err != nil {
			return errResult("Failed to set LED: %v", err)
		}
		return okResult("OK", map[string]any{
			"pin_state": args.State,
			"pin_value": boolToLevel(args.State),
		})

	case "read_button":
		high, err := g.GetLevel(g.ButtonPin())
		if err != nil {
			return errResult("Failed to read button: %v", err)
		}
		// The button is wired active low.
		pressed := !high
		return okResult("OK", map[string]any{
			"pin_state":      pressed,
			"pin_value":      boolToLevel(high),
			"button_pressed": pressed,
			"button_count":   g.ButtonPressCount(),
		})

	case "get_status":
		ledHigh, err := g.GetLevel(g.LEDPin())
		if err != nil {
			return errResult("Failed to read LED: %v", err)
		}
		buttonHigh, err := g.GetLevel(g.ButtonPin())
		if err != nil {
			return errResult("Failed to read button: %v", err)
		}
		return okResult("OK", map[string]any{
			"pin_state":      ledHigh,
			"pin_value":      boolToLevel(ledHigh),
			"button_pressed": !buttonHigh,
			"button_count":   g.ButtonPressCount(),
		})

	case "set_pin":
		if err := g.SetLevel(args.Pin, args.State); err != nil {
			return errResult("Failed to set pin: %v", err)
		}
		return okResult("OK", map[string]any{
			"pin":       args.Pin,
			"pin_state": args.State,
			"pin_value": boolToLevel(args.State),
		})

	case "read_pin":
		high, err := g.GetLevel(args.Pin)
		if err != nil {
			return errResult("Failed to read pin: %v", err)
		}
		return okResult("OK", map[string]any{
			"pin":       args.Pin,
			"pin_state": high,
			"pin_value": boolToLevel(high),
		})

	case "config_pin":
		mode, pull, ok := pinConfig(args.Mode, args.PullMode)
		if !ok {
			return errResult("Invalid mode or pull_mode")
		}
		if err := g.Configure(args.Pin, mode, pull); err != nil {
			return errResult("Failed to configure pin: %v", err)
		}
		high, err := g.GetLevel(args.Pin)
		if err != nil {
			return errResult("Failed to read pin after configure: %v", err)
		}
		return okResult("OK", map[string]any{
			"pin":       args.Pin,
			"pin_state": high,
			"pin_value": boolToLevel(high),
		})

	default:
		return errResult("Unknown action")
	}
}

func pinConfig(mode, pullMode int) (PinMode, PullMode, bool) {
	var m PinMode
	switch mode {
	case 0:
		m = PinInput
	case 1:
		m = PinOutput
	case 2:
		m = PinInputPullup
	case 3:
		m = PinInputPulldown
	default:
		return 0, 0, false
	}
	var p PullMode
	switch pullMode {
	case 0:
		p = PullFloating
	case 1:
		p = PullUp
	case 2:
		p = PullDown
	default:
		return 0, 0, false
	}
	return m, p, true
}

func boolToLevel(high bool) int {
	if high {
		return 1
	}
	return 0
}
