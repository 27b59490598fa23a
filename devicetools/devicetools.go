// Package devicetools implements the built-in device capability tools:
// echo, display_control, gpio_control, system_info, and status. Each tool
// is built against a narrow accessor interface so the same tool code runs
// against real drivers or the simulators in devicetest.
package devicetools

import "time"

// Color is a named display color. The display accessor maps names to
// whatever its hardware uses.
type Color string

const (
	ColorBlack   Color = "black"
	ColorWhite   Color = "white"
	ColorRed     Color = "red"
	ColorGreen   Color = "green"
	ColorBlue    Color = "blue"
	ColorYellow  Color = "yellow"
	ColorCyan    Color = "cyan"
	ColorMagenta Color = "magenta"
)

// DisplayInfo describes the display surface and its current settings.
type DisplayInfo struct {
	Width       int
	Height      int
	Brightness  int
	BacklightOn bool
}

// Display is the display accessor the display_control tool drives.
type Display interface {
	DrawText(x, y int, text string, fg, bg Color) error
	FillRect(x, y, w, h int, color Color) error
	Clear(color Color) error
	SetBacklight(on bool) error
	SetBrightness(percent int) error
	Refresh() error
	Info() DisplayInfo
}

// PinMode selects the direction and input bias of a GPIO pin.
type PinMode int

const (
	PinInput PinMode = iota
	PinOutput
	PinInputPullup
	PinInputPulldown
)

// PullMode selects the resistor bias for a configured pin.
type PullMode int

const (
	PullFloating PullMode = iota
	PullUp
	PullDown
)

// GPIO is the pin accessor the gpio_control tool drives. LEDPin and
// ButtonPin name the two wired-by-default pins the convenience actions
// (set_led, read_button) use.
type GPIO interface {
	SetLevel(pin int, high bool) error
	GetLevel(pin int) (bool, error)
	Configure(pin int, mode PinMode, pull PullMode) error
	LEDPin() int
	ButtonPin() int
	ButtonPressCount() uint64
}

// ChipInfo identifies the host hardware and runtime.
type ChipInfo struct {
	Model    string
	Revision int
	Cores    int
	Version  string
}

// MemoryStats breaks down the heap the way the system accessor sees it.
type MemoryStats struct {
	FreeHeap    uint64
	MinFreeHeap uint64
}

// System is the telemetry accessor the system_info tool drives. Restart is
// a request; the accessor decides whether and when to honor it.
type System interface {
	FreeHeap() uint64
	MemStats() MemoryStats
	Uptime() time.Duration
	ChipInfo() ChipInfo
	Restart() error
}

// HealthSource reports overall device health for the status tool. The
// server wires its own counters in through this interface.
type HealthSource interface {
	ErrorCount() uint64
	ActiveConnections() int
}
