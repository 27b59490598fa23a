// Package devicetest provides in-memory implementations of the devicetools
// accessor interfaces for tests and the demo binary. Every simulator
// records the operations applied to it so tests can assert on effects.
package devicetest

import (
	"fmt"
	"sync"
	"time"

	"github.com/edgemcp/device-server-go/devicetools"
)

// SimDisplay is an in-memory display. All methods are safe for concurrent
// use.
type SimDisplay struct {
	mu sync.Mutex

	Width  int
	Height int

	brightness  int
	backlightOn bool
	Ops         []string
}

// NewSimDisplay returns a 320x172 display, full brightness, backlight on.
func NewSimDisplay() *SimDisplay {
	return &SimDisplay{Width: 320, Height: 172, brightness: 100, backlightOn: true}
}

func (d *SimDisplay) record(format string, a ...any) {
	d.Ops = append(d.Ops, fmt.Sprintf(format, a...))
}

func (d *SimDisplay) DrawText(x, y int, text string, fg, bg devicetools.Color) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if x < 0 || y < 0 || x >= d.Width || y >= d.Height {
		return fmt.Errorf("text origin (%d,%d) outside %dx%d", x, y, d.Width, d.Height)
	}
	d.record("text %q at (%d,%d) %s/%s", text, x, y, fg, bg)
	return nil
}

func (d *SimDisplay) FillRect(x, y, w, h int, color devicetools.Color) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if x < 0 || y < 0 || x+w > d.Width || y+h > d.Height {
		return fmt.Errorf("rect (%d,%d %dx%d) outside %dx%d", x, y, w, h, d.Width, d.Height)
	}
	d.record("rect (%d,%d %dx%d) %s", x, y, w, h, color)
	return nil
}

func (d *SimDisplay) Clear(color devicetools.Color) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("clear %s", color)
	return nil
}

func (d *SimDisplay) SetBacklight(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backlightOn = on
	d.record("backlight %v", on)
	return nil
}

func (d *SimDisplay) SetBrightness(percent int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if percent < 0 || percent > 100 {
		return fmt.Errorf("brightness %d out of range", percent)
	}
	d.brightness = percent
	d.record("brightness %d", percent)
	return nil
}

func (d *SimDisplay) Refresh() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("refresh")
	return nil
}

func (d *SimDisplay) Info() devicetools.DisplayInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return devicetools.DisplayInfo{
		Width:       d.Width,
		Height:      d.Height,
		Brightness:  d.brightness,
		BacklightOn: d.backlightOn,
	}
}

// SimGPIO is an in-memory pin bank with a dedicated LED and button pin.
type SimGPIO struct {
	mu sync.Mutex

	levels       map[int]bool
	led          int
	button       int
	buttonPushes uint64
}

// NewSimGPIO returns a bank with the LED on pin 8 and the button on pin 9.
// The button line idles high (active low).
func NewSimGPIO() *SimGPIO {
	g := &SimGPIO{levels: make(map[int]bool), led: 8, button: 9}
	g.levels[g.button] = true
	return g
}

func (g *SimGPIO) SetLevel(pin int, high bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels[pin] = high
	return nil
}

func (g *SimGPIO) GetLevel(pin int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levels[pin], nil
}

func (g *SimGPIO) Configure(pin int, mode devicetools.PinMode, pull devicetools.PullMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	// Pullup biases an unset input high.
	if mode == devicetools.PinInputPullup || pull == devicetools.PullUp {
		if _, set := g.levels[pin]; !set {
			g.levels[pin] = true
		}
	}
	return nil
}

func (g *SimGPIO) LEDPin() int    { return g.led }
func (g *SimGPIO) ButtonPin() int { return g.button }

func (g *SimGPIO) ButtonPressCount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buttonPushes
}

// PressButton simulates one press-and-release of the button.
func (g *SimGPIO) PressButton() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buttonPushes++
}

// HoldButton drives the button line low until ReleaseButton.
func (g *SimGPIO) HoldButton() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels[g.button] = false
	g.buttonPushes++
}

// ReleaseButton returns the button line to its idle high state.
func (g *SimGPIO) ReleaseButton() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels[g.button] = true
}

// SimSystem is an in-memory telemetry source.
type SimSystem struct {
	mu sync.Mutex

	Chip      devicetools.ChipInfo
	freeHeap  uint64
	minHeap   uint64
	startedAt time.Time
	restarts  int
}

// NewSimSystem returns a system with a plausible default profile.
func NewSimSystem() *SimSystem {
	return &SimSystem{
		Chip:      devicetools.ChipInfo{Model: "sim32", Revision: 1, Cores: 2, Version: "dev"},
		freeHeap:  256 * 1024,
		minHeap:   192 * 1024,
		startedAt: time.Now(),
	}
}

func (s *SimSystem) FreeHeap() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeHeap
}

// SetFreeHeap overrides the reported free heap, clamping the minimum.
func (s *SimSystem) SetFreeHeap(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeHeap = n
	if n < s.minHeap {
		s.minHeap = n
	}
}

func (s *SimSystem) MemStats() devicetools.MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return devicetools.MemoryStats{FreeHeap: s.freeHeap, MinFreeHeap: s.minHeap}
}

func (s *SimSystem) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startedAt)
}

func (s *SimSystem) ChipInfo() devicetools.ChipInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Chip
}

func (s *SimSystem) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	s.startedAt = time.Now()
	return nil
}

// Restarts returns how many restarts were requested.
func (s *SimSystem) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// SimHealth is a settable HealthSource.
type SimHealth struct {
	mu     sync.Mutex
	errors uint64
	conns  int
}

func (h *SimHealth) ErrorCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errors
}

func (h *SimHealth) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns
}

// Set updates both health readings.
func (h *SimHealth) Set(errors uint64, conns int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = errors
	h.conns = conns
}
