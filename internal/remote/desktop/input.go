package desktop

import (
	"encoding/json"
	"fmt"
)

// MouseAction enumerates the mouse event variants.
type MouseAction string

const (
	MouseUp          MouseAction = "up"
	MouseDown        MouseAction = "down"
	MouseMove        MouseAction = "move"
	MouseScrollWheel MouseAction = "scroll_wheel"
)

// MouseButton identifies which button an up/down refers to.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// KeyAction enumerates the keyboard event variants.
type KeyAction string

const (
	KeyUp   KeyAction = "up"
	KeyDown KeyAction = "down"
)

// Keycode is the platform-neutral key numbering carried on the wire and
// translated to the OS synthetic-input API on the passive side. The
// numbering follows the USB HID usage table for the keyboard page, which
// every supported platform can map from.
type Keycode uint16

// The subset of keycodes with dedicated constants; letters, digits, and
// the rest of the HID page pass through numerically.
const (
	KeycodeA         Keycode = 4
	KeycodeZ         Keycode = 29
	Keycode1         Keycode = 30
	Keycode0         Keycode = 39
	KeycodeEnter     Keycode = 40
	KeycodeEscape    Keycode = 41
	KeycodeBackspace Keycode = 42
	KeycodeTab       Keycode = 43
	KeycodeSpace     Keycode = 44
	KeycodeDelete    Keycode = 76
	KeycodeRight     Keycode = 79
	KeycodeLeft      Keycode = 80
	KeycodeDown      Keycode = 81
	KeycodeUp        Keycode = 82
	KeycodeLeftCtrl  Keycode = 224
	KeycodeLeftShift Keycode = 225
	KeycodeLeftAlt   Keycode = 226
	KeycodeLeftMeta  Keycode = 227
)

// MouseEvent is one pointer event. X/Y (and the scroll delta, carried in
// Y for ScrollWheel) are in the captured monitor's pixel space.
type MouseEvent struct {
	Action MouseAction `json:"action"`
	Button MouseButton `json:"button,omitempty"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
}

// KeyboardEvent is one key transition.
type KeyboardEvent struct {
	Action  KeyAction `json:"action"`
	Keycode Keycode   `json:"keycode"`
}

// InputEvent is the closed tagged union carried on endpoint input frames:
// exactly one of Mouse or Keyboard is set.
type InputEvent struct {
	Mouse    *MouseEvent
	Keyboard *KeyboardEvent
}

type inputWire struct {
	Type     string         `json:"type"`
	Mouse    *MouseEvent    `json:"mouse,omitempty"`
	Keyboard *KeyboardEvent `json:"keyboard,omitempty"`
}

// MarshalJSON emits the tagged wire form.
func (e InputEvent) MarshalJSON() ([]byte, error) {
	switch {
	case e.Mouse != nil && e.Keyboard == nil:
		return json.Marshal(inputWire{Type: "mouse", Mouse: e.Mouse})
	case e.Keyboard != nil && e.Mouse == nil:
		return json.Marshal(inputWire{Type: "keyboard", Keyboard: e.Keyboard})
	default:
		return nil, fmt.Errorf("desktop: input event must carry exactly one variant")
	}
}

// UnmarshalJSON parses the tagged wire form, rejecting unknown variants.
func (e *InputEvent) UnmarshalJSON(data []byte) error {
	var w inputWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case "mouse":
		if w.Mouse == nil {
			return fmt.Errorf("desktop: mouse event without body")
		}
		*e = InputEvent{Mouse: w.Mouse}
	case "keyboard":
		if w.Keyboard == nil {
			return fmt.Errorf("desktop: keyboard event without body")
		}
		*e = InputEvent{Keyboard: w.Keyboard}
	default:
		return fmt.Errorf("desktop: unknown input event type %q", w.Type)
	}
	return nil
}

// ClampToMonitor clips mouse coordinates to the captured monitor's bounds.
// Out-of-range coordinates are clamped, never dropped.
func (e *InputEvent) ClampToMonitor(width, height int) {
	if e.Mouse == nil || e.Mouse.Action == MouseScrollWheel {
		return
	}
	if e.Mouse.X < 0 {
		e.Mouse.X = 0
	}
	if e.Mouse.Y < 0 {
		e.Mouse.Y = 0
	}
	if max := float64(width - 1); e.Mouse.X > max {
		e.Mouse.X = max
	}
	if max := float64(height - 1); e.Mouse.Y > max {
		e.Mouse.Y = max
	}
}

// InputInjector converts received events into the platform's synthetic
// input API. Implementations live in the input_*.go platform files.
type InputInjector interface {
	InjectMouse(ev MouseEvent) error
	InjectKeyboard(ev KeyboardEvent) error
	Close() error
}

// newInjector is the platform injector constructor, swappable in tests.
var newInjector = newPlatformInjector

// NewInputInjector returns the platform injector. offsetX/offsetY map
// monitor-local coordinates to the virtual desktop origin of the captured
// monitor.
func NewInputInjector(offsetX, offsetY int) (InputInjector, error) {
	return newInjector(offsetX, offsetY)
}
