//go:build linux

package desktop

import (
	"fmt"
	"os/exec"
	"strconv"
)

// linuxInjector drives xdotool. Spawning a process per event is slower
// than an XTest connection but works on every X session without cgo; at
// input-event rates the fork cost is not noticeable.
type linuxInjector struct {
	offsetX int
	offsetY int
}

func newPlatformInjector(offsetX, offsetY int) (InputInjector, error) {
	if _, err := exec.LookPath("xdotool"); err != nil {
		return nil, fmt.Errorf("input injection needs xdotool: %w", err)
	}
	return &linuxInjector{offsetX: offsetX, offsetY: offsetY}, nil
}

func (h *linuxInjector) InjectMouse(ev MouseEvent) error {
	x := strconv.Itoa(int(ev.X) + h.offsetX)
	y := strconv.Itoa(int(ev.Y) + h.offsetY)

	switch ev.Action {
	case MouseMove:
		return exec.Command("xdotool", "mousemove", x, y).Run()
	case MouseDown:
		if err := exec.Command("xdotool", "mousemove", x, y).Run(); err != nil {
			return err
		}
		return exec.Command("xdotool", "mousedown", xdoButton(ev.Button)).Run()
	case MouseUp:
		return exec.Command("xdotool", "mouseup", xdoButton(ev.Button)).Run()
	case MouseScrollWheel:
		// X11 maps the wheel to buttons 4 (up) and 5 (down); one click
		// per scroll step.
		delta := int(ev.Y)
		button := "4"
		if delta < 0 {
			button = "5"
			delta = -delta
		}
		for i := 0; i < delta; i++ {
			if err := exec.Command("xdotool", "click", button).Run(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown mouse action %q", ev.Action)
	}
}

func (h *linuxInjector) InjectKeyboard(ev KeyboardEvent) error {
	keysym, ok := keycodeToKeysym(ev.Keycode)
	if !ok {
		return fmt.Errorf("no keysym mapping for keycode %d", ev.Keycode)
	}
	switch ev.Action {
	case KeyDown:
		return exec.Command("xdotool", "keydown", keysym).Run()
	case KeyUp:
		return exec.Command("xdotool", "keyup", keysym).Run()
	default:
		return fmt.Errorf("unknown key action %q", ev.Action)
	}
}

func (h *linuxInjector) Close() error { return nil }

func xdoButton(b MouseButton) string {
	switch b {
	case ButtonRight:
		return "3"
	case ButtonMiddle:
		return "2"
	default:
		return "1"
	}
}

// keycodeToKeysym maps the neutral keycode numbering to X keysym names.
func keycodeToKeysym(kc Keycode) (string, bool) {
	switch {
	case kc >= KeycodeA && kc <= KeycodeZ:
		return string(rune('a' + int(kc-KeycodeA))), true
	case kc >= Keycode1 && kc < Keycode0:
		return string(rune('1' + int(kc-Keycode1))), true
	case kc == Keycode0:
		return "0", true
	}
	switch kc {
	case KeycodeEnter:
		return "Return", true
	case KeycodeEscape:
		return "Escape", true
	case KeycodeBackspace:
		return "BackSpace", true
	case KeycodeTab:
		return "Tab", true
	case KeycodeSpace:
		return "space", true
	case KeycodeDelete:
		return "Delete", true
	case KeycodeRight:
		return "Right", true
	case KeycodeLeft:
		return "Left", true
	case KeycodeDown:
		return "Down", true
	case KeycodeUp:
		return "Up", true
	case KeycodeLeftCtrl:
		return "ctrl", true
	case KeycodeLeftShift:
		return "shift", true
	case KeycodeLeftAlt:
		return "alt", true
	case KeycodeLeftMeta:
		return "super", true
	}
	return "", false
}
