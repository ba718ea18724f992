//go:build darwin && cgo

package desktop

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation

#include <stdbool.h>
#include <CoreGraphics/CoreGraphics.h>

static void postMouse(CGEventType type, CGMouseButton button, double x, double y) {
    CGEventRef ev = CGEventCreateMouseEvent(NULL, type, CGPointMake(x, y), button);
    CGEventPost(kCGHIDEventTap, ev);
    CFRelease(ev);
}

static void postScroll(int delta) {
    CGEventRef ev = CGEventCreateScrollWheelEvent(NULL, kCGScrollEventUnitLine, 1, delta);
    CGEventPost(kCGHIDEventTap, ev);
    CFRelease(ev);
}

static void postKey(CGKeyCode code, bool down) {
    CGEventRef ev = CGEventCreateKeyboardEvent(NULL, code, down);
    CGEventPost(kCGHIDEventTap, ev);
    CFRelease(ev);
}
*/
import "C"

import "fmt"

// darwinInjector posts Quartz events at the HID tap. Requires the
// Accessibility permission; the first post prompts the user for it.
type darwinInjector struct {
	offsetX int
	offsetY int
	// left button state so moves keep an in-progress drag alive
	leftDown bool
}

func newPlatformInjector(offsetX, offsetY int) (InputInjector, error) {
	return &darwinInjector{offsetX: offsetX, offsetY: offsetY}, nil
}

func (h *darwinInjector) InjectMouse(ev MouseEvent) error {
	x := C.double(ev.X + float64(h.offsetX))
	y := C.double(ev.Y + float64(h.offsetY))

	switch ev.Action {
	case MouseMove:
		if h.leftDown {
			C.postMouse(C.kCGEventLeftMouseDragged, C.kCGMouseButtonLeft, x, y)
		} else {
			C.postMouse(C.kCGEventMouseMoved, C.kCGMouseButtonLeft, x, y)
		}
	case MouseDown:
		t, b := downEvent(ev.Button)
		if ev.Button == ButtonLeft || ev.Button == "" {
			h.leftDown = true
		}
		C.postMouse(t, b, x, y)
	case MouseUp:
		t, b := upEvent(ev.Button)
		if ev.Button == ButtonLeft || ev.Button == "" {
			h.leftDown = false
		}
		C.postMouse(t, b, x, y)
	case MouseScrollWheel:
		C.postScroll(C.int(ev.Y))
	default:
		return fmt.Errorf("unknown mouse action %q", ev.Action)
	}
	return nil
}

func downEvent(b MouseButton) (C.CGEventType, C.CGMouseButton) {
	switch b {
	case ButtonRight:
		return C.kCGEventRightMouseDown, C.kCGMouseButtonRight
	case ButtonMiddle:
		return C.kCGEventOtherMouseDown, C.kCGMouseButtonCenter
	default:
		return C.kCGEventLeftMouseDown, C.kCGMouseButtonLeft
	}
}

func upEvent(b MouseButton) (C.CGEventType, C.CGMouseButton) {
	switch b {
	case ButtonRight:
		return C.kCGEventRightMouseUp, C.kCGMouseButtonRight
	case ButtonMiddle:
		return C.kCGEventOtherMouseUp, C.kCGMouseButtonCenter
	default:
		return C.kCGEventLeftMouseUp, C.kCGMouseButtonLeft
	}
}

func (h *darwinInjector) InjectKeyboard(ev KeyboardEvent) error {
	code, ok := keycodeToCGKeyCode(ev.Keycode)
	if !ok {
		return fmt.Errorf("no CGKeyCode mapping for keycode %d", ev.Keycode)
	}
	C.postKey(C.CGKeyCode(code), C.bool(ev.Action == KeyDown))
	return nil
}

func (h *darwinInjector) Close() error { return nil }

// keycodeToCGKeyCode maps the neutral numbering to macOS virtual keycodes
// (kVK_* values, ANSI layout).
func keycodeToCGKeyCode(kc Keycode) (uint16, bool) {
	// ANSI letter keycodes are not contiguous on macOS.
	letters := [26]uint16{0, 11, 8, 2, 14, 3, 5, 4, 34, 38, 40, 37, 46,
		45, 31, 35, 12, 15, 1, 17, 32, 9, 13, 7, 16, 6}
	digits := [10]uint16{29, 18, 19, 20, 21, 23, 22, 26, 28, 25} // 0..9
	switch {
	case kc >= KeycodeA && kc <= KeycodeZ:
		return letters[kc-KeycodeA], true
	case kc >= Keycode1 && kc < Keycode0:
		return digits[kc-Keycode1+1], true
	case kc == Keycode0:
		return digits[0], true
	}
	switch kc {
	case KeycodeEnter:
		return 36, true
	case KeycodeEscape:
		return 53, true
	case KeycodeBackspace:
		return 51, true
	case KeycodeTab:
		return 48, true
	case KeycodeSpace:
		return 49, true
	case KeycodeDelete:
		return 117, true
	case KeycodeRight:
		return 124, true
	case KeycodeLeft:
		return 123, true
	case KeycodeDown:
		return 125, true
	case KeycodeUp:
		return 126, true
	case KeycodeLeftCtrl:
		return 59, true
	case KeycodeLeftShift:
		return 56, true
	case KeycodeLeftAlt:
		return 58, true
	case KeycodeLeftMeta:
		return 55, true
	}
	return 0, false
}
