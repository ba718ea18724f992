//go:build windows

package desktop

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32              = windows.NewLazySystemDLL("user32.dll")
	procSendInput       = user32.NewProc("SendInput")
	procGetSystemMetric = user32.NewProc("GetSystemMetrics")
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	mouseeventfMove       = 0x0001
	mouseeventfLeftDown   = 0x0002
	mouseeventfLeftUp     = 0x0004
	mouseeventfRightDown  = 0x0008
	mouseeventfRightUp    = 0x0010
	mouseeventfMiddleDown = 0x0020
	mouseeventfMiddleUp   = 0x0040
	mouseeventfWheel      = 0x0800
	mouseeventfAbsolute   = 0x8000
	mouseeventfVirtDesk   = 0x4000

	keyeventfKeyUp = 0x0002

	smXVirtualScreen  = 76
	smYVirtualScreen  = 77
	smCxVirtualScreen = 78
	smCyVirtualScreen = 79

	wheelDelta = 120
)

type mouseInput struct {
	Dx          int32
	Dy          int32
	MouseData   uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type keybdInput struct {
	Vk          uint16
	Scan        uint16
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
	_           [8]byte // pad to the MOUSEINPUT union size
}

type winInput struct {
	Type uint32
	_    uint32 // alignment
	Mi   mouseInput
}

type winInputKb struct {
	Type uint32
	_    uint32
	Ki   keybdInput
}

// windowsInjector synthesizes events via SendInput. Mouse positions are
// normalized to the 0..65535 virtual-desktop space SendInput expects.
type windowsInjector struct {
	offsetX int
	offsetY int
}

func newPlatformInjector(offsetX, offsetY int) (InputInjector, error) {
	return &windowsInjector{offsetX: offsetX, offsetY: offsetY}, nil
}

func (h *windowsInjector) virtualCoords(x, y float64) (int32, int32) {
	vx, _, _ := procGetSystemMetric.Call(uintptr(smXVirtualScreen))
	vy, _, _ := procGetSystemMetric.Call(uintptr(smYVirtualScreen))
	vw, _, _ := procGetSystemMetric.Call(uintptr(smCxVirtualScreen))
	vh, _, _ := procGetSystemMetric.Call(uintptr(smCyVirtualScreen))
	if vw == 0 || vh == 0 {
		return 0, 0
	}
	ax := int(x) + h.offsetX - int(int32(vx))
	ay := int(y) + h.offsetY - int(int32(vy))
	return int32(ax * 65535 / int(vw)), int32(ay * 65535 / int(vh))
}

func (h *windowsInjector) sendMouse(mi mouseInput) error {
	in := winInput{Type: inputMouse, Mi: mi}
	n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if n != 1 {
		return fmt.Errorf("SendInput mouse: %v", err)
	}
	return nil
}

func (h *windowsInjector) InjectMouse(ev MouseEvent) error {
	switch ev.Action {
	case MouseMove:
		dx, dy := h.virtualCoords(ev.X, ev.Y)
		return h.sendMouse(mouseInput{Dx: dx, Dy: dy,
			Flags: mouseeventfMove | mouseeventfAbsolute | mouseeventfVirtDesk})
	case MouseDown, MouseUp:
		dx, dy := h.virtualCoords(ev.X, ev.Y)
		flags := uint32(mouseeventfAbsolute | mouseeventfVirtDesk)
		switch ev.Button {
		case ButtonRight:
			if ev.Action == MouseDown {
				flags |= mouseeventfRightDown
			} else {
				flags |= mouseeventfRightUp
			}
		case ButtonMiddle:
			if ev.Action == MouseDown {
				flags |= mouseeventfMiddleDown
			} else {
				flags |= mouseeventfMiddleUp
			}
		default:
			if ev.Action == MouseDown {
				flags |= mouseeventfLeftDown
			} else {
				flags |= mouseeventfLeftUp
			}
		}
		return h.sendMouse(mouseInput{Dx: dx, Dy: dy, Flags: flags})
	case MouseScrollWheel:
		return h.sendMouse(mouseInput{
			MouseData: uint32(int32(ev.Y) * wheelDelta),
			Flags:     mouseeventfWheel,
		})
	default:
		return fmt.Errorf("unknown mouse action %q", ev.Action)
	}
}

func (h *windowsInjector) InjectKeyboard(ev KeyboardEvent) error {
	vk, ok := keycodeToVK(ev.Keycode)
	if !ok {
		return fmt.Errorf("no virtual-key mapping for keycode %d", ev.Keycode)
	}
	ki := keybdInput{Vk: vk}
	if ev.Action == KeyUp {
		ki.Flags = keyeventfKeyUp
	}
	in := winInputKb{Type: inputKeyboard, Ki: ki}
	n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if n != 1 {
		return fmt.Errorf("SendInput keyboard: %v", err)
	}
	return nil
}

func (h *windowsInjector) Close() error { return nil }

// keycodeToVK maps the neutral keycode numbering to Windows virtual keys.
func keycodeToVK(kc Keycode) (uint16, bool) {
	switch {
	case kc >= KeycodeA && kc <= KeycodeZ:
		return uint16('A' + kc - KeycodeA), true
	case kc >= Keycode1 && kc < Keycode0:
		return uint16('1' + kc - Keycode1), true
	case kc == Keycode0:
		return '0', true
	}
	switch kc {
	case KeycodeEnter:
		return 0x0D, true
	case KeycodeEscape:
		return 0x1B, true
	case KeycodeBackspace:
		return 0x08, true
	case KeycodeTab:
		return 0x09, true
	case KeycodeSpace:
		return 0x20, true
	case KeycodeDelete:
		return 0x2E, true
	case KeycodeRight:
		return 0x27, true
	case KeycodeLeft:
		return 0x25, true
	case KeycodeDown:
		return 0x28, true
	case KeycodeUp:
		return 0x26, true
	case KeycodeLeftCtrl:
		return 0xA2, true
	case KeycodeLeftShift:
		return 0xA0, true
	case KeycodeLeftAlt:
		return 0xA4, true
	case KeycodeLeftMeta:
		return 0x5B, true
	}
	return 0, false
}
