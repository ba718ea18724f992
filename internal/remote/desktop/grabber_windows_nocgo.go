//go:build windows && !cgo

package desktop

import (
	"fmt"
	"strconv"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// GDI fallback grabber for builds without cgo. BitBlt is slower than DXGI
// duplication and never blocks for new content, so the capture loop paces
// it with a ticker.

var (
	gdi32 = windows.NewLazySystemDLL("gdi32.dll")

	procGetDC                  = user32.NewProc("GetDC")
	procReleaseDC              = user32.NewProc("ReleaseDC")
	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
)

const (
	srcCopy    = 0x00CC0020
	captureBlt = 0x40000000

	biRGB        = 0
	dibRGBColors = 0
)

type bitmapInfoHeader struct {
	BiSize          uint32
	BiWidth         int32
	BiHeight        int32
	BiPlanes        uint16
	BiBitCount      uint16
	BiCompression   uint32
	BiSizeImage     uint32
	BiXPelsPerMeter int32
	BiYPelsPerMeter int32
	BiClrUsed       uint32
	BiClrImportant  uint32
}

type bitmapInfo struct {
	BmiHeader bitmapInfoHeader
	BmiColors [1]uint32
}

// gdiGrabber captures one monitor with BitBlt + GetDIBits. GDI handles are
// created once and reused across frames.
type gdiGrabber struct {
	mu sync.Mutex

	monitor Monitor

	screenDC  uintptr
	memDC     uintptr
	hBitmap   uintptr
	oldBitmap uintptr
	inited    bool
}

func newPlatformGrabber(monitorID string) (frameGrabber, error) {
	idx, err := strconv.Atoi(monitorID)
	if err != nil || idx < 0 {
		return nil, ErrMonitorNotFound
	}
	monitors, err := ListMonitors()
	if err != nil {
		return nil, err
	}
	if idx >= len(monitors) {
		return nil, ErrMonitorNotFound
	}
	return &gdiGrabber{monitor: monitors[idx]}, nil
}

func (g *gdiGrabber) init() error {
	if g.inited {
		return nil
	}
	screenDC, _, _ := procGetDC.Call(0)
	if screenDC == 0 {
		return fmt.Errorf("GetDC failed")
	}
	memDC, _, _ := procCreateCompatibleDC.Call(screenDC)
	if memDC == 0 {
		procReleaseDC.Call(0, screenDC)
		return fmt.Errorf("CreateCompatibleDC failed")
	}
	hBitmap, _, _ := procCreateCompatibleBitmap.Call(screenDC,
		uintptr(g.monitor.Width), uintptr(g.monitor.Height))
	if hBitmap == 0 {
		procDeleteDC.Call(memDC)
		procReleaseDC.Call(0, screenDC)
		return fmt.Errorf("CreateCompatibleBitmap failed")
	}
	oldBitmap, _, _ := procSelectObject.Call(memDC, hBitmap)

	g.screenDC, g.memDC, g.hBitmap, g.oldBitmap = screenDC, memDC, hBitmap, oldBitmap
	g.inited = true
	return nil
}

func (g *gdiGrabber) Grab() (*bgraFrame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.init(); err != nil {
		return nil, err
	}

	w, h := g.monitor.Width, g.monitor.Height
	ok, _, _ := procBitBlt.Call(g.memDC, 0, 0, uintptr(w), uintptr(h),
		g.screenDC, uintptr(g.monitor.X), uintptr(g.monitor.Y), srcCopy|captureBlt)
	if ok == 0 {
		return nil, fmt.Errorf("BitBlt failed")
	}

	bi := bitmapInfo{BmiHeader: bitmapInfoHeader{
		BiSize:        uint32(unsafe.Sizeof(bitmapInfoHeader{})),
		BiWidth:       int32(w),
		BiHeight:      -int32(h), // top-down rows
		BiPlanes:      1,
		BiBitCount:    32,
		BiCompression: biRGB,
	}}
	pix := make([]byte, w*h*4)
	lines, _, _ := procGetDIBits.Call(g.memDC, g.hBitmap, 0, uintptr(h),
		uintptr(unsafe.Pointer(&pix[0])),
		uintptr(unsafe.Pointer(&bi)), dibRGBColors)
	if int(lines) != h {
		return nil, fmt.Errorf("GetDIBits returned %d of %d lines", lines, h)
	}

	return &bgraFrame{pix: pix, width: w, height: h, stride: w * 4}, nil
}

func (g *gdiGrabber) Bounds() (int, int, error) {
	return g.monitor.Width, g.monitor.Height, nil
}

func (g *gdiGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.inited {
		return nil
	}
	procSelectObject.Call(g.memDC, g.oldBitmap)
	procDeleteObject.Call(g.hBitmap)
	procDeleteDC.Call(g.memDC)
	procReleaseDC.Call(0, g.screenDC)
	g.inited = false
	return nil
}
