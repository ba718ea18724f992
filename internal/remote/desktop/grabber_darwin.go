//go:build darwin && cgo

package desktop

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation

#include <CoreGraphics/CoreGraphics.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    void* data;
    int width;
    int height;
    int bytesPerRow;
    int error;
} GrabResult;

static int displayAt(int index, CGDirectDisplayID* out) {
    CGDirectDisplayID ids[16];
    uint32_t count = 0;
    if (CGGetActiveDisplayList(16, ids, &count) != kCGErrorSuccess) {
        return 1;
    }
    if ((uint32_t)index >= count) {
        return 2;
    }
    *out = ids[index];
    return 0;
}

// grabFrame renders the display into a BGRA bitmap context.
static GrabResult grabFrame(int displayIndex) {
    GrabResult result = {0};

    CGDirectDisplayID display;
    int err = displayAt(displayIndex, &display);
    if (err != 0) {
        result.error = err;
        return result;
    }

    CGImageRef image = CGDisplayCreateImage(display);
    if (image == NULL) {
        result.error = 3;
        return result;
    }

    result.width = (int)CGImageGetWidth(image);
    result.height = (int)CGImageGetHeight(image);
    result.bytesPerRow = result.width * 4;

    size_t dataSize = (size_t)result.bytesPerRow * result.height;
    result.data = malloc(dataSize);
    if (result.data == NULL) {
        CGImageRelease(image);
        result.error = 4;
        return result;
    }

    CGColorSpaceRef colorSpace = CGColorSpaceCreateDeviceRGB();
    // Little-endian 32-bit with premultiplied first alpha lays out rows as
    // B,G,R,A in memory.
    CGContextRef ctx = CGBitmapContextCreate(
        result.data, result.width, result.height, 8, result.bytesPerRow,
        colorSpace, kCGImageAlphaPremultipliedFirst | kCGBitmapByteOrder32Little);
    CGColorSpaceRelease(colorSpace);
    if (ctx == NULL) {
        free(result.data);
        result.data = NULL;
        CGImageRelease(image);
        result.error = 5;
        return result;
    }

    CGContextDrawImage(ctx, CGRectMake(0, 0, result.width, result.height), image);
    CGContextRelease(ctx);
    CGImageRelease(image);
    return result;
}

static void grabBounds(int displayIndex, int* width, int* height, int* error) {
    CGDirectDisplayID display;
    *error = displayAt(displayIndex, &display);
    if (*error == 0) {
        *width = (int)CGDisplayPixelsWide(display);
        *height = (int)CGDisplayPixelsHigh(display);
    }
}

static void grabFree(void* data) {
    if (data != NULL) {
        free(data);
    }
}
*/
import "C"

import (
	"fmt"
	"strconv"
	"sync"
)

// quartzGrabber captures a display via CoreGraphics. Screen-recording
// permission is required; without it CGDisplayCreateImage yields the
// wallpaper only.
type quartzGrabber struct {
	display int
	mu      sync.Mutex
}

func newPlatformGrabber(monitorID string) (frameGrabber, error) {
	display, err := strconv.Atoi(monitorID)
	if err != nil || display < 0 {
		return nil, ErrMonitorNotFound
	}
	return &quartzGrabber{display: display}, nil
}

func (g *quartzGrabber) Grab() (*bgraFrame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := C.grabFrame(C.int(g.display))
	if result.error != 0 {
		return nil, quartzError(int(result.error))
	}
	defer C.grabFree(result.data)

	size := int(result.bytesPerRow) * int(result.height)
	pix := C.GoBytes(result.data, C.int(size))
	return &bgraFrame{
		pix:    pix,
		width:  int(result.width),
		height: int(result.height),
		stride: int(result.bytesPerRow),
	}, nil
}

func (g *quartzGrabber) Bounds() (int, int, error) {
	var cw, ch, cerr C.int
	C.grabBounds(C.int(g.display), &cw, &ch, &cerr)
	if cerr != 0 {
		return 0, 0, quartzError(int(cerr))
	}
	return int(cw), int(ch), nil
}

func (g *quartzGrabber) Close() error { return nil }

func quartzError(code int) error {
	switch code {
	case 1:
		return fmt.Errorf("CGGetActiveDisplayList failed")
	case 2:
		return ErrMonitorNotFound
	case 3:
		return ErrPermissionDenied
	case 4:
		return fmt.Errorf("memory allocation failed")
	case 5:
		return fmt.Errorf("CGBitmapContextCreate failed")
	default:
		return fmt.Errorf("unknown CoreGraphics capture error %d", code)
	}
}
