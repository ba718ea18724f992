//go:build linux && cgo

package desktop

/*
#cgo LDFLAGS: -lX11 -lXext

#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <sys/ipc.h>
#include <sys/shm.h>
#include <X11/extensions/XShm.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    void* data;
    int width;
    int height;
    int bytesPerRow;
    int error;
} GrabResult;

typedef struct {
    Display* display;
    Window root;
    int screen;
    int width;
    int height;
    int useShm;
    XShmSegmentInfo shmInfo;
    XImage* shmImage;
} GrabContext;

static GrabContext g_ctx = {0};

static int grabInit(int screenIndex) {
    if (g_ctx.display != NULL) {
        return 0;
    }

    g_ctx.display = XOpenDisplay(NULL);
    if (g_ctx.display == NULL) {
        return 1;
    }

    g_ctx.screen = screenIndex;
    if (g_ctx.screen >= ScreenCount(g_ctx.display)) {
        g_ctx.screen = DefaultScreen(g_ctx.display);
    }

    g_ctx.root = RootWindow(g_ctx.display, g_ctx.screen);
    g_ctx.width = DisplayWidth(g_ctx.display, g_ctx.screen);
    g_ctx.height = DisplayHeight(g_ctx.display, g_ctx.screen);

    int major, minor;
    Bool pixmaps;
    if (XShmQueryVersion(g_ctx.display, &major, &minor, &pixmaps)) {
        g_ctx.useShm = 1;
        g_ctx.shmImage = XShmCreateImage(
            g_ctx.display,
            DefaultVisual(g_ctx.display, g_ctx.screen),
            DefaultDepth(g_ctx.display, g_ctx.screen),
            ZPixmap,
            NULL,
            &g_ctx.shmInfo,
            g_ctx.width,
            g_ctx.height
        );
        if (g_ctx.shmImage != NULL) {
            g_ctx.shmInfo.shmid = shmget(
                IPC_PRIVATE,
                g_ctx.shmImage->bytes_per_line * g_ctx.shmImage->height,
                IPC_CREAT | 0777
            );
            if (g_ctx.shmInfo.shmid >= 0) {
                g_ctx.shmInfo.shmaddr = g_ctx.shmImage->data = shmat(g_ctx.shmInfo.shmid, 0, 0);
                g_ctx.shmInfo.readOnly = False;
                if (XShmAttach(g_ctx.display, &g_ctx.shmInfo)) {
                    return 0;
                }
            }
            XDestroyImage(g_ctx.shmImage);
            g_ctx.shmImage = NULL;
        }
        g_ctx.useShm = 0;
    }

    return 0;
}

static void grabCleanup() {
    if (g_ctx.shmImage != NULL) {
        XShmDetach(g_ctx.display, &g_ctx.shmInfo);
        shmdt(g_ctx.shmInfo.shmaddr);
        shmctl(g_ctx.shmInfo.shmid, IPC_RMID, 0);
        XDestroyImage(g_ctx.shmImage);
        g_ctx.shmImage = NULL;
    }
    if (g_ctx.display != NULL) {
        XCloseDisplay(g_ctx.display);
        g_ctx.display = NULL;
    }
    memset(&g_ctx, 0, sizeof(g_ctx));
}

// grabFrame captures the root window as BGRA.
static GrabResult grabFrame(int screenIndex) {
    GrabResult result = {0};

    int initResult = grabInit(screenIndex);
    if (initResult != 0) {
        result.error = initResult;
        return result;
    }

    XImage* image = NULL;
    if (g_ctx.useShm && g_ctx.shmImage != NULL) {
        if (!XShmGetImage(g_ctx.display, g_ctx.root, g_ctx.shmImage, 0, 0, AllPlanes)) {
            result.error = 2;
            return result;
        }
        image = g_ctx.shmImage;
    } else {
        image = XGetImage(g_ctx.display, g_ctx.root, 0, 0,
                          g_ctx.width, g_ctx.height, AllPlanes, ZPixmap);
        if (image == NULL) {
            result.error = 3;
            return result;
        }
    }

    result.width = image->width;
    result.height = image->height;
    result.bytesPerRow = result.width * 4;

    size_t dataSize = (size_t)result.bytesPerRow * result.height;
    result.data = malloc(dataSize);
    if (result.data == NULL) {
        if (!g_ctx.useShm) {
            XDestroyImage(image);
        }
        result.error = 4;
        return result;
    }

    unsigned char* dst = (unsigned char*)result.data;
    int depth = image->bits_per_pixel;

    if (depth == 32 && image->bytes_per_line == result.bytesPerRow) {
        // Common case: the server already stores 32-bit BGRX rows.
        memcpy(dst, image->data, dataSize);
    } else {
        for (int y = 0; y < result.height; y++) {
            for (int x = 0; x < result.width; x++) {
                unsigned long pixel = XGetPixel(image, x, y);
                int idx = y * result.bytesPerRow + x * 4;
                if (depth == 32 || depth == 24) {
                    dst[idx + 0] = pixel & 0xFF;         // B
                    dst[idx + 1] = (pixel >> 8) & 0xFF;  // G
                    dst[idx + 2] = (pixel >> 16) & 0xFF; // R
                    dst[idx + 3] = 255;
                } else if (depth == 16) {
                    dst[idx + 0] = (pixel & 0x1F) * 255 / 31;
                    dst[idx + 1] = ((pixel >> 5) & 0x3F) * 255 / 63;
                    dst[idx + 2] = ((pixel >> 11) & 0x1F) * 255 / 31;
                    dst[idx + 3] = 255;
                }
            }
        }
    }

    if (!g_ctx.useShm) {
        XDestroyImage(image);
    }
    return result;
}

static void grabBounds(int screenIndex, int* width, int* height, int* error) {
    *error = grabInit(screenIndex);
    if (*error == 0) {
        *width = g_ctx.width;
        *height = g_ctx.height;
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

// x11Grabber captures the X root window over XShm when available.
type x11Grabber struct {
	screen int
	mu     sync.Mutex
}

func newPlatformGrabber(monitorID string) (frameGrabber, error) {
	screen, err := strconv.Atoi(monitorID)
	if err != nil || screen < 0 {
		return nil, ErrMonitorNotFound
	}
	return &x11Grabber{screen: screen}, nil
}

func (g *x11Grabber) Grab() (*bgraFrame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := C.grabFrame(C.int(g.screen))
	if result.error != 0 {
		return nil, x11Error(int(result.error))
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

func (g *x11Grabber) Bounds() (int, int, error) {
	var cw, ch, cerr C.int
	C.grabBounds(C.int(g.screen), &cw, &ch, &cerr)
	if cerr != 0 {
		return 0, 0, x11Error(int(cerr))
	}
	return int(cw), int(ch), nil
}

func (g *x11Grabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	C.grabCleanup()
	return nil
}

func x11Error(code int) error {
	switch code {
	case 1:
		return fmt.Errorf("failed to open X11 display (is DISPLAY set?)")
	case 2:
		return fmt.Errorf("XShmGetImage failed")
	case 3:
		return fmt.Errorf("XGetImage failed")
	case 4:
		return fmt.Errorf("memory allocation failed")
	default:
		return fmt.Errorf("unknown X11 capture error %d", code)
	}
}
