//go:build windows && cgo

package desktop

/*
#cgo LDFLAGS: -ld3d11 -ldxgi -lole32

#include <windows.h>
#include <d3d11.h>
#include <dxgi1_2.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    void* data;
    int width;
    int height;
    int bytesPerRow;
    int noNewFrame;
    int error;
} GrabResult;

static ID3D11Device* g_device = NULL;
static ID3D11DeviceContext* g_context = NULL;
static IDXGIOutputDuplication* g_duplication = NULL;
static ID3D11Texture2D* g_staging = NULL;
static int g_stagingW = 0;
static int g_stagingH = 0;
static int g_initialized = 0;
static int g_screenWidth = 0;
static int g_screenHeight = 0;

static int grabInit(int displayIndex) {
    if (g_initialized) {
        return 0;
    }

    HRESULT hr;
    D3D_FEATURE_LEVEL featureLevels[] = { D3D_FEATURE_LEVEL_11_0 };
    D3D_FEATURE_LEVEL featureLevel;

    hr = D3D11CreateDevice(
        NULL, D3D_DRIVER_TYPE_HARDWARE, NULL, 0,
        featureLevels, 1, D3D11_SDK_VERSION,
        &g_device, &featureLevel, &g_context
    );
    if (FAILED(hr)) {
        return 1;
    }

    IDXGIDevice* dxgiDevice = NULL;
    hr = g_device->lpVtbl->QueryInterface(g_device, &IID_IDXGIDevice, (void**)&dxgiDevice);
    if (FAILED(hr)) {
        g_device->lpVtbl->Release(g_device);
        g_device = NULL;
        return 2;
    }

    IDXGIAdapter* adapter = NULL;
    hr = dxgiDevice->lpVtbl->GetAdapter(dxgiDevice, &adapter);
    dxgiDevice->lpVtbl->Release(dxgiDevice);
    if (FAILED(hr)) {
        g_device->lpVtbl->Release(g_device);
        g_device = NULL;
        return 3;
    }

    IDXGIOutput* output = NULL;
    hr = adapter->lpVtbl->EnumOutputs(adapter, displayIndex, &output);
    adapter->lpVtbl->Release(adapter);
    if (FAILED(hr)) {
        g_device->lpVtbl->Release(g_device);
        g_device = NULL;
        return 4;
    }

    IDXGIOutput1* output1 = NULL;
    hr = output->lpVtbl->QueryInterface(output, &IID_IDXGIOutput1, (void**)&output1);

    DXGI_OUTPUT_DESC desc;
    output->lpVtbl->GetDesc(output, &desc);
    g_screenWidth = desc.DesktopCoordinates.right - desc.DesktopCoordinates.left;
    g_screenHeight = desc.DesktopCoordinates.bottom - desc.DesktopCoordinates.top;

    output->lpVtbl->Release(output);
    if (FAILED(hr)) {
        g_device->lpVtbl->Release(g_device);
        g_device = NULL;
        return 5;
    }

    hr = output1->lpVtbl->DuplicateOutput(output1, (IUnknown*)g_device, &g_duplication);
    output1->lpVtbl->Release(output1);
    if (FAILED(hr)) {
        g_device->lpVtbl->Release(g_device);
        g_device = NULL;
        return 6;
    }

    g_initialized = 1;
    return 0;
}

static void grabCleanup() {
    if (g_staging) {
        g_staging->lpVtbl->Release(g_staging);
        g_staging = NULL;
        g_stagingW = g_stagingH = 0;
    }
    if (g_duplication) {
        g_duplication->lpVtbl->Release(g_duplication);
        g_duplication = NULL;
    }
    if (g_context) {
        g_context->lpVtbl->Release(g_context);
        g_context = NULL;
    }
    if (g_device) {
        g_device->lpVtbl->Release(g_device);
        g_device = NULL;
    }
    g_initialized = 0;
}

// grabFrame blocks in AcquireNextFrame up to ~100ms, copies through a
// reused staging texture, and returns BGRA rows. An idle desktop reports
// noNewFrame instead of an error.
static GrabResult grabFrame(int displayIndex) {
    GrabResult result = {0};

    int initResult = grabInit(displayIndex);
    if (initResult != 0) {
        result.error = initResult;
        return result;
    }

    HRESULT hr;
    IDXGIResource* desktopResource = NULL;
    DXGI_OUTDUPL_FRAME_INFO frameInfo;

    hr = g_duplication->lpVtbl->AcquireNextFrame(g_duplication, 100, &frameInfo, &desktopResource);
    if (hr == DXGI_ERROR_WAIT_TIMEOUT) {
        result.noNewFrame = 1;
        return result;
    }
    if (FAILED(hr)) {
        result.error = 7;
        return result;
    }
    if (frameInfo.AccumulatedFrames == 0 && frameInfo.LastPresentTime.QuadPart == 0) {
        // Only mouse movement since the previous acquire.
        desktopResource->lpVtbl->Release(desktopResource);
        g_duplication->lpVtbl->ReleaseFrame(g_duplication);
        result.noNewFrame = 1;
        return result;
    }

    ID3D11Texture2D* desktopTexture = NULL;
    hr = desktopResource->lpVtbl->QueryInterface(desktopResource, &IID_ID3D11Texture2D, (void**)&desktopTexture);
    desktopResource->lpVtbl->Release(desktopResource);
    if (FAILED(hr)) {
        g_duplication->lpVtbl->ReleaseFrame(g_duplication);
        result.error = 8;
        return result;
    }

    D3D11_TEXTURE2D_DESC textureDesc;
    desktopTexture->lpVtbl->GetDesc(desktopTexture, &textureDesc);

    result.width = textureDesc.Width;
    result.height = textureDesc.Height;
    result.bytesPerRow = result.width * 4;

    if (g_staging == NULL || g_stagingW != (int)textureDesc.Width || g_stagingH != (int)textureDesc.Height) {
        if (g_staging) {
            g_staging->lpVtbl->Release(g_staging);
            g_staging = NULL;
        }
        D3D11_TEXTURE2D_DESC stagingDesc = textureDesc;
        stagingDesc.Usage = D3D11_USAGE_STAGING;
        stagingDesc.BindFlags = 0;
        stagingDesc.CPUAccessFlags = D3D11_CPU_ACCESS_READ;
        stagingDesc.MiscFlags = 0;
        hr = g_device->lpVtbl->CreateTexture2D(g_device, &stagingDesc, NULL, &g_staging);
        if (FAILED(hr)) {
            desktopTexture->lpVtbl->Release(desktopTexture);
            g_duplication->lpVtbl->ReleaseFrame(g_duplication);
            result.error = 9;
            return result;
        }
        g_stagingW = textureDesc.Width;
        g_stagingH = textureDesc.Height;
    }

    g_context->lpVtbl->CopyResource(g_context, (ID3D11Resource*)g_staging, (ID3D11Resource*)desktopTexture);
    desktopTexture->lpVtbl->Release(desktopTexture);

    D3D11_MAPPED_SUBRESOURCE mappedResource;
    hr = g_context->lpVtbl->Map(g_context, (ID3D11Resource*)g_staging, 0, D3D11_MAP_READ, 0, &mappedResource);
    if (FAILED(hr)) {
        g_duplication->lpVtbl->ReleaseFrame(g_duplication);
        result.error = 10;
        return result;
    }

    size_t dataSize = (size_t)result.bytesPerRow * result.height;
    result.data = malloc(dataSize);
    if (result.data == NULL) {
        g_context->lpVtbl->Unmap(g_context, (ID3D11Resource*)g_staging, 0);
        g_duplication->lpVtbl->ReleaseFrame(g_duplication);
        result.error = 11;
        return result;
    }

    // The duplicated surface is already BGRA; copy row by row to drop the
    // driver's row pitch.
    unsigned char* src = (unsigned char*)mappedResource.pData;
    unsigned char* dst = (unsigned char*)result.data;
    for (int y = 0; y < result.height; y++) {
        memcpy(dst + (size_t)y * result.bytesPerRow,
               src + (size_t)y * mappedResource.RowPitch,
               result.bytesPerRow);
    }

    g_context->lpVtbl->Unmap(g_context, (ID3D11Resource*)g_staging, 0);
    g_duplication->lpVtbl->ReleaseFrame(g_duplication);

    return result;
}

static void grabBounds(int displayIndex, int* width, int* height, int* error) {
    *error = grabInit(displayIndex);
    if (*error == 0) {
        *width = g_screenWidth;
        *height = g_screenHeight;
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

// dxgiGrabber uses DXGI output duplication. AcquireNextFrame blocks until
// the desktop changes, so the capture loop runs tight without a ticker.
type dxgiGrabber struct {
	display int
	mu      sync.Mutex
}

func newPlatformGrabber(monitorID string) (frameGrabber, error) {
	display, err := strconv.Atoi(monitorID)
	if err != nil || display < 0 {
		return nil, ErrMonitorNotFound
	}
	return &dxgiGrabber{display: display}, nil
}

func (g *dxgiGrabber) TightLoop() bool { return true }

func (g *dxgiGrabber) Grab() (*bgraFrame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := C.grabFrame(C.int(g.display))
	if result.error != 0 {
		return nil, dxgiError(int(result.error))
	}
	if result.noNewFrame != 0 {
		return nil, nil
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

func (g *dxgiGrabber) Bounds() (int, int, error) {
	var cw, ch, cerr C.int
	C.grabBounds(C.int(g.display), &cw, &ch, &cerr)
	if cerr != 0 {
		return 0, 0, dxgiError(int(cerr))
	}
	return int(cw), int(ch), nil
}

func (g *dxgiGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	C.grabCleanup()
	return nil
}

func dxgiError(code int) error {
	switch code {
	case 1:
		return fmt.Errorf("failed to create D3D11 device")
	case 2:
		return fmt.Errorf("failed to get DXGI device")
	case 3:
		return fmt.Errorf("failed to get DXGI adapter")
	case 4:
		return ErrMonitorNotFound
	case 5:
		return fmt.Errorf("failed to get DXGI output1")
	case 6:
		return ErrPermissionDenied
	case 7:
		return fmt.Errorf("failed to acquire frame")
	case 8:
		return fmt.Errorf("failed to get desktop texture")
	case 9:
		return fmt.Errorf("failed to create staging texture")
	case 10:
		return fmt.Errorf("failed to map staging texture")
	case 11:
		return fmt.Errorf("memory allocation failed")
	default:
		return fmt.Errorf("unknown DXGI capture error %d", code)
	}
}
