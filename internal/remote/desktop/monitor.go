package desktop

import (
	"bytes"
	"image"
	"image/png"
)

// Monitor describes a connected display output.
type Monitor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RefreshRate int    `json:"refresh_rate"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	IsPrimary   bool   `json:"is_primary"`
}

// ListMonitors enumerates connected displays. Implementation is in the
// monitor_*.go platform files.

// thumbnailMaxWidth bounds the negotiation screenshot so display lists stay
// small on the wire.
const thumbnailMaxWidth = 320

// MonitorThumbnailPNG grabs one frame of the monitor and returns a
// downscaled grayscale PNG of its luma plane, for display pickers. Returns
// nil on any failure; a missing thumbnail is never fatal to negotiation.
func MonitorThumbnailPNG(monitorID string) []byte {
	g, err := newGrabber(monitorID)
	if err != nil {
		return nil
	}
	defer g.Close()

	raw, err := g.Grab()
	if err != nil || raw == nil {
		return nil
	}
	frame := bgraFrameToNV12(raw, RangeStudio)
	defer putNV12Frame(frame)
	return lumaThumbnailPNG(frame)
}

// lumaThumbnailPNG renders the Y plane as a nearest-neighbor downscaled
// grayscale PNG.
func lumaThumbnailPNG(f *VideoFrame) []byte {
	scale := 1
	for f.Width/(scale+1) >= thumbnailMaxWidth {
		scale++
	}
	w, h := f.Width/scale, f.Height/scale
	if w == 0 || h == 0 {
		return nil
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcRow := y * scale * f.YStride
		dstRow := y * img.Stride
		for x := 0; x < w; x++ {
			img.Pix[dstRow+x] = f.Y[srcRow+x*scale]
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
