package desktop

import "sync"

// nv12FramePool pools VideoFrames for a fixed resolution. Streaming
// sessions use a consistent resolution, so a single-size pool works well;
// a resolution change (monitor switch) resets it.
var nv12FramePool = struct {
	pool sync.Pool
	w, h int
	mu   sync.Mutex
}{}

func getNV12Frame(w, h int) *VideoFrame {
	nv12FramePool.mu.Lock()
	if nv12FramePool.w != w || nv12FramePool.h != h {
		nv12FramePool.w = w
		nv12FramePool.h = h
		nv12FramePool.pool = sync.Pool{}
	}
	nv12FramePool.mu.Unlock()

	if v := nv12FramePool.pool.Get(); v != nil {
		f := v.(*VideoFrame)
		if f.Width == w && f.Height == h {
			return f
		}
	}
	return &VideoFrame{
		Y:        make([]byte, w*h),
		UV:       make([]byte, w*(h/2)),
		YStride:  w,
		UVStride: w,
		Width:    w,
		Height:   h,
	}
}

func putNV12Frame(f *VideoFrame) {
	nv12FramePool.mu.Lock()
	match := nv12FramePool.w == f.Width && nv12FramePool.h == f.Height
	nv12FramePool.mu.Unlock()
	if match {
		nv12FramePool.pool.Put(f)
	}
}

// cloneFrame deep-copies a VideoFrame into a pooled buffer. Used when a
// frame must cross a channel boundary and outlive the producer's reuse of
// the original buffers.
func cloneFrame(f *VideoFrame) *VideoFrame {
	cp := getNV12Frame(f.Width, f.Height)
	cp.Range = f.Range
	cp.DTS, cp.PTS, cp.Timescale = f.DTS, f.PTS, f.Timescale
	for y := 0; y < f.Height; y++ {
		copy(cp.Y[y*cp.YStride:y*cp.YStride+f.Width], f.Y[y*f.YStride:y*f.YStride+f.Width])
	}
	for y := 0; y < f.Height/2; y++ {
		copy(cp.UV[y*cp.UVStride:y*cp.UVStride+f.Width], f.UV[y*f.UVStride:y*f.UVStride+f.Width])
	}
	return cp
}
