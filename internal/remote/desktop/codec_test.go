package desktop

import (
	"testing"
)

func testFrame(w, h int, fill byte) *VideoFrame {
	f := &VideoFrame{
		Y:         make([]byte, w*h),
		UV:        make([]byte, w*(h/2)),
		YStride:   w,
		UVStride:  w,
		Width:     w,
		Height:    h,
		Range:     RangeStudio,
		DTS:       1000,
		PTS:       1000,
		Timescale: DefaultTimescale,
	}
	for i := range f.Y {
		f.Y[i] = fill
	}
	for i := range f.UV {
		f.UV[i] = 128
	}
	return f
}

func newTestEncoder(t *testing.T, w, h, fps int, sink PacketSink) *VideoEncoder {
	t.Helper()
	enc, err := NewVideoEncoder("software", w, h, fps)
	if err != nil {
		t.Fatalf("NewVideoEncoder: %v", err)
	}
	if err := enc.Open(sink); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return enc
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var packets []VideoPacket
	enc := newTestEncoder(t, 64, 48, 30, func(p VideoPacket) { packets = append(packets, p) })
	defer enc.Close()

	src := testFrame(64, 48, 42)
	if err := enc.Encode(src); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if !packets[0].Keyframe {
		t.Fatal("first packet must be a keyframe")
	}
	if packets[0].DTS != 1000 || packets[0].PTS != 1000 {
		t.Fatalf("timestamps not preserved: dts=%d pts=%d", packets[0].DTS, packets[0].PTS)
	}

	dec, err := NewVideoDecoder("software")
	if err != nil {
		t.Fatalf("NewVideoDecoder: %v", err)
	}
	defer dec.Close()

	var frames []*VideoFrame
	dec.SetSink(func(f *VideoFrame) { frames = append(frames, cloneFrame(f)) })
	if err := dec.Decode(packets[0]); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	got := frames[0]
	if got.Width != 64 || got.Height != 48 {
		t.Fatalf("decoded %dx%d, want 64x48", got.Width, got.Height)
	}
	if got.Y[0] != 42 || got.Y[len(got.Y)-1] != 42 {
		t.Fatalf("luma not preserved: %d,%d", got.Y[0], got.Y[len(got.Y)-1])
	}
	if got.UV[0] != 128 {
		t.Fatalf("chroma not preserved: %d", got.UV[0])
	}
	if got.DTS != 1000 || got.PTS != 1000 {
		t.Fatalf("decoded timestamps dts=%d pts=%d", got.DTS, got.PTS)
	}
}

func TestEncoderGOPKeyframes(t *testing.T) {
	const fps = 2 // GOP = 6
	var packets []VideoPacket
	enc := newTestEncoder(t, 16, 16, fps, func(p VideoPacket) { packets = append(packets, p) })
	defer enc.Close()

	for i := 0; i < 13; i++ {
		if err := enc.Encode(testFrame(16, 16, byte(i))); err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
	}
	var keyframes []int
	for i, p := range packets {
		if p.Keyframe {
			keyframes = append(keyframes, i)
		}
	}
	want := []int{0, 6, 12}
	if len(keyframes) != len(want) {
		t.Fatalf("keyframes at %v, want %v", keyframes, want)
	}
	for i := range want {
		if keyframes[i] != want[i] {
			t.Fatalf("keyframes at %v, want %v", keyframes, want)
		}
	}
}

func TestEncoderParameterReset(t *testing.T) {
	var packets []VideoPacket
	enc := newTestEncoder(t, 32, 32, 30, func(p VideoPacket) { packets = append(packets, p) })
	defer enc.Close()

	if err := enc.Encode(testFrame(32, 32, 1)); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// A frame with different dimensions is dropped; the encoder
	// reinitializes to the new contract.
	if err := enc.Encode(testFrame(64, 64, 2)); err != nil {
		t.Fatalf("mismatched Encode: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("mismatched frame produced output: %d packets", len(packets))
	}

	// The next matching submission carries ParametersChanged.
	if err := enc.Encode(testFrame(64, 64, 3)); err != nil {
		t.Fatalf("Encode after reset: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	last := packets[1]
	if !last.ParametersChanged {
		t.Fatal("first packet after reset must carry ParametersChanged")
	}
	if !last.Keyframe {
		t.Fatal("first packet after reset must be a keyframe")
	}

	// And only that one packet carries the flag.
	if err := enc.Encode(testFrame(64, 64, 4)); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if packets[2].ParametersChanged {
		t.Fatal("ParametersChanged must clear after one packet")
	}
}

func TestDecoderFlushOnParameterChange(t *testing.T) {
	var packets []VideoPacket
	enc := newTestEncoder(t, 16, 16, 30, func(p VideoPacket) { packets = append(packets, p) })
	defer enc.Close()
	if err := enc.Encode(testFrame(16, 16, 7)); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec, err := NewVideoDecoder("software")
	if err != nil {
		t.Fatalf("NewVideoDecoder: %v", err)
	}
	defer dec.Close()
	var frames int
	dec.SetSink(func(*VideoFrame) { frames++ })
	if err := dec.Decode(packets[0]); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// Resize the stream: the flagged packet flushes and re-parses.
	if err := enc.Encode(testFrame(32, 16, 8)); err != nil {
		t.Fatalf("Encode resize: %v", err)
	}
	if err := enc.Encode(testFrame(32, 16, 8)); err != nil {
		t.Fatalf("Encode after resize: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	if err := dec.Decode(packets[1]); err != nil {
		t.Fatalf("Decode after parameter change: %v", err)
	}
	if frames != 2 {
		t.Fatalf("decoded %d frames, want 2", frames)
	}
}

func TestDecoderGarbageIsNonFatalUntilFrame(t *testing.T) {
	dec, err := NewVideoDecoder("software")
	if err != nil {
		t.Fatalf("NewVideoDecoder: %v", err)
	}
	defer dec.Close()
	dec.SetSink(func(*VideoFrame) { t.Fatal("no frame expected") })

	// No start codes at all: the parser buffers (EAGAIN), not fatal.
	if err := dec.Decode(VideoPacket{Data: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("garbage without start code should be non-fatal: %v", err)
	}
}

func TestEncoderOptionValidation(t *testing.T) {
	enc, err := NewVideoEncoder("software", 16, 16, 30)
	if err != nil {
		t.Fatalf("NewVideoEncoder: %v", err)
	}
	if err := enc.SetOption("preset", "fast"); err != nil {
		t.Fatalf("SetOption preset: %v", err)
	}
	if err := enc.SetOption("bogus", "x"); err == nil {
		t.Fatal("unknown option must be rejected")
	}
	if err := enc.Encode(testFrame(16, 16, 0)); err == nil {
		t.Fatal("Encode before Open must fail")
	}
}
