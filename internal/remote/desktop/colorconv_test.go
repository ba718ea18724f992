package desktop

import "testing"

func solidBGRA(w, h int, b, g, r byte) *bgraFrame {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = b, g, r, 255
	}
	return &bgraFrame{pix: pix, width: w, height: h, stride: w * 4}
}

func TestBGRAToNV12_Geometry(t *testing.T) {
	f := bgraFrameToNV12(solidBGRA(64, 48, 0, 0, 0), RangeStudio)
	defer putNV12Frame(f)

	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if f.Width != 64 || f.Height != 48 {
		t.Fatalf("got %dx%d, want 64x48", f.Width, f.Height)
	}
	if len(f.Y) != 64*48 || len(f.UV) != 64*24 {
		t.Fatalf("plane sizes Y=%d UV=%d", len(f.Y), len(f.UV))
	}
}

func TestBGRAToNV12_StudioRangeBlackAndWhite(t *testing.T) {
	black := bgraFrameToNV12(solidBGRA(16, 16, 0, 0, 0), RangeStudio)
	defer putNV12Frame(black)
	if black.Y[0] != 16 {
		t.Errorf("studio black luma = %d, want 16", black.Y[0])
	}
	if black.UV[0] != 128 || black.UV[1] != 128 {
		t.Errorf("black chroma = %d,%d, want neutral 128,128", black.UV[0], black.UV[1])
	}

	white := bgraFrameToNV12(solidBGRA(16, 16, 255, 255, 255), RangeStudio)
	defer putNV12Frame(white)
	if white.Y[0] < 234 || white.Y[0] > 235 {
		t.Errorf("studio white luma = %d, want ~235", white.Y[0])
	}
}

func TestBGRAToNV12_FullRange(t *testing.T) {
	black := bgraFrameToNV12(solidBGRA(16, 16, 0, 0, 0), RangeFull)
	defer putNV12Frame(black)
	if black.Y[0] != 0 {
		t.Errorf("full-range black luma = %d, want 0", black.Y[0])
	}

	white := bgraFrameToNV12(solidBGRA(16, 16, 255, 255, 255), RangeFull)
	defer putNV12Frame(white)
	if white.Y[0] != 255 {
		t.Errorf("full-range white luma = %d, want 255", white.Y[0])
	}
}

func TestBGRAToNV12_RedChroma(t *testing.T) {
	red := bgraFrameToNV12(solidBGRA(16, 16, 0, 0, 255), RangeStudio)
	defer putNV12Frame(red)
	// Pure red: V well above neutral, U below.
	if red.UV[1] <= 128 {
		t.Errorf("red V = %d, want > 128", red.UV[1])
	}
	if red.UV[0] >= 128 {
		t.Errorf("red U = %d, want < 128", red.UV[0])
	}
}

func TestFrameDiffer(t *testing.T) {
	d := newFrameDiffer()
	a := []byte{1, 2, 3, 4}
	if !d.HasChanged(a) {
		t.Fatal("first frame must count as changed")
	}
	if d.HasChanged(a) {
		t.Fatal("identical frame must be skipped")
	}
	if !d.HasChanged([]byte{1, 2, 3, 5}) {
		t.Fatal("modified frame must count as changed")
	}
	total, skipped := d.Stats()
	if total != 3 || skipped != 1 {
		t.Fatalf("stats = %d/%d, want 3/1", total, skipped)
	}
	d.Reset()
	if !d.HasChanged(a) {
		t.Fatal("first frame after Reset must count as changed")
	}
}
