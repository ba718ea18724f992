package desktop

import (
	"bytes"
	"testing"
)

func TestEBSPRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x00, 0x00},
		{0x00, 0x00, 0x00},
		{0x00, 0x00, 0x01},
		{0x00, 0x00, 0x02, 0x00, 0x00, 0x03},
		{0xFF, 0x00, 0x00, 0x00, 0x00, 0x01, 0xAB},
		bytes.Repeat([]byte{0}, 64),
	}
	for _, raw := range cases {
		esc := ebspEscape(raw)
		// No start code may survive escaping.
		if bytes.Contains(esc, []byte{0, 0, 1}) {
			t.Errorf("escaped %x still contains a start code: %x", raw, esc)
		}
		got := ebspUnescape(esc)
		if !bytes.Equal(got, raw) {
			t.Errorf("round trip %x -> %x -> %x", raw, esc, got)
		}
	}
}

func TestSplitNALs(t *testing.T) {
	var stream []byte
	stream = appendNAL(stream, nalTypeParams, []byte{1, 2, 3, 0x80})
	stream = appendNAL(stream, nalTypeFrame, []byte{4, 5, 6, 0x80})

	nals := splitNALs(stream)
	if len(nals) != 2 {
		t.Fatalf("got %d NALs, want 2", len(nals))
	}
	if nals[0][0] != nalTypeParams || nals[1][0] != nalTypeFrame {
		t.Fatalf("NAL headers = %d,%d", nals[0][0], nals[1][0])
	}
	if !bytes.Equal(ebspUnescape(nals[0][1:]), []byte{1, 2, 3, 0x80}) {
		t.Fatalf("params payload mismatch: %x", nals[0][1:])
	}
	if !bytes.Equal(ebspUnescape(nals[1][1:]), []byte{4, 5, 6, 0x80}) {
		t.Fatalf("frame payload mismatch: %x", nals[1][1:])
	}
}

func TestSplitNALs_ThreeByteStartCode(t *testing.T) {
	stream := []byte{0, 0, 1, nalTypeFrame, 9, 9, 0x80}
	nals := splitNALs(stream)
	if len(nals) != 1 || nals[0][0] != nalTypeFrame {
		t.Fatalf("unexpected parse: %x", nals)
	}
}

func TestSplitNALs_NoStartCode(t *testing.T) {
	if nals := splitNALs([]byte{1, 2, 3}); nals != nil {
		t.Fatalf("expected nil for garbage, got %x", nals)
	}
}
