package desktop

import "bytes"

// Annex-B byte-stream helpers: start-code framing, emulation-prevention
// escaping, and NAL unit splitting. Shared by the software codec backends
// and the decoder's bitstream parser.

var startCode = []byte{0, 0, 0, 1}

// ebspEscape inserts emulation-prevention bytes: any 00 00 followed by a
// byte <= 03 gets a 03 inserted, so payload bytes never form a start code.
func ebspEscape(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+len(raw)/256+16)
	zeros := 0
	for _, b := range raw {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// ebspUnescape removes emulation-prevention bytes inserted by ebspEscape.
func ebspUnescape(esc []byte) []byte {
	out := make([]byte, 0, len(esc))
	zeros := 0
	for i := 0; i < len(esc); i++ {
		b := esc[i]
		if zeros >= 2 && b == 0x03 && i+1 < len(esc) && esc[i+1] <= 0x03 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// appendNAL appends one NAL unit (header byte + escaped payload) with a
// four-byte start code.
func appendNAL(dst []byte, nalHeader byte, payload []byte) []byte {
	dst = append(dst, startCode...)
	dst = append(dst, nalHeader)
	return append(dst, ebspEscape(payload)...)
}

// splitNALs returns the escaped NAL units of an Annex-B stream, start codes
// stripped. Both three- and four-byte start codes are accepted.
func splitNALs(data []byte) [][]byte {
	var nals [][]byte
	i := nextStartCode(data, 0)
	for i >= 0 {
		start := i + startCodeLen(data[i:])
		next := nextStartCode(data, start)
		if next < 0 {
			nals = append(nals, data[start:])
			break
		}
		end := next
		// Strip the zero byte that belongs to a four-byte start code.
		if end > start && data[end-1] == 0 {
			end--
		}
		nals = append(nals, data[start:end])
		i = next
	}
	return nals
}

func nextStartCode(data []byte, from int) int {
	idx := bytes.Index(data[from:], []byte{0, 0, 1})
	if idx < 0 {
		return -1
	}
	return from + idx
}

func startCodeLen(data []byte) int {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return 4
	}
	return 3
}
