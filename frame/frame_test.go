package frame

import (
	"bytes"
	"testing"
)

func TestReverseBitsInvolution(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		if got := ReverseBits(ReverseBits(b)); got != b {
			t.Fatalf("double reverse of %#02x gave %#02x", b, got)
		}
	}
}

func TestReverseBitsKnown(t *testing.T) {
	cases := []struct{ in, want byte }{
		{0x00, 0x00},
		{0xFF, 0xFF},
		{0x80, 0x01},
		{0x01, 0x80},
		{0xE5, 0xA7},
		{0b1100_1010, 0b0101_0011},
	}
	for _, c := range cases {
		if got := ReverseBits(c.in); got != c.want {
			t.Errorf("ReverseBits(%#02x) = %#02x, want %#02x", c.in, got, c.want)
		}
	}
}

func TestPreprocessRoundTrip(t *testing.T) {
	want := []byte{0x00, 0x55, 0xE5, 0x12, 0xFF}
	// Encode the way the chip clocks data out: invert, then reverse.
	raw := make([]byte, len(want))
	for i, b := range want {
		raw[i] = ReverseBits(^b)
	}
	Preprocess(raw)
	if !bytes.Equal(raw, want) {
		t.Errorf("Preprocess gave %#x, want %#x", raw, want)
	}
}

// shiftRight delays a bit stream by n bits, feeding zeros at the front.
func shiftRight(data []byte, n int) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] >> n
		if i > 0 {
			out[i] |= data[i-1] << (8 - n)
		}
	}
	return out
}

func TestFindSFDAligned(t *testing.T) {
	data := []byte{0x55, 0x55, 0x55, SFD, 0x0A, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	payload := append([]byte{}, data[PreambleLength:]...)
	shift, out, err := FindSFD(data, SFD, PreambleLength)
	if err != nil {
		t.Fatal(err)
	}
	if shift != 0 {
		t.Errorf("shift = %d, want 0", shift)
	}
	if len(out) != len(payload) {
		t.Fatalf("out length = %d, want %d", len(out), len(payload))
	}
	if !bytes.Equal(out, payload) {
		t.Errorf("out = %#x, want %#x", out, payload)
	}
}

func TestFindSFDBitShifted(t *testing.T) {
	ref := []byte{0x55, 0x55, 0x55, SFD, 0x0A, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	want := append([]byte{}, ref[PreambleLength:]...)
	for _, n := range []int{1, 2} {
		data := shiftRight(ref, n)
		shift, out, err := FindSFD(data, SFD, PreambleLength)
		if err != nil {
			t.Fatalf("shift %d: %v", n, err)
		}
		if shift != n {
			t.Errorf("detected shift = %d, want %d", shift, n)
		}
		// The final byte borrows bits from beyond the capture; ignore it.
		if !bytes.Equal(out[:len(out)-1], want[:len(want)-1]) {
			t.Errorf("shift %d: out = %#x, want %#x", n, out, want)
		}
	}
}

func TestFindSFDNoise(t *testing.T) {
	data := make([]byte, 32)
	if _, _, err := FindSFD(data, SFD, PreambleLength); err != ErrNoSFD {
		t.Errorf("all-zero noise: err = %v, want ErrNoSFD", err)
	}
}

func TestFindSFDShortData(t *testing.T) {
	if _, _, err := FindSFD([]byte{0x55, 0x55}, SFD, PreambleLength); err != ErrInvalidFrame {
		t.Errorf("short data: err = %v, want ErrInvalidFrame", err)
	}
}

func TestFindSFDSingleBitError(t *testing.T) {
	// One flipped SFD bit still scores 7 of 8.
	data := []byte{0x55, 0x55, 0x55, SFD ^ 0x10, 0x0A, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	shift, _, err := FindSFD(data, SFD, PreambleLength)
	if err != nil {
		t.Fatal(err)
	}
	if shift != 0 {
		t.Errorf("shift = %d, want 0", shift)
	}
}

func TestExtract(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	data := append([]byte{0x55, 0x55, 0x55, SFD, byte(len(payload))}, payload...)
	got, err := Extract(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Extract = %#x, want %#x", got, payload)
	}
}

func TestExtractDeclaredTooLong(t *testing.T) {
	data := []byte{0x55, 0x55, 0x55, SFD, 12, 1, 2, 3} // declares 12, has 3
	if _, err := Extract(data); err != ErrInvalidFrame {
		t.Errorf("err = %v, want ErrInvalidFrame", err)
	}
}

func TestExtractClampsBogusLength(t *testing.T) {
	// A length outside the valid PSDU range is clamped to the MTU; the
	// clamped value then exceeds the available data and drops the frame.
	data := append([]byte{0x55, 0x55, 0x55, SFD, 200}, make([]byte, 50)...)
	if _, err := Extract(data); err != ErrInvalidFrame {
		t.Errorf("err = %v, want ErrInvalidFrame", err)
	}
}

func TestAssembleRoundTrip(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 1, 2, 3, 4, 5}
	var buf [64]byte
	n := Assemble(buf[:], payload)
	if want := PreambleLength + PHYHeaderLength + len(payload); n != want {
		t.Fatalf("frame length = %d, want %d", n, want)
	}
	// Undo the FIFO bit ordering and check the on-air layout.
	onAir := buf[:n]
	for i := range onAir {
		onAir[i] = ReverseBits(onAir[i])
	}
	if !bytes.Equal(onAir[:PreambleLength], SyncHeader[:]) {
		t.Errorf("sync header = %#x, want %#x", onAir[:PreambleLength], SyncHeader)
	}
	if onAir[PreambleLength] != byte(len(payload)) {
		t.Errorf("PHY header = %d, want %d", onAir[PreambleLength], len(payload))
	}
	if !bytes.Equal(onAir[PreambleLength+PHYHeaderLength:], payload) {
		t.Errorf("payload mismatch")
	}
}
