// Package frame implements the bit-level framing used by the LPRF
// chip's FIFO: bit-order correction, TX frame assembly and the
// start-of-frame-delimiter search that recovers byte alignment from a
// possibly misaligned RX bit stream.
//
// The chip clocks FIFO data with the bit order reversed relative to
// the over-the-air order, and RX data additionally arrives inverted.
// Its hardware preamble detection is limited to 8 bits while the
// over-the-air preamble is four octets long, and the sampling clock
// may be out of phase with the serial bit clock by up to two bits, so
// the surplus preamble removal and the bit realignment both happen
// here in software.
package frame

import "errors"

const (
	// SFD is the start-of-frame delimiter octet, located at the last
	// position of the sync header.
	SFD byte = 0xE5
	// PreambleLength counts the sync header octets consumed by the SFD
	// search, preamble and delimiter included.
	PreambleLength = 4
	// PHYHeaderLength is the single octet carrying the PSDU length.
	PHYHeaderLength = 1
	// MTU is the largest valid PSDU in octets.
	MTU = 127
)

// SyncHeader is transmitted ahead of the PHY header: three preamble
// octets followed by the SFD.
var SyncHeader = [PreambleLength]byte{0x55, 0x55, 0x55, SFD}

var (
	ErrNoSFD        = errors.New("frame: SFD not found")
	ErrInvalidFrame = errors.New("frame: malformed or truncated frame")
)

// ReverseBits mirrors the bit order of b.
func ReverseBits(b byte) byte {
	b = b&0xAA>>1 | b&0x55<<1
	b = b&0xCC>>2 | b&0x33<<2
	return b>>4 | b<<4
}

// Preprocess corrects raw RX FIFO data in place: every byte is
// bit-reversed and then inverted.
func Preprocess(data []byte) {
	for i, b := range data {
		data[i] = ^ReverseBits(b)
	}
}

// Assemble builds the on-air frame for payload into dst: sync header,
// PHY header octet carrying the payload length, then the payload, with
// every byte bit-reversed for the chip's FIFO ordering. It returns the
// frame length, PreambleLength+PHYHeaderLength+len(payload). dst must
// have room for that many bytes.
func Assemble(dst, payload []byte) int {
	n := copy(dst, SyncHeader[:])
	dst[n] = byte(len(payload))
	n++
	n += copy(dst[n:], payload)
	for i := 0; i < n; i++ {
		dst[i] = ReverseBits(dst[i])
	}
	return n
}

// equalBits counts matching bits among the low n bits of x1 and x2.
func equalBits(x1, x2 uint32, n int) int {
	combined := ^(x1 ^ x2)
	count := 0
	for i := 0; i < n; i++ {
		count += int(combined & 1)
		combined >>= 1
	}
	return count
}

// FindSFD searches for the SFD at the tail of a preambleLen-octet sync
// header in corrected RX data, trying the unshifted alignment and
// 1- and 2-bit misalignments. A candidate matches when at least 7 of
// its 8 bits equal sfd; the best-scoring candidate wins, smallest
// shift first on ties. The remaining bytes are realigned in place and
// the consumed sync header is dropped. It returns the bit shift
// applied and the realigned data.
func FindSFD(data []byte, sfd byte, preambleLen int) (shift int, out []byte, err error) {
	sfdPos := preambleLen - 1
	if len(data) < sfdPos+2 {
		return 0, nil, ErrInvalidFrame
	}
	window := uint32(data[sfdPos])<<8 | uint32(data[sfdPos+1])
	scores := [3]int{
		equalBits(uint32(sfd), uint32(data[sfdPos]), 8),
		equalBits(uint32(sfd), window>>7, 8),
		equalBits(uint32(sfd), window>>6, 8),
	}
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	if scores[best] < 7 {
		return 0, nil, ErrNoSFD
	}
	shift = best

	// Reassemble each remaining byte from the adjacent pair it now
	// straddles. The final byte has no successor; feed zero bits in.
	dataPos := sfdPos + 1
	n := len(data) - dataPos
	for i := 0; i < n; i++ {
		hi := uint32(data[i+dataPos]) << 8
		if i+dataPos+1 < len(data) {
			hi |= uint32(data[i+dataPos+1])
		}
		data[i] = byte(hi >> (8 - shift))
	}
	return shift, data[:len(data)-preambleLen], nil
}

// validPSDULen reports whether n is a legal PSDU length: the
// acknowledgment frame size or anything between the minimum frame
// size and the MTU.
func validPSDULen(n int) bool {
	const (
		ackPSDULen = 5
		minPSDULen = 9
	)
	return n == ackPSDULen || (n >= minPSDULen && n <= MTU)
}

// Extract locates the frame in corrected RX data and returns its PSDU.
// The octet after the SFD declares the PSDU length; an out-of-protocol
// value is clamped to the MTU, and a declared length exceeding the
// realigned data discards the frame.
func Extract(data []byte) ([]byte, error) {
	_, buf, err := FindSFD(data, SFD, PreambleLength)
	if err != nil {
		return nil, err
	}
	if len(buf) < PHYHeaderLength {
		return nil, ErrInvalidFrame
	}
	n := int(buf[0])
	if !validPSDULen(n) {
		n = MTU
	}
	if n > len(buf)-PHYHeaderLength {
		return nil, ErrInvalidFrame
	}
	return buf[PHYHeaderLength : PHYHeaderLength+n], nil
}
