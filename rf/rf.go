// Package rf maps IEEE 802.15.4 channel numbers to the LPRF chip's PLL
// divisor and VCO tune register values. Only the 2.4GHz band (channels
// 11 through 26, page 0) is implemented.
package rf

import "errors"

var (
	ErrInvalidChannel  = errors.New("rf: channel outside 11-26")
	ErrUnsupportedFreq = errors.New("rf: frequency outside the 2.4GHz band")
)

// Intermediate-frequency offsets applied ahead of the PLL divisor
// computation. Receive mixes down by 1MHz; transmit runs at the
// carrier itself.
const (
	IFRx uint32 = 1_000_000
	IFTx uint32 = 0
)

// The fractional divisor scale is nominally 65536/1e6. The chip's
// reference driver computes it as 228/3479 to stay within 32-bit
// arithmetic; we keep that ratio so the register values written here
// are bit-identical to hardware already deployed with it. The relative
// error against the exact scale is below 1e-6.
const (
	fracScaleNum = 228
	fracScaleDen = 3479
)

const refClock = 16_000_000 // PLL reference, Hz

// CenterFrequency returns the channel center frequency in Hz,
// 2405MHz + 5MHz per channel above 11.
func CenterFrequency(channel uint8) (uint32, error) {
	if channel < 11 || channel > 26 {
		return 0, ErrInvalidChannel
	}
	return (2405 + 5*uint32(channel-11)) * 1_000_000, nil
}

// PLL holds the divisor values for one direction (RX or TX).
type PLL struct {
	Int  uint8  // integer divisor of the local oscillator
	Frac uint32 // 24-bit fractional divisor
}

// FracH returns the top byte of the 24-bit fractional divisor.
func (p PLL) FracH() uint8 { return uint8(p.Frac >> 16) }

// FracM returns the middle byte of the 24-bit fractional divisor.
func (p PLL) FracM() uint8 { return uint8(p.Frac >> 8) }

// FracL returns the low byte of the 24-bit fractional divisor.
func (p PLL) FracL() uint8 { return uint8(p.Frac) }

// PLLValues computes the divisors for an RF carrier and IF offset. The
// local oscillator runs at two thirds of the offset carrier; the
// fractional part of its ratio to the 16MHz reference is expressed in
// 1/65536 steps of a megahertz.
func PLLValues(rfFreq, ifFreq uint32) (PLL, error) {
	if rfFreq <= 2_000_000_000 {
		// 800MHz front end not implemented.
		return PLL{}, ErrUnsupportedFreq
	}
	fLo := (rfFreq - ifFreq) / 3 * 2
	return PLL{
		Int:  uint8(fLo / refClock),
		Frac: uint32(uint64(fLo%refClock) * fracScaleNum / fracScaleDen),
	}, nil
}

// VCOTune returns the tune value calibrated for the channel's PLL
// frequency, or zero for a channel without one.
func VCOTune(channel uint8) uint8 {
	switch channel {
	case 11:
		return 237
	case 12:
		return 235
	case 13:
		return 234
	case 14:
		return 232
	case 15:
		return 231
	case 16:
		return 223
	case 17:
		return 222
	case 18:
		return 220
	case 19:
		return 213
	case 20:
		return 212
	case 21:
		return 210
	case 22:
		return 209
	case 23:
		return 207
	case 24:
		return 206
	case 25:
		return 206
	case 26:
		return 204
	default:
		return 0
	}
}
