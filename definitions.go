package lprf

import (
	"time"
)

const (
	// fifoPacketSize is the chip FIFO depth: one frame's worth of RX or
	// TX bytes.
	fifoPacketSize = 256
	// maxBusBufferSize fits a whole-FIFO transaction plus the opcode
	// and length prefix.
	maxBusBufferSize = fifoPacketSize + 2
	// debugFrameLength caps payloads taken from the debug byte stream.
	debugFrameLength = 100
	// kbitRate is the over-the-air data rate in kb/s.
	kbitRate = 2000
	// defaultRxBufferSize is the received-byte stream capacity used
	// when the Config does not set one.
	defaultRxBufferSize = 2048
)

// Polling intervals. The chip has no interrupt line; these pace the
// status polling loop depending on what the last status byte showed.
const (
	// rxPollInterval paces polling while the chip is receiving with an
	// empty FIFO.
	rxPollInterval = 5 * time.Millisecond
	// fifoRetryInterval re-polls quickly while frame data is arriving.
	fifoRetryInterval = time.Millisecond
	// rxSettleInterval delays the first poll after entering RX mode.
	rxSettleInterval = 500 * time.Microsecond
	// txSettleInterval delays the first poll after entering TX mode.
	txSettleInterval = 5 * time.Millisecond
	// retryInterval is the fallback for any other status.
	retryInterval = 5 * time.Millisecond
)

// ChipState is the state-machine field of a phy status byte.
type ChipState uint8

const (
	StateDeepSleep ChipState = 0x01
	StateSleep     ChipState = 0x02
	StateBusy      ChipState = 0x03
	StateTxReady   ChipState = 0x04
	StateSending   ChipState = 0x05
	StateRxReady   ChipState = 0x06
	StateReceiving ChipState = 0x07
)

func (c ChipState) String() (s string) {
	switch c {
	case StateDeepSleep:
		s = "deepsleep"
	case StateSleep:
		s = "sleep"
	case StateBusy:
		s = "busy"
	case StateTxReady:
		s = "txready"
	case StateSending:
		s = "sending"
	case StateRxReady:
		s = "rxready"
	case StateReceiving:
		s = "receiving"
	default:
		s = "unknown"
	}
	return s
}

// Status is the chip's single-byte phy status snapshot: state machine
// state in the top three bits, then the state-machine enable flag and
// the FIFO empty/full flags. It is sampled fresh by every poll and
// never cached.
type Status uint8

func (s Status) State() ChipState          { return ChipState(s >> 5) }
func (s Status) StateMachineEnabled() bool { return s&(1<<4) != 0 }
func (s Status) FifoEmpty() bool           { return s&(1<<3) != 0 }
func (s Status) FifoFull() bool            { return s&(1<<2) != 0 }

func (s Status) String() string {
	str := s.State().String()
	if s.StateMachineEnabled() {
		str += " sm-en"
	}
	if s.FifoEmpty() {
		str += " fifo-empty"
	}
	if s.FifoFull() {
		str += " fifo-full"
	}
	return str
}

// txPowers lists the supported transmit power settings in 0.01dBm
// units; the register value programmed is the table index.
var txPowers = [...]int32{
	0, 100, 200, 300, 400, 500, 600, 700, 800, 900,
	1000, 1100, 1200, 1300, 1400, 1500,
}

// TxPowers returns the supported transmit power values in 0.01dBm
// units, in ascending order.
func TxPowers() []int32 {
	return append([]int32(nil), txPowers[:]...)
}

// rxLengthCounter converts a frame length in octets to the RX length
// counter programmed into the demodulator: the frame's bit time plus
// half a symbol of margin, in 32MHz chip clock cycles.
func rxLengthCounter(kbitRate, frameLength int) int {
	const chipSpeedKHz = 32000
	return 8*frameLength*chipSpeedKHz/kbitRate + 4*chipSpeedKHz/kbitRate
}
