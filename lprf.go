// Package lprf drives the IAS LPRF low-power 2.4GHz transceiver over
// an asynchronous byte bus, typically SPI. The chip has no interrupt
// line; the driver polls a one-byte phy status and runs a small
// decision engine off every poll completion to move the chip between
// sleep, receive and transmit.
package lprf

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/iasradio/lprf/frame"
	"github.com/iasradio/lprf/internal/bytefifo"
	"github.com/iasradio/lprf/regs"
	"github.com/iasradio/lprf/rf"
)

type Config struct {
	Logger *slog.Logger
	// Channel is the initial 2.4GHz channel, 11 to 26. Zero selects
	// channel 11.
	Channel uint8
	// RxBufferSize is the capacity in bytes of the received byte
	// stream served by Read. Zero selects a default.
	RxBufferSize int
}

// Device is an LPRF chip handle. Methods on Device are safe for
// concurrent use; the polling engine runs entirely on bus completion
// callbacks and timer fires.
type Device struct {
	bus    Bus
	logger *slog.Logger

	_traceenabled bool

	// Cached images of RG_SM_MAIN (low nibble) and RG_DEM_MAIN,
	// captured once after init so the engine can write subfields
	// without read-modify-write from completion context.
	smMain  uint8
	demMain uint8

	// transition is the single occupancy slot of the state engine.
	transition atomic.Int32
	step       resetStep
	target     regs.Command

	// Scratch buffers for engine-issued transactions. The transition
	// slot guarantees single ownership.
	xferTx [maxBusBufferSize]byte
	xferRx [maxBusBufferSize]byte

	// Status poll single-flight guard and its one-byte buffers.
	statusActive atomic.Int32
	statusTx     [1]byte
	statusRx     [1]byte

	polling atomic.Bool
	timerMu sync.Mutex
	timer   *time.Timer

	// txMu guards the queued payload and its handed-to-chip flag.
	txMu       sync.Mutex
	txCond     *sync.Cond
	txPayload  []byte
	txComplete bool
	closed     bool

	rxq *bytefifo.FIFO

	recvFrame func([]byte) error
	txDone    func()
}

// New allocates a Device on bus. Call Init before Start.
func New(bus Bus, cfg Config) *Device {
	size := cfg.RxBufferSize
	if size <= 0 {
		size = defaultRxBufferSize
	}
	d := &Device{
		bus:    bus,
		logger: cfg.Logger,
		rxq:    bytefifo.New(size),
	}
	d.txCond = sync.NewCond(&d.txMu)
	d._traceenabled = d.logenabled(levelTrace)
	return d
}

// Init detects the chip and loads the default configuration: clock
// tree, LDO voltages, PLL loop filter, 2.4GHz front end, ADC,
// demodulator, TX chain and state machine timing. Finishes by caching
// the SM_MAIN and DEM_MAIN images and tuning to the configured
// channel.
func (d *Device) Init(cfg Config) error {
	start := time.Now()
	d.info("Init:start")
	if err := d.detectChip(); err != nil {
		return err
	}

	// Reset everything and load power-on defaults.
	if err := d.writeReg(regs.RG_GLOBAL_RESETB, 0x00); err != nil {
		return err
	}
	if err := d.writeReg(regs.RG_GLOBAL_RESETB, 0xFF); err != nil {
		return err
	}
	if err := d.writeReg(regs.RG_GLOBAL_INITALL, 0xFF); err != nil {
		return err
	}

	type subregVal struct {
		sr  regs.Subreg
		val uint8
	}
	counter := rxLengthCounter(kbitRate, frame.MTU+frame.PHYHeaderLength)
	seq := []subregVal{
		// Clock reference from the pad, not the crystal oscillator.
		{regs.SR_CTRL_CLK_CDE_OSC, 0},
		{regs.SR_CTRL_CLK_CDE_PAD, 1},
		{regs.SR_CTRL_CLK_DIG_OSC, 0},
		{regs.SR_CTRL_CLK_DIG_PAD, 1},
		{regs.SR_CTRL_CLK_PLL_OSC, 0},
		{regs.SR_CTRL_CLK_PLL_PAD, 1},
		{regs.SR_CTRL_CLK_C3X_OSC, 0},
		{regs.SR_CTRL_CLK_C3X_PAD, 1},
		{regs.SR_CTRL_CLK_FALLB, 0},
		// ADC clock.
		{regs.SR_CTRL_CDE_ENABLE, 0},
		{regs.SR_CTRL_C3X_ENABLE, 1},
		{regs.SR_CTRL_CLK_ADC, 1},
		{regs.SR_CTRL_C3X_LTUNE, 1},
		// LDO output voltages.
		{regs.SR_LDO_A_VOUT, 21},
		{regs.SR_LDO_D_VOUT, 24},
		{regs.SR_LDO_PLL_VOUT, 24},
		{regs.SR_LDO_VCO_VOUT, 24},
		{regs.SR_LDO_TX24_VOUT, 23},
		// PLL loop.
		{regs.SR_IREF_PLL_CTRLB, 0},
		{regs.SR_PLL_VCO_TUNE, 235},
		{regs.SR_PLL_LPF_C, 0},
		{regs.SR_PLL_LPF_R, 9},
		// 2.4GHz receive front end.
		{regs.SR_RX_RF_MODE, 0},
		{regs.SR_RX_LO_EXT, 0},
		{regs.SR_LNA24_ISETT, 7},
		{regs.SR_LNA24_SPCTRIM, 15},
		// ADC.
		{regs.SR_CTRL_ADC_MULTIBIT, 0},
		{regs.SR_CTRL_ADC_ENABLE, 1},
		{regs.SR_CTRL_ADC_BW_SEL, 1},
		{regs.SR_CTRL_ADC_BW_TUNE, 5},
		{regs.SR_CTRL_ADC_DR_SEL, 2},
		// Polyphase filter.
		{regs.SR_PPF_M0, 0},
		{regs.SR_PPF_M1, 0},
		{regs.SR_PPF_TRIM, 0},
		{regs.SR_PPF_HGAIN, 1},
		{regs.SR_PPF_LLIF, 0},
		// Demodulator.
		{regs.SR_DEM_CLK96_SEL, 1},
		{regs.SR_DEM_AGC_EN, 1},
		{regs.SR_DEM_FREQ_OFFSET_CAL_EN, 0},
		{regs.SR_DEM_OSR_SEL, 0},
		{regs.SR_DEM_BTLE_MODE, 1},
		{regs.SR_DEM_IF_SEL, 2},
		{regs.SR_DEM_DATA_RATE_SEL, 3},
		{regs.SR_DEM_IQ_CROSS, 1},
		{regs.SR_DEM_IQ_INV, 0},
		// CIC filter gains.
		{regs.SR_DEM_GC1, 0},
		{regs.SR_DEM_GC2, 0},
		{regs.SR_DEM_GC3, 1},
		{regs.SR_DEM_GC4, 0},
		{regs.SR_DEM_GC5, 0},
		{regs.SR_DEM_GC6, 1},
		{regs.SR_DEM_GC7, 4},
		// TX chain.
		{regs.SR_PLL_MOD_DATA_RATE, 3},
		{regs.SR_PLL_MOD_FREQ_DEV, 21},
		{regs.SR_TX_EN, 1},
		{regs.SR_TX_ON_CHIP_MOD, 1},
		{regs.SR_TX_UPS, 0},
		{regs.SR_TX_ON_CHIP_MOD_SP, 0},
		{regs.SR_TX_AMPLI_OUT_MAN_H, 1},
		{regs.SR_TX_AMPLI_OUT_MAN_L, 255},
		// State machine.
		{regs.SR_FIFO_MODE_EN, 1},
		{regs.SR_WAKEUPONSPI, 1},
		{regs.SR_WAKEUPONRX, 0},
		{regs.SR_WAKEUP_MODES_EN, 0},
		// Startup counters.
		{regs.SR_SM_TIME_POWER_TX, 0xFF},
		{regs.SR_SM_TIME_POWER_RX, 0xFF},
		{regs.SR_SM_TIME_PLL_PON, 0xFF},
		{regs.SR_SM_TIME_PLL_SET, 0xFF},
		{regs.SR_SM_TIME_TX, 0xFF},
		{regs.SR_SM_TIME_PD_EN, 0xFF},
		// TX via state machine only.
		{regs.SR_TX_MODE, 0},
		{regs.SR_INVERT_FIFO_CLK, 0},
		{regs.SR_DIRECT_RX, 1},
		{regs.SR_TX_ON_FIFO_IDLE, 0},
		{regs.SR_TX_ON_FIFO_SLEEP, 0},
		{regs.SR_TX_IDLE_MODE_EN, 0},
		{regs.SR_TX_PWR_CTRL, 15},
		{regs.SR_TX_MAXAMP, 0},
		// RX via state machine only.
		{regs.SR_DIRECT_TX, 0},
		{regs.SR_DIRECT_TX_IDLE, 0},
		{regs.SR_RX_HOLD_MODE_EN, 0},
		{regs.SR_RX_TIMEOUT_EN, 0},
		{regs.SR_RX_HOLD_ON_TIMEOUT, 0},
		{regs.SR_AGC_AUTO_GAIN, 0},
		// RX length counter sized for a maximum frame.
		{regs.SR_RX_LENGTH_H, uint8(counter >> 16)},
		{regs.SR_RX_LENGTH_M, uint8(counter >> 8)},
		{regs.SR_RX_LENGTH_L, uint8(counter)},
		// RX timeout counter disabled at maximum.
		{regs.SR_RX_TIMEOUT_H, 0xFF},
		{regs.SR_RX_TIMEOUT_M, 0xFF},
		{regs.SR_RX_TIMEOUT_L, 0xFF},
		// Cycle the FIFO and state machine resets.
		{regs.SR_FIFO_RESETB, 0},
		{regs.SR_FIFO_RESETB, 1},
		{regs.SR_SM_EN, 1},
		{regs.SR_SM_RESETB, 0},
		{regs.SR_SM_RESETB, 1},
	}
	for _, sv := range seq {
		if err := d.writeSubreg(sv.sr, sv.val); err != nil {
			return fmt.Errorf("init reg 0x%02X: %w", sv.sr.Addr, err)
		}
	}

	// Cache SM_MAIN and DEM_MAIN for the engine's async writes. Only
	// the low nibble of SM_MAIN is reused; the command field must read
	// back as zero.
	smMain, err := d.readReg(regs.RG_SM_MAIN)
	if err != nil {
		return err
	}
	d.smMain = smMain & 0x0F
	demMain, err := d.readReg(regs.RG_DEM_MAIN)
	if err != nil {
		return err
	}
	d.demMain = demMain

	channel := cfg.Channel
	if channel == 0 {
		channel = 11
	}
	if err := d.SetChannel(0, channel); err != nil {
		return err
	}
	d.info("Init:done", slog.Duration("took", time.Since(start)))
	return nil
}

func (d *Device) detectChip() error {
	hi, err := d.readReg(regs.RG_CHIP_ID_H)
	if err != nil {
		return err
	}
	lo, err := d.readReg(regs.RG_CHIP_ID_L)
	if err != nil {
		return err
	}
	id := uint16(hi)<<8 | uint16(lo)
	if id != regs.ChipID {
		return fmt.Errorf("%w: chip ID %#04x", ErrDeviceNotFound, id)
	}
	d.debug("chip-detect", slog.Uint64("id", uint64(id)))
	return nil
}

// Start begins status polling. The engine takes the chip into RX on
// the first poll that finds it asleep.
func (d *Device) Start() error {
	d.info("Start")
	d.polling.Store(true)
	if err := d.pollStatus(); err != nil {
		d.armPollTimer(retryInterval)
	}
	return nil
}

// Stop halts polling and puts the chip to sleep. In-flight bus
// transactions are given a grace period to finish before the sleep
// command goes out.
func (d *Device) Stop() error {
	d.info("Stop")
	d.polling.Store(false)
	d.stopPollTimer()
	time.Sleep(time.Millisecond)

	type subregVal struct {
		sr  regs.Subreg
		val uint8
	}
	seq := []subregVal{
		{regs.SR_SM_COMMAND, uint8(regs.CmdSleep)},
		{regs.SR_SM_COMMAND, uint8(regs.CmdNone)},
		{regs.SR_DEM_RESETB, 0},
		{regs.SR_DEM_RESETB, 1},
		{regs.SR_FIFO_RESETB, 0},
		{regs.SR_FIFO_RESETB, 1},
		{regs.SR_SM_RESETB, 0},
		{regs.SR_SM_RESETB, 1},
	}
	for _, sv := range seq {
		if err := d.writeSubreg(sv.sr, sv.val); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the device and tears down the byte stream; blocked
// readers and writers return.
func (d *Device) Close() error {
	err := d.Stop()
	d.txMu.Lock()
	d.closed = true
	d.txCond.Broadcast()
	d.txMu.Unlock()
	d.rxq.Close()
	return err
}

// SetChannel tunes both PLL profiles and the VCO to an IEEE 802.15.4
// channel on page 0. The receive profile uses a 1MHz intermediate
// frequency, the transmit profile mixes to baseband directly.
func (d *Device) SetChannel(page, channel uint8) error {
	if page != 0 {
		return fmt.Errorf("%w: channel page %d", ErrInvalidParameter, page)
	}
	freq, err := rf.CenterFrequency(channel)
	if err != nil {
		return err
	}
	d.debug("SetChannel", slog.Uint64("channel", uint64(channel)), slog.Uint64("freq", uint64(freq)))

	rx, err := rf.PLLValues(freq, rf.IFRx)
	if err != nil {
		return err
	}
	for _, sv := range []struct {
		sr  regs.Subreg
		val uint8
	}{
		{regs.SR_RX_CHAN_INT, rx.Int},
		{regs.SR_RX_CHAN_FRAC_H, rx.FracH()},
		{regs.SR_RX_CHAN_FRAC_M, rx.FracM()},
		{regs.SR_RX_CHAN_FRAC_L, rx.FracL()},
	} {
		if err := d.writeSubreg(sv.sr, sv.val); err != nil {
			return err
		}
	}

	tx, err := rf.PLLValues(freq, rf.IFTx)
	if err != nil {
		return err
	}
	for _, sv := range []struct {
		sr  regs.Subreg
		val uint8
	}{
		{regs.SR_TX_CHAN_INT, tx.Int},
		{regs.SR_TX_CHAN_FRAC_H, tx.FracH()},
		{regs.SR_TX_CHAN_FRAC_M, tx.FracM()},
		{regs.SR_TX_CHAN_FRAC_L, tx.FracL()},
	} {
		if err := d.writeSubreg(sv.sr, sv.val); err != nil {
			return err
		}
	}

	return d.writeSubreg(regs.SR_PLL_VCO_TUNE, rf.VCOTune(channel))
}

// SetTxPower selects a transmit power in 0.01dBm units. The value must
// be one of TxPowers.
func (d *Device) SetTxPower(power int32) error {
	for i, p := range txPowers {
		if p == power {
			d.debug("SetTxPower", slog.Int("index", i))
			return d.writeSubreg(regs.SR_TX_PWR_CTRL, uint8(i))
		}
	}
	return fmt.Errorf("%w: tx power %d", ErrInvalidParameter, power)
}

// TxPower reads back the programmed transmit power in 0.01dBm units.
func (d *Device) TxPower() (int32, error) {
	i, err := d.readSubreg(regs.SR_TX_PWR_CTRL)
	if err != nil {
		return 0, err
	}
	return txPowers[i], nil
}

// Transmit queues payload for transmission and nudges the engine. It
// does not wait for the frame to go out; register a TxDoneHandle for
// completion. The payload is referenced until then, not copied.
// Returns ErrTxPending while a previous frame is still queued.
func (d *Device) Transmit(payload []byte) error {
	if len(payload) > frame.MTU {
		return errPayloadTooLong
	}
	d.txMu.Lock()
	if d.closed {
		d.txMu.Unlock()
		return ErrClosed
	}
	if d.txPayload != nil {
		d.txMu.Unlock()
		return ErrTxPending
	}
	d.txPayload = payload
	d.txMu.Unlock()
	if err := d.pollStatus(); err != nil {
		d.trace("transmit:poll-busy")
	}
	return nil
}

// Write queues p for transmission, blocking while a previous frame is
// pending. Payloads longer than the debug frame limit are truncated.
// It implements io.Writer over the air for debugging against a peer
// chip.
func (d *Device) Write(p []byte) (int, error) {
	n := len(p)
	if n > debugFrameLength {
		n = debugFrameLength
	}
	buf := make([]byte, n)
	copy(buf, p[:n])

	d.txMu.Lock()
	for d.txPayload != nil && !d.closed {
		d.txCond.Wait()
	}
	if d.closed {
		d.txMu.Unlock()
		return 0, ErrClosed
	}
	d.txPayload = buf
	d.txMu.Unlock()

	if err := d.pollStatus(); err != nil {
		d.trace("write:poll-busy")
	}
	return n, nil
}

// Read blocks until received bytes are available and copies them into
// p. The stream carries the corrected FIFO bytes of every received
// frame including sync header and length, for wire-level debugging.
func (d *Device) Read(p []byte) (int, error) {
	return d.rxq.Read(p)
}

// RecvFrameHandle registers fn to be called with each extracted
// received frame. The slice is only valid during the call. Must be set
// before Start.
func (d *Device) RecvFrameHandle(fn func(payload []byte) error) {
	d.recvFrame = fn
}

// TxDoneHandle registers fn to be called when a queued frame has been
// sent over the air. Must be set before Start.
func (d *Device) TxDoneHandle(fn func()) {
	d.txDone = fn
}
