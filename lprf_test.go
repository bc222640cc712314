package lprf

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iasradio/lprf/frame"
	"github.com/iasradio/lprf/regs"
	"github.com/iasradio/lprf/rf"
)

var errBusFail = errors.New("bus failure")

// testBus is a synchronous in-memory bus: registers live in a map,
// status reads and frame reads are scripted, and every transaction's
// tx bytes are logged in order.
type testBus struct {
	mu sync.Mutex

	regs   map[uint8]uint8
	status byte
	// statusAfterRead replaces status once a frame read was served,
	// mimicking the FIFO draining.
	statusAfterRead byte
	rxFrame         []byte

	failNext int
	log      [][]byte
}

func newTestBus(status byte) *testBus {
	return &testBus{regs: make(map[uint8]uint8), status: status}
}

func (b *testBus) Submit(tx, rx []byte, done func(error)) error {
	b.mu.Lock()
	b.log = append(b.log, append([]byte(nil), tx...))
	if b.failNext > 0 {
		b.failNext--
		b.mu.Unlock()
		done(errBusFail)
		return nil
	}
	switch {
	case len(tx) == 1:
		rx[0] = b.status
	case tx[0] == regs.REGR:
		rx[2] = b.regs[tx[1]]
	case tx[0] == regs.REGW:
		b.regs[tx[1]] = tx[2]
	case tx[0] == regs.FRMR:
		rx[0] = b.status
		rx[1] = byte(len(b.rxFrame))
		copy(rx[2:], b.rxFrame)
		if b.statusAfterRead != 0 {
			b.status = b.statusAfterRead
		}
	}
	b.mu.Unlock()
	done(nil)
	return nil
}

// smWrites returns the values written to RG_SM_MAIN, in order.
func (b *testBus) regWrites(addr uint8) (vals []uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tx := range b.log {
		if len(tx) == 3 && tx[0] == regs.REGW && tx[1] == addr {
			vals = append(vals, tx[2])
		}
	}
	return vals
}

func newTestDevice(bus *testBus) *Device {
	d := New(bus, Config{})
	d.smMain = 0x0F
	d.demMain = 0xC9
	return d
}

const (
	statusSleepEmpty  = 0x48 // sleep, FIFO empty
	statusSleepFull   = 0x40 // sleep, frame in FIFO
	statusRxEmpty     = 0xE8 // receiving, FIFO empty
	statusRxFilling   = 0xE0 // receiving, FIFO filling
	statusSending     = 0xA8
)

func TestStatusDecode(t *testing.T) {
	s := Status(0xE8)
	if s.State() != StateReceiving {
		t.Errorf("state = %v, want receiving", s.State())
	}
	if !s.FifoEmpty() || s.FifoFull() {
		t.Errorf("FIFO flags wrong for %#02x", uint8(s))
	}
	s = Status(0x54)
	if s.State() != StateSleep || !s.StateMachineEnabled() || !s.FifoFull() {
		t.Errorf("decode of %#02x: %v", uint8(s), s)
	}
}

func TestEvaluateSleepEmptyEntersRx(t *testing.T) {
	bus := newTestBus(statusSleepEmpty)
	d := newTestDevice(bus)
	if err := d.pollStatus(); err != nil {
		t.Fatal(err)
	}
	cmdRX := regs.SR_SM_COMMAND.Apply(d.smMain, uint8(regs.CmdRX))
	cmdNone := regs.SR_SM_COMMAND.Apply(d.smMain, uint8(regs.CmdNone))
	wantSM := []uint8{smMainHold, smMainRelease, cmdRX, cmdNone}
	gotSM := bus.regWrites(regs.RG_SM_MAIN)
	if !bytes.Equal(gotSM, wantSM) {
		t.Errorf("SM_MAIN writes = %#02x, want %#02x", gotSM, wantSM)
	}
	wantDem := []uint8{d.demMain &^ 0x01, d.demMain | 0x01}
	gotDem := bus.regWrites(regs.RG_DEM_MAIN)
	if !bytes.Equal(gotDem, wantDem) {
		t.Errorf("DEM_MAIN writes = %#02x, want %#02x", gotDem, wantDem)
	}
	if got := d.transition.Load(); got != 0 {
		t.Errorf("transition slot still held: %d", got)
	}
}

func TestEvaluateTransmitSequence(t *testing.T) {
	bus := newTestBus(statusSleepEmpty)
	d := newTestDevice(bus)
	var doneFired bool
	d.TxDoneHandle(func() { doneFired = true })

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if err := d.Transmit(payload); err != nil {
		t.Fatal(err)
	}

	cmdSleep := regs.SR_SM_COMMAND.Apply(d.smMain, uint8(regs.CmdSleep))
	cmdTX := regs.SR_SM_COMMAND.Apply(d.smMain, uint8(regs.CmdTX))
	wantSM := []uint8{cmdSleep, smMainHold, smMainRelease, cmdTX}
	gotSM := bus.regWrites(regs.RG_SM_MAIN)
	if !bytes.Equal(gotSM, wantSM) {
		t.Fatalf("SM_MAIN writes = %#02x, want %#02x", gotSM, wantSM)
	}

	// The FIFO write carries the assembled frame after the opcode and
	// length prefix.
	var frm []byte
	for _, tx := range bus.log {
		if tx[0] == regs.FRMW {
			frm = tx
		}
	}
	if frm == nil {
		t.Fatal("no frame write issued")
	}
	want := make([]byte, maxBusBufferSize)
	n := frame.Assemble(want, payload)
	if int(frm[1]) != n {
		t.Errorf("frame length prefix = %d, want %d", frm[1], n)
	}
	if !bytes.Equal(frm[2:], want[:n]) {
		t.Errorf("frame bytes = %#02x, want %#02x", frm[2:], want[:n])
	}
	if !d.txComplete {
		t.Error("txComplete not set after CMD_TX")
	}
	if doneFired {
		t.Error("tx done fired before the chip left the sending state")
	}

	// While the chip still reports sending, completion is withheld.
	bus.mu.Lock()
	bus.status = statusSending
	bus.mu.Unlock()
	if err := d.pollStatus(); err != nil {
		t.Fatal(err)
	}
	if doneFired {
		t.Error("tx done fired while the chip was still sending")
	}

	// Next poll sees the chip back asleep: transmission finished.
	bus.mu.Lock()
	bus.status = statusSleepEmpty
	bus.mu.Unlock()
	if err := d.pollStatus(); err != nil {
		t.Fatal(err)
	}
	if !doneFired {
		t.Error("tx done not fired")
	}
	d.txMu.Lock()
	queued := d.txPayload != nil
	d.txMu.Unlock()
	if queued {
		t.Error("payload still queued after completion")
	}
	if err := d.Transmit([]byte{0x09}); err != nil {
		t.Errorf("Transmit after completion = %v", err)
	}
}

// manualBus parks every transaction until the test completes it,
// standing in for a bus with real latency.
type manualBus struct {
	status  byte
	pending []func(error)
	ops     []byte
}

func (b *manualBus) Submit(tx, rx []byte, done func(error)) error {
	if len(tx) == 1 {
		rx[0] = b.status
	}
	b.ops = append(b.ops, tx[0])
	b.pending = append(b.pending, done)
	return nil
}

func (b *manualBus) completeAll() {
	for len(b.pending) > 0 {
		done := b.pending[0]
		b.pending = b.pending[1:]
		done(nil)
	}
}

func TestTxHandoffGuardedByQueueLock(t *testing.T) {
	bus := &manualBus{status: statusSleepEmpty}
	d := New(bus, Config{})
	d.smMain = 0x0F
	d.demMain = 0xC9

	if err := d.Transmit([]byte{0xDE, 0xAD}); err != nil {
		t.Fatalf("Transmit = %v", err)
	}

	// A caller checking the queue concurrently with the engine handing
	// the payload to the chip must see the flag flip under the lock.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				d.txQueued()
			}
		}
	}()

	// Drive the poll and the whole TX chain to completion.
	bus.completeAll()
	close(stop)
	wg.Wait()

	if d.txQueued() {
		t.Error("payload still queued after handoff")
	}
	writes := 0
	for _, op := range bus.ops {
		if op == regs.FRMW {
			writes++
		}
	}
	if writes != 1 {
		t.Errorf("frame written to FIFO %d times, want 1", writes)
	}

	// The next poll finds the chip back asleep and finishes the send.
	if err := d.pollStatus(); err != nil {
		t.Fatalf("pollStatus = %v", err)
	}
	bus.completeAll()
	d.txMu.Lock()
	sent := d.txComplete
	d.txMu.Unlock()
	if sent {
		t.Error("handoff flag still set after send finished")
	}
}

func TestStopMidTransitionArmsNoTimer(t *testing.T) {
	bus := &manualBus{}
	d := New(bus, Config{})
	d.smMain = 0x0F
	d.demMain = 0xC9
	d.polling.Store(true)

	d.evaluate(statusSleepEmpty)
	if len(bus.pending) != 1 {
		t.Fatalf("expected one in-flight step, got %d", len(bus.pending))
	}

	// Polling halts while the first reset step is on the bus. The
	// chain still runs to completion but must not re-arm the timer.
	d.polling.Store(false)
	d.stopPollTimer()
	bus.completeAll()

	if d.transition.Load() != 0 {
		t.Error("transition slot not released")
	}
	d.timerMu.Lock()
	armed := d.timer != nil
	d.timerMu.Unlock()
	if armed {
		t.Error("poll timer armed after polling stopped")
	}
}

func TestEvaluateDrainsFifoBeforeReset(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xAA, 0x55, 0x01, 0x02, 0x03}
	logical := make([]byte, maxBusBufferSize)
	n := frame.Assemble(logical, payload)
	// Raw FIFO bytes arrive inverted on top of the reversed bit order.
	raw := make([]byte, n)
	for i := 0; i < n; i++ {
		raw[i] = ^logical[i]
	}

	bus := newTestBus(statusSleepFull)
	bus.rxFrame = raw
	bus.statusAfterRead = statusSleepEmpty
	d := newTestDevice(bus)
	var got []byte
	d.RecvFrameHandle(func(p []byte) error {
		got = append([]byte(nil), p...)
		return nil
	})

	if err := d.pollStatus(); err != nil {
		t.Fatal(err)
	}

	// The FIFO read must precede every register write: a reset would
	// wipe the pending frame.
	readIdx, writeIdx := -1, -1
	for i, tx := range bus.log {
		if tx[0] == regs.FRMR && readIdx < 0 {
			readIdx = i
			if len(tx) != maxBusBufferSize {
				t.Errorf("frame read transaction length = %d, want %d", len(tx), maxBusBufferSize)
			}
		}
		if tx[0] == regs.REGW && writeIdx < 0 {
			writeIdx = i
		}
	}
	if readIdx < 0 {
		t.Fatal("no frame read issued")
	}
	if writeIdx >= 0 && writeIdx < readIdx {
		t.Errorf("register write at %d before frame read at %d", writeIdx, readIdx)
	}

	if !bytes.Equal(got, payload) {
		t.Errorf("received payload = %#02x, want %#02x", got, payload)
	}

	// The corrected bytes are also served on the debug stream.
	stream := make([]byte, n)
	if _, err := d.Read(stream[:1]); err != nil {
		t.Fatal(err)
	}
	if stream[0] != frame.SyncHeader[0] {
		t.Errorf("debug stream starts with %#02x, want corrected preamble octet %#02x", stream[0], frame.SyncHeader[0])
	}
	if d.transition.Load() != 0 {
		t.Errorf("transition slot still held")
	}
}

func TestEvaluateReentrantBacksOff(t *testing.T) {
	bus := newTestBus(statusSleepEmpty)
	d := newTestDevice(bus)
	d.transition.Add(1)
	d.evaluate(statusSleepEmpty)
	if len(bus.log) != 0 {
		t.Errorf("engine issued %d transactions while a transition was in flight", len(bus.log))
	}
	d.transition.Add(-1)
}

func TestEvaluateReceivingArmsNoBusWork(t *testing.T) {
	bus := newTestBus(statusRxFilling)
	d := newTestDevice(bus)
	if err := d.pollStatus(); err != nil {
		t.Fatal(err)
	}
	if len(bus.log) != 1 {
		t.Errorf("expected only the status poll, got %d transactions", len(bus.log))
	}
}

func TestTransmitBusy(t *testing.T) {
	bus := newTestBus(statusRxFilling)
	d := newTestDevice(bus)
	if err := d.Transmit([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := d.Transmit([]byte{4, 5, 6}); !errors.Is(err, ErrTxPending) {
		t.Errorf("second Transmit = %v, want ErrTxPending", err)
	}
}

func TestTransmitTooLong(t *testing.T) {
	d := newTestDevice(newTestBus(statusRxFilling))
	if err := d.Transmit(make([]byte, frame.MTU+1)); err == nil {
		t.Error("oversize payload accepted")
	}
}

func TestWriteClampsToDebugFrame(t *testing.T) {
	bus := newTestBus(statusRxFilling)
	d := newTestDevice(bus)
	n, err := d.Write(make([]byte, 200))
	if err != nil {
		t.Fatal(err)
	}
	if n != debugFrameLength {
		t.Errorf("Write accepted %d bytes, want %d", n, debugFrameLength)
	}
}

func TestSetTxPower(t *testing.T) {
	bus := newTestBus(statusSleepEmpty)
	d := newTestDevice(bus)
	if err := d.SetTxPower(1500); err != nil {
		t.Fatal(err)
	}
	if got := bus.regs[regs.RG_SM_TX_PWR] & 0x0F; got != 15 {
		t.Errorf("TX_PWR_CTRL = %d, want 15", got)
	}
	if got, err := d.TxPower(); err != nil || got != 1500 {
		t.Errorf("TxPower = %d, %v, want 1500", got, err)
	}
	if err := d.SetTxPower(1250); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("unsupported power = %v, want ErrInvalidParameter", err)
	}
}

func TestSetChannel(t *testing.T) {
	bus := newTestBus(statusSleepEmpty)
	d := newTestDevice(bus)
	if err := d.SetChannel(1, 11); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("page 1 = %v, want ErrInvalidParameter", err)
	}
	if err := d.SetChannel(0, 10); !errors.Is(err, rf.ErrInvalidChannel) {
		t.Errorf("channel 10 = %v, want ErrInvalidChannel", err)
	}
	if err := d.SetChannel(0, 15); err != nil {
		t.Fatal(err)
	}
	freq, _ := rf.CenterFrequency(15)
	rx, _ := rf.PLLValues(freq, rf.IFRx)
	tx, _ := rf.PLLValues(freq, rf.IFTx)
	if bus.regs[regs.RG_RX_CHAN_INT] != rx.Int || bus.regs[regs.RG_TX_CHAN_INT] != tx.Int {
		t.Errorf("CHAN_INT rx=%d tx=%d, want rx=%d tx=%d",
			bus.regs[regs.RG_RX_CHAN_INT], bus.regs[regs.RG_TX_CHAN_INT], rx.Int, tx.Int)
	}
	if bus.regs[regs.RG_RX_CHAN_FRAC_L] != rx.FracL() {
		t.Errorf("RX_CHAN_FRAC_L = %#02x, want %#02x", bus.regs[regs.RG_RX_CHAN_FRAC_L], rx.FracL())
	}
	if bus.regs[regs.RG_PLL_VCO_TUNE] != rf.VCOTune(15) {
		t.Errorf("VCO_TUNE = %d, want %d", bus.regs[regs.RG_PLL_VCO_TUNE], rf.VCOTune(15))
	}
}

func TestInitDetectsChip(t *testing.T) {
	bus := newTestBus(statusSleepEmpty)
	bus.regs[regs.RG_CHIP_ID_H] = 0x1A
	bus.regs[regs.RG_CHIP_ID_L] = 0x51
	d := New(bus, Config{})
	if err := d.Init(Config{}); err != nil {
		t.Fatal(err)
	}
	if d.smMain != 0x0F {
		t.Errorf("cached SM_MAIN = %#02x, want 0x0F", d.smMain)
	}
	if d.demMain != bus.regs[regs.RG_DEM_MAIN] {
		t.Errorf("cached DEM_MAIN = %#02x, register holds %#02x", d.demMain, bus.regs[regs.RG_DEM_MAIN])
	}
	// Init tunes to channel 11 after the register load.
	if bus.regs[regs.RG_PLL_VCO_TUNE] != rf.VCOTune(11) {
		t.Errorf("VCO_TUNE = %d, want %d", bus.regs[regs.RG_PLL_VCO_TUNE], rf.VCOTune(11))
	}
}

func TestInitRejectsUnknownChip(t *testing.T) {
	bus := newTestBus(statusSleepEmpty)
	bus.regs[regs.RG_CHIP_ID_H] = 0xBA
	bus.regs[regs.RG_CHIP_ID_L] = 0xAD
	d := New(bus, Config{})
	if err := d.Init(Config{}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Init = %v, want ErrDeviceNotFound", err)
	}
}

func TestStopRestoresSleep(t *testing.T) {
	bus := newTestBus(statusSleepEmpty)
	d := newTestDevice(bus)
	bus.regs[regs.RG_SM_MAIN] = 0x0F
	bus.regs[regs.RG_DEM_MAIN] = d.demMain
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}
	if d.polling.Load() {
		t.Error("polling still active after Stop")
	}
	sm := bus.regWrites(regs.RG_SM_MAIN)
	if len(sm) == 0 || sm[0] != regs.SR_SM_COMMAND.Apply(0x0F, uint8(regs.CmdSleep)) {
		t.Errorf("first SM_MAIN write = %#02x, want sleep command", sm)
	}
	// Reset toggles end with everything released.
	if bus.regs[regs.RG_SM_MAIN] != 0x0F {
		t.Errorf("final SM_MAIN = %#02x, want 0x0F", bus.regs[regs.RG_SM_MAIN])
	}
	if bus.regs[regs.RG_DEM_MAIN]&0x01 == 0 {
		t.Error("demodulator left in reset after Stop")
	}
}

func TestBusErrorRecovery(t *testing.T) {
	bus := newTestBus(statusRxEmpty)
	d := newTestDevice(bus)
	defer func() {
		d.polling.Store(false)
		d.stopPollTimer()
	}()
	bus.failNext = 1
	if err := d.pollStatus(); err != nil {
		t.Fatal(err)
	}
	resets := bus.regWrites(regs.RG_GLOBAL_RESETB)
	want := []uint8{0x00, 0xFF}
	if !bytes.Equal(resets, want) {
		t.Fatalf("GLOBAL_RESETB writes = %#02x, want %#02x", resets, want)
	}
	if !d.polling.Load() {
		t.Error("polling not resumed after recovery")
	}
	// The resumed poll must have gone out already.
	last := bus.log[len(bus.log)-1]
	if len(last) != 1 {
		t.Errorf("last transaction is not a status poll: %#02x", last)
	}
	if d.transition.Load() != 0 || d.statusActive.Load() != 0 {
		t.Error("guards left held after recovery")
	}
}

func TestCloseUnblocksReaders(t *testing.T) {
	bus := newTestBus(statusSleepEmpty)
	d := newTestDevice(bus)
	done := make(chan error, 1)
	go func() {
		_, err := d.Read(make([]byte, 8))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after Close")
	}
	if err := d.Transmit([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Transmit after Close = %v, want ErrClosed", err)
	}
}
