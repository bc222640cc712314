package lprf

import (
	"log/slog"

	"github.com/iasradio/lprf/frame"
	"github.com/iasradio/lprf/regs"
)

// resetStep tracks progress through the mode-change sequence. Before
// the chip can enter RX or TX the digital blocks are cycled through a
// reset: state machine held, released, demodulator held, released,
// then the target command is issued. Each step is one bus transaction;
// the next step is started from the previous step's completion
// callback.
type resetStep uint8

const (
	stepIdle resetStep = iota
	// stepSleepCmd orders the state machine to sleep first. TX only.
	stepSleepCmd
	// stepSMHold writes RG_SM_MAIN with the state machine reset bits
	// cleared, holding it.
	stepSMHold
	// stepSMRelease releases the state machine and FIFO resets and
	// enables the state machine.
	stepSMRelease
	// stepDemHold pulls the demodulator into reset.
	stepDemHold
	// stepDemRelease brings the demodulator back up.
	stepDemRelease
	// stepModeCmd issues CMD_RX, or starts the frame FIFO write for TX.
	stepModeCmd
	// stepModeDone returns the command field to CMD_NONE after RX, or
	// issues CMD_TX after the frame write.
	stepModeDone
)

func (s resetStep) String() string {
	switch s {
	case stepIdle:
		return "idle"
	case stepSleepCmd:
		return "sleep-cmd"
	case stepSMHold:
		return "sm-hold"
	case stepSMRelease:
		return "sm-release"
	case stepDemHold:
		return "dem-hold"
	case stepDemRelease:
		return "dem-release"
	case stepModeCmd:
		return "mode-cmd"
	case stepModeDone:
		return "mode-done"
	}
	return "unknown"
}

// RG_SM_MAIN images written by the hold/release steps. The low nibble
// is FIFO_MODE_EN | FIFO_RESETB | SM_RESETB | SM_EN; hold clears the
// reset bits while keeping FIFO mode, release sets everything.
const (
	smMainHold    = 0x05
	smMainRelease = 0x0F
)

// evaluate is the engine's single decision point, called with a fresh
// status byte after every completed poll. It holds the transition slot
// for the duration of any work it starts; a second evaluate arriving
// while work is in flight backs off immediately and relies on the
// in-flight work's own completion to poll again.
func (d *Device) evaluate(status Status) {
	if d.transition.Add(1) != 1 {
		d.transition.Add(-1)
		d.trace("evaluate:busy", slog.String("status", status.String()))
		return
	}
	d.trace("evaluate", slog.String("status", status.String()))

	// A queued payload was handed to the chip and the chip has since
	// left the sending state: the frame is on the air.
	d.txMu.Lock()
	sent := d.txComplete
	d.txMu.Unlock()
	if sent && status.State() != StateSending {
		d.finishTx()
	}

	switch {
	case status.State() == StateSleep && !status.FifoEmpty():
		// Received frame waiting in the FIFO. Highest priority: the
		// FIFO must be drained before any mode change resets it.
		d.startFrameRead()
		return
	case d.txQueued() && status.FifoEmpty():
		d.startTransition(regs.CmdTX)
		return
	case status.State() == StateSleep && status.FifoEmpty():
		// Nothing to send, nothing to read: listen.
		d.startTransition(regs.CmdRX)
		return
	}

	d.transition.Add(-1)
	if status.State() == StateReceiving {
		if status.FifoEmpty() {
			d.armPollTimer(rxPollInterval)
		} else {
			// Frame arriving; watch closely for the chip to drop back
			// to sleep with the complete frame.
			d.armPollTimer(fifoRetryInterval)
		}
		return
	}
	d.armPollTimer(retryInterval)
}

// startTransition begins the reset sequence toward target. Caller
// holds the transition slot; it is released when the sequence finishes
// or fails.
func (d *Device) startTransition(target regs.Command) {
	d.target = target
	if target == regs.CmdTX {
		d.step = stepSleepCmd
	} else {
		d.step = stepSMHold
	}
	d.runResetStep()
}

func (d *Device) runResetStep() {
	d.trace("reset-step", slog.String("step", d.step.String()), slog.String("target", d.target.String()))
	switch d.step {
	case stepSleepCmd:
		d.asyncWriteSubreg(regs.SR_SM_COMMAND, uint8(regs.CmdSleep), d.smMain, d.resetStepDone)
	case stepSMHold:
		d.asyncWriteReg(regs.RG_SM_MAIN, smMainHold, d.resetStepDone)
	case stepSMRelease:
		d.asyncWriteReg(regs.RG_SM_MAIN, smMainRelease, d.resetStepDone)
	case stepDemHold:
		d.asyncWriteSubreg(regs.SR_DEM_RESETB, 0, d.demMain, d.resetStepDone)
	case stepDemRelease:
		d.asyncWriteSubreg(regs.SR_DEM_RESETB, 1, d.demMain, d.resetStepDone)
	case stepModeCmd:
		if d.target == regs.CmdTX {
			d.startFrameWrite()
			return
		}
		d.asyncWriteSubreg(regs.SR_SM_COMMAND, uint8(regs.CmdRX), d.smMain, d.resetStepDone)
	case stepModeDone:
		if d.target == regs.CmdTX {
			d.asyncWriteSubreg(regs.SR_SM_COMMAND, uint8(regs.CmdTX), d.smMain, d.resetStepDone)
			return
		}
		d.asyncWriteSubreg(regs.SR_SM_COMMAND, uint8(regs.CmdNone), d.smMain, d.resetStepDone)
	}
}

func (d *Device) resetStepDone(err error) {
	if err != nil {
		d.step = stepIdle
		d.transition.Add(-1)
		d.asyncError(err)
		return
	}
	if d.step != stepModeDone {
		d.step++
		d.runResetStep()
		return
	}
	d.step = stepIdle
	target := d.target
	if target == regs.CmdTX {
		// The frame is with the chip. Mark it handed off before the
		// slot opens so a concurrent evaluate cannot see the payload as
		// still queued and write it a second time.
		d.txMu.Lock()
		d.txComplete = true
		d.txMu.Unlock()
		d.transition.Add(-1)
		d.armPollTimer(txSettleInterval)
		return
	}
	d.transition.Add(-1)
	d.armPollTimer(rxSettleInterval)
}

// startFrameWrite assembles the queued payload into an over-the-air
// frame in the scratch buffer and pushes it into the TX FIFO. Runs as
// the stepModeCmd action of a TX transition.
func (d *Device) startFrameWrite() {
	d.txMu.Lock()
	payload := d.txPayload
	d.txMu.Unlock()
	if payload == nil {
		// Queue was torn down while the transition spun up. Abort and
		// let the next poll pick a new direction.
		d.step = stepIdle
		d.transition.Add(-1)
		d.armPollTimer(retryInterval)
		return
	}
	n := frame.Assemble(d.xferTx[2:], payload)
	d.xferTx[0] = regs.FRMW
	d.xferTx[1] = uint8(n)
	d.debug("frame-write", slog.Int("framelen", n), slog.Int("payload", len(payload)))
	d.submit(d.xferTx[:2+n], d.xferRx[:2+n], d.frameWriteDone)
}

func (d *Device) frameWriteDone(err error) {
	if err != nil {
		d.step = stepIdle
		d.transition.Add(-1)
		d.asyncError(err)
		return
	}
	d.step = stepModeDone
	d.runResetStep()
}

// finishTx releases the transmit queue slot and wakes blocked writers.
// Called with the transition slot held, after the chip left the
// sending state.
func (d *Device) finishTx() {
	d.txMu.Lock()
	d.txPayload = nil
	d.txComplete = false
	d.txCond.Broadcast()
	d.txMu.Unlock()
	d.debug("tx-done")
	if cb := d.txDone; cb != nil {
		cb()
	}
}

func (d *Device) txQueued() bool {
	d.txMu.Lock()
	queued := d.txPayload != nil && !d.txComplete
	d.txMu.Unlock()
	return queued
}

// startFrameRead drains the RX FIFO with one fixed maximum-size
// transaction. The chip pads short frames; the second returned byte is
// the true length. Caller holds the transition slot.
func (d *Device) startFrameRead() {
	for i := range d.xferTx {
		d.xferTx[i] = 0
	}
	d.xferTx[0] = regs.FRMR
	d.submit(d.xferTx[:maxBusBufferSize], d.xferRx[:maxBusBufferSize], d.frameReadDone)
}

func (d *Device) frameReadDone(err error) {
	if err != nil {
		d.transition.Add(-1)
		d.asyncError(err)
		return
	}
	status := Status(d.xferRx[0])
	length := int(d.xferRx[1])
	if length > fifoPacketSize {
		length = fifoPacketSize
	}
	data := d.xferRx[2 : 2+length]
	frame.Preprocess(data)
	d.trace("frame-read", slog.String("status", status.String()), slog.Int("len", length))

	// The raw corrected bytes feed the debug stream before frame
	// extraction shifts them in place.
	d.rxq.Write(data)

	if buf, exerr := frame.Extract(data); exerr != nil {
		d.debug("frame-read:drop", slog.String("err", exerr.Error()))
	} else if cb := d.recvFrame; cb != nil {
		if cberr := cb(buf); cberr != nil {
			d.warn("recv-frame", slog.String("err", cberr.Error()))
		}
	}

	d.transition.Add(-1)
	// Poll immediately: the chip dropped to sleep and needs to be put
	// back into a mode without waiting out a timer.
	if perr := d.pollStatus(); perr != nil {
		d.armPollTimer(retryInterval)
	}
}

// asyncError recovers from a failed bus transaction by power-cycling
// the chip's digital logic: hold every RESETB line, release them, then
// resume polling. Transition slot must not be held by the caller.
func (d *Device) asyncError(err error) {
	d.logerr("bus-error", slog.String("err", err.Error()))
	d.polling.Store(false)
	d.stopPollTimer()
	d.xferTx[0] = regs.REGW
	d.xferTx[1] = regs.RG_GLOBAL_RESETB
	d.xferTx[2] = 0x00
	if serr := d.bus.Submit(d.xferTx[:3], d.xferRx[:3], d.recoverHoldDone); serr != nil {
		d.logerr("recover:unreachable", slog.String("err", serr.Error()))
	}
}

func (d *Device) recoverHoldDone(err error) {
	if err != nil {
		d.logerr("recover:hold", slog.String("err", err.Error()))
		return
	}
	d.xferTx[0] = regs.REGW
	d.xferTx[1] = regs.RG_GLOBAL_RESETB
	d.xferTx[2] = 0xFF
	if serr := d.bus.Submit(d.xferTx[:3], d.xferRx[:3], d.recoverReleaseDone); serr != nil {
		d.logerr("recover:unreachable", slog.String("err", serr.Error()))
	}
}

func (d *Device) recoverReleaseDone(err error) {
	if err != nil {
		d.logerr("recover:release", slog.String("err", err.Error()))
		return
	}
	d.info("recover:resume")
	d.polling.Store(true)
	if perr := d.pollStatus(); perr != nil {
		d.armPollTimer(retryInterval)
	}
}
