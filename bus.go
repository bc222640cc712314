package lprf

import (
	"log/slog"

	"github.com/iasradio/lprf/regs"
)

// Bus is the asynchronous transport beneath the driver, typically a
// SPI controller. Submit starts a full-duplex transaction of
// len(tx)==len(rx) bytes and returns immediately; done is called
// exactly once from the bus's completion context when the transaction
// finishes. Submit returns an error only when the transaction could
// not be started, in which case done is never called.
//
// The driver issues at most one frame/register transaction and one
// status transaction concurrently; implementations may simply
// serialize everything on one goroutine.
type Bus interface {
	Submit(tx, rx []byte, done func(error)) error
}

// submit is the async entry point used by the engine: a Submit failure
// is funneled into the completion callback so every bus outcome flows
// through exactly one path.
func (d *Device) submit(tx, rx []byte, done func(error)) {
	if err := d.bus.Submit(tx, rx, done); err != nil {
		done(err)
	}
}

// Synchronous register access for initialization and configuration.
// Built on top of Submit with a channel rendezvous; never called from
// bus completion context.

func (d *Device) readReg(addr uint8) (uint8, error) {
	tx := [3]byte{regs.REGR, addr, 0}
	var rx [3]byte
	ch := make(chan error, 1)
	if err := d.bus.Submit(tx[:], rx[:], func(e error) { ch <- e }); err != nil {
		return 0, err
	}
	if err := <-ch; err != nil {
		return 0, err
	}
	d.trace("regr", slog.Uint64("addr", uint64(addr)), slog.Uint64("val", uint64(rx[2])))
	return rx[2], nil
}

func (d *Device) writeReg(addr, value uint8) error {
	tx := [3]byte{regs.REGW, addr, value}
	var rx [3]byte
	ch := make(chan error, 1)
	if err := d.bus.Submit(tx[:], rx[:], func(e error) { ch <- e }); err != nil {
		return err
	}
	if err := <-ch; err != nil {
		return err
	}
	d.trace("regw", slog.Uint64("addr", uint64(addr)), slog.Uint64("val", uint64(value)))
	return nil
}

// updateBits does a read-modify-write of the masked bits of a
// register. The two bus transactions are not atomic; callers hold off
// the poller while reconfiguring.
func (d *Device) updateBits(addr, mask, value uint8) error {
	old, err := d.readReg(addr)
	if err != nil {
		return err
	}
	nu := (old &^ mask) | (value & mask)
	if nu == old {
		return nil
	}
	return d.writeReg(addr, nu)
}

func (d *Device) writeSubreg(sr regs.Subreg, value uint8) error {
	return d.updateBits(sr.Addr, sr.Mask, value<<sr.Shift)
}

func (d *Device) readSubreg(sr regs.Subreg) (uint8, error) {
	v, err := d.readReg(sr.Addr)
	if err != nil {
		return 0, err
	}
	return sr.Extract(v), nil
}

// Asynchronous register writes used by the state engine from bus
// completion context. The engine's scratch buffers back these, so only
// one may be outstanding.

func (d *Device) asyncWriteReg(addr, value uint8, done func(error)) {
	d.xferTx[0] = regs.REGW
	d.xferTx[1] = addr
	d.xferTx[2] = value
	d.submit(d.xferTx[:3], d.xferRx[:3], done)
}

// asyncWriteSubreg merges value into the driver's cached copy of the
// register and writes the result, avoiding a bus read from completion
// context. Only registers whose non-command bits are owned by the
// driver (SM_MAIN, DEM_MAIN) are accessed this way.
func (d *Device) asyncWriteSubreg(sr regs.Subreg, value uint8, cached uint8, done func(error)) {
	d.asyncWriteReg(sr.Addr, sr.Apply(cached, value), done)
}
