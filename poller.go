package lprf

import (
	"log/slog"
	"time"
)

// pollStatus issues a one-byte status read if none is in flight.
// Returns ErrBusy when a previous poll has not completed yet; the
// in-flight poll's own completion keeps the loop alive, so ErrBusy is
// not a failure.
func (d *Device) pollStatus() error {
	if d.statusActive.Add(1) != 1 {
		d.statusActive.Add(-1)
		return ErrBusy
	}
	d.statusTx[0] = 0
	if err := d.bus.Submit(d.statusTx[:], d.statusRx[:], d.statusDone); err != nil {
		d.statusActive.Add(-1)
		d.asyncError(err)
		return nil
	}
	return nil
}

func (d *Device) statusDone(err error) {
	status := Status(d.statusRx[0])
	d.statusActive.Add(-1)
	if err != nil {
		d.asyncError(err)
		return
	}
	d.evaluate(status)
}

// armPollTimer schedules the next status poll. A newer arm supersedes
// any pending one. No-op once polling is stopped.
func (d *Device) armPollTimer(interval time.Duration) {
	if !d.polling.Load() {
		return
	}
	d.trace("arm-poll", slog.Duration("interval", interval))
	d.timerMu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(interval, d.pollTimerFired)
	d.timerMu.Unlock()
}

func (d *Device) pollTimerFired() {
	if !d.polling.Load() {
		return
	}
	if err := d.pollStatus(); err != nil {
		d.trace("poll:busy")
	}
}

func (d *Device) stopPollTimer() {
	d.timerMu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timerMu.Unlock()
}
