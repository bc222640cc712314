package lprf

import "errors"

var (
	// ErrBusy means a status poll or transition is already in flight.
	ErrBusy = errors.New("lprf: operation in progress")
	// ErrTxPending means a transmit payload is already queued and not
	// yet sent over the air.
	ErrTxPending = errors.New("lprf: transmit pending")
	// ErrDeviceNotFound means the chip ID readback did not match.
	ErrDeviceNotFound = errors.New("lprf: chip not detected")
	// ErrInvalidParameter covers out of range arguments such as
	// unsupported channel pages or transmit powers.
	ErrInvalidParameter = errors.New("lprf: invalid parameter")
	// ErrClosed means the device was stopped and torn down.
	ErrClosed = errors.New("lprf: device closed")

	errPayloadTooLong = errors.New("lprf: payload exceeds MTU")
)
