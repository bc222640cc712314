// Package serialbus reaches an lprf chip hanging off a serial-attached
// bridge, typically a microcontroller forwarding bus transactions to
// its SPI pins. The wire protocol is minimal: a big-endian 16-bit
// length followed by the transaction's tx bytes, answered by the same
// number of rx bytes. Useful for bench work against a chip on an
// evaluation board.
package serialbus

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/tarm/serial"
)

var (
	ErrClosed      = errors.New("serialbus: closed")
	ErrQueueFull   = errors.New("serialbus: transaction queue full")
	errTooLong     = errors.New("serialbus: transaction too long")
	errShortAnswer = errors.New("serialbus: short answer from bridge")
)

type xfer struct {
	tx, rx []byte
	done   func(error)
}

type Bus struct {
	port  *serial.Port
	queue chan xfer
	quit  chan struct{}
}

type Config struct {
	// Name is the serial device, e.g. /dev/ttyUSB0.
	Name string
	// Baud defaults to 115200.
	Baud int
}

func New(cfg Config) (*Bus, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Name, Baud: baud})
	if err != nil {
		return nil, err
	}
	b := &Bus{
		port:  port,
		queue: make(chan xfer, 8),
		quit:  make(chan struct{}),
	}
	go b.run()
	return b, nil
}

func (b *Bus) run() {
	for {
		select {
		case x := <-b.queue:
			x.done(b.transact(x.tx, x.rx))
		case <-b.quit:
			for {
				select {
				case x := <-b.queue:
					x.done(ErrClosed)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) transact(tx, rx []byte) error {
	if len(tx) > 0xFFFF {
		return errTooLong
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(tx)))
	if _, err := b.port.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := b.port.Write(tx); err != nil {
		return err
	}
	if _, err := io.ReadFull(b.port, rx[:len(tx)]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return errShortAnswer
		}
		return err
	}
	return nil
}

// Submit queues a full-duplex transaction; done runs on the worker
// goroutine.
func (b *Bus) Submit(tx, rx []byte, done func(error)) error {
	select {
	case <-b.quit:
		return ErrClosed
	default:
	}
	select {
	case b.queue <- xfer{tx: tx, rx: rx, done: done}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *Bus) Close() error {
	close(b.quit)
	return b.port.Close()
}
