// Package spibus adapts a periph.io SPI port to the lprf driver's
// asynchronous bus interface. Transactions are serialized on a single
// worker goroutine; completion callbacks run on that goroutine, which
// is how the driver expects its engine to be driven.
package spibus

import (
	"errors"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

var (
	ErrClosed    = errors.New("spibus: closed")
	ErrQueueFull = errors.New("spibus: transaction queue full")
)

type xfer struct {
	tx, rx []byte
	done   func(error)
}

// Bus owns one SPI slave select line and pumps transactions to it in
// submission order.
type Bus struct {
	port  spi.PortCloser
	conn  spi.Conn
	queue chan xfer
	quit  chan struct{}
}

type Config struct {
	// Port names the SPI port in periph's registry; empty selects the
	// first available one.
	Port string
	// Speed is the bus clock. Zero selects 8MHz, the chip's maximum.
	Speed physic.Frequency
}

// New opens and connects the SPI port and starts the worker.
func New(cfg Config) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, err
	}
	speed := cfg.Speed
	if speed == 0 {
		speed = 8 * physic.MegaHertz
	}
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, err
	}
	b := &Bus{
		port:  port,
		conn:  conn,
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
			x.done(b.conn.Tx(x.tx, x.rx))
		case <-b.quit:
			// Fail whatever was queued behind the close.
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

// Submit queues a full-duplex transaction. done is called from the
// worker goroutine exactly once per accepted transaction.
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

// Close stops the worker and releases the port. Queued transactions
// fail with ErrClosed.
func (b *Bus) Close() error {
	close(b.quit)
	return b.port.Close()
}
