// Command lprfcat bridges stdin/stdout to the air: bytes typed on
// stdin are transmitted as debug frames, received frames are streamed
// to stdout. Run it on two machines with LPRF hardware for a crude
// radio chat, or pipe data through it for link testing.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"log/slog"

	"github.com/iasradio/lprf"
	"github.com/iasradio/lprf/serialbus"
	"github.com/iasradio/lprf/spibus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lprfcat:", err)
		os.Exit(1)
	}
}

func run() error {
	spiPort := flag.String("spi", "", "SPI port name in periph's registry. Empty selects the first port unless -serial is given.")
	serialName := flag.String("serial", "", "Serial bridge device, e.g. /dev/ttyUSB0. Overrides -spi.")
	baud := flag.Int("baud", 115200, "Serial bridge baud rate.")
	channel := flag.Uint("channel", 11, "IEEE 802.15.4 channel, 11 to 26.")
	power := flag.Int("power", 1500, "Transmit power in 0.01dBm units.")
	verbose := flag.Bool("v", false, "Debug logging.")
	trace := flag.Bool("vv", false, "Trace logging, prints every bus transaction.")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	if *trace {
		level = slog.LevelDebug - 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var bus lprf.Bus
	if *serialName != "" {
		b, err := serialbus.New(serialbus.Config{Name: *serialName, Baud: *baud})
		if err != nil {
			return err
		}
		defer b.Close()
		bus = b
	} else {
		b, err := spibus.New(spibus.Config{Port: *spiPort})
		if err != nil {
			return err
		}
		defer b.Close()
		bus = b
	}

	cfg := lprf.Config{Logger: logger, Channel: uint8(*channel)}
	dev := lprf.New(bus, cfg)
	if err := dev.Init(cfg); err != nil {
		return err
	}
	if err := dev.SetTxPower(int32(*power)); err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		return err
	}
	defer dev.Close()

	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(os.Stdout, dev)
		errc <- err
	}()
	go func() {
		_, err := io.Copy(dev, os.Stdin)
		errc <- err
	}()
	return <-errc
}
