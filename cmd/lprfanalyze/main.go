// Command lprfanalyze decodes Saleae logic-analyzer captures of LPRF
// bus traffic into a readable transaction log: register reads and
// writes with their names, frame FIFO transfers with corrected
// payload bytes.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/iasradio/lprf/frame"
	"github.com/iasradio/lprf/regs"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"golang.org/x/exp/constraints"
)

type Options struct {
	OmitStatus bool
	OmitRead   bool
	OmitWrite  bool
	Correct    bool
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "lprfanalyze - Process binary Saleae digital data files corresponding to LPRF transactions.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	sdio := flag.String("f-sd", "digital_1.bin", "Input filename: SPI SDO/SDI data.")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS/SS data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI CLK data.")
	output := flag.String("o-cmd", "commands.txt", "Output filename of LPRF command transactions.")
	omitStatus := flag.Bool("omit-status", false, "Omit one-byte status polls, which dominate captures.")
	omitRead := flag.Bool("omit-read", false, "Omit register reads.")
	omitWrite := flag.Bool("omit-write", false, "Omit register writes.")
	correct := flag.Bool("correct", true, "Undo the FIFO bit order (and RX inversion) on frame data.")
	flag.Parse()

	opts := Options{
		OmitStatus: *omitStatus,
		OmitRead:   *omitRead,
		OmitWrite:  *omitWrite,
		Correct:    *correct,
	}
	if opts.OmitRead && opts.OmitWrite && opts.OmitStatus {
		log.Fatal("everything omitted, nothing to do")
	}
	start := time.Now()
	if err := opts.run(*sdio, *enable, *clk, *output); err != nil {
		log.Fatal(err.Error())
	}
	log.Println("finished in", time.Since(start))
}

func (o *Options) run(sdio, enable, clk, output string) error {
	txs, err := processSpiFiles(sdio, clk, enable)
	if err != nil {
		return err
	}
	fp, err := os.Create(output)
	if err != nil {
		return err
	}
	defer fp.Close()

	for _, tx := range txs {
		line, keep := o.decode(tx)
		if !keep {
			continue
		}
		if _, err := fmt.Fprintf(fp, "t=%f %s\n", tx.StartTime(), line); err != nil {
			return err
		}
	}
	return nil
}

func processSpiFiles(fsdio, fclk, fenable string) ([]analyzers.TxSPI, error) {
	sdio, err := opendigital(fsdio)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, sdio, sdio)
	return txs, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

// decode renders one bus transaction. The chip shares one SDIO line
// for both directions, so the capture carries command and answer bytes
// in a single lane: one lone byte is a status poll, 0x80/0xC0 start a
// 3-byte register access, 0x20/0x60 a frame FIFO transfer.
func (o *Options) decode(tx analyzers.TxSPI) (string, bool) {
	b := tx.SDO
	if len(b) == 0 {
		return "empty transaction", true
	}
	if len(b) == 1 {
		if o.OmitStatus {
			return "", false
		}
		return fmt.Sprintf("status  raw=%#02x state=%d", b[0], b[0]>>5), true
	}
	switch b[0] {
	case regs.REGR:
		if o.OmitRead {
			return "", false
		}
		if len(b) < 3 {
			return "regr    truncated", true
		}
		return fmt.Sprintf("regr    addr=%#02x val=%#02x", b[1], b[2]), true
	case regs.REGW:
		if o.OmitWrite {
			return "", false
		}
		if len(b) < 3 {
			return "regw    truncated", true
		}
		return fmt.Sprintf("regw    addr=%#02x val=%#02x", b[1], b[2]), true
	case regs.FRMW:
		n := min(int(b[1]), len(b)-2)
		data := append([]byte(nil), b[2:2+n]...)
		if o.Correct {
			for i := range data {
				data[i] = frame.ReverseBits(data[i])
			}
		}
		return fmt.Sprintf("frmw    len=%d data=%#x", b[1], data), true
	case regs.FRMR:
		// The chip answers on the shared line right after the opcode:
		// status byte, length byte, then the raw FIFO data.
		if len(b) < 3 {
			return "frmr    truncated", true
		}
		n := min(int(b[2]), len(b)-3)
		data := append([]byte(nil), b[3:3+n]...)
		if o.Correct {
			frame.Preprocess(data)
		}
		return fmt.Sprintf("frmr    status=%#02x len=%d data=%#x", b[1], b[2], data), true
	}
	return fmt.Sprintf("unknown opcode=%#02x len=%d", b[0], len(b)), true
}

func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}
