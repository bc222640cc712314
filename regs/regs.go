// Package regs describes the LPRF chip's register map as exposed over
// its byte-oriented command bus. Register and field names follow the
// chip datasheet: RG_* constants are whole 8-bit registers, SR_*
// values are masked bit-fields (subregisters) within them.
package regs

// Bus opcodes. A register access is a 3-byte transaction
// {opcode, address, value}; frame access uses the dedicated FRMR/FRMW
// opcodes followed by the frame bytes.
const (
	REGR uint8 = 0x80 // register read
	REGW uint8 = 0xC0 // register write
	FRMR uint8 = 0x20 // frame read from the RX FIFO
	FRMW uint8 = 0x60 // frame write to the TX FIFO
)

// Expected value of RG_CHIP_ID_H<<8 | RG_CHIP_ID_L.
const ChipID = 0x1A51

// Whole registers.
const (
	RG_CHIP_ID_H      uint8 = 0x00
	RG_CHIP_ID_L      uint8 = 0x01
	RG_GLOBAL_RESETB  uint8 = 0x02
	RG_GLOBAL_INITALL uint8 = 0x03
	RG_ACTIVATE_ALL   uint8 = 0x04

	RG_CTRL_CLK_MAIN uint8 = 0x05
	RG_CTRL_CLK_AUX  uint8 = 0x06

	RG_LDO_A_VOUT    uint8 = 0x0A
	RG_LDO_D_VOUT    uint8 = 0x0B
	RG_LDO_PLL_VOUT  uint8 = 0x0C
	RG_LDO_VCO_VOUT  uint8 = 0x0D
	RG_LDO_TX24_VOUT uint8 = 0x0E

	RG_IREF_PLL     uint8 = 0x10
	RG_PLL_VCO_TUNE uint8 = 0x11
	RG_PLL_LPF      uint8 = 0x12
	RG_PLL_MOD      uint8 = 0x13

	RG_RX_CHAN_INT    uint8 = 0x20
	RG_RX_CHAN_FRAC_H uint8 = 0x21
	RG_RX_CHAN_FRAC_M uint8 = 0x22
	RG_RX_CHAN_FRAC_L uint8 = 0x23
	RG_TX_CHAN_INT    uint8 = 0x24
	RG_TX_CHAN_FRAC_H uint8 = 0x25
	RG_TX_CHAN_FRAC_M uint8 = 0x26
	RG_TX_CHAN_FRAC_L uint8 = 0x27

	RG_RX_FE    uint8 = 0x28
	RG_LNA24    uint8 = 0x29
	RG_CTRL_ADC uint8 = 0x2A
	RG_ADC_RATE uint8 = 0x2B
	RG_PPF      uint8 = 0x2C

	RG_DEM_MAIN uint8 = 0x30
	RG_DEM_CFG  uint8 = 0x31
	RG_DEM_GC12 uint8 = 0x32
	RG_DEM_GC34 uint8 = 0x33
	RG_DEM_GC56 uint8 = 0x34
	RG_DEM_GC7  uint8 = 0x35

	RG_TX_MAIN          uint8 = 0x38
	RG_TX_AMPLI_OUT_LOW uint8 = 0x39

	RG_SM_MAIN   uint8 = 0xA0
	RG_SM_WAKEUP uint8 = 0xA1
	RG_SM_TX_CFG uint8 = 0xA2
	RG_SM_TX_PWR uint8 = 0xA3
	RG_SM_RX_CFG uint8 = 0xA4

	RG_SM_TIME_POWER_TX uint8 = 0xA8
	RG_SM_TIME_POWER_RX uint8 = 0xA9
	RG_SM_TIME_PLL_PON  uint8 = 0xAA
	RG_SM_TIME_PLL_SET  uint8 = 0xAB
	RG_SM_TIME_TX       uint8 = 0xAC
	RG_SM_TIME_PD_EN    uint8 = 0xAD

	RG_RX_LENGTH_H  uint8 = 0xB0
	RG_RX_LENGTH_M  uint8 = 0xB1
	RG_RX_LENGTH_L  uint8 = 0xB2
	RG_RX_TIMEOUT_H uint8 = 0xB3
	RG_RX_TIMEOUT_M uint8 = 0xB4
	RG_RX_TIMEOUT_L uint8 = 0xB5

	// Read-only state machine observation registers.
	RG_SM_STATE uint8 = 0xD0
	RG_SM_FIFO  uint8 = 0xD1
)

// Subreg is a masked bit-field within an 8-bit register. Writes shift
// the value up by Shift and merge it under Mask; reads mask and shift
// down.
type Subreg struct {
	Addr  uint8
	Mask  uint8
	Shift uint8
}

// Apply merges val into the cached register value reg.
func (s Subreg) Apply(reg, val uint8) uint8 {
	return (reg &^ s.Mask) | (val << s.Shift & s.Mask)
}

// Extract returns the field value from a whole-register read.
func (s Subreg) Extract(reg uint8) uint8 {
	return (reg & s.Mask) >> s.Shift
}

// Clock reference fields.
var (
	SR_CTRL_CLK_CDE_OSC = Subreg{RG_CTRL_CLK_MAIN, 0x01, 0}
	SR_CTRL_CLK_CDE_PAD = Subreg{RG_CTRL_CLK_MAIN, 0x02, 1}
	SR_CTRL_CLK_DIG_OSC = Subreg{RG_CTRL_CLK_MAIN, 0x04, 2}
	SR_CTRL_CLK_DIG_PAD = Subreg{RG_CTRL_CLK_MAIN, 0x08, 3}
	SR_CTRL_CLK_PLL_OSC = Subreg{RG_CTRL_CLK_MAIN, 0x10, 4}
	SR_CTRL_CLK_PLL_PAD = Subreg{RG_CTRL_CLK_MAIN, 0x20, 5}
	SR_CTRL_CLK_C3X_OSC = Subreg{RG_CTRL_CLK_MAIN, 0x40, 6}
	SR_CTRL_CLK_C3X_PAD = Subreg{RG_CTRL_CLK_MAIN, 0x80, 7}

	SR_CTRL_CLK_FALLB  = Subreg{RG_CTRL_CLK_AUX, 0x01, 0}
	SR_CTRL_CDE_ENABLE = Subreg{RG_CTRL_CLK_AUX, 0x02, 1}
	SR_CTRL_C3X_ENABLE = Subreg{RG_CTRL_CLK_AUX, 0x04, 2}
	SR_CTRL_CLK_ADC    = Subreg{RG_CTRL_CLK_AUX, 0x08, 3}
	SR_CTRL_C3X_LTUNE  = Subreg{RG_CTRL_CLK_AUX, 0x30, 4}
)

// LDO output voltages, 5-bit fields.
var (
	SR_LDO_A_VOUT    = Subreg{RG_LDO_A_VOUT, 0x1F, 0}
	SR_LDO_D_VOUT    = Subreg{RG_LDO_D_VOUT, 0x1F, 0}
	SR_LDO_PLL_VOUT  = Subreg{RG_LDO_PLL_VOUT, 0x1F, 0}
	SR_LDO_VCO_VOUT  = Subreg{RG_LDO_VCO_VOUT, 0x1F, 0}
	SR_LDO_TX24_VOUT = Subreg{RG_LDO_TX24_VOUT, 0x1F, 0}
)

// PLL configuration.
var (
	SR_IREF_PLL_CTRLB     = Subreg{RG_IREF_PLL, 0x01, 0}
	SR_PLL_VCO_TUNE       = Subreg{RG_PLL_VCO_TUNE, 0xFF, 0}
	SR_PLL_LPF_C          = Subreg{RG_PLL_LPF, 0x03, 0}
	SR_PLL_LPF_R          = Subreg{RG_PLL_LPF, 0x3C, 2}
	SR_PLL_MOD_DATA_RATE  = Subreg{RG_PLL_MOD, 0x03, 0}
	SR_PLL_MOD_FREQ_DEV   = Subreg{RG_PLL_MOD, 0x7C, 2}
	SR_RX_CHAN_INT        = Subreg{RG_RX_CHAN_INT, 0xFF, 0}
	SR_RX_CHAN_FRAC_H     = Subreg{RG_RX_CHAN_FRAC_H, 0xFF, 0}
	SR_RX_CHAN_FRAC_M     = Subreg{RG_RX_CHAN_FRAC_M, 0xFF, 0}
	SR_RX_CHAN_FRAC_L     = Subreg{RG_RX_CHAN_FRAC_L, 0xFF, 0}
	SR_TX_CHAN_INT        = Subreg{RG_TX_CHAN_INT, 0xFF, 0}
	SR_TX_CHAN_FRAC_H     = Subreg{RG_TX_CHAN_FRAC_H, 0xFF, 0}
	SR_TX_CHAN_FRAC_M     = Subreg{RG_TX_CHAN_FRAC_M, 0xFF, 0}
	SR_TX_CHAN_FRAC_L     = Subreg{RG_TX_CHAN_FRAC_L, 0xFF, 0}
)

// 2.4GHz receive front end.
var (
	SR_RX_RF_MODE    = Subreg{RG_RX_FE, 0x03, 0}
	SR_RX_LO_EXT     = Subreg{RG_RX_FE, 0x04, 2}
	SR_RX_FE_EN      = Subreg{RG_RX_FE, 0x08, 3}
	SR_RX24_PON      = Subreg{RG_RX_FE, 0x10, 4}
	SR_RX800_PON     = Subreg{RG_RX_FE, 0x20, 5}
	SR_RX433_PON     = Subreg{RG_RX_FE, 0x40, 6}
	SR_LNA24_ISETT   = Subreg{RG_LNA24, 0x07, 0}
	SR_LNA24_SPCTRIM = Subreg{RG_LNA24, 0xF0, 4}
)

// ADC.
var (
	SR_CTRL_ADC_MULTIBIT = Subreg{RG_CTRL_ADC, 0x01, 0}
	SR_CTRL_ADC_ENABLE   = Subreg{RG_CTRL_ADC, 0x02, 1}
	SR_CTRL_ADC_BW_SEL   = Subreg{RG_CTRL_ADC, 0x0C, 2}
	SR_CTRL_ADC_BW_TUNE  = Subreg{RG_CTRL_ADC, 0x70, 4}
	SR_CTRL_ADC_DR_SEL   = Subreg{RG_ADC_RATE, 0x03, 0}
)

// Polyphase filter.
var (
	SR_PPF_M0    = Subreg{RG_PPF, 0x01, 0}
	SR_PPF_M1    = Subreg{RG_PPF, 0x02, 1}
	SR_PPF_TRIM  = Subreg{RG_PPF, 0x1C, 2}
	SR_PPF_HGAIN = Subreg{RG_PPF, 0x20, 5}
	SR_PPF_LLIF  = Subreg{RG_PPF, 0x40, 6}
)

// Demodulator. SR_DEM_RESETB is toggled by the pre-RX/TX reset
// sequence on every mode change.
var (
	SR_DEM_RESETB             = Subreg{RG_DEM_MAIN, 0x01, 0}
	SR_DEM_EN                 = Subreg{RG_DEM_MAIN, 0x02, 1}
	SR_DEM_PD_EN              = Subreg{RG_DEM_MAIN, 0x04, 2}
	SR_DEM_AGC_EN             = Subreg{RG_DEM_MAIN, 0x08, 3}
	SR_DEM_FREQ_OFFSET_CAL_EN = Subreg{RG_DEM_MAIN, 0x10, 4}
	SR_DEM_OSR_SEL            = Subreg{RG_DEM_MAIN, 0x20, 5}
	SR_DEM_BTLE_MODE          = Subreg{RG_DEM_MAIN, 0x40, 6}
	SR_DEM_CLK96_SEL          = Subreg{RG_DEM_MAIN, 0x80, 7}

	SR_DEM_IF_SEL        = Subreg{RG_DEM_CFG, 0x03, 0}
	SR_DEM_DATA_RATE_SEL = Subreg{RG_DEM_CFG, 0x0C, 2}
	SR_DEM_IQ_CROSS      = Subreg{RG_DEM_CFG, 0x10, 4}
	SR_DEM_IQ_INV        = Subreg{RG_DEM_CFG, 0x20, 5}

	SR_DEM_GC1 = Subreg{RG_DEM_GC12, 0x07, 0}
	SR_DEM_GC2 = Subreg{RG_DEM_GC12, 0x38, 3}
	SR_DEM_GC3 = Subreg{RG_DEM_GC34, 0x07, 0}
	SR_DEM_GC4 = Subreg{RG_DEM_GC34, 0x38, 3}
	SR_DEM_GC5 = Subreg{RG_DEM_GC56, 0x07, 0}
	SR_DEM_GC6 = Subreg{RG_DEM_GC56, 0x38, 3}
	SR_DEM_GC7 = Subreg{RG_DEM_GC7, 0x07, 0}
)

// Transmit chain.
var (
	SR_TX_EN              = Subreg{RG_TX_MAIN, 0x01, 0}
	SR_TX_ON_CHIP_MOD     = Subreg{RG_TX_MAIN, 0x02, 1}
	SR_TX_UPS             = Subreg{RG_TX_MAIN, 0x0C, 2}
	SR_TX_ON_CHIP_MOD_SP  = Subreg{RG_TX_MAIN, 0x10, 4}
	SR_TX_AMPLI_OUT_MAN_H = Subreg{RG_TX_MAIN, 0x20, 5}
	SR_TX_AMPLI_OUT_MAN_L = Subreg{RG_TX_AMPLI_OUT_LOW, 0xFF, 0}
)

// State machine main register. The SM_COMMAND field occupies the top
// nibble; the low nibble holds the enable and reset bits, which is why
// the cached copy of RG_SM_MAIN is masked to 0x0F before reuse in
// asynchronous command writes.
var (
	SR_FIFO_MODE_EN = Subreg{RG_SM_MAIN, 0x01, 0}
	SR_FIFO_RESETB  = Subreg{RG_SM_MAIN, 0x02, 1}
	SR_SM_RESETB    = Subreg{RG_SM_MAIN, 0x04, 2}
	SR_SM_EN        = Subreg{RG_SM_MAIN, 0x08, 3}
	SR_SM_COMMAND   = Subreg{RG_SM_MAIN, 0xF0, 4}

	SR_WAKEUPONSPI     = Subreg{RG_SM_WAKEUP, 0x01, 0}
	SR_WAKEUPONRX      = Subreg{RG_SM_WAKEUP, 0x02, 1}
	SR_WAKEUP_MODES_EN = Subreg{RG_SM_WAKEUP, 0x04, 2}
	SR_INVERT_FIFO_CLK = Subreg{RG_SM_WAKEUP, 0x08, 3}
	SR_DIRECT_RX       = Subreg{RG_SM_WAKEUP, 0x10, 4}
	SR_DIRECT_TX       = Subreg{RG_SM_WAKEUP, 0x20, 5}
	SR_DIRECT_TX_IDLE  = Subreg{RG_SM_WAKEUP, 0x40, 6}

	SR_TX_ON_FIFO_IDLE  = Subreg{RG_SM_TX_CFG, 0x01, 0}
	SR_TX_ON_FIFO_SLEEP = Subreg{RG_SM_TX_CFG, 0x02, 1}
	SR_TX_IDLE_MODE_EN  = Subreg{RG_SM_TX_CFG, 0x04, 2}
	SR_TX_MODE          = Subreg{RG_SM_TX_CFG, 0x18, 3}
	SR_TX_MAXAMP        = Subreg{RG_SM_TX_CFG, 0x20, 5}
	SR_TX_PWR_CTRL      = Subreg{RG_SM_TX_PWR, 0x0F, 0}

	SR_RX_HOLD_MODE_EN    = Subreg{RG_SM_RX_CFG, 0x01, 0}
	SR_RX_TIMEOUT_EN      = Subreg{RG_SM_RX_CFG, 0x02, 1}
	SR_RX_HOLD_ON_TIMEOUT = Subreg{RG_SM_RX_CFG, 0x04, 2}
	SR_AGC_AUTO_GAIN      = Subreg{RG_SM_RX_CFG, 0x08, 3}
)

// Startup/RX counters, full bytes.
var (
	SR_SM_TIME_POWER_TX = Subreg{RG_SM_TIME_POWER_TX, 0xFF, 0}
	SR_SM_TIME_POWER_RX = Subreg{RG_SM_TIME_POWER_RX, 0xFF, 0}
	SR_SM_TIME_PLL_PON  = Subreg{RG_SM_TIME_PLL_PON, 0xFF, 0}
	SR_SM_TIME_PLL_SET  = Subreg{RG_SM_TIME_PLL_SET, 0xFF, 0}
	SR_SM_TIME_TX       = Subreg{RG_SM_TIME_TX, 0xFF, 0}
	SR_SM_TIME_PD_EN    = Subreg{RG_SM_TIME_PD_EN, 0xFF, 0}

	SR_RX_LENGTH_H  = Subreg{RG_RX_LENGTH_H, 0xFF, 0}
	SR_RX_LENGTH_M  = Subreg{RG_RX_LENGTH_M, 0xFF, 0}
	SR_RX_LENGTH_L  = Subreg{RG_RX_LENGTH_L, 0xFF, 0}
	SR_RX_TIMEOUT_H = Subreg{RG_RX_TIMEOUT_H, 0xFF, 0}
	SR_RX_TIMEOUT_M = Subreg{RG_RX_TIMEOUT_M, 0xFF, 0}
	SR_RX_TIMEOUT_L = Subreg{RG_RX_TIMEOUT_L, 0xFF, 0}
)

// Command is a value of the SR_SM_COMMAND field, ordering the state
// machine into a target mode. Writing CmdNone returns the field to
// neutral so the next command edge is detected.
type Command uint8

const (
	CmdNone      Command = 0x0
	CmdSleep     Command = 0x1
	CmdDeepSleep Command = 0x2
	CmdRX        Command = 0x3
	CmdTX        Command = 0x4
)

func (c Command) String() (s string) {
	switch c {
	case CmdNone:
		s = "none"
	case CmdSleep:
		s = "sleep"
	case CmdDeepSleep:
		s = "deepsleep"
	case CmdRX:
		s = "rx"
	case CmdTX:
		s = "tx"
	default:
		s = "unknown"
	}
	return s
}
