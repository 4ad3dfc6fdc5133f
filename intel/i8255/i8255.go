/*Package i8255 binds the Intel 8255 programmable peripheral interface to the
daq subdevice engine.

An 8255 has three 8-bit ports (A, B, C) and a control register, four
consecutive I/O addresses in all.  The 24 lines are presented as one digital
subdevice.  Line directions change in four banks: port A, port B, the low
nibble of port C and the high nibble of port C.

The chip can also stream: on each scan trigger the 16 lines of ports A and B
are sampled into one 2-byte sample.  The trigger is either an interrupt
delivered by the host board (call Chip.Interrupt from its handler), or an
emulated external edge found by polling port C.

The standalone "8255" driver attaches one subdevice per base address:
 reg := daq.NewRegistry()
 reg.Register(i8255.NewDriver(i8255.Config{Space: space, PollHz: 1000}))
 dev, err := reg.Attach(i8255.DriverName, daq.LinkDesc{Opts: []uint64{0x300, 0x304}})
*/
package i8255

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/nasa-jpl/rtdaq/daq"
	"github.com/nasa-jpl/rtdaq/ioport"
)

const (
	// Size is the number of I/O addresses of one chip
	Size = 4

	// NumLines is the number of digital lines
	NumLines = 24

	// SampleWidth is the size of a streamed sample, ports A and B
	SampleWidth = 2
)

// register offsets
const (
	PortA = iota
	PortB
	PortC
	PortCR
)

// control word bits; an IO bit set means the port (or nibble) is an input
const (
	CRCLoIO = 0x01
	CRBIO   = 0x02
	CRBMode = 0x04
	CRCHiIO = 0x08
	CRAIO   = 0x10
	CRCW    = 0x80
)

// direction banks, as io bit masks
const (
	BankA   uint32 = 0x0000ff
	BankB   uint32 = 0x00ff00
	BankCLo uint32 = 0x0f0000
	BankCHi uint32 = 0xf00000
)

// ControlWord converts a direction map (1 = output) to the control register
// value selecting mode 0 with those directions
func ControlWord(ioBits uint32) byte {
	cw := byte(CRCW)
	if ioBits&BankA == 0 {
		cw |= CRAIO
	}
	if ioBits&BankB == 0 {
		cw |= CRBIO
	}
	if ioBits&BankCLo == 0 {
		cw |= CRCLoIO
	}
	if ioBits&BankCHi == 0 {
		cw |= CRCHiIO
	}
	return cw
}

// Chip is the register binding of one 8255.  It satisfies daq.Chip,
// daq.BankMapper and daq.Armer
type Chip struct {
	io ioport.Accessor

	// PollHz is the rate at which port C is polled when the chip emulates
	// its external trigger, 0 if the host delivers interrupts
	PollHz float64

	// irqMu serializes the interrupt routine against arming
	irqMu  sync.Mutex
	armed  *daq.Subdevice
	sample [SampleWidth]byte

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New returns a chip accessed through io, normally an ioport.Window
func New(io ioport.Accessor) *Chip {
	return &Chip{io: io}
}

// ReadRegister reads one of the four registers
func (c *Chip) ReadRegister(port int) (byte, error) {
	return c.io(false, port, 0)
}

// WriteRegister writes one of the four registers
func (c *Chip) WriteRegister(port int, v byte) error {
	_, err := c.io(true, port, v)
	return err
}

// Reconfigure programs the control register for the direction map ioBits
func (c *Chip) Reconfigure(ioBits uint32) error {
	return c.WriteRegister(PortCR, ControlWord(ioBits))
}

// Bank returns the lines whose direction changes together with ch
func (c *Chip) Bank(ch int) uint32 {
	mask := uint32(1) << uint(ch)
	switch {
	case mask&BankA != 0:
		return BankA
	case mask&BankB != 0:
		return BankB
	case mask&BankCLo != 0:
		return BankCLo
	default:
		return BankCHi
	}
}

// CommandSpec is what the 8255 accepts: start now, one sample of ports A and
// B per external edge, forever or for a number of scans.  The scan begin
// argument selects the edge: 0 for every poll tick or interrupt, n in 1..8
// for a rising edge on line n-1 of port C
func CommandSpec() *daq.CommandSpec {
	return &daq.CommandSpec{
		Mask: daq.Command{
			Start:     daq.Trigger{Src: daq.TrigNow},
			ScanBegin: daq.Trigger{Src: daq.TrigExt},
			Convert:   daq.Trigger{Src: daq.TrigFollow},
			ScanEnd:   daq.Trigger{Src: daq.TrigCount},
			Stop:      daq.Trigger{Src: daq.TrigNone | daq.TrigCount},
		},
		Bound: bound,
	}
}

func bound(cmd *daq.Command, slot daq.Slot) (lo, hi uint32) {
	switch slot {
	case daq.SlotScanBegin:
		return 0, 8
	case daq.SlotScanEnd:
		return 1, 1
	default:
		return 1, math.MaxUint32
	}
}

// ChanDesc describes the 24 lines, sampled as 2-byte words
func ChanDesc() daq.ChanDesc {
	return daq.ChanDesc{
		Mode:   daq.ChanGlobal,
		Length: NumLines,
		Chans:  []daq.Channel{{Ref: daq.RefGround, Width: SampleWidth}},
	}
}

// NewSubdevice builds the digital subdevice of c and programs every line as
// an input.  With streaming the subdevice accepts commands; the producer is
// the interrupt handler, or the port C poller if c.PollHz is set
func NewSubdevice(c *Chip, streaming bool) (*daq.Subdevice, error) {
	cfg := daq.SubdConfig{
		Flags:    daq.SubdDIO,
		ChanDesc: ChanDesc(),
		Chip:     c,
	}
	if streaming {
		cfg.Flags |= daq.SubdCmd | daq.SubdRead
		cfg.Cmd = CommandSpec()
	}
	s, err := daq.NewSubdevice(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Reconfigure(0); err != nil {
		return nil, fmt.Errorf("%w: programming control word: %v", daq.ErrIO, err)
	}
	return s, nil
}
