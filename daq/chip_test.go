package daq

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errBus = errors.New("bus error")

// echoChip is a register file whose data ports read back what was written
type echoChip struct {
	regs      [4]byte
	writes    []int
	ioBits    uint32
	failRead  bool
	failWrite bool
}

func (c *echoChip) ReadRegister(port int) (byte, error) {
	if c.failRead {
		return 0, errBus
	}
	return c.regs[port], nil
}

func (c *echoChip) WriteRegister(port int, v byte) error {
	if c.failWrite {
		return errBus
	}
	c.writes = append(c.writes, port)
	c.regs[port] = v
	return nil
}

func (c *echoChip) Reconfigure(ioBits uint32) error {
	c.ioBits = ioBits
	return nil
}

// bankedChip switches directions in 8255-style banks
type bankedChip struct {
	echoChip
}

func (c *bankedChip) Bank(ch int) uint32 {
	switch {
	case ch < 8:
		return 0x0000ff
	case ch < 16:
		return 0x00ff00
	case ch < 20:
		return 0x0f0000
	default:
		return 0xf00000
	}
}

// armingChip counts arm and disarm calls and logs their order
type armingChip struct {
	echoChip
	mu       sync.Mutex
	armed    int
	disarmed int
	calls    []string
	armErr   error
}

func (c *armingChip) Arm(s *Subdevice, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armErr != nil {
		return c.armErr
	}
	if s.Buffer().Available() != 0 || !s.Running() {
		c.calls = append(c.calls, "arm-dirty")
	} else {
		c.calls = append(c.calls, "arm")
	}
	c.armed++
	return nil
}

func (c *armingChip) Disarm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "disarm")
	c.disarmed++
	return nil
}

func globalDesc(n, width int) ChanDesc {
	return ChanDesc{Mode: ChanGlobal, Length: n, Chans: []Channel{{Ref: RefGround, Width: width}}}
}

// streamSpec accepts "one sample per external edge" commands, optionally
// ending after a number of scans
var streamSpec = CommandSpec{
	Mask: Command{
		Start:     Trigger{Src: TrigNow},
		ScanBegin: Trigger{Src: TrigExt},
		Convert:   Trigger{Src: TrigFollow},
		ScanEnd:   Trigger{Src: TrigCount},
		Stop:      Trigger{Src: TrigNone | TrigCount},
	},
}

func streamCmd(subdev int, chans ...ChanRef) Command {
	return Command{
		Subdev:    subdev,
		Start:     Trigger{Src: TrigNow},
		ScanBegin: Trigger{Src: TrigExt},
		Convert:   Trigger{Src: TrigFollow},
		ScanEnd:   Trigger{Src: TrigCount, Arg: uint32(len(chans))},
		Stop:      Trigger{Src: TrigNone},
		Chans:     chans,
	}
}

func newDIO(t *testing.T, n int, chip Chip) *Subdevice {
	t.Helper()
	s, err := NewSubdevice(SubdConfig{Flags: SubdDIO, ChanDesc: globalDesc(n, 4), Chip: chip})
	require.NoError(t, err)
	return s
}

// newStreaming returns a device whose subdevice 0 streams 2-byte samples
// into a bufSize byte buffer
func newStreaming(t *testing.T, bufSize int, chip Chip) (*Device, *Subdevice) {
	t.Helper()
	spec := streamSpec
	s, err := NewSubdevice(SubdConfig{
		Flags:    SubdDIO | SubdCmd | SubdRead,
		ChanDesc: globalDesc(16, 2),
		Chip:     chip,
		Cmd:      &spec,
	})
	require.NoError(t, err)
	dev := NewDevice("test", bufSize)
	_, err = dev.Add(s)
	require.NoError(t, err)
	return dev, s
}
