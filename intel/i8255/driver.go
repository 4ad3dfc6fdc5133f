package i8255

import (
	"fmt"

	"github.com/nasa-jpl/rtdaq/daq"
	"github.com/nasa-jpl/rtdaq/ioport"
)

// DriverName is the name the standalone driver registers under
const DriverName = "8255"

// regionOwner labels the port regions reserved by the driver
const regionOwner = "daq 8255"

// Config configures the standalone driver
type Config struct {
	// Space is where the chips live
	Space ioport.Space

	// PollHz enables streaming with a port C poller at this rate
	PollHz float64

	// IRQ enables streaming driven by calls to Chip.Interrupt
	IRQ bool
}

func (c Config) streaming() bool {
	return c.PollHz > 0 || c.IRQ
}

// NewDriver returns the standalone 8255 driver.  Each attach option is the
// base address of one chip
func NewDriver(cfg Config) *daq.Driver {
	return &daq.Driver{
		Name: DriverName,
		Attach: func(dev *daq.Device, link daq.LinkDesc) error {
			return attach(cfg, dev, link)
		},
		Detach: func(dev *daq.Device) error {
			return detach(cfg, dev)
		},
	}
}

func attach(cfg Config, dev *daq.Device, link daq.LinkDesc) error {
	log := daq.Logger().With("driver", DriverName, "board", link.BoardName)
	if len(link.Opts) == 0 {
		log.Error("unable to detect any 8255 chip, chip addresses must be passed as attach options")
		return daq.ErrMissingOptions
	}
	if cfg.Space == nil {
		return fmt.Errorf("%w: no I/O port space", daq.ErrInvalidConfig)
	}
	for _, addr := range link.Opts {
		if err := cfg.Space.Request(addr, Size, regionOwner); err != nil {
			log.Warn("I/O port conflict", "addr", fmt.Sprintf("%#x", addr), "err", err)
			if _, err := dev.Add(daq.NewUnusedSubdevice()); err != nil {
				return err
			}
			continue
		}
		chip := New(ioport.Window(cfg.Space, addr))
		chip.PollHz = cfg.PollHz
		s, err := NewSubdevice(chip, cfg.streaming())
		if err != nil {
			cfg.Space.Release(addr, Size)
			log.Error("chip initialization failed", "addr", fmt.Sprintf("%#x", addr), "err", err)
			return err
		}
		idx, err := dev.Add(s)
		if err != nil {
			cfg.Space.Release(addr, Size)
			return err
		}
		dev.SetPriv(append(bases(dev), based{idx: idx, addr: addr}))
	}
	return nil
}

// based remembers the region of a subdevice, to release it on detach
type based struct {
	idx  int
	addr uint64
}

func bases(dev *daq.Device) []based {
	b, _ := dev.Priv().([]based)
	return b
}

func detach(cfg Config, dev *daq.Device) error {
	for _, b := range bases(dev) {
		cfg.Space.Release(b.addr, Size)
	}
	dev.SetPriv(nil)
	return nil
}

// ChipOf returns the chip of subdevice idx of a device attached with the
// standalone driver, for hosts delivering interrupts
func ChipOf(dev *daq.Device, idx int) (*Chip, error) {
	s, err := dev.Subdevice(idx)
	if err != nil {
		return nil, err
	}
	c, ok := s.Chip().(*Chip)
	if !ok {
		return nil, fmt.Errorf("%w: subdevice %d has no 8255", daq.ErrUnsupported, idx)
	}
	return c, nil
}
