package daq

import "fmt"

// AddressingMode tells how the entries of a ChanDesc map to channels
type AddressingMode int

// Reference is the analog reference of a channel
type Reference int

const (
	// ChanGlobal means a single entry describes every channel
	ChanGlobal AddressingMode = iota

	// ChanPerChannel means there is one entry per channel
	ChanPerChannel
)

const (
	// RefGround is a ground-referenced channel
	RefGround Reference = iota

	// RefCommon is a common-mode referenced channel
	RefCommon

	// RefDiff is a differential channel
	RefDiff

	// RefOther is any other reference
	RefOther
)

// ChanRef bit layout
const (
	crChanMask  = 0xffff
	crRangeBits = 16
	crRangeMask = 0xff
	crArefBits  = 24
	crArefMask  = 0x3

	// CRPerChan qualifies a reference aimed at an individually described
	// channel.  It must be set for ChanPerChannel descriptors and clear
	// for ChanGlobal descriptors
	CRPerChan ChanRef = 1 << 28
)

// ChanRef packs a channel index together with its range and reference qualifiers
type ChanRef uint32

// Pack builds a global-style channel reference
func Pack(ch, rng int, aref Reference) ChanRef {
	return ChanRef(uint32(ch)&crChanMask |
		(uint32(rng)&crRangeMask)<<crRangeBits |
		(uint32(aref)&crArefMask)<<crArefBits)
}

// Chan returns the channel index
func (c ChanRef) Chan() int {
	return int(c & crChanMask)
}

// Range returns the range index
func (c ChanRef) Range() int {
	return int((c >> crRangeBits) & crRangeMask)
}

// Aref returns the analog reference qualifier
func (c ChanRef) Aref() Reference {
	return Reference((c >> crArefBits) & crArefMask)
}

// PerChan returns true if the CRPerChan qualifier is set
func (c ChanRef) PerChan() bool {
	return c&CRPerChan != 0
}

func (c ChanRef) String() string {
	s := fmt.Sprintf("chan %d range %d aref %d", c.Chan(), c.Range(), c.Aref())
	if c.PerChan() {
		s += " per-chan"
	}
	return s
}

// Channel describes one channel, or every channel of a global descriptor
type Channel struct {
	// Ref is the analog reference of the channel
	Ref Reference

	// Width is the size of one sample, in bytes
	Width int
}

// ChanDesc is the static description of the channels of a subdevice.
// It is read-only once the subdevice is built
type ChanDesc struct {
	Mode   AddressingMode
	Length int
	Chans  []Channel
}

// Check verifies the descriptor is well formed
func (d *ChanDesc) Check() error {
	if d.Length < 1 {
		return fmt.Errorf("%w: descriptor declares %d channels", ErrInvalidChannel, d.Length)
	}
	switch d.Mode {
	case ChanGlobal:
		if len(d.Chans) != 1 {
			return fmt.Errorf("%w: global descriptor needs exactly one entry, has %d", ErrInvalidChannel, len(d.Chans))
		}
	case ChanPerChannel:
		if len(d.Chans) != d.Length {
			return fmt.Errorf("%w: per-channel descriptor declares %d channels but has %d entries", ErrInvalidChannel, d.Length, len(d.Chans))
		}
	default:
		return fmt.Errorf("%w: unknown addressing mode %d", ErrInvalidChannel, d.Mode)
	}
	for i, ch := range d.Chans {
		if ch.Width < 1 {
			return fmt.Errorf("%w: entry %d has sample width %d", ErrInvalidChannel, i, ch.Width)
		}
	}
	return nil
}

// Ref builds the reference to channel ch that matches the descriptor's addressing mode
func (d *ChanDesc) Ref(ch int) ChanRef {
	if d.Mode != ChanPerChannel {
		return Pack(ch, 0, d.Chans[0].Ref)
	}
	aref := RefGround
	if ch >= 0 && ch < len(d.Chans) {
		aref = d.Chans[ch].Ref
	}
	return Pack(ch, 0, aref) | CRPerChan
}

// Resolve returns the channel addressed by ref
func (d *ChanDesc) Resolve(ref ChanRef) (Channel, error) {
	idx := ref.Chan()
	if idx >= d.Length {
		return Channel{}, fmt.Errorf("%w: %d >= channel count %d", ErrInvalidChannel, idx, d.Length)
	}
	switch d.Mode {
	case ChanGlobal:
		if ref.PerChan() {
			return Channel{}, fmt.Errorf("%w: per-channel reference to a global descriptor", ErrInvalidChannel)
		}
		return d.Chans[0], nil
	case ChanPerChannel:
		if !ref.PerChan() {
			return Channel{}, fmt.Errorf("%w: global reference to a per-channel descriptor", ErrInvalidChannel)
		}
		return d.Chans[idx], nil
	}
	return Channel{}, fmt.Errorf("%w: unknown addressing mode %d", ErrInvalidChannel, d.Mode)
}

// SampleWidth returns the widest sample width of the descriptor, in bytes
func (d *ChanDesc) SampleWidth() int {
	w := 0
	for _, ch := range d.Chans {
		if ch.Width > w {
			w = ch.Width
		}
	}
	return w
}
