package daq

import (
	"fmt"
	"time"
)

// InsnKind is the kind of a synchronous instruction
type InsnKind int

const (
	// InsnBits masks a write of digital lines, then reads every line back.
	// Data[0] is the mask, Data[1] the values; Data[1] receives the readback
	InsnBits InsnKind = iota

	// InsnConfig configures the direction of a line bank, or queries it.
	// Data[0] is a ConfigDIO* id; a query writes the direction to Data[1]
	InsnConfig

	// InsnRead reads one digital line into every element of Data
	InsnRead

	// InsnWrite writes each element of Data to one digital line in turn
	InsnWrite

	// InsnGTOD stores the time of day, Data[0] seconds and Data[1] microseconds
	InsnGTOD
)

var insnNames = map[InsnKind]string{
	InsnBits:   "bits",
	InsnConfig: "config",
	InsnRead:   "read",
	InsnWrite:  "write",
	InsnGTOD:   "gtod",
}

func (k InsnKind) String() string {
	if n, ok := insnNames[k]; ok {
		return n
	}
	return fmt.Sprintf("insn(%d)", int(k))
}

// MarshalText encodes the kind by name
func (k InsnKind) MarshalText() ([]byte, error) {
	if _, ok := insnNames[k]; !ok {
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidConfig, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind encoded by MarshalText
func (k *InsnKind) UnmarshalText(b []byte) error {
	for kind, n := range insnNames {
		if n == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, string(b))
}

// Configuration ids of InsnConfig
const (
	ConfigDIOInput  uint32 = 0
	ConfigDIOOutput uint32 = 1
	ConfigDIOQuery  uint32 = 2
)

// Directions reported by ConfigDIOQuery
const (
	DirInput  uint32 = 0
	DirOutput uint32 = 1
)

// Instruction is a synchronous request to a subdevice.  Results are written
// back into Data
type Instruction struct {
	Kind InsnKind `json:"kind"`
	Chan ChanRef  `json:"chan"`
	Data []uint32 `json:"data"`
}

// Do executes one instruction
func (s *Subdevice) Do(insn *Instruction) error {
	if err := s.usable(); err != nil {
		return err
	}
	switch insn.Kind {
	case InsnGTOD:
		return gtod(insn)
	case InsnBits, InsnConfig, InsnRead, InsnWrite:
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidConfig, int(insn.Kind))
	}
	if s.flags&SubdDIO == 0 || s.chip == nil {
		return fmt.Errorf("%w: %s instruction needs a digital subdevice", ErrUnsupported, insn.Kind)
	}
	if _, err := s.desc.Resolve(insn.Chan); err != nil {
		return err
	}
	switch insn.Kind {
	case InsnBits:
		return s.bits(insn)
	case InsnConfig:
		return s.config(insn)
	case InsnRead:
		return s.readLine(insn)
	default:
		return s.writeLine(insn)
	}
}

// lanes is the number of 8 bit registers holding the lines
func (s *Subdevice) lanes() int {
	return (s.desc.Length + 7) / 8
}

func (s *Subdevice) lineMask() uint32 {
	if s.desc.Length >= 32 {
		return 0xffffffff
	}
	return 1<<uint(s.desc.Length) - 1
}

// apply updates the masked lines and writes every register the mask touches
func (s *Subdevice) apply(mask, value uint32) error {
	mask &= s.lineMask()
	if mask == 0 {
		return nil
	}
	status := s.status&^mask | value&mask
	for lane := 0; lane < s.lanes(); lane++ {
		shift := uint(8 * lane)
		if mask&(0xff<<shift) == 0 {
			continue
		}
		if err := s.chip.WriteRegister(lane, byte(status>>shift)); err != nil {
			return ioError("write", lane, err)
		}
	}
	s.status = status
	return nil
}

func (s *Subdevice) readback() (uint32, error) {
	var v uint32
	for lane := 0; lane < s.lanes(); lane++ {
		b, err := s.chip.ReadRegister(lane)
		if err != nil {
			return 0, ioError("read", lane, err)
		}
		v |= uint32(b) << uint(8*lane)
	}
	return v, nil
}

func (s *Subdevice) bits(insn *Instruction) error {
	if len(insn.Data) < 2 {
		return fmt.Errorf("%w: bits needs 2 data words, got %d", ErrInvalidConfig, len(insn.Data))
	}
	if err := s.apply(insn.Data[0], insn.Data[1]); err != nil {
		return err
	}
	v, err := s.readback()
	if err != nil {
		return err
	}
	insn.Data[1] = v
	return nil
}

func (s *Subdevice) bank(ch int) uint32 {
	if m, ok := s.chip.(BankMapper); ok {
		return m.Bank(ch)
	}
	return 1 << uint(ch)
}

func (s *Subdevice) config(insn *Instruction) error {
	if len(insn.Data) < 1 {
		return fmt.Errorf("%w: config needs a configuration id", ErrInvalidConfig)
	}
	bank := s.bank(insn.Chan.Chan())
	var ioBits uint32
	switch insn.Data[0] {
	case ConfigDIOInput:
		ioBits = s.ioBits &^ bank
	case ConfigDIOOutput:
		ioBits = s.ioBits | bank
	case ConfigDIOQuery:
		if len(insn.Data) < 2 {
			return fmt.Errorf("%w: query needs 2 data words", ErrInvalidConfig)
		}
		insn.Data[1] = DirInput
		if s.ioBits&bank != 0 {
			insn.Data[1] = DirOutput
		}
		return nil
	default:
		return fmt.Errorf("%w: configuration id %d", ErrInvalidConfig, insn.Data[0])
	}
	if err := s.chip.Reconfigure(ioBits); err != nil {
		return fmt.Errorf("%w: reconfigure: %v", ErrIO, err)
	}
	s.ioBits = ioBits
	return nil
}

func (s *Subdevice) readLine(insn *Instruction) error {
	v, err := s.readback()
	if err != nil {
		return err
	}
	bit := (v >> uint(insn.Chan.Chan())) & 1
	for i := range insn.Data {
		insn.Data[i] = bit
	}
	return nil
}

func (s *Subdevice) writeLine(insn *Instruction) error {
	mask := uint32(1) << uint(insn.Chan.Chan())
	for _, d := range insn.Data {
		var v uint32
		if d != 0 {
			v = mask
		}
		if err := s.apply(mask, v); err != nil {
			return err
		}
	}
	return nil
}

func gtod(insn *Instruction) error {
	if len(insn.Data) < 2 {
		return fmt.Errorf("%w: gtod needs 2 data words", ErrInvalidConfig)
	}
	now := time.Now()
	insn.Data[0] = uint32(now.Unix())
	insn.Data[1] = uint32(now.Nanosecond() / 1000)
	return nil
}
