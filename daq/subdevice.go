package daq

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// SubdFlags describe the capabilities of a subdevice
type SubdFlags uint32

const (
	// SubdUnused marks a subdevice whose resources could not be reserved.
	// It keeps its index but every operation on it fails
	SubdUnused SubdFlags = 1 << iota

	// SubdDIO marks a digital I/O subdevice, served by the bits and config engine
	SubdDIO

	// SubdCmd marks a subdevice which accepts commands
	SubdCmd

	// SubdRead marks a subdevice whose acquisitions flow to the consumer
	SubdRead

	// SubdWrite marks a subdevice whose acquisitions flow from the consumer
	SubdWrite
)

var subdFlagNames = []struct {
	f    SubdFlags
	name string
}{
	{SubdUnused, "unused"},
	{SubdDIO, "dio"},
	{SubdCmd, "cmd"},
	{SubdRead, "read"},
	{SubdWrite, "write"},
}

func (f SubdFlags) String() string {
	var parts []string
	for _, n := range subdFlagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// MarshalText encodes the flags by name
func (f SubdFlags) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText decodes flags encoded by MarshalText
func (f *SubdFlags) UnmarshalText(b []byte) error {
	var v SubdFlags
	if len(b) > 0 {
	next:
		for _, part := range strings.Split(string(b), "|") {
			for _, n := range subdFlagNames {
				if n.name == part {
					v |= n.f
					continue next
				}
			}
			return fmt.Errorf("%w: unknown subdevice flag %q", ErrInvalidConfig, part)
		}
	}
	*f = v
	return nil
}

// Chip is the register-level binding of a subdevice to its hardware.
// Ports are offsets in the chip's register window
type Chip interface {
	// ReadRegister reads one byte register
	ReadRegister(port int) (byte, error)

	// WriteRegister writes one byte register
	WriteRegister(port int, v byte) error

	// Reconfigure applies a new line direction map, 1 = output
	Reconfigure(ioBits uint32) error
}

// BankMapper is implemented by chips whose lines change direction in groups.
// Bank returns the lines configured together with ch
type BankMapper interface {
	Bank(ch int) uint32
}

// Armer is implemented by chips which produce data for commands.
// Arm starts the producer for cmd, Disarm stops it; once Disarm returns the
// producer no longer touches the subdevice
type Armer interface {
	Arm(s *Subdevice, cmd Command) error
	Disarm() error
}

// State is the acquisition state of a command-capable subdevice
type State int32

const (
	// StateIdle means no acquisition is running
	StateIdle State = iota

	// StateRunning means an acquisition is armed and producing data
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// SubdConfig is used to build a subdevice
type SubdConfig struct {
	Flags    SubdFlags
	ChanDesc ChanDesc
	Chip     Chip

	// Cmd is the command mask and rules; nil unless Flags has SubdCmd
	Cmd *CommandSpec

	// Priv is opaque to the engine, for the chip's own use
	Priv interface{}
}

/*Subdevice is a functional unit of a device: a group of channels that share
a kind and a chip binding.

Synchronous instructions and command control (Validate, Start, Cancel) are
serialized by the caller, normally the device's lock holder.  Put and Notify
belong to the producer and may run concurrently with the consumer side
(Drain, Wait) and with Cancel.
*/
type Subdevice struct {
	idx   int
	flags SubdFlags
	desc  ChanDesc
	chip  Chip
	spec  *CommandSpec
	priv  interface{}

	// buf is set when the subdevice is added and dropped on detach
	buf      atomic.Pointer[Buffer]
	released atomic.Bool

	// DIO engine state, caller-serialized
	status uint32
	ioBits uint32

	state atomic.Int32
	cmd   Command

	// producer-owned while running
	stopBytes  uint64
	produced   uint64
	eoaPending bool
}

// NewSubdevice builds a subdevice from its configuration
func NewSubdevice(cfg SubdConfig) (*Subdevice, error) {
	s := &Subdevice{
		idx:   -1,
		flags: cfg.Flags,
		desc:  cfg.ChanDesc,
		chip:  cfg.Chip,
		spec:  cfg.Cmd,
		priv:  cfg.Priv,
	}
	if s.flags&SubdUnused != 0 {
		return s, nil
	}
	if err := s.desc.Check(); err != nil {
		return nil, err
	}
	if s.flags&SubdDIO != 0 && s.desc.Length > 32 {
		return nil, fmt.Errorf("%w: digital subdevice with %d lines, at most 32", ErrInvalidChannel, s.desc.Length)
	}
	if (s.flags&SubdCmd != 0) != (s.spec != nil) {
		return nil, fmt.Errorf("%w: command flag and command mask disagree", ErrInvalidConfig)
	}
	return s, nil
}

// NewUnusedSubdevice returns a placeholder for a subdevice whose resources
// could not be reserved
func NewUnusedSubdevice() *Subdevice {
	s, _ := NewSubdevice(SubdConfig{Flags: SubdUnused})
	return s
}

// Index returns the position of the subdevice in its device, -1 if not added
func (s *Subdevice) Index() int {
	return s.idx
}

// Flags returns the capabilities of the subdevice
func (s *Subdevice) Flags() SubdFlags {
	return s.flags
}

// Unused returns true if the subdevice has no resources
func (s *Subdevice) Unused() bool {
	return s.flags&SubdUnused != 0
}

// ChanDesc returns the channel descriptor
func (s *Subdevice) ChanDesc() *ChanDesc {
	return &s.desc
}

// Chip returns the chip binding
func (s *Subdevice) Chip() Chip {
	return s.chip
}

// CommandSpec returns the command mask and rules, nil if commands are unsupported
func (s *Subdevice) CommandSpec() *CommandSpec {
	return s.spec
}

// Buffer returns the acquisition buffer, nil if commands are unsupported
// or the device was detached
func (s *Subdevice) Buffer() *Buffer {
	return s.buf.Load()
}

// Priv returns the chip's private data
func (s *Subdevice) Priv() interface{} {
	return s.priv
}

// IOBits returns the line direction map, 1 = output
func (s *Subdevice) IOBits() uint32 {
	return s.ioBits
}

// State returns the acquisition state
func (s *Subdevice) State() State {
	return State(s.state.Load())
}

// Running returns true while an acquisition is running
func (s *Subdevice) Running() bool {
	return s.State() == StateRunning
}

// ActiveCommand returns the command of the running, or last, acquisition.
// Like Start it is caller-serialized, see Device.ActiveCommand
func (s *Subdevice) ActiveCommand() Command {
	return s.cmd.clone()
}

func (s *Subdevice) usable() error {
	if s.flags&SubdUnused != 0 {
		return ErrResourceUnavailable
	}
	return nil
}

// buffer returns the acquisition buffer of a command-capable subdevice
func (s *Subdevice) buffer() (*Buffer, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if s.released.Load() {
		return nil, ErrResourceUnavailable
	}
	b := s.buf.Load()
	if s.spec == nil || b == nil {
		return nil, ErrUnsupported
	}
	return b, nil
}

// release drops the buffer once the producer is disarmed
func (s *Subdevice) release() {
	s.released.Store(true)
	s.buf.Store(nil)
}

// Validate checks cmd against the subdevice.  The chanlist must resolve
// against the channel descriptor; the triggers go through the four
// stages of the command mask.  See CommandSpec.Check
func (s *Subdevice) Validate(cmd Command) (Command, error) {
	if err := s.usable(); err != nil {
		return cmd, err
	}
	if s.spec == nil {
		return cmd, ErrUnsupported
	}
	for i, ref := range cmd.Chans {
		if _, err := s.desc.Resolve(ref); err != nil {
			return cmd, fmt.Errorf("chanlist entry %d: %w", i, err)
		}
	}
	return s.spec.Check(cmd)
}

// Start validates cmd and, if accepted, disarms the previous producer,
// resets the buffer and arms the producer
func (s *Subdevice) Start(cmd Command) error {
	b, err := s.buffer()
	if err != nil {
		return err
	}
	if s.Running() {
		return ErrAlreadyRunning
	}
	if _, err := s.Validate(cmd); err != nil {
		return err
	}
	a, armer := s.chip.(Armer)
	if armer {
		// the producer which ended the last acquisition may still be
		// inside Put or Notify
		if err := a.Disarm(); err != nil {
			return fmt.Errorf("disarming subdevice %d: %w", s.idx, err)
		}
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyRunning
	}
	s.cmd = cmd.clone()
	s.stopBytes = 0
	if cmd.Stop.Src == TrigCount {
		scan := uint64(1)
		if cmd.ScanEnd.Src == TrigCount {
			scan = uint64(cmd.ScanEnd.Arg)
		}
		s.stopBytes = uint64(cmd.Stop.Arg) * scan * uint64(b.SampleWidth())
	}
	s.produced = 0
	s.eoaPending = false
	b.reset()
	if armer {
		if err := a.Arm(s, s.cmd); err != nil {
			s.state.Store(int32(StateIdle))
			return fmt.Errorf("arming subdevice %d: %w", s.idx, err)
		}
	}
	return nil
}

// Cancel stops the producer and returns the subdevice to idle.  Published
// data stays in the buffer for the consumer; once it is drained Drain
// returns io.EOF.  Cancelling an idle subdevice is a no-op
func (s *Subdevice) Cancel() error {
	b, err := s.buffer()
	if err != nil {
		return err
	}
	if a, ok := s.chip.(Armer); ok {
		if derr := a.Disarm(); derr != nil {
			err = fmt.Errorf("disarming subdevice %d: %w", s.idx, derr)
		}
	}
	if s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle)) {
		b.discard()
		b.notify(EvtEOA)
	}
	return err
}

// Put is called by the producer to append samples.  It never blocks.
// When the stop count is reached the data is truncated and the acquisition
// ends; the end is signalled with the next Notify.  When the buffer is full
// the acquisition is cancelled and ErrOverrun is returned
func (s *Subdevice) Put(p []byte) (int, error) {
	b := s.buf.Load()
	if b == nil {
		return 0, ErrUnsupported
	}
	if !s.Running() {
		return 0, ErrNotRunning
	}
	last := false
	if s.stopBytes > 0 {
		left := s.stopBytes - s.produced
		if uint64(len(p)) >= left {
			p = p[:left]
			last = true
		}
	}
	n, err := b.put(p)
	s.produced += uint64(n)
	// every side effect lands before the subdevice goes idle
	if err != nil {
		b.notify(EvtOverrun)
		s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
		return n, err
	}
	if last {
		s.eoaPending = true
		s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
	}
	return n, nil
}

// Fail is called by the producer when it cannot go on, e.g. the chip
// stopped answering.  The acquisition ends and the consumer's next Drain
// returns err, wrapped as ErrIO
func (s *Subdevice) Fail(err error) {
	b := s.buf.Load()
	if b == nil {
		return
	}
	if s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle)) {
		b.fail(fmt.Errorf("%w: producer of subdevice %d: %v", ErrIO, s.idx, err))
	}
}

// Notify is called by the producer to publish what it put and wake the consumer
func (s *Subdevice) Notify(evt Event) {
	b := s.buf.Load()
	if b == nil {
		return
	}
	if s.eoaPending {
		evt |= EvtEOA
		s.eoaPending = false
	}
	b.notify(evt)
}

// Drain returns up to max bytes of whole samples, see Buffer.Drain
func (s *Subdevice) Drain(max int) ([]byte, error) {
	b, err := s.buffer()
	if err != nil {
		return nil, err
	}
	return b.Drain(max)
}

// DrainRaw returns up to max bytes regardless of sample boundaries
func (s *Subdevice) DrainRaw(max int) ([]byte, error) {
	b, err := s.buffer()
	if err != nil {
		return nil, err
	}
	return b.DrainRaw(max)
}

// Wait blocks until data can be drained, the acquisition ended or ctx is done
func (s *Subdevice) Wait(ctx context.Context) error {
	b, err := s.buffer()
	if err != nil {
		return err
	}
	return b.Wait(ctx)
}
