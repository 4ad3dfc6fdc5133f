package daq

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"
)

// TrigSrc is a set of trigger sources.  A command slot normally selects
// exactly one of them; a command mask lists the sources a subdevice allows
type TrigSrc uint32

// Slot names one of the five trigger slots of a command
type Slot int

const (
	// TrigNone means the slot is not used (stop never fires, etc)
	TrigNone TrigSrc = 1 << iota

	// TrigNow fires as soon as the command is started
	TrigNow

	// TrigFollow fires when the previous stage completes
	TrigFollow

	// TrigTimer fires periodically, the argument is the period in ns
	TrigTimer

	// TrigCount fires after a number of events given by the argument
	TrigCount

	// TrigExt fires on an external signal, the argument selects the line
	TrigExt

	// TrigExtRearm fires on an external signal and rearms itself
	TrigExtRearm
)

const (
	// SlotStart begins the acquisition
	SlotStart Slot = iota

	// SlotScanBegin begins each scan
	SlotScanBegin

	// SlotConvert paces the conversions within a scan
	SlotConvert

	// SlotScanEnd ends each scan
	SlotScanEnd

	// SlotStop ends the acquisition
	SlotStop

	// NumSlots is the number of trigger slots in a command
	NumSlots = 5
)

var trigNames = []struct {
	src  TrigSrc
	name string
}{
	{TrigNone, "none"},
	{TrigNow, "now"},
	{TrigFollow, "follow"},
	{TrigTimer, "timer"},
	{TrigCount, "count"},
	{TrigExt, "ext"},
	{TrigExtRearm, "ext-rearm"},
}

func (t TrigSrc) String() string {
	if t == 0 {
		return "0"
	}
	var parts []string
	rest := t
	for _, n := range trigNames {
		if t&n.src != 0 {
			parts = append(parts, n.name)
			rest &^= n.src
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseTrigSrc converts a "|" separated list of source names,
// e.g. "ext|timer", to a TrigSrc
func ParseTrigSrc(s string) (TrigSrc, error) {
	var out TrigSrc
	if s == "" || s == "0" {
		return 0, nil
	}
OuterLoop:
	for _, part := range strings.Split(s, "|") {
		part = strings.ToLower(strings.TrimSpace(part))
		for _, n := range trigNames {
			if n.name == part {
				out |= n.src
				continue OuterLoop
			}
		}
		return 0, fmt.Errorf("unknown trigger source %q", part)
	}
	return out, nil
}

// MarshalText encodes the source set by name
func (t TrigSrc) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a source set encoded by MarshalText
func (t *TrigSrc) UnmarshalText(b []byte) error {
	v, err := ParseTrigSrc(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// single returns true if exactly one source is selected
func (t TrigSrc) single() bool {
	return bits.OnesCount32(uint32(t)) == 1
}

// lowest returns the lowest-valued source of the set
func (t TrigSrc) lowest() TrigSrc {
	return t & -t
}

func (s Slot) String() string {
	switch s {
	case SlotStart:
		return "start"
	case SlotScanBegin:
		return "scan_begin"
	case SlotConvert:
		return "convert"
	case SlotScanEnd:
		return "scan_end"
	case SlotStop:
		return "stop"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Trigger is one slot of a command: a source and its argument
type Trigger struct {
	Src TrigSrc `json:"src"`
	Arg uint32  `json:"arg"`
}

// Command describes a multi-stage triggered acquisition
type Command struct {
	// Subdev is the index of the subdevice the command is meant for
	Subdev int `json:"subdev"`

	Start     Trigger `json:"start"`
	ScanBegin Trigger `json:"scan_begin"`
	Convert   Trigger `json:"convert"`
	ScanEnd   Trigger `json:"scan_end"`
	Stop      Trigger `json:"stop"`

	// Chans is the list of channels sampled in each scan
	Chans []ChanRef `json:"chans,omitempty"`
}

// Slot returns a pointer to the trigger in slot s
func (c *Command) Slot(s Slot) *Trigger {
	switch s {
	case SlotStart:
		return &c.Start
	case SlotScanBegin:
		return &c.ScanBegin
	case SlotConvert:
		return &c.Convert
	case SlotScanEnd:
		return &c.ScanEnd
	case SlotStop:
		return &c.Stop
	}
	panic(fmt.Sprintf("daq: invalid command slot %d", int(s)))
}

func (c Command) clone() Command {
	if c.Chans != nil {
		c.Chans = append([]ChanRef(nil), c.Chans...)
	}
	return c
}

// Equal returns true if both commands are identical, chanlist included
func (c Command) Equal(o Command) bool {
	if c.Subdev != o.Subdev || c.Start != o.Start || c.ScanBegin != o.ScanBegin ||
		c.Convert != o.Convert || c.ScanEnd != o.ScanEnd || c.Stop != o.Stop ||
		len(c.Chans) != len(o.Chans) {
		return false
	}
	for i := range c.Chans {
		if c.Chans[i] != o.Chans[i] {
			return false
		}
	}
	return true
}

// Conflict declares that when slot If selects one of IfSrc,
// slot Then must select one of Allowed
type Conflict struct {
	If      Slot
	IfSrc   TrigSrc
	Then    Slot
	Allowed TrigSrc
}

// BoundFunc returns the inclusive range of valid arguments for a slot of cmd.
// It is only consulted for sources other than NOW, FOLLOW and NONE, whose
// argument is always 0
type BoundFunc func(cmd *Command, slot Slot) (lo, hi uint32)

// CommandSpec is what a chip declares about the commands it accepts
type CommandSpec struct {
	// Mask lists, per slot, the sources the subdevice supports
	Mask Command

	// Composable marks slots which may select several sources at once
	Composable [NumSlots]bool

	// Conflicts are chip-declared incompatible source combinations,
	// checked after the generic ones
	Conflicts []Conflict

	// Bound gives the argument ranges, DefaultBound if nil
	Bound BoundFunc
}

// genericConflicts hold for every subdevice: a slot which follows another
// needs the other one to drive the timing
var genericConflicts = []Conflict{
	{If: SlotScanBegin, IfSrc: TrigFollow, Then: SlotConvert, Allowed: TrigTimer | TrigExt},
	{If: SlotConvert, IfSrc: TrigFollow, Then: SlotScanBegin, Allowed: TrigTimer | TrigExt | TrigExtRearm},
}

// DefaultBound is the argument range used when a chip declares none.
// A scan ends after one conversion per channel of the chanlist, stop counts
// and timer periods must be non-zero
func DefaultBound(cmd *Command, slot Slot) (lo, hi uint32) {
	t := cmd.Slot(slot)
	switch {
	case slot == SlotScanEnd && t.Src == TrigCount:
		n := uint32(len(cmd.Chans))
		if n == 0 {
			n = 1
		}
		return n, n
	case t.Src == TrigCount, t.Src == TrigTimer:
		return 1, math.MaxUint32
	default:
		return 0, math.MaxUint32
	}
}

// Check validates cmd against the mask, conflicts and bounds.  It returns
// cmd and nil when it is accepted, otherwise the corrected command and a
// *RejectError.  Every violation is corrected in one call, so the corrected
// command is accepted when resubmitted unless the mask itself makes the
// conflict unavoidable, in which case the same correction is returned again
func (spec *CommandSpec) Check(cmd Command) (Command, error) {
	out := cmd.clone()
	var rej *RejectError
	note := func(st Stage, sl Slot) {
		if rej == nil {
			rej = &RejectError{Stage: st, Slot: sl}
		}
	}

	// 1. every source must be one the subdevice allows
	for sl := SlotStart; sl < NumSlots; sl++ {
		t := out.Slot(sl)
		allowed := spec.Mask.Slot(sl).Src
		if t.Src == 0 || t.Src&^allowed != 0 {
			note(StageSources, sl)
			if masked := t.Src & allowed; masked != 0 {
				t.Src = masked
			} else {
				t.Src = allowed
			}
		}
	}

	// 2. one source per slot
	for sl := SlotStart; sl < NumSlots; sl++ {
		t := out.Slot(sl)
		if !spec.Composable[sl] && t.Src != 0 && !t.Src.single() {
			note(StageSingleSource, sl)
			t.Src = t.Src.lowest()
		}
	}

	// 3. cross-slot consistency, until no rule forces a change
	conflicts := make([]Conflict, 0, len(genericConflicts)+len(spec.Conflicts))
	conflicts = append(conflicts, genericConflicts...)
	conflicts = append(conflicts, spec.Conflicts...)
	for pass := 0; pass <= len(conflicts); pass++ {
		changed := false
		for _, c := range conflicts {
			if out.Slot(c.If).Src&c.IfSrc == 0 {
				continue
			}
			dep := out.Slot(c.Then)
			if dep.Src&c.Allowed != 0 {
				continue
			}
			note(StageConsistency, c.Then)
			if candidates := spec.Mask.Slot(c.Then).Src & c.Allowed; candidates != 0 {
				dep.Src = candidates.lowest()
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	// 4. arguments
	bound := spec.Bound
	if bound == nil {
		bound = DefaultBound
	}
	for sl := SlotStart; sl < NumSlots; sl++ {
		t := out.Slot(sl)
		if t.Src&^(TrigNow|TrigFollow|TrigNone) == 0 {
			if t.Arg != 0 {
				note(StageArguments, sl)
				t.Arg = 0
			}
			continue
		}
		lo, hi := bound(&out, sl)
		if hi < lo {
			hi = lo
		}
		switch {
		case t.Arg < lo:
			note(StageArguments, sl)
			t.Arg = lo
		case t.Arg > hi:
			note(StageArguments, sl)
			t.Arg = hi
		}
	}

	if rej == nil {
		return cmd, nil
	}
	rej.Corrected = out
	return out, rej
}

// Negotiate feeds the corrections of Validate back to it until the command
// is accepted or rounds are exhausted.  Errors other than rejections are
// returned at once
func Negotiate(s *Subdevice, cmd Command, rounds int) (Command, error) {
	var err error
	for i := 0; i < rounds; i++ {
		cmd, err = s.Validate(cmd)
		if err == nil {
			return cmd, nil
		}
		var rej *RejectError
		if !errors.As(err, &rej) {
			return cmd, err
		}
	}
	return cmd, err
}
