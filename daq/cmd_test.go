package daq

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireReject(t *testing.T, err error) *RejectError {
	t.Helper()
	require.ErrorIs(t, err, ErrRejected)
	var rej *RejectError
	require.True(t, errors.As(err, &rej))
	return rej
}

func TestCheckAcceptsValidCommand(t *testing.T) {
	cmd := streamCmd(0, Pack(0, 0, RefGround))
	out, err := streamSpec.Check(cmd)
	require.NoError(t, err)
	assert.True(t, out.Equal(cmd))
}

func TestCheckCorrectsIllegalSource(t *testing.T) {
	cmd := streamCmd(0, Pack(0, 0, RefGround))
	cmd.Start.Src = TrigTimer

	out, err := streamSpec.Check(cmd)
	rej := requireReject(t, err)
	assert.Equal(t, StageSources, rej.Stage)
	assert.Equal(t, SlotStart, rej.Slot)
	assert.Equal(t, TrigNow, out.Start.Src)
	assert.Equal(t, TrigTimer, cmd.Start.Src, "input must not be mutated")

	_, err = streamSpec.Check(out)
	assert.NoError(t, err)
}

func TestCheckClampsScanEndToChanlist(t *testing.T) {
	cmd := streamCmd(0, Pack(0, 0, RefGround))
	cmd.ScanEnd.Arg = 5

	out, err := streamSpec.Check(cmd)
	rej := requireReject(t, err)
	assert.Equal(t, StageArguments, rej.Stage)
	assert.Equal(t, SlotScanEnd, rej.Slot)
	assert.EqualValues(t, 1, out.ScanEnd.Arg)

	_, err = streamSpec.Check(out)
	assert.NoError(t, err)
}

func TestCheckReportsFirstStage(t *testing.T) {
	cmd := streamCmd(0, Pack(0, 0, RefGround))
	cmd.Start.Src = TrigExt
	cmd.ScanEnd.Arg = 9

	out, err := streamSpec.Check(cmd)
	rej := requireReject(t, err)
	assert.Equal(t, StageSources, rej.Stage)
	assert.Equal(t, TrigNow, out.Start.Src)
	assert.EqualValues(t, 1, out.ScanEnd.Arg, "later stages are corrected in the same call")
	assert.True(t, rej.Corrected.Equal(out))
}

func TestCheckSingleSource(t *testing.T) {
	spec := streamSpec
	spec.Mask.ScanBegin.Src = TrigTimer | TrigExt
	cmd := streamCmd(0, Pack(0, 0, RefGround))
	cmd.ScanBegin.Src = TrigTimer | TrigExt

	out, err := spec.Check(cmd)
	rej := requireReject(t, err)
	assert.Equal(t, StageSingleSource, rej.Stage)
	assert.Equal(t, SlotScanBegin, rej.Slot)
	assert.Equal(t, TrigTimer, out.ScanBegin.Src)
	assert.EqualValues(t, 1, out.ScanBegin.Arg, "timer period must be non-zero")

	spec.Composable[SlotScanBegin] = true
	_, err = spec.Check(cmd)
	assert.NotErrorIs(t, err, ErrRejected, "composable slots may select several sources")
}

func TestCheckCrossSlotConsistency(t *testing.T) {
	spec := CommandSpec{Mask: Command{
		Start:     Trigger{Src: TrigNow},
		ScanBegin: Trigger{Src: TrigFollow | TrigTimer},
		Convert:   Trigger{Src: TrigFollow | TrigTimer},
		ScanEnd:   Trigger{Src: TrigCount},
		Stop:      Trigger{Src: TrigNone},
	}}
	cmd := Command{
		Start:     Trigger{Src: TrigNow},
		ScanBegin: Trigger{Src: TrigFollow},
		Convert:   Trigger{Src: TrigFollow},
		ScanEnd:   Trigger{Src: TrigCount, Arg: 1},
		Stop:      Trigger{Src: TrigNone},
		Chans:     []ChanRef{Pack(0, 0, RefGround)},
	}

	out, err := spec.Check(cmd)
	rej := requireReject(t, err)
	assert.Equal(t, StageConsistency, rej.Stage)
	assert.Equal(t, SlotConvert, rej.Slot)
	assert.Equal(t, TrigTimer, out.Convert.Src)

	_, err = spec.Check(out)
	assert.NoError(t, err)
}

func TestCheckChipConflicts(t *testing.T) {
	spec := streamSpec
	spec.Mask.ScanBegin.Src = TrigExt | TrigTimer
	spec.Conflicts = []Conflict{{If: SlotStop, IfSrc: TrigCount, Then: SlotScanBegin, Allowed: TrigTimer}}
	cmd := streamCmd(0, Pack(0, 0, RefGround))
	cmd.Stop = Trigger{Src: TrigCount, Arg: 10}

	out, err := spec.Check(cmd)
	rej := requireReject(t, err)
	assert.Equal(t, StageConsistency, rej.Stage)
	assert.Equal(t, TrigTimer, out.ScanBegin.Src)
}

func TestCheckZeroesArgsOfUntimedSources(t *testing.T) {
	cmd := streamCmd(0, Pack(0, 0, RefGround))
	cmd.Start.Arg = 42
	out, err := streamSpec.Check(cmd)
	rej := requireReject(t, err)
	assert.Equal(t, StageArguments, rej.Stage)
	assert.Zero(t, out.Start.Arg)
}

// a corrected command is either accepted or corrected to itself
func TestCheckIsIdempotent(t *testing.T) {
	all := TrigNone | TrigNow | TrigFollow | TrigTimer | TrigCount | TrigExt | TrigExtRearm
	spec := CommandSpec{Mask: Command{
		Start:     Trigger{Src: TrigNow | TrigExt},
		ScanBegin: Trigger{Src: TrigFollow | TrigTimer | TrigExt},
		Convert:   Trigger{Src: TrigFollow | TrigTimer | TrigNow},
		ScanEnd:   Trigger{Src: TrigCount},
		Stop:      Trigger{Src: TrigNone | TrigCount},
	}}
	rng := rand.New(rand.NewSource(8255))
	for i := 0; i < 2000; i++ {
		var cmd Command
		for sl := SlotStart; sl < NumSlots; sl++ {
			*cmd.Slot(sl) = Trigger{Src: TrigSrc(rng.Uint32()) & all, Arg: uint32(rng.Intn(4))}
		}
		for n := rng.Intn(4); n > 0; n-- {
			cmd.Chans = append(cmd.Chans, Pack(rng.Intn(8), 0, RefGround))
		}
		once, _ := spec.Check(cmd)
		twice, err := spec.Check(once)
		if err != nil {
			require.True(t, twice.Equal(once), "command %+v corrected to %+v then %+v", cmd, once, twice)
		}
	}
}

func TestTrigSrcText(t *testing.T) {
	src, err := ParseTrigSrc("ext|Timer")
	require.NoError(t, err)
	assert.Equal(t, TrigExt|TrigTimer, src)
	assert.Equal(t, "timer|ext", src.String())

	_, err = ParseTrigSrc("sometimes")
	assert.Error(t, err)
}

func TestNegotiateConverges(t *testing.T) {
	_, s := newStreaming(t, 64, &echoChip{})
	cmd := streamCmd(0, s.ChanDesc().Ref(0), s.ChanDesc().Ref(1))
	cmd.Start.Src = TrigTimer
	cmd.ScanEnd.Arg = 0

	out, err := Negotiate(s, cmd, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, out.ScanEnd.Arg)
	assert.Equal(t, TrigNow, out.Start.Src)
}

func TestValidateChecksChanlist(t *testing.T) {
	_, s := newStreaming(t, 64, &echoChip{})
	cmd := streamCmd(0, Pack(16, 0, RefGround))
	_, err := s.Validate(cmd)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestValidateWithoutCommandSupport(t *testing.T) {
	s := newDIO(t, 8, &echoChip{})
	_, err := s.Validate(streamCmd(0))
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, s.Start(streamCmd(0)), ErrUnsupported)
}
