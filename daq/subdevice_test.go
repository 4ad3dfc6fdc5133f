package daq

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTwiceIsAlreadyRunning(t *testing.T) {
	chip := &armingChip{}
	_, s := newStreaming(t, 64, chip)
	cmd := streamCmd(0, s.ChanDesc().Ref(0))

	require.NoError(t, s.Start(cmd))
	assert.True(t, s.Running())
	assert.Equal(t, 1, chip.armed)
	assert.ErrorIs(t, s.Start(cmd), ErrAlreadyRunning)
	assert.Equal(t, 1, chip.armed)

	require.NoError(t, s.Cancel())
	assert.False(t, s.Running())
	assert.Equal(t, 2, chip.disarmed, "one before arming, one on cancel")
	require.NoError(t, s.Cancel(), "cancelling an idle subdevice is a no-op")
	assert.False(t, s.Running())
}

func TestRestartDisarmsBeforeReset(t *testing.T) {
	chip := &armingChip{}
	_, s := newStreaming(t, 64, chip)
	cmd := streamCmd(0, s.ChanDesc().Ref(0))
	cmd.Stop = Trigger{Src: TrigCount, Arg: 1}

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Start(cmd))
		_, err := s.Put([]byte{byte(i), 0, 9, 9})
		require.NoError(t, err)
		assert.False(t, s.Running(), "the stop count ends the acquisition")
		// the producer is left between Put and Notify when the next Start comes
	}
	assert.Equal(t, []string{"disarm", "arm", "disarm", "arm", "disarm", "arm"}, chip.calls)

	s.Notify(EvtData)
	out, err := s.Drain(100)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0}, out, "only the last acquisition is visible")
	_, err = s.Drain(100)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEndOfAcquisitionIsSetBeforeIdle(t *testing.T) {
	_, s := newStreaming(t, 64, &echoChip{})
	cmd := streamCmd(0, s.ChanDesc().Ref(0))
	cmd.Stop = Trigger{Src: TrigCount, Arg: 1}
	require.NoError(t, s.Start(cmd))

	_, err := s.Put([]byte{1, 0})
	require.NoError(t, err)
	require.False(t, s.Running())
	assert.True(t, s.eoaPending, "a consumer seeing idle also sees the pending end")
}

func TestStartRejectedCommandStaysIdle(t *testing.T) {
	_, s := newStreaming(t, 64, &armingChip{})
	cmd := streamCmd(0, s.ChanDesc().Ref(0))
	cmd.ScanEnd.Arg = 3
	assert.ErrorIs(t, s.Start(cmd), ErrRejected)
	assert.Equal(t, StateIdle, s.State())
}

func TestStartArmFailureRevertsToIdle(t *testing.T) {
	chip := &armingChip{armErr: errors.New("no irq")}
	_, s := newStreaming(t, 64, chip)
	err := s.Start(streamCmd(0, s.ChanDesc().Ref(0)))
	assert.Error(t, err)
	assert.False(t, s.Running())
}

func TestUnusedSubdeviceRejectsEverything(t *testing.T) {
	s := NewUnusedSubdevice()
	assert.True(t, s.Unused())
	insn := Instruction{Kind: InsnBits, Data: []uint32{0, 0}}
	assert.ErrorIs(t, s.Do(&insn), ErrResourceUnavailable)
	_, err := s.Validate(streamCmd(0))
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.ErrorIs(t, s.Start(streamCmd(0)), ErrResourceUnavailable)
	assert.ErrorIs(t, s.Cancel(), ErrResourceUnavailable)
}

func TestOverrunCancelsAcquisition(t *testing.T) {
	_, s := newStreaming(t, 8, &echoChip{})
	cmd := streamCmd(0, s.ChanDesc().Ref(0))
	require.NoError(t, s.Start(cmd))

	n, err := s.Put(make([]byte, 10))
	assert.ErrorIs(t, err, ErrOverrun)
	assert.Equal(t, 8, n)
	assert.False(t, s.Running())

	_, err = s.Drain(100)
	assert.ErrorIs(t, err, ErrOverrun)
	_, err = s.Put([]byte{1, 2})
	assert.ErrorIs(t, err, ErrNotRunning)

	// the next acquisition starts from an empty buffer
	require.NoError(t, s.Start(cmd))
	out, err := s.Drain(100)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStopCountEndsAcquisition(t *testing.T) {
	_, s := newStreaming(t, 64, &echoChip{})
	cmd := streamCmd(0, s.ChanDesc().Ref(0))
	cmd.Stop = Trigger{Src: TrigCount, Arg: 2}
	require.NoError(t, s.Start(cmd))

	n, err := s.Put([]byte{1, 0, 2, 0, 3, 0})
	require.NoError(t, err)
	assert.Equal(t, 4, n, "two scans of one 2-byte sample")
	assert.False(t, s.Running())

	out, err := s.Drain(100)
	require.NoError(t, err)
	assert.Empty(t, out, "nothing visible before notify")

	s.Notify(EvtData)
	out, err = s.Drain(100)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, out)
	_, err = s.Drain(100)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCancelKeepsPublishedData(t *testing.T) {
	_, s := newStreaming(t, 64, &armingChip{})
	require.NoError(t, s.Start(streamCmd(0, s.ChanDesc().Ref(0))))

	_, err := s.Put([]byte{7, 0})
	require.NoError(t, err)
	s.Notify(EvtData)
	_, err = s.Put([]byte{8, 0})
	require.NoError(t, err)
	require.NoError(t, s.Cancel())

	out, err := s.Drain(100)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0}, out, "unpublished data is dropped")
	_, err = s.Drain(100)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSubdeviceFlagsMustMatchCommandSpec(t *testing.T) {
	_, err := NewSubdevice(SubdConfig{Flags: SubdCmd, ChanDesc: globalDesc(1, 2), Chip: &echoChip{}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSubdevice(SubdConfig{Flags: SubdDIO, ChanDesc: globalDesc(33, 4), Chip: &echoChip{}})
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestProducerFailureEndsAcquisition(t *testing.T) {
	_, s := newStreaming(t, 64, &echoChip{})
	require.NoError(t, s.Start(streamCmd(0, s.ChanDesc().Ref(0))))

	s.Fail(errBus)
	assert.False(t, s.Running())
	_, err := s.Drain(100)
	assert.ErrorIs(t, err, ErrIO)

	require.NoError(t, s.Start(streamCmd(0, s.ChanDesc().Ref(0))))
	out, err := s.Drain(100)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSubdInfoJSON(t *testing.T) {
	in := SubdInfo{Index: 2, Flags: SubdDIO | SubdCmd | SubdRead, Channels: 24, State: "idle", BufSize: 64}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"dio|cmd|read"`)

	var out SubdInfo
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	var f SubdFlags
	require.NoError(t, f.UnmarshalText(nil))
	assert.Zero(t, f)
	assert.ErrorIs(t, f.UnmarshalText([]byte("dio|bogus")), ErrInvalidConfig)
}
