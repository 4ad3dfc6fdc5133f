package daq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackRoundTripsFields(t *testing.T) {
	ref := Pack(1234, 7, RefDiff)
	assert.Equal(t, 1234, ref.Chan())
	assert.Equal(t, 7, ref.Range())
	assert.Equal(t, RefDiff, ref.Aref())
	assert.False(t, ref.PerChan())
}

func TestResolveGlobal(t *testing.T) {
	d := globalDesc(24, 2)
	require.NoError(t, d.Check())

	ch, err := d.Resolve(d.Ref(23))
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Width)

	_, err = d.Resolve(Pack(24, 0, RefGround))
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = d.Resolve(Pack(0, 0, RefGround) | CRPerChan)
	assert.ErrorIs(t, err, ErrInvalidChannel, "per-channel qualifier on a global descriptor")
}

func TestResolvePerChannel(t *testing.T) {
	d := ChanDesc{Mode: ChanPerChannel, Length: 2, Chans: []Channel{
		{Ref: RefGround, Width: 2},
		{Ref: RefDiff, Width: 4},
	}}
	require.NoError(t, d.Check())

	ref := d.Ref(1)
	assert.True(t, ref.PerChan())
	assert.Equal(t, RefDiff, ref.Aref())
	ch, err := d.Resolve(ref)
	require.NoError(t, err)
	assert.Equal(t, 4, ch.Width)
	assert.Equal(t, 4, d.SampleWidth())

	_, err = d.Resolve(Pack(1, 0, RefDiff))
	assert.ErrorIs(t, err, ErrInvalidChannel, "missing per-channel qualifier")
}

func TestCheckRejectsMalformedDescriptors(t *testing.T) {
	cases := map[string]ChanDesc{
		"no channels":        {Mode: ChanGlobal, Length: 0, Chans: []Channel{{Width: 1}}},
		"global two entries": {Mode: ChanGlobal, Length: 4, Chans: []Channel{{Width: 1}, {Width: 1}}},
		"per-chan short":     {Mode: ChanPerChannel, Length: 3, Chans: []Channel{{Width: 1}}},
		"zero width":         {Mode: ChanGlobal, Length: 1, Chans: []Channel{{Width: 0}}},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, d.Check(), ErrInvalidChannel)
		})
	}
}
