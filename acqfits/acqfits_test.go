package acqfits

import (
	"bytes"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/rtdaq/daq"
)

func TestWriteSamplesRoundTrip(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x34, 0x12, 0xff, 0xff, 0x00, 0x80}
	desc := daq.Descriptor{BoardName: "pio", Driver: "8255"}
	cmd := daq.Command{Subdev: 1, ScanEnd: daq.Trigger{Src: daq.TrigCount, Arg: 1}}

	var buf bytes.Buffer
	require.NoError(t, WriteSamples(&buf, Header(desc, cmd, "run-1"), raw, 2, 1))

	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	img, ok := f.HDU(0).(fitsio.Image)
	require.True(t, ok)
	assert.Equal(t, []int{4}, img.Header().Axes())

	card := img.Header().Get("BOARD")
	require.NotNil(t, card)
	assert.Equal(t, "pio", card.Value)

	data := make([]int16, 4)
	require.NoError(t, img.Read(&data))
	assert.Equal(t, []int16{-32768, 0x1234 - 32768, 32767, 0}, data)
}

func TestWriteSamplesRows(t *testing.T) {
	raw := make([]byte, 2*6+1)
	var buf bytes.Buffer
	require.NoError(t, WriteSamples(&buf, nil, raw, 2, 3))

	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []int{3, 2}, f.HDU(0).Header().Axes())
}

func TestWriteSamplesRejects(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteSamples(&buf, nil, []byte{1, 2, 3}, 3, 1))
	assert.Error(t, WriteSamples(&buf, nil, []byte{1}, 2, 1))
}
