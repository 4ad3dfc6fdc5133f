package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/rtdaq/daq"
	"github.com/nasa-jpl/rtdaq/intel/i8255"
	"github.com/nasa-jpl/rtdaq/ioport"
)

func TestLoadYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yml")
	require.NoError(t, os.WriteFile(path, []byte("Addrs: [\"0x310\"]\nSamples: 20\nLine: 3\n"), 0o644))

	p, err := LoadYaml(path, Plan{Board: "pio", PollHz: 1000, Samples: 1})
	require.NoError(t, err)
	assert.Equal(t, Plan{Board: "pio", Addrs: []string{"0x310"}, PollHz: 1000, Samples: 20, Line: 3}, p)

	cmd := p.Command(0)
	assert.EqualValues(t, 3, cmd.ScanBegin.Arg)
	assert.EqualValues(t, 20, cmd.Stop.Arg)

	_, err = LoadYaml(filepath.Join(t.TempDir(), "missing.yml"), p)
	assert.Error(t, err)
}

func TestRecord(t *testing.T) {
	sim := ioport.NewSim()
	sim.Set(0x300, 0x2a)
	reg := daq.NewRegistry()
	require.NoError(t, reg.Register(i8255.NewDriver(i8255.Config{Space: sim, PollHz: 2000})))
	dev, err := reg.Attach(i8255.DriverName, daq.LinkDesc{Opts: []uint64{0x300}})
	require.NoError(t, err)
	defer reg.Detach(dev)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var last int
	raw, err := Record(ctx, dev, Plan{Samples: 5}.Command(0), func(n int) { last = n })
	require.NoError(t, err)
	require.Len(t, raw, 10)
	assert.Equal(t, 10, last)
	for i := 0; i < len(raw); i += 2 {
		assert.Equal(t, []byte{0x2a, 0}, raw[i:i+2])
	}
}

func TestRecordTimeout(t *testing.T) {
	reg := daq.NewRegistry()
	require.NoError(t, reg.Register(i8255.NewDriver(i8255.Config{Space: ioport.NewSim(), PollHz: 2000})))
	dev, err := reg.Attach(i8255.DriverName, daq.LinkDesc{Opts: []uint64{0x300}})
	require.NoError(t, err)
	defer reg.Detach(dev)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// port C line 1 never rises on the simulated board
	_, err = Record(ctx, dev, Plan{Samples: 5, Line: 1}.Command(0), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	s, _ := dev.Subdevice(0)
	assert.False(t, s.Running(), "a timed out recording is cancelled")
}
