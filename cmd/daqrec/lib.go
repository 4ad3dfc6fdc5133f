package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/go-yaml/yaml"

	"github.com/nasa-jpl/rtdaq/daq"
)

// Plan describes one recording
type Plan struct {
	// Board is the name the board is attached with
	Board string `yaml:"Board"`

	// Addrs holds the I/O base address of each chip, e.g. "0x300"
	Addrs []string `yaml:"Addrs"`

	// Mock records from simulated I/O ports
	Mock bool `yaml:"Mock"`

	// PollHz is the rate the scan trigger is polled at
	PollHz float64 `yaml:"PollHz"`

	// Line is the port C line whose rising edge triggers a scan, 0 to sample
	// on every poll
	Line int `yaml:"Line"`

	// Samples is the number of samples to record
	Samples int `yaml:"Samples"`

	// Timeout is the longest the recording may take, in seconds
	Timeout float64 `yaml:"Timeout"`

	// Output is the path of the FITS file to write
	Output string `yaml:"Output"`
}

// LoadYaml converts a (path to a) yaml file into a Plan struct, on top of dflt
func LoadYaml(path string, dflt Plan) (Plan, error) {
	p := dflt
	f, err := os.Open(path)
	if err != nil {
		return p, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&p)
	return p, err
}

// Command returns the streaming command the plan asks of subdevice idx
func (p Plan) Command(idx int) daq.Command {
	return daq.Command{
		Subdev:    idx,
		Start:     daq.Trigger{Src: daq.TrigNow},
		ScanBegin: daq.Trigger{Src: daq.TrigExt, Arg: uint32(p.Line)},
		Convert:   daq.Trigger{Src: daq.TrigFollow},
		ScanEnd:   daq.Trigger{Src: daq.TrigCount, Arg: 1},
		Stop:      daq.Trigger{Src: daq.TrigCount, Arg: uint32(p.Samples)},
	}
}

// Record starts cmd on its subdevice and drains it until the end of the
// acquisition.  progress is called with the number of bytes recorded after
// every drain.  The acquisition is cancelled if ctx ends first
func Record(ctx context.Context, dev *daq.Device, cmd daq.Command, progress func(int)) ([]byte, error) {
	s, err := dev.Subdevice(cmd.Subdev)
	if err != nil {
		return nil, err
	}
	cmd, err = daq.Negotiate(s, cmd, 2)
	if err != nil {
		return nil, err
	}
	if err = dev.Start(cmd); err != nil {
		return nil, err
	}
	var out []byte
	for {
		if err := s.Wait(ctx); err != nil {
			dev.Cancel(cmd.Subdev)
			return out, err
		}
		buf, err := s.Drain(-1)
		out = append(out, buf...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if progress != nil {
			progress(len(out))
		}
	}
}
