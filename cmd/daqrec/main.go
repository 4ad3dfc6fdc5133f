// Command daqrec records a streaming acquisition of an 8255 board to a FITS file
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/rtdaq/acqfits"
	"github.com/nasa-jpl/rtdaq/daq"
	"github.com/nasa-jpl/rtdaq/intel/i8255"
	"github.com/nasa-jpl/rtdaq/ioport"
	"github.com/nasa-jpl/rtdaq/util"
)

func main() {
	dflt := Plan{Board: "pio", Addrs: []string{"0x300"}, PollHz: 1000, Samples: 1000, Timeout: 60, Output: "daqrec.fits"}
	var (
		plan  = flag.String("plan", "", "yaml file describing the recording, flags override it")
		addrs = flag.String("addr", "", "comma separated I/O base addresses of the chips")
		mock  = flag.Bool("mock", false, "record from simulated I/O ports")
		hz    = flag.Float64("poll", 0, "scan trigger poll rate, Hz")
		line  = flag.Int("line", -1, "port C trigger line, 0 samples on every poll")
		n     = flag.Int("n", 0, "number of samples")
		out   = flag.String("o", "", "output FITS file")
	)
	flag.Parse()

	p := dflt
	if *plan != "" {
		var err error
		p, err = LoadYaml(*plan, dflt)
		if err != nil {
			log.Fatal(err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			p.Addrs = strings.Split(*addrs, ",")
		case "mock":
			p.Mock = *mock
		case "poll":
			p.PollHz = *hz
		case "line":
			p.Line = *line
		case "n":
			p.Samples = *n
		case "o":
			p.Output = *out
		}
	})
	if p.Samples <= 0 || p.PollHz <= 0 {
		log.Fatal("the number of samples and the poll rate must be positive")
	}

	opts, err := util.ParseAddrs(p.Addrs)
	if err != nil {
		log.Fatal(err)
	}
	var space ioport.Space
	if p.Mock {
		space = ioport.NewSim()
	} else {
		dp, err := ioport.OpenDevPort()
		if err != nil {
			log.Fatal(err)
		}
		defer dp.Close()
		space = dp
	}
	if err := daq.Register(i8255.NewDriver(i8255.Config{Space: space, PollHz: p.PollHz})); err != nil {
		log.Fatal(err)
	}
	dev, err := daq.Attach(i8255.DriverName, daq.LinkDesc{BoardName: p.Board, Opts: opts})
	if err != nil {
		log.Fatal(err)
	}
	defer daq.Detach(dev)
	if dev.IdxRead() < 0 {
		log.Fatalf("no usable chip at %s", util.AddrsToCSV(opts))
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " recording",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	ctx, cancel := context.WithTimeout(context.Background(), util.SecsToDuration(p.Timeout))
	defer cancel()
	cmd := p.Command(dev.IdxRead())
	width := i8255.SampleWidth
	raw, err := Record(ctx, dev, cmd, func(nbytes int) {
		spinner.Message(fmt.Sprintf("%d/%d samples", nbytes/width, p.Samples))
	})
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		if len(raw) == 0 {
			os.Exit(1)
		}
	} else {
		spinner.StopMessage(fmt.Sprintf("%d samples", len(raw)/width))
		spinner.Stop()
	}

	f, err := os.Create(p.Output)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	active, err := dev.ActiveCommand(cmd.Subdev)
	if err != nil {
		log.Fatal(err)
	}
	hdr := acqfits.Header(dev.Descriptor(), active, uuid.New().String())
	if err := acqfits.WriteSamples(f, hdr, raw, width, 1); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %d samples to %s", len(raw)/width, p.Output)
}
