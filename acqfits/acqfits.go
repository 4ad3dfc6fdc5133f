// Package acqfits records drained acquisition samples as FITS images.
package acqfits

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/rtdaq/daq"
)

// Header returns the cards describing an acquisition
func Header(desc daq.Descriptor, cmd daq.Command, runID string) []fitsio.Card {
	return []fitsio.Card{
		{Name: "BOARD", Value: desc.BoardName, Comment: "board name"},
		{Name: "DRIVER", Value: desc.Driver, Comment: "driver name"},
		{Name: "SUBDEV", Value: cmd.Subdev, Comment: "subdevice index"},
		{Name: "RUNID", Value: runID, Comment: "acquisition run identifier"},
		{Name: "SCANSRC", Value: cmd.ScanBegin.Src.String(), Comment: "scan begin trigger"},
		{Name: "SCANARG", Value: int(cmd.ScanBegin.Arg), Comment: "scan begin argument"},
		{Name: "SCANLEN", Value: int(cmd.ScanEnd.Arg), Comment: "samples per scan"},
		{Name: "STOPSRC", Value: cmd.Stop.Src.String(), Comment: "stop trigger"},
		{Name: "STOPARG", Value: int(cmd.Stop.Arg), Comment: "stop argument"},
		{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05"), Comment: "file creation date (UTC)"},
	}
}

// WriteSamples streams a FITS image of little-endian samples to w.  raw holds
// whole samples of width bytes, 2 or 4; scanLen samples form one image row
// (1 for a flat series).  Samples are unsigned and stored with the usual BZERO
// offset
func WriteSamples(w io.Writer, metadata []fitsio.Card, raw []byte, width, scanLen int) error {
	if width != 2 && width != 4 {
		return fmt.Errorf("acqfits: unsupported sample width %d", width)
	}
	if scanLen < 1 {
		scanLen = 1
	}
	n := len(raw) / width
	rows := n / scanLen
	if rows == 0 {
		return fmt.Errorf("acqfits: %d samples do not fill one scan of %d", n, scanLen)
	}
	n = rows * scanLen

	dims := []int{scanLen, rows}
	if scanLen == 1 {
		dims = []int{n}
	}
	var bzero interface{} = 32768
	if width == 4 {
		bzero = 2147483648.0
	}
	metadata = append(metadata,
		fitsio.Card{Name: "BZERO", Value: bzero},
		fitsio.Card{Name: "BSCALE", Value: 1.0},
		fitsio.Card{Name: "NSAMPLES", Value: n, Comment: "number of samples"})

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(8*width, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	if width == 2 {
		ints := make([]int16, n)
		for i := range ints {
			ints[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]) - 32768)
		}
		err = im.Write(ints)
	} else {
		ints := make([]int32, n)
		for i := range ints {
			ints[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]) - 2147483648)
		}
		err = im.Write(ints)
	}
	if err != nil {
		return err
	}
	return fits.Write(im)
}
