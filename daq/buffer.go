package daq

import (
	"context"
	"io"
	"sync/atomic"
)

// Event is a set of conditions signalled by the producer along with new data
type Event uint32

const (
	// EvtData is the plain "new data is ready" notification
	EvtData Event = 0

	// EvtEOA signals the end of the acquisition
	EvtEOA Event = 1 << iota

	// EvtOverrun signals the producer outran the consumer
	EvtOverrun

	// EvtError signals the producer failed and stopped
	EvtError
)

// DefaultBufSize is the size of the ring buffer of a command-capable subdevice
const DefaultBufSize = 64 * 1024

/*Buffer is the ring that carries samples from the producer to the consumer.

There is exactly one producer (interrupt handler or polling loop) and one
consumer.  The producer appends with put and publishes with notify; neither
blocks nor allocates.  Bytes become visible to the consumer only when they
are published.  The consumer drains published bytes and may block in Wait.

Counters are monotonic and taken modulo the capacity, so the region
[rd, visible) belongs to the consumer and [wr, rd+cap) to the producer.
*/
type Buffer struct {
	data  []byte
	width uint64

	wr      atomic.Uint64 // written by the producer
	visible atomic.Uint64 // published by the producer
	rd      atomic.Uint64 // consumed by the consumer
	events  atomic.Uint32 // sticky EvtEOA / EvtOverrun / EvtError until reset
	failure atomic.Value  // error, set before EvtError is raised

	wake chan struct{}
}

func newBuffer(size, width int) *Buffer {
	if width < 1 {
		width = 1
	}
	if size < width {
		size = width
	}
	size -= size % width
	return &Buffer{
		data:  make([]byte, size),
		width: uint64(width),
		wake:  make(chan struct{}, 1),
	}
}

// Cap returns the capacity of the buffer, in bytes
func (b *Buffer) Cap() int {
	return len(b.data)
}

// SampleWidth returns the size of a sample, the unit of Drain
func (b *Buffer) SampleWidth() int {
	return int(b.width)
}

// Available returns the number of published bytes not yet drained
func (b *Buffer) Available() int {
	return int(b.visible.Load() - b.rd.Load())
}

// Overrun returns true if the producer outran the consumer since the last reset
func (b *Buffer) Overrun() bool {
	return Event(b.events.Load())&EvtOverrun != 0
}

// put appends p and returns the number of bytes written.  If p does not fit,
// as much as fits is written and ErrOverrun is returned.
func (b *Buffer) put(p []byte) (int, error) {
	w := b.wr.Load()
	free := uint64(len(b.data)) - (w - b.rd.Load())
	n := uint64(len(p))
	var err error
	if n > free {
		n = free
		err = ErrOverrun
	}
	off := w % uint64(len(b.data))
	first := copy(b.data[off:], p[:n])
	copy(b.data, p[first:n])
	b.wr.Store(w + n)
	return int(n), err
}

// notify publishes everything put so far, records evt and wakes the consumer
func (b *Buffer) notify(evt Event) {
	b.visible.Store(b.wr.Load())
	if evt != EvtData {
		b.events.Or(uint32(evt))
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// discard drops bytes put but never published.  Only valid once the
// producer is stopped
func (b *Buffer) discard() {
	b.wr.Store(b.visible.Load())
}

// reset empties the buffer and clears sticky events.  Only valid once the
// producer is stopped
func (b *Buffer) reset() {
	b.wr.Store(0)
	b.visible.Store(0)
	b.rd.Store(0)
	b.events.Store(0)
	b.failure.Store(failure{})
	select {
	case <-b.wake:
	default:
	}
}

// fail records why the producer stopped and raises EvtError
func (b *Buffer) fail(err error) {
	b.failure.Store(failure{err})
	b.notify(EvtError)
}

type failure struct{ err error }

// Drain returns up to max published bytes, rounded down to whole samples.
// The bytes returned are consumed.  Once the acquisition has ended and no
// whole sample is left, io.EOF is returned.  After an overrun every call
// returns ErrOverrun until the next acquisition starts, after a producer
// failure every call returns the failure
func (b *Buffer) Drain(max int) ([]byte, error) {
	return b.drain(max, b.width)
}

// DrainRaw is Drain without the sample alignment
func (b *Buffer) DrainRaw(max int) ([]byte, error) {
	return b.drain(max, 1)
}

func (b *Buffer) drain(max int, align uint64) ([]byte, error) {
	// events before visible: EOA is raised after its data is published
	evt := Event(b.events.Load())
	if evt&EvtOverrun != 0 {
		return nil, ErrOverrun
	}
	if evt&EvtError != 0 {
		if f, ok := b.failure.Load().(failure); ok {
			return nil, f.err
		}
		return nil, ErrIO
	}
	r := b.rd.Load()
	avail := b.visible.Load() - r
	n := avail
	if max >= 0 && uint64(max) < n {
		n = uint64(max)
	}
	n -= n % align
	if n == 0 {
		if evt&EvtEOA != 0 && avail < align {
			return nil, io.EOF
		}
		return nil, nil
	}
	out := make([]byte, n)
	off := r % uint64(len(b.data))
	first := copy(out, b.data[off:])
	copy(out[first:], b.data)
	b.rd.Store(r + n)
	return out, nil
}

// Wait blocks until published data is available, the acquisition ended,
// an overrun occured, or ctx is done
func (b *Buffer) Wait(ctx context.Context) error {
	for {
		if b.Available() >= int(b.width) || b.events.Load() != 0 {
			return nil
		}
		select {
		case <-b.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
