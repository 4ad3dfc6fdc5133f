package ioport

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
)

// DevPortPath is the character device giving access to port space
const DevPortPath = "/dev/port"

// ProcIOPorts lists the port regions claimed by kernel drivers
const ProcIOPorts = "/proc/ioports"

// DevPort is the port space of the machine, through /dev/port.  Reservations
// are refused if they overlap a region of ProcIOPorts or one reserved in
// this process
type DevPort struct {
	Regions

	fd int
}

// OpenDevPort opens DevPortPath.  Transient failures (the device is busy or
// the call was interrupted) are retried for a few seconds
func OpenDevPort() (*DevPort, error) {
	fd := -1
	op := func() error {
		var err error
		fd, err = unix.Open(DevPortPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", DevPortPath, err)
	}
	return &DevPort{fd: fd}, nil
}

// Request reserves n ports starting at base for owner
func (d *DevPort) Request(base uint64, n int, owner string) error {
	claimed, err := readProcIOPorts(ProcIOPorts)
	if err == nil {
		for _, r := range claimed {
			if r.overlaps(base, n) {
				return fmt.Errorf("%w: %#x+%d overlaps %s", ErrBusy, base, n, r)
			}
		}
	}
	return d.Regions.Request(base, n, owner)
}

// Inb reads the byte at port addr
func (d *DevPort) Inb(addr uint64) (byte, error) {
	if !d.Reserved(addr) {
		return 0, fmt.Errorf("%w: inb %#x", ErrNotReserved, addr)
	}
	var buf [1]byte
	if _, err := unix.Pread(d.fd, buf[:], int64(addr)); err != nil {
		return 0, fmt.Errorf("inb %#x: %w", addr, err)
	}
	return buf[0], nil
}

// Outb writes the byte v to port addr
func (d *DevPort) Outb(addr uint64, v byte) error {
	if !d.Reserved(addr) {
		return fmt.Errorf("%w: outb %#x", ErrNotReserved, addr)
	}
	buf := [1]byte{v}
	if _, err := unix.Pwrite(d.fd, buf[:], int64(addr)); err != nil {
		return fmt.Errorf("outb %#x: %w", addr, err)
	}
	return nil
}

// Close closes the device
func (d *DevPort) Close() error {
	return unix.Close(d.fd)
}
