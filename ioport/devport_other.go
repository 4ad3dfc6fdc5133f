//go:build !linux

package ioport

// DevPort is unavailable outside of Linux
type DevPort struct {
	Regions
}

// OpenDevPort always fails with ErrNotSupported
func OpenDevPort() (*DevPort, error) {
	return nil, ErrNotSupported
}

// Inb always fails with ErrNotSupported
func (d *DevPort) Inb(addr uint64) (byte, error) {
	return 0, ErrNotSupported
}

// Outb always fails with ErrNotSupported
func (d *DevPort) Outb(addr uint64, v byte) error {
	return ErrNotSupported
}

// Close is a no-op
func (d *DevPort) Close() error {
	return nil
}
