/*Package ioport provides access to x86 I/O port space and the bookkeeping of
which driver owns which port region.

Two spaces are provided: DevPort, backed by the Linux /dev/port character
device, and Sim, an in-memory space used for tests and for running servers
without hardware.  Both reserve regions through the same Regions table, so a
second driver asking for a region that overlaps an existing one is refused
with ErrBusy, as the kernel's request_region would.
*/
package ioport

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrBusy is generated when a region overlaps one that is already reserved
	ErrBusy = errors.New("I/O port region busy")

	// ErrNotReserved is generated when accessing a port outside of any reserved region
	ErrNotReserved = errors.New("I/O port not reserved")

	// ErrNotSupported is generated on platforms without port access
	ErrNotSupported = errors.New("I/O port access not supported on this platform")
)

// Space is an I/O port address space
type Space interface {
	// Request reserves n ports starting at base for owner
	Request(base uint64, n int, owner string) error

	// Release frees a region previously reserved with Request
	Release(base uint64, n int)

	// Inb reads the byte at port addr
	Inb(addr uint64) (byte, error)

	// Outb writes the byte v to port addr
	Outb(addr uint64, v byte) error
}

// Region is a reserved span of ports
type Region struct {
	Base  uint64 `json:"base"`
	N     int    `json:"n"`
	Owner string `json:"owner"`
}

func (r Region) end() uint64 {
	return r.Base + uint64(r.N)
}

func (r Region) overlaps(base uint64, n int) bool {
	return base < r.end() && r.Base < base+uint64(n)
}

func (r Region) String() string {
	return fmt.Sprintf("%#04x-%#04x : %s", r.Base, r.end()-1, r.Owner)
}

// Regions is a table of reservations.  The zero value is empty and ready to use
type Regions struct {
	mu   sync.Mutex
	held []Region
}

// Request reserves n ports starting at base for owner
func (r *Regions) Request(base uint64, n int, owner string) error {
	if n <= 0 {
		return fmt.Errorf("ioport: invalid region size %d", n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.held {
		if h.overlaps(base, n) {
			return fmt.Errorf("%w: %#x+%d overlaps %s", ErrBusy, base, n, h)
		}
	}
	r.held = append(r.held, Region{Base: base, N: n, Owner: owner})
	return nil
}

// Release frees the region reserved at base with size n.  Unknown regions are ignored
func (r *Regions) Release(base uint64, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.held {
		if h.Base == base && h.N == n {
			r.held = append(r.held[:i], r.held[i+1:]...)
			return
		}
	}
}

// Reserved returns true if addr falls in a reserved region
func (r *Regions) Reserved(addr uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.held {
		if h.overlaps(addr, 1) {
			return true
		}
	}
	return false
}

// Held returns the reserved regions, sorted by base address
func (r *Regions) Held() []Region {
	r.mu.Lock()
	out := append([]Region(nil), r.held...)
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

// Accessor reads (write=false) or writes (write=true) the register at
// offset port of a chip's register window.  Reads return the value read,
// writes return v
type Accessor func(write bool, port int, v byte) (byte, error)

// Window returns the Accessor of the register window starting at base
func Window(sp Space, base uint64) Accessor {
	return func(write bool, port int, v byte) (byte, error) {
		addr := base + uint64(port)
		if write {
			return v, sp.Outb(addr, v)
		}
		return sp.Inb(addr)
	}
}
