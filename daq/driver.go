package daq

import (
	"fmt"
	"sort"
	"sync"
)

// LinkDesc is what a device is attached with: a board name and the
// driver-specific options, for the 8255 the I/O base addresses
type LinkDesc struct {
	BoardName string   `json:"board_name" koanf:"board"`
	Opts      []uint64 `json:"opts" koanf:"opts"`
	BufSize   int      `json:"buf_size,omitempty" koanf:"bufsize"`
}

// Driver is a named pair of attach and detach operations
type Driver struct {
	Name string

	// Attach adds the subdevices of the board to dev
	Attach func(dev *Device, link LinkDesc) error

	// Detach releases what Attach reserved, it may be nil
	Detach func(dev *Device) error
}

type driverEntry struct {
	drv     *Driver
	devices int
}

// Registry holds the drivers devices can be attached with
type Registry struct {
	mu      sync.Mutex
	drivers map[string]*driverEntry
	closed  bool
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]*driverEntry)}
}

// Register adds a driver
func (r *Registry) Register(drv *Driver) error {
	if drv == nil || drv.Name == "" || drv.Attach == nil {
		return fmt.Errorf("%w: driver needs a name and an attach function", ErrInvalidConfig)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.drivers[drv.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDriverExists, drv.Name)
	}
	r.drivers[drv.Name] = &driverEntry{drv: drv}
	return nil
}

// Unregister removes a driver.  It fails while devices are attached with it
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drivers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchDriver, name)
	}
	if e.devices > 0 {
		return fmt.Errorf("%w: %s has %d", ErrDriverBusy, name, e.devices)
	}
	delete(r.drivers, name)
	return nil
}

// Lookup returns the driver registered under name
func (r *Registry) Lookup(name string) (*Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchDriver, name)
	}
	return e.drv, nil
}

// Drivers returns the sorted names of the registered drivers
func (r *Registry) Drivers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Attach builds a device with the named driver.  On failure the driver's
// Detach runs to release any partial reservation and no device is returned
func (r *Registry) Attach(name string, link LinkDesc) (*Device, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	e, ok := r.drivers[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoSuchDriver, name)
	}
	e.devices++
	r.mu.Unlock()

	dev := NewDevice(link.BoardName, link.BufSize)
	dev.driver = name
	if err := e.drv.Attach(dev, link); err != nil {
		if e.drv.Detach != nil {
			if derr := e.drv.Detach(dev); derr != nil {
				Logger().Warn("detach after failed attach", "driver", name, "err", derr)
			}
		}
		r.mu.Lock()
		e.devices--
		r.mu.Unlock()
		return nil, fmt.Errorf("attaching %s with driver %s: %w", link.BoardName, name, err)
	}
	Logger().Info("device attached", "driver", name, "board", link.BoardName, "subdevices", dev.NbSubd())
	return dev, nil
}

// Detach cancels the acquisitions of dev and releases its resources.
// Detaching twice is a no-op
func (r *Registry) Detach(dev *Device) error {
	r.mu.Lock()
	if dev.detached {
		r.mu.Unlock()
		return nil
	}
	dev.detached = true
	e := r.drivers[dev.driver]
	r.mu.Unlock()

	dev.release()
	var err error
	if e != nil && e.drv.Detach != nil {
		err = e.drv.Detach(dev)
	}

	r.mu.Lock()
	if e != nil {
		e.devices--
	}
	r.mu.Unlock()
	return err
}

// Close refuses further registrations and attaches.  It fails with
// ErrDriverBusy while any device is attached
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.drivers {
		if e.devices > 0 {
			return fmt.Errorf("%w: %s", ErrDriverBusy, name)
		}
	}
	r.closed = true
	r.drivers = make(map[string]*driverEntry)
	return nil
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry
func Default() *Registry {
	return defaultRegistry
}

// Register adds a driver to the process-wide registry
func Register(drv *Driver) error {
	return defaultRegistry.Register(drv)
}

// Unregister removes a driver from the process-wide registry
func Unregister(name string) error {
	return defaultRegistry.Unregister(name)
}

// Attach builds a device with a driver of the process-wide registry
func Attach(name string, link LinkDesc) (*Device, error) {
	return defaultRegistry.Attach(name, link)
}

// Detach releases a device attached with the process-wide registry
func Detach(dev *Device) error {
	return defaultRegistry.Detach(dev)
}
