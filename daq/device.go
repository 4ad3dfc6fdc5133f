package daq

import (
	"fmt"
	"sync"
)

// Descriptor summarizes a device
type Descriptor struct {
	BoardName    string `json:"board_name"`
	Driver       string `json:"driver"`
	NbSubd       int    `json:"nb_subd"`
	IdxReadSubd  int    `json:"idx_read_subd"`
	IdxWriteSubd int    `json:"idx_write_subd"`
	BufSize      int    `json:"buf_size"`
}

// SubdInfo summarizes a subdevice
type SubdInfo struct {
	Index    int       `json:"index"`
	Flags    SubdFlags `json:"flags"`
	Channels int       `json:"channels"`
	State    string    `json:"state"`
	BufSize  int       `json:"buf_size,omitempty"`
	IOBits   uint32    `json:"io_bits"`
}

/*Device is one attached board, an ordered list of subdevices.

Subdevices are added while the driver attaches the device; after that the
list is read-only and lookups by index are safe from any goroutine.
*/
type Device struct {
	boardName string
	driver    string
	bufSize   int

	subds    []*Subdevice
	idxRead  int
	idxWrite int

	// mu serializes instructions and command control
	mu sync.Mutex

	priv     interface{}
	detached bool
}

// NewDevice returns an empty device.  Command-capable subdevices get a
// buffer of bufSize bytes, DefaultBufSize if bufSize <= 0
func NewDevice(boardName string, bufSize int) *Device {
	if bufSize <= 0 {
		bufSize = DefaultBufSize
	}
	return &Device{
		boardName: boardName,
		bufSize:   bufSize,
		idxRead:   -1,
		idxWrite:  -1,
	}
}

// BoardName returns the name the device was attached with
func (d *Device) BoardName() string {
	return d.boardName
}

// DriverName returns the name of the driver which attached the device
func (d *Device) DriverName() string {
	return d.driver
}

// SetPriv stores the driver's private data
func (d *Device) SetPriv(p interface{}) {
	d.priv = p
}

// Priv returns the driver's private data
func (d *Device) Priv() interface{} {
	return d.priv
}

// Add appends a subdevice and returns its index.  Command-capable subdevices
// get their buffer; the first readable (writable) one becomes the default
// read (write) subdevice
func (d *Device) Add(s *Subdevice) (int, error) {
	if s.idx >= 0 {
		return -1, fmt.Errorf("%w: subdevice already belongs to a device", ErrInvalidConfig)
	}
	idx := len(d.subds)
	s.idx = idx
	if !s.Unused() && s.flags&SubdCmd != 0 {
		s.buf.Store(newBuffer(d.bufSize, s.desc.SampleWidth()))
		if s.flags&SubdRead != 0 && d.idxRead < 0 {
			d.idxRead = idx
		}
		if s.flags&SubdWrite != 0 && d.idxWrite < 0 {
			d.idxWrite = idx
		}
	}
	d.subds = append(d.subds, s)
	return idx, nil
}

// NbSubd returns the number of subdevices, unused ones included
func (d *Device) NbSubd() int {
	return len(d.subds)
}

// Subdevice returns the subdevice at index i
func (d *Device) Subdevice(i int) (*Subdevice, error) {
	if i < 0 || i >= len(d.subds) {
		return nil, fmt.Errorf("%w: %d, device has %d", ErrNoSuchSubdevice, i, len(d.subds))
	}
	return d.subds[i], nil
}

// Subdevices returns a copy of the subdevice list
func (d *Device) Subdevices() []*Subdevice {
	return append([]*Subdevice(nil), d.subds...)
}

// IdxRead returns the index of the default read subdevice, -1 if none
func (d *Device) IdxRead() int {
	return d.idxRead
}

// IdxWrite returns the index of the default write subdevice, -1 if none
func (d *Device) IdxWrite() int {
	return d.idxWrite
}

// Descriptor summarizes the device
func (d *Device) Descriptor() Descriptor {
	return Descriptor{
		BoardName:    d.boardName,
		Driver:       d.driver,
		NbSubd:       len(d.subds),
		IdxReadSubd:  d.idxRead,
		IdxWriteSubd: d.idxWrite,
		BufSize:      d.bufSize,
	}
}

// Info summarizes subdevice i
func (d *Device) Info(i int) (SubdInfo, error) {
	s, err := d.Subdevice(i)
	if err != nil {
		return SubdInfo{}, err
	}
	info := SubdInfo{
		Index:    i,
		Flags:    s.flags,
		Channels: s.desc.Length,
		State:    s.State().String(),
	}
	if b := s.Buffer(); b != nil {
		info.BufSize = b.Cap()
	}
	d.mu.Lock()
	info.IOBits = s.ioBits
	d.mu.Unlock()
	return info, nil
}

// Do executes one instruction on subdevice idx.  GTOD needs no subdevice
func (d *Device) Do(idx int, insn *Instruction) error {
	if insn.Kind == InsnGTOD {
		return gtod(insn)
	}
	s, err := d.Subdevice(idx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.Do(insn)
}

// IndexedInsn is an instruction aimed at a subdevice of a device
type IndexedInsn struct {
	Subdev int `json:"subdev"`
	Instruction
}

// DoList executes the instructions in order and stops at the first error.
// It returns the number of instructions executed successfully
func (d *Device) DoList(list []IndexedInsn) (int, error) {
	for i := range list {
		if err := d.Do(list[i].Subdev, &list[i].Instruction); err != nil {
			return i, fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return len(list), nil
}

// Validate runs the command validator of subdevice cmd.Subdev
func (d *Device) Validate(cmd Command) (Command, error) {
	s, err := d.Subdevice(cmd.Subdev)
	if err != nil {
		return cmd, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.Validate(cmd)
}

// Start starts cmd on subdevice cmd.Subdev
func (d *Device) Start(cmd Command) error {
	s, err := d.Subdevice(cmd.Subdev)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.Start(cmd)
}

// ActiveCommand returns the command of the running, or last, acquisition of
// subdevice idx
func (d *Device) ActiveCommand(idx int) (Command, error) {
	s, err := d.Subdevice(idx)
	if err != nil {
		return Command{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.ActiveCommand(), nil
}

// Cancel stops the acquisition of subdevice idx
func (d *Device) Cancel(idx int) error {
	s, err := d.Subdevice(idx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.Cancel()
}

// release cancels every acquisition, disarming the producers, and drops the
// buffers before the driver detaches
func (d *Device) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subds {
		if s.Buffer() == nil {
			continue
		}
		if err := s.Cancel(); err != nil {
			Logger().Warn("cancel on detach failed", "board", d.boardName, "subdev", s.idx, "err", err)
		}
		s.release()
	}
}
