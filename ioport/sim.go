package ioport

import (
	"fmt"
	"sync"
)

// Sim is an in-memory port space.  A port reads back the last value written
// to it unless a test or an emulated chip sets it.  Accesses outside of
// reserved regions fail with ErrNotReserved
type Sim struct {
	Regions

	mu    sync.Mutex
	mem   map[uint64]byte
	fail  map[uint64]error
	hooks map[uint64]func(v byte)
}

// NewSim returns an empty simulated space
func NewSim() *Sim {
	return &Sim{
		mem:   make(map[uint64]byte),
		fail:  make(map[uint64]error),
		hooks: make(map[uint64]func(v byte)),
	}
}

// Inb reads the byte at port addr
func (s *Sim) Inb(addr uint64) (byte, error) {
	if !s.Reserved(addr) {
		return 0, fmt.Errorf("%w: inb %#x", ErrNotReserved, addr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[addr]; err != nil {
		return 0, err
	}
	return s.mem[addr], nil
}

// Outb writes the byte v to port addr
func (s *Sim) Outb(addr uint64, v byte) error {
	if !s.Reserved(addr) {
		return fmt.Errorf("%w: outb %#x", ErrNotReserved, addr)
	}
	s.mu.Lock()
	if err := s.fail[addr]; err != nil {
		s.mu.Unlock()
		return err
	}
	s.mem[addr] = v
	hook := s.hooks[addr]
	s.mu.Unlock()
	if hook != nil {
		hook(v)
	}
	return nil
}

// Set changes the value a port reads as, as an external signal would
func (s *Sim) Set(addr uint64, v byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[addr] = v
}

// Peek returns the value of a port without going through reservation checks
func (s *Sim) Peek(addr uint64) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem[addr]
}

// Fail makes every access to addr return err; a nil err clears the failure
func (s *Sim) Fail(addr uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, addr)
		return
	}
	s.fail[addr] = err
}

// OnWrite registers fn to be called after each write to addr
func (s *Sim) OnWrite(addr uint64, fn func(v byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[addr] = fn
}
