package daq

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChannel is generated when a channel reference is out of range
	// or does not match the addressing mode of the channel descriptor
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrInvalidConfig is generated for unrecognized instruction kinds,
	// configuration ids, or instruction data that is too short
	ErrInvalidConfig = errors.New("invalid instruction")

	// ErrRejected is generated when a command fails validation.  The error
	// is always a *RejectError carrying the corrected command
	ErrRejected = errors.New("command rejected")

	// ErrUnsupported is generated when an operation is not available on a
	// subdevice, e.g. a command on a subdevice without a command mask
	ErrUnsupported = errors.New("operation not supported by subdevice")

	// ErrAlreadyRunning is generated when a command is started on a running subdevice
	ErrAlreadyRunning = errors.New("acquisition already running")

	// ErrResourceUnavailable is generated by subdevices whose resources could
	// not be reserved during attach
	ErrResourceUnavailable = errors.New("subdevice resource unavailable")

	// ErrMissingOptions is generated when a driver is attached without any
	// resource address to bind to
	ErrMissingOptions = errors.New("missing attach options")

	// ErrOverrun is generated when the producer outruns the consumer
	ErrOverrun = errors.New("buffer overrun")

	// ErrNotRunning is generated when the producer puts data into a
	// subdevice whose acquisition ended or was cancelled
	ErrNotRunning = errors.New("acquisition not running")

	// ErrIO is generated when the chip binding fails to access a register
	ErrIO = errors.New("chip register access failed")

	// ErrNoSuchSubdevice is generated when a subdevice index is out of range
	ErrNoSuchSubdevice = errors.New("no such subdevice")

	// ErrNoSuchDriver is generated when attaching to an unregistered driver
	ErrNoSuchDriver = errors.New("no such driver")

	// ErrDriverExists is generated when a driver name is registered twice
	ErrDriverExists = errors.New("driver already registered")

	// ErrDriverBusy is generated when unregistering a driver which still has
	// attached devices
	ErrDriverBusy = errors.New("driver has attached devices")

	// ErrRegistryClosed is generated when using a registry after Close
	ErrRegistryClosed = errors.New("driver registry closed")
)

// Stage identifies a validation stage of a command
type Stage int

const (
	// StageSources checks each slot's source against the command mask
	StageSources Stage = iota + 1

	// StageSingleSource checks that a slot selects exactly one source
	StageSingleSource

	// StageConsistency checks source combinations across slots
	StageConsistency

	// StageArguments checks each slot's argument against its source
	StageArguments
)

func (s Stage) String() string {
	switch s {
	case StageSources:
		return "sources"
	case StageSingleSource:
		return "single-source"
	case StageConsistency:
		return "consistency"
	case StageArguments:
		return "arguments"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// RejectError reports the first violation found while validating a command,
// along with the corrected command the caller may resubmit
type RejectError struct {
	// Stage is the first stage which found a violation
	Stage Stage

	// Slot is the first offending trigger slot
	Slot Slot

	// Corrected is the command with every violation corrected
	Corrected Command
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("command rejected at %s stage, slot %s", e.Stage, e.Slot)
}

// Unwrap makes errors.Is(err, ErrRejected) true
func (e *RejectError) Unwrap() error {
	return ErrRejected
}

// ioError decorates a chip error so it satisfies errors.Is(err, ErrIO)
func ioError(op string, port int, err error) error {
	return fmt.Errorf("%w: %s port %d: %v", ErrIO, op, port, err)
}
