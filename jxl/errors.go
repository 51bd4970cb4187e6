package jxl

import (
	"errors"
	"fmt"

	"github.com/cocosip/go-jxl/internal/engine"
)

var (
	// ErrConstructionFailure is returned when the engine instance could not
	// be created.
	ErrConstructionFailure = errors.New("jxl: failed to create engine instance")

	// ErrInputProtocol is returned when input is set out of turn.
	ErrInputProtocol = errors.New("jxl: input protocol violation")

	// ErrInputAlreadySet is returned by input calls while a previous input
	// is still held or after input was closed.
	ErrInputAlreadySet = fmt.Errorf("%w: input already set", ErrInputProtocol)

	// ErrGeneric is an opaque engine failure.
	ErrGeneric = errors.New("jxl: generic error")

	ErrUnsupported = errors.New("jxl: unsupported")
	ErrAPIUsage    = errors.New("jxl: api usage error")
	ErrBadInput    = errors.New("jxl: bad input")
	ErrOutOfMemory = errors.New("jxl: out of memory")

	// ErrCannotReconstruct is returned when JPEG reconstruction was
	// requested but the stream carries no reconstruction data.
	ErrCannotReconstruct = errors.New("jxl: cannot reconstruct jpeg")

	// ErrUnknownStatus is wrapped by StatusError.
	ErrUnknownStatus = errors.New("jxl: unknown status")
)

// StatusError reports a status code the state machine does not recognize.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jxl: unknown status %d", e.Status)
}

func (e *StatusError) Unwrap() error { return ErrUnknownStatus }

// engineError maps a failure recorded by the engine to the sentinel of its
// error code.
func engineError(err error) error {
	if err == nil {
		return ErrGeneric
	}
	var sentinel error
	switch engine.CodeOf(err) {
	case engine.CodeOutOfMemory:
		sentinel = ErrOutOfMemory
	case engine.CodeJBRD:
		sentinel = ErrCannotReconstruct
	case engine.CodeBadInput:
		sentinel = ErrBadInput
	case engine.CodeNotSupported:
		sentinel = ErrUnsupported
	case engine.CodeAPIUsage:
		sentinel = ErrAPIUsage
	default:
		sentinel = ErrGeneric
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
