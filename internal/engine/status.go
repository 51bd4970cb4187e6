// Package engine is the reference codec engine behind the jxl front-end.
//
// It speaks a block-structured bitstream that uses the JPEG XL signatures
// and box layout with simplified group payloads. The front-end drives it
// only through status codes and buffer hand-offs: the decoder is an event
// producer (ProcessInput), the encoder an output producer (ProcessOutput).
package engine

import (
	"errors"
	"fmt"
)

// DecoderStatus is returned by Decoder.ProcessInput.
type DecoderStatus int

const (
	DecSuccess DecoderStatus = iota
	DecError
	DecNeedMoreInput
	DecNeedImageOutBuffer
	DecJPEGNeedMoreOutput
	DecBasicInfo
	DecColorEncoding
	DecFrame
	DecFullImage
	DecJPEGReconstruction
)

func (s DecoderStatus) String() string {
	switch s {
	case DecSuccess:
		return "success"
	case DecError:
		return "error"
	case DecNeedMoreInput:
		return "need more input"
	case DecNeedImageOutBuffer:
		return "need image out buffer"
	case DecJPEGNeedMoreOutput:
		return "jpeg need more output"
	case DecBasicInfo:
		return "basic info"
	case DecColorEncoding:
		return "color encoding"
	case DecFrame:
		return "frame"
	case DecFullImage:
		return "full image"
	case DecJPEGReconstruction:
		return "jpeg reconstruction"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Event is a subscription bit for Decoder.Subscribe.
type Event int

const (
	EventBasicInfo Event = 1 << iota
	EventColorEncoding
	EventFrame
	EventFullImage
	EventJPEGReconstruction
)

// EncoderStatus is returned by Encoder.ProcessOutput.
type EncoderStatus int

const (
	EncSuccess EncoderStatus = iota
	EncError
	EncNeedMoreOutput
)

func (s EncoderStatus) String() string {
	switch s {
	case EncSuccess:
		return "success"
	case EncError:
		return "error"
	case EncNeedMoreOutput:
		return "need more output"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrorCode classifies an engine failure.
type ErrorCode int

const (
	CodeGeneric ErrorCode = iota + 1
	CodeOutOfMemory
	CodeJBRD // JPEG reconstruction data could not be produced
	CodeBadInput
	CodeNotSupported
	CodeAPIUsage
)

func (c ErrorCode) String() string {
	switch c {
	case CodeGeneric:
		return "generic"
	case CodeOutOfMemory:
		return "out of memory"
	case CodeJBRD:
		return "jpeg reconstruction"
	case CodeBadInput:
		return "bad input"
	case CodeNotSupported:
		return "not supported"
	case CodeAPIUsage:
		return "api usage"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the failure recorded by the engine when a call returns an error
// status or a non-nil error.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("engine %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the ErrorCode of err, CodeGeneric when err is not an
// engine error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeGeneric
}

var (
	errShort        = errors.New("not enough bytes")
	errTruncated    = errors.New("truncated input")
	errInputSet     = errors.New("input already set")
	errInputClosed  = errors.New("input already closed")
	errNoBuffer     = errors.New("no output buffer set")
	errBufferSize   = errors.New("output buffer too small")
	errBadSignature = errors.New("invalid signature")
)
