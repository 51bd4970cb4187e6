package jxl

import (
	"unsafe"

	"github.com/x448/float16"
)

// Sample is the set of Go types a typed pixel buffer can hold.
type Sample interface {
	uint8 | uint16 | float16.Float16 | float32
}

// Pixels is a decoded sample buffer of one of the four sample types.
type Pixels interface {
	// Len is the number of samples.
	Len() int
	SampleType() SampleType
	// Bytes views the samples as raw bytes in the buffer's endianness.
	Bytes() []byte
}

type (
	U8Pixels  []uint8
	U16Pixels []uint16
	F16Pixels []float16.Float16
	F32Pixels []float32
)

func (p U8Pixels) Len() int               { return len(p) }
func (p U8Pixels) SampleType() SampleType { return Uint8 }
func (p U8Pixels) Bytes() []byte          { return []byte(p) }

func (p U16Pixels) Len() int               { return len(p) }
func (p U16Pixels) SampleType() SampleType { return Uint16 }
func (p U16Pixels) Bytes() []byte          { return byteView(p) }

func (p F16Pixels) Len() int               { return len(p) }
func (p F16Pixels) SampleType() SampleType { return Float16 }
func (p F16Pixels) Bytes() []byte          { return byteView(p) }

func (p F32Pixels) Len() int               { return len(p) }
func (p F32Pixels) SampleType() SampleType { return Float32 }
func (p F32Pixels) Bytes() []byte          { return byteView(p) }

// byteView reinterprets a sample slice as bytes without copying.
func byteView[T Sample](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// sampleTypeOf returns the SampleType of T.
func sampleTypeOf[T Sample]() SampleType {
	var zero T
	switch any(zero).(type) {
	case uint16:
		return Uint16
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	default:
		return Uint8
	}
}

// newPixels allocates a zeroed buffer of t holding at least size bytes.
func newPixels(t SampleType, size int) Pixels {
	n := (size + t.Size() - 1) / t.Size()
	switch t {
	case Uint16:
		return make(U16Pixels, n)
	case Float16:
		return make(F16Pixels, n)
	case Float32:
		return make(F32Pixels, n)
	default:
		return make(U8Pixels, n)
	}
}

// samplesOf returns the typed samples of p when they are of type T.
func samplesOf[T Sample](p Pixels) ([]T, bool) {
	var out any
	switch v := p.(type) {
	case U8Pixels:
		out = []uint8(v)
	case U16Pixels:
		out = []uint16(v)
	case F16Pixels:
		out = []float16.Float16(v)
	case F32Pixels:
		out = []float32(v)
	}
	s, ok := out.([]T)
	return s, ok
}
