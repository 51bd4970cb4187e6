package jxl

import (
	"fmt"

	"github.com/cocosip/go-jxl/internal/engine"
)

// SampleType is the type of one channel sample in a pixel buffer.
type SampleType int

const (
	Uint8 SampleType = iota
	Uint16
	Float16
	Float32
)

// Size returns the byte width of one sample, 0 for unknown types.
func (t SampleType) Size() int {
	switch t {
	case Uint8:
		return 1
	case Uint16, Float16:
		return 2
	case Float32:
		return 4
	}
	return 0
}

func (t SampleType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("SampleType(%d)", int(t))
}

func (t SampleType) engine() engine.DataType {
	switch t {
	case Uint16:
		return engine.TypeUint16
	case Float16:
		return engine.TypeFloat16
	case Float32:
		return engine.TypeFloat32
	}
	return engine.TypeUint8
}

// Endianness is the byte order of multi-byte samples.
type Endianness int

const (
	NativeEndian Endianness = iota
	LittleEndian
	BigEndian
)

func (e Endianness) String() string {
	switch e {
	case NativeEndian:
		return "native"
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	}
	return fmt.Sprintf("Endianness(%d)", int(e))
}

// PixelFormat describes an interleaved pixel buffer.
type PixelFormat struct {
	// NumChannels is 1 (gray), 2 (gray+alpha), 3 (RGB) or 4 (RGBA).
	NumChannels int
	SampleType  SampleType
	Endianness  Endianness
	// Align rounds every row stride up to a multiple of Align bytes.
	// 0 and 1 mean no padding.
	Align int
}

// Validate rejects formats before they reach the engine.
func (f PixelFormat) Validate() error {
	if f.NumChannels < 1 || f.NumChannels > 4 {
		return fmt.Errorf("%w: %d channels", ErrUnsupported, f.NumChannels)
	}
	if f.SampleType.Size() == 0 {
		return fmt.Errorf("%w: sample type %v", ErrUnsupported, f.SampleType)
	}
	if f.Endianness < NativeEndian || f.Endianness > BigEndian {
		return fmt.Errorf("%w: endianness %v", ErrUnsupported, f.Endianness)
	}
	if f.Align < 0 {
		return fmt.Errorf("%w: negative alignment %d", ErrAPIUsage, f.Align)
	}
	return nil
}

// RowStride returns the bytes between the starts of two rows.
func (f PixelFormat) RowStride(width uint32) int {
	stride := int(width) * f.NumChannels * f.SampleType.Size()
	if f.Align > 1 {
		stride = (stride + f.Align - 1) / f.Align * f.Align
	}
	return stride
}

// RequiredBytes returns the buffer size for a width by height image in
// format. Every row but the last is padded to the alignment.
func RequiredBytes(format PixelFormat, width, height uint32) int {
	if width == 0 || height == 0 {
		return 0
	}
	row := int(width) * format.NumChannels * format.SampleType.Size()
	return format.RowStride(width)*(int(height)-1) + row
}

func (f PixelFormat) engine() engine.PixelFormat {
	return engine.PixelFormat{
		NumChannels: f.NumChannels,
		DataType:    f.SampleType.engine(),
		Endianness:  engine.Endianness(f.Endianness),
		Align:       f.Align,
	}
}

// inferSampleType picks the natural sample type for an image's depth.
func inferSampleType(info *BasicInfo) SampleType {
	switch {
	case info.ExponentBitsPerSample > 0 && info.BitsPerSample <= 16:
		return Float16
	case info.ExponentBitsPerSample > 0:
		return Float32
	case info.BitsPerSample <= 8:
		return Uint8
	default:
		return Uint16
	}
}

// BasicInfo is the image header reported by the decoder. Dimensions are in
// display orientation unless orientation is kept.
type BasicInfo struct {
	Width                 uint32
	Height                uint32
	BitsPerSample         uint32
	ExponentBitsPerSample uint32
	NumColorChannels      uint32
	NumExtraChannels      uint32
	AlphaBits             uint32
	AlphaExponentBits     uint32
	AlphaPremultiplied    bool
	Orientation           uint32
	UsesOriginalProfile   bool
	HaveContainer         bool
	HaveAnimation         bool
	IntensityTarget       float32
	TicksPerSecond        uint32
}

// HasAlpha reports whether the image carries an alpha channel.
func (b *BasicInfo) HasAlpha() bool { return b.AlphaBits > 0 }

// NumChannels is the automatic channel count: color channels plus alpha.
func (b *BasicInfo) NumChannels() int {
	n := int(b.NumColorChannels)
	if b.HasAlpha() {
		n++
	}
	return n
}

func basicInfoFrom(e *engine.BasicInfo) BasicInfo {
	return BasicInfo{
		Width:                 e.Xsize,
		Height:                e.Ysize,
		BitsPerSample:         e.BitsPerSample,
		ExponentBitsPerSample: e.ExponentBitsPerSample,
		NumColorChannels:      e.NumColorChannels,
		NumExtraChannels:      e.NumExtraChannels,
		AlphaBits:             e.AlphaBits,
		AlphaExponentBits:     e.AlphaExponentBits,
		AlphaPremultiplied:    e.AlphaPremultiplied,
		Orientation:           e.Orientation,
		UsesOriginalProfile:   e.UsesOriginalProfile,
		HaveContainer:         e.HaveContainer,
		HaveAnimation:         e.HaveAnimation,
		IntensityTarget:       e.IntensityTarget,
		TicksPerSecond:        e.TicksPerSecond,
	}
}

// FrameHeader describes one decoded frame.
type FrameHeader struct {
	Duration uint32
	Name     string
	IsLast   bool
}

// Signature classifies the start of a byte stream.
type Signature int

const (
	SignatureNotEnoughBytes Signature = iota
	SignatureInvalid
	SignatureCodestream
	SignatureContainer
)

func (s Signature) String() string {
	switch s {
	case SignatureNotEnoughBytes:
		return "not enough bytes"
	case SignatureInvalid:
		return "invalid"
	case SignatureCodestream:
		return "codestream"
	case SignatureContainer:
		return "container"
	}
	return fmt.Sprintf("Signature(%d)", int(s))
}

// CheckSignature inspects the first bytes of data without decoding.
func CheckSignature(data []byte) Signature {
	switch engine.CheckSignature(data) {
	case engine.SignatureCodestream:
		return SignatureCodestream
	case engine.SignatureContainer:
		return SignatureContainer
	case engine.SignatureInvalid:
		return SignatureInvalid
	}
	return SignatureNotEnoughBytes
}
