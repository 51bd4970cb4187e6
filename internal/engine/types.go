package engine

import (
	"encoding/binary"
	"fmt"
)

// DataType is the sample type of a pixel buffer.
type DataType int

const (
	TypeUint8 DataType = iota
	TypeUint16
	TypeFloat16
	TypeFloat32
)

// Size returns the byte width of one sample.
func (t DataType) Size() int {
	switch t {
	case TypeUint8:
		return 1
	case TypeUint16, TypeFloat16:
		return 2
	case TypeFloat32:
		return 4
	default:
		return 0
	}
}

func (t DataType) String() string {
	switch t {
	case TypeUint8:
		return "u8"
	case TypeUint16:
		return "u16"
	case TypeFloat16:
		return "f16"
	case TypeFloat32:
		return "f32"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Endianness of multi-byte samples in a pixel buffer.
type Endianness int

const (
	NativeEndian Endianness = iota
	LittleEndian
	BigEndian
)

// byteOrder resolves e to a concrete binary.ByteOrder.
func (e Endianness) byteOrder() binary.ByteOrder {
	switch e {
	case LittleEndian:
		return binary.LittleEndian
	case BigEndian:
		return binary.BigEndian
	default:
		return binary.NativeEndian
	}
}

// PixelFormat describes an interleaved pixel buffer.
type PixelFormat struct {
	NumChannels int
	DataType    DataType
	Endianness  Endianness
	Align       int
}

// Validate rejects formats the engine cannot read or write.
func (f PixelFormat) Validate() error {
	if f.NumChannels < 1 || f.NumChannels > 4 {
		return fmt.Errorf("unsupported channel count %d", f.NumChannels)
	}
	if f.DataType.Size() == 0 {
		return fmt.Errorf("unsupported data type %v", f.DataType)
	}
	if f.Endianness < NativeEndian || f.Endianness > BigEndian {
		return fmt.Errorf("unsupported endianness %d", int(f.Endianness))
	}
	if f.Align < 0 {
		return fmt.Errorf("negative row alignment %d", f.Align)
	}
	return nil
}

// RowStride returns the byte distance between rows of an image xsize wide.
func (f PixelFormat) RowStride(xsize uint32) int {
	stride := int(xsize) * f.NumChannels * f.DataType.Size()
	if f.Align > 1 {
		stride = (stride + f.Align - 1) / f.Align * f.Align
	}
	return stride
}

// BufferSize returns the bytes needed for an xsize by ysize image. The last
// row is not padded to the alignment.
func (f PixelFormat) BufferSize(xsize, ysize uint32) int {
	if xsize == 0 || ysize == 0 {
		return 0
	}
	row := int(xsize) * f.NumChannels * f.DataType.Size()
	return f.RowStride(xsize)*(int(ysize)-1) + row
}

// BasicInfo is the image header.
type BasicInfo struct {
	Xsize                 uint32
	Ysize                 uint32
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
	TicksPerSecond        uint32 // animation tick rate, 0 when not animated
}

// IsFloat reports whether samples are stored as IEEE floats.
func (b *BasicInfo) IsFloat() bool {
	return b.ExponentBitsPerSample > 0
}

// NumChannels is color channels plus alpha.
func (b *BasicInfo) NumChannels() int {
	n := int(b.NumColorChannels)
	if b.AlphaBits > 0 {
		n++
	}
	return n
}

// Validate checks header fields an encoder is about to write.
func (b *BasicInfo) Validate() error {
	if b.Xsize == 0 || b.Ysize == 0 {
		return fmt.Errorf("invalid dimensions %dx%d", b.Xsize, b.Ysize)
	}
	if b.Xsize > maxDimension || b.Ysize > maxDimension {
		return fmt.Errorf("dimensions %dx%d exceed %d", b.Xsize, b.Ysize, maxDimension)
	}
	if uint64(b.Xsize)*uint64(b.Ysize) > maxPixels {
		return fmt.Errorf("%dx%d image exceeds %d pixels", b.Xsize, b.Ysize, maxPixels)
	}
	if b.NumColorChannels != 1 && b.NumColorChannels != 3 {
		return fmt.Errorf("unsupported color channel count %d", b.NumColorChannels)
	}
	switch {
	case b.ExponentBitsPerSample == 0:
		if b.BitsPerSample < 1 || b.BitsPerSample > 16 {
			return fmt.Errorf("unsupported integer bit depth %d", b.BitsPerSample)
		}
	case b.ExponentBitsPerSample == 5 && b.BitsPerSample == 16:
	case b.ExponentBitsPerSample == 8 && b.BitsPerSample == 32:
	default:
		return fmt.Errorf("unsupported float format %d/%d", b.BitsPerSample, b.ExponentBitsPerSample)
	}
	if b.AlphaBits > 0 && (b.AlphaBits != b.BitsPerSample || b.AlphaExponentBits != b.ExponentBitsPerSample) {
		return fmt.Errorf("alpha depth %d/%d must match color depth", b.AlphaBits, b.AlphaExponentBits)
	}
	if b.Orientation < 1 || b.Orientation > 8 {
		return fmt.Errorf("invalid orientation %d", b.Orientation)
	}
	return nil
}

const (
	// maxDimension bounds either image side.
	maxDimension = 1 << 28
	// maxPixels bounds the image area.
	maxPixels = 1 << 28
)

// ColorSpace is the structured color encoding stored in the header.
type ColorSpace uint8

const (
	ColorICC ColorSpace = iota // profile bytes follow in the header
	ColorSRGB
	ColorLinearSRGB
	ColorGraySRGB
	ColorGrayLinear
	// ColorUnknown is never written by the encoder; a decoder reading it
	// has no way to describe the image colors.
	ColorUnknown ColorSpace = 0xFF
)

// IsGray reports whether the encoding describes a single channel.
func (c ColorSpace) IsGray() bool {
	return c == ColorGraySRGB || c == ColorGrayLinear
}

// FrameHeader describes one frame in the codestream.
type FrameHeader struct {
	Duration uint32
	Name     string
	IsLast   bool
	Lossless bool
}

// BoxType is a four character box type.
type BoxType [4]byte

func (t BoxType) String() string { return string(t[:]) }

// Box is a metadata box found in a container.
type Box struct {
	Type       BoxType
	Data       []byte
	Compressed bool // Data is still Brotli compressed (brob without decompression)
}

// Allocator overrides the engine's byte buffer allocation. Alloc returns nil
// when it cannot satisfy the request.
type Allocator interface {
	Alloc(size int) []byte
	Free(buf []byte)
}

func allocBytes(a Allocator, n int) []byte {
	if a == nil {
		return make([]byte, n)
	}
	b := a.Alloc(n)
	if len(b) < n {
		return nil
	}
	return b[:n]
}
