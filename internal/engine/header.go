package engine

import (
	"errors"
	"fmt"
)

var (
	errVarintOverflow = errors.New("varint overflow")
	errFieldTooLarge  = errors.New("field exceeds limit")
	errFrameMarker    = errors.New("missing frame marker")
)

// codestream signature
var codestreamSignature = []byte{0xFF, 0x0A}

const (
	headerFlagOriginalProfile = 1 << 0
	headerFlagPremultiplied   = 1 << 1
	headerFlagAnimation       = 1 << 2

	frameMarker = 'F'

	frameFlagLast       = 1 << 0
	frameFlagModular    = 1 << 1
	frameFlagName       = 1 << 2
	frameFlagYCoCg      = 1 << 3
	frameFlagFloatQuant = 1 << 4

	maxICCSize  = 1 << 24
	maxNameSize = 1 << 16
)

// Predictor selects the spatial predictor of a frame's residual coding.
type predictor uint8

const (
	predictZero predictor = iota
	predictLeft
	predictGradient
)

// frameInfo is the full decoded frame header including coding parameters.
type frameInfo struct {
	FrameHeader
	predictor  predictor
	groupShift uint8
	quantStep  float32
	ycocg      bool
	floatQuant bool
	groupSizes []uint32
}

// groupDim returns the side of a square group.
func (f *frameInfo) groupDim() int {
	return 128 << f.groupShift
}

func writeImageHeader(w *byteWriter, b *BasicInfo) {
	w.uvarint(uint64(b.Xsize))
	w.uvarint(uint64(b.Ysize))
	w.u8(uint8(b.BitsPerSample))
	w.u8(uint8(b.ExponentBitsPerSample))
	w.u8(uint8(b.NumColorChannels))
	w.u8(uint8(b.AlphaBits))
	w.u8(uint8(b.AlphaExponentBits))
	w.u8(uint8(b.Orientation))
	var flags uint8
	if b.UsesOriginalProfile {
		flags |= headerFlagOriginalProfile
	}
	if b.AlphaPremultiplied {
		flags |= headerFlagPremultiplied
	}
	if b.HaveAnimation {
		flags |= headerFlagAnimation
	}
	w.u8(flags)
	w.f32(b.IntensityTarget)
	if b.HaveAnimation {
		w.uvarint(uint64(b.TicksPerSecond))
	}
}

func readImageHeader(r *byteReader) (*BasicInfo, error) {
	b := &BasicInfo{}
	var err error
	if b.Xsize, err = r.uvarint32(); err != nil {
		return nil, err
	}
	if b.Ysize, err = r.uvarint32(); err != nil {
		return nil, err
	}
	fields := make([]uint8, 7)
	for i := range fields {
		if fields[i], err = r.u8(); err != nil {
			return nil, err
		}
	}
	b.BitsPerSample = uint32(fields[0])
	b.ExponentBitsPerSample = uint32(fields[1])
	b.NumColorChannels = uint32(fields[2])
	b.AlphaBits = uint32(fields[3])
	b.AlphaExponentBits = uint32(fields[4])
	b.Orientation = uint32(fields[5])
	flags := fields[6]
	b.UsesOriginalProfile = flags&headerFlagOriginalProfile != 0
	b.AlphaPremultiplied = flags&headerFlagPremultiplied != 0
	b.HaveAnimation = flags&headerFlagAnimation != 0
	if b.IntensityTarget, err = r.f32(); err != nil {
		return nil, err
	}
	if b.HaveAnimation {
		if b.TicksPerSecond, err = r.uvarint32(); err != nil {
			return nil, err
		}
	}
	if b.AlphaBits > 0 {
		b.NumExtraChannels = 1
	}
	if err := b.Validate(); err != nil {
		return nil, newError(CodeBadInput, "image header", err)
	}
	return b, nil
}

func writeColorSection(w *byteWriter, cs ColorSpace, icc []byte) {
	w.u8(uint8(cs))
	if cs == ColorICC {
		w.bytes(icc)
	}
}

func readColorSection(r *byteReader) (ColorSpace, []byte, error) {
	v, err := r.u8()
	if err != nil {
		return 0, nil, err
	}
	cs := ColorSpace(v)
	switch cs {
	case ColorICC:
		icc, err := r.bytes(maxICCSize)
		if err != nil {
			return 0, nil, err
		}
		return cs, append([]byte(nil), icc...), nil
	case ColorSRGB, ColorLinearSRGB, ColorGraySRGB, ColorGrayLinear, ColorUnknown:
		return cs, nil, nil
	default:
		return 0, nil, newError(CodeBadInput, "color encoding", fmt.Errorf("unknown color space %d", v))
	}
}

func writeFrameHeader(w *byteWriter, f *frameInfo) {
	w.u8(frameMarker)
	var flags uint8
	if f.IsLast {
		flags |= frameFlagLast
	}
	if f.Lossless {
		flags |= frameFlagModular
	}
	if f.Name != "" {
		flags |= frameFlagName
	}
	if f.ycocg {
		flags |= frameFlagYCoCg
	}
	if f.floatQuant {
		flags |= frameFlagFloatQuant
	}
	w.u8(flags)
	w.u8(uint8(f.predictor))
	w.u8(f.groupShift)
	w.f32(f.quantStep)
	w.uvarint(uint64(f.Duration))
	if f.Name != "" {
		w.bytes([]byte(f.Name))
	}
	w.uvarint(uint64(len(f.groupSizes)))
	for _, s := range f.groupSizes {
		w.uvarint(uint64(s))
	}
}

func readFrameHeader(r *byteReader, xsize, ysize uint32) (*frameInfo, error) {
	marker, err := r.u8()
	if err != nil {
		return nil, err
	}
	if marker != frameMarker {
		return nil, newError(CodeBadInput, "frame header", errFrameMarker)
	}
	f := &frameInfo{}
	flags, err := r.u8()
	if err != nil {
		return nil, err
	}
	f.IsLast = flags&frameFlagLast != 0
	f.Lossless = flags&frameFlagModular != 0
	f.ycocg = flags&frameFlagYCoCg != 0
	f.floatQuant = flags&frameFlagFloatQuant != 0
	p, err := r.u8()
	if err != nil {
		return nil, err
	}
	if p > uint8(predictGradient) {
		return nil, newError(CodeBadInput, "frame header", fmt.Errorf("unknown predictor %d", p))
	}
	f.predictor = predictor(p)
	if f.groupShift, err = r.u8(); err != nil {
		return nil, err
	}
	if f.groupShift > 3 {
		return nil, newError(CodeBadInput, "frame header", fmt.Errorf("group shift %d out of range", f.groupShift))
	}
	if f.quantStep, err = r.f32(); err != nil {
		return nil, err
	}
	if f.Duration, err = r.uvarint32(); err != nil {
		return nil, err
	}
	if flags&frameFlagName != 0 {
		name, err := r.bytes(maxNameSize)
		if err != nil {
			return nil, err
		}
		f.Name = string(name)
	}
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if want := numGroups(xsize, ysize, f.groupDim()); n != uint64(want) {
		return nil, newError(CodeBadInput, "frame header", fmt.Errorf("%d groups, want %d", n, want))
	}
	// every size takes at least one byte
	if n > uint64(len(r.buf)-r.pos) {
		return nil, errShort
	}
	f.groupSizes = make([]uint32, n)
	for i := range f.groupSizes {
		if f.groupSizes[i], err = r.uvarint32(); err != nil {
			return nil, err
		}
	}
	return f, nil
}
