package engine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Rec. 709 luma weights used when a color image is read as gray.
const (
	lumaR = 0.2126
	lumaG = 0.7152
	lumaB = 0.0722
)

// sampleCodec converts between buffer samples and stored plane values.
// Stored values are integers in [0, 2^bits) for integer images and float32
// bit patterns for float images. Conversions pass through float64, which
// is exact whenever the buffer type matches the stored depth.
type sampleCodec struct {
	format PixelFormat
	order  binary.ByteOrder
	size   int
	float  bool
	half   bool // float image stored at half precision
	maxVal float64
}

func newSampleCodec(info *BasicInfo, f PixelFormat) sampleCodec {
	sc := sampleCodec{
		format: f,
		order:  f.Endianness.byteOrder(),
		size:   f.DataType.Size(),
		float:  info.IsFloat(),
		half:   info.IsFloat() && info.BitsPerSample == 16,
	}
	if !sc.float {
		sc.maxVal = float64(uint32(1)<<info.BitsPerSample - 1)
	}
	return sc
}

func clamp01(v float64) float64 {
	if v != v {
		return 0
	}
	return min(max(v, 0), 1)
}

// read returns the nominal value of the sample at b: [0,1] for integer
// buffers, the float itself otherwise.
func (sc *sampleCodec) read(b []byte) float64 {
	switch sc.format.DataType {
	case TypeUint8:
		return float64(b[0]) / 255
	case TypeUint16:
		return float64(sc.order.Uint16(b)) / 65535
	case TypeFloat16:
		return float64(float16.Frombits(sc.order.Uint16(b)).Float32())
	default:
		return float64(math.Float32frombits(sc.order.Uint32(b)))
	}
}

func (sc *sampleCodec) write(b []byte, v float64) {
	switch sc.format.DataType {
	case TypeUint8:
		b[0] = uint8(math.Round(clamp01(v) * 255))
	case TypeUint16:
		sc.order.PutUint16(b, uint16(math.Round(clamp01(v)*65535)))
	case TypeFloat16:
		sc.order.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
	default:
		sc.order.PutUint32(b, math.Float32bits(float32(v)))
	}
}

func (sc *sampleCodec) toStored(v float64) int32 {
	if !sc.float {
		return int32(math.Round(clamp01(v) * sc.maxVal))
	}
	f := float32(v)
	if sc.half {
		f = float16.Fromfloat32(f).Float32()
	}
	return int32(math.Float32bits(f))
}

func (sc *sampleCodec) fromStored(s int32) float64 {
	if !sc.float {
		return float64(s) / sc.maxVal
	}
	return float64(math.Float32frombits(uint32(s)))
}

// importPlanes reads an interleaved buffer into one plane per channel.
// The buffer must carry exactly the image's channels.
func importPlanes(info *BasicInfo, f PixelFormat, pix []byte) ([][]int32, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	channels := info.NumChannels()
	if f.NumChannels != channels {
		return nil, fmt.Errorf("buffer has %d channels, image has %d", f.NumChannels, channels)
	}
	if need := f.BufferSize(info.Xsize, info.Ysize); len(pix) < need {
		return nil, fmt.Errorf("%w: %d bytes, need %d", errBufferSize, len(pix), need)
	}
	sc := newSampleCodec(info, f)
	w, h := int(info.Xsize), int(info.Ysize)
	stride := f.RowStride(info.Xsize)
	planes := make([][]int32, channels)
	for c := range planes {
		planes[c] = make([]int32, w*h)
	}
	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			px := row[x*channels*sc.size:]
			for c := 0; c < channels; c++ {
				planes[c][y*w+x] = sc.toStored(sc.read(px[c*sc.size:]))
			}
		}
	}
	return planes, nil
}

// exportRect writes the stored samples of one group into an interleaved
// output buffer, converting channels and applying orientation.
func exportRect(planes [][]int32, r rect, info *BasicInfo, f PixelFormat, out []byte, orientation uint32) {
	sc := newSampleCodec(info, f)
	colors := int(info.NumColorChannels)
	hasAlpha := info.AlphaBits > 0
	outChannels := f.NumChannels
	outColors := outChannels
	outAlpha := outChannels == 2 || outChannels == 4
	if outAlpha {
		outColors--
	}
	w, h := int(info.Xsize), int(info.Ysize)
	ow, _ := orientedSize(info.Xsize, info.Ysize, orientation)
	stride := f.RowStride(ow)
	var v [4]float64
	for y := 0; y < r.h; y++ {
		for x := 0; x < r.w; x++ {
			i := y*r.w + x
			switch {
			case colors == outColors:
				for c := 0; c < colors; c++ {
					v[c] = sc.fromStored(planes[c][i])
				}
			case colors == 1:
				g := sc.fromStored(planes[0][i])
				v[0], v[1], v[2] = g, g, g
			default:
				v[0] = lumaR*sc.fromStored(planes[0][i]) +
					lumaG*sc.fromStored(planes[1][i]) +
					lumaB*sc.fromStored(planes[2][i])
			}
			if outAlpha {
				if hasAlpha {
					v[outColors] = sc.fromStored(planes[colors][i])
				} else {
					v[outColors] = 1
				}
			}
			dx, dy := orient(r.x0+x, r.y0+y, w, h, orientation)
			px := out[dy*stride+dx*outChannels*sc.size:]
			for c := 0; c < outChannels; c++ {
				sc.write(px[c*sc.size:], v[c])
			}
		}
	}
}
