package jxl

import (
	"fmt"

	"github.com/cocosip/go-jxl/codec"
)

// DICOM transfer syntax UIDs of the JPEG XL family.
const (
	UIDJPEGXLLossless          = "1.2.840.10008.1.2.4.110"
	UIDJPEGXLJPEGRecompression = "1.2.840.10008.1.2.4.111"
	UIDJPEGXL                  = "1.2.840.10008.1.2.4.112"
)

var _ codec.Codec = (*Codec)(nil)

// Codec adapts the Encoder and Decoder to the codec registry. Samples are
// exchanged little-endian.
type Codec struct {
	name string
	uid  string
	// lossless forces Lossless whatever the options say
	lossless bool
	// jpeg makes Encode take a JPEG file instead of pixels
	jpeg bool
}

// NewCodec returns the lossy JPEG XL codec.
func NewCodec() *Codec {
	return &Codec{name: "jpeg-xl", uid: UIDJPEGXL}
}

// NewLosslessCodec returns the lossless-only JPEG XL codec.
func NewLosslessCodec() *Codec {
	return &Codec{name: "jpeg-xl-lossless", uid: UIDJPEGXLLossless, lossless: true}
}

// NewJPEGRecompressionCodec returns the codec that stores JPEG files
// losslessly and reconstructibly.
func NewJPEGRecompressionCodec() *Codec {
	return &Codec{name: "jpeg-xl-jpeg-recompression", uid: UIDJPEGXLJPEGRecompression, jpeg: true}
}

// Name implements codec.Codec.
func (c *Codec) Name() string { return c.name }

// UID implements codec.Codec.
func (c *Codec) UID() string { return c.uid }

func (c *Codec) encoderOptions(opts codec.Options) (*EncoderOptions, error) {
	var o *EncoderOptions
	switch v := opts.(type) {
	case nil:
		o = NewEncoderOptions()
	case *EncoderOptions:
		o = v.Clone()
	default:
		return nil, fmt.Errorf("%w: options of type %T", codec.ErrInvalidParameter, opts)
	}
	if c.lossless {
		o.Lossless = true
	}
	return o, nil
}

// Encode implements codec.Codec. The JPEG recompression codec expects a
// JPEG file in params.PixelData.
func (c *Codec) Encode(params codec.EncodeParams) ([]byte, error) {
	opts, err := c.encoderOptions(params.Options)
	if err != nil {
		return nil, err
	}
	enc, err := NewEncoder(opts)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	if c.jpeg {
		return enc.EncodeJPEG(params.PixelData)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	format := PixelFormat{NumChannels: params.Components, Endianness: LittleEndian}
	switch {
	case params.Float && params.BitDepth == 16:
		format.SampleType = Float16
	case params.Float:
		format.SampleType = Float32
	case params.BitDepth > 8:
		format.SampleType = Uint16
	default:
		format.SampleType = Uint8
	}
	return enc.Encode(params.PixelData, uint32(params.Width), uint32(params.Height), format)
}

// Decode implements codec.Codec.
func (c *Codec) Decode(data []byte) (*codec.DecodeResult, error) {
	dec, err := NewDecoder(NewDecoderOptions().WithEndianness(LittleEndian))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	res, err := dec.Decode(data)
	if err != nil {
		return nil, err
	}
	return &codec.DecodeResult{
		PixelData:  res.Pixels.Bytes()[:RequiredBytes(res.Format, res.Info.Width, res.Info.Height)],
		Width:      int(res.Info.Width),
		Height:     int(res.Info.Height),
		Components: res.Format.NumChannels,
		BitDepth:   int(res.Info.BitsPerSample),
		Float:      res.Info.ExponentBitsPerSample > 0,
	}, nil
}

func init() {
	for _, c := range []*Codec{NewCodec(), NewLosslessCodec(), NewJPEGRecompressionCodec()} {
		if err := codec.Register(c); err != nil {
			panic(err)
		}
	}
}
