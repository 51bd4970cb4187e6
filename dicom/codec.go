// Package dicom provides JPEG XL codecs for the go-dicom imaging registry.
//
// go-dicom has no built-in JPEG XL transfer syntaxes, so the codecs are
// constructed for a caller supplied *transfer.Syntax.
package dicom

import (
	"errors"
	"fmt"

	"github.com/cocosip/go-dicom/pkg/dicom/transfer"
	"github.com/cocosip/go-dicom/pkg/imaging/codec"
	"github.com/cocosip/go-dicom/pkg/imaging/imagetypes"
	log "github.com/sirupsen/logrus"

	"github.com/cocosip/go-jxl/jxl"
)

var _ codec.Codec = (*Codec)(nil)

const (
	jxlName         = "JPEG XL"
	jxlLosslessName = "JPEG XL Lossless"
)

var errNilTransferSyntax = errors.New("transfer syntax cannot be nil")

// Codec implements the go-dicom codec interface for JPEG XL.
type Codec struct {
	transferSyntax *transfer.Syntax
	lossless       bool
}

// NewCodec creates a JPEG XL codec for ts.
func NewCodec(ts *transfer.Syntax) *Codec {
	return &Codec{transferSyntax: ts}
}

// NewLosslessCodec creates a codec for ts that always encodes losslessly.
func NewLosslessCodec(ts *transfer.Syntax) *Codec {
	return &Codec{transferSyntax: ts, lossless: true}
}

// Name returns the codec name
func (c *Codec) Name() string {
	if c.lossless {
		return jxlLosslessName
	}
	return jxlName
}

// TransferSyntax returns the transfer syntax this codec handles
func (c *Codec) TransferSyntax() *transfer.Syntax {
	return c.transferSyntax
}

// GetDefaultParameters returns the default encoder options, which implement
// codec.Parameters.
func (c *Codec) GetDefaultParameters() codec.Parameters {
	opts := jxl.NewEncoderOptions()
	if c.lossless {
		opts.Lossless = true
	}
	return opts
}

// parameter names copied from foreign codec.Parameters
var parameterNames = []string{
	"lossless", "quality", "speed", "decodingSpeed", "groupSize",
	"useContainer", "usesOriginalProfile", "initBufferSize",
}

func (c *Codec) encoderOptions(parameters codec.Parameters) (*jxl.EncoderOptions, error) {
	var opts *jxl.EncoderOptions
	switch p := parameters.(type) {
	case nil:
		opts = jxl.NewEncoderOptions()
	case *jxl.EncoderOptions:
		opts = p.Clone()
	default:
		opts = jxl.NewEncoderOptions()
		for _, name := range parameterNames {
			if v := parameters.GetParameter(name); v != nil {
				opts.SetParameter(name, v)
			}
		}
	}
	if c.lossless {
		opts.Lossless = true
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid JPEG XL parameters: %w", err)
	}
	return opts, nil
}

func sampleType(frameInfo *imagetypes.FrameInfo) (jxl.SampleType, error) {
	switch frameInfo.BitsAllocated {
	case 8:
		return jxl.Uint8, nil
	case 16:
		return jxl.Uint16, nil
	}
	return 0, fmt.Errorf("unsupported bits allocated %d", frameInfo.BitsAllocated)
}

func validateInputs(oldPixelData, newPixelData imagetypes.PixelData) (*imagetypes.FrameInfo, error) {
	if oldPixelData == nil || newPixelData == nil {
		return nil, fmt.Errorf("source and destination PixelData cannot be nil")
	}
	frameInfo := oldPixelData.GetFrameInfo()
	if frameInfo == nil {
		return nil, fmt.Errorf("failed to get frame info from source pixel data")
	}
	if frameInfo.SamplesPerPixel != 1 && frameInfo.SamplesPerPixel != 3 {
		return nil, fmt.Errorf("unsupported samples per pixel %d", frameInfo.SamplesPerPixel)
	}
	if oldPixelData.FrameCount() == 0 {
		return nil, fmt.Errorf("source pixel data is empty (no frames)")
	}
	return frameInfo, nil
}

// Encode encodes every frame of oldPixelData into newPixelData
func (c *Codec) Encode(oldPixelData imagetypes.PixelData, newPixelData imagetypes.PixelData, parameters codec.Parameters) error {
	frameInfo, err := validateInputs(oldPixelData, newPixelData)
	if err != nil {
		return err
	}
	t, err := sampleType(frameInfo)
	if err != nil {
		return err
	}
	opts, err := c.encoderOptions(parameters)
	if err != nil {
		return err
	}
	if frameInfo.PixelRepresentation != 0 && !opts.Lossless {
		log.WithField("bitsStored", frameInfo.BitsStored).Debug("dicom: signed samples encoded as offset binary")
	}
	enc, err := jxl.NewEncoder(opts)
	if err != nil {
		return fmt.Errorf("failed to create JPEG XL encoder: %w", err)
	}
	defer enc.Close()

	format := jxl.PixelFormat{NumChannels: int(frameInfo.SamplesPerPixel), SampleType: t, Endianness: jxl.LittleEndian}
	for frameIndex := 0; frameIndex < oldPixelData.FrameCount(); frameIndex++ {
		frameData, err := oldPixelData.GetFrame(frameIndex)
		if err != nil {
			return fmt.Errorf("failed to get frame %d: %w", frameIndex, err)
		}
		need := jxl.RequiredBytes(format, uint32(frameInfo.Width), uint32(frameInfo.Height))
		if len(frameData) < need {
			return fmt.Errorf("frame %d has %d bytes, need %d", frameIndex, len(frameData), need)
		}
		pix := toInterleaved(frameData[:need], frameInfo)
		if frameInfo.PixelRepresentation != 0 {
			flipSign(pix, t)
		}
		encoded, err := enc.Encode(pix, uint32(frameInfo.Width), uint32(frameInfo.Height), format)
		if err != nil {
			return fmt.Errorf("JPEG XL encode failed for frame %d: %w", frameIndex, err)
		}
		if err := newPixelData.AddFrame(encoded); err != nil {
			return fmt.Errorf("failed to add encoded frame %d: %w", frameIndex, err)
		}
	}
	return nil
}

// Decode decodes every frame of oldPixelData into newPixelData
func (c *Codec) Decode(oldPixelData imagetypes.PixelData, newPixelData imagetypes.PixelData, _ codec.Parameters) error {
	frameInfo, err := validateInputs(oldPixelData, newPixelData)
	if err != nil {
		return err
	}
	t, err := sampleType(frameInfo)
	if err != nil {
		return err
	}
	dec, err := jxl.NewDecoder(jxl.NewDecoderOptions().
		WithNumChannels(int(frameInfo.SamplesPerPixel)).
		WithEndianness(jxl.LittleEndian))
	if err != nil {
		return fmt.Errorf("failed to create JPEG XL decoder: %w", err)
	}
	defer dec.Close()

	for frameIndex := 0; frameIndex < oldPixelData.FrameCount(); frameIndex++ {
		frameData, err := oldPixelData.GetFrame(frameIndex)
		if err != nil {
			return fmt.Errorf("failed to get frame %d: %w", frameIndex, err)
		}
		if len(frameData) == 0 {
			return fmt.Errorf("frame %d pixel data is empty", frameIndex)
		}
		res, err := dec.DecodeAs(frameData, t)
		if err != nil {
			return fmt.Errorf("JPEG XL decode failed for frame %d: %w", frameIndex, err)
		}
		if res.Info.Width != uint32(frameInfo.Width) || res.Info.Height != uint32(frameInfo.Height) {
			return fmt.Errorf("frame %d is %dx%d, expected %dx%d", frameIndex,
				res.Info.Width, res.Info.Height, frameInfo.Width, frameInfo.Height)
		}
		pix := res.Pixels.Bytes()[:jxl.RequiredBytes(res.Format, res.Info.Width, res.Info.Height)]
		if frameInfo.PixelRepresentation != 0 {
			flipSign(pix, t)
		}
		if err := newPixelData.AddFrame(fromInterleaved(pix, frameInfo)); err != nil {
			return fmt.Errorf("failed to add decoded frame %d: %w", frameIndex, err)
		}
	}
	return nil
}

// RegisterJPEGXLCodec registers a JPEG XL codec for ts with the global registry
func RegisterJPEGXLCodec(ts *transfer.Syntax) error {
	if ts == nil {
		return errNilTransferSyntax
	}
	codec.GetGlobalRegistry().RegisterCodec(ts, NewCodec(ts))
	return nil
}

// RegisterJPEGXLLosslessCodec registers a lossless JPEG XL codec for ts with
// the global registry
func RegisterJPEGXLLosslessCodec(ts *transfer.Syntax) error {
	if ts == nil {
		return errNilTransferSyntax
	}
	codec.GetGlobalRegistry().RegisterCodec(ts, NewLosslessCodec(ts))
	return nil
}
