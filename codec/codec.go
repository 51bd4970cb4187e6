// Package codec is a name and UID keyed registry of image codecs, so callers
// holding a DICOM transfer syntax UID can find the codec that handles it.
package codec

// Codec is the interface every registered image codec implements.
type Codec interface {
	// Encode encodes one frame of pixel data.
	Encode(params EncodeParams) ([]byte, error)

	// Decode decodes one compressed frame.
	Decode(data []byte) (*DecodeResult, error)

	// UID returns the DICOM transfer syntax UID the codec produces.
	UID() string

	// Name returns a short human-readable name.
	Name() string
}

// EncodeParams describes one frame of interleaved, little-endian samples.
type EncodeParams struct {
	PixelData  []byte
	Width      int
	Height     int
	Components int // 1 gray, 2 gray+alpha, 3 RGB, 4 RGBA
	BitDepth   int // 8, 16, or 32 with Float
	Float      bool
	Options    Options // codec specific, nil for defaults
}

// Validate checks the frame geometry.
func (p *EncodeParams) Validate() error {
	switch {
	case p.Width <= 0 || p.Height <= 0:
		return ErrInvalidParameter
	case p.Components < 1 || p.Components > 4:
		return ErrUnsupportedFormat
	case p.Float && p.BitDepth != 16 && p.BitDepth != 32:
		return ErrUnsupportedFormat
	case !p.Float && (p.BitDepth < 1 || p.BitDepth > 16):
		return ErrUnsupportedFormat
	}
	if len(p.PixelData) < p.Width*p.Height*p.Components*p.BytesPerSample() {
		return ErrInvalidParameter
	}
	return nil
}

// BytesPerSample is the storage width of one sample.
func (p *EncodeParams) BytesPerSample() int {
	switch {
	case p.Float && p.BitDepth == 32:
		return 4
	case p.BitDepth > 8:
		return 2
	default:
		return 1
	}
}

// Options is implemented by codec specific encoding options.
type Options interface {
	Validate() error
}

// DecodeResult is one decoded frame of interleaved, little-endian samples.
type DecodeResult struct {
	PixelData  []byte
	Width      int
	Height     int
	Components int
	BitDepth   int
	Float      bool
}
