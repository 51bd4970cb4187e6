package jxl

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/cocosip/go-jxl/internal/engine"
	"github.com/cocosip/go-jxl/internal/jpegscan"
)

type encodeState int

const (
	stateConfiguring encodeState = iota
	stateFrameAccumulation
	stateFinalizing
	stateEncoded
)

func (s encodeState) String() string {
	switch s {
	case stateConfiguring:
		return "configuring"
	case stateFrameAccumulation:
		return "frame accumulation"
	case stateFinalizing:
		return "finalizing"
	case stateEncoded:
		return "done"
	}
	return fmt.Sprintf("encodeState(%d)", int(s))
}

// Frame is one image frame handed to Encoder.AddFrame.
type Frame struct {
	// Data holds interleaved samples laid out as Format describes.
	Data   []byte
	Format PixelFormat
	// Duration in animation ticks.
	Duration uint32
	Name     string
}

// NewFrame wraps typed samples in native endianness as a frame.
func NewFrame[T Sample](samples []T, numChannels int) *Frame {
	return &Frame{
		Data:   byteView(samples),
		Format: PixelFormat{NumChannels: numChannels, SampleType: sampleTypeOf[T](), Endianness: NativeEndian},
	}
}

// Metadata are the payloads stored as container boxes.
type Metadata struct {
	// Exif is a TIFF structure, stored behind a zero header offset.
	Exif  []byte
	XMP   []byte
	JUMBF []byte
}

// Encoder encodes images into JPEG XL streams. One engine instance is reused
// for every image. An Encoder must not be used from two goroutines at once.
type Encoder struct {
	opts  *EncoderOptions
	eng   encoderEngine
	state encodeState

	width      uint32
	height     uint32
	sampleType SampleType
	frames     int
}

// NewEncoder creates an encoder. nil options select NewEncoderOptions.
func NewEncoder(opts *EncoderOptions) (*Encoder, error) {
	if opts == nil {
		opts = NewEncoderOptions()
	} else {
		opts = opts.Clone()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	eng := newEncoderEngine(opts.MemoryManager)
	if eng == nil {
		return nil, ErrConstructionFailure
	}
	return &Encoder{opts: opts, eng: eng}, nil
}

// Options returns a copy of the encoder's options.
func (e *Encoder) Options() *EncoderOptions {
	return e.opts.Clone()
}

// SetOptions replaces the options for the next image. It is rejected while
// an image is in progress. nil selects NewEncoderOptions.
func (e *Encoder) SetOptions(opts *EncoderOptions) error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.state == stateFrameAccumulation || e.state == stateFinalizing {
		return fmt.Errorf("%w: options changed in state %v", ErrAPIUsage, e.state)
	}
	if opts == nil {
		opts = NewEncoderOptions()
	}
	o := opts.Clone()
	if err := o.Validate(); err != nil {
		return err
	}
	if o.MemoryManager != e.opts.MemoryManager {
		log.Warn("jxl: memory manager change ignored by an existing encoder")
		o.MemoryManager = e.opts.MemoryManager
	}
	if o.Lossless && o.Quality != 0 {
		log.WithField("quality", o.Quality).Debug("jxl: lossless overrides quality")
	}
	e.opts = o
	return nil
}

func (e *Encoder) usable() error {
	if e.eng == nil {
		return fmt.Errorf("%w: encoder closed", ErrAPIUsage)
	}
	return nil
}

// Close releases the engine. It is safe to call more than once.
func (e *Encoder) Close() {
	if e.eng == nil {
		return
	}
	e.eng.Close()
	e.eng = nil
}

// abort drops the image in progress so the encoder can start over.
func (e *Encoder) abort(err error) error {
	if e.eng != nil {
		e.eng.Reset()
	}
	e.state = stateConfiguring
	e.frames = 0
	return err
}

// Begin starts an image with the configured color encoding and alpha.
func (e *Encoder) Begin(width, height uint32, t SampleType) error {
	return e.begin(width, height, t, e.opts.ColorEncoding, e.opts.HasAlpha)
}

func (e *Encoder) begin(width, height uint32, t SampleType, ce ColorEncoding, hasAlpha bool) error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.state == stateFrameAccumulation || e.state == stateFinalizing {
		return fmt.Errorf("%w: begin in state %v", ErrAPIUsage, e.state)
	}
	if t.Size() == 0 {
		return fmt.Errorf("%w: sample type %v", ErrUnsupported, t)
	}
	info := &engine.BasicInfo{
		Xsize:               width,
		Ysize:               height,
		NumColorChannels:    3,
		Orientation:         e.opts.Orientation,
		UsesOriginalProfile: e.opts.UsesOriginalProfile || e.opts.Lossless,
		IntensityTarget:     255,
		HaveAnimation:       e.opts.TicksPerSecond > 0,
		TicksPerSecond:      e.opts.TicksPerSecond,
	}
	switch t {
	case Uint8:
		info.BitsPerSample = 8
	case Uint16:
		info.BitsPerSample = 16
	case Float16:
		info.BitsPerSample, info.ExponentBitsPerSample = 16, 5
	case Float32:
		info.BitsPerSample, info.ExponentBitsPerSample = 32, 8
	}
	if ce.IsGray() {
		info.NumColorChannels = 1
	}
	if hasAlpha {
		info.AlphaBits, info.AlphaExponentBits = info.BitsPerSample, info.ExponentBitsPerSample
	}

	e.eng.Reset()
	e.frames = 0
	if err := e.eng.SetParallelRunner(e.opts.Runner); err != nil {
		return e.abort(engineError(err))
	}
	if err := e.eng.SetBasicInfo(info); err != nil {
		return e.abort(engineError(err))
	}
	if len(e.opts.ICCProfile) > 0 {
		if err := e.eng.SetICCProfile(e.opts.ICCProfile); err != nil {
			return e.abort(engineError(err))
		}
	} else if err := e.eng.SetColorEncoding(ce.engine()); err != nil {
		return e.abort(engineError(err))
	}
	if err := e.eng.UseContainer(e.opts.UseContainer); err != nil {
		return e.abort(engineError(err))
	}
	e.width, e.height, e.sampleType = width, height, t
	e.state = stateFrameAccumulation
	log.WithFields(log.Fields{
		"width":    width,
		"height":   height,
		"type":     t,
		"color":    ce,
		"alpha":    hasAlpha,
		"lossless": e.opts.Lossless,
		"speed":    e.opts.Speed,
	}).Debug("jxl: encode begin")
	return nil
}

func (e *Encoder) frameSettings(duration uint32, name string) engine.FrameSettings {
	return engine.FrameSettings{
		Distance:      e.opts.distance(),
		Lossless:      e.opts.Lossless,
		Effort:        int(e.opts.Speed),
		DecodingSpeed: e.opts.DecodingSpeed,
		GroupShift:    uint8(e.opts.GroupSize),
		Duration:      duration,
		Name:          name,
	}
}

func (e *Encoder) accumulating(op string) error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.state != stateFrameAccumulation {
		return fmt.Errorf("%w: %s in state %v", ErrAPIUsage, op, e.state)
	}
	return nil
}

// AddFrame codes a frame of the current image. A frame the engine rejects
// ends the image.
func (e *Encoder) AddFrame(f *Frame) error {
	if err := e.accumulating("add frame"); err != nil {
		return err
	}
	if err := f.Format.Validate(); err != nil {
		return err
	}
	if need := RequiredBytes(f.Format, e.width, e.height); len(f.Data) < need {
		return fmt.Errorf("%w: frame of %d bytes, need %d", ErrAPIUsage, len(f.Data), need)
	}
	if err := e.eng.AddFrame(e.frameSettings(f.Duration, f.Name), f.Format.engine(), f.Data); err != nil {
		return e.abort(engineError(err))
	}
	e.frames++
	return nil
}

// AddJPEGFrame codes the pixels of a JPEG file losslessly. With
// StoreJPEGMetadata the first such frame can be reconstructed bit for bit by
// DecodeJPEG.
func (e *Encoder) AddJPEGFrame(jpeg []byte) error {
	if err := e.accumulating("add jpeg frame"); err != nil {
		return err
	}
	if err := e.eng.AddJPEGFrame(e.frameSettings(0, ""), jpeg, e.opts.StoreJPEGMetadata); err != nil {
		return e.abort(engineError(err))
	}
	e.frames++
	return nil
}

// exifHeaderOffset precedes the TIFF structure in an Exif box.
var exifHeaderOffset = []byte{0, 0, 0, 0}

// AddMetadata stores the non-empty payloads of m as boxes, Brotli
// compressed when compress is set. Metadata forces the container format.
func (e *Encoder) AddMetadata(m *Metadata, compress bool) error {
	if err := e.accumulating("add metadata"); err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	boxes := []struct {
		typ  engine.BoxType
		data []byte
	}{
		{engine.TypeExif, m.Exif},
		{engine.TypeXML, m.XMP},
		{engine.TypeJUMBF, m.JUMBF},
	}
	forced := !e.eng.Container()
	for _, b := range boxes {
		if len(b.data) == 0 {
			continue
		}
		data := b.data
		if b.typ == engine.TypeExif {
			data = append(append([]byte(nil), exifHeaderOffset...), b.data...)
		}
		if err := e.eng.AddBox(b.typ, data, compress); err != nil {
			return e.abort(engineError(err))
		}
		if forced {
			log.WithField("box", b.typ.String()).Warn("jxl: metadata forces the container format")
			forced = false
		}
	}
	return nil
}

// Finalize closes the image and returns the encoded stream. The encoder is
// ready for a new Begin afterwards, whether Finalize succeeded or not.
func (e *Encoder) Finalize() ([]byte, error) {
	if err := e.accumulating("finalize"); err != nil {
		return nil, err
	}
	e.state = stateFinalizing
	e.eng.CloseInput()

	out, err := newGrowBuffer(e.opts.MemoryManager, e.opts.InitBufferSize)
	if err != nil {
		return nil, e.abort(err)
	}
	for {
		n, st := e.eng.ProcessOutput(out.tail())
		out.commit(n)
		switch st {
		case engine.EncSuccess:
			data := out.bytes()
			e.eng.Reset()
			e.state = stateEncoded
			log.WithFields(log.Fields{"frames": e.frames, "bytes": len(data)}).Debug("jxl: encode done")
			e.frames = 0
			return data, nil
		case engine.EncNeedMoreOutput:
			if err := out.double(); err != nil {
				out.release()
				return nil, e.abort(err)
			}
		case engine.EncError:
			out.release()
			return nil, e.abort(engineError(e.eng.Err()))
		default:
			out.release()
			return nil, e.abort(&StatusError{Status: int(st)})
		}
	}
}

// Encode encodes a single frame image. The channel layout follows
// format.NumChannels: 1 gray, 2 gray+alpha, 3 RGB, 4 RGBA, with the
// configured color encoding adjusted to match.
func (e *Encoder) Encode(pix []byte, width, height uint32, format PixelFormat) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	gray := format.NumChannels <= 2
	ce := e.opts.ColorEncoding
	switch {
	case gray && ce == SRGB:
		ce = SRGBLuma
	case gray && ce == LinearSRGB:
		ce = LinearSRGBLuma
	case !gray && ce == SRGBLuma:
		ce = SRGB
	case !gray && ce == LinearSRGBLuma:
		ce = LinearSRGB
	}
	if err := e.begin(width, height, format.SampleType, ce, format.NumChannels%2 == 0); err != nil {
		return nil, err
	}
	if err := e.AddFrame(&Frame{Data: pix, Format: format}); err != nil {
		return nil, e.abort(err)
	}
	return e.Finalize()
}

// EncodeSamples encodes typed samples in native endianness.
func EncodeSamples[T Sample](e *Encoder, samples []T, width, height uint32, numChannels int) ([]byte, error) {
	f := NewFrame(samples, numChannels)
	return e.Encode(f.Data, width, height, f.Format)
}

// EncodeJPEG recompresses a JPEG file losslessly. Its dimensions and
// component count are read from the frame header.
func (e *Encoder) EncodeJPEG(jpeg []byte) ([]byte, error) {
	hdr, err := jpegscan.Scan(jpeg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadInput, err)
	}
	ce := e.opts.ColorEncoding
	if hdr.Components == 1 {
		ce = SRGBLuma
	} else if ce.IsGray() {
		ce = SRGB
	}
	if err := e.begin(uint32(hdr.Width), uint32(hdr.Height), Uint8, ce, false); err != nil {
		return nil, err
	}
	if err := e.AddJPEGFrame(jpeg); err != nil {
		return nil, e.abort(err)
	}
	return e.Finalize()
}
