package jxl

import (
	"encoding/binary"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/cocosip/go-jxl/internal/engine"
	"github.com/cocosip/go-jxl/parallel"
)

// maxOutputBytes bounds the pixel buffer allocated for one image.
var maxOutputBytes int64 = 1 << 31

type decodeState int

const (
	stateAwaitingInput decodeState = iota
	stateBasicInfoPending
	stateColorProfilePending
	stateAwaitingOutputBuffer
	stateStreaming
	stateDone
	stateFailed
)

func (s decodeState) String() string {
	switch s {
	case stateAwaitingInput:
		return "awaiting input"
	case stateBasicInfoPending:
		return "basic info pending"
	case stateColorProfilePending:
		return "color profile pending"
	case stateAwaitingOutputBuffer:
		return "awaiting output buffer"
	case stateStreaming:
		return "streaming"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return fmt.Sprintf("decodeState(%d)", int(s))
}

// MetadataBox is a metadata box found in a container.
type MetadataBox struct {
	Type string
	Data []byte
	// Compressed is set when Data is still Brotli compressed because box
	// decompression was turned off.
	Compressed bool
}

// DecodeResult is a decoded image. It does not reference the decoder.
type DecodeResult struct {
	Info       BasicInfo
	ICCProfile []byte
	// Format is the effective pixel format of Pixels.
	Format PixelFormat
	Stride int
	// Pixels holds the last frame. Typed samples carry meaningful values
	// only with native endianness.
	Pixels Pixels
	Frames []FrameHeader
	// Exif is the TIFF payload of the Exif box, without its offset prefix.
	Exif  []byte
	XMP   []byte
	JUMBF []byte
	Boxes []MetadataBox
}

// Decoder decodes JPEG XL streams. It owns one engine instance, which is
// reused across images. A Decoder must not be used from two goroutines at
// once.
type Decoder struct {
	opts  *DecoderOptions
	eng   decoderEngine
	state decodeState

	// per image
	started    bool
	sampleType SampleType
	fixedType  bool
	wantJPEG   bool
	input      []byte
	inputHeld  bool
	closed     bool
	info       *BasicInfo
	format     PixelFormat
	icc        []byte
	pixels     Pixels
	frames     []FrameHeader
	jpeg       *growBuffer
	jpegOffer  int
	result     *DecodeResult
	err        error
}

// NewDecoder creates a decoder. nil options select NewDecoderOptions.
func NewDecoder(opts *DecoderOptions) (*Decoder, error) {
	if opts == nil {
		opts = NewDecoderOptions()
	} else {
		c := *opts
		opts = &c
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	eng := newDecoderEngine(opts.MemoryManager)
	if eng == nil {
		return nil, ErrConstructionFailure
	}
	return &Decoder{opts: opts, eng: eng}, nil
}

// Options returns a copy of the decoder's options.
func (d *Decoder) Options() DecoderOptions {
	return *d.opts
}

// SetOptions replaces the options for the next image. It is rejected while
// a decode or Session is in progress. nil selects NewDecoderOptions.
func (d *Decoder) SetOptions(opts *DecoderOptions) error {
	if d.eng == nil {
		return fmt.Errorf("%w: decoder closed", ErrAPIUsage)
	}
	if d.started && d.state != stateDone && d.state != stateFailed {
		return fmt.Errorf("%w: options changed in state %v", ErrAPIUsage, d.state)
	}
	var o DecoderOptions
	if opts == nil {
		o = *NewDecoderOptions()
	} else {
		o = *opts
	}
	if err := o.Validate(); err != nil {
		return err
	}
	if o.MemoryManager != d.opts.MemoryManager {
		log.Warn("jxl: memory manager change ignored by an existing decoder")
		o.MemoryManager = d.opts.MemoryManager
	}
	d.opts = &o
	return nil
}

// Close releases the engine. It is safe to call more than once.
func (d *Decoder) Close() {
	if d.eng == nil {
		return
	}
	d.releaseJPEG()
	d.eng.Close()
	d.eng = nil
}

// Decode decodes data with the sample type inferred from the image depth.
func (d *Decoder) Decode(data []byte) (*DecodeResult, error) {
	return d.decode(data, 0, false)
}

// DecodeAs decodes data into samples of type t.
func (d *Decoder) DecodeAs(data []byte, t SampleType) (*DecodeResult, error) {
	if t.Size() == 0 {
		return nil, fmt.Errorf("%w: sample type %v", ErrUnsupported, t)
	}
	return d.decode(data, t, true)
}

// DecodeTo decodes data into a slice of T, returning the image header and
// w*h*channels samples (more when rows are padded by alignment).
func DecodeTo[T Sample](d *Decoder, data []byte) (BasicInfo, []T, error) {
	res, err := d.DecodeAs(data, sampleTypeOf[T]())
	if err != nil {
		return BasicInfo{}, nil, err
	}
	s, ok := samplesOf[T](res.Pixels)
	if !ok {
		return BasicInfo{}, nil, fmt.Errorf("%w: decoded %v samples", ErrGeneric, res.Pixels.SampleType())
	}
	return res.Info, s, nil
}

// DecodeJPEG reconstructs the JPEG file a stream was recompressed from.
// Streams without reconstruction data fail with ErrCannotReconstruct.
func (d *Decoder) DecodeJPEG(data []byte) (BasicInfo, []byte, error) {
	if err := d.begin(0, false, true); err != nil {
		return BasicInfo{}, nil, err
	}
	res, err := d.run(data)
	if err != nil {
		return BasicInfo{}, nil, err
	}
	jpeg := d.jpeg.bytes()
	d.jpeg = nil
	return res.Info, jpeg, nil
}

func (d *Decoder) decode(data []byte, t SampleType, fixed bool) (*DecodeResult, error) {
	if err := d.begin(t, fixed, false); err != nil {
		return nil, err
	}
	return d.run(data)
}

// run feeds data as the complete input and steps until success.
func (d *Decoder) run(data []byte) (*DecodeResult, error) {
	if err := d.setInput(data); err != nil {
		return nil, err
	}
	d.closeInput()
	for {
		st, err := d.step()
		if err != nil {
			return nil, err
		}
		if st == engine.DecSuccess {
			return d.result, nil
		}
	}
}

// begin prepares the engine for a new image.
func (d *Decoder) begin(t SampleType, fixed, wantJPEG bool) error {
	if d.eng == nil {
		return fmt.Errorf("%w: decoder closed", ErrAPIUsage)
	}
	d.releaseJPEG()
	d.eng.Reset()
	*d = Decoder{opts: d.opts, eng: d.eng, started: true, sampleType: t, fixedType: fixed, wantJPEG: wantJPEG}

	events := engine.EventBasicInfo | engine.EventColorEncoding | engine.EventFrame
	if wantJPEG {
		events |= engine.EventJPEGReconstruction
	} else {
		events |= engine.EventFullImage
	}
	if err := d.eng.Subscribe(events); err != nil {
		return d.fail(engineError(err))
	}
	if err := d.eng.SetParallelRunner(d.opts.Runner); err != nil {
		return d.fail(engineError(err))
	}
	if err := d.eng.SetKeepOrientation(d.opts.KeepOrientation); err != nil {
		return d.fail(engineError(err))
	}
	d.eng.SetDecompressBoxes(d.opts.DecompressBoxes)
	return nil
}

// setInput hands data to the engine. The previous input must have been
// released and input must not be closed.
func (d *Decoder) setInput(data []byte) error {
	if d.eng == nil {
		return fmt.Errorf("%w: decoder closed", ErrAPIUsage)
	}
	if d.inputHeld || d.closed {
		return ErrInputAlreadySet
	}
	if err := d.eng.SetInput(data); err != nil {
		return fmt.Errorf("%w: %w", ErrInputProtocol, err)
	}
	d.input = data
	d.inputHeld = true
	if d.state == stateAwaitingInput {
		d.state = stateBasicInfoPending
	}
	return nil
}

// releaseInput detaches the current input and returns the bytes the engine
// did not consume.
func (d *Decoder) releaseInput() []byte {
	if !d.inputHeld {
		return nil
	}
	n := min(max(d.eng.ReleaseInput(), 0), len(d.input))
	rest := d.input[len(d.input)-n:]
	d.input, d.inputHeld = nil, false
	return rest
}

func (d *Decoder) closeInput() {
	d.closed = true
	d.eng.CloseInput()
}

func (d *Decoder) fail(err error) error {
	if d.err == nil {
		d.err = err
	}
	d.state = stateFailed
	d.releaseJPEG()
	if d.eng != nil {
		d.releaseInput()
		d.eng.Reset()
	}
	return err
}

func (d *Decoder) outOfOrder(st engine.DecoderStatus) error {
	return d.fail(fmt.Errorf("%w: unexpected %v in state %v", ErrGeneric, st, d.state))
}

// step runs one engine status query and reacts to it.
func (d *Decoder) step() (engine.DecoderStatus, error) {
	if d.state == stateFailed {
		return engine.DecError, d.err
	}
	if d.eng == nil {
		return engine.DecError, fmt.Errorf("%w: decoder closed", ErrAPIUsage)
	}
	st := d.eng.ProcessInput()
	switch st {
	case engine.DecError:
		return st, d.fail(engineError(d.eng.Err()))

	case engine.DecNeedMoreInput:
		if d.closed {
			return st, d.fail(fmt.Errorf("%w: truncated input", ErrGeneric))
		}
		return st, nil

	case engine.DecBasicInfo:
		if d.state != stateBasicInfoPending {
			return st, d.outOfOrder(st)
		}
		return st, d.onBasicInfo()

	case engine.DecColorEncoding:
		if d.state != stateColorProfilePending {
			return st, d.outOfOrder(st)
		}
		return st, d.onColorEncoding()

	case engine.DecJPEGReconstruction:
		if d.state != stateAwaitingOutputBuffer || !d.wantJPEG || d.jpeg != nil {
			return st, d.outOfOrder(st)
		}
		return st, d.onJPEGReconstruction()

	case engine.DecJPEGNeedMoreOutput:
		if d.jpeg == nil {
			return st, d.outOfOrder(st)
		}
		return st, d.onJPEGNeedMoreOutput()

	case engine.DecFrame:
		if d.state != stateAwaitingOutputBuffer {
			return st, d.outOfOrder(st)
		}
		fh, err := d.eng.FrameHeader()
		if err != nil {
			return st, d.fail(engineError(err))
		}
		d.frames = append(d.frames, FrameHeader{Duration: fh.Duration, Name: fh.Name, IsLast: fh.IsLast})
		if d.pixels != nil && !d.wantJPEG {
			d.state = stateStreaming
		}
		return st, nil

	case engine.DecNeedImageOutBuffer:
		if d.state != stateAwaitingOutputBuffer || d.pixels != nil {
			return st, d.outOfOrder(st)
		}
		return st, d.onNeedImageOutBuffer()

	case engine.DecFullImage:
		if d.state != stateStreaming {
			return st, d.outOfOrder(st)
		}
		d.state = stateAwaitingOutputBuffer
		return st, nil

	case engine.DecSuccess:
		if d.state != stateAwaitingOutputBuffer {
			return st, d.outOfOrder(st)
		}
		return st, d.onSuccess()

	default:
		return st, d.fail(&StatusError{Status: int(st)})
	}
}

func (d *Decoder) onBasicInfo() error {
	ei := d.eng.BasicInfo()
	if ei == nil {
		return d.fail(fmt.Errorf("%w: basic info unavailable", ErrGeneric))
	}
	info := basicInfoFrom(ei)
	d.info = &info

	t := d.sampleType
	if !d.fixedType {
		t = inferSampleType(d.info)
	}
	n := d.opts.NumChannels
	if n == 0 {
		n = info.NumChannels()
	}
	d.format = PixelFormat{NumChannels: n, SampleType: t, Endianness: d.opts.Endianness, Align: d.opts.Align}
	if err := d.format.Validate(); err != nil {
		return d.fail(err)
	}
	if sa, ok := d.opts.Runner.(parallel.SizeAware); ok {
		sa.OnBasicInfo(info.Width, info.Height)
	}
	log.WithFields(log.Fields{
		"width":    info.Width,
		"height":   info.Height,
		"bits":     info.BitsPerSample,
		"channels": n,
		"type":     t,
	}).Debug("jxl: basic info")
	d.state = stateColorProfilePending
	return nil
}

func (d *Decoder) onColorEncoding() error {
	cs, err := d.eng.ColorSpace()
	if err != nil {
		return d.fail(engineError(err))
	}
	if cs == engine.ColorUnknown {
		return d.fail(fmt.Errorf("%w: no structured color encoding and no ICC profile", ErrGeneric))
	}
	size, err := d.eng.ICCProfileSize()
	if err != nil {
		return d.fail(fmt.Errorf("%w: no color profile: %w", ErrGeneric, err))
	}
	icc := make([]byte, size)
	if err := d.eng.ICCProfile(icc); err != nil {
		return d.fail(fmt.Errorf("%w: reading color profile: %w", ErrGeneric, err))
	}
	d.icc = icc
	d.state = stateAwaitingOutputBuffer
	return nil
}

func (d *Decoder) onJPEGReconstruction() error {
	g, err := newGrowBuffer(d.opts.MemoryManager, d.opts.InitJPEGBuffer)
	if err != nil {
		return d.fail(err)
	}
	d.jpeg = g
	return d.offerJPEG()
}

// offerJPEG hands the unwritten tail of the reconstruction buffer to the
// engine.
func (d *Decoder) offerJPEG() error {
	tail := d.jpeg.tail()
	if err := d.eng.SetJPEGBuffer(tail); err != nil {
		return d.fail(engineError(err))
	}
	d.jpegOffer = len(tail)
	return nil
}

// collectJPEG takes the reconstruction buffer back from the engine and
// records what it wrote.
func (d *Decoder) collectJPEG() {
	unused := d.eng.ReleaseJPEGBuffer()
	d.jpeg.commit(d.jpegOffer - unused)
	d.jpegOffer = 0
}

func (d *Decoder) onJPEGNeedMoreOutput() error {
	d.collectJPEG()
	if err := d.jpeg.grow(d.eng.JPEGDeficit()); err != nil {
		return d.fail(err)
	}
	return d.offerJPEG()
}

func (d *Decoder) releaseJPEG() {
	if d.jpeg != nil {
		d.jpeg.release()
		d.jpeg = nil
	}
}

func (d *Decoder) onNeedImageOutBuffer() error {
	ef := d.format.engine()
	size, err := d.eng.ImageOutBufferSize(ef)
	if err != nil {
		return d.fail(engineError(err))
	}
	if want := RequiredBytes(d.format, d.info.Width, d.info.Height); size != want {
		return d.fail(fmt.Errorf("%w: engine wants %d bytes for the output buffer, expected %d", ErrGeneric, size, want))
	}
	if int64(size) > maxOutputBytes {
		return d.fail(fmt.Errorf("%w: output buffer of %d bytes exceeds %d", ErrOutOfMemory, size, maxOutputBytes))
	}
	pix := newPixels(d.format.SampleType, size)
	if err := d.eng.SetImageOutBuffer(ef, pix.Bytes()); err != nil {
		return d.fail(engineError(err))
	}
	d.pixels = pix
	d.state = stateStreaming
	return nil
}

func (d *Decoder) onSuccess() error {
	if d.wantJPEG {
		if d.jpeg == nil {
			return d.fail(fmt.Errorf("%w: stream has no reconstruction data", ErrCannotReconstruct))
		}
		d.collectJPEG()
	}
	res := &DecodeResult{
		Info:       *d.info,
		ICCProfile: d.icc,
		Format:     d.format,
		Stride:     d.format.RowStride(d.info.Width),
		Pixels:     d.pixels,
		Frames:     d.frames,
	}
	for _, b := range d.eng.Boxes() {
		mb := MetadataBox{Type: b.Type.String(), Data: append([]byte(nil), b.Data...), Compressed: b.Compressed}
		res.Boxes = append(res.Boxes, mb)
		if mb.Compressed {
			continue
		}
		switch b.Type {
		case engine.TypeExif:
			if exif, err := exifPayload(mb.Data); err == nil {
				res.Exif = exif
			} else {
				log.WithError(err).Warn("jxl: ignoring malformed Exif box")
			}
		case engine.TypeXML:
			res.XMP = mb.Data
		case engine.TypeJUMBF:
			res.JUMBF = mb.Data
		}
	}
	d.releaseInput()
	d.eng.Reset()
	d.result = res
	d.state = stateDone
	log.WithFields(log.Fields{"frames": len(res.Frames), "boxes": len(res.Boxes)}).Debug("jxl: decode done")
	return nil
}

var errExifOffset = errors.New("exif header offset out of range")

// exifPayload strips the big-endian TIFF header offset that starts an Exif
// box.
func exifPayload(box []byte) ([]byte, error) {
	if len(box) < 4 {
		return nil, errExifOffset
	}
	off := binary.BigEndian.Uint32(box)
	if uint64(off) > uint64(len(box)-4) {
		return nil, errExifOffset
	}
	return box[4+off:], nil
}
