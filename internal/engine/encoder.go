package engine

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/klauspost/compress/zstd"

	"github.com/cocosip/go-jxl/internal/jpegscan"
	"github.com/cocosip/go-jxl/parallel"
)

var (
	errNoBasicInfo   = errors.New("basic info not set")
	errNoColor       = errors.New("color encoding not set")
	errNoFrames      = errors.New("no frames added")
	errNotClosed     = errors.New("input not closed")
	errFrameSettings = errors.New("invalid frame settings")
	errReservedBox   = errors.New("reserved box type")
)

// encodedFrame is a frame whose groups are compressed; its header is
// written once it is known whether it is the last frame.
type encodedFrame struct {
	info   *frameInfo
	groups [][]byte
}

type pendingBox struct {
	typ      BoxType
	data     []byte
	compress bool
}

// Encoder is the encoding engine. Frames are coded as they are added; the
// stream is assembled on the first ProcessOutput after CloseInput and then
// handed out in caller-sized pieces.
type Encoder struct {
	alloc  Allocator
	runner parallel.Runner

	info       *BasicInfo
	colorSet   bool
	colorSpace ColorSpace
	icc        []byte
	container  bool

	frames []encodedFrame
	boxes  []pendingBox
	jpeg   []byte

	closed   bool
	output   []byte
	owned    []byte // output from alloc, freed on Reset
	outPos   int
	err      error
	released bool
}

// NewEncoder creates an encoder. alloc may be nil.
func NewEncoder(alloc Allocator) *Encoder {
	return &Encoder{alloc: alloc}
}

// Err returns the failure recorded by the last failing call.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) fail(code ErrorCode, op string, err error) error {
	ee := newError(code, op, err)
	if e.err == nil {
		e.err = ee
	}
	return ee
}

func (e *Encoder) usable(op string) error {
	switch {
	case e.released:
		return e.fail(CodeAPIUsage, op, errors.New("encoder closed"))
	case e.closed:
		return e.fail(CodeAPIUsage, op, errInputClosed)
	}
	return nil
}

// SetParallelRunner sets the runner for group encoding; nil runs
// sequentially.
func (e *Encoder) SetParallelRunner(r parallel.Runner) error {
	if err := e.usable("set runner"); err != nil {
		return err
	}
	e.runner = r
	return nil
}

// SetBasicInfo sets the image header. It must precede every frame.
func (e *Encoder) SetBasicInfo(info *BasicInfo) error {
	if err := e.usable("set basic info"); err != nil {
		return err
	}
	if len(e.frames) > 0 {
		return e.fail(CodeAPIUsage, "set basic info", errors.New("frames already added"))
	}
	if err := info.Validate(); err != nil {
		return e.fail(CodeNotSupported, "set basic info", err)
	}
	b := *info
	if b.AlphaBits > 0 {
		b.NumExtraChannels = 1
	} else {
		b.NumExtraChannels = 0
	}
	e.info = &b
	return nil
}

// SetColorEncoding sets a structured color encoding.
func (e *Encoder) SetColorEncoding(cs ColorSpace) error {
	if err := e.usable("set color encoding"); err != nil {
		return err
	}
	if e.info == nil {
		return e.fail(CodeAPIUsage, "set color encoding", errNoBasicInfo)
	}
	switch cs {
	case ColorSRGB, ColorLinearSRGB, ColorGraySRGB, ColorGrayLinear:
	default:
		return e.fail(CodeNotSupported, "set color encoding", fmt.Errorf("color space %d", cs))
	}
	if cs.IsGray() != (e.info.NumColorChannels == 1) {
		return e.fail(CodeAPIUsage, "set color encoding",
			fmt.Errorf("color space %d does not fit %d color channels", cs, e.info.NumColorChannels))
	}
	e.colorSpace, e.icc, e.colorSet = cs, nil, true
	return nil
}

// SetICCProfile sets an ICC profile instead of a structured encoding.
func (e *Encoder) SetICCProfile(icc []byte) error {
	if err := e.usable("set icc profile"); err != nil {
		return err
	}
	if e.info == nil {
		return e.fail(CodeAPIUsage, "set icc profile", errNoBasicInfo)
	}
	if len(icc) == 0 || len(icc) > maxICCSize {
		return e.fail(CodeAPIUsage, "set icc profile", fmt.Errorf("profile of %d bytes", len(icc)))
	}
	e.colorSpace, e.icc, e.colorSet = ColorICC, append([]byte(nil), icc...), true
	return nil
}

// UseContainer selects the box container even without metadata.
func (e *Encoder) UseContainer(use bool) error {
	if err := e.usable("use container"); err != nil {
		return err
	}
	e.container = use
	return nil
}

// Container reports whether the output will be a container, which is also
// the case when boxes or JPEG reconstruction data are stored.
func (e *Encoder) Container() bool {
	return e.container || len(e.boxes) > 0 || e.jpeg != nil
}

func (e *Encoder) checkFrame(op string, s FrameSettings) error {
	if err := e.usable(op); err != nil {
		return err
	}
	if e.info == nil {
		return e.fail(CodeAPIUsage, op, errNoBasicInfo)
	}
	if !e.colorSet {
		return e.fail(CodeAPIUsage, op, errNoColor)
	}
	switch {
	case s.Effort < 1 || s.Effort > 9:
		return e.fail(CodeAPIUsage, op, fmt.Errorf("%w: effort %d", errFrameSettings, s.Effort))
	case s.DecodingSpeed < 0 || s.DecodingSpeed > 4:
		return e.fail(CodeAPIUsage, op, fmt.Errorf("%w: decoding speed %d", errFrameSettings, s.DecodingSpeed))
	case s.GroupShift > 3:
		return e.fail(CodeAPIUsage, op, fmt.Errorf("%w: group shift %d", errFrameSettings, s.GroupShift))
	case s.Distance < 0 || s.Distance > 25:
		return e.fail(CodeAPIUsage, op, fmt.Errorf("%w: distance %g", errFrameSettings, s.Distance))
	case len(s.Name) > maxNameSize:
		return e.fail(CodeAPIUsage, op, fmt.Errorf("%w: name of %d bytes", errFrameSettings, len(s.Name)))
	}
	return nil
}

// AddFrame codes one frame from an interleaved buffer carrying the image's
// channels.
func (e *Encoder) AddFrame(s FrameSettings, format PixelFormat, pix []byte) error {
	if err := e.checkFrame("add frame", s); err != nil {
		return err
	}
	if s.Lossless && !e.info.UsesOriginalProfile {
		return e.fail(CodeAPIUsage, "add frame", errors.New("lossless requires the original color profile"))
	}
	planes, err := importPlanes(e.info, format, pix)
	if err != nil {
		return e.fail(CodeAPIUsage, "add frame", err)
	}
	return e.addPlanes(s, planes)
}

// AddJPEGFrame codes the pixels of a baseline or progressive JPEG
// losslessly. When reconstruct is set and this is the first frame, the
// JPEG bytes are kept so a decoder can hand back the original file.
func (e *Encoder) AddJPEGFrame(s FrameSettings, data []byte, reconstruct bool) error {
	if err := e.checkFrame("add jpeg frame", s); err != nil {
		return err
	}
	hdr, err := jpegscan.Scan(data)
	if err != nil {
		return e.fail(CodeBadInput, "add jpeg frame", err)
	}
	if uint32(hdr.Width) != e.info.Xsize || uint32(hdr.Height) != e.info.Ysize {
		return e.fail(CodeAPIUsage, "add jpeg frame",
			fmt.Errorf("jpeg is %dx%d, image is %dx%d", hdr.Width, hdr.Height, e.info.Xsize, e.info.Ysize))
	}
	if e.info.IsFloat() || e.info.BitsPerSample != 8 {
		return e.fail(CodeAPIUsage, "add jpeg frame", fmt.Errorf("jpeg frames need 8-bit samples, image has %d", e.info.BitsPerSample))
	}
	if hdr.Components > 1 && e.info.NumColorChannels == 1 {
		return e.fail(CodeAPIUsage, "add jpeg frame", errors.New("color jpeg in a gray image"))
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return e.fail(CodeBadInput, "add jpeg frame", err)
	}
	planes := jpegPlanes(img, e.info)
	s.Lossless = true
	if reconstruct && len(e.frames) == 0 {
		e.jpeg = append([]byte(nil), data...)
	}
	return e.addPlanes(s, planes)
}

// jpegPlanes converts a decoded JPEG into 8-bit planes for info.
func jpegPlanes(img image.Image, info *BasicInfo) [][]int32 {
	w, h := int(info.Xsize), int(info.Ysize)
	planes := make([][]int32, info.NumChannels())
	for c := range planes {
		planes[c] = make([]int32, w*h)
	}
	b := img.Bounds()
	gray, isGray := img.(*image.Gray)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if isGray {
				v := int32(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
				for c := 0; c < int(info.NumColorChannels); c++ {
					planes[c][i] = v
				}
			} else {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				planes[0][i], planes[1][i], planes[2][i] = int32(r>>8), int32(g>>8), int32(bl>>8)
			}
			if info.AlphaBits > 0 {
				planes[info.NumColorChannels][i] = 255
			}
		}
	}
	return planes
}

func (e *Encoder) addPlanes(s FrameSettings, planes [][]int32) error {
	f := planFrame(e.info, s)
	forwardFrame(f, e.info, planes)
	groups, err := e.encodeGroups(f, planes, s.Effort)
	if err != nil {
		return e.fail(CodeGeneric, "encode groups", err)
	}
	e.frames = append(e.frames, encodedFrame{info: f, groups: groups})
	return nil
}

// encodeGroups compresses every group of a frame as one parallel section.
func (e *Encoder) encodeGroups(f *frameInfo, planes [][]int32, effort int) ([][]byte, error) {
	dim := f.groupDim()
	n := numGroups(e.info.Xsize, e.info.Ysize, dim)
	groups := make([][]byte, n)
	level := levelForEffort(effort)
	var scratch []groupScratch
	initFn := func(numThreads int) error {
		scratch = make([]groupScratch, numThreads)
		for i := range scratch {
			enc, err := getZstdEncoder(level)
			if err != nil {
				return err
			}
			scratch[i].enc, scratch[i].level = enc, level
		}
		return nil
	}
	runFn := func(item uint32, threadID int) {
		r := groupRect(int(item), e.info.Xsize, e.info.Ysize, dim)
		groups[item] = encodeGroup(&scratch[threadID], planes, int(e.info.Xsize), r, f.predictor)
	}
	err := parallel.Run(e.runner, initFn, runFn, 0, uint32(n))
	for i := range scratch {
		scratch[i].release()
	}
	if err != nil {
		return nil, err
	}
	f.groupSizes = make([]uint32, n)
	for i, g := range groups {
		f.groupSizes[i] = uint32(len(g))
	}
	return groups, nil
}

// AddBox stores a metadata box, Brotli compressed in a brob box when
// compress is set. Boxes force the container format.
func (e *Encoder) AddBox(t BoxType, data []byte, compress bool) error {
	if err := e.usable("add box"); err != nil {
		return err
	}
	switch t {
	case TypeSignature, TypeFileType, TypeCodestream, TypePartial, TypeJPEGRecon, TypeBrotli:
		return e.fail(CodeAPIUsage, "add box", fmt.Errorf("%w %q", errReservedBox, t))
	}
	e.boxes = append(e.boxes, pendingBox{typ: t, data: append([]byte(nil), data...), compress: compress})
	return nil
}

// CloseInput marks the end of frames and boxes.
func (e *Encoder) CloseInput() {
	e.closed = true
}

// ProcessOutput copies the next piece of the encoded stream into buf.
func (e *Encoder) ProcessOutput(buf []byte) (int, EncoderStatus) {
	if e.released {
		e.fail(CodeAPIUsage, "process output", errors.New("encoder closed"))
		return 0, EncError
	}
	if e.err != nil {
		return 0, EncError
	}
	if !e.closed {
		e.fail(CodeAPIUsage, "process output", errNotClosed)
		return 0, EncError
	}
	if e.output == nil {
		out, err := e.assemble()
		if err != nil {
			var ee *Error
			if errors.As(err, &ee) {
				e.err = ee
			} else {
				e.fail(CodeGeneric, "process output", err)
			}
			return 0, EncError
		}
		e.output = out
	}
	n := copy(buf, e.output[e.outPos:])
	e.outPos += n
	if e.outPos < len(e.output) {
		return n, EncNeedMoreOutput
	}
	return n, EncSuccess
}

// assemble builds the whole output stream.
func (e *Encoder) assemble() ([]byte, error) {
	if len(e.frames) == 0 {
		return nil, newError(CodeAPIUsage, "process output", errNoFrames)
	}
	w := &byteWriter{buf: append([]byte(nil), codestreamSignature...)}
	writeImageHeader(w, e.info)
	writeColorSection(w, e.colorSpace, e.icc)
	size := len(w.buf)
	for i := range e.frames {
		for _, g := range e.frames[i].groups {
			size += len(g)
		}
	}
	cs := make([]byte, 0, size)
	if e.alloc != nil {
		buf := allocBytes(e.alloc, size)
		if buf == nil {
			return nil, newError(CodeOutOfMemory, "process output", fmt.Errorf("allocating %d bytes", size))
		}
		cs = buf[:0]
	}
	cs = append(cs, w.buf...)
	for i, fr := range e.frames {
		fr.info.IsLast = i == len(e.frames)-1
		fw := &byteWriter{}
		writeFrameHeader(fw, fr.info)
		cs = append(cs, fw.buf...)
		for _, g := range fr.groups {
			cs = append(cs, g...)
		}
	}
	if !e.Container() {
		if e.alloc != nil {
			e.owned = cs
		}
		return cs, nil
	}
	if e.alloc != nil {
		defer e.alloc.Free(cs)
	}

	out := append([]byte(nil), containerSignature...)
	out = appendBox(out, TypeFileType, fileTypeContents())
	for _, b := range e.boxes {
		if !b.compress {
			out = appendBox(out, b.typ, b.data)
			continue
		}
		contents, err := compressBrob(b.typ, b.data)
		if err != nil {
			return nil, newError(CodeGeneric, "add box", err)
		}
		out = appendBox(out, TypeBrotli, contents)
	}
	if e.jpeg != nil {
		jbrd, err := compressZstd(e.jpeg, zstd.SpeedBetterCompression)
		if err != nil {
			return nil, newError(CodeJBRD, "jpeg reconstruction", err)
		}
		out = appendBox(out, TypeJPEGRecon, jbrd)
	}
	return appendBox(out, TypeCodestream, cs), nil
}

// Reset returns the encoder to its freshly created state. The allocator is
// kept.
func (e *Encoder) Reset() {
	if e.owned != nil {
		e.alloc.Free(e.owned)
	}
	*e = Encoder{alloc: e.alloc}
}

// Close releases the encoder. Every later call fails.
func (e *Encoder) Close() {
	e.Reset()
	e.released = true
}
