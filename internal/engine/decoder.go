package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cocosip/go-jxl/parallel"
)

type decodeStage int

const (
	stageSignature decodeStage = iota
	stageHeader
	stageColor
	stageJPEG
	stageJPEGWrite
	stageFrameHeader
	stageNeedBuffer
	stageGroups
	stageSkip
	stageDone
)

// decContinue is an internal status meaning "advance again".
const decContinue DecoderStatus = -1

// trim threshold for consumed codestream bytes
const compactThreshold = 1 << 16

// Decoder is the decoding engine. It produces one status per ProcessInput
// call and never blocks: missing input surfaces as DecNeedMoreInput.
type Decoder struct {
	alloc  Allocator
	runner parallel.Runner

	events          Event
	keepOrientation bool
	decompressBoxes bool

	input    []byte
	inputSet bool
	absorbed bool
	closed   bool
	head     []byte // bytes seen before the stream kind is known
	kind     Signature
	demux    demuxer
	cs       []byte
	pos      int

	stage      decodeStage
	info       *BasicInfo
	colorSpace ColorSpace
	icc        []byte
	frame      *frameInfo
	frames     int
	nextGroup  int
	skipRem    int64

	outFormat PixelFormat
	out       []byte

	jpeg       []byte
	jpegOut    int
	jpegBuf    []byte
	jpegBufPos int

	err      error
	released bool
}

// NewDecoder creates a decoder. alloc may be nil.
func NewDecoder(alloc Allocator) *Decoder {
	return &Decoder{alloc: alloc}
}

// Subscribe selects the informative events ProcessInput reports.
func (d *Decoder) Subscribe(events Event) error {
	if d.stage != stageSignature {
		return d.fail(newError(CodeAPIUsage, "subscribe", errors.New("decoding already started")))
	}
	d.events = events
	return nil
}

// SetParallelRunner sets the runner for group decoding; nil runs
// sequentially.
func (d *Decoder) SetParallelRunner(r parallel.Runner) error {
	if d.stage != stageSignature {
		return d.fail(newError(CodeAPIUsage, "set runner", errors.New("decoding already started")))
	}
	d.runner = r
	return nil
}

// SetKeepOrientation disables orientation of output pixels.
func (d *Decoder) SetKeepOrientation(keep bool) error {
	if d.stage > stageHeader {
		return d.fail(newError(CodeAPIUsage, "keep orientation", errors.New("basic info already decoded")))
	}
	d.keepOrientation = keep
	return nil
}

// SetDecompressBoxes makes brob metadata boxes decompress on the fly.
func (d *Decoder) SetDecompressBoxes(decompress bool) {
	d.decompressBoxes = decompress
	d.demux.decompress = decompress
}

// SetInput hands data to the decoder. The previous input must have been
// released.
func (d *Decoder) SetInput(data []byte) error {
	if d.released {
		return newError(CodeAPIUsage, "set input", errors.New("decoder closed"))
	}
	if d.inputSet {
		return newError(CodeAPIUsage, "set input", errInputSet)
	}
	if d.closed {
		return newError(CodeAPIUsage, "set input", errInputClosed)
	}
	d.input = data
	d.inputSet = true
	d.absorbed = false
	return nil
}

// ReleaseInput detaches the current input and returns how many of its
// bytes were not consumed. Partial units are buffered internally, so once
// ProcessInput has run the answer is 0.
func (d *Decoder) ReleaseInput() int {
	if !d.inputSet {
		return 0
	}
	n := 0
	if !d.absorbed {
		n = len(d.input)
	}
	d.input = nil
	d.inputSet = false
	return n
}

// CloseInput marks the current input as the last.
func (d *Decoder) CloseInput() {
	d.closed = true
}

// Err returns the failure that made ProcessInput report DecError.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) error {
	if d.err == nil {
		d.err = err
	}
	return err
}

// ProcessInput advances decoding until an event, a request, success or
// failure.
func (d *Decoder) ProcessInput() DecoderStatus {
	if d.released {
		d.fail(newError(CodeAPIUsage, "process input", errors.New("decoder closed")))
		return DecError
	}
	if d.err != nil {
		return DecError
	}
	if d.inputSet && !d.absorbed {
		d.absorbed = true
		if err := d.absorb(d.input); err != nil {
			d.fail(err)
			return DecError
		}
	}
	for {
		st, err := d.advance()
		if errors.Is(err, errShort) {
			if d.closed {
				d.fail(newError(CodeGeneric, "process input", errTruncated))
				return DecError
			}
			return DecNeedMoreInput
		}
		if err != nil {
			d.fail(err)
			return DecError
		}
		d.compact()
		if st != decContinue {
			return st
		}
	}
}

// absorb routes new bytes to the codestream, through the demuxer when the
// stream is a container.
func (d *Decoder) absorb(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if d.kind == SignatureNotEnoughBytes {
		d.head = append(d.head, data...)
		switch d.kind = CheckSignature(d.head); d.kind {
		case SignatureNotEnoughBytes:
			return nil
		case SignatureInvalid:
			return newError(CodeBadInput, "signature", errBadSignature)
		}
		data, d.head = d.head, nil
	}
	if d.kind == SignatureCodestream {
		return d.appendCodestream(data)
	}
	out, err := d.demux.feed(data)
	if aerr := d.appendCodestream(out); aerr != nil {
		return aerr
	}
	return err
}

func (d *Decoder) appendCodestream(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if len(d.cs)+len(b) > cap(d.cs) {
		buf := allocBytes(d.alloc, max(2*cap(d.cs), len(d.cs)+len(b)))
		if buf == nil {
			return newError(CodeOutOfMemory, "buffer input", fmt.Errorf("allocating %d bytes", len(d.cs)+len(b)))
		}
		n := copy(buf, d.cs)
		if d.alloc != nil && d.cs != nil {
			d.alloc.Free(d.cs)
		}
		d.cs = buf[:n]
	}
	d.cs = append(d.cs, b...)
	return nil
}

// compact drops consumed codestream bytes once they dominate the buffer.
func (d *Decoder) compact() {
	if d.pos < compactThreshold || d.pos < len(d.cs)/2 {
		return
	}
	n := copy(d.cs, d.cs[d.pos:])
	d.cs = d.cs[:n]
	d.pos = 0
}

func (d *Decoder) reader() *byteReader {
	return &byteReader{buf: d.cs[d.pos:]}
}

func (d *Decoder) advance() (DecoderStatus, error) {
	switch d.stage {
	case stageSignature:
		if d.kind == SignatureNotEnoughBytes || len(d.cs)-d.pos < len(codestreamSignature) {
			return 0, errShort
		}
		if d.cs[d.pos] != codestreamSignature[0] || d.cs[d.pos+1] != codestreamSignature[1] {
			return 0, newError(CodeBadInput, "signature", errBadSignature)
		}
		d.pos += len(codestreamSignature)
		d.stage = stageHeader
		return decContinue, nil

	case stageHeader:
		r := d.reader()
		info, err := readImageHeader(r)
		if err != nil {
			return 0, err
		}
		d.pos += r.pos
		info.HaveContainer = d.kind == SignatureContainer
		d.info = info
		d.stage = stageColor
		return d.emit(EventBasicInfo, DecBasicInfo), nil

	case stageColor:
		r := d.reader()
		cs, icc, err := readColorSection(r)
		if err != nil {
			return 0, err
		}
		d.pos += r.pos
		d.colorSpace, d.icc = cs, icc
		d.stage = stageJPEG
		return d.emit(EventColorEncoding, DecColorEncoding), nil

	case stageJPEG:
		d.stage = stageFrameHeader
		if d.events&EventJPEGReconstruction == 0 || d.demux.jbrd == nil {
			return decContinue, nil
		}
		jpeg, err := decompressZstd(d.demux.jbrd)
		if err != nil {
			return 0, newError(CodeJBRD, "jpeg reconstruction", err)
		}
		d.jpeg, d.jpegOut = jpeg, 0
		d.stage = stageJPEGWrite
		return DecJPEGReconstruction, nil

	case stageJPEGWrite:
		if d.jpegBuf == nil {
			return 0, newError(CodeAPIUsage, "jpeg reconstruction", errNoBuffer)
		}
		n := copy(d.jpegBuf[d.jpegBufPos:], d.jpeg[d.jpegOut:])
		d.jpegBufPos += n
		d.jpegOut += n
		if d.jpegOut < len(d.jpeg) {
			return DecJPEGNeedMoreOutput, nil
		}
		d.stage = stageFrameHeader
		return decContinue, nil

	case stageFrameHeader:
		r := d.reader()
		f, err := readFrameHeader(r, d.info.Xsize, d.info.Ysize)
		if err != nil {
			return 0, err
		}
		d.pos += r.pos
		d.frame = f
		d.frames++
		d.nextGroup = 0
		if d.events&EventFullImage != 0 {
			d.stage = stageNeedBuffer
		} else {
			d.stage = stageSkip
			d.skipRem = 0
			for _, s := range f.groupSizes {
				d.skipRem += int64(s)
			}
		}
		return d.emit(EventFrame, DecFrame), nil

	case stageNeedBuffer:
		if d.out == nil {
			return DecNeedImageOutBuffer, nil
		}
		d.stage = stageGroups
		return decContinue, nil

	case stageGroups:
		if err := d.decodeAvailableGroups(); err != nil {
			return 0, err
		}
		if d.nextGroup < len(d.frame.groupSizes) {
			return 0, errShort
		}
		d.finishFrame()
		return DecFullImage, nil

	case stageSkip:
		n := min(int64(len(d.cs)-d.pos), d.skipRem)
		d.pos += int(n)
		d.skipRem -= n
		if d.skipRem > 0 {
			return 0, errShort
		}
		d.finishFrame()
		return decContinue, nil

	default:
		return DecSuccess, nil
	}
}

func (d *Decoder) emit(e Event, st DecoderStatus) DecoderStatus {
	if d.events&e != 0 {
		return st
	}
	return decContinue
}

func (d *Decoder) finishFrame() {
	if d.frame.IsLast {
		d.stage = stageDone
	} else {
		d.stage = stageFrameHeader
	}
}

func (d *Decoder) orientation() uint32 {
	if d.keepOrientation {
		return 1
	}
	return d.info.Orientation
}

// decodeAvailableGroups decodes, as one parallel section, every group whose
// bytes have fully arrived.
func (d *Decoder) decodeAvailableGroups() error {
	first := d.nextGroup
	offsets := []int{d.pos}
	end := d.pos
	for g := first; g < len(d.frame.groupSizes); g++ {
		next := end + int(d.frame.groupSizes[g])
		if next > len(d.cs) {
			break
		}
		end = next
		offsets = append(offsets, end)
	}
	count := len(offsets) - 1
	if count == 0 {
		return nil
	}

	var (
		scratch  []groupScratch
		mu       sync.Mutex
		groupErr error
	)
	channels := d.info.NumChannels()
	dim := d.frame.groupDim()
	orientation := d.orientation()
	initFn := func(numThreads int) error {
		scratch = make([]groupScratch, numThreads)
		for i := range scratch {
			dec, err := getZstdDecoder()
			if err != nil {
				return err
			}
			scratch[i].dec = dec
		}
		return nil
	}
	runFn := func(item uint32, threadID int) {
		g := int(item)
		k := g - first
		r := groupRect(g, d.info.Xsize, d.info.Ysize, dim)
		planes, err := decodeGroup(&scratch[threadID], d.cs[offsets[k]:offsets[k+1]], channels, r, d.frame.predictor)
		if err != nil {
			mu.Lock()
			if groupErr == nil {
				groupErr = fmt.Errorf("group %d: %w", g, err)
			}
			mu.Unlock()
			return
		}
		inverseFrame(d.frame, d.info, planes)
		exportRect(planes, r, d.info, d.outFormat, d.out, orientation)
	}
	err := parallel.Run(d.runner, initFn, runFn, uint32(first), uint32(first+count))
	for i := range scratch {
		scratch[i].release()
	}
	if err != nil {
		return newError(CodeGeneric, "decode groups", err)
	}
	if groupErr != nil {
		return newError(CodeBadInput, "decode groups", groupErr)
	}
	d.pos = end
	d.nextGroup += count
	return nil
}

// BasicInfo returns the image header, with dimensions in display
// orientation unless orientation is kept. It is nil before DecBasicInfo.
func (d *Decoder) BasicInfo() *BasicInfo {
	if d.info == nil {
		return nil
	}
	info := *d.info
	info.Xsize, info.Ysize = orientedSize(d.info.Xsize, d.info.Ysize, d.orientation())
	return &info
}

// ColorSpace returns the structured color encoding of the image.
func (d *Decoder) ColorSpace() (ColorSpace, error) {
	if d.stage <= stageColor {
		return 0, newError(CodeAPIUsage, "color encoding", errors.New("color encoding not decoded yet"))
	}
	return d.colorSpace, nil
}

func (d *Decoder) profile() ([]byte, error) {
	if d.stage <= stageColor {
		return nil, newError(CodeAPIUsage, "icc profile", errors.New("color encoding not decoded yet"))
	}
	if d.icc == nil {
		icc, err := synthesizeICC(d.colorSpace)
		if err != nil {
			return nil, newError(CodeGeneric, "icc profile", err)
		}
		d.icc = icc
	}
	return d.icc, nil
}

// ICCProfileSize returns the size of the image's ICC profile, synthesized
// from the structured encoding when the stream carries none.
func (d *Decoder) ICCProfileSize() (int, error) {
	icc, err := d.profile()
	if err != nil {
		return 0, err
	}
	return len(icc), nil
}

// ICCProfile copies the profile into dst, which must hold ICCProfileSize
// bytes.
func (d *Decoder) ICCProfile(dst []byte) error {
	icc, err := d.profile()
	if err != nil {
		return err
	}
	if len(dst) < len(icc) {
		return newError(CodeAPIUsage, "icc profile", fmt.Errorf("%w: %d bytes, need %d", errBufferSize, len(dst), len(icc)))
	}
	copy(dst, icc)
	return nil
}

// ImageOutBufferSize returns the bytes needed to receive a full frame in
// format.
func (d *Decoder) ImageOutBufferSize(format PixelFormat) (int, error) {
	if d.info == nil {
		return 0, newError(CodeAPIUsage, "image out buffer size", errors.New("basic info not decoded yet"))
	}
	if err := format.Validate(); err != nil {
		return 0, newError(CodeAPIUsage, "image out buffer size", err)
	}
	w, h := orientedSize(d.info.Xsize, d.info.Ysize, d.orientation())
	return format.BufferSize(w, h), nil
}

// SetImageOutBuffer sets the buffer every following frame is written to.
func (d *Decoder) SetImageOutBuffer(format PixelFormat, buf []byte) error {
	size, err := d.ImageOutBufferSize(format)
	if err != nil {
		return d.fail(err)
	}
	if len(buf) < size {
		return d.fail(newError(CodeAPIUsage, "set image out buffer", fmt.Errorf("%w: %d bytes, need %d", errBufferSize, len(buf), size)))
	}
	d.outFormat, d.out = format, buf
	return nil
}

// SetJPEGBuffer sets the buffer reconstructed JPEG bytes are written to.
func (d *Decoder) SetJPEGBuffer(buf []byte) error {
	if d.jpegBuf != nil {
		return d.fail(newError(CodeAPIUsage, "set jpeg buffer", errors.New("jpeg buffer already set")))
	}
	d.jpegBuf, d.jpegBufPos = buf, 0
	return nil
}

// ReleaseJPEGBuffer detaches the JPEG buffer and returns how many of its
// bytes were left unwritten.
func (d *Decoder) ReleaseJPEGBuffer() int {
	n := len(d.jpegBuf) - d.jpegBufPos
	d.jpegBuf, d.jpegBufPos = nil, 0
	return n
}

// JPEGDeficit is the number of reconstructed bytes still waiting for
// buffer space.
func (d *Decoder) JPEGDeficit() int {
	return len(d.jpeg) - d.jpegOut
}

// FrameHeader returns the header of the current frame.
func (d *Decoder) FrameHeader() (FrameHeader, error) {
	if d.frame == nil {
		return FrameHeader{}, newError(CodeAPIUsage, "frame header", errors.New("no frame decoded yet"))
	}
	return d.frame.FrameHeader, nil
}

// Boxes returns the metadata boxes demultiplexed so far.
func (d *Decoder) Boxes() []Box {
	return d.demux.boxes
}

// Reset returns the decoder to its freshly created state. The allocator is
// kept.
func (d *Decoder) Reset() {
	alloc := d.alloc
	if alloc != nil && d.cs != nil {
		alloc.Free(d.cs)
	}
	*d = Decoder{alloc: alloc}
}

// Close releases the decoder's memory. Every later call fails.
func (d *Decoder) Close() {
	d.Reset()
	d.released = true
}
