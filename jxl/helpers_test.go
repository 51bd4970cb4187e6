package jxl

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/cocosip/go-jxl/internal/engine"
	"github.com/cocosip/go-jxl/parallel"
)

// gradient fills a native-endian interleaved buffer of format with a
// deterministic pattern that exercises every sample bit.
func gradient(w, h int, format PixelFormat) []byte {
	buf := make([]byte, RequiredBytes(format, uint32(w), uint32(h)))
	stride := format.RowStride(uint32(w))
	size := format.SampleType.Size()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < format.NumChannels; c++ {
				off := y*stride + (x*format.NumChannels+c)*size
				v := (x*11 + y*17 + c*67) % 256
				switch format.SampleType {
				case Uint8:
					buf[off] = byte(v)
				case Uint16:
					binary.NativeEndian.PutUint16(buf[off:], uint16(v*257^(x&7)))
				case Float32:
					binary.NativeEndian.PutUint32(buf[off:], math.Float32bits(float32(v)/255+float32(y)*1e-6))
				}
			}
		}
	}
	return buf
}

func losslessOptions() *EncoderOptions {
	return NewEncoderOptions().WithLossless(true)
}

func encode(t *testing.T, opts *EncoderOptions, pix []byte, w, h int, format PixelFormat) []byte {
	t.Helper()
	enc, err := NewEncoder(opts)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	defer enc.Close()
	out, err := enc.Encode(pix, uint32(w), uint32(h), format)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return out
}

func newDecoder(t *testing.T, opts *DecoderOptions) *Decoder {
	t.Helper()
	d, err := NewDecoder(opts)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func testJPEG(t *testing.T, w, h int, gray bool) []byte {
	t.Helper()
	var img image.Image
	if gray {
		g := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g.SetGray(x, y, color.Gray{Y: uint8(x*5 + y*3)})
			}
		}
		img = g
	} else {
		c := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 128, 255})
			}
		}
		img = c
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// fakeDecoder replays a fixed status script.
type fakeDecoder struct {
	script    []engine.DecoderStatus
	next      int
	info      *engine.BasicInfo
	err       error
	iccErr    error
	unknown   bool
	sizeDelta int
	resets    int
	closes    int
}

func (f *fakeDecoder) Subscribe(engine.Event) error                       { return nil }
func (f *fakeDecoder) SetParallelRunner(parallel.Runner) error            { return nil }
func (f *fakeDecoder) SetKeepOrientation(bool) error                      { return nil }
func (f *fakeDecoder) SetDecompressBoxes(bool)                            {}
func (f *fakeDecoder) SetInput([]byte) error                              { return nil }
func (f *fakeDecoder) ReleaseInput() int                                  { return 0 }
func (f *fakeDecoder) CloseInput()                                        {}
func (f *fakeDecoder) Err() error                                         { return f.err }
func (f *fakeDecoder) BasicInfo() *engine.BasicInfo                       { return f.info }
func (f *fakeDecoder) SetImageOutBuffer(engine.PixelFormat, []byte) error { return nil }
func (f *fakeDecoder) SetJPEGBuffer([]byte) error                         { return nil }
func (f *fakeDecoder) ReleaseJPEGBuffer() int                             { return 0 }
func (f *fakeDecoder) JPEGDeficit() int                                   { return 0 }
func (f *fakeDecoder) Boxes() []engine.Box                                { return nil }
func (f *fakeDecoder) Reset()                                             { f.resets++ }
func (f *fakeDecoder) Close()                                             { f.closes++ }

func (f *fakeDecoder) ColorSpace() (engine.ColorSpace, error) {
	if f.unknown {
		return engine.ColorUnknown, nil
	}
	return engine.ColorSRGB, nil
}

func (f *fakeDecoder) ProcessInput() engine.DecoderStatus {
	if f.next >= len(f.script) {
		return engine.DecSuccess
	}
	st := f.script[f.next]
	f.next++
	return st
}

func (f *fakeDecoder) ICCProfileSize() (int, error) {
	if f.iccErr != nil {
		return 0, f.iccErr
	}
	return 4, nil
}

func (f *fakeDecoder) ICCProfile(dst []byte) error {
	copy(dst, "icc!")
	return f.iccErr
}

func (f *fakeDecoder) ImageOutBufferSize(format engine.PixelFormat) (int, error) {
	return format.BufferSize(f.info.Xsize, f.info.Ysize) + f.sizeDelta, nil
}

func (f *fakeDecoder) FrameHeader() (engine.FrameHeader, error) {
	return engine.FrameHeader{IsLast: true}, nil
}

// useFakeDecoder makes NewDecoder return f for the rest of the test.
func useFakeDecoder(t *testing.T, f *fakeDecoder) {
	t.Helper()
	if f.info == nil {
		f.info = &engine.BasicInfo{Xsize: 4, Ysize: 2, BitsPerSample: 8, NumColorChannels: 3, Orientation: 1}
	}
	orig := newDecoderEngine
	newDecoderEngine = func(MemoryManager) decoderEngine { return f }
	t.Cleanup(func() { newDecoderEngine = orig })
}

// fakeEncoder accepts everything and answers ProcessOutput with status.
type fakeEncoder struct {
	status engine.EncoderStatus
	err    error
}

func (f *fakeEncoder) SetParallelRunner(parallel.Runner) error          { return nil }
func (f *fakeEncoder) SetBasicInfo(*engine.BasicInfo) error             { return nil }
func (f *fakeEncoder) SetColorEncoding(engine.ColorSpace) error         { return nil }
func (f *fakeEncoder) SetICCProfile([]byte) error                       { return nil }
func (f *fakeEncoder) UseContainer(bool) error                          { return nil }
func (f *fakeEncoder) Container() bool                                  { return false }
func (f *fakeEncoder) AddBox(engine.BoxType, []byte, bool) error        { return nil }
func (f *fakeEncoder) CloseInput()                                      {}
func (f *fakeEncoder) Err() error                                       { return f.err }
func (f *fakeEncoder) Reset()                                           {}
func (f *fakeEncoder) Close()                                           {}
func (f *fakeEncoder) ProcessOutput([]byte) (int, engine.EncoderStatus) { return 0, f.status }

func (f *fakeEncoder) AddFrame(engine.FrameSettings, engine.PixelFormat, []byte) error {
	return nil
}

func (f *fakeEncoder) AddJPEGFrame(engine.FrameSettings, []byte, bool) error {
	return nil
}

func useFakeEncoder(t *testing.T, f *fakeEncoder) {
	t.Helper()
	orig := newEncoderEngine
	newEncoderEngine = func(MemoryManager) encoderEngine { return f }
	t.Cleanup(func() { newEncoderEngine = orig })
}

// recordingRunner runs sequentially and remembers the size it was told.
type recordingRunner struct {
	parallel.Sequential
	width, height uint32
	sections      int
}

func (r *recordingRunner) OnBasicInfo(width, height uint32) {
	r.width, r.height = width, height
}

func (r *recordingRunner) RunParallel(initFn parallel.InitFunc, runFn parallel.RunFunc, start, end uint32) error {
	r.sections++
	return r.Sequential.RunParallel(initFn, runFn, start, end)
}

// countingMemory is a MemoryManager that records every request.
type countingMemory struct {
	allocs []int
	frees  int
	limit  int
}

func (m *countingMemory) Alloc(size int) []byte {
	m.allocs = append(m.allocs, size)
	if m.limit > 0 && size > m.limit {
		return nil
	}
	return make([]byte, size)
}

func (m *countingMemory) Free([]byte) { m.frees++ }
