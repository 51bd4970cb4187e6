package jxl

import (
	"github.com/cocosip/go-jxl/internal/engine"
	"github.com/cocosip/go-jxl/parallel"
)

// decoderEngine is the part of engine.Decoder the decode state machine
// drives.
type decoderEngine interface {
	Subscribe(events engine.Event) error
	SetParallelRunner(r parallel.Runner) error
	SetKeepOrientation(keep bool) error
	SetDecompressBoxes(decompress bool)
	SetInput(data []byte) error
	ReleaseInput() int
	CloseInput()
	ProcessInput() engine.DecoderStatus
	Err() error

	BasicInfo() *engine.BasicInfo
	ColorSpace() (engine.ColorSpace, error)
	ICCProfileSize() (int, error)
	ICCProfile(dst []byte) error
	ImageOutBufferSize(format engine.PixelFormat) (int, error)
	SetImageOutBuffer(format engine.PixelFormat, buf []byte) error
	SetJPEGBuffer(buf []byte) error
	ReleaseJPEGBuffer() int
	JPEGDeficit() int
	FrameHeader() (engine.FrameHeader, error)
	Boxes() []engine.Box

	Reset()
	Close()
}

// encoderEngine is the part of engine.Encoder the encode state machine
// drives.
type encoderEngine interface {
	SetParallelRunner(r parallel.Runner) error
	SetBasicInfo(info *engine.BasicInfo) error
	SetColorEncoding(cs engine.ColorSpace) error
	SetICCProfile(icc []byte) error
	UseContainer(use bool) error
	Container() bool
	AddFrame(s engine.FrameSettings, format engine.PixelFormat, pix []byte) error
	AddJPEGFrame(s engine.FrameSettings, data []byte, reconstruct bool) error
	AddBox(t engine.BoxType, data []byte, compress bool) error
	CloseInput()
	ProcessOutput(buf []byte) (int, engine.EncoderStatus)
	Err() error

	Reset()
	Close()
}

// Engine constructors. A nil result is a construction failure.
var (
	newDecoderEngine = func(mm MemoryManager) decoderEngine {
		return engine.NewDecoder(allocator(mm))
	}
	newEncoderEngine = func(mm MemoryManager) encoderEngine {
		return engine.NewEncoder(allocator(mm))
	}
)
