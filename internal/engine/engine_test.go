package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/x448/float16"

	"github.com/cocosip/go-jxl/parallel"
)

// testPixels fills an interleaved buffer with a deterministic gradient.
func testPixels(w, h int, f PixelFormat) []byte {
	buf := make([]byte, f.BufferSize(uint32(w), uint32(h)))
	order := f.Endianness.byteOrder()
	stride := f.RowStride(uint32(w))
	size := f.DataType.Size()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < f.NumChannels; c++ {
				off := y*stride + (x*f.NumChannels+c)*size
				v := (x*7 + y*13 + c*61) % 256
				switch f.DataType {
				case TypeUint8:
					buf[off] = byte(v)
				case TypeUint16:
					order.PutUint16(buf[off:], uint16(v*257+x%3))
				case TypeFloat16:
					order.PutUint16(buf[off:], float16.Fromfloat32(float32(v)/255).Bits())
				case TypeFloat32:
					order.PutUint32(buf[off:], math.Float32bits(float32(v)/255+float32(x)*1e-5))
				}
			}
		}
	}
	return buf
}

func basicInfo(w, h uint32, colors uint32, alpha bool, t DataType) *BasicInfo {
	b := &BasicInfo{Xsize: w, Ysize: h, NumColorChannels: colors, Orientation: 1, UsesOriginalProfile: true}
	switch t {
	case TypeUint8:
		b.BitsPerSample = 8
	case TypeUint16:
		b.BitsPerSample = 16
	case TypeFloat16:
		b.BitsPerSample, b.ExponentBitsPerSample = 16, 5
	case TypeFloat32:
		b.BitsPerSample, b.ExponentBitsPerSample = 32, 8
	}
	if alpha {
		b.AlphaBits, b.AlphaExponentBits = b.BitsPerSample, b.ExponentBitsPerSample
	}
	return b
}

func colorFor(info *BasicInfo) ColorSpace {
	if info.NumColorChannels == 1 {
		return ColorGraySRGB
	}
	return ColorSRGB
}

func encodeFrames(t *testing.T, info *BasicInfo, s FrameSettings, container bool, format PixelFormat, frames ...[]byte) []byte {
	t.Helper()
	e := NewEncoder(nil)
	defer e.Close()
	if err := e.SetBasicInfo(info); err != nil {
		t.Fatalf("SetBasicInfo() error = %v", err)
	}
	if err := e.SetColorEncoding(colorFor(info)); err != nil {
		t.Fatalf("SetColorEncoding() error = %v", err)
	}
	if err := e.UseContainer(container); err != nil {
		t.Fatalf("UseContainer() error = %v", err)
	}
	for _, pix := range frames {
		if err := e.AddFrame(s, format, pix); err != nil {
			t.Fatalf("AddFrame() error = %v", err)
		}
	}
	e.CloseInput()
	return drain(t, e)
}

func drain(t *testing.T, e *Encoder) []byte {
	t.Helper()
	var out []byte
	chunk := make([]byte, 100)
	for {
		n, st := e.ProcessOutput(chunk)
		out = append(out, chunk[:n]...)
		switch st {
		case EncSuccess:
			return out
		case EncNeedMoreOutput:
		default:
			t.Fatalf("ProcessOutput() status %v: %v", st, e.Err())
		}
	}
}

type decoded struct {
	info     *BasicInfo
	pixels   []byte
	frames   []FrameHeader
	full     int
	color    ColorSpace
	boxes    []Box
	jpeg     []byte
	statuses []DecoderStatus
}

// decodeStream decodes data fed in pieces of chunk bytes (0 = all at once).
func decodeStream(t *testing.T, d *Decoder, data []byte, format PixelFormat, chunk int) *decoded {
	t.Helper()
	res := &decoded{}
	if chunk <= 0 {
		chunk = len(data)
	}
	feed := func() {
		n := min(chunk, len(data))
		if err := d.SetInput(data[:n]); err != nil {
			t.Fatalf("SetInput() error = %v", err)
		}
		data = data[n:]
		if len(data) == 0 {
			d.CloseInput()
		}
	}
	feed()
	for {
		st := d.ProcessInput()
		res.statuses = append(res.statuses, st)
		switch st {
		case DecNeedMoreInput:
			if rem := d.ReleaseInput(); rem != 0 {
				t.Fatalf("ReleaseInput() = %d, want 0", rem)
			}
			feed()
		case DecBasicInfo:
			res.info = d.BasicInfo()
		case DecColorEncoding:
			cs, err := d.ColorSpace()
			if err != nil {
				t.Fatalf("ColorSpace() error = %v", err)
			}
			res.color = cs
		case DecFrame:
			fh, err := d.FrameHeader()
			if err != nil {
				t.Fatalf("FrameHeader() error = %v", err)
			}
			res.frames = append(res.frames, fh)
		case DecNeedImageOutBuffer:
			size, err := d.ImageOutBufferSize(format)
			if err != nil {
				t.Fatalf("ImageOutBufferSize() error = %v", err)
			}
			res.pixels = make([]byte, size)
			if err := d.SetImageOutBuffer(format, res.pixels); err != nil {
				t.Fatalf("SetImageOutBuffer() error = %v", err)
			}
		case DecJPEGReconstruction:
			res.jpeg = make([]byte, 16)
			if err := d.SetJPEGBuffer(res.jpeg); err != nil {
				t.Fatalf("SetJPEGBuffer() error = %v", err)
			}
		case DecJPEGNeedMoreOutput:
			used := len(res.jpeg) - d.ReleaseJPEGBuffer()
			grown := make([]byte, used+d.JPEGDeficit())
			copy(grown, res.jpeg[:used])
			res.jpeg = grown
			if err := d.SetJPEGBuffer(res.jpeg[used:]); err != nil {
				t.Fatalf("SetJPEGBuffer() error = %v", err)
			}
		case DecFullImage:
			res.full++
		case DecSuccess:
			res.boxes = d.Boxes()
			if res.jpeg != nil {
				res.jpeg = res.jpeg[:len(res.jpeg)-d.ReleaseJPEGBuffer()]
			}
			return res
		default:
			t.Fatalf("ProcessInput() status %v: %v", st, d.Err())
		}
	}
}

const allEvents = EventBasicInfo | EventColorEncoding | EventFrame | EventFullImage

func newSubscribed(t *testing.T, events Event) *Decoder {
	t.Helper()
	d := NewDecoder(nil)
	if err := d.Subscribe(events); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return d
}

func TestLosslessRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		colors   uint32
		alpha    bool
		dataType DataType
		w, h     int
	}{
		{"gray u8", 1, false, TypeUint8, 37, 19},
		{"rgb u8", 3, false, TypeUint8, 130, 70},
		{"rgba u8", 3, true, TypeUint8, 64, 64},
		{"gray alpha u16", 1, true, TypeUint16, 20, 300},
		{"rgb u16", 3, false, TypeUint16, 129, 129},
		{"rgb f16", 3, false, TypeFloat16, 33, 17},
		{"rgba f32", 3, true, TypeFloat32, 140, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := basicInfo(uint32(tt.w), uint32(tt.h), tt.colors, tt.alpha, tt.dataType)
			format := PixelFormat{NumChannels: info.NumChannels(), DataType: tt.dataType, Endianness: LittleEndian}
			pix := testPixels(tt.w, tt.h, format)
			data := encodeFrames(t, info, FrameSettings{Lossless: true, Effort: 7}, false, format, pix)
			if CheckSignature(data) != SignatureCodestream {
				t.Fatalf("CheckSignature() = %v, want codestream", CheckSignature(data))
			}

			got := decodeStream(t, newSubscribed(t, allEvents), data, format, 0)
			if !bytes.Equal(got.pixels, pix) {
				t.Errorf("decoded pixels differ from input")
			}
			if got.info.Xsize != uint32(tt.w) || got.info.Ysize != uint32(tt.h) {
				t.Errorf("size = %dx%d, want %dx%d", got.info.Xsize, got.info.Ysize, tt.w, tt.h)
			}
			if len(got.frames) != 1 || !got.frames[0].IsLast || !got.frames[0].Lossless {
				t.Errorf("frames = %+v, want one last lossless frame", got.frames)
			}
		})
	}
}

func TestChunkedContainerDecode(t *testing.T) {
	info := basicInfo(300, 200, 3, false, TypeUint8)
	format := PixelFormat{NumChannels: 3, DataType: TypeUint8}
	pix := testPixels(300, 200, format)
	data := encodeFrames(t, info, FrameSettings{Lossless: true, Effort: 3, GroupShift: 0}, true, format, pix)
	if CheckSignature(data) != SignatureContainer {
		t.Fatalf("CheckSignature() = %v, want container", CheckSignature(data))
	}

	for _, chunk := range []int{1, 7, 512, 4096} {
		d := newSubscribed(t, allEvents)
		if err := d.SetParallelRunner(parallel.NewThreadsRunner(4)); err != nil {
			t.Fatal(err)
		}
		got := decodeStream(t, d, data, format, chunk)
		if !bytes.Equal(got.pixels, pix) {
			t.Errorf("chunk %d: decoded pixels differ", chunk)
		}
		if !got.info.HaveContainer {
			t.Errorf("chunk %d: HaveContainer = false", chunk)
		}
		want := []DecoderStatus{DecBasicInfo, DecColorEncoding, DecFrame, DecNeedImageOutBuffer, DecFullImage, DecSuccess}
		var events []DecoderStatus
		for _, st := range got.statuses {
			if st != DecNeedMoreInput {
				events = append(events, st)
			}
		}
		if len(events) != len(want) {
			t.Fatalf("chunk %d: events = %v, want %v", chunk, events, want)
		}
		for i := range want {
			if events[i] != want[i] {
				t.Errorf("chunk %d: event %d = %v, want %v", chunk, i, events[i], want[i])
			}
		}
	}
}

func TestPartialCodestreamBoxes(t *testing.T) {
	info := basicInfo(40, 30, 1, false, TypeUint8)
	format := PixelFormat{NumChannels: 1, DataType: TypeUint8}
	pix := testPixels(40, 30, format)
	cs := encodeFrames(t, info, FrameSettings{Lossless: true, Effort: 1}, false, format, pix)

	// split the codestream over three jxlp boxes
	data := append([]byte(nil), containerSignature...)
	data = appendBox(data, TypeFileType, fileTypeContents())
	cuts := []int{0, 5, len(cs) / 2, len(cs)}
	for i := 0; i+1 < len(cuts); i++ {
		idx := uint32(i)
		if i == len(cuts)-2 {
			idx |= partialLast
		}
		contents := binary.BigEndian.AppendUint32(nil, idx)
		contents = append(contents, cs[cuts[i]:cuts[i+1]]...)
		data = appendBox(data, TypePartial, contents)
	}

	got := decodeStream(t, newSubscribed(t, allEvents), data, format, 3)
	if !bytes.Equal(got.pixels, pix) {
		t.Error("decoded pixels differ")
	}
}

func TestOutOfOrderPartialBox(t *testing.T) {
	data := append([]byte(nil), containerSignature...)
	data = appendBox(data, TypePartial, []byte{0, 0, 0, 1, 0xFF, 0x0A})
	d := newSubscribed(t, allEvents)
	if err := d.SetInput(data); err != nil {
		t.Fatal(err)
	}
	d.CloseInput()
	if st := d.ProcessInput(); st != DecError {
		t.Fatalf("ProcessInput() = %v, want error", st)
	}
	if CodeOf(d.Err()) != CodeBadInput {
		t.Errorf("CodeOf(Err()) = %v, want bad input", CodeOf(d.Err()))
	}
}

func TestTruncatedInput(t *testing.T) {
	info := basicInfo(16, 16, 3, false, TypeUint8)
	format := PixelFormat{NumChannels: 3, DataType: TypeUint8}
	data := encodeFrames(t, info, FrameSettings{Lossless: true, Effort: 5}, false, format, testPixels(16, 16, format))

	d := newSubscribed(t, allEvents)
	if err := d.SetInput(data[:len(data)-3]); err != nil {
		t.Fatal(err)
	}
	d.CloseInput()
	for {
		st := d.ProcessInput()
		if st == DecNeedImageOutBuffer {
			size, _ := d.ImageOutBufferSize(format)
			if err := d.SetImageOutBuffer(format, make([]byte, size)); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if st == DecError {
			break
		}
		if st == DecSuccess || st == DecNeedMoreInput {
			t.Fatalf("ProcessInput() = %v, want error", st)
		}
	}
	if !errors.Is(d.Err(), errTruncated) {
		t.Errorf("Err() = %v, want truncated input", d.Err())
	}
}

func TestInputProtocol(t *testing.T) {
	d := NewDecoder(nil)
	if err := d.SetInput([]byte{0xFF}); err != nil {
		t.Fatal(err)
	}
	if err := d.SetInput([]byte{0x0A}); !errors.Is(err, errInputSet) {
		t.Errorf("second SetInput() error = %v, want %v", err, errInputSet)
	}
	if got := d.ReleaseInput(); got != 1 {
		t.Errorf("ReleaseInput() before processing = %d, want 1", got)
	}
	if err := d.SetInput([]byte{0xFF}); err != nil {
		t.Fatalf("SetInput() after release error = %v", err)
	}
	if st := d.ProcessInput(); st != DecNeedMoreInput {
		t.Errorf("ProcessInput() = %v, want need more input", st)
	}
	if got := d.ReleaseInput(); got != 0 {
		t.Errorf("ReleaseInput() after processing = %d, want 0", got)
	}
	d.CloseInput()
	if err := d.SetInput([]byte{0x0A}); !errors.Is(err, errInputClosed) {
		t.Errorf("SetInput() after close error = %v, want %v", err, errInputClosed)
	}
}

func TestInvalidSignature(t *testing.T) {
	d := NewDecoder(nil)
	if err := d.SetInput(make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	if st := d.ProcessInput(); st != DecError {
		t.Fatalf("ProcessInput() = %v, want error", st)
	}
	if !errors.Is(d.Err(), errBadSignature) {
		t.Errorf("Err() = %v, want %v", d.Err(), errBadSignature)
	}
}

func TestLossyDistance(t *testing.T) {
	w, h := 64, 48
	info := basicInfo(uint32(w), uint32(h), 3, false, TypeUint8)
	info.UsesOriginalProfile = false
	format := PixelFormat{NumChannels: 3, DataType: TypeUint8}
	pix := testPixels(w, h, format)

	exact := encodeFrames(t, info, FrameSettings{Distance: 0, Effort: 7}, false, format, pix)
	got := decodeStream(t, newSubscribed(t, allEvents), exact, format, 0)
	if !bytes.Equal(got.pixels, pix) {
		t.Error("distance 0 is not exact")
	}
	if got.frames[0].Lossless {
		t.Error("distance 0 frame marked lossless")
	}

	lossy := encodeFrames(t, info, FrameSettings{Distance: 4, Effort: 7}, false, format, pix)
	got = decodeStream(t, newSubscribed(t, allEvents), lossy, format, 0)
	maxErr := 0
	for i := range pix {
		d := int(got.pixels[i]) - int(pix[i])
		maxErr = max(maxErr, d, -d)
	}
	if maxErr == 0 || maxErr > 16 {
		t.Errorf("max error at distance 4 = %d, want 1..16", maxErr)
	}
	t.Logf("exact %d bytes, lossy %d bytes", len(exact), len(lossy))
}

func TestLosslessRequiresOriginalProfile(t *testing.T) {
	info := basicInfo(8, 8, 3, false, TypeUint8)
	info.UsesOriginalProfile = false
	e := NewEncoder(nil)
	if err := e.SetBasicInfo(info); err != nil {
		t.Fatal(err)
	}
	if err := e.SetColorEncoding(ColorSRGB); err != nil {
		t.Fatal(err)
	}
	format := PixelFormat{NumChannels: 3, DataType: TypeUint8}
	err := e.AddFrame(FrameSettings{Lossless: true, Effort: 7}, format, testPixels(8, 8, format))
	if CodeOf(err) != CodeAPIUsage {
		t.Errorf("AddFrame() error = %v, want api usage", err)
	}
}

func TestMultiFrame(t *testing.T) {
	info := basicInfo(20, 10, 3, true, TypeUint8)
	info.HaveAnimation = true
	info.TicksPerSecond = 100
	format := PixelFormat{NumChannels: 4, DataType: TypeUint8}
	first := testPixels(20, 10, format)
	second := bytes.Repeat([]byte{9}, len(first))

	e := NewEncoder(nil)
	if err := e.SetBasicInfo(info); err != nil {
		t.Fatal(err)
	}
	if err := e.SetColorEncoding(ColorSRGB); err != nil {
		t.Fatal(err)
	}
	if err := e.AddFrame(FrameSettings{Lossless: true, Effort: 7, Duration: 5, Name: "one"}, format, first); err != nil {
		t.Fatal(err)
	}
	if err := e.AddFrame(FrameSettings{Lossless: true, Effort: 7, Duration: 7}, format, second); err != nil {
		t.Fatal(err)
	}
	e.CloseInput()
	data := drain(t, e)

	got := decodeStream(t, newSubscribed(t, allEvents), data, format, 0)
	if got.full != 2 || len(got.frames) != 2 {
		t.Fatalf("full images = %d, frames = %d, want 2 and 2", got.full, len(got.frames))
	}
	if got.frames[0].Name != "one" || got.frames[0].Duration != 5 || got.frames[0].IsLast {
		t.Errorf("frame 0 = %+v", got.frames[0])
	}
	if got.frames[1].Duration != 7 || !got.frames[1].IsLast {
		t.Errorf("frame 1 = %+v", got.frames[1])
	}
	if !bytes.Equal(got.pixels, second) {
		t.Error("buffer does not hold the last frame")
	}
	if !got.info.HaveAnimation || got.info.TicksPerSecond != 100 {
		t.Errorf("animation info = %v/%d", got.info.HaveAnimation, got.info.TicksPerSecond)
	}
}

func TestFramesSkippedWithoutFullImage(t *testing.T) {
	info := basicInfo(50, 50, 1, false, TypeUint8)
	format := PixelFormat{NumChannels: 1, DataType: TypeUint8}
	data := encodeFrames(t, info, FrameSettings{Lossless: true, Effort: 7}, false, format, testPixels(50, 50, format))
	got := decodeStream(t, newSubscribed(t, EventBasicInfo), data, format, 10)
	if got.pixels != nil {
		t.Error("image buffer requested without full image subscription")
	}
	if got.info == nil {
		t.Error("basic info not reported")
	}
}

func TestOrientation(t *testing.T) {
	// 3x2 gray image, values are the stored raster index
	pix := []byte{0, 1, 2, 3, 4, 5}
	tests := []struct {
		orientation uint32
		keep        bool
		w, h        uint32
		want        []byte
	}{
		{1, false, 3, 2, []byte{0, 1, 2, 3, 4, 5}},
		{2, false, 3, 2, []byte{2, 1, 0, 5, 4, 3}},
		{3, false, 3, 2, []byte{5, 4, 3, 2, 1, 0}},
		{4, false, 3, 2, []byte{3, 4, 5, 0, 1, 2}},
		{5, false, 2, 3, []byte{0, 3, 1, 4, 2, 5}},
		{6, false, 2, 3, []byte{3, 0, 4, 1, 5, 2}},
		{7, false, 2, 3, []byte{5, 2, 4, 1, 3, 0}},
		{8, false, 2, 3, []byte{2, 5, 1, 4, 0, 3}},
		{6, true, 3, 2, []byte{0, 1, 2, 3, 4, 5}},
	}
	format := PixelFormat{NumChannels: 1, DataType: TypeUint8}
	for _, tt := range tests {
		info := basicInfo(3, 2, 1, false, TypeUint8)
		info.Orientation = tt.orientation
		data := encodeFrames(t, info, FrameSettings{Lossless: true, Effort: 7}, false, format, pix)
		d := newSubscribed(t, allEvents)
		if err := d.SetKeepOrientation(tt.keep); err != nil {
			t.Fatal(err)
		}
		got := decodeStream(t, d, data, format, 0)
		if got.info.Xsize != tt.w || got.info.Ysize != tt.h {
			t.Errorf("orientation %d keep %v: size %dx%d, want %dx%d", tt.orientation, tt.keep, got.info.Xsize, got.info.Ysize, tt.w, tt.h)
		}
		if !bytes.Equal(got.pixels, tt.want) {
			t.Errorf("orientation %d keep %v: pixels %v, want %v", tt.orientation, tt.keep, got.pixels, tt.want)
		}
	}
}

func TestChannelConversion(t *testing.T) {
	info := basicInfo(2, 1, 1, false, TypeUint8)
	data := encodeFrames(t, info, FrameSettings{Lossless: true, Effort: 7}, false,
		PixelFormat{NumChannels: 1, DataType: TypeUint8}, []byte{0, 255})

	rgba := PixelFormat{NumChannels: 4, DataType: TypeUint16, Endianness: BigEndian}
	got := decodeStream(t, newSubscribed(t, allEvents), data, rgba, 0)
	want := []byte{
		0, 0, 0, 0, 0, 0, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	}
	if !bytes.Equal(got.pixels, want) {
		t.Errorf("gray to rgba16 = %x, want %x", got.pixels, want)
	}
}

func TestAlignedOutput(t *testing.T) {
	info := basicInfo(5, 3, 3, false, TypeUint8)
	packed := PixelFormat{NumChannels: 3, DataType: TypeUint8}
	pix := testPixels(5, 3, packed)
	data := encodeFrames(t, info, FrameSettings{Lossless: true, Effort: 7}, false, packed, pix)

	aligned := PixelFormat{NumChannels: 3, DataType: TypeUint8, Align: 8}
	got := decodeStream(t, newSubscribed(t, allEvents), data, aligned, 0)
	if len(got.pixels) != 16*2+15 {
		t.Fatalf("aligned size = %d, want %d", len(got.pixels), 16*2+15)
	}
	for y := 0; y < 3; y++ {
		if !bytes.Equal(got.pixels[y*16:y*16+15], pix[y*15:y*15+15]) {
			t.Errorf("row %d differs", y)
		}
	}
}

func TestMetadataBoxes(t *testing.T) {
	info := basicInfo(4, 4, 3, false, TypeUint8)
	format := PixelFormat{NumChannels: 3, DataType: TypeUint8}
	xmp := []byte("<x:xmpmeta/>")
	exif := append([]byte{0, 0, 0, 0}, "MM\x00\x2a"...)

	e := NewEncoder(nil)
	if err := e.SetBasicInfo(info); err != nil {
		t.Fatal(err)
	}
	if err := e.SetColorEncoding(ColorSRGB); err != nil {
		t.Fatal(err)
	}
	if err := e.AddBox(TypeExif, exif, false); err != nil {
		t.Fatal(err)
	}
	if err := e.AddBox(TypeXML, xmp, true); err != nil {
		t.Fatal(err)
	}
	if err := e.AddBox(TypeCodestream, nil, false); CodeOf(err) != CodeAPIUsage {
		t.Errorf("AddBox(jxlc) error = %v, want api usage", err)
	}
	if !e.Container() {
		t.Error("boxes did not force the container")
	}
	e.err = nil
	if err := e.AddFrame(FrameSettings{Lossless: true, Effort: 7}, format, testPixels(4, 4, format)); err != nil {
		t.Fatal(err)
	}
	e.CloseInput()
	data := drain(t, e)

	for _, decompress := range []bool{false, true} {
		d := newSubscribed(t, allEvents)
		d.SetDecompressBoxes(decompress)
		got := decodeStream(t, d, data, format, 0)
		if len(got.boxes) != 2 {
			t.Fatalf("decompress %v: %d boxes, want 2", decompress, len(got.boxes))
		}
		if got.boxes[0].Type != TypeExif || !bytes.Equal(got.boxes[0].Data, exif) {
			t.Errorf("exif box = %v %x", got.boxes[0].Type, got.boxes[0].Data)
		}
		if got.boxes[1].Type != TypeXML || got.boxes[1].Compressed == decompress {
			t.Errorf("xml box type %v compressed %v", got.boxes[1].Type, got.boxes[1].Compressed)
		}
		if decompress && !bytes.Equal(got.boxes[1].Data, xmp) {
			t.Errorf("xml box = %q, want %q", got.boxes[1].Data, xmp)
		}
	}
}

func TestICCSynthesis(t *testing.T) {
	for _, cs := range []ColorSpace{ColorSRGB, ColorLinearSRGB, ColorGraySRGB, ColorGrayLinear} {
		icc, err := synthesizeICC(cs)
		if err != nil {
			t.Fatalf("synthesizeICC(%d) error = %v", cs, err)
		}
		if got := binary.BigEndian.Uint32(icc); int(got) != len(icc) {
			t.Errorf("color space %d: declared size %d, actual %d", cs, got, len(icc))
		}
		if string(icc[36:40]) != "acsp" {
			t.Errorf("color space %d: missing acsp signature", cs)
		}
		wantSpace := "RGB "
		if cs.IsGray() {
			wantSpace = "GRAY"
		}
		if string(icc[16:20]) != wantSpace {
			t.Errorf("color space %d: data color space %q, want %q", cs, icc[16:20], wantSpace)
		}
	}
	if _, err := synthesizeICC(ColorUnknown); err == nil {
		t.Error("synthesizeICC(unknown) succeeded")
	}
}

func TestUnknownColorSpaceHasNoProfile(t *testing.T) {
	w := &byteWriter{buf: append([]byte(nil), codestreamSignature...)}
	writeImageHeader(w, basicInfo(1, 1, 3, false, TypeUint8))
	writeColorSection(w, ColorUnknown, nil)

	d := newSubscribed(t, EventColorEncoding)
	if err := d.SetInput(w.buf); err != nil {
		t.Fatal(err)
	}
	if st := d.ProcessInput(); st != DecColorEncoding {
		t.Fatalf("ProcessInput() = %v, want color encoding", st)
	}
	if _, err := d.ICCProfileSize(); CodeOf(err) != CodeGeneric {
		t.Errorf("ICCProfileSize() error = %v, want generic", err)
	}
}

func TestEncoderInitErrorPropagates(t *testing.T) {
	info := basicInfo(8, 8, 1, false, TypeUint8)
	format := PixelFormat{NumChannels: 1, DataType: TypeUint8}
	e := NewEncoder(nil)
	if err := e.SetBasicInfo(info); err != nil {
		t.Fatal(err)
	}
	if err := e.SetColorEncoding(ColorGraySRGB); err != nil {
		t.Fatal(err)
	}
	if err := e.SetParallelRunner(failingRunner{}); err != nil {
		t.Fatal(err)
	}
	err := e.AddFrame(FrameSettings{Lossless: true, Effort: 7}, format, testPixels(8, 8, format))
	if !errors.Is(err, errRunnerInit) || CodeOf(err) != CodeGeneric {
		t.Errorf("AddFrame() error = %v, want runner init failure", err)
	}
}

var errRunnerInit = errors.New("runner init failed")

type failingRunner struct{}

func (failingRunner) RunParallel(initFn parallel.InitFunc, runFn parallel.RunFunc, start, end uint32) error {
	return errRunnerInit
}

func TestProcessOutputBeforeClose(t *testing.T) {
	e := NewEncoder(nil)
	if _, st := e.ProcessOutput(make([]byte, 10)); st != EncError {
		t.Fatalf("ProcessOutput() = %v, want error", st)
	}
	if !errors.Is(e.Err(), errNotClosed) {
		t.Errorf("Err() = %v, want %v", e.Err(), errNotClosed)
	}
}

type countingAllocator struct {
	allocs int
	frees  int
	limit  int
}

func (a *countingAllocator) Alloc(n int) []byte {
	if a.limit > 0 && n > a.limit {
		return nil
	}
	a.allocs++
	return make([]byte, n)
}

func (a *countingAllocator) Free([]byte) { a.frees++ }

func TestAllocator(t *testing.T) {
	info := basicInfo(64, 64, 3, false, TypeUint8)
	format := PixelFormat{NumChannels: 3, DataType: TypeUint8}
	data := encodeFrames(t, info, FrameSettings{Lossless: true, Effort: 7}, false, format, testPixels(64, 64, format))

	alloc := &countingAllocator{}
	d := NewDecoder(alloc)
	if err := d.Subscribe(allEvents); err != nil {
		t.Fatal(err)
	}
	decodeStream(t, d, data, format, 0)
	if alloc.allocs == 0 {
		t.Error("allocator never used")
	}

	d = NewDecoder(&countingAllocator{limit: 8})
	if err := d.SetInput(data); err != nil {
		t.Fatal(err)
	}
	if st := d.ProcessInput(); st != DecError || CodeOf(d.Err()) != CodeOutOfMemory {
		t.Errorf("ProcessInput() = %v (%v), want out of memory", st, d.Err())
	}
}

func TestEncoderAllocatorFrees(t *testing.T) {
	info := basicInfo(32, 32, 3, false, TypeUint8)
	format := PixelFormat{NumChannels: 3, DataType: TypeUint8}
	for _, container := range []bool{false, true} {
		alloc := &countingAllocator{}
		e := NewEncoder(alloc)
		if err := e.SetBasicInfo(info); err != nil {
			t.Fatal(err)
		}
		if err := e.SetColorEncoding(colorFor(info)); err != nil {
			t.Fatal(err)
		}
		if err := e.UseContainer(container); err != nil {
			t.Fatal(err)
		}
		if err := e.AddFrame(FrameSettings{Lossless: true, Effort: 7}, format, testPixels(32, 32, format)); err != nil {
			t.Fatal(err)
		}
		e.CloseInput()
		drain(t, e)
		e.Reset()
		if alloc.allocs == 0 || alloc.frees != alloc.allocs {
			t.Errorf("container=%v: %d allocations, %d frees", container, alloc.allocs, alloc.frees)
		}
	}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestJPEGReconstruction(t *testing.T) {
	src := testJPEG(t, 40, 24)
	info := basicInfo(40, 24, 3, false, TypeUint8)
	e := NewEncoder(nil)
	if err := e.SetBasicInfo(info); err != nil {
		t.Fatal(err)
	}
	if err := e.SetColorEncoding(ColorSRGB); err != nil {
		t.Fatal(err)
	}
	if err := e.AddJPEGFrame(FrameSettings{Effort: 7}, src, true); err != nil {
		t.Fatalf("AddJPEGFrame() error = %v", err)
	}
	e.CloseInput()
	data := drain(t, e)
	if CheckSignature(data) != SignatureContainer {
		t.Fatal("jpeg reconstruction did not force the container")
	}

	format := PixelFormat{NumChannels: 3, DataType: TypeUint8}
	got := decodeStream(t, newSubscribed(t, EventJPEGReconstruction), data, format, 0)
	if !bytes.Equal(got.jpeg, src) {
		t.Errorf("reconstructed %d bytes, want the %d original bytes", len(got.jpeg), len(src))
	}

	// the pixels are the decoded JPEG, stored losslessly
	ref, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	got = decodeStream(t, newSubscribed(t, allEvents), data, format, 0)
	r, g, b, _ := ref.At(3, 5).RGBA()
	off := (5*40 + 3) * 3
	if got.pixels[off] != uint8(r>>8) || got.pixels[off+1] != uint8(g>>8) || got.pixels[off+2] != uint8(b>>8) {
		t.Errorf("pixel (3,5) = %v, want %d %d %d", got.pixels[off:off+3], r>>8, g>>8, b>>8)
	}
}

func TestAddJPEGFrameSizeMismatch(t *testing.T) {
	e := NewEncoder(nil)
	if err := e.SetBasicInfo(basicInfo(8, 8, 3, false, TypeUint8)); err != nil {
		t.Fatal(err)
	}
	if err := e.SetColorEncoding(ColorSRGB); err != nil {
		t.Fatal(err)
	}
	if err := e.AddJPEGFrame(FrameSettings{Effort: 7}, testJPEG(t, 16, 8), false); CodeOf(err) != CodeAPIUsage {
		t.Errorf("AddJPEGFrame() error = %v, want api usage", err)
	}
}
