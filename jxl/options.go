package jxl

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/cocosip/go-jxl/internal/engine"
	"github.com/cocosip/go-jxl/parallel"
)

const (
	// DefaultInitJPEGBuffer is the starting size of the JPEG reconstruction
	// buffer.
	DefaultInitJPEGBuffer = 512 << 10
	// DefaultInitBufferSize is the starting size of the encoder output
	// buffer.
	DefaultInitBufferSize = 512 << 10
	// MinInitBufferSize is the smallest encoder output buffer.
	MinInitBufferSize = 32
	// DefaultQuality is the default butteraugli distance, visually lossless.
	DefaultQuality float32 = 1.0
	// MaxQuality is the largest accepted distance.
	MaxQuality float32 = 15.0
)

// DecoderOptions configures a Decoder.
type DecoderOptions struct {
	// NumChannels of the output buffer; 0 derives it from the image.
	NumChannels int
	Endianness  Endianness
	// Align is the row alignment of the output buffer in bytes.
	Align int
	// KeepOrientation leaves pixels in stored order instead of applying
	// the EXIF orientation of the image.
	KeepOrientation bool
	// InitJPEGBuffer is the starting size of the reconstruction buffer.
	InitJPEGBuffer int
	// DecompressBoxes decodes brob-compressed metadata boxes.
	DecompressBoxes bool
	Runner          parallel.Runner
	MemoryManager   MemoryManager
}

// NewDecoderOptions returns the default decoder options.
func NewDecoderOptions() *DecoderOptions {
	return &DecoderOptions{
		InitJPEGBuffer:  DefaultInitJPEGBuffer,
		DecompressBoxes: true,
	}
}

// WithNumChannels sets the output channel count and returns the options for
// chaining.
func (o *DecoderOptions) WithNumChannels(n int) *DecoderOptions {
	o.NumChannels = n
	return o
}

// WithEndianness sets the output byte order.
func (o *DecoderOptions) WithEndianness(e Endianness) *DecoderOptions {
	o.Endianness = e
	return o
}

// WithAlign sets the output row alignment.
func (o *DecoderOptions) WithAlign(align int) *DecoderOptions {
	o.Align = align
	return o
}

// WithKeepOrientation keeps stored pixel order.
func (o *DecoderOptions) WithKeepOrientation(keep bool) *DecoderOptions {
	o.KeepOrientation = keep
	return o
}

// WithInitJPEGBuffer sets the starting reconstruction buffer size.
func (o *DecoderOptions) WithInitJPEGBuffer(size int) *DecoderOptions {
	o.InitJPEGBuffer = size
	return o
}

// WithRunner sets the parallel runner.
func (o *DecoderOptions) WithRunner(r parallel.Runner) *DecoderOptions {
	o.Runner = r
	return o
}

// WithMemoryManager sets the allocator override.
func (o *DecoderOptions) WithMemoryManager(mm MemoryManager) *DecoderOptions {
	o.MemoryManager = mm
	return o
}

// Validate checks the options, restoring defaults for unset sizes.
func (o *DecoderOptions) Validate() error {
	if o.NumChannels < 0 || o.NumChannels > 4 {
		return fmt.Errorf("%w: %d output channels", ErrUnsupported, o.NumChannels)
	}
	if o.Endianness < NativeEndian || o.Endianness > BigEndian {
		return fmt.Errorf("%w: endianness %v", ErrUnsupported, o.Endianness)
	}
	if o.Align < 0 {
		return fmt.Errorf("%w: negative alignment %d", ErrAPIUsage, o.Align)
	}
	if o.InitJPEGBuffer <= 0 {
		o.InitJPEGBuffer = DefaultInitJPEGBuffer
	}
	return nil
}

// Speed is the encoder effort tier.
type Speed int

const (
	SpeedLightning Speed = iota + 1
	SpeedThunder
	SpeedFalcon
	SpeedCheetah
	SpeedHare
	SpeedWombat
	SpeedSquirrel
	SpeedKitten
	SpeedTortoise
)

var speedNames = [...]string{"", "lightning", "thunder", "falcon", "cheetah", "hare", "wombat", "squirrel", "kitten", "tortoise"}

func (s Speed) String() string {
	if s >= SpeedLightning && s <= SpeedTortoise {
		return speedNames[s]
	}
	return fmt.Sprintf("Speed(%d)", int(s))
}

// ParseSpeed returns the tier named name.
func ParseSpeed(name string) (Speed, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := SpeedLightning; i <= SpeedTortoise; i++ {
		if speedNames[i] == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown speed %q", ErrAPIUsage, name)
}

// ColorEncoding is the structured color space of encoded images.
type ColorEncoding int

const (
	SRGB ColorEncoding = iota
	LinearSRGB
	SRGBLuma
	LinearSRGBLuma
)

// IsGray reports whether the encoding has a single color channel.
func (c ColorEncoding) IsGray() bool {
	return c == SRGBLuma || c == LinearSRGBLuma
}

func (c ColorEncoding) String() string {
	switch c {
	case SRGB:
		return "srgb"
	case LinearSRGB:
		return "linear-srgb"
	case SRGBLuma:
		return "srgb-luma"
	case LinearSRGBLuma:
		return "linear-srgb-luma"
	}
	return fmt.Sprintf("ColorEncoding(%d)", int(c))
}

func (c ColorEncoding) engine() engine.ColorSpace {
	switch c {
	case LinearSRGB:
		return engine.ColorLinearSRGB
	case SRGBLuma:
		return engine.ColorGraySRGB
	case LinearSRGBLuma:
		return engine.ColorGrayLinear
	}
	return engine.ColorSRGB
}

// EncoderOptions configures an Encoder.
type EncoderOptions struct {
	HasAlpha bool
	// Lossless forces the modular path with distance 0 and the original
	// color profile, whatever Quality says.
	Lossless bool
	Speed    Speed
	// Quality is the butteraugli distance: 0 is mathematically lossless,
	// 1 visually lossless, up to 15.
	Quality             float32
	UseContainer        bool
	UsesOriginalProfile bool
	// DecodingSpeed 0..4 trades density for decoder speed.
	DecodingSpeed  int
	InitBufferSize int
	ColorEncoding  ColorEncoding
	// ICCProfile, when set, is stored instead of ColorEncoding. ColorEncoding
	// still decides between gray and color channels.
	ICCProfile []byte
	// GroupSize selects 128 << GroupSize pixel groups, 0..3.
	GroupSize int
	// Orientation is the EXIF orientation stored in the header, 1..8.
	Orientation uint32
	// TicksPerSecond > 0 marks the image as an animation.
	TicksPerSecond uint32
	// StoreJPEGMetadata keeps JPEG frames reconstructible.
	StoreJPEGMetadata bool
	Runner            parallel.Runner
	MemoryManager     MemoryManager

	// parameters set by name that have no field
	params map[string]interface{}
}

// NewEncoderOptions returns the default encoder options.
func NewEncoderOptions() *EncoderOptions {
	return &EncoderOptions{
		Speed:             SpeedSquirrel,
		Quality:           DefaultQuality,
		InitBufferSize:    DefaultInitBufferSize,
		ColorEncoding:     SRGB,
		Orientation:       1,
		StoreJPEGMetadata: true,
		params:            make(map[string]interface{}),
	}
}

// GetParameter retrieves an option by name.
func (o *EncoderOptions) GetParameter(name string) interface{} {
	switch name {
	case "hasAlpha":
		return o.HasAlpha
	case "lossless":
		return o.Lossless
	case "speed":
		return int(o.Speed)
	case "quality", "distance":
		return o.Quality
	case "useContainer":
		return o.UseContainer
	case "usesOriginalProfile":
		return o.UsesOriginalProfile
	case "decodingSpeed":
		return o.DecodingSpeed
	case "initBufferSize":
		return o.InitBufferSize
	case "colorEncoding":
		return int(o.ColorEncoding)
	case "groupSize":
		return o.GroupSize
	case "orientation":
		return int(o.Orientation)
	default:
		return o.params[name]
	}
}

// SetParameter sets an option by name. Values of the wrong type are
// ignored; unknown names are kept for GetParameter.
func (o *EncoderOptions) SetParameter(name string, value interface{}) {
	switch name {
	case "hasAlpha":
		if v, ok := value.(bool); ok {
			o.HasAlpha = v
		}
	case "lossless":
		if v, ok := value.(bool); ok {
			o.Lossless = v
		}
	case "speed":
		switch v := value.(type) {
		case int:
			o.Speed = Speed(v)
		case Speed:
			o.Speed = v
		case string:
			if s, err := ParseSpeed(v); err == nil {
				o.Speed = s
			}
		}
	case "quality", "distance":
		switch v := value.(type) {
		case float32:
			o.Quality = v
		case float64:
			o.Quality = float32(v)
		case int:
			o.Quality = float32(v)
		}
	case "useContainer":
		if v, ok := value.(bool); ok {
			o.UseContainer = v
		}
	case "usesOriginalProfile":
		if v, ok := value.(bool); ok {
			o.UsesOriginalProfile = v
		}
	case "decodingSpeed":
		if v, ok := value.(int); ok {
			o.DecodingSpeed = v
		}
	case "initBufferSize":
		if v, ok := value.(int); ok {
			o.InitBufferSize = v
		}
	case "colorEncoding":
		switch v := value.(type) {
		case int:
			o.ColorEncoding = ColorEncoding(v)
		case ColorEncoding:
			o.ColorEncoding = v
		}
	case "groupSize":
		if v, ok := value.(int); ok {
			o.GroupSize = v
		}
	case "orientation":
		if v, ok := value.(int); ok && v >= 0 {
			o.Orientation = uint32(v)
		}
	default:
		if o.params == nil {
			o.params = make(map[string]interface{})
		}
		o.params[name] = value
	}
}

// WithLossless sets lossless mode and returns the options for chaining.
func (o *EncoderOptions) WithLossless(lossless bool) *EncoderOptions {
	o.Lossless = lossless
	return o
}

// WithQuality sets the distance.
func (o *EncoderOptions) WithQuality(quality float32) *EncoderOptions {
	o.Quality = quality
	return o
}

// WithSpeed sets the effort tier.
func (o *EncoderOptions) WithSpeed(speed Speed) *EncoderOptions {
	o.Speed = speed
	return o
}

// WithAlpha declares an alpha channel.
func (o *EncoderOptions) WithAlpha(hasAlpha bool) *EncoderOptions {
	o.HasAlpha = hasAlpha
	return o
}

// WithColorEncoding sets the color space.
func (o *EncoderOptions) WithColorEncoding(c ColorEncoding) *EncoderOptions {
	o.ColorEncoding = c
	return o
}

// WithICCProfile stores icc instead of a structured color encoding.
func (o *EncoderOptions) WithICCProfile(icc []byte) *EncoderOptions {
	o.ICCProfile = icc
	return o
}

// WithContainer selects the box container.
func (o *EncoderOptions) WithContainer(use bool) *EncoderOptions {
	o.UseContainer = use
	return o
}

// WithDecodingSpeed sets the decoding speed tier.
func (o *EncoderOptions) WithDecodingSpeed(tier int) *EncoderOptions {
	o.DecodingSpeed = tier
	return o
}

// WithGroupSize sets the group size shift.
func (o *EncoderOptions) WithGroupSize(shift int) *EncoderOptions {
	o.GroupSize = shift
	return o
}

// WithOrientation sets the stored EXIF orientation.
func (o *EncoderOptions) WithOrientation(orientation uint32) *EncoderOptions {
	o.Orientation = orientation
	return o
}

// WithInitBufferSize sets the starting output buffer size.
func (o *EncoderOptions) WithInitBufferSize(size int) *EncoderOptions {
	o.InitBufferSize = size
	return o
}

// WithRunner sets the parallel runner.
func (o *EncoderOptions) WithRunner(r parallel.Runner) *EncoderOptions {
	o.Runner = r
	return o
}

// WithMemoryManager sets the allocator override.
func (o *EncoderOptions) WithMemoryManager(mm MemoryManager) *EncoderOptions {
	o.MemoryManager = mm
	return o
}

// Validate checks every option. InitBufferSize is clamped up to
// MinInitBufferSize and a zero Orientation becomes 1.
func (o *EncoderOptions) Validate() error {
	if o.Speed < SpeedLightning || o.Speed > SpeedTortoise {
		return fmt.Errorf("%w: speed %d outside 1..9", ErrAPIUsage, int(o.Speed))
	}
	if o.Quality < 0 || o.Quality > MaxQuality || o.Quality != o.Quality {
		return fmt.Errorf("%w: quality %g outside 0..%g", ErrAPIUsage, o.Quality, MaxQuality)
	}
	if o.DecodingSpeed < 0 || o.DecodingSpeed > 4 {
		return fmt.Errorf("%w: decoding speed %d outside 0..4", ErrAPIUsage, o.DecodingSpeed)
	}
	if o.ColorEncoding < SRGB || o.ColorEncoding > LinearSRGBLuma {
		return fmt.Errorf("%w: color encoding %v", ErrUnsupported, o.ColorEncoding)
	}
	if o.GroupSize < 0 || o.GroupSize > 3 {
		return fmt.Errorf("%w: group size %d outside 0..3", ErrAPIUsage, o.GroupSize)
	}
	if o.Orientation == 0 {
		o.Orientation = 1
	}
	if o.Orientation > 8 {
		return fmt.Errorf("%w: orientation %d", ErrAPIUsage, o.Orientation)
	}
	if o.InitBufferSize < MinInitBufferSize {
		if o.InitBufferSize != 0 {
			log.WithField("initBufferSize", o.InitBufferSize).Warn("jxl: initial buffer size raised to minimum")
		}
		o.InitBufferSize = MinInitBufferSize
	}
	return nil
}

// distance is the effective distance once Lossless is applied.
func (o *EncoderOptions) distance() float32 {
	if o.Lossless {
		return 0
	}
	return o.Quality
}

// Clone returns an independent copy of the options, including custom
// parameters.
func (o *EncoderOptions) Clone() *EncoderOptions {
	c := *o
	c.ICCProfile = append([]byte(nil), o.ICCProfile...)
	c.params = make(map[string]interface{}, len(o.params))
	for k, v := range o.params {
		c.params[k] = v
	}
	return &c
}
