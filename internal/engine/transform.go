package engine

import "math"

func zigzag(v int32) uint32 {
	return uint32(v<<1) ^ uint32(v>>31)
}

func unzigzag(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}

// predict returns the prediction for position (x, y) of a w-wide plane,
// using only samples already coded in raster order.
func predict(p predictor, plane []int32, w, x, y int) int32 {
	switch p {
	case predictLeft:
		switch {
		case x > 0:
			return plane[y*w+x-1]
		case y > 0:
			return plane[(y-1)*w]
		}
		return 0
	case predictGradient:
		switch {
		case x == 0 && y == 0:
			return 0
		case y == 0:
			return plane[x-1]
		case x == 0:
			return plane[(y-1)*w]
		}
		left := plane[y*w+x-1]
		top := plane[(y-1)*w+x]
		topLeft := plane[(y-1)*w+x-1]
		lo, hi := min(left, top), max(left, top)
		grad := int64(left) + int64(top) - int64(topLeft)
		return int32(min(max(grad, int64(lo)), int64(hi)))
	default:
		return 0
	}
}

// forwardYCoCg converts three planes in place with the reversible YCoCg-R
// lifting.
func forwardYCoCg(r, g, b []int32) {
	for i := range r {
		co := r[i] - b[i]
		t := b[i] + co>>1
		cg := g[i] - t
		r[i], g[i], b[i] = t+cg>>1, co, cg
	}
}

func inverseYCoCg(y, co, cg []int32) {
	for i := range y {
		t := y[i] - cg[i]>>1
		g := cg[i] + t
		b := t - co[i]>>1
		y[i], co[i], cg[i] = b+co[i], g, b
	}
}

// intStep returns the quantizer step for integer samples of the given
// depth at a butteraugli-style distance.
func intStep(distance float32, bits uint32) float32 {
	maxVal := float64(uint32(1)<<bits - 1)
	return float32(1 + math.Floor(float64(distance)*maxVal/255))
}

// floatStep is the step, in 1/65535 units, for float samples.
func floatStep(distance float32) float32 {
	return float32(1 + math.Floor(float64(distance)*65535/255))
}

func quantizeInt(plane []int32, step float32) {
	if step <= 1 {
		return
	}
	s := float64(step)
	for i, v := range plane {
		plane[i] = int32(math.Round(float64(v) / s))
	}
}

func dequantizeInt(plane []int32, step float32) {
	if step <= 1 {
		return
	}
	s := int32(step)
	for i, v := range plane {
		plane[i] = v * s
	}
}

// quantizeFloat replaces float bit patterns with quantized integers.
func quantizeFloat(plane []int32, step float32) {
	scale := 65535 / float64(step)
	for i, v := range plane {
		f := float64(math.Float32frombits(uint32(v))) * scale
		if math.IsNaN(f) {
			f = 0
		}
		f = min(max(math.Round(f), math.MinInt32), math.MaxInt32)
		plane[i] = int32(f)
	}
}

func dequantizeFloat(plane []int32, step float32) {
	scale := float64(step) / 65535
	for i, q := range plane {
		plane[i] = int32(math.Float32bits(float32(float64(q) * scale)))
	}
}

func clampPlane(plane []int32, maxVal int32) {
	for i, v := range plane {
		plane[i] = min(max(v, 0), maxVal)
	}
}

// FrameSettings are the per-frame coding choices of the encoder.
type FrameSettings struct {
	Distance      float32
	Lossless      bool
	Effort        int // 1..9
	DecodingSpeed int // 0..4
	GroupShift    uint8
	Duration      uint32
	Name          string
}

// planFrame derives the coding parameters of a frame.
func planFrame(info *BasicInfo, s FrameSettings) *frameInfo {
	f := &frameInfo{
		FrameHeader: FrameHeader{Duration: s.Duration, Name: s.Name, Lossless: s.Lossless},
		groupShift:  s.GroupShift,
		quantStep:   1,
	}
	if s.Lossless {
		f.predictor = predictGradient
		if s.DecodingSpeed >= 3 {
			f.predictor = predictLeft
		}
		return f
	}
	f.predictor = predictLeft
	switch {
	case info.IsFloat():
		if s.Distance > 0 {
			f.floatQuant = true
			f.quantStep = floatStep(s.Distance)
		}
	default:
		f.quantStep = intStep(s.Distance, info.BitsPerSample)
		f.ycocg = info.NumColorChannels == 3 && !info.UsesOriginalProfile
	}
	return f
}

// forwardFrame transforms stored samples into coded values in place.
func forwardFrame(f *frameInfo, info *BasicInfo, planes [][]int32) {
	colors := int(info.NumColorChannels)
	if f.ycocg {
		forwardYCoCg(planes[0], planes[1], planes[2])
	}
	for c := 0; c < colors; c++ {
		switch {
		case f.floatQuant:
			quantizeFloat(planes[c], f.quantStep)
		case !info.IsFloat():
			quantizeInt(planes[c], f.quantStep)
		}
	}
}

// inverseFrame turns decoded values back into stored samples in place.
func inverseFrame(f *frameInfo, info *BasicInfo, planes [][]int32) {
	colors := int(info.NumColorChannels)
	for c := 0; c < colors; c++ {
		switch {
		case f.floatQuant:
			dequantizeFloat(planes[c], f.quantStep)
		case !info.IsFloat():
			dequantizeInt(planes[c], f.quantStep)
		}
	}
	if f.ycocg {
		inverseYCoCg(planes[0], planes[1], planes[2])
	}
	if !info.IsFloat() && (f.ycocg || f.quantStep > 1) {
		maxVal := int32(1)<<info.BitsPerSample - 1
		for c := 0; c < colors; c++ {
			clampPlane(planes[c], maxVal)
		}
	}
}
