package dicom

import (
	"github.com/cocosip/go-dicom/pkg/imaging/imagetypes"

	"github.com/cocosip/go-jxl/jxl"
)

// toInterleaved returns color-by-plane samples reordered color-by-pixel.
// Other layouts are returned as a copy.
func toInterleaved(src []byte, frameInfo *imagetypes.FrameInfo) []byte {
	dst := make([]byte, len(src))
	if frameInfo.PlanarConfiguration == 0 || frameInfo.SamplesPerPixel == 1 {
		copy(dst, src)
		return dst
	}
	reorder(dst, src, frameInfo, true)
	return dst
}

// fromInterleaved is the inverse of toInterleaved.
func fromInterleaved(src []byte, frameInfo *imagetypes.FrameInfo) []byte {
	if frameInfo.PlanarConfiguration == 0 || frameInfo.SamplesPerPixel == 1 {
		return src
	}
	dst := make([]byte, len(src))
	reorder(dst, src, frameInfo, false)
	return dst
}

func reorder(dst, src []byte, frameInfo *imagetypes.FrameInfo, toPixel bool) {
	bps := int(frameInfo.BitsAllocated+7) / 8
	spp := int(frameInfo.SamplesPerPixel)
	pixels := int(frameInfo.Width) * int(frameInfo.Height)
	for p := 0; p < pixels; p++ {
		for s := 0; s < spp; s++ {
			planar := (s*pixels + p) * bps
			inter := (p*spp + s) * bps
			if toPixel {
				copy(dst[inter:inter+bps], src[planar:planar+bps])
			} else {
				copy(dst[planar:planar+bps], src[inter:inter+bps])
			}
		}
	}
}

// flipSign toggles the top bit of every little-endian sample, mapping two's
// complement to offset binary and back.
func flipSign(pix []byte, t jxl.SampleType) {
	step := t.Size()
	for i := step - 1; i < len(pix); i += step {
		pix[i] ^= 0x80
	}
}
