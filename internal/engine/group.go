package engine

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var errGroupData = errors.New("corrupt group data")

// rect is a group's area in image coordinates.
type rect struct {
	x0, y0, w, h int
}

func numGroups(xsize, ysize uint32, dim int) int {
	gx := (int(xsize) + dim - 1) / dim
	gy := (int(ysize) + dim - 1) / dim
	return gx * gy
}

func groupRect(index int, xsize, ysize uint32, dim int) rect {
	gx := (int(xsize) + dim - 1) / dim
	r := rect{x0: index % gx * dim, y0: index / gx * dim}
	r.w = min(dim, int(xsize)-r.x0)
	r.h = min(dim, int(ysize)-r.y0)
	return r
}

// groupScratch is the per-thread working memory of a parallel section.
type groupScratch struct {
	local  []int32
	planes [][]int32
	raw    []byte
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	level  zstd.EncoderLevel
}

func (s *groupScratch) release() {
	if s.enc != nil {
		putZstdEncoder(s.level, s.enc)
		s.enc = nil
	}
	if s.dec != nil {
		putZstdDecoder(s.dec)
		s.dec = nil
	}
}

// encodeGroup codes the residuals of every plane inside r and compresses
// them.
func encodeGroup(s *groupScratch, planes [][]int32, width int, r rect, p predictor) []byte {
	n := r.w * r.h
	if cap(s.local) < n {
		s.local = make([]int32, n)
	}
	local := s.local[:n]
	raw := s.raw[:0]
	for _, plane := range planes {
		for y := 0; y < r.h; y++ {
			copy(local[y*r.w:(y+1)*r.w], plane[(r.y0+y)*width+r.x0:])
		}
		for y := 0; y < r.h; y++ {
			for x := 0; x < r.w; x++ {
				i := y*r.w + x
				raw = binary.AppendUvarint(raw, uint64(zigzag(local[i]-predict(p, local, r.w, x, y))))
			}
		}
	}
	s.raw = raw
	return s.enc.EncodeAll(raw, nil)
}

// decodeGroup reverses encodeGroup into the scratch planes, which hold the
// r.w by r.h samples of each channel afterwards.
func decodeGroup(s *groupScratch, payload []byte, channels int, r rect, p predictor) ([][]int32, error) {
	raw, err := s.dec.DecodeAll(payload, s.raw[:0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errGroupData, err)
	}
	s.raw = raw
	n := r.w * r.h
	for len(s.planes) < channels {
		s.planes = append(s.planes, nil)
	}
	pos := 0
	for c := 0; c < channels; c++ {
		if cap(s.planes[c]) < n {
			s.planes[c] = make([]int32, n)
		}
		local := s.planes[c][:n]
		s.planes[c] = local
		for y := 0; y < r.h; y++ {
			for x := 0; x < r.w; x++ {
				u, m := binary.Uvarint(raw[pos:])
				if m <= 0 || u > 0xFFFFFFFF {
					return nil, errGroupData
				}
				pos += m
				i := y*r.w + x
				local[i] = predict(p, local, r.w, x, y) + unzigzag(uint32(u))
			}
		}
	}
	if pos != len(raw) {
		return nil, fmt.Errorf("%w: %d trailing bytes", errGroupData, len(raw)-pos)
	}
	return s.planes[:channels], nil
}
