package engine

import (
	"encoding/binary"
	"fmt"
	"math"
)

// iccTag is one entry of a synthesized profile.
type iccTag struct {
	sig  string
	data []byte
}

// d50 white point in XYZ
var iccD50 = [3]float64{0.9642, 1.0, 0.8249}

// sRGB primaries adapted to D50, as columns r, g, b
var srgbPrimariesD50 = [3][3]float64{
	{0.4361, 0.2225, 0.0139},
	{0.3851, 0.7169, 0.0971},
	{0.1431, 0.0606, 0.7141},
}

// synthesizeICC builds a compact ICC v4 display profile describing one of
// the structured color spaces. It carries the description, white point,
// primaries and transfer curves; no lookup tables.
func synthesizeICC(cs ColorSpace) ([]byte, error) {
	var desc string
	var gray, linear bool
	switch cs {
	case ColorSRGB:
		desc = "RGB_D65_SRG_Rel_SRG"
	case ColorLinearSRGB:
		desc, linear = "RGB_D65_SRG_Rel_Lin", true
	case ColorGraySRGB:
		desc, gray = "Gra_D65_Rel_SRG", true
	case ColorGrayLinear:
		desc, gray, linear = "Gra_D65_Rel_Lin", true, true
	default:
		return nil, fmt.Errorf("no profile for color space %d", cs)
	}

	trc := iccParaCurve(linear)
	tags := []iccTag{
		{"desc", iccMLUC(desc)},
		{"cprt", iccMLUC("CC0")},
		{"wtpt", iccXYZ(iccD50)},
	}
	if gray {
		tags = append(tags, iccTag{"kTRC", trc})
	} else {
		tags = append(tags,
			iccTag{"rXYZ", iccXYZ(srgbPrimariesD50[0])},
			iccTag{"gXYZ", iccXYZ(srgbPrimariesD50[1])},
			iccTag{"bXYZ", iccXYZ(srgbPrimariesD50[2])},
			iccTag{"rTRC", trc},
			iccTag{"gTRC", trc},
			iccTag{"bTRC", trc},
		)
	}

	const headerSize = 128
	tableSize := 4 + 12*len(tags)
	offset := headerSize + tableSize
	table := make([]byte, tableSize)
	binary.BigEndian.PutUint32(table, uint32(len(tags)))
	var body []byte
	for i, t := range tags {
		entry := table[4+12*i:]
		copy(entry[0:4], t.sig)
		binary.BigEndian.PutUint32(entry[4:], uint32(offset+len(body)))
		binary.BigEndian.PutUint32(entry[8:], uint32(len(t.data)))
		body = append(body, t.data...)
		for len(body)%4 != 0 {
			body = append(body, 0)
		}
	}

	total := offset + len(body)
	profile := make([]byte, headerSize, total)
	binary.BigEndian.PutUint32(profile[0:], uint32(total))
	copy(profile[4:8], "gjxl")
	binary.BigEndian.PutUint32(profile[8:], 0x04300000)
	copy(profile[12:16], "mntr")
	if gray {
		copy(profile[16:20], "GRAY")
	} else {
		copy(profile[16:20], "RGB ")
	}
	copy(profile[20:24], "XYZ ")
	copy(profile[36:40], "acsp")
	binary.BigEndian.PutUint32(profile[64:], 1) // relative colorimetric
	for i, v := range iccD50 {
		binary.BigEndian.PutUint32(profile[68+4*i:], s15Fixed16(v))
	}
	copy(profile[80:84], "gjxl")
	profile = append(profile, table...)
	profile = append(profile, body...)
	return profile, nil
}

func s15Fixed16(v float64) uint32 {
	return uint32(int32(math.Round(v * 65536)))
}

func iccXYZ(v [3]float64) []byte {
	b := make([]byte, 20)
	copy(b, "XYZ ")
	for i := range v {
		binary.BigEndian.PutUint32(b[8+4*i:], s15Fixed16(v[i]))
	}
	return b
}

// iccMLUC encodes an ASCII string as a single en-US multiLocalizedUnicode
// record.
func iccMLUC(s string) []byte {
	b := make([]byte, 28+2*len(s))
	copy(b, "mluc")
	binary.BigEndian.PutUint32(b[8:], 1)
	binary.BigEndian.PutUint32(b[12:], 12)
	copy(b[16:20], "enUS")
	binary.BigEndian.PutUint32(b[20:], uint32(2*len(s)))
	binary.BigEndian.PutUint32(b[24:], 28)
	for i := 0; i < len(s); i++ {
		binary.BigEndian.PutUint16(b[28+2*i:], uint16(s[i]))
	}
	return b
}

// iccParaCurve encodes the sRGB transfer function (type 3) or identity.
func iccParaCurve(linear bool) []byte {
	if linear {
		b := make([]byte, 16)
		copy(b, "para")
		binary.BigEndian.PutUint32(b[12:], s15Fixed16(1))
		return b
	}
	params := []float64{2.4, 1 / 1.055, 0.055 / 1.055, 1 / 12.92, 0.04045}
	b := make([]byte, 12+4*len(params))
	copy(b, "para")
	binary.BigEndian.PutUint16(b[8:], 3)
	for i, p := range params {
		binary.BigEndian.PutUint32(b[12+4*i:], s15Fixed16(p))
	}
	return b
}
