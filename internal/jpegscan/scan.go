package jpegscan

import "fmt"

// Header is the frame geometry of a JPEG stream.
type Header struct {
	Width       int
	Height      int
	Components  int
	Precision   int
	Marker      uint16 // SOF marker that introduced the frame
	Progressive bool
	HasEXIF     bool // APP1 "Exif" segment present
	HasICC      bool // APP2 "ICC_PROFILE" segment present
	HasAdobe    bool // APP14 "Adobe" segment present
}

// Scan reads marker segments up to and including the first SOF and returns
// the frame header. Entropy-coded data is never touched.
func Scan(data []byte) (*Header, error) {
	r := &reader{data: data}
	marker, err := r.readMarker()
	if err != nil || marker != MarkerSOI {
		return nil, ErrInvalidSOI
	}

	h := &Header{}
	for {
		marker, err := r.readMarker()
		if err != nil {
			return nil, err
		}
		if !HasLength(marker) {
			if marker == MarkerEOI {
				return nil, ErrMissingSOF
			}
			continue
		}
		if marker == MarkerSOS {
			return nil, ErrMissingSOF
		}
		seg, err := r.readSegment()
		if err != nil {
			return nil, err
		}
		switch {
		case marker == MarkerAPP1 && hasPrefix(seg, "Exif\x00"):
			h.HasEXIF = true
		case marker == MarkerAPP2 && hasPrefix(seg, "ICC_PROFILE\x00"):
			h.HasICC = true
		case marker == MarkerAPP14 && hasPrefix(seg, "Adobe"):
			h.HasAdobe = true
		case IsSOF(marker):
			if err := parseSOF(h, marker, seg); err != nil {
				return nil, err
			}
			return h, nil
		}
	}
}

func parseSOF(h *Header, marker uint16, seg []byte) error {
	if len(seg) < 6 {
		return ErrInvalidSOF
	}
	h.Marker = marker
	h.Precision = int(seg[0])
	h.Height = int(seg[1])<<8 | int(seg[2])
	h.Width = int(seg[3])<<8 | int(seg[4])
	h.Components = int(seg[5])
	h.Progressive = marker == MarkerSOF2 || marker == 0xFFC6 || marker == 0xFFCA || marker == 0xFFCE
	if len(seg) < 6+3*h.Components {
		return fmt.Errorf("%w: %d components in %d bytes", ErrInvalidSOF, h.Components, len(seg))
	}
	if h.Width == 0 || h.Height == 0 {
		return ErrInvalidDimensions
	}
	return nil
}

func hasPrefix(b []byte, prefix string) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == prefix
}
