// Package jpegscan walks the marker segments of a JPEG stream far enough to
// learn the frame geometry without decoding any entropy-coded data.
package jpegscan

// Markers the scanner distinguishes. Every SOF variant counts through IsSOF.
const (
	MarkerSOI = 0xFFD8
	MarkerEOI = 0xFFD9

	// Start of Frame markers
	MarkerSOF0  = 0xFFC0 // Baseline DCT
	MarkerSOF2  = 0xFFC2 // Progressive DCT
	MarkerSOF3  = 0xFFC3 // Lossless (Sequential)
	MarkerSOF5  = 0xFFC5
	MarkerSOF7  = 0xFFC7
	MarkerSOF9  = 0xFFC9 // Arithmetic coding variants start here
	MarkerSOF11 = 0xFFCB
	MarkerSOF13 = 0xFFCD
	MarkerSOF15 = 0xFFCF

	MarkerDHT = 0xFFC4
	MarkerSOS = 0xFFDA

	MarkerAPP0  = 0xFFE0
	MarkerAPP1  = 0xFFE1
	MarkerAPP2  = 0xFFE2
	MarkerAPP14 = 0xFFEE // Adobe, carries the color transform

	MarkerRST0 = 0xFFD0
	MarkerRST7 = 0xFFD7
)

// IsSOF reports whether marker starts a frame. 0xFFC4, 0xFFC8 and 0xFFCC
// share the range but are DHT, JPG and DAC.
func IsSOF(marker uint16) bool {
	return (marker >= MarkerSOF0 && marker <= MarkerSOF3) ||
		(marker >= MarkerSOF5 && marker <= MarkerSOF7) ||
		(marker >= MarkerSOF9 && marker <= MarkerSOF11) ||
		(marker >= MarkerSOF13 && marker <= MarkerSOF15)
}

// IsRST reports whether marker is one of RST0..RST7.
func IsRST(marker uint16) bool {
	return marker >= MarkerRST0 && marker <= MarkerRST7
}

// HasLength reports whether a 2-byte segment length follows marker.
func HasLength(marker uint16) bool {
	if marker == MarkerSOI || marker == MarkerEOI {
		return false
	}
	return !IsRST(marker)
}
