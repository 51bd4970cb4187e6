package engine

// orientedSize returns the display size of an xsize by ysize image.
func orientedSize(xsize, ysize, orientation uint32) (uint32, uint32) {
	if orientation >= 5 {
		return ysize, xsize
	}
	return xsize, ysize
}

// orient maps a stored pixel position to its display position for the
// EXIF orientation values 1..8.
func orient(x, y, w, h int, orientation uint32) (int, int) {
	switch orientation {
	case 2:
		return w - 1 - x, y
	case 3:
		return w - 1 - x, h - 1 - y
	case 4:
		return x, h - 1 - y
	case 5:
		return y, x
	case 6:
		return h - 1 - y, x
	case 7:
		return h - 1 - y, w - 1 - x
	case 8:
		return y, w - 1 - x
	default:
		return x, y
	}
}
