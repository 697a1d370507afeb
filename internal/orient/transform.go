package orient

// Coordinate maps between the original frame and the upright (rotated)
// frame. All maps take the ORIGINAL image dimensions (w, h); the w-1 / h-1
// offsets keep integer pixel centres fixed, so forward followed by inverse is
// exact on the full coordinate range.

// Forward maps a coordinate in the original frame to the rotated frame.
func (r Rotation) Forward(x, y float64, w, h int) (float64, float64) {
	switch r {
	case Rotate90:
		return y, float64(w-1) - x
	case Rotate180:
		return float64(w-1) - x, float64(h-1) - y
	case Rotate270:
		return float64(h-1) - y, x
	default:
		return x, y
	}
}

// Backward maps a coordinate in the rotated frame back to the original
// frame. It is the exact inverse of Forward for the same record.
func (r Rotation) Backward(x, y float64, w, h int) (float64, float64) {
	switch r {
	case Rotate90:
		return float64(w-1) - y, x
	case Rotate180:
		return float64(w-1) - x, float64(h-1) - y
	case Rotate270:
		return y, float64(h-1) - x
	default:
		return x, y
	}
}

// RotatedDims returns the dimensions of the rotated image.
func (r Rotation) RotatedDims(w, h int) (int, int) {
	if r.Swapped() {
		return h, w
	}
	return w, h
}
