package orient

import (
	"encoding/json"
	"fmt"
	"os"
)

// Rotation is a counter-clockwise right-angle rotation in degrees. Only the
// four axis-aligned rotations exist; they are losslessly invertible on a
// pixel grid, which the restore step depends on.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Valid reports whether r is one of the four supported rotations.
func (r Rotation) Valid() bool {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	}
	return false
}

// Inverse returns the rotation that undoes r.
func (r Rotation) Inverse() Rotation {
	return Rotation((360 - int(r)) % 360)
}

// Swapped reports whether r exchanges width and height.
func (r Rotation) Swapped() bool {
	return r == Rotate90 || r == Rotate270
}

// Record stores, per image, the rotation applied during upright
// normalization and the original pre-rotation dimensions. Both are required
// to invert the coordinate transform exactly.
type Record struct {
	Rotation Rotation `json:"rotation"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
}

// Records maps image IDs to their rotation records.
type Records map[string]Record

// SaveRecords persists the rotation map next to the rotated copies so a
// restarted run can restore coordinates without redoing detection.
func SaveRecords(path string, recs Records) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// LoadRecords reads a rotation map written by SaveRecords.
func LoadRecords(path string) (Records, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recs Records
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse rotation records %s: %w", path, err)
	}
	for id, rec := range recs {
		if !rec.Rotation.Valid() {
			return nil, fmt.Errorf("rotation record for %q: invalid angle %d", id, rec.Rotation)
		}
	}
	return recs, nil
}

// FromEXIFOrientation maps the EXIF Orientation tag (1..8) to the
// counter-clockwise rotation that makes the image upright. The mirrored
// variants (2,4,5,7) and unknown values map to identity; mirroring cannot be
// expressed as a pure rotation and is left alone rather than guessed at.
func FromEXIFOrientation(tag int) Rotation {
	switch tag {
	case 3:
		return Rotate180
	case 6:
		return Rotate270
	case 8:
		return Rotate90
	default:
		return Rotate0
	}
}
