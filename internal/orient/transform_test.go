package orient

import (
	"math"
	"path/filepath"
	"testing"

	"photomatch/internal/features"
)

func TestForwardBackwardRoundTrip(t *testing.T) {
	const w, h = 640, 480
	points := [][2]float64{
		{0, 0},
		{float64(w - 1), 0},
		{0, float64(h - 1)},
		{float64(w - 1), float64(h - 1)},
		{12.5, 300.25},
		{319.9, 239.1},
	}

	for _, rot := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
		for _, p := range points {
			fx, fy := rot.Forward(p[0], p[1], w, h)
			bx, by := rot.Backward(fx, fy, w, h)
			if math.Abs(bx-p[0]) > 1e-6 || math.Abs(by-p[1]) > 1e-6 {
				t.Fatalf("rotation %d: point (%v, %v) round-tripped to (%v, %v)", rot, p[0], p[1], bx, by)
			}
		}
	}
}

func TestForwardStaysInRotatedBounds(t *testing.T) {
	const w, h = 100, 60
	for _, rot := range []Rotation{Rotate90, Rotate180, Rotate270} {
		rw, rh := rot.RotatedDims(w, h)
		for _, p := range [][2]float64{{0, 0}, {99, 0}, {0, 59}, {99, 59}} {
			fx, fy := rot.Forward(p[0], p[1], w, h)
			if fx < 0 || fx > float64(rw-1) || fy < 0 || fy > float64(rh-1) {
				t.Fatalf("rotation %d maps (%v, %v) outside %dx%d: (%v, %v)", rot, p[0], p[1], rw, rh, fx, fy)
			}
		}
	}
}

func TestRotatedDims(t *testing.T) {
	if w, h := Rotate90.RotatedDims(640, 480); w != 480 || h != 640 {
		t.Fatalf("expected swapped dims, got %dx%d", w, h)
	}
	if w, h := Rotate180.RotatedDims(640, 480); w != 640 || h != 480 {
		t.Fatalf("expected unchanged dims, got %dx%d", w, h)
	}
}

func TestInverse(t *testing.T) {
	cases := map[Rotation]Rotation{
		Rotate0:   Rotate0,
		Rotate90:  Rotate270,
		Rotate180: Rotate180,
		Rotate270: Rotate90,
	}
	for rot, want := range cases {
		if got := rot.Inverse(); got != want {
			t.Fatalf("inverse of %d: got %d, want %d", rot, got, want)
		}
	}
}

func TestFromEXIFOrientation(t *testing.T) {
	cases := map[int]Rotation{
		1: Rotate0,
		3: Rotate180,
		6: Rotate270,
		8: Rotate90,
		2: Rotate0, // mirrored variants stay identity
		5: Rotate0,
		7: Rotate0,
		0: Rotate0,
	}
	for tag, want := range cases {
		if got := FromEXIFOrientation(tag); got != want {
			t.Fatalf("tag %d: got %d, want %d", tag, got, want)
		}
	}
}

func TestRestoreKeypointsCoordinatesOnly(t *testing.T) {
	// Keypoints detected in the upright (90 CCW rotated) frame of a 640x480
	// original. Restore must put them back in the original frame without
	// touching order, scale, orientation or descriptors.
	rec := Record{Rotation: Rotate90, Width: 640, Height: 480}
	original := []features.Keypoint{
		{X: 10, Y: 20, Scale: 1.5, Orientation: 0.3},
		{X: 639, Y: 0, Scale: 2, Orientation: -1},
		{X: 320.5, Y: 240.25, Scale: 1, Orientation: 2.2},
	}

	set := features.KeypointSet{
		Keypoints:   make([]features.Keypoint, len(original)),
		Descriptors: [][]float32{{1}, {2}, {3}},
	}
	for i, kp := range original {
		fx, fy := rec.Rotation.Forward(kp.X, kp.Y, rec.Width, rec.Height)
		set.Keypoints[i] = features.Keypoint{X: fx, Y: fy, Scale: kp.Scale, Orientation: kp.Orientation}
	}

	if err := RestoreKeypoints(&set, rec); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	for i, kp := range set.Keypoints {
		want := original[i]
		if math.Abs(kp.X-want.X) > 1e-6 || math.Abs(kp.Y-want.Y) > 1e-6 {
			t.Fatalf("keypoint %d restored to (%v, %v), want (%v, %v)", i, kp.X, kp.Y, want.X, want.Y)
		}
		if kp.Scale != want.Scale || kp.Orientation != want.Orientation {
			t.Fatalf("keypoint %d scale/orientation changed: %+v", i, kp)
		}
	}
	if set.Descriptors[1][0] != 2 {
		t.Fatalf("descriptors changed during restore")
	}
}

func TestRestoreKeypointsRejectsInvalidRotation(t *testing.T) {
	set := features.KeypointSet{Keypoints: []features.Keypoint{{X: 1, Y: 1}}}
	if err := RestoreKeypoints(&set, Record{Rotation: 45, Width: 10, Height: 10}); err == nil {
		t.Fatalf("expected error for invalid rotation")
	}
}

func TestRecordsSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotations.json")
	recs := Records{
		"a.jpg": {Rotation: Rotate90, Width: 640, Height: 480},
		"b.jpg": {Rotation: Rotate0, Width: 800, Height: 600},
	}
	if err := SaveRecords(path, recs); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 records, got %d", len(loaded))
	}
	if loaded["a.jpg"] != recs["a.jpg"] || loaded["b.jpg"] != recs["b.jpg"] {
		t.Fatalf("records changed across save/load: %+v", loaded)
	}
}

func TestLoadRecordsRejectsInvalidAngle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotations.json")
	if err := SaveRecords(path, Records{"a.jpg": {Rotation: 45}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := LoadRecords(path); err == nil {
		t.Fatalf("expected error for invalid stored angle")
	}
}
