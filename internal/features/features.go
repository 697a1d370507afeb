package features

import "fmt"

// Keypoint is a detected image location in pixel coordinates. Scale and
// Orientation are carried through untouched for extractors that provide
// them; zero otherwise.
type Keypoint struct {
	X           float64
	Y           float64
	Scale       float64
	Orientation float64
}

// KeypointSet is the ordered per-image feature set. Index positions are
// stable once written: later stages may translate coordinates in place but
// never reorder, because match records reference keypoints by index.
type KeypointSet struct {
	Keypoints   []Keypoint
	Descriptors [][]float32
}

// Len returns the number of keypoints.
func (s *KeypointSet) Len() int { return len(s.Keypoints) }

// DescriptorDim returns the descriptor dimensionality, 0 for an empty set.
func (s *KeypointSet) DescriptorDim() int {
	if len(s.Descriptors) == 0 {
		return 0
	}
	return len(s.Descriptors[0])
}

// Check verifies the set is internally consistent.
func (s *KeypointSet) Check() error {
	if len(s.Descriptors) != len(s.Keypoints) {
		return fmt.Errorf("keypoint/descriptor count mismatch: %d vs %d", len(s.Keypoints), len(s.Descriptors))
	}
	dim := s.DescriptorDim()
	for i, d := range s.Descriptors {
		if len(d) != dim {
			return fmt.Errorf("descriptor %d has dim %d, want %d", i, len(d), dim)
		}
	}
	return nil
}

// MatchSet holds correspondences for one pair: each entry indexes into image
// A's and image B's KeypointSet respectively. Immutable once produced.
type MatchSet struct {
	A     string
	B     string
	Pairs [][2]int
}

// Len returns the number of correspondences.
func (m *MatchSet) Len() int { return len(m.Pairs) }

// Validate checks every index against the two keypoint counts.
func (m *MatchSet) Validate(lenA, lenB int) error {
	for _, p := range m.Pairs {
		if p[0] < 0 || p[0] >= lenA {
			return fmt.Errorf("match %s-%s: index %d out of range for %s (%d keypoints)", m.A, m.B, p[0], m.A, lenA)
		}
		if p[1] < 0 || p[1] >= lenB {
			return fmt.Errorf("match %s-%s: index %d out of range for %s (%d keypoints)", m.A, m.B, p[1], m.B, lenB)
		}
	}
	return nil
}
