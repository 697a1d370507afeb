package orient

import (
	"fmt"

	"photomatch/internal/features"
)

// RestoreKeypoints maps a KeypointSet expressed in the upright frame back to
// the original image frame, in place. Only coordinates are translated; index
// order, scales and descriptors are untouched, so match records stay valid.
func RestoreKeypoints(set *features.KeypointSet, rec Record) error {
	if !rec.Rotation.Valid() {
		return fmt.Errorf("invalid rotation %d in record", rec.Rotation)
	}
	if rec.Rotation == Rotate0 {
		return nil
	}
	for i := range set.Keypoints {
		kp := &set.Keypoints[i]
		kp.X, kp.Y = rec.Rotation.Backward(kp.X, kp.Y, rec.Width, rec.Height)
	}
	return nil
}
