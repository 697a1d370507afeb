package colmap

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Camera model identifiers as the reconstruction engine defines them.
const (
	ModelSimplePinhole = 0
	ModelPinhole       = 1
	ModelSimpleRadial  = 2
	ModelRadial        = 3
	ModelOpenCV        = 4
)

// maxImageID bounds image ids so pair ids fit in a signed 64-bit integer
// under the engine's pairing function.
const maxImageID = 2147483647

// CameraModelID maps a configured model name to its numeric id.
func CameraModelID(name string) (int, error) {
	switch name {
	case "simple-pinhole":
		return ModelSimplePinhole, nil
	case "pinhole":
		return ModelPinhole, nil
	case "simple-radial":
		return ModelSimpleRadial, nil
	case "radial":
		return ModelRadial, nil
	case "opencv":
		return ModelOpenCV, nil
	default:
		return 0, fmt.Errorf("unknown camera model %q", name)
	}
}

// InitialParams returns the model's parameter vector initialized from image
// dimensions: focal at 1.2x the larger side, principal point centred, zero
// distortion. The downstream engine refines these.
func InitialParams(model int, width, height int) []float64 {
	f := 1.2 * float64(max(width, height))
	cx := float64(width) / 2
	cy := float64(height) / 2
	switch model {
	case ModelSimplePinhole:
		return []float64{f, cx, cy}
	case ModelPinhole:
		return []float64{f, f, cx, cy}
	case ModelSimpleRadial:
		return []float64{f, cx, cy, 0}
	case ModelRadial:
		return []float64{f, cx, cy, 0, 0}
	case ModelOpenCV:
		return []float64{f, f, cx, cy, 0, 0, 0, 0}
	default:
		return nil
	}
}

// PairID computes the engine's composite key for an image pair. Callers must
// pass ids in ascending order; SwapPair normalizes first.
func PairID(id1, id2 int64) int64 {
	return id1*maxImageID + id2
}

// SwapPair orders two image ids ascending and reports whether they swapped,
// in which case match index columns must swap too.
func SwapPair(id1, id2 int64) (int64, int64, bool) {
	if id1 > id2 {
		return id2, id1, true
	}
	return id1, id2, false
}

func encodeFloat64Blob(vals []float64) []byte {
	buf := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func encodeFloat32Blob(vals []float32) []byte {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func encodeUint32Blob(vals []uint32) []byte {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}
