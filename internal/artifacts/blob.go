package artifacts

import (
	"encoding/binary"
	"fmt"
	"math"

	"photomatch/internal/features"
)

// Blob codecs for the SQLite artifact store. Everything is little-endian:
// keypoints are float32 rows of (x, y, scale, orientation), descriptors are
// flattened float32 rows, matches are uint32 index pairs.

const keypointCols = 4

func encodeKeypoints(kps []features.Keypoint) []byte {
	buf := make([]byte, len(kps)*keypointCols*4)
	off := 0
	for _, kp := range kps {
		for _, v := range [keypointCols]float64{kp.X, kp.Y, kp.Scale, kp.Orientation} {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
			off += 4
		}
	}
	return buf
}

func decodeKeypoints(data []byte) ([]features.Keypoint, error) {
	if len(data)%(keypointCols*4) != 0 {
		return nil, fmt.Errorf("keypoint blob has %d bytes, not a multiple of %d", len(data), keypointCols*4)
	}
	n := len(data) / (keypointCols * 4)
	kps := make([]features.Keypoint, n)
	off := 0
	read := func() float64 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		return float64(v)
	}
	for i := range kps {
		kps[i].X = read()
		kps[i].Y = read()
		kps[i].Scale = read()
		kps[i].Orientation = read()
	}
	return kps, nil
}

func encodeDescriptors(descs [][]float32) []byte {
	if len(descs) == 0 {
		return nil
	}
	dim := len(descs[0])
	buf := make([]byte, len(descs)*dim*4)
	off := 0
	for _, d := range descs {
		for _, v := range d {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
	return buf
}

func decodeDescriptors(data []byte, dim int) ([][]float32, error) {
	if dim <= 0 {
		if len(data) != 0 {
			return nil, fmt.Errorf("descriptor blob present but dim is %d", dim)
		}
		return nil, nil
	}
	if len(data)%(dim*4) != 0 {
		return nil, fmt.Errorf("descriptor blob has %d bytes, not a multiple of %d", len(data), dim*4)
	}
	n := len(data) / (dim * 4)
	descs := make([][]float32, n)
	off := 0
	for i := range descs {
		row := make([]float32, dim)
		for k := range row {
			row[k] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		descs[i] = row
	}
	return descs, nil
}

func encodeMatches(pairs [][2]int) []byte {
	buf := make([]byte, len(pairs)*8)
	off := 0
	for _, p := range pairs {
		binary.LittleEndian.PutUint32(buf[off:], uint32(p[0]))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(p[1]))
		off += 8
	}
	return buf
}

func decodeMatches(data []byte) ([][2]int, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("match blob has %d bytes, not a multiple of 8", len(data))
	}
	pairs := make([][2]int, len(data)/8)
	off := 0
	for i := range pairs {
		pairs[i][0] = int(binary.LittleEndian.Uint32(data[off:]))
		pairs[i][1] = int(binary.LittleEndian.Uint32(data[off+4:]))
		off += 8
	}
	return pairs, nil
}
