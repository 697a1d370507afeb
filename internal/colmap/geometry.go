package colmap

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateGeometry is returned when a pair has too few correspondences
// or a configuration the eight-point algorithm cannot solve.
var ErrDegenerateGeometry = errors.New("degenerate two-view geometry")

const (
	ransacIterations = 500
	minSampleSize    = 8
)

// EstimateFundamental fits a fundamental matrix to the given correspondences
// with RANSAC over the normalized eight-point algorithm, then refits on the
// inlier set. threshold is the Sampson distance cutoff in pixels. The RNG is
// fixed-seed so repeated exports of the same input agree.
func EstimateFundamental(ptsA, ptsB [][2]float64, threshold float64) ([]float64, []int, error) {
	n := len(ptsA)
	if n != len(ptsB) {
		return nil, nil, errors.New("correspondence lists differ in length")
	}
	if n < minSampleSize {
		return nil, nil, ErrDegenerateGeometry
	}

	rng := rand.New(rand.NewSource(1))
	thresholdSq := threshold * threshold

	var (
		bestF       *mat.Dense
		bestInliers []int
	)
	sample := make([]int, minSampleSize)
	for iter := 0; iter < ransacIterations; iter++ {
		sampleIndices(rng, n, sample)
		F, err := eightPoint(ptsA, ptsB, sample)
		if err != nil {
			continue
		}
		inliers := inlierSet(F, ptsA, ptsB, thresholdSq)
		if len(inliers) > len(bestInliers) {
			bestF = F
			bestInliers = inliers
		}
	}
	if bestF == nil || len(bestInliers) < minSampleSize {
		return nil, nil, ErrDegenerateGeometry
	}

	// Refit on all inliers of the best model.
	if F, err := eightPoint(ptsA, ptsB, bestInliers); err == nil {
		if inliers := inlierSet(F, ptsA, ptsB, thresholdSq); len(inliers) >= len(bestInliers) {
			bestF = F
			bestInliers = inliers
		}
	}

	out := make([]float64, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = bestF.At(r, c)
		}
	}
	return out, bestInliers, nil
}

// sampleIndices fills dst with distinct random indices in [0, n).
func sampleIndices(rng *rand.Rand, n int, dst []int) {
	seen := make(map[int]bool, len(dst))
	for i := range dst {
		for {
			v := rng.Intn(n)
			if !seen[v] {
				seen[v] = true
				dst[i] = v
				break
			}
		}
	}
}

// eightPoint solves for F from the selected correspondences using Hartley
// normalization and a rank-2 enforcement step.
func eightPoint(ptsA, ptsB [][2]float64, idx []int) (*mat.Dense, error) {
	ta, na := normalizePoints(ptsA, idx)
	tb, nb := normalizePoints(ptsB, idx)

	a := mat.NewDense(len(idx), 9, nil)
	for row := range idx {
		x1, y1 := na[row][0], na[row][1]
		x2, y2 := nb[row][0], nb[row][1]
		a.SetRow(row, []float64{
			x2 * x1, x2 * y1, x2,
			y2 * x1, y2 * y1, y2,
			x1, y1, 1,
		})
	}

	// Full SVD: with the minimal 8-point sample A is 8x9 and the null-space
	// column of V only exists in the full factorization.
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, ErrDegenerateGeometry
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()
	f := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			f.Set(r, c, v.At(r*3+c, cols-1))
		}
	}

	// Enforce rank 2 by zeroing the smallest singular value.
	var fsvd mat.SVD
	if !fsvd.Factorize(f, mat.SVDFull) {
		return nil, ErrDegenerateGeometry
	}
	var u, vf mat.Dense
	fsvd.UTo(&u)
	fsvd.VTo(&vf)
	s := fsvd.Values(nil)
	d := mat.NewDiagDense(3, []float64{s[0], s[1], 0})
	var rank2 mat.Dense
	rank2.Product(&u, d, vf.T())

	// Denormalize: F = Tb^T * F_hat * Ta.
	var denorm mat.Dense
	denorm.Product(tb.T(), &rank2, ta)
	return &denorm, nil
}

// normalizePoints applies Hartley's isotropic normalization to the selected
// points: centroid at origin, mean distance sqrt(2). Returns the transform
// and the normalized points.
func normalizePoints(pts [][2]float64, idx []int) (*mat.Dense, [][2]float64) {
	var cx, cy float64
	for _, i := range idx {
		cx += pts[i][0]
		cy += pts[i][1]
	}
	cx /= float64(len(idx))
	cy /= float64(len(idx))

	var meanDist float64
	for _, i := range idx {
		dx := pts[i][0] - cx
		dy := pts[i][1] - cy
		meanDist += math.Hypot(dx, dy)
	}
	meanDist /= float64(len(idx))
	scale := 1.0
	if meanDist > 0 {
		scale = math.Sqrt2 / meanDist
	}

	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * cx,
		0, scale, -scale * cy,
		0, 0, 1,
	})
	out := make([][2]float64, len(idx))
	for row, i := range idx {
		out[row][0] = scale * (pts[i][0] - cx)
		out[row][1] = scale * (pts[i][1] - cy)
	}
	return t, out
}

// inlierSet returns the indices whose Sampson distance under F is below the
// squared threshold, in ascending order.
func inlierSet(f *mat.Dense, ptsA, ptsB [][2]float64, thresholdSq float64) []int {
	var inliers []int
	for i := range ptsA {
		if sampsonDistSq(f, ptsA[i], ptsB[i]) < thresholdSq {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// sampsonDistSq is the first-order approximation of the reprojection error
// for a point pair under F.
func sampsonDistSq(f *mat.Dense, pa, pb [2]float64) float64 {
	x1 := []float64{pa[0], pa[1], 1}
	x2 := []float64{pb[0], pb[1], 1}

	var fx1 [3]float64
	var ftx2 [3]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			fx1[r] += f.At(r, c) * x1[c]
			ftx2[r] += f.At(c, r) * x2[c]
		}
	}
	var num float64
	for r := 0; r < 3; r++ {
		num += x2[r] * fx1[r]
	}
	denom := fx1[0]*fx1[0] + fx1[1]*fx1[1] + ftx2[0]*ftx2[0] + ftx2[1]*ftx2[1]
	if denom == 0 {
		return math.Inf(1)
	}
	return num * num / denom
}
