// Package math provides float32 vector kernels shared by the distance
// kernel and centroid maintenance. DotProduct accumulates in float64
// and unrolls by four for CPU pipelining; MeanVector accumulates in
// float32 and WeightedMeanVector in float64.
package math

import (
	"math"
)

// DotProduct computes the inner product of two float32 vectors.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var sum float64
	n := len(a)

	// Process 4 elements at a time for better CPU pipelining
	i := 0
	for ; i <= n-4; i += 4 {
		sum += float64(a[i])*float64(b[i]) +
			float64(a[i+1])*float64(b[i+1]) +
			float64(a[i+2])*float64(b[i+2]) +
			float64(a[i+3])*float64(b[i+3])
	}

	for ; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}

	return sum
}

// Norm returns the L2 norm of a vector.
func Norm(v []float32) float64 {
	return math.Sqrt(DotProduct(v, v))
}

// NormalizedCopy returns a unit-length copy of v. A zero-norm vector
// yields an all-zero copy, which downstream cosine math treats as
// orthogonal to everything.
func NormalizedCopy(v []float32) []float32 {
	out := make([]float32, len(v))
	mag := Norm(v)
	if mag == 0 {
		return out
	}
	inv := float32(1.0 / mag)
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// CosineDistance computes 1 - cos(a, b), clipped to [0, 1].
// Zero-norm inputs are treated as orthogonal (distance 1).
func CosineDistance(a, b []float32) float64 {
	denom := Norm(a) * Norm(b)
	if denom == 0 {
		return 1.0
	}
	d := 1.0 - DotProduct(a, b)/denom
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

// MeanVector computes the element-wise mean of vectors into dst.
// dst must have the common dimension of the inputs.
func MeanVector(dst []float32, vectors [][]float32) {
	if len(vectors) == 0 || len(dst) == 0 {
		return
	}

	for i := range dst {
		dst[i] = 0
	}
	for _, v := range vectors {
		for i := 0; i < len(dst) && i < len(v); i++ {
			dst[i] += v[i]
		}
	}

	inv := float32(1.0 / float64(len(vectors)))
	for i := range dst {
		dst[i] *= inv
	}
}

// WeightedMeanVector computes the weighted element-wise mean of vectors
// into dst. weights must be the same length as vectors; a zero total
// weight falls back to the unweighted mean.
func WeightedMeanVector(dst []float32, vectors [][]float32, weights []float64) {
	if len(vectors) == 0 || len(dst) == 0 || len(weights) != len(vectors) {
		return
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		MeanVector(dst, vectors)
		return
	}

	acc := make([]float64, len(dst))
	for k, v := range vectors {
		w := weights[k]
		for i := 0; i < len(dst) && i < len(v); i++ {
			acc[i] += w * float64(v[i])
		}
	}
	for i := range dst {
		dst[i] = float32(acc[i] / total)
	}
}
