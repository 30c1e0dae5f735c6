// Package sampler draws correlated binary attribute vectors from standard
// normals via a thresholded linear combination, and derives the marginal
// and pairwise-correlation parameters of that distribution.
package sampler

import (
	"github.com/rawblock/berghain-engine/internal/apierr"
	"github.com/rawblock/berghain-engine/internal/rng"
)

// MaxAttrs is the largest attribute count the 32-bit patron bitmask can
// carry.
const MaxAttrs = 32

// GenerateAttributes draws n standard normals from g (n/2 calls to
// GetNormals), forms the sums s_i = sum_j A[i*n+j]*x_j, and returns a
// bitmask with bit i set iff s_i > t[i].
//
// n must be even and in [2, MaxAttrs]; t has length n; A is n*n row-major.
func GenerateAttributes(g *rng.Generator, n int, t []float64, a []float64) (uint32, error) {
	if n == 0 || n%2 != 0 || n > MaxAttrs {
		return 0, apierr.Newf(apierr.InvalidArity, "invalid attribute count: %d", n)
	}

	x := make([]float64, n)
	for i := 0; i < n/2; i++ {
		x[2*i], x[2*i+1] = g.GetNormals()
	}

	var result uint32
	for i := 0; i < n; i++ {
		var sum float64
		base := i * n
		for j := 0; j < n; j++ {
			sum += a[base+j] * x[j]
		}
		if sum > t[i] {
			result |= 1 << uint(i)
		}
	}
	return result, nil
}
