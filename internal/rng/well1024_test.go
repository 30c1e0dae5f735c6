package rng

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGetNormals_NotDegenerate(t *testing.T) {
	g := New()
	for i := 0; i < 1000; i++ {
		a, b := g.GetNormals()
		assert.False(t, math.IsNaN(a) || math.IsInf(a, 0), "a must be finite")
		assert.False(t, math.IsNaN(b) || math.IsInf(b, 0), "b must be finite")
	}
}

// TestNormalMoments exercises the statistical property in spec §8: over a
// large sample the paired draws should have mean ~0, variance ~1, skewness
// ~0, and excess kurtosis ~0. Skipped under -short since it draws 10^6
// values.
func TestNormalMoments(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large-sample statistical test in -short mode")
	}

	const n = 1_000_000
	data := make([]float64, n)
	g := New()
	for i := 0; i < n/2; i++ {
		a, b := g.GetNormals()
		data[2*i] = a
		data[2*i+1] = b
	}

	var mean float64
	for _, v := range data {
		mean += v
	}
	mean /= n

	var vsum, ssum, ksum float64
	for _, v := range data {
		adj := v - mean
		vsum += adj * adj
		ssum += adj * adj * adj
		ksum += adj * adj * adj * adj
	}
	vsum /= n
	ssum /= n
	ksum /= n

	skewness := ssum / math.Pow(vsum, 1.5)
	kurtosis := ksum/(vsum*vsum) - 3

	assert.InDelta(t, 0.0, mean, 0.01, "mean should be near 0")
	assert.InDelta(t, 1.0, vsum, 0.02, "variance should be near 1")
	assert.InDelta(t, 0.0, skewness, 0.05, "skewness should be near 0")
	assert.InDelta(t, 0.0, kurtosis, 0.1, "excess kurtosis should be near 0")
}

func TestGetNormals_ConcurrentNoInterleave(t *testing.T) {
	g := New()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 1000; j++ {
				g.GetNormals()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
