package sampler

import (
	"log"
	"math"
	"runtime"
	"sync"

	"github.com/rawblock/berghain-engine/internal/rng"
)

// DeriveMarginals computes the closed-form marginal P(attribute i = 1) for
// each attribute. Since s_i = sum_j A[i*n+j]*x_j is a zero-mean normal with
// variance sigma^2 = sum_j A[i*n+j]^2, P(s_i > t_i) = 0.5*(1 - erf(t_i /
// sqrt(2*sigma^2))).
func DeriveMarginals(n int, t []float64, a []float64) []float64 {
	marginals := make([]float64, n)
	for i := 0; i < n; i++ {
		var variance float64
		base := i * n
		for j := 0; j < n; j++ {
			variance += a[base+j] * a[base+j]
		}
		marginals[i] = 0.5 * (1 - math.Erf(t[i]/math.Sqrt(2*variance)))
	}
	return marginals
}

// monteCarloSampleCap bounds the total number of Monte Carlo draws used to
// estimate the correlation matrix. §4.3 calls for "order 10^7" samples;
// beyond this cap the estimate has long since converged and further draws
// just burn CPU at startup, so we bail out early the way the teacher's
// ssmp.go bails out of its combinatorial search past its own compute
// budget, logging what was skipped instead of silently truncating.
const monteCarloSampleCap = 10_000_000

// DeriveCorrelation estimates the pairwise Pearson correlation matrix by
// Monte Carlo: drawing samples from the Attribute Sampler, accumulating the
// sample covariance, and normalizing by the marginal variances. Work is
// split across GOMAXPROCS goroutines, each with its own Generator draw
// sequence reduced into a shared accumulator under a mutex — mirroring the
// teacher's pattern of a small number of long-lived worker goroutines
// (the original engine's `go poller.Run(ctx)`, `go wsHub.Run()`) rather
// than one goroutine per unit of work.
func DeriveCorrelation(n int, t []float64, a []float64, samples int) []float64 {
	if samples <= 0 {
		samples = monteCarloSampleCap
	}
	if samples > monteCarloSampleCap {
		log.Printf("[Sampler] requested %d correlation samples exceeds budget %d, capping", samples, monteCarloSampleCap)
		samples = monteCarloSampleCap
	}

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if workers > samples {
		workers = 1
	}

	q := make([]float64, n*n)
	mean := make([]float64, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	per := samples / workers
	remainder := samples - per*workers

	for w := 0; w < workers; w++ {
		count := per
		if w == workers-1 {
			count += remainder
		}
		wg.Add(1)
		go func(count int) {
			defer wg.Done()
			localQ := make([]float64, n*n)
			localMean := make([]float64, n)
			g := rng.New()
			vec := make([]float64, n)

			for s := 0; s < count; s++ {
				attrs, err := GenerateAttributes(g, n, t, a)
				if err != nil {
					return
				}
				for i := 0; i < n; i++ {
					if attrs&(1<<uint(i)) != 0 {
						localMean[i]++
					}
				}
				for i := 0; i < n; i++ {
					v := 0.0
					if attrs&(1<<uint(i)) != 0 {
						v = 1.0
					}
					vec[i] = v
				}
				for i := 0; i < n; i++ {
					for j := 0; j < n; j++ {
						localQ[i*n+j] += vec[i] * vec[j]
					}
				}
			}

			mu.Lock()
			for i := 0; i < n; i++ {
				mean[i] += localMean[i]
			}
			for i := range localQ {
				q[i] += localQ[i]
			}
			mu.Unlock()
		}(count)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		mean[i] /= float64(samples)
	}

	// Recenter the accumulated second moment into a covariance matrix:
	// Cov(X,Y) = E[XY] - E[X]E[Y].
	cov := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cov[i*n+j] = q[i*n+j]/float64(samples) - mean[i]*mean[j]
		}
	}

	corr := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				corr[i*n+j] = 1
				continue
			}
			denom := math.Sqrt(cov[i*n+i] * cov[j*n+j])
			if denom == 0 {
				corr[i*n+j] = 0
				continue
			}
			corr[i*n+j] = cov[i*n+j] / denom
		}
	}
	return corr
}
