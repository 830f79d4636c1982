package posterior

import (
	"math"
	"math/rand"
)

// ThompsonSampler draws a skill estimate from a TraderPosteriorNIG: sample
// variance from the posterior's Inverse-Gamma, then sample the mean from
// a Normal conditioned on that variance. Every draw is seed-deterministic
// so walk-forward replay is bit-reproducible given the same stored seed.
type ThompsonSampler struct{}

// Sample draws mu (and implicitly sigma) from the posterior at the given
// seed and returns mu, sigma.
func (ThompsonSampler) Sample(p TraderPosteriorNIG, seed int64) (mu, sigma float64) {
	rng := rand.New(rand.NewSource(seed))
	sigma2 := sampleInverseGamma(rng, p.Alpha, p.Beta)
	sigma = math.Sqrt(sigma2)
	mu = p.M + sigma/math.Sqrt(p.Kappa)*rng.NormFloat64()
	return mu, sigma
}

// SampleMu draws only the mean, matching the original sample() return
// value.
func (ThompsonSampler) SampleMu(p TraderPosteriorNIG, seed int64) float64 {
	mu, _ := ThompsonSampler{}.Sample(p, seed)
	return mu
}

// SampleSharpe draws mu/sigma for one posterior sample.
func (ThompsonSampler) SampleSharpe(p TraderPosteriorNIG, seed int64) float64 {
	mu, sigma := ThompsonSampler{}.Sample(p, seed)
	if sigma == 0 {
		return 0
	}
	return mu / sigma
}

// sampleInverseGamma draws sigma^2 ~ InverseGamma(alpha, beta) by drawing
// g ~ Gamma(alpha, rate=beta) and returning 1/g. No library in the
// retrieval pack offers a Gamma sampler (gonum/stat is not a dependency
// of any example repo), so this is a hand-rolled Marsaglia-Tsang
// implementation over math/rand.
func sampleInverseGamma(rng *rand.Rand, alpha, beta float64) float64 {
	g := sampleGamma(rng, alpha, beta)
	if g == 0 {
		return math.Inf(1)
	}
	return 1.0 / g
}

// sampleGamma draws from Gamma(shape, rate) via Marsaglia & Tsang (2000).
// For shape < 1 it boosts the shape by one and corrects with a uniform
// draw, the standard trick for extending the method below shape=1.
func sampleGamma(rng *rand.Rand, shape, rate float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1, rate) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)

	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v / rate
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v / rate
		}
	}
}

// SeedForDate derives the deterministic Thompson-sample seed used by the
// daily snapshot job: date_int*1e6 + hash(address) mod 1e6.
func SeedForDate(dateInt int64, address string) int64 {
	h := fnv1a(address) % 1_000_000
	return dateInt*1_000_000 + int64(h)
}

// fnv1a is a 32-bit FNV-1a hash, used only to derive a stable,
// deterministic per-address offset for SeedForDate — cryptographic
// strength is irrelevant here.
func fnv1a(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
