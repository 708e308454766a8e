// Package bandit implements Thompson Sampling over Beta-distributed
// conversion posteriors. Each experiment arm carries (alpha, beta)
// counts; selection draws one sample per arm and picks the largest.
package bandit

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Arm is one candidate in a selection round.
type Arm struct {
	ID    string
	Alpha float64
	Beta  float64
}

// Sampler draws from Beta posteriors. Safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a sampler seeded from the clock.
func NewSampler() *Sampler {
	return NewSeededSampler(time.Now().UnixNano())
}

// NewSeededSampler returns a deterministic sampler for tests and replay.
func NewSeededSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Select runs one Thompson Sampling round: draw Beta(alpha, beta) for
// every arm and return the id of the highest draw. Ties keep the
// earlier arm, so callers should pass arms in a stable order. Arms with
// priors below 1.0 are rejected rather than clamped.
func (s *Sampler) Select(arms []Arm) (string, error) {
	if len(arms) == 0 {
		return "", fmt.Errorf("bandit: no arms to select from")
	}
	for _, a := range arms {
		if a.Alpha < 1.0 || a.Beta < 1.0 {
			return "", fmt.Errorf("bandit: arm %s has improper priors (alpha=%.2f beta=%.2f)", a.ID, a.Alpha, a.Beta)
		}
	}

	best := arms[0].ID
	bestDraw := -1.0
	for _, a := range arms {
		draw := s.SampleBeta(a.Alpha, a.Beta)
		if draw > bestDraw {
			bestDraw = draw
			best = a.ID
		}
	}
	return best, nil
}

// SampleBeta draws from Beta(a, b) via two Gamma draws:
// X ~ Gamma(a), Y ~ Gamma(b), X/(X+Y) ~ Beta(a, b).
func (s *Sampler) SampleBeta(a, b float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	x := s.sampleGamma(a)
	y := s.sampleGamma(b)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia and Tsang's
// squeeze method. Shapes below 1 are boosted and corrected with a
// uniform power, per the same paper.
func (s *Sampler) sampleGamma(shape float64) float64 {
	if shape < 1.0 {
		u := s.rng.Float64()
		return s.sampleGamma(shape+1.0) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = s.rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := s.rng.Float64()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}
