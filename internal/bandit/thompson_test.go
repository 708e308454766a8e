package bandit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectSingleArm(t *testing.T) {
	s := NewSeededSampler(1)
	got, err := s.Select([]Arm{{ID: "only", Alpha: 1, Beta: 1}})
	require.NoError(t, err)
	assert.Equal(t, "only", got)
}

func TestSelectNoArms(t *testing.T) {
	s := NewSeededSampler(1)
	_, err := s.Select(nil)
	assert.Error(t, err)
}

func TestSelectRejectsImproperPriors(t *testing.T) {
	s := NewSeededSampler(1)
	_, err := s.Select([]Arm{
		{ID: "ok", Alpha: 2, Beta: 3},
		{ID: "bad", Alpha: 0.5, Beta: 1},
	})
	assert.Error(t, err)
}

func TestSelectFavorsStrongerArm(t *testing.T) {
	// With posteriors this far apart, the better arm should win the
	// large majority of rounds.
	s := NewSeededSampler(42)
	arms := []Arm{
		{ID: "weak", Alpha: 2, Beta: 50},
		{ID: "strong", Alpha: 40, Beta: 10},
	}

	wins := 0
	const rounds = 2000
	for i := 0; i < rounds; i++ {
		got, err := s.Select(arms)
		require.NoError(t, err)
		if got == "strong" {
			wins++
		}
	}
	assert.Greater(t, wins, rounds*95/100, "strong arm should dominate")
}

func TestSelectUniformPriorsExplore(t *testing.T) {
	// Fresh arms with Beta(1,1) priors should each be picked a
	// meaningful share of the time.
	s := NewSeededSampler(7)
	arms := []Arm{
		{ID: "a", Alpha: 1, Beta: 1},
		{ID: "b", Alpha: 1, Beta: 1},
		{ID: "c", Alpha: 1, Beta: 1},
	}

	counts := map[string]int{}
	const rounds = 3000
	for i := 0; i < rounds; i++ {
		got, err := s.Select(arms)
		require.NoError(t, err)
		counts[got]++
	}
	for _, a := range arms {
		assert.Greater(t, counts[a.ID], rounds/5, "arm %s starved", a.ID)
	}
}

func TestSampleBetaInUnitInterval(t *testing.T) {
	s := NewSeededSampler(99)
	for _, c := range []struct{ a, b float64 }{
		{1, 1}, {0.5, 0.5}, {10, 2}, {2, 10}, {100, 100},
	} {
		for i := 0; i < 100; i++ {
			v := s.SampleBeta(c.a, c.b)
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestSampleBetaMeanConverges(t *testing.T) {
	s := NewSeededSampler(123)
	const a, b = 8.0, 2.0
	const n = 20000

	sum := 0.0
	for i := 0; i < n; i++ {
		sum += s.SampleBeta(a, b)
	}
	mean := sum / n
	want := a / (a + b)
	assert.InDelta(t, want, mean, 0.01)
	assert.False(t, math.IsNaN(mean))
}

func TestSeededSamplerIsDeterministic(t *testing.T) {
	s1 := NewSeededSampler(555)
	s2 := NewSeededSampler(555)
	for i := 0; i < 50; i++ {
		assert.Equal(t, s1.SampleBeta(3, 4), s2.SampleBeta(3, 4))
	}
}
