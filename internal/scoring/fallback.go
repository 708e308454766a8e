package scoring

import (
	"math/rand"
	"sync"
	"time"
)

// fallbackModelVersion marks scores produced by the local heuristic.
const fallbackModelVersion = "heuristic-v1"

var (
	jitterMu  sync.Mutex
	jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// fallbackScore applies the same rubric the model is prompted with, as
// a pure function of head count and revenue, plus a small uniform
// jitter. Identical inputs stay within ±0.05 of each other, and the
// result always lands in [0.2, 0.95].
func fallbackScore(rec CompanyRecord) Result {
	base := 0.4
	switch {
	case rec.EmployeeCount > 1000:
		base += 0.2
	case rec.EmployeeCount > 200:
		base += 0.15
	case rec.EmployeeCount > 50:
		base += 0.1
	}
	switch {
	case rec.Revenue > 10_000_000:
		base += 0.15
	case rec.Revenue > 2_000_000:
		base += 0.1
	}

	persona := "smb"
	if rec.EmployeeCount >= 500 {
		persona = "enterprise"
	}

	jitterMu.Lock()
	jitter := jitterRNG.Float64()*0.1 - 0.05
	jitterMu.Unlock()

	score := base + jitter
	if score > 0.95 {
		score = 0.95
	}
	if score < 0.2 {
		score = 0.2
	}

	return Result{
		Score:        score,
		Persona:      persona,
		Reasoning:    "Heuristic scoring based on company size and revenue",
		ModelVersion: fallbackModelVersion,
		Mock:         true,
	}
}
