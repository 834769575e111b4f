package engine

import "math"

// SeededRandom maps an integer seed to a real in [0,1) via
// frac(sin(seed*9999)*10000). Not a cryptographic primitive; used only for
// challenge generation and log selection. Replacing it invalidates the
// recorded challenge fixtures, so keep it stable.
func SeededRandom(seed int64) float64 {
	x := math.Sin(float64(seed)*9999) * 10000
	return x - math.Floor(x)
}

// rng draws a deterministic sequence by advancing the seed one per call.
type rng struct {
	seed int64
}

func newRNG(seed int64) *rng {
	return &rng{seed: seed}
}

func (r *rng) next() float64 {
	v := SeededRandom(r.seed)
	r.seed++
	return v
}

// intn returns a uniform integer in [0, n).
func (r *rng) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.next() * float64(n))
}

// rangeFloat returns a value in [lo, hi).
func (r *rng) rangeFloat(lo, hi float64) float64 {
	return lo + r.next()*(hi-lo)
}
