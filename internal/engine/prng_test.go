package engine

import "testing"

// SeededRandom must stay stable across releases: recorded battles replay
// their challenges from the seed alone.
func TestSeededRandomDeterministic(t *testing.T) {
	for _, seed := range []int64{0, 1, 42, -7, 123456789} {
		a := SeededRandom(seed)
		b := SeededRandom(seed)
		if a != b {
			t.Errorf("seed %d: %v != %v", seed, a, b)
		}
	}
}

func TestSeededRandomRange(t *testing.T) {
	for seed := int64(-1000); seed < 1000; seed++ {
		v := SeededRandom(seed)
		if v < 0 || v >= 1 {
			t.Fatalf("seed %d: %v out of [0,1)", seed, v)
		}
	}
}

func TestRNGIntnBounds(t *testing.T) {
	r := newRNG(99)
	for i := 0; i < 1000; i++ {
		if v := r.intn(7); v < 0 || v >= 7 {
			t.Fatalf("intn(7) = %d", v)
		}
	}
	if v := newRNG(1).intn(0); v != 0 {
		t.Errorf("intn(0) = %d, want 0", v)
	}
}

func TestRNGSequenceAdvances(t *testing.T) {
	r := newRNG(5)
	first, second := r.next(), r.next()
	if first == second {
		t.Error("consecutive draws should differ")
	}

	// Re-seeding replays the same sequence.
	r2 := newRNG(5)
	if got := r2.next(); got != first {
		t.Errorf("replay draw = %v, want %v", got, first)
	}
}
