package payout

import (
	"math/rand"
	"testing"
)

func sum(xs []int64) int64 {
	var s int64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestAllocate_ExactDivision(t *testing.T) {
	got := Allocate(12, []int64{1, 2, 3})
	want := []int64{2, 4, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Allocate(12, [1 2 3]) = %v, want %v", got, want)
		}
	}
}

func TestAllocate_SingleWinnerTakesAll(t *testing.T) {
	// Pool of 12 with one winner weighted 5: the winner gets the whole pool.
	got := Allocate(12, []int64{5})
	if got[0] != 12 {
		t.Errorf("sole winner should receive the full pool, got %d", got[0])
	}
}

func TestAllocate_ZeroWeights(t *testing.T) {
	got := Allocate(10, []int64{0, 0, 0})
	if sum(got) != 0 {
		t.Errorf("all-zero weights should allocate nothing, got %v", got)
	}
	if len(got) != 3 {
		t.Errorf("result length should match weights, got %d", len(got))
	}
}

func TestAllocate_ZeroTotal(t *testing.T) {
	got := Allocate(0, []int64{3, 7})
	if sum(got) != 0 {
		t.Errorf("zero total should allocate nothing, got %v", got)
	}
}

func TestAllocate_RemainderGoesToLargestFraction(t *testing.T) {
	// Ideal shares for 10 over [1, 2]: 3.33 and 6.67. The single leftover
	// unit belongs to the second entry.
	got := Allocate(10, []int64{1, 2})
	if got[0] != 3 || got[1] != 7 {
		t.Errorf("Allocate(10, [1 2]) = %v, want [3 7]", got)
	}
}

func TestAllocate_TiesBrokenByInputOrder(t *testing.T) {
	// Equal weights, odd total: every fractional remainder ties, so the
	// earlier entries receive the extra units.
	got := Allocate(5, []int64{1, 1})
	if got[0] != 3 || got[1] != 2 {
		t.Errorf("Allocate(5, [1 1]) = %v, want [3 2]", got)
	}
}

func TestAllocate_ZeroWeightEntryGetsNothing(t *testing.T) {
	got := Allocate(7, []int64{0, 3, 4})
	if got[0] != 0 {
		t.Errorf("zero-weight entry should receive nothing, got %v", got)
	}
	if sum(got) != 7 {
		t.Errorf("allocation should sum to 7, got %v", got)
	}
}

func TestAllocate_Lossless(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		weights []int64
	}{
		{"uneven three-way", 100, []int64{1, 2, 4}},
		{"prime total", 17, []int64{3, 3, 3}},
		{"large pool", 1_000_003, []int64{7, 11, 13, 17}},
		{"single unit", 1, []int64{9, 1}},
		{"many small weights", 10, []int64{1, 1, 1, 1, 1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Allocate(tt.total, tt.weights)
			if s := sum(got); s != tt.total {
				t.Errorf("allocation sums to %d, want %d (%v)", s, tt.total, got)
			}
		})
	}
}

func TestAllocate_WithinOneOfIdealShare(t *testing.T) {
	total := int64(1000)
	weights := []int64{3, 17, 80, 150, 250}
	var wsum int64
	for _, w := range weights {
		wsum += w
	}

	got := Allocate(total, weights)
	for i, share := range got {
		floor := total * weights[i] / wsum
		if share != floor && share != floor+1 {
			t.Errorf("share %d = %d, want %d or %d", i, share, floor, floor+1)
		}
	}
}

func TestAllocate_RandomizedConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		total := rng.Int63n(10_000)
		weights := make([]int64, 1+rng.Intn(10))
		for j := range weights {
			weights[j] = rng.Int63n(500)
		}
		got := Allocate(total, weights)

		var wsum int64
		for _, w := range weights {
			wsum += w
		}
		wantSum := total
		if wsum == 0 {
			wantSum = 0
		}
		if s := sum(got); s != wantSum {
			t.Fatalf("total=%d weights=%v: allocated %d, want %d",
				total, weights, s, wantSum)
		}
		for j, share := range got {
			if share < 0 {
				t.Fatalf("negative share %d at %d for weights %v", share, j, weights)
			}
		}
	}
}

func TestPercentages_SumToHundred(t *testing.T) {
	tests := []struct {
		name    string
		weights []int64
	}{
		{"two-way split", []int64{5, 7}},
		{"three-way split", []int64{1, 1, 1}},
		{"lopsided", []int64{999, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentages(tt.weights)
			if s := sum(got); s != 100 {
				t.Errorf("percentages sum to %d, want 100 (%v)", s, got)
			}
		})
	}
}

func TestPercentages_EmptyPool(t *testing.T) {
	got := Percentages([]int64{0, 0})
	if sum(got) != 0 {
		t.Errorf("empty pool should yield zero percentages, got %v", got)
	}
}
