// Package payout implements the Largest Remainder Method (LRM): distributing
// an integer total proportionally to integer weights with zero leakage.
//
// It is used twice in the ledger: splitting the real payout pool among
// winners (financial) and splitting 100 display percentage points across
// options (cosmetic). Both paths use exact integer arithmetic; fractional
// remainders are compared through modular residues, never floats.
//
// Reference: https://en.wikipedia.org/wiki/Largest_remainder_method
package payout

import "sort"

// Allocate distributes total across the given weights proportionally.
// The result has the same length as weights and sums to exactly total.
//
// Each entry receives the floor of its ideal share total*w/Σw; the leftover
// units (always fewer than len(weights)) go to the entries with the largest
// fractional remainder. Ties are broken by input order, which keeps the
// result deterministic for a given weight sequence.
//
// A zero weight sum yields an all-zero allocation; it is defined, not an
// error, so callers need no special case for empty pools.
func Allocate(total int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))

	var sum int64
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		return shares
	}

	// Floor shares and modular remainders: the ideal share is
	// total*w/sum with remainder (total*w) mod sum. Comparing remainders
	// is equivalent to comparing fractional parts and stays exact.
	remainders := make([]int64, len(weights))
	var allocated int64
	for i, w := range weights {
		product := total * w
		shares[i] = product / sum
		remainders[i] = product % sum
		allocated += shares[i]
	}

	remaining := total - allocated
	if remaining == 0 {
		return shares
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})

	for _, idx := range order[:remaining] {
		shares[idx]++
	}
	return shares
}

// Percentages splits 100 percentage points across the weights, so a renderer
// can display per-option shares that always add up to 100.
func Percentages(weights []int64) []int64 {
	return Allocate(100, weights)
}
