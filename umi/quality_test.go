package umi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhredOf(t *testing.T) {
	assert.Equal(t, 0, PhredOf(1.0))
	assert.Equal(t, MaxPhred, PhredOf(0))
	// p = 10^(-30/10) round-trips to phred 30.
	assert.Equal(t, 30, PhredOf(math.Pow(10, -3)))
}

func TestAgreedSingleObservationIsIdentity(t *testing.T) {
	// igamc(1, x) = exp(-x) exactly, so passing a single observation
	// through AgreedN (n=1) must reproduce the input phred -
	// this underlies the family collapser's idempotence property
	// (spec §8 property 1).
	for _, q := range []int{0, 2, 10, 30, 40, 60, 93} {
		got := AgreedN(1, uint64(q))
		assert.Equal(t, q, got, "AgreedN(1, %d) should be the identity", q)
	}
}

func TestAgreedIncreasesConfidence(t *testing.T) {
	// Two independent observations of phred 30 agreeing should yield a
	// higher posterior phred than either alone.
	got := Agreed(30, 30)
	assert.Greater(t, got, 30)
}

func TestDisagreedFavorsBetterCall(t *testing.T) {
	// A confident call (phred 40) disagreeing with a weak one (phred
	// 10) keeps the confident call's phred: 1e-4 * (1 - 0.1) = 9e-5,
	// which rounds back to phred 40.
	got := Disagreed(40, 10)
	assert.Equal(t, 40, got)
	assert.Greater(t, got, 10)
}

func TestIgamcBounds(t *testing.T) {
	assert.InDelta(t, 1.0, igamc(1, 0), 1e-12)
	assert.InDelta(t, 0.0, igamc(1, 1000), 1e-12)
	// igamc(1, x) == exp(-x) exactly.
	for _, x := range []float64{0.1, 1, 5, 20, 100} {
		assert.InDelta(t, math.Exp(-x), igamc(1, x), 1e-9)
	}
}
