package umi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollapseRejectsUnpassableBarcode(t *testing.T) {
	cfg := DefaultConfig()
	buf := NewBuffer(4)
	reads := []Read{
		{Name: "r1", Barcode: "NACG", Seq: "ACGT", Qual: []int{30, 30, 30, 30}, MateIndex: 1},
	}
	cr, err := Collapse(reads, &cfg, buf)
	require.NoError(t, err)
	assert.Nil(t, cr)
}

func TestCollapseEmptyFamilyIsError(t *testing.T) {
	cfg := DefaultConfig()
	buf := NewBuffer(4)
	_, err := Collapse(nil, &cfg, buf)
	require.Error(t, err)
	umiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, Internal, umiErr.Kind)
}

func TestCollapseSingleReadIsIdempotent(t *testing.T) {
	// spec §8 property 1: a one-read family reproduces its input
	// exactly (same sequence, same phred values, FA all 1).
	cfg := DefaultConfig()
	buf := NewBuffer(4)
	reads := []Read{
		{Name: "r1", Barcode: "ACGT", Seq: "AACG", Qual: []int{40, 40, 40, 38}, MateIndex: 1},
	}
	cr, err := Collapse(reads, &cfg, buf)
	require.NoError(t, err)
	require.NotNil(t, cr)

	assert.Equal(t, "AACG", cr.Seq)
	assert.EqualValues(t, 1, cr.FamilySize)
	assert.Equal(t, []uint32{40, 40, 40, 38}, cr.PV)
	assert.Equal(t, []uint32{1, 1, 1, 1}, cr.FA)
}

func TestCollapseAgreement(t *testing.T) {
	cfg := DefaultConfig()
	buf := NewBuffer(4)
	reads := []Read{
		{Name: "r1", Barcode: "ACGT", Seq: "AACG", Qual: []int{40, 40, 40, 40}, MateIndex: 1},
		{Name: "r2", Barcode: "ACGT", Seq: "AACG", Qual: []int{40, 40, 40, 38}, MateIndex: 1},
	}
	cr, err := Collapse(reads, &cfg, buf)
	require.NoError(t, err)
	require.NotNil(t, cr)

	assert.Equal(t, "AACG", cr.Seq)
	assert.EqualValues(t, 2, cr.FamilySize)
	assert.Equal(t, []uint32{2, 2, 2, 2}, cr.FA)
}

func TestCollapseOrderIndependence(t *testing.T) {
	// spec §8 property 2: the result must not depend on member order.
	cfg := DefaultConfig()
	a := []Read{
		{Name: "r1", Barcode: "ACGT", Seq: "AACG", Qual: []int{40, 40, 40, 40}, MateIndex: 1},
		{Name: "r2", Barcode: "ACGT", Seq: "AATG", Qual: []int{40, 40, 40, 40}, MateIndex: 1},
	}
	b := []Read{a[1], a[0]}

	buf1 := NewBuffer(4)
	cr1, err := Collapse(a, &cfg, buf1)
	require.NoError(t, err)

	buf2 := NewBuffer(4)
	cr2, err := Collapse(b, &cfg, buf2)
	require.NoError(t, err)

	assert.Equal(t, cr1.Seq, cr2.Seq)
	assert.Equal(t, cr1.PV, cr2.PV)
	assert.Equal(t, cr1.FA, cr2.FA)
	assert.Equal(t, cr1.FamilySize, cr2.FamilySize)
}

func TestCollapseNormalizesStrandBeforeIngest(t *testing.T) {
	// A family mixing a forward read with a reverse-strand read whose
	// reverse complement agrees should collapse cleanly to the
	// canonical (first member's) orientation, with RV counting the
	// reoriented member.
	cfg := DefaultConfig()
	buf := NewBuffer(4)
	reads := []Read{
		{Name: "r1", Barcode: "ACGT", Seq: "AACG", Qual: []int{40, 40, 40, 40}, MateIndex: 1, Reverse: false},
		{Name: "r2", Barcode: "ACGT", Seq: ReverseComplement("AACG"), Qual: []int{40, 40, 40, 40}, MateIndex: 1, Reverse: true},
	}
	cr, err := Collapse(reads, &cfg, buf)
	require.NoError(t, err)
	require.NotNil(t, cr)
	assert.Equal(t, "AACG", cr.Seq)
	assert.Equal(t, []uint32{2, 2, 2, 2}, cr.FA)
	assert.EqualValues(t, 1, cr.ReverseCnt)
}

func TestCollapseLengthMismatchIsInternalError(t *testing.T) {
	cfg := DefaultConfig()
	buf := NewBuffer(4)
	reads := []Read{
		{Name: "r1", Barcode: "ACGT", Seq: "AACG", Qual: []int{40, 40, 40, 40}, MateIndex: 1},
		{Name: "r2", Barcode: "ACGT", Seq: "AAC", Qual: []int{40, 40, 40}, MateIndex: 1},
	}
	_, err := Collapse(reads, &cfg, buf)
	require.Error(t, err)
	umiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, Internal, umiErr.Kind)
}

func TestGroupSortedFamiliesSplitsByMateAndLength(t *testing.T) {
	reads := []Read{
		{Name: "a1", Barcode: "AAAA", Seq: "ACGT", MateIndex: 1},
		{Name: "a2", Barcode: "AAAA", Seq: "ACGT", MateIndex: 1},
		{Name: "a3", Barcode: "AAAA", Seq: "ACGTA", MateIndex: 1},
		{Name: "b1", Barcode: "AAAA", Seq: "ACGT", MateIndex: 2},
		{Name: "c1", Barcode: "CCCC", Seq: "ACGT", MateIndex: 1},
	}
	groups := GroupSortedFamilies(reads)
	require.Len(t, groups, 4)

	sizes := map[GroupKey]int{}
	for _, g := range groups {
		sizes[KeyOf(&g[0])] = len(g)
	}
	assert.Equal(t, 2, sizes[GroupKey{Barcode: "AAAA", MateIndex: 1, Length: 4}])
	assert.Equal(t, 1, sizes[GroupKey{Barcode: "AAAA", MateIndex: 1, Length: 5}])
	assert.Equal(t, 1, sizes[GroupKey{Barcode: "AAAA", MateIndex: 2, Length: 4}])
	assert.Equal(t, 1, sizes[GroupKey{Barcode: "CCCC", MateIndex: 1, Length: 4}])
}

func TestConsensusReadCommentGrammar(t *testing.T) {
	cr := &ConsensusRead{
		Name:       "frag1",
		Seq:        "ACGT",
		PV:         []uint32{40, 41, 42, 38},
		FA:         []uint32{2, 2, 2, 1},
		FamilySize: 2,
		ReverseCnt: 1,
		Pass:       true,
	}
	assert.Equal(t, "PV:B:I,40,41,42,38 FA:B:I,2,2,2,1 FM:i:2 FP:i:1 RV:i:1", cr.Comment())
	assert.Equal(t, "@frag1 "+cr.Comment(), cr.FastqID())
}
