package rescue

import (
	"testing"

	"github.com/grailbio/consensus/umi"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAgreement(t *testing.T) {
	ref := newRef(t, "chr1", 1000)
	p := newAligned(t, "a", ref, 100, 0, "ACGT", qualAll(4, 40), "AAAA", 1, 0,
		[]uint32{40, 40, 40, 40}, []uint32{1, 1, 1, 1})
	b := newAligned(t, "b", ref, 100, 0, "ACGT", qualAll(4, 38), "AAAC", 1, 0,
		[]uint32{40, 40, 40, 38}, []uint32{1, 1, 1, 1})

	require.NoError(t, Merge(p, b, PositionalRescue))

	pv, ok := p.PV()
	require.True(t, ok)
	fa, ok := p.FA()
	require.True(t, ok)

	assert.Equal(t, "ACGT", string(p.Rec.Seq.Expand()))
	assert.Equal(t, []uint32{2, 2, 2, 2}, fa)
	for _, v := range pv[:3] {
		assert.Greater(t, v, uint32(40))
	}
	fm, _ := p.FM()
	assert.Equal(t, 2, fm)
	assert.Equal(t, "a", p.Rec.Name) // lexicographically smaller
}

func TestMergeDisagreementPicksHigherPV(t *testing.T) {
	ref := newRef(t, "chr1", 1000)
	p := newAligned(t, "a", ref, 100, 0, "ACGT", qualAll(4, 40), "AAAA", 1, 0,
		[]uint32{40, 40, 40, 40}, []uint32{1, 1, 1, 1})
	b := newAligned(t, "b", ref, 100, 0, "ACCT", qualAll(4, 10), "AAAC", 1, 0,
		[]uint32{40, 40, 10, 40}, []uint32{1, 1, 1, 1})

	require.NoError(t, Merge(p, b, PositionalRescue))

	// Position 2 disagrees (G vs C); p's phred (40) beats b's (10), so
	// p's base wins and PV becomes Disagreed(40, 10) = 40.
	seq := p.Rec.Seq.Expand()
	assert.Equal(t, byte('G'), seq[2])
	nc := p.NC()
	assert.Equal(t, 1, nc)

	pv, _ := p.PV()
	assert.Equal(t, uint32(40), pv[2])
}

func TestMergeDisagreementFAUsesAbsorbedRecord(t *testing.T) {
	// spec §4.5 step 5 / original_source's bmf_infer.cpp: on a
	// disagreement, FA always takes the absorbed record's (b's) count,
	// even though p wins the base call on PV.
	ref := newRef(t, "chr1", 1000)
	p := newAligned(t, "a", ref, 100, 0, "ACGT", qualAll(4, 40), "AAAA", 1, 0,
		[]uint32{40, 40, 40, 40}, []uint32{1, 1, 5, 1})
	b := newAligned(t, "b", ref, 100, 0, "ACCT", qualAll(4, 10), "AAAC", 1, 0,
		[]uint32{40, 40, 10, 40}, []uint32{1, 1, 3, 1})

	require.NoError(t, Merge(p, b, PositionalRescue))

	seq := p.Rec.Seq.Expand()
	assert.Equal(t, byte('G'), seq[2]) // p's higher-PV base still wins
	fa, ok := p.FA()
	require.True(t, ok)
	assert.Equal(t, uint32(3), fa[2]) // but FA is b's (the absorbed record's)
}

func TestMergeOverwritesN(t *testing.T) {
	ref := newRef(t, "chr1", 1000)
	p := newAligned(t, "a", ref, 100, 0, "ANGT", qualAll(4, 40), "AAAA", 1, 0,
		[]uint32{40, 2, 40, 40}, []uint32{1, 0, 1, 1})
	b := newAligned(t, "b", ref, 100, 0, "ACGT", qualAll(4, 30), "AAAC", 1, 0,
		[]uint32{40, 30, 40, 40}, []uint32{1, 1, 1, 1})

	require.NoError(t, Merge(p, b, PositionalRescue))

	seq := p.Rec.Seq.Expand()
	assert.Equal(t, byte('C'), seq[1])
	assert.Equal(t, 1, p.NC())
}

func TestMergeMasksLowConfidenceToN(t *testing.T) {
	ref := newRef(t, "chr1", 1000)
	// Two very weak, agreeing calls: Agreed(2, 2) = 1 is below 3, so
	// the position is forced to N with PV and FA cleared.
	p := newAligned(t, "a", ref, 100, 0, "A", qualAll(1, 2), "AAAA", 1, 0,
		[]uint32{2}, []uint32{1})
	b := newAligned(t, "b", ref, 100, 0, "A", qualAll(1, 2), "AAAC", 1, 0,
		[]uint32{2}, []uint32{1})

	require.NoError(t, Merge(p, b, PositionalRescue))

	seq := p.Rec.Seq.Expand()
	assert.Equal(t, byte('N'), seq[0])
	pv, _ := p.PV()
	assert.EqualValues(t, 0, pv[0])
	fa, _ := p.FA()
	assert.EqualValues(t, 0, fa[0])
}

func TestMergeAccumulatesPriorNC(t *testing.T) {
	// spec §8 property 3: associativity. b already carries NC=1 from
	// an earlier merge; p's own prior NC must be preserved and added.
	ref := newRef(t, "chr1", 1000)
	p := newAligned(t, "a", ref, 100, 0, "ACGT", qualAll(4, 40), "AAAA", 2, 0,
		[]uint32{40, 40, 40, 40}, []uint32{2, 2, 2, 2})
	p.SetNC(1)
	b := newAligned(t, "b", ref, 100, 0, "ACGT", qualAll(4, 40), "AAAC", 1, 0,
		[]uint32{40, 40, 40, 40}, []uint32{1, 1, 1, 1})
	b.SetNC(1)

	require.NoError(t, Merge(p, b, PositionalRescue))
	assert.Equal(t, 2, p.NC())
}

func TestMergeMissingTagIsInputFormatError(t *testing.T) {
	ref := newRef(t, "chr1", 1000)
	p := newAligned(t, "a", ref, 100, 0, "ACGT", qualAll(4, 40), "AAAA", 1, 0,
		[]uint32{40, 40, 40, 40}, []uint32{1, 1, 1, 1})
	b := &AlignedRecord{Rec: &sam.Record{Name: "b", Ref: ref, Pos: 100}, live: true}

	err := Merge(p, b, PositionalRescue)
	require.Error(t, err)
	umiErr, ok := err.(*umi.Error)
	require.True(t, ok)
	assert.Equal(t, umi.InputFormat, umiErr.Kind)
}
