package rescue

import (
	"github.com/grailbio/consensus/umi"
	"github.com/grailbio/hts/sam"
)

// Merge absorbs b into p in place (spec §4.5 step 5). p survives; b
// must never be emitted after this call (the caller marks it
// MERGED_AWAY).
//
// PV/FA are stored per-record in alignment-coordinate order. The
// original implementation walked them directly in that order,
// reversing only when p (never b) was reverse-strand — which silently
// mis-merges stacks where the two records' reversal disagreed with
// the traversal direction used to compute NC. Here both arrays are
// first rotated into read-coordinate order (reversed iff the record
// itself is reverse-strand), merged in that common frame, and
// rotated back before being written to p. Since grouping already
// requires p and b to share a strand (it is part of the stack key),
// this is equivalent to the original on every legal input and
// well-defined on every input.
func Merge(p, b *AlignedRecord, so SortOrder) error {
	unclipped := so == UnclippedRescue
	pFM, pPV, pFA, err := requireTags(p, unclipped)
	if err != nil {
		return err
	}
	bFM, bPV, bFA, err := requireTags(b, unclipped)
	if err != nil {
		return err
	}
	if len(pPV) != len(bPV) || len(pFA) != len(bFA) {
		return umi.ErrorForRecord(umi.Internal, p.Rec.Name,
			"merge target and source PV/FA lengths disagree (%d/%d vs %d/%d)",
			len(pPV), len(pFA), len(bPV), len(bFA))
	}

	pSeq := toReadOrder(p.Rec.Seq.Expand(), p.Reverse())
	bSeq := toReadOrder(b.Rec.Seq.Expand(), b.Reverse())
	if len(pSeq) != len(bSeq) {
		return umi.ErrorForRecord(umi.Internal, p.Rec.Name,
			"merge target and source sequence lengths disagree (%d vs %d)", len(pSeq), len(bSeq))
	}
	pQual := toReadOrderBytes(p.Rec.Qual, p.Reverse())
	bQual := toReadOrderBytes(b.Rec.Qual, b.Reverse())

	pvOrdered := toReadOrder32(pPV, p.Reverse())
	faOrdered := toReadOrder32(pFA, p.Reverse())
	bPVOrdered := toReadOrder32(bPV, b.Reverse())
	bFAOrdered := toReadOrder32(bFA, b.Reverse())

	// Both records may already carry accumulated flips from earlier
	// merges (spec §8 property 3, associativity); this merge's own
	// new flips are added on top.
	nc := p.NC() + b.NC()
	for i := range pvOrdered {
		switch {
		case pSeq[i] == bSeq[i]:
			pvOrdered[i] = uint32(umi.Agreed(int(pvOrdered[i]), int(bPVOrdered[i])))
			faOrdered[i] += bFAOrdered[i]
			if bQual[i] > pQual[i] {
				pQual[i] = bQual[i]
			}
		case pSeq[i] == 'N':
			pSeq[i] = bSeq[i]
			pvOrdered[i] = bPVOrdered[i]
			faOrdered[i] = bFAOrdered[i]
			pQual[i] = bQual[i]
			nc++
		case bSeq[i] == 'N':
			// keep p unchanged at this position.
		default:
			// FA always takes the absorbed record's (b's) count on
			// disagreement, win or lose (original_source/bmf_infer.cpp:252,287
			// sets pFA[i] = bFA[i] unconditionally here).
			winnerPV, loserPV := pvOrdered[i], bPVOrdered[i]
			winnerSeq, winnerQual := pSeq[i], pQual[i]
			if bPVOrdered[i] >= pvOrdered[i] {
				winnerPV, loserPV = bPVOrdered[i], pvOrdered[i]
				winnerSeq, winnerQual = bSeq[i], bQual[i]
			}
			pSeq[i] = winnerSeq
			pvOrdered[i] = uint32(umi.Disagreed(int(winnerPV), int(loserPV)))
			faOrdered[i] = bFAOrdered[i]
			pQual[i] = winnerQual
			nc++
		}
		if pvOrdered[i] < 3 {
			pSeq[i] = 'N'
			pvOrdered[i] = 0
			faOrdered[i] = 0
			pQual[i] = 2
		}
		if pQual[i] > byte(pvOrdered[i]) {
			pQual[i] = byte(pvOrdered[i])
		}
	}

	p.Rec.Seq = sam.NewSeq(fromReadOrder(pSeq, p.Reverse()))
	p.Rec.Qual = fromReadOrderBytes(pQual, p.Reverse())
	p.SetPV(fromReadOrder32(pvOrdered, p.Reverse()))
	p.SetFA(fromReadOrder32(faOrdered, p.Reverse()))
	p.SetFM(pFM + bFM)

	pRV, _ := p.RV()
	bRV, _ := b.RV()
	p.SetRV(pRV + bRV)

	if p.Rec.Name > b.Rec.Name {
		p.Rec.Name = b.Rec.Name
	}

	p.SetNC(nc)
	return nil
}

func toReadOrder(seq []byte, reverse bool) []byte    { return reorder(seq, reverse) }
func fromReadOrder(seq []byte, reverse bool) []byte  { return reorder(seq, reverse) }
func toReadOrderBytes(b []byte, reverse bool) []byte { return reorder(b, reverse) }
func fromReadOrderBytes(b []byte, reverse bool) []byte {
	return reorder(b, reverse)
}

func toReadOrder32(v []uint32, reverse bool) []uint32 {
	return reorder32(append([]uint32(nil), v...), reverse)
}
func fromReadOrder32(v []uint32, reverse bool) []uint32 { return reorder32(v, reverse) }

func reorder(b []byte, reverse bool) []byte {
	out := append([]byte(nil), b...)
	if !reverse {
		return out
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func reorder32(v []uint32, reverse bool) []uint32 {
	if !reverse {
		return v
	}
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
	return v
}
