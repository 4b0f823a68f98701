package umi

import (
	"fmt"
	"strconv"
	"strings"
)

// Read is one demultiplexed, pre-alignment read: the unit the family
// collapser consumes (spec §3 "Read").
type Read struct {
	Name      string
	Barcode   string
	Seq       string
	Qual      []int // phred values, one per base of Seq
	MateIndex int   // 1 or 2
	Reverse   bool  // strand, as observed prior to collapse normalization
	Pass      bool  // pre-alignment pass/fail flag (spec §6 FP)
}

// ConsensusRead is the family collapser's output: one high-confidence
// read per family (spec §3 "ConsensusRead").
type ConsensusRead struct {
	Name       string
	Seq        string
	PV         []uint32 // per-base posterior phred
	FA         []uint32 // per-base agreement count
	FamilySize uint32   // FM
	ReverseCnt uint32   // RV
	IsRead1    bool
	Pass       bool // FP
}

// Qual renders the consensus as a FASTQ quality line: PV re-encoded as
// Illumina-offset ASCII (qual + 33), since PV is the recomputed
// per-base confidence that replaces the original quality string (spec
// §1 "propagating per-base posterior-like quality scores").
func (c *ConsensusRead) Qual() string {
	out := make([]byte, len(c.PV))
	for i, pv := range c.PV {
		q := pv
		if q > MaxPhred {
			q = MaxPhred
		}
		out[i] = byte(q) + 33
	}
	return string(out)
}

// Comment renders the output FASTQ comment grammar the family
// collapser produces (spec §6):
//
//	PV:B:I,<u32>,…  FA:B:I,<u32>,…  FM:i:<n>  FP:i:1  RV:i:<count>
func (c *ConsensusRead) Comment() string {
	var b strings.Builder
	writeU32Array(&b, "PV", c.PV)
	b.WriteByte(' ')
	writeU32Array(&b, "FA", c.FA)
	fp := 0
	if c.Pass {
		fp = 1
	}
	fmt.Fprintf(&b, " FM:i:%d FP:i:%d RV:i:%d", c.FamilySize, fp, c.ReverseCnt)
	return b.String()
}

func writeU32Array(b *strings.Builder, tag string, values []uint32) {
	b.WriteString(tag)
	b.WriteString(":B:I")
	for _, v := range values {
		b.WriteByte(',')
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
}

// FastqID renders the full FASTQ ID line ("@name comment...").
func (c *ConsensusRead) FastqID() string {
	return "@" + c.Name + " " + c.Comment()
}

// Collapse merges a non-empty group of reads sharing an exact barcode
// (and read end, and length) into a single ConsensusRead (spec §4.4,
// the family collapser). buf is a scratch Buffer owned by the caller
// and reused across families (spec §5 arena reuse).
//
// Collapse returns (nil, nil) when the group's barcode fails the
// barcode predicate (spec §4.2); that family is silently dropped, not
// an error (spec §8 concrete scenario: "barcode NACG -> rejected by
// is_passable; not emitted by collapser").
func Collapse(reads []Read, cfg *Config, buf *Buffer) (*ConsensusRead, error) {
	if len(reads) == 0 {
		return nil, Errorf(Internal, "Collapse called with an empty family")
	}
	barcode := reads[0].Barcode
	if !IsPassable(barcode, cfg.HPThreshold) {
		return nil, nil
	}

	length := len(reads[0].Seq)
	isRead1 := reads[0].MateIndex == 1
	canonicalReverse := reads[0].Reverse

	for _, r := range reads {
		if len(r.Seq) != length {
			return nil, ErrorForRecord(Internal, r.Name,
				"family length mismatch: want %d, got %d (length must be part of the grouping key)", length, len(r.Seq))
		}
		if len(r.Qual) != length {
			return nil, ErrorForRecord(InputFormat, r.Name,
				"quality length %d does not match sequence length %d", len(r.Qual), length)
		}
	}

	buf.Reset(length, reads[0].Name, isRead1)
	for _, r := range reads {
		seq := r.Seq
		qual := append([]int(nil), r.Qual...)
		applyRescaler(cfg.Rescaler, qual)
		reversed := r.Reverse != canonicalReverse
		if reversed {
			seq = ReverseComplement(seq)
			reverseInts(qual)
		}
		buf.Ingest(seq, qual, reversed)
	}

	return buf.Finalize(cfg), nil
}

func reverseInts(a []int) {
	for i, j := 0, len(a)-1; i < j; i, j = i+1, j-1 {
		a[i], a[j] = a[j], a[i]
	}
}

// GroupKey identifies a pre-alignment family: barcode, read end, and
// length all participate (spec §4.4 step 1: "families whose members
// disagree in length are grouped by end and length separately").
type GroupKey struct {
	Barcode   string
	MateIndex int
	Length    int
}

// KeyOf returns r's grouping key.
func KeyOf(r *Read) GroupKey {
	return GroupKey{Barcode: r.Barcode, MateIndex: r.MateIndex, Length: len(r.Seq)}
}

// GroupSortedFamilies walks a barcode-sorted run of reads (as produced
// by sorting a shard by full barcode string, spec §4.6) and returns
// the maximal runs sharing a GroupKey, in input order. Reads must
// already be sorted by Barcode for runs to be contiguous; within a
// barcode, reads of different mate index or length are still split
// into separate families by GroupKey.
func GroupSortedFamilies(reads []Read) [][]Read {
	var groups [][]Read
	byKey := map[GroupKey]int{} // key -> index into groups, reset per barcode run
	var curBarcode string
	for i := range reads {
		r := &reads[i]
		if r.Barcode != curBarcode {
			curBarcode = r.Barcode
			byKey = map[GroupKey]int{}
		}
		key := KeyOf(r)
		if idx, ok := byKey[key]; ok {
			groups[idx] = append(groups[idx], *r)
			continue
		}
		byKey[key] = len(groups)
		groups = append(groups, []Read{*r})
	}
	return groups
}
