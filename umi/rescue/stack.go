package rescue

import (
	"encoding/binary"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/consensus/umi"
	"github.com/grailbio/hts/sam"
)

// groupKey is the coordinate-grouping key a stack is built from (spec
// §4.5 step 3: "same core key, same mate key, same read length").
type groupKey struct {
	tid, pos   int
	mtid, mpos int
	reverse    bool
	read1      bool
	length     int
}

// hash returns a FarmHash fingerprint of k, used as a cheap
// fast-reject before the full field-by-field comparison: two keys
// with different hashes are never equal, so Stack.Matches can skip
// the struct comparison entirely on the (overwhelmingly common) case
// of a new coordinate; equal hashes still get the full comparison. Mirrors the "hash first, verify after" shape
// the corpus uses for ordered-key comparisons (see DESIGN.md).
func (k groupKey) hash() uint64 {
	var buf [41]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(k.tid))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(k.pos))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(k.mtid))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(k.mpos))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(k.length))
	if k.reverse {
		buf[40] |= 1
	}
	if k.read1 {
		buf[40] |= 2
	}
	return farm.Hash64(buf[:])
}

// keyOf computes r's grouping key under the configured sort order.
// For UnclippedRescue, pos/mpos come from the SU/MU tags rather than
// the alignment's clipped coordinates.
func keyOf(a *AlignedRecord, so SortOrder) groupKey {
	r := a.Rec
	k := groupKey{
		tid:     r.Ref.ID(),
		mtid:    refID(r.MateRef),
		reverse: a.Reverse(),
		read1:   a.IsRead1(),
		length:  len(r.Seq),
	}
	if so == UnclippedRescue {
		su, _ := a.SU()
		mu, _ := a.MU()
		k.pos, k.mpos = su, mu
	} else {
		k.pos, k.mpos = r.Pos, r.MatePos
	}
	return k
}

func refID(ref *sam.Reference) int {
	if ref == nil {
		return -1
	}
	return ref.ID()
}

// Stack holds the run of records the grouper believes share a
// coordinate (spec §4.5 steps 2-3). Flatten compares every pair
// within the stack and merges near-duplicate barcodes.
type Stack struct {
	key     groupKey
	keyHash uint64
	members []*AlignedRecord
}

// newStack starts a new stack with r as its first, defining, member.
func newStack(r *AlignedRecord, so SortOrder) *Stack {
	key := keyOf(r, so)
	return &Stack{key: key, keyHash: key.hash(), members: []*AlignedRecord{r}}
}

// Matches reports whether r belongs in s, per the grouping predicate.
// The FarmHash fingerprint is compared first as a fast reject; only a
// matching hash (a true match or a collision) falls through to the
// full field comparison.
func (s *Stack) Matches(r *AlignedRecord, so SortOrder) bool {
	k := keyOf(r, so)
	return k.hash() == s.keyHash && k == s.key
}

// Push appends r to the stack.
func (s *Stack) Push(r *AlignedRecord) {
	s.members = append(s.members, r)
}

// Flatten implements spec §4.5 step 4: for every pair (i, j) with
// i < j, both still live, merge i into j if their barcodes are within
// mmthr (with the configured annealed check). Pairwise, not
// transitive: once i is merged away it contributes nothing further,
// matching the stated O(n^2)-within-a-stack algorithm.
func (s *Stack) Flatten(cfg *umi.Config) error {
	for i := 0; i < len(s.members); i++ {
		a := s.members[i]
		if !a.Live() {
			continue
		}
		aBC, ok := a.Barcode()
		if !ok {
			return umi.ErrorForRecord(umi.InputFormat, a.Rec.Name, "missing required BS (barcode) tag")
		}
		for j := i + 1; j < len(s.members); j++ {
			b := s.members[j]
			if !b.Live() {
				continue
			}
			bBC, ok := b.Barcode()
			if !ok {
				return umi.ErrorForRecord(umi.InputFormat, b.Rec.Name, "missing required BS (barcode) tag")
			}
			if !umi.BarcodeMatches(cfg, aBC, bBC) {
				continue
			}
			if err := Merge(b, a, so(cfg)); err != nil {
				return err
			}
			a.Kill()
			break // a is gone; move to the next i
		}
	}
	return nil
}

func so(cfg *umi.Config) SortOrder { return FromCmpKey(cfg.CmpKey) }

// Members returns the stack's records in insertion order, for
// emission after Flatten.
func (s *Stack) Members() []*AlignedRecord { return s.members }
