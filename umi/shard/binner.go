// Package shard implements the pre-alignment shard orchestrator (spec
// §4.6): partitioning demultiplexed reads into 4^k barcode-prefix
// shards and dispatching the family collapser across a bounded
// worker pool, reassembling the collapsed output deterministically.
package shard

// Binner packs a barcode's first NNucs nucleotides into a dense
// 2-bits-per-base bin index (spec §9: "the get_binner_type hash is a
// simple 2-bits-per-base packing of the prefix; keep it byte-identical
// so that shard boundaries agree with any external tooling"). A and
// any unrecognized or ambiguous base (including N) fold to code 0, so
// binning never fails even on a barcode that will later be rejected
// by IsPassable.
type Binner struct {
	NNucs int
}

// NumShards returns 4^NNucs, the number of bins this Binner produces.
func (b Binner) NumShards() int {
	return 1 << uint(2*b.NNucs)
}

var baseCode = [256]byte{}

func init() {
	baseCode['C'] = 1
	baseCode['G'] = 2
	baseCode['T'] = 3
}

// Bin returns the shard index for barcode, derived solely from its
// first NNucs nucleotides (spec §8 property 7: "every accepted input
// read appears in exactly one shard; the shard is determined solely
// by the first k nucleotides"). A barcode shorter than NNucs is
// padded with A (code 0) for the missing positions.
func (b Binner) Bin(barcode string) int {
	bin := 0
	for i := 0; i < b.NNucs; i++ {
		var c byte
		if i < len(barcode) {
			c = barcode[i]
		}
		bin = (bin << 2) | int(baseCode[c])
	}
	return bin
}
