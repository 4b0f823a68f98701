package umi

// IsPassable reports whether a barcode passes the pre-alignment
// quality gate (spec §4.2): it must contain no N, and no homopolymer
// run may reach hpThresh. The rejection fires the instant a run
// reaches hpThresh, not one base earlier (spec §8 property 6).
func IsPassable(barcode string, hpThresh int) bool {
	run := 0
	var last byte
	for i := 0; i < len(barcode); i++ {
		c := barcode[i]
		if c == 'N' {
			return false
		}
		if c == last {
			run++
		} else {
			run = 1
			last = c
		}
		if run >= hpThresh {
			return false
		}
	}
	return true
}

// Hamming returns the Hamming distance between a and b, considering
// only the first length bytes of each. a and b must each be at least
// length bytes long.
func Hamming(a, b string, length int) int {
	mm := 0
	for i := 0; i < length; i++ {
		if a[i] != b[i] {
			mm++
		}
	}
	return mm
}

var complement = [256]byte{}

func init() {
	for i := range complement {
		complement[i] = byte(i)
	}
	complement['A'] = 'T'
	complement['T'] = 'A'
	complement['C'] = 'G'
	complement['G'] = 'C'
}

// ReverseComplement returns the reverse complement of s. Any byte
// outside ACGT (including N) is moved to its reversed position but
// not complemented or folded to N.
func ReverseComplement(s string) string {
	n := len(s)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = complement[s[i]]
	}
	return string(out)
}

// HammingAnnealed implements the "annealed_check" comparator left
// unfinished in the original source (spec §9 Open Question 1): a
// barcode b matches barcode a within mmthr if either orientation -
// b itself, or its reverse complement - is within mmthr of a. It
// returns the smaller of the two distances and whether that distance
// is within mmthr.
func HammingAnnealed(a, b string, mmthr int) (distance int, matched bool) {
	fwd := Hamming(a, b, len(a))
	rev := Hamming(a, ReverseComplement(b), len(a))
	distance = fwd
	if rev < distance {
		distance = rev
	}
	return distance, distance <= mmthr
}

// BarcodeMatches applies the configured comparator (plain Hamming, or
// the annealed check when cfg.AnnealedCheck is set) to decide whether
// two barcodes are close enough to merge during positional rescue
// (spec §4.5 step 4).
func BarcodeMatches(cfg *Config, a, b string) bool {
	if cfg.AnnealedCheck {
		_, ok := HammingAnnealed(a, b, cfg.MMThr)
		return ok
	}
	return Hamming(a, b, len(a)) <= cfg.MMThr
}
