package umi

// Rescaler recalibrates a single base's quality before it enters the
// sequence buffer. cycle is the 0-based position within the read.
// The core treats the table opaquely (spec §1: "A pre-supplied
// rescaling table may be consumed opaquely"); it neither trains nor
// validates it.
type Rescaler interface {
	Rescale(cycle, origQual int) (newQual int)
}

// identityRescaler is the default Rescaler: it returns qualities
// unchanged.
type identityRescaler struct{}

func (identityRescaler) Rescale(_, origQual int) int { return origQual }

// applyRescaler rescales each element of quals in place using r,
// indexed by read cycle. A nil r is the identity.
func applyRescaler(r Rescaler, quals []int) {
	if r == nil {
		return
	}
	for i, q := range quals {
		quals[i] = r.Rescale(i, q)
	}
}
