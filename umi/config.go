package umi

// CmpKey selects the sort-order contract that the positional rescue
// grouper expects of its input (spec §6 "cmpkey").
type CmpKey int

const (
	// CmpPosition groups by (tid, pos, strand, is_read1); the BAM must
	// declare SO:positional_rescue.
	CmpPosition CmpKey = iota
	// CmpUnclipped groups by (tid, unclipped_start, strand, is_read1)
	// using the SU/MU tags; the BAM must declare SO:unclipped_rescue.
	CmpUnclipped
)

func (k CmpKey) String() string {
	switch k {
	case CmpPosition:
		return "positional_rescue"
	case CmpUnclipped:
		return "unclipped_rescue"
	default:
		return "unknown"
	}
}

// Config holds the options recognized by the core, per spec §6.
type Config struct {
	// HPThreshold rejects barcodes whose maximum homopolymer run
	// reaches this length. Default 10.
	HPThreshold int
	// MMThr is the maximum Hamming distance allowed for a rescue
	// merge. Default 2.
	MMThr int
	// NNucs is the shard prefix length k; shards number 4^NNucs.
	// Default 4.
	NNucs int
	// Workers bounds the number of parallel family-collapse workers.
	// Default 4.
	Workers int
	// CmpKey chooses the sort-order contract for positional rescue.
	CmpKey CmpKey
	// MinFracAgreed is the minimum fraction of family members that
	// must agree on the majority base before a position is emitted as
	// called rather than masked to N. Default 0.8.
	MinFracAgreed float64
	// Rescaler optionally recalibrates per-cycle, per-quality values
	// before they enter the sequence buffer. Nil means identity.
	Rescaler Rescaler
	// IsSE selects single-end mode: no mate bookkeeping.
	IsSE bool
	// AnnealedCheck also tests the reverse complement of a barcode
	// when comparing barcodes for the rescue merge.
	AnnealedCheck bool
	// KnownUMIs, when non-empty, is a newline-separated panel of known
	// UMI sequences; the shard orchestrator snaps each observed
	// barcode to its nearest known UMI (spec.md is silent on this;
	// see SPEC_FULL.md §5 "barcode pre-correction").
	KnownUMIs []byte
}

// DefaultConfig returns a Config populated with spec.md's recommended
// defaults (§4.1, §4.2, §6).
func DefaultConfig() Config {
	return Config{
		HPThreshold:   10,
		MMThr:         2,
		NNucs:         4,
		Workers:       4,
		CmpKey:        CmpPosition,
		MinFracAgreed: 0.8,
	}
}

// Validate checks the configuration for internal consistency. It is
// called once, before any worker starts (spec §7: Config errors are
// surfaced before work begins).
func (c *Config) Validate() error {
	if c.HPThreshold <= 0 {
		return Errorf(KindConfig, "hp_threshold must be positive, got %d", c.HPThreshold)
	}
	if c.MMThr < 0 {
		return Errorf(KindConfig, "mmthr must be non-negative, got %d", c.MMThr)
	}
	if c.NNucs <= 0 {
		return Errorf(KindConfig, "n_nucs must be positive, got %d", c.NNucs)
	}
	if c.Workers <= 0 {
		return Errorf(KindConfig, "workers must be positive, got %d", c.Workers)
	}
	if c.MinFracAgreed < 0 || c.MinFracAgreed > 1 {
		return Errorf(KindConfig, "min_frac_agreed must be in [0,1], got %f", c.MinFracAgreed)
	}
	if c.CmpKey != CmpPosition && c.CmpKey != CmpUnclipped {
		return Errorf(KindConfig, "unknown cmpkey %d", c.CmpKey)
	}
	return nil
}
