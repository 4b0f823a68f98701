package rescue

import (
	"strings"

	"github.com/grailbio/consensus/umi"
	"github.com/grailbio/hts/sam"
)

// SortOrder names one of the two non-standard sort orders the rescue
// core accepts (spec §4.5, §6). Neither is a SAM-spec sort order, so
// neither fits sam.Header's closed SortOrder enum (unknown/unsorted/
// queryname/coordinate); both are fundamentally coordinate-sorted, so
// we keep header.SortOrder == sam.Coordinate and carry the rescue
// mode itself as a "SO:" prefixed @CO comment line, the SAM format's
// sanctioned escape hatch for tool-specific header metadata.
type SortOrder string

const (
	PositionalRescue SortOrder = "positional_rescue"
	UnclippedRescue  SortOrder = "unclipped_rescue"
)

const soCommentPrefix = "SO:"

// FromCmpKey maps the umi.Config comparison key to the sort order the
// rescue core requires of its input.
func FromCmpKey(k umi.CmpKey) SortOrder {
	if k == umi.CmpUnclipped {
		return UnclippedRescue
	}
	return PositionalRescue
}

// declaredSortOrder extracts the rescue sort-order token from h's
// comment lines. Returns "" if none is present.
func declaredSortOrder(h *sam.Header) SortOrder {
	for _, c := range h.Comments {
		if strings.HasPrefix(c, soCommentPrefix) {
			return SortOrder(strings.TrimPrefix(c, soCommentPrefix))
		}
	}
	return ""
}

// CheckSortOrder enforces the sort-order guard (spec §8 property 8):
// the BAM header's declared rescue sort order must equal want,
// checked before any alignment is read.
func CheckSortOrder(h *sam.Header, want SortOrder) error {
	got := declaredSortOrder(h)
	if got != want {
		return umi.Errorf(umi.KindSortOrder,
			"BAM declares sort order %q, rescue core is configured for %q", got, want)
	}
	return nil
}

// StampSortOrder records so on h, for use by tools that produce
// rescue-ready BAMs (e.g. an upstream aligner wrapper). It does not
// remove any prior SO comment; callers that rewrite a header should
// start from a header without one.
func StampSortOrder(h *sam.Header, so SortOrder) {
	h.SortOrder = sam.Coordinate
	h.Comments = append(h.Comments, soCommentPrefix+string(so))
}
