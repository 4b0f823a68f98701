package shard

import (
	"strconv"
	"strings"
)

// commentMarker is the literal separator the splitter inserts between
// a read's name and its pass/fail + barcode fields (spec §6):
//
//	@<read-name> ~#!#~|FP=<0|1>|BS=<barcode>
const commentMarker = "~#!#~|FP="

// FormatComment renders the input-side FASTQ comment grammar (spec
// §6), to be appended after a space to the read name.
func FormatComment(pass bool, barcode string) string {
	fp := "0"
	if pass {
		fp = "1"
	}
	return commentMarker + fp + "|BS=" + barcode
}

// ParseComment extracts the pass flag and barcode from a FASTQ ID
// line, per the grammar in spec §6. ok is false if the line does not
// contain the grammar's marker.
func ParseComment(idLine string) (pass bool, barcode string, ok bool) {
	i := strings.Index(idLine, commentMarker)
	if i < 0 {
		return false, "", false
	}
	rest := idLine[i+len(commentMarker):]
	parts := strings.SplitN(rest, "|BS=", 2)
	if len(parts) != 2 {
		return false, "", false
	}
	fpVal, err := strconv.Atoi(parts[0])
	if err != nil {
		return false, "", false
	}
	return fpVal != 0, strings.TrimSpace(parts[1]), true
}

// nameToken returns the first whitespace-delimited field of a FASTQ
// ID line (including its leading "@"), discarding any comment the
// upstream sequencer may already have attached.
func nameToken(idLine string) string {
	if i := strings.IndexByte(idLine, ' '); i >= 0 {
		return idLine[:i]
	}
	return idLine
}

// ComposeBarcode builds the barcode string from an optional R1-prefix
// salt, the index read, and an optional R2-prefix salt (spec §4.6:
// "composed as optional R1-prefix salt ∥ index ∥ optional R2-prefix
// salt"). offset skips that many bases at the start of each read
// before taking salt bases, matching original_source's
// splitmark_core1. salt <= 0 disables salting entirely (the barcode
// is then just the index read, or, in the no-index case, r1Seq
// itself truncated to nothing -- callers in that mode should pass
// r1Seq as indexSeq instead).
func ComposeBarcode(r1Seq, r2Seq, indexSeq string, offset, salt int) string {
	var b strings.Builder
	if salt > 0 && len(r1Seq) >= offset+salt {
		b.WriteString(r1Seq[offset : offset+salt])
	}
	b.WriteString(indexSeq)
	if salt > 0 && r2Seq != "" && len(r2Seq) >= offset+salt {
		b.WriteString(r2Seq[offset : offset+salt])
	}
	return b.String()
}
