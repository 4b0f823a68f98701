package rescue

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/require"
)

func newRef(t *testing.T, name string, length int) *sam.Reference {
	ref, err := sam.NewReference(name, "", "", length, nil, nil)
	require.NoError(t, err)
	return ref
}

// newAligned builds a primary, paired, mapped record carrying the
// tags the positional-rescue merge reads: BS (barcode), FM, RV, PV,
// FA, and NC (set to 0). It does not add the SU/MU tags that
// unclipped mode requires.
func newAligned(t *testing.T, name string, ref *sam.Reference, pos int, flags sam.Flags,
	seq string, qual []byte, barcode string, fm, rv int, pv, fa []uint32) *AlignedRecord {

	r := &sam.Record{
		Name:  name,
		Ref:   ref,
		Pos:   pos,
		Flags: flags | sam.Paired,
		Seq:   sam.NewSeq([]byte(seq)),
		Qual:  qual,
	}
	mustAux(t, r, tagBS, barcode)
	mustAux(t, r, tagFM, fm)
	mustAux(t, r, tagRV, rv)
	mustAux(t, r, tagPV, append([]uint32(nil), pv...))
	mustAux(t, r, tagFA, append([]uint32(nil), fa...))
	mustAux(t, r, tagNC, 0)
	return NewAlignedRecord(r)
}

func mustAux(t *testing.T, r *sam.Record, tag sam.Tag, value interface{}) {
	aux, err := sam.NewAux(tag, value)
	require.NoError(t, err)
	r.AuxFields = append(r.AuxFields, aux)
}

func qualAll(n int, q byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = q
	}
	return out
}
