// Package rescue implements the post-alignment positional grouper and
// rescue collapser: a streaming pass over a coordinate-sorted BAM that
// merges alignment-adjacent records whose barcodes are near-duplicates
// but were too dissimilar to collapse pre-alignment.
package rescue

import (
	"github.com/grailbio/consensus/umi"
	"github.com/grailbio/hts/sam"
)

var (
	tagFM = sam.Tag{'F', 'M'}
	tagRV = sam.Tag{'R', 'V'}
	tagFP = sam.Tag{'F', 'P'}
	tagNC = sam.Tag{'N', 'C'}
	tagPV = sam.Tag{'P', 'V'}
	tagFA = sam.Tag{'F', 'A'}
	tagMU = sam.Tag{'M', 'U'}
	tagSU = sam.Tag{'S', 'U'}
	tagBS = sam.Tag{'B', 'S'}
)

// AlignedRecord wraps a *sam.Record with the typed tag accessors the
// rescue merge needs, so callers never poke at the raw aux byte
// payload directly (spec §9: typed accessor views over the record).
type AlignedRecord struct {
	Rec *sam.Record

	// live is false once this record has been merged away
	// (MERGED_AWAY), which is terminal. Emission does not change it.
	live bool
}

// NewAlignedRecord wraps r, marking it live.
func NewAlignedRecord(r *sam.Record) *AlignedRecord {
	return &AlignedRecord{Rec: r, live: true}
}

func (a *AlignedRecord) Live() bool { return a.live }

// Kill marks a as merged away; its record must never be emitted.
func (a *AlignedRecord) Kill() { a.live = false }

func auxInt(r *sam.Record, tag sam.Tag) (int, bool) {
	aux := r.AuxFields.Get(tag)
	if aux == nil {
		return 0, false
	}
	switch v := aux.Value().(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	default:
		return 0, false
	}
}

func auxUint32Array(r *sam.Record, tag sam.Tag) ([]uint32, bool) {
	aux := r.AuxFields.Get(tag)
	if aux == nil {
		return nil, false
	}
	v, ok := aux.Value().([]uint32)
	return v, ok
}

func auxString(r *sam.Record, tag sam.Tag) (string, bool) {
	aux := r.AuxFields.Get(tag)
	if aux == nil {
		return "", false
	}
	v, ok := aux.Value().(string)
	return v, ok
}

// setAux replaces any existing value for tag with a freshly built aux
// field wrapping value, preserving the position of other tags.
func setAux(r *sam.Record, tag sam.Tag, value interface{}) {
	aux, err := sam.NewAux(tag, value)
	if err != nil {
		panic(err) // a programming error: value is not aux-encodable
	}
	for i, f := range r.AuxFields {
		if f.Tag() == tag {
			r.AuxFields[i] = aux
			return
		}
	}
	r.AuxFields = append(r.AuxFields, aux)
}

func (a *AlignedRecord) FM() (int, bool)  { return auxInt(a.Rec, tagFM) }
func (a *AlignedRecord) SetFM(n int)      { setAux(a.Rec, tagFM, n) }
func (a *AlignedRecord) RV() (int, bool)  { return auxInt(a.Rec, tagRV) }
func (a *AlignedRecord) SetRV(n int)      { setAux(a.Rec, tagRV, n) }
func (a *AlignedRecord) FP() (int, bool)  { return auxInt(a.Rec, tagFP) }

func (a *AlignedRecord) NC() int {
	n, _ := auxInt(a.Rec, tagNC)
	return n
}
func (a *AlignedRecord) SetNC(n int) { setAux(a.Rec, tagNC, n) }

func (a *AlignedRecord) PV() ([]uint32, bool) { return auxUint32Array(a.Rec, tagPV) }
func (a *AlignedRecord) SetPV(v []uint32)     { setAux(a.Rec, tagPV, v) }
func (a *AlignedRecord) FA() ([]uint32, bool) { return auxUint32Array(a.Rec, tagFA) }
func (a *AlignedRecord) SetFA(v []uint32)     { setAux(a.Rec, tagFA, v) }
func (a *AlignedRecord) MU() (int, bool)      { return auxInt(a.Rec, tagMU) }
func (a *AlignedRecord) SU() (int, bool)      { return auxInt(a.Rec, tagSU) }

func (a *AlignedRecord) Barcode() (string, bool) { return auxString(a.Rec, tagBS) }

// Reverse reports whether the record aligned to the reverse strand.
func (a *AlignedRecord) Reverse() bool { return a.Rec.Flags&sam.Reverse != 0 }

// IsRead1 reports whether the record carries the Read1 flag. A
// single-end record without that flag reports false.
func (a *AlignedRecord) IsRead1() bool { return a.Rec.Flags&sam.Read1 != 0 }

func (a *AlignedRecord) skippable() bool {
	f := a.Rec.Flags
	return f&sam.Unmapped != 0 || f&sam.Secondary != 0 ||
		f&sam.Supplementary != 0 || f&sam.MateUnmapped != 0
}

// requireTags fetches the tags every merge candidate must carry,
// returning an InputFormat error naming the offending record and
// missing tag if any is absent.
func requireTags(a *AlignedRecord, unclipped bool) (fm int, pv, fa []uint32, err error) {
	var ok bool
	if fm, ok = a.FM(); !ok {
		return 0, nil, nil, umi.ErrorForRecord(umi.InputFormat, a.Rec.Name, "missing required FM tag")
	}
	if pv, ok = a.PV(); !ok {
		return 0, nil, nil, umi.ErrorForRecord(umi.InputFormat, a.Rec.Name, "missing required PV tag")
	}
	if fa, ok = a.FA(); !ok {
		return 0, nil, nil, umi.ErrorForRecord(umi.InputFormat, a.Rec.Name, "missing required FA tag")
	}
	if unclipped {
		if _, ok = a.SU(); !ok {
			return 0, nil, nil, umi.ErrorForRecord(umi.InputFormat, a.Rec.Name, "missing required SU tag in unclipped-rescue mode")
		}
		if _, ok = a.MU(); !ok {
			return 0, nil, nil, umi.ErrorForRecord(umi.InputFormat, a.Rec.Name, "missing required MU tag in unclipped-rescue mode")
		}
	}
	return fm, pv, fa, nil
}
