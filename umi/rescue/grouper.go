package rescue

import (
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/consensus/encoding/fastq"
	"github.com/grailbio/consensus/umi"
	"github.com/grailbio/hts/sam"
)

// RecordReader streams primary and non-primary sam.Records in
// coordinate order. Read returns io.EOF once exhausted.
type RecordReader interface {
	Read() (*sam.Record, error)
}

// RecordWriter emits a sam.Record to the output BAM.
type RecordWriter interface {
	Write(r *sam.Record) error
}

// Grouper implements the positional grouper + rescue collapser (spec
// §4.5): a single-threaded streaming scan that forms coordinate
// stacks, merges near-duplicate barcodes within each, and emits
// every record either to the output BAM or to a side-channel FASTQ
// for re-alignment.
type Grouper struct {
	Config  *umi.Config
	SortOrd SortOrder
	Out     RecordWriter
	Realign *fastq.Writer

	pending map[string]*AlignedRecord // by read name, awaiting its mate
}

// Run drives the grouper to completion over in, reading until EOF.
func (g *Grouper) Run(in RecordReader) error {
	if g.pending == nil {
		g.pending = map[string]*AlignedRecord{}
	}
	var stack *Stack
	for {
		r, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return umi.Errorf(umi.Io, "reading alignment record: %v", err)
		}

		a := NewAlignedRecord(r)
		if a.skippable() {
			if stack != nil {
				if err := g.flushStack(stack); err != nil {
					return err
				}
				stack = nil
			}
			if err := g.Out.Write(r); err != nil {
				return umi.Errorf(umi.Io, "writing passthrough record %s: %v", r.Name, err)
			}
			continue
		}

		if stack == nil {
			stack = newStack(a, g.SortOrd)
			continue
		}
		if stack.Matches(a, g.SortOrd) {
			stack.Push(a)
			continue
		}
		if err := g.flushStack(stack); err != nil {
			return err
		}
		stack = newStack(a, g.SortOrd)
	}
	if stack != nil {
		if err := g.flushStack(stack); err != nil {
			return err
		}
	}
	return g.flushOrphans()
}

func (g *Grouper) flushStack(s *Stack) error {
	if err := s.Flatten(g.Config); err != nil {
		return err
	}
	for _, a := range s.Members() {
		if !a.Live() {
			continue // merged away; never emitted
		}
		if err := g.emit(a); err != nil {
			return err
		}
	}
	return nil
}

// emit implements spec §4.5 step 6. In paired mode, a record is held
// until its mate is seen so the pair's changed-status can be judged
// jointly; in single-end mode (Config.IsSE) each record is judged on
// its own.
func (g *Grouper) emit(a *AlignedRecord) error {
	if g.Config.IsSE {
		if a.NC() != 0 {
			return g.writeRealign(a)
		}
		return g.writeOut(a)
	}

	name := a.Rec.Name
	if mate, ok := g.pending[name]; ok {
		delete(g.pending, name)
		r1, r2 := mate, a
		if !r1.IsRead1() {
			r1, r2 = r2, r1
		}
		if r1.NC() != 0 || r2.NC() != 0 {
			if err := g.writeRealign(r1); err != nil {
				return err
			}
			return g.writeRealign(r2)
		}
		if err := g.writeOut(r1); err != nil {
			return err
		}
		return g.writeOut(r2)
	}
	g.pending[name] = a
	return nil
}

// flushOrphans handles records whose mate never appeared before the
// stream ended: logged as a warning (this should not happen on a
// well-formed paired BAM) and flushed to the side channel so
// nothing is silently dropped.
func (g *Grouper) flushOrphans() error {
	for name, a := range g.pending {
		log.Info.Printf("rescue: orphan record %s (mate never seen) flushed to side channel", name)
		if err := g.writeRealign(a); err != nil {
			return err
		}
		delete(g.pending, name)
	}
	return nil
}

func (g *Grouper) writeOut(a *AlignedRecord) error {
	if err := g.Out.Write(a.Rec); err != nil {
		return umi.Errorf(umi.Io, "writing record %s: %v", a.Rec.Name, err)
	}
	return nil
}

func (g *Grouper) writeRealign(a *AlignedRecord) error {
	r := a.Rec
	seq := toReadOrder(r.Seq.Expand(), a.Reverse())
	qual := toReadOrderBytes(r.Qual, a.Reverse())
	qstr := make([]byte, len(qual))
	for i, q := range qual {
		qstr[i] = q + 33
	}

	fm, _ := a.FM()
	rv, _ := a.RV()
	var comment strings.Builder
	fmt.Fprintf(&comment, " FM:i:%d RV:i:%d NC:i:%d", fm, rv, a.NC())

	read := &fastq.Read{
		ID:   "@" + r.Name + comment.String(),
		Seq:  string(seq),
		Unk:  "+",
		Qual: string(qstr),
	}
	if err := g.Realign.Write(read); err != nil {
		return umi.Errorf(umi.Io, "writing side-channel record %s: %v", r.Name, err)
	}
	return nil
}
