package shard

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/consensus/encoding/fastq"
	"github.com/grailbio/consensus/umi"
	"github.com/klauspost/compress/gzip"
)

// Opts configures the shard orchestrator (spec §4.6, §5).
type Opts struct {
	// Config is the shared core configuration (hp_threshold, n_nucs,
	// workers, rescaler, ...).
	Config *umi.Config
	// Offset is the number of bases skipped at the start of each read
	// before taking the salt.
	Offset int
	// Salt is the number of bases taken from each of R1 and R2 to
	// compose the barcode alongside the index read; 0 disables
	// salting (the barcode is then just the index read).
	Salt int
	// ScratchDir is the directory shard temp files are created in.
	ScratchDir string
	// KeepTemporaries leaves shard temp files on disk after a
	// successful run (spec §5 "Partial outputs are removed unless a
	// keep-temporaries flag is set" -- applied here to all temporaries,
	// not only partial ones, since they're equally useful for
	// debugging a completed run).
	KeepTemporaries bool
}

// Orchestrator implements the shard orchestrator + family-collapse
// dispatch (spec §4.6, §5): split R1/R2/index FASTQs into 4^NNucs
// barcode-prefix shards, collapse each shard's families in parallel,
// and reassemble the outputs in deterministic shard-index order.
type Orchestrator struct {
	Opts   Opts
	Binner Binner

	corrector *umi.SnapCorrector
}

// NewOrchestrator constructs an Orchestrator, deriving its Binner
// from opts.Config.NNucs. If opts.Config.KnownUMIs is set, it also
// builds the barcode pre-correction table (SPEC_FULL.md §5
// "barcode pre-correction") once, up front, so split never pays the
// table-construction cost per read.
func NewOrchestrator(opts Opts) *Orchestrator {
	o := &Orchestrator{Opts: opts, Binner: Binner{NNucs: opts.Config.NNucs}}
	if len(opts.Config.KnownUMIs) > 0 {
		o.corrector = umi.NewSnapCorrector(opts.Config.KnownUMIs)
	}
	return o
}

// shardFiles names the temp file(s) holding one bin's reads.
type shardFiles struct {
	bin    int
	r1Path string
	r2Path string // empty in single-end mode
}

// Run streams r1Path/r2Path/indexPath once, shards by barcode prefix,
// collapses each shard's families in parallel, and writes the
// reassembled consensus FASTQ to out in shard-index order (spec §5:
// "deterministic across runs given the same input and the same shard
// count"). indexPath may be empty if the barcode is carried entirely
// by r1Path (e.g. already inline in one of the reads).
func (o *Orchestrator) Run(ctx context.Context, r1Path, r2Path, indexPath string, out io.Writer) error {
	cfg := o.Opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	shards, err := o.split(ctx, r1Path, r2Path, indexPath)
	if err != nil {
		return err
	}
	defer o.cleanup(shards)
	return o.collapseAll(ctx, shards, out)
}

// --- splitting -------------------------------------------------------

type shardWriterPair struct {
	r1Path, r2Path string
	r1f, r2f       file.File
	r1gz, r2gz     *gzip.Writer
	r1w, r2w       *fastq.Writer
}

func (o *Orchestrator) newShardWriterPair(ctx context.Context, bin int, paired bool) (*shardWriterPair, error) {
	wp := &shardWriterPair{
		r1Path: o.shardPath(bin, 1),
	}
	var err error
	if wp.r1f, err = file.Create(ctx, wp.r1Path); err != nil {
		return nil, umi.Errorf(umi.Io, "creating shard file %s: %v", wp.r1Path, err)
	}
	wp.r1gz = gzip.NewWriter(wp.r1f.Writer(ctx))
	wp.r1w = fastq.NewWriter(wp.r1gz)

	if paired {
		wp.r2Path = o.shardPath(bin, 2)
		if wp.r2f, err = file.Create(ctx, wp.r2Path); err != nil {
			wp.close(ctx)
			return nil, umi.Errorf(umi.Io, "creating shard file %s: %v", wp.r2Path, err)
		}
		wp.r2gz = gzip.NewWriter(wp.r2f.Writer(ctx))
		wp.r2w = fastq.NewWriter(wp.r2gz)
	}
	return wp, nil
}

func (wp *shardWriterPair) close(ctx context.Context) error {
	e := errors.Once{}
	if wp.r1gz != nil {
		e.Set(wp.r1gz.Close())
	}
	if wp.r1f != nil {
		e.Set(wp.r1f.Close(ctx))
	}
	if wp.r2gz != nil {
		e.Set(wp.r2gz.Close())
	}
	if wp.r2f != nil {
		e.Set(wp.r2f.Close(ctx))
	}
	return e.Err()
}

func (o *Orchestrator) shardPath(bin, mate int) string {
	base := fmt.Sprintf("shard.%d.R%d.fastq.gz", bin, mate)
	return filepath.Join(o.Opts.ScratchDir, base)
}

// split implements the streaming binning pass (spec §4.6 paragraph
// 1): each read triple's barcode is composed and the pair is
// appended, in FASTQ form carrying the spec §6 comment grammar, to
// its bin's temp file(s).
func (o *Orchestrator) split(ctx context.Context, r1Path, r2Path, indexPath string) ([]shardFiles, error) {
	cfg := o.Opts.Config
	numShards := o.Binner.NumShards()
	if err := raiseFileLimit(3 * numShards); err != nil {
		log.Error.Printf("shard: could not raise open-file limit to %d: %v (continuing with current limit)", 3*numShards, err)
	}

	r1, err := openFastqInput(ctx, r1Path)
	if err != nil {
		return nil, err
	}
	defer r1.Close()
	s1 := fastq.NewScanner(r1, fastq.All)

	var s2 *fastq.Scanner
	if !cfg.IsSE {
		r2, err := openFastqInput(ctx, r2Path)
		if err != nil {
			return nil, err
		}
		defer r2.Close()
		s2 = fastq.NewScanner(r2, fastq.All)
	}

	var sIdx *fastq.Scanner
	if indexPath != "" {
		idx, err := openFastqInput(ctx, indexPath)
		if err != nil {
			return nil, err
		}
		defer idx.Close()
		sIdx = fastq.NewScanner(idx, fastq.All)
	}

	writers := map[int]*shardWriterPair{}
	abort := func() {
		for _, wp := range writers {
			wp.close(ctx)
		}
	}

	var rd1, rd2, rdIdx fastq.Read
	for s1.Scan(&rd1) {
		if s2 != nil && !s2.Scan(&rd2) {
			abort()
			return nil, umi.Errorf(umi.InputFormat, "R1 has more reads than R2")
		}
		if sIdx != nil && !sIdx.Scan(&rdIdx) {
			abort()
			return nil, umi.Errorf(umi.InputFormat, "R1 has more reads than the index FASTQ")
		}

		indexSeq, r2Seq := rd1.Seq, ""
		if sIdx != nil {
			indexSeq = rdIdx.Seq
		}
		if s2 != nil {
			r2Seq = rd2.Seq
		}
		barcode := ComposeBarcode(rd1.Seq, r2Seq, indexSeq, o.Opts.Offset, o.Opts.Salt)
		if o.corrector != nil {
			if corrected, _, ok := o.corrector.CorrectUMI(barcode); ok {
				barcode = corrected
			}
		}
		pass := umi.IsPassable(barcode, cfg.HPThreshold)
		bin := o.Binner.Bin(barcode)

		wp, ok := writers[bin]
		if !ok {
			if wp, err = o.newShardWriterPair(ctx, bin, !cfg.IsSE); err != nil {
				abort()
				return nil, err
			}
			writers[bin] = wp
		}
		if err := writeShardRead(wp.r1w, &rd1, pass, barcode); err != nil {
			abort()
			return nil, err
		}
		if s2 != nil {
			if err := writeShardRead(wp.r2w, &rd2, pass, barcode); err != nil {
				abort()
				return nil, err
			}
		}
	}
	if err := s1.Err(); err != nil {
		abort()
		return nil, umi.Errorf(umi.Io, "reading %s: %v", r1Path, err)
	}
	if s2 != nil {
		if err := s2.Err(); err != nil {
			abort()
			return nil, umi.Errorf(umi.Io, "reading %s: %v", r2Path, err)
		}
		if s1.Err() == nil {
			// PairScanner-equivalent discordance check: if R2 still has
			// more reads than R1, the loop above already exits when R1
			// ends, so check it explicitly here.
			if s2.Scan(&rd2) {
				abort()
				return nil, umi.Errorf(umi.InputFormat, "R2 has more reads than R1")
			}
		}
	}

	bins := make([]int, 0, len(writers))
	for bin := range writers {
		bins = append(bins, bin)
	}
	sort.Ints(bins)

	result := make([]shardFiles, 0, len(bins))
	for _, bin := range bins {
		wp := writers[bin]
		if err := wp.close(ctx); err != nil {
			return nil, umi.Errorf(umi.Io, "closing shard %d: %v", bin, err)
		}
		result = append(result, shardFiles{bin: bin, r1Path: wp.r1Path, r2Path: wp.r2Path})
	}
	return result, nil
}

func writeShardRead(w *fastq.Writer, r *fastq.Read, pass bool, barcode string) error {
	read := fastq.Read{
		ID:   nameToken(r.ID) + " " + FormatComment(pass, barcode),
		Seq:  r.Seq,
		Unk:  r.Unk,
		Qual: r.Qual,
	}
	if err := w.Write(&read); err != nil {
		return umi.Errorf(umi.Io, "writing shard record %s: %v", r.ID, err)
	}
	return nil
}

func openFastqInput(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, umi.Errorf(umi.Io, "opening %s: %v", path, err)
	}
	r := f.Reader(ctx)
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(r)
		if err != nil {
			f.Close(ctx)
			return nil, umi.Errorf(umi.Io, "opening gzip stream %s: %v", path, err)
		}
		return &readCloserPair{Reader: gz, gz: gz, f: f, ctx: ctx}, nil
	}
	return &readCloserPair{Reader: r, f: f, ctx: ctx}, nil
}

type readCloserPair struct {
	io.Reader
	gz  *gzip.Reader
	f   file.File
	ctx context.Context
}

func (p *readCloserPair) Close() error {
	e := errors.Once{}
	if p.gz != nil {
		e.Set(p.gz.Close())
	}
	e.Set(p.f.Close(p.ctx))
	return e.Err()
}

// --- collapsing --------------------------------------------------------

// collapseAll dispatches the family collapser across a bounded
// worker pool, one goroutine per shard up to Config.Workers, and
// reassembles the shards' consensus output into out in index order
// (spec §4.6, §5). Worker-pool shape follows
// markduplicates/mark_duplicates.go's generateBAM: a buffered channel
// of shard indices drained by a fixed goroutine pool, sync.WaitGroup
// plus errors.Once for first-error capture.
func (o *Orchestrator) collapseAll(ctx context.Context, shards []shardFiles, out io.Writer) error {
	cfg := o.Opts.Config
	outPaths := make([]string, len(shards))

	ch := make(chan int, len(shards))
	for i := range shards {
		ch <- i
	}
	close(ch)

	e := errors.Once{}
	var wg sync.WaitGroup
	workers := cfg.Workers
	if workers > len(shards) {
		workers = len(shards)
	}
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range ch {
				if e.Err() != nil {
					continue
				}
				outPath, err := o.collapseShard(ctx, shards[i])
				if err != nil {
					e.Set(err)
					continue
				}
				outPaths[i] = outPath
			}
		}()
	}
	wg.Wait()
	if err := e.Err(); err != nil {
		return err
	}

	for _, p := range outPaths {
		if p == "" {
			continue
		}
		if err := appendFile(ctx, p, out); err != nil {
			return err
		}
	}
	return nil
}

// collapseShard sorts one shard's reads by barcode, groups them into
// families (spec §4.4 step 1), collapses each family, and writes the
// resulting consensus reads to a per-shard output temp file (spec
// §4.6: "each task sorts its shard's reads by full barcode (string
// sort), then walks the sorted sequence grouping runs of equal
// barcodes").
func (o *Orchestrator) collapseShard(ctx context.Context, sf shardFiles) (string, error) {
	cfg := o.Opts.Config
	reads, err := readShardReads(ctx, sf.r1Path, 1)
	if err != nil {
		return "", err
	}
	if sf.r2Path != "" {
		r2reads, err := readShardReads(ctx, sf.r2Path, 2)
		if err != nil {
			return "", err
		}
		reads = append(reads, r2reads...)
	}
	if len(reads) == 0 {
		return "", nil
	}

	passing := reads[:0:0]
	for _, r := range reads {
		if r.Pass {
			passing = append(passing, r)
		}
	}
	sort.SliceStable(passing, func(i, j int) bool { return passing[i].Barcode < passing[j].Barcode })

	outPath := filepath.Join(o.Opts.ScratchDir, fmt.Sprintf("shard.%d.out.fastq", sf.bin))
	f, err := file.Create(ctx, outPath)
	if err != nil {
		return "", umi.Errorf(umi.Io, "creating shard output %s: %v", outPath, err)
	}
	w := fastq.NewWriter(f.Writer(ctx))

	buf := umi.NewBuffer(0)
	for _, group := range umi.GroupSortedFamilies(passing) {
		cons, err := umi.Collapse(group, cfg, buf)
		if err != nil {
			f.Close(ctx)
			return "", err
		}
		if cons == nil {
			continue // family's barcode failed IsPassable (spec §4.4)
		}
		read := fastq.Read{ID: cons.FastqID(), Seq: cons.Seq, Unk: "+", Qual: cons.Qual()}
		if err := w.Write(&read); err != nil {
			f.Close(ctx)
			return "", umi.Errorf(umi.Io, "writing shard output %s: %v", outPath, err)
		}
	}
	if err := f.Close(ctx); err != nil {
		return "", umi.Errorf(umi.Io, "closing shard output %s: %v", outPath, err)
	}
	return outPath, nil
}

func readShardReads(ctx context.Context, path string, mateIndex int) ([]umi.Read, error) {
	rc, err := openFastqInput(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	s := fastq.NewScanner(rc, fastq.All)
	var reads []umi.Read
	var fq fastq.Read
	for s.Scan(&fq) {
		pass, barcode, ok := ParseComment(fq.ID)
		if !ok {
			return nil, umi.ErrorForRecord(umi.InputFormat, fq.ID, "shard record missing spec §6 comment grammar")
		}
		qual := make([]int, len(fq.Qual))
		for i := 0; i < len(fq.Qual); i++ {
			qual[i] = int(fq.Qual[i]) - 33
		}
		reads = append(reads, umi.Read{
			Name:      strings.TrimPrefix(nameToken(fq.ID), "@"),
			Barcode:   barcode,
			Seq:       fq.Seq,
			Qual:      qual,
			MateIndex: mateIndex,
			Pass:      pass,
		})
	}
	if err := s.Err(); err != nil {
		return nil, umi.Errorf(umi.Io, "reading shard %s: %v", path, err)
	}
	return reads, nil
}

func appendFile(ctx context.Context, path string, out io.Writer) error {
	f, err := file.Open(ctx, path)
	if err != nil {
		return umi.Errorf(umi.Io, "opening shard output %s: %v", path, err)
	}
	defer f.Close(ctx)
	if _, err := io.Copy(out, f.Reader(ctx)); err != nil {
		return umi.Errorf(umi.Io, "assembling shard output %s: %v", path, err)
	}
	return nil
}

// cleanup removes shard temp files unless Opts.KeepTemporaries is
// set (spec §5: "Partial outputs are removed unless a
// keep-temporaries flag is set").
func (o *Orchestrator) cleanup(shards []shardFiles) {
	if o.Opts.KeepTemporaries {
		return
	}
	ctx := context.Background()
	for _, sf := range shards {
		removeQuietly(ctx, sf.r1Path)
		if sf.r2Path != "" {
			removeQuietly(ctx, sf.r2Path)
		}
		removeQuietly(ctx, filepath.Join(o.Opts.ScratchDir, fmt.Sprintf("shard.%d.out.fastq", sf.bin)))
	}
}

func removeQuietly(ctx context.Context, path string) {
	if err := file.Remove(ctx, path); err != nil {
		log.Debug.Printf("shard: cleanup could not remove %s: %v", path, err)
	}
}
