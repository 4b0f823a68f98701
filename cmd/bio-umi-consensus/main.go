// bio-umi-consensus collapses UMI-barcoded read families into
// posterior-quality consensus reads, in either of the core's two
// modes (spec §1, §4.6, §4.5):
//
//   -mode=shard   pre-alignment hash-demultiplex consensus: shards
//                 R1/R2/index FASTQs by barcode prefix, collapses each
//                 shard's families, writes one consensus FASTQ.
//   -mode=rescue  post-alignment positional rescue: streams a
//                 coordinate-sorted BAM, merges near-duplicate
//                 barcodes within each coordinate stack, writes the
//                 rescued BAM plus a side-channel FASTQ of records
//                 that must be realigned.
//
// This binary is glue, not the core: see package umi, umi/rescue and
// umi/shard for the actual algorithms.
package main

import (
	"context"
	"flag"
	"runtime"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	htsbam "github.com/grailbio/hts/bam"
	"github.com/grailbio/consensus/encoding/fastq"
	"github.com/grailbio/consensus/umi"
	"github.com/grailbio/consensus/umi/rescue"
	"github.com/grailbio/consensus/umi/shard"
)

var (
	mode = flag.String("mode", "", "Processing mode: 'shard' (pre-alignment) or 'rescue' (post-alignment)")

	// shared Config flags (spec §6).
	hpThreshold   = flag.Int("hp-threshold", 10, "reject barcodes whose longest homopolymer run reaches this length")
	mmthr         = flag.Int("mmthr", 2, "maximum Hamming distance allowed for a rescue merge")
	nNucs         = flag.Int("n-nucs", 4, "barcode prefix length; shards number 4^n-nucs")
	workers       = flag.Int("workers", runtime.NumCPU(), "number of parallel family-collapse workers")
	minFracAgreed = flag.Float64("min-frac-agreed", 0.8, "minimum fraction of family members that must agree before a position is called")
	cmpKey        = flag.String("cmpkey", "position", "rescue sort-order contract: 'position' or 'unclipped'")
	isSE          = flag.Bool("se", false, "single-end mode: no mate bookkeeping")
	annealedCheck = flag.Bool("annealed-check", false, "also test the reverse complement when comparing barcodes for a rescue merge")
	knownUMIs     = flag.String("known-umis", "", "path to a newline-separated panel of known UMIs for barcode pre-correction")

	// shard-mode flags.
	r1Path         = flag.String("r1", "", "[shard mode] input R1 FASTQ path")
	r2Path         = flag.String("r2", "", "[shard mode] input R2 FASTQ path, omit for single-end")
	indexPath      = flag.String("index", "", "[shard mode] input index-read FASTQ path")
	saltOffset     = flag.Int("salt-offset", 0, "[shard mode] bases skipped at the start of R1/R2 before taking the salt")
	saltLen        = flag.Int("salt-len", 0, "[shard mode] bases taken from each of R1/R2 to extend the index barcode; 0 disables salting")
	scratchDir     = flag.String("scratch-dir", "/tmp", "[shard mode] directory for shard temp files")
	keepTemporaries = flag.Bool("keep-temporaries", false, "[shard mode] leave shard temp files on disk after a successful run")
	outFastq       = flag.String("out", "", "[shard mode] output consensus FASTQ path")

	// rescue-mode flags.
	bamPath     = flag.String("bam", "", "[rescue mode] input coordinate-sorted BAM path")
	outBam      = flag.String("out-bam", "", "[rescue mode] output rescued BAM path")
	realignPath = flag.String("realign-fastq", "", "[rescue mode] output side-channel FASTQ path for records that must be realigned")
)

func buildConfig() umi.Config {
	cfg := umi.DefaultConfig()
	cfg.HPThreshold = *hpThreshold
	cfg.MMThr = *mmthr
	cfg.NNucs = *nNucs
	cfg.Workers = *workers
	cfg.MinFracAgreed = *minFracAgreed
	cfg.IsSE = *isSE
	cfg.AnnealedCheck = *annealedCheck
	switch *cmpKey {
	case "unclipped":
		cfg.CmpKey = umi.CmpUnclipped
	default:
		cfg.CmpKey = umi.CmpPosition
	}
	return cfg
}

func runShard(ctx context.Context, cfg umi.Config) error {
	if *knownUMIs != "" {
		data, err := file.ReadFile(ctx, *knownUMIs)
		if err != nil {
			return umi.Errorf(umi.KindConfig, "reading -known-umis %s: %v", *knownUMIs, err)
		}
		cfg.KnownUMIs = data
	}
	if *r1Path == "" || *outFastq == "" {
		return umi.Errorf(umi.KindConfig, "-mode=shard requires -r1 and -out")
	}
	if !cfg.IsSE && *r2Path == "" {
		return umi.Errorf(umi.KindConfig, "-mode=shard requires -r2 unless -se is set")
	}

	out, err := file.Create(ctx, *outFastq)
	if err != nil {
		return umi.Errorf(umi.Io, "creating %s: %v", *outFastq, err)
	}
	defer out.Close(ctx)

	o := shard.NewOrchestrator(shard.Opts{
		Config:          &cfg,
		Offset:          *saltOffset,
		Salt:            *saltLen,
		ScratchDir:      *scratchDir,
		KeepTemporaries: *keepTemporaries,
	})
	return o.Run(ctx, *r1Path, *r2Path, *indexPath, out.Writer(ctx))
}

func runRescue(ctx context.Context, cfg umi.Config) error {
	if *bamPath == "" || *outBam == "" || *realignPath == "" {
		return umi.Errorf(umi.KindConfig, "-mode=rescue requires -bam, -out-bam and -realign-fastq")
	}

	in, err := file.Open(ctx, *bamPath)
	if err != nil {
		return umi.Errorf(umi.Io, "opening %s: %v", *bamPath, err)
	}
	defer in.Close(ctx)
	bamReader, err := htsbam.NewReader(in.Reader(ctx), runtime.NumCPU())
	if err != nil {
		return umi.Errorf(umi.Io, "reading BAM header from %s: %v", *bamPath, err)
	}
	defer bamReader.Close()

	so := rescue.FromCmpKey(cfg.CmpKey)
	if err := rescue.CheckSortOrder(bamReader.Header(), so); err != nil {
		return err
	}

	out, err := file.Create(ctx, *outBam)
	if err != nil {
		return umi.Errorf(umi.Io, "creating %s: %v", *outBam, err)
	}
	defer out.Close(ctx)
	bamWriter, err := htsbam.NewWriter(out.Writer(ctx), bamReader.Header(), 1)
	if err != nil {
		return umi.Errorf(umi.Io, "creating BAM writer for %s: %v", *outBam, err)
	}
	defer bamWriter.Close()

	realign, err := file.Create(ctx, *realignPath)
	if err != nil {
		return umi.Errorf(umi.Io, "creating %s: %v", *realignPath, err)
	}
	defer realign.Close(ctx)

	g := &rescue.Grouper{
		Config:  &cfg,
		SortOrd: so,
		Out:     bamWriter,
		Realign: fastq.NewWriter(realign.Writer(ctx)),
	}
	return g.Run(bamReader)
}

func main() {
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() > 0 {
		a := flag.Args()
		log.Fatalf("unparsed flags, please check flag syntax: '%s'", strings.Join(a[len(a)-flag.NArg():], " "))
	}

	cfg := buildConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf(err.Error())
	}

	ctx := vcontext.Background()
	var err error
	switch *mode {
	case "shard":
		err = runShard(ctx, cfg)
	case "rescue":
		err = runRescue(ctx, cfg)
	default:
		log.Fatalf("-mode must be 'shard' or 'rescue', got %q", *mode)
	}
	if err != nil {
		log.Fatalf(err.Error())
	}
	log.Debug.Printf("exiting")
}
