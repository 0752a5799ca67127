package pileup_test

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/luapileup/encoding/bamprovider"
	"github.com/grailbio/luapileup/pileup"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
)

func writeSmallFile(ctx context.Context, t *testing.T, path, contents string) {
	out, err := file.Create(ctx, path)
	assert.NoError(t, err)
	_, err = out.Writer(ctx).Write([]byte(contents))
	assert.NoError(t, err)
	assert.NoError(t, out.Close(ctx))
}

func TestPileup(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	ctx := vcontext.Background()

	// All reads below align to the start of this contig.
	//   pos0: 01234567890123456789
	//   ref:  ACGTACGTACGTACGTACGT
	fapath := filepath.Join(tmpdir, "tmp.fa")
	writeSmallFile(ctx, t, fapath, ">chr1\nACGTACGTACGTACGTACGT\n")

	bedpath := filepath.Join(tmpdir, "tmp.bed")
	writeSmallFile(ctx, t, bedpath, "chr1\t0\t20\n")
	splitBedpath := filepath.Join(tmpdir, "split.bed")
	writeSmallFile(ctx, t, splitBedpath, "chr1\t0\t9\nchr1\t10\t20\n")
	excludeBedpath := filepath.Join(tmpdir, "exclude.bed")
	writeSmallFile(ctx, t, excludeBedpath, "chr1\t4\t6\n")

	ref, _ := sam.NewReference("chr1", "", "", 20, nil, nil)
	samHeader, _ := sam.NewHeader(nil, []*sam.Reference{ref})

	// pairR1 and pairR2 form a proper FR pair with a two-base overlap at
	// [6, 8).  pairR2's bases there disagree with pairR1's so that
	// mate-overlap resolution is visible in the counts.
	pairR1 := sam.Record{
		Name: "pair1",
		Ref:  ref,
		Pos:  2,
		MapQ: 60,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarMatch, 6),
		},
		// + strand
		Flags:   sam.Paired | sam.ProperPair | sam.MateReverse | sam.Read1,
		MateRef: ref,
		MatePos: 6,
		TempLen: 10,
		Seq:     sam.NewSeq([]byte("GTACGT")),
		Qual:    []byte{40, 40, 40, 40, 40, 40},
	}
	pairR2 := sam.Record{
		Name: "pair1",
		Ref:  ref,
		Pos:  6,
		MapQ: 60,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarMatch, 6),
		},
		// also + strand: R2 aligned to the reverse genomic strand
		Flags:   sam.Paired | sam.ProperPair | sam.Reverse | sam.Read2,
		MateRef: ref,
		MatePos: 2,
		TempLen: -10,
		Seq:     sam.NewSeq([]byte("CAACGT")),
		Qual:    []byte{30, 30, 30, 30, 30, 30},
	}
	pairR1LowQ := pairR1
	pairR1LowQ.MapQ = 10

	lowQ := sam.Record{
		Name: "read2",
		Ref:  ref,
		Pos:  4,
		MapQ: 20,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarMatch, 4),
		},
		Seq:  sam.NewSeq([]byte("ACGT")),
		Qual: []byte{35, 35, 35, 35},
	}
	del2 := sam.Record{
		Name: "read3",
		Ref:  ref,
		Pos:  2,
		MapQ: 60,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarMatch, 2),
			sam.NewCigarOp(sam.CigarDeletion, 2),
			sam.NewCigarOp(sam.CigarMatch, 2),
		},
		Seq:  sam.NewSeq([]byte("GTGT")),
		Qual: []byte{40, 40, 40, 40},
	}
	skip2 := sam.Record{
		Name: "read4",
		Ref:  ref,
		Pos:  2,
		MapQ: 60,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarMatch, 2),
			sam.NewCigarOp(sam.CigarSkipped, 2),
			sam.NewCigarOp(sam.CigarMatch, 2),
		},
		Seq:  sam.NewSeq([]byte("GTGT")),
		Qual: []byte{40, 40, 40, 40},
	}
	ins1 := sam.Record{
		Name: "read5",
		Ref:  ref,
		Pos:  2,
		MapQ: 60,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarMatch, 2),
			sam.NewCigarOp(sam.CigarInsertion, 1),
			sam.NewCigarOp(sam.CigarMatch, 2),
		},
		Seq:  sam.NewSeq([]byte("GTAAC")),
		Qual: []byte{40, 40, 40, 40, 40},
	}
	nRead := sam.Record{
		Name: "read6",
		Ref:  ref,
		Pos:  6,
		MapQ: 60,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarMatch, 2),
		},
		Seq:  sam.NewSeq([]byte("NN")),
		Qual: []byte{40, 40},
	}
	edgeRead := sam.Record{
		Name: "read7",
		Ref:  ref,
		Pos:  0,
		MapQ: 60,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarMatch, 2),
		},
		Seq:  sam.NewSeq([]byte("AC")),
		Qual: []byte{40, 40},
	}
	revRead := sam.Record{
		Name: "read8",
		Ref:  ref,
		Pos:  4,
		MapQ: 60,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarMatch, 2),
		},
		// - strand
		Flags: sam.Reverse,
		Seq:   sam.NewSeq([]byte("AC")),
		Qual:  []byte{40, 40},
	}

	tests := []struct {
		name    string
		reads   []sam.Record
		opts    pileup.Opts
		noFasta bool
		want    []string
	}{
		{
			name:  "basic",
			reads: []sam.Record{pairR1, pairR2},
			want: []string{
				"chr1\t2\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t3\tT\t1\t0\t0\t0\t1\t0",
				"chr1\t4\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t5\tC\t1\t0\t1\t0\t0\t0",
				"chr1\t6\tG\t2\t0\t1\t1\t0\t0",
				"chr1\t7\tT\t2\t1\t0\t0\t1\t0",
				"chr1\t8\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t9\tC\t1\t0\t1\t0\t0\t0",
				"chr1\t10\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t11\tT\t1\t0\t0\t0\t1\t0",
			},
		},
		{
			// Same pair with mate-overlap resolution on.  MapQ ties, so the
			// read with the smaller start (pairR1) supplies the overlapped
			// columns.
			name:  "mate_fix",
			reads: []sam.Record{pairR1, pairR2},
			opts:  pileup.Opts{MateFix: true},
			want: []string{
				"chr1\t2\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t3\tT\t1\t0\t0\t0\t1\t0",
				"chr1\t4\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t5\tC\t1\t0\t1\t0\t0\t0",
				"chr1\t6\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t7\tT\t1\t0\t0\t0\t1\t0",
				"chr1\t8\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t9\tC\t1\t0\t1\t0\t0\t0",
				"chr1\t10\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t11\tT\t1\t0\t0\t0\t1\t0",
			},
		},
		{
			// Now pairR2 has the higher MapQ, so its C/A bases win the
			// overlapped columns instead.
			name:  "mate_fix_mapq",
			reads: []sam.Record{pairR1LowQ, pairR2},
			opts:  pileup.Opts{MateFix: true},
			want: []string{
				"chr1\t2\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t3\tT\t1\t0\t0\t0\t1\t0",
				"chr1\t4\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t5\tC\t1\t0\t1\t0\t0\t0",
				"chr1\t6\tG\t1\t0\t1\t0\t0\t0",
				"chr1\t7\tT\t1\t1\t0\t0\t0\t0",
				"chr1\t8\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t9\tC\t1\t0\t1\t0\t0\t0",
				"chr1\t10\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t11\tT\t1\t0\t0\t0\t1\t0",
			},
		},
		{
			name:  "mapq_filter",
			reads: []sam.Record{pairR1, lowQ},
			opts: pileup.Opts{
				Counts: true,
				Expr:   "return read.mapping_quality > 30",
			},
			want: []string{
				"chr1\t2\tG\t1\t0\t0\t1\t0\t0\t0\t0\t0\t0",
				"chr1\t3\tT\t1\t0\t0\t0\t1\t0\t0\t0\t0\t0",
				"chr1\t4\tA\t1\t1\t0\t0\t0\t0\t0\t0\t0\t1",
				"chr1\t5\tC\t1\t0\t1\t0\t0\t0\t0\t0\t0\t1",
				"chr1\t6\tG\t1\t0\t0\t1\t0\t0\t0\t0\t0\t1",
				"chr1\t7\tT\t1\t0\t0\t0\t1\t0\t0\t0\t0\t1",
			},
		},
		{
			// The predicate is re-evaluated at every column, with the
			// positional fields updated; pairR1's first two bases fail the
			// distance cutoff and those columns have no remaining depth.
			name:  "end_distance",
			reads: []sam.Record{pairR1},
			opts:  pileup.Opts{Expr: "return read.distance_from_5prime >= 2"},
			want: []string{
				"chr1\t4\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t5\tC\t1\t0\t1\t0\t0\t0",
				"chr1\t6\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t7\tT\t1\t0\t0\t0\t1\t0",
			},
		},
		{
			name:  "strand_filter",
			reads: []sam.Record{pairR1, revRead},
			opts:  pileup.Opts{Expr: "return read.strand == 1"},
			want: []string{
				"chr1\t2\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t3\tT\t1\t0\t0\t0\t1\t0",
				"chr1\t4\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t5\tC\t1\t0\t1\t0\t0\t0",
				"chr1\t6\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t7\tT\t1\t0\t0\t0\t1\t0",
			},
		},
		{
			// The N fraction at [6, 8) is exactly 0.5, which is not < 0.5;
			// those two rows are dropped by the column predicate.
			name:  "pile_expr",
			reads: []sam.Record{pairR1, nRead},
			opts:  pileup.Opts{PileExpr: "return pile.n / pile.depth < 0.5"},
			want: []string{
				"chr1\t2\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t3\tT\t1\t0\t0\t0\t1\t0",
				"chr1\t4\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t5\tC\t1\t0\t1\t0\t0\t0",
			},
		},
		{
			name:  "indel_counts",
			reads: []sam.Record{pairR1, del2, skip2, ins1},
			opts:  pileup.Opts{Counts: true},
			want: []string{
				"chr1\t2\tG\t4\t0\t0\t4\t0\t0\t0\t0\t0\t0",
				"chr1\t3\tT\t4\t0\t0\t0\t4\t0\t1\t0\t0\t0",
				"chr1\t4\tA\t2\t2\t0\t0\t0\t0\t0\t1\t1\t0",
				"chr1\t5\tC\t2\t0\t2\t0\t0\t0\t0\t1\t1\t0",
				"chr1\t6\tG\t3\t0\t0\t3\t0\t0\t0\t0\t0\t0",
				"chr1\t7\tT\t3\t0\t0\t0\t3\t0\t0\t0\t0\t0",
			},
		},
		{
			// With the cap at 2, only the first two covering reads are
			// inspected at each column; skip2's observations are all dropped.
			name:  "max_depth",
			reads: []sam.Record{pairR1, del2, skip2},
			opts: pileup.Opts{
				Counts:   true,
				MaxDepth: 2,
			},
			want: []string{
				"chr1\t2\tG\t2\t0\t0\t2\t0\t0\t0\t0\t0\t0",
				"chr1\t3\tT\t2\t0\t0\t0\t2\t0\t0\t0\t0\t0",
				"chr1\t4\tA\t1\t1\t0\t0\t0\t0\t0\t1\t0\t0",
				"chr1\t5\tC\t1\t0\t1\t0\t0\t0\t0\t1\t0\t0",
				"chr1\t6\tG\t2\t0\t0\t2\t0\t0\t0\t0\t0\t0",
				"chr1\t7\tT\t2\t0\t0\t0\t2\t0\t0\t0\t0\t0",
			},
		},
		{
			name:  "flank",
			reads: []sam.Record{pairR1},
			opts: pileup.Opts{
				Flank:  1,
				Region: "chr1:3-4",
			},
			want: []string{
				"chr1\t2\tCGT\t1\t0\t0\t1\t0\t0",
				"chr1\t3\tGTA\t1\t0\t0\t0\t1\t0",
			},
		},
		{
			// Window extends past the start of the contig; the out-of-range
			// positions are reported as '.'.
			name:  "flank_edge",
			reads: []sam.Record{edgeRead},
			opts: pileup.Opts{
				Flank:  2,
				Region: "chr1:1",
			},
			want: []string{
				"chr1\t0\t..ACG\t1\t1\t0\t0\t0\t0",
			},
		},
		{
			name:  "exclude_bed",
			reads: []sam.Record{pairR1},
			opts:  pileup.Opts{ExcludeBedPath: excludeBedpath},
			want: []string{
				"chr1\t2\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t3\tT\t1\t0\t0\t0\t1\t0",
				"chr1\t6\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t7\tT\t1\t0\t0\t0\t1\t0",
			},
		},
		{
			// Two disjoint BED intervals processed by two workers.  pairR2
			// spans the gap between them and must contribute to both sides,
			// while position 9 is outside both intervals.
			name:  "two_shards",
			reads: []sam.Record{pairR1, pairR2},
			opts: pileup.Opts{
				BedPath:     splitBedpath,
				Parallelism: 2,
			},
			want: []string{
				"chr1\t2\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t3\tT\t1\t0\t0\t0\t1\t0",
				"chr1\t4\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t5\tC\t1\t0\t1\t0\t0\t0",
				"chr1\t6\tG\t2\t0\t1\t1\t0\t0",
				"chr1\t7\tT\t2\t1\t0\t0\t1\t0",
				"chr1\t8\tA\t1\t1\t0\t0\t0\t0",
				"chr1\t10\tG\t1\t0\t0\t1\t0\t0",
				"chr1\t11\tT\t1\t0\t0\t0\t1\t0",
			},
		},
		{
			name:    "no_fasta",
			reads:   []sam.Record{pairR1},
			noFasta: true,
			want: []string{
				"chr1\t2\t.\t1\t0\t0\t1\t0\t0",
				"chr1\t3\t.\t1\t0\t0\t0\t1\t0",
				"chr1\t4\t.\t1\t1\t0\t0\t0\t0",
				"chr1\t5\t.\t1\t0\t1\t0\t0\t0",
				"chr1\t6\t.\t1\t0\t0\t1\t0\t0",
				"chr1\t7\t.\t1\t0\t0\t0\t1\t0",
			},
		},
		{
			name:  "no_coverage",
			reads: []sam.Record{pairR1},
			opts:  pileup.Opts{Region: "chr1:15-16"},
			want:  []string{},
		},
		{
			// Subtracting the full target set leaves nothing to scan; the
			// output is just the header.
			name:  "fully_excluded",
			reads: []sam.Record{pairR1},
			opts:  pileup.Opts{ExcludeBedPath: bedpath},
			want:  []string{},
		},
	}
	bampath := filepath.Join(tmpdir, "tmp.bam")
	baipath := filepath.Join(tmpdir, "tmp.bam.bai")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Write a temporary .bam file containing just the given reads.
			out, err := file.Create(ctx, bampath)
			assert.NoError(t, err)
			// No "defer file.CloseAndReport" since we have to close this file
			// before building the .bai, and when we close a file twice, the
			// second call may produce an error.

			var bamWriter *bam.Writer
			bamWriter, err = bam.NewWriter(out.Writer(ctx), samHeader, 1)
			assert.NoError(t, err)
			for _, r := range tt.reads {
				err = bamWriter.Write(&r)
				assert.NoError(t, err)
			}
			assert.NoError(t, bamWriter.Close())
			assert.NoError(t, out.Close(ctx))

			assert.NoError(t, bamprovider.BuildIndex(bampath, baipath))

			opts := tt.opts
			opts.BamIndexPath = baipath
			opts.OutPath = filepath.Join(tmpdir, tt.name+".tsv")
			if (opts.BedPath == "") && (opts.Region == "") {
				opts.BedPath = bedpath
			}
			if (opts.FaPath == "") && !tt.noFasta {
				opts.FaPath = fapath
			}
			if opts.MaxDepth == 0 {
				opts.MaxDepth = pileup.DefaultOpts.MaxDepth
			}
			if opts.Parallelism == 0 {
				opts.Parallelism = 1
			}
			assert.NoError(t, pileup.Pileup(ctx, bampath, &opts))

			// Verify output is as expected.
			f, err := file.Open(ctx, opts.OutPath)
			assert.NoError(t, err)
			data, err := ioutil.ReadAll(f.Reader(ctx))
			assert.NoError(t, err)
			assert.NoError(t, f.Close(ctx))

			wantText := "#chrom\tpos0\tref_base\tdepth\ta\tc\tg\tt\tn"
			if opts.Counts {
				wantText += "\tins\tdel\tref_skip\tfail"
			}
			wantText += "\n"
			for _, line := range tt.want {
				wantText += line + "\n"
			}
			assert.EQ(t, string(data), wantText)
		})
	}
}

// TestPileupDeterminism reruns the same job at different parallelism settings
// and requires byte-identical output.
func TestPileupDeterminism(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	ctx := vcontext.Background()
	bedpath := filepath.Join(tmpdir, "tmp.bed")
	writeSmallFile(ctx, t, bedpath, "chr1\t0\t6\nchr1\t8\t14\nchr1\t16\t20\n")

	ref, _ := sam.NewReference("chr1", "", "", 20, nil, nil)
	samHeader, _ := sam.NewHeader(nil, []*sam.Reference{ref})

	bampath := filepath.Join(tmpdir, "tmp.bam")
	out, err := file.Create(ctx, bampath)
	assert.NoError(t, err)
	bamWriter, err := bam.NewWriter(out.Writer(ctx), samHeader, 1)
	assert.NoError(t, err)
	for i := 0; i < 16; i++ {
		// Ascending positions, since the records must be in coordinate order.
		pos := (i * 13) / 16
		rec := sam.Record{
			Name: "read" + string(rune('a'+i)),
			Ref:  ref,
			Pos:  pos,
			MapQ: 60,
			Cigar: []sam.CigarOp{
				sam.NewCigarOp(sam.CigarMatch, 6),
			},
			Seq:  sam.NewSeq([]byte("ACGTAC")),
			Qual: []byte{40, 40, 40, 40, 40, 40},
		}
		assert.NoError(t, bamWriter.Write(&rec))
	}
	assert.NoError(t, bamWriter.Close())
	assert.NoError(t, out.Close(ctx))

	baipath := filepath.Join(tmpdir, "tmp.bam.bai")
	assert.NoError(t, bamprovider.BuildIndex(bampath, baipath))

	var (
		outputs []string
		sums    []uint64
	)
	for _, parallelism := range []int{1, 2, 4} {
		opts := pileup.Opts{
			BamIndexPath: baipath,
			BedPath:      bedpath,
			Expr:         "return read.bq >= 40",
			MaxDepth:     pileup.DefaultOpts.MaxDepth,
			OutPath:      filepath.Join(tmpdir, "out.tsv"),
			Parallelism:  parallelism,
		}
		assert.NoError(t, pileup.Pileup(ctx, bampath, &opts))

		f, err := file.Open(ctx, opts.OutPath)
		assert.NoError(t, err)
		data, err := ioutil.ReadAll(f.Reader(ctx))
		assert.NoError(t, err)
		assert.NoError(t, f.Close(ctx))
		outputs = append(outputs, string(data))
		sums = append(sums, seahash.Sum64(data))
	}
	assert.EQ(t, outputs[1], outputs[0])
	assert.EQ(t, sums[1], sums[0])
	assert.EQ(t, sums[2], sums[0])
}

// TestPileupGzOutput requires a .gz output path to produce a block-gzipped
// file whose decompressed contents match the plain-text run.
func TestPileupGzOutput(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	ctx := vcontext.Background()
	bedpath := filepath.Join(tmpdir, "tmp.bed")
	writeSmallFile(ctx, t, bedpath, "chr1\t0\t20\n")

	ref, _ := sam.NewReference("chr1", "", "", 20, nil, nil)
	samHeader, _ := sam.NewHeader(nil, []*sam.Reference{ref})

	bampath := filepath.Join(tmpdir, "tmp.bam")
	out, err := file.Create(ctx, bampath)
	assert.NoError(t, err)
	bamWriter, err := bam.NewWriter(out.Writer(ctx), samHeader, 1)
	assert.NoError(t, err)
	rec := sam.Record{
		Name: "read1",
		Ref:  ref,
		Pos:  2,
		MapQ: 60,
		Cigar: []sam.CigarOp{
			sam.NewCigarOp(sam.CigarMatch, 6),
		},
		Seq:  sam.NewSeq([]byte("ACGTAC")),
		Qual: []byte{40, 40, 40, 40, 40, 40},
	}
	assert.NoError(t, bamWriter.Write(&rec))
	assert.NoError(t, bamWriter.Close())
	assert.NoError(t, out.Close(ctx))

	baipath := filepath.Join(tmpdir, "tmp.bam.bai")
	assert.NoError(t, bamprovider.BuildIndex(bampath, baipath))

	readBack := func(path string) []byte {
		f, err := file.Open(ctx, path)
		assert.NoError(t, err)
		data, err := ioutil.ReadAll(f.Reader(ctx))
		assert.NoError(t, err)
		assert.NoError(t, f.Close(ctx))
		return data
	}

	opts := pileup.Opts{
		BamIndexPath: baipath,
		BedPath:      bedpath,
		Expr:         pileup.DefaultOpts.Expr,
		MaxDepth:     pileup.DefaultOpts.MaxDepth,
		OutPath:      filepath.Join(tmpdir, "out.tsv"),
		Parallelism:  1,
	}
	assert.NoError(t, pileup.Pileup(ctx, bampath, &opts))
	plain := readBack(opts.OutPath)

	opts.OutPath = filepath.Join(tmpdir, "out.tsv.gz")
	assert.NoError(t, pileup.Pileup(ctx, bampath, &opts))
	raw := readBack(opts.OutPath)

	// bgzf output is a sequence of gzip members, so a plain gzip reader can
	// decompress it.
	assert.EQ(t, raw[:2], []byte{0x1f, 0x8b})
	unzipped, _ := compress.NewReader(bytes.NewReader(raw))
	data, err := ioutil.ReadAll(unzipped)
	assert.NoError(t, err)
	assert.EQ(t, data, plain)
}

func TestPileupArgErrors(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	ctx := vcontext.Background()
	bedpath := filepath.Join(tmpdir, "tmp.bed")
	writeSmallFile(ctx, t, bedpath, "chr1\t0\t20\n")

	opts := pileup.Opts{
		BedPath:     bedpath,
		MaxDepth:    100,
		Parallelism: 1,
		Region:      "chr1:1-10",
	}
	// -bed and -region are mutually exclusive; this must fail before the BAM
	// is ever opened.
	assert.NotNil(t, pileup.Pileup(ctx, "nonexistent.bam", &opts))

	opts = pileup.Opts{
		Flank:       -1,
		MaxDepth:    100,
		Parallelism: 1,
	}
	assert.NotNil(t, pileup.Pileup(ctx, "nonexistent.bam", &opts))

	opts = pileup.Opts{
		Expr:        "return {",
		MaxDepth:    100,
		Parallelism: 1,
	}
	assert.NotNil(t, pileup.Pileup(ctx, "nonexistent.bam", &opts))
}
