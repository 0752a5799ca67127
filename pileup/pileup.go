// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pileup

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"runtime"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/luapileup/encoding/bamprovider"
	"github.com/grailbio/luapileup/encoding/fasta"
	"github.com/grailbio/luapileup/interval"
	"github.com/grailbio/luapileup/luafilter"
)

// Temp shards are recordio with the zstd transformer; it must be registered
// before any writer or scanner is built.
func init() {
	recordiozstd.Init()
}

type Opts struct {
	// Commandline options.
	BamIndexPath   string
	BedPath        string
	Counts         bool
	ExcludeBedPath string
	Expr           string
	FaPath         string
	Flank          int
	MateFix        bool
	MaxDepth       int
	OutPath        string
	Parallelism    int
	PileExpr       string
	Region         string
	TempDir        string
}

var DefaultOpts = Opts{
	Expr:        "return true",
	MaxDepth:    100000,
	Parallelism: 2,
}

// Problem:
// Given a sorted, indexed BAM, we want per-position base-composition counts
// over a set of target intervals, where a user-supplied Lua predicate
// decides, per (read, position) pair, which reads contribute, and a second
// optional predicate decides which assembled rows are emitted.
//
// Implementation strategy:
// Lua evaluation makes the per-(read, position) step far more expensive than
// a pure counting pileup, so we optimize for a simple sweep rather than for
// squeezing out the last allocations:
// 1. The target interval-union is decomposed into disjoint regions of at
//    most regionChunkBp bases, in (contig, position) order.
// 2. traverse.Each hands each worker a contiguous slice of the region list.
//    A worker sweeps each region position by position, maintaining the set
//    of reads overlapping the current column; each overlapping read is
//    projected into the predicate's view and evaluated, and passing base
//    observations are tallied (after optional same-fragment resolution).
//    Reads overlapping a region boundary are fetched by both neighboring
//    workers, but each column is still counted exactly once since the
//    regions are disjoint.
// 3. Each worker appends its rows to a private zstd-compressed recordio
//    file.  Workers own contiguous region ranges and process them in order,
//    so concatenating the per-worker files in worker order yields globally
//    sorted rows; a final single-threaded pass converts them to TSV,
//    applying the column predicate.

// Pileup generates per-position base-composition rows for bamPath and writes
// them as (possibly block-gzipped) TSV.  It is the library entry point
// behind cmd/bio-luapileup.
func Pileup(ctx context.Context, bamPath string, rawOpts *Opts) (err error) {
	// 1. Validate parameters, compile the predicates
	// 2. Read .bam header and BED, build the target region list
	// 3. Open/load the .fa
	// 4. Parallel sweep -> per-worker recordio files
	// 5. Convert to TSV
	opts := *rawOpts
	if opts.Flank < 0 {
		return fmt.Errorf("Pileup: invalid -flank argument")
	}
	if opts.MaxDepth <= 0 {
		return fmt.Errorf("Pileup: invalid -max-depth argument")
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if (opts.BedPath != "") && (opts.Region != "") {
		return fmt.Errorf("Pileup: -region and -bed flags can't be used together")
	}
	if opts.Expr == "" {
		opts.Expr = DefaultOpts.Expr
	}
	var readProg, pileProg *luafilter.Program
	if readProg, err = luafilter.Compile("read-filter", opts.Expr); err != nil {
		return
	}
	if opts.PileExpr != "" {
		if pileProg, err = luafilter.Compile("pile-filter", opts.PileExpr); err != nil {
			return
		}
	}

	provider := bamprovider.NewProvider(bamPath, bamprovider.ProviderOpts{Index: opts.BamIndexPath})
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	var header *sam.Header
	if header, err = provider.GetHeader(); err != nil {
		return
	}
	headerRefs := header.Refs()

	var targets interval.BEDUnion
	if opts.BedPath != "" {
		if targets, err = interval.NewBEDUnionFromPath(opts.BedPath, interval.NewBEDOpts{SAMHeader: header}); err != nil {
			return
		}
	} else if opts.Region != "" {
		var regionEntry interval.Entry
		if regionEntry, err = interval.ParseRegionString(opts.Region); err != nil {
			return
		}
		if targets, err = interval.NewBEDUnionFromEntries([]interval.Entry{regionEntry}, interval.NewBEDOpts{SAMHeader: header}); err != nil {
			return
		}
	} else {
		// Default to the whole genome.
		entries := make([]interval.Entry, 0, len(headerRefs))
		for _, ref := range headerRefs {
			if ref.Len() > 0 {
				entries = append(entries, interval.Entry{
					RefName: ref.Name(),
					Start0:  0,
					End:     PosType(ref.Len()),
				})
			}
		}
		if targets, err = interval.NewBEDUnionFromEntries(entries, interval.NewBEDOpts{SAMHeader: header}); err != nil {
			return
		}
	}
	if opts.ExcludeBedPath != "" {
		var excluded interval.BEDUnion
		if excluded, err = interval.NewBEDUnionFromPath(opts.ExcludeBedPath, interval.NewBEDOpts{SAMHeader: header}); err != nil {
			return
		}
		targets = targets.Subtract(&excluded)
	}
	regions := makeRegions(&targets, headerRefs, regionChunkBp)

	var sharedFa fasta.Fasta
	var faLens map[string]uint64
	useFai := false
	if opts.FaPath != "" {
		// Prefer .fai-based access when the index is present: each worker
		// then opens its own cheap handle instead of sharing one whole-genome
		// copy in memory.
		if faiFile, e := file.Open(ctx, opts.FaPath+".fai"); e == nil {
			faLens, err = fasta.FaiToReferenceLengths(faiFile.Reader(ctx))
			if e := faiFile.Close(ctx); e != nil && err == nil {
				err = e
			}
			if err != nil {
				return
			}
			useFai = true
		} else {
			if sharedFa, err = LoadFa(ctx, opts.FaPath); err != nil {
				return
			}
			faLens = FaLens(sharedFa)
		}
		if err = ValidateReference(faLens, headerRefs); err != nil {
			return
		}
	}

	var refNames []string
	for _, ref := range headerRefs {
		refNames = append(refNames, ref.Name())
	}

	nRegion := len(regions)
	if nRegion == 0 {
		log.Printf("Pileup: no target positions, writing header-only output")
		return convertRowsToTSV(ctx, nil, refNames, pileProg, &opts)
	}
	parallelism := minInt(opts.Parallelism, nRegion)

	if opts.TempDir != "" {
		// Note that we don't actually use the temp directory when parallelism
		// == 1.  But may as well still force it to exist for consistency.
		if err = os.MkdirAll(opts.TempDir, 0755); err != nil {
			return
		}
	}
	tmpFiles := make([]*os.File, parallelism)
	defer func() {
		for _, f := range tmpFiles {
			if f != nil {
				if e := f.Close(); e != nil && err == nil {
					err = e
				}
			}
		}
	}()
	for jobIdx := range tmpFiles {
		if tmpFiles[jobIdx], err = ioutil.TempFile(opts.TempDir, "luapileup_tmp"+strconv.Itoa(jobIdx)+"_*.rio"); err != nil {
			return
		}
	}

	log.Printf("Pileup: starting main loop (%d jobs)\n", parallelism)
	err = traverse.Each(parallelism, func(jobIdx int) (err error) {
		startIdx := (jobIdx * nRegion) / parallelism
		endIdx := ((jobIdx + 1) * nRegion) / parallelism
		regionSlice := regions[startIdx:endIdx]

		jobFa := sharedFa
		if useFai {
			// Indexed lookups seek the underlying file, so every worker needs
			// a private pair of handles.
			var faFile, faiFile file.File
			if faFile, err = file.Open(ctx, opts.FaPath); err != nil {
				return
			}
			defer file.CloseAndReport(ctx, faFile, &err)
			if faiFile, err = file.Open(ctx, opts.FaPath+".fai"); err != nil {
				return
			}
			defer file.CloseAndReport(ctx, faiFile, &err)
			if jobFa, err = fasta.NewIndexed(faFile.Reader(ctx), faiFile.Reader(ctx)); err != nil {
				return
			}
		}
		var ev *luafilter.Evaluator
		if ev, err = luafilter.NewEvaluator(readProg, nil); err != nil {
			return
		}
		defer ev.Close()

		w := recordio.NewWriter(tmpFiles[jobIdx], recordio.WriterOpts{
			Marshal:      marshalRow,
			Transformers: []string{recordiozstd.Name},
		})
		walker := newRegionWalker(provider, headerRefs, ev, jobFa, faLens, &opts, w)
		for _, region := range regionSlice {
			if err = walker.processRegion(region); err != nil {
				return
			}
		}
		return w.Finish()
	})
	if err != nil {
		return
	}
	log.Printf("Pileup: main loop complete")
	return convertRowsToTSV(ctx, tmpFiles, refNames, pileProg, &opts)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
