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
package main

/*
bio-luapileup reports per-position base compositions for a BAM, with
user-supplied Lua predicates deciding which reads contribute to each column
and which assembled rows are emitted.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/luapileup/pileup"
)

var (
	bamIndexPath = flag.String("index", pileup.DefaultOpts.BamIndexPath, "Input BAM index path. Defaults to bampath + .bai")
	bedPath      = flag.String("bed", pileup.DefaultOpts.BedPath, "Input BED path restricting the pileup to the covered intervals; mutually exclusive with -region")
	counts       = flag.Bool("counts", pileup.DefaultOpts.Counts, "Append ins/del/ref_skip/fail columns to the output")
	excludeBed   = flag.String("exclude-bed", pileup.DefaultOpts.ExcludeBedPath, "BED path; positions it covers are excluded from the pileup")
	expr         = flag.String("expr", pileup.DefaultOpts.Expr, "Lua read predicate; must contain 'return'. May instead be given as the second positional argument")
	faPath       = flag.String("fasta", pileup.DefaultOpts.FaPath, "Reference FASTA path, plain or gzipped; a sibling .fai index is used when present")
	flank        = flag.Int("flank", pileup.DefaultOpts.Flank, "Reference window radius k; the ref_base column shows 2k+1 bases centered on each position")
	mateFix      = flag.Bool("mate-fix", pileup.DefaultOpts.MateFix, "Count overlapping ends of the same fragment only once per position")
	maxDepth     = flag.Int("max-depth", pileup.DefaultOpts.MaxDepth, "Soft cap on per-position observations; additional reads are ignored at that position")
	outPath      = flag.String("out", pileup.DefaultOpts.OutPath, "Output TSV path (default stdout); a .gz suffix selects bgzf compression")
	parallelism  = flag.Int("parallelism", pileup.DefaultOpts.Parallelism, "Maximum number of simultaneous pileup jobs to launch; 0 = runtime.NumCPU()")
	pileExpr     = flag.String("pile-expr", pileup.DefaultOpts.PileExpr, "Lua column predicate applied to assembled rows; must contain 'return'")
	region       = flag.String("region", pileup.DefaultOpts.Region, "Restrict the pileup to the specified region. Format as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>; mutually exclusive with -bed")
	tempDir      = flag.String("temp-dir", pileup.DefaultOpts.TempDir, "Directory to write temporary files to (default os.TempDir())")
)

func bioLuapileupUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath [expression]\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioLuapileupUsage
	shutdown := grail.Init()
	defer shutdown()

	positionalArgs := flag.Args()
	if (len(positionalArgs) < 1) || (len(positionalArgs) > 2) {
		log.Fatalf("Expected bampath and optionally an expression as positional arguments; please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
	}
	exprSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "expr" {
			exprSet = true
		}
	})
	readExpr := *expr
	if len(positionalArgs) == 2 {
		if exprSet {
			log.Fatalf("Read predicate given both via -expr and as a positional argument")
		}
		readExpr = positionalArgs[1]
	}
	ctx := vcontext.Background()
	opts := pileup.Opts{
		BamIndexPath:   *bamIndexPath,
		BedPath:        *bedPath,
		Counts:         *counts,
		ExcludeBedPath: *excludeBed,
		Expr:           readExpr,
		FaPath:         *faPath,
		Flank:          *flank,
		MateFix:        *mateFix,
		MaxDepth:       *maxDepth,
		OutPath:        *outPath,
		Parallelism:    *parallelism,
		PileExpr:       *pileExpr,
		Region:         *region,
		TempDir:        *tempDir,
	}
	if err := pileup.Pileup(ctx, positionalArgs[0], &opts); err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}
