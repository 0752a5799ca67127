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
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/luapileup/interval"
)

// regionChunkBp is the maximum width of a single work unit.  Narrow chunks
// keep the deferred-TSV-conversion memory footprint down and let
// parallelism > (number of BED intervals) pay off on e.g. whole-chromosome
// queries.
const regionChunkBp = 1000000

// Region is a half-open slice [Start, Limit) of a single contig.  It is the
// unit of work handed to a pileup worker; the full region list tiles the
// interval-union being piled, in (contig, position) order.
type Region struct {
	RefID   int
	RefName string
	Start   PosType
	Limit   PosType
}

// makeRegions decomposes an interval-union into Regions of width at most
// chunkBp, in reference order.  Interval ends are clamped to the contig
// lengths in refs: a command-line region like "chr1" is parsed as
// [0, PosTypeMax-1) and would otherwise generate millions of empty chunks.
func makeRegions(u *interval.BEDUnion, refs []*sam.Reference, chunkBp PosType) []Region {
	var regions []Region
	var start, end PosType
	for refID, ref := range refs {
		endpoints := u.EndpointsByID(refID)
		if endpoints == nil {
			continue
		}
		us := interval.NewUnionScanner(endpoints)
		for us.Scan(&start, &end, PosType(ref.Len())) {
			for chunkStart := start; chunkStart < end; chunkStart += chunkBp {
				chunkEnd := end
				if end-chunkStart > chunkBp {
					chunkEnd = chunkStart + chunkBp
				}
				regions = append(regions, Region{
					RefID:   refID,
					RefName: ref.Name(),
					Start:   chunkStart,
					Limit:   chunkEnd,
				})
			}
		}
	}
	return regions
}
