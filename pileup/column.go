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
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/hts/sam"
	"github.com/spaolacci/murmur3"
)

// When the two ends of a read-pair overlap, the same template base is
// sequenced twice, and counting both copies overstates the evidence.  With
// mate-fixing enabled we resolve each column's observations by read name and
// keep a single observation per fragment.  Only aligned bases participate:
// deletions, reference skips, and filtered reads are tallied before the read
// name is ever looked at.

// baseObs is a read's aligned-base observation at the column being
// assembled.
type baseObs struct {
	ar         *activeRead
	baseEnum   byte
	insAfter   bool
	suppressed bool
}

// Size of the overlap-resolution hash table.  Currently must be a power of 2.
const overlapHtableSize = 1024

// overlapHashName maps a read name to an overlap-table bucket index.
func overlapHashName(name string) uint32 {
	// Don't need this to be cryptographically secure.
	return murmur3.Sum32(gunsafe.StringToBytes(name)) % overlapHtableSize
}

// columnState accumulates one column's observations.  A worker owns exactly
// one and recycles it across positions; the hash-table buckets are only
// cleared along the dirty list, so sparse columns don't pay for the full
// table.
type columnState struct {
	obs     []baseObs
	fail    uint32
	del     uint32
	refSkip uint32

	buckets [overlapHtableSize][]int32
	dirty   []uint32
}

func (cs *columnState) reset() {
	cs.obs = cs.obs[:0]
	cs.fail = 0
	cs.del = 0
	cs.refSkip = 0
}

func (cs *columnState) addBase(ar *activeRead, baseEnum byte, insAfter bool) {
	cs.obs = append(cs.obs, baseObs{ar: ar, baseEnum: baseEnum, insAfter: insAfter})
}

// betterObs reports whether the earlier observation a should be retained
// over the later observation b when both ends of a fragment cover the same
// column: higher mapping quality wins, then the earlier alignment start,
// then the first-of-pair read, then a itself.
func betterObs(a, b *baseObs) bool {
	recA, recB := a.ar.rec, b.ar.rec
	if recA.MapQ != recB.MapQ {
		return recA.MapQ > recB.MapQ
	}
	if recA.Pos != recB.Pos {
		return recA.Pos < recB.Pos
	}
	if read1A := recA.Flags&sam.Read1 != 0; read1A != (recB.Flags&sam.Read1 != 0) {
		return read1A
	}
	return true
}

// resolveOverlaps marks all but one observation of each fragment as
// suppressed.  Bucket entries always point at the currently retained
// observation of their fragment, so a third (e.g. supplementary) alignment
// with the same name fights the winner of the first two.
func (cs *columnState) resolveOverlaps() {
	for i := range cs.obs {
		name := cs.obs[i].ar.rec.Name
		hashrem := overlapHashName(name)
		bucket := &cs.buckets[hashrem]
		matchIdx := -1
		for _, prevIdx := range *bucket {
			if cs.obs[prevIdx].ar.rec.Name == name {
				matchIdx = int(prevIdx)
				break
			}
		}
		if matchIdx < 0 {
			if len(*bucket) == 0 {
				cs.dirty = append(cs.dirty, hashrem)
			}
			*bucket = append(*bucket, int32(i))
			continue
		}
		if betterObs(&cs.obs[matchIdx], &cs.obs[i]) {
			cs.obs[i].suppressed = true
			continue
		}
		cs.obs[matchIdx].suppressed = true
		for k, prevIdx := range *bucket {
			if int(prevIdx) == matchIdx {
				(*bucket)[k] = int32(i)
				break
			}
		}
	}
	for _, hashrem := range cs.dirty {
		cs.buckets[hashrem] = cs.buckets[hashrem][:0]
	}
	cs.dirty = cs.dirty[:0]
}

// fold tallies the column's unsuppressed observations into row.  The
// caller fills the coordinate and reference-window fields.
func (cs *columnState) fold(row *Row) {
	row.Depth = 0
	row.Counts = [NBaseEnum]uint32{}
	row.Ins = 0
	for i := range cs.obs {
		if cs.obs[i].suppressed {
			continue
		}
		row.Counts[cs.obs[i].baseEnum]++
		row.Depth++
		if cs.obs[i].insAfter {
			row.Ins++
		}
	}
	row.Fail = cs.fail
	row.Del = cs.del
	row.RefSkip = cs.refSkip
}
