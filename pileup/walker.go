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
	"strings"

	"github.com/grailbio/base/recordio"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/luapileup/encoding/bamprovider"
	"github.com/grailbio/luapileup/encoding/fasta"
	"github.com/grailbio/luapileup/luafilter"
)

// regionWalker sweeps one worker's regions position by position.  It owns
// the worker's read-predicate evaluator, FASTA handle, and recordio shard;
// none of its state is shared across workers.
type regionWalker struct {
	provider bamprovider.Provider
	refs     []*sam.Reference
	ev       *luafilter.Evaluator
	faCache  *fasta.SeqCache
	faLens   map[string]uint64
	opts     *Opts
	w        recordio.Writer

	// active holds the reads overlapping the current column, in arrival
	// order.
	active []*activeRead
	col    columnState
	// dots is the reference window reported when no usable FASTA contig
	// backs the current region.
	dots string
}

func newRegionWalker(provider bamprovider.Provider, refs []*sam.Reference, ev *luafilter.Evaluator, fa fasta.Fasta, faLens map[string]uint64, opts *Opts, w recordio.Writer) *regionWalker {
	rw := &regionWalker{
		provider: provider,
		refs:     refs,
		ev:       ev,
		faLens:   faLens,
		opts:     opts,
		w:        w,
		dots:     strings.Repeat(".", 2*opts.Flank+1),
	}
	if fa != nil {
		rw.faCache = fasta.NewSeqCache(fa)
	}
	return rw
}

// processRegion sweeps [region.Start, region.Limit).  Reads are admitted to
// the active window in BAM order when the sweep reaches their start, and
// dropped as soon as the sweep passes their end; when the window empties,
// the sweep jumps straight to the next read start instead of visiting the
// gap's columns one by one.
func (rw *regionWalker) processRegion(region Region) (err error) {
	iter := rw.provider.NewIterator(rw.refs[region.RefID], int(region.Start), int(region.Limit))
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	_, refKnown := rw.faLens[region.RefName]
	refKnown = refKnown && (rw.faCache != nil)

	rw.active = rw.active[:0]
	var pending *sam.Record
	fetch := func() {
		pending = nil
		for iter.Scan() {
			rec := iter.Record()
			if (rec.Flags&sam.Unmapped != 0) || (rec.Ref == nil) || (len(rec.Cigar) == 0) {
				sam.PutInFreePool(rec)
				continue
			}
			pending = rec
			return
		}
	}
	fetch()
	for pos := region.Start; pos < region.Limit; {
		for (pending != nil) && (PosType(pending.Pos) <= pos) {
			rw.active = append(rw.active, newActiveRead(pending))
			fetch()
		}
		if len(rw.active) == 0 {
			if pending == nil {
				break
			}
			// The iterator stops before region.Limit, so this jump stays
			// in-bounds.
			pos = PosType(pending.Pos)
			continue
		}
		if err = rw.emitColumn(region, pos, refKnown); err != nil {
			return
		}
		pos++
		kept := rw.active[:0]
		for _, ar := range rw.active {
			if ar.end > pos {
				kept = append(kept, ar)
			} else {
				sam.PutInFreePool(ar.rec)
			}
		}
		rw.active = kept
	}
	for _, ar := range rw.active {
		sam.PutInFreePool(ar.rec)
	}
	rw.active = rw.active[:0]
	if pending != nil {
		sam.PutInFreePool(pending)
	}
	return iter.Err()
}

// emitColumn assembles and appends the row for a single position.  Rows with
// zero retained depth are not appended; deletion/ref-skip/fail tallies alone
// never produce output.
func (rw *regionWalker) emitColumn(region Region, pos PosType, refKnown bool) error {
	cs := &rw.col
	cs.reset()
	nObs := 0
	for _, ar := range rw.active {
		kind, qpos, insAfter, ok := ar.observe(pos)
		if !ok {
			continue
		}
		if nObs >= rw.opts.MaxDepth {
			// Soft depth cap: later-arriving observations at this column are
			// dropped.  Skipped cursors catch up lazily at later columns.
			break
		}
		nObs++
		ar.projectSite(kind, qpos)
		pass, err := rw.ev.EvalRead(&ar.view)
		if err != nil {
			return err
		}
		if !pass {
			// A rejected read counts as fail no matter what it would have
			// contributed.
			cs.fail++
			continue
		}
		switch kind {
		case obsDeletion:
			cs.del++
		case obsRefSkip:
			cs.refSkip++
		default:
			cs.addBase(ar, ar.baseEnumAt(qpos), insAfter)
		}
	}
	if rw.opts.MateFix {
		cs.resolveOverlaps()
	}
	var row Row
	cs.fold(&row)
	if row.Depth == 0 {
		return nil
	}
	row.RefID = uint32(region.RefID)
	row.Pos = uint32(pos)
	if refKnown {
		win, err := rw.faCache.PaddedWindow(region.RefName, int(pos), rw.opts.Flank)
		if err != nil {
			return err
		}
		row.Ref = win
	} else {
		row.Ref = rw.dots
	}
	rw.w.Append(&row)
	return nil
}
