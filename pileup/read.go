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
	"github.com/grailbio/luapileup/luafilter"
)

// obsKind classifies what a read contributes at a single reference position.
type obsKind uint8

const (
	// obsBase: an aligned base (CIGAR M/=/X).
	obsBase obsKind = iota
	// obsDeletion: the position falls inside a deletion (CIGAR D).
	obsDeletion
	// obsRefSkip: the position falls inside a reference skip (CIGAR N).
	obsRefSkip
)

// activeRead is one read in the walker's active window.  The
// position-independent ReadView fields are filled once, when the read is
// activated; the CIGAR cursor then advances monotonically as the walker
// sweeps positions, so a full pass over a read is O(len(seq) + len(cigar))
// regardless of depth.
type activeRead struct {
	rec  *sam.Record
	view luafilter.ReadView
	end  PosType

	// Cursor state.  opIdx indexes rec.Cigar; opRefPos is the reference
	// coordinate where that op begins; opQpos is the read offset where it
	// begins.
	opIdx    int
	opRefPos PosType
	opQpos   int
}

// newActiveRead decodes rec's sequence and fills the position-independent
// predicate fields.  rec must be mapped with a nonempty CIGAR.
func newActiveRead(rec *sam.Record) *activeRead {
	seq := rec.Seq.Expand()
	ar := &activeRead{
		rec:      rec,
		end:      PosType(rec.End()),
		opRefPos: PosType(rec.Pos),
	}
	ar.view = luafilter.ReadView{
		Rec:        rec,
		Seq:        seq,
		MapQ:       int(rec.MapQ),
		Flags:      int(rec.Flags),
		RefID:      rec.Ref.ID(),
		Start:      rec.Pos,
		Stop:       rec.End(),
		InsertSize: rec.TempLen,
		Strand:     int(GetStrand(rec.Flags)),
	}
	nIndel := 0
	for _, op := range rec.Cigar {
		switch op.Type() {
		case sam.CigarInsertion, sam.CigarDeletion:
			nIndel++
		}
	}
	ar.view.IndelCount = nIndel
	ar.view.SoftClips5, ar.view.SoftClips3 = softClipLens(rec)
	if len(rec.Qual) != 0 {
		qualSum := 0
		for _, q := range rec.Qual {
			qualSum += int(q)
		}
		ar.view.AvgBQ = float64(qualSum) / float64(len(rec.Qual))
	}
	return ar
}

// softClipLens returns the soft-clip lengths at the 5' and 3' ends of the
// original template.  Clips are read off the CIGAR ends (allowing for hard
// clips outside them); for a reverse-strand read the stored sequence is
// reverse-complemented, so the two sides swap.
func softClipLens(rec *sam.Record) (clip5, clip3 int) {
	cigar := rec.Cigar
	i := 0
	for i < len(cigar) && cigar[i].Type() == sam.CigarHardClipped {
		i++
	}
	j := len(cigar) - 1
	for j > i && cigar[j].Type() == sam.CigarHardClipped {
		j--
	}
	leading, trailing := 0, 0
	if i < len(cigar) && cigar[i].Type() == sam.CigarSoftClipped {
		leading = cigar[i].Len()
	}
	if j > i && cigar[j].Type() == sam.CigarSoftClipped {
		trailing = cigar[j].Len()
	}
	if rec.Flags&sam.Reverse != 0 {
		return trailing, leading
	}
	return leading, trailing
}

// observe advances the cursor to pos and reports the read's contribution
// there.  pos must be nondecreasing across calls for a given read.  ok is
// false when the read has nothing at pos (past its end, or inside a CIGAR
// op that consumes no reference).  For obsBase, qpos is the offset of the
// aligned base in the stored sequence, and insAfter reports whether an
// insertion immediately follows it.
func (ar *activeRead) observe(pos PosType) (kind obsKind, qpos int, insAfter bool, ok bool) {
	cigar := ar.rec.Cigar
	for ar.opIdx < len(cigar) {
		op := cigar[ar.opIdx]
		opLen := PosType(op.Len())
		switch op.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if pos < ar.opRefPos {
				return 0, -1, false, false
			}
			if pos < ar.opRefPos+opLen {
				qpos = ar.opQpos + int(pos-ar.opRefPos)
				insAfter = (pos == ar.opRefPos+opLen-1) &&
					(ar.opIdx+1 < len(cigar)) &&
					(cigar[ar.opIdx+1].Type() == sam.CigarInsertion)
				return obsBase, qpos, insAfter, true
			}
			ar.opQpos += op.Len()
			ar.opRefPos += opLen
			ar.opIdx++
		case sam.CigarDeletion:
			if pos < ar.opRefPos {
				return 0, -1, false, false
			}
			if pos < ar.opRefPos+opLen {
				return obsDeletion, -1, false, true
			}
			ar.opRefPos += opLen
			ar.opIdx++
		case sam.CigarSkipped:
			if pos < ar.opRefPos {
				return 0, -1, false, false
			}
			if pos < ar.opRefPos+opLen {
				return obsRefSkip, -1, false, true
			}
			ar.opRefPos += opLen
			ar.opIdx++
		case sam.CigarInsertion, sam.CigarSoftClipped:
			ar.opQpos += op.Len()
			ar.opIdx++
		default:
			// Hard clips and padding consume neither reference nor sequence.
			ar.opIdx++
		}
	}
	return 0, -1, false, false
}

// projectSite fills the site-specific ReadView fields for the current
// position.  Non-base observations get -1 everywhere, including the
// base-quality and end-distance fields.
func (ar *activeRead) projectSite(kind obsKind, qpos int) {
	view := &ar.view
	if kind != obsBase {
		view.Qpos, view.BQ, view.Dist5, view.Dist3 = -1, -1, -1, -1
		return
	}
	view.Qpos = qpos
	if qpos < len(ar.rec.Qual) {
		view.BQ = int(ar.rec.Qual[qpos])
	} else {
		view.BQ = -1
	}
	d5 := qpos
	if ar.rec.Flags&sam.Reverse != 0 {
		d5 = len(view.Seq) - 1 - qpos
	}
	view.Dist5 = d5
	view.Dist3 = len(view.Seq) - 1 - d5
}

// baseEnumAt returns the A/C/G/T/X enum of the base at qpos.  Records with
// a '*' SEQ field expand to an empty sequence; their aligned "bases" count
// as BaseX.
func (ar *activeRead) baseEnumAt(qpos int) byte {
	if qpos >= len(ar.view.Seq) {
		return BaseX
	}
	return ASCIIToEnumTable[ar.view.Seq[qpos]]
}
