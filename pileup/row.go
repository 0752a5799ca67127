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
	"encoding/binary"
)

// Row contains all pileup data associated with a single reference position.
//
// The main loop splits the target intervals into regions and generates
// lightly compressed (zstd level 1) per-worker Row recordio files.  Then,
// the per-worker files are read back in sequence and converted to the final
// TSV.  This is a bit inefficient, but we can easily afford it.
//
// Count values are of type uint32 instead of int to reduce cache footprint.
type Row struct {
	RefID uint32
	Pos   uint32
	// Depth is the number of retained aligned bases, always equal to the sum
	// over Counts.
	Depth uint32
	// Counts is indexed by the A/C/G/T/X base enum.
	Counts [NBaseEnum]uint32
	// Fail counts reads rejected by the read predicate at this position.
	Fail uint32
	// Ins counts retained reads with an insertion immediately after this
	// position.
	Ins uint32
	// Del counts reads whose alignment deletes this position.
	Del uint32
	// RefSkip counts reads whose alignment skips this position (CIGAR N).
	RefSkip uint32
	// Ref is the reference window centered on Pos: 2*flank+1 bases, with '.'
	// standing in for positions outside the contig, or for the whole window
	// when no FASTA was supplied.
	Ref string
}

// cutAndAdvance returns s[offset:offset+pieceLen], and increments offset by
// pieceLen.  The two-step reslice convinces the compiler's
// bounds-check-eliminator that the result has length pieceLen; the obvious
// s[offset:offset+k] form does not.
func cutAndAdvance(offset *int, s []byte, pieceLen int) []byte {
	tmpSlice := s[(*offset):]
	*offset += pieceLen
	return tmpSlice[:pieceLen]
}

// Serialized format:
//   [0..4): refID
//   [4..8): pos
//   [8..12): depth
//   [12..32): base counts (A, C, G, T, X)
//   [32..48): fail, ins, del, refSkip
//   [48..52): reference-window length
//   [52..): reference-window bytes
// This is essentially the simplest format that can support the
// variable-length reference window.  Varints and a nonzero-field mask would
// shrink the nominal size, but all uses of this marshal function are bundled
// with the "zstd 1" transformer anyway.
func marshalRow(scratch []byte, p interface{}) ([]byte, error) {
	row := p.(*Row)
	bytesReq := 52 + len(row.Ref)
	t := scratch
	if len(t) < bytesReq {
		t = make([]byte, bytesReq)
	}

	offset := 0
	tFixed := cutAndAdvance(&offset, t, 52)
	binary.LittleEndian.PutUint32(tFixed[0:4], row.RefID)
	binary.LittleEndian.PutUint32(tFixed[4:8], row.Pos)
	binary.LittleEndian.PutUint32(tFixed[8:12], row.Depth)
	binary.LittleEndian.PutUint32(tFixed[12:16], row.Counts[BaseA])
	binary.LittleEndian.PutUint32(tFixed[16:20], row.Counts[BaseC])
	binary.LittleEndian.PutUint32(tFixed[20:24], row.Counts[BaseG])
	binary.LittleEndian.PutUint32(tFixed[24:28], row.Counts[BaseT])
	binary.LittleEndian.PutUint32(tFixed[28:32], row.Counts[BaseX])
	binary.LittleEndian.PutUint32(tFixed[32:36], row.Fail)
	binary.LittleEndian.PutUint32(tFixed[36:40], row.Ins)
	binary.LittleEndian.PutUint32(tFixed[40:44], row.Del)
	binary.LittleEndian.PutUint32(tFixed[44:48], row.RefSkip)
	binary.LittleEndian.PutUint32(tFixed[48:52], uint32(len(row.Ref)))
	copy(cutAndAdvance(&offset, t, len(row.Ref)), row.Ref)
	return t[:bytesReq], nil
}

func unmarshalRow(in []byte) (out interface{}, err error) {
	offset := 0
	inFixed := cutAndAdvance(&offset, in, 52)
	row := &Row{
		RefID: binary.LittleEndian.Uint32(inFixed[0:4]),
		Pos:   binary.LittleEndian.Uint32(inFixed[4:8]),
		Depth: binary.LittleEndian.Uint32(inFixed[8:12]),
	}
	row.Counts[BaseA] = binary.LittleEndian.Uint32(inFixed[12:16])
	row.Counts[BaseC] = binary.LittleEndian.Uint32(inFixed[16:20])
	row.Counts[BaseG] = binary.LittleEndian.Uint32(inFixed[20:24])
	row.Counts[BaseT] = binary.LittleEndian.Uint32(inFixed[24:28])
	row.Counts[BaseX] = binary.LittleEndian.Uint32(inFixed[28:32])
	row.Fail = binary.LittleEndian.Uint32(inFixed[32:36])
	row.Ins = binary.LittleEndian.Uint32(inFixed[36:40])
	row.Del = binary.LittleEndian.Uint32(inFixed[40:44])
	row.RefSkip = binary.LittleEndian.Uint32(inFixed[44:48])
	refLen := int(binary.LittleEndian.Uint32(inFixed[48:52]))
	row.Ref = string(cutAndAdvance(&offset, in, refLen))
	return row, nil
}
