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

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/luapileup/encoding/fasta"
	"github.com/grailbio/luapileup/interval"
)

// Common pileup components.

// PosType is the integer type used to represent genomic positions.
type PosType = interval.PosType

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = interval.PosTypeMax

// Base-composition counts are indexed by the enum below.  A/C/G/T get the
// natural values for a packed 2-bit representation; BaseX is the catch-all
// for N, IUPAC ambiguity codes, and anything else.

const (
	// BaseA represents an A base.
	BaseA byte = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseX is a catch-all.
	BaseX
)

const (
	// NBase is the number of regular base types.
	NBase = 4
	// NBaseEnum counts BaseX as well as the regular base types.
	NBaseEnum = 5
)

// ASCIIToEnumTable is the ASCII -> A/C/G/T/X enum mapping.  Lowercase
// (soft-masked) bases count the same as uppercase.
var ASCIIToEnumTable = makeASCIIToEnumTable()

func makeASCIIToEnumTable() (tbl [256]byte) {
	for i := range tbl {
		tbl[i] = BaseX
	}
	for enum, pair := range []string{"Aa", "Cc", "Gg", "Tt"} {
		tbl[pair[0]] = byte(enum)
		tbl[pair[1]] = byte(enum)
	}
	return
}

// StrandType describes which strand of the original template a read was
// sequenced from.
type StrandType int

const (
	// StrandNone means the strand could not be determined (e.g. mate flags
	// inconsistent with a proper pair).
	StrandNone StrandType = 0
	// StrandFwd means the template matches the forward strand.
	StrandFwd StrandType = 1
	// StrandRev means the template matches the reverse strand.
	StrandRev StrandType = -1
)

// Flag patterns that pin down the template strand of a proper pair.  These
// are subset tests: extra bits like Duplicate don't interfere.
const (
	strandFwdR1 = sam.Paired | sam.ProperPair | sam.MateReverse | sam.Read1 // 99
	strandFwdR2 = sam.Paired | sam.ProperPair | sam.Reverse | sam.Read2    // 147
	strandRevR1 = sam.Paired | sam.ProperPair | sam.Reverse | sam.Read1    // 83
	strandRevR2 = sam.Paired | sam.ProperPair | sam.MateReverse | sam.Read2 // 163
)

// GetStrand returns the template strand implied by the given flags.  An
// unpaired read reports its own orientation; a paired read must match one of
// the four proper-pair patterns, and anything else is StrandNone.
func GetStrand(flags sam.Flags) StrandType {
	if flags&sam.Paired == 0 {
		if flags&sam.Reverse != 0 {
			return StrandRev
		}
		return StrandFwd
	}
	if (flags&strandFwdR1 == strandFwdR1) || (flags&strandFwdR2 == strandFwdR2) {
		return StrandFwd
	}
	if (flags&strandRevR1 == strandRevR1) || (flags&strandRevR2 == strandRevR2) {
		return StrandRev
	}
	return StrandNone
}

// LoadFa reads an entire FASTA file into memory, transparently decompressing
// if necessary.  The result is safe for concurrent use.
func LoadFa(ctx context.Context, fapath string) (fa fasta.Fasta, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, fapath); err != nil {
		return
	}
	defer func() {
		if e := infile.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, _ := compress.NewReader(infile.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if fa, err = fasta.New(reader); err != nil {
		return
	}
	return
}

// FaLens extracts fa's contig-length map.
func FaLens(fa fasta.Fasta) map[string]uint64 {
	lens := make(map[string]uint64)
	for _, name := range fa.SeqNames() {
		if l, e := fa.Len(name); e == nil {
			lens[name] = l
		}
	}
	return lens
}

// ValidateReference performs reference-length consistency checks between
// headerRefs and the contig lengths reported by a FASTA or its index.
// Contigs present on only one side produce warnings rather than errors;
// columns on a contig missing from the FASTA are reported with '.' in place
// of the reference window.
func ValidateReference(faLens map[string]uint64, headerRefs []*sam.Reference) error {
	nMissingFromFa := 0
	for _, curRef := range headerRefs {
		refName := curRef.Name()
		refLen, present := faLens[refName]
		if !present {
			nMissingFromFa++
			continue
		}
		if refLen != uint64(curRef.Len()) {
			return fmt.Errorf("pileup.ValidateReference: inconsistent lengths for contig %s (%d in BAM header, %d in .fa)", refName, curRef.Len(), refLen)
		}
	}
	if nMissingFromFa != 0 {
		log.Printf("pileup.ValidateReference: warning: %d contig(s) present in BAM header but missing from .fa", nMissingFromFa)
	}
	nMissingFromBam := len(faLens) + nMissingFromFa - len(headerRefs)
	if nMissingFromBam != 0 {
		log.Printf("pileup.ValidateReference: warning: %d contig(s) present in .fa but missing from BAM header", nMissingFromBam)
	}
	return nil
}
