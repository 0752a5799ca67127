// Package fasta reads FASTA-formatted sequence data, either by loading whole
// files into memory or on demand through a samtools .fai index.  A FASTA file
// holds named sequences, each a '>' header line followed by the sequence
// broken over any number of lines:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// The sequence name runs from the '>' to the first space; anything after the
// space is a free-form description and is dropped, so ">chr1 assembled" names
// the sequence "chr1".
package fasta

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Fasta is a set of named sequences.
type Fasta interface {
	// Get returns the bases of the named sequence in the 0-based half-open
	// range [start, end). Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the named sequence in bases.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance
	// in the FASTA file.
	SeqNames() []string
}

// memFasta holds every sequence in memory as one contiguous string.
type memFasta struct {
	names []string
	seqs  map[string]string
}

// New reads all FASTA data from r into memory.
func New(r io.Reader) (Fasta, error) {
	f := &memFasta{seqs: map[string]string{}}
	var (
		br   = bufio.NewReaderSize(r, 1<<20)
		name string
		seq  strings.Builder
	)
	commit := func() error {
		if name == "" {
			return errors.New("fasta: sequence data precedes the first '>' header")
		}
		f.names = append(f.names, name)
		f.seqs[name] = seq.String()
		seq.Reset()
		return nil
	}
	for {
		fullLine, readErr := br.ReadBytes('\n')
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) > 0 {
			if line[0] == '>' {
				if seq.Len() > 0 {
					if err := commit(); err != nil {
						return nil, err
					}
				}
				name = headerToSeqName(line)
			} else {
				seq.Write(line)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, errors.Wrap(readErr, "fasta: reading input")
		}
	}
	if err := commit(); err != nil {
		return nil, err
	}
	return f, nil
}

// headerToSeqName extracts the sequence name from a '>' header line.
func headerToSeqName(line []byte) string {
	name := string(line[1:])
	if i := strings.IndexByte(name, ' '); i >= 0 {
		name = name[:i]
	}
	return name
}

// Get implements Fasta.Get().
func (f *memFasta) Get(seqName string, start, end uint64) (string, error) {
	seq, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("fasta: sequence not found: %s", seqName)
	}
	if start >= end {
		return "", errors.Errorf("fasta: empty or inverted range [%d, %d)", start, end)
	}
	if end > uint64(len(seq)) {
		return "", errors.Errorf("fasta: range [%d, %d) outside sequence %s of length %d",
			start, end, seqName, len(seq))
	}
	return seq[start:end], nil
}

// Len implements Fasta.Len().
func (f *memFasta) Len(seqName string) (uint64, error) {
	seq, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("fasta: sequence not found: %s", seqName)
	}
	return uint64(len(seq)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *memFasta) SeqNames() []string {
	return f.names
}
