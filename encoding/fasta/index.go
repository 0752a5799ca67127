package fasta

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// faiEntry is one line of a samtools .fai index
// (http://www.htslib.org/doc/faidx.html): the sequence name, its length in
// bases, the byte offset of its first base, the bases per full sequence line,
// and the bytes per full line including the line terminator.
type faiEntry struct {
	name         string
	length       uint64
	offset       uint64
	basesPerLine uint64
	bytesPerLine uint64
}

// parseFai reads a .fai index, in file order.
func parseFai(in io.Reader) ([]faiEntry, error) {
	var entries []faiEntry
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 5 || cols[0] == "" {
			return nil, errors.E("fasta: invalid index line", line)
		}
		ent := faiEntry{name: cols[0]}
		for i, dst := range []*uint64{&ent.length, &ent.offset, &ent.basesPerLine, &ent.bytesPerLine} {
			v, err := strconv.ParseUint(cols[i+1], 10, 64)
			if err != nil {
				return nil, errors.E(err, "fasta: invalid index line", line)
			}
			*dst = v
		}
		entries = append(entries, ent)
	}
	return entries, scanner.Err()
}

// FaiToReferenceLengths returns the sequence name -> length mapping recorded
// in a samtools .fai index, without touching the FASTA data itself.
func FaiToReferenceLengths(index io.Reader) (map[string]uint64, error) {
	entries, err := parseFai(index)
	if err != nil {
		return nil, err
	}
	lengths := make(map[string]uint64, len(entries))
	for _, ent := range entries {
		lengths[ent.name] = ent.length
	}
	return lengths, nil
}

// GenerateIndex writes a .fai index for the FASTA data in "in" to "out".  The
// result can be passed to NewIndexed to random-access the same FASTA without
// holding sequences in memory.
//
// Line geometry is taken from the first line of each sequence, per "samtools
// faidx". Indexing does not verify that the remaining lines share it.
func GenerateIndex(out io.Writer, in io.Reader) error {
	var (
		w   = tsv.NewWriter(out)
		r   = bufio.NewReader(in)
		off int64

		name            string
		bases, firstOff int64
		lineBases       int
		lineBytes       int
		nLines          int
	)
	writeEntry := func() error {
		w.WriteString(name)
		w.WriteInt64(bases)
		w.WriteInt64(firstOff)
		w.WriteInt64(int64(lineBases))
		w.WriteInt64(int64(lineBytes))
		return w.EndLine()
	}
	for {
		fullLine, readErr := r.ReadBytes('\n')
		off += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) > 0 {
			if line[0] == '>' {
				if nLines > 0 {
					if name == "" {
						return errors.E("fasta: malformed FASTA file, sequence data precedes the first header")
					}
					if err := writeEntry(); err != nil {
						return err
					}
				}
				name = headerToSeqName(line)
				bases, lineBases, lineBytes, nLines = 0, 0, 0, 0
				firstOff = off
			} else {
				if nLines == 0 {
					lineBases = len(line)
					lineBytes = len(fullLine)
				}
				bases += int64(len(line))
				nLines++
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.E(readErr, "fasta: reading input")
		}
	}
	if name == "" {
		if off == 0 {
			return errors.E("fasta: empty FASTA file")
		}
		return errors.E("fasta: malformed FASTA file, no sequence header")
	}
	if err := writeEntry(); err != nil {
		return err
	}
	return w.Flush()
}
