package fasta

import (
	"fmt"
	"strings"
)

// defaultSegmentSize is the granularity of read-through fetches.  Queries are
// expected to advance in roughly ascending position order, so fetching this
// many bases at a time keeps the number of round trips to the underlying
// Fasta low without holding whole contigs in memory.
const defaultSegmentSize = 1000

// SeqCache wraps a Fasta with a single-segment read-through cache tuned for
// many small queries in ascending position order, as produced by a pileup
// scan.  It is not safe for concurrent use; create one per goroutine.
type SeqCache struct {
	fa       Fasta
	segSize  uint64
	seqName  string
	seqLen   uint64
	segStart uint64
	segment  string
}

// NewSeqCache returns a SeqCache in front of fa.
func NewSeqCache(fa Fasta) *SeqCache {
	return &SeqCache{fa: fa, segSize: defaultSegmentSize}
}

// fetch returns the subsequence [start, end) of the named sequence, with end
// clamped to the sequence length.  The returned string is shorter than
// end-start when the requested range sticks out past the sequence end, and
// empty when it lies entirely outside.
func (c *SeqCache) fetch(seqName string, start, end uint64) (string, error) {
	if seqName != c.seqName {
		seqLen, err := c.fa.Len(seqName)
		if err != nil {
			return "", err
		}
		c.seqName = seqName
		c.seqLen = seqLen
		c.segStart = 0
		c.segment = ""
	}
	if end > c.seqLen {
		end = c.seqLen
	}
	if start >= end {
		return "", nil
	}
	if (start < c.segStart) || (end > c.segStart+uint64(len(c.segment))) {
		fetchEnd := start + c.segSize
		if fetchEnd < end {
			fetchEnd = end
		}
		if fetchEnd > c.seqLen {
			fetchEnd = c.seqLen
		}
		segment, err := c.fa.Get(c.seqName, start, fetchEnd)
		if err != nil {
			return "", err
		}
		c.segStart = start
		c.segment = segment
	}
	return c.segment[start-c.segStart : end-c.segStart], nil
}

// Base returns the reference base at the given 0-based position.
func (c *SeqCache) Base(seqName string, pos int) (byte, error) {
	s, err := c.fetch(seqName, uint64(pos), uint64(pos)+1)
	if err != nil {
		return 0, err
	}
	if len(s) == 0 {
		return 0, fmt.Errorf("fasta.SeqCache: position %d past end of sequence %s", pos, seqName)
	}
	return s[0], nil
}

// PaddedWindow returns the reference bases on [pos-flank, pos+flank], padding
// positions outside the sequence with '.' so that the result always has
// length 2*flank+1.
func (c *SeqCache) PaddedWindow(seqName string, pos, flank int) (string, error) {
	start := pos - flank
	leftPad := 0
	if start < 0 {
		leftPad = -start
		start = 0
	}
	s, err := c.fetch(seqName, uint64(start), uint64(pos+flank)+1)
	if err != nil {
		return "", err
	}
	width := 2*flank + 1
	if (leftPad == 0) && (len(s) == width) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(width)
	for i := 0; i < leftPad; i++ {
		b.WriteByte('.')
	}
	b.WriteString(s)
	for b.Len() < width {
		b.WriteByte('.')
	}
	return b.String(), nil
}
