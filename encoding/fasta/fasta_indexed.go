package fasta

import (
	"fmt"
	"io"
	"sync"
)

// indexedChunkBytes is the smallest read issued against the underlying file.
// Queries tend to walk forward through a contig, so reading ahead this much
// amortizes seeks without holding whole sequences in memory.
const indexedChunkBytes = 8 << 10

// indexedFasta serves Get calls by seeking into the FASTA file as directed by
// a .fai index, keeping one contiguous chunk of the file cached.
type indexedFasta struct {
	entries map[string]faiEntry
	names   []string
	r       io.ReadSeeker

	mu       sync.Mutex
	chunkOff int64
	chunk    []byte // file bytes starting at chunkOff
	scratch  []byte // reused to assemble multi-line results
}

// NewIndexed returns a Fasta backed by FASTA data in "fasta" and its samtools
// index in "index".  Sequence data is read on demand, so the FASTA may be far
// larger than memory.
func NewIndexed(fasta io.ReadSeeker, index io.Reader) (Fasta, error) {
	entries, err := parseFai(index)
	if err != nil {
		return nil, err
	}
	f := &indexedFasta{entries: make(map[string]faiEntry, len(entries)), r: fasta}
	for _, ent := range entries {
		if _, found := f.entries[ent.name]; found {
			return nil, fmt.Errorf("fasta: duplicate sequence %s in index", ent.name)
		}
		f.entries[ent.name] = ent
		f.names = append(f.names, ent.name)
	}
	return f, nil
}

// Len implements Fasta.Len().
func (f *indexedFasta) Len(seqName string) (uint64, error) {
	ent, found := f.entries[seqName]
	if !found {
		return 0, fmt.Errorf("fasta: sequence not found in index: %s", seqName)
	}
	return ent.length, nil
}

// SeqNames implements Fasta.SeqNames().
func (f *indexedFasta) SeqNames() []string {
	return f.names
}

// Get implements Fasta.Get().
func (f *indexedFasta) Get(seqName string, start, end uint64) (string, error) {
	ent, found := f.entries[seqName]
	if !found {
		return "", fmt.Errorf("fasta: sequence not found in index: %s", seqName)
	}
	if start >= end {
		return "", fmt.Errorf("fasta: empty or inverted range [%d, %d)", start, end)
	}
	if end > ent.length {
		return "", fmt.Errorf("fasta: range [%d, %d) outside sequence %s of length %d",
			start, end, seqName, ent.length)
	}

	// Sequence bytes sit in fixed-width lines, so base coordinates translate
	// to file offsets by pure arithmetic.  The read spans the bytes of bases
	// [start, end) plus the line terminators between them; the terminator
	// after the last base is never included, so a final line shorter than the
	// rest cannot cause a read past its end.
	sepBytes := ent.bytesPerLine - ent.basesPerLine
	startLine := start / ent.basesPerLine
	endLine := (end - 1) / ent.basesPerLine
	fileOff := int64(ent.offset + start + startLine*sepBytes)
	readLen := (end - start) + (endLine-startLine)*sepBytes

	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := f.readChunk(fileOff, readLen)
	if err != nil {
		return "", err
	}

	// Copy out line by line, dropping the terminators.
	out := f.scratch[:0]
	lineLeft := ent.basesPerLine - start%ent.basesPerLine
	for {
		n := lineLeft
		if uint64(len(raw)) < n {
			n = uint64(len(raw))
		}
		out = append(out, raw[:n]...)
		if uint64(len(raw)) <= n+sepBytes {
			break
		}
		raw = raw[n+sepBytes:]
		lineLeft = ent.basesPerLine
	}
	f.scratch = out
	return string(out), nil
}

// readChunk returns the file bytes [off, off+n).  The chunk kept from the
// previous call usually covers the request already.
func (f *indexedFasta) readChunk(off int64, n uint64) ([]byte, error) {
	want := int64(n)
	if off < f.chunkOff || off+want > f.chunkOff+int64(len(f.chunk)) {
		if _, err := f.r.Seek(off, io.SeekStart); err != nil {
			return nil, fmt.Errorf("fasta: seek to offset %d: %v", off, err)
		}
		size := want
		if size < indexedChunkBytes {
			size = indexedChunkBytes
		}
		if int64(cap(f.chunk)) < size {
			f.chunk = make([]byte, size)
		}
		m, err := io.ReadFull(f.r, f.chunk[:size])
		if int64(m) < want {
			return nil, fmt.Errorf("fasta: short read at offset %d, got %d of %d bytes (truncated FASTA or stale index?)",
				off, m, n)
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		f.chunkOff = off
		f.chunk = f.chunk[:m]
	}
	lo := off - f.chunkOff
	return f.chunk[lo : lo+want], nil
}
