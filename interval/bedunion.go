package interval

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/luapileup/util"
	"github.com/klauspost/compress/gzip"
)

// PosType is BEDUnion's coordinate type.
type PosType int32

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = math.MaxInt32

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
//
// These simple loops beat the standard library string-split functions when
// only the first few columns are wanted.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// NewBEDOpts defines behavior of this package's BED-loading function(s).
type NewBEDOpts struct {
	// SAMHeader enables ID-based lookup, and causes any contig absent from the
	// header to be reported as an error instead of silently ignored.
	SAMHeader *sam.Header
}

// searchPosType returns the index of x in a[], or the position where x would
// be inserted if x isn't in a (this could be len(a)).  It's exactly the same
// as sort.SearchInts(), except for PosType.
func searchPosType(a []PosType, x PosType) int {
	return sort.Search(len(a), func(i int) bool { return a[i] >= x })
}

// fwdsearchPosType checks a[idx], then a[idx + 1], then a[idx + 3], then
// a[idx + 7], etc., and then uses binary search to finish the job.  It's
// usually a better choice than searchPosType when iterating.
func fwdsearchPosType(a []PosType, x PosType, idx int) int {
	nextIncr := 1
	startIdx := idx
	endIdx := len(a)
	for idx < endIdx {
		if a[idx] >= x {
			endIdx = idx
			break
		}
		startIdx = idx + 1
		idx += nextIncr
		nextIncr *= 2
	}
	// Inlined sort.Search.  startIdx is usually equal to endIdx here, and the
	// compiler doesn't inline anything with a loop for now.
	for startIdx < endIdx {
		midIdx := int(uint(startIdx+endIdx) >> 1)
		if a[midIdx] >= x {
			endIdx = midIdx
		} else {
			startIdx = midIdx + 1
		}
	}
	return startIdx
}

// BEDUnion is currently implemented as a collection of length-2N sequences,
// where N is the number of intervals, the (0-based) start position of
// interval #k (numbering from zero) is in element [2k] and the end position
// is in element [2k+1], and the intervals are stored in increasing order.
// Advantages of this representation over a length-N sequence of {start, end}
// structs include simpler set-subtraction code, and reuse of standard []int32
// binary and similar search algorithms (which the compiler is more likely to
// optimize well).
type BEDUnion struct {
	// nameMap is a contig-name-keyed map with disjoint-interval-set values.
	// Always initialized.
	nameMap map[string]([]PosType)
	// idMap is an optional slice of disjoint-interval-sets, indexed by
	// sam.Header reference ID.  It is only initialized if a loader was called
	// with NewBEDOpts.SAMHeader set.
	idMap [][]PosType
	// lastRefIntervals points to the disjoint-interval-set for the most
	// recently queried contig.  This is a minor performance optimization.
	lastRefIntervals []PosType
	// lastRefID is the ID of the last queried contig.  If it's nonnegative, it
	// must be in sync with lastRefIntervals.
	lastRefID int
	// lastPosPlus1 is 1 plus the last spot-queried position.
	lastPosPlus1 PosType
	// lastIdx is searchPosType(lastRefIntervals, lastPosPlus1).  Cached to
	// accelerate sequential queries.
	lastIdx int
	// isSequential is true if all queries since the last contig change have
	// been in order of nondecreasing position.
	isSequential bool
}

// ContainsByID checks whether the (0-based) interval [pos, pos+1) is
// contained within the BEDUnion, where the contig is specified by sam.Header
// reference ID.  It can only be called if the union was constructed with
// NewBEDOpts.SAMHeader set.
func (u *BEDUnion) ContainsByID(refID int, pos PosType) bool {
	posPlus1 := pos + 1
	if refID != u.lastRefID {
		u.lastRefID = refID
		u.lastRefIntervals = u.idMap[refID]
		if u.lastRefIntervals == nil {
			return false
		}
		u.lastIdx = searchPosType(u.lastRefIntervals, posPlus1)
		u.lastPosPlus1 = posPlus1
		u.isSequential = true
		return u.lastIdx&1 == 1
	}
	if u.lastRefIntervals == nil {
		return false
	}
	if u.isSequential {
		if posPlus1 >= u.lastPosPlus1 {
			u.lastIdx = fwdsearchPosType(u.lastRefIntervals, posPlus1, u.lastIdx)
			u.lastPosPlus1 = posPlus1
			return u.lastIdx&1 == 1
		}
		u.isSequential = false
	}
	return searchPosType(u.lastRefIntervals, posPlus1)&1 == 1
}

// EndpointsByID returns the sorted interval-endpoint slice for the given
// sam.Header reference ID, or nil if no position on the contig is in the
// union.  The returned slice must not be mutated.
func (u *BEDUnion) EndpointsByID(refID int) []PosType {
	if (refID < 0) || (refID >= len(u.idMap)) {
		return nil
	}
	return u.idMap[refID]
}

func initBEDUnion() (bedUnion BEDUnion) {
	bedUnion.nameMap = make(map[string]([]PosType))
	bedUnion.lastRefID = -1
	return
}

// nameToIDData derives idMap from nameMap, verifying that every contig in the
// union is present in the given header.
func (u *BEDUnion) nameToIDData(header *sam.Header) error {
	samRefs := header.Refs()
	u.idMap = make([][]PosType, len(samRefs))
	refNames := make([]string, len(samRefs))
	knownNames := make(map[string]bool, len(samRefs))
	for refID, ref := range samRefs {
		// Validate ID property.
		if refID != ref.ID() {
			panic("internal error: sam.Header ref.ID != array position")
		}
		refName := ref.Name()
		refNames[refID] = refName
		knownNames[refName] = true
		if refIntervals := u.nameMap[refName]; refIntervals != nil {
			u.idMap[refID] = refIntervals
		}
	}
	var unknownNames []string
	for chrName := range u.nameMap {
		if !knownNames[chrName] {
			unknownNames = append(unknownNames, chrName)
		}
	}
	if len(unknownNames) != 0 {
		sort.Strings(unknownNames)
		if suggestion, ok := util.Nearest(unknownNames[0], refNames, 2); ok {
			return fmt.Errorf("interval.nameToIDData: contig %s absent from BAM header (did you mean %s?)", unknownNames[0], suggestion)
		}
		return fmt.Errorf("interval.nameToIDData: contig %s absent from BAM header", unknownNames[0])
	}
	return nil
}

func scanBEDUnion(scanner *bufio.Scanner) (bedUnion BEDUnion, err error) {
	bedUnion = initBEDUnion()

	// This could also be inside the for loop; minor tradeoff between extra
	// zero-reinitialization and positive side effects of better locality.
	var tokens [3][]byte

	lineIdx := 0
	prevChr := ""
	totBases := 0
	hasPrev := false
	var prevStart, prevEnd PosType
	var refIntervals []PosType
	for scanner.Scan() {
		lineIdx++
		// scanner.Bytes() does not allocate, while scanner.Text() does.
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken != 3 {
			if nToken == 0 {
				continue
			}
			err = fmt.Errorf("interval.scanBEDUnion: line %d has fewer tokens than expected", lineIdx)
			return
		}

		curChr := tokens[0]
		var parsedStart int
		if parsedStart, err = strconv.Atoi(gunsafe.BytesToString(tokens[1])); err != nil {
			return
		}
		if parsedStart < 0 {
			err = fmt.Errorf("interval.scanBEDUnion: negative start coordinate %v on line %d", tokens[1], lineIdx)
			return
		}
		start := PosType(parsedStart)

		var parsedEnd int
		if parsedEnd, err = strconv.Atoi(gunsafe.BytesToString(tokens[2])); err != nil {
			return
		}
		if (parsedEnd < parsedStart) || (parsedEnd >= PosTypeMax) {
			err = fmt.Errorf("interval.scanBEDUnion: invalid coordinate pair on line %d", lineIdx)
			return
		}
		end := PosType(parsedEnd)
		if prevChr != gunsafe.BytesToString(curChr) {
			if prevChr != "" {
				// Save last interval, add to map.
				if hasPrev {
					refIntervals = append(refIntervals, prevStart, prevEnd)
				}
				bedUnion.nameMap[prevChr] = refIntervals
			}
			// Must create a copy of curChr contents, since it refers to bytes on
			// curLine that will be overwritten soon, and it needs to persist as a
			// map key.
			prevChr = string(curChr)
			if _, found := bedUnion.nameMap[prevChr]; found {
				err = fmt.Errorf("interval.scanBEDUnion: unsorted input (split chromosome %v)", prevChr)
				return
			}
			refIntervals = nil
			hasPrev = false
		}
		if end == start {
			// Zero-length intervals contribute no positions, but they still count
			// as contig references for header validation.
			continue
		}
		if !hasPrev {
			hasPrev = true
			prevStart = start
			prevEnd = end
			totBases += int(end - start)
			continue
		}
		if start > prevEnd {
			// New interval doesn't touch the previous one, so we can save the
			// previous one.
			refIntervals = append(refIntervals, prevStart, prevEnd)
			prevStart = start
			prevEnd = end
			totBases += int(end - start)
		} else {
			if start < prevStart {
				err = fmt.Errorf("interval.scanBEDUnion: unsorted input")
				return
			}
			// Intervals overlap or touch, merge them.
			if end > prevEnd {
				totBases += int(end - prevEnd)
				prevEnd = end
			}
		}
	}
	if err = scanner.Err(); err != nil {
		return
	}
	log.Printf("BED loaded, %d base(s) covered.\n", totBases)
	if prevChr != "" {
		if hasPrev {
			refIntervals = append(refIntervals, prevStart, prevEnd)
		}
		bedUnion.nameMap[prevChr] = refIntervals
	}
	return
}

// NewBEDUnion loads just the intervals from a sorted (by first coordinate)
// interval-BED, merging touching/overlapping intervals and eliminating empty
// ones in the process.  A BEDUnion is returned.
func NewBEDUnion(reader io.Reader, opts NewBEDOpts) (bedUnion BEDUnion, err error) {
	// Note that Scanner does not handle very long lines unless we specify an
	// adequate buffer size in advance; it does not auto-resize.
	// Shouldn't matter for BED files, though.
	scanner := bufio.NewScanner(reader)

	if bedUnion, err = scanBEDUnion(scanner); err != nil {
		return
	}
	if opts.SAMHeader != nil {
		err = bedUnion.nameToIDData(opts.SAMHeader)
	}
	return
}

// NewBEDUnionFromPath is a wrapper for NewBEDUnion that takes a path instead
// of an io.Reader.  Plain-text and gzipped BEDs are both accepted.
func NewBEDUnionFromPath(path string, opts NewBEDOpts) (bedUnion BEDUnion, err error) {
	ctx := vcontext.Background()
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		if reader, err = gzip.NewReader(reader); err != nil {
			return
		}
	}
	return NewBEDUnion(reader, opts)
}

// Entry represents a single interval, with 0-based half-open coordinates.
type Entry struct {
	RefName string
	Start0  PosType
	End     PosType
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosTypeMax - 1] is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.IndexByte(region, ':')
	if colonPos == -1 {
		result.RefName = region
		result.Start0 = 0
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.RefName = region[0:colonPos]
	rangeStr := region[colonPos+1:]
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	start1Str := rangeStr[:dashPos]
	endStr := rangeStr[dashPos+1:]
	var start1 int
	if start1, err = strconv.Atoi(start1Str); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", start1Str)
		return
	}
	var end0 int
	if end0, err = strconv.Atoi(endStr); err != nil {
		return
	}
	// We may as well prohibit end0 == PosTypeMax so that the interval-array is
	// guaranteed to contain no repeats.  This means ParseInt(., 10, 32)
	// doesn't quite do the right thing, so Atoi is used above.
	if end0 <= start1 || end0 >= PosTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end0)
	return
}

// NewBEDUnionFromEntries initializes a BEDUnion from a []Entry sorted by
// (contig, start), merging touching/overlapping intervals and eliminating
// empty ones in the process.
func NewBEDUnionFromEntries(entries []Entry, opts NewBEDOpts) (bedUnion BEDUnion, err error) {
	bedUnion = initBEDUnion()
	prevChr := ""
	hasPrev := false
	var prevStart, prevEnd PosType
	var refIntervals []PosType
	for _, entry := range entries {
		if entry.Start0 < 0 {
			err = fmt.Errorf("interval.NewBEDUnionFromEntries: negative start coordinate")
			return
		}
		if (entry.End < entry.Start0) || (entry.End >= PosTypeMax) {
			err = fmt.Errorf("interval.NewBEDUnionFromEntries: invalid coordinate pair [%d, %d)", entry.Start0, entry.End)
			return
		}
		if prevChr != entry.RefName {
			if prevChr != "" {
				if hasPrev {
					refIntervals = append(refIntervals, prevStart, prevEnd)
				}
				bedUnion.nameMap[prevChr] = refIntervals
			}
			prevChr = entry.RefName
			if _, found := bedUnion.nameMap[prevChr]; found {
				err = fmt.Errorf("interval.NewBEDUnionFromEntries: unsorted input (split chromosome %v)", prevChr)
				return
			}
			refIntervals = nil
			hasPrev = false
		}
		if entry.End == entry.Start0 {
			continue
		}
		if !hasPrev {
			hasPrev = true
			prevStart = entry.Start0
			prevEnd = entry.End
			continue
		}
		if entry.Start0 > prevEnd {
			refIntervals = append(refIntervals, prevStart, prevEnd)
			prevStart = entry.Start0
			prevEnd = entry.End
		} else {
			if entry.Start0 < prevStart {
				err = fmt.Errorf("interval.NewBEDUnionFromEntries: unsorted input")
				return
			}
			if entry.End > prevEnd {
				prevEnd = entry.End
			}
		}
	}
	if prevChr != "" {
		if hasPrev {
			refIntervals = append(refIntervals, prevStart, prevEnd)
		}
		bedUnion.nameMap[prevChr] = refIntervals
	}
	if opts.SAMHeader != nil {
		err = bedUnion.nameToIDData(opts.SAMHeader)
	}
	return
}

// subtractEndpoints returns the difference a minus b, where both arguments
// are sorted interval-endpoint slices.  The result may alias a when b removes
// nothing.
func subtractEndpoints(a, b []PosType) []PosType {
	if (len(a) == 0) || (len(b) == 0) {
		return a
	}
	var result []PosType
	bIdx := 0
	for aIdx := 0; aIdx < len(a); aIdx += 2 {
		curStart, curEnd := a[aIdx], a[aIdx+1]
		// Excluded intervals entirely before curStart are irrelevant from here
		// on, since a's intervals are in increasing order.
		for bIdx < len(b) && b[bIdx+1] <= curStart {
			bIdx += 2
		}
		// A single excluded interval can span several of a's intervals, so the
		// shared cursor must not advance past b[bIdx+1] > curStart.
		for bi := bIdx; curStart < curEnd; bi += 2 {
			if (bi == len(b)) || (b[bi] >= curEnd) {
				result = append(result, curStart, curEnd)
				break
			}
			if b[bi] > curStart {
				result = append(result, curStart, b[bi])
			}
			if b[bi+1] >= curEnd {
				break
			}
			curStart = b[bi+1]
		}
	}
	return result
}

// Subtract returns a new BEDUnion covering the positions in u but not in
// excl.  Search state is not copied.  When both unions carry ID-based data,
// they must have been constructed with the same SAMHeader; if only excl lacks
// it, excl is treated as empty for the ID-based view.
func (u *BEDUnion) Subtract(excl *BEDUnion) (result BEDUnion) {
	result = initBEDUnion()
	for chrName, refIntervals := range u.nameMap {
		if diff := subtractEndpoints(refIntervals, excl.nameMap[chrName]); len(diff) != 0 {
			result.nameMap[chrName] = diff
		}
	}
	if u.idMap != nil {
		result.idMap = make([][]PosType, len(u.idMap))
		for refID, refIntervals := range u.idMap {
			var exclIntervals []PosType
			if refID < len(excl.idMap) {
				exclIntervals = excl.idMap[refID]
			}
			if diff := subtractEndpoints(refIntervals, exclIntervals); len(diff) != 0 {
				result.idMap[refID] = diff
			}
		}
	}
	return
}

// Clone returns a new BEDUnion which shares the interval set, but has its own
// search state.
func (u *BEDUnion) Clone() (bedUnion BEDUnion) {
	bedUnion.nameMap = u.nameMap
	bedUnion.idMap = u.idMap
	bedUnion.lastRefIntervals = nil
	bedUnion.lastRefID = -1
	return
}
