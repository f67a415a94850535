package tree

import (
	"sort"
	"strings"
)

// Pos is a byte offset into the flat positions map shared across all files
// read during a session. NoPos marks synthesized trees.
type Pos uint64

// NoPos is the position of trees that were not read from source.
const NoPos Pos = ^Pos(0)

// Positions records which range of the global offset space each source file
// occupies, so that a bare Pos can be turned back into file, line and
// column. One Positions value is shared by every scanner in a session.
type Positions struct {
	ranges  []fileRange
	current Pos
}

type fileRange struct {
	start  Pos
	file   string
	source string
}

// OpenFile reserves the offset space for a file and returns the position of
// its first byte. The source is retained for line and column reporting.
func (p *Positions) OpenFile(name, source string) Pos {
	start := p.current
	p.ranges = append(p.ranges, fileRange{start: start, file: name, source: source})
	return start
}

// CloseFile advances the global offset past the file opened at start.
func (p *Positions) CloseFile(end Pos) {
	if end > p.current {
		p.current = end
	}
}

// File returns the file name and in-file offset for a global position.
func (p *Positions) File(pos Pos) (string, uint64) {
	i := sort.Search(len(p.ranges), func(i int) bool {
		return p.ranges[i].start > pos
	})
	if i == 0 {
		return "", uint64(pos)
	}
	r := p.ranges[i-1]
	return r.file, uint64(pos - r.start)
}

// Info resolves a global position to file, line, column and the source line
// it falls on. Lines and columns are 1-based.
func (p *Positions) Info(pos Pos) (file string, line, column int, src string) {
	i := sort.Search(len(p.ranges), func(i int) bool {
		return p.ranges[i].start > pos
	})
	if i == 0 {
		return "", 0, 0, ""
	}
	r := p.ranges[i-1]
	offset := int(pos - r.start)
	if offset > len(r.source) {
		offset = len(r.source)
	}
	line = 1 + strings.Count(r.source[:offset], "\n")
	lineStart := strings.LastIndexByte(r.source[:offset], '\n') + 1
	column = offset - lineStart + 1
	lineEnd := strings.IndexByte(r.source[lineStart:], '\n')
	if lineEnd < 0 {
		src = r.source[lineStart:]
	} else {
		src = r.source[lineStart : lineStart+lineEnd]
	}
	return r.file, line, column, src
}
