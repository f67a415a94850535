package scan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/scan"
	"github.com/vito/arbor/pkg/syntax"
	"github.com/vito/arbor/pkg/tree"
)

func newScanner(t *testing.T, source string) *scan.Scanner {
	t.Helper()
	table := syntax.Default()
	positions := &tree.Positions{}
	errs := diag.NewErrors(positions)
	return scan.New("test.ab", source, table, positions, errs)
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		input string
		tok   scan.Token
		ival  int64
		rval  float64
	}{
		{input: "42", tok: scan.INTEGER, ival: 42},
		{input: "1_980_000", tok: scan.INTEGER, ival: 1980000},
		{input: "16#FF", tok: scan.INTEGER, ival: 255},
		{input: "2#1010", tok: scan.INTEGER, ival: 10},
		{input: "1E3", tok: scan.INTEGER, ival: 1000},
		{input: "3.25", tok: scan.REAL, rval: 3.25},
		{input: "1.5e2", tok: scan.REAL, rval: 150},
		{input: "1E-3", tok: scan.REAL, rval: 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s := newScanner(t, tt.input)
			tok := s.NextToken(false)
			require.Equal(t, tt.tok, tok)
			if tt.tok == scan.INTEGER {
				require.Equal(t, tt.ival, s.IntegerValue())
			} else {
				require.InDelta(t, tt.rval, s.RealValue(), 1e-9)
			}
		})
	}
}

func TestNamesAndSymbols(t *testing.T) {
	s := newScanner(t, "hello + world")
	require.Equal(t, scan.NAME, s.NextToken(false))
	require.Equal(t, "hello", s.NameValue())
	require.Equal(t, scan.SYMBOL, s.NextToken(false))
	require.Equal(t, "+", s.NameValue())
	require.Equal(t, scan.NAME, s.NextToken(false))
	require.Equal(t, "world", s.NameValue())
	require.Equal(t, scan.EOF, s.NextToken(false))
}

func TestMaximalMunch(t *testing.T) {
	// <= is declared, so it scans as one token; an unknown run splits
	// character by character.
	s := newScanner(t, "a <= b")
	require.Equal(t, scan.NAME, s.NextToken(false))
	require.Equal(t, scan.SYMBOL, s.NextToken(false))
	require.Equal(t, "<=", s.NameValue())

	s = newScanner(t, "a @@ b")
	require.Equal(t, scan.NAME, s.NextToken(false))
	require.Equal(t, scan.SYMBOL, s.NextToken(false))
	require.Equal(t, "@", s.NameValue())
	require.Equal(t, scan.SYMBOL, s.NextToken(false))
	require.Equal(t, "@", s.NameValue())
}

func TestSpaceFlags(t *testing.T) {
	s := newScanner(t, "a - b")
	s.NextToken(false) // a
	s.NextToken(false) // -
	require.True(t, s.HadSpaceBefore())
	require.True(t, s.HadSpaceAfter())

	s = newScanner(t, "a -b")
	s.NextToken(false) // a
	s.NextToken(false) // -
	require.True(t, s.HadSpaceBefore())
	require.False(t, s.HadSpaceAfter())

	s = newScanner(t, "a-b")
	s.NextToken(false) // a
	s.NextToken(false) // -
	require.False(t, s.HadSpaceBefore())
	require.False(t, s.HadSpaceAfter())
}

func TestIndentBalance(t *testing.T) {
	s := newScanner(t, "a\n    b\n        c\nd")
	var tokens []scan.Token
	for {
		tok := s.NextToken(false)
		tokens = append(tokens, tok)
		if tok == scan.EOF {
			break
		}
	}
	expected := []scan.Token{
		scan.NAME,     // a
		scan.INDENT,   // deeper
		scan.NAME,     // b
		scan.INDENT,   // deeper still
		scan.NAME,     // c
		scan.UNINDENT, // back
		scan.UNINDENT, // back to top
		scan.NAME,     // d
		scan.EOF,
	}
	require.Equal(t, expected, tokens)
}

func TestIndentUnwindsAtEOF(t *testing.T) {
	s := newScanner(t, "a\n    b")
	var tokens []scan.Token
	for {
		tok := s.NextToken(false)
		tokens = append(tokens, tok)
		if tok == scan.EOF {
			break
		}
	}
	require.Equal(t, []scan.Token{
		scan.NAME, scan.INDENT, scan.NAME, scan.UNINDENT, scan.EOF,
	}, tokens)
}

func TestParens(t *testing.T) {
	s := newScanner(t, "(a)")
	require.Equal(t, scan.PAROPEN, s.NextToken(false))
	require.Equal(t, "(", s.TokenText())
	require.Equal(t, scan.NAME, s.NextToken(false))
	require.Equal(t, scan.PARCLOSE, s.NextToken(false))
	require.Equal(t, ")", s.TokenText())
}

func TestText(t *testing.T) {
	s := newScanner(t, `"hello" 'c' "do ""quote"""`)
	require.Equal(t, scan.STRING, s.NextToken(false))
	require.Equal(t, "hello", s.TextValue())
	require.Equal(t, scan.QUOTE, s.NextToken(false))
	require.Equal(t, "c", s.TextValue())
	require.Equal(t, scan.STRING, s.NextToken(false))
	require.Equal(t, `do "quote"`, s.TextValue())
}

func TestPositions(t *testing.T) {
	positions := &tree.Positions{}
	errs := diag.NewErrors(positions)
	table := syntax.Default()

	s1 := scan.New("one.ab", "aaa", table, positions, errs)
	s1.NextToken(false)
	file, line, col, src := positions.Info(s1.Position())
	require.Equal(t, "one.ab", file)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)
	require.Equal(t, "aaa", src)

	// A second file lands beyond the first in the shared offset space
	s2 := scan.New("two.ab", "x\nyy", table, positions, errs)
	s2.NextToken(false) // x
	s2.NextToken(false) // newline
	s2.NextToken(false) // yy
	file, line, col, _ = positions.Info(s2.Position())
	require.Equal(t, "two.ab", file)
	require.Equal(t, 2, line)
	require.Equal(t, 1, col)
}
