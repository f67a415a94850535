// Package scan turns source text into the token stream the parser consumes.
//
// Scanning is deliberately dumb: there are only numbers, names, text,
// symbols and layout. Symbols are split by maximal munch against the token
// table the syntax package maintains, so that `->` scans as one token once
// the syntax file declared it and as `-` `>` otherwise. Indentation is
// significant and reported as balanced Indent/Unindent tokens.
package scan

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/tree"
)

// Token identifies what the scanner found.
type Token int

const (
	NONE Token = iota
	EOF
	INTEGER
	REAL
	STRING   // double-quoted
	QUOTE    // single-quoted
	LONGTEXT // text read via a TEXT delimiter pair, set by the parser
	NAME
	SYMBOL
	NEWLINE
	PAROPEN
	PARCLOSE
	INDENT
	UNINDENT
	ERROR
)

// Tokens is what the scanner needs to know about multi-character symbols.
// The syntax table implements it.
type Tokens interface {
	// Known reports whether s is a declared token.
	Known(s string) bool
	// KnownPrefix reports whether s is a proper prefix of a declared token.
	KnownPrefix(s string) bool
}

// Scanner produces tokens from a single source text. Every scanner in a
// session shares one Positions map so that node positions stay meaningful
// across files.
type Scanner struct {
	tokens    Tokens
	errs      *diag.Errors
	positions *tree.Positions

	src   string
	base  tree.Pos // global position of src[0]
	off   int      // current offset into src
	start int      // offset of the current token

	tokenText string
	textValue string
	intValue  int64
	realValue float64

	indents    []int
	indent     int
	indentChar byte
	unindents  int

	hadSpaceBefore bool
	hadSpaceAfter  bool
}

// New creates a scanner over source text, registering the file in the
// shared positions map.
func New(file, source string, tokens Tokens, positions *tree.Positions, errs *diag.Errors) *Scanner {
	s := &Scanner{
		tokens:    tokens,
		errs:      errs,
		positions: positions,
		src:       source,
		indents:   []int{0},
	}
	if positions != nil {
		s.base = positions.OpenFile(file, source)
		positions.CloseFile(s.base + tree.Pos(len(source)))
	}
	return s
}

// Position returns the global position of the current token.
func (s *Scanner) Position() tree.Pos { return s.base + tree.Pos(s.start) }

// SetPosition rewinds or advances the scanner to a global position. The
// parser uses it after a child-syntax parser consumed part of the stream.
func (s *Scanner) SetPosition(pos tree.Pos) { s.off = int(pos - s.base) }

// TokenText returns the raw text of the current token.
func (s *Scanner) TokenText() string { return s.tokenText }

// SetTokenText overrides the raw token text (indent blocks).
func (s *Scanner) SetTokenText(t string) { s.tokenText = t }

// NameValue returns the name for NAME and SYMBOL tokens.
func (s *Scanner) NameValue() string { return s.textValue }

// TextValue returns the decoded value for STRING, QUOTE and LONGTEXT.
func (s *Scanner) TextValue() string { return s.textValue }

// SetTextValue overrides the text value (long text read by the parser).
func (s *Scanner) SetTextValue(t string) { s.textValue = t }

// IntegerValue returns the value of an INTEGER token.
func (s *Scanner) IntegerValue() int64 { return s.intValue }

// RealValue returns the value of a REAL token.
func (s *Scanner) RealValue() float64 { return s.realValue }

// HadSpaceBefore reports whether whitespace preceded the current token.
func (s *Scanner) HadSpaceBefore() bool { return s.hadSpaceBefore }

// HadSpaceAfter reports whether whitespace follows the current token.
func (s *Scanner) HadSpaceAfter() bool { return s.hadSpaceAfter }

// SwapTokens exchanges the token table, returning the previous one. The
// parser uses it while a child syntax is active.
func (s *Scanner) SwapTokens(tokens Tokens) Tokens {
	old := s.tokens
	s.tokens = tokens
	return old
}

// OpenParen suspends indentation processing inside parentheses and returns
// the indent state to restore.
func (s *Scanner) OpenParen() int {
	old := s.indent
	s.indents = append(s.indents, -1)
	return old
}

// CloseParen restores the indentation state saved by OpenParen, dropping
// any indent levels opened inside the parentheses.
func (s *Scanner) CloseParen(old int) {
	for len(s.indents) > 0 {
		top := s.indents[len(s.indents)-1]
		s.indents = s.indents[:len(s.indents)-1]
		if top == -1 {
			break
		}
	}
	s.indent = old
	s.unindents = 0
}

func (s *Scanner) peek() byte {
	if s.off >= len(s.src) {
		return 0
	}
	return s.src[s.off]
}

func (s *Scanner) at(i int) byte {
	if i >= len(s.src) {
		return 0
	}
	return s.src[i]
}

func isNameStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || c >= 0x80
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func isSymbolChar(c byte) bool {
	if c == 0 || c == '"' || c == '\'' || c == '_' {
		return false
	}
	switch c {
	case '(', ')', '[', ']', '{', '}':
		return false
	}
	return unicode.IsPunct(rune(c)) || unicode.IsSymbol(rune(c))
}

// NextToken scans the next token. In hungry mode, symbol runs are taken
// whole instead of being split against the known-token table; the syntax
// reader uses that before any token is declared.
func (s *Scanner) NextToken(hungry bool) Token {
	// Pending unindents from a previous newline
	if s.unindents > 0 {
		s.unindents--
		s.tokenText = tree.IndentClose
		return UNINDENT
	}

	s.hadSpaceBefore = false

	for {
		c := s.peek()
		switch {
		case c == 0:
			// Unwind any remaining indentation at end of input
			if len(s.indents) > 1 {
				s.indents = s.indents[:len(s.indents)-1]
				s.start = s.off
				s.tokenText = tree.IndentClose
				return UNINDENT
			}
			s.start = s.off
			return EOF

		case c == '\n':
			s.off++
			tok := s.scanLineStart()
			if tok != NONE {
				return tok
			}
			s.hadSpaceBefore = true

		case c == ' ' || c == '\t' || c == '\r':
			s.hadSpaceBefore = true
			s.off++

		default:
			return s.scanToken(hungry)
		}
	}
}

// scanLineStart measures the indentation of the next non-blank line and
// emits INDENT, UNINDENT (possibly several) or NEWLINE.
func (s *Scanner) scanLineStart() Token {
	// Measure indentation, skipping blank lines entirely
	for {
		lineStart := s.off
		col := 0
		for {
			c := s.at(s.off)
			if c == ' ' || c == '\t' {
				if s.indentChar == 0 {
					s.indentChar = c
				} else if s.indentChar != c && s.errs != nil {
					s.errs.Log(diag.Lexical, s.Position(),
						"mixed tabs and spaces in indentation")
					s.indentChar = c
				}
				col++
				s.off++
				continue
			}
			break
		}
		c := s.at(s.off)
		if c == '\n' {
			s.off++
			continue
		}
		if c == 0 {
			// Trailing blank line; EOF handling unwinds indents
			s.off = lineStart
			s.start = lineStart
			return NONE
		}
		s.start = lineStart

		// Inside parentheses indentation is not significant
		top := s.indents[len(s.indents)-1]
		if top == -1 {
			s.tokenText = "\n"
			return NEWLINE
		}

		switch {
		case col > top:
			s.indents = append(s.indents, col)
			s.indent = col
			s.tokenText = tree.IndentOpen
			return INDENT
		case col < top:
			for len(s.indents) > 1 && s.indents[len(s.indents)-1] > col &&
				s.indents[len(s.indents)-1] != -1 {
				s.indents = s.indents[:len(s.indents)-1]
				s.unindents++
			}
			if s.indents[len(s.indents)-1] != col && s.errs != nil {
				s.errs.Log(diag.Lexical, s.Position(),
					"unindenting to a column that was never indented to")
			}
			s.indent = col
			s.unindents--
			s.tokenText = tree.IndentClose
			return UNINDENT
		default:
			s.tokenText = "\n"
			return NEWLINE
		}
	}
}

func (s *Scanner) scanToken(hungry bool) Token {
	s.start = s.off
	c := s.peek()

	defer func() {
		next := s.peek()
		s.hadSpaceAfter = next == 0 || next == ' ' || next == '\t' ||
			next == '\n' || next == '\r'
	}()

	switch {
	case c >= '0' && c <= '9':
		return s.scanNumber()

	case isNameStart(c):
		start := s.off
		for isNameChar(s.peek()) {
			s.off++
		}
		s.tokenText = s.src[start:s.off]
		s.textValue = s.tokenText
		return NAME

	case c == '"' || c == '\'':
		return s.scanText(c)

	case c == '(' || c == ')' || c == '[' || c == ']' || c == '{' || c == '}':
		s.off++
		s.tokenText = s.src[s.start:s.off]
		s.textValue = s.tokenText
		if c == '(' || c == '[' || c == '{' {
			return PAROPEN
		}
		return PARCLOSE

	case isSymbolChar(c):
		start := s.off
		for isSymbolChar(s.peek()) {
			s.off++
		}
		run := s.src[start:s.off]
		if !hungry && s.tokens != nil {
			// Maximal munch against the declared tokens; unknown symbols
			// scan one character at a time.
			best := 1
			for l := len(run); l > 1; l-- {
				if s.tokens.Known(run[:l]) {
					best = l
					break
				}
			}
			run = run[:best]
			s.off = start + best
		}
		s.tokenText = run
		s.textValue = run
		return SYMBOL

	default:
		s.off++
		s.tokenText = s.src[s.start:s.off]
		if s.errs != nil {
			s.errs.Log(diag.Lexical, s.Position(), "invalid character %q", c)
		}
		return ERROR
	}
}

// scanNumber handles integers and reals, with `_` digit grouping, an
// optional base written 16#FF, and exponents: 1.5e3, 16#FF#E2.
func (s *Scanner) scanNumber() Token {
	base := 10
	digits := func(b int) string {
		start := s.off
		for {
			c := s.peek()
			if c == '_' && s.off > start && digitValue(s.at(s.off+1)) < b {
				s.off++
				continue
			}
			if digitValue(c) < b {
				s.off++
				continue
			}
			break
		}
		return strings.ReplaceAll(s.src[start:s.off], "_", "")
	}

	intPart := digits(10)
	if s.peek() == '#' && digitValue(s.at(s.off+1)) < 36 {
		if b, err := strconv.Atoi(intPart); err == nil && b >= 2 && b <= 36 {
			base = b
			s.off++
			intPart = digits(base)
		}
	}

	isReal := false
	fracPart := ""
	if s.peek() == '.' && digitValue(s.at(s.off+1)) < base {
		isReal = true
		s.off++
		fracPart = digits(base)
	}

	// Exponent: e/E in base 10, #E after a based literal
	exp := 0
	expSeen := false
	save := s.off
	if base != 10 && s.peek() == '#' {
		s.off++
	}
	if c := s.peek(); c == 'e' || c == 'E' {
		s.off++
		sign := 1
		if s.peek() == '+' {
			s.off++
		} else if s.peek() == '-' {
			sign = -1
			s.off++
		}
		if digitValue(s.peek()) < 10 {
			e, _ := strconv.Atoi(digits(10))
			exp = sign * e
			expSeen = true
		}
	}
	if !expSeen {
		s.off = save
	}

	s.tokenText = s.src[s.start:s.off]

	if isReal || (expSeen && exp < 0) {
		value := parseBased(intPart, base) + parseBasedFrac(fracPart, base)
		for i := 0; i < exp; i++ {
			value *= float64(base)
		}
		for i := 0; i > exp; i-- {
			value /= float64(base)
		}
		s.realValue = value
		return REAL
	}

	value := int64(0)
	for _, c := range []byte(intPart) {
		value = value*int64(base) + int64(digitValue(c))
	}
	for i := 0; i < exp; i++ {
		value *= int64(base)
	}
	s.intValue = value
	return INTEGER
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return 99
}

func parseBased(digits string, base int) float64 {
	v := 0.0
	for _, c := range []byte(digits) {
		v = v*float64(base) + float64(digitValue(c))
	}
	return v
}

func parseBasedFrac(digits string, base int) float64 {
	v := 0.0
	scale := 1.0
	for _, c := range []byte(digits) {
		scale /= float64(base)
		v += float64(digitValue(c)) * scale
	}
	return v
}

// scanText reads a quoted literal. A doubled quote embeds the quote
// character; text cannot span lines.
func (s *Scanner) scanText(quote byte) Token {
	s.off++
	var b strings.Builder
	for {
		c := s.peek()
		if c == 0 || c == '\n' {
			if s.errs != nil {
				s.errs.Log(diag.Lexical, s.Position(), "unterminated text")
			}
			break
		}
		s.off++
		if c == quote {
			if s.peek() == quote {
				s.off++
				b.WriteByte(quote)
				continue
			}
			break
		}
		b.WriteByte(c)
	}
	s.tokenText = s.src[s.start:s.off]
	s.textValue = b.String()
	if quote == '\'' {
		return QUOTE
	}
	return STRING
}

// Comment reads raw input until the closing delimiter, returning everything
// before it. The parser decides what is a comment; the scanner just skips.
// When the delimiter is a newline the newline is left for the scanner to
// see again, so that layout stays correct after a // comment.
func (s *Scanner) Comment(closing string) string {
	start := s.off
	if closing == "\n" {
		end := strings.IndexByte(s.src[s.off:], '\n')
		if end < 0 {
			s.off = len(s.src)
			return s.src[start:]
		}
		s.off += end
		return s.src[start : start+end]
	}
	end := strings.Index(s.src[s.off:], closing)
	if end < 0 {
		if s.errs != nil {
			s.errs.Log(diag.Lexical, s.Position(),
				"end of input looking for %q", closing)
		}
		s.off = len(s.src)
		return s.src[start:]
	}
	s.off += end + len(closing)
	return s.src[start : start+end+len(closing)]
}
