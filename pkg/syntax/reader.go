package syntax

import (
	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/scan"
	"github.com/vito/arbor/pkg/tree"
)

// The syntax file is keyword-driven: a section keyword selects what the
// following entries declare, a bare integer sets the running priority, and
// names or symbols receive it. BLOCK, COMMENT, TEXT and SYNTAX entries come
// in delimiter pairs.

type readerState int

const (
	inUnknown readerState = iota
	inPrefix
	inInfix
	inPostfix
	inComment
	inCommentDef
	inText
	inTextDef
	inBlock
	inBlockDef
	inSyntaxName
	inSyntax
	inSyntaxDef
)

// ReadSyntaxFile reads syntax declarations from the scanner until the
// indentation that bracketed them closes, or end of input when indents is
// zero. The parser calls it mid-stream when it sees a `syntax` directive;
// initial loading goes through ReadSyntaxSource.
func (t *Table) ReadSyntaxFile(s *scan.Scanner, indents int) error {
	state := inUnknown
	priority := 0
	entry := ""
	var child *Child

	for {
		tok := s.NextToken(true)

		// Inside delimiter sections brackets are entries, not nesting
		if (tok == scan.PAROPEN || tok == scan.PARCLOSE) && state >= inComment {
			tok = scan.SYMBOL
		}

		if tok == scan.SYMBOL || state >= inComment {
			t.KnowToken(s.TextValue())
		}

		switch tok {
		case scan.EOF, scan.ERROR:
			return nil

		case scan.INTEGER:
			priority = int(s.IntegerValue())

		case scan.INDENT, scan.PAROPEN:
			indents++

		case scan.UNINDENT, scan.PARCLOSE:
			indents--
			if indents <= 0 {
				return nil
			}

		case scan.NEWLINE:
			// Ignored; sections span lines freely.

		case scan.NAME, scan.SYMBOL, scan.STRING, scan.QUOTE:
			txt := s.TextValue()

			switch txt {
			case "NEWLINE":
				txt = "\n"
			case "INDENT":
				txt = tree.IndentOpen
			case "UNINDENT":
				txt = tree.IndentClose
			}

			switch txt {
			case "INFIX":
				state = inInfix
			case "PREFIX":
				state = inPrefix
			case "POSTFIX":
				state = inPostfix
			case "BLOCK":
				state = inBlock
			case "COMMENT":
				state = inComment
			case "TEXT":
				state = inText
			case "SYNTAX":
				state = inSyntaxName
			case "STATEMENT":
				t.Statement = priority
			case "FUNCTION":
				t.Function = priority
			case "DEFAULT":
				t.Default = priority
			default:
				switch state {
				case inUnknown:
					// Stray name before any section keyword
				case inPrefix:
					t.SetPrefixPriority(txt, priority)
				case inPostfix:
					t.SetPostfixPriority(txt, priority)
				case inInfix:
					t.SetInfixPriority(txt, priority)
				case inComment:
					entry = txt
					state = inCommentDef
				case inCommentDef:
					t.CommentDelimiter(entry, txt)
					state = inComment
				case inText:
					entry = txt
					state = inTextDef
				case inTextDef:
					t.TextDelimiter(entry, txt)
					state = inText
				case inBlock:
					entry = txt
					state = inBlockDef
					t.SetInfixPriority(entry, priority)
				case inBlockDef:
					t.blocks[entry] = txt
					t.blocks[txt] = ""
					t.SetInfixPriority(txt, priority)
					state = inBlock
				case inSyntaxName:
					loaded, err := t.loadChild(txt)
					if err != nil {
						return err
					}
					child = loaded
					state = inSyntax
				case inSyntax:
					entry = txt
					state = inSyntaxDef
				case inSyntaxDef:
					child.Delimiters[entry] = txt
					t.childFile[entry] = child.Filename
					t.KnowToken(entry)
					state = inSyntax
				}
			}
		}
	}
}

// ReadSyntaxSource loads a complete syntax description from source text.
func (t *Table) ReadSyntaxSource(file, source string) error {
	var positions tree.Positions
	errs := diag.NewErrors(&positions)
	s := scan.New(file, source, t, &positions, errs)
	if err := t.ReadSyntaxFile(s, 1); err != nil {
		return err
	}
	return errs.Err()
}
