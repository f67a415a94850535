// Package parse turns the token stream into the uniform AST. The grammar is
// not hard-coded: every name and symbol is classified by looking up its
// priorities in the syntax table at the moment it is seen, which is what
// lets source amend the grammar mid-stream.
//
// The algorithm is a shunting-yard variant over a stack of pending
// operators. Odd priorities are right-associative: folding compares against
// the stack priority with its low bit cleared, so a tie on an odd priority
// keeps the stack entry.
package parse

import (
	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/scan"
	"github.com/vito/arbor/pkg/syntax"
	"github.com/vito/arbor/pkg/tree"
)

// Options are per-file parsing options.
type Options struct {
	// SignedConstants folds unary minus applied to a literal constant into
	// a negative literal at parse time. It observably changes the AST
	// (Prefix vs literal), so it is pinned per file and the renderer
	// consults the same value.
	SignedConstants bool
}

// Parser consumes one scanner and produces one AST.
type Parser struct {
	scanner *scan.Scanner
	syntax  *syntax.Table
	errs    *diag.Errors
	opts    Options

	pending        scan.Token
	openQuote      string
	closeQuote     string
	comments       []string
	commented      tree.Tree
	beginningLine  bool
	hadSpaceBefore bool
	hadSpaceAfter  bool
}

// New creates a parser over a scanner with the given syntax.
func New(s *scan.Scanner, table *syntax.Table, errs *diag.Errors, opts Options) *Parser {
	return &Parser{
		scanner:       s,
		syntax:        table,
		errs:          errs,
		opts:          opts,
		beginningLine: true,
	}
}

// Text parses a complete source text with the given syntax.
func Text(file, source string, table *syntax.Table, positions *tree.Positions, errs *diag.Errors, opts Options) tree.Tree {
	s := scan.New(file, source, table, positions, errs)
	return New(s, table, errs, opts).Parse("")
}

// pendingOp is one suspended operator on the parse stack. An empty opcode
// is a prefix application.
type pendingOp struct {
	opcode   string
	argument tree.Tree
	priority int
	position tree.Pos
}

const prefixOpcode = ""

// nextToken returns the next significant token, consuming comments, long
// text and inline `syntax` directives, and merging newlines. A newline is
// swallowed when the next token is a name whose only reading is an infix
// below statement priority, which is how `else` continues the previous
// line.
func (p *Parser) nextToken() scan.Token {
	for {
		pend := p.pending
		if pend != scan.NONE && pend != scan.NEWLINE {
			p.pending = scan.NONE
			p.beginningLine = false
			return pend
		}

		result := p.scanner.NextToken(false)
		p.hadSpaceBefore = p.scanner.HadSpaceBefore()
		p.hadSpaceAfter = p.scanner.HadSpaceAfter()

		switch result {
		case scan.NAME, scan.SYMBOL:
			opening := p.scanner.NameValue()
			if opening == "syntax" {
				if err := p.syntax.ReadSyntaxFile(p.scanner, 0); err != nil {
					p.errs.Log(diag.Lexical, p.scanner.Position(), "%v", err)
				}
				continue
			}
			if closing, ok := p.syntax.IsComment(opening); ok {
				comment := opening + p.scanner.Comment(closing)
				p.comments = append(p.comments, comment)
				if closing == "\n" && pend == scan.NONE {
					if !p.beginningLine && len(p.comments) > 0 && p.commented != nil {
						p.attachComments(p.commented, false)
						p.commented = nil
					}
					p.pending = scan.NEWLINE
					p.beginningLine = true
				}
				continue
			}
			if closing, ok := p.syntax.IsTextDelimiter(opening); ok {
				longText := p.scanner.Comment(closing)
				if closing != "\n" {
					longText = longText[:len(longText)-len(closing)]
				}
				p.scanner.SetTextValue(longText)
				p.openQuote = opening
				p.closeQuote = closing
				if pend == scan.NEWLINE {
					p.pending = scan.LONGTEXT
					return scan.NEWLINE
				}
				if closing == "\n" && pend == scan.NONE {
					p.pending = scan.NEWLINE
					p.beginningLine = true
				} else {
					p.beginningLine = false
				}
				return scan.LONGTEXT
			}

			// A name that reads as a low-priority infix takes over a
			// pending newline: this is the `else` rule.
			if pend == scan.NEWLINE {
				prefixPrio := p.syntax.PrefixPriority(opening)
				if prefixPrio == p.syntax.Default {
					infixPrio := p.syntax.InfixPriority(opening)
					if infixPrio != p.syntax.Default &&
						infixPrio < p.syntax.Statement {
						p.pending = scan.NONE
						pend = scan.NONE
					}
				}
			}
			p.beginningLine = false

		case scan.NEWLINE:
			// Comments pending after a token attach to that token
			if !p.beginningLine && len(p.comments) > 0 && p.commented != nil {
				p.attachComments(p.commented, false)
				p.commented = nil
			}
			p.pending = scan.NEWLINE
			p.beginningLine = true
			continue

		case scan.UNINDENT:
			p.pending = scan.NEWLINE
			p.beginningLine = true
			return result

		case scan.INDENT:
			// A newline followed by an indent is just the indent
			p.pending = scan.NONE
			p.beginningLine = true
			return result

		default:
			p.beginningLine = false
		}

		// Any other token with a pending newline: emit the newline first
		// and push the token back.
		if pend != scan.NONE {
			p.pending = result
			p.beginningLine = true
			return pend
		}
		return result
	}
}

func (p *Parser) attachComments(what tree.Tree, before bool) {
	tree.AttachComments(what, p.comments, before)
	p.comments = nil
}

// createPrefix builds a prefix application, folding unary minus into a
// signed literal when the option asks for it.
func (p *Parser) createPrefix(left, right tree.Tree, pos tree.Pos) tree.Tree {
	if p.opts.SignedConstants {
		if tree.IsNamed(left, "-") {
			switch lit := right.(type) {
			case *tree.Integer:
				return &tree.Integer{Value: -lit.Value, Pos: lit.Pos}
			case *tree.Real:
				return &tree.Real{Value: -lit.Value, Pos: lit.Pos}
			}
		}
	}
	return &tree.Prefix{Left: left, Right: right, Pos: pos}
}

// Parse reads tokens until the closing delimiter (empty at top level) and
// returns the tree. Inside parentheses the parser starts in expression
// mode; at top level and inside indent blocks it starts in statement mode.
func (p *Parser) Parse(closing string) tree.Tree {
	var (
		result         tree.Tree
		left           tree.Tree
		right          tree.Tree
		stack          []pendingOp
		infix          string
		done           bool
		defaultPrio    = p.syntax.Default
		functionPrio   = p.syntax.Function
		statementPrio  = p.syntax.Statement
		resultPrio     = defaultPrio
		prefixPrio     int
		infixPrio      int
		postfixPrio    int
		parenPrio      = p.syntax.InfixPriority(closing)
		isExpression   = false
		newStatement   = true
		pos            tree.Pos
		oldIndent      int
		pendingComment []string
	)

	// Inside a ( ... ) block we are in expression mode right away
	if closing != "" && parenPrio > statementPrio {
		newStatement = false
		isExpression = true
	}

	for !done {
		wasBeginningLine := p.beginningLine

		right = nil
		prefixPrio = defaultPrio
		infixPrio = defaultPrio
		tok := p.nextToken()

		// Comments seen after a token attach to it
		if !wasBeginningLine && len(p.comments) > 0 && p.commented != nil {
			p.attachComments(p.commented, false)
		}

		pos = p.scanner.Position()
		switch tok {
		case scan.EOF, scan.ERROR:
			done = true
			if closing != "" && closing != tree.IndentClose {
				p.errs.Log(diag.Parse, pos, "unexpected end of input, expected %q", closing)
			}

		case scan.INTEGER:
			right = &tree.Integer{Value: p.scanner.IntegerValue(), Pos: pos}
			prefixPrio = functionPrio

		case scan.REAL:
			right = &tree.Real{Value: p.scanner.RealValue(), Pos: pos}
			prefixPrio = functionPrio

		case scan.LONGTEXT:
			right = &tree.Text{Value: p.scanner.TextValue(),
				Opening: p.openQuote, Closing: p.closeQuote, Pos: pos}
			if result == nil && newStatement {
				isExpression = false
			}
			prefixPrio = functionPrio

		case scan.STRING, scan.QUOTE:
			sep := p.scanner.TokenText()[:1]
			right = &tree.Text{Value: p.scanner.TextValue(),
				Opening: sep, Closing: sep, Pos: pos}
			if result == nil && newStatement {
				isExpression = false
			}
			prefixPrio = functionPrio

		case scan.NAME, scan.SYMBOL:
			name := p.scanner.NameValue()
			if name == closing {
				done = true
			} else if child, childClosing, ok := p.syntax.SpecialSyntax(name); ok {
				// Parse the input with the child syntax until its closing
				// delimiter, wrapping the result so the child grammar's
				// name stays visible.
				old := p.scanner.SwapTokens(&child.Table)
				childParser := New(p.scanner, &child.Table, p.errs, p.opts)
				sub := childParser.Parse(childClosing)
				p.scanner.SwapTokens(old)
				if sub == nil {
					sub = &tree.Name{Value: "", Pos: pos}
				}
				right = &tree.Prefix{
					Left:  &tree.Name{Value: name, Pos: pos},
					Right: &tree.Block{Child: sub, Opening: name, Closing: childClosing, Pos: pos},
					Pos:   pos,
				}
				prefixPrio = functionPrio
			} else if result == nil {
				prefixPrio = p.syntax.PrefixPriority(name)
				right = &tree.Name{Value: name, Pos: pos}
				if prefixPrio == defaultPrio {
					prefixPrio = functionPrio
				}
				if newStatement && tok == scan.NAME {
					isExpression = false
				}
			} else if left != nil {
				// This is the right of an infix operator. With
				// `A and not B` where `not` binds tighter than `and`, we
				// want `A and (not B)`, so a prefix here starts over.
				prefixPrio = p.syntax.PrefixPriority(name)
				right = &tree.Name{Value: name, Pos: pos}
				if prefixPrio == defaultPrio {
					prefixPrio = functionPrio
				}
			} else {
				// Discriminate infix and prefix: an operator is infix iff
				// it has an infix priority and either has no prefix
				// reading, or had no leading space, or had trailing
				// space. That is why -x is prefix and a - b is infix.
				infixPrio = p.syntax.InfixPriority(name)
				prefixVsInfix := p.syntax.PrefixPriority(name)
				if infixPrio != defaultPrio &&
					(prefixVsInfix == defaultPrio ||
						!p.hadSpaceBefore || p.hadSpaceAfter) {
					left = result
					infix = name
				} else {
					postfixPrio = p.syntax.PostfixPriority(name)
					if postfixPrio != defaultPrio {
						// A postfix operator: fold higher-priority items,
						// as in X:integer!
						for len(stack) > 0 {
							prev := &stack[len(stack)-1]
							if !done && prev.priority != defaultPrio &&
								postfixPrio > (prev.priority&^1) {
								break
							}
							result = p.reduce(prev, result)
							stack = stack[:len(stack)-1]
						}
						right = &tree.Postfix{Left: result,
							Right: &tree.Name{Value: name, Pos: pos}, Pos: pos}
						prefixPrio = postfixPrio
						result = nil
					} else {
						// No priority: default to prefix
						right = &tree.Name{Value: name, Pos: pos}
						prefixPrio = prefixVsInfix
						if prefixPrio == defaultPrio {
							prefixPrio = functionPrio
							if newStatement && tok == scan.NAME {
								isExpression = false
							}
						}
					}
				}
			}

		case scan.NEWLINE:
			// A newline is an ordinary infix operator
			infix = "\n"
			infixPrio = p.syntax.InfixPriority(infix)
			left = result

		case scan.PARCLOSE:
			if p.scanner.NameValue() != closing {
				p.errs.Log(diag.Parse, pos, "mismatched parentheses: got %q, expected %q",
					p.scanner.NameValue(), closing)
			}
			done = true

		case scan.UNINDENT:
			if closing != tree.IndentClose {
				p.errs.Log(diag.Parse, pos, "mismatched indentation, expected %q", closing)
			}
			done = true

		case scan.INDENT, scan.PAROPEN:
			blockOpening := p.scanner.TokenText()
			if tok == scan.INDENT {
				blockOpening = tree.IndentOpen
			}
			blockClosing, ok := p.syntax.IsBlock(blockOpening)
			if !ok {
				p.errs.Log(diag.Parse, pos, "unknown block delimiter %q", blockOpening)
			}
			if tok == scan.PAROPEN {
				oldIndent = p.scanner.OpenParen()
			}
			parenPrio := p.syntax.InfixPriority(blockOpening)

			// Just like names: parse the contents, then treat the block
			// as a prefix operand with the block's priority.
			prefixPrio = parenPrio
			infixPrio = defaultPrio
			pendingComment = p.comments
			p.comments = nil
			right = p.Parse(blockClosing)
			if tok == scan.PAROPEN {
				p.scanner.CloseParen(oldIndent)
			}
			if right == nil {
				right = &tree.Name{Value: "", Pos: pos}
			}
			right = &tree.Block{Child: right,
				Opening: blockOpening, Closing: blockClosing, Pos: pos}
			p.comments = append(p.comments, pendingComment...)

		default:
			p.errs.Log(diag.Internal, pos, "unknown token %d (%q)",
				tok, p.scanner.NameValue())
		}

		// Attach any comments we have to the tree we just built; if we
		// just saw a future infix (e.g. `then`) defer to the next operand.
		if right != nil {
			p.commented = right
			if len(p.comments) > 0 {
				p.attachComments(p.commented, true)
			}
		} else if left != nil && (p.pending == scan.NONE || p.pending == scan.NEWLINE) {
			p.commented = nil
		}

		if result == nil {
			// First thing we parse
			result = right
			resultPrio = prefixPrio
			if result != nil && resultPrio >= statementPrio {
				newStatement = false
			}
		} else if left != nil {
			// We have left and an infix operator, looking for right
			if infixPrio < statementPrio {
				newStatement = true
				isExpression = false
			}

			if prefixPrio != defaultPrio {
				// `A and not B`: push "A and", start over with "not"
				stPos := pos
				if newStatement {
					stPos = left.Position()
				}
				stack = append(stack, pendingOp{infix, left, infixPrio, stPos})
				left = nil
				result = right
				resultPrio = prefixPrio
			} else {
				for len(stack) > 0 {
					prev := &stack[len(stack)-1]
					// A + B * C, we got `*`: keep A+ on the stack. Odd
					// priorities become right-associative by clearing
					// the low bit in the comparison.
					if !done && prev.priority != defaultPrio &&
						infixPrio > (prev.priority&^1) {
						break
					}
					left = p.reduce(prev, left)
					stack = stack[:len(stack)-1]
				}

				if done {
					result = left
				} else {
					stPos := pos
					if newStatement {
						stPos = left.Position()
					}
					stack = append(stack, pendingOp{infix, left, infixPrio, stPos})
					result = nil
				}
				left = nil
			}
		} else if right != nil {
			// A prefix application, or a juxtaposed operand
			if prefixPrio < statementPrio {
				newStatement = true
				isExpression = false
			}

			if prefixPrio <= resultPrio {
				// Something like "A.B x,y" -> "(A.B) (x,y)"
				for len(stack) > 0 {
					prev := &stack[len(stack)-1]
					if !done && prev.priority != defaultPrio &&
						resultPrio > (prev.priority&^1) {
						break
					}
					result = p.reduce(prev, result)
					stack = stack[:len(stack)-1]
				}
			}

			// A prefix at the start of a line makes a statement
			if !isExpression {
				if resultPrio > statementPrio {
					if len(stack) == 0 || stack[len(stack)-1].priority < statementPrio {
						resultPrio = statementPrio
					}
				}
			}

			stack = append(stack, pendingOp{prefixOpcode, result, resultPrio, pos})
			result = right
			resultPrio = prefixPrio
		}
	}

	if len(stack) > 0 {
		if result == nil {
			last := stack[len(stack)-1]
			if last.opcode != "\n" && last.opcode != prefixOpcode {
				result = &tree.Postfix{Left: last.argument,
					Right: &tree.Name{Value: last.opcode, Pos: last.position},
					Pos:   last.position}
			} else {
				result = last.argument
			}
			stack = stack[:len(stack)-1]
		}

		for len(stack) > 0 {
			prev := &stack[len(stack)-1]
			result = p.reduce(prev, result)
			stack = stack[:len(stack)-1]
		}
	}

	return result
}

// reduce applies a suspended operator to the operand that completed it.
func (p *Parser) reduce(prev *pendingOp, operand tree.Tree) tree.Tree {
	if prev.opcode == prefixOpcode {
		return p.createPrefix(prev.argument, operand, prev.position)
	}
	return &tree.Infix{Name: prev.opcode,
		Left: prev.argument, Right: operand, Pos: prev.position}
}
