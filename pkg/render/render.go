// Package render prints trees back to source form. For any tree the parser
// produced, rendering and re-parsing yields a structurally equal tree:
// parentheses are emitted exactly where Block nodes are, spacing follows
// the operator classification rules, and indent blocks render as indented
// lines. Comments captured by the parser are re-emitted next to the nodes
// they were attached to.
package render

import (
	"strconv"
	"strings"

	"github.com/vito/arbor/pkg/syntax"
	"github.com/vito/arbor/pkg/tree"
)

// Renderer formats trees against a syntax table.
type Renderer struct {
	syntax *syntax.Table
	buf    strings.Builder
	indent int

	// SignedConstants mirrors the parser option of the same name, so that
	// negative literals print in the form that reparses identically.
	SignedConstants bool
}

// New creates a renderer for the given syntax.
func New(table *syntax.Table) *Renderer {
	return &Renderer{syntax: table}
}

// Source renders a tree to source text.
func (r *Renderer) Source(t tree.Tree) string {
	r.buf.Reset()
	r.indent = 0
	r.render(t)
	return r.buf.String()
}

func (r *Renderer) write(s string) {
	r.buf.WriteString(s)
}

func (r *Renderer) newline() {
	r.buf.WriteString("\n")
	r.buf.WriteString(strings.Repeat("    ", r.indent))
}

func (r *Renderer) renderComments(t tree.Tree, before bool) {
	c, ok := tree.CommentInfo.Get(t)
	if !ok {
		return
	}
	comments := c.Before
	if !before {
		comments = c.After
	}
	for _, comment := range comments {
		if before {
			r.write(comment)
			r.newline()
		} else {
			r.write(" ")
			r.write(comment)
		}
	}
}

func (r *Renderer) render(t tree.Tree) {
	if t == nil {
		return
	}
	r.renderComments(t, true)
	switch x := t.(type) {
	case *tree.Integer:
		if x.Value < 0 && !r.SignedConstants {
			// Without the option there is no literal spelling for a
			// negative constant; print the prefix form.
			r.write("-")
			r.write(strconv.FormatInt(-x.Value, 10))
		} else {
			r.write(strconv.FormatInt(x.Value, 10))
		}

	case *tree.Real:
		s := strconv.FormatFloat(x.Value, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		r.write(s)

	case *tree.Text:
		if len(x.Opening) == 1 {
			// Quoted text: double the quote character to embed it
			quote := x.Opening
			r.write(quote)
			r.write(strings.ReplaceAll(x.Value, quote, quote+quote))
			r.write(quote)
		} else {
			r.write(x.Opening)
			r.write(x.Value)
			r.write(x.Closing)
		}

	case *tree.Name:
		r.write(x.Value)

	case *tree.Block:
		r.renderBlock(x)

	case *tree.Prefix:
		r.render(x.Left)
		if !r.attachedPrefix(x.Left) {
			r.write(" ")
		}
		r.render(x.Right)

	case *tree.Postfix:
		r.render(x.Left)
		if !r.attachedPostfix(x.Right) {
			r.write(" ")
		}
		r.render(x.Right)

	case *tree.Infix:
		r.renderInfix(x)
	}
	r.renderComments(t, false)
}

// attachedPrefix reports whether a prefix operator glues to its operand.
// An operator that also reads as an infix must not be followed by a space,
// or re-parsing would take the infix reading.
func (r *Renderer) attachedPrefix(op tree.Tree) bool {
	name := tree.AsName(op)
	if name == nil || name.Value == "" {
		return false
	}
	if r.syntax.InfixPriority(name.Value) != r.syntax.Default {
		return true
	}
	return false
}

func (r *Renderer) attachedPostfix(op tree.Tree) bool {
	name := tree.AsName(op)
	if name == nil || name.Value == "" {
		return false
	}
	// Symbol postfixes attach: 3! reads better than 3 !
	return !isAlphaName(name.Value)
}

func isAlphaName(s string) bool {
	c := s[0]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func (r *Renderer) renderBlock(x *tree.Block) {
	if x.Opening == tree.IndentOpen {
		r.indent++
		r.newline()
		r.renderStatements(x.Child)
		r.indent--
		r.newline()
		return
	}
	r.write(x.Opening)
	if empty := tree.AsName(x.Child); empty != nil && empty.Value == "" {
		r.write(x.Closing)
		return
	}
	r.render(x.Child)
	r.write(x.Closing)
}

// renderStatements lays a statement sequence out line by line.
func (r *Renderer) renderStatements(t tree.Tree) {
	if seq := tree.AsInfix(t); seq != nil && seq.Name == "\n" {
		r.renderStatements(seq.Left)
		r.newline()
		r.renderStatements(seq.Right)
		return
	}
	r.render(t)
}

func (r *Renderer) renderInfix(x *tree.Infix) {
	switch x.Name {
	case "\n":
		r.renderStatements(x)
	case ";", ",":
		r.render(x.Left)
		r.write(x.Name)
		r.write(" ")
		r.render(x.Right)
	case ".", ":":
		r.render(x.Left)
		r.write(x.Name)
		r.render(x.Right)
	default:
		r.render(x.Left)
		r.write(" ")
		r.write(x.Name)
		r.write(" ")
		r.render(x.Right)
	}
}
