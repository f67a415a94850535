// Package syntax holds the operator tables that drive the parser. Nothing
// about the grammar is hard-coded: priorities, block and comment and text
// delimiters, and nested child syntaxes are all data, normally loaded from
// a .syntax description file at startup and amendable mid-stream by a
// `syntax` directive in source.
package syntax

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Table is one grammar: priorities per operator role, delimiter pairs, the
// token set the scanner needs for maximal munch, and child syntaxes keyed
// by their opening delimiter.
type Table struct {
	// The three special priorities read from the syntax file. The
	// contract is Default < Statement < Function, and every named
	// operator has a priority above Default.
	Statement int
	Function  int
	Default   int

	infix   map[string]int
	prefix  map[string]int
	postfix map[string]int

	blocks   map[string]string
	texts    map[string]string
	comments map[string]string

	knownTokens   map[string]bool
	knownPrefixes map[string]bool

	children  map[string]*Child // opening delimiter -> child syntax
	childFile map[string]string
}

// Child is a nested sub-grammar bound to delimiter pairs, e.g. an embedded
// regular-expression syntax.
type Child struct {
	Table
	Filename   string
	Delimiters map[string]string
}

// New creates an empty table with conventional special priorities. Loading
// a syntax file normally overrides them.
func New() *Table {
	return &Table{
		Statement:     100,
		Function:      200,
		Default:       0,
		infix:         map[string]int{},
		prefix:        map[string]int{},
		postfix:       map[string]int{},
		blocks:        map[string]string{},
		texts:         map[string]string{},
		comments:      map[string]string{},
		knownTokens:   map[string]bool{},
		knownPrefixes: map[string]bool{},
		children:      map[string]*Child{},
		childFile:     map[string]string{},
	}
}

// InfixPriority returns the infix priority of n, or Default.
func (t *Table) InfixPriority(n string) int {
	if p, ok := t.infix[n]; ok && p != 0 {
		return p
	}
	return t.Default
}

// PrefixPriority returns the prefix priority of n, or Default.
func (t *Table) PrefixPriority(n string) int {
	if p, ok := t.prefix[n]; ok && p != 0 {
		return p
	}
	return t.Default
}

// PostfixPriority returns the postfix priority of n, or Default.
func (t *Table) PostfixPriority(n string) int {
	if p, ok := t.postfix[n]; ok && p != 0 {
		return p
	}
	return t.Default
}

// SetInfixPriority declares an infix operator.
func (t *Table) SetInfixPriority(n string, p int) {
	if p != 0 {
		t.infix[n] = p
	}
}

// SetPrefixPriority declares a prefix operator.
func (t *Table) SetPrefixPriority(n string, p int) {
	if p != 0 {
		t.prefix[n] = p
	}
}

// SetPostfixPriority declares a postfix operator.
func (t *Table) SetPostfixPriority(n string, p int) {
	if p != 0 {
		t.postfix[n] = p
	}
}

// BlockDelimiter declares a block delimiter pair with the given priority
// for both delimiters.
func (t *Table) BlockDelimiter(open, close string, priority int) {
	t.blocks[open] = close
	t.blocks[close] = ""
	t.SetInfixPriority(open, priority)
	t.SetInfixPriority(close, priority)
}

// TextDelimiter declares a long-text delimiter pair.
func (t *Table) TextDelimiter(open, close string) {
	t.texts[open] = close
}

// CommentDelimiter declares a comment delimiter pair.
func (t *Table) CommentDelimiter(open, close string) {
	t.comments[open] = close
}

// IsBlock reports whether open starts a block, returning its closing
// delimiter.
func (t *Table) IsBlock(open string) (string, bool) {
	close, ok := t.blocks[open]
	if !ok || close == "" {
		return "", false
	}
	return close, true
}

// IsComment reports whether open starts a comment.
func (t *Table) IsComment(open string) (string, bool) {
	close, ok := t.comments[open]
	return close, ok && close != ""
}

// IsTextDelimiter reports whether open starts long text.
func (t *Table) IsTextDelimiter(open string) (string, bool) {
	close, ok := t.texts[open]
	return close, ok && close != ""
}

// SpecialSyntax returns the child syntax opened by the given name, along
// with its closing delimiter.
func (t *Table) SpecialSyntax(open string) (*Child, string, bool) {
	file, ok := t.childFile[open]
	if !ok {
		return nil, "", false
	}
	child, ok := t.children[file]
	if !ok {
		return nil, "", false
	}
	close, ok := child.Delimiters[open]
	if !ok {
		return nil, "", false
	}
	return child, close, true
}

// Known implements scan.Tokens.
func (t *Table) Known(s string) bool { return t.knownTokens[s] }

// KnownPrefix implements scan.Tokens.
func (t *Table) KnownPrefix(s string) bool { return t.knownPrefixes[s] }

// KnowToken records a token and its proper prefixes for the scanner.
func (t *Table) KnowToken(s string) {
	for i := 1; i < len(s); i++ {
		t.knownPrefixes[s[:i]] = true
	}
	t.knownTokens[s] = true
}

// FindSyntaxFile resolves a child syntax name (e.g. "C") to a .syntax file.
// The CLI replaces it with a resolver that honors the project's library
// paths; the default looks next to the working directory.
var FindSyntaxFile = func(name string) (string, error) {
	for _, dir := range []string{".", "lib"} {
		path := filepath.Join(dir, name+".syntax")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errors.Errorf("no syntax file for %q", name)
}

// loadChild loads (once) the child syntax with the given name.
func (t *Table) loadChild(name string) (*Child, error) {
	path, err := FindSyntaxFile(name)
	if err != nil {
		return nil, err
	}
	if child, ok := t.children[path]; ok {
		return child, nil
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading child syntax %q", name)
	}
	child := &Child{
		Table:      *New(),
		Filename:   path,
		Delimiters: map[string]string{},
	}
	if err := child.ReadSyntaxSource(path, string(source)); err != nil {
		return nil, err
	}
	t.children[path] = child
	return child, nil
}
