// Package rewrite implements the symbol table, the pattern binder and the
// dispatcher: everything between a parsed tree and its value.
//
// A scope holds declarations as AST fragments. Each rewrite `Pattern is
// Body` is stored in a binary tree ordered by a shape-sensitive hash of the
// pattern, so local lookup is logarithmic; looking a form up walks down the
// bits of the form's hash and visits every rule along the path, then
// continues in the parent scope.
package rewrite

import (
	"fmt"
	"io"
	"strings"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/tree"
)

// Rewrite is one entry in a scope's rule table: the declaration plus the
// two hash-ordered children.
type Rewrite struct {
	Decl        *tree.Infix // the `is` declaration
	left, right *Rewrite
}

// Scope is a chained record of rewrites. Children hold a reference to
// their parent; lookup walks outward. Scopes are plain records rather than
// reused AST nodes to keep the walk free of variant dispatch, but AsTree
// projects a scope back to AST when the language introspects it.
type Scope struct {
	Parent   *Scope
	rewrites *Rewrite
	Pos      tree.Pos

	errs *diag.Errors // root only; children reach through Parent
}

// NewRoot creates a top-level scope reporting into errs.
func NewRoot(errs *diag.Errors) *Scope {
	return &Scope{errs: errs}
}

// NewScope pushes an inner scope.
func NewScope(parent *Scope) *Scope {
	return &Scope{Parent: parent, Pos: tree.NoPos}
}

// Errors returns the sink shared along the scope chain.
func (s *Scope) Errors() *diag.Errors {
	for s.Parent != nil {
		s = s.Parent
	}
	return s.errs
}

// IsEmpty reports whether the scope has no local declarations.
func (s *Scope) IsEmpty() bool { return s.rewrites == nil }

// rewritesForKind records which kinds have any rewrite at all, to skip
// useless lookups for constants. The core is single-threaded.
var rewritesForKind uint32

// HasRewritesFor reports whether any rewrite was entered for kind k.
func HasRewritesFor(k tree.Kind) bool {
	return rewritesForKind&(1<<uint(k)) != 0
}

// RewriteDefined strips the qualifiers off a pattern: `X as T`, `X : T` and
// `X when Cond` all define X, and an outermost block is transparent.
func RewriteDefined(form tree.Tree) tree.Tree {
	if decl := tree.AsInfix(form); decl != nil {
		if decl.Name == "as" || decl.Name == ":" {
			form = decl.Left
		}
	}
	if decl := tree.AsInfix(form); decl != nil {
		if decl.Name == "when" {
			form = decl.Left
		}
	}
	if block := tree.AsBlock(form); block != nil {
		form = block.Child
	}
	return form
}

// RewriteType returns T for a declaration `X as T`, or nil.
func RewriteType(form tree.Tree) tree.Tree {
	if decl := tree.AsInfix(form); decl != nil && decl.Name == "as" {
		return decl.Right
	}
	return nil
}

// hashText mixes at most eight bytes of text.
func hashText(t string) uint64 {
	h := uint64(0)
	l := len(t)
	if l > 8 {
		l = 8
	}
	for i := 0; i < l; i++ {
		h = (h * 0x301) ^ uint64(t[i])
	}
	return h
}

// Hash computes the shape-sensitive hash used to place a pattern in the
// rule tree: the kind plus the principal name (the operator for an infix,
// the leading name for a prefix, the trailing one for a postfix).
func Hash(what tree.Tree) uint64 {
	h := 0xC0DED + 0x29912837*uint64(what.Kind())
	switch t := what.(type) {
	case *tree.Integer:
		h += uint64(t.Value)
	case *tree.Real:
		h += uint64(int64(t.Value * 1e6))
	case *tree.Text:
		h += hashText(t.Value)
	case *tree.Name:
		h += hashText(t.Value)
	case *tree.Block:
		h += hashText(t.Opening)
	case *tree.Infix:
		h += hashText(t.Name)
	case *tree.Prefix:
		if n := tree.AsName(t.Left); n != nil {
			h += hashText(n.Value)
		}
	case *tree.Postfix:
		if n := tree.AsName(t.Right); n != nil {
			h += hashText(n.Value)
		}
	}
	return h
}

// Rehash advances the hash to select the next level of the rule tree.
func Rehash(h uint64) uint64 { return (h >> 1) | (h << 63) }

// validateNames complains about pattern variables that are not names.
func (s *Scope) validateNames(form tree.Tree) {
	switch t := form.(type) {
	case *tree.Name:
		// Operator symbols appear in patterns as structure, never as
		// variables; a bare symbol in variable position is a mistake.
		if t.Value != "" && !isAlpha(t.Value[0]) {
			s.Errors().Log(diag.Binding, t.Pos,
				"the pattern variable %q is not a name", t.Value)
		}
	case *tree.Infix:
		s.validateNames(t.Left)
		s.validateNames(t.Right)
	case *tree.Prefix:
		if t.Left.Kind() != tree.KindName {
			s.validateNames(t.Left)
		}
		s.validateNames(t.Right)
	case *tree.Postfix:
		if t.Right.Kind() != tree.KindName {
			s.validateNames(t.Right)
		}
		s.validateNames(t.Left)
	case *tree.Block:
		s.validateNames(t.Child)
	}
}

func isAlpha(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

// Define enters `form is value` in the scope.
func (s *Scope) Define(form, value tree.Tree) *Rewrite {
	decl := &tree.Infix{Name: "is", Left: form, Right: value, Pos: form.Position()}
	return s.Enter(decl)
}

// DefineName enters `name is value`.
func (s *Scope) DefineName(name string, value tree.Tree) *Rewrite {
	return s.Define(&tree.Name{Value: name, Pos: value.Position()}, value)
}

// Enter inserts a known declaration into the rule tree, walking the hash
// bits to find its slot. Duplicate patterns chain below the original;
// redefining a plain name is reported unless overwrite is requested via
// Assign.
func (s *Scope) Enter(decl *tree.Infix) *Rewrite {
	return s.enter(decl, false)
}

func (s *Scope) enter(decl *tree.Infix, overwrite bool) *Rewrite {
	if decl.Name != "is" {
		return nil
	}

	form := decl.Left
	defined := RewriteDefined(form)
	name := tree.AsName(defined)
	h := Hash(defined)

	rewritesForKind |= 1 << uint(defined.Kind())
	s.validateNames(form)

	parent := &s.rewrites
	for {
		if *parent == nil {
			entry := &Rewrite{Decl: decl}
			*parent = entry
			return entry
		}
		entry := *parent

		// Redefinition check for plain names
		if name != nil {
			declDef := RewriteDefined(entry.Decl.Left)
			if declName := tree.AsName(declDef); declName != nil &&
				declName.Value == name.Value {
				if overwrite {
					entry.Decl = &tree.Infix{Name: "is",
						Left: entry.Decl.Left, Right: decl.Right,
						Pos: entry.Decl.Pos}
					return entry
				}
				s.Errors().Log(diag.Binding, name.Pos,
					"name %q is redefined", name.Value)
			}
		}

		if h&1 != 0 {
			parent = &entry.right
		} else {
			parent = &entry.left
		}
		h = Rehash(h)
	}
}

// LookupFunc visits one candidate declaration; returning non-nil stops the
// walk and becomes Lookup's result.
type LookupFunc func(evalScope, declScope *Scope, what tree.Tree, decl *tree.Infix) tree.Tree

// Lookup walks the rules whose pattern hash matches what's, innermost
// scope first.
func (s *Scope) Lookup(what tree.Tree, fn LookupFunc, recurse bool) tree.Tree {
	if !HasRewritesFor(what.Kind()) {
		return nil
	}
	h0 := Hash(what)
	for scope := s; scope != nil; scope = scope.Parent {
		entry := scope.rewrites
		h := h0
		for entry != nil {
			defined := RewriteDefined(entry.Decl.Left)
			if Hash(defined) == h0 {
				if result := fn(s, scope, what, entry.Decl); result != nil {
					return result
				}
			}
			if h&1 != 0 {
				entry = entry.right
			} else {
				entry = entry.left
			}
			h = Rehash(h)
		}
		if !recurse {
			break
		}
	}
	return nil
}

// Bound returns the body bound to a form whose pattern is exactly that
// form, searching parents. Only leaves match exactly; structured forms go
// through the binder.
func (s *Scope) Bound(form tree.Tree, recurse bool) tree.Tree {
	return s.Lookup(form, func(_, _ *Scope, what tree.Tree, decl *tree.Infix) tree.Tree {
		if tree.IsLeaf(what) {
			if !tree.Equal(what, RewriteDefined(decl.Left)) {
				return nil
			}
		}
		return decl.Right
	}, recurse)
}

// BoundWithScope is Bound, also reporting the declaration and its scope.
func (s *Scope) BoundWithScope(form tree.Tree, recurse bool) (tree.Tree, *tree.Infix, *Scope) {
	var foundDecl *tree.Infix
	var foundScope *Scope
	result := s.Lookup(form, func(_, declScope *Scope, what tree.Tree, decl *tree.Infix) tree.Tree {
		if tree.IsLeaf(what) {
			if !tree.Equal(what, RewriteDefined(decl.Left)) {
				return nil
			}
		}
		foundDecl = decl
		foundScope = declScope
		return decl.Right
	}, recurse)
	return result, foundDecl, foundScope
}

// Reference finds the declaration matching form, if any.
func (s *Scope) Reference(form tree.Tree) *tree.Infix {
	var found *tree.Infix
	s.Lookup(form, func(_, _ *Scope, what tree.Tree, decl *tree.Infix) tree.Tree {
		if tree.IsLeaf(what) {
			if !tree.Equal(what, RewriteDefined(decl.Left)) {
				return nil
			}
		}
		found = decl
		return decl
	}, true)
	return found
}

// Named returns the value bound to a name.
func (s *Scope) Named(name string, recurse bool) tree.Tree {
	return s.Bound(&tree.Name{Value: name, Pos: tree.NoPos}, recurse)
}

// BoundName implements infer.Bindings.
func (s *Scope) BoundName(name string) tree.Tree {
	return s.Named(name, true)
}

// Assign updates an existing declaration in place, or defines a new one.
// When the declaration carries a type (`X as T`), the new value must match
// it.
func (s *Scope) Assign(ref, value tree.Tree) tree.Tree {
	decl := s.Reference(ref)
	if decl == nil {
		if block := tree.AsBlock(ref); block != nil {
			ref = block.Child
		}
		// `X:integer := 3` declares `X as integer`
		if typed := tree.NamedInfix(ref, ":"); typed != nil {
			ref = &tree.Infix{Name: "as", Left: typed.Left, Right: typed.Right,
				Pos: typed.Pos}
		}
		s.Define(ref, value)
		return value
	}

	if typed := tree.NamedInfix(decl.Left, "as"); typed != nil {
		if !valueMatchesType(typed.Right, value) {
			s.Errors().Log(diag.Type, value.Position(),
				"new value %s does not match declared type %s", value, typed.Right)
			return decl.Right
		}
	}

	// Update in place: the declaration node is owned by the rule table.
	decl.Right = value
	return value
}

// valueMatchesType is the runtime check used by assignment.
func valueMatchesType(typ, value tree.Tree) bool {
	n := tree.AsName(typ)
	if n == nil {
		return true
	}
	switch n.Value {
	case "integer":
		return value.Kind() == tree.KindInteger
	case "real":
		return value.Kind() == tree.KindReal || value.Kind() == tree.KindInteger
	case "text":
		return value.Kind() == tree.KindText
	case "boolean":
		return tree.IsNamed(value, "true") || tree.IsNamed(value, "false")
	case "name":
		return value.Kind() == tree.KindName
	case "tree":
		return true
	}
	return true
}

// ProcessDeclarations installs every `is` and `data` declaration found at
// the top level of a (possibly sequenced) tree, and reports whether any
// residual instructions remain for evaluation.
func (s *Scope) ProcessDeclarations(what tree.Tree) bool {
	result := false
	for what != nil {
		var next tree.Tree
		isInstruction := true

		if infix := tree.AsInfix(what); infix != nil {
			switch {
			case infix.Name == "is":
				s.Enter(infix)
				isInstruction = false
			case tree.IsSequence(infix.Name):
				if left := tree.AsInfix(infix.Left); left != nil {
					isInstruction = false
					if left.Name == "is" {
						s.Enter(left)
					} else {
						isInstruction = s.ProcessDeclarations(left)
					}
				} else if left := tree.AsPrefix(infix.Left); left != nil {
					isInstruction = s.ProcessDeclarations(left)
				}
				next = infix.Right
			}
		} else if prefix := tree.AsPrefix(what); prefix != nil {
			if tree.IsNamed(prefix.Left, "data") {
				// A data form rewrites to itself: it cannot be reduced.
				s.Define(prefix.Right, &tree.Name{Value: "self",
					Pos: prefix.Pos})
				isInstruction = false
			}
		}

		result = result || isInstruction
		what = next
	}
	return result
}

// Attribute helpers: attributes are just definitions of specific names in
// the current scope.

// SetOverridePriority records the advisory dispatch priority attribute.
func (s *Scope) SetOverridePriority(priority float64) *Rewrite {
	return s.DefineName("override_priority", &tree.Real{Value: priority, Pos: s.Pos})
}

// SetModulePath records the module_path attribute.
func (s *Scope) SetModulePath(path string) *Rewrite {
	return s.setTextAttribute("module_path", path)
}

// SetModuleDirectory records the module_directory attribute.
func (s *Scope) SetModuleDirectory(dir string) *Rewrite {
	return s.setTextAttribute("module_directory", dir)
}

// SetModuleFile records the module_file attribute.
func (s *Scope) SetModuleFile(file string) *Rewrite {
	return s.setTextAttribute("module_file", file)
}

// SetModuleName records the module_name attribute.
func (s *Scope) SetModuleName(name string) *Rewrite {
	return s.setTextAttribute("module_name", name)
}

func (s *Scope) setTextAttribute(attr, value string) *Rewrite {
	return s.DefineName(attr, &tree.Text{Value: value,
		Opening: `"`, Closing: `"`, Pos: s.Pos})
}

// ListNames collects declarations whose defined name starts with begin,
// for completion. With includePrefixes, prefix definitions like `write X`
// are listed under their leading name.
func (s *Scope) ListNames(begin string, recurse, includePrefixes bool) []*tree.Infix {
	var list []*tree.Infix
	for scope := s; scope != nil; scope = scope.Parent {
		scope.rewrites.listNames(begin, includePrefixes, &list)
		if !recurse {
			break
		}
	}
	return list
}

func (r *Rewrite) listNames(begin string, pfx bool, list *[]*tree.Infix) {
	if r == nil {
		return
	}
	declared := RewriteDefined(r.Decl.Left)
	name := tree.AsName(declared)
	if name == nil && pfx {
		if prefix := tree.AsPrefix(declared); prefix != nil {
			name = tree.AsName(prefix.Left)
		}
	}
	if name != nil && strings.HasPrefix(name.Value, begin) {
		*list = append(*list, r.Decl)
	}
	r.left.listNames(begin, pfx, list)
	r.right.listNames(begin, pfx, list)
}

// AsTree projects the scope to AST: a Prefix whose left is the parent
// projection (an empty name for the root) and whose right is the rewrite
// tree. The language introspects and serializes environments through this.
func (s *Scope) AsTree() tree.Tree {
	var parent tree.Tree
	if s.Parent != nil {
		parent = s.Parent.AsTree()
	} else {
		parent = &tree.Name{Value: "", Pos: tree.NoPos}
	}
	return &tree.Prefix{Left: parent, Right: s.rewrites.asTree(), Pos: s.Pos}
}

func (r *Rewrite) asTree() tree.Tree {
	if r == nil {
		return &tree.Name{Value: "", Pos: tree.NoPos}
	}
	children := &tree.Infix{Name: ";",
		Left: r.left.asTree(), Right: r.right.asTree(), Pos: tree.NoPos}
	return &tree.Infix{Name: "\n", Left: r.Decl, Right: children, Pos: r.Decl.Pos}
}

// Dump writes the scope's declarations for debugging; with recurse, the
// whole chain.
func (s *Scope) Dump(w io.Writer, recurse bool) {
	depth := 0
	for scope := s; scope != nil; scope = scope.Parent {
		fmt.Fprintf(w, "// scope #%d\n", depth)
		scope.rewrites.dump(w)
		if !recurse {
			break
		}
		depth++
	}
}

func (r *Rewrite) dump(w io.Writer) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "%s is %s\n", r.Decl.Left, shortForm(r.Decl.Right))
	r.left.dump(w)
	r.right.dump(w)
}

func shortForm(t tree.Tree) string {
	s := t.String()
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
