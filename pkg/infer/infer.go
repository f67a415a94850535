// Package infer implements Damas–Milner style type inference over tree
// shapes. Types are themselves trees: a primitive type is a Name bound in
// the root scope, a generic type variable is a Name minted by this package
// whose value begins with #, and a pattern type is `type (P)` for a shape P.
// Unification equates two type trees by recording one as the base of the
// other in the unifications map.
package infer

import (
	"fmt"
	"maps"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/tree"
)

// Mode selects how strict unification is. In Declaration mode a declared
// type may only narrow generics: a non-generic does not unify with a
// different non-generic unless the declared one covers it.
type Mode int

const (
	Standard Mode = iota
	Declaration
)

// Bindings resolves a type name against the enclosing scope, so that
// user-defined type aliases participate in unification. The scope package
// implements it.
type Bindings interface {
	BoundName(name string) tree.Tree
}

// The primitive type names, bound in the root scope. Identity is by name
// value, not by node pointer: trees are shared by reference but two equal
// names may be distinct nodes.
var (
	TreeType        = typeName("tree")
	IntegerType     = typeName("integer")
	RealType        = typeName("real")
	TextType        = typeName("text")
	CharacterType   = typeName("character")
	BooleanType     = typeName("boolean")
	NameType        = typeName("name")
	SymbolType      = typeName("symbol")
	OperatorType    = typeName("operator")
	InfixType       = typeName("infix")
	PrefixType      = typeName("prefix")
	PostfixType     = typeName("postfix")
	BlockType       = typeName("block")
	DeclarationType = typeName("declaration")
)

func typeName(name string) *tree.Name {
	return &tree.Name{Value: name, Pos: tree.NoPos}
}

// TypeNames lists every primitive type name for root-scope installation.
func TypeNames() []*tree.Name {
	return []*tree.Name{
		TreeType, IntegerType, RealType, TextType, CharacterType,
		BooleanType, NameType, SymbolType, OperatorType,
		InfixType, PrefixType, PostfixType, BlockType, DeclarationType,
	}
}

// Types records the type assigned to each expression and the unifications
// between type trees. A child Types clones its parent and is committed back
// only if its candidate is chosen, so speculative binding never pollutes
// the parent's view.
type Types struct {
	bindings     Bindings
	errs         *diag.Errors
	types        map[tree.Tree]tree.Tree
	unifications map[tree.Tree]tree.Tree
	left, right  tree.Tree // expressions for error reporting
}

var ids uint64

// New creates a top-level inference record.
func New(bindings Bindings, errs *diag.Errors) *Types {
	return &Types{
		bindings:     bindings,
		errs:         errs,
		types:        map[tree.Tree]tree.Tree{},
		unifications: map[tree.Tree]tree.Tree{},
	}
}

// NewChild creates a speculative copy for candidate binding. The child gets
// its own error sink so that a failed candidate's complaints disappear.
func (t *Types) NewChild(bindings Bindings, errs *diag.Errors) *Types {
	return &Types{
		bindings:     bindings,
		errs:         errs,
		types:        maps.Clone(t.types),
		unifications: maps.Clone(t.unifications),
		left:         t.left,
		right:        t.right,
	}
}

// Commit merges a chosen child's inferences back.
func (t *Types) Commit(child *Types) {
	maps.Copy(t.types, child.types)
	maps.Copy(t.unifications, child.unifications)
}

// Errors exposes the sink this record reports into.
func (t *Types) Errors() *diag.Errors { return t.errs }

// NewTypeName mints a fresh generic type variable: #A, #B, ... #Z, #BA. User
// code cannot produce such names; the scanner has no way to spell them.
func (t *Types) NewTypeName(pos tree.Pos) *tree.Name {
	v := ids
	ids++
	name := ""
	for {
		name = string(rune('A'+v%26)) + name
		v /= 26
		if v == 0 {
			break
		}
	}
	return &tree.Name{Value: "#" + name, Pos: pos}
}

// IsGenericName reports whether a name is an engine-minted type variable.
func IsGenericName(name string) bool {
	return len(name) > 0 && name[0] == '#'
}

// IsGeneric reports whether a type tree is a generic type variable.
func IsGeneric(t tree.Tree) bool {
	n := tree.AsName(t)
	return n != nil && IsGenericName(n.Value)
}

// IsTypeName reports whether t is a non-generic type name.
func IsTypeName(t tree.Tree) bool {
	n := tree.AsName(t)
	return n != nil && !IsGenericName(n.Value)
}

// IsTreeType reports whether t is the catch-all tree type.
func IsTreeType(t tree.Tree) bool {
	n := tree.AsName(t)
	return n != nil && n.Value == TreeType.Value
}

// Known returns the type already assigned to expr, without assigning one.
func (t *Types) Known(expr tree.Tree) tree.Tree {
	return t.types[expr]
}

// Type returns the base type assigned to expr, minting a fresh generic if
// none was assigned yet. Constants get their canonical type.
func (t *Types) Type(expr tree.Tree) tree.Tree {
	typ := t.types[expr]
	if typ == nil {
		t.AssignType(expr, nil)
		typ = t.types[expr]
	}
	return t.Base(typ)
}

// AssignType attaches a type to expr, unifying with any previous one. A nil
// type assigns the canonical type for constants and a fresh generic
// otherwise.
func (t *Types) AssignType(expr, typ tree.Tree) bool {
	if existing := t.types[expr]; existing != nil {
		if typ == nil || existing == typ {
			return true
		}
		return t.UnifyExprs(existing, typ, expr, expr)
	}
	if typ == nil {
		switch {
		case tree.IsLeaf(expr) && expr.Kind() != tree.KindName:
			typ = CanonicalType(expr)
		case tree.IsNamed(expr, "true") || tree.IsNamed(expr, "false"):
			typ = BooleanType
		default:
			typ = t.NewTypeName(expr.Position())
		}
	}
	t.types[expr] = typ
	return true
}

// UnifyExprs unifies two types while remembering which expressions they
// belong to, for error messages.
func (t *Types) UnifyExprs(t1, t2, x1, x2 tree.Tree) bool {
	savedLeft, savedRight := t.left, t.right
	t.left, t.right = x1, x2
	ok := t.Unify(t1, t2, Standard)
	t.left, t.right = savedLeft, savedRight
	return ok
}

// Unify equates two type trees. It succeeds when they are equal, when one
// is generic (which then joins the other), when both are the same named
// primitive, or when they are structurally identical patterns. Declaration
// mode additionally accepts a declared type that covers the value type.
func (t *Types) Unify(t1, t2 tree.Tree, mode Mode) bool {
	t1 = t.Base(t1)
	t2 = t.Base(t2)
	if t1 == t2 || tree.Equal(t1, t2) {
		return true
	}

	// Blocks in type position are precedence only
	if b1 := tree.AsBlock(t1); b1 != nil {
		return t.Unify(b1.Child, t2, mode) && t.Join(b1, t2)
	}
	if b2 := tree.AsBlock(t2); b2 != nil {
		return t.Unify(t1, b2.Child, mode) && t.Join(t1, b2)
	}

	// Replace type names by their definitions
	t1 = t.lookupTypeName(t1)
	t2 = t.lookupTypeName(t2)
	if t1 == t2 || tree.Equal(t1, t2) {
		return true
	}

	// A generic unifies with anything by joining
	if IsGeneric(t1) {
		return t.Join(t1, t2)
	}
	if IsGeneric(t2) {
		return t.Join(t1, t2)
	}

	// In declaration mode, success if the declared type covers the other
	if mode == Declaration && Covers(t2, t1) {
		return true
	}

	if IsTypeName(t1) {
		if t.joinConstant(tree.AsName(t1), t2) {
			return true
		}
		return t.typeError(t1, t2)
	}
	if IsTypeName(t2) {
		if t.joinConstant(tree.AsName(t2), t1) {
			return true
		}
		return t.typeError(t1, t2)
	}

	// Pattern types must match structurally
	if pat1 := TypePattern(t1); pat1 != nil {
		if pat2 := TypePattern(t2); pat2 != nil {
			if t.unifyPatterns(pat1, pat2) {
				return t.Join(t1, t2)
			}
			return t.typeError(t1, t2)
		}
		return t.unifyPatternAndValue(pat1, t2)
	}
	if pat2 := TypePattern(t2); pat2 != nil {
		return t.unifyPatternAndValue(pat2, t1)
	}

	return t.typeError(t1, t2)
}

// Base follows the unification chain to its fixed point, compressing the
// path on the way.
func (t *Types) Base(typ tree.Tree) tree.Tree {
	if typ == nil {
		return nil
	}
	chain := typ
	ref, ok := t.unifications[typ]
	for ok {
		typ = ref
		ref, ok = t.unifications[typ]
	}
	for chain != typ {
		next := t.unifications[chain]
		t.unifications[chain] = typ
		chain = next
	}
	return typ
}

// Join uses one type as the base of the other. A proper type name is
// preferred as the base over a generic or a structure, so error messages
// read naturally and later unification can go through the variable.
func (t *Types) Join(base, other tree.Tree) bool {
	if IsTypeName(other) && !IsTypeName(base) {
		base, other = other, base
	} else if IsGeneric(base) {
		base, other = other, base
	}
	base = t.Base(base)
	other = t.Base(other)
	if other != base {
		t.unifications[other] = base
	}
	return true
}

// joinConstant joins a literal constant against a type name.
func (t *Types) joinConstant(typ *tree.Name, cst tree.Tree) bool {
	switch cst.Kind() {
	case tree.KindInteger:
		if typ.Value == IntegerType.Value {
			return t.Join(typ, cst)
		}
		return t.Unify(IntegerType, typ, Standard) && t.Join(cst, IntegerType)
	case tree.KindReal:
		if typ.Value == RealType.Value {
			return t.Join(typ, cst)
		}
		return t.Unify(RealType, typ, Standard) && t.Join(cst, RealType)
	case tree.KindText:
		txt := cst.(*tree.Text)
		if txt.Opening == "'" {
			if typ.Value == CharacterType.Value {
				return t.Join(typ, cst)
			}
			return t.Unify(CharacterType, typ, Standard) && t.Join(cst, CharacterType)
		}
		if typ.Value == TextType.Value {
			return t.Join(typ, cst)
		}
		return t.Unify(TextType, typ, Standard) && t.Join(cst, TextType)
	}
	return tree.Equal(typ, CanonicalType(cst))
}

// TypePattern returns P when typ is `type (P)`, else nil.
func TypePattern(typ tree.Tree) tree.Tree {
	if pfx := tree.AsPrefix(typ); pfx != nil {
		if tree.IsNamed(pfx.Left, "type") {
			return pfx.Right
		}
	}
	return nil
}

// unifyPatterns checks that two patterns describe the same tree shape.
// Names must match by value; renaming is not attempted.
func (t *Types) unifyPatterns(t1, t2 tree.Tree) bool {
	if t1 == t2 {
		return true
	}
	if t1.Kind() != t2.Kind() {
		return false
	}
	switch x1 := t1.(type) {
	case *tree.Integer, *tree.Real, *tree.Text, *tree.Name:
		return tree.Equal(t1, t2)
	case *tree.Infix:
		x2 := t2.(*tree.Infix)
		return x1.Name == x2.Name &&
			t.unifyPatterns(x1.Left, x2.Left) &&
			t.unifyPatterns(x1.Right, x2.Right)
	case *tree.Prefix:
		x2 := t2.(*tree.Prefix)
		return t.unifyPatterns(x1.Left, x2.Left) &&
			t.unifyPatterns(x1.Right, x2.Right)
	case *tree.Postfix:
		x2 := t2.(*tree.Postfix)
		return t.unifyPatterns(x1.Left, x2.Left) &&
			t.unifyPatterns(x1.Right, x2.Right)
	case *tree.Block:
		x2 := t2.(*tree.Block)
		return x1.Opening == x2.Opening && x1.Closing == x2.Closing &&
			t.unifyPatterns(x1.Child, x2.Child)
	}
	return false
}

// unifyPatternAndValue matches a pattern shape against a value type. Names
// in the pattern are variables and unify with the corresponding value.
func (t *Types) unifyPatternAndValue(pat, val tree.Tree) bool {
	switch x1 := pat.(type) {
	case *tree.Integer, *tree.Real, *tree.Text:
		return tree.Equal(pat, val)
	case *tree.Name:
		tp := t.Type(pat)
		tv := t.Type(val)
		return t.UnifyExprs(tp, tv, pat, val)
	case *tree.Infix:
		if x1.Name == ":" {
			return t.Unify(x1.Right, val, Standard)
		}
		if x2 := tree.AsInfix(val); x2 != nil {
			return x1.Name == x2.Name &&
				t.unifyPatternAndValue(x1.Left, x2.Left) &&
				t.unifyPatternAndValue(x1.Right, x2.Right)
		}
	case *tree.Prefix:
		if x2 := tree.AsPrefix(val); x2 != nil {
			return t.unifyPatterns(x1.Left, x2.Left) &&
				t.unifyPatternAndValue(x1.Right, x2.Right)
		}
	case *tree.Postfix:
		if x2 := tree.AsPostfix(val); x2 != nil {
			return t.unifyPatternAndValue(x1.Left, x2.Left) &&
				t.unifyPatterns(x1.Right, x2.Right)
		}
	case *tree.Block:
		if x2 := tree.AsBlock(val); x2 != nil {
			return x1.Opening == x2.Opening && x1.Closing == x2.Closing &&
				t.unifyPatternAndValue(x1.Child, x2.Child)
		}
	}
	return false
}

// lookupTypeName replaces a non-generic type name by its definition when
// the scope binds one.
func (t *Types) lookupTypeName(typ tree.Tree) tree.Tree {
	if name := tree.AsName(typ); name != nil && !IsGenericName(name.Value) {
		if t.bindings != nil {
			if def := t.bindings.BoundName(name.Value); def != nil && !tree.Equal(def, name) {
				t.Join(def, name)
				return t.Base(def)
			}
		}
	}
	return typ
}

func (t *Types) typeError(t1, t2 tree.Tree) bool {
	pos := tree.NoPos
	if t.left != nil {
		pos = t.left.Position()
	}
	if t.left != nil && t.left == t.right {
		t.errs.Log(diag.Type, pos, "type of %s cannot be both %s and %s",
			t.left, t1, t2)
	} else if t.left != nil && t.right != nil {
		t.errs.Log(diag.Type, pos, "cannot unify type %s of %s with type %s of %s",
			t1, t.left, t2, t.right)
	} else {
		t.errs.Log(diag.Type, pos, "cannot unify type %s with %s", t1, t2)
	}
	return false
}

// CanonicalType maps a value to the primitive type its kind implies.
func CanonicalType(value tree.Tree) tree.Tree {
	switch v := value.(type) {
	case *tree.Integer:
		return IntegerType
	case *tree.Real:
		return RealType
	case *tree.Text:
		if v.Opening == "'" {
			return CharacterType
		}
		return TextType
	case *tree.Name:
		switch {
		case v.Value == "true" || v.Value == "false":
			return BooleanType
		case v.Value == "":
			return SymbolType
		case isOperatorName(v.Value):
			return OperatorType
		default:
			return NameType
		}
	case *tree.Infix:
		if v.Name == "is" {
			return DeclarationType
		}
		return InfixType
	case *tree.Prefix:
		return PrefixType
	case *tree.Postfix:
		return PostfixType
	case *tree.Block:
		return BlockType
	}
	return TreeType
}

func isOperatorName(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80)
}

// Covers reports whether type `big` covers type `small` without
// conversion: equal types, the tree type, or real covering integer.
func Covers(big, small tree.Tree) bool {
	if tree.Equal(big, small) {
		return true
	}
	if IsTreeType(big) {
		return true
	}
	bn, sn := tree.AsName(big), tree.AsName(small)
	if bn != nil && sn != nil {
		if bn.Value == RealType.Value && sn.Value == IntegerType.Value {
			return true
		}
	}
	return false
}

// Union returns the type covering both, degrading to tree.
func Union(t1, t2 tree.Tree) tree.Tree {
	if t1 == nil {
		return t2
	}
	if t2 == nil {
		return t1
	}
	if Covers(t1, t2) {
		return t1
	}
	if Covers(t2, t1) {
		return t2
	}
	return TreeType
}

// KindForType maps a declared primitive type name to the node kind a
// runtime check should test for, when the value's static type is tree.
func KindForType(typ tree.Tree) (tree.Kind, bool) {
	n := tree.AsName(typ)
	if n == nil {
		return 0, false
	}
	switch n.Value {
	case IntegerType.Value:
		return tree.KindInteger, true
	case RealType.Value:
		return tree.KindReal, true
	case TextType.Value, CharacterType.Value:
		return tree.KindText, true
	case NameType.Value, BooleanType.Value, SymbolType.Value, OperatorType.Value:
		return tree.KindName, true
	case BlockType.Value:
		return tree.KindBlock, true
	case InfixType.Value, DeclarationType.Value:
		return tree.KindInfix, true
	case PrefixType.Value:
		return tree.KindPrefix, true
	case PostfixType.Value:
		return tree.KindPostfix, true
	}
	return 0, false
}

// DeclaredTypeName resolves a type to its base and, for named types, the
// canonical primitive name it aliases.
func (t *Types) DeclaredTypeName(typ tree.Tree) tree.Tree {
	return t.Base(t.lookupTypeName(t.Base(typ)))
}

func (t *Types) String() string {
	return fmt.Sprintf("Types(%d exprs, %d unifications)",
		len(t.types), len(t.unifications))
}
