package rewrite

import (
	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/infer"
	"github.com/vito/arbor/pkg/tree"
)

// Strength orders binding outcomes: Failed < Possible < Perfect. Combining
// sub-pattern bindings takes the weaker of the two.
type Strength int

const (
	Failed Strength = iota
	Possible
	Perfect
)

func (s Strength) String() string {
	switch s {
	case Failed:
		return "failed"
	case Possible:
		return "possible"
	}
	return "perfect"
}

// Binding records one parameter bound to a value. Deferred bindings
// receive a closure instead of an evaluated value.
type Binding struct {
	Name     *tree.Name
	Value    tree.Tree
	Deferred bool
}

// Condition is a runtime equality test that must hold for the candidate to
// apply. Guards test the pattern-side expression against true in the
// callee's scope; everything else tests a caller-side value.
type Condition struct {
	Value  tree.Tree
	Test   tree.Tree
	Callee bool // evaluate Value with the bindings in scope
}

// KindCheck is a runtime check that a caller-side value has a given node
// kind, used when the static type degrades to tree.
type KindCheck struct {
	Value tree.Tree
	Kind  tree.Kind
}

// Candidate is one rewrite the binder matched (possibly conditionally)
// against a form: the rule, the bindings, the residual runtime guards and
// kind checks, and the speculative type state to commit if it is chosen.
type Candidate struct {
	Rewrite  *tree.Infix
	Scope    *Scope // scope the rewrite was declared in
	Bindings []Binding

	Conditions []Condition
	Kinds      []KindCheck

	Type     tree.Tree // inferred result type
	Analyzer *Analyzer // speculative child state
	Errs     *diag.Errors

	vtypes  *Analyzer // the caller's view, for typing argument values
	context *Scope    // locals created while binding
}

func newCandidate(rewrite *tree.Infix, declScope *Scope, vtypes *Analyzer) *Candidate {
	errs := diag.NewErrors(vtypes.errs.Positions)
	bindScope := NewScope(declScope)
	return &Candidate{
		Rewrite:  rewrite,
		Scope:    declScope,
		Errs:     errs,
		Analyzer: vtypes.Child(bindScope, errs),
		vtypes:   vtypes,
		context:  bindScope,
	}
}

// Unconditional reports whether no runtime test stands between the
// candidate and its body.
func (c *Candidate) Unconditional() bool {
	return len(c.Conditions) == 0 && len(c.Kinds) == 0
}

func (c *Candidate) condition(value, test tree.Tree, callee bool) {
	c.Conditions = append(c.Conditions, Condition{Value: value, Test: test, Callee: callee})
}

func (c *Candidate) kindCondition(value tree.Tree, k tree.Kind) {
	c.Kinds = append(c.Kinds, KindCheck{Value: value, Kind: k})
}

// valueType types a caller-side value through the caller's view, making
// its candidates visible to this one.
func (c *Candidate) valueType(value tree.Tree) tree.Tree {
	vtype := c.vtypes.TypeOf(value)
	if vtype != nil {
		for value != nil {
			if calls, ok := c.vtypes.Rcalls[value]; ok {
				c.Analyzer.Rcalls[value] = calls
			}
			if block := tree.AsBlock(value); block != nil {
				value = block.Child
			} else {
				value = nil
			}
		}
	}
	return vtype
}

// Bind attempts to bind value to the pattern form, descending both trees
// in lock step.
func (c *Candidate) Bind(form, value tree.Tree) Strength {
	switch pattern := form.(type) {
	case *tree.Integer, *tree.Real, *tree.Text:
		return c.bindConstant(form, value)

	case *tree.Name:
		return c.bindName(pattern, value)

	case *tree.Infix:
		return c.bindInfix(pattern, value)

	case *tree.Prefix:
		// Must be a prefix with the same leading name
		if prefixValue := tree.AsPrefix(value); prefixValue != nil {
			return c.bindBinary(pattern.Left, prefixValue.Left,
				pattern.Right, prefixValue.Right)
		}
		return Failed

	case *tree.Postfix:
		// Must be a postfix with the same trailing name
		if postfixValue := tree.AsPostfix(value); postfixValue != nil {
			return c.bindBinary(pattern.Right, postfixValue.Right,
				pattern.Left, postfixValue.Left)
		}
		return Failed

	case *tree.Block:
		// Blocks are transparent in patterns
		return c.Bind(pattern.Child, value)
	}
	return Failed
}

// bindConstant matches a literal pattern: equal literal is Perfect, a value
// whose type unifies with the literal's base type is Possible behind a
// runtime equality guard, anything else fails.
func (c *Candidate) bindConstant(form, value tree.Tree) Strength {
	if value.Kind() == form.Kind() && tree.Equal(form, value) {
		return Perfect
	}
	if tree.IsLeaf(value) && value.Kind() != tree.KindName {
		// A different literal can never equal this one
		if value.Kind() == form.Kind() {
			return Failed
		}
	}
	vtype := c.valueType(value)
	if vtype == nil {
		return Failed
	}
	if c.unify(vtype, infer.CanonicalType(form), value, form, false) {
		c.condition(value, form, false)
		return Possible
	}
	return Failed
}

func (c *Candidate) bindName(name *tree.Name, value tree.Tree) Strength {
	// The defined form's head stands for itself
	fname := RewriteDefined(c.Rewrite.Left)
	if fname == name {
		return Perfect // degrades through the weaker siblings, if any
	}

	vtype := c.valueType(value)
	if vtype == nil {
		return Failed
	}

	needArg := true
	strength := Perfect

	// If the name is already bound -- a duplicate parameter, or a name
	// defined in an enclosing scope such as true -- require the values to
	// be equal at runtime and the types to unify.
	if bound := c.context.Bound(name, true); bound != nil {
		if bound != name {
			// A name defined as itself is a plain constant; matching it
			// against the same literal name needs no runtime test.
			if tree.Equal(bound, name) && tree.Equal(value, name) {
				return Perfect
			}
			boundType := c.valueType(bound)
			if boundType == nil || !c.unify(vtype, boundType, value, name, false) {
				return Failed
			}
			c.condition(value, name, false)
			needArg = false
			strength = Possible
		}
	}

	nameType := c.Analyzer.TypeOf(name)
	if !c.unify(vtype, nameType, value, name, false) {
		return Failed
	}

	if needArg {
		c.context.Define(name, value)
		c.Bindings = append(c.Bindings, Binding{
			Name:     name,
			Value:    value,
			Deferred: IsDeferred(value),
		})
	}
	return strength
}

func (c *Candidate) bindInfix(pattern *tree.Infix, value tree.Tree) Strength {
	switch pattern.Name {
	case ":", "as":
		// Typed pattern: bind the inner form, then unify the value's type
		// with the declared type in declaration mode.
		inner := pattern.Left
		declType := pattern.Right
		c.Analyzer.Types.AssignType(inner, declType)
		if c.Bind(inner, value) == Failed {
			return Failed
		}
		vtype := c.Analyzer.TypeOf(value)
		if !c.unify(vtype, declType, value, inner, true) {
			return Failed
		}
		if c.Unconditional() {
			return Perfect
		}
		return Possible

	case "when":
		// Guard: bind the inner pattern, type the guard as boolean, and
		// add it as a runtime condition evaluated with the bindings.
		if c.Bind(pattern.Left, value) == Failed {
			return Failed
		}
		guardType := c.Analyzer.TypeOf(pattern.Right)
		if guardType == nil {
			return Failed
		}
		if !c.unify(guardType, infer.BooleanType, pattern.Right, pattern.Left, false) {
			return Failed
		}
		c.condition(pattern.Right, &tree.Name{Value: "true", Pos: pattern.Pos}, true)
		return Possible
	}

	// Structural match on the same operator
	if infixValue := tree.AsInfix(value); infixValue != nil {
		if infixValue.Name == pattern.Name {
			left := c.Bind(pattern.Left, infixValue.Left)
			if left == Failed {
				return Failed
			}
			right := c.Bind(pattern.Right, infixValue.Right)
			if right < left {
				left = right
			}
			return left
		}
	}

	// The value is not a matching infix: it may evaluate to one. Require
	// at runtime that it is an infix of that name, then bind the sides by
	// deconstructing it.
	vtype := c.valueType(value)
	if vtype == nil {
		return Failed
	}
	if !c.unify(vtype, infer.InfixType, value, pattern, false) {
		return Failed
	}

	pos := pattern.Pos
	left := c.Bind(pattern.Left, accessor("left", value, pos))
	if left == Failed {
		return Failed
	}
	right := c.Bind(pattern.Right, accessor("right", value, pos))
	if right == Failed {
		return Failed
	}
	c.condition(accessor("name", value, pos),
		&tree.Text{Value: pattern.Name, Opening: `"`, Closing: `"`, Pos: pos}, false)
	if right < left {
		left = right
	}
	// Deconstructing at runtime is never unconditional
	if left > Possible {
		left = Possible
	}
	return left
}

// accessor builds the runtime deconstruction form `left V` / `right V` /
// `name V` the interpreter understands natively.
func accessor(field string, value tree.Tree, pos tree.Pos) tree.Tree {
	return &tree.Prefix{
		Left:  &tree.Name{Value: field, Pos: pos},
		Right: value,
		Pos:   pos,
	}
}

// IsAccessor recognizes the runtime deconstruction forms the binder emits.
func IsAccessor(t tree.Tree) (string, tree.Tree, bool) {
	if pfx := tree.AsPrefix(t); pfx != nil {
		if n := tree.AsName(pfx.Left); n != nil {
			switch n.Value {
			case "left", "right", "name":
				return n.Value, pfx.Right, true
			}
		}
	}
	return "", nil, false
}

// bindBinary matches a prefix or postfix: the operator names must be
// identical, then the operand side binds normally.
func (c *Candidate) bindBinary(form1, value1, form2, value2 tree.Tree) Strength {
	formName := tree.AsName(form1)
	if formName == nil {
		return Failed
	}
	valueName := tree.AsName(value1)
	if valueName == nil {
		return Failed
	}
	if formName.Value != valueName.Value {
		return Failed
	}
	return c.Bind(form2, value2)
}

// unify checks type unification for the candidate. When the value's static
// type is the catch-all tree, a runtime kind check replaces compile-time
// unification.
func (c *Candidate) unify(valueType, formType, value, form tree.Tree, declaration bool) bool {
	refType := c.Analyzer.Types.DeclaredTypeName(valueType)
	declared := c.Analyzer.Types.DeclaredTypeName(formType)

	// A value whose static type is tree may still have the right shape:
	// record a runtime kind check instead of unifying at bind time.
	if infer.IsTreeType(refType) {
		if k, ok := infer.KindForType(declared); ok {
			c.kindCondition(value, k)
		}
		return true
	}
	// A declared tree type accepts any value
	if infer.IsTreeType(declared) {
		return true
	}

	mode := infer.Standard
	if declaration {
		mode = infer.Declaration
	}
	return c.Analyzer.Types.Unify(valueType, formType, mode)
}

// IsDeferred reports whether a value passed in this position is captured
// as a closure instead of being evaluated: braced and indented blocks,
// statement sequences, and function definitions.
func IsDeferred(value tree.Tree) bool {
	if block := tree.AsBlock(value); block != nil {
		if block.Opening == tree.IndentOpen || block.Opening == "{" {
			return true
		}
		if infix := tree.AsInfix(block.Child); infix != nil {
			value = infix
		}
	}
	if infix := tree.AsInfix(value); infix != nil {
		return tree.IsSequence(infix.Name) || infix.Name == "is"
	}
	return false
}

// Calls identifies how to invoke rewrites for one particular form.
type Calls struct {
	Analyzer   *Analyzer
	Candidates []*Candidate
}

// Check is the Lookup visitor: it binds the form against one candidate
// rule, records the candidate if binding did not fail, and short-circuits
// the walk on a perfect match.
func (rc *Calls) Check(_, declScope *Scope, what tree.Tree, candidate *tree.Infix) tree.Tree {
	c := newCandidate(candidate, declScope, rc.Analyzer)
	btypes := c.Analyzer

	form := candidate.Left
	defined := RewriteDefined(form)
	declType := RewriteType(form)
	var typ tree.Tree
	if declType != nil {
		typ = declType
	}

	// Bind through the `when` qualifier so the guard becomes a runtime
	// condition; only the `as` return type is stripped off first.
	bindForm := form
	if asDecl := tree.NamedInfix(bindForm, "as"); asDecl != nil {
		bindForm = asDecl.Left
	}

	binding := c.Bind(bindForm, what)
	if binding == Failed {
		return nil
	}

	// Binding worked; typecheck the body
	body := candidate.Right
	builtin := false
	if body != nil {
		if typ != nil {
			if !btypes.Types.AssignType(body, typ) ||
				!btypes.Types.AssignType(what, typ) {
				binding = Failed
			}
		}

		if binding != Failed {
			// Builtin, external and self bodies are opaque to typing
			builtin = IsBuiltinBody(body) || IsNativeBody(body) ||
				tree.IsNamed(body, "self")
			if !builtin {
				inner := NewScope(c.context)
				inner.ProcessDeclarations(body)
				savedScope := btypes.Scope
				btypes.Scope = inner
				typ = btypes.TypeOf(body)
				btypes.Scope = savedScope
				if typ == nil {
					binding = Failed
				}
			} else if declType == nil {
				typ = btypes.Types.NewTypeName(body.Position())
				btypes.Types.AssignType(body, typ)
			}
		}
	}

	if binding != Failed && typ != nil {
		if !btypes.Types.AssignType(form, typ) {
			binding = Failed
		}
		if defined != form && binding != Failed {
			if !btypes.Types.AssignType(defined, typ) {
				binding = Failed
			}
		}
	}

	// Errors during speculative binding fail the candidate; they stay in
	// the candidate's buffered sink and never reach the user unless every
	// candidate fails.
	if c.Errs.HadErrors() {
		binding = Failed
	}

	if binding != Failed {
		if !btypes.Types.AssignType(what, typ) {
			binding = Failed
		}
	}

	if binding != Failed {
		c.Type = btypes.Types.Base(typ)
		rc.Candidates = append(rc.Candidates, c)
	}

	// Keep going unless the binding was perfect
	if binding == Perfect {
		return what
	}
	return nil
}

// IsBuiltinBody recognizes `builtin Name` bodies.
func IsBuiltinBody(body tree.Tree) bool {
	if pfx := tree.AsPrefix(body); pfx != nil {
		return tree.IsNamed(pfx.Left, "builtin")
	}
	return false
}

// IsNativeBody recognizes `C Name` external bodies, accepted in
// declarations but not invokable by the interpreter.
func IsNativeBody(body tree.Tree) bool {
	if tree.IsNamed(body, "C") {
		return true
	}
	if pfx := tree.AsPrefix(body); pfx != nil {
		return tree.IsNamed(pfx.Left, "C")
	}
	return false
}
