package rewrite

import (
	"maps"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/infer"
	"github.com/vito/arbor/pkg/tree"
)

// Analyzer walks an expression, assigning types and collecting the rewrite
// candidates for every call site. It is the driver around infer.Types: the
// inference engine knows nothing about scopes or rules, the analyzer feeds
// it.
type Analyzer struct {
	Scope  *Scope
	Types  *infer.Types
	Rcalls map[tree.Tree]*Calls

	errs        *diag.Errors
	prototyping bool // inside a rewrite pattern: do not evaluate
	matching    bool // matching a pattern: structures may stand for themselves
}

// NewAnalyzer creates a top-level analyzer for the given scope.
func NewAnalyzer(scope *Scope, errs *diag.Errors) *Analyzer {
	return &Analyzer{
		Scope:  scope,
		Types:  infer.New(scope, errs),
		Rcalls: map[tree.Tree]*Calls{},
		errs:   errs,
	}
}

// Child creates a speculative analyzer for candidate binding, reporting
// into its own sink and cloning the inference state.
func (a *Analyzer) Child(scope *Scope, errs *diag.Errors) *Analyzer {
	return &Analyzer{
		Scope:  scope,
		Types:  a.Types.NewChild(scope, errs),
		Rcalls: maps.Clone(a.Rcalls),
		errs:   errs,
	}
}

// Commit merges a chosen child's inferences and candidates back.
func (a *Analyzer) Commit(child *Analyzer) {
	a.Types.Commit(child.Types)
	maps.Copy(a.Rcalls, child.Rcalls)
}

// TypeOf returns the base type of an expression, analyzing it on demand.
func (a *Analyzer) TypeOf(expr tree.Tree) tree.Tree {
	if known := a.Types.Known(expr); known != nil {
		return a.Types.Base(known)
	}
	if expr.Kind() == tree.KindName {
		a.Types.AssignType(expr, nil)
		return a.Types.Type(expr)
	}
	if !a.Do(expr) {
		a.errs.Log(diag.Type, expr.Position(), "unable to assign a type to %s", expr)
		a.Types.AssignType(expr, nil)
	}
	return a.Types.Type(expr)
}

// Do assigns types through the tree, collecting candidates at call sites.
func (a *Analyzer) Do(expr tree.Tree) bool {
	switch t := expr.(type) {
	case *tree.Integer, *tree.Real, *tree.Text:
		return a.doConstant(expr)

	case *tree.Name:
		if !a.Types.AssignType(expr, nil) {
			return false
		}
		return a.Evaluate(expr)

	case *tree.Prefix:
		if !a.Types.AssignType(expr, nil) {
			return false
		}
		// data declarations type as declarations and stop reduction
		if tree.IsNamed(t.Left, "data") {
			return a.Types.AssignType(expr, infer.DeclarationType) &&
				a.Types.AssignType(t.Right, infer.CanonicalType(t.Right))
		}
		return a.Evaluate(expr)

	case *tree.Postfix:
		if !a.Types.AssignType(expr, nil) {
			return false
		}
		return a.Evaluate(expr)

	case *tree.Infix:
		switch {
		case tree.IsSequence(t.Name):
			if !a.Types.AssignType(expr, nil) {
				return false
			}
			return a.statements(expr, t.Left, t.Right)
		case t.Name == ":" || t.Name == "as":
			// X : T sets the type of X and unifies the whole with X
			return a.Types.AssignType(t.Left, t.Right) &&
				a.Do(t.Left) &&
				a.Types.AssignType(expr, nil) &&
				a.unifyExpressions(expr, t.Left)
		case t.Name == "is":
			return a.rewriteDecl(t)
		default:
			if !a.Types.AssignType(expr, nil) {
				return false
			}
			return a.Evaluate(expr)
		}

	case *tree.Block:
		if !a.Types.AssignType(expr, nil) {
			return false
		}
		if a.Do(t.Child) {
			return a.unifyExpressions(expr, t.Child)
		}
		return a.Evaluate(expr)
	}
	return false
}

func (a *Analyzer) doConstant(expr tree.Tree) bool {
	if !a.Types.AssignType(expr, infer.CanonicalType(expr)) {
		return false
	}
	return a.Evaluate(expr)
}

func (a *Analyzer) unifyExpressions(x1, x2 tree.Tree) bool {
	t1 := a.TypeOf(x1)
	t2 := a.TypeOf(x2)
	if t1 == t2 {
		return true
	}
	return a.Types.UnifyExprs(t1, t2, x1, x2)
}

// statements types a sequence; its type is the type of the last
// non-declaration statement.
func (a *Analyzer) statements(expr, left, right tree.Tree) bool {
	if !a.Do(left) {
		return false
	}
	if !a.Do(right) {
		return false
	}
	t2 := a.TypeOf(right)
	if !tree.IsNamed(t2, infer.DeclarationType.Value) {
		return a.unifyExpressions(expr, right)
	}
	return a.unifyExpressions(expr, left)
}

// rewriteDecl types a rewrite `Pattern is Body`: the pattern is analyzed
// in prototyping mode in a child scope, and the body type unifies with the
// pattern type.
func (a *Analyzer) rewriteDecl(what *tree.Infix) bool {
	child := NewScope(a.Scope)
	savedScope := a.Scope
	savedProto := a.prototyping
	a.Scope = child
	a.prototyping = true
	ok := a.Do(what.Left)
	a.prototyping = savedProto
	if !ok {
		a.Scope = savedScope
		a.errs.Log(diag.Parse, what.Pos, "malformed rewrite pattern %s", what.Left)
		return false
	}

	formType := a.TypeOf(what.Left)
	valueType := a.TypeOf(what.Right)
	a.Scope = savedScope
	if !a.Types.AssignType(what, infer.DeclarationType) {
		return false
	}
	if !a.Types.UnifyExprs(valueType, formType, what.Right, what.Left) {
		return false
	}
	if typed := tree.NamedInfix(what.Left, ":"); typed != nil {
		if !a.Types.UnifyExprs(valueType, typed.Right, what.Right, typed.Right) {
			return false
		}
	}
	return true
}

// Evaluate finds candidate rewrites for an expression and infers its type
// as the union of what the candidates return.
func (a *Analyzer) Evaluate(what tree.Tree) bool {
	// Patterns are not evaluated while prototyping
	if a.prototyping {
		return true
	}

	matchingPattern := a.matching
	a.matching = false

	for {
		if block := tree.AsBlock(what); block != nil {
			what = block.Child
			continue
		}
		break
	}

	// Recursive evaluation of the same form shares its candidates
	if _, recursive := a.Rcalls[what]; recursive {
		return true
	}

	rc := &Calls{Analyzer: a}
	a.Rcalls[what] = rc
	a.Scope.Lookup(what, rc.Check, true)

	if len(rc.Candidates) == 0 {
		if tree.IsLeaf(what) && what.Kind() != tree.KindName {
			wtype := a.TypeOf(what)
			return a.Types.UnifyExprs(wtype, what, what, what)
		}
		if matchingPattern && !tree.IsLeaf(what) {
			wtype := a.TypeOf(what)
			return a.Types.UnifyExprs(wtype, what, what, what)
		}
		a.errs.Log(diag.Binding, what.Position(), "no form matches %s", what)
		return false
	}

	// The type is the union of every candidate's type
	typ := a.Types.Base(rc.Candidates[0].Type)
	wtype := a.TypeOf(what)
	for _, candidate := range rc.Candidates[1:] {
		ctype := a.Types.Base(candidate.Type)
		if infer.IsGeneric(ctype) && infer.IsGeneric(wtype) {
			if !a.Types.Join(ctype, typ) {
				return false
			}
			if !a.Types.Join(wtype, typ) {
				return false
			}
			continue
		}
		typ = infer.Union(typ, ctype)
	}

	return a.Types.Unify(typ, wtype, infer.Declaration)
}
