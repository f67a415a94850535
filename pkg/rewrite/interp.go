package rewrite

import (
	"io"
	"log/slog"
	"os"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/tree"
)

// Interp evaluates trees by rewriting. It is one consumer of the binder's
// output; a compiling back end would be another, and both only see the
// Candidate structures.
type Interp struct {
	Errs *diag.Errors
	Out  io.Writer

	// Fuel bounds runaway rewrite loops: each dispatch decrements it, and
	// reaching zero aborts evaluation. Negative means unlimited.
	Fuel int64
}

// NewInterp creates an interpreter with unlimited fuel writing to stdout.
func NewInterp(errs *diag.Errors) *Interp {
	return &Interp{Errs: errs, Out: os.Stdout, Fuel: -1}
}

// step is the decrement-and-check fuel hook invoked at each dispatch.
func (i *Interp) step(pos tree.Pos) error {
	if i.Fuel == 0 {
		return i.Errs.Log(diag.Internal, pos, "evaluation fuel exhausted")
	}
	if i.Fuel > 0 {
		i.Fuel--
	}
	return nil
}

// Evaluate reduces an expression in the given scope until no rewrite
// applies. Non-fatal binding failures leave the tree as it is, so that a
// surrounding form can handle it via another rule.
func (i *Interp) Evaluate(scope *Scope, expr tree.Tree) (tree.Tree, error) {
	for {
		switch t := expr.(type) {
		case *tree.Integer, *tree.Real, *tree.Text:
			return expr, nil

		case *tree.Name:
			bound, _, declScope := scope.BoundWithScope(expr, true)
			if bound == nil {
				// Not an error: the name may be meaningful to a caller
				return expr, nil
			}
			if closureScope, inside, ok := IsClosure(bound); ok {
				scope, expr = closureScope, inside
				continue
			}
			if bound == expr || tree.Equal(bound, t) {
				return bound, nil
			}
			if tree.IsLeaf(bound) && bound.Kind() != tree.KindName {
				return bound, nil
			}
			if IsBuiltinBody(bound) {
				// A name declared directly as a builtin takes no arguments
				opName := tree.AsName(tree.AsPrefix(bound).Right)
				if fn, ok := builtins[opName.Value]; ok {
					return fn(i, scope, expr, nil)
				}
			}
			scope, expr = declScope, bound
			continue

		case *tree.Block:
			// Blocks only matter for precedence; declarations inside get
			// their own scope.
			inner := NewScope(scope)
			hasCode := inner.ProcessDeclarations(t.Child)
			if inner.IsEmpty() {
				inner = scope
			}
			if !hasCode {
				// Only declarations inside: the block is its own value
				return expr, nil
			}
			return i.instructions(inner, t.Child)

		case *tree.Prefix:
			if closureScope, inside, ok := IsClosure(expr); ok {
				scope, expr = closureScope, inside
				continue
			}
			if field, target, ok := IsAccessor(expr); ok {
				if result, ok, err := i.access(scope, field, target); err != nil || ok {
					return result, err
				}
			}
			return i.dispatch(scope, expr)

		case *tree.Infix:
			switch {
			case tree.IsSequence(t.Name):
				inner := NewScope(scope)
				inner.ProcessDeclarations(expr)
				if inner.IsEmpty() {
					inner = scope
				}
				return i.instructions(inner, expr)
			case t.Name == "is":
				// A lone declaration declares in the current scope and
				// has itself as value
				scope.Enter(t)
				return expr, nil
			case t.Name == ":":
				// X:Y checks that X has type Y: the value on a match, an
				// implicit conversion when one applies, and the X:Y tree
				// itself on a mismatch.
				value, err := i.Evaluate(scope, t.Left)
				if err != nil {
					return nil, err
				}
				if converted, ok := convertToType(t.Right, value); ok {
					return converted, nil
				}
				return expr, nil
			case t.Name == ":=":
				value, err := i.Evaluate(scope, t.Right)
				if err != nil {
					return nil, err
				}
				return scope.Assign(t.Left, value), nil
			default:
				return i.dispatch(scope, expr)
			}

		default:
			return i.dispatch(scope, expr)
		}
	}
}

// Run processes a program's declarations into scope and evaluates the
// residual statements, returning the last value.
func (i *Interp) Run(scope *Scope, program tree.Tree) (tree.Tree, error) {
	hasCode := scope.ProcessDeclarations(program)
	if !hasCode {
		return program, nil
	}
	return i.instructions(scope, program)
}

// instructions runs the non-declaration statements of a sequence in order;
// the value is the last statement's.
func (i *Interp) instructions(scope *Scope, expr tree.Tree) (tree.Tree, error) {
	var result tree.Tree = &tree.Name{Value: "", Pos: expr.Position()}
	var err error
	for expr != nil {
		seq := tree.AsInfix(expr)
		if seq != nil && tree.IsSequence(seq.Name) {
			if !isDeclaration(seq.Left) {
				result, err = i.Evaluate(scope, seq.Left)
				if err != nil {
					return nil, err
				}
			}
			expr = seq.Right
			continue
		}
		if !isDeclaration(expr) {
			result, err = i.Evaluate(scope, expr)
			if err != nil {
				return nil, err
			}
		}
		expr = nil
	}
	return result, nil
}

func isDeclaration(expr tree.Tree) bool {
	if infix := tree.AsInfix(expr); infix != nil {
		return infix.Name == "is"
	}
	if prefix := tree.AsPrefix(expr); prefix != nil {
		return tree.IsNamed(prefix.Left, "data")
	}
	return false
}

// access deconstructs a runtime infix value for the binder's left / right /
// name accessor forms.
func (i *Interp) access(scope *Scope, field string, target tree.Tree) (tree.Tree, bool, error) {
	value, err := i.Evaluate(scope, target)
	if err != nil {
		return nil, true, err
	}
	if infix := tree.AsInfix(value); infix != nil {
		switch field {
		case "left":
			return infix.Left, true, nil
		case "right":
			return infix.Right, true, nil
		case "name":
			return &tree.Text{Value: infix.Name, Opening: `"`, Closing: `"`,
				Pos: infix.Pos}, true, nil
		}
	}
	// Not an infix after all; let normal dispatch have a go
	return nil, false, nil
}

// dispatch finds the candidate rewrites for a form and applies the first
// one whose runtime guards hold.
func (i *Interp) dispatch(scope *Scope, expr tree.Tree) (tree.Tree, error) {
	if err := i.step(expr.Position()); err != nil {
		return nil, err
	}

	candidates, err := Candidates(scope, expr, i.Errs.Positions)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		if tree.IsLeaf(expr) && expr.Kind() != tree.KindName {
			return expr, nil
		}
		slog.Debug("no form matches", "expr", expr.String())
		i.Errs.Log(diag.Binding, expr.Position(), "no form matches %s", expr)
		return expr, nil
	}

	cache := map[tree.Tree]tree.Tree{}
	for _, candidate := range candidates {
		result, ok, err := i.tryCandidate(scope, candidate, expr, cache)
		if err != nil {
			return nil, err
		}
		if ok {
			return result, nil
		}
	}

	i.Errs.Log(diag.Binding, expr.Position(),
		"no form matches %s: all %d candidates failed", expr, len(candidates))
	return expr, nil
}

// evalArg evaluates a caller-side value, memoizing per dispatch so that a
// value referenced by both a binding and a condition runs once.
func (i *Interp) evalArg(scope *Scope, value tree.Tree, cache map[tree.Tree]tree.Tree) (tree.Tree, error) {
	if cached, ok := cache[value]; ok {
		return cached, nil
	}
	result, err := i.Evaluate(scope, value)
	if err != nil {
		return nil, err
	}
	cache[value] = result
	return result, nil
}

// tryCandidate installs the bindings, checks kinds and conditions, and
// evaluates the body. A false result means the candidate's runtime guards
// did not hold and the next one should be tried.
func (i *Interp) tryCandidate(caller *Scope, c *Candidate, expr tree.Tree,
	cache map[tree.Tree]tree.Tree) (tree.Tree, bool, error) {

	inner := NewScope(c.Scope)

	var args []tree.Tree
	for _, b := range c.Bindings {
		var value tree.Tree
		var err error
		if b.Deferred {
			value = MakeClosure(caller, b.Value)
		} else {
			value, err = i.evalArg(caller, b.Value, cache)
			if err != nil {
				return nil, false, err
			}
		}
		inner.Define(b.Name, value)
		args = append(args, value)
	}

	for _, kc := range c.Kinds {
		value, err := i.evalArg(caller, kc.Value, cache)
		if err != nil {
			return nil, false, err
		}
		if value.Kind() != kc.Kind {
			return nil, false, nil
		}
	}

	for _, cond := range c.Conditions {
		var value tree.Tree
		var err error
		if cond.Callee {
			value, err = i.Evaluate(inner, cond.Value)
		} else {
			value, err = i.evalArg(caller, cond.Value, cache)
		}
		if err != nil {
			return nil, false, err
		}
		test, err := i.Evaluate(inner, cond.Test)
		if err != nil {
			return nil, false, err
		}
		if !tree.Equal(value, test) {
			return nil, false, nil
		}
	}

	// Guards held: this candidate is chosen, its buffered diagnostics and
	// inferences become real.
	c.vtypes.Commit(c.Analyzer)

	body := c.Rewrite.Right
	switch {
	case IsBuiltinBody(body):
		opName := tree.AsName(tree.AsPrefix(body).Right)
		if opName == nil {
			return nil, false, i.Errs.Log(diag.Internal, body.Position(),
				"malformed builtin body %s", body)
		}
		fn, ok := builtins[opName.Value]
		if !ok {
			return nil, false, i.Errs.Log(diag.Internal, body.Position(),
				"unknown builtin %q", opName.Value)
		}
		result, err := fn(i, inner, expr, args)
		if err != nil {
			return nil, false, err
		}
		return result, true, nil

	case IsNativeBody(body):
		return nil, false, i.Errs.Log(diag.Binding, body.Position(),
			"external body %s cannot be invoked by the interpreter", body)

	case tree.IsNamed(body, "self"):
		// data forms stay as they are
		return expr, true, nil

	default:
		bodyScope := NewScope(inner)
		hasCode := bodyScope.ProcessDeclarations(body)
		if !hasCode {
			return body, true, nil
		}
		result, err := i.instructions(bodyScope, body)
		if err != nil {
			return nil, false, err
		}
		return result, true, nil
	}
}

// Candidates enumerates the rewrites matching a form, in source order, with
// their bindings, guards and inferred types: the binder's output, shared by
// every back end.
func Candidates(scope *Scope, form tree.Tree, positions *tree.Positions) ([]*Candidate, error) {
	sink := diag.NewErrors(positions)
	analyzer := NewAnalyzer(scope, sink)
	rc := &Calls{Analyzer: analyzer}
	scope.Lookup(form, rc.Check, true)
	return rc.Candidates, nil
}
