package rewrite_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vito/arbor/pkg/infer"
	"github.com/vito/arbor/pkg/rewrite"
	"github.com/vito/arbor/pkg/tree"
)

// substitute replaces bound parameter names in a pattern by their bound
// values, dropping type annotations and guards, so the binding law can be
// checked: a Perfect binding substituted into the pattern gives back the
// value.
func substitute(pattern tree.Tree, bindings map[string]tree.Tree) tree.Tree {
	switch x := pattern.(type) {
	case *tree.Name:
		if value, ok := bindings[x.Value]; ok {
			return value
		}
		return x
	case *tree.Infix:
		if x.Name == ":" || x.Name == "as" || x.Name == "when" {
			return substitute(x.Left, bindings)
		}
		return &tree.Infix{Name: x.Name,
			Left:  substitute(x.Left, bindings),
			Right: substitute(x.Right, bindings)}
	case *tree.Prefix:
		return &tree.Prefix{
			Left:  substitute(x.Left, bindings),
			Right: substitute(x.Right, bindings)}
	case *tree.Postfix:
		return &tree.Postfix{
			Left:  substitute(x.Left, bindings),
			Right: substitute(x.Right, bindings)}
	case *tree.Block:
		return substitute(x.Child, bindings)
	}
	return pattern
}

func candidatesFor(t *testing.T, w *world, source, call string) ([]*rewrite.Candidate, tree.Tree) {
	t.Helper()
	program := w.parse(t, source)
	w.scope.ProcessDeclarations(program)
	form := w.parse(t, call)
	candidates, err := rewrite.Candidates(w.scope, form, w.positions)
	require.NoError(t, err)
	return candidates, form
}

func TestBindingLaw(t *testing.T) {
	// If a pattern binds a value, substituting the bindings into the
	// pattern yields the value back.
	tests := []struct {
		name   string
		define string
		call   string
	}{
		{
			name:   "two parameters",
			define: "foo X:integer, Y is X + Y",
			call:   "foo 3, 4",
		},
		{
			name:   "structural infix",
			define: "swap A - B is B - A",
			call:   "swap 1 - 2",
		},
		{
			name:   "postfix",
			define: "N! is N",
			call:   "7!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			candidates, form := candidatesFor(t, w, tt.define, tt.call)
			require.NotEmpty(t, candidates)

			c := candidates[0]
			bindings := map[string]tree.Tree{}
			for _, b := range c.Bindings {
				bindings[b.Name.Value] = b.Value
			}

			pattern := c.Rewrite.Left
			if asDecl := tree.NamedInfix(pattern, "as"); asDecl != nil {
				pattern = asDecl.Left
			}
			reconstructed := substitute(pattern, bindings)
			require.True(t, tree.Equal(form, reconstructed),
				"substituting bindings into %s gives %s, want %s",
				pattern, reconstructed, form)
		})
	}
}

func TestLiteralPatterns(t *testing.T) {
	w := newWorld(t)

	// A literal pattern against the same literal needs no guard; a
	// non-literal argument degrades to a runtime equality condition.
	candidates, _ := candidatesFor(t, w,
		"fib 0 is 0\nfib 1 is 1", "fib 0")
	require.Len(t, candidates, 1, "the literal match is perfect and final")
	require.True(t, candidates[0].Unconditional())

	w2 := newWorld(t)
	w2.scope.DefineName("n", &tree.Integer{Value: 0})
	candidates, _ = candidatesFor(t, w2,
		"fib 0 is 0\nfib 1 is 1", "fib n")
	require.Len(t, candidates, 2, "both candidates stay live behind guards")
	for _, c := range candidates {
		require.NotEmpty(t, c.Conditions, "literal match against a name needs a runtime test")
	}
}

func TestGuardBecomesCondition(t *testing.T) {
	w := newWorld(t)

	candidates, _ := candidatesFor(t, w,
		"0! is 1\nN! when N>0 is N * (N-1)!", "x!")
	require.Len(t, candidates, 2)

	guarded := candidates[1]
	require.NotEmpty(t, guarded.Conditions)
	var calleeGuard bool
	for _, cond := range guarded.Conditions {
		if cond.Callee {
			calleeGuard = true
			require.True(t, tree.IsNamed(cond.Test, "true"),
				"a when guard tests against true")
		}
	}
	require.True(t, calleeGuard, "the when clause must become a callee-side condition")
}

func TestDeferredBindings(t *testing.T) {
	w := newWorld(t)

	candidates, _ := candidatesFor(t, w, "defer T is T", "defer { write x }")
	require.NotEmpty(t, candidates)
	require.Len(t, candidates[0].Bindings, 1)
	require.True(t, candidates[0].Bindings[0].Deferred,
		"a braced block binds as a closure")

	w2 := newWorld(t)
	candidates, _ = candidatesFor(t, w2, "defer T is T", "defer (1 + 2)")
	require.NotEmpty(t, candidates)
	require.False(t, candidates[0].Bindings[0].Deferred,
		"a parenthesized expression is evaluated")
}

func TestIsDeferred(t *testing.T) {
	w := newWorld(t)

	deferred := []string{
		"{ write x }",
		"a; b",
		"f is 1",
	}
	for _, source := range deferred {
		require.True(t, rewrite.IsDeferred(w.parse(t, source)),
			"%q should bind deferred", source)
	}

	immediate := []string{
		"1 + 2",
		"(x)",
		"f x",
		"42",
	}
	for _, source := range immediate {
		require.False(t, rewrite.IsDeferred(w.parse(t, source)),
			"%q should bind eagerly", source)
	}
}

func TestRuntimeInfixDeconstruction(t *testing.T) {
	w := newWorld(t)

	// The argument is a name, not an infix: the binder requires at
	// runtime that it is a `.` infix and deconstructs it.
	candidates, _ := candidatesFor(t, w,
		"data x.y\nT is x.y\ntail A.B, N is B", "tail T, 5")
	require.NotEmpty(t, candidates)

	c := candidates[0]
	var nameCondition bool
	for _, cond := range c.Conditions {
		if text, ok := cond.Test.(*tree.Text); ok && text.Value == "." {
			nameCondition = true
		}
	}
	require.True(t, nameCondition, "deconstruction requires the operator name to match")
}

func TestPerfectStopsEnumeration(t *testing.T) {
	w := newWorld(t)

	// The first perfect candidate is the unique answer; later rules for
	// the same shape are not even collected.
	candidates, _ := candidatesFor(t, w,
		"grab X is 1\ngrab X is 2", "grab 9")
	require.Len(t, candidates, 1)
}

func TestCandidateTypes(t *testing.T) {
	w := newWorld(t)

	candidates, _ := candidatesFor(t, w,
		"double X:integer as integer is X + X", "double 4")
	require.NotEmpty(t, candidates)
	require.True(t, tree.Equal(infer.IntegerType, candidates[0].Type),
		"declared return type flows into the candidate, got %s", candidates[0].Type)
}

func TestDeclaredTreeAcceptsAnyValue(t *testing.T) {
	w := newWorld(t)

	// The parameter is declared tree: an integer argument binds without
	// unification and without a runtime kind check.
	candidates, _ := candidatesFor(t, w,
		"poke X:tree is 1", "poke 42")
	require.NotEmpty(t, candidates)
}
