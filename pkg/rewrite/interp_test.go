package rewrite_test

import (
	"context"
	"os"
	"testing"

	"github.com/dagger/testctx"
	"github.com/dagger/testctx/oteltest"
	"github.com/stretchr/testify/require"

	"github.com/vito/arbor/pkg/rewrite"
	"github.com/vito/arbor/pkg/tree"
)

func TestMain(m *testing.M) {
	os.Exit(oteltest.Main(m))
}

type EvalSuite struct{}

func TestEval(tT *testing.T) {
	testctx.New(tT,
		oteltest.WithTracing[*testing.T](),
		oteltest.WithLogging[*testing.T](),
	).RunTests(EvalSuite{})
}

// evalSource runs a program and returns the value of its last statement.
func evalSource(t *testctx.T, w *world, source string) tree.Tree {
	t.Helper()
	program := w.parse(t, source)
	result, err := w.interp.Run(w.scope, program)
	require.NoError(t, err)
	return result
}

func requireInteger(t *testctx.T, expected int64, result tree.Tree) {
	t.Helper()
	iv, ok := result.(*tree.Integer)
	require.True(t, ok, "expected integer %d, got %s", expected, result)
	require.Equal(t, expected, iv.Value)
}

func (EvalSuite) TestArithmetic(ctx context.Context, t *testctx.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"2 + 3", 5},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 - 3 - 2", 5},
		{"7 / 2", 3},
		{"7 rem 2", 1},
		{"2 ^ 10", 1024},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(ctx context.Context, t *testctx.T) {
			w := newWorld(t)
			requireInteger(t, tt.expected, evalSource(t, w, tt.input))
		})
	}
}

func (EvalSuite) TestRealArithmetic(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	result := evalSource(t, w, "1.5 + 2.25")
	rv, ok := result.(*tree.Real)
	require.True(t, ok, "got %s", result)
	require.Equal(t, 3.75, rv.Value)
}

func (EvalSuite) TestComparisons(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	require.True(t, tree.IsNamed(evalSource(t, w, "1 < 2"), "true"))
	require.True(t, tree.IsNamed(evalSource(t, newWorld(t), "2 < 1"), "false"))
	require.True(t, tree.IsNamed(evalSource(t, newWorld(t), "3 = 3"), "true"))
	require.True(t, tree.IsNamed(evalSource(t, newWorld(t), "3 <> 3"), "false"))
	require.True(t, tree.IsNamed(evalSource(t, newWorld(t), "true and false"), "false"))
	require.True(t, tree.IsNamed(evalSource(t, newWorld(t), "true or false"), "true"))
	require.True(t, tree.IsNamed(evalSource(t, newWorld(t), "not false"), "true"))
}

func (EvalSuite) TestUserRewrites(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	result := evalSource(t, w, "foo X:integer, Y is X + Y\nfoo 3, 4")
	requireInteger(t, 7, result)
}

func (EvalSuite) TestFactorial(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	result := evalSource(t, w, "0! is 1\nN! when N>0 is N * (N-1)!\n3!")
	requireInteger(t, 6, result)
}

func (EvalSuite) TestConditional(ctx context.Context, t *testctx.T) {
	// The bootstrap library declares if-then-else as ordinary rewrites
	w := newWorld(t)
	result := evalSource(t, w, "if true then 1 else 2")
	requireInteger(t, 1, result)

	result = evalSource(t, newWorld(t), "if false then 1 else 2")
	requireInteger(t, 2, result)

	// The condition may be computed
	result = evalSource(t, newWorld(t), "if 1 < 2 then 10 else 20")
	requireInteger(t, 10, result)

	// Unevaluated branches stay unevaluated: the unbound name comes back
	result = evalSource(t, newWorld(t), "if true then A else B")
	require.True(t, tree.IsNamed(result, "A"), "got %s", result)
}

func (EvalSuite) TestNewlineElse(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	result := evalSource(t, w, "if 2 < 1 then 10\nelse 20")
	requireInteger(t, 20, result)
}

func (EvalSuite) TestSequences(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	result := evalSource(t, w, "x is 2\ny is 3\nx + y")
	requireInteger(t, 5, result)

	// The value of a sequence is its last statement's value
	result = evalSource(t, newWorld(t), "1 + 1\n2 + 2")
	requireInteger(t, 4, result)
}

func (EvalSuite) TestClosureCapture(ctx context.Context, t *testctx.T) {
	w := newWorld(t)

	// The block argument is not evaluated at the call site; it captures
	// the caller's scope, where X is 17, and evaluates under AtoB.
	evalSource(t, w, "X is 17\nAtoB T is T\nAtoB { write X+1 }")
	require.Equal(t, "18", w.out.String())
}

func (EvalSuite) TestClosureContract(ctx context.Context, t *testctx.T) {
	w := newWorld(t)

	scope := rewrite.NewScope(w.scope)
	scope.DefineName("n", &tree.Integer{Value: 5})

	expr := w.parse(t, "n + 1")
	closure := rewrite.MakeClosure(scope, expr)

	captured, inside, ok := rewrite.IsClosure(closure)
	require.True(t, ok)
	require.Equal(t, scope, captured)
	require.True(t, tree.Equal(expr, inside))

	// An ordinary prefix of the same shape is not a closure
	_, _, ok = rewrite.IsClosure(w.parse(t, "f x"))
	require.False(t, ok)

	// Evaluating the closure sees the captured binding
	result, err := w.interp.Evaluate(w.scope, closure)
	require.NoError(t, err)
	requireInteger(t, 6, result)

	// Constants need no capture
	lit := &tree.Integer{Value: 3}
	require.Equal(t, tree.Tree(lit), rewrite.MakeClosure(scope, lit))
}

func (EvalSuite) TestWrite(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	evalSource(t, w, `writeln "hello"`)
	require.Equal(t, "hello\n", w.out.String())

	w2 := newWorld(t)
	evalSource(t, w2, `write 1+2`)
	require.Equal(t, "3", w2.out.String())
}

func (EvalSuite) TestTextBuiltins(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	result := evalSource(t, w, `"foo" & "bar"`)
	text, ok := result.(*tree.Text)
	require.True(t, ok, "got %s", result)
	require.Equal(t, "foobar", text.Value)

	result = evalSource(t, newWorld(t), `length "hello"`)
	requireInteger(t, 5, result)
}

func (EvalSuite) TestAssignment(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	result := evalSource(t, w, "x := 5\nx + 1")
	requireInteger(t, 6, result)

	// Reassignment updates in place
	result = evalSource(t, newWorld(t), "x := 5\nx := 7\nx")
	requireInteger(t, 7, result)
}

func (EvalSuite) TestRuntimeDeconstruction(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	result := evalSource(t, w,
		"data p.q\nT is p.q\ntail A.B, N is B\ntail T, 5")
	require.True(t, tree.IsNamed(result, "q"), "got %s", result)
}

func (EvalSuite) TestGuardSelection(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	source := `sign X:integer when X > 0 is 1
sign X:integer when X < 0 is 0 - 1
sign X:integer is 0
sign 5`
	requireInteger(t, 1, evalSource(t, w, source))

	w2 := newWorld(t)
	source = `sign X:integer when X > 0 is 1
sign X:integer when X < 0 is 0 - 1
sign X:integer is 0
sign 0`
	requireInteger(t, 0, evalSource(t, w2, source))
}

func (EvalSuite) TestTypeAnnotationEval(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	requireInteger(t, 1, evalSource(t, w, "1:integer"))

	// Implicit conversion from integer to real
	result := evalSource(t, newWorld(t), "1:real")
	rv, ok := result.(*tree.Real)
	require.True(t, ok, "got %s", result)
	require.Equal(t, 1.0, rv.Value)

	// On a mismatch the annotated tree is the value
	result = evalSource(t, newWorld(t), `1:text`)
	require.Equal(t, tree.KindInfix, result.Kind())
}

func (EvalSuite) TestNoFormMatches(ctx context.Context, t *testctx.T) {
	w := newWorld(t)

	// An unreducible form is left as-is, and the failure is diagnosed
	program := w.parse(t, "frobnicate 42")
	result, err := w.interp.Evaluate(w.scope, program)
	require.NoError(t, err)
	require.Equal(t, tree.KindPrefix, result.Kind())
	require.True(t, w.errs.HadErrors())
}

func (EvalSuite) TestFuel(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	w.interp.Fuel = 10

	program := w.parse(t, "loop X is loop X\nloop 1")
	_, err := w.interp.Run(w.scope, program)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fuel")
}

func (EvalSuite) TestTreeAccessors(ctx context.Context, t *testctx.T) {
	w := newWorld(t)
	result := evalSource(t, w, "data a.b\nleft (a.b)")
	require.True(t, tree.IsNamed(result, "a"), "got %s", result)

	result = evalSource(t, newWorld(t), "data a.b\nkind (a.b)")
	require.True(t, tree.IsNamed(result, "infix"), "got %s", result)
}

func (EvalSuite) TestScopedDefinitions(ctx context.Context, t *testctx.T) {
	w := newWorld(t)

	// Definitions inside an indented block do not leak out
	source := "run B is B\nrun\n    x is 9\n    x + 1"
	result := evalSource(t, w, source)
	requireInteger(t, 10, result)
}
