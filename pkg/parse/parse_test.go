package parse_test

import (
	"context"
	"os"
	"testing"

	"github.com/dagger/testctx"
	"github.com/dagger/testctx/oteltest"
	"github.com/stretchr/testify/require"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/parse"
	"github.com/vito/arbor/pkg/syntax"
	"github.com/vito/arbor/pkg/tree"
)

func TestMain(m *testing.M) {
	os.Exit(oteltest.Main(m))
}

type ParseSuite struct{}

func TestParse(tT *testing.T) {
	testctx.New(tT,
		oteltest.WithTracing[*testing.T](),
		oteltest.WithLogging[*testing.T](),
	).RunTests(ParseSuite{})
}

func parseText(t *testctx.T, source string, opts ...parse.Options) tree.Tree {
	var opt parse.Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	table := syntax.Default()
	positions := &tree.Positions{}
	errs := diag.NewErrors(positions)
	result := parse.Text("test.ab", source, table, positions, errs, opt)
	require.False(t, errs.HadErrors(), "parse errors: %v", errs.Err())
	require.NotNil(t, result)
	return result
}

func num(v int64) tree.Tree   { return &tree.Integer{Value: v} }
func name(v string) tree.Tree { return &tree.Name{Value: v} }

func infix(op string, l, r tree.Tree) tree.Tree {
	return &tree.Infix{Name: op, Left: l, Right: r}
}

func prefix(l, r tree.Tree) tree.Tree {
	return &tree.Prefix{Left: l, Right: r}
}

func postfix(l, r tree.Tree) tree.Tree {
	return &tree.Postfix{Left: l, Right: r}
}

func block(open, close string, child tree.Tree) tree.Tree {
	return &tree.Block{Opening: open, Closing: close, Child: child}
}

func (ParseSuite) TestPrecedence(ctx context.Context, t *testctx.T) {
	tests := []struct {
		name     string
		input    string
		expected tree.Tree
	}{
		{
			name:     "multiplication binds tighter than addition",
			input:    "2 + 3 * 4",
			expected: infix("+", num(2), infix("*", num(3), num(4))),
		},
		{
			name:     "addition groups left",
			input:    "1 - 2 - 3",
			expected: infix("-", infix("-", num(1), num(2)), num(3)),
		},
		{
			name:     "power groups right",
			input:    "2 ^ 3 ^ 4",
			expected: infix("^", num(2), infix("^", num(3), num(4))),
		},
		{
			name:     "parens override precedence",
			input:    "(2 + 3) * 4",
			expected: infix("*", block("(", ")", infix("+", num(2), num(3))), num(4)),
		},
		{
			name:  "comparison binds looser than arithmetic",
			input: "1 + 2 < 3 * 4",
			expected: infix("<",
				infix("+", num(1), num(2)),
				infix("*", num(3), num(4))),
		},
		{
			name:  "type annotation binds tighter than arithmetic",
			input: "x:integer + y:integer",
			expected: infix("+",
				infix(":", name("x"), name("integer")),
				infix(":", name("y"), name("integer"))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(ctx context.Context, t *testctx.T) {
			result := parseText(t, tt.input)
			require.True(t, tree.Equal(tt.expected, result),
				"expected %s, got %s", tt.expected, result)
		})
	}
}

func (ParseSuite) TestUnaryBinaryMinus(ctx context.Context, t *testctx.T) {
	tests := []struct {
		name     string
		input    string
		expected tree.Tree
	}{
		{
			name:     "minus before literal is prefix",
			input:    "-3",
			expected: prefix(name("-"), num(3)),
		},
		{
			name:     "spaced minus is infix",
			input:    "a - b",
			expected: infix("-", name("a"), name("b")),
		},
		{
			name:     "attached minus is infix",
			input:    "a-b",
			expected: infix("-", name("a"), name("b")),
		},
		{
			name:     "space before but not after makes a prefix argument",
			input:    "a -b",
			expected: prefix(name("a"), prefix(name("-"), name("b"))),
		},
		{
			name:     "prefix minus of an expression",
			input:    "-(a)",
			expected: prefix(name("-"), block("(", ")", name("a"))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(ctx context.Context, t *testctx.T) {
			result := parseText(t, tt.input)
			require.True(t, tree.Equal(tt.expected, result),
				"expected %s, got %s", tt.expected, result)
		})
	}
}

func (ParseSuite) TestSignedConstants(ctx context.Context, t *testctx.T) {
	signed := parse.Options{SignedConstants: true}

	result := parseText(t, "-3", signed)
	require.True(t, tree.Equal(num(-3), result), "got %s", result)

	result = parseText(t, "-3.5", signed)
	real, ok := result.(*tree.Real)
	require.True(t, ok, "got %s", result)
	require.Equal(t, -3.5, real.Value)

	// Without the option the prefix survives
	result = parseText(t, "-3")
	require.True(t, tree.Equal(prefix(name("-"), num(3)), result), "got %s", result)
}

func (ParseSuite) TestNewlineBeforeInfix(ctx context.Context, t *testctx.T) {
	// A newline is swallowed before a name that reads as an infix below
	// statement priority.
	result := parseText(t, "a\nelse b")
	require.True(t,
		tree.Equal(infix("else", name("a"), name("b")), result),
		"got %s", result)

	// An ordinary name after a newline is a separate statement
	result = parseText(t, "a\nb")
	require.True(t,
		tree.Equal(infix("\n", name("a"), name("b")), result),
		"got %s", result)
}

func (ParseSuite) TestBlocks(ctx context.Context, t *testctx.T) {
	t.Run("comma list is right associative", func(ctx context.Context, t *testctx.T) {
		result := parseText(t, "(1, 2, 3)")
		expected := block("(", ")",
			infix(",", num(1), infix(",", num(2), num(3))))
		require.True(t, tree.Equal(expected, result), "got %s", result)
	})

	t.Run("empty parens hold an empty name", func(ctx context.Context, t *testctx.T) {
		result := parseText(t, "()")
		require.True(t, tree.Equal(block("(", ")", name("")), result),
			"got %s", result)
	})

	t.Run("brackets", func(ctx context.Context, t *testctx.T) {
		result := parseText(t, "[1, 2]")
		expected := block("[", "]", infix(",", num(1), num(2)))
		require.True(t, tree.Equal(expected, result), "got %s", result)
	})

	t.Run("braces", func(ctx context.Context, t *testctx.T) {
		result := parseText(t, "{ write x }")
		expected := block("{", "}", prefix(name("write"), name("x")))
		require.True(t, tree.Equal(expected, result), "got %s", result)
	})

	t.Run("indent becomes a block", func(ctx context.Context, t *testctx.T) {
		result := parseText(t, "loop\n    body")
		expected := prefix(name("loop"),
			block(tree.IndentOpen, tree.IndentClose, name("body")))
		require.True(t, tree.Equal(expected, result), "got %s", result)
	})

	t.Run("indented statements chain on newlines", func(ctx context.Context, t *testctx.T) {
		result := parseText(t, "loop\n    a\n    b")
		expected := prefix(name("loop"),
			block(tree.IndentOpen, tree.IndentClose,
				infix("\n", name("a"), name("b"))))
		require.True(t, tree.Equal(expected, result), "got %s", result)
	})
}

func (ParseSuite) TestDeclarations(ctx context.Context, t *testctx.T) {
	t.Run("rewrite declaration", func(ctx context.Context, t *testctx.T) {
		result := parseText(t, "foo X:integer, Y is X + Y")
		expected := infix("is",
			infix(",",
				prefix(name("foo"), infix(":", name("X"), name("integer"))),
				name("Y")),
			infix("+", name("X"), name("Y")))
		require.True(t, tree.Equal(expected, result), "got %s", result)
	})

	t.Run("guarded rewrite", func(ctx context.Context, t *testctx.T) {
		result := parseText(t, "N! when N>0 is N * (N-1)!")
		expected := infix("is",
			infix("when",
				postfix(name("N"), name("!")),
				infix(">", name("N"), num(0))),
			infix("*",
				name("N"),
				postfix(block("(", ")", infix("-", name("N"), num(1))), name("!"))))
		require.True(t, tree.Equal(expected, result), "got %s", result)
	})

	t.Run("sequenced declarations", func(ctx context.Context, t *testctx.T) {
		result := parseText(t, "0! is 1\nN! when N>0 is N * (N-1)!\n3!")
		seq, ok := result.(*tree.Infix)
		require.True(t, ok)
		require.Equal(t, "\n", seq.Name)
	})
}

func (ParseSuite) TestComments(ctx context.Context, t *testctx.T) {
	result := parseText(t, "// before\nfoo")
	require.True(t, tree.Equal(name("foo"), result), "got %s", result)
	comments, ok := tree.CommentInfo.Get(result)
	require.True(t, ok, "no comments attached")
	require.Contains(t, comments.Before, "// before")

	result = parseText(t, "a + /* inline */ b")
	require.True(t, tree.Equal(infix("+", name("a"), name("b")), result),
		"got %s", result)
}

func (ParseSuite) TestLongText(ctx context.Context, t *testctx.T) {
	result := parseText(t, "<<hello world>>")
	text, ok := result.(*tree.Text)
	require.True(t, ok, "got %s", result)
	require.Equal(t, "hello world", text.Value)
	require.Equal(t, "<<", text.Opening)
	require.Equal(t, ">>", text.Closing)
}

func (ParseSuite) TestInlineSyntax(ctx context.Context, t *testctx.T) {
	// The grammar is open: a syntax directive declares a new operator
	// mid-stream.
	source := "syntax (INFIX 410 ===)\na === b"
	result := parseText(t, source)
	require.True(t, tree.Equal(infix("===", name("a"), name("b")), result),
		"got %s", result)
}

func (ParseSuite) TestStrings(ctx context.Context, t *testctx.T) {
	result := parseText(t, `"hello"`)
	text, ok := result.(*tree.Text)
	require.True(t, ok)
	require.Equal(t, "hello", text.Value)
	require.Equal(t, `"`, text.Opening)

	result = parseText(t, `'c'`)
	text, ok = result.(*tree.Text)
	require.True(t, ok)
	require.Equal(t, "c", text.Value)
	require.Equal(t, "'", text.Opening)

	result = parseText(t, `"she said ""hi"""`)
	text, ok = result.(*tree.Text)
	require.True(t, ok)
	require.Equal(t, `she said "hi"`, text.Value)
}
