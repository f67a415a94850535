package rewrite

import (
	_ "embed"
	"log/slog"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/infer"
	"github.com/vito/arbor/pkg/parse"
	"github.com/vito/arbor/pkg/syntax"
	"github.com/vito/arbor/pkg/tree"
)

//go:embed builtins.ab
var builtinsSource string

// Bootstrap builds the root scope: the primitive type names bound to
// themselves, the boolean constants, and the bootstrap library declaring
// the standard operators over the builtin opcodes.
func Bootstrap(table *syntax.Table, positions *tree.Positions, errs *diag.Errors) *Scope {
	root := NewRoot(errs)

	for _, name := range infer.TypeNames() {
		root.Define(name, name)
	}

	trueName := &tree.Name{Value: "true", Pos: tree.NoPos}
	falseName := &tree.Name{Value: "false", Pos: tree.NoPos}
	selfName := &tree.Name{Value: "self", Pos: tree.NoPos}
	root.Define(trueName, trueName)
	root.Define(falseName, falseName)
	root.Define(selfName, selfName)

	program := parse.Text("builtins.ab", builtinsSource, table, positions, errs, parse.Options{})
	if program == nil {
		slog.Error("empty bootstrap library")
		return root
	}
	root.ProcessDeclarations(program)
	slog.Debug("bootstrapped root scope", "errors", errs.Count())
	return root
}
