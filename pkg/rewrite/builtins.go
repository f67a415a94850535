package rewrite

import (
	"fmt"
	"strings"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/tree"
)

// BuiltinFunc implements one primitive. Arguments arrive in binding order,
// already evaluated (deferred arguments arrive as closures).
type BuiltinFunc func(i *Interp, scope *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error)

var builtins = map[string]BuiltinFunc{}

// RegisterBuiltin installs a primitive under the name `builtin Name`
// bodies refer to.
func RegisterBuiltin(name string, fn BuiltinFunc) {
	builtins[name] = fn
}

func boolName(v bool, pos tree.Pos) tree.Tree {
	if v {
		return &tree.Name{Value: "true", Pos: pos}
	}
	return &tree.Name{Value: "false", Pos: pos}
}

func argInt(args []tree.Tree, n int) (int64, error) {
	if n >= len(args) {
		return 0, fmt.Errorf("missing argument %d", n)
	}
	iv, ok := args[n].(*tree.Integer)
	if !ok {
		return 0, fmt.Errorf("argument %d is %s, not an integer", n, args[n])
	}
	return iv.Value, nil
}

func argReal(args []tree.Tree, n int) (float64, error) {
	if n >= len(args) {
		return 0, fmt.Errorf("missing argument %d", n)
	}
	switch v := args[n].(type) {
	case *tree.Real:
		return v.Value, nil
	case *tree.Integer:
		return float64(v.Value), nil
	}
	return 0, fmt.Errorf("argument %d is %s, not a real", n, args[n])
}

func argText(args []tree.Tree, n int) (string, error) {
	if n >= len(args) {
		return "", fmt.Errorf("missing argument %d", n)
	}
	tv, ok := args[n].(*tree.Text)
	if !ok {
		return "", fmt.Errorf("argument %d is %s, not text", n, args[n])
	}
	return tv.Value, nil
}

func argBool(args []tree.Tree, n int) (bool, error) {
	if n >= len(args) {
		return false, fmt.Errorf("missing argument %d", n)
	}
	switch {
	case tree.IsNamed(args[n], "true"):
		return true, nil
	case tree.IsNamed(args[n], "false"):
		return false, nil
	}
	return false, fmt.Errorf("argument %d is %s, not a boolean", n, args[n])
}

func intOp(fn func(x, y int64) (int64, error)) BuiltinFunc {
	return func(i *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		x, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		y, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		v, err := fn(x, y)
		if err != nil {
			return nil, i.Errs.Log(diag.Binding, self.Position(), "%s: %v", self, err)
		}
		return &tree.Integer{Value: v, Pos: self.Position()}, nil
	}
}

func intCmp(fn func(x, y int64) bool) BuiltinFunc {
	return func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		x, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		y, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		return boolName(fn(x, y), self.Position()), nil
	}
}

func realOp(fn func(x, y float64) (float64, error)) BuiltinFunc {
	return func(i *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		x, err := argReal(args, 0)
		if err != nil {
			return nil, err
		}
		y, err := argReal(args, 1)
		if err != nil {
			return nil, err
		}
		v, err := fn(x, y)
		if err != nil {
			return nil, i.Errs.Log(diag.Binding, self.Position(), "%s: %v", self, err)
		}
		return &tree.Real{Value: v, Pos: self.Position()}, nil
	}
}

func realCmp(fn func(x, y float64) bool) BuiltinFunc {
	return func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		x, err := argReal(args, 0)
		if err != nil {
			return nil, err
		}
		y, err := argReal(args, 1)
		if err != nil {
			return nil, err
		}
		return boolName(fn(x, y), self.Position()), nil
	}
}

func boolOp(fn func(x, y bool) bool) BuiltinFunc {
	return func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		x, err := argBool(args, 0)
		if err != nil {
			return nil, err
		}
		y, err := argBool(args, 1)
		if err != nil {
			return nil, err
		}
		return boolName(fn(x, y), self.Position()), nil
	}
}

func init() {
	RegisterBuiltin("IntAdd", intOp(func(x, y int64) (int64, error) { return x + y, nil }))
	RegisterBuiltin("IntSub", intOp(func(x, y int64) (int64, error) { return x - y, nil }))
	RegisterBuiltin("IntMul", intOp(func(x, y int64) (int64, error) { return x * y, nil }))
	RegisterBuiltin("IntDiv", intOp(func(x, y int64) (int64, error) {
		if y == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return x / y, nil
	}))
	RegisterBuiltin("IntRem", intOp(func(x, y int64) (int64, error) {
		if y == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return x % y, nil
	}))
	RegisterBuiltin("IntMod", intOp(func(x, y int64) (int64, error) {
		if y == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		m := x % y
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return m, nil
	}))
	RegisterBuiltin("IntPow", intOp(func(x, y int64) (int64, error) {
		if y < 0 {
			return 0, fmt.Errorf("negative exponent")
		}
		v := int64(1)
		for ; y > 0; y-- {
			v *= x
		}
		return v, nil
	}))
	RegisterBuiltin("IntNeg", func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		x, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		return &tree.Integer{Value: -x, Pos: self.Position()}, nil
	})

	RegisterBuiltin("IntLT", intCmp(func(x, y int64) bool { return x < y }))
	RegisterBuiltin("IntLE", intCmp(func(x, y int64) bool { return x <= y }))
	RegisterBuiltin("IntGT", intCmp(func(x, y int64) bool { return x > y }))
	RegisterBuiltin("IntGE", intCmp(func(x, y int64) bool { return x >= y }))

	RegisterBuiltin("RealAdd", realOp(func(x, y float64) (float64, error) { return x + y, nil }))
	RegisterBuiltin("RealSub", realOp(func(x, y float64) (float64, error) { return x - y, nil }))
	RegisterBuiltin("RealMul", realOp(func(x, y float64) (float64, error) { return x * y, nil }))
	RegisterBuiltin("RealDiv", realOp(func(x, y float64) (float64, error) {
		if y == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return x / y, nil
	}))
	RegisterBuiltin("RealNeg", func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		x, err := argReal(args, 0)
		if err != nil {
			return nil, err
		}
		return &tree.Real{Value: -x, Pos: self.Position()}, nil
	})
	RegisterBuiltin("RealLT", realCmp(func(x, y float64) bool { return x < y }))
	RegisterBuiltin("RealLE", realCmp(func(x, y float64) bool { return x <= y }))
	RegisterBuiltin("RealGT", realCmp(func(x, y float64) bool { return x > y }))
	RegisterBuiltin("RealGE", realCmp(func(x, y float64) bool { return x >= y }))

	RegisterBuiltin("BoolAnd", boolOp(func(x, y bool) bool { return x && y }))
	RegisterBuiltin("BoolOr", boolOp(func(x, y bool) bool { return x || y }))
	RegisterBuiltin("BoolXor", boolOp(func(x, y bool) bool { return x != y }))
	RegisterBuiltin("BoolNot", func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		x, err := argBool(args, 0)
		if err != nil {
			return nil, err
		}
		return boolName(!x, self.Position()), nil
	})

	RegisterBuiltin("TreeEqual", func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("missing arguments")
		}
		return boolName(tree.Equal(args[0], args[1]), self.Position()), nil
	})
	RegisterBuiltin("TreeUnequal", func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("missing arguments")
		}
		return boolName(!tree.Equal(args[0], args[1]), self.Position()), nil
	})

	RegisterBuiltin("TextConcat", func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		x, err := argText(args, 0)
		if err != nil {
			return nil, err
		}
		y, err := argText(args, 1)
		if err != nil {
			return nil, err
		}
		return &tree.Text{Value: x + y, Opening: `"`, Closing: `"`,
			Pos: self.Position()}, nil
	})
	RegisterBuiltin("TextLength", func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		x, err := argText(args, 0)
		if err != nil {
			return nil, err
		}
		return &tree.Integer{Value: int64(len(x)), Pos: self.Position()}, nil
	})

	// Tree deconstruction, matching the accessor forms the binder emits
	RegisterBuiltin("TreeLeft", func(i *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		switch v := args[0].(type) {
		case *tree.Infix:
			return v.Left, nil
		case *tree.Prefix:
			return v.Left, nil
		case *tree.Postfix:
			return v.Left, nil
		}
		return nil, i.Errs.Log(diag.Binding, self.Position(), "%s has no left", args[0])
	})
	RegisterBuiltin("TreeRight", func(i *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		switch v := args[0].(type) {
		case *tree.Infix:
			return v.Right, nil
		case *tree.Prefix:
			return v.Right, nil
		case *tree.Postfix:
			return v.Right, nil
		}
		return nil, i.Errs.Log(diag.Binding, self.Position(), "%s has no right", args[0])
	})
	RegisterBuiltin("TreeOpName", func(i *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		if infix := tree.AsInfix(args[0]); infix != nil {
			return &tree.Text{Value: infix.Name, Opening: `"`, Closing: `"`,
				Pos: self.Position()}, nil
		}
		return nil, i.Errs.Log(diag.Binding, self.Position(), "%s has no operator name", args[0])
	})
	RegisterBuiltin("TreeKind", func(_ *Interp, _ *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		return &tree.Name{Value: args[0].Kind().String(), Pos: self.Position()}, nil
	})

	// Output
	RegisterBuiltin("Write", func(i *Interp, scope *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		var parts []string
		for _, arg := range args {
			parts = append(parts, displayForm(arg))
		}
		fmt.Fprint(i.Out, strings.Join(parts, ""))
		return boolName(true, self.Position()), nil
	})
	RegisterBuiltin("WriteLn", func(i *Interp, scope *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		var parts []string
		for _, arg := range args {
			parts = append(parts, displayForm(arg))
		}
		fmt.Fprintln(i.Out, strings.Join(parts, ""))
		return boolName(true, self.Position()), nil
	})

	// Scope introspection
	RegisterBuiltin("ScopeDump", func(i *Interp, scope *Scope, self tree.Tree, args []tree.Tree) (tree.Tree, error) {
		scope.Dump(i.Out, true)
		return boolName(true, self.Position()), nil
	})
}

// displayForm prints text without its quotes, everything else as source.
func displayForm(t tree.Tree) string {
	if txt, ok := t.(*tree.Text); ok {
		return txt.Value
	}
	return t.String()
}

// convertToType applies the runtime type check of X:Y, with the implicit
// integer to real conversion.
func convertToType(typ, value tree.Tree) (tree.Tree, bool) {
	n := tree.AsName(typ)
	if n == nil {
		return nil, false
	}
	switch n.Value {
	case "tree":
		return value, true
	case "integer":
		if v, ok := value.(*tree.Integer); ok {
			return v, true
		}
	case "real":
		if v, ok := value.(*tree.Real); ok {
			return v, true
		}
		if v, ok := value.(*tree.Integer); ok {
			return &tree.Real{Value: float64(v.Value), Pos: v.Pos}, true
		}
	case "text":
		if v, ok := value.(*tree.Text); ok {
			return v, true
		}
	case "boolean":
		if tree.IsNamed(value, "true") || tree.IsNamed(value, "false") {
			return value, true
		}
	case "name":
		if value.Kind() == tree.KindName {
			return value, true
		}
	case "infix":
		if value.Kind() == tree.KindInfix {
			return value, true
		}
	case "prefix":
		if value.Kind() == tree.KindPrefix {
			return value, true
		}
	case "postfix":
		if value.Kind() == tree.KindPostfix {
			return value, true
		}
	case "block":
		if value.Kind() == tree.KindBlock {
			return value, true
		}
	}
	return nil, false
}
