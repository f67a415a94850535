package rewrite

import (
	"github.com/vito/arbor/pkg/tree"
)

// A closure pairs a scope with an un-evaluated expression as a Prefix. The
// marker in this side table is the only thing distinguishing a closure from
// an ordinary Prefix of the same shape; the Prefix's left holds the scope's
// AST projection so the language can introspect captured environments.
var closureScopes = tree.NewInfos[*Scope]()

// MakeClosure captures the current scope with a value so it can be passed
// around and evaluated later under the bindings it saw here. Constants
// need no capture. A name is chased to its binding first, so that passing
// an already-captured value does not stack up wrappers.
func MakeClosure(scope *Scope, value tree.Tree) tree.Tree {
	for {
		k := value.Kind()
		if k < tree.KindName && !HasRewritesFor(k) {
			return value
		}

		if k == tree.KindName {
			if bound := scope.Bound(value, true); bound != nil {
				if innerScope, inside, ok := IsClosure(bound); ok {
					if !tree.Equal(value, inside) {
						value = inside
						scope = innerScope
						continue
					}
				}
				if bound != value && !tree.Equal(bound, value) {
					value = bound
					continue
				}
			}
		}

		if _, already := closureScopes.Get(value); already {
			return value
		}

		closure := &tree.Prefix{
			Left:  scope.AsTree(),
			Right: value,
			Pos:   value.Position(),
		}
		closureScopes.Set(closure, scope)
		return closure
	}
}

// IsClosure reports whether value is a closure, returning the captured
// scope and the inner expression.
func IsClosure(value tree.Tree) (*Scope, tree.Tree, bool) {
	if pfx := tree.AsPrefix(value); pfx != nil {
		if scope, ok := closureScopes.Get(pfx); ok {
			return scope, pfx.Right, true
		}
	}
	return nil, nil, false
}
