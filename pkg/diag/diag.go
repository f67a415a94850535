// Package diag collects positioned diagnostics for the scanner, parser,
// binder and type engine. Errors accumulate in a sink rather than aborting,
// so that speculative work (candidate binding in particular) can buffer its
// complaints and commit them only if the candidate is ultimately chosen.
package diag

import (
	"fmt"
	"strings"

	"github.com/vito/arbor/pkg/tree"
)

// Kind classifies a diagnostic.
type Kind int

const (
	Lexical Kind = iota
	Parse
	Binding
	Type
	Internal
)

func (k Kind) String() string {
	switch k {
	case Lexical:
		return "lexical error"
	case Parse:
		return "parse error"
	case Binding:
		return "binding error"
	case Type:
		return "type error"
	}
	return "internal error"
}

// Error is a single positioned diagnostic.
type Error struct {
	Kind Kind
	Pos  tree.Pos
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Errors is a diagnostic sink. A nil sink silently discards, which is what
// speculative binding passes use when they only care about success.
type Errors struct {
	Positions *tree.Positions
	list      []*Error
}

// NewErrors creates a sink resolving positions against pos. pos may be nil
// when file and line reporting is not needed (tests mostly).
func NewErrors(pos *tree.Positions) *Errors {
	return &Errors{Positions: pos}
}

// Log records a diagnostic.
func (e *Errors) Log(kind Kind, pos tree.Pos, format string, args ...any) *Error {
	err := &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
	if e != nil {
		e.list = append(e.list, err)
	}
	return err
}

// HadErrors reports whether anything was logged.
func (e *Errors) HadErrors() bool { return e != nil && len(e.list) > 0 }

// Count returns the number of recorded diagnostics.
func (e *Errors) Count() int {
	if e == nil {
		return 0
	}
	return len(e.list)
}

// List returns the recorded diagnostics in order.
func (e *Errors) List() []*Error {
	if e == nil {
		return nil
	}
	return e.list
}

// Clear drops everything recorded so far.
func (e *Errors) Clear() {
	if e != nil {
		e.list = nil
	}
}

// Commit moves every diagnostic from child into e. Candidate binding runs
// with a child sink and commits only when the candidate is chosen, so that
// failed speculation never reaches the user.
func (e *Errors) Commit(child *Errors) {
	if e == nil || child == nil {
		return
	}
	e.list = append(e.list, child.list...)
}

// Err collapses the sink into a single error value, or nil.
func (e *Errors) Err() error {
	if !e.HadErrors() {
		return nil
	}
	msgs := make([]string, len(e.list))
	for i, err := range e.list {
		msgs[i] = e.Format(err)
	}
	return fmt.Errorf("%s", strings.Join(msgs, "\n"))
}

// Format renders one diagnostic with file, line and column when positions
// are available.
func (e *Errors) Format(err *Error) string {
	if e == nil || e.Positions == nil || err.Pos == tree.NoPos {
		return err.Error()
	}
	file, line, col, src := e.Positions.Info(err.Pos)
	if file == "" {
		return err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d:%d: %s", file, line, col, err.Error())
	if src != "" {
		fmt.Fprintf(&b, "\n  %s\n  %s^", src, strings.Repeat(" ", col-1))
	}
	return b.String()
}
