package syntax

import (
	_ "embed"
)

//go:embed arbor.syntax
var defaultSyntax string

// Default loads the built-in grammar. The CLI loads a project syntax file
// instead when one is configured.
func Default() *Table {
	t := New()
	if err := t.ReadSyntaxSource("arbor.syntax", defaultSyntax); err != nil {
		// The embedded file is part of the build; failing to read it is a
		// programming error.
		panic(err)
	}
	return t
}
