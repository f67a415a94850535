package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/parse"
	"github.com/vito/arbor/pkg/render"
	"github.com/vito/arbor/pkg/syntax"
	"github.com/vito/arbor/pkg/tree"
)

func fmtCmd() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "fmt [files...]",
		Short: "Reprint source files in canonical form",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, file := range args {
				if err := formatFile(file, write); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "Write the result back instead of printing it")
	return cmd
}

func formatFile(file string, write bool) error {
	source, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	table := syntax.Default()
	positions := &tree.Positions{}
	errs := diag.NewErrors(positions)

	program := parse.Text(file, string(source), table, positions, errs, parse.Options{})
	if err := errs.Err(); err != nil {
		return err
	}
	if program == nil {
		return nil
	}

	formatted := render.New(table).Source(program)
	if len(formatted) == 0 || formatted[len(formatted)-1] != '\n' {
		formatted += "\n"
	}

	if write {
		info, err := os.Stat(file)
		if err != nil {
			return err
		}
		tmp := filepath.Join(filepath.Dir(file), "."+filepath.Base(file)+".fmt")
		if err := os.WriteFile(tmp, []byte(formatted), info.Mode()); err != nil {
			return err
		}
		return os.Rename(tmp, file)
	}

	fmt.Print(formatted)
	return nil
}
