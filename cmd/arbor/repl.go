package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kr/pretty"
	"github.com/peterh/liner"

	"github.com/vito/arbor/pkg/parse"
	"github.com/vito/arbor/pkg/rewrite"
	"github.com/vito/arbor/pkg/tree"
)

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".arbor_history")
}

func runREPL(ctx context.Context, cfg Config) error {
	setupLogging(cfg.Debug)

	sess, err := newSession(".", cfg)
	if err != nil {
		return err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	// Name completion from the visible declarations
	line.SetCompleter(func(input string) []string {
		start := strings.LastIndexAny(input, " \t(") + 1
		prefix := input[start:]
		if prefix == "" {
			return nil
		}
		var out []string
		for _, decl := range sess.scope.ListNames(prefix, true, true) {
			name := tree.AsName(rewrite.RewriteDefined(decl.Left))
			if name == nil {
				if pfx := tree.AsPrefix(rewrite.RewriteDefined(decl.Left)); pfx != nil {
					name = tree.AsName(pfx.Left)
				}
			}
			if name != nil {
				out = append(out, input[:start]+name.Value)
			}
		}
		return out
	})

	if path := historyPath(); path != "" {
		if f, err := os.Open(path); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(path); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	fmt.Println("arbor repl; :help for commands, ctrl-d to exit")

	count := 0
	for {
		input, err := line.Prompt("arbor> ")
		if err != nil {
			// ctrl-c aborts the line, ctrl-d / EOF exits
			if err == liner.ErrPromptAborted {
				continue
			}
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, ":") {
			if done := sess.replCommand(input); done {
				return nil
			}
			continue
		}

		count++
		file := fmt.Sprintf("<repl-%d>", count)
		program := parse.Text(file, input, sess.table, sess.positions, sess.errs, sess.opts)
		if sess.errs.HadErrors() {
			for _, e := range sess.errs.List() {
				fmt.Println(sess.errs.Format(e))
			}
			sess.errs.Clear()
			continue
		}
		if program == nil {
			continue
		}

		result, err := sess.interp.Run(sess.scope, program)
		if err != nil {
			fmt.Println(err)
			sess.errs.Clear()
			continue
		}
		if sess.errs.HadErrors() {
			for _, e := range sess.errs.List() {
				fmt.Println(sess.errs.Format(e))
			}
			sess.errs.Clear()
		}
		if result != nil {
			fmt.Println(sess.renderer.Source(result))
		}
	}
}

// replCommand handles the : commands; returning true exits the loop.
func (s *session) replCommand(input string) bool {
	cmd, rest, _ := strings.Cut(input, " ")
	switch cmd {
	case ":quit", ":q":
		return true
	case ":help":
		fmt.Println(":scope          dump the visible declarations")
		fmt.Println(":candidates E   show the rewrite candidates for E")
		fmt.Println(":parse E        show the parse of E")
		fmt.Println(":quit           exit")
	case ":scope":
		s.scope.Dump(os.Stdout, true)
	case ":parse":
		program := parse.Text("<parse>", rest, s.table, s.positions, s.errs, s.opts)
		if program != nil {
			fmt.Println(program.String())
		}
		s.errs.Clear()
	case ":candidates":
		program := parse.Text("<candidates>", rest, s.table, s.positions, s.errs, s.opts)
		s.errs.Clear()
		if program == nil {
			return false
		}
		candidates, err := rewrite.Candidates(s.scope, program, s.positions)
		if err != nil {
			fmt.Println(err)
			return false
		}
		for n, c := range candidates {
			fmt.Printf("#%d %s\n", n+1, c.Rewrite.Left)
			for _, b := range c.Bindings {
				fmt.Printf("   %s = %s (deferred=%v)\n", b.Name, b.Value, b.Deferred)
			}
			for _, cond := range c.Conditions {
				fmt.Printf("   when %s = %s\n", cond.Value, cond.Test)
			}
			for _, kc := range c.Kinds {
				fmt.Printf("   kind %s is %s\n", kc.Value, kc.Kind)
			}
			if c.Type != nil {
				fmt.Printf("   : %s\n", c.Type)
			}
		}
		if len(candidates) == 0 {
			fmt.Println("no candidates")
		}
	case ":debug":
		program := parse.Text("<debug>", rest, s.table, s.positions, s.errs, s.opts)
		s.errs.Clear()
		if program != nil {
			pretty.Println(program)
		}
	default:
		fmt.Printf("unknown command %s\n", cmd)
	}
	return false
}
