package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/vito/arbor/pkg/diag"
	"github.com/vito/arbor/pkg/parse"
	"github.com/vito/arbor/pkg/project"
	"github.com/vito/arbor/pkg/render"
	"github.com/vito/arbor/pkg/rewrite"
	"github.com/vito/arbor/pkg/syntax"
	"github.com/vito/arbor/pkg/tree"
)

// Config holds the command-line configuration.
type Config struct {
	Debug           bool
	Fuel            int64
	SignedConstants bool
	File            string
}

func main() {
	var cfg Config

	rootCmd := &cobra.Command{
		Use:   "arbor [flags] [file]",
		Short: "Arbor language interpreter",
		Long: `Arbor is a homoiconic language whose entire semantics is tree
rewriting. Programs parse into a uniform tree of eight node kinds and run
by matching rewrite rules declared in the program itself.`,
		Example: `  # Run a script
  arbor script.ab

  # Start the interactive REPL
  arbor

  # Run with debug logging enabled
  arbor --debug script.ab`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.File = args[0]
				return run(cmd.Context(), cfg)
			}
			return runREPL(cmd.Context(), cfg)
		},
	}

	rootCmd.Flags().BoolVarP(&cfg.Debug, "debug", "d", false, "Enable debug logging")
	rootCmd.Flags().Int64Var(&cfg.Fuel, "fuel", -1, "Bound the number of rewrites (-1 for unlimited)")
	rootCmd.Flags().BoolVar(&cfg.SignedConstants, "signed-constants", false, "Fold -3 into a signed literal at parse time")

	rootCmd.AddCommand(fmtCmd())

	ctx := context.Background()
	if err := fang.Execute(ctx, rootCmd,
		fang.WithVersion("v0.1.0"),
		fang.WithErrorHandler(func(w io.Writer, styles fang.Styles, err error) {
			_, _ = fmt.Fprintln(w, err.Error())
		}),
	); err != nil {
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// session is everything a running interpreter needs.
type session struct {
	positions *tree.Positions
	errs      *diag.Errors
	table     *syntax.Table
	root      *rewrite.Scope
	scope     *rewrite.Scope
	interp    *rewrite.Interp
	opts      parse.Options
	renderer  *render.Renderer
}

// newSession loads the project configuration (if any), the syntax table
// and the bootstrap scope.
func newSession(dir string, cfg Config) (*session, error) {
	positions := &tree.Positions{}
	errs := diag.NewErrors(positions)

	opts := parse.Options{SignedConstants: cfg.SignedConstants}

	table := syntax.Default()
	configPath, projCfg, err := project.Find(dir)
	if err != nil {
		return nil, err
	}
	if projCfg != nil {
		configDir := filepath.Dir(configPath)
		slog.Debug("using project config", "path", configPath)
		syntax.FindSyntaxFile = projCfg.SyntaxResolver(configDir)
		if projCfg.Syntax != "" {
			source, err := os.ReadFile(filepath.Join(configDir, projCfg.Syntax))
			if err != nil {
				return nil, fmt.Errorf("reading project syntax: %w", err)
			}
			table = syntax.New()
			if err := table.ReadSyntaxSource(projCfg.Syntax, string(source)); err != nil {
				return nil, err
			}
		}
		if projCfg.SignedConstants {
			opts.SignedConstants = true
		}
	}

	root := rewrite.Bootstrap(table, positions, errs)
	scope := rewrite.NewScope(root)
	if projCfg != nil && projCfg.Module != "" {
		scope.SetModuleName(projCfg.Module)
	}

	interp := rewrite.NewInterp(errs)
	interp.Out = os.Stdout
	interp.Fuel = cfg.Fuel

	renderer := render.New(table)
	renderer.SignedConstants = opts.SignedConstants

	return &session{
		positions: positions,
		errs:      errs,
		table:     table,
		root:      root,
		scope:     scope,
		interp:    interp,
		opts:      opts,
		renderer:  renderer,
	}, nil
}

func run(ctx context.Context, cfg Config) error {
	setupLogging(cfg.Debug)

	source, err := os.ReadFile(cfg.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", cfg.File, err)
	}

	sess, err := newSession(filepath.Dir(cfg.File), cfg)
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(cfg.File)
	if err == nil {
		sess.scope.SetModuleFile(abs)
		sess.scope.SetModuleDirectory(filepath.Dir(abs))
	}

	program := parse.Text(cfg.File, string(source), sess.table,
		sess.positions, sess.errs, sess.opts)
	if program == nil {
		return sess.errs.Err()
	}

	result, err := sess.interp.Run(sess.scope, program)
	if err != nil {
		return err
	}
	slog.Debug("evaluated", "result", result.String())
	return sess.errs.Err()
}
