package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/relambda/relambda/pkg/compiler"
	"github.com/relambda/relambda/pkg/ioport"
	"github.com/relambda/relambda/pkg/parser"
	"github.com/relambda/relambda/pkg/repl"
	"github.com/relambda/relambda/pkg/vm"
)

// exit codes, per the CLI surface: 0 success, 1 a parse or compile
// error, 2 a runtime error.
const (
	exitOK      = 0
	exitCompile = 1
	exitRuntime = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := &cli.Command{
		Name:  "relambda",
		Usage: "An Unlambda interpreter",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "trace each instruction the VM executes",
			},
			&cli.BoolFlag{
				Name:    "stdin",
				Aliases: []string{"s"},
				Usage:   "read the program to run from stdin instead of a file",
			},
			&cli.IntFlag{
				Name:  "max-stack-depth",
				Usage: "operand stack depth at which to abort with a resource error",
			},
		},
		Action: run,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, c *cli.Command) error {
	logger := slog.Default()
	debug := c.Bool("debug")
	if debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	maxStackDepth := int(c.Int("max-stack-depth"))

	switch {
	case c.Bool("stdin"):
		// Reading the whole program from stdin exhausts it: `@` inside
		// this program has nothing left to read. Use a FILE argument
		// instead when the program needs its own stdin.
		src, err := io.ReadAll(os.Stdin)
		if err != nil {
			return &cliError{code: exitCompile, err: fmt.Errorf("failed to read program from stdin: %w", err)}
		}
		return runProgram(ctx, logger, string(src), os.Stdin, os.Stdout, maxStackDepth, debug)

	case c.Args().Len() == 1:
		path := c.Args().First()
		src, err := os.ReadFile(path)
		if err != nil {
			return &cliError{code: exitCompile, err: fmt.Errorf("failed to read %s: %w", path, err)}
		}
		return runProgram(ctx, logger, string(src), os.Stdin, os.Stdout, maxStackDepth, debug)

	case c.Args().Len() == 0:
		session, err := repl.New(logger, repl.Config{
			Prompt:        "> ",
			MaxStackDepth: maxStackDepth,
			Debug:         debug,
		}, os.Stdin, os.Stdout)
		if err != nil {
			return &cliError{code: exitCompile, err: err}
		}
		if err := session.Run(ctx); err != nil {
			return &cliError{code: exitRuntime, err: err}
		}
		return nil

	default:
		return &cliError{code: exitCompile, err: fmt.Errorf("expected at most one FILE argument")}
	}
}

// runProgram executes every top-level Unlambda expression found in
// src, in order, against one shared current-character register and
// I/O port — a file may hold a single program, or a sequence of
// independent ones to run one after another. A malformed form
// anywhere in src is reported, with every other malformed form in the
// same file, before anything runs.
func runProgram(ctx context.Context, logger *slog.Logger, src string, stdin *os.File, stdout *os.File, maxStackDepth int, debug bool) error {
	exprs, err := parser.ParseAll(src)
	if err != nil {
		return &cliError{code: exitCompile, err: err}
	}

	comp, err := compiler.New(logger, compiler.Config{})
	if err != nil {
		return &cliError{code: exitCompile, err: err}
	}

	port := ioport.NewStdPort(stdin, stdout)
	reg := vm.NewRegister()

	for _, expr := range exprs {
		prog, err := comp.Compile(ctx, expr)
		if err != nil {
			return &cliError{code: exitCompile, err: err}
		}

		runtime, err := vm.NewRuntime(prog, reg, port, logger, maxStackDepth, debug)
		if err != nil {
			return &cliError{code: exitRuntime, err: err}
		}

		if _, err := runtime.Run(ctx); err != nil {
			return &cliError{code: exitRuntime, err: err}
		}
	}

	if err := port.Flush(); err != nil {
		return &cliError{code: exitRuntime, err: err}
	}

	return nil
}

// cliError carries the process exit code a failure should produce
// alongside its error message, which main prints to stderr.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitCompile
}
