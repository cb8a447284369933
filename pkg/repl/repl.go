// Package repl implements an interactive read-parse-compile-execute
// loop. Each line runs on a fresh VM runtime; the current-character
// register and I/O port are shared across every line.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/relambda/relambda/pkg/compiler"
	"github.com/relambda/relambda/pkg/ioport"
	"github.com/relambda/relambda/pkg/parser"
	"github.com/relambda/relambda/pkg/vm"
)

// Config configures a REPL session.
type Config struct {
	Prompt        string
	MaxStackDepth int
	Debug         bool
}

func (c Config) Validate() error {
	return nil
}

// REPL evaluates one Unlambda expression per input line against a
// single Port shared across every line, so `@`/`|` state carries over
// between lines the way it would across applications within one
// program.
type REPL struct {
	logger *slog.Logger
	config Config
	comp   *compiler.Compiler
	port   ioport.Port

	reg *vm.Register

	// in backs both line reading and the Port's `@` reads: they must
	// share one buffer, or each would read ahead and steal bytes
	// intended for the other.
	in  *bufio.Reader
	out io.Writer
}

// New constructs a REPL reading lines from in and writing both the
// prompt and program output to out.
func New(logger *slog.Logger, config Config, in io.Reader, out io.Writer) (*REPL, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate repl config: %w", err)
	}

	comp, err := compiler.New(logger, compiler.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize compiler: %w", err)
	}

	br := bufio.NewReader(in)

	return &REPL{
		logger: logger,
		config: config,
		comp:   comp,
		port:   ioport.NewStdPortFromBufio(br, out),
		reg:    vm.NewRegister(),
		in:     br,
		out:    out,
	}, nil
}

// Run reads and evaluates lines until EOF or ctx is cancelled. A
// parse error aborts only the offending line: the prompt loop
// continues and the shared runtime state (notably the current
// character register) is unaffected, since nothing was ever compiled
// or run for that line.
func (r *REPL) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if r.config.Prompt != "" {
			fmt.Fprint(r.out, r.config.Prompt)
		}

		line, err := r.in.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if err := r.evalLine(ctx, line); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
}

func (r *REPL) evalLine(ctx context.Context, line string) error {
	expr, err := parser.Parse(line)
	if err != nil {
		return err
	}

	prog, err := r.comp.Compile(ctx, expr)
	if err != nil {
		return fmt.Errorf("failed to compile expression: %w", err)
	}

	runtime, err := vm.NewRuntime(prog, r.reg, r.port, r.logger, r.config.MaxStackDepth, r.config.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}

	if _, err := runtime.Run(ctx); err != nil {
		return err
	}

	return r.port.Flush()
}
