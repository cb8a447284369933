// Package compiler lowers a parsed Unlambda expression tree
// (pkg/ast.Node) into a bytecode.Program.
package compiler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relambda/relambda/pkg/ast"
	"github.com/relambda/relambda/pkg/bytecode"
)

// Config holds compiler-wide options. It is empty today but follows
// the same constructor-validates-config shape the rest of the stack
// uses, so options have somewhere to go without changing call sites.
type Config struct{}

func (c Config) Validate() error {
	return nil
}

// Compiler lowers expression trees to bytecode.
type Compiler struct {
	logger *slog.Logger
	config Config
}

// New constructs a Compiler. The logger receives a debug trace of the
// compiled instruction count.
func New(logger *slog.Logger, config Config) (*Compiler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate compiler config: %w", err)
	}

	return &Compiler{logger: logger, config: config}, nil
}

// Compile lowers a single parsed expression into a bytecode program
// ending in a Halt instruction.
func (c *Compiler) Compile(ctx context.Context, expr ast.Node) (*bytecode.Program, error) {
	prog := &bytecode.Program{}

	if err := c.emit(ctx, prog, expr); err != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", err)
	}

	prog.Instructions = append(prog.Instructions, bytecode.Halt{})

	c.logger.DebugContext(ctx, "compiled program", "instructions", len(prog.Instructions))

	return prog, nil
}

// emit appends the instructions that leave node's value on top of the
// operand stack, per the lowering rule:
//
//   - a primitive or print/compare leaf becomes the matching Push*.
//   - an application `FuncArg` emits Func, then a MakeApply boundary
//     marker, then Arg, then Invoke. MakeApply is patched afterward
//     with the index of its matching Invoke so the VM can jump past an
//     undelayed operand when the operator turns out to be `d`.
func (c *Compiler) emit(ctx context.Context, prog *bytecode.Program, node ast.Node) error {
	switch n := node.(type) {
	case ast.Primitive:
		prog.Instructions = append(prog.Instructions, bytecode.PushPrim{Tag: n.Tag})
	case ast.Print:
		prog.Instructions = append(prog.Instructions, bytecode.PushPrint{Char: n.Char})
	case ast.Compare:
		prog.Instructions = append(prog.Instructions, bytecode.PushCompare{Char: n.Char})
	case ast.Apply:
		if err := c.emit(ctx, prog, n.Func); err != nil {
			return err
		}

		markIndex := len(prog.Instructions)
		prog.Instructions = append(prog.Instructions, bytecode.MakeApply{Operand: n.Arg})

		if err := c.emit(ctx, prog, n.Arg); err != nil {
			return err
		}

		invokeIndex := len(prog.Instructions)
		prog.Instructions = append(prog.Instructions, bytecode.Invoke{})

		mark := prog.Instructions[markIndex].(bytecode.MakeApply)
		mark.InvokeIndex = invokeIndex
		prog.Instructions[markIndex] = mark
	default:
		return fmt.Errorf("unknown expression node %T", node)
	}

	return nil
}
