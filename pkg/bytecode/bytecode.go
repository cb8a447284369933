// Package bytecode defines the six-opcode instruction set that
// pkg/compiler lowers an ast.Node tree into, and that pkg/vm executes.
//
// Only the relative position and count of instructions matter: no
// absolute jump addresses are encoded anywhere except on MakeApply,
// which records the index of its matching Invoke so the VM can skip
// over an undelayed operand when its operator turns out to be `d`.
package bytecode

import (
	"fmt"
	"strings"

	"github.com/relambda/relambda/pkg/ast"
)

// Instruction is one word of bytecode.
type Instruction interface {
	instruction()
	String() string
}

// PushPrim pushes a primitive built-in onto the operand stack.
type PushPrim struct {
	Tag ast.PrimitiveTag
}

func (PushPrim) instruction() {}
func (i PushPrim) String() string { return fmt.Sprintf("PushPrim %s", i.Tag) }

// PushPrint pushes the "print x" built-in produced by a `.x` node.
type PushPrint struct {
	Char rune
}

func (PushPrint) instruction() {}
func (i PushPrint) String() string { return fmt.Sprintf("PushPrint %q", i.Char) }

// PushCompare pushes the "compare with x" built-in produced by a `?x`
// node.
type PushCompare struct {
	Char rune
}

func (PushCompare) instruction() {}
func (i PushCompare) String() string { return fmt.Sprintf("PushCompare %q", i.Char) }

// MakeApply marks the start of an application, after the operator's
// code has run and left the operator value on top of the stack. It
// carries everything the VM needs to intercept `d` without executing
// the operand: the index of the matching Invoke, and the still-unread
// operand subtree so a Delay can be built from it directly.
type MakeApply struct {
	InvokeIndex int
	Operand     ast.Node
}

func (MakeApply) instruction() {}
func (i MakeApply) String() string {
	return fmt.Sprintf("MakeApply -> %d", i.InvokeIndex)
}

// Invoke pops an operand and its apply marker and operator, applies
// operator to operand, and pushes the result.
type Invoke struct{}

func (Invoke) instruction() {}
func (Invoke) String() string { return "Invoke" }

// Halt terminates the program; its result is the top of the stack.
type Halt struct{}

func (Halt) instruction() {}
func (Halt) String() string { return "Halt" }

// Program is the compiler's output: a flat instruction sequence ending
// in Halt.
type Program struct {
	Instructions []Instruction
}

// Disassemble renders the program as one instruction per line, for
// debugging.
func (p *Program) Disassemble() string {
	var b strings.Builder
	for i, instr := range p.Instructions {
		fmt.Fprintf(&b, "%04d  %s\n", i, instr)
	}
	return b.String()
}
