// Package vm implements the stack-based virtual machine that executes
// bytecode.Program values: application dispatch, the `d` delay
// mechanism, and first-class continuations captured via `c`.
package vm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relambda/relambda/pkg/ast"
	"github.com/relambda/relambda/pkg/bytecode"
	"github.com/relambda/relambda/pkg/compiler"
	"github.com/relambda/relambda/pkg/ioport"
	"github.com/relambda/relambda/pkg/unlambda"
)

// DefaultMaxStackDepth bounds the operand stack so that a runaway
// program fails with a ResourceError instead of exhausting memory.
// Unlambda programs (Church numerals in particular) legitimately run
// deep, so this is generous rather than tight.
const DefaultMaxStackDepth = 1 << 22

// Register is the VM's single-slot current-character cell, set by `@`
// and read by `|`/`?x`. It is exported so callers that run more than
// one program against the same register — a REPL evaluating
// successive lines, most notably — can share it explicitly; a Runtime
// also shares its Register by pointer with any Runtime it spawns to
// force a Delay, since the register is one piece of VM state, not
// scoped per nested evaluation.
type Register struct {
	r  rune
	ok bool
}

// NewRegister returns an empty current-character register.
func NewRegister() *Register {
	return &Register{}
}

// applyMarker is the stack entry MakeApply pushes to mark the boundary
// between an already-evaluated operator and its about-to-be-evaluated
// operand. It carries no data: by the time Invoke runs, nothing but
// its presence (and position) matters.
type applyMarker struct{}

// contSnapshot is the opaque capture stored inside unlambda.Cont.
// owner is the Runtime the pc/stack are indices into — necessary
// because forceDelay evaluates a delayed body's bytecode against its
// own Runtime (its own prog/pc/stack), so a continuation captured
// inside one is meaningless against any other Runtime's state. Stack
// is a private copy; since values are immutable, this is a shallow
// copy and does not retain anything mutable.
type contSnapshot struct {
	owner *Runtime
	pc    int
	stack []any
}

// continuationSignal unwinds the Go call stack from wherever a
// captured continuation is invoked back to whichever applyRecoverable
// belongs to its snapshot's owner, or to the outermost runGuarded if
// that owner's own call has already returned. It is never allowed to
// escape pkg/vm.
type continuationSignal struct {
	snapshot *contSnapshot
	value    unlambda.Value
}

// exitSignal implements `e`: it unwinds all the way out to the
// outermost runGuarded, terminating the whole program immediately with
// its value as the result, regardless of how many forceDelay calls are
// on the Go call stack when it fires.
type exitSignal struct {
	value unlambda.Value
}

// Runtime is one instance of the Unlambda virtual machine.
type Runtime struct {
	prog *bytecode.Program
	pc   int
	// stack holds unlambda.Value and applyMarker entries, interleaved
	// exactly as pushed by PushPrim/PushPrint/PushCompare and MakeApply.
	stack []any

	cur  *Register
	port ioport.Port

	comp   *compiler.Compiler
	logger *slog.Logger
	debug  bool

	maxStackDepth int
}

// NewRuntime constructs a Runtime ready to execute prog. reg may be
// nil, in which case a fresh Register is allocated; passing a Register
// obtained from a previous Runtime lets a later run observe `@`/`|`
// state left behind by an earlier one.
func NewRuntime(prog *bytecode.Program, reg *Register, port ioport.Port, logger *slog.Logger, maxStackDepth int, debug bool) (*Runtime, error) {
	if maxStackDepth <= 0 {
		maxStackDepth = DefaultMaxStackDepth
	}
	if reg == nil {
		reg = NewRegister()
	}

	comp, err := compiler.New(logger, compiler.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize compiler for delayed expressions: %w", err)
	}

	return &Runtime{
		prog:          prog,
		port:          port,
		cur:           reg,
		comp:          comp,
		logger:        logger,
		debug:         debug,
		maxStackDepth: maxStackDepth,
	}, nil
}

// Register returns the Runtime's current-character register, for
// sharing with a subsequent Runtime.
func (r *Runtime) Register() *Register {
	return r.cur
}

func (r *Runtime) push(v unlambda.Value) {
	r.stack = append(r.stack, v)
}

func (r *Runtime) pushMarker() {
	r.stack = append(r.stack, applyMarker{})
}

func (r *Runtime) popValue() (unlambda.Value, bool) {
	if len(r.stack) == 0 {
		return nil, false
	}
	top := r.stack[len(r.stack)-1]
	v, ok := top.(unlambda.Value)
	if !ok {
		return nil, false
	}
	r.stack = r.stack[:len(r.stack)-1]
	return v, true
}

func (r *Runtime) peekValue() (unlambda.Value, bool) {
	if len(r.stack) == 0 {
		return nil, false
	}
	v, ok := r.stack[len(r.stack)-1].(unlambda.Value)
	return v, ok
}

func (r *Runtime) popMarker() bool {
	if len(r.stack) == 0 {
		return false
	}
	if _, ok := r.stack[len(r.stack)-1].(applyMarker); !ok {
		return false
	}
	r.stack = r.stack[:len(r.stack)-1]
	return true
}

// Run executes the program to completion, returning the final value
// (the top of stack at Halt, or e's argument on early exit).
func (r *Runtime) Run(ctx context.Context) (unlambda.Value, error) {
	return r.runGuarded(ctx)
}

// runGuarded drives dispatch and is the only place that finally
// absorbs an exitSignal or a continuationSignal that escaped every
// applyRecoverable between its panic and here. `e` must terminate the
// whole evaluation no matter how many forceDelay calls are on the Go
// call stack when it fires (see forceDelay), so only this outermost
// guard — never a nested one — is allowed to catch it. A
// continuationSignal reaches here, rather than being caught by
// applyRecoverable, only when the Runtime that captured it has
// already returned from the forceDelay call that was running it (the
// continuation is invoked outside the dynamic extent of the force
// that captured it); resuming means replaying that Runtime from the
// captured pc/stack exactly as if nothing else had run since, which
// may itself escape again (e.g. into a third Runtime), so the resume
// recurses through runGuarded rather than calling dispatch directly.
func (r *Runtime) runGuarded(ctx context.Context) (result unlambda.Value, err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		switch sig := rec.(type) {
		case exitSignal:
			result, err = sig.value, nil
		case continuationSignal:
			owner := sig.snapshot.owner
			owner.pc = sig.snapshot.pc
			owner.stack = append([]any{}, sig.snapshot.stack...)
			owner.push(sig.value)
			result, err = owner.runGuarded(ctx)
		default:
			panic(rec)
		}
	}()

	return r.dispatch(ctx)
}

// dispatch is the instruction loop, shared by the top-level Run call
// and by forceDelay running a delayed body's own program against its
// own Runtime. It installs no recover of its own: an exitSignal or an
// escaping continuationSignal must pass straight through every nested
// dispatch call on the Go stack, to be caught only by the outermost
// runGuarded.
func (r *Runtime) dispatch(ctx context.Context) (unlambda.Value, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if len(r.stack) > r.maxStackDepth {
			return nil, &ResourceError{Depth: len(r.stack), Limit: r.maxStackDepth}
		}

		if r.pc < 0 || r.pc >= len(r.prog.Instructions) {
			return nil, fmt.Errorf("program counter %d out of range", r.pc)
		}

		instr := r.prog.Instructions[r.pc]
		if r.debug {
			r.logger.DebugContext(ctx, "step", "pc", r.pc, "instr", instr.String(), "depth", len(r.stack))
		}
		r.pc++

		switch instr := instr.(type) {
		case bytecode.PushPrim:
			r.push(unlambda.Prim{Tag: instr.Tag})
		case bytecode.PushPrint:
			r.push(unlambda.Print{Char: instr.Char})
		case bytecode.PushCompare:
			r.push(unlambda.Compare{Char: instr.Char})
		case bytecode.Halt:
			v, ok := r.popValue()
			if !ok {
				return nil, fmt.Errorf("halt with no value on the stack")
			}
			return v, nil
		case bytecode.MakeApply:
			op, ok := r.peekValue()
			if !ok {
				return nil, fmt.Errorf("makeapply with no operator on the stack")
			}
			if prim, isPrim := op.(unlambda.Prim); isPrim && prim.Tag == ast.D {
				r.popValue()
				r.push(unlambda.Delay{Expr: instr.Operand})
				r.pc = instr.InvokeIndex + 1
			} else {
				r.pushMarker()
			}
		case bytecode.Invoke:
			x, ok := r.popValue()
			if !ok {
				return nil, fmt.Errorf("invoke with no operand on the stack")
			}
			if !r.popMarker() {
				return nil, fmt.Errorf("invoke with no apply marker on the stack")
			}
			f, ok := r.popValue()
			if !ok {
				return nil, fmt.Errorf("invoke with no operator on the stack")
			}

			v, err := r.applyRecoverable(ctx, f, x)
			if err != nil {
				return nil, err
			}
			r.push(v)
		default:
			return nil, fmt.Errorf("unknown instruction %T", instr)
		}
	}
}

// applyRecoverable runs apply and catches a continuationSignal raised
// by invoking a captured continuation anywhere below it on the Go call
// stack, but only when that continuation belongs to this Runtime:
// restoring pc/stack from a snapshot captured against a different
// Runtime (one forceDelay is running, or has already finished running,
// against its own prog/pc/stack) would scribble a foreign program's
// instruction index onto this Runtime's program. A signal for a
// different owner is re-panicked so it keeps propagating — either to
// that owner's own applyRecoverable further up the Go call stack, or,
// if that owner's call has already returned, all the way to the
// outermost runGuarded. Any other panic (in particular exitSignal)
// also propagates unchanged.
func (r *Runtime) applyRecoverable(ctx context.Context, f, x unlambda.Value) (v unlambda.Value, err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		sig, ok := rec.(continuationSignal)
		if !ok || sig.snapshot.owner != r {
			panic(rec)
		}
		r.pc = sig.snapshot.pc
		r.stack = append([]any{}, sig.snapshot.stack...)
		v, err = sig.value, nil
	}()

	return r.apply(ctx, f, x)
}

// apply is the single dispatch point for Unlambda's application
// semantics, matching the table in SPEC_FULL.md §4.2. It recurses
// natively for the handful of primitives that require a further
// application (S2, and forcing a Delay); invoking a captured
// continuation escapes via continuationSignal instead of returning.
func (r *Runtime) apply(ctx context.Context, f, x unlambda.Value) (unlambda.Value, error) {
	switch f := f.(type) {
	case unlambda.Prim:
		return r.applyPrim(ctx, f, x)
	case unlambda.K1:
		return f.A, nil
	case unlambda.S1:
		return unlambda.S2{A: f.A, B: x}, nil
	case unlambda.S2:
		// Sabx = ax(bx). ax is the operator of the outer application
		// and must be resolved first: if it comes out to the bare `d`,
		// the operand bx must not be evaluated at all yet, the same as
		// MakeApply intercepting a source-level `d`-operator application
		// before its operand runs (see bytecode.MakeApply). Only once ax
		// is known not to be `d` is it safe to evaluate bx eagerly.
		v1, err := r.apply(ctx, f.A, x)
		if err != nil {
			return nil, err
		}
		if prim, isPrim := v1.(unlambda.Prim); isPrim && prim.Tag == ast.D {
			return unlambda.Delay{Pending: &unlambda.PendingApply{F: f.B, X: x}}, nil
		}
		v2, err := r.apply(ctx, f.B, x)
		if err != nil {
			return nil, err
		}
		return r.apply(ctx, v1, v2)
	case unlambda.Delay:
		g, err := r.forceDelay(ctx, f)
		if err != nil {
			return nil, err
		}
		return r.apply(ctx, g, x)
	case unlambda.Cont:
		snap, ok := f.Snapshot.(*contSnapshot)
		if !ok {
			return nil, fmt.Errorf("malformed continuation value")
		}
		panic(continuationSignal{snapshot: snap, value: x})
	case unlambda.Print:
		if err := r.port.WriteChar(f.Char); err != nil {
			return nil, &IOError{Op: "write", Err: err}
		}
		return x, nil
	case unlambda.Compare:
		if r.cur.ok && r.cur.r == f.Char {
			return r.apply(ctx, x, unlambda.Prim{Tag: ast.I})
		}
		return r.apply(ctx, x, unlambda.Prim{Tag: ast.V})
	default:
		return nil, fmt.Errorf("unapplicable operator value %v (%T)", f, f)
	}
}

func (r *Runtime) applyPrim(ctx context.Context, f unlambda.Prim, x unlambda.Value) (unlambda.Value, error) {
	switch f.Tag {
	case ast.I:
		return x, nil
	case ast.K:
		return unlambda.K1{A: x}, nil
	case ast.S:
		return unlambda.S1{A: x}, nil
	case ast.V:
		return f, nil
	case ast.D:
		// Reached only when `d` was produced as an already-evaluated
		// runtime value (e.g. stored and replayed through an S
		// reduction) rather than intercepted statically at MakeApply
		// time. Wraps the already-evaluated argument directly, since
		// there is nothing left to delay evaluating.
		return unlambda.Delay{Value: x}, nil
	case ast.C:
		snap := &contSnapshot{owner: r, pc: r.pc, stack: append([]any{}, r.stack...)}
		return r.apply(ctx, x, unlambda.Cont{Snapshot: snap})
	case ast.R:
		if err := r.port.WriteNewline(); err != nil {
			return nil, &IOError{Op: "write", Err: err}
		}
		return x, nil
	case ast.At:
		ch, ok, err := r.port.ReadChar()
		if err != nil {
			return nil, &IOError{Op: "read", Err: err}
		}
		r.cur.r, r.cur.ok = ch, ok
		if ok {
			return r.apply(ctx, x, unlambda.Prim{Tag: ast.I})
		}
		return r.apply(ctx, x, unlambda.Prim{Tag: ast.V})
	case ast.Bar:
		if !r.cur.ok {
			return r.apply(ctx, x, unlambda.Prim{Tag: ast.V})
		}
		return r.apply(ctx, x, unlambda.Print{Char: r.cur.r})
	case ast.E:
		panic(exitSignal{value: x})
	default:
		return nil, fmt.Errorf("unknown primitive %q", f.Tag)
	}
}

// forceDelay evaluates a Delay's unevaluated body to a value. Exactly
// one of three things happens, depending on which of Delay's fields is
// set (see unlambda.Delay):
//
//   - Pending holds an operator/operand pair of already-evaluated
//     values, produced when `d` emerged as the left branch of an S2
//     reduction (see apply's S2 case); applying one to the other is
//     the whole job, no compilation involved.
//   - Expr holds the unevaluated operand expression captured when `d`
//     was intercepted at MakeApply time; it is compiled and run
//     against its own Runtime (its own prog/pc/stack, so its bytecode
//     indices don't collide with r's), sharing this Runtime's
//     current-character register, I/O port and compiler.
//   - Otherwise Value was already fully evaluated and needs no
//     further work.
//
// The Expr path calls dispatch directly rather than Run: `e` reached
// while forcing a delayed body must terminate the whole evaluation,
// the same as if it had fired in r's own program, so the exitSignal it
// panics must pass straight through this call rather than be absorbed
// by a recover installed here. Likewise a continuation captured here
// is tagged with this call's own Runtime as its owner (see
// contSnapshot); if it is later invoked after this call has already
// returned, nothing on the Go call stack will recognize it, and it
// unwinds all the way to the outermost runGuarded, which resumes this
// Runtime directly from the captured pc/stack — so the continuation
// remains valid for the lifetime of the program, not just the dynamic
// extent of this call.
func (r *Runtime) forceDelay(ctx context.Context, d unlambda.Delay) (unlambda.Value, error) {
	switch {
	case d.Pending != nil:
		return r.apply(ctx, d.Pending.F, d.Pending.X)
	case d.Expr != nil:
		sub, err := r.comp.Compile(ctx, d.Expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile delayed expression: %w", err)
		}

		subRuntime := &Runtime{
			prog:          sub,
			cur:           r.cur,
			port:          r.port,
			comp:          r.comp,
			logger:        r.logger,
			debug:         r.debug,
			maxStackDepth: r.maxStackDepth,
		}

		return subRuntime.dispatch(ctx)
	default:
		return d.Value, nil
	}
}
