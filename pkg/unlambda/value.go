// Package unlambda defines the runtime value model shared by the
// compiler and the VM: the discriminated union of built-in primitives,
// partial applications, promises and continuations that every
// Unlambda expression evaluates to.
//
// Values are immutable once constructed and shared by ordinary Go
// references; lifetime is managed by the Go garbage collector rather
// than hand-rolled reference counting (see DESIGN.md).
package unlambda

import (
	"fmt"

	"github.com/relambda/relambda/pkg/ast"
)

// Value is any fully-evaluated Unlambda runtime value. Every value on
// the VM's operand stack satisfies this interface; Unlambda has no
// notion of weak-head normal form because all values are atomic.
type Value interface {
	value()
	String() string
}

// Prim is one of the ten argument-less built-ins: s k i v c d r @ | e.
// The VM intercepts an application whose operator is `d` at MakeApply
// time, before its operand is evaluated; when `d` is instead applied at
// runtime (through S, `@`, `c` or a forced Delay), the VM wraps the
// already-evaluated argument in a Delay (see pkg/vm).
type Prim struct {
	Tag ast.PrimitiveTag
}

func (Prim) value() {}
func (p Prim) String() string { return p.Tag.String() }

// Print is the built-in produced by a `.x` leaf: applying it prints x
// and returns its argument unchanged.
type Print struct {
	Char rune
}

func (Print) value() {}
func (p Print) String() string { return fmt.Sprintf("print(%q)", p.Char) }

// Compare is the built-in produced by a `?x` leaf. Applying it to a
// value y compares the VM's current-character register against x and
// applies y to i or v accordingly; the spec describes this as
// "immediately applied", so unlike S and K there is no persisted
// Compare1 partial — the branch is taken in the same Apply call that
// would have constructed one.
type Compare struct {
	Char rune
}

func (Compare) value() {}
func (c Compare) String() string { return fmt.Sprintf("compare(%q)", c.Char) }

// S1 is the first partial application of S: `Sa`.
type S1 struct {
	A Value
}

func (S1) value() {}
func (s S1) String() string { return fmt.Sprintf("S1(%v)", s.A) }

// S2 is the second partial application of S: ``Sab.
type S2 struct {
	A, B Value
}

func (S2) value() {}
func (s S2) String() string { return fmt.Sprintf("S2(%v, %v)", s.A, s.B) }

// K1 is the partial application of K: `Ka. Applying it to any value
// discards that value and returns A.
type K1 struct {
	A Value
}

func (K1) value() {}
func (k K1) String() string { return fmt.Sprintf("K1(%v)", k.A) }

// PendingApply is the operator/operand pair held by a Delay built from
// an S-reduction whose left branch resolves to `d`: `Sabx` reduces to
// `ax(bx)`, and when `ax` (the operator of that outer application)
// evaluates to `d`, the operand `bx` must not be evaluated until the
// resulting promise is forced — even though, unlike the MakeApply
// interception, both F and B's eventual values are only known at
// apply time, not compile time. F and X are already-evaluated Values
// (the second branch B and the shared argument x), but their
// application to each other is deliberately left undone.
type PendingApply struct {
	F, X Value
}

// Delay is the promise produced by applying `d`: `da. Exactly one of
// its three fields is set, depending on how the application was
// reached:
//
//   - Expr is the unevaluated operand expression, captured when the
//     VM intercepts an application whose operator is the primitive
//     `d` at MakeApply time, before the operand would otherwise be
//     evaluated. This is the common case.
//   - Pending is an operator/operand pair of already-evaluated values
//     whose application is deferred, used when `d` emerges as the
//     left operand of an S-reduction (see PendingApply) rather than
//     from source text.
//   - Value is an already-evaluated runtime value, used when `d` is
//     applied generically at runtime by some other path with no
//     unevaluated expression or pending application to capture.
//
// Forcing a Delay (applying it to any value) evaluates whichever field
// is set down to a value g and then applies g to that argument.
type Delay struct {
	Expr    ast.Node
	Pending *PendingApply
	Value   Value
}

func (Delay) value() {}

func (d Delay) String() string {
	switch {
	case d.Expr != nil:
		return fmt.Sprintf("Delay(%v)", d.Expr)
	case d.Pending != nil:
		return fmt.Sprintf("Delay(%v %v)", d.Pending.F, d.Pending.X)
	default:
		return fmt.Sprintf("Delay(%v)", d.Value)
	}
}

// Cont is a first-class continuation captured by `c`. Snapshot is an
// opaque, immutable capture of the VM's evaluation state at the moment
// `c`'s operand was entered; only pkg/vm knows how to interpret it.
// Applying a Cont abandons the current evaluation and resumes the
// captured one with the argument as its result.
type Cont struct {
	Snapshot any
}

func (Cont) value() {}
func (c Cont) String() string { return "Cont(...)" }
