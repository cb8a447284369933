package vm_test

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/relambda/relambda/pkg/ast"
	"github.com/relambda/relambda/pkg/compiler"
	"github.com/relambda/relambda/pkg/ioport"
	"github.com/relambda/relambda/pkg/parser"
	"github.com/relambda/relambda/pkg/unlambda"
	"github.com/relambda/relambda/pkg/vm"
)

func run(t *testing.T, src string, port ioport.Port) (unlambda.Value, error) {
	t.Helper()
	r := require.New(t)
	ctx := context.Background()

	expr, err := parser.Parse(src)
	r.NoError(err)

	c, err := compiler.New(slogt.New(t), compiler.Config{})
	r.NoError(err)

	prog, err := c.Compile(ctx, expr)
	r.NoError(err)

	runtime, err := vm.NewRuntime(prog, nil, port, slogt.New(t), 0, false)
	r.NoError(err)

	return runtime.Run(ctx)
}

// TestRuntime runs every fixture under testdata: each file is a source
// program and its expected stdout, separated by a line of "---".
func TestRuntime(t *testing.T) {
	dir := os.DirFS("./testdata/")
	testFiles, err := fs.Glob(dir, "*.txt")
	if err != nil {
		t.Fatal(err)
	}

	for _, testFile := range testFiles {
		name := strings.Split(testFile, ".")[0]
		t.Run(name, func(t *testing.T) {
			r := require.New(t)

			testData, err := fs.ReadFile(dir, testFile)
			r.NoError(err)

			parts := bytes.SplitN(testData, []byte("\n---\n"), 2)
			source := string(bytes.TrimSpace(parts[0]))
			expected := strings.TrimSpace(string(parts[1]))

			port := ioport.NewBufferPort("")
			_, err = run(t, source, port)
			r.NoError(err)

			r.Equal(expected, strings.TrimSpace(port.String()))
		})
	}
}

// TestReadThenReprintEchoesStdin exercises `@` and `|` together: @
// reads one scalar into the current-character register and applies
// its argument to i on success, and the bare `|` leaf (passed as that
// argument rather than pre-applied) only consults the register once @
// itself applies it.
func TestReadThenReprintEchoesStdin(t *testing.T) {
	r := require.New(t)
	port := ioport.NewBufferPort("Q")

	result, err := run(t, "``@|i", port)
	r.NoError(err)
	r.Equal("Q", port.String())
	r.Equal(unlambda.Prim{Tag: ast.I}, result)
}

// TestContinuationInvocationResumesSnapshot applies `c` to itself:
// the first c captures a continuation over an empty stack, then
// applies its argument (the second, still-unapplied c primitive) to
// that continuation; the second c captures a fresh continuation over
// the same state and applies the first continuation to it. Since a
// Cont is now in operator position, invoking it unwinds back to the
// first capture point and resumes there with the second continuation
// as the result, terminating at Halt without looping.
func TestContinuationInvocationResumesSnapshot(t *testing.T) {
	r := require.New(t)
	port := ioport.NewBufferPort("")

	result, err := run(t, "`cc", port)
	r.NoError(err)
	r.IsType(unlambda.Cont{}, result)
}

// TestContinuationCapturedInsideDelayResumesAfterForceReturns exercises
// the fix for forceDelay isolation: ``d`cii forces a Delay whose body
// is `cii, so c is captured against the Delay's own nested Runtime,
// then that Runtime's forceDelay call returns normally with the
// captured continuation itself as the forced value (`ci applies i to
// it), and only afterwards is the captured continuation
// invoked (by applying it to i, the outer application's argument).
// Resuming it must restore the nested Runtime's snapshot rather than
// corrupt the calling Runtime's pc/stack or surface an untyped invoke
// error, and the captured continuation is still in operator position
// at the moment it fires, so the result is the snapshot's argument, i.
func TestContinuationCapturedInsideDelayResumesAfterForceReturns(t *testing.T) {
	r := require.New(t)
	port := ioport.NewBufferPort("")

	result, err := run(t, "``d`cii", port)
	r.NoError(err)
	r.Equal(unlambda.Prim{Tag: ast.I}, result)
	r.Empty(port.String())
}

// TestExitInsideDelayTerminatesWholeEvaluation exercises the other
// half of the forceDelay isolation fix: ```d`eii`.zi forces a Delay
// whose body calls e, so exitSignal panics out of the Delay's own
// nested Runtime's dispatch loop. It must keep propagating past that
// nested call and terminate the entire program, the same as if e had
// fired directly in the outer program, rather than being absorbed by
// the nested call and letting evaluation continue into the trailing
// `.zi` that would otherwise print z.
func TestExitInsideDelayTerminatesWholeEvaluation(t *testing.T) {
	r := require.New(t)
	port := ioport.NewBufferPort("")

	_, err := run(t, "```d`eii`.zi", port)
	r.NoError(err)
	r.Empty(port.String())
}

// TestSReductionSuspendsDOperand exercises Sabx = ax(bx) when ax
// resolves to the bare primitive d: ```s`kd.zi applies S to (k d) and
// .z, then applies the resulting S2 to i, so a = k d (meaning ax = d)
// and b = .z (meaning bx would print z if ever evaluated). The operand
// bx must stay unevaluated until the resulting promise is forced, the
// same as if d had appeared as a source-level operator; z must not be
// printed merely by reducing the S, and the unforced result carries
// the still-unapplied print(z)/i pair rather than an already-written
// value.
func TestSReductionSuspendsDOperand(t *testing.T) {
	r := require.New(t)
	port := ioport.NewBufferPort("")

	result, err := run(t, "```s`kd.zi", port)
	r.NoError(err)
	r.Empty(port.String())
	delay, ok := result.(unlambda.Delay)
	r.True(ok, "expected an unforced Delay, got %T", result)
	r.NotNil(delay.Pending)
	r.Equal(unlambda.Print{Char: 'z'}, delay.Pending.F)
	r.Equal(unlambda.Prim{Tag: ast.I}, delay.Pending.X)
}

// TestDelayedOperandNeverEvaluatedEagerly confirms that the operand of
// an application whose operator is `d` is captured as an unevaluated
// ast.Node rather than run: forcing it later is what first causes it
// to produce a value.
func TestDelayedOperandNeverEvaluatedEagerly(t *testing.T) {
	r := require.New(t)
	port := ioport.NewBufferPort("")

	result, err := run(t, "`d.x", port)
	r.NoError(err)
	r.Empty(port.String())
	r.IsType(unlambda.Delay{}, result)
}
