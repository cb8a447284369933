// Package ioport narrows all of the VM's interaction with the outside
// world to four operations: read one Unicode scalar, write one, write
// a newline, and flush. The VM reads only from the `@` primitive and
// writes only from the `.` and `r` primitives; the callers that run it
// (cmd/relambda and pkg/repl) call Flush once a program has finished.
package ioport

import (
	"bufio"
	"io"
)

// Port is the host I/O contract. Implementations must not assume line
// buffering: ReadChar returns exactly one scalar per call.
type Port interface {
	// ReadChar reads one Unicode scalar value. ok is false on EOF.
	ReadChar() (r rune, ok bool, err error)
	WriteChar(r rune) error
	WriteNewline() error
	Flush() error
}

// StdPort adapts an io.Reader/io.Writer pair (typically os.Stdin and
// os.Stdout) into a Port, decoding UTF-8 one scalar at a time.
type StdPort struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewStdPort wraps r and w for buffered scalar-at-a-time I/O.
func NewStdPort(r io.Reader, w io.Writer) *StdPort {
	return &StdPort{r: bufio.NewReader(r), w: bufio.NewWriter(w)}
}

// NewStdPortFromBufio builds a Port over an already-buffered reader. A
// caller that also needs to read whole lines from the same stream
// (pkg/repl, reading one program per line while `@` reads individual
// scalars from that same stream) must share one *bufio.Reader rather
// than wrap the underlying io.Reader twice, or the two buffers would
// each read ahead and silently steal bytes from the other.
func NewStdPortFromBufio(r *bufio.Reader, w io.Writer) *StdPort {
	return &StdPort{r: r, w: bufio.NewWriter(w)}
}

func (p *StdPort) ReadChar() (rune, bool, error) {
	r, _, err := p.r.ReadRune()
	if err == io.EOF {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return r, true, nil
}

func (p *StdPort) WriteChar(r rune) error {
	_, err := p.w.WriteRune(r)
	return err
}

func (p *StdPort) WriteNewline() error {
	return p.WriteChar('\n')
}

func (p *StdPort) Flush() error {
	return p.w.Flush()
}

// BufferPort is an in-memory Port backed by a fixed input string and an
// accumulating output buffer, used by tests and by the conformance
// fixtures in pkg/vm.
type BufferPort struct {
	input  []rune
	pos    int
	Output []rune
}

// NewBufferPort returns a Port whose ReadChar yields the runes of input
// in order and whose writes accumulate in Output.
func NewBufferPort(input string) *BufferPort {
	return &BufferPort{input: []rune(input)}
}

func (p *BufferPort) ReadChar() (rune, bool, error) {
	if p.pos >= len(p.input) {
		return 0, false, nil
	}
	r := p.input[p.pos]
	p.pos++
	return r, true, nil
}

func (p *BufferPort) WriteChar(r rune) error {
	p.Output = append(p.Output, r)
	return nil
}

func (p *BufferPort) WriteNewline() error {
	return p.WriteChar('\n')
}

func (p *BufferPort) Flush() error {
	return nil
}

// String returns everything written so far.
func (p *BufferPort) String() string {
	return string(p.Output)
}
