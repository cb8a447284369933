// Package parser turns Unlambda source text into an ast.Node tree.
//
// Grammar (after comment/whitespace stripping):
//
//	expr    := primitive | print | compare | apply
//	apply   := ("`" | "[") expr expr
//	primitive := "s" | "k" | "i" | "v" | "c" | "d" | "r" | "e" | "@" | "|"
//	print   := "." any-char
//	compare := "?" any-char
//
// Comments start with "#" and run to end of line. Whitespace (space, tab,
// newline) is insignificant between tokens. Every character is folded to
// lower case except the literal argument of "." and "?".
package parser

import (
	"fmt"
	"io"
	"unicode"

	"github.com/relambda/relambda/pkg/ast"
)

// PositionError is returned for any malformed source. Line and Col are
// 1-indexed.
type PositionError struct {
	Line int
	Col  int
	Msg  string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

type scanner struct {
	runes []rune
	pos   int
	line  int
	col   int
}

func newScanner(src []rune) *scanner {
	return &scanner{runes: src, line: 1, col: 1}
}

func (s *scanner) peek() (rune, bool) {
	if s.pos >= len(s.runes) {
		return 0, false
	}
	return s.runes[s.pos], true
}

func (s *scanner) next() (rune, bool) {
	r, ok := s.peek()
	if !ok {
		return 0, false
	}
	s.pos++
	if r == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return r, true
}

func (s *scanner) errorf(format string, args ...any) *PositionError {
	return &PositionError{Line: s.line, Col: s.col, Msg: fmt.Sprintf(format, args...)}
}

func (s *scanner) skipCommentsAndWhitespace() {
	for {
		r, ok := s.peek()
		if !ok {
			return
		}
		switch {
		case r == '#':
			for {
				r, ok := s.next()
				if !ok || r == '\n' {
					break
				}
			}
		case unicode.IsSpace(r):
			s.next()
		default:
			return
		}
	}
}

// Parse parses the entirety of src as a single Unlambda expression,
// failing if trailing, non-whitespace/comment input remains.
func Parse(src string) (ast.Node, error) {
	return ParseRunes([]rune(src))
}

// ParseReader reads all of r and parses it as a single expression.
func ParseReader(r io.Reader) (ast.Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	return Parse(string(data))
}

// ParseRunes parses a pre-decoded rune slice, avoiding a second UTF-8
// decode pass when the caller already holds runes.
func ParseRunes(src []rune) (ast.Node, error) {
	s := newScanner(src)
	n, err := parseExpr(s)
	if err != nil {
		return nil, err
	}
	s.skipCommentsAndWhitespace()
	if r, ok := s.peek(); ok {
		return nil, s.errorf("unexpected trailing character %q", r)
	}
	return n, nil
}

// ParseAll parses src as a sequence of whitespace/comment-separated
// top-level expressions, as a file of independent Unlambda programs to
// run in turn. Unlike Parse, a malformed form does not abort the whole
// pass: ParseAll resynchronizes at the next token boundary and keeps
// going, so every error in the file is reported together via an
// *ErrorSet rather than only the first.
func ParseAll(src string) ([]ast.Node, error) {
	s := newScanner([]rune(src))
	errs := &ErrorSet{}
	var nodes []ast.Node

	for {
		s.skipCommentsAndWhitespace()
		if _, ok := s.peek(); !ok {
			break
		}

		n, err := parseExpr(s)
		if err != nil {
			// parseExpr has already consumed the offending character;
			// keep scanning from the character right after it.
			errs.add(err)
			continue
		}
		nodes = append(nodes, n)
	}

	if len(errs.Errs) > 0 {
		return nil, errs
	}
	return nodes, nil
}

func parseExpr(s *scanner) (ast.Node, error) {
	s.skipCommentsAndWhitespace()
	tok, ok := s.next()
	if !ok {
		return nil, s.errorf("unexpected end of input")
	}

	switch tok {
	case '`', '[':
		fn, err := parseExpr(s)
		if err != nil {
			return nil, err
		}
		arg, err := parseExpr(s)
		if err != nil {
			return nil, err
		}
		return ast.Apply{Func: fn, Arg: arg}, nil
	case '.':
		c, ok := s.next()
		if !ok {
			return nil, s.errorf("unexpected end of input after `.`")
		}
		return ast.Print{Char: c}, nil
	case '?':
		c, ok := s.next()
		if !ok {
			return nil, s.errorf("unexpected end of input after `?`")
		}
		return ast.Compare{Char: c}, nil
	}

	switch unicode.ToLower(tok) {
	case 's', 'k', 'i', 'v', 'c', 'd', 'r', 'e':
		return ast.Primitive{Tag: ast.PrimitiveTag(unicode.ToLower(tok))}, nil
	case '@', '|':
		return ast.Primitive{Tag: ast.PrimitiveTag(tok)}, nil
	}

	return nil, s.errorf("unexpected character %q", tok)
}
