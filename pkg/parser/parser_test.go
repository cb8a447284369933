package parser_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relambda/relambda/pkg/ast"
	"github.com/relambda/relambda/pkg/parser"
)

func TestParsePrimitives(t *testing.T) {
	r := require.New(t)

	n, err := parser.Parse("k")
	r.NoError(err)
	r.Equal(ast.Primitive{Tag: ast.K}, n)

	n, err = parser.Parse("S")
	r.NoError(err)
	r.Equal(ast.Primitive{Tag: ast.S}, n, "primitives fold to lower case")

	n, err = parser.Parse("r")
	r.NoError(err)
	r.Equal(ast.Primitive{Tag: ast.R}, n)
}

func TestParsePrintAndCompareKeepCase(t *testing.T) {
	r := require.New(t)

	n, err := parser.Parse(".X")
	r.NoError(err)
	r.Equal(ast.Print{Char: 'X'}, n, "the argument to . is never case-folded")

	n, err = parser.Parse("?Q")
	r.NoError(err)
	r.Equal(ast.Compare{Char: 'Q'}, n)
}

func TestParseApplication(t *testing.T) {
	r := require.New(t)

	n, err := parser.Parse("``.a.bi")
	r.NoError(err)
	r.Equal(
		ast.Apply{
			Func: ast.Apply{Func: ast.Print{Char: 'a'}, Arg: ast.Print{Char: 'b'}},
			Arg:  ast.Primitive{Tag: ast.I},
		},
		n,
	)
}

func TestParseBracketIsBacktickSynonym(t *testing.T) {
	r := require.New(t)

	backtick, err := parser.Parse("`ki")
	r.NoError(err)

	bracket, err := parser.Parse("[ki")
	r.NoError(err)

	r.Equal(backtick, bracket)
}

func TestParseCommentsAndWhitespace(t *testing.T) {
	r := require.New(t)

	n, err := parser.Parse("  # a comment\n `k # another\n i")
	r.NoError(err)
	r.Equal(ast.Apply{Func: ast.Primitive{Tag: ast.K}, Arg: ast.Primitive{Tag: ast.I}}, n)
}

func TestParseErrors(t *testing.T) {
	r := require.New(t)

	_, err := parser.Parse("`k")
	r.Error(err)

	_, err = parser.Parse(".")
	r.Error(err)

	_, err = parser.Parse("?")
	r.Error(err)

	_, err = parser.Parse("kk")
	r.Error(err, "trailing input after a complete expression is an error")

	_, err = parser.Parse("x")
	r.Error(err)

	var posErr *parser.PositionError
	_, err = parser.Parse("`ki x")
	r.ErrorAs(err, &posErr)
	r.Equal(1, posErr.Line)
}

func TestParseAllReturnsEachTopLevelForm(t *testing.T) {
	r := require.New(t)

	nodes, err := parser.ParseAll("k\n`ki\ni")
	r.NoError(err)
	r.Equal([]ast.Node{
		ast.Primitive{Tag: ast.K},
		ast.Apply{Func: ast.Primitive{Tag: ast.K}, Arg: ast.Primitive{Tag: ast.I}},
		ast.Primitive{Tag: ast.I},
	}, nodes)
}

func TestParseAllCollectsEveryError(t *testing.T) {
	r := require.New(t)

	_, err := parser.ParseAll("k\nx\ni\ny")
	r.Error(err)

	var errs *parser.ErrorSet
	r.ErrorAs(err, &errs)
	r.Len(errs.Errs, 2)
}
