package smtlib_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/smtbridge/internal/smtlib"
)

func TestParseScript(t *testing.T) {
	src := `; a comment
(set-logic QF_UF)
(declare-const p Bool)
(assert (or p (not p)))   ; trailing
(check-sat)
`
	exprs, err := smtlib.Parse(src)
	require.NoError(t, err)
	require.Len(t, exprs, 4)

	assert.Equal(t, "set-logic", exprs[0].Head())
	assert.Equal(t, "(assert (or p (not p)))", exprs[2].String())
	assert.Equal(t, smtlib.Pos{Line: 4, Col: 1}, exprs[2].Pos)
	assert.Equal(t, "(check-sat)", exprs[3].String())
}

func TestParseAtoms(t *testing.T) {
	tests := []struct {
		src  string
		kind smtlib.Kind
		atom string
		out  string
	}{
		{"foo", smtlib.Symbol, "foo", "foo"},
		{"|hello world|", smtlib.Symbol, "hello world", "|hello world|"},
		{"|plain|", smtlib.Symbol, "plain", "plain"},
		{":named", smtlib.Keyword, ":named", ":named"},
		{`"say ""hi"""`, smtlib.String, `say "hi"`, `"say ""hi"""`},
		{"42", smtlib.Numeral, "42", "42"},
		{"0", smtlib.Numeral, "0", "0"},
		{"3.25", smtlib.Decimal, "3.25", "3.25"},
		{"#b1010", smtlib.Binary, "#b1010", "#b1010"},
		{"#xFF", smtlib.Hexadecimal, "#xFF", "#xFF"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			exprs, err := smtlib.Parse(tt.src)
			require.NoError(t, err)
			require.Len(t, exprs, 1)
			assert.Equal(t, tt.kind, exprs[0].Kind)
			assert.Equal(t, tt.atom, exprs[0].Atom)
			assert.Equal(t, tt.out, exprs[0].String())
		})
	}
}

func TestParseMultilineString(t *testing.T) {
	exprs, err := smtlib.Parse("(echo \"a\nb\")")
	require.NoError(t, err)
	require.Len(t, exprs, 1)
	assert.Equal(t, "a\nb", exprs[0].Items[1].Atom)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		pos  smtlib.Pos
		msg  string
	}{
		{"unclosed", "(assert (and a b)", smtlib.Pos{Line: 1, Col: 1}, "unclosed list"},
		{"stray close", "(check-sat))", smtlib.Pos{Line: 1, Col: 12}, "unexpected ')'"},
		{"string", "\n  (echo \"oops)", smtlib.Pos{Line: 2, Col: 9}, "unterminated string literal"},
		{"leading zero", "007", smtlib.Pos{Line: 1, Col: 1}, "leading zero"},
		{"bad binary", "#b102", smtlib.Pos{Line: 1, Col: 1}, "invalid digit"},
		{"quoted backslash", `|a\b|`, smtlib.Pos{Line: 1, Col: 3}, "backslash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := smtlib.Parse(tt.src)
			var se *smtlib.SyntaxError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.pos, se.Pos)
			assert.Contains(t, se.Msg, tt.msg)
		})
	}
}

func TestReaderIncremental(t *testing.T) {
	rd := smtlib.NewReader(strings.NewReader("(push 1) (pop 1) ; done"))

	e, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, "(push 1)", e.String())

	e, err = rd.Next()
	require.NoError(t, err)
	assert.Equal(t, "(pop 1)", e.String())

	_, err = rd.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestParseEmpty(t *testing.T) {
	exprs, err := smtlib.Parse("  ; nothing here\n")
	require.NoError(t, err)
	assert.Empty(t, exprs)
}
