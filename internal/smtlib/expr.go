// Package smtlib reads SMT-LIB v2 scripts into S-expressions.
package smtlib

import (
	"strings"
)

// Kind classifies an Expr.
type Kind int

const (
	Symbol Kind = iota
	Keyword
	String
	Numeral
	Decimal
	Binary
	Hexadecimal
	List
)

var kindNames = [...]string{
	Symbol:      "symbol",
	Keyword:     "keyword",
	String:      "string",
	Numeral:     "numeral",
	Decimal:     "decimal",
	Binary:      "binary",
	Hexadecimal: "hexadecimal",
	List:        "list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

// Expr is one S-expression. Atoms keep their value in Atom: symbols without
// enclosing bars, keywords with the leading colon, strings unescaped, and
// numeric literals as written. Lists keep their children in Items.
type Expr struct {
	Kind  Kind
	Atom  string
	Items []Expr
	Pos   Pos
}

// IsSymbol reports whether e is the symbol name.
func (e Expr) IsSymbol(name string) bool {
	return e.Kind == Symbol && e.Atom == name
}

// Head returns the leading symbol of a list, or "" when there is none.
func (e Expr) Head() string {
	if e.Kind != List || len(e.Items) == 0 || e.Items[0].Kind != Symbol {
		return ""
	}
	return e.Items[0].Atom
}

// String prints e in canonical form: single spaces between list items,
// strings re-escaped and symbols quoted only when they need it.
func (e Expr) String() string {
	var b strings.Builder
	e.write(&b)
	return b.String()
}

func (e Expr) write(b *strings.Builder) {
	switch e.Kind {
	case List:
		b.WriteByte('(')
		for i, it := range e.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			it.write(b)
		}
		b.WriteByte(')')
	case String:
		b.WriteString(Quote(e.Atom))
	case Symbol:
		b.WriteString(QuoteSymbol(e.Atom))
	default:
		b.WriteString(e.Atom)
	}
}

// Quote renders s as an SMT-LIB string literal.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QuoteSymbol renders name as a symbol, adding bars when it is not a simple
// symbol.
func QuoteSymbol(name string) string {
	if isSimpleSymbol(name) {
		return name
	}
	return "|" + name + "|"
}

func isSimpleSymbol(s string) bool {
	if s == "" || isDigit(rune(s[0])) {
		return false
	}
	for _, r := range s {
		if !isSymbolRune(r) {
			return false
		}
	}
	return true
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isSymbolRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', isDigit(r):
		return true
	}
	return strings.ContainsRune("~!@$%^&*_-+=<>.?/", r)
}
