package smtlib

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SyntaxError reports malformed input at a source position.
type SyntaxError struct {
	Pos Pos
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Col, e.Msg)
}

// Reader yields top-level S-expressions from a stream one at a time.
type Reader struct {
	r    *bufio.Reader
	pos  Pos
	prev Pos
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), pos: Pos{Line: 1, Col: 1}}
}

// Parse reads every top-level expression in src.
func Parse(src string) ([]Expr, error) {
	rd := NewReader(strings.NewReader(src))
	var out []Expr
	for {
		e, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

// Next returns the next top-level expression, or io.EOF once only
// whitespace and comments remain.
func (rd *Reader) Next() (Expr, error) {
	if err := rd.skipSpace(); err != nil {
		return Expr{}, err
	}
	return rd.expr()
}

func (rd *Reader) expr() (Expr, error) {
	start := rd.pos
	r, err := rd.read()
	if err != nil {
		return Expr{}, err
	}

	switch {
	case r == '(':
		list := Expr{Kind: List, Pos: start}
		for {
			if err := rd.skipSpace(); err != nil {
				if errors.Is(err, io.EOF) {
					return Expr{}, rd.errorf(start, "unclosed list")
				}
				return Expr{}, err
			}
			next, err := rd.peek()
			if err != nil {
				return Expr{}, err
			}
			if next == ')' {
				rd.read()
				return list, nil
			}
			item, err := rd.expr()
			if err != nil {
				return Expr{}, err
			}
			list.Items = append(list.Items, item)
		}
	case r == ')':
		return Expr{}, rd.errorf(start, "unexpected ')'")
	case r == '"':
		return rd.stringLit(start)
	case r == '|':
		return rd.quotedSymbol(start)
	case r == ':':
		name, err := rd.run(isSymbolRune)
		if err != nil {
			return Expr{}, err
		}
		if name == "" {
			return Expr{}, rd.errorf(start, "empty keyword")
		}
		return Expr{Kind: Keyword, Atom: ":" + name, Pos: start}, nil
	case r == '#':
		return rd.radixLit(start)
	case isDigit(r):
		rd.unread(r)
		return rd.number(start)
	case isSymbolRune(r):
		rd.unread(r)
		name, err := rd.run(isSymbolRune)
		if err != nil {
			return Expr{}, err
		}
		return Expr{Kind: Symbol, Atom: name, Pos: start}, nil
	default:
		return Expr{}, rd.errorf(start, "unexpected character %q", r)
	}
}

func (rd *Reader) stringLit(start Pos) (Expr, error) {
	var b strings.Builder
	for {
		r, err := rd.read()
		if errors.Is(err, io.EOF) {
			return Expr{}, rd.errorf(start, "unterminated string literal")
		}
		if err != nil {
			return Expr{}, err
		}
		if r == '"' {
			next, err := rd.peek()
			if err == nil && next == '"' {
				rd.read()
				b.WriteRune('"')
				continue
			}
			return Expr{Kind: String, Atom: b.String(), Pos: start}, nil
		}
		b.WriteRune(r)
	}
}

func (rd *Reader) quotedSymbol(start Pos) (Expr, error) {
	var b strings.Builder
	for {
		r, err := rd.read()
		if errors.Is(err, io.EOF) {
			return Expr{}, rd.errorf(start, "unterminated quoted symbol")
		}
		if err != nil {
			return Expr{}, err
		}
		switch r {
		case '|':
			return Expr{Kind: Symbol, Atom: b.String(), Pos: start}, nil
		case '\\':
			return Expr{}, rd.errorf(rd.prev, "backslash in quoted symbol")
		}
		b.WriteRune(r)
	}
}

func (rd *Reader) radixLit(start Pos) (Expr, error) {
	r, err := rd.read()
	if err != nil {
		return Expr{}, rd.errorf(start, "truncated literal")
	}
	var (
		kind  Kind
		valid func(rune) bool
	)
	switch r {
	case 'b':
		kind, valid = Binary, func(r rune) bool { return r == '0' || r == '1' }
	case 'x':
		kind, valid = Hexadecimal, func(r rune) bool {
			return isDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		}
	default:
		return Expr{}, rd.errorf(start, "unknown literal prefix #%c", r)
	}
	digits, err := rd.run(isSymbolRune)
	if err != nil {
		return Expr{}, err
	}
	if digits == "" {
		return Expr{}, rd.errorf(start, "empty #%c literal", r)
	}
	for _, d := range digits {
		if !valid(d) {
			return Expr{}, rd.errorf(start, "invalid digit %q in #%c literal", d, r)
		}
	}
	return Expr{Kind: kind, Atom: "#" + string(r) + digits, Pos: start}, nil
}

func (rd *Reader) number(start Pos) (Expr, error) {
	text, err := rd.run(isSymbolRune)
	if err != nil {
		return Expr{}, err
	}
	whole, frac, dotted := strings.Cut(text, ".")
	if !allDigits(whole) || (dotted && !allDigits(frac)) {
		return Expr{}, rd.errorf(start, "invalid numeral %q", text)
	}
	if len(whole) > 1 && whole[0] == '0' {
		return Expr{}, rd.errorf(start, "numeral %q has a leading zero", text)
	}
	if dotted {
		return Expr{Kind: Decimal, Atom: text, Pos: start}, nil
	}
	return Expr{Kind: Numeral, Atom: text, Pos: start}, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isDigit(r) {
			return false
		}
	}
	return true
}

// run consumes the longest prefix of runes satisfying ok.
func (rd *Reader) run(ok func(rune) bool) (string, error) {
	var b strings.Builder
	for {
		r, err := rd.peek()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		if !ok(r) {
			return b.String(), nil
		}
		rd.read()
		b.WriteRune(r)
	}
}

// skipSpace consumes whitespace and comments. It returns io.EOF at end of
// input.
func (rd *Reader) skipSpace() error {
	for {
		r, err := rd.read()
		if err != nil {
			return err
		}
		switch r {
		case ' ', '\t', '\r', '\n':
		case ';':
			for r != '\n' {
				if r, err = rd.read(); err != nil {
					return err
				}
			}
		default:
			rd.unread(r)
			return nil
		}
	}
}

func (rd *Reader) read() (rune, error) {
	r, _, err := rd.r.ReadRune()
	if err != nil {
		return 0, err
	}
	rd.prev = rd.pos
	if r == '\n' {
		rd.pos.Line++
		rd.pos.Col = 1
	} else {
		rd.pos.Col++
	}
	return r, nil
}

func (rd *Reader) unread(rune) {
	_ = rd.r.UnreadRune()
	rd.pos = rd.prev
}

func (rd *Reader) peek() (rune, error) {
	r, _, err := rd.r.ReadRune()
	if err != nil {
		return 0, err
	}
	_ = rd.r.UnreadRune()
	return r, nil
}

func (rd *Reader) errorf(at Pos, format string, args ...any) error {
	return &SyntaxError{Pos: at, Msg: fmt.Sprintf(format, args...)}
}
