package solver

import (
	"fmt"

	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"

	"github.com/seantiz/smtbridge/internal/smtlib"
)

// algebra interprets Boolean connectives. The circuit algebra builds gates
// for the SAT solver; the model algebra evaluates terms under a model.
type algebra[L any] interface {
	constant(b bool) L
	input(id int) L
	not(a L) L
	and(xs []L) L
	or(xs []L) L
	xor(a, b L) L
	ite(c, t, e L) L
}

type circuitAlgebra struct {
	c      *logic.C
	inputs []z.Lit
}

func (a circuitAlgebra) constant(b bool) z.Lit {
	if b {
		return a.c.T
	}
	return a.c.T.Not()
}

func (a circuitAlgebra) input(id int) z.Lit { return a.inputs[id] }
func (a circuitAlgebra) not(m z.Lit) z.Lit { return m.Not() }
func (a circuitAlgebra) and(ms []z.Lit) z.Lit { return a.c.Ands(ms...) }
func (a circuitAlgebra) or(ms []z.Lit) z.Lit { return a.c.Ors(ms...) }
func (a circuitAlgebra) xor(m, n z.Lit) z.Lit { return a.c.Xor(m, n) }
func (a circuitAlgebra) ite(i, t, e z.Lit) z.Lit { return a.c.Choice(i, t, e) }

type modelAlgebra struct {
	values []bool
}

func (modelAlgebra) constant(b bool) bool { return b }
func (a modelAlgebra) input(id int) bool { return a.values[id] }
func (modelAlgebra) not(b bool) bool { return !b }
func (modelAlgebra) xor(x, y bool) bool { return x != y }

func (modelAlgebra) and(xs []bool) bool {
	for _, x := range xs {
		if !x {
			return false
		}
	}
	return true
}

func (modelAlgebra) or(xs []bool) bool {
	for _, x := range xs {
		if x {
			return true
		}
	}
	return false
}

func (modelAlgebra) ite(c, t, e bool) bool {
	if c {
		return t
	}
	return e
}

// thunk is a term together with the let-frame it must be evaluated in.
type thunk struct {
	term  smtlib.Expr
	frame *frame
}

// frame holds let and macro parameter bindings. Lookups fall back to the
// parent and finally to the session's global symbols.
type frame struct {
	vars   map[string]thunk
	parent *frame
}

func (f *frame) lookup(name string) (thunk, bool) {
	for ; f != nil; f = f.parent {
		if t, ok := f.vars[name]; ok {
			return t, true
		}
	}
	return thunk{}, false
}

// compiler walks terms for one algebra. named is called for every
// (! t :named n) annotation and may be nil.
type compiler[L any] struct {
	s     *Session
	alg   algebra[L]
	named func(name string, t thunk) error
	depth int
}

const maxExpansionDepth = 512

func (cp *compiler[L]) term(e smtlib.Expr, fr *frame) (L, error) {
	var zero L
	cp.depth++
	defer func() { cp.depth-- }()
	if cp.depth > maxExpansionDepth {
		return zero, fmt.Errorf("term nesting exceeds %d", maxExpansionDepth)
	}

	switch e.Kind {
	case smtlib.Symbol:
		return cp.symbol(e.Atom, nil, fr)
	case smtlib.List:
		if len(e.Items) == 0 {
			return zero, fmt.Errorf("empty term")
		}
		head := e.Items[0]
		if head.Kind != smtlib.Symbol {
			return zero, fmt.Errorf("unsupported term %s", e)
		}
		args := e.Items[1:]
		switch head.Atom {
		case "let":
			return cp.let(e, fr)
		case "!":
			return cp.annotated(e, fr)
		case "not":
			if len(args) != 1 {
				return zero, arityError("not", 1, len(args))
			}
			a, err := cp.term(args[0], fr)
			if err != nil {
				return zero, err
			}
			return cp.alg.not(a), nil
		case "and", "or":
			xs, err := cp.terms(args, fr)
			if err != nil {
				return zero, err
			}
			if head.Atom == "and" {
				return cp.alg.and(xs), nil
			}
			return cp.alg.or(xs), nil
		case "xor":
			xs, err := cp.atLeast("xor", 2, args, fr)
			if err != nil {
				return zero, err
			}
			acc := xs[0]
			for _, x := range xs[1:] {
				acc = cp.alg.xor(acc, x)
			}
			return acc, nil
		case "=>":
			xs, err := cp.atLeast("=>", 2, args, fr)
			if err != nil {
				return zero, err
			}
			acc := xs[len(xs)-1]
			for i := len(xs) - 2; i >= 0; i-- {
				acc = cp.alg.or([]L{cp.alg.not(xs[i]), acc})
			}
			return acc, nil
		case "=":
			xs, err := cp.atLeast("=", 2, args, fr)
			if err != nil {
				return zero, err
			}
			eqs := make([]L, 0, len(xs)-1)
			for i := 1; i < len(xs); i++ {
				eqs = append(eqs, cp.alg.not(cp.alg.xor(xs[i-1], xs[i])))
			}
			return cp.alg.and(eqs), nil
		case "distinct":
			xs, err := cp.atLeast("distinct", 2, args, fr)
			if err != nil {
				return zero, err
			}
			var diffs []L
			for i := range xs {
				for j := i + 1; j < len(xs); j++ {
					diffs = append(diffs, cp.alg.xor(xs[i], xs[j]))
				}
			}
			return cp.alg.and(diffs), nil
		case "ite":
			if len(args) != 3 {
				return zero, arityError("ite", 3, len(args))
			}
			xs, err := cp.terms(args, fr)
			if err != nil {
				return zero, err
			}
			return cp.alg.ite(xs[0], xs[1], xs[2]), nil
		default:
			return cp.symbol(head.Atom, args, fr)
		}
	default:
		return zero, fmt.Errorf("unsupported term %s: only Bool terms are supported", e)
	}
}

func (cp *compiler[L]) terms(es []smtlib.Expr, fr *frame) ([]L, error) {
	out := make([]L, len(es))
	for i, e := range es {
		v, err := cp.term(e, fr)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (cp *compiler[L]) atLeast(op string, n int, es []smtlib.Expr, fr *frame) ([]L, error) {
	if len(es) < n {
		return nil, fmt.Errorf("%s expects at least %d arguments, got %d", op, n, len(es))
	}
	return cp.terms(es, fr)
}

// symbol resolves a constant, a let-bound variable or a macro application.
func (cp *compiler[L]) symbol(name string, args []smtlib.Expr, fr *frame) (L, error) {
	var zero L
	if args == nil {
		switch name {
		case "true":
			return cp.alg.constant(true), nil
		case "false":
			return cp.alg.constant(false), nil
		}
		if t, ok := fr.lookup(name); ok {
			return cp.term(t.term, t.frame)
		}
	}

	sym, ok := cp.s.lookup(name)
	if !ok {
		return zero, fmt.Errorf("unknown constant or function %s", smtlib.QuoteSymbol(name))
	}
	if len(args) != len(sym.params) {
		return zero, arityError(name, len(sym.params), len(args))
	}
	if sym.macro == nil {
		return cp.alg.input(sym.input), nil
	}

	call := &frame{vars: make(map[string]thunk, len(args)), parent: sym.macro.frame}
	for i, p := range sym.params {
		call.vars[p] = thunk{term: args[i], frame: fr}
	}
	return cp.term(sym.macro.term, call)
}

func (cp *compiler[L]) let(e smtlib.Expr, fr *frame) (L, error) {
	var zero L
	if len(e.Items) != 3 || e.Items[1].Kind != smtlib.List {
		return zero, fmt.Errorf("malformed let")
	}
	inner := &frame{vars: make(map[string]thunk), parent: fr}
	for _, b := range e.Items[1].Items {
		if b.Kind != smtlib.List || len(b.Items) != 2 || b.Items[0].Kind != smtlib.Symbol {
			return zero, fmt.Errorf("malformed let binding %s", b)
		}
		name := b.Items[0].Atom
		if _, dup := inner.vars[name]; dup {
			return zero, fmt.Errorf("duplicate let binding %s", smtlib.QuoteSymbol(name))
		}
		// Parallel let: bindings see the outer frame.
		inner.vars[name] = thunk{term: b.Items[1], frame: fr}
	}
	return cp.term(e.Items[2], inner)
}

func (cp *compiler[L]) annotated(e smtlib.Expr, fr *frame) (L, error) {
	var zero L
	if len(e.Items) < 2 {
		return zero, fmt.Errorf("malformed annotation")
	}
	body := e.Items[1]
	attrs := e.Items[2:]
	for i := 0; i < len(attrs); i++ {
		if attrs[i].Kind != smtlib.Keyword {
			return zero, fmt.Errorf("expected attribute keyword, got %s", attrs[i])
		}
		if attrs[i].Atom != ":named" {
			// Other attributes (:pattern and friends) carry a value we ignore.
			if i+1 < len(attrs) && attrs[i+1].Kind != smtlib.Keyword {
				i++
			}
			continue
		}
		if i+1 >= len(attrs) || attrs[i+1].Kind != smtlib.Symbol {
			return zero, fmt.Errorf(":named expects a symbol")
		}
		i++
		if cp.named != nil {
			if err := cp.named(attrs[i].Atom, thunk{term: body, frame: fr}); err != nil {
				return zero, err
			}
		}
	}
	return cp.term(body, fr)
}

func arityError(op string, want, got int) error {
	return fmt.Errorf("%s expects %d arguments, got %d", op, want, got)
}
