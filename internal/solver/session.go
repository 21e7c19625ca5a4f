package solver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"

	"github.com/seantiz/smtbridge/internal/smtlib"
)

const (
	solverName    = "smtbridge"
	solverVersion = "1.0"
	solverAuthors = "smtbridge contributors (SAT core: gini)"

	// maxScopes bounds the assertion stack depth, base scope included.
	maxScopes = 4096
)

var (
	errUnsupported = errors.New("unsupported")
	errExit        = errors.New("exit")
)

var supportedLogics = map[string]bool{
	"QF_UF":   true,
	"QF_BOOL": true,
	"QF_SAT":  true,
	"ALL":     true,
}

type checkStatus int

const (
	statusNone checkStatus = iota
	statusSat
	statusUnsat
	statusUnknown
)

func (c checkStatus) String() string {
	switch c {
	case statusSat:
		return "sat"
	case statusUnsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// symbol is a global name: a declared constant (an input of the circuit) or
// a macro from define-fun or a :named annotation.
type symbol struct {
	params []string
	input  int
	macro  *thunk
}

type assertion struct {
	term smtlib.Expr
	lit  z.Lit
}

// scope is one level of the assertion stack.
type scope struct {
	symbols    map[string]symbol
	consts     []string
	named      []string
	assertions []assertion
}

func newScope() *scope {
	return &scope{symbols: make(map[string]symbol)}
}

// Session interprets SMT-LIB commands over a propositional circuit. Each
// check-sat bit-blasts the current assertion stack into a fresh gini solver.
// A Session is not safe for concurrent use.
type Session struct {
	w        io.Writer
	onLine   func(string)
	writeErr error

	defaults  Options
	opts      Options
	logicName string

	c      *logic.C
	inputs []z.Lit
	scopes []*scope

	status checkStatus
	reason string
	model  []bool
	checks int
}

// NewSession returns a session writing responses to w.
func NewSession(w io.Writer, opts Options) *Session {
	s := &Session{w: w, defaults: opts}
	s.reset()
	return s
}

// OnLine registers fn to receive every response line as it is written.
func (s *Session) OnLine(fn func(line string)) {
	s.onLine = fn
}

// Options returns the options currently in effect.
func (s *Session) Options() Options {
	return s.opts
}

func (s *Session) reset() {
	s.opts = s.defaults
	s.logicName = ""
	s.resetAssertions()
}

func (s *Session) resetAssertions() {
	s.c = logic.NewC()
	s.inputs = nil
	s.scopes = []*scope{newScope()}
	s.invalidate()
}

func (s *Session) invalidate() {
	s.status = statusNone
	s.reason = ""
	s.model = nil
}

// Run executes every command read from r until end of input or exit. Command
// errors are reported inline as (error "...") and execution continues; a
// syntax error stops the run and is returned.
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	rd := smtlib.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return s.writeErr
		}
		if err != nil {
			return fmt.Errorf("parse script: %w", err)
		}
		if !s.Exec(cmd) {
			return s.writeErr
		}
		if s.writeErr != nil {
			return s.writeErr
		}
	}
}

// Exec runs one command and writes its response. It reports false after
// exit.
func (s *Session) Exec(cmd smtlib.Expr) bool {
	out, err := s.dispatch(cmd)
	switch {
	case errors.Is(err, errExit):
		if s.opts.PrintSuccess {
			s.emit("success")
		}
		return false
	case errors.Is(err, errUnsupported):
		s.emit("unsupported")
	case err != nil:
		s.emit("(error " + smtlib.Quote(err.Error()) + ")")
	case out != "":
		s.emit(out)
	case s.opts.PrintSuccess:
		s.emit("success")
	}
	return true
}

func (s *Session) emit(response string) {
	for line := range strings.SplitSeq(response, "\n") {
		if s.writeErr == nil {
			_, s.writeErr = io.WriteString(s.w, line+"\n")
		}
		if s.onLine != nil {
			s.onLine(line)
		}
	}
}

func (s *Session) dispatch(cmd smtlib.Expr) (string, error) {
	name := cmd.Head()
	if name == "" {
		return "", fmt.Errorf("expected a command, got %s", cmd)
	}
	args := cmd.Items[1:]

	switch name {
	case "set-logic":
		return "", s.setLogic(args)
	case "set-option":
		return "", s.setOption(args)
	case "get-option":
		return s.getOption(args)
	case "set-info":
		if len(args) == 0 || args[0].Kind != smtlib.Keyword {
			return "", fmt.Errorf("set-info expects an attribute")
		}
		return "", nil
	case "get-info":
		return s.getInfo(args)
	case "declare-const":
		return "", s.declareConst(args)
	case "declare-fun":
		return "", s.declareFun(args)
	case "define-fun":
		return "", s.defineFun(args)
	case "assert":
		return "", s.assert(args)
	case "check-sat":
		if len(args) != 0 {
			return "", arityError("check-sat", 0, len(args))
		}
		return s.checkSat(nil)
	case "check-sat-assuming":
		if len(args) != 1 || args[0].Kind != smtlib.List {
			return "", fmt.Errorf("check-sat-assuming expects a list of literals")
		}
		return s.checkSat(args[0].Items)
	case "get-model":
		return s.getModel()
	case "get-value":
		return s.getValue(args)
	case "get-assignment":
		return s.getAssignment()
	case "get-assertions":
		return s.getAssertions(), nil
	case "push":
		return "", s.push(args)
	case "pop":
		return "", s.pop(args)
	case "reset":
		s.reset()
		return "", nil
	case "reset-assertions":
		s.resetAssertions()
		return "", nil
	case "echo":
		if len(args) != 1 || args[0].Kind != smtlib.String {
			return "", fmt.Errorf("echo expects a string literal")
		}
		return smtlib.Quote(args[0].Atom), nil
	case "exit":
		return "", errExit
	default:
		return "", errUnsupported
	}
}

func (s *Session) setLogic(args []smtlib.Expr) error {
	if len(args) != 1 || args[0].Kind != smtlib.Symbol {
		return fmt.Errorf("set-logic expects a logic name")
	}
	if s.logicName != "" {
		return fmt.Errorf("logic already set")
	}
	if !supportedLogics[args[0].Atom] {
		return fmt.Errorf("unsupported logic %s", args[0].Atom)
	}
	s.logicName = args[0].Atom
	return nil
}

func (s *Session) setOption(args []smtlib.Expr) error {
	if len(args) != 2 || args[0].Kind != smtlib.Keyword {
		return fmt.Errorf("set-option expects an attribute and a value")
	}
	return s.opts.set(args[0].Atom, args[1].Atom)
}

func (s *Session) getOption(args []smtlib.Expr) (string, error) {
	if len(args) != 1 || args[0].Kind != smtlib.Keyword {
		return "", fmt.Errorf("get-option expects a keyword")
	}
	return s.opts.get(args[0].Atom)
}

func (s *Session) getInfo(args []smtlib.Expr) (string, error) {
	if len(args) != 1 || args[0].Kind != smtlib.Keyword {
		return "", fmt.Errorf("get-info expects a keyword")
	}
	key := args[0].Atom
	switch key {
	case ":name":
		return fmt.Sprintf("(%s %s)", key, smtlib.Quote(solverName)), nil
	case ":version":
		return fmt.Sprintf("(%s %s)", key, smtlib.Quote(solverVersion)), nil
	case ":authors":
		return fmt.Sprintf("(%s %s)", key, smtlib.Quote(solverAuthors)), nil
	case ":error-behavior":
		return fmt.Sprintf("(%s continued-execution)", key), nil
	case ":reason-unknown":
		if s.status != statusUnknown {
			return "", fmt.Errorf("last check-sat did not return unknown")
		}
		return fmt.Sprintf("(%s %s)", key, s.reason), nil
	case ":all-statistics":
		return fmt.Sprintf("(%s (:checks %d :constants %d :assertions %d))",
			key, s.checks, len(s.inputs), s.assertionCount()), nil
	default:
		return "", errUnsupported
	}
}

func (s *Session) lookup(name string) (symbol, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if sym, ok := s.scopes[i].symbols[name]; ok {
			return sym, true
		}
	}
	return symbol{}, false
}

func (s *Session) top() *scope {
	return s.scopes[len(s.scopes)-1]
}

func (s *Session) bind(name string, sym symbol) error {
	if name == "true" || name == "false" {
		return fmt.Errorf("cannot redefine %s", name)
	}
	if _, ok := s.lookup(name); ok {
		return fmt.Errorf("symbol %s already declared", smtlib.QuoteSymbol(name))
	}
	s.top().symbols[name] = sym
	return nil
}

func (s *Session) declareConst(args []smtlib.Expr) error {
	if len(args) != 2 || args[0].Kind != smtlib.Symbol {
		return fmt.Errorf("declare-const expects a name and a sort")
	}
	return s.declare(args[0].Atom, args[1])
}

func (s *Session) declareFun(args []smtlib.Expr) error {
	if len(args) != 3 || args[0].Kind != smtlib.Symbol || args[1].Kind != smtlib.List {
		return fmt.Errorf("declare-fun expects a name, argument sorts and a sort")
	}
	if len(args[1].Items) != 0 {
		return fmt.Errorf("functions with arguments are not supported")
	}
	return s.declare(args[0].Atom, args[2])
}

func (s *Session) declare(name string, sort smtlib.Expr) error {
	if err := checkBoolSort(sort); err != nil {
		return err
	}
	if err := s.bind(name, symbol{input: len(s.inputs)}); err != nil {
		return err
	}
	s.inputs = append(s.inputs, s.c.Lit())
	s.top().consts = append(s.top().consts, name)
	s.invalidate()
	return nil
}

func checkBoolSort(sort smtlib.Expr) error {
	if !sort.IsSymbol("Bool") {
		return fmt.Errorf("unsupported sort %s: only Bool is supported", sort)
	}
	return nil
}

func (s *Session) defineFun(args []smtlib.Expr) error {
	if len(args) != 4 || args[0].Kind != smtlib.Symbol || args[1].Kind != smtlib.List {
		return fmt.Errorf("define-fun expects a name, parameters, a sort and a body")
	}
	if err := checkBoolSort(args[2]); err != nil {
		return err
	}

	var params []string
	check := &frame{vars: make(map[string]thunk)}
	for _, p := range args[1].Items {
		if p.Kind != smtlib.List || len(p.Items) != 2 || p.Items[0].Kind != smtlib.Symbol {
			return fmt.Errorf("malformed parameter %s", p)
		}
		if err := checkBoolSort(p.Items[1]); err != nil {
			return err
		}
		name := p.Items[0].Atom
		if _, dup := check.vars[name]; dup {
			return fmt.Errorf("duplicate parameter %s", smtlib.QuoteSymbol(name))
		}
		check.vars[name] = thunk{term: smtlib.Expr{Kind: smtlib.Symbol, Atom: "true"}}
		params = append(params, name)
	}

	// Type-check the body now so errors surface at definition time.
	if _, err := s.evaluate(args[3], check, nil); err != nil {
		return err
	}
	if err := s.bind(args[0].Atom, symbol{params: params, macro: &thunk{term: args[3]}}); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// defineNamed binds a :named annotation in the current scope.
func (s *Session) defineNamed(name string, t thunk) error {
	if err := s.bind(name, symbol{macro: &t}); err != nil {
		return err
	}
	s.top().named = append(s.top().named, name)
	return nil
}

// circuit compiles a term into a circuit literal.
func (s *Session) circuit(e smtlib.Expr, named func(string, thunk) error) (z.Lit, error) {
	cp := &compiler[z.Lit]{s: s, alg: circuitAlgebra{c: s.c, inputs: s.inputs}, named: named}
	return cp.term(e, nil)
}

// evaluate computes a term's value under the current model, or under an
// all-false assignment when there is none.
func (s *Session) evaluate(e smtlib.Expr, fr *frame, named func(string, thunk) error) (bool, error) {
	values := s.model
	if len(values) < len(s.inputs) {
		values = make([]bool, len(s.inputs))
		copy(values, s.model)
	}
	cp := &compiler[bool]{s: s, alg: modelAlgebra{values: values}, named: named}
	return cp.term(e, fr)
}

func (s *Session) assert(args []smtlib.Expr) error {
	if len(args) != 1 {
		return arityError("assert", 1, len(args))
	}
	// Names are bound only after the whole term compiled.
	var pending []func() error
	named := func(name string, t thunk) error {
		pending = append(pending, func() error { return s.defineNamed(name, t) })
		return nil
	}
	lit, err := s.circuit(args[0], named)
	if err != nil {
		return err
	}
	for _, bind := range pending {
		if err := bind(); err != nil {
			return err
		}
	}
	s.top().assertions = append(s.top().assertions, assertion{term: args[0], lit: lit})
	s.invalidate()
	return nil
}

func (s *Session) assertionCount() int {
	n := 0
	for _, sc := range s.scopes {
		n += len(sc.assertions)
	}
	return n
}

func (s *Session) checkSat(assumptions []smtlib.Expr) (string, error) {
	units := make([]z.Lit, 0, s.assertionCount()+len(assumptions))
	for _, a := range assumptions {
		lit, err := s.circuit(a, nil)
		if err != nil {
			return "", err
		}
		units = append(units, lit)
	}
	for _, sc := range s.scopes {
		for _, a := range sc.assertions {
			units = append(units, a.lit)
		}
	}

	s.invalidate()
	s.checks++

	g := gini.New()
	s.c.ToCnf(g)
	for _, m := range units {
		g.Add(m)
		g.Add(z.LitNull)
	}

	start := time.Now()
	var res int
	if s.opts.TimeoutMS > 0 {
		res = g.GoSolve().Try(time.Duration(s.opts.TimeoutMS) * time.Millisecond)
	} else {
		res = g.Solve()
	}
	solveDuration.Observe(time.Since(start).Seconds())

	switch res {
	case 1:
		s.status = statusSat
		s.model = make([]bool, len(s.inputs))
		maxVar := g.MaxVar()
		for i, m := range s.inputs {
			// Inputs that appear in no clause are unconstrained.
			if m.Var() <= maxVar {
				s.model[i] = g.Value(m)
			}
		}
	case -1:
		s.status = statusUnsat
	default:
		s.status = statusUnknown
		s.reason = "timeout"
	}
	checksTotal.WithLabelValues(s.status.String()).Inc()

	if s.status == statusSat && s.opts.DumpModels {
		return s.status.String() + "\n" + s.formatModel(), nil
	}
	return s.status.String(), nil
}

func (s *Session) requireModel() error {
	if !s.opts.ProduceModels {
		return fmt.Errorf("model generation is disabled; set :produce-models to true")
	}
	if s.status != statusSat {
		return fmt.Errorf("no model available; last check-sat was not sat")
	}
	return nil
}

func (s *Session) getModel() (string, error) {
	if err := s.requireModel(); err != nil {
		return "", err
	}
	return s.formatModel(), nil
}

func (s *Session) formatModel() string {
	var b strings.Builder
	b.WriteString("(")
	for _, sc := range s.scopes {
		for _, name := range sc.consts {
			sym := sc.symbols[name]
			fmt.Fprintf(&b, "\n  (define-fun %s () Bool %t)", smtlib.QuoteSymbol(name), s.model[sym.input])
		}
	}
	b.WriteString("\n)")
	return b.String()
}

func (s *Session) getValue(args []smtlib.Expr) (string, error) {
	if len(args) != 1 || args[0].Kind != smtlib.List || len(args[0].Items) == 0 {
		return "", fmt.Errorf("get-value expects a non-empty list of terms")
	}
	if err := s.requireModel(); err != nil {
		return "", err
	}
	pairs := make([]string, 0, len(args[0].Items))
	for _, t := range args[0].Items {
		v, err := s.evaluate(t, nil, nil)
		if err != nil {
			return "", err
		}
		pairs = append(pairs, fmt.Sprintf("(%s %t)", t, v))
	}
	return "(" + strings.Join(pairs, " ") + ")", nil
}

func (s *Session) getAssignment() (string, error) {
	if s.status != statusSat {
		return "", fmt.Errorf("no assignment available; last check-sat was not sat")
	}
	var pairs []string
	for _, sc := range s.scopes {
		for _, name := range sc.named {
			v, err := s.evaluate(smtlib.Expr{Kind: smtlib.Symbol, Atom: name}, nil, nil)
			if err != nil {
				return "", err
			}
			pairs = append(pairs, fmt.Sprintf("(%s %t)", smtlib.QuoteSymbol(name), v))
		}
	}
	return "(" + strings.Join(pairs, " ") + ")", nil
}

func (s *Session) getAssertions() string {
	var terms []string
	for _, sc := range s.scopes {
		for _, a := range sc.assertions {
			terms = append(terms, a.term.String())
		}
	}
	return "(" + strings.Join(terms, " ") + ")"
}

func (s *Session) scopeCount(args []smtlib.Expr) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	if len(args) != 1 || args[0].Kind != smtlib.Numeral {
		return 0, fmt.Errorf("expected a numeral")
	}
	var n int
	if err := parseUint(args[0].Atom, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Session) push(args []smtlib.Expr) error {
	n, err := s.scopeCount(args)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if n > maxScopes-len(s.scopes) {
		return fmt.Errorf("push: %d scopes exceed the limit of %d", n, maxScopes)
	}
	for range n {
		s.scopes = append(s.scopes, newScope())
	}
	s.invalidate()
	return nil
}

func (s *Session) pop(args []smtlib.Expr) error {
	n, err := s.scopeCount(args)
	if err != nil {
		return fmt.Errorf("pop: %w", err)
	}
	if n > len(s.scopes)-1 {
		return fmt.Errorf("pop %d exceeds the %d pushed scopes", n, len(s.scopes)-1)
	}
	s.scopes = s.scopes[:len(s.scopes)-n]
	s.invalidate()
	return nil
}
