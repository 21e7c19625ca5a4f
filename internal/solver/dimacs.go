package solver

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/z"
)

// literalsPerLine bounds the width of "v" lines in DIMACS answers.
const literalsPerLine = 16

// SolveDIMACS reads a "p cnf" problem from r and writes the answer to w in
// SAT competition format.
func SolveDIMACS(r io.Reader, w io.Writer) error {
	return SolveDIMACSWithin(r, w, 0)
}

// SolveDIMACSWithin is SolveDIMACS with a time limit. A zero limit waits for
// the solver; on expiry the answer is "s UNKNOWN".
func SolveDIMACSWithin(r io.Reader, w io.Writer, limit time.Duration) error {
	g, err := gini.NewDimacs(r)
	if err != nil {
		return fmt.Errorf("parse dimacs: %w", err)
	}

	start := time.Now()
	var res int
	if limit > 0 {
		res = g.GoSolve().Try(limit)
	} else {
		res = g.Solve()
	}
	solveDuration.Observe(time.Since(start).Seconds())

	var b strings.Builder
	switch res {
	case 1:
		checksTotal.WithLabelValues("sat").Inc()
		b.WriteString("s SATISFIABLE\n")
		writeAssignment(&b, g)
	case -1:
		checksTotal.WithLabelValues("unsat").Inc()
		b.WriteString("s UNSATISFIABLE\n")
	default:
		checksTotal.WithLabelValues("unknown").Inc()
		b.WriteString("s UNKNOWN\n")
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write dimacs answer: %w", err)
	}
	return nil
}

func writeAssignment(b *strings.Builder, g *gini.Gini) {
	maxVar := g.MaxVar()
	n := 0
	for v := z.Var(1); v <= maxVar; v++ {
		if n%literalsPerLine == 0 {
			if n > 0 {
				b.WriteString("\n")
			}
			b.WriteString("v")
		}
		m := v.Pos()
		if !g.Value(m) {
			m = m.Not()
		}
		b.WriteString(" " + strconv.Itoa(m.Dimacs()))
		n++
	}
	if n%literalsPerLine == 0 {
		if n > 0 {
			b.WriteString("\n")
		}
		b.WriteString("v")
	}
	b.WriteString(" 0\n")
}
