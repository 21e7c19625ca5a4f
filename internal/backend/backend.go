package backend

import (
	"context"
	"errors"

	"github.com/seantiz/smtbridge/internal/bridge"
)

// ErrUnsupportedLanguage is returned by a backend asked to solve a script in
// a language it does not read.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Backend is the interface that all solver backends must implement.
type Backend interface {
	// Solve runs a script to completion and returns everything it printed.
	// A script that cannot be read at all is an error; command-level failures
	// are part of the output.
	Solve(ctx context.Context, spec Spec) (Result, error)

	// Capabilities reports which languages this backend reads.
	Capabilities() Capabilities
}

// Spec describes a script to be solved by a backend.
type Spec struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Script   string `json:"script"`
	TimeoutS int    `json:"timeout_s"`

	// LineWriter is an optional callback that backends invoke for each output
	// line as soon as it is produced. Each call delivers one line to connected
	// SSE subscribers.
	LineWriter func(line string) `json:"-"`
}

// Result holds the output produced by a backend after solving a script.
type Result struct {
	Output bridge.Text `json:"-"`
	// Status is the last satisfiability answer in the output: sat, unsat,
	// unknown, or empty when the script never checked.
	Status     string `json:"status"`
	DurationMS int    `json:"duration_ms"`
}

// Capabilities describes what a backend supports.
type Capabilities struct {
	Name           string   `json:"name"`
	Languages      []string `json:"languages"`
	MaxConcurrency int      `json:"max_concurrency"`
}
