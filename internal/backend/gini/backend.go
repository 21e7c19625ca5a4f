// Package gini implements backend.Backend with the in-process SMT-LIB
// interpreter and DIMACS solver built on github.com/go-air/gini.
package gini

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seantiz/smtbridge/internal/backend"
	"github.com/seantiz/smtbridge/internal/bridge"
	"github.com/seantiz/smtbridge/internal/model"
	"github.com/seantiz/smtbridge/internal/solver"
)

// BackendName is the name used when registering with the backend registry.
const BackendName = model.BackendGini

// SupportedLanguages lists the script languages this backend reads.
var SupportedLanguages = []string{model.LanguageSMT2, model.LanguageDIMACS}

// Config holds gini backend settings.
type Config struct {
	// Defaults are the solver options every SMT-LIB session starts with.
	Defaults solver.Options
	// MaxConcurrency is reported in Capabilities; it matches the worker
	// pool size that bounds concurrent solves.
	MaxConcurrency int
}

// Backend implements the backend.Backend interface using gini.
type Backend struct {
	cfg    Config
	logger *slog.Logger
}

// NewBackend creates a new gini backend.
func NewBackend(cfg Config, logger *slog.Logger) *Backend {
	return &Backend{cfg: cfg, logger: logger}
}

// Solve runs the script to completion on the calling goroutine.
func (b *Backend) Solve(ctx context.Context, spec backend.Spec) (backend.Result, error) {
	start := time.Now()

	var (
		out string
		err error
	)
	switch spec.Language {
	case model.LanguageSMT2:
		out, err = b.solveSMT2(ctx, spec)
	case model.LanguageDIMACS:
		out, err = b.solveDIMACS(spec)
	default:
		return backend.Result{}, fmt.Errorf("%w: %q", backend.ErrUnsupportedLanguage, spec.Language)
	}

	duration := time.Since(start)
	solveSeconds.WithLabelValues(spec.Language).Observe(duration.Seconds())
	if err != nil {
		solvesTotal.WithLabelValues(spec.Language, statusFailed).Inc()
		return backend.Result{}, fmt.Errorf("solve %s: %w", spec.Language, err)
	}
	solvesTotal.WithLabelValues(spec.Language, statusCompleted).Inc()

	status := Status(out)
	b.logger.Debug("solve completed",
		"job_id", spec.ID,
		"language", spec.Language,
		"status", status,
		"duration_ms", duration.Milliseconds(),
	)

	return backend.Result{
		Output:     bridge.UTF8Text(out),
		Status:     status,
		DurationMS: int(duration.Milliseconds()),
	}, nil
}

func (b *Backend) solveSMT2(ctx context.Context, spec backend.Spec) (string, error) {
	opts := b.cfg.Defaults
	if spec.TimeoutS > 0 {
		opts.TimeoutMS = spec.TimeoutS * 1000
	}
	return solver.Execute(ctx, spec.Script, opts, spec.LineWriter)
}

func (b *Backend) solveDIMACS(spec backend.Spec) (string, error) {
	var sb strings.Builder
	limit := time.Duration(spec.TimeoutS) * time.Second
	if err := solver.SolveDIMACSWithin(strings.NewReader(spec.Script), &sb, limit); err != nil {
		return "", err
	}
	out := sb.String()
	if spec.LineWriter != nil {
		sc := bufio.NewScanner(strings.NewReader(out))
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			spec.LineWriter(sc.Text())
		}
	}
	return out, nil
}

// Capabilities reports what this backend supports.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:           BackendName,
		Languages:      SupportedLanguages,
		MaxConcurrency: b.cfg.MaxConcurrency,
	}
}

// Status returns the last satisfiability answer found in solver output, in
// SMT-LIB spelling, or "" when there is none.
func Status(out string) string {
	status := ""
	for line := range strings.SplitSeq(out, "\n") {
		switch strings.TrimSpace(line) {
		case "sat", "s SATISFIABLE":
			status = "sat"
		case "unsat", "s UNSATISFIABLE":
			status = "unsat"
		case "unknown", "s UNKNOWN":
			status = "unknown"
		}
	}
	return status
}
