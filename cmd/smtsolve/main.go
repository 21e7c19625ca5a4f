// Command smtsolve solves SMT-LIB and DIMACS scripts locally. Each file
// argument is solved concurrently on the bridge worker pool; outputs are
// printed in argument order. With no arguments the script is read from stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/smtbridge/internal/backend"
	ginibackend "github.com/seantiz/smtbridge/internal/backend/gini"
	"github.com/seantiz/smtbridge/internal/bridge"
	"github.com/seantiz/smtbridge/internal/config"
	"github.com/seantiz/smtbridge/internal/model"
	"github.com/seantiz/smtbridge/internal/solver"
)

// input is one script to solve and, once its future settles, the outcome.
type input struct {
	name   string
	output string
	err    error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("smtsolve", flag.ContinueOnError)
	flags.SetOutput(stderr)
	language := flags.String("language", "", "script language: smt2 or dimacs (default: from the file extension)")
	workers := flags.Int("workers", 0, "worker pool size (default: GOMAXPROCS capped at 4)")
	timeoutS := flags.Int("timeout", 0, "per check-sat timeout in seconds (0: none)")
	profile := flags.String("profile", "", "YAML file with default solver options")
	logLevel := flags.String("log-level", "warn", "log level: debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if err := config.LoadEnv(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "smtsolve: %v\n", err)
	}
	logger := config.NewLogger(stderr, parseLevel(*logLevel))

	defaults, err := solver.ProfileDefaults(*profile)
	if err != nil {
		fmt.Fprintf(stderr, "smtsolve: %v\n", err)
		return 2
	}

	pool := bridge.NewPool(*workers, logger)
	pool.Start()
	defer pool.Close()
	loop := bridge.NewLoop(pool, logger)

	ctx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(ctx)
	defer func() {
		stopLoop()
		<-loop.Done()
	}()

	b := ginibackend.NewBackend(ginibackend.Config{
		Defaults:       defaults,
		MaxConcurrency: pool.Size(),
	}, logger)

	names := flags.Args()
	if len(names) == 0 {
		names = []string{"-"}
	}
	inputs := make([]*input, len(names))

	var g errgroup.Group
	for i, name := range names {
		in := &input{name: name}
		inputs[i] = in
		g.Go(func() error {
			in.output, in.err = solve(ctx, loop, b, in.name, *language, *timeoutS, stdin)
			return nil
		})
	}
	_ = g.Wait()

	code := 0
	for _, in := range inputs {
		if in.err != nil {
			fmt.Fprintf(stderr, "smtsolve: %s: %v\n", in.name, in.err)
			code = 1
			continue
		}
		if len(inputs) > 1 {
			fmt.Fprintf(stdout, "; %s\n", in.name)
		}
		io.WriteString(stdout, in.output)
	}
	return code
}

// solve reads one script and runs it through the bridge, blocking until its
// future settles.
func solve(ctx context.Context, loop *bridge.Loop, b backend.Backend, name, language string, timeoutS int, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	if language == "" {
		language = languageOf(name)
	}

	spec := backend.Spec{
		ID:       name,
		Language: language,
		Script:   string(data),
		TimeoutS: timeoutS,
	}

	ch := make(chan *bridge.Future[string], 1)
	if err := loop.Post(func(t *bridge.Turn) {
		ch <- bridge.ScheduleText(t, func() (bridge.Text, error) {
			res, err := b.Solve(context.Background(), spec)
			return res.Output, err
		})
	}); err != nil {
		return "", err
	}
	return (<-ch).Await(ctx)
}

// languageOf picks the script language from a file name.
func languageOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cnf", ".dimacs":
		return model.LanguageDIMACS
	default:
		return model.LanguageSMT2
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn
	}
	return l
}
