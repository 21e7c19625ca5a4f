package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/smtbridge/internal/backend"
	ginibackend "github.com/seantiz/smtbridge/internal/backend/gini"
	"github.com/seantiz/smtbridge/internal/bridge"
	"github.com/seantiz/smtbridge/internal/cache"
	"github.com/seantiz/smtbridge/internal/engine"
	"github.com/seantiz/smtbridge/internal/model"
	"github.com/seantiz/smtbridge/internal/solver"
	"github.com/seantiz/smtbridge/internal/store"
)

// stubBackend is a configurable backend for engine tests.
type stubBackend struct {
	delay  time.Duration
	lines  []string
	status string
	err    error
	calls  atomic.Int32
}

func (d *stubBackend) Solve(ctx context.Context, spec backend.Spec) (backend.Result, error) {
	d.calls.Add(1)
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return backend.Result{}, ctx.Err()
	}
	if d.err != nil {
		return backend.Result{}, d.err
	}
	var out strings.Builder
	for _, l := range d.lines {
		if spec.LineWriter != nil {
			spec.LineWriter(l)
		}
		out.WriteString(l)
		out.WriteByte('\n')
	}
	return backend.Result{
		Output:     bridge.UTF8Text(out.String()),
		Status:     d.status,
		DurationMS: 1,
	}, nil
}

func (d *stubBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:           model.BackendGini,
		Languages:      []string{model.LanguageSMT2, model.LanguageDIMACS},
		MaxConcurrency: 2,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// startLoop runs a bridge loop over a two-worker pool until the test ends.
func startLoop(t *testing.T) (*bridge.Loop, context.CancelFunc) {
	t.Helper()
	pool := bridge.NewPool(2, testLogger())
	pool.Start()
	loop := bridge.NewLoop(pool, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	t.Cleanup(func() {
		cancel()
		select {
		case <-loop.Done():
		case <-time.After(5 * time.Second):
			t.Error("loop did not stop")
		}
		pool.Close()
	})
	return loop, cancel
}

func newTestEngine(t *testing.T, b backend.Backend, c cache.Cache) (*engine.Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := backend.NewRegistry()
	reg.Register(model.BackendGini, b)

	loop, _ := startLoop(t)
	eng := engine.NewEngine(s, reg, c, loop, engine.Config{}, testLogger())
	t.Cleanup(eng.Wait)
	return eng, s
}

func makeJob(script string) *model.Job {
	timeout := 10
	return &model.Job{
		Language: model.LanguageSMT2,
		Backend:  model.BackendAuto,
		Script:   script,
		TimeoutS: &timeout,
	}
}

// waitForStatus polls the store until the job reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, err := s.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if j.Status == expected {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

func TestSubmitHappyPath(t *testing.T) {
	b := &stubBackend{delay: 10 * time.Millisecond, lines: []string{"sat"}, status: "sat"}
	eng, s := newTestEngine(t, b, nil)

	j := makeJob("(check-sat)")
	if err := eng.Submit(context.Background(), j); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if j.ID == "" {
		t.Fatal("Submit did not assign an ID")
	}
	if j.InputHash != cache.Key(model.LanguageSMT2, "(check-sat)") {
		t.Errorf("input_hash = %q, want the script key", j.InputHash)
	}

	completed := waitForStatus(t, s, j.ID, model.StatusCompleted, 5*time.Second)
	if completed.Output != "sat\n" {
		t.Errorf("output = %q, want %q", completed.Output, "sat\n")
	}
	if completed.Backend != model.BackendGini {
		t.Errorf("backend = %q, want %q", completed.Backend, model.BackendGini)
	}
	if completed.DurationMS == nil {
		t.Error("duration_ms is nil")
	}
	if completed.StartedAt == nil {
		t.Error("started_at is nil")
	}
	if completed.FinishedAt == nil {
		t.Error("finished_at is nil")
	}
	if completed.Cached {
		t.Error("first solve reported as cached")
	}
}

func TestSubmitBackendError(t *testing.T) {
	b := &stubBackend{err: errors.New("backend crash")}
	eng, s := newTestEngine(t, b, nil)

	j := makeJob("(check-sat)")
	if err := eng.Submit(context.Background(), j); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, j.ID, model.StatusFailed, 5*time.Second)
	if !strings.Contains(failed.Error, "backend crash") {
		t.Errorf("error = %q, want it to mention the backend failure", failed.Error)
	}
}

func TestSubmitTimeout(t *testing.T) {
	b := &stubBackend{delay: 5 * time.Second}
	eng, s := newTestEngine(t, b, nil)

	j := makeJob("(check-sat)")
	timeout := 1
	j.TimeoutS = &timeout
	if err := eng.Submit(context.Background(), j); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, j.ID, model.StatusFailed, 5*time.Second)
	if failed.Error != "job timed out after 1s" {
		t.Errorf("error = %q, want timeout message", failed.Error)
	}
}

func TestSubmitUnresolvableBackend(t *testing.T) {
	b := &stubBackend{lines: []string{"sat"}}
	eng, s := newTestEngine(t, b, nil)

	j := makeJob("(check-sat)")
	j.Backend = "nonexistent"
	if err := eng.Submit(context.Background(), j); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, j.ID, model.StatusFailed, 5*time.Second)
	if !strings.HasPrefix(failed.Error, "resolve backend:") {
		t.Errorf("error = %q, want resolve backend message", failed.Error)
	}
	if failed.StartedAt == nil {
		t.Error("started_at should be set even when backend resolution fails after running transition")
	}
}

func TestSubmitPersistsOutputLines(t *testing.T) {
	b := &stubBackend{lines: []string{"sat", "(", ")"}, status: "sat"}
	eng, s := newTestEngine(t, b, nil)

	j := makeJob("(check-sat)(get-model)")
	if err := eng.Submit(context.Background(), j); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, s, j.ID, model.StatusCompleted, 5*time.Second)

	lines, err := s.GetOutputLines(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetOutputLines: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, want := range b.lines {
		if lines[i].Seq != i || lines[i].Line != want {
			t.Errorf("line[%d] = %d %q, want %d %q", i, lines[i].Seq, lines[i].Line, i, want)
		}
	}

	// Once persisted, the store answers for the job and the broker lets go.
	eng.Wait()
	if status, ok := eng.Broker().Outcome(j.ID); ok {
		t.Errorf("broker still holds outcome %q after persistence", status)
	}
	if n := eng.Broker().Len(); n != 0 {
		t.Errorf("broker holds %d topics, want 0", n)
	}
}

func TestSubmitOutlivesCanceledContext(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := backend.NewRegistry()
	reg.Register(model.BackendGini, &stubBackend{lines: []string{"sat"}, status: "sat"})
	loop, _ := startLoop(t)
	eng := engine.NewEngine(s, reg, nil, loop, engine.Config{}, testLogger())
	t.Cleanup(eng.Wait)

	// Hold the loop so the job's turn is queued when ctx is canceled.
	release := make(chan struct{})
	if err := loop.Post(func(*bridge.Turn) { <-release }); err != nil {
		t.Fatalf("Post: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := makeJob("(check-sat)")
	j.ID = model.NewID()
	errc := make(chan error, 1)
	go func() { errc <- eng.Submit(ctx, j) }()

	// Submit has stored the job once it is visible as pending.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := s.GetJob(context.Background(), j.ID); err == nil {
			break
		}
		if time.Now().After(deadline) {
			close(release)
			t.Fatal("job was never stored")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	close(release)

	if err := <-errc; err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, s, j.ID, model.StatusCompleted, 5*time.Second)
}

func TestSubmitConcurrent(t *testing.T) {
	b := &stubBackend{delay: 50 * time.Millisecond, lines: []string{"unsat"}, status: "unsat"}
	eng, s := newTestEngine(t, b, nil)

	ids := make([]string, 5)
	for i := range ids {
		j := makeJob("(check-sat)")
		if err := eng.Submit(context.Background(), j); err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
		ids[i] = j.ID
	}

	for _, id := range ids {
		waitForStatus(t, s, id, model.StatusCompleted, 5*time.Second)
	}
}

func TestSolveReturnsOutput(t *testing.T) {
	b := &stubBackend{lines: []string{"sat"}, status: "sat"}
	eng, s := newTestEngine(t, b, nil)

	j := makeJob("(check-sat)")
	out, err := eng.Solve(context.Background(), j)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if out != "sat\n" {
		t.Errorf("output = %q, want %q", out, "sat\n")
	}

	eng.Wait()
	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestSolveRejects(t *testing.T) {
	b := &stubBackend{err: errors.New("unreadable script")}
	eng, _ := newTestEngine(t, b, nil)

	_, err := eng.Solve(context.Background(), makeJob("(check-sat"))
	var te *bridge.TaskError
	if !errors.As(err, &te) {
		t.Fatalf("Solve error = %v, want *bridge.TaskError", err)
	}
	if te.Message != "unreadable script" {
		t.Errorf("message = %q, want %q", te.Message, "unreadable script")
	}
}

func TestSolveServesRepeatsFromCache(t *testing.T) {
	b := &stubBackend{lines: []string{"sat", "(", ")"}, status: "sat"}
	eng, s := newTestEngine(t, b, cache.NewMemory(16))

	first := makeJob("(check-sat)(get-model)")
	want, err := eng.Solve(context.Background(), first)
	if err != nil {
		t.Fatalf("first Solve: %v", err)
	}

	second := makeJob("(check-sat)(get-model)")
	got, err := eng.Solve(context.Background(), second)
	if err != nil {
		t.Fatalf("second Solve: %v", err)
	}
	if got != want {
		t.Errorf("cached output = %q, want %q", got, want)
	}
	if n := b.calls.Load(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}

	eng.Wait()
	j, err := s.GetJob(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !j.Cached {
		t.Error("second job not marked cached")
	}
	lines, err := s.GetOutputLines(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("GetOutputLines: %v", err)
	}
	if len(lines) != 3 {
		t.Errorf("cached job replayed %d lines, want 3", len(lines))
	}
}

func TestSolveDoesNotCacheUnknown(t *testing.T) {
	b := &stubBackend{lines: []string{"unknown"}, status: "unknown"}
	eng, _ := newTestEngine(t, b, cache.NewMemory(16))

	for range 2 {
		if _, err := eng.Solve(context.Background(), makeJob("(check-sat)")); err != nil {
			t.Fatalf("Solve: %v", err)
		}
	}
	if n := b.calls.Load(); n != 2 {
		t.Errorf("backend called %d times, want 2", n)
	}
}

func TestSolveWithGiniBackend(t *testing.T) {
	b := ginibackend.NewBackend(ginibackend.Config{Defaults: solver.DefaultOptions(), MaxConcurrency: 2}, testLogger())
	eng, _ := newTestEngine(t, b, nil)

	out, err := eng.Solve(context.Background(), makeJob(
		"(declare-const p Bool)(declare-const q Bool)(assert (and p (not q)))(check-sat)",
	))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if out != "sat\n" {
		t.Errorf("output = %q, want %q", out, "sat\n")
	}

	j := makeJob("p cnf 1 2\n1 0\n-1 0\n")
	j.Language = model.LanguageDIMACS
	out, err = eng.Solve(context.Background(), j)
	if err != nil {
		t.Fatalf("Solve DIMACS: %v", err)
	}
	if out != "s UNSATISFIABLE\n" {
		t.Errorf("output = %q, want %q", out, "s UNSATISFIABLE\n")
	}
}

func TestSubmitAfterLoopStops(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := backend.NewRegistry()
	reg.Register(model.BackendGini, &stubBackend{})
	loop, cancel := startLoop(t)
	eng := engine.NewEngine(s, reg, nil, loop, engine.Config{}, testLogger())

	cancel()
	<-loop.Done()

	j := makeJob("(check-sat)")
	err = eng.Submit(context.Background(), j)
	if !errors.Is(err, bridge.ErrLoopClosed) {
		t.Fatalf("Submit error = %v, want ErrLoopClosed", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}
