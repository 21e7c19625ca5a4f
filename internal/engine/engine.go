package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/smtbridge/internal/backend"
	"github.com/seantiz/smtbridge/internal/bridge"
	"github.com/seantiz/smtbridge/internal/cache"
	"github.com/seantiz/smtbridge/internal/model"
	"github.com/seantiz/smtbridge/internal/store"
)

// DefaultTimeoutS is the default timeout in seconds when none is specified.
const DefaultTimeoutS = 30

// Config holds engine settings.
type Config struct {
	// DefaultTimeoutS bounds jobs that do not set their own timeout.
	DefaultTimeoutS int
	// CacheTTL is how long a cached result stays valid. Zero never expires.
	CacheTTL time.Duration
}

// Engine runs solver jobs through the bridge loop and records them in the
// store.
type Engine struct {
	store    store.Store
	registry *backend.Registry
	cache    cache.Cache
	loop     *bridge.Loop
	cfg      Config
	logger   *slog.Logger
	wg       sync.WaitGroup
	broker   *OutputBroker
}

// NewEngine creates a new execution engine. A nil cache disables result
// caching.
func NewEngine(s store.Store, reg *backend.Registry, c cache.Cache, loop *bridge.Loop, cfg Config, logger *slog.Logger) *Engine {
	if c == nil {
		c = cache.Noop{}
	}
	if cfg.DefaultTimeoutS <= 0 {
		cfg.DefaultTimeoutS = DefaultTimeoutS
	}
	return &Engine{
		store:    s,
		registry: reg,
		cache:    c,
		loop:     loop,
		cfg:      cfg,
		logger:   logger,
		broker:   NewOutputBroker(),
	}
}

// Broker returns the engine's output broker for SSE subscription.
func (e *Engine) Broker() *OutputBroker {
	return e.broker
}

// Submit records j as pending and schedules its solve. It returns as soon as
// the job is stored; the caller follows progress through the store or the
// broker. Fields left empty (ID, input hash, created time) are filled in on j.
func (e *Engine) Submit(ctx context.Context, j *model.Job) error {
	_, err := e.start(ctx, j)
	return err
}

// Solve records j, schedules its solve and waits for the output. A failed
// solve returns the rejection as a *bridge.TaskError. If ctx ends first, the
// job still runs to completion and is persisted; only the wait is abandoned.
func (e *Engine) Solve(ctx context.Context, j *model.Job) (string, error) {
	f, err := e.start(ctx, j)
	if err != nil {
		return "", err
	}
	return f.Await(ctx)
}

// Wait blocks until every scheduled job has been persisted.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// job carries one job through its solve. The worker fills in the execution
// fields; the loop reads them after the output future settles.
type job struct {
	model.Job
	timeoutS int
	start    time.Time
	seq      atomic.Int32
}

func (e *Engine) start(ctx context.Context, j *model.Job) (*bridge.Future[string], error) {
	if j.ID == "" {
		j.ID = model.NewID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.InputHash == "" {
		j.InputHash = cache.Key(j.Language, j.Script)
	}
	j.Status = model.StatusPending

	if err := e.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	r := &job{Job: *j, timeoutS: e.cfg.DefaultTimeoutS}
	if j.TimeoutS != nil && *j.TimeoutS > 0 {
		r.timeoutS = *j.TimeoutS
	}

	ch := make(chan *bridge.Future[string], 1)
	e.wg.Add(1)
	err := e.loop.Post(func(t *bridge.Turn) {
		f := bridge.ScheduleText(t, func() (bridge.Text, error) {
			return e.execute(r)
		})
		f.OnSettled(t, func(t *bridge.Turn, out string, err error) {
			e.finish(t, r, out, err)
		})
		ch <- f
	})
	if err != nil {
		e.wg.Done()
		e.failUnscheduled(j, err)
		return nil, fmt.Errorf("schedule job: %w", err)
	}

	// The turn is accepted, so the job runs whatever ctx does from here on.
	// The receive is bounded by that turn.
	return <-ch, nil
}

// execute runs on a pool worker: pending→running, then a cache lookup, then
// the backend. It must not touch the broker's topic lifecycle; the loop closes
// the topic once the returned text settles.
func (e *Engine) execute(r *job) (bridge.Text, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.timeoutS)*time.Second)
	defer cancel()

	if err := e.store.UpdateJobStatus(ctx, r.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "job_id", r.ID, "error", err)
		return bridge.Text{}, fmt.Errorf("failed to start: %w", err)
	}
	r.start = time.Now().UTC()

	name, b, err := e.registry.Resolve(r.Backend, r.Language)
	if err != nil {
		return bridge.Text{}, fmt.Errorf("resolve backend: %w", err)
	}
	r.Backend = name

	if out, ok := e.lookup(ctx, r); ok {
		return out, nil
	}

	result, err := b.Solve(ctx, backend.Spec{
		ID:         r.ID,
		Language:   r.Language,
		Script:     r.Script,
		TimeoutS:   r.timeoutS,
		LineWriter: func(line string) { e.writeLine(r, line) },
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return bridge.Text{}, fmt.Errorf("job timed out after %ds", r.timeoutS)
		}
		return bridge.Text{}, err
	}

	if result.Status != "unknown" && result.Output.Encoding == bridge.UTF8 {
		if err := e.cache.Set(ctx, r.InputHash, result.Output.Units, e.cfg.CacheTTL); err != nil {
			e.logger.Warn("failed to cache result", "job_id", r.ID, "error", err)
		}
	}
	return result.Output, nil
}

// lookup answers r from the cache, replaying the cached output line by line
// so that subscribers and the output history see the same stream as a fresh
// solve.
func (e *Engine) lookup(ctx context.Context, r *job) (bridge.Text, bool) {
	val, ok, err := e.cache.Get(ctx, r.InputHash)
	if err != nil {
		e.logger.Warn("cache lookup failed", "job_id", r.ID, "error", err)
		return bridge.Text{}, false
	}
	if !ok {
		return bridge.Text{}, false
	}

	r.Cached = true
	sc := bufio.NewScanner(strings.NewReader(string(val)))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		e.writeLine(r, sc.Text())
	}
	e.logger.Debug("cache hit", "job_id", r.ID, "input_hash", r.InputHash)
	return bridge.UTF8Text(string(val)), true
}

// writeLine dual-writes an output line: persist it for the history endpoint,
// then publish it to live subscribers.
func (e *Engine) writeLine(r *job, line string) {
	seq := int(r.seq.Add(1) - 1)
	if err := e.store.InsertOutputLine(context.Background(), r.ID, seq, line); err != nil {
		e.logger.Error("failed to persist output line", "job_id", r.ID, "seq", seq, "error", err)
	}
	e.broker.Publish(r.ID, line)
}

// finish runs on the loop once the output future settles. It closes the
// output stream and schedules the final store write as a second task.
func (e *Engine) finish(t *bridge.Turn, r *job, out string, solveErr error) {
	now := time.Now().UTC()
	final := r.Job
	final.FinishedAt = &now
	if !r.start.IsZero() {
		started := r.start
		final.StartedAt = &started
		dur := int(now.Sub(started).Milliseconds())
		final.DurationMS = &dur
	}
	if solveErr != nil {
		final.Status = model.StatusFailed
		final.Error = bridge.Describe(solveErr)
	} else {
		final.Status = model.StatusCompleted
		final.Output = out
	}

	e.broker.Close(r.ID, final.Status)

	persisted := bridge.Schedule(t, func() (struct{}, error) {
		return struct{}{}, e.store.UpdateJob(context.Background(), &final)
	})
	persisted.OnSettled(t, func(_ *bridge.Turn, _ struct{}, err error) {
		defer e.wg.Done()
		if err != nil {
			// The marker keeps answering Outcome since the store never will.
			e.logger.Error("failed to persist finished job", "job_id", r.ID, "status", final.Status, "error", err)
			return
		}
		e.broker.Forget(r.ID)
		e.logger.Info("job finished",
			"job_id", r.ID,
			"status", final.Status,
			"backend", final.Backend,
			"cached", final.Cached,
		)
	})
}

// failUnscheduled marks a stored job as failed when the loop refused it.
func (e *Engine) failUnscheduled(j *model.Job, cause error) {
	now := time.Now().UTC()
	failed := *j
	failed.Status = model.StatusFailed
	failed.Error = fmt.Sprintf("schedule job: %v", cause)
	failed.FinishedAt = &now
	err := e.store.UpdateJob(context.Background(), &failed)
	e.broker.Close(j.ID, model.StatusFailed)
	if err != nil {
		e.logger.Error("failed to update unscheduled job", "job_id", j.ID, "error", err)
		return
	}
	e.broker.Forget(j.ID)
}
