package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/smtbridge/internal/backend"
	ginibackend "github.com/seantiz/smtbridge/internal/backend/gini"
	"github.com/seantiz/smtbridge/internal/bridge"
	"github.com/seantiz/smtbridge/internal/engine"
	"github.com/seantiz/smtbridge/internal/model"
	"github.com/seantiz/smtbridge/internal/solver"
	"github.com/seantiz/smtbridge/internal/store"
)

// testEnv is a fully wired server: SQLite in memory, the gini backend and a
// running bridge loop.
type testEnv struct {
	srv    *Server
	engine *engine.Engine
	loop   *bridge.Loop
	stop   context.CancelFunc
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	reg := backend.NewRegistry()
	reg.Register(model.BackendGini, ginibackend.NewBackend(ginibackend.Config{
		Defaults:       solver.DefaultOptions(),
		MaxConcurrency: 2,
	}, logger))

	pool := bridge.NewPool(2, logger)
	pool.Start()
	loop := bridge.NewLoop(pool, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	eng := engine.NewEngine(s, reg, nil, loop, engine.Config{}, logger)
	t.Cleanup(func() {
		eng.Wait()
		cancel()
		select {
		case <-loop.Done():
		case <-time.After(5 * time.Second):
			t.Error("loop did not stop")
		}
		pool.Close()
	})

	// Wait for Run to flip the state so health checks see a running loop.
	deadline := time.Now().Add(5 * time.Second)
	for loop.State() != "running" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	return &testEnv{
		srv:    NewServer(":0", s, reg, eng, loop, logger, opts...),
		engine: eng,
		loop:   loop,
		stop:   cancel,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestEnv(t).srv
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestCORSAllowedOrigins(t *testing.T) {
	srv := newTestEnv(t, WithAllowedOrigins("https://allowed.example")).srv
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for origin, want := range map[string]string{
		"https://allowed.example": "https://allowed.example",
		"https://other.example":   "",
	} {
		req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "GET")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("OPTIONS /test: %v", err)
		}
		resp.Body.Close()

		if v := resp.Header.Get("Access-Control-Allow-Origin"); v != want {
			t.Errorf("origin %s: Access-Control-Allow-Origin = %q, want %q", origin, v, want)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := newTestEnv(t, WithShutdownTimeout(time.Second)).srv
	srv.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
