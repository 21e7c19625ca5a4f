package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/smtbridge/internal/model"
)

func createPendingJob(t *testing.T, srv *Server) *model.Job {
	t.Helper()
	j := &model.Job{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		Backend:   model.BackendAuto,
		Language:  model.LanguageSMT2,
		Script:    "(check-sat)",
		CreatedAt: time.Now().UTC(),
	}
	if err := srv.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func TestStreamOutputNotFound(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/nonexistent/output")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamOutputFinishedJob(t *testing.T) {
	srv := newTestServer(t)
	j := createPendingJob(t, srv)
	if err := srv.store.UpdateJobStatus(context.Background(), j.ID, model.StatusFailed); err != nil {
		t.Fatalf("pending→failed: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/" + j.ID + "/output")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body := new(strings.Builder)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		body.WriteString(sc.Text() + "\n")
	}
	if body.String() != "event: done\ndata: failed\n\n" {
		t.Errorf("body = %q, want a single done event", body.String())
	}
}

func TestStreamOutputReceivesEvents(t *testing.T) {
	env := newTestEnv(t)
	srv := env.srv
	j := createPendingJob(t, srv)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/jobs/"+j.ID+"/output", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// The handler has subscribed once its headers are flushed.
	broker := env.engine.Broker()
	broker.Publish(j.ID, "sat")
	broker.Publish(j.ID, "(\n)")
	broker.Close(j.ID, model.StatusCompleted)

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}

	want := []string{
		"data: sat", "",
		"data: (", "data: )", "",
		"event: done", "data: completed", "",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("stream = %q, want %q", lines, want)
	}
}

func TestStreamOutputDoneStatusFromStore(t *testing.T) {
	env := newTestEnv(t)
	j := createPendingJob(t, env.srv)

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/jobs/"+j.ID+"/output", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	// The job is persisted and its topic dropped without a Close the stream
	// could read the status from.
	if err := env.srv.store.UpdateJobStatus(context.Background(), j.ID, model.StatusFailed); err != nil {
		t.Fatalf("pending→failed: %v", err)
	}
	env.engine.Broker().Forget(j.ID)

	body := new(strings.Builder)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		body.WriteString(sc.Text() + "\n")
	}
	if body.String() != "event: done\ndata: failed\n\n" {
		t.Errorf("body = %q, want a done event with the stored status", body.String())
	}
}

func TestOutputHistory(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/jobs", `{"script":"(declare-const p Bool)(assert p)(check-sat)(get-value (p))"}`)
	var j model.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	waitForJob(t, ts.URL, j.ID)

	resp, err := http.Get(ts.URL + "/v1/jobs/" + j.ID + "/output/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var hist outputHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hist.JobID != j.ID {
		t.Errorf("job_id = %q, want %q", hist.JobID, j.ID)
	}
	if len(hist.Lines) != 2 {
		t.Fatalf("got %d lines, want 2: %+v", len(hist.Lines), hist.Lines)
	}
	if hist.Lines[0].Line != "sat" || hist.Lines[1].Line != "((p true))" {
		t.Errorf("lines = %q, %q", hist.Lines[0].Line, hist.Lines[1].Line)
	}
	if hist.Lines[1].Seq != 1 {
		t.Errorf("seq = %d, want 1", hist.Lines[1].Seq)
	}
}

func TestOutputHistoryNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/nonexistent/output/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
