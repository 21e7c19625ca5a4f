package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeSolve(t *testing.T, resp *http.Response) solveResponse {
	t.Helper()
	var body solveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestSolveJSON(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"script":"(declare-const p Bool)(assert (and p (not p)))(check-sat)"}`
	resp := postJSON(t, ts.URL+"/v1/solve", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeSolve(t, resp)
	if got.Output != "unsat\n" {
		t.Errorf("output = %q, want %q", got.Output, "unsat\n")
	}
	if got.ID == "" {
		t.Error("response is missing the job id")
	}
}

func TestSolveDIMACS(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"language":"dimacs","script":"p cnf 2 2\n1 2 0\n-1 0\n"}`
	resp := postJSON(t, ts.URL+"/v1/solve", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeSolve(t, resp)
	if got.Output != "s SATISFIABLE\nv -1 2 0\n" {
		t.Errorf("output = %q, want the satisfying assignment", got.Output)
	}
}

func TestSolvePlainTextCharset(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	script := []byte("(echo \"caf\xe9\")")
	resp, err := http.Post(ts.URL+"/v1/solve?language=smt2", "text/plain; charset=iso-8859-1", bytes.NewReader(script))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeSolve(t, resp)
	if got.Output != "\"café\"\n" {
		t.Errorf("output = %q, want %q", got.Output, "\"café\"\n")
	}
}

func TestSolvePlainTextRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name, contentType, query string
		body                     []byte
	}{
		{"invalid utf-8", "text/plain; charset=utf-8", "", []byte("(echo \"\xff\")")},
		{"unknown charset", "text/plain; charset=klingon", "", []byte("(check-sat)")},
		{"bad timeout", "text/plain", "?timeout_s=soon", []byte("(check-sat)")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/solve"+tt.query, tt.contentType, bytes.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSolveRejectionIs422(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/solve", `{"script":"(check-sat"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	got := decodeSolve(t, resp)
	if !strings.HasPrefix(got.Error, "solve smt2:") {
		t.Errorf("error = %q, want the solver's rejection", got.Error)
	}
	if got.Output != "" {
		t.Errorf("output = %q, want none on rejection", got.Output)
	}
}

func TestSolveCommandErrorsAreOutput(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/solve", `{"script":"(assert q)(check-sat)"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeSolve(t, resp)
	want := "(error \"unknown constant or function q\")\nsat\n"
	if got.Output != want {
		t.Errorf("output = %q, want %q", got.Output, want)
	}
}
