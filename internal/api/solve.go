package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/seantiz/smtbridge/internal/bridge"
)

// solveResponse is the JSON response for POST /v1/solve.
type solveResponse struct {
	ID     string `json:"id"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleSolve runs a script and answers with its output. The body is either
// a JSON job request or the raw script as text/plain, in which case the
// charset parameter selects the decoding and the language and timeout come
// from the query string.
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	req, err := s.decodeSolveRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	j := req.job()
	out, err := s.engine.Solve(r.Context(), j)

	var te *bridge.TaskError
	switch {
	case err == nil:
		solveResults.WithLabelValues(solveResolved).Inc()
		s.writeJSON(w, http.StatusOK, solveResponse{ID: j.ID, Output: out})
	case errors.As(err, &te):
		solveResults.WithLabelValues(solveRejected).Inc()
		s.writeJSON(w, http.StatusUnprocessableEntity, solveResponse{ID: j.ID, Error: te.Message})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The client is gone; the job still finishes in the background.
		solveResults.WithLabelValues(solveAbandoned).Inc()
		s.logger.Info("solve abandoned by client", "job_id", j.ID)
	default:
		solveResults.WithLabelValues(solveRefused).Inc()
		s.logger.Error("solve job", "error", err)
		s.writeSchedulingError(w, err)
	}
}

func (s *Server) decodeSolveRequest(r *http.Request) (*jobRequest, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "application/json"
	}

	if mediaType != "text/plain" {
		var req jobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.New("invalid JSON body")
		}
		return &req, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.New("failed to read body")
	}
	script, err := bridge.DecodeText(body, params["charset"])
	if err != nil {
		return nil, err
	}

	q := r.URL.Query()
	req := &jobRequest{
		Language: q.Get("language"),
		Backend:  q.Get("backend"),
		Script:   script,
	}
	if v := q.Get("timeout_s"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("timeout_s must be an integer")
		}
		req.TimeoutS = &n
	}
	return req, nil
}

// writeSchedulingError maps a failure to hand a job to the bridge onto a
// response. A loop that is shutting down answers 503.
func (s *Server) writeSchedulingError(w http.ResponseWriter, err error) {
	if errors.Is(err, bridge.ErrLoopClosed) {
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	s.writeError(w, http.StatusInternalServerError, "failed to schedule job")
}
