package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/smtbridge/internal/model"
	"github.com/seantiz/smtbridge/internal/store"
)

// jobFromPath loads the job named by the {id} URL parameter. On failure it
// has already written the error response.
func (s *Server) jobFromPath(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	j, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	case err != nil:
		s.logger.Error("get job", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	return j, true
}

// settledStatus reports the job's final status after its output stream ended.
// The broker knows it until the job is persisted; the store knows it after.
func (s *Server) settledStatus(ctx context.Context, id string) string {
	if status, ok := s.engine.Broker().Outcome(id); ok {
		return status
	}
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		s.logger.Warn("final status unavailable", "job_id", id, "error", err)
		return ""
	}
	return j.Status
}

func (s *Server) handleStreamOutput(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromPath(w, r)
	if !ok {
		return
	}
	if model.IsTerminal(j.Status) {
		newEventStream(w).done(j.Status)
		return
	}

	// SSE connections outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	lines, unsubscribe := s.engine.Broker().Subscribe(j.ID)
	defer unsubscribe()

	// The job may have finished, and its topic been dropped, between the
	// lookup and Subscribe.
	if cur, err := s.store.GetJob(r.Context(), j.ID); err == nil && model.IsTerminal(cur.Status) {
		newEventStream(w).done(cur.Status)
		return
	}

	es := newEventStream(w)
	for {
		select {
		case line, open := <-lines:
			if !open {
				es.done(s.settledStatus(r.Context(), j.ID))
				return
			}
			if es.data(line) != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// outputHistoryLine is a single output line in the history response.
type outputHistoryLine struct {
	Seq       int    `json:"seq"`
	Line      string `json:"line"`
	CreatedAt string `json:"created_at"`
}

// outputHistoryResponse is the JSON response for GET /v1/jobs/{id}/output/history.
type outputHistoryResponse struct {
	JobID string              `json:"job_id"`
	Lines []outputHistoryLine `json:"lines"`
}

func (s *Server) handleGetOutputHistory(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromPath(w, r)
	if !ok {
		return
	}

	stored, err := s.store.GetOutputLines(r.Context(), j.ID)
	if err != nil {
		s.logger.Error("get output lines", "job_id", j.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get output lines")
		return
	}

	resp := outputHistoryResponse{JobID: j.ID, Lines: make([]outputHistoryLine, 0, len(stored))}
	for _, l := range stored {
		resp.Lines = append(resp.Lines, outputHistoryLine{
			Seq:       l.Seq,
			Line:      l.Line,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// eventStream writes server-sent events, flushing after each one.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newEventStream sends the SSE headers and a 200 status.
func newEventStream(w http.ResponseWriter) *eventStream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	es := &eventStream{w: w}
	es.flusher, _ = w.(http.Flusher)
	es.flush()
	return es
}

func (es *eventStream) flush() {
	if es.flusher != nil {
		es.flusher.Flush()
	}
}

// data sends one output line. Embedded newlines become separate data fields
// of the same event.
func (es *eventStream) data(line string) error {
	var b strings.Builder
	for seg := range strings.SplitSeq(line, "\n") {
		fmt.Fprintf(&b, "data: %s\n", seg)
	}
	b.WriteString("\n")
	if _, err := io.WriteString(es.w, b.String()); err != nil {
		return err
	}
	es.flush()
	return nil
}

// done sends the terminal event carrying the job's status.
func (es *eventStream) done(status string) {
	fmt.Fprintf(es.w, "event: done\ndata: %s\n\n", status)
	es.flush()
}
