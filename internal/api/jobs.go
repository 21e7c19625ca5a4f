package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/seantiz/smtbridge/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
	maxTimeoutS      = 600
)

var supportedLanguages = []string{model.LanguageSMT2, model.LanguageDIMACS}

// jobRequest is the JSON body for POST /v1/jobs and POST /v1/solve.
type jobRequest struct {
	Language string `json:"language"`
	Backend  string `json:"backend"`
	Script   string `json:"script"`
	TimeoutS *int   `json:"timeout_s"`
}

// validate checks the request and fills in defaults.
func (req *jobRequest) validate() error {
	if req.Language == "" {
		req.Language = model.LanguageSMT2
	}
	if !slices.Contains(supportedLanguages, req.Language) {
		return fmt.Errorf("unsupported language %q", req.Language)
	}
	if req.Script == "" {
		return errors.New("script is required")
	}
	if req.Backend == "" {
		req.Backend = model.BackendAuto
	}
	if req.TimeoutS != nil && (*req.TimeoutS <= 0 || *req.TimeoutS > maxTimeoutS) {
		return fmt.Errorf("timeout_s must be between 1 and %d", maxTimeoutS)
	}
	return nil
}

func (req *jobRequest) job() *model.Job {
	return &model.Job{
		Backend:  req.Backend,
		Language: req.Language,
		Script:   req.Script,
		TimeoutS: req.TimeoutS,
	}
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	j := req.job()
	if err := s.engine.Submit(r.Context(), j); err != nil {
		s.logger.Error("submit job", "error", err)
		s.writeSchedulingError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if j, ok := s.jobFromPath(w, r); ok {
		s.writeJSON(w, http.StatusOK, j)
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
