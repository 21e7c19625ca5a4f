package api

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Loop     string `json:"loop"`
	Workers  int    `json:"workers"`
	Queued   int    `json:"queued"`
	InFlight int64  `json:"in_flight"`
}

// handleHealthz reports ok while the bridge loop accepts work. A loop that
// is draining or stopped answers 503 so load balancers stop routing to it.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	state := s.loop.State()
	resp := healthResponse{
		Status:   "ok",
		Loop:     state,
		Workers:  s.loop.Pool().Size(),
		Queued:   s.loop.Pool().Pending(),
		InFlight: s.loop.InFlight(),
	}

	code := http.StatusOK
	if state != "running" {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}
