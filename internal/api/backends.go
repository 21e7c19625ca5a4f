package api

import (
	"net/http"
	"slices"

	"github.com/seantiz/smtbridge/internal/backend"
)

// handleListBackends lists registered backends, optionally only those that
// read the language given in the query string.
func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	backends := s.registry.List()
	if lang := r.URL.Query().Get("language"); lang != "" {
		backends = slices.DeleteFunc(backends, func(info backend.Info) bool {
			return !slices.Contains(info.Capabilities.Languages, lang)
		})
	}
	s.writeJSON(w, http.StatusOK, backends)
}
