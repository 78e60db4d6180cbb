package api

import (
	"encoding/json"
	"net/http"

	"github.com/banshee-data/shelfd/internal/config"
	"github.com/banshee-data/shelfd/internal/monitoring"
)

// handleSettings handles GET and PUT /api/settings. PUT merges the
// non-null fields of the body onto the current settings.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.store.Current())
	case http.MethodPut:
		s.handleUpdateSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch config.Settings
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	next, err := s.store.Patch(&patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.settingsPath != "" {
		if err := config.WriteSettings(s.settingsPath, next); err != nil {
			monitoring.Logf("[api] persist settings to %s: %v", s.settingsPath, err)
		}
	}
	s.writeJSON(w, http.StatusOK, next)
}
