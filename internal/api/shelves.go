package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/banshee-data/shelfd/internal/shelf"
)

const maxBodyBytes = 1 << 20

// listShelves handles GET /api/shelves
func (s *Server) listShelves(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	shelves := s.engine.Coordinator().Shelves()
	if shelves == nil {
		shelves = []shelf.Handle{}
	}
	s.writeJSON(w, http.StatusOK, shelves)
}

// handleShelfByID dispatches /api/shelves/:id[/action[/:itemID]]
func (s *Server) handleShelfByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/shelves/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Missing shelf ID", http.StatusBadRequest)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetShelf(w, id)
		case http.MethodDelete:
			s.handleCloseShelf(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch action := parts[1]; {
	case action == "items" && len(parts) == 3:
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleRemoveItem(w, r, id, parts[2])
	case len(parts) != 2:
		http.NotFound(w, r)
	case r.Method != http.MethodPost:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	case action == "drop-start":
		s.respond(w, s.engine.DropStart(r.Context(), id), id)
	case action == "drop-end":
		s.respond(w, s.engine.DropEnd(r.Context(), id), id)
	case action == "files":
		s.handleDropFiles(w, r, id)
	case action == "pin":
		s.handlePin(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// respond writes the shelf's current state, or the error.
func (s *Server) respond(w http.ResponseWriter, err error, id string) {
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.handleGetShelf(w, id)
}

func (s *Server) handleGetShelf(w http.ResponseWriter, id string) {
	h, ok := s.engine.Coordinator().Shelf(id)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "shelf not found")
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleCloseShelf(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.engine.CloseShelf(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type dropFilesRequest struct {
	Paths []string `json:"paths"`
}

type dropFilesResponse struct {
	Added []shelf.Item `json:"added"`
	Shelf shelf.Handle `json:"shelf"`
}

// handleDropFiles handles POST /api/shelves/:id/files
func (s *Server) handleDropFiles(w http.ResponseWriter, r *http.Request, id string) {
	var req dropFilesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Paths) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "paths must not be empty")
		return
	}
	if err := s.dropPolicy.ValidateAll(req.Paths); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, err := s.engine.DropFiles(r.Context(), id, req.Paths)
	if err != nil && len(added) == 0 {
		s.writeDomainError(w, err)
		return
	}
	resp := dropFilesResponse{Added: added}
	resp.Shelf, _ = s.engine.Coordinator().Shelf(id)
	if resp.Added == nil {
		resp.Added = []shelf.Item{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type pinRequest struct {
	Pinned *bool `json:"pinned"`
}

// handlePin handles POST /api/shelves/:id/pin
func (s *Server) handlePin(w http.ResponseWriter, r *http.Request, id string) {
	var req pinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Pinned == nil {
		s.writeJSONError(w, http.StatusBadRequest, "pinned is required")
		return
	}
	s.respond(w, s.engine.SetPinned(r.Context(), id, *req.Pinned), id)
}

// handleRemoveItem handles DELETE /api/shelves/:id/items/:itemID
func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request, id, itemID string) {
	s.respond(w, s.engine.RemoveItem(r.Context(), id, itemID), id)
}
