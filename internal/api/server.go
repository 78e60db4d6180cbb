// Package api serves the host-facing HTTP API: shelf operations, settings,
// health, stats and a live event tail.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/shelfd/internal/config"
	"github.com/banshee-data/shelfd/internal/engine"
	"github.com/banshee-data/shelfd/internal/health"
	"github.com/banshee-data/shelfd/internal/journal"
	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/security"
	"github.com/banshee-data/shelfd/internal/shelf"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes an Engine over HTTP.
type Server struct {
	engine  *engine.Engine
	store   *config.Store
	journal *journal.Journal // optional

	// settingsPath, when set, receives the merged settings after a PUT.
	settingsPath string
	dropPolicy   security.DropPolicy
}

// NewServer creates a server. j may be nil.
func NewServer(e *engine.Engine, store *config.Store, j *journal.Journal) *Server {
	return &Server{engine: e, store: store, journal: j}
}

// SetDropPolicy restricts which paths POST /api/shelves/:id/files accepts.
func (s *Server) SetDropPolicy(p security.DropPolicy) {
	s.dropPolicy = p
}

// PersistSettingsTo makes PUT /api/settings write the result to path.
func (s *Server) PersistSettingsTo(path string) {
	s.settingsPath = path
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every API route registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes adds the API routes to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/shelves", s.listShelves)
	mux.HandleFunc("/api/shelves/", s.handleShelfByID)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/health", s.showHealth)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/events/tail", s.tailEvents)
	mux.HandleFunc("/debug/shake-trace", s.showShakeTrace)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeDomainError maps coordinator and engine errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, shelf.ErrShelfNotFound), errors.Is(err, shelf.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, shelf.ErrShelfBusy):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, config.ErrInvalidSettings):
		status = http.StatusBadRequest
	}
	s.writeJSONError(w, status, err.Error())
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.engine.Health().Snapshot()
	status := http.StatusOK
	if snap.Status >= health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, snap)
}

type statsResponse struct {
	Engine      engine.Stats  `json:"engine"`
	Coordinator shelf.Status  `json:"coordinator"`
	Router      routerStats   `json:"router"`
	Journal     *journalStats `json:"journal,omitempty"`
}

type routerStats struct {
	Published     uint64   `json:"published"`
	Delivered     uint64   `json:"delivered"`
	Subscriptions []string `json:"subscriptions"`
}

type journalStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := statsResponse{
		Engine:      st,
		Coordinator: s.engine.Coordinator().Status(),
	}
	router := s.engine.Router()
	resp.Router.Published, resp.Router.Delivered = router.Stats()
	for _, sub := range router.Subscriptions() {
		resp.Router.Subscriptions = append(resp.Router.Subscriptions, sub.Name)
	}
	if s.journal != nil {
		written, dropped := s.journal.Counters()
		resp.Journal = &journalStats{Written: written, Dropped: dropped}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
