package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/banshee-data/shelfd/internal/events"
)

// tailBuffer bounds how far an SSE client may lag before events are dropped.
const tailBuffer = 64

// tailEvents handles GET /api/events/tail, streaming domain events as
// Server-Sent Events. ?kind= may be repeated to filter.
func (s *Server) tailEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	var kinds []events.Kind
	for _, k := range r.URL.Query()["kind"] {
		kinds = append(kinds, events.Kind(k))
	}

	ch := make(chan events.Event, tailBuffer)
	sub := s.engine.Router().Subscribe("sse:"+r.RemoteAddr, func(ev events.Event) {
		select {
		case ch <- ev:
		default:
		}
	}, kinds...)
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
