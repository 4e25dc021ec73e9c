package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/reroute/internal/events"
)

const keepAliveInterval = 15 * time.Second

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.deps.Events.Subscribe()
	defer cancel()

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.deps.Events.Since(lastID) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		lastID = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID {
				continue // already replayed
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			lastID = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			// SSE comment line as keep-alive.
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// Payloads are single-line JSON.
	if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	return nil
}
