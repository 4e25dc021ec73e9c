package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/reroute/internal/events"
	"github.com/mattjoyce/reroute/internal/rerouting"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.deps.Queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}
	markers, err := s.deps.Markers.ListMarkers(r.Context())
	if err != nil {
		s.logger.Error("failed to read routing table", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "routing table unavailable")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
		Markers:       len(markers),
		RoutingTable:  s.deps.Markers.Table(),
	})
}

func (s *Server) handleListMarkers(w http.ResponseWriter, r *http.Request) {
	markers, err := s.deps.Markers.ListMarkers(r.Context())
	if err != nil {
		s.logger.Error("failed to list markers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list markers")
		return
	}
	respondJSON(w, http.StatusOK, MarkersResponse{Table: s.deps.Markers.Table(), Markers: markers})
}

// markerParams reads {kind} and {value}. Values may be percent-encoded.
func markerParams(r *http.Request) (rerouting.Kind, string, error) {
	kind, err := rerouting.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", "", err
	}
	value := chi.URLParam(r, "value")
	// chi matches on RawPath when the request carries one, leaving the
	// parameter encoded; otherwise it is already decoded.
	if r.URL.RawPath != "" {
		if value, err = url.PathUnescape(value); err != nil {
			return "", "", errors.New("invalid marker value encoding")
		}
	}
	return kind, value, nil
}

func (s *Server) handleSetMarker(w http.ResponseWriter, r *http.Request) {
	kind, value, err := markerParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req SetMarkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Queue = strings.TrimSpace(req.Queue)
	if req.Queue == "" {
		s.writeError(w, http.StatusBadRequest, "queue is required")
		return
	}

	if err := s.deps.Markers.Reroute(r.Context(), req.Queue, kind, value); err != nil {
		s.markerError(w, "failed to set marker", err)
		return
	}
	marker, _ := rerouting.FormatMarker(kind, value)
	s.deps.Events.Publish(events.TypeMarkerSet, MarkerResponse{Marker: marker, Queue: req.Queue})
	respondJSON(w, http.StatusOK, MarkerResponse{Marker: marker, Queue: req.Queue})
}

func (s *Server) handleRemoveMarker(w http.ResponseWriter, r *http.Request) {
	kind, value, err := markerParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Markers.RemoveRerouting(r.Context(), kind, value); err != nil {
		s.markerError(w, "failed to remove marker", err)
		return
	}
	marker, _ := rerouting.FormatMarker(kind, value)
	s.deps.Events.Publish(events.TypeMarkerRemoved, map[string]string{"marker": marker})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearMarkers(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Markers.RemoveAllRerouting(r.Context()); err != nil {
		s.markerError(w, "failed to clear markers", err)
		return
	}
	s.deps.Events.Publish(events.TypeMarkersCleared, map[string]string{"table": s.deps.Markers.Table()})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markerError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, rerouting.ErrInvalidMarkerKind) || errors.Is(err, rerouting.ErrEmptyMarkerValue) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error(msg, "error", err)
	s.writeError(w, http.StatusInternalServerError, msg)
}

// handleEnqueue handles POST /jobs.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type == "" {
		s.writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	jobID, err := s.deps.Jobs.Enqueue(r.Context(), req.Type, req.Queue, req.Args)
	if err != nil {
		s.logger.Error("failed to enqueue job", "type", req.Type, "error", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, EnqueueResponse{JobID: jobID, Type: req.Type, Status: "queued"})
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	entries, err := s.deps.Queue.EntriesForJob(r.Context(), jobID)
	if err != nil {
		s.logger.Error("failed to load job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if len(entries) == 0 {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := JobResponse{JobID: jobID, Entries: make([]EntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, EntryResponse{
			EntryID:     e.EntryID,
			Queue:       e.Queue,
			Status:      string(e.Status),
			Attempt:     e.Attempt,
			MaxAttempts: e.MaxAttempts,
			Record:      e.Record,
			CreatedAt:   e.CreatedAt,
			StartedAt:   e.StartedAt,
			CompletedAt: e.CompletedAt,
			LastError:   e.LastError,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobTypes(w http.ResponseWriter, _ *http.Request) {
	all := s.deps.Types.All()
	out := make([]JobTypeResponse, 0, len(all))
	for _, d := range all {
		out = append(out, JobTypeResponse{
			Name:        d.Name,
			Queue:       d.Queue,
			Reroutable:  d.IsReroutable(),
			MaxAttempts: d.MaxAttempts,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
