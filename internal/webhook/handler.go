package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Submitter enqueues a job by type.
type Submitter interface {
	Enqueue(ctx context.Context, jobType, queueName string, args json.RawMessage) (string, error)
}

// TriggerResponse is the body of a 202 reply.
type TriggerResponse struct {
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves POST /webhooks/{name}.
type Handler struct {
	endpoints map[string]Endpoint
	jobs      Submitter
	logger    *slog.Logger
}

func New(endpoints []Endpoint, jobs Submitter, logger *slog.Logger) *Handler {
	byName := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		byName[ep.Name] = ep
	}
	return &Handler{endpoints: byName, jobs: jobs, logger: logger}
}

// Len reports the number of configured endpoints.
func (h *Handler) Len() int { return len(h.endpoints) }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ep, ok := h.endpoints[name]
	if !ok {
		respond(w, http.StatusNotFound, errorResponse{Error: "endpoint not found"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, ep.MaxBodySize+1))
	if err != nil {
		respond(w, http.StatusInternalServerError, errorResponse{Error: "failed to read request body"})
		return
	}
	if int64(len(body)) > ep.MaxBodySize {
		respond(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
		return
	}

	// Signature failures all look the same to the caller.
	if err := verifySignature(body, r.Header.Get(ep.SignatureHeader), ep.Secret); err != nil {
		h.logger.Warn("webhook signature rejected", "webhook", name, "header", ep.SignatureHeader)
		respond(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
		return
	}

	if len(body) > 0 && !json.Valid(body) {
		respond(w, http.StatusBadRequest, errorResponse{Error: "body must be JSON"})
		return
	}

	jobID, err := h.jobs.Enqueue(r.Context(), ep.JobType, ep.Queue, json.RawMessage(body))
	if err != nil {
		h.logger.Error("failed to enqueue webhook job", "webhook", name, "job_type", ep.JobType, "error", err)
		respond(w, http.StatusInternalServerError, errorResponse{Error: "failed to enqueue job"})
		return
	}

	h.logger.Info("webhook job enqueued", "webhook", name, "job_type", ep.JobType, "job_id", jobID)
	respond(w, http.StatusAccepted, TriggerResponse{JobID: jobID, JobType: ep.JobType})
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
