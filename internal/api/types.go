package api

import (
	"encoding/json"
	"time"
)

// SetMarkerRequest is the JSON body for PUT /markers/{kind}/{value}.
type SetMarkerRequest struct {
	Queue string `json:"queue"`
}

// MarkerResponse is returned after a marker is written.
type MarkerResponse struct {
	Marker string `json:"marker"`
	Queue  string `json:"queue"`
}

// MarkersResponse is returned by GET /markers.
type MarkersResponse struct {
	Table   string            `json:"table"`
	Markers map[string]string `json:"markers"`
}

// EnqueueRequest is the JSON body for POST /jobs.
type EnqueueRequest struct {
	Type  string          `json:"type"`
	Queue string          `json:"queue,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
}

type EnqueueResponse struct {
	JobID  string `json:"job_id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// EntryResponse is one stored submission of a job.
type EntryResponse struct {
	EntryID     string         `json:"entry_id"`
	Queue       string         `json:"queue"`
	Status      string         `json:"status"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"max_attempts"`
	Record      map[string]any `json:"record"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	LastError   *string        `json:"last_error,omitempty"`
}

// JobResponse is returned by GET /jobs/{jobID}. A rerouted job has one entry per queue it visited.
type JobResponse struct {
	JobID   string          `json:"job_id"`
	Entries []EntryResponse `json:"entries"`
}

type JobTypeResponse struct {
	Name        string `json:"name"`
	Queue       string `json:"queue"`
	Reroutable  bool   `json:"reroutable"`
	MaxAttempts int    `json:"max_attempts"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	Markers       int    `json:"markers"`
	RoutingTable  string `json:"routing_table"`
}
