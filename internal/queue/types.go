package queue

import (
	"encoding/json"
	"errors"
	"maps"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusDead      Status = "dead"
)

// Terminal reports whether no further transition is expected for the status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusSkipped || s == StatusDead
}

// Record keys understood by the queue. Producers may add any other keys; they
// are stored and re-submitted verbatim.
const (
	FieldID        = "id"
	FieldType      = "type"
	FieldQueue     = "queue"
	FieldArgs      = "args"
	FieldCreatedAt = "created_at"
	// FieldEnqueuedAt is rewritten by the queue on every Push.
	FieldEnqueuedAt = "enqueued_at"
)

// Record is the serialized form of a job as it travels through queues.
type Record map[string]any

// String returns the string value stored at key, or "" if absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Record) ID() string    { return r.String(FieldID) }
func (r Record) Type() string  { return r.String(FieldType) }
func (r Record) Queue() string { return r.String(FieldQueue) }

// WithQueue returns a copy of r with only the queue field replaced.
func (r Record) WithQueue(queue string) Record {
	out := make(Record, len(r))
	maps.Copy(out, r)
	out[FieldQueue] = queue
	return out
}

// DecodeRecord parses a stored JSON record.
func DecodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("record is null")
	}
	return rec, nil
}

// Entry is one stored submission of a record. A record that is re-submitted
// gets a new entry with the same job id.
type Entry struct {
	EntryID     string
	JobID       string
	Type        string
	Queue       string
	Record      Record
	Status      Status
	Attempt     int
	MaxAttempts int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	NextRetryAt *time.Time
	LastError   *string
}

type EnqueueRequest struct {
	// JobID is optional; a UUID is generated when empty.
	JobID       string
	Type        string
	Queue       string
	Args        json.RawMessage
	MaxAttempts int
}

var ErrJobNotFound = errors.New("job not found")
