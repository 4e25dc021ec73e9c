// Package events is the in-process event feed behind GET /events.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mattjoyce/reroute/internal/queue"
	"github.com/mattjoyce/reroute/internal/rerouting"
)

// Event types published by the service.
const (
	TypeJobRerouted    = "job.rerouted"
	TypeJobCompleted   = "job.completed"
	TypeMarkerSet      = "marker.set"
	TypeMarkerRemoved  = "marker.removed"
	TypeMarkersCleared = "markers.cleared"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

const defaultBacklog = 256

// Hub fans events out to subscribers and keeps the last few for clients that
// reconnect with Last-Event-ID.
type Hub struct {
	mu      sync.Mutex
	seq     int64 // guarded by mu
	backlog []Event
	head    int // index of the oldest event once the backlog is full
	subs    map[chan Event]struct{}
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		backlog: make([]Event, 0, backlog),
		subs:    make(map[chan Event]struct{}),
	}
}

// Publish records an event. data is encoded as JSON; encoding failures publish "{}".
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ev := Event{
		ID:   h.seq,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	if len(h.backlog) < cap(h.backlog) {
		h.backlog = append(h.backlog, ev)
	} else {
		h.backlog[h.head] = ev
		h.head = (h.head + 1) % len(h.backlog)
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default: // slow subscriber drops
		}
	}
	return ev
}

// Subscribe returns a channel of new events and a function that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Since returns buffered events with ID > after, oldest first.
func (h *Hub) Since(after int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.backlog))
	for i := range h.backlog {
		ev := h.backlog[(h.head+i)%len(h.backlog)]
		if ev.ID > after {
			out = append(out, ev)
		}
	}
	return out
}

// ReroutePayload is the data of a job.rerouted event.
type ReroutePayload struct {
	JobID     string         `json:"job_id"`
	JobType   string         `json:"job_type"`
	FromQueue string         `json:"from_queue"`
	ToQueue   string         `json:"to_queue"`
	Job       map[string]any `json:"job"`
}

// OnReroute publishes a job.rerouted event.
func (h *Hub) OnReroute(_ context.Context, ev rerouting.Event) {
	h.Publish(TypeJobRerouted, ReroutePayload{
		JobID:     ev.Job.ID(),
		JobType:   ev.Job.Type(),
		FromQueue: ev.OldQueue,
		ToQueue:   ev.NewQueue,
		Job:       ev.Job,
	})
}

// CompletionPayload is the data of a job.completed event.
type CompletionPayload struct {
	EntryID string `json:"entry_id"`
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`
	Queue   string `json:"queue"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// JobFinished publishes a job.completed event for an entry outcome.
func (h *Hub) JobFinished(_ context.Context, e *queue.Entry, status queue.Status, err error) {
	p := CompletionPayload{
		EntryID: e.EntryID,
		JobID:   e.JobID,
		JobType: e.Type,
		Queue:   e.Queue,
		Status:  string(status),
		Attempt: e.Attempt,
	}
	if err != nil {
		p.Error = err.Error()
	}
	h.Publish(TypeJobCompleted, p)
}
