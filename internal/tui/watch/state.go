// Package watch implements the reroute system watch TUI: a live view of the
// routing table, reroute traffic and job outcomes fed by the operator API.
package watch

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/mattjoyce/reroute/internal/events"
)

const eventLogSize = 50

// HealthState tracks service health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	QueueDepth    int
	Markers       int
	RoutingTable  string
	Connected     bool
	LastCheck     time.Time
}

// Flow counts reroutes between one pair of queues.
type Flow struct {
	From  string
	To    string
	Count int
	Last  time.Time
}

// State is everything the watch view renders. It is updated only from the
// bubbletea Update loop.
type State struct {
	Health   HealthState
	Markers  map[string]string
	Flows    map[string]*Flow
	Outcomes map[string]int
	EventLog []events.Event
	// LastEventID is sent as Last-Event-ID when the stream reconnects.
	LastEventID int64
}

func NewState() *State {
	return &State{
		Markers:  make(map[string]string),
		Flows:    make(map[string]*Flow),
		Outcomes: make(map[string]int),
	}
}

// Apply folds one hub event into the state. It reports whether the marker
// table may have changed and should be re-fetched.
func (s *State) Apply(e events.Event) (markersChanged bool) {
	if e.ID > s.LastEventID {
		s.LastEventID = e.ID
	}
	s.EventLog = append([]events.Event{e}, s.EventLog...)
	if len(s.EventLog) > eventLogSize {
		s.EventLog = s.EventLog[:eventLogSize]
	}

	switch e.Type {
	case events.TypeJobRerouted:
		var p events.ReroutePayload
		if json.Unmarshal(e.Data, &p) != nil {
			return false
		}
		key := p.FromQueue + "\x00" + p.ToQueue
		f, ok := s.Flows[key]
		if !ok {
			f = &Flow{From: p.FromQueue, To: p.ToQueue}
			s.Flows[key] = f
		}
		f.Count++
		f.Last = e.At

	case events.TypeJobCompleted:
		var p events.CompletionPayload
		if json.Unmarshal(e.Data, &p) != nil || p.Status == "" {
			return false
		}
		s.Outcomes[p.Status]++

	case events.TypeMarkerSet:
		var p struct {
			Marker string `json:"marker"`
			Queue  string `json:"queue"`
		}
		if json.Unmarshal(e.Data, &p) == nil && p.Marker != "" {
			s.Markers[p.Marker] = p.Queue
		}
		return true

	case events.TypeMarkerRemoved:
		var p struct {
			Marker string `json:"marker"`
		}
		if json.Unmarshal(e.Data, &p) == nil {
			delete(s.Markers, p.Marker)
		}
		return true

	case events.TypeMarkersCleared:
		clear(s.Markers)
		return true
	}
	return false
}

// SortedFlows returns flows busiest first.
func (s *State) SortedFlows() []*Flow {
	out := make([]*Flow, 0, len(s.Flows))
	for _, f := range s.Flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
