package jobtype

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/reroute/internal/queue"
)

// HandlerFunc runs the business logic of a job.
type HandlerFunc func(ctx context.Context, rec queue.Record) error

// Descriptor is the runtime view of a registered job type.
type Descriptor struct {
	Name  string
	Queue string // default queue for new submissions
	// Reroutable is an opt-out; nil means reroutable.
	Reroutable  *bool
	MaxAttempts int
	Timeout     time.Duration
	Handler     HandlerFunc
}

// IsReroutable reports whether jobs of this type may be redirected.
func (d *Descriptor) IsReroutable() bool {
	return d.Reroutable == nil || *d.Reroutable
}

// Registry holds job types indexed by name. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Descriptor)}
}

// Register adds a job type.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("job type name is empty")
	}
	if d.Handler == nil {
		return fmt.Errorf("job type %q has no handler", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[d.Name]; exists {
		return fmt.Errorf("job type %q already registered", d.Name)
	}
	r.types[d.Name] = d
	return nil
}

// Get retrieves a job type by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[name]
	return d, ok
}

// All returns the registered types sorted by name.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	out := make([]*Descriptor, 0, len(r.types))
	for _, d := range r.types {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsReroutable reports the opt-out flag for jobType. Unknown types are reroutable.
func (r *Registry) IsReroutable(jobType string) bool {
	d, ok := r.Get(jobType)
	if !ok {
		return true
	}
	return d.IsReroutable()
}
