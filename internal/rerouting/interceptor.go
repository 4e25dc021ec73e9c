package rerouting

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/reroute/internal/jobtype"
	"github.com/mattjoyce/reroute/internal/log"
	"github.com/mattjoyce/reroute/internal/queue"
)

// TypeRegistry answers whether a job type has opted out of rerouting.
type TypeRegistry interface {
	IsReroutable(jobType string) bool
}

// Pusher re-submits a record as jobType, applying that type's submission options.
type Pusher interface {
	Push(ctx context.Context, jobType string, rec queue.Record) error
}

// Event describes one redirect.
type Event struct {
	Job      queue.Record
	OldQueue string
	NewQueue string
}

// Listener is notified synchronously after a job has been redirected.
type Listener interface {
	OnReroute(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event)

func (f ListenerFunc) OnReroute(ctx context.Context, ev Event) { f(ctx, ev) }

// Listeners fans an event out to each listener in order.
type Listeners []Listener

func (ls Listeners) OnReroute(ctx context.Context, ev Event) {
	for _, l := range ls {
		l.OnReroute(ctx, ev)
	}
}

// Lookup outcomes reported to a LookupObserver.
const (
	LookupOptedOut  = "opted_out"
	LookupUnknown   = "unknown_type"
	LookupMiss      = "miss"
	LookupSameQueue = "same_queue"
	LookupHit       = "hit"
	LookupError     = "error"
)

// LookupObserver receives the outcome of every interception.
type LookupObserver interface {
	ObserveLookup(result string)
}

// InterceptorConfig holds the collaborators of an Interceptor. Types and
// Pusher are required.
type InterceptorConfig struct {
	Types    TypeRegistry
	Pusher   Pusher
	Listener Listener
	Lookups  LookupObserver
}

// Interceptor decides, once per job pickup, whether to redirect the job or run it.
// It holds no mutable state and is safe for concurrent use.
type Interceptor struct {
	store  *Store
	cfg    InterceptorConfig
	logger *slog.Logger
}

func NewInterceptor(store *Store, cfg InterceptorConfig) *Interceptor {
	return &Interceptor{
		store:  store,
		cfg:    cfg,
		logger: log.WithComponent("rerouting"),
	}
}

// Call runs before the job's handler. job is nil when the type is not
// registered with this worker. next runs the rest of the chain.
func (i *Interceptor) Call(ctx context.Context, job *jobtype.Descriptor, rec queue.Record, queueName string, next func(context.Context) error) error {
	if job == nil {
		i.observe(LookupUnknown)
		return next(ctx)
	}
	// Opted-out types never reach the backend.
	if !i.cfg.Types.IsReroutable(job.Name) {
		i.observe(LookupOptedOut)
		return next(ctx)
	}

	dest, ok, err := i.store.DestinationFor(ctx, rec)
	if err != nil {
		i.observe(LookupError)
		return err
	}
	if !ok {
		i.observe(LookupMiss)
		return next(ctx)
	}
	if dest == queueName {
		i.observe(LookupSameQueue)
		return next(ctx)
	}
	i.observe(LookupHit)

	if err := i.cfg.Pusher.Push(ctx, job.Name, rec.WithQueue(dest)); err != nil {
		return err
	}
	i.logger.Info("job rerouted", "job_id", rec.ID(), "type", job.Name, "from_queue", queueName, "to_queue", dest)

	if i.cfg.Listener != nil {
		i.cfg.Listener.OnReroute(ctx, Event{Job: rec, OldQueue: queueName, NewQueue: dest})
	}
	return nil
}

func (i *Interceptor) observe(result string) {
	if i.cfg.Lookups != nil {
		i.cfg.Lookups.ObserveLookup(result)
	}
}
