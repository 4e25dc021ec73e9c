package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/reroute/internal/jobtype"
	"github.com/mattjoyce/reroute/internal/log"
	"github.com/mattjoyce/reroute/internal/queue"
)

// Middleware wraps job execution. job is nil when the record's type is not
// registered. Returning nil without calling next ends the entry as skipped.
type Middleware interface {
	Call(ctx context.Context, job *jobtype.Descriptor, rec queue.Record, queueName string, next func(context.Context) error) error
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx context.Context, job *jobtype.Descriptor, rec queue.Record, queueName string, next func(context.Context) error) error

func (f MiddlewareFunc) Call(ctx context.Context, job *jobtype.Descriptor, rec queue.Record, queueName string, next func(context.Context) error) error {
	return f(ctx, job, rec, queueName, next)
}

// Observer is told about every entry outcome. A retried entry is reported as queued.
type Observer interface {
	JobFinished(ctx context.Context, e *queue.Entry, status queue.Status, err error)
}

// DepthObserver optionally receives the queue depth sampled on each poll.
type DepthObserver interface {
	SetQueueDepth(n int)
}

// ErrUnknownType marks an entry whose type has no registered handler. It is never retried.
var ErrUnknownType = errors.New("job type not registered")

type Config struct {
	Queues       []string
	Workers      int
	PollInterval time.Duration
	BackoffBase  time.Duration
	Middleware   []Middleware
	Observers    []Observer
}

type Dispatcher struct {
	queue    *queue.Queue
	registry *jobtype.Registry
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func New(q *queue.Queue, reg *jobtype.Registry, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	return &Dispatcher{
		queue:    q,
		registry: reg,
		cfg:      cfg,
		logger:   log.WithComponent("dispatch"),
		now:      time.Now,
	}
}

// Start runs the workers until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	if len(d.cfg.Queues) == 0 {
		return fmt.Errorf("dispatcher has no queues")
	}
	d.logger.Info("dispatch started", "queues", d.cfg.Queues, "workers", d.cfg.Workers)
	defer d.logger.Info("dispatch stopped")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error { return d.work(gctx, i) })
	}
	g.Go(func() error { return d.sampleDepth(gctx) })
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context, worker int) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain what is ready, then wait for the next tick.
		for {
			ran, err := d.ProcessNext(ctx)
			if err != nil {
				d.logger.Error("failed to process job", "worker", worker, "error", err)
				break
			}
			if !ran || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) sampleDepth(ctx context.Context) error {
	var sinks []DepthObserver
	for _, o := range d.cfg.Observers {
		if s, ok := o.(DepthObserver); ok {
			sinks = append(sinks, s)
		}
	}
	if len(sinks) == 0 {
		return nil
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := d.queue.Depth(ctx)
			if err != nil {
				continue
			}
			for _, s := range sinks {
				s.SetQueueDepth(n)
			}
		}
	}
}

// ProcessNext claims and runs one entry. It reports false if nothing was ready.
func (d *Dispatcher) ProcessNext(ctx context.Context) (bool, error) {
	entry, err := d.queue.Dequeue(ctx, d.cfg.Queues)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if entry == nil {
		return false, nil
	}

	status, runErr := d.execute(ctx, entry)
	// The outcome is recorded even when shutdown cancelled the run.
	if err := d.finish(context.WithoutCancel(ctx), entry, status, runErr); err != nil {
		return true, err
	}
	return true, nil
}

func (d *Dispatcher) execute(ctx context.Context, entry *queue.Entry) (status queue.Status, err error) {
	jobLogger := log.WithJob(entry.JobID).With("type", entry.Type, "queue", entry.Queue, "entry_id", entry.EntryID)
	jobLogger.Debug("executing job", "attempt", entry.Attempt)

	desc, _ := d.registry.Get(entry.Type)
	handled := false
	final := func(ctx context.Context) error {
		handled = true
		if desc == nil {
			return fmt.Errorf("%w: %q", ErrUnknownType, entry.Type)
		}
		if desc.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, desc.Timeout)
			defer cancel()
		}
		return desc.Handler(ctx, entry.Record)
	}

	defer func() {
		if r := recover(); r != nil {
			status, err = queue.StatusDead, fmt.Errorf("panic: %v", r)
			jobLogger.Error("job panicked", "panic", r)
		}
	}()

	err = d.chain(desc, entry, final)(ctx)
	switch {
	case err == nil && handled:
		return queue.StatusSucceeded, nil
	case err == nil:
		jobLogger.Debug("job skipped by middleware")
		return queue.StatusSkipped, nil
	case errors.Is(err, ErrUnknownType):
		return queue.StatusDead, err
	case entry.Attempt < entry.MaxAttempts:
		return queue.StatusQueued, err
	default:
		return queue.StatusDead, err
	}
}

// chain composes middleware so the first in the list runs outermost.
func (d *Dispatcher) chain(desc *jobtype.Descriptor, entry *queue.Entry, final func(context.Context) error) func(context.Context) error {
	next := final
	for i := len(d.cfg.Middleware) - 1; i >= 0; i-- {
		mw, inner := d.cfg.Middleware[i], next
		next = func(ctx context.Context) error {
			return mw.Call(ctx, desc, entry.Record, entry.Queue, inner)
		}
	}
	return next
}

func (d *Dispatcher) finish(ctx context.Context, entry *queue.Entry, status queue.Status, runErr error) error {
	jobLogger := log.WithJob(entry.JobID).With("type", entry.Type, "queue", entry.Queue)

	var err error
	if status == queue.StatusQueued {
		at := d.now().Add(d.backoff(entry.Attempt))
		jobLogger.Warn("job failed, will retry", "attempt", entry.Attempt, "retry_at", at, "error", runErr)
		err = d.queue.Retry(ctx, entry.EntryID, runErr.Error(), at)
	} else {
		var lastError *string
		if runErr != nil {
			msg := runErr.Error()
			lastError = &msg
			jobLogger.Error("job dead", "attempt", entry.Attempt, "error", runErr)
		} else {
			jobLogger.Info("job finished", "status", status)
		}
		err = d.queue.Complete(ctx, entry.EntryID, status, lastError)
	}
	if err != nil {
		return fmt.Errorf("record outcome for entry %s: %w", entry.EntryID, err)
	}

	for _, o := range d.cfg.Observers {
		o.JobFinished(ctx, entry, status, runErr)
	}
	return nil
}

// backoff returns base * 2^(attempt-1).
func (d *Dispatcher) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return d.cfg.BackoffBase << (attempt - 1)
}
