package jobtype

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/reroute/internal/queue"
)

// Store is the subset of the queue the client submits through.
type Store interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
	Push(ctx context.Context, rec queue.Record, maxAttempts int) (string, error)
}

// Client submits jobs honoring per-type options.
type Client struct {
	store    Store
	registry *Registry
}

func NewClient(store Store, registry *Registry) *Client {
	return &Client{store: store, registry: registry}
}

// Enqueue creates a new job of jobType. An empty queueName selects the type's default queue.
func (c *Client) Enqueue(ctx context.Context, jobType, queueName string, args json.RawMessage) (string, error) {
	d, ok := c.registry.Get(jobType)
	if !ok {
		return "", fmt.Errorf("unknown job type %q", jobType)
	}
	if queueName == "" {
		queueName = d.Queue
	}
	return c.store.Enqueue(ctx, queue.EnqueueRequest{
		Type:        jobType,
		Queue:       queueName,
		Args:        args,
		MaxAttempts: d.MaxAttempts,
	})
}

// Push re-submits an existing record as jobType into the queue named by the
// record. Unknown types fall back to the queue's default options.
func (c *Client) Push(ctx context.Context, jobType string, rec queue.Record) error {
	var maxAttempts int
	if d, ok := c.registry.Get(jobType); ok {
		maxAttempts = d.MaxAttempts
	}
	if _, err := c.store.Push(ctx, rec, maxAttempts); err != nil {
		return fmt.Errorf("push %s job %s to %q: %w", jobType, rec.ID(), rec.Queue(), err)
	}
	return nil
}
