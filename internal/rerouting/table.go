package rerouting

import "context"

//go:generate mockgen -destination=mocks/table.go -package=mocks github.com/mattjoyce/reroute/internal/rerouting KeyValueTable,Pusher

// KeyValueTable is one named hash in a shared backend. Every method is a
// single round-trip; implementations must not cache.
type KeyValueTable interface {
	// Name is the collection name, stable for the lifetime of the table.
	Name() string
	// Set writes field=value, overwriting any previous value.
	Set(ctx context.Context, field, value string) error
	// Delete removes field; a missing field is not an error.
	Delete(ctx context.Context, field string) error
	// DeleteAll removes the whole collection.
	DeleteAll(ctx context.Context) error
	// GetAll returns every field. The map is never nil.
	GetAll(ctx context.Context) (map[string]string, error)
	// BatchGet reads fields. values[i] and found[i] describe fields[i].
	// The sqlite and redis tables read all fields in one operation; the nats
	// table issues one Get per field and is not a snapshot against
	// concurrent writers.
	BatchGet(ctx context.Context, fields ...string) (values []string, found []bool, err error)
}
