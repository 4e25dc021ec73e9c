package rerouting

import (
	"context"
	"fmt"

	"github.com/mattjoyce/reroute/internal/queue"
)

// Store manages the routing table: formatted marker -> destination queue.
type Store struct {
	table KeyValueTable
}

// NewStore wraps a routing table. The table's name selects the collection, so
// stores over differently named tables are independent.
func NewStore(table KeyValueTable) *Store {
	return &Store{table: table}
}

// Table returns the collection name backing the store.
func (s *Store) Table() string {
	return s.table.Name()
}

// Reroute marks jobs matching (kind, value) for delivery to destination.
// Repeating the call with the same arguments changes nothing.
func (s *Store) Reroute(ctx context.Context, destination string, kind Kind, value string) error {
	marker, err := FormatMarker(kind, value)
	if err != nil {
		return err
	}
	if destination == "" {
		return fmt.Errorf("destination queue is empty")
	}
	if err := s.table.Set(ctx, marker, destination); err != nil {
		return fmt.Errorf("set marker %s: %w", marker, err)
	}
	return nil
}

// RemoveRerouting deletes the marker for (kind, value) if present.
func (s *Store) RemoveRerouting(ctx context.Context, kind Kind, value string) error {
	marker, err := FormatMarker(kind, value)
	if err != nil {
		return err
	}
	if err := s.table.Delete(ctx, marker); err != nil {
		return fmt.Errorf("delete marker %s: %w", marker, err)
	}
	return nil
}

// RemoveAllRerouting deletes the entire routing table.
func (s *Store) RemoveAllRerouting(ctx context.Context) error {
	if err := s.table.DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete routing table %s: %w", s.table.Name(), err)
	}
	return nil
}

// ListMarkers returns every marker and its destination queue.
func (s *Store) ListMarkers(ctx context.Context) (map[string]string, error) {
	markers, err := s.table.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	if markers == nil {
		markers = map[string]string{}
	}
	return markers, nil
}

// DestinationFor returns the destination queue for rec, if any marker applies.
// The id marker is consulted before the type marker; both are read in one batch.
func (s *Store) DestinationFor(ctx context.Context, rec queue.Record) (string, bool, error) {
	markers := markersFor(rec)
	if len(markers) == 0 {
		return "", false, nil
	}

	values, found, err := s.table.BatchGet(ctx, markers...)
	if err != nil {
		return "", false, fmt.Errorf("look up markers for job %s: %w", rec.ID(), err)
	}
	for i := range markers {
		if i < len(found) && found[i] {
			return values[i], true, nil
		}
	}
	return "", false, nil
}
