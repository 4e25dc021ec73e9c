package rerouting

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/reroute/internal/queue"
)

// Kind identifies what a marker matches.
type Kind string

const (
	KindID   Kind = "id"
	KindType Kind = "type"
)

// Kinds lists marker kinds in priority order: earlier kinds win.
var Kinds = []Kind{KindID, KindType}

var (
	ErrInvalidMarkerKind = errors.New("invalid marker kind")
	ErrEmptyMarkerValue  = errors.New("marker value is empty")
)

func (k Kind) valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// recordField is the job record key a kind reads its value from.
func (k Kind) recordField() string {
	switch k {
	case KindID:
		return queue.FieldID
	case KindType:
		return queue.FieldType
	}
	return ""
}

// ParseKind converts s to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.valid() {
		return "", fmt.Errorf("%w: %q (want one of %v)", ErrInvalidMarkerKind, s, Kinds)
	}
	return k, nil
}

// FormatMarker returns the canonical "<kind>:<value>" form.
func FormatMarker(kind Kind, value string) (string, error) {
	if !kind.valid() {
		return "", fmt.Errorf("%w: %q (want one of %v)", ErrInvalidMarkerKind, string(kind), Kinds)
	}
	if value == "" {
		return "", ErrEmptyMarkerValue
	}
	return string(kind) + ":" + value, nil
}

// markersFor returns the formatted markers that apply to rec, in priority
// order. Kinds whose value is absent from the record are skipped.
func markersFor(rec queue.Record) []string {
	out := make([]string, 0, len(Kinds))
	for _, kind := range Kinds {
		value := rec.String(kind.recordField())
		if value == "" {
			continue
		}
		out = append(out, string(kind)+":"+value)
	}
	return out
}
