package rerouting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/reroute/internal/queue"
)

func TestFormatMarker(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		value   string
		want    string
		wantErr error
	}{
		{name: "id", kind: KindID, value: "j1", want: "id:j1"},
		{name: "type", kind: KindType, value: "Foo", want: "type:Foo"},
		{name: "value with colon", kind: KindType, value: "Ns::Foo", want: "type:Ns::Foo"},
		{name: "unknown kind", kind: Kind("queue"), value: "a", wantErr: ErrInvalidMarkerKind},
		{name: "empty value", kind: KindID, value: "", wantErr: ErrEmptyMarkerValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatMarker(tt.kind, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("type")
	require.NoError(t, err)
	assert.Equal(t, KindType, k)

	_, err = ParseKind("class")
	assert.ErrorIs(t, err, ErrInvalidMarkerKind)
}

func TestMarkersForOrderAndMissingFields(t *testing.T) {
	assert.Equal(t, []string{"id:j1", "type:Foo"},
		markersFor(queue.Record{"id": "j1", "type": "Foo", "queue": "A"}))
	assert.Equal(t, []string{"type:Foo"}, markersFor(queue.Record{"type": "Foo"}))
	assert.Empty(t, markersFor(queue.Record{"queue": "A", "id": 7}))
}
