package jobtype

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/reroute/internal/config"
	"github.com/mattjoyce/reroute/internal/queue"
)

func noop(context.Context, queue.Record) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryIsReroutable(t *testing.T) {
	t.Parallel()

	no := false
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Descriptor{Name: "Default", Handler: noop}))
	require.NoError(t, reg.Register(&Descriptor{Name: "Pinned", Reroutable: &no, Handler: noop}))

	assert.True(t, reg.IsReroutable("Default"))
	assert.False(t, reg.IsReroutable("Pinned"))
	assert.True(t, reg.IsReroutable("Unknown"))
}

func TestRegistryRegisterValidates(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	assert.Error(t, reg.Register(&Descriptor{Handler: noop}))
	assert.Error(t, reg.Register(&Descriptor{Name: "NoHandler"}))
	require.NoError(t, reg.Register(&Descriptor{Name: "Foo", Handler: noop}))
	assert.Error(t, reg.Register(&Descriptor{Name: "Foo", Handler: noop}))

	all := reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, "Foo", all[0].Name)
}

type recordingStore struct {
	enqueued    []queue.EnqueueRequest
	pushed      []queue.Record
	maxAttempts []int
}

func (s *recordingStore) Enqueue(_ context.Context, req queue.EnqueueRequest) (string, error) {
	s.enqueued = append(s.enqueued, req)
	return "job-1", nil
}

func (s *recordingStore) Push(_ context.Context, rec queue.Record, maxAttempts int) (string, error) {
	s.pushed = append(s.pushed, rec)
	s.maxAttempts = append(s.maxAttempts, maxAttempts)
	return "entry-1", nil
}

func TestClientPushUsesTypeOptions(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(&Descriptor{Name: "Foo", Queue: "A", MaxAttempts: 9, Handler: noop}))
	store := &recordingStore{}
	c := NewClient(store, reg)

	rec := queue.Record{"id": "j1", "type": "Foo", "queue": "B"}
	require.NoError(t, c.Push(context.Background(), "Foo", rec))
	require.NoError(t, c.Push(context.Background(), "Unknown", rec))

	assert.Equal(t, []int{9, 0}, store.maxAttempts)
	assert.Equal(t, "B", store.pushed[0].Queue())
}

func TestClientEnqueueDefaultsQueue(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(&Descriptor{Name: "Foo", Queue: "A", MaxAttempts: 3, Handler: noop}))
	store := &recordingStore{}
	c := NewClient(store, reg)

	_, err := c.Enqueue(context.Background(), "Foo", "", json.RawMessage(`[1]`))
	require.NoError(t, err)
	_, err = c.Enqueue(context.Background(), "Foo", "B", nil)
	require.NoError(t, err)
	_, err = c.Enqueue(context.Background(), "Missing", "", nil)
	assert.Error(t, err)

	require.Len(t, store.enqueued, 2)
	assert.Equal(t, "A", store.enqueued[0].Queue)
	assert.Equal(t, 3, store.enqueued[0].MaxAttempts)
	assert.Equal(t, "B", store.enqueued[1].Queue)
}

// Exec tests stay serial: a concurrent fork can inherit the script's write fd (ETXTBSY).
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handler.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestExecHandlerPassesRecordOnStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stdin.json")
	script := writeScript(t, "cat > "+out+"\n")

	h := ExecHandler(script, 5*time.Second, discardLogger())
	require.NoError(t, h(context.Background(), queue.Record{"id": "j1", "type": "Foo", "queue": "A"}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "j1", got["id"])
}

func TestExecHandlerReportsFailure(t *testing.T) {
	script := writeScript(t, "echo broken >&2\nexit 3\n")
	h := ExecHandler(script, 5*time.Second, discardLogger())

	err := h(context.Background(), queue.Record{"id": "j1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 3")
	assert.Contains(t, err.Error(), "broken")
}

func TestExecHandlerTimeout(t *testing.T) {
	script := writeScript(t, "exec sleep 5\n")
	h := ExecHandler(script, 100*time.Millisecond, discardLogger())

	err := h(context.Background(), queue.Record{"id": "j1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	no := false
	reg, err := FromConfig(map[string]config.JobTypeConf{
		"Foo": {Queue: "A", MaxAttempts: 2},
		"Bar": {Queue: "B", Reroutable: &no, Exec: "/bin/true"},
	}, discardLogger())
	require.NoError(t, err)

	foo, ok := reg.Get("Foo")
	require.True(t, ok)
	assert.Equal(t, "A", foo.Queue)
	assert.Equal(t, 2, foo.MaxAttempts)
	assert.True(t, foo.IsReroutable())
	assert.NoError(t, foo.Handler(context.Background(), queue.Record{"id": "x"}))

	assert.False(t, reg.IsReroutable("Bar"))
}
