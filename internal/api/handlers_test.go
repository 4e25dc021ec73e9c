package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/reroute/internal/auth"
	"github.com/mattjoyce/reroute/internal/config"
	"github.com/mattjoyce/reroute/internal/events"
	"github.com/mattjoyce/reroute/internal/jobtype"
	"github.com/mattjoyce/reroute/internal/kvtable"
	"github.com/mattjoyce/reroute/internal/metrics"
	"github.com/mattjoyce/reroute/internal/queue"
	"github.com/mattjoyce/reroute/internal/rerouting"
	"github.com/mattjoyce/reroute/internal/storage"
	"github.com/mattjoyce/reroute/internal/webhook"
)

const testKey = "test-key"

type testEnv struct {
	server  *Server
	handler http.Handler
	store   *rerouting.Store
	queue   *queue.Queue
	hub     *events.Hub
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := jobtype.NewRegistry()
	no := false
	noop := func(context.Context, queue.Record) error { return nil }
	require.NoError(t, reg.Register(&jobtype.Descriptor{Name: "Foo", Queue: "A", MaxAttempts: 3, Handler: noop}))
	require.NoError(t, reg.Register(&jobtype.Descriptor{Name: "Pinned", Queue: "A", Reroutable: &no, Handler: noop}))

	env := &testEnv{
		store:   rerouting.NewStore(kvtable.NewSQLite(db, "rerouting:targets")),
		queue:   queue.New(db),
		hub:     events.NewHub(16),
		metrics: metrics.New(),
	}
	env.server = New(Config{APIKey: apiKey}, Deps{
		Markers: env.store,
		Jobs:    jobtype.NewClient(env.queue, reg),
		Queue:   env.queue,
		Types:   reg,
		Events:  env.hub,
		Metrics: promhttp.HandlerFor(env.metrics.Registry, promhttp.HandlerOpts{}),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthzIsOpen(t *testing.T) {
	env := newTestEnv(t, testKey)
	require.NoError(t, env.store.Reroute(context.Background(), "B", rerouting.KindType, "Foo"))

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthzResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Markers)
	assert.Equal(t, "rerouting:targets", resp.RoutingTable)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, testKey)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic " + testKey},
		{"wrong key", "Bearer nope"},
		{"blank key", "Bearer   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/markers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestNoKeyConfiguredLeavesAPIOpen(t *testing.T) {
	env := newTestEnv(t, "")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markers", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScopedTokens(t *testing.T) {
	env := newTestEnv(t, testKey)
	env.server.config.Tokens = []auth.TokenConfig{
		{Token: "viewer", Scopes: []string{auth.ScopeMarkersRO}},
		{Token: "operator", Scopes: []string{auth.ScopeMarkersRW}},
	}
	env.handler = env.server.Handler()

	send := func(token, method, path, body string) int {
		var rdr io.Reader
		if body != "" {
			rdr = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, rdr)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("viewer", http.MethodGet, "/markers", ""))
	assert.Equal(t, http.StatusForbidden, send("viewer", http.MethodPut, "/markers/type/Foo", `{"queue":"B"}`))
	assert.Equal(t, http.StatusForbidden, send("viewer", http.MethodGet, "/job-types", ""))
	assert.Equal(t, http.StatusOK, send("operator", http.MethodPut, "/markers/type/Foo", `{"queue":"B"}`))
	assert.Equal(t, http.StatusOK, send("operator", http.MethodGet, "/markers", ""))
	assert.Equal(t, http.StatusForbidden, send("operator", http.MethodPost, "/jobs", `{"type":"Foo"}`))
	assert.Equal(t, http.StatusOK, send(testKey, http.MethodGet, "/job-types", ""))
}

func TestWebhookMountBypassesBearerAuth(t *testing.T) {
	env := newTestEnv(t, testKey)
	eps, err := webhook.FromConfig([]config.WebhookConf{{Name: "hook", JobType: "Foo", Secret: "s"}})
	require.NoError(t, err)
	env.server.deps.Webhooks = webhook.New(eps, env.server.deps.Jobs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	env.handler = env.server.Handler()

	body := []byte(`["x"]`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/hook", bytes.NewReader(body))
	req.Header.Set(webhook.DefaultSignatureHeader, webhook.Signature(body, "s"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp webhook.TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	entries, err := env.queue.EntriesForJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].Queue)
	assert.Equal(t, []any{"x"}, entries[0].Record["args"])
}

func TestMarkerLifecycle(t *testing.T) {
	env := newTestEnv(t, testKey)

	rec := env.do(t, http.MethodPut, "/markers/type/Foo", `{"queue":"B"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, MarkerResponse{Marker: "type:Foo", Queue: "B"}, decode[MarkerResponse](t, rec))

	rec = env.do(t, http.MethodPut, "/markers/id/j%3A1", `{"queue":"C"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/markers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[MarkersResponse](t, rec)
	assert.Equal(t, map[string]string{"type:Foo": "B", "id:j:1": "C"}, list.Markers)

	rec = env.do(t, http.MethodDelete, "/markers/type/Foo", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	markers, err := env.store.ListMarkers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"id:j:1": "C"}, markers)

	rec = env.do(t, http.MethodDelete, "/markers", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	markers, err = env.store.ListMarkers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, markers)

	var types []string
	for _, ev := range env.hub.Since(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.TypeMarkerSet, events.TypeMarkerSet, events.TypeMarkerRemoved, events.TypeMarkersCleared}, types)
}

func TestMarkerValueDecodedOnce(t *testing.T) {
	env := newTestEnv(t, testKey)

	tests := []struct {
		path   string
		marker string
	}{
		{"/markers/type/50%25off", "type:50%off"},
		{"/markers/type/a%2541", "type:a%41"},
		{"/markers/id/a%2Fb", "id:a/b"},
		{"/markers/type/plain", "type:plain"},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodPut, tt.path, `{"queue":"B"}`)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", tt.path, rec.Body.String())
		assert.Equal(t, tt.marker, decode[MarkerResponse](t, rec).Marker, tt.path)
	}

	markers, err := env.store.ListMarkers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"type:50%off": "B",
		"type:a%41":   "B",
		"id:a/b":      "B",
		"type:plain":  "B",
	}, markers)

	rec := env.do(t, http.MethodDelete, "/markers/type/a%2541", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	markers, err = env.store.ListMarkers(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, markers, "type:a%41")
	assert.Contains(t, markers, "type:50%off")
}

func TestSetMarkerValidation(t *testing.T) {
	env := newTestEnv(t, testKey)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad kind", "/markers/class/Foo", `{"queue":"B"}`},
		{"missing queue", "/markers/type/Foo", `{}`},
		{"blank queue", "/markers/type/Foo", `{"queue":"  "}`},
		{"bad json", "/markers/type/Foo", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := env.do(t, http.MethodDelete, "/markers/queue/A", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueAndGetJob(t *testing.T) {
	env := newTestEnv(t, testKey)

	rec := env.do(t, http.MethodPost, "/jobs", `{"type":"Foo","args":["foo",2]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[EnqueueResponse](t, rec)
	require.NotEmpty(t, resp.JobID)

	rec = env.do(t, http.MethodGet, "/jobs/"+resp.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[JobResponse](t, rec)
	require.Len(t, job.Entries, 1)
	assert.Equal(t, "A", job.Entries[0].Queue)
	assert.Equal(t, "queued", job.Entries[0].Status)
	assert.Equal(t, 3, job.Entries[0].MaxAttempts)
	assert.Equal(t, []any{"foo", float64(2)}, job.Entries[0].Record["args"])

	rec = env.do(t, http.MethodGet, "/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/jobs", `{"type":"Nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/jobs", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobTypes(t *testing.T) {
	env := newTestEnv(t, testKey)

	rec := env.do(t, http.MethodGet, "/job-types", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]JobTypeResponse](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, "Foo", got[0].Name)
	assert.True(t, got[0].Reroutable)
	assert.Equal(t, "Pinned", got[1].Name)
	assert.False(t, got[1].Reroutable)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testKey)
	env.metrics.OnReroute(context.Background(), rerouting.Event{OldQueue: "A", NewQueue: "B"})

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `reroute_redirects_total{from_queue="A",to_queue="B"} 1`)
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, testKey)
	env.hub.Publish(events.TypeMarkerSet, map[string]string{"marker": "type:Foo"})

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() []string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return lines
			}
			lines = append(lines, line)
		}
	}

	// Backlog first.
	first := readEvent()
	assert.Equal(t, []string{"id: 1", "event: marker.set", `data: {"marker":"type:Foo"}`}, first)

	env.hub.OnReroute(context.Background(), rerouting.Event{
		Job:      queue.Record{"id": "j1", "type": "Foo", "queue": "A"},
		OldQueue: "A",
		NewQueue: "B",
	})
	second := readEvent()
	require.Len(t, second, 3)
	assert.Equal(t, "event: job.rerouted", second[1])
	assert.True(t, bytes.Contains([]byte(second[2]), []byte(`"to_queue":"B"`)))
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("x"))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
