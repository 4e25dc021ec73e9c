package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/reroute/internal/config"
)

type submitCall struct {
	jobType string
	queue   string
	args    json.RawMessage
}

type fakeSubmitter struct {
	calls []submitCall
	err   error
}

func (f *fakeSubmitter) Enqueue(_ context.Context, jobType, queueName string, args json.RawMessage) (string, error) {
	f.calls = append(f.calls, submitCall{jobType, queueName, args})
	if f.err != nil {
		return "", f.err
	}
	return "job-123", nil
}

const secret = "test-secret"

func newRouter(t *testing.T, sub *fakeSubmitter) http.Handler {
	t.Helper()
	eps, err := FromConfig([]config.WebhookConf{
		{Name: "deploy", JobType: "Deploy", Queue: "ops", Secret: secret, MaxBodySize: "64"},
	})
	require.NoError(t, err)
	h := New(eps, sub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Equal(t, 1, h.Len())

	r := chi.NewRouter()
	r.Method(http.MethodPost, "/webhooks/{name}", h)
	return r
}

func post(t *testing.T, h http.Handler, path string, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(DefaultSignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookEnqueuesSignedBody(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	h := newRouter(t, sub)
	body := []byte(`{"ref":"main"}`)

	rec := post(t, h, "/webhooks/deploy", body, Signature(body, secret))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, TriggerResponse{JobID: "job-123", JobType: "Deploy"}, resp)

	require.Len(t, sub.calls, 1)
	assert.Equal(t, "Deploy", sub.calls[0].jobType)
	assert.Equal(t, "ops", sub.calls[0].queue)
	assert.JSONEq(t, string(body), string(sub.calls[0].args))
}

func TestWebhookRejections(t *testing.T) {
	t.Parallel()

	body := []byte(`{"ref":"main"}`)
	notJSON := []byte("ref=main")
	big := bytes.Repeat([]byte("x"), 65)

	tests := []struct {
		name string
		path string
		body []byte
		sig  string
		want int
	}{
		{"unknown endpoint", "/webhooks/nope", body, Signature(body, secret), http.StatusNotFound},
		{"missing signature", "/webhooks/deploy", body, "", http.StatusForbidden},
		{"bad signature", "/webhooks/deploy", body, Signature(body, "other"), http.StatusForbidden},
		{"too large", "/webhooks/deploy", big, Signature(big, secret), http.StatusRequestEntityTooLarge},
		{"not json", "/webhooks/deploy", notJSON, Signature(notJSON, secret), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sub := &fakeSubmitter{}
			rec := post(t, newRouter(t, sub), tt.path, tt.body, tt.sig)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, sub.calls)
		})
	}
}

func TestWebhookEnqueueFailure(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{err: errors.New("unknown job type")}
	body := []byte(`{}`)
	rec := post(t, newRouter(t, sub), "/webhooks/deploy", body, Signature(body, secret))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFromConfigDefaults(t *testing.T) {
	t.Parallel()

	eps, err := FromConfig([]config.WebhookConf{{Name: "a", JobType: "Foo", Secret: "s"}})
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, DefaultSignatureHeader, eps[0].SignatureHeader)
	assert.Equal(t, int64(DefaultMaxBodySize), eps[0].MaxBodySize)

	_, err = FromConfig([]config.WebhookConf{{Name: "a", JobType: "Foo", Secret: "s", MaxBodySize: "lots"}})
	assert.Error(t, err)
}

func TestParseMaxBodySize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"64KB", 64 << 10, false},
		{"2mb", 2 << 20, false},
		{"1GB", 1 << 30, false},
		{"0", 0, true},
		{"-5KB", 0, true},
		{"MB", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
