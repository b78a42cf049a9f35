package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herd/internal/config"
	"github.com/mattjoyce/herd/internal/handler"
	"github.com/mattjoyce/herd/internal/queue"
)

const testSecret = "test-secret"

// recordingQueue captures enqueued jobs.
type recordingQueue struct {
	jobs []*queue.Job
	err  error
}

func (q *recordingQueue) AddJob(jobs ...*queue.Job) error {
	if q.err != nil {
		return q.err
	}
	for i, j := range jobs {
		j.ID = "job-" + string(rune('a'+len(q.jobs)+i))
	}
	q.jobs = append(q.jobs, jobs...)
	return nil
}

func newTestServer(t *testing.T, q JobSubmitter, maxBody int64) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := Config{
		Listen: "127.0.0.1:0",
		Endpoints: []EndpointConfig{{
			Path:            "/hooks/offer",
			JobType:         handler.Noop,
			Constraints:     []string{"budget"},
			Bots:            queue.Workers(1, 0),
			Secret:          testSecret,
			SignatureHeader: "X-Hub-Signature-256",
			MaxBodySize:     maxBody,
		}},
	}
	return New(cfg, q, handler.NewRegistry(), logger).Handler()
}

func post(h http.Handler, path string, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if sig != "" {
		req.Header.Set("X-Hub-Signature-256", sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookEnqueuesJob(t *testing.T) {
	q := &recordingQueue{}
	h := newTestServer(t, q, 0)

	body := []byte(`{"offer_id":"o-1","value":12.5}`)
	rec := post(h, "/hooks/offer", body, Sign(body, testSecret))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp TriggerResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job-a", resp.JobID)

	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, handler.Noop, job.Type)
	assert.Equal(t, []string{"budget"}, job.Constraints)
	assert.NotNil(t, job.Fn)
	assert.Equal(t, "[1 0]", job.Bots.String())
	assert.Equal(t, map[string]any{"offer_id": "o-1", "value": 12.5}, job.Args)
}

func TestWebhookRejections(t *testing.T) {
	body := []byte(`{"offer_id":"o-1"}`)

	tests := []struct {
		name   string
		path   string
		body   []byte
		sig    string
		status int
	}{
		{"missing signature", "/hooks/offer", body, "", http.StatusForbidden},
		{"wrong secret", "/hooks/offer", body, Sign(body, "other"), http.StatusForbidden},
		{"garbage signature", "/hooks/offer", body, "sha256=zz", http.StatusForbidden},
		{"too large", "/hooks/offer", bytes.Repeat([]byte("x"), 65), Sign(bytes.Repeat([]byte("x"), 65), testSecret), http.StatusRequestEntityTooLarge},
		{"not json", "/hooks/offer", []byte("offer"), Sign([]byte("offer"), testSecret), http.StatusBadRequest},
		{"unknown path", "/hooks/other", body, Sign(body, testSecret), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &recordingQueue{}
			rec := post(newTestServer(t, q, 64), tt.path, tt.body, tt.sig)
			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, q.jobs)
		})
	}
}

func TestWebhookEnqueueFailure(t *testing.T) {
	q := &recordingQueue{err: errors.New("queue closed")}
	body := []byte(`{}`)
	rec := post(newTestServer(t, q, 0), "/hooks/offer", body, Sign(body, testSecret))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "queue closed")
}

func TestWebhookEmptyBodyHasNilArgs(t *testing.T) {
	q := &recordingQueue{}
	rec := post(newTestServer(t, q, 0), "/hooks/offer", nil, Sign(nil, testSecret))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.jobs, 1)
	assert.Nil(t, q.jobs[0].Args)
}

func TestFromConfig(t *testing.T) {
	handlers := handler.NewRegistry()

	cfg, err := FromConfig(&config.WebhooksConfig{
		Listen: ":8081",
		Endpoints: []config.WebhookEndpoint{
			{Path: "/a", JobType: handler.Noop, Secret: "s", SignatureHeader: "X", MaxBodySize: "2KB"},
			{Path: "/b", JobType: handler.Fail, Secret: "s", SignatureHeader: "X", Bots: []int{3}},
		},
	}, handlers)
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, int64(2048), cfg.Endpoints[0].MaxBodySize)
	assert.True(t, cfg.Endpoints[0].Bots.IsAll())
	assert.Equal(t, int64(config.DefaultMaxBodySize), cfg.Endpoints[1].MaxBodySize)
	assert.Equal(t, "[3]", cfg.Endpoints[1].Bots.String())

	_, err = FromConfig(&config.WebhooksConfig{
		Endpoints: []config.WebhookEndpoint{{Path: "/c", JobType: "launch", Secret: "s", SignatureHeader: "X"}},
	}, handlers)
	assert.ErrorIs(t, err, handler.ErrUnknownHandler)

	_, err = FromConfig(nil, handlers)
	assert.Error(t, err)
}
