package api

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herd/internal/auth"
	"github.com/mattjoyce/herd/internal/constraint"
	"github.com/mattjoyce/herd/internal/events"
	"github.com/mattjoyce/herd/internal/handler"
	"github.com/mattjoyce/herd/internal/journal"
	"github.com/mattjoyce/herd/internal/log"
	"github.com/mattjoyce/herd/internal/manager"
	"github.com/mattjoyce/herd/internal/pool"
	"github.com/mattjoyce/herd/internal/session"
	"github.com/mattjoyce/herd/internal/storage"
)

const testAPIKey = "test-key"

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

type testEnv struct {
	server  *Server
	handler http.Handler
	mgr     *manager.Manager
	hub     *events.Hub
	journal *journal.Journal
}

func newTestEnv(t *testing.T, workers int, tokens ...auth.TokenConfig) *testEnv {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "herd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	j := journal.New(db)

	hub := events.NewHub(64)
	reg := prometheus.NewRegistry()
	mgr := manager.New(manager.Options{Events: hub, Registerer: reg, Journal: j})
	for i := range workers {
		id := "w" + string(rune('a'+i))
		_, err := mgr.RegisterWorker(id, "test", session.Local{ID: id})
		require.NoError(t, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := New(Config{APIKey: testAPIKey, Tokens: tokens}, mgr, handler.NewRegistry(), j, hub, reg, logger)
	return &testEnv{server: srv, handler: srv.Handler(), mgr: mgr, hub: hub, journal: j}
}

func (e *testEnv) do(t *testing.T, method, path, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func budgetConstraint(initial float64) constraint.Def {
	return constraint.Def{
		Name:         "budget",
		InitialValue: func(int) float64 { return initial },
		Test:         func(_ *pool.Worker, v float64, _ any) bool { return v > 0 },
		OnSuccess:    constraint.Const(-1),
	}
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t, 2)

	rr := env.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[HealthzResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Workers)
	assert.Equal(t, 0, resp.OpenJobs)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 1)

	rr := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "herd_workers")
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, 1)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "nope", http.StatusUnauthorized},
		{"api key", testAPIKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/workers", "", tt.token)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestScopesEnforced(t *testing.T) {
	env := newTestEnv(t, 1,
		auth.TokenConfig{Token: "reader", Scopes: []string{"jobs:ro", "workers:ro", "constraints:ro"}},
		auth.TokenConfig{Token: "writer", Scopes: []string{"jobs:rw"}},
	)

	rr := env.do(t, http.MethodPost, "/jobs", `{"type":"noop"}`, "reader")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPost, "/jobs", `{"type":"noop"}`, "writer")
	assert.Equal(t, http.StatusAccepted, rr.Code)

	// jobs:rw implies jobs:ro.
	rr = env.do(t, http.MethodGet, "/jobs/history", "", "writer")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/workers", "", "writer")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPut, "/constraints/budget/values", `{"value":1}`, "reader")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestEnqueueSingleAndBatch(t *testing.T) {
	env := newTestEnv(t, 3)

	rr := env.do(t, http.MethodPost, "/jobs", `{"type":"noop","bots":1}`, testAPIKey)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	one := decode[EnqueueResponse](t, rr)
	assert.Len(t, one.JobIDs, 1)
	assert.Equal(t, 1, one.OpenJobs)

	rr = env.do(t, http.MethodPost, "/jobs", `[{"type":"noop","bots":[2,0]},{"type":"noop","multi":true}]`, testAPIKey)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	batch := decode[EnqueueResponse](t, rr)
	assert.Len(t, batch.JobIDs, 2)
	assert.Equal(t, 3, batch.OpenJobs)
}

func TestEnqueueRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, 1)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"type":`, "invalid JSON"},
		{"missing type", `{"multi":true}`, "type is required"},
		{"unknown handler", `{"type":"launch"}`, "unknown handler"},
		{"empty batch", `[]`, "no jobs"},
		{"one bad job in batch", `[{"type":"noop"},{"type":"launch"}]`, "job[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/jobs", tt.body, testAPIKey)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, decode[ErrorResponse](t, rr).Error, tt.want)
		})
	}

	// Nothing from a rejected batch was enqueued.
	assert.Equal(t, 0, env.mgr.OpenJobs())
}

func TestProcessWaitReportsStatuses(t *testing.T) {
	env := newTestEnv(t, 2)
	require.NoError(t, env.mgr.AddConstraint(budgetConstraint(0)))

	body := `[
		{"type":"noop","bots":[1,0]},
		{"type":"fail","args":{"reason":"out of stock"}},
		{"type":"noop","constraints":["budget"]},
		{"type":"noop","bots":[5]}
	]`
	rr := env.do(t, http.MethodPost, "/jobs", body, testAPIKey)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/jobs/process", `{"count":4,"wait":true}`, testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decode[ProcessResponse](t, rr)
	assert.Equal(t, 4, resp.Submitted)
	assert.Equal(t, 0, resp.OpenJobs)
	require.Len(t, resp.Results, 4)

	assert.Equal(t, "succeeded", resp.Results[0].Status)
	assert.Equal(t, []int{1}, resp.Results[0].Workers)

	assert.Equal(t, "failed", resp.Results[1].Status)
	assert.Contains(t, resp.Results[1].Error, "out of stock")

	assert.Equal(t, "rejected", resp.Results[2].Status)
	assert.Contains(t, resp.Results[2].Error, "no eligible worker")

	assert.Equal(t, "invalid", resp.Results[3].Status)
}

func TestProcessWithoutWait(t *testing.T) {
	env := newTestEnv(t, 1)

	rr := env.do(t, http.MethodPost, "/jobs", `[{"type":"noop"},{"type":"noop"}]`, testAPIKey)
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = env.do(t, http.MethodPost, "/jobs/process", "", testAPIKey)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	resp := decode[ProcessResponse](t, rr)
	assert.Equal(t, 1, resp.Submitted)
	assert.Len(t, resp.JobIDs, 1)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 1, resp.OpenJobs)

	rr = env.do(t, http.MethodPost, "/jobs/process", `{"count":-1}`, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistoryListsSettledJobs(t *testing.T) {
	env := newTestEnv(t, 1)

	rr := env.do(t, http.MethodPost, "/jobs", `[{"type":"noop"},{"type":"fail"}]`, testAPIKey)
	require.Equal(t, http.StatusAccepted, rr.Code)
	rr = env.do(t, http.MethodPost, "/jobs/process", `{"count":2,"wait":true}`, testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/jobs/history?limit=10", "", testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Jobs []journal.Entry `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 2)

	statuses := []string{body.Jobs[0].Status, body.Jobs[1].Status}
	assert.ElementsMatch(t, []string{journal.StatusSucceeded, journal.StatusFailed}, statuses)

	rr = env.do(t, http.MethodGet, "/jobs/history?limit=zero", "", testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistoryDisabledWithoutJournal(t *testing.T) {
	mgr := manager.New(manager.Options{})
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := New(Config{APIKey: testAPIKey}, mgr, handler.NewRegistry(), nil, nil, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/jobs/history", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestWorkerEndpoints(t *testing.T) {
	env := newTestEnv(t, 2)

	rr := env.do(t, http.MethodGet, "/workers", "", testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Workers []WorkerResponse `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Workers, 2)
	assert.Equal(t, 0, list.Workers[0].Index)
	assert.Equal(t, "wa", list.Workers[0].Identity)

	rr = env.do(t, http.MethodGet, "/workers/1", "", testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "wb", decode[WorkerResponse](t, rr).Identity)

	rr = env.do(t, http.MethodGet, "/workers/7", "", testAPIKey)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/workers/x", "", testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/workers/lookup?identity=wb", "", testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[WorkerResponse](t, rr).Index)

	rr = env.do(t, http.MethodGet, "/workers/lookup?identity=zz", "", testAPIKey)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/workers/lookup", "", testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConstraintEndpoints(t *testing.T) {
	env := newTestEnv(t, 2)
	require.NoError(t, env.mgr.AddConstraint(budgetConstraint(3)))

	// Run one job so worker 0's cell is initialized and charged.
	rr := env.do(t, http.MethodPost, "/jobs", `{"type":"noop","constraints":["budget"],"bots":0}`, testAPIKey)
	require.Equal(t, http.StatusAccepted, rr.Code)
	rr = env.do(t, http.MethodPost, "/jobs/process", `{"count":1,"wait":true}`, testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/constraints", "", testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Constraints []ConstraintResponse `json:"constraints"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Constraints, 1)
	assert.Equal(t, "budget", list.Constraints[0].Name)
	assert.Equal(t, map[int]float64{0: 2}, list.Constraints[0].Values)

	rr = env.do(t, http.MethodPut, "/constraints/budget/values", `{"value":10}`, testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, map[int]float64{0: 10}, decode[ConstraintResponse](t, rr).Values)

	rr = env.do(t, http.MethodPut, "/constraints/ghost/values", `{"value":1}`, testAPIKey)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPut, "/constraints/budget/values", `{}`, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// openStream connects to path and returns a reader of blank-line framed SSE
// blocks. The leading retry hint is consumed.
func openStream(t *testing.T, env *testEnv, path, lastID string) func() []string {
	t.Helper()
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readBlock := func() []string {
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
	assert.Equal(t, []string{"retry: 3000"}, readBlock())
	return readBlock
}

func TestEventsStreamReplaysBuffered(t *testing.T) {
	env := newTestEnv(t, 1)
	env.hub.Publish(events.SchedulerTick, map[string]any{"open_jobs": 0})

	// Skip the worker.registered event (id 1).
	readEvent := openStream(t, env, "/events", "1")

	first := readEvent()
	require.NotEmpty(t, first)
	assert.Equal(t, "id: 2", first[0])
	assert.Contains(t, first, "event: "+events.SchedulerTick)

	env.hub.Publish(events.ConstraintReset, map[string]any{"constraint": "budget"})
	next := readEvent()
	assert.Contains(t, next, "event: "+events.ConstraintReset)
}

func TestEventsStreamFiltersByType(t *testing.T) {
	env := newTestEnv(t, 1)
	readEvent := openStream(t, env, "/events?types=constraint.", "")

	env.hub.Publish(events.SchedulerTick, map[string]any{"open_jobs": 0})
	env.hub.Publish(events.ConstraintReset, map[string]any{"constraint": "budget"})

	got := readEvent()
	require.NotEmpty(t, got)
	assert.Contains(t, got, "event: "+events.ConstraintReset)
	assert.Contains(t, got, "id: 3")
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}

func TestParseTypeFilter(t *testing.T) {
	assert.Nil(t, parseTypeFilter(""))
	assert.Equal(t, []string{"job.", "constraint."}, parseTypeFilter(" job., ,constraint."))
}
