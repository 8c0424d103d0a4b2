package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/profile"
	"github.com/isomorphiq/orchestrator/pkg/task"
	"github.com/isomorphiq/orchestrator/pkg/worker"
)

type fakePool struct {
	health worker.Health
}

func (f *fakePool) Health() worker.Health { return f.health }

func newTestServer(t *testing.T) (*Server, *contextstore.MemoryStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry := profile.NewRegistry(profile.NewRedisOverrideStore(client), nil)
	contexts := contextstore.NewMemoryStore()
	pool := &fakePool{health: worker.Health{Running: true}}
	return NewServer(registry, task.NewMemoryStore(), contexts, pool, nil), contexts
}

func doRequest(t *testing.T, s *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	s.SetupRoutes(e)

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServeStopsOnContextCancel(t *testing.T) {
	s, _ := newTestServer(t)
	e := echo.New()
	s.SetupRoutes(e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, e, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doRequest(t, s, http.MethodGet, "/healthz", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, healthStatusHealthy, resp.Status)
		assert.NotEmpty(t, resp.Version)
		assert.Equal(t, healthStatusHealthy, resp.Checks["task_store"].Status)
		assert.Equal(t, healthStatusHealthy, resp.Checks["worker_pool"].Status)
	})

	t.Run("stopped pool degrades", func(t *testing.T) {
		s, _ := newTestServer(t)
		s.pool = &fakePool{health: worker.Health{Running: false}}
		rec := doRequest(t, s, http.MethodGet, "/healthz", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, healthStatusDegraded, resp.Status)
	})
}

func TestProfileHandlers(t *testing.T) {
	t.Run("list returns all builtins", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doRequest(t, s, http.MethodGet, "/api/v1/profiles", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var snaps []profile.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
		assert.Len(t, snaps, len(profile.Builtins()))
	})

	t.Run("get unknown profile returns 404", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doRequest(t, s, http.MethodGet, "/api/v1/profiles/nonexistent", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("put override and read it back", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doRequest(t, s, http.MethodPut,
			"/api/v1/profiles/"+profile.SeniorDeveloper+"/override",
			`{"model":"o4-mini"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var snap profile.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		require.NotNil(t, snap.Effective)
		assert.Equal(t, "o4-mini", snap.Effective.Model)
		require.NotNil(t, snap.Overrides)
		assert.Equal(t, "o4-mini", snap.Overrides.Model)
	})

	t.Run("invalid runtime flavor returns 400", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doRequest(t, s, http.MethodPut,
			"/api/v1/profiles/"+profile.QAEngineer+"/override",
			`{"runtime":"claude"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete override", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doRequest(t, s, http.MethodPut,
			"/api/v1/profiles/"+profile.QAEngineer+"/override",
			`{"model":"o4-mini"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(t, s, http.MethodDelete,
			"/api/v1/profiles/"+profile.QAEngineer+"/override", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = doRequest(t, s, http.MethodGet, "/api/v1/profiles/"+profile.QAEngineer, "")
		var snap profile.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Nil(t, snap.Overrides)
	})
}

func TestWorkflowStatusHandler(t *testing.T) {
	s, contexts := newTestServer(t)

	id, err := contexts.EnsureContextID(context.Background(), "default")
	require.NoError(t, err)
	_, err = contexts.Patch(context.Background(), id, map[string]any{
		contextstore.KeyCurrentTask:       map[string]any{"id": "task-42", "title": "add login"},
		contextstore.KeyCurrentTaskBranch: "implementation/42-add-login",
		contextstore.KeyTestStatus:        contextstore.TestStatusFailed,
	})
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/workflow/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WorkflowStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.ContextID)
	assert.Equal(t, "implementation/42-add-login", resp.TaskBranch)
	assert.Equal(t, contextstore.TestStatusFailed, resp.TestStatus)
	assert.Contains(t, resp.Context, contextstore.KeyCurrentTask)
}
