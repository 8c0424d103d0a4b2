package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isomorphiq/orchestrator/pkg/task"
)

type fakeSlackAPI struct {
	t         *testing.T
	posted    []map[string]string
	historyTS string
}

func (f *fakeSlackAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseForm())
		f.posted = append(f.posted, map[string]string{
			"channel":   r.Form.Get("channel"),
			"blocks":    r.Form.Get("blocks"),
			"thread_ts": r.Form.Get("thread_ts"),
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"111.222"}`))
	})
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := `{"ok":true,"messages":[]}`
		if f.historyTS != "" {
			body = `{"ok":true,"messages":[{"ts":"` + f.historyTS + `","text":"Task started [task task-42] add login"}]}`
		}
		_, _ = w.Write([]byte(body))
	})
	return mux
}

func newTestService(t *testing.T, api *fakeSlackAPI) *Service {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	return NewServiceWithClient(client, "https://dash.example.com")
}

func TestService_NilReceiver(t *testing.T) {
	var s *Service
	tk := &task.Task{ID: "task-1", Title: "t"}

	// Should not panic.
	s.TaskStarted(context.Background(), tk, "begin-implementation")
	s.TaskCompleted(context.Background(), tk)
	s.TaskFailed(context.Background(), tk, "boom")
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		assert.Nil(t, NewService(ServiceConfig{Token: "", Channel: "C123"}))
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		assert.Nil(t, NewService(ServiceConfig{Token: "xoxb-test", Channel: ""}))
	})

	t.Run("returns service when configured", func(t *testing.T) {
		svc := NewService(ServiceConfig{
			Token:        "xoxb-test",
			Channel:      "C123",
			DashboardURL: "https://dash.example.com",
		})
		assert.NotNil(t, svc)
	})
}

func TestService_ThreadsCompletionUnderStart(t *testing.T) {
	api := &fakeSlackAPI{t: t}
	svc := newTestService(t, api)
	tk := &task.Task{ID: "task-42", Title: "add login"}

	svc.TaskStarted(context.Background(), tk, "begin-implementation")
	svc.TaskCompleted(context.Background(), tk)

	require.Len(t, api.posted, 2)
	assert.Empty(t, api.posted[0]["thread_ts"])
	assert.Contains(t, api.posted[0]["blocks"], "[task task-42]")
	assert.Contains(t, api.posted[0]["blocks"], "add login")
	assert.Equal(t, "111.222", api.posted[1]["thread_ts"])
	assert.Contains(t, api.posted[1]["blocks"], "Task completed")
}

func TestService_RecoversThreadFromHistory(t *testing.T) {
	api := &fakeSlackAPI{t: t, historyTS: "333.444"}
	svc := newTestService(t, api)
	tk := &task.Task{ID: "task-42", Title: "add login"}

	// No cached thread: the service searches channel history by marker.
	svc.TaskFailed(context.Background(), tk, "lint exploded")

	require.Len(t, api.posted, 1)
	assert.Equal(t, "333.444", api.posted[0]["thread_ts"])
	assert.Contains(t, api.posted[0]["blocks"], "Task failed")
	assert.Contains(t, api.posted[0]["blocks"], "lint exploded")
}

func TestService_FailedWithoutHistoryPostsUnthreaded(t *testing.T) {
	api := &fakeSlackAPI{t: t}
	svc := newTestService(t, api)
	tk := &task.Task{ID: "task-7", Title: "fix cart"}

	svc.TaskFailed(context.Background(), tk, "")

	require.Len(t, api.posted, 1)
	assert.Empty(t, api.posted[0]["thread_ts"])
}
