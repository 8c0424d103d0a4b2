package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/isomorphiq/orchestrator/pkg/database"
)

// newPostgresStore starts a throwaway postgres container, applies the
// embedded migrations, and returns a store over it.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("orchestrator"),
		tcpostgres.WithUsername("orchestrator"),
		tcpostgres.WithPassword("orchestrator"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := database.NewClientFromDSN(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewPostgresStore(client.DB())
}

func TestPostgresStore(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	require.NoError(t, store.CreateTask(ctx, &Task{
		ID: "dep-1", Title: "dependency", Type: TypeImplementation, Status: StatusTodo,
	}))
	require.NoError(t, store.CreateTask(ctx, &Task{
		ID: "t1", Title: "build the thing", Type: TypeImplementation,
		Status: StatusTodo, Priority: PriorityHigh, Dependencies: []string{"dep-1"},
	}))

	t.Run("list and get round trip", func(t *testing.T) {
		tasks, err := store.ListTasks(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "dep-1", tasks[0].ID, "creation order")

		got, err := store.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, PriorityHigh, got.Priority)
		assert.Equal(t, []string{"dep-1"}, got.Dependencies)
		assert.False(t, got.CreatedAt.IsZero())

		_, err = store.GetTask(ctx, "missing")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("claim blocked by open dependency", func(t *testing.T) {
		_, err := store.ClaimTask(ctx, "t1", "worker-1")
		var rejected *ClaimRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, ClaimRejectedDepsUnsatisfied, rejected.Reason)
	})

	t.Run("status change appends to action log", func(t *testing.T) {
		require.NoError(t, store.UpdateTaskStatus(ctx, "dep-1", StatusDone, "worker-1"))

		got, err := store.GetTask(ctx, "dep-1")
		require.NoError(t, err)
		assert.Equal(t, StatusDone, got.Status)
		require.Len(t, got.ActionLog, 1)
		assert.Equal(t, "worker-1", got.ActionLog[0].Actor)
	})

	t.Run("claim succeeds once dependency is done", func(t *testing.T) {
		claimed, err := store.ClaimTask(ctx, "t1", "worker-1")
		require.NoError(t, err)
		assert.Equal(t, "worker-1", claimed.Assignee)

		_, err = store.ClaimTask(ctx, "t1", "worker-2")
		var rejected *ClaimRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, ClaimRejectedAlreadyClaimed, rejected.Reason)
	})

	t.Run("partial update", func(t *testing.T) {
		branch := "implementation/t1-build-the-thing"
		require.NoError(t, store.UpdateTask(ctx, "t1", UpdateFields{
			Branch:       &branch,
			Dependencies: []string{},
		}, "worker-1"))

		got, err := store.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, branch, got.Branch)
		assert.Empty(t, got.Dependencies)
		assert.Equal(t, "build the thing", got.Title, "unset fields untouched")
	})

	t.Run("append action log", func(t *testing.T) {
		require.NoError(t, store.AppendActionLog(ctx, "t1", ActionLogEntry{
			Actor: "worker-1", Action: "run-lint", Summary: "lint passed",
		}))
		assert.ErrorIs(t, store.AppendActionLog(ctx, "missing", ActionLogEntry{Action: "x"}), ErrTaskNotFound)
	})
}
