package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore implements Store on a PostgreSQL tasks table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a task store over the given connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks database connectivity for health reporting.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const taskColumns = `id, title, description, priority, type, status, dependencies, branch, assignee, action_log, created_at, updated_at`

// ListTasks returns all tasks ordered by creation time.
func (s *PostgresStore) ListTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask returns the task with the given id.
func (s *PostgresStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
		}
		return nil, err
	}
	return t, nil
}

// UpdateTaskStatus sets the task status and appends a status-change entry
// to the action log.
func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id string, status Status, changedBy string) error {
	entry := ActionLogEntry{
		Timestamp: time.Now().UTC(),
		Actor:     changedBy,
		Action:    "status-change",
		Summary:   fmt.Sprintf("status set to %s", status),
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding action log entry: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET status = $2,
		     action_log = action_log || $3::jsonb,
		     updated_at = now()
		 WHERE id = $1`,
		id, string(status), string(entryJSON))
	if err != nil {
		return fmt.Errorf("updating task %s status: %w", id, err)
	}
	return requireRow(res, id)
}

// UpdateTask applies a partial update to the task.
func (s *PostgresStore) UpdateTask(ctx context.Context, id string, fields UpdateFields, changedBy string) error {
	set := "updated_at = now()"
	args := []any{id}
	next := 2

	addString := func(column string, value *string) {
		if value == nil {
			return
		}
		set += fmt.Sprintf(", %s = $%d", column, next)
		args = append(args, *value)
		next++
	}
	addString("title", fields.Title)
	addString("description", fields.Description)
	addString("branch", fields.Branch)
	addString("assignee", fields.Assignee)
	if fields.Priority != nil {
		set += fmt.Sprintf(", priority = $%d", next)
		args = append(args, string(*fields.Priority))
		next++
	}
	if fields.Dependencies != nil {
		depsJSON, err := json.Marshal(fields.Dependencies)
		if err != nil {
			return fmt.Errorf("encoding dependencies: %w", err)
		}
		set += fmt.Sprintf(", dependencies = $%d::jsonb", next)
		args = append(args, string(depsJSON))
		next++
	}

	entry := ActionLogEntry{
		Timestamp: time.Now().UTC(),
		Actor:     changedBy,
		Action:    "update",
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding action log entry: %w", err)
	}
	set += fmt.Sprintf(", action_log = action_log || $%d::jsonb", next)
	args = append(args, string(entryJSON))

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+set+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	return requireRow(res, id)
}

// ClaimTask atomically claims a task for a worker using a row lock. The claim
// succeeds only if the task is unassigned or already assigned to workerID,
// its status is todo or in-progress, and every dependency is done or invalid.
func (s *PostgresStore) ClaimTask(ctx context.Context, id, workerID string) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ClaimRejectedError{TaskID: id, Reason: ClaimRejectedStale}
		}
		return nil, err
	}

	if t.Assignee != "" && t.Assignee != workerID {
		return nil, &ClaimRejectedError{TaskID: id, Reason: ClaimRejectedAlreadyClaimed}
	}
	if t.Status != StatusTodo && t.Status != StatusInProgress {
		return nil, &ClaimRejectedError{TaskID: id, Reason: ClaimRejectedNonClaimableStatus}
	}

	if len(t.Dependencies) > 0 {
		depsJSON, err := json.Marshal(t.Dependencies)
		if err != nil {
			return nil, fmt.Errorf("encoding dependencies: %w", err)
		}
		var unsatisfied int
		err = tx.QueryRowContext(ctx,
			`SELECT count(*) FROM tasks
			 WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
			   AND status NOT IN ('done', 'invalid')`,
			string(depsJSON)).Scan(&unsatisfied)
		if err != nil {
			return nil, fmt.Errorf("checking dependencies for task %s: %w", id, err)
		}
		if unsatisfied > 0 {
			return nil, &ClaimRejectedError{TaskID: id, Reason: ClaimRejectedDepsUnsatisfied}
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET assignee = $2, updated_at = now() WHERE id = $1`,
		id, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim task %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	t.Assignee = workerID
	return t, nil
}

// AppendActionLog appends an activity entry to the task's action log.
func (s *PostgresStore) AppendActionLog(ctx context.Context, taskID string, entry ActionLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding action log entry: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET action_log = action_log || $2::jsonb, updated_at = now()
		 WHERE id = $1`,
		taskID, string(entryJSON))
	if err != nil {
		return fmt.Errorf("appending action log for task %s: %w", taskID, err)
	}
	return requireRow(res, taskID)
}

// CreateTask inserts a task. Used by seeding and tests; agents create tasks
// through the task-manager tool surface.
func (s *PostgresStore) CreateTask(ctx context.Context, t *Task) error {
	depsJSON, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("encoding dependencies: %w", err)
	}
	logJSON, err := json.Marshal(t.ActionLog)
	if err != nil {
		return fmt.Errorf("encoding action log: %w", err)
	}
	if t.Dependencies == nil {
		depsJSON = []byte("[]")
	}
	if t.ActionLog == nil {
		logJSON = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, priority, type, status, dependencies, branch, assignee, action_log)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10::jsonb)`,
		t.ID, t.Title, t.Description, string(t.Priority), string(t.Type),
		string(t.Status), string(depsJSON), t.Branch, t.Assignee, string(logJSON))
	if err != nil {
		return fmt.Errorf("creating task %s: %w", t.ID, err)
	}
	return nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var (
		t        Task
		priority string
		typ      string
		status   string
		depsJSON []byte
		logJSON  []byte
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &priority, &typ, &status,
		&depsJSON, &t.Branch, &t.Assignee, &logJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Priority = Priority(priority)
	t.Type = Type(typ)
	t.Status = NormalizeStatus(status)
	if len(depsJSON) > 0 {
		if err := json.Unmarshal(depsJSON, &t.Dependencies); err != nil {
			return nil, fmt.Errorf("decoding dependencies for task %s: %w", t.ID, err)
		}
	}
	if len(logJSON) > 0 {
		if err := json.Unmarshal(logJSON, &t.ActionLog); err != nil {
			return nil, fmt.Errorf("decoding action log for task %s: %w", t.ID, err)
		}
	}
	return &t, nil
}
