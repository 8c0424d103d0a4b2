package task

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for task store operations.
var (
	// ErrTaskNotFound indicates the requested task id does not exist.
	ErrTaskNotFound = errors.New("task not found")
)

// ClaimRejectionReason classifies why a claim attempt was refused.
type ClaimRejectionReason string

// Claim rejection reasons.
const (
	ClaimRejectedAlreadyClaimed     ClaimRejectionReason = "already-claimed-by-other"
	ClaimRejectedNonClaimableStatus ClaimRejectionReason = "non-claimable-status"
	ClaimRejectedDepsUnsatisfied    ClaimRejectionReason = "deps-unsatisfied"
	ClaimRejectedStale              ClaimRejectionReason = "stale"
)

// ClaimRejectedError is returned when ClaimTask refuses a claim.
// Workers record the reason, exclude the task, and retry selection.
type ClaimRejectedError struct {
	TaskID string
	Reason ClaimRejectionReason
}

func (e *ClaimRejectedError) Error() string {
	return fmt.Sprintf("claim rejected for task %s: %s", e.TaskID, e.Reason)
}

// UpdateFields is a partial update applied by UpdateTask.
// Nil pointers leave the corresponding column untouched.
type UpdateFields struct {
	Title        *string
	Description  *string
	Priority     *Priority
	Branch       *string
	Assignee     *string
	Dependencies []string // nil = unchanged, empty slice = cleared
}

// Store is the task database contract consumed by the workflow core.
// The core only reads and patches tasks; creation is owned by agents
// through the task-manager tool surface.
type Store interface {
	// ListTasks returns all tasks.
	ListTasks(ctx context.Context) ([]*Task, error)

	// GetTask returns the task with the given id, or ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*Task, error)

	// UpdateTaskStatus sets the task status and records who changed it.
	UpdateTaskStatus(ctx context.Context, id string, status Status, changedBy string) error

	// UpdateTask applies a partial update (branch, dependencies, metadata).
	UpdateTask(ctx context.Context, id string, fields UpdateFields, changedBy string) error

	// ClaimTask atomically claims a task for a worker. The claim succeeds
	// only if the task is unassigned or already assigned to workerID, its
	// status is todo or in-progress, and its dependencies are satisfied.
	// On refusal it returns a *ClaimRejectedError.
	ClaimTask(ctx context.Context, id, workerID string) (*Task, error)

	// AppendActionLog appends an activity entry to the task's action log.
	AppendActionLog(ctx context.Context, taskID string, entry ActionLogEntry) error
}
