package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation used by tests and by
// single-process deployments without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Seed inserts tasks directly, replacing existing ids.
func (s *MemoryStore) Seed(tasks ...*Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		if _, exists := s.tasks[t.ID]; !exists {
			s.order = append(s.order, t.ID)
		}
		cp := *t
		s.tasks[t.ID] = &cp
	}
}

// ListTasks returns copies of all tasks in insertion order.
func (s *MemoryStore) ListTasks(_ context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.tasks[id]
		out = append(out, &cp)
	}
	return out, nil
}

// GetTask returns a copy of the task with the given id.
func (s *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	cp := *t
	return &cp, nil
}

// UpdateTaskStatus sets the status and records the change in the action log.
func (s *MemoryStore) UpdateTaskStatus(_ context.Context, id string, status Status, changedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	t.ActionLog = append(t.ActionLog, ActionLogEntry{
		Timestamp: t.UpdatedAt,
		Actor:     changedBy,
		Action:    "status-change",
		Summary:   fmt.Sprintf("status set to %s", status),
	})
	return nil
}

// UpdateTask applies a partial update.
func (s *MemoryStore) UpdateTask(_ context.Context, id string, fields UpdateFields, changedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	if fields.Title != nil {
		t.Title = *fields.Title
	}
	if fields.Description != nil {
		t.Description = *fields.Description
	}
	if fields.Priority != nil {
		t.Priority = *fields.Priority
	}
	if fields.Branch != nil {
		t.Branch = *fields.Branch
	}
	if fields.Assignee != nil {
		t.Assignee = *fields.Assignee
	}
	if fields.Dependencies != nil {
		t.Dependencies = append([]string(nil), fields.Dependencies...)
	}
	t.UpdatedAt = time.Now().UTC()
	t.ActionLog = append(t.ActionLog, ActionLogEntry{
		Timestamp: t.UpdatedAt,
		Actor:     changedBy,
		Action:    "update",
	})
	return nil
}

// ClaimTask atomically claims a task for a worker.
func (s *MemoryStore) ClaimTask(_ context.Context, id, workerID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &ClaimRejectedError{TaskID: id, Reason: ClaimRejectedStale}
	}
	if t.Assignee != "" && t.Assignee != workerID {
		return nil, &ClaimRejectedError{TaskID: id, Reason: ClaimRejectedAlreadyClaimed}
	}
	if t.Status != StatusTodo && t.Status != StatusInProgress {
		return nil, &ClaimRejectedError{TaskID: id, Reason: ClaimRejectedNonClaimableStatus}
	}
	if !t.DependenciesSatisfied(s.tasks) {
		return nil, &ClaimRejectedError{TaskID: id, Reason: ClaimRejectedDepsUnsatisfied}
	}
	t.Assignee = workerID
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

// AppendActionLog appends an activity entry to the task's action log.
func (s *MemoryStore) AppendActionLog(_ context.Context, taskID string, entry ActionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	t.ActionLog = append(t.ActionLog, entry)
	return nil
}
