// Package task defines the task data model and the task database contract
// consumed by the workflow core.
package task

import (
	"strings"
	"time"
)

// Status is the lifecycle status of a task.
type Status string

// Task status constants.
const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusInvalid    Status = "invalid"
)

// NormalizeStatus maps reserved aliases onto canonical statuses.
// Unknown values pass through unchanged so callers can surface them.
func NormalizeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "todo", "open", "pending":
		return StatusTodo
	case "in-progress", "in_progress", "doing":
		return StatusInProgress
	case "done", "completed", "closed":
		return StatusDone
	case "invalid":
		return StatusInvalid
	default:
		return Status(s)
	}
}

// Priority orders tasks within a selection candidate set.
type Priority string

// Task priority constants.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns the sort weight of a priority. Higher sorts first.
// Unspecified or unknown priorities rank below "low".
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Type is the product-hierarchy level a task belongs to.
type Type string

// Task type constants.
const (
	TypeTheme          Type = "theme"
	TypeInitiative     Type = "initiative"
	TypeFeature        Type = "feature"
	TypeStory          Type = "story"
	TypeImplementation Type = "implementation"
	TypeTesting        Type = "testing"
)

// NormalizeType maps type aliases onto canonical types:
// "task" is an alias for implementation, "integration" for testing.
func NormalizeType(t string) Type {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "task", "implementation":
		return TypeImplementation
	case "integration", "testing":
		return TypeTesting
	default:
		return Type(strings.ToLower(strings.TrimSpace(t)))
	}
}

// ActionLogEntry is one append-only activity record on a task.
type ActionLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Summary   string    `json:"summary,omitempty"`
	Success   *bool     `json:"success,omitempty"`
}

// Task is a unit of work in the task database.
type Task struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	Priority     Priority         `json:"priority,omitempty"`
	Type         Type             `json:"type"`
	Status       Status           `json:"status"`
	Dependencies []string         `json:"dependencies,omitempty"`
	Branch       string           `json:"branch,omitempty"`
	Assignee     string           `json:"assignee,omitempty"`
	ActionLog    []ActionLogEntry `json:"actionLog,omitempty"`
	CreatedAt    time.Time        `json:"createdAt,omitempty"`
	UpdatedAt    time.Time        `json:"updatedAt,omitempty"`
}

// NormalizedType returns the canonical type of the task.
func (t *Task) NormalizedType() Type {
	return NormalizeType(string(t.Type))
}

// Active reports whether the task can still be worked on.
func (t *Task) Active() bool {
	return t.Status == StatusTodo || t.Status == StatusInProgress
}

// DependenciesSatisfied reports whether every dependency of the task is
// done or invalid. Dependencies that do not resolve in byID are treated
// as unsatisfied.
func (t *Task) DependenciesSatisfied(byID map[string]*Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := byID[depID]
		if !ok {
			return false
		}
		if dep.Status != StatusDone && dep.Status != StatusInvalid {
			return false
		}
	}
	return true
}

// Runnable reports whether the task is a runnable implementation task:
// implementation-typed (including the "task" alias), todo or in-progress,
// with all dependencies done or invalid.
func (t *Task) Runnable(byID map[string]*Task) bool {
	if t.NormalizedType() != TypeImplementation {
		return false
	}
	if !t.Active() {
		return false
	}
	return t.DependenciesSatisfied(byID)
}

// ByID builds an id → task index over the given list.
func ByID(tasks []*Task) map[string]*Task {
	index := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		index[t.ID] = t
	}
	return index
}
