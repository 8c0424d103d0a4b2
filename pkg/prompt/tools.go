// Package prompt composes the agent prompt for a transition: a fixed
// ordered sequence of sections rendered deterministically from the
// profile, the workflow position, and the execution context.
package prompt

import (
	"strings"

	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

// fullToolSet is every task-manager base tool an agent may need.
var fullToolSet = []string{
	"list_tasks",
	"get_task",
	"create_task",
	"update_task",
	"update_task_status",
	"update_task_priority",
	"get_file_context",
	"update_context",
}

// RequiredBaseTools returns the task-manager base tools the transition
// needs, in stable order.
func RequiredBaseTools(t workflow.Transition) []string {
	switch {
	case strings.HasPrefix(string(t), "prioritize-"):
		return []string{"list_tasks", "update_task_priority"}
	case t == workflow.TransitionResearch,
		t == workflow.TransitionDoUXResearch,
		t == workflow.TransitionNeedMoreTasks,
		strings.HasPrefix(string(t), "refine-"):
		return []string{"list_tasks", "get_task", "create_task", "update_task"}
	case t == workflow.TransitionBeginImplementation, workflow.IsQAFailed(t):
		return []string{"update_task_status", "get_file_context", "update_context"}
	case workflow.IsQARun(t):
		return []string{"update_context", "update_task_status", "get_file_context"}
	case t == workflow.TransitionCloseInvalidTask:
		return []string{"update_task_status"}
	case t == workflow.TransitionReviewTaskValidity,
		t == workflow.TransitionReviewStoryCoverage,
		t == workflow.TransitionPickUpNextTask:
		return []string{"list_tasks", "get_task"}
	}
	return append([]string(nil), fullToolSet...)
}

// summaryExempt lists the transitions whose output needs no trailing
// Summary line.
func summaryExempt(t workflow.Transition) bool {
	return t == workflow.TransitionReviewTaskValidity ||
		t == workflow.TransitionCloseInvalidTask ||
		t == workflow.TransitionReviewStoryCoverage
}
