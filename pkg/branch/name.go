// Package branch owns every VCS interaction: task branch naming, branch
// checkout around implementation and QA transitions, and the return to
// main when a task completes.
package branch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/isomorphiq/orchestrator/pkg/task"
)

const (
	branchPrefix    = "implementation/"
	maxBranchLength = 120
)

var (
	nonAlnum    = regexp.MustCompile(`[^a-z0-9]+`)
	validBranch = regexp.MustCompile(`^[a-z0-9]+(?:[._/-][a-z0-9]+)*$`)
)

// NameForTask derives the task's branch name:
// implementation/{id}-{title} with both segments sanitized, the id
// stripped of its task- prefix, and the whole capped at 120 characters.
func NameForTask(t *task.Task) (string, error) {
	id := sanitizeSegment(strings.TrimPrefix(strings.ToLower(t.ID), "task-"))
	title := sanitizeSegment(t.Title)
	if id == "" {
		return "", fmt.Errorf("task %q yields an empty branch id segment", t.ID)
	}

	name := branchPrefix + id
	if title != "" {
		name += "-" + title
	}
	if len(name) > maxBranchLength {
		name = strings.TrimRight(name[:maxBranchLength], "-")
	}
	if !validBranch.MatchString(name) {
		return "", fmt.Errorf("derived branch name %q is not valid", name)
	}
	return name, nil
}

func sanitizeSegment(s string) string {
	s = nonAlnum.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}
