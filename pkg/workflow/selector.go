package workflow

import (
	"sort"
	"strings"

	"github.com/isomorphiq/orchestrator/pkg/task"
)

// SelectionOptions controls task selection for a tick.
type SelectionOptions struct {
	// TargetType restricts candidates to one task type. Empty means any.
	TargetType TargetType

	// PreferredTaskID is the task currently being worked, carried in the
	// workflow context.
	PreferredTaskID string

	// PreferPreferred forces the preferred task when it is still active,
	// regardless of type. Set for QA-tracked transitions.
	PreferPreferred bool

	// RestrictInProgressToPreferred excludes in-progress tasks other than
	// the preferred one. Set in claim mode so workers do not steal work.
	RestrictInProgressToPreferred bool

	// ExcludedIDs are tasks skipped this tick (failed claims).
	ExcludedIDs map[string]bool
}

// SelectTaskForState chooses the task to work on for the current state.
// Returns nil when no task matches.
func SelectTaskForState(tasks []*task.Task, opts SelectionOptions) *task.Task {
	byID := task.ByID(tasks)
	active := activeTasks(tasks, opts)

	if opts.TargetType == "" {
		if len(active) == 0 {
			return nil
		}
		return active[0]
	}

	if preferred, ok := byID[opts.PreferredTaskID]; ok && preferred.Active() && !opts.ExcludedIDs[preferred.ID] {
		if opts.PreferPreferred {
			return preferred
		}
		if typeMatches(preferred, opts.TargetType) &&
			(preferred.Status == task.StatusInProgress || preferred.DependenciesSatisfied(byID)) {
			return preferred
		}
	}

	candidates := filterCandidates(active, byID, opts.TargetType)

	// Testing work can fall back to implementation tasks when nothing
	// testing-typed is actionable.
	if len(candidates) == 0 && opts.TargetType == TargetTesting {
		candidates = filterCandidates(active, byID, TargetImplementation)
	}

	if len(candidates) == 0 {
		return nil
	}
	sortByPriority(candidates)
	return candidates[0]
}

// SelectInvalidTaskForClosure returns implementation-typed todo tasks whose
// description is empty or a placeholder, ordered by priority then title.
// These are candidates for close-invalid-task.
func SelectInvalidTaskForClosure(tasks []*task.Task) *task.Task {
	var candidates []*task.Task
	for _, t := range tasks {
		if t.NormalizedType() != task.TypeImplementation || t.Status != task.StatusTodo {
			continue
		}
		if textIncomplete(t.Description) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sortByPriority(candidates)
	return candidates[0]
}

// DeriveStateFromTasks is the auto-recovery heuristic for a fresh context:
// infer the workflow state from the shape of the task list. Returns the
// derived state and, for task-in-progress, the id of the active task.
func DeriveStateFromTasks(tasks []*task.Task) (State, string) {
	byID := task.ByID(tasks)

	for _, t := range tasks {
		if t.NormalizedType() == task.TypeImplementation && t.Status == task.StatusInProgress {
			return StateTaskInProgress, t.ID
		}
	}
	for _, t := range tasks {
		if t.NormalizedType() == task.TypeImplementation && t.Status == task.StatusTodo &&
			t.DependenciesSatisfied(byID) {
			return StateTasksPrepared, ""
		}
	}

	// Map the most specific type present to its prioritized state.
	present := make(map[task.Type]bool)
	for _, t := range tasks {
		if t.Active() {
			present[t.NormalizedType()] = true
		}
	}
	switch {
	case present[task.TypeStory]:
		return StateStoriesPrioritized, ""
	case present[task.TypeFeature]:
		return StateFeaturesPrioritized, ""
	case present[task.TypeInitiative]:
		return StateInitiativesPrioritized, ""
	default:
		return StateThemesPrioritized, ""
	}
}

// HasRunnableImplementationTask reports whether any task is runnable
// (implementation-typed, active, dependencies satisfied).
func HasRunnableImplementationTask(tasks []*task.Task) bool {
	byID := task.ByID(tasks)
	for _, t := range tasks {
		if t.Runnable(byID) {
			return true
		}
	}
	return false
}

func activeTasks(tasks []*task.Task, opts SelectionOptions) []*task.Task {
	var active []*task.Task
	for _, t := range tasks {
		if opts.ExcludedIDs[t.ID] {
			continue
		}
		if t.Status == task.StatusInvalid {
			continue
		}
		// Done themes stay visible: refinement transitions read them as
		// parents of the work they spawned.
		if t.Status == task.StatusDone && t.NormalizedType() != task.TypeTheme {
			continue
		}
		if opts.RestrictInProgressToPreferred &&
			t.Status == task.StatusInProgress && t.ID != opts.PreferredTaskID {
			continue
		}
		active = append(active, t)
	}
	return active
}

func filterCandidates(active []*task.Task, byID map[string]*task.Task, target TargetType) []*task.Task {
	var out []*task.Task
	for _, t := range active {
		if !typeMatches(t, target) {
			continue
		}
		if !t.DependenciesSatisfied(byID) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func typeMatches(t *task.Task, target TargetType) bool {
	return t.NormalizedType() == task.NormalizeType(string(target))
}

func sortByPriority(tasks []*task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		ri, rj := tasks[i].Priority.Rank(), tasks[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return tasks[i].Title < tasks[j].Title
	})
}

func textIncomplete(description string) bool {
	d := strings.ToLower(strings.TrimSpace(description))
	switch d {
	case "", "tbd", "todo", "placeholder", "n/a", "-", "...":
		return true
	}
	return false
}
