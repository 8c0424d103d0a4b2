package workflow

import (
	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/task"
)

// Decider chooses the next transition for the current state. isDecider is
// true when a guard redirected the choice between sibling transitions.
type Decider func(state State, tasks []*task.Task, execCtx map[string]any) (transition Transition, isDecider bool, ok bool)

// QAStageFor maps a QA run transition to its stage label.
func QAStageFor(run Transition) (string, bool) {
	switch run {
	case TransitionRunLint:
		return "lint", true
	case TransitionRunTypecheck:
		return "typecheck", true
	case TransitionRunUnitTests:
		return "unit-tests", true
	case TransitionRunE2ETests:
		return "e2e-tests", true
	case TransitionEnsureCoverage:
		return "coverage", true
	}
	return "", false
}

// DefaultDecider returns the graph's default decider: the state's decider
// transition, redirected to the *-failed sibling when the context records
// a failed preflight for that state's QA stage.
func DefaultDecider(g *Graph) Decider {
	return func(state State, _ []*task.Task, execCtx map[string]any) (Transition, bool, bool) {
		decider, ok := g.DeciderFor(state)
		if !ok {
			return "", false, false
		}

		if IsQARun(decider) {
			stage, _ := QAStageFor(decider)
			status, _ := execCtx[contextstore.KeyTestStatus].(string)
			recordedStage, _ := execCtx[contextstore.KeyPreflightStage].(string)
			if status == contextstore.TestStatusFailed && recordedStage == stage {
				if failed, ok := FailedTransitionFor(decider); ok && g.TransitionAllowed(state, failed) {
					return failed, true, true
				}
			}
		}

		return decider, false, true
	}
}
