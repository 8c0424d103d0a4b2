// Package preflight runs the deterministic shell checks behind QA run
// transitions and synthesizes their procedural outcomes.
package preflight

import (
	"time"

	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

// Stage is one QA check: a shell command with a hard timeout.
type Stage struct {
	Label   string
	Command string
	Timeout time.Duration
}

var stages = map[workflow.Transition]Stage{
	workflow.TransitionRunLint:        {Label: "lint", Command: "yarn run lint", Timeout: 5 * time.Minute},
	workflow.TransitionRunTypecheck:   {Label: "typecheck", Command: "yarn run typecheck", Timeout: 5 * time.Minute},
	workflow.TransitionRunUnitTests:   {Label: "unit-tests", Command: "yarn run test", Timeout: 10 * time.Minute},
	workflow.TransitionRunE2ETests:    {Label: "e2e-tests", Command: "npx playwright test", Timeout: 15 * time.Minute},
	workflow.TransitionEnsureCoverage: {Label: "coverage", Command: "yarn run test -- --coverage", Timeout: 15 * time.Minute},
}

// StageFor returns the stage configuration for a QA run transition.
func StageFor(t workflow.Transition) (Stage, bool) {
	s, ok := stages[t]
	return s, ok
}
