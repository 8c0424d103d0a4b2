package preflight

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

const maxFailedTests = 24

// Report is the structured QA report written to the workflow context
// under testReport.
type Report struct {
	FailedTests        []string `json:"failedTests"`
	ReproSteps         []string `json:"reproSteps"`
	SuspectedRootCause string   `json:"suspectedRootCause"`
	Notes              string   `json:"notes"`
}

// ExecutionResult is the synthetic agent-shaped outcome of a procedural
// QA transition. No LLM is involved.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
	Summary string `json:"summary"`
}

// Synthesis bundles everything a procedural QA transition produces.
type Synthesis struct {
	Execution ExecutionResult
	Report    Report
	Patch     map[string]any
}

var (
	playwrightNumbered = regexp.MustCompile(`^\s*\d+\)\s+`)
	playwrightFail     = regexp.MustCompile(`(?i)^fail(ed)?\b`)
	playwrightArrow    = regexp.MustCompile(`^\s*\[[^\]]+\].*›`)
)

// Synthesize turns a preflight result into a synthetic execution result,
// a QA report, and the context patch to apply.
func Synthesize(transition workflow.Transition, res *Result) *Synthesis {
	stage, _ := StageFor(transition)
	if stage.Label == "" {
		stage.Label = res.Stage
	}

	report := buildReport(transition, stage, res)

	status := contextstore.TestStatusPassed
	if !res.Pass {
		status = contextstore.TestStatusFailed
	}

	exec := ExecutionResult{
		Success: res.Pass,
		Output:  res.Aggregate,
		Summary: fmt.Sprintf("%s %s", stage.Label, passWord(res.Pass)),
	}
	if !res.Pass {
		exec.Error = report.Notes
	}

	patch := map[string]any{
		contextstore.KeyTestStatus:         status,
		contextstore.KeyTestReport:         reportMap(report),
		contextstore.KeyPreflightResults:   res,
		contextstore.KeyPreflightLegacy:    res.Aggregate,
		contextstore.KeyPreflightStage:     stage.Label,
		contextstore.KeyPreflightUpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if transition == workflow.TransitionRunE2ETests {
		e2eStatus := "PASSED"
		if !res.Pass {
			e2eStatus = "FAILED"
		}
		e2eResults := map[string]any{
			"status":             e2eStatus,
			"failedTests":        report.FailedTests,
			"reproSteps":         report.ReproSteps,
			"suspectedRootCause": report.SuspectedRootCause,
			"notes":              report.Notes,
			"commandResults":     res.Commands,
		}
		patch[contextstore.KeyE2EResultStatus] = e2eStatus
		patch[contextstore.KeyE2EResultStatusAlias] = e2eStatus
		patch[contextstore.KeyE2EResults] = e2eResults
		patch[contextstore.KeyE2EResultsAlias] = e2eResults
	}

	if transition == workflow.TransitionEnsureCoverage {
		rep := reportMap(report)
		rep["coverageReport"] = map[string]any{
			"pass":           res.Pass,
			"commandResults": res.Commands,
		}
		patch[contextstore.KeyTestReport] = rep
	}

	return &Synthesis{Execution: exec, Report: report, Patch: patch}
}

func buildReport(transition workflow.Transition, stage Stage, res *Result) Report {
	var failed []string
	for _, c := range res.Commands {
		if c.OK {
			continue
		}
		entry := fmt.Sprintf("%s: %s", c.Label, c.Command)
		if c.ExitCode != nil {
			entry += fmt.Sprintf(" (exitCode=%d)", *c.ExitCode)
		} else if c.ErrorMessage != "" {
			entry += " (" + c.ErrorMessage + ")"
		}
		failed = append(failed, entry)
	}
	if !res.Pass && len(res.Commands) == 0 {
		failed = append(failed, fmt.Sprintf("%s: %s", stage.Label, res.Aggregate))
	}
	if transition == workflow.TransitionRunE2ETests {
		failed = unionLimited(failed, playwrightFailureLines(res), maxFailedTests)
	}
	if len(failed) > maxFailedTests {
		failed = failed[:maxFailedTests]
	}

	// The stage command leads; per-command entries follow, deduplicated
	// among themselves.
	repro := []string{stage.Command}
	seen := map[string]bool{}
	for _, c := range res.Commands {
		if seen[c.Command] {
			continue
		}
		seen[c.Command] = true
		repro = append(repro, c.Command)
	}

	rootCause := fmt.Sprintf("%s completed without errors", stage.Label)
	if len(failed) > 0 {
		rootCause = failed[0]
	}

	return Report{
		FailedTests:        nonNil(failed),
		ReproSteps:         repro,
		SuspectedRootCause: rootCause,
		Notes:              Truncate(res.Aggregate, previewLimit),
	}
}

func playwrightFailureLines(res *Result) []string {
	var lines []string
	for _, c := range res.Commands {
		for _, line := range strings.Split(c.Stdout+"\n"+c.Stderr, "\n") {
			trimmed := strings.TrimRight(line, "\r")
			if trimmed == "" {
				continue
			}
			if playwrightNumbered.MatchString(trimmed) ||
				playwrightFail.MatchString(strings.TrimSpace(trimmed)) ||
				playwrightArrow.MatchString(trimmed) {
				lines = append(lines, strings.TrimSpace(trimmed))
			}
		}
	}
	return lines
}

func unionLimited(base, extra []string, limit int) []string {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[s] = true
	}
	for _, s := range extra {
		if len(base) >= limit {
			break
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		base = append(base, s)
	}
	return base
}

func reportMap(r Report) map[string]any {
	return map[string]any{
		"failedTests":        r.FailedTests,
		"reproSteps":         r.ReproSteps,
		"suspectedRootCause": r.SuspectedRootCause,
		"notes":              r.Notes,
	}
}

func passWord(pass bool) string {
	if pass {
		return "passed"
	}
	return "failed"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
