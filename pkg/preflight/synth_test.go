package preflight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

func intp(n int) *int { return &n }

func passResult(stage, command string) *Result {
	res := &Result{
		Stage: stage,
		Pass:  true,
		Commands: []CommandResult{{
			Label:    stage,
			Command:  command,
			ExitCode: intp(0),
			OK:       true,
		}},
	}
	res.Aggregate = renderAggregate(res)
	return res
}

func failResult(stage, command string, exitCode int, stdout string) *Result {
	res := &Result{
		Stage: stage,
		Pass:  false,
		Commands: []CommandResult{{
			Label:         stage,
			Command:       command,
			ExitCode:      intp(exitCode),
			Stdout:        stdout,
			StdoutPreview: Truncate(stdout, previewLimit),
			ErrorMessage:  "exit status 1",
		}},
	}
	res.Aggregate = renderAggregate(res)
	return res
}

func TestSynthesizeLintPass(t *testing.T) {
	syn := Synthesize(workflow.TransitionRunLint, passResult("lint", "yarn run lint"))

	assert.True(t, syn.Execution.Success)
	assert.Equal(t, "lint passed", syn.Execution.Summary)
	assert.Empty(t, syn.Execution.Error)

	assert.Equal(t, contextstore.TestStatusPassed, syn.Patch[contextstore.KeyTestStatus])
	assert.Equal(t, "lint", syn.Patch[contextstore.KeyPreflightStage])
	assert.NotEmpty(t, syn.Patch[contextstore.KeyPreflightUpdatedAt])

	assert.Empty(t, syn.Report.FailedTests)
	assert.Equal(t, []string{"yarn run lint", "yarn run lint"}, syn.Report.ReproSteps)
	assert.Equal(t, "lint completed without errors", syn.Report.SuspectedRootCause)
	assert.NotEmpty(t, syn.Report.Notes)
}

func TestSynthesizeLintFail(t *testing.T) {
	syn := Synthesize(workflow.TransitionRunLint, failResult("lint", "yarn run lint", 1, "src/a.ts:3 unused var"))

	assert.False(t, syn.Execution.Success)
	assert.Equal(t, "lint failed", syn.Execution.Summary)
	assert.NotEmpty(t, syn.Execution.Error)

	assert.Equal(t, contextstore.TestStatusFailed, syn.Patch[contextstore.KeyTestStatus])
	require.Len(t, syn.Report.FailedTests, 1)
	assert.Equal(t, "lint: yarn run lint (exitCode=1)", syn.Report.FailedTests[0])
	assert.Equal(t, syn.Report.FailedTests[0], syn.Report.SuspectedRootCause)
}

func TestSynthesizeProcessErrorEntry(t *testing.T) {
	res := &Result{
		Stage: "unit-tests",
		Pass:  false,
		Commands: []CommandResult{{
			Label:        "unit-tests",
			Command:      "yarn run test",
			ErrorMessage: "command timed out after 10m0s",
		}},
	}
	res.Aggregate = renderAggregate(res)

	syn := Synthesize(workflow.TransitionRunUnitTests, res)
	require.Len(t, syn.Report.FailedTests, 1)
	assert.Equal(t, "unit-tests: yarn run test (command timed out after 10m0s)", syn.Report.FailedTests[0])
}

func TestSynthesizeE2EFailureParsesPlaywrightLines(t *testing.T) {
	stdout := strings.Join([]string{
		"Running 12 tests using 2 workers",
		"  1) [chromium] › checkout.spec.ts:10:3 › completes purchase",
		"FAILED checkout.spec.ts",
		"  [firefox] › cart.spec.ts:5:1 › adds item",
		"    some stack frame",
	}, "\n")
	syn := Synthesize(workflow.TransitionRunE2ETests, failResult("e2e-tests", "npx playwright test", 1, stdout))

	assert.Equal(t, "FAILED", syn.Patch[contextstore.KeyE2EResultStatus])
	assert.Equal(t, "FAILED", syn.Patch[contextstore.KeyE2EResultStatusAlias])

	results, ok := syn.Patch[contextstore.KeyE2EResults].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "FAILED", results["status"])
	assert.Equal(t, results, syn.Patch[contextstore.KeyE2EResultsAlias])

	// Command entry plus the three matching playwright lines.
	assert.Len(t, syn.Report.FailedTests, 4)
	assert.Contains(t, syn.Report.FailedTests, "1) [chromium] › checkout.spec.ts:10:3 › completes purchase")
	assert.Contains(t, syn.Report.FailedTests, "FAILED checkout.spec.ts")
	assert.Contains(t, syn.Report.FailedTests, "[firefox] › cart.spec.ts:5:1 › adds item")
}

func TestSynthesizeE2EPassPublishesUppercaseStatus(t *testing.T) {
	syn := Synthesize(workflow.TransitionRunE2ETests, passResult("e2e-tests", "npx playwright test"))
	assert.Equal(t, "PASSED", syn.Patch[contextstore.KeyE2EResultStatus])
	assert.Equal(t, "PASSED", syn.Patch[contextstore.KeyE2EResultStatusAlias])
}

func TestSynthesizeFailedTestsCapped(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, strings.Repeat(" ", 2)+"1) [chromium] › spec.ts › case "+strings.Repeat("x", i))
	}
	syn := Synthesize(workflow.TransitionRunE2ETests,
		failResult("e2e-tests", "npx playwright test", 1, strings.Join(lines, "\n")))
	assert.LessOrEqual(t, len(syn.Report.FailedTests), maxFailedTests)
}

func TestSynthesizeCoverageSubReport(t *testing.T) {
	syn := Synthesize(workflow.TransitionEnsureCoverage, passResult("coverage", "yarn run test -- --coverage"))

	report, ok := syn.Patch[contextstore.KeyTestReport].(map[string]any)
	require.True(t, ok)
	cov, ok := report["coverageReport"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, cov["pass"])
}

func TestSynthesizePassPatchIdempotent(t *testing.T) {
	res := passResult("lint", "yarn run lint")
	first := Synthesize(workflow.TransitionRunLint, res)
	second := Synthesize(workflow.TransitionRunLint, res)

	assert.Equal(t, first.Patch[contextstore.KeyTestStatus], second.Patch[contextstore.KeyTestStatus])
	assert.Equal(t, first.Report, second.Report)
}
