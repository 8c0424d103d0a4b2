// Package contextstore provides the workflow context adapter: a durable
// JSON map keyed by context id, carrying per-workflow-run state shared
// between workers and agents.
package contextstore

// Well-known context keys owned by the workflow core. Agents may read all
// of them and may write testStatus/testReport; they must not overwrite
// KeyCurrentTaskID or KeyLastTestResult.
const (
	KeyCurrentTaskID     = "currentTaskId"
	KeyCurrentTask       = "currentTask"
	KeyCurrentTaskBranch = "currentTaskBranch"
	KeyLastTestResult    = "lastTestResult"
	KeyTestStatus        = "testStatus"
	KeyTestReport        = "testReport"
	KeyAutoRecovered     = "autoRecovered"

	KeyE2EResultStatus       = "e2eTestResultStatus"
	KeyE2EResultStatusAlias  = "e2e-test-result-status"
	KeyE2EResults            = "e2eTestResults"
	KeyE2EResultsAlias       = "e2e-test-results"
	KeyE2EInvestigation      = "e2eTestFailureInvestigationReport"
	KeyE2EInvestigationAlias = "e2e-test-failure-investigation-report"

	// KeyInvestigationPrefetch carries the e2e investigation report into
	// the remediation session's prompt.
	KeyInvestigationPrefetch = "prefetchedE2eFailureInvestigationReport"

	KeyPreflightResults   = "mechanicalQaPreflightResults"
	KeyPreflightLegacy    = "mechanicalTestLintResults"
	KeyPreflightStage     = "mechanicalQaPreflightStage"
	KeyPreflightUpdatedAt = "mechanicalQaPreflightUpdatedAt"
)

// TestStatusPassed and TestStatusFailed are the only non-null values of
// the testStatus key.
const (
	TestStatusPassed = "passed"
	TestStatusFailed = "failed"
)

// QAClearKeys lists every key cleared when a task finishes its QA cycle
// (the tests-passing transition).
func QAClearKeys() []string {
	return []string{
		KeyCurrentTaskID,
		KeyCurrentTask,
		KeyCurrentTaskBranch,
		KeyLastTestResult,
		KeyTestStatus,
		KeyTestReport,
		KeyE2EResultStatus,
		KeyE2EResultStatusAlias,
		KeyE2EResults,
		KeyE2EResultsAlias,
		KeyE2EInvestigation,
		KeyE2EInvestigationAlias,
		KeyInvestigationPrefetch,
		KeyPreflightResults,
		KeyPreflightLegacy,
		KeyPreflightStage,
		KeyPreflightUpdatedAt,
	}
}
