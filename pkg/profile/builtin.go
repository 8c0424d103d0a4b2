package profile

import (
	"fmt"
	"strings"
	"sync"

	"github.com/isomorphiq/orchestrator/pkg/contextstore"
)

// Builtin profile names.
const (
	PrioritizationLead = "prioritization-lead"
	ProductManager     = "product-manager"
	SeniorDeveloper    = "senior-developer"
	UXResearcher       = "ux-researcher"
	QAEngineer         = "qa-engineer"
	E2EInvestigator    = "qa-e2e-failure-investigation-specialist"
)

var (
	builtinOnce     sync.Once
	builtinProfiles map[string]*Profile
)

// Builtins returns the builtin profile table. The table is built once and
// shared; callers must not mutate the returned profiles.
func Builtins() map[string]*Profile {
	builtinOnce.Do(func() {
		builtinProfiles = buildBuiltins()
	})
	return builtinProfiles
}

func buildBuiltins() map[string]*Profile {
	profiles := []*Profile{
		{
			Name:          PrioritizationLead,
			Role:          "Prioritization lead ranking product work by strategic value",
			Capabilities:  []string{"prioritize", "rank", "triage"},
			MaxConcurrent: 2,
			Priority:      10,
			Runtime:       RuntimeCodex,
			Model:         "gpt-5-codex",
			SystemPrompt: "You are the prioritization lead. You rank existing work items " +
				"by business value and urgency. You never create or implement work; " +
				"you only reorder it and record the reasoning in task priorities.",
			MCPServers: []string{"taskyaml"},
			TaskPrompt: prioritizationPrompt,
		},
		{
			Name:          ProductManager,
			Role:          "Product manager refining themes into shippable work",
			Capabilities:  []string{"refine", "write-stories", "review-coverage"},
			MaxConcurrent: 2,
			Priority:      20,
			Runtime:       RuntimeCodex,
			Model:         "gpt-5-codex",
			SystemPrompt: "You are a pragmatic product manager. You break strategic themes " +
				"into initiatives, features and user stories with crisp acceptance " +
				"criteria. Every item you create must be independently valuable.",
			MCPServers: []string{"taskyaml"},
			TaskPrompt: refinementPrompt,
		},
		{
			Name:          SeniorDeveloper,
			Role:          "Senior developer implementing and fixing tasks",
			Capabilities:  []string{"implement", "fix", "refactor", "test"},
			MaxConcurrent: 4,
			Priority:      30,
			Runtime:       RuntimeCodex,
			Model:         "gpt-5-codex",
			SystemPrompt: "You are a senior developer. You implement exactly one task at a " +
				"time on its dedicated branch, keep changes minimal and tested, and " +
				"never touch unrelated code. Commit with clear messages.",
			MCPServers: []string{"taskyaml", "vcs"},
			Sandbox:    map[string]string{"network": "restricted"},
			TaskPrompt: implementationPrompt,
		},
		{
			Name:          UXResearcher,
			Role:          "UX researcher validating feature direction",
			Capabilities:  []string{"research", "interview-synthesis"},
			MaxConcurrent: 1,
			Priority:      40,
			Runtime:       RuntimeOpencode,
			Model:         "gpt-5",
			SystemPrompt: "You are a UX researcher. You evaluate proposed features against " +
				"user needs and record findings as task descriptions. You do not " +
				"change priorities or write code.",
			MCPServers: []string{"taskyaml"},
			TaskPrompt: researchPrompt,
		},
		{
			Name:          QAEngineer,
			Role:          "QA engineer verifying quality gates",
			Capabilities:  []string{"lint", "typecheck", "unit-tests", "e2e-tests", "coverage"},
			MaxConcurrent: 2,
			Priority:      25,
			Runtime:       RuntimeCodex,
			Model:         "gpt-5-codex",
			SystemPrompt: "You are a QA engineer. You interpret mechanical check results, " +
				"decide whether the current task meets its quality gates, and report " +
				"a clear pass or fail with evidence.",
			MCPServers: []string{"taskyaml", "vcs"},
			TaskPrompt: qaPrompt,
		},
		{
			Name:          E2EInvestigator,
			Role:          "E2E failure investigation specialist",
			Capabilities:  []string{"investigate", "reproduce", "root-cause"},
			MaxConcurrent: 1,
			Priority:      15,
			Runtime:       RuntimeCodex,
			Model:         "gpt-5-codex",
			SystemPrompt: "You are an end-to-end test failure investigator. You never fix " +
				"code. You reproduce the failure, isolate the root cause, and write " +
				"an investigation report: failed tests, repro steps, suspected root " +
				"cause, and the files involved.",
			MCPServers: []string{"taskyaml", "vcs"},
			TaskPrompt: investigationPrompt,
		},
	}

	table := make(map[string]*Profile, len(profiles))
	for _, p := range profiles {
		table[p.Name] = p
	}
	return table
}

// testReportLines flattens the synthesized testReport map into prompt
// lines. The report arrives as a map from the QA synthesizer, with slice
// values decoded as []any after a redis round trip.
func testReportLines(execCtx map[string]any) []string {
	report, ok := execCtx[contextstore.KeyTestReport].(map[string]any)
	if !ok {
		return nil
	}
	var lines []string
	if cause, _ := report["suspectedRootCause"].(string); cause != "" {
		lines = append(lines, "Suspected root cause: "+cause)
	}
	if failed := stringItems(report["failedTests"]); len(failed) > 0 {
		lines = append(lines, "Failed checks: "+strings.Join(failed, "; "))
	}
	return lines
}

func stringItems(v any) []string {
	var out []string
	switch items := v.(type) {
	case []string:
		out = append(out, items...)
	case []any:
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func currentTaskLine(execCtx map[string]any) string {
	id, _ := execCtx[contextstore.KeyCurrentTaskID].(string)
	if id == "" {
		return "No task is currently selected."
	}
	if snapshot, ok := execCtx[contextstore.KeyCurrentTask].(map[string]any); ok {
		title, _ := snapshot["title"].(string)
		if title != "" {
			return fmt.Sprintf("Current task: %s (%s).", id, title)
		}
	}
	return fmt.Sprintf("Current task: %s.", id)
}

func prioritizationPrompt(execCtx map[string]any) string {
	return strings.Join([]string{
		"Review every active work item and assign each a priority of high, medium or low.",
		currentTaskLine(execCtx),
		"Update priorities through the task tools; do not create, close or implement anything.",
	}, "\n")
}

func refinementPrompt(execCtx map[string]any) string {
	return strings.Join([]string{
		"Refine the highest-priority item into the next level of detail.",
		currentTaskLine(execCtx),
		"Create child items with descriptions and dependencies, then mark the parent done.",
	}, "\n")
}

func implementationPrompt(execCtx map[string]any) string {
	lines := []string{
		"Implement the current task completely on its dedicated branch.",
		currentTaskLine(execCtx),
	}
	if branch, _ := execCtx[contextstore.KeyCurrentTaskBranch].(string); branch != "" {
		lines = append(lines, fmt.Sprintf("Work on branch %s; it is already checked out.", branch))
	}
	if failure := testReportLines(execCtx); len(failure) > 0 {
		lines = append(lines, "A previous quality check failed. Fix the causes below before anything else:")
		lines = append(lines, failure...)
	}
	lines = append(lines, "When done, update the task status through the task tools and commit your changes.")
	return strings.Join(lines, "\n")
}

func researchPrompt(execCtx map[string]any) string {
	return strings.Join([]string{
		"Research the proposed features and record findings that confirm or challenge their value.",
		currentTaskLine(execCtx),
		"Write findings into the relevant task descriptions; do not change priorities.",
	}, "\n")
}

func qaPrompt(execCtx map[string]any) string {
	lines := []string{
		"Evaluate the mechanical check results for the current task and report pass or fail.",
		currentTaskLine(execCtx),
	}
	if failure := testReportLines(execCtx); len(failure) > 0 {
		lines = append(lines, "Latest check report:")
		lines = append(lines, failure...)
	}
	return strings.Join(lines, "\n")
}

func investigationPrompt(execCtx map[string]any) string {
	lines := []string{
		"Investigate the end-to-end test failure. Do not fix any code.",
		currentTaskLine(execCtx),
		"Produce a report with sections: Test status, Failed tests, Repro steps, Suspected root cause.",
	}
	if failure := testReportLines(execCtx); len(failure) > 0 {
		lines = append(lines, "Failure evidence:")
		lines = append(lines, failure...)
	}
	return strings.Join(lines, "\n")
}
