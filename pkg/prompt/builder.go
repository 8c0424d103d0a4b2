package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/profile"
	"github.com/isomorphiq/orchestrator/pkg/task"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

// referenceFiles maps profile names to the on-disk reference prompt files
// appended for them, in order.
var referenceFiles = map[string][]string{
	profile.SeniorDeveloper: {"implementation-development.md"},
	profile.QAEngineer:      {"testing-quality.md"},
	profile.E2EInvestigator: {"testing-quality.md"},
	profile.ProductManager:  {"product-refinement.md"},
}

// codingProfiles get the code-style project rules.
var codingProfiles = map[string]bool{
	profile.SeniorDeveloper: true,
	profile.QAEngineer:      true,
	profile.E2EInvestigator: true,
}

// Inputs is everything one prompt composition depends on. Identical
// inputs render byte-identical prompts.
type Inputs struct {
	State      workflow.State
	Transition workflow.Transition
	IsDecider  bool
	Profile    *profile.Profile
	Task       *task.Task
	ExecCtx    map[string]any

	// MCPServers maps declared server names to their tool base names.
	MCPServers map[string][]string

	// PrefetchedTasks is the list_tasks snapshot taken before the turn.
	PrefetchedTasks []*task.Task
}

// Builder composes agent prompts.
type Builder struct {
	graph      *workflow.Graph
	promptsDir string
}

// NewBuilder creates a builder reading reference prompts from promptsDir.
func NewBuilder(graph *workflow.Graph, promptsDir string) *Builder {
	return &Builder{graph: graph, promptsDir: promptsDir}
}

// Build renders the prompt for the transition.
func (b *Builder) Build(in Inputs) string {
	var sections []string
	add := func(s string) {
		if s != "" {
			sections = append(sections, s)
		}
	}

	add(in.Profile.SystemPrompt)
	add(b.sopSection(in))
	add(b.toolingSection(in))
	add(b.hintSection(in))
	add(taskSection(in.Task))
	add(testReportSection(in.ExecCtx))
	add(failurePacketSection(in))
	add(investigationSection(in))
	add(preflightSection(in.ExecCtx))
	add(prefetchedSection(in.PrefetchedTasks))
	add(b.referenceSection(in.Profile.Name))
	add(projectRulesSection(in.Profile.Name))
	add(guardrailsSection())
	add(summarySection(in.Transition))
	add(taskPromptSection(in))

	return strings.Join(sections, "\n\n")
}

func (b *Builder) sopSection(in Inputs) string {
	role := "transition-executor"
	if in.IsDecider {
		role = "decider"
	}
	return strings.Join([]string{
		"## Standard operating procedure",
		fmt.Sprintf("Workflow state: %s", in.State),
		fmt.Sprintf("Transition to execute: %s", in.Transition),
		fmt.Sprintf("Your role: %s", role),
		"Execute this transition only; do not start other workflow steps.",
		"Prefer the prefetched context below over re-querying it.",
		"Minimize tool calls; batch reads where possible.",
		"Use exact tool names as exposed by the runtime.",
	}, "\n")
}

func (b *Builder) toolingSection(in Inputs) string {
	required := RequiredBaseTools(in.Transition)
	requiredSet := make(map[string]bool, len(required))
	for _, tool := range required {
		requiredSet[tool] = true
	}

	var lines []string
	lines = append(lines, "## MCP tooling")
	lines = append(lines, "Required base tools for this transition: "+strings.Join(required, ", ")+".")

	servers := make([]string, 0, len(in.MCPServers))
	for name := range in.MCPServers {
		servers = append(servers, name)
	}
	sort.Strings(servers)
	for _, server := range servers {
		tools := append([]string(nil), in.MCPServers[server]...)
		sort.Strings(tools)
		underscored := strings.ReplaceAll(server, "-", "_")
		for _, tool := range tools {
			if !requiredSet[tool] {
				continue
			}
			line := fmt.Sprintf("- %s: likely exact name functions.mcp__%s__%s", tool, server, tool)
			if underscored != server {
				line += fmt.Sprintf(" (or functions.mcp__%s__%s)", underscored, tool)
			}
			lines = append(lines, line)
		}
	}

	lines = append(lines,
		"The tool list exposed over the session is authoritative; map each base name to the exact exposed name.",
		"Never invent tool-name variants and never claim a tool is missing while its exact name is visible in the list.",
		"Do not substitute resource-discovery calls (codex/list_mcp_resources, */read_mcp_resource) for task-manager operations.")
	return strings.Join(lines, "\n")
}

func (b *Builder) hintSection(in Inputs) string {
	spec, ok := b.graph.StateSpecFor(in.State)
	if !ok || spec.PromptHint == "" || spec.DefaultProfile != in.Profile.Name {
		return ""
	}
	return "## Workflow hint\n" + spec.PromptHint
}

func taskSection(t *task.Task) string {
	if t == nil {
		return ""
	}
	lines := []string{
		"## Selected task",
		fmt.Sprintf("ID: %s", t.ID),
		fmt.Sprintf("Title: %s", t.Title),
		fmt.Sprintf("Type: %s", t.NormalizedType()),
		fmt.Sprintf("Status: %s", t.Status),
		fmt.Sprintf("Priority: %s", t.Priority),
	}
	if t.Description != "" {
		lines = append(lines, "Description: "+t.Description)
	}
	if len(t.Dependencies) > 0 {
		lines = append(lines, "Dependencies: "+strings.Join(t.Dependencies, ", "))
	}
	if t.Branch != "" {
		lines = append(lines, "Branch: "+t.Branch)
	}
	return strings.Join(lines, "\n")
}

func testReportSection(execCtx map[string]any) string {
	report, ok := execCtx[contextstore.KeyTestReport]
	if !ok || report == nil {
		return ""
	}
	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return ""
	}
	return "## Test report\n" + string(encoded)
}

func failurePacketSection(in Inputs) string {
	if !workflow.IsQAFailed(in.Transition) {
		return ""
	}
	lines := []string{
		"## Failure packet",
		fmt.Sprintf("A quality gate failed and this turn remediates it (%s).", in.Transition),
	}
	if report, ok := in.ExecCtx[contextstore.KeyTestReport].(map[string]any); ok {
		if cause, _ := report["suspectedRootCause"].(string); cause != "" {
			lines = append(lines, "Suspected root cause: "+cause)
		}
		if failed, ok := report["failedTests"].([]any); ok && len(failed) > 0 {
			lines = append(lines, "Failed checks:")
			for _, f := range failed {
				lines = append(lines, fmt.Sprintf("- %v", f))
			}
		}
	}
	lines = append(lines, "Address the root cause; do not paper over the failing check.")
	return strings.Join(lines, "\n")
}

// investigationSection prepends the investigation report to the e2e
// remediation turn so the senior developer starts from the specialist's
// findings instead of re-investigating.
func investigationSection(in Inputs) string {
	if in.Transition != workflow.TransitionE2ETestsFailed {
		return ""
	}
	report, _ := in.ExecCtx[contextstore.KeyInvestigationPrefetch].(string)
	if strings.TrimSpace(report) == "" {
		report, _ = in.ExecCtx[contextstore.KeyE2EInvestigation].(string)
	}
	if strings.TrimSpace(report) == "" {
		return ""
	}
	return strings.Join([]string{
		"## Investigation report",
		"A failure investigation already ran for this e2e failure. Start from its findings:",
		report,
	}, "\n")
}

func preflightSection(execCtx map[string]any) string {
	results, ok := execCtx[contextstore.KeyPreflightResults]
	if !ok || results == nil {
		return ""
	}
	encoded, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return ""
	}
	return "## Mechanical preflight results\n" + string(encoded)
}

func prefetchedSection(tasks []*task.Task) string {
	if len(tasks) == 0 {
		return ""
	}
	lines := []string{"## Prefetched list_tasks"}
	for _, t := range tasks {
		lines = append(lines, fmt.Sprintf("- %s [%s/%s/%s] %s",
			t.ID, t.NormalizedType(), t.Status, t.Priority, t.Title))
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) referenceSection(profileName string) string {
	files := referenceFiles[profileName]
	if len(files) == 0 || b.promptsDir == "" {
		return ""
	}
	var blocks []string
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(b.promptsDir, name))
		if err != nil {
			continue
		}
		blocks = append(blocks, strings.TrimSpace(string(content)))
	}
	if len(blocks) == 0 {
		return ""
	}
	return "## Reference guidance\n" + strings.Join(blocks, "\n\n")
}

func projectRulesSection(profileName string) string {
	lines := []string{
		"## Project rules",
		"Follow the repository's existing conventions.",
		"Never restart the orchestrator daemon directly.",
	}
	if codingProfiles[profileName] {
		lines = append(lines,
			"Code style: 4-space indentation, double-quoted strings, functional style, ESM imports with explicit file extensions.")
	}
	return strings.Join(lines, "\n")
}

func guardrailsSection() string {
	return strings.Join([]string{
		"## Resolution guardrails",
		"If the task is already implemented, say so and propose a follow-up instead of redoing it.",
		"If a file read is denied by permissions, say so and proceed with what you have.",
		"If the sandbox blocks a command, say so and emit the exact commands for a human to run.",
	}, "\n")
}

func summarySection(t workflow.Transition) string {
	if summaryExempt(t) {
		return ""
	}
	return "End your response with a line starting with \"Summary:\" describing what you did."
}

func taskPromptSection(in Inputs) string {
	if in.Profile.TaskPrompt == nil {
		return ""
	}
	merged := make(map[string]any, len(in.ExecCtx)+2)
	for k, v := range in.ExecCtx {
		merged[k] = v
	}
	if in.Task != nil {
		merged[contextstore.KeyCurrentTaskID] = in.Task.ID
		merged[contextstore.KeyCurrentTask] = map[string]any{
			"id":    in.Task.ID,
			"title": in.Task.Title,
		}
	}
	return in.Profile.TaskPrompt(merged)
}
