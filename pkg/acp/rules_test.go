package acp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

func TestClaimsMissingMCP(t *testing.T) {
	assert.True(t, claimsMissingMCP("The MCP tools are missing from this session."))
	assert.True(t, claimsMissingMCP("I don't see them; mcp task tools unavailable here"))
	assert.True(t, claimsMissingMCP("MCP server tools are not available"))
	assert.False(t, claimsMissingMCP("Updated the task via MCP successfully."))
	assert.False(t, claimsMissingMCP("All checks passed."))
}

func TestTransitionRequiresMCP(t *testing.T) {
	assert.False(t, transitionRequiresMCP(workflow.TransitionReviewTaskValidity))
	assert.False(t, transitionRequiresMCP(workflow.TransitionReviewStoryCoverage))
	assert.False(t, transitionRequiresMCP(workflow.TransitionPickUpNextTask))
	assert.True(t, transitionRequiresMCP(workflow.TransitionBeginImplementation))
	assert.True(t, transitionRequiresMCP(workflow.TransitionRunLint))
	assert.True(t, transitionRequiresMCP(workflow.TransitionCloseInvalidTask))
}

func TestTaskManagerTools(t *testing.T) {
	advertised := []string{
		"mcp__task-yaml__update_task_status",
		"mcp__task-yaml__list_tasks",
		"mcp__vcs__commit",
	}
	tools := taskManagerTools(workflow.TransitionCloseInvalidTask, advertised)
	assert.Equal(t, []string{"mcp__task-yaml__update_task_status"}, tools)
}

func TestCalledRequiredOperation(t *testing.T) {
	titles := []string{"mcp__task-yaml__update_task_status", "read file"}
	assert.True(t, calledRequiredOperation(workflow.TransitionCloseInvalidTask, titles))
	assert.False(t, calledRequiredOperation(workflow.TransitionCloseInvalidTask, []string{"read file"}))
}

func TestOnlyResourceDiscovery(t *testing.T) {
	servers := []string{"task-yaml"}
	assert.True(t, onlyResourceDiscovery([]string{
		"mcp__codex__list_mcp_resources",
		"mcp__codex__read_mcp_resource",
	}, servers))
	assert.True(t, onlyResourceDiscovery([]string{
		"mcp__task-yaml__list_tasks_templates",
		"shell command",
	}, servers))
	assert.False(t, onlyResourceDiscovery([]string{
		"mcp__codex__list_mcp_resources",
		"mcp__task-yaml__update_task_status",
	}, servers))
	// Bare-spelled task-manager calls count as MCP too, so a discovery
	// call alongside one is not discovery-only.
	assert.False(t, onlyResourceDiscovery([]string{
		"mcp__codex__list_mcp_resources",
		"task_yaml_update_task_status",
	}, servers))
	assert.False(t, onlyResourceDiscovery([]string{"shell command"}, servers))
	assert.False(t, onlyResourceDiscovery(nil, servers))
}

func TestIsMCPTitle(t *testing.T) {
	servers := []string{"task-yaml"}
	assert.True(t, IsMCPTitle("mcp__task-yaml__list_tasks", servers))
	assert.True(t, IsMCPTitle("functions.mcp__task_yaml__list_tasks", servers))
	assert.True(t, IsMCPTitle("mcp/task-yaml/list_tasks", servers))
	assert.True(t, IsMCPTitle("task-yaml_list_tasks", servers))
	assert.True(t, IsMCPTitle("task_yaml_list_tasks", servers))
	assert.False(t, IsMCPTitle("shell command", servers))
	assert.False(t, IsMCPTitle("task_yaml_list_tasks", nil))
}

func TestCorrectionPromptsCapNames(t *testing.T) {
	var tools []string
	for i := 0; i < 100; i++ {
		tools = append(tools, "mcp__task-yaml__tool_"+strings.Repeat("x", i%5))
	}
	out := falseMissingCorrection(tools)
	assert.Equal(t, maxCorrectionNames, strings.Count(out, "mcp__task-yaml__tool_"))
}

func TestFinalEnforcementError(t *testing.T) {
	msg := finalEnforcementError(workflow.TransitionBeginImplementation, []string{"read file"})
	assert.Contains(t, msg, "begin-implementation")
	assert.Contains(t, msg, "update_task_status")
	assert.Contains(t, msg, "read file")

	msg = finalEnforcementError(workflow.TransitionRunLint, nil)
	assert.Contains(t, msg, "observed tool calls: none")
}
