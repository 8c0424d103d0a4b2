package acp

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/isomorphiq/orchestrator/pkg/prompt"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

const maxCorrectionNames = 60

var (
	missingMCPClaim = regexp.MustCompile(
		`(?i)\bmcp\b[^.\n]{0,80}\b(missing|unavailable|not\s+available|no\s+such|cannot\s+find|don'?t\s+have\s+access)\b`)
	resourceDiscovery = regexp.MustCompile(
		`(list_mcp_resources|read_mcp_resource|_templates\b)`)
)

// transitionRequiresMCP reports whether the transition must produce at
// least one task-manager call. Review transitions and pick-up-next-task
// are read-only and exempt.
func transitionRequiresMCP(t workflow.Transition) bool {
	switch t {
	case workflow.TransitionReviewTaskValidity,
		workflow.TransitionReviewStoryCoverage,
		workflow.TransitionPickUpNextTask:
		return false
	}
	return true
}

// taskManagerTools filters the advertised exact tool names down to those
// implementing a required base operation for the transition.
func taskManagerTools(transition workflow.Transition, advertised []string) []string {
	required := prompt.RequiredBaseTools(transition)
	var out []string
	for _, name := range advertised {
		for _, base := range required {
			if strings.Contains(name, base) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// claimsMissingMCP reports whether the agent's output asserts MCP tools
// are missing or unavailable.
func claimsMissingMCP(output string) bool {
	return missingMCPClaim.MatchString(output)
}

// calledRequiredOperation reports whether any observed tool-call title
// contains a required base operation.
func calledRequiredOperation(transition workflow.Transition, titles []string) bool {
	for _, base := range prompt.RequiredBaseTools(transition) {
		for _, title := range titles {
			if strings.Contains(title, base) {
				return true
			}
		}
	}
	return false
}

// onlyResourceDiscovery reports whether every MCP call observed was a
// resource-discovery call.
func onlyResourceDiscovery(titles, servers []string) bool {
	sawMCP := false
	for _, title := range titles {
		if !IsMCPTitle(title, servers) {
			continue
		}
		sawMCP = true
		if !resourceDiscovery.MatchString(title) {
			return false
		}
	}
	return sawMCP
}

func capNames(names []string) []string {
	if len(names) > maxCorrectionNames {
		return names[:maxCorrectionNames]
	}
	return names
}

func falseMissingCorrection(tools []string) string {
	return strings.Join([]string{
		"Correction: the MCP task-manager tools are available in this session.",
		"Exact tool names you can call right now:",
		"- " + strings.Join(capNames(tools), "\n- "),
		"Proceed with the transition using these exact names. Do not claim they are missing.",
	}, "\n")
}

func missingCallCorrection(transition workflow.Transition, tools []string) string {
	return strings.Join([]string{
		fmt.Sprintf("Correction: the %s transition requires task-manager operations (%s) and none were called.",
			transition, strings.Join(prompt.RequiredBaseTools(transition), ", ")),
		"Call them now using these exact names:",
		"- " + strings.Join(capNames(tools), "\n- "),
	}, "\n")
}

func resourceDiscoveryCorrection(transition workflow.Transition, tools []string) string {
	return strings.Join([]string{
		"Correction: only resource-discovery calls were made. Resource discovery does not satisfy this transition.",
		fmt.Sprintf("You must call the task-manager operations for %s directly:", transition),
		"- " + strings.Join(capNames(tools), "\n- "),
	}, "\n")
}

func finalEnforcementError(transition workflow.Transition, titles []string) string {
	observed := "none"
	if len(titles) > 0 {
		observed = strings.Join(titles, ", ")
	}
	return fmt.Sprintf(
		"agent never invoked a required task-manager operation for %s (required: %s; observed tool calls: %s)",
		transition, strings.Join(prompt.RequiredBaseTools(transition), ", "), observed)
}
