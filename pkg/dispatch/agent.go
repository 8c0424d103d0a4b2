package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/isomorphiq/orchestrator/pkg/acp"
	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/preflight"
	"github.com/isomorphiq/orchestrator/pkg/prompt"
	"github.com/isomorphiq/orchestrator/pkg/task"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

const investigationReportLimit = 20 * 1024

// agentTransition runs the full agent dispatch shape: branch setup,
// optional investigation phase, prompt composition, one agent session,
// and post-call context persistence.
func (d *Dispatcher) agentTransition(ctx context.Context, req Request) (*Outcome, error) {
	if req.Task != nil {
		branchName, err := d.cfg.Branches.EnsureTaskBranchCheckedOut(ctx, req.Transition, req.Task)
		if err != nil {
			return nil, err
		}
		if branchName != "" && req.Task.Branch == "" {
			req.Task.Branch = branchName
			if err := d.cfg.Tasks.UpdateTask(ctx, req.Task.ID, task.UpdateFields{Branch: &branchName}, req.WorkerID); err != nil {
				d.logger.Warn("recording task branch failed", "task_id", req.Task.ID, "error", err)
			}
		}
	}

	if req.Transition == workflow.TransitionE2ETestsFailed {
		if err := d.runInvestigationPhase(ctx, req); err != nil {
			return nil, err
		}
	}

	execCtx, err := d.cfg.Contexts.Load(ctx, req.ContextID)
	if err != nil {
		return nil, fmt.Errorf("loading context: %w", err)
	}

	profileName := d.cfg.Graph.ProfileFor(req.State, req.Transition)
	if req.Transition == workflow.TransitionE2ETestsFailed {
		// The investigation phase already ran under the specialist; the
		// remediation turn runs as the senior developer.
		profileName = workflow.ProfileSeniorDeveloper
	}
	completion, err := d.runAgentSession(ctx, req, profileName, execCtx)
	if err != nil {
		return nil, err
	}

	if err := d.persistAfterAgent(ctx, req, completion); err != nil {
		return nil, err
	}

	if taskID := req.taskID(); taskID != "" {
		d.appendLog(ctx, taskID, req, summaryOf(completion), completion.Success)
	}
	d.notifyLifecycle(ctx, req, completion)

	return &Outcome{
		Advance: completion.Success,
		Success: completion.Success,
		Summary: summaryOf(completion),
	}, nil
}

// runAgentSession resolves the effective profile, composes the prompt,
// and drives one session, recording profile runtime state around it.
func (d *Dispatcher) runAgentSession(ctx context.Context, req Request, profileName string, execCtx map[string]any) (*acp.Completion, error) {
	effective, err := d.cfg.Profiles.Effective(ctx, profileName)
	if err != nil {
		return nil, err
	}

	spec, _ := d.cfg.Graph.TransitionSpecFor(req.Transition)
	in := prompt.Inputs{
		State:      req.State,
		Transition: req.Transition,
		IsDecider:  req.IsDecider,
		Profile:    effective,
		Task:       req.Task,
		ExecCtx:    execCtx,
		MCPServers: d.cfg.MCPTools,
	}
	if spec.NeedsTaskSnapshot {
		in.PrefetchedTasks = req.Tasks
	}
	promptText := d.cfg.Prompts.Build(in)

	d.cfg.Profiles.BeginRun(profileName)
	start := time.Now()
	completion, err := d.cfg.Agents.RunSession(ctx, acp.SessionSpec{
		Transition:    req.Transition,
		Prompt:        promptText,
		Profile:       effective,
		WorkspaceRoot: d.cfg.WorkspaceRoot,
		MCPServers:    d.cfg.MCPConfigs,
		AllowEdits:    allowsEdits(req.Transition),
	})
	success := err == nil && completion != nil && completion.Success
	d.cfg.Profiles.EndRun(profileName, string(req.Transition), time.Since(start), success)
	if err != nil {
		return nil, fmt.Errorf("agent session for %s: %w", req.Transition, err)
	}

	d.logger.Info("agent session finished",
		"transition", req.Transition, "profile", profileName,
		"success", completion.Success, "stop_reason", completion.StopReason,
		"mcp_calls", completion.MCPToolCalls, "worker_id", req.WorkerID)
	return completion, nil
}

// persistAfterAgent writes the post-call context keys and, when no
// procedural outcome set them this turn, the inferred test outcome.
func (d *Dispatcher) persistAfterAgent(ctx context.Context, req Request, completion *acp.Completion) error {
	patch := map[string]any{}
	d.addTrackingKeys(patch, req, false)

	if status, report, ok := d.inferredOutcome(req, completion); ok {
		patch[contextstore.KeyTestStatus] = status
		patch[contextstore.KeyTestReport] = report
	}

	// A successful remediation turn clears the recorded failure so the
	// decider re-runs the same QA stage instead of redirecting again.
	if workflow.IsQAFailed(req.Transition) && completion.Success {
		patch[contextstore.KeyTestStatus] = nil
		patch[contextstore.KeyPreflightStage] = nil
	}

	if len(patch) == 0 {
		return nil
	}
	if _, err := d.cfg.Contexts.Patch(ctx, req.ContextID, patch); err != nil {
		return fmt.Errorf("persisting agent outcome: %w", err)
	}
	return nil
}

func (d *Dispatcher) inferredOutcome(req Request, completion *acp.Completion) (string, map[string]any, bool) {
	if workflow.IsQAFailed(req.Transition) {
		return "", nil, false
	}
	text := completion.Output
	if completion.Error != "" {
		text += "\n" + completion.Error
	}
	return InferTestOutcome(text)
}

func (d *Dispatcher) notifyLifecycle(ctx context.Context, req Request, completion *acp.Completion) {
	if d.cfg.Notify == nil || req.Task == nil {
		return
	}
	switch {
	case req.Transition == workflow.TransitionBeginImplementation && completion.Success:
		d.cfg.Notify.TaskStarted(ctx, req.Task, string(req.Transition))
	case !completion.Success:
		d.cfg.Notify.TaskFailed(ctx, req.Task, completion.Error)
	}
}

// runInvestigationPhase runs the e2e failure investigation specialist and
// guarantees an investigation report exists in context afterwards.
func (d *Dispatcher) runInvestigationPhase(ctx context.Context, req Request) error {
	execCtx, err := d.cfg.Contexts.Load(ctx, req.ContextID)
	if err != nil {
		return fmt.Errorf("loading context for investigation: %w", err)
	}

	completion, err := d.runAgentSession(ctx, req, workflow.ProfileE2EInvestigator, execCtx)
	if err != nil {
		return err
	}

	fresh, err := d.cfg.Contexts.Load(ctx, req.ContextID)
	if err != nil {
		return fmt.Errorf("reloading context after investigation: %w", err)
	}
	report := investigationReport(fresh)
	if report == "" {
		report = fallbackInvestigationReport(fresh, completion)
	}

	if _, err := d.cfg.Contexts.Patch(ctx, req.ContextID, map[string]any{
		contextstore.KeyE2EInvestigation:      report,
		contextstore.KeyE2EInvestigationAlias: report,
		contextstore.KeyInvestigationPrefetch: report,
	}); err != nil {
		return fmt.Errorf("persisting investigation report: %w", err)
	}
	return nil
}

func investigationReport(execCtx map[string]any) string {
	if s, _ := execCtx[contextstore.KeyE2EInvestigation].(string); strings.TrimSpace(s) != "" {
		return s
	}
	if s, _ := execCtx[contextstore.KeyE2EInvestigationAlias].(string); strings.TrimSpace(s) != "" {
		return s
	}
	return ""
}

// fallbackInvestigationReport builds a deterministic report when the
// specialist did not write one.
func fallbackInvestigationReport(execCtx map[string]any, completion *acp.Completion) string {
	var b strings.Builder
	b.WriteString("E2E failure investigation (synthesized)\n")

	if status, _ := execCtx[contextstore.KeyE2EResultStatus].(string); status != "" {
		fmt.Fprintf(&b, "Status: %s\n", status)
	}
	if results, ok := execCtx[contextstore.KeyE2EResults].(map[string]any); ok {
		writeStringList(&b, "Failed tests", results["failedTests"])
		writeStringList(&b, "Repro steps", results["reproSteps"])
		if cause, _ := results["suspectedRootCause"].(string); cause != "" {
			fmt.Fprintf(&b, "Suspected root cause: %s\n", cause)
		}
	}
	if completion != nil {
		if completion.Error != "" {
			fmt.Fprintf(&b, "Investigator error: %s\n", completion.Error)
		}
		if completion.Output != "" {
			fmt.Fprintf(&b, "Investigator output:\n%s\n", completion.Output)
		}
	}
	return preflight.Truncate(b.String(), investigationReportLimit)
}

func writeStringList(b *strings.Builder, label string, v any) {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "- %v\n", item)
	}
}

func allowsEdits(t workflow.Transition) bool {
	return t == workflow.TransitionBeginImplementation || workflow.IsQAFailed(t)
}

func summaryOf(c *acp.Completion) string {
	if c.Error != "" {
		return c.Error
	}
	if idx := strings.LastIndex(c.Output, "Summary:"); idx >= 0 {
		line := c.Output[idx+len("Summary:"):]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	if c.Success {
		return "agent turn completed"
	}
	return "agent turn failed"
}
