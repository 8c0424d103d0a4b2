// Package dispatch executes one chosen (state, transition, task) tuple:
// control transitions directly, QA run transitions through the preflight
// synthesizer, and everything else through an agent session.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/isomorphiq/orchestrator/pkg/acp"
	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/preflight"
	"github.com/isomorphiq/orchestrator/pkg/profile"
	"github.com/isomorphiq/orchestrator/pkg/prompt"
	"github.com/isomorphiq/orchestrator/pkg/task"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

// AgentRunner runs one agent session to completion.
type AgentRunner interface {
	RunSession(ctx context.Context, spec acp.SessionSpec) (*acp.Completion, error)
}

// BranchManager is the VCS surface the dispatcher needs.
type BranchManager interface {
	EnsureTaskBranchCheckedOut(ctx context.Context, t workflow.Transition, tk *task.Task) (string, error)
	CheckoutMainBranch(ctx context.Context, reason string) error
}

// PreflightRunner executes a QA stage.
type PreflightRunner interface {
	Run(ctx context.Context, t workflow.Transition) *preflight.Result
}

// Notifier receives task lifecycle events. Implementations must tolerate
// being nil-configured upstream; the dispatcher checks for nil itself.
type Notifier interface {
	TaskStarted(ctx context.Context, t *task.Task, transition string)
	TaskCompleted(ctx context.Context, t *task.Task)
	TaskFailed(ctx context.Context, t *task.Task, reason string)
}

// Request is one dispatch invocation.
type Request struct {
	ContextID  string
	State      workflow.State
	Transition workflow.Transition
	IsDecider  bool
	Task       *task.Task
	Tasks      []*task.Task
	ExecCtx    map[string]any
	WorkerID   string
}

// Outcome reports what the dispatch did. Advance is false when the state
// must not move (QA preflight failure, skipped control transition).
type Outcome struct {
	Advance bool
	Success bool
	Summary string
}

// Config wires a Dispatcher.
type Config struct {
	Graph      *workflow.Graph
	Tasks      task.Store
	Contexts   contextstore.Store
	Profiles   *profile.Registry
	Preflight  PreflightRunner
	Prompts    *prompt.Builder
	Agents     AgentRunner
	Branches   BranchManager
	Notify     Notifier
	MCPTools   map[string][]string
	MCPConfigs []acp.MCPServerConfig

	// WorkspaceRoot is the checkout agents and preflight commands run in.
	WorkspaceRoot string

	Logger *slog.Logger
}

// Dispatcher routes transitions to their dispatch shape.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg, logger: logger.With("component", "dispatcher")}
}

// Dispatch executes the transition.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	switch {
	case req.Transition == workflow.TransitionTestsPassing:
		return d.testsPassing(ctx, req)
	case req.Transition == workflow.TransitionPickUpNextTask:
		return d.pickUpNextTask(req)
	case workflow.IsQARun(req.Transition):
		return d.proceduralQA(ctx, req)
	default:
		return d.agentTransition(ctx, req)
	}
}

// testsPassing closes out the current task: back to main, task marked
// done, QA context keys cleared.
func (d *Dispatcher) testsPassing(ctx context.Context, req Request) (*Outcome, error) {
	if err := d.cfg.Branches.CheckoutMainBranch(ctx, "tests-passing"); err != nil {
		return nil, err
	}

	taskID := req.taskID()
	if taskID != "" {
		if err := d.cfg.Tasks.UpdateTaskStatus(ctx, taskID, task.StatusDone, req.WorkerID); err != nil {
			return nil, fmt.Errorf("marking task %s done: %w", taskID, err)
		}
		d.appendLog(ctx, taskID, req, "all quality gates passed, task done", true)
		if d.cfg.Notify != nil && req.Task != nil {
			d.cfg.Notify.TaskCompleted(ctx, req.Task)
		}
	}

	clear := make(map[string]any, len(contextstore.QAClearKeys()))
	for _, key := range contextstore.QAClearKeys() {
		clear[key] = nil
	}
	if _, err := d.cfg.Contexts.Patch(ctx, req.ContextID, clear); err != nil {
		return nil, fmt.Errorf("clearing qa context: %w", err)
	}

	d.logger.Info("tests passing, task closed", "task_id", taskID, "worker_id", req.WorkerID)
	return &Outcome{Advance: true, Success: true, Summary: "tests passing, task closed"}, nil
}

// pickUpNextTask only advances when there is something to pick up.
func (d *Dispatcher) pickUpNextTask(req Request) (*Outcome, error) {
	if !workflow.HasRunnableImplementationTask(req.Tasks) {
		d.logger.Info("no runnable implementation task, skipping tick", "worker_id", req.WorkerID)
		return &Outcome{Advance: false, Success: true, Summary: "no runnable task to pick up"}, nil
	}
	return &Outcome{Advance: true, Success: true, Summary: "picking up next task"}, nil
}

// proceduralQA runs the preflight stage and applies the synthesized
// outcome. No agent is involved. The state advances only on a pass.
func (d *Dispatcher) proceduralQA(ctx context.Context, req Request) (*Outcome, error) {
	if req.Task != nil {
		if _, err := d.cfg.Branches.EnsureTaskBranchCheckedOut(ctx, req.Transition, req.Task); err != nil {
			return nil, err
		}
	}

	res := d.cfg.Preflight.Run(ctx, req.Transition)
	syn := preflight.Synthesize(req.Transition, res)

	patch := syn.Patch
	d.addTrackingKeys(patch, req, true)
	if _, err := d.cfg.Contexts.Patch(ctx, req.ContextID, patch); err != nil {
		return nil, fmt.Errorf("applying qa patch: %w", err)
	}

	if taskID := req.taskID(); taskID != "" {
		d.appendLog(ctx, taskID, req, syn.Execution.Summary, syn.Execution.Success)
	}

	d.logger.Info("procedural qa finished",
		"transition", req.Transition, "pass", res.Pass, "worker_id", req.WorkerID)
	return &Outcome{
		Advance: res.Pass,
		Success: true,
		Summary: syn.Execution.Summary,
	}, nil
}

// addTrackingKeys persists the task-tracking keys after a dispatch. QA
// run transitions also record lastTestResult; begin-implementation and
// non-QA-tracked transitions clear it.
func (d *Dispatcher) addTrackingKeys(patch map[string]any, req Request, preflightPass bool) {
	if workflow.IsQATracked(req.Transition) && req.Task != nil {
		patch[contextstore.KeyCurrentTaskID] = req.Task.ID
		patch[contextstore.KeyCurrentTask] = taskSnapshot(req.Task)
		if req.Task.Branch != "" {
			patch[contextstore.KeyCurrentTaskBranch] = req.Task.Branch
		}
	}
	switch {
	case workflow.IsQARun(req.Transition):
		patch[contextstore.KeyLastTestResult] = map[string]any{
			"transition": string(req.Transition),
			"pass":       preflightPass,
			"at":         time.Now().UTC().Format(time.RFC3339),
		}
	case req.Transition == workflow.TransitionBeginImplementation,
		!workflow.IsQATracked(req.Transition):
		patch[contextstore.KeyLastTestResult] = nil
	}
}

func (d *Dispatcher) appendLog(ctx context.Context, taskID string, req Request, summary string, success bool) {
	entry := task.ActionLogEntry{
		Timestamp: time.Now().UTC(),
		Actor:     req.WorkerID,
		Action:    string(req.Transition),
		Summary:   summary,
		Success:   &success,
	}
	if err := d.cfg.Tasks.AppendActionLog(ctx, taskID, entry); err != nil {
		d.logger.Warn("appending action log failed", "task_id", taskID, "error", err)
	}
}

func (r Request) taskID() string {
	if r.Task != nil {
		return r.Task.ID
	}
	if id, _ := r.ExecCtx[contextstore.KeyCurrentTaskID].(string); id != "" {
		return id
	}
	return ""
}

func taskSnapshot(t *task.Task) map[string]any {
	return map[string]any{
		"id":       t.ID,
		"title":    t.Title,
		"type":     string(t.NormalizedType()),
		"status":   string(t.Status),
		"priority": string(t.Priority),
	}
}
