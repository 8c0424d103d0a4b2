// Package worker runs the polling loop: each worker resolves the
// workflow state, picks a transition and task, claims it, and hands the
// tuple to the dispatcher, advancing its state token on success.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/dispatch"
	"github.com/isomorphiq/orchestrator/pkg/task"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

const (
	defaultPollInterval = 10 * time.Second
	noTaskLogInterval   = 60 * time.Second
)

// Dispatcher is the dispatch surface the worker drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Outcome, error)
}

// Config wires a worker.
type Config struct {
	Graph        *workflow.Graph
	Tasks        task.Store
	Contexts     contextstore.Store
	Dispatcher   Dispatcher
	Decider      workflow.Decider
	PollInterval time.Duration

	// ContextToken selects the shared workflow context. Workers with the
	// same token share one context id.
	ContextToken string

	// ClaimMode makes workers claim tasks through the task store before
	// dispatching, so concurrent workers never share a task.
	ClaimMode bool

	InitialState workflow.State
	Logger       *slog.Logger
}

// Worker is one logical polling thread.
type Worker struct {
	id        string
	cfg       Config
	logger    *slog.Logger
	state     workflow.State
	contextID string

	recovered     bool
	lastNoTaskLog time.Time
}

// NewWorker creates a worker with a stable generated id.
func NewWorker(cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ContextToken == "" {
		cfg.ContextToken = "default"
	}
	if cfg.InitialState == "" {
		cfg.InitialState = workflow.StateThemesProposed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := fmt.Sprintf("worker-%d-%s", os.Getpid(),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return &Worker{
		id:     id,
		cfg:    cfg,
		logger: logger.With("worker_id", id),
		state:  cfg.InitialState,
	}
}

// ID returns the worker id passed to task claims.
func (w *Worker) ID() string { return w.id }

// State returns the worker's current state token.
func (w *Worker) State() workflow.State { return w.state }

// Run polls until the context is cancelled. Tick errors are logged and
// the loop continues.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "state", w.state, "claim_mode", w.cfg.ClaimMode)
	for {
		if err := w.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("tick failed", "state", w.state, "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", "state", w.state)
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// Tick runs one iteration of the loop.
func (w *Worker) Tick(ctx context.Context) error {
	tasks, err := w.cfg.Tasks.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	if w.contextID == "" {
		id, err := w.cfg.Contexts.EnsureContextID(ctx, w.cfg.ContextToken)
		if err != nil {
			return fmt.Errorf("ensuring context id: %w", err)
		}
		w.contextID = id
	}
	execCtx, err := w.cfg.Contexts.Load(ctx, w.contextID)
	if err != nil {
		return fmt.Errorf("loading context: %w", err)
	}

	if err := w.maybeAutoRecover(ctx, tasks, execCtx); err != nil {
		return err
	}

	transition, isDecider, ok := w.cfg.Decider(w.state, tasks, execCtx)
	if !ok {
		w.logger.Info("no transition available", "state", w.state, "tasks", len(tasks))
		return nil
	}

	nextState := w.state
	if ns, ok := w.cfg.Graph.NextState(w.state, transition); ok {
		nextState = ns
	}

	w.logger.Info("tick",
		"state", w.state, "transition", transition, "tasks", len(tasks))

	selected, transition, ok := w.resolveTask(ctx, tasks, transition, execCtx)
	if !ok {
		return nil
	}
	if ns, found := w.cfg.Graph.NextState(w.state, transition); found {
		nextState = ns
	}

	outcome, err := w.cfg.Dispatcher.Dispatch(ctx, dispatch.Request{
		ContextID:  w.contextID,
		State:      w.state,
		Transition: transition,
		IsDecider:  isDecider,
		Task:       selected,
		Tasks:      tasks,
		ExecCtx:    execCtx,
		WorkerID:   w.id,
	})
	if err != nil {
		return fmt.Errorf("dispatching %s: %w", transition, err)
	}

	if outcome.Advance {
		w.state = nextState
	}
	return nil
}

// maybeAutoRecover derives the state from the task list once per process
// when starting from a blank context in non-claim mode.
func (w *Worker) maybeAutoRecover(ctx context.Context, tasks []*task.Task, execCtx map[string]any) error {
	if w.cfg.ClaimMode || w.recovered {
		return nil
	}
	// Nothing to derive from yet; try again once tasks exist.
	if len(tasks) == 0 {
		return nil
	}
	w.recovered = true
	if w.state != workflow.StateThemesProposed && w.state != workflow.StateNewFeatureProposed {
		return nil
	}
	if done, _ := execCtx[contextstore.KeyAutoRecovered].(bool); done {
		return nil
	}

	derived, taskID := workflow.DeriveStateFromTasks(tasks)
	patch := map[string]any{contextstore.KeyAutoRecovered: true}
	if taskID != "" {
		if tk, ok := task.ByID(tasks)[taskID]; ok {
			patch[contextstore.KeyCurrentTaskID] = tk.ID
			patch[contextstore.KeyCurrentTask] = map[string]any{
				"id":    tk.ID,
				"title": tk.Title,
			}
			if tk.Branch != "" {
				patch[contextstore.KeyCurrentTaskBranch] = tk.Branch
			}
		}
	}
	if _, err := w.cfg.Contexts.Patch(ctx, w.contextID, patch); err != nil {
		return fmt.Errorf("recording auto-recovery: %w", err)
	}
	execCtx[contextstore.KeyAutoRecovered] = true

	if derived != w.state {
		w.logger.Info("auto-recovered state from tasks", "from", w.state, "to", derived, "task_id", taskID)
		w.state = derived
	}
	return nil
}

// resolveTask runs the selection ladder: primary selection, the
// need-more-tasks switch, the fallback chain, then claiming. Returns
// ok=false when the tick should end without dispatching.
func (w *Worker) resolveTask(ctx context.Context, tasks []*task.Task, transition workflow.Transition, execCtx map[string]any) (*task.Task, workflow.Transition, bool) {
	excluded := map[string]bool{}

	for {
		selected, finalTransition := w.selectWithFallbacks(tasks, transition, execCtx, excluded)

		if selected == nil {
			if w.cfg.Graph.CanRunWithoutTask(finalTransition) {
				return nil, finalTransition, true
			}
			w.noTaskHeartbeat(finalTransition)
			return nil, finalTransition, false
		}

		if !w.cfg.ClaimMode {
			return selected, finalTransition, true
		}
		claimed, err := w.cfg.Tasks.ClaimTask(ctx, selected.ID, w.id)
		if err == nil {
			return claimed, finalTransition, true
		}
		var rejected *task.ClaimRejectedError
		if errors.As(err, &rejected) {
			w.logger.Info("claim rejected",
				"task_id", selected.ID, "reason", rejected.Reason)
			excluded[selected.ID] = true
			continue
		}
		w.logger.Error("claim failed", "task_id", selected.ID, "error", err)
		return nil, finalTransition, false
	}
}

// selectWithFallbacks picks a task for the transition, applying the
// need-more-tasks switch and walking the fallback chain when nothing
// matches. Each fallback is tried at most once.
func (w *Worker) selectWithFallbacks(tasks []*task.Task, transition workflow.Transition, execCtx map[string]any, excluded map[string]bool) (*task.Task, workflow.Transition) {
	preferred, _ := execCtx[contextstore.KeyCurrentTaskID].(string)

	selectFor := func(tr workflow.Transition) *task.Task {
		return workflow.SelectTaskForState(tasks, workflow.SelectionOptions{
			TargetType:                    w.cfg.Graph.TargetTypeFor(w.state, tr),
			PreferredTaskID:               preferred,
			PreferPreferred:               workflow.IsQATracked(tr),
			RestrictInProgressToPreferred: w.cfg.ClaimMode,
			ExcludedIDs:                   excluded,
		})
	}

	selected := selectFor(transition)

	if selected == nil && transition == workflow.TransitionBeginImplementation &&
		w.cfg.Graph.TransitionAllowed(w.state, workflow.TransitionNeedMoreTasks) {
		transition = workflow.TransitionNeedMoreTasks
		selected = selectFor(transition)
	}

	tried := map[workflow.Transition]bool{transition: true}
	for selected == nil && !w.cfg.Graph.CanRunWithoutTask(transition) {
		fb, ok := w.cfg.Graph.FallbackTransition(w.state, transition)
		if !ok || tried[fb] {
			break
		}
		tried[fb] = true
		transition = fb
		selected = selectFor(transition)
	}

	if selected == nil && transition == workflow.TransitionCloseInvalidTask {
		selected = workflow.SelectInvalidTaskForClosure(tasks)
	}
	return selected, transition
}

// noTaskHeartbeat logs the no-task wait at most once per interval.
func (w *Worker) noTaskHeartbeat(transition workflow.Transition) {
	if time.Since(w.lastNoTaskLog) < noTaskLogInterval {
		return
	}
	w.lastNoTaskLog = time.Now()
	w.logger.Info("waiting for a task", "state", w.state, "transition", transition)
}
