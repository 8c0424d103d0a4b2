package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isomorphiq/orchestrator/pkg/acp"
	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/preflight"
	"github.com/isomorphiq/orchestrator/pkg/profile"
	"github.com/isomorphiq/orchestrator/pkg/prompt"
	"github.com/isomorphiq/orchestrator/pkg/task"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

type fakeAgent struct {
	completions []*acp.Completion
	specs       []acp.SessionSpec
}

func (f *fakeAgent) RunSession(_ context.Context, spec acp.SessionSpec) (*acp.Completion, error) {
	f.specs = append(f.specs, spec)
	if len(f.completions) == 0 {
		return &acp.Completion{Success: true, Output: "ok"}, nil
	}
	next := f.completions[0]
	f.completions = f.completions[1:]
	return next, nil
}

type fakeBranches struct {
	ensured   []workflow.Transition
	mainCalls []string
}

func (f *fakeBranches) EnsureTaskBranchCheckedOut(_ context.Context, t workflow.Transition, tk *task.Task) (string, error) {
	f.ensured = append(f.ensured, t)
	if t == workflow.TransitionBeginImplementation || workflow.IsQARun(t) || workflow.IsQAFailed(t) {
		return "implementation/42-add-login", nil
	}
	return "", nil
}

func (f *fakeBranches) CheckoutMainBranch(_ context.Context, reason string) error {
	f.mainCalls = append(f.mainCalls, reason)
	return nil
}

type fakePreflight struct {
	result *preflight.Result
}

func (f *fakePreflight) Run(context.Context, workflow.Transition) *preflight.Result {
	return f.result
}

type harness struct {
	dispatcher *Dispatcher
	tasks      *task.MemoryStore
	contexts   *contextstore.MemoryStore
	agent      *fakeAgent
	branches   *fakeBranches
	preflight  *fakePreflight
	contextID  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	graph := workflow.NewGraph()
	tasks := task.NewMemoryStore()
	contexts := contextstore.NewMemoryStore()
	agent := &fakeAgent{}
	branches := &fakeBranches{}
	pf := &fakePreflight{}

	contextID, err := contexts.EnsureContextID(context.Background(), "worker-test")
	require.NoError(t, err)

	d := New(Config{
		Graph:     graph,
		Tasks:     tasks,
		Contexts:  contexts,
		Profiles:  profile.NewRegistry(nil, nil),
		Preflight: pf,
		Prompts:   prompt.NewBuilder(graph, ""),
		Agents:    agent,
		Branches:  branches,
		MCPTools: map[string][]string{
			"task-yaml": {"list_tasks", "get_task", "create_task", "update_task",
				"update_task_status", "update_task_priority", "get_file_context", "update_context"},
		},
		MCPConfigs: []acp.MCPServerConfig{{Name: "task-yaml", Command: "task-yaml-mcp"}},
	})
	return &harness{
		dispatcher: d, tasks: tasks, contexts: contexts,
		agent: agent, branches: branches, preflight: pf, contextID: contextID,
	}
}

func (h *harness) loadContext(t *testing.T) map[string]any {
	t.Helper()
	ctx, err := h.contexts.Load(context.Background(), h.contextID)
	require.NoError(t, err)
	return ctx
}

func implTask(id string) *task.Task {
	return &task.Task{
		ID: id, Title: "Add login", Type: task.TypeImplementation,
		Status: task.StatusInProgress, Priority: task.PriorityHigh,
	}
}

func TestDispatchTestsPassing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := implTask("task-42")
	h.tasks.Seed(tk)

	_, err := h.contexts.Patch(ctx, h.contextID, map[string]any{
		contextstore.KeyCurrentTaskID:  "task-42",
		contextstore.KeyTestStatus:     contextstore.TestStatusPassed,
		contextstore.KeyPreflightStage: "coverage",
	})
	require.NoError(t, err)

	outcome, err := h.dispatcher.Dispatch(ctx, Request{
		ContextID:  h.contextID,
		State:      workflow.StateCoverageCompleted,
		Transition: workflow.TransitionTestsPassing,
		Task:       tk,
		WorkerID:   "worker-1",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Advance)

	stored, err := h.tasks.GetTask(ctx, "task-42")
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, stored.Status)

	execCtx := h.loadContext(t)
	for _, key := range contextstore.QAClearKeys() {
		assert.NotContains(t, execCtx, key, "key %s should be cleared", key)
	}
	assert.Equal(t, []string{"tests-passing"}, h.branches.mainCalls)
}

func TestDispatchPickUpNextTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("skips without runnable task", func(t *testing.T) {
		outcome, err := h.dispatcher.Dispatch(ctx, Request{
			ContextID:  h.contextID,
			State:      workflow.StateTestsCompleted,
			Transition: workflow.TransitionPickUpNextTask,
		})
		require.NoError(t, err)
		assert.False(t, outcome.Advance)
	})

	t.Run("advances with runnable task", func(t *testing.T) {
		outcome, err := h.dispatcher.Dispatch(ctx, Request{
			ContextID:  h.contextID,
			State:      workflow.StateTestsCompleted,
			Transition: workflow.TransitionPickUpNextTask,
			Tasks: []*task.Task{{
				ID: "task-1", Title: "next", Type: task.TypeImplementation,
				Status: task.StatusTodo, Priority: task.PriorityHigh,
			}},
		})
		require.NoError(t, err)
		assert.True(t, outcome.Advance)
	})
}

func TestDispatchProceduralQAPass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := implTask("task-42")
	h.tasks.Seed(tk)

	code := 0
	res := &preflight.Result{
		Stage: "lint",
		Pass:  true,
		Commands: []preflight.CommandResult{{
			Label: "lint", Command: "yarn run lint", ExitCode: &code, OK: true,
		}},
		Aggregate: "stage lint: pass",
	}
	h.preflight.result = res

	outcome, err := h.dispatcher.Dispatch(ctx, Request{
		ContextID:  h.contextID,
		State:      workflow.StateTaskInProgress,
		Transition: workflow.TransitionRunLint,
		Task:       tk,
		WorkerID:   "worker-1",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Advance)
	assert.Equal(t, "lint passed", outcome.Summary)
	assert.Empty(t, h.agent.specs, "no agent call for procedural qa")

	execCtx := h.loadContext(t)
	assert.Equal(t, contextstore.TestStatusPassed, execCtx[contextstore.KeyTestStatus])
	assert.Equal(t, "lint", execCtx[contextstore.KeyPreflightStage])
	assert.Equal(t, "task-42", execCtx[contextstore.KeyCurrentTaskID])
	assert.Contains(t, execCtx, contextstore.KeyLastTestResult)

	report, ok := execCtx[contextstore.KeyTestReport].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"yarn run lint", "yarn run lint"}, report["reproSteps"])
	assert.Equal(t, "lint completed without errors", report["suspectedRootCause"])

	stored, err := h.tasks.GetTask(ctx, "task-42")
	require.NoError(t, err)
	require.NotEmpty(t, stored.ActionLog)
	last := stored.ActionLog[len(stored.ActionLog)-1]
	assert.Equal(t, "lint passed", last.Summary)
	require.NotNil(t, last.Success)
	assert.True(t, *last.Success)
}

func TestDispatchProceduralQAFailDoesNotAdvance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := implTask("task-42")
	h.tasks.Seed(tk)

	code := 1
	res := &preflight.Result{
		Stage: "lint",
		Pass:  false,
		Commands: []preflight.CommandResult{{
			Label: "lint", Command: "yarn run lint", ExitCode: &code,
			ErrorMessage: "exit status 1",
		}},
		Aggregate: "stage lint: fail",
	}
	h.preflight.result = res

	outcome, err := h.dispatcher.Dispatch(ctx, Request{
		ContextID:  h.contextID,
		State:      workflow.StateTaskInProgress,
		Transition: workflow.TransitionRunLint,
		Task:       tk,
		WorkerID:   "worker-1",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Advance, "qa failure must not advance the state")

	execCtx := h.loadContext(t)
	assert.Equal(t, contextstore.TestStatusFailed, execCtx[contextstore.KeyTestStatus])
	assert.Equal(t, "lint", execCtx[contextstore.KeyPreflightStage])
}

func TestDispatchAgentTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := &task.Task{
		ID: "task-42", Title: "Add login", Type: task.TypeImplementation,
		Status: task.StatusTodo, Priority: task.PriorityHigh,
	}
	h.tasks.Seed(tk)
	h.agent.completions = []*acp.Completion{{
		Success: true,
		Output:  "implemented it\nSummary: added the login flow",
	}}

	outcome, err := h.dispatcher.Dispatch(ctx, Request{
		ContextID:  h.contextID,
		State:      workflow.StateTasksPrepared,
		Transition: workflow.TransitionBeginImplementation,
		Task:       tk,
		Tasks:      []*task.Task{tk},
		WorkerID:   "worker-1",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Advance)
	assert.Equal(t, "added the login flow", outcome.Summary)

	require.Len(t, h.agent.specs, 1)
	spec := h.agent.specs[0]
	assert.True(t, spec.AllowEdits)
	assert.Equal(t, profile.SeniorDeveloper, spec.Profile.Name)
	assert.Contains(t, spec.Prompt, "## Selected task")

	execCtx := h.loadContext(t)
	assert.Equal(t, "task-42", execCtx[contextstore.KeyCurrentTaskID])
	assert.Equal(t, "implementation/42-add-login", execCtx[contextstore.KeyCurrentTaskBranch])
	assert.NotContains(t, execCtx, contextstore.KeyLastTestResult)

	stored, err := h.tasks.GetTask(ctx, "task-42")
	require.NoError(t, err)
	assert.Equal(t, "implementation/42-add-login", stored.Branch)
}

func TestDispatchRemediationClearsFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := implTask("task-42")
	tk.Branch = "implementation/42-add-login"
	h.tasks.Seed(tk)

	_, err := h.contexts.Patch(ctx, h.contextID, map[string]any{
		contextstore.KeyTestStatus:     contextstore.TestStatusFailed,
		contextstore.KeyPreflightStage: "lint",
	})
	require.NoError(t, err)
	h.agent.completions = []*acp.Completion{{
		Success: true,
		Output:  "fixed the lint errors\nSummary: removed unused imports",
	}}

	outcome, err := h.dispatcher.Dispatch(ctx, Request{
		ContextID:  h.contextID,
		State:      workflow.StateTaskInProgress,
		Transition: workflow.TransitionLintFailed,
		Task:       tk,
		WorkerID:   "worker-1",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Advance)

	execCtx := h.loadContext(t)
	assert.NotContains(t, execCtx, contextstore.KeyTestStatus)
	assert.NotContains(t, execCtx, contextstore.KeyPreflightStage)
}

func TestDispatchAgentInfersTestOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := implTask("task-42")
	tk.Branch = "implementation/42-add-login"
	h.tasks.Seed(tk)
	h.agent.completions = []*acp.Completion{{
		Success: true,
		Output: "Test status: failed\n" +
			"Failed tests:\n- auth.spec.ts loads session\n" +
			"Suspected root cause: stale session fixture\n" +
			"Summary: verified failure",
	}}

	_, err := h.dispatcher.Dispatch(ctx, Request{
		ContextID:  h.contextID,
		State:      workflow.StateStoriesPrioritized,
		Transition: workflow.TransitionRefineIntoTasks,
		Task:       tk,
		WorkerID:   "worker-1",
	})
	require.NoError(t, err)

	execCtx := h.loadContext(t)
	assert.Equal(t, contextstore.TestStatusFailed, execCtx[contextstore.KeyTestStatus])
	report, ok := execCtx[contextstore.KeyTestReport].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "stale session fixture", report["suspectedRootCause"])
}

func TestDispatchE2ETwoPhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := implTask("task-42")
	tk.Branch = "implementation/42-add-login"
	h.tasks.Seed(tk)

	_, err := h.contexts.Patch(ctx, h.contextID, map[string]any{
		contextstore.KeyTestStatus:      contextstore.TestStatusFailed,
		contextstore.KeyPreflightStage:  "e2e-tests",
		contextstore.KeyE2EResultStatus: "FAILED",
		contextstore.KeyE2EResults: map[string]any{
			"failedTests":        []any{"checkout.spec.ts completes purchase"},
			"reproSteps":         []any{"npx playwright test"},
			"suspectedRootCause": "checkout.spec.ts completes purchase",
		},
	})
	require.NoError(t, err)

	// Investigator writes no report; remediation succeeds.
	h.agent.completions = []*acp.Completion{
		{Success: true, Output: "Root cause is a missing fixture.\nSummary: investigated"},
		{Success: true, Output: "fixed\nSummary: remediated"},
	}

	outcome, err := h.dispatcher.Dispatch(ctx, Request{
		ContextID:  h.contextID,
		State:      workflow.StateUnitTestsCompleted,
		Transition: workflow.TransitionE2ETestsFailed,
		IsDecider:  true,
		Task:       tk,
		WorkerID:   "worker-1",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Advance)

	require.Len(t, h.agent.specs, 2)
	assert.Equal(t, profile.E2EInvestigator, h.agent.specs[0].Profile.Name)
	assert.Equal(t, profile.SeniorDeveloper, h.agent.specs[1].Profile.Name)

	execCtx := h.loadContext(t)
	report, _ := execCtx[contextstore.KeyE2EInvestigation].(string)
	require.NotEmpty(t, report)
	assert.Equal(t, report, execCtx[contextstore.KeyE2EInvestigationAlias])
	assert.Contains(t, report, "checkout.spec.ts completes purchase")
	assert.Contains(t, report, "Root cause is a missing fixture.")
	assert.Contains(t, execCtx, contextstore.KeyInvestigationPrefetch)

	// The remediation turn starts from the investigator's findings.
	remediation := h.agent.specs[1].Prompt
	assert.Contains(t, remediation, "## Investigation report")
	assert.Contains(t, remediation, "Root cause is a missing fixture.")
	assert.NotContains(t, h.agent.specs[0].Prompt, "## Investigation report")
}

func TestDispatchAgentFailureDoesNotAdvance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := implTask("task-42")
	tk.Branch = "implementation/42-add-login"
	h.tasks.Seed(tk)
	h.agent.completions = []*acp.Completion{{
		Success: false,
		Error:   "agent never invoked a required task-manager operation",
	}}

	outcome, err := h.dispatcher.Dispatch(ctx, Request{
		ContextID:  h.contextID,
		State:      workflow.StateTaskInProgress,
		Transition: workflow.TransitionLintFailed,
		Task:       tk,
		WorkerID:   "worker-1",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Advance)
	assert.Contains(t, outcome.Summary, "task-manager operation")
}
