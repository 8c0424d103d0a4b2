package branch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/isomorphiq/orchestrator/pkg/task"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

const mainBranch = "main"

// gitMu serializes working-tree operations across all workers in the
// process. The checkout target is process-wide state.
var gitMu sync.Mutex

// BranchError wraps a failed VCS invocation with the captured stderr.
type BranchError struct {
	Op     string
	Branch string
	Stderr string
	Err    error
}

func (e *BranchError) Error() string {
	msg := fmt.Sprintf("branch %s: %s failed: %v", e.Branch, e.Op, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *BranchError) Unwrap() error { return e.Err }

// Manager runs VCS operations in the workspace repository.
type Manager struct {
	repoRoot string
	logger   *slog.Logger
}

// NewManager creates a manager for the repository at repoRoot.
func NewManager(repoRoot string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repoRoot: repoRoot,
		logger:   logger.With("component", "branch-manager"),
	}
}

// requiresTaskBranch reports whether the transition runs on the task's
// dedicated branch.
func requiresTaskBranch(t workflow.Transition) bool {
	return t == workflow.TransitionBeginImplementation ||
		workflow.IsQARun(t) || workflow.IsQAFailed(t)
}

// EnsureTaskBranchCheckedOut makes the task's branch current for
// transitions that need it. begin-implementation creates the branch when
// missing; QA transitions require it to already exist. Returns the branch
// name, or "" for transitions that do not use one.
func (m *Manager) EnsureTaskBranchCheckedOut(ctx context.Context, transition workflow.Transition, t *task.Task) (string, error) {
	if !requiresTaskBranch(transition) {
		return "", nil
	}
	name, err := NameForTask(t)
	if err != nil {
		return "", err
	}

	gitMu.Lock()
	defer gitMu.Unlock()

	exists, err := m.branchExists(ctx, name)
	if err != nil {
		return "", err
	}

	switch {
	case exists:
		if err := m.checkout(ctx, name, false); err != nil {
			return "", err
		}
	case transition == workflow.TransitionBeginImplementation:
		if err := m.checkout(ctx, name, true); err != nil {
			return "", err
		}
		m.logger.Info("created task branch", "branch", name, "task_id", t.ID)
	default:
		return "", &BranchError{
			Op:     "checkout",
			Branch: name,
			Err: fmt.Errorf("branch does not exist; begin-implementation should have created it before %s",
				transition),
		}
	}
	return name, nil
}

// CheckoutMainBranch returns the working tree to main. No-op when main is
// already checked out.
func (m *Manager) CheckoutMainBranch(ctx context.Context, reason string) error {
	gitMu.Lock()
	defer gitMu.Unlock()

	current, err := m.currentBranch(ctx)
	if err != nil {
		return err
	}
	if current == mainBranch {
		return nil
	}
	m.logger.Info("checking out main", "from", current, "reason", reason)
	return m.checkout(ctx, mainBranch, false)
}

func (m *Manager) branchExists(ctx context.Context, name string) (bool, error) {
	_, stderr, err := m.git(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, &BranchError{Op: "rev-parse", Branch: name, Stderr: stderr, Err: err}
}

func (m *Manager) currentBranch(ctx context.Context) (string, error) {
	stdout, stderr, err := m.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", &BranchError{Op: "rev-parse", Branch: "HEAD", Stderr: stderr, Err: err}
	}
	return strings.TrimSpace(stdout), nil
}

func (m *Manager) checkout(ctx context.Context, name string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, name)
	if _, stderr, err := m.git(ctx, args...); err != nil {
		return &BranchError{Op: "checkout", Branch: name, Stderr: stderr, Err: err}
	}
	return nil
}

func (m *Manager) git(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), strings.TrimSpace(stderr.String()), err
}
