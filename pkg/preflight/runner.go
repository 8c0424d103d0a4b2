package preflight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

const (
	previewLimit   = 8 * 1024
	aggregateLimit = 20 * 1024
)

// CommandResult is one executed check command. ExitCode is nil when the
// process failed before producing an exit status.
type CommandResult struct {
	Label         string `json:"label"`
	Command       string `json:"command"`
	ExitCode      *int   `json:"exitCode"`
	Stdout        string `json:"-"`
	Stderr        string `json:"-"`
	StdoutPreview string `json:"stdout"`
	StderrPreview string `json:"stderr"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	OK            bool   `json:"ok"`
}

// Result is the outcome of one preflight stage.
type Result struct {
	Stage     string          `json:"stage"`
	Pass      bool            `json:"pass"`
	Skipped   bool            `json:"skipped,omitempty"`
	Commands  []CommandResult `json:"commands"`
	Aggregate string          `json:"aggregate"`
}

// Runner executes QA preflight stages in the workspace.
type Runner struct {
	workspaceRoot string
	logger        *slog.Logger
}

// NewRunner creates a runner rooted at the workspace.
func NewRunner(workspaceRoot string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		workspaceRoot: workspaceRoot,
		logger:        logger.With("component", "preflight"),
	}
}

// Run executes the stage for the transition. It never returns an error:
// internal failures become a failed result.
func (r *Runner) Run(ctx context.Context, transition workflow.Transition) (result *Result) {
	stage, ok := StageFor(transition)
	if !ok {
		return failedResult(string(transition), fmt.Sprintf("no preflight stage for transition %s", transition))
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("preflight panicked", "stage", stage.Label, "panic", rec)
			result = failedResult(stage.Label, fmt.Sprintf("internal preflight failure: %v", rec))
		}
	}()

	if transition == workflow.TransitionRunE2ETests && !r.hasPlaywrightConfig() {
		return &Result{
			Stage:     stage.Label,
			Pass:      true,
			Skipped:   true,
			Aggregate: "e2e-tests skipped: no playwright.config.{ts,js,mjs} found in workspace root",
		}
	}

	cmd := r.execute(ctx, stage)
	res := &Result{
		Stage:    stage.Label,
		Pass:     cmd.OK,
		Commands: []CommandResult{cmd},
	}
	res.Aggregate = renderAggregate(res)
	return res
}

func (r *Runner) hasPlaywrightConfig() bool {
	for _, name := range []string{"playwright.config.ts", "playwright.config.js", "playwright.config.mjs"} {
		if _, err := os.Stat(filepath.Join(r.workspaceRoot, name)); err == nil {
			return true
		}
	}
	return false
}

func (r *Runner) execute(ctx context.Context, stage Stage) CommandResult {
	runCtx, cancel := context.WithTimeout(ctx, stage.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", stage.Command)
	cmd.Dir = r.workspaceRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Info("running preflight command", "stage", stage.Label, "command", stage.Command)
	err := cmd.Run()

	res := CommandResult{
		Label:   stage.Label,
		Command: stage.Command,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	res.StdoutPreview = Truncate(res.Stdout, previewLimit)
	res.StderrPreview = Truncate(res.Stderr, previewLimit)

	switch {
	case err == nil:
		code := 0
		res.ExitCode = &code
		res.OK = true
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ErrorMessage = fmt.Sprintf("command timed out after %s", stage.Timeout)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			res.ExitCode = &code
			res.ErrorMessage = fmt.Sprintf("exit status %d", code)
		} else {
			res.ErrorMessage = err.Error()
		}
	}
	return res
}

func failedResult(stage, message string) *Result {
	return &Result{
		Stage:     stage,
		Pass:      false,
		Aggregate: fmt.Sprintf("%s preflight failed before execution: %s", stage, message),
	}
}

func renderAggregate(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage %s: ", res.Stage)
	if res.Pass {
		b.WriteString("pass\n")
	} else {
		b.WriteString("fail\n")
	}
	for _, c := range res.Commands {
		fmt.Fprintf(&b, "$ %s\n", c.Command)
		if c.ExitCode != nil {
			fmt.Fprintf(&b, "exit code: %d\n", *c.ExitCode)
		} else {
			fmt.Fprintf(&b, "exit code: none (%s)\n", c.ErrorMessage)
		}
		if c.StdoutPreview != "" {
			fmt.Fprintf(&b, "stdout:\n%s\n", c.StdoutPreview)
		}
		if c.StderrPreview != "" {
			fmt.Fprintf(&b, "stderr:\n%s\n", c.StderrPreview)
		}
	}
	return Truncate(b.String(), aggregateLimit)
}

// Truncate bounds s to limit bytes, appending a marker with the number of
// characters dropped.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("...[truncated %d chars]", len(s)-limit)
}
