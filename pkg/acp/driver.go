package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/isomorphiq/orchestrator/pkg/profile"
	"github.com/isomorphiq/orchestrator/pkg/version"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

const (
	defaultTurnTimeout = 10 * time.Minute
	maxExtraTurns      = 3
	protocolVersion    = 1
)

// SessionSpec describes one agent session: the transition it serves, the
// composed prompt, and the effective profile to run it under.
type SessionSpec struct {
	Transition    workflow.Transition
	Prompt        string
	Profile       *profile.Profile
	WorkspaceRoot string
	MCPServers    []MCPServerConfig

	// AllowEdits grants writeTextFile capability for the turn.
	AllowEdits bool
}

// Completion is the final outcome of a session.
type Completion struct {
	Success         bool
	Output          string
	Error           string
	StopReason      string
	Model           string
	ToolCallTitles  []string
	MCPToolCalls    int
	NonMCPToolCalls int
}

// Driver spawns runtime subprocesses and runs prompt turns over their
// stdio JSON-RPC stream.
type Driver struct {
	logger       *slog.Logger
	turnTimeout  time.Duration
	defaultModel string
	commands     map[profile.Runtime][]string
}

// Option configures a Driver.
type Option func(*Driver)

// WithTurnTimeout overrides the per-turn deadline.
func WithTurnTimeout(d time.Duration) Option {
	return func(dr *Driver) { dr.turnTimeout = d }
}

// WithDefaultModel sets the model used when the effective profile does
// not name one.
func WithDefaultModel(model string) Option {
	return func(dr *Driver) { dr.defaultModel = model }
}

// WithCommand overrides the subprocess command line for a runtime flavor.
func WithCommand(r profile.Runtime, argv ...string) Option {
	return func(dr *Driver) { dr.commands[r] = argv }
}

// NewDriver creates a session driver.
func NewDriver(logger *slog.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		logger:      logger.With("component", "acp-driver"),
		turnTimeout: defaultTurnTimeout,
		commands: map[profile.Runtime][]string{
			profile.RuntimeCodex:    {"codex", "acp"},
			profile.RuntimeOpencode: {"opencode", "acp"},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type stdioStream struct {
	in  io.WriteCloser
	out io.ReadCloser
}

func (s stdioStream) Read(p []byte) (int, error)  { return s.out.Read(p) }
func (s stdioStream) Write(p []byte) (int, error) { return s.in.Write(p) }
func (s stdioStream) Close() error {
	inErr := s.in.Close()
	outErr := s.out.Close()
	if inErr != nil {
		return inErr
	}
	return outErr
}

type updateHandler struct {
	observer *TurnObserver
	logger   *slog.Logger
}

func (h *updateHandler) Handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method != "session/update" || !req.Notif || req.Params == nil {
		return
	}
	var update SessionUpdate
	if err := json.Unmarshal(*req.Params, &update); err != nil {
		h.logger.Warn("dropping malformed session update", "error", err)
		return
	}
	h.observer.Observe(update.Update)
}

// RunSession executes one agent session to completion, including the
// bounded correction retries. The returned error covers only transport
// and spawn failures; agent-level failures land in the Completion.
func (d *Driver) RunSession(ctx context.Context, spec SessionSpec) (*Completion, error) {
	argv, ok := d.commands[spec.Profile.Runtime]
	if !ok || len(argv) == 0 {
		return nil, fmt.Errorf("no command configured for runtime flavor %q", spec.Profile.Runtime)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = spec.WorkspaceRoot
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting runtime %s: %w", argv[0], err)
	}

	observer := &TurnObserver{servers: serverNames(spec.MCPServers)}
	handler := &updateHandler{observer: observer, logger: d.logger}
	stream := jsonrpc2.NewPlainObjectStream(stdioStream{in: stdin, out: stdout})
	conn := jsonrpc2.NewConn(ctx, stream, handler)

	// Cleanup runs on every path: close the stream, kill the child,
	// reap it.
	defer func() {
		_ = conn.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}()

	var initRes InitializeResult
	initParams := InitializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      map[string]string{"name": version.AppName, "version": version.GitCommit},
		Capabilities: ClientCapabilities{
			FS: FSCapabilities{ReadTextFile: true, WriteTextFile: spec.AllowEdits},
		},
	}
	if err := conn.Call(ctx, "initialize", initParams, &initRes); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var session NewSessionResult
	newParams := NewSessionParams{Cwd: spec.WorkspaceRoot, MCPServers: spec.MCPServers}
	if err := conn.Call(ctx, "session/new", newParams, &session); err != nil {
		return nil, fmt.Errorf("session/new: %w", err)
	}

	d.logger.Info("agent session started",
		"transition", spec.Transition, "profile", spec.Profile.Name,
		"runtime", spec.Profile.Runtime, "session_id", session.SessionID)

	tools := taskManagerTools(spec.Transition, initRes.Tools)

	completion, timedOut := d.runTurn(ctx, conn, observer, session.SessionID, spec, spec.Prompt)
	if timedOut {
		return d.finalize(spec, observer, completion, tools), nil
	}

	for extra := 0; extra < maxExtraTurns; extra++ {
		correction, reason := d.correctionFor(spec.Transition, observer, tools)
		if correction == "" {
			break
		}
		d.logger.Warn("re-prompting agent", "transition", spec.Transition, "reason", reason, "extra_turn", extra+1)
		completion, timedOut = d.runTurn(ctx, conn, observer, session.SessionID, spec, correction)
		if timedOut {
			break
		}
	}

	return d.finalize(spec, observer, completion, tools), nil
}

// runTurn submits one prompt and waits for the stop reason or the hard
// turn deadline. Returns timedOut=true when the deadline expired.
func (d *Driver) runTurn(ctx context.Context, conn *jsonrpc2.Conn, observer *TurnObserver, sessionID string, spec SessionSpec, promptText string) (*Completion, bool) {
	turnCtx, cancel := context.WithTimeout(ctx, d.turnTimeout)
	defer cancel()

	model := spec.Profile.Model
	if model == "" {
		model = d.defaultModel
	}

	var result PromptResult
	err := conn.Call(turnCtx, "session/prompt", PromptParams{
		SessionID: sessionID,
		Prompt:    promptText,
		Model:     model,
		Sandbox:   spec.Profile.Sandbox,
	}, &result)

	switch {
	case err == nil:
		observer.Finish(result.StopReason, result.Model)
		return &Completion{StopReason: result.StopReason}, false
	case errors.Is(turnCtx.Err(), context.DeadlineExceeded):
		observer.Finish(StopTimeout, "")
		return &Completion{
			StopReason: StopTimeout,
			Error:      fmt.Sprintf("turn exceeded the %s deadline", d.turnTimeout),
		}, true
	default:
		observer.Finish(StopError, "")
		return &Completion{StopReason: StopError, Error: err.Error()}, false
	}
}

// correctionFor evaluates the retry rules in order and returns the next
// correction prompt, or "" when no rule applies.
func (d *Driver) correctionFor(transition workflow.Transition, observer *TurnObserver, tools []string) (string, string) {
	titles := observer.Titles()

	if len(tools) > 0 && claimsMissingMCP(observer.Output()) {
		return falseMissingCorrection(tools), "false-missing-mcp"
	}
	if transitionRequiresMCP(transition) && len(tools) > 0 && !calledRequiredOperation(transition, titles) {
		if onlyResourceDiscovery(titles, observer.servers) {
			return resourceDiscoveryCorrection(transition, tools), "resource-discovery-only"
		}
		return missingCallCorrection(transition, tools), "missing-required-call"
	}
	return "", ""
}

func (d *Driver) finalize(spec SessionSpec, observer *TurnObserver, last *Completion, tools []string) *Completion {
	out := &Completion{
		Output:         observer.Output(),
		StopReason:     observer.StopReason(),
		Model:          observer.Model(),
		ToolCallTitles: observer.Titles(),
		Error:          last.Error,
	}
	out.MCPToolCalls, out.NonMCPToolCalls = observer.Counts()

	switch {
	case out.Error != "":
		out.Success = false
	case transitionRequiresMCP(spec.Transition) && len(tools) > 0 &&
		!calledRequiredOperation(spec.Transition, out.ToolCallTitles):
		// Enforced only when the runtime advertised the tools at all; a
		// runtime with no task-manager surface cannot be retried into one.
		out.Success = false
		out.Error = finalEnforcementError(spec.Transition, out.ToolCallTitles)
	case out.StopReason == StopEndTurn && out.Output == "":
		out.Success = false
		out.Error = "runtime ended the turn with no output and no error; the configured model is probably invalid or unavailable"
	default:
		out.Success = true
	}
	return out
}
