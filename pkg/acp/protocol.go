// Package acp drives agent runtime subprocesses over a newline-delimited
// JSON-RPC stream: one session per transition, one prompt turn at a time,
// with bounded correction retries when the agent skips its required
// task-manager calls.
package acp

// MCPServerConfig declares one MCP server passed to the runtime.
type MCPServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// InitializeParams opens the protocol handshake.
type InitializeParams struct {
	ProtocolVersion int                `json:"protocolVersion"`
	ClientInfo      map[string]string  `json:"clientInfo"`
	Capabilities    ClientCapabilities `json:"capabilities"`
}

// ClientCapabilities advertises what the orchestrator side supports.
type ClientCapabilities struct {
	FS FSCapabilities `json:"fs"`
}

// FSCapabilities gates filesystem access for the turn.
type FSCapabilities struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// InitializeResult is the runtime's handshake reply. Tools lists the
// exact tool names the runtime exposes to the model.
type InitializeResult struct {
	ProtocolVersion int `json:"protocolVersion"`
	AgentInfo       struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"agentInfo"`
	Tools []string `json:"tools,omitempty"`
}

// NewSessionParams creates a session rooted in the workspace.
type NewSessionParams struct {
	Cwd        string            `json:"cwd"`
	MCPServers []MCPServerConfig `json:"mcpServers"`
}

// NewSessionResult carries the session id used by every later call.
type NewSessionResult struct {
	SessionID string `json:"sessionId"`
}

// PromptParams submits one prompt turn.
type PromptParams struct {
	SessionID string            `json:"sessionId"`
	Prompt    string            `json:"prompt"`
	Model     string            `json:"model,omitempty"`
	Sandbox   map[string]string `json:"sandbox,omitempty"`
}

// PromptResult ends a turn with the runtime's stop reason.
type PromptResult struct {
	StopReason string `json:"stopReason"`
	Model      string `json:"model,omitempty"`
}

// Stop reasons the driver interprets.
const (
	StopEndTurn = "end_turn"
	StopError   = "error"
	StopTimeout = "timeout"
)

// SessionUpdate is the session/update notification payload.
type SessionUpdate struct {
	SessionID string     `json:"sessionId"`
	Update    UpdateBody `json:"update"`
}

// Update kinds inside session/update.
const (
	UpdateToolCall       = "tool_call"
	UpdateToolCallUpdate = "tool_call_update"
	UpdateMessageChunk   = "agent_message_chunk"
	UpdateThoughtChunk   = "agent_thought_chunk"
	UpdateSessionMeta    = "session_meta"
)

// UpdateBody is one streamed event.
type UpdateBody struct {
	Kind     string `json:"sessionUpdate"`
	Text     string `json:"text,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	RawInput any    `json:"rawInput,omitempty"`
	Model    string `json:"model,omitempty"`
}
