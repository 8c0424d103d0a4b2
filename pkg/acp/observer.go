package acp

import (
	"strings"
	"sync"
)

// TurnObserver accumulates per-turn counters from the update stream.
// Safe for concurrent use; the RPC handler writes while the driver reads
// after turn completion. servers lists the declared MCP server names so
// bare-spelled tool calls classify as MCP.
type TurnObserver struct {
	servers []string

	mu          sync.Mutex
	text        strings.Builder
	titles      []string
	mcpCalls    int
	nonMCPCalls int
	model       string
	stopReason  string
}

// Observe consumes one update.
func (o *TurnObserver) Observe(u UpdateBody) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch u.Kind {
	case UpdateMessageChunk:
		o.text.WriteString(u.Text)
	case UpdateToolCall:
		o.titles = append(o.titles, u.Title)
		if IsMCPTitle(u.Title, o.servers) {
			o.mcpCalls++
		} else {
			o.nonMCPCalls++
		}
	case UpdateSessionMeta:
		if u.Model != "" {
			o.model = u.Model
		}
	}
	// tool_call_update and thought chunks carry no counters.
}

// Finish records the turn's stop reason and reported model.
func (o *TurnObserver) Finish(stopReason, model string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopReason = stopReason
	if model != "" {
		o.model = model
	}
}

// Output returns the accumulated message text.
func (o *TurnObserver) Output() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.text.String()
}

// TextLen returns the accumulated text length.
func (o *TurnObserver) TextLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.text.Len()
}

// Titles returns the ordered tool-call titles.
func (o *TurnObserver) Titles() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.titles...)
}

// Counts returns (mcp, nonMCP) tool-call counts.
func (o *TurnObserver) Counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mcpCalls, o.nonMCPCalls
}

// Model returns the model name the runtime reported, if any.
func (o *TurnObserver) Model() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

// StopReason returns the recorded stop reason.
func (o *TurnObserver) StopReason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopReason
}

// IsMCPTitle reports whether a tool-call title names an MCP tool.
// Runtimes expose MCP tools namespaced (mcp__server__tool, mcp/server/tool)
// or bare ({server}_{tool}); the bare flavor is matched against the
// declared server names, with dashes normalized to underscores.
func IsMCPTitle(title string, servers []string) bool {
	if strings.Contains(title, "mcp__") || strings.HasPrefix(title, "mcp/") {
		return true
	}
	for _, server := range servers {
		if strings.HasPrefix(title, server+"_") ||
			strings.HasPrefix(title, strings.ReplaceAll(server, "-", "_")+"_") {
			return true
		}
	}
	return false
}

// serverNames extracts the declared MCP server names from a session's
// server configs.
func serverNames(configs []MCPServerConfig) []string {
	names := make([]string, 0, len(configs))
	for _, cfg := range configs {
		names = append(names, cfg.Name)
	}
	return names
}
