// Package profile holds the builtin agent profiles, their persisted
// overrides, and the registry that resolves the effective profile for a
// transition.
package profile

import (
	"strings"
	"time"
)

// Runtime is the agent runtime flavor a profile executes under.
type Runtime string

// Runtime flavors.
const (
	RuntimeCodex    Runtime = "codex"
	RuntimeOpencode Runtime = "opencode"
)

// TaskPromptBuilder renders the profile's task prompt from the merged
// execution context.
type TaskPromptBuilder func(execCtx map[string]any) string

// Profile is one agent profile. Builtin profiles are immutable; the
// registry layers overrides on copies.
type Profile struct {
	Name          string            `json:"name"`
	Role          string            `json:"role"`
	Capabilities  []string          `json:"capabilities"`
	MaxConcurrent int               `json:"maxConcurrent"`
	Priority      int               `json:"priority"`
	Runtime       Runtime           `json:"runtime"`
	Model         string            `json:"model"`
	SystemPrompt  string            `json:"systemPrompt"`
	MCPServers    []string          `json:"mcpServers"`
	Sandbox       map[string]string `json:"sandbox,omitempty"`

	// TaskPrompt renders the per-turn task prompt. Never nil for builtin
	// profiles.
	TaskPrompt TaskPromptBuilder `json:"-"`
}

// Clone returns a deep copy safe to mutate.
func (p *Profile) Clone() *Profile {
	out := *p
	out.Capabilities = append([]string(nil), p.Capabilities...)
	out.MCPServers = append([]string(nil), p.MCPServers...)
	if p.Sandbox != nil {
		out.Sandbox = make(map[string]string, len(p.Sandbox))
		for k, v := range p.Sandbox {
			out.Sandbox[k] = v
		}
	}
	return &out
}

// Override is the persisted per-profile override record. Zero-valued
// fields leave the builtin default in place.
type Override struct {
	Runtime          Runtime   `json:"runtime,omitempty"`
	Model            string    `json:"model,omitempty"`
	SystemPrompt     string    `json:"systemPrompt,omitempty"`
	TaskPromptPrefix string    `json:"taskPromptPrefix,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Empty reports whether the override carries no effective fields. Empty
// records are deleted rather than stored.
func (o *Override) Empty() bool {
	return o == nil ||
		(o.Runtime == "" && o.Model == "" &&
			strings.TrimSpace(o.SystemPrompt) == "" &&
			strings.TrimSpace(o.TaskPromptPrefix) == "")
}
