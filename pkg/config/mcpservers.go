package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MCPServer declares one MCP server the agent runtime may spawn, plus the
// task-manager tool base names it advertises.
type MCPServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Tools   []string          `json:"tools,omitempty"`
}

// mcpServerFile is the on-disk shape of mcp-server-config.json.
type mcpServerFile struct {
	MCPServers map[string]MCPServer `json:"mcpServers"`
}

// taskManagerTools is the default tool set advertised by the task-manager
// server when its declaration omits one.
var taskManagerTools = []string{
	"list_tasks",
	"get_task",
	"create_task",
	"update_task",
	"update_task_status",
	"update_task_priority",
	"get_file_context",
	"update_context",
}

// LoadMCPServers reads the workspace MCP server declarations and applies
// endpoint overrides resolved from the environment. A missing config file
// is not an error. Endpoint overrides replace the server's command with an
// mcp-remote bridge to the given URL; endpoints for undeclared servers add
// a new bridge entry.
func LoadMCPServers(workspaceRoot string, endpoints map[string]string) (map[string]MCPServer, error) {
	servers := make(map[string]MCPServer)

	path := filepath.Join(workspaceRoot, mcpConfigRelPath)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading mcp server config: %w", err)
	default:
		var file mcpServerFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		for name, srv := range file.MCPServers {
			servers[name] = srv
		}
	}

	for name, url := range endpoints {
		srv := servers[name]
		srv.Command = "npx"
		srv.Args = []string{"-y", "mcp-remote", url}
		servers[name] = srv
	}

	if srv, ok := servers["task-manager"]; ok && len(srv.Tools) == 0 {
		srv.Tools = append([]string(nil), taskManagerTools...)
		servers["task-manager"] = srv
	}

	return servers, nil
}
