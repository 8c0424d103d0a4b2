package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// workspace root markers: either the MCP server config inside the
// monorepo, or a prompts directory next to a package.json.
const mcpConfigRelPath = "packages/mcp/config/mcp-server-config.json"

// DetectWorkspaceRoot walks up from startDir looking for a directory that
// is the project workspace. When startDir is empty, INIT_CWD and then the
// current directory are used.
func DetectWorkspaceRoot(startDir string) (string, error) {
	if startDir == "" {
		startDir = os.Getenv("INIT_CWD")
	}
	if startDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolving working directory: %w", err)
		}
		startDir = cwd
	}

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", startDir, err)
	}

	for {
		if isWorkspaceRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: walked up from %s", ErrWorkspaceNotFound, startDir)
		}
		dir = parent
	}
}

func isWorkspaceRoot(dir string) bool {
	if fileExists(filepath.Join(dir, mcpConfigRelPath)) {
		return true
	}
	return dirExists(filepath.Join(dir, "prompts")) &&
		fileExists(filepath.Join(dir, "package.json"))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
