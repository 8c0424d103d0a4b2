package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Model environment fallback chain, first non-empty wins.
var modelEnvVars = []string{"ACP_MODEL", "OPENAI_MODEL", "MODEL", "LLM_MODEL"}

// ModelFromEnv returns the model override from the environment, or empty.
func ModelFromEnv() string {
	for _, key := range modelEnvVars {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// TestModeFromEnv reports whether the process runs in test mode.
func TestModeFromEnv() bool {
	if v := strings.TrimSpace(os.Getenv("ISOMORPHIQ_TEST_MODE")); v != "" {
		enabled, err := strconv.ParseBool(v)
		return err == nil && enabled
	}
	return os.Getenv("NODE_ENV") == "test"
}

// MCPEndpointsFromEnv collects MCP endpoint overrides. For each variable
// ISOMORPHIQ_MCP_<NAME> or MCP_<NAME>, the server <name> (lowercased,
// underscores dashed) maps to the variable's value. The ISOMORPHIQ_
// prefix wins on conflict.
func MCPEndpointsFromEnv() map[string]string {
	endpoints := make(map[string]string)
	for _, prefix := range []string{"MCP_", "ISOMORPHIQ_MCP_"} {
		for _, env := range os.Environ() {
			key, value, ok := strings.Cut(env, "=")
			if !ok || !strings.HasPrefix(key, prefix) || value == "" {
				continue
			}
			name := strings.TrimPrefix(key, prefix)
			if name == "" {
				continue
			}
			name = strings.ToLower(strings.ReplaceAll(name, "_", "-"))
			endpoints[name] = value
		}
	}
	return endpoints
}

// applyEnv layers environment overrides onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("DASHBOARD_URL"); v != "" {
		cfg.HTTP.DashboardURL = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	} else if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers.Count = n
		}
	}
	if v := os.Getenv("WORKER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Workers.PollInterval = Duration(d)
		}
	}
	if v := os.Getenv("WORKER_CLAIM_MODE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Workers.ClaimMode = enabled
		}
	}

	if model := ModelFromEnv(); model != "" {
		cfg.Agents.DefaultModel = model
	}

	if v := os.Getenv("SLACK_CHANNEL"); v != "" {
		cfg.Slack.Channel = v
		cfg.Slack.Enabled = true
	}

	for name, endpoint := range MCPEndpointsFromEnv() {
		if cfg.MCP.Endpoints == nil {
			cfg.MCP.Endpoints = make(map[string]string)
		}
		cfg.MCP.Endpoints[name] = endpoint
	}

	cfg.TestMode = TestModeFromEnv()
}
