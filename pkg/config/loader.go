package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configFileName = "orchestrator.yaml"

// Initialize loads, merges, and validates the configuration.
//
// Steps performed:
//  1. Load .env into the process environment (missing file is fine)
//  2. Start from built-in defaults
//  3. Merge orchestrator.yaml from the workspace root, if present
//  4. Apply environment overrides
//  5. Detect the workspace root when not configured
//  6. Validate
func Initialize(startDir string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := Defaults()

	root, rootErr := DetectWorkspaceRoot(startDir)
	if rootErr == nil {
		if err := mergeFile(cfg, filepath.Join(root, configFileName)); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if cfg.WorkspaceRoot == "" {
		if rootErr != nil {
			return nil, rootErr
		}
		cfg.WorkspaceRoot = root
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	slog.Info("Configuration initialized",
		"workspace_root", cfg.WorkspaceRoot,
		"workers", cfg.Workers.Count,
		"claim_mode", cfg.Workers.ClaimMode,
		"test_mode", cfg.TestMode)
	return cfg, nil
}

// mergeFile merges an optional YAML file over the config. A missing file
// is not an error.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return NewLoadError(path, err)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Workers.Count < 1 {
		return fmt.Errorf("%w: workers.count must be at least 1", ErrInvalidValue)
	}
	if cfg.Workers.PollInterval.Std() <= 0 {
		return fmt.Errorf("%w: workers.poll_interval must be positive", ErrInvalidValue)
	}
	if cfg.Agents.TurnTimeout.Std() <= 0 {
		return fmt.Errorf("%w: agents.turn_timeout must be positive", ErrInvalidValue)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is required", ErrInvalidValue)
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required", ErrInvalidValue)
	}
	if cfg.Slack.Enabled && cfg.Slack.Channel == "" {
		return fmt.Errorf("%w: slack.channel is required when slack is enabled", ErrInvalidValue)
	}
	return nil
}

// SlackToken resolves the Slack bot token from the configured variable.
func (c *Config) SlackToken() string {
	if !c.Slack.Enabled {
		return ""
	}
	return os.Getenv(c.Slack.TokenEnv)
}
