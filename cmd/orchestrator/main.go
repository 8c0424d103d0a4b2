// Orchestrator server — runs the workflow worker pool and the HTTP API
// for health, profile overrides, and workflow status.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"

	"github.com/isomorphiq/orchestrator/pkg/acp"
	"github.com/isomorphiq/orchestrator/pkg/api"
	"github.com/isomorphiq/orchestrator/pkg/branch"
	"github.com/isomorphiq/orchestrator/pkg/config"
	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/database"
	"github.com/isomorphiq/orchestrator/pkg/dispatch"
	"github.com/isomorphiq/orchestrator/pkg/preflight"
	"github.com/isomorphiq/orchestrator/pkg/profile"
	"github.com/isomorphiq/orchestrator/pkg/prompt"
	"github.com/isomorphiq/orchestrator/pkg/slack"
	"github.com/isomorphiq/orchestrator/pkg/task"
	"github.com/isomorphiq/orchestrator/pkg/version"
	"github.com/isomorphiq/orchestrator/pkg/worker"
	"github.com/isomorphiq/orchestrator/pkg/workflow"
)

func main() {
	workspaceFlag := flag.String("workspace", "",
		"Workspace root (auto-detected from INIT_CWD/CWD when empty)")
	flag.Parse()

	logger := slog.Default()
	logger.Info("starting orchestrator", "version", version.Full())

	// 1. Configuration (loads .env, detects the workspace root, merges
	// orchestrator.yaml and env overrides).
	cfg, err := config.Initialize(*workspaceFlag)
	if err != nil {
		logger.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 2. Task database (postgres + embedded migrations). Structured DB_*
	// variables win over the merged DSN when DB_HOST is set.
	var dbClient *database.Client
	if os.Getenv("DB_HOST") != "" {
		dbCfg, cfgErr := database.LoadConfigFromEnv()
		if cfgErr != nil {
			logger.Error("failed to load database config", "error", cfgErr)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbCfg)
	} else {
		dbClient, err = database.NewClientFromDSN(ctx, cfg.Database.DSN)
	}
	if err != nil {
		logger.Error("failed to connect to task database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("error closing database client", "error", err)
		}
	}()
	taskStore := task.NewPostgresStore(dbClient.DB())
	logger.Info("connected to task database")

	// 3. Redis-backed context store and profile override store.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("error closing redis client", "error", err)
		}
	}()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Degraded mode: overrides are rejected and contexts fall back
		// once redis returns, so startup continues.
		logger.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
	}
	cancel()

	contexts := contextstore.NewRedisStore(rdb)
	profiles := profile.NewRegistry(profile.NewRedisOverrideStore(rdb), logger)

	// 4. MCP server declarations for agent sessions.
	mcpServers, err := config.LoadMCPServers(cfg.WorkspaceRoot, cfg.MCP.Endpoints)
	if err != nil {
		logger.Error("failed to load mcp server config", "error", err)
		os.Exit(1)
	}
	mcpTools := make(map[string][]string, len(mcpServers))
	mcpConfigs := make([]acp.MCPServerConfig, 0, len(mcpServers))
	for name, srv := range mcpServers {
		mcpTools[name] = srv.Tools
		mcpConfigs = append(mcpConfigs, acp.MCPServerConfig{
			Name:    name,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     srv.Env,
		})
	}
	logger.Info("mcp servers declared", "count", len(mcpServers))

	// 5. Branch manager; start every run from a clean main checkout.
	branches := branch.NewManager(cfg.WorkspaceRoot, logger)
	if err := branches.CheckoutMainBranch(ctx, "startup"); err != nil {
		logger.Warn("could not check out main branch at startup", "error", err)
	}

	// 6. Slack notifications (nil-safe when unconfigured).
	notifier := slack.NewService(slack.ServiceConfig{
		Token:        cfg.SlackToken(),
		Channel:      cfg.Slack.Channel,
		DashboardURL: cfg.HTTP.DashboardURL,
	})
	if notifier != nil {
		logger.Info("slack notifications enabled", "channel", cfg.Slack.Channel)
	}

	// 7. Workflow graph, agent driver, and dispatcher.
	graph := workflow.NewGraph()
	dispatcher := dispatch.New(dispatch.Config{
		Graph:     graph,
		Tasks:     taskStore,
		Contexts:  contexts,
		Profiles:  profiles,
		Preflight: preflight.NewRunner(cfg.WorkspaceRoot, logger),
		Prompts:   prompt.NewBuilder(graph, filepath.Join(cfg.WorkspaceRoot, "prompts")),
		Agents: acp.NewDriver(logger,
			acp.WithTurnTimeout(cfg.Agents.TurnTimeout.Std()),
			acp.WithDefaultModel(cfg.Agents.DefaultModel)),
		Branches:      branches,
		Notify:        notifier,
		MCPTools:      mcpTools,
		MCPConfigs:    mcpConfigs,
		WorkspaceRoot: cfg.WorkspaceRoot,
		Logger:        logger,
	})

	// 8. Worker pool.
	pool := worker.NewPool(cfg.Workers.Count, worker.Config{
		Graph:        graph,
		Tasks:        taskStore,
		Contexts:     contexts,
		Dispatcher:   dispatcher,
		Decider:      workflow.DefaultDecider(graph),
		PollInterval: cfg.Workers.PollInterval.Std(),
		ContextToken: cfg.Workers.ContextToken,
		ClaimMode:    cfg.Workers.ClaimMode,
		Logger:       logger,
	})
	pool.Start(ctx)
	logger.Info("workers running",
		"count", cfg.Workers.Count,
		"poll_interval", cfg.Workers.PollInterval.Std(),
		"claim_mode", cfg.Workers.ClaimMode)

	// 9. HTTP API; Serve blocks until the signal context is cancelled.
	e := echo.New()
	server := api.NewServer(profiles, taskStore, contexts, pool, logger)
	server.SetupRoutes(e)
	logger.Info("http server listening", "addr", cfg.HTTP.Addr)
	if err := server.Serve(ctx, e, cfg.HTTP.Addr); err != nil {
		logger.Error("http server error", "error", err)
	}

	// 10. Graceful shutdown: drain in-flight ticks.
	pool.Stop(30 * time.Second)
	logger.Info("shutdown complete")
}
