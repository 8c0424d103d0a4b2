package slack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/isomorphiq/orchestrator/pkg/task"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service handles task lifecycle notification delivery. Completion and
// failure messages are threaded under the task's start notification.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger

	mu      sync.Mutex
	threads map[string]string
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return NewServiceWithClient(NewClient(cfg.Token, cfg.Channel), cfg.DashboardURL)
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
		threads:      make(map[string]string),
	}
}

// TaskStarted sends a "task started" notification and caches its
// timestamp so later notifications thread under it.
// Fail-open: errors are logged, never returned.
func (s *Service) TaskStarted(ctx context.Context, t *task.Task, transition string) {
	if s == nil || t == nil {
		return
	}

	blocks := BuildStartedMessage(t.ID, t.Title, transition, s.dashboardURL)
	ts, err := s.client.PostMessage(ctx, blocks, "", 5*time.Second)
	if err != nil {
		s.logger.Error("Failed to send Slack start notification",
			"task_id", t.ID, "error", err)
		return
	}

	s.mu.Lock()
	s.threads[t.ID] = ts
	s.mu.Unlock()
}

// TaskCompleted sends a "task completed" notification, threaded under
// the start message when one is known.
// Fail-open: errors are logged, never returned.
func (s *Service) TaskCompleted(ctx context.Context, t *task.Task) {
	if s == nil || t == nil {
		return
	}
	s.post(ctx, t.ID, BuildCompletedMessage(t.ID, t.Title, s.dashboardURL), "completed")
}

// TaskFailed sends a "task failed" notification, threaded under the
// start message when one is known.
// Fail-open: errors are logged, never returned.
func (s *Service) TaskFailed(ctx context.Context, t *task.Task, reason string) {
	if s == nil || t == nil {
		return
	}
	s.post(ctx, t.ID, BuildFailedMessage(t.ID, t.Title, reason, s.dashboardURL), "failed")
}

// post threads the message under the task's start notification. The
// cached timestamp wins; after a restart the thread is recovered from
// channel history by the task marker.
func (s *Service) post(ctx context.Context, taskID string, blocks []goslack.Block, event string) {
	s.mu.Lock()
	threadTS := s.threads[taskID]
	s.mu.Unlock()

	if threadTS == "" {
		var err error
		threadTS, err = s.client.FindMessageByMarker(ctx, TaskMarker(taskID))
		if err != nil {
			s.logger.Warn("Failed to find Slack thread for task",
				"task_id", taskID, "error", err)
		}
	}

	if _, err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack notification",
			"task_id", taskID, "event", event, "error", err)
	}
}
