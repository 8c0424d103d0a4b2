package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerHealth is one worker's entry in the pool health snapshot.
type WorkerHealth struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Health is the pool snapshot served by the status endpoints.
type Health struct {
	Running bool           `json:"running"`
	Workers []WorkerHealth `json:"workers"`
}

// Pool runs a fixed set of workers and shuts them down together. A
// stopping pool lets in-flight ticks drain before Stop returns.
type Pool struct {
	workers []*Worker
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPool builds count workers from the shared config.
func NewPool(count int, cfg Config) *Pool {
	if count < 1 {
		count = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := make([]*Worker, count)
	for i := range workers {
		workers[i] = NewWorker(cfg)
	}
	return &Pool{workers: workers, logger: logger.With("component", "worker-pool")}
}

// Start launches all workers. Calling Start on a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(runCtx)
		}(w)
	}
	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(p.done)

	p.logger.Info("worker pool started", "workers", len(p.workers))
}

// Stop cancels the workers and waits for their current ticks to finish,
// up to the given grace period.
func (p *Pool) Stop(grace time.Duration) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
		p.logger.Info("worker pool drained")
	case <-time.After(grace):
		p.logger.Warn("worker pool stop timed out", "grace", grace)
	}
}

// Health reports the pool state for the health endpoint.
func (p *Pool) Health() Health {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	h := Health{Running: running, Workers: make([]WorkerHealth, 0, len(p.workers))}
	for _, w := range p.workers {
		h.Workers = append(h.Workers, WorkerHealth{ID: w.ID(), State: string(w.State())})
	}
	return h
}
