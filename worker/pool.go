package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zakops/gatekeep/ext"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/task"
)

// QueueManager controls per-task-type rate limiting and concurrency.
// The worker pool calls Acquire before executing a claimed task and
// Release after execution completes.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the task type.
	// Returns true if the task is allowed to proceed.
	Acquire(taskType string) bool
	// Release decrements the active count for the task type.
	Release(taskType string)
}

// Pool manages a set of concurrent worker goroutines that claim tasks
// and execute them through the Executor.
type Pool struct {
	store        task.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Heartbeat / reaper configuration.
	heartbeatInterval   time.Duration
	staleClaimThreshold time.Duration

	// Queue manager (optional).
	queueManager QueueManager

	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	activeTasks map[string]context.CancelFunc
	activeMu    sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often workers poll for new tasks.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active tasks. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleClaimThreshold sets the threshold after which claimed tasks
// without a heartbeat are considered abandoned and returned to pending.
// A zero value disables the reaper.
func WithStaleClaimThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleClaimThreshold = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	store task.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  10,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeTasks:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleClaimThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active tasks are cancelled when time
// runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
		p.cancelActiveTasks()
		p.wg.Wait()
	}

	return nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		t, err := p.store.ClaimTask(context.Background(), p.workerID)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if t == nil {
			p.sleep()
			continue
		}

		// Check task-type rate limit and concurrency.
		if p.queueManager != nil && !p.queueManager.Acquire(t.Type) {
			// Rate limited. Return the task to pending with a small delay.
			nextRunAt := time.Now().UTC().Add(p.pollInterval)
			if retryErr := p.store.RetryTask(context.Background(), t.ID, t.ClaimedBy, t.Attempts, t.LastError, nextRunAt); retryErr != nil {
				p.logger.Error("failed to release rate-limited task",
					slog.String("task_id", t.ID.String()),
					slog.String("error", retryErr.Error()),
				)
			}
			p.sleep()
			continue
		}

		p.extensions.EmitTaskStarted(context.Background(), t)

		ctx, cancel := context.WithCancel(context.Background())
		p.trackTask(t.ID.String(), cancel)

		if execErr := p.executor.Execute(ctx, t); execErr != nil {
			p.logger.Debug("task execution failed",
				slog.String("task_id", t.ID.String()),
				slog.String("task_type", t.Type),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackTask(t.ID.String())
		cancel()

		if p.queueManager != nil {
			p.queueManager.Release(t.Type)
		}
	}
}

// heartbeatLoop periodically sends heartbeats for all active tasks.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	taskIDs := make([]string, 0, len(p.activeTasks))
	for taskID := range p.activeTasks {
		taskIDs = append(taskIDs, taskID)
	}
	p.activeMu.Unlock()

	for _, taskIDStr := range taskIDs {
		parsedID, parseErr := id.ParseTaskID(taskIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid task id", slog.String("task_id", taskIDStr))
			continue
		}
		if err := p.store.HeartbeatTask(context.Background(), parsedID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("task_id", taskIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically returns abandoned claims to pending.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleClaimThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleClaims()
		}
	}
}

func (p *Pool) reapStaleClaims() {
	stale, err := p.store.ReapStaleTasks(context.Background(), p.staleClaimThreshold)
	if err != nil {
		p.logger.Error("reap stale claims error", slog.String("error", err.Error()))
		return
	}

	for _, t := range stale {
		p.extensions.EmitStaleClaimReclaimed(context.Background(), t)
		p.logger.Info("reclaimed stale task",
			slog.String("task_id", t.ID.String()),
			slog.String("task_type", t.Type),
			slog.String("was_claimed_by", t.ClaimedBy.String()),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackTask(taskID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeTasks[taskID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackTask(taskID string) {
	p.activeMu.Lock()
	delete(p.activeTasks, taskID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveTasks() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for taskID, cancel := range p.activeTasks {
		p.logger.Warn("cancelling active task", slog.String("task_id", taskID))
		cancel()
	}
}
