package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zakops/gatekeep/id"
)

// Sweeper periodically transitions pending approvals past their expiry
// to expired. The transition is a conditional update guarded by
// status = 'pending', so it races safely against human decisions:
// whichever lands first wins and the other observes zero rows.
type Sweeper struct {
	store    Store
	emitter  Emitter
	logger   *slog.Logger
	interval time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithSweeperEmitter sets the lifecycle emitter.
func WithSweeperEmitter(e Emitter) SweeperOption {
	return func(s *Sweeper) { s.emitter = e }
}

// WithSweeperLogger sets the structured logger.
func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = l }
}

// NewSweeper creates an expiry sweeper over the given store.
func NewSweeper(store Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		emitter:  nopEmitter{},
		logger:   slog.Default(),
		interval: 30 * time.Second,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					s.logger.Error("expiry sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// SweepOnce expires all overdue pending approvals and returns their IDs.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]id.ApprovalID, error) {
	expired, err := s.store.ExpireApprovals(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	for _, approvalID := range expired {
		s.emitter.EmitApprovalExpired(ctx, approvalID)
	}
	if len(expired) > 0 {
		s.logger.Info("expired pending approvals", slog.Int("count", len(expired)))
	}
	return expired, nil
}
