// Package queue provides per-task-type rate limiting and concurrency
// caps for the worker pool. A tool executor can be throttled without
// starving lighter follow-up work.
package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-type behaviour such as rate limiting and concurrency.
type Config struct {
	// Type is the task type this config applies to.
	Type string

	// MaxConcurrency limits how many tasks of this type may run
	// simultaneously across the local worker pool. Zero means no
	// type-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained tasks per second of this type
	// that may be claimed. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single task type.
type typeState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-type rate limiting and concurrency.
// Safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewManager creates a Manager with the given configurations.
// Task types not listed have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{types: make(map[string]*typeState, len(configs))}
	for _, cfg := range configs {
		m.types[cfg.Type] = newTypeState(cfg)
	}
	return m
}

func newTypeState(cfg Config) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate limits and concurrency for the given task type.
// If allowed it increments the active counter and returns true; the
// caller MUST call Release when execution completes.
func (m *Manager) Acquire(taskType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.types[taskType]
	if ts == nil {
		return true
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active count for the task type.
func (m *Manager) Release(taskType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[taskType]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetConfig dynamically updates (or creates) a task type configuration,
// preserving the current active count.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.types[cfg.Type]
	ts := newTypeState(cfg)
	if existing != nil {
		ts.active = existing.active
	}
	m.types[cfg.Type] = ts
}

// ActiveCount returns the current number of active tasks for a type.
func (m *Manager) ActiveCount(taskType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[taskType]; ts != nil {
		return ts.active
	}
	return 0
}
