package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/audithook"
	"github.com/zakops/gatekeep/authz"
	"github.com/zakops/gatekeep/backoff"
	"github.com/zakops/gatekeep/checkpoint"
	"github.com/zakops/gatekeep/dlq"
	"github.com/zakops/gatekeep/ext"
	"github.com/zakops/gatekeep/id"
	mw "github.com/zakops/gatekeep/middleware"
	"github.com/zakops/gatekeep/orchestrator"
	"github.com/zakops/gatekeep/queue"
	"github.com/zakops/gatekeep/store"
	"github.com/zakops/gatekeep/task"
	"github.com/zakops/gatekeep/worker"
)

// ── Emitter adapters ──────────────────────────────────────────────
//
// Each domain package defines the emitter interface it needs;
// ext.Registry provides the implementation. These adapters plug the
// two together without the domain packages importing ext.

type extApprovalEmitter struct {
	r *ext.Registry
}

func (a *extApprovalEmitter) EmitApprovalCreated(ctx context.Context, apv *approval.Approval) {
	a.r.EmitApprovalCreated(ctx, apv)
}

func (a *extApprovalEmitter) EmitApprovalDecided(ctx context.Context, apv *approval.Approval, decision approval.Decision) {
	a.r.EmitApprovalDecided(ctx, apv, decision)
}

func (a *extApprovalEmitter) EmitApprovalExpired(ctx context.Context, approvalID id.ApprovalID) {
	a.r.EmitApprovalExpired(ctx, approvalID)
}

type extCheckpointEmitter struct {
	r *ext.Registry
}

func (a *extCheckpointEmitter) EmitCheckpointSaved(ctx context.Context, runID id.RunID, seq int64) {
	a.r.EmitCheckpointSaved(ctx, runID, seq)
}

type extTaskEmitter struct {
	r *ext.Registry
}

func (a *extTaskEmitter) EmitTaskEnqueued(ctx context.Context, t *task.Task) {
	a.r.EmitTaskEnqueued(ctx, t)
}

// Engine composes all gatekeep subsystems over one store.
// Use Build to create one.
type Engine struct {
	cfg        gatekeep.Config
	store      store.Store
	extensions *ext.Registry
	registry   *task.Registry
	dlqService *dlq.Service
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	approvals    *approval.Service
	sweeper      *approval.Sweeper
	checkpoints  *checkpoint.Service
	orchestrator *orchestrator.Orchestrator
	gate         *authz.Gate
	policy       authz.TierPolicy

	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware appends middleware to the engine's chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. The default is plain
// exponential doubling from the configured retry base, so delays grow
// strictly with each attempt.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers per-task-type rate limiting and concurrency
// configurations. Types not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithLogger sets the structured logger for the engine and everything
// it builds.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = l
	}
}

// WithTierPolicy overrides the role-per-tier authorization policy used
// by the API layer.
func WithTierPolicy(p authz.TierPolicy) Option {
	return func(eng *Engine) {
		eng.policy = p
	}
}

// WithTracerProvider sets a custom OTel TracerProvider. When unset the
// global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider. When unset the
// global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build wires an Engine from config, a store, and the agent/runner pair
// the orchestrator drives.
func Build(cfg gatekeep.Config, st store.Store, agent orchestrator.Agent, runner orchestrator.Runner, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, gatekeep.ErrNoStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := &Engine{
		cfg:      cfg,
		store:    st,
		registry: task.NewRegistry(),
		logger:   slog.Default(),
		policy:   authz.DefaultPolicy(),
	}
	eng.extensions = ext.NewRegistry(eng.logger)

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		// Retry delays must grow strictly: base, 2x, 4x up to the cap.
		// Jittered strategies stay opt-in through WithBackoff because
		// full jitter can shrink a later attempt below an earlier one.
		eng.bo = backoff.NewExponential(cfg.RetryBase, time.Hour)
	}

	// The audit hook records async lifecycle transitions (task queue,
	// checkpoints, stale claims) in the ledger. Approval transitions
	// are not hooked here: the store writes those in the same
	// transaction as the transition itself.
	eng.extensions.Register(audithook.New(st))

	eng.dlqService = dlq.NewService(st, st)

	eng.approvals = approval.NewService(st,
		approval.WithEmitter(&extApprovalEmitter{r: eng.extensions}),
		approval.WithLogger(eng.logger),
		approval.WithDefaultTTL(cfg.ApprovalTTL),
	)

	eng.sweeper = approval.NewSweeper(st,
		approval.WithSweeperEmitter(&extApprovalEmitter{r: eng.extensions}),
		approval.WithSweeperLogger(eng.logger),
		approval.WithSweepInterval(cfg.SweepInterval),
	)

	codec, err := checkpoint.NewCodec(cfg.EncryptionKey, cfg.Production)
	if err != nil {
		return nil, fmt.Errorf("gatekeep/engine: checkpoint codec: %w", err)
	}
	eng.checkpoints = checkpoint.NewService(st, codec,
		checkpoint.WithEmitter(&extCheckpointEmitter{r: eng.extensions}),
		checkpoint.WithLogger(eng.logger),
	)

	eng.orchestrator = orchestrator.New(agent, runner,
		orchestrator.Deps{
			Approvals:   eng.approvals,
			Checkpoints: eng.checkpoints,
			Tasks:       st,
			Executions:  st,
			Audit:       st,
		},
		orchestrator.WithTaskEmitter(&extTaskEmitter{r: eng.extensions}),
		orchestrator.WithMaxAttempts(cfg.TaskMaxAttempts),
		orchestrator.WithTaskTimeout(5*time.Minute),
		orchestrator.WithLogger(eng.logger),
	)

	// Approved actions flow back through the task queue into the
	// execution journal.
	eng.registry.Register(orchestrator.TaskTypeToolExecution, eng.orchestrator.ExecuteApproved)

	if cfg.JWTSecret != "" {
		eng.gate = authz.NewGate([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/zakops/gatekeep")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/zakops/gatekeep")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover, tracing, metrics, logging, timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.extensions, st, eng.dlqService, eng.bo, eng.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleClaimThreshold(cfg.StaleClaimThreshold),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(st, executor, eng.extensions, eng.logger, poolOpts...)

	return eng, nil
}

// Start begins background processing: the expiry sweeper and the worker
// pool.
func (eng *Engine) Start(ctx context.Context) error {
	eng.sweeper.Start(ctx)
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("gatekeep/engine: start pool: %w", err)
	}
	eng.logger.Info("engine started",
		slog.Int("concurrency", eng.cfg.Concurrency),
		slog.String("worker_id", eng.pool.WorkerID().String()),
	)
	return nil
}

// Stop gracefully shuts down the engine: stop claiming, drain running
// tasks, stop the sweeper and notify extensions.
func (eng *Engine) Stop(ctx context.Context) error {
	err := eng.pool.Stop(ctx)
	eng.sweeper.Stop()
	eng.extensions.EmitShutdown(ctx)
	if err != nil {
		return fmt.Errorf("gatekeep/engine: stop pool: %w", err)
	}
	return nil
}

// RegisterTask registers a typed task definition with the engine.
func RegisterTask[T any](eng *Engine, def *task.Definition[T]) {
	task.RegisterDefinition(eng.registry, def)
}

// Store returns the underlying aggregate store.
func (eng *Engine) Store() store.Store { return eng.store }

// Backoff returns the retry backoff strategy in effect.
func (eng *Engine) Backoff() backoff.Strategy { return eng.bo }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// Approvals returns the approval service.
func (eng *Engine) Approvals() *approval.Service { return eng.approvals }

// Sweeper returns the expiry sweeper.
func (eng *Engine) Sweeper() *approval.Sweeper { return eng.sweeper }

// Checkpoints returns the checkpoint service.
func (eng *Engine) Checkpoints() *checkpoint.Service { return eng.checkpoints }

// Orchestrator returns the run orchestrator.
func (eng *Engine) Orchestrator() *orchestrator.Orchestrator { return eng.orchestrator }

// DLQService returns the dead letter service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Gate returns the authorization gate, or nil when no JWT secret is
// configured (development only).
func (eng *Engine) Gate() *authz.Gate { return eng.gate }

// TierPolicy returns the role-per-tier authorization policy.
func (eng *Engine) TierPolicy() authz.TierPolicy { return eng.policy }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
