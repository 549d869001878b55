package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/action"
	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/audit"
	"github.com/zakops/gatekeep/checkpoint"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/task"
)

// TaskTypeToolExecution is the queue task type for approved actions.
const TaskTypeToolExecution = "tool_execution"

// ExecutePayload is the queue payload for an approved action.
type ExecutePayload struct {
	RunID      id.RunID        `json:"run_id"`
	ApprovalID id.ApprovalID   `json:"approval_id"`
	ActionName string          `json:"action_name"`
	ActionArgs json.RawMessage `json:"action_args"`
	ActorID    string          `json:"actor_id"`
}

// TaskEmitter receives task enqueue notifications. The ext registry
// implements this through an adapter at engine wiring time.
type TaskEmitter interface {
	EmitTaskEnqueued(ctx context.Context, t *task.Task)
}

type nopTaskEmitter struct{}

func (nopTaskEmitter) EmitTaskEnqueued(context.Context, *task.Task) {}

// GatePolicy decides whether a tier requires a human decision.
type GatePolicy func(tier approval.Tier) bool

// DefaultGatePolicy gates everything above read. Read-tier actions have
// no side effects and execute inline.
func DefaultGatePolicy(tier approval.Tier) bool {
	return tier.AtLeast(approval.TierWrite)
}

// Status is the outcome class of an invoke request.
type Status string

const (
	// StatusCompleted means the turn finished with final content.
	StatusCompleted Status = "completed"
	// StatusAwaitingApproval means the run is suspended at a gate.
	StatusAwaitingApproval Status = "awaiting_approval"
)

// InvokeRequest is one turn of user input against a run.
type InvokeRequest struct {
	// RunID resumes an existing run; the zero value starts a new one.
	RunID id.RunID
	// Message is the user input for this turn.
	Message string
	// ActorID is recorded as the requester on any approval created.
	ActorID string
}

// InvokeResult is the terminal state of one invoke turn.
type InvokeResult struct {
	RunID           id.RunID
	Status          Status
	Content         string
	PendingApproval *approval.Approval
	Outcomes        []Outcome
}

// Deps are the subsystems the orchestrator coordinates.
type Deps struct {
	Approvals   *approval.Service
	Checkpoints *checkpoint.Service
	Tasks       task.Store
	Executions  ExecutionStore
	Audit       audit.Store
}

// Orchestrator drives runs to completion or to an approval gate.
type Orchestrator struct {
	agent       Agent
	runner      Runner
	approvals   *approval.Service
	checkpoints *checkpoint.Service
	tasks       task.Store
	executions  ExecutionStore
	audit       audit.Store
	emitter     TaskEmitter
	gated       GatePolicy
	maxAttempts int
	taskTimeout time.Duration
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGatePolicy overrides which tiers require human approval.
func WithGatePolicy(p GatePolicy) Option {
	return func(o *Orchestrator) { o.gated = p }
}

// WithTaskEmitter sets the enqueue notification emitter.
func WithTaskEmitter(e TaskEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithMaxAttempts sets the execution budget for enqueued actions.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) { o.maxAttempts = n }
}

// WithTaskTimeout sets the per-execution timeout for enqueued actions.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.taskTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator over the given agent, runner and stores.
func New(agent Agent, runner Runner, deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		agent:       agent,
		runner:      runner,
		approvals:   deps.Approvals,
		checkpoints: deps.Checkpoints,
		tasks:       deps.Tasks,
		executions:  deps.Executions,
		audit:       deps.Audit,
		emitter:     nopTaskEmitter{},
		gated:       DefaultGatePolicy,
		maxAttempts: 5,
		taskTimeout: 5 * time.Minute,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// IdempotencyKey derives the dedup key for a gated action from the run,
// the action name and the exact argument bytes. Agent retries of the
// same proposal resolve to the same pending approval.
func IdempotencyKey(runID id.RunID, actionName string, args json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(runID.String()))
	h.Write([]byte{0})
	h.Write([]byte(actionName))
	h.Write([]byte{0})
	h.Write(args)
	return hex.EncodeToString(h.Sum(nil))
}

// Invoke drives one turn without streaming.
func (o *Orchestrator) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	return o.InvokeStream(ctx, req, NopSink{})
}

// InvokeStream drives one turn, streaming partial content through sink.
// It returns when the run completes or suspends at a gate; it never
// blocks waiting for a human decision.
func (o *Orchestrator) InvokeStream(ctx context.Context, req InvokeRequest, sink Sink) (*InvokeResult, error) {
	runID := req.RunID
	if runID.IsNil() {
		runID = id.NewRunID()
	}

	env, err := o.loadEnvelope(ctx, runID)
	if err != nil {
		return nil, err
	}

	res, err := o.agent.Step(ctx, StepInput{
		Message:  req.Message,
		State:    env.AgentState,
		Outcomes: env.Outcomes,
	}, sink)
	if err != nil {
		return nil, fmt.Errorf("gatekeep/orchestrator: agent step: %w", err)
	}
	env.AgentState = res.State

	if res.Proposal == nil {
		if err := o.saveEnvelope(ctx, env); err != nil {
			return nil, err
		}
		return &InvokeResult{
			RunID:    runID,
			Status:   StatusCompleted,
			Content:  res.Content,
			Outcomes: env.Outcomes,
		}, nil
	}

	p := res.Proposal
	if _, err := action.Decode(p.Action, p.Args); err != nil {
		return nil, err
	}
	tier := action.TierFor(p.Action)

	if !o.gated(tier) {
		return o.executeInline(ctx, env, p, res.Content)
	}

	// Checkpoint before the gate so a crash between persisting state
	// and creating the approval leaves a resumable run.
	if err := o.saveEnvelope(ctx, env); err != nil {
		return nil, err
	}

	a, err := o.approvals.CreatePending(ctx, approval.CreateParams{
		RunID:          runID,
		ActionName:     p.Action,
		ActionArgs:     p.Args,
		Tier:           tier,
		IdempotencyKey: IdempotencyKey(runID, p.Action, p.Args),
		RequestedBy:    req.ActorID,
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("run suspended at gate",
		slog.String("run_id", runID.String()),
		slog.String("approval_id", a.ID.String()),
		slog.String("action", p.Action),
		slog.String("tier", string(tier)),
	)
	return &InvokeResult{
		RunID:           runID,
		Status:          StatusAwaitingApproval,
		Content:         res.Content,
		PendingApproval: a,
		Outcomes:        env.Outcomes,
	}, nil
}

// executeInline runs an ungated action synchronously within the turn.
func (o *Orchestrator) executeInline(ctx context.Context, env *envelope, p *Proposal, content string) (*InvokeResult, error) {
	evt := audit.New(audit.EventExecutionStarted, audit.SystemActor, map[string]any{
		"action": p.Action,
		"inline": true,
	}).WithRun(env.RunID)
	if err := o.audit.AppendEvent(ctx, evt); err != nil {
		return nil, err
	}

	result, runErr := o.runner.Execute(ctx, p.Action, p.Args)

	now := time.Now().UTC()
	out := Outcome{Action: p.Action, At: now}
	if runErr != nil {
		out.Status = OutcomeFailed
		out.Error = runErr.Error()
		o.appendAudit(ctx, audit.New(audit.EventExecutionFailed, audit.SystemActor, map[string]any{
			"action": p.Action,
			"error":  runErr.Error(),
		}).WithRun(env.RunID))
	} else {
		out.Status = OutcomeExecuted
		out.Result = result
		o.appendAudit(ctx, audit.New(audit.EventExecutionCompleted, audit.SystemActor, map[string]any{
			"action": p.Action,
		}).WithRun(env.RunID))
	}
	env.Outcomes = append(env.Outcomes, out)

	if err := o.saveEnvelope(ctx, env); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, fmt.Errorf("gatekeep/orchestrator: execute %s: %w", p.Action, runErr)
	}
	return &InvokeResult{
		RunID:    env.RunID,
		Status:   StatusCompleted,
		Content:  content,
		Outcomes: env.Outcomes,
	}, nil
}

// Resume reacts to a decided approval. On approve it enqueues the
// action for execution and writes a post-gate checkpoint; on reject or
// expiry it records the outcome so the agent sees it next turn.
func (o *Orchestrator) Resume(ctx context.Context, a *approval.Approval) error {
	env, err := o.loadEnvelope(ctx, a.RunID)
	if err != nil {
		return err
	}

	switch a.Status {
	case approval.StatusApproved:
		payload, err := json.Marshal(ExecutePayload{
			RunID:      a.RunID,
			ApprovalID: a.ID,
			ActionName: a.ActionName,
			ActionArgs: a.ActionArgs,
			ActorID:    a.DecidedBy,
		})
		if err != nil {
			return fmt.Errorf("gatekeep/orchestrator: marshal execute payload: %w", err)
		}
		t := task.New(TaskTypeToolExecution, payload,
			task.WithMaxAttempts(o.maxAttempts),
			task.WithTimeout(o.taskTimeout),
		)
		if err := o.tasks.EnqueueTask(ctx, t); err != nil {
			return err
		}
		o.emitter.EmitTaskEnqueued(ctx, t)
		o.logger.Info("approved action enqueued",
			slog.String("run_id", a.RunID.String()),
			slog.String("approval_id", a.ID.String()),
			slog.String("task_id", t.ID.String()),
		)
		return o.saveEnvelope(ctx, env)

	case approval.StatusRejected:
		env.Outcomes = append(env.Outcomes, Outcome{
			ApprovalID: a.ID,
			Action:     a.ActionName,
			Status:     OutcomeRejected,
			Reason:     a.Reason,
			At:         time.Now().UTC(),
		})
		return o.saveEnvelope(ctx, env)

	case approval.StatusExpired:
		env.Outcomes = append(env.Outcomes, Outcome{
			ApprovalID: a.ID,
			Action:     a.ActionName,
			Status:     OutcomeExpired,
			At:         time.Now().UTC(),
		})
		return o.saveEnvelope(ctx, env)

	default:
		return fmt.Errorf("gatekeep/orchestrator: resume on %s approval: %w", a.Status, gatekeep.ErrInvalidState)
	}
}

// ExecuteApproved is the queue handler for tool_execution tasks. The
// journal row is claimed before the action runs: if a record already
// exists the cached result is honoured instead of executing again.
func (o *Orchestrator) ExecuteApproved(ctx context.Context, payload []byte) error {
	var p ExecutePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("gatekeep/orchestrator: decode execute payload: %w", err)
	}

	exec := &Execution{
		ID:         id.NewExecutionID(),
		RunID:      p.RunID,
		ApprovalID: p.ApprovalID,
		ActionName: p.ActionName,
		ActionArgs: p.ActionArgs,
		Status:     ExecutionStarted,
		StartedAt:  time.Now().UTC(),
	}
	existing, created, err := o.executions.CreateExecution(ctx, exec)
	if err != nil {
		return err
	}
	if !created {
		switch existing.Status {
		case ExecutionCompleted:
			// Duplicate delivery of an already-executed action.
			return nil
		case ExecutionStarted:
			// A previous attempt crashed mid-execution and we cannot
			// know whether the action took effect. Never re-run;
			// retries exhaust into the DLQ with full context.
			return fmt.Errorf("gatekeep/orchestrator: execution %s for approval %s in ambiguous state: %w",
				existing.ID, p.ApprovalID, gatekeep.ErrInvalidState)
		case ExecutionFailed:
			// The action ran and cleanly failed; retry under the
			// existing journal row.
			exec = existing
		}
	}

	o.appendAudit(ctx, audit.New(audit.EventExecutionStarted, p.ActorID, map[string]any{
		"action": p.ActionName,
	}).WithRun(p.RunID).WithApproval(p.ApprovalID).WithExecution(exec.ID))

	result, runErr := o.runner.Execute(ctx, p.ActionName, p.ActionArgs)
	if runErr != nil {
		if err := o.executions.FailExecution(ctx, exec.ID, runErr.Error()); err != nil {
			return err
		}
		o.appendAudit(ctx, audit.New(audit.EventExecutionFailed, p.ActorID, map[string]any{
			"action": p.ActionName,
			"error":  runErr.Error(),
		}).WithRun(p.RunID).WithApproval(p.ApprovalID).WithExecution(exec.ID))
		return fmt.Errorf("gatekeep/orchestrator: execute %s: %w", p.ActionName, runErr)
	}

	if err := o.executions.CompleteExecution(ctx, exec.ID, result); err != nil {
		return err
	}
	o.appendAudit(ctx, audit.New(audit.EventExecutionCompleted, p.ActorID, map[string]any{
		"action": p.ActionName,
	}).WithRun(p.RunID).WithApproval(p.ApprovalID).WithExecution(exec.ID))

	env, err := o.loadEnvelope(ctx, p.RunID)
	if err != nil {
		return err
	}
	env.Outcomes = append(env.Outcomes, Outcome{
		ApprovalID: p.ApprovalID,
		Action:     p.ActionName,
		Status:     OutcomeExecuted,
		Result:     result,
		At:         time.Now().UTC(),
	})
	return o.saveEnvelope(ctx, env)
}

// RunState aggregates the externally visible state of a run.
func (o *Orchestrator) RunState(ctx context.Context, runID id.RunID) (*RunState, error) {
	pending, err := o.approvals.ListPending(ctx, runID)
	if err != nil {
		return nil, err
	}

	state := &RunState{RunID: runID, PendingApprovals: pending}
	payload, seq, err := o.checkpoints.LoadLatest(ctx, runID)
	switch {
	case errors.Is(err, gatekeep.ErrCheckpointNotFound):
		if len(pending) == 0 {
			return nil, fmt.Errorf("gatekeep/orchestrator: run %s: %w", runID, gatekeep.ErrRunNotFound)
		}
		return state, nil
	case err != nil:
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("gatekeep/orchestrator: decode checkpoint envelope: %w", err)
	}
	state.LatestSeq = seq
	state.UpdatedAt = env.UpdatedAt
	state.Outcomes = env.Outcomes
	return state, nil
}

// loadEnvelope returns the run's latest checkpointed envelope, or a
// fresh one for a run with no checkpoints yet.
func (o *Orchestrator) loadEnvelope(ctx context.Context, runID id.RunID) (*envelope, error) {
	payload, _, err := o.checkpoints.LoadLatest(ctx, runID)
	if errors.Is(err, gatekeep.ErrCheckpointNotFound) {
		return &envelope{RunID: runID}, nil
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("gatekeep/orchestrator: decode checkpoint envelope: %w", err)
	}
	return &env, nil
}

func (o *Orchestrator) saveEnvelope(ctx context.Context, env *envelope) error {
	env.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("gatekeep/orchestrator: encode checkpoint envelope: %w", err)
	}
	_, err = o.checkpoints.Save(ctx, env.RunID, payload)
	return err
}

// appendAudit logs append failures on the asynchronous path instead of
// failing the execution; the journal row remains the source of truth.
func (o *Orchestrator) appendAudit(ctx context.Context, evt *audit.Event) {
	if err := o.audit.AppendEvent(ctx, evt); err != nil {
		o.logger.Error("audit append failed",
			slog.String("event_type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}
