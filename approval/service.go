package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/audit"
	"github.com/zakops/gatekeep/id"
)

// Emitter receives approval lifecycle notifications. The ext registry
// implements this through an adapter at engine wiring time; the
// interface lives here to avoid an import cycle.
type Emitter interface {
	EmitApprovalCreated(ctx context.Context, a *Approval)
	EmitApprovalDecided(ctx context.Context, a *Approval, decision Decision)
	EmitApprovalExpired(ctx context.Context, approvalID id.ApprovalID)
}

// nopEmitter is used when no emitter is configured.
type nopEmitter struct{}

func (nopEmitter) EmitApprovalCreated(context.Context, *Approval)          {}
func (nopEmitter) EmitApprovalDecided(context.Context, *Approval, Decision) {}
func (nopEmitter) EmitApprovalExpired(context.Context, id.ApprovalID)      {}

// CreateParams are the inputs to Service.CreatePending.
type CreateParams struct {
	RunID          id.RunID
	ActionName     string
	ActionArgs     json.RawMessage
	Tier           Tier
	IdempotencyKey string
	RequestedBy    string
	// TTL overrides the service default expiry when positive.
	TTL time.Duration
}

func (p CreateParams) validate() error {
	if p.RunID.IsNil() {
		return fmt.Errorf("%w: run id required", gatekeep.ErrValidation)
	}
	if strings.TrimSpace(p.ActionName) == "" {
		return fmt.Errorf("%w: action name required", gatekeep.ErrValidation)
	}
	if strings.TrimSpace(p.IdempotencyKey) == "" {
		return fmt.Errorf("%w: idempotency key required", gatekeep.ErrValidation)
	}
	if strings.TrimSpace(p.RequestedBy) == "" {
		return fmt.Errorf("%w: requester required", gatekeep.ErrValidation)
	}
	if !p.Tier.Valid() {
		return fmt.Errorf("%w: unknown permission tier %q", gatekeep.ErrValidation, p.Tier)
	}
	return nil
}

// Service provides the approval registry operations over a Store.
type Service struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
	ttl     time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) ServiceOption {
	return func(s *Service) { s.emitter = e }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithDefaultTTL sets the default pending-approval expiry.
func WithDefaultTTL(d time.Duration) ServiceOption {
	return func(s *Service) { s.ttl = d }
}

// NewService creates an approval Service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		emitter: nopEmitter{},
		logger:  slog.Default(),
		ttl:     time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePending registers a proposed action as a pending approval.
// The gate is idempotent under agent retries: if an approval with the
// same idempotency key already exists, it is returned unchanged and no
// duplicate row or audit event is created.
func (s *Service) CreatePending(ctx context.Context, p CreateParams) (*Approval, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := time.Now().UTC()
	a := &Approval{
		ID:             id.NewApprovalID(),
		RunID:          p.RunID,
		ActionName:     p.ActionName,
		ActionArgs:     p.ActionArgs,
		Tier:           p.Tier,
		Status:         StatusPending,
		IdempotencyKey: p.IdempotencyKey,
		RequestedBy:    p.RequestedBy,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}

	evt := audit.New(audit.EventApprovalCreated, p.RequestedBy, map[string]any{
		"action_name":     p.ActionName,
		"permission_tier": string(p.Tier),
		"idempotency_key": p.IdempotencyKey,
		"expires_at":      a.ExpiresAt.Format(time.RFC3339),
	}).WithRun(p.RunID).WithApproval(a.ID)

	stored, created, err := s.store.CreateApproval(ctx, a, evt)
	if err != nil {
		return nil, err
	}
	if !created {
		s.logger.Info("approval create resolved to existing",
			slog.String("approval_id", stored.ID.String()),
			slog.String("idempotency_key", p.IdempotencyKey),
		)
		return stored, nil
	}

	s.emitter.EmitApprovalCreated(ctx, stored)
	s.logger.Info("approval created",
		slog.String("approval_id", stored.ID.String()),
		slog.String("run_id", p.RunID.String()),
		slog.String("action_name", p.ActionName),
		slog.String("permission_tier", string(p.Tier)),
	)
	return stored, nil
}

// Claim decides a pending approval. Exactly one concurrent caller wins;
// the rest receive ErrAlreadyDecided. The decision and its audit event
// are written in one transaction: if the append fails, the approval
// stays pending.
func (s *Service) Claim(ctx context.Context, approvalID id.ApprovalID, actorID string, decision Decision, reason string) (*Approval, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, fmt.Errorf("%w: actor id required", gatekeep.ErrValidation)
	}
	if decision != Approve && decision != Reject {
		return nil, fmt.Errorf("%w: unknown decision %q", gatekeep.ErrValidation, decision)
	}
	if decision == Reject && strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: rejection requires a reason", gatekeep.ErrValidation)
	}

	eventType := audit.EventApprovalApproved
	if decision == Reject {
		eventType = audit.EventApprovalRejected
	}
	evt := audit.New(eventType, actorID, map[string]any{
		"decision": string(decision),
		"reason":   reason,
	}).WithApproval(approvalID)

	decided, err := s.store.DecideApproval(ctx, approvalID, actorID, decision, reason, evt)
	if err != nil {
		return nil, err
	}

	s.emitter.EmitApprovalDecided(ctx, decided, decision)
	s.logger.Info("approval decided",
		slog.String("approval_id", approvalID.String()),
		slog.String("actor_id", actorID),
		slog.String("decision", string(decision)),
	)
	return decided, nil
}

// Get retrieves an approval by ID.
func (s *Service) Get(ctx context.Context, approvalID id.ApprovalID) (*Approval, error) {
	return s.store.GetApproval(ctx, approvalID)
}

// List returns approvals matching the given options.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Approval, error) {
	return s.store.ListApprovals(ctx, opts)
}

// ListPending returns pending approvals, optionally scoped to a run.
func (s *Service) ListPending(ctx context.Context, runID id.RunID) ([]*Approval, error) {
	return s.store.ListApprovals(ctx, ListOpts{RunID: runID, Status: StatusPending})
}
