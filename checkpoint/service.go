package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/zakops/gatekeep/id"
)

// Emitter receives checkpoint lifecycle notifications.
type Emitter interface {
	EmitCheckpointSaved(ctx context.Context, runID id.RunID, seq int64)
}

type nopEmitter struct{}

func (nopEmitter) EmitCheckpointSaved(context.Context, id.RunID, int64) {}

// Service composes a Store with a Codec so callers never handle
// ciphertext. All payloads pass through the codec on both paths, which
// is where production fail-closed semantics are enforced.
type Service struct {
	store   Store
	codec   *Codec
	emitter Emitter
	logger  *slog.Logger
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

// NewService creates a checkpoint Service.
func NewService(store Store, codec *Codec, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		codec:   codec,
		emitter: nopEmitter{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save encodes the payload and appends a new checkpoint for the run,
// returning its sequence number. A prior checkpoint is never
// overwritten.
func (s *Service) Save(ctx context.Context, runID id.RunID, payload []byte) (int64, error) {
	encoded, err := s.codec.Encode(payload)
	if err != nil {
		return 0, err
	}

	c := &Checkpoint{
		ID:        id.NewCheckpointID(),
		RunID:     runID,
		Payload:   encoded,
		CreatedAt: time.Now().UTC(),
	}
	seq, err := s.store.SaveCheckpoint(ctx, c)
	if err != nil {
		return 0, err
	}

	s.emitter.EmitCheckpointSaved(ctx, runID, seq)
	s.logger.Debug("checkpoint saved",
		slog.String("run_id", runID.String()),
		slog.Int64("seq", seq),
		slog.Bool("encrypted", s.codec.Enabled()),
	)
	return seq, nil
}

// LoadLatest returns the decoded payload of the run's highest-sequence
// checkpoint, or ErrCheckpointNotFound.
func (s *Service) LoadLatest(ctx context.Context, runID id.RunID) ([]byte, int64, error) {
	// Fail closed before touching storage: a missing production key
	// must refuse reads as well as writes.
	if _, err := s.codec.Decode(nil); err != nil {
		return nil, 0, err
	}

	c, err := s.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return nil, 0, err
	}
	payload, err := s.codec.Decode(c.Payload)
	if err != nil {
		return nil, 0, err
	}
	return payload, c.Seq, nil
}

// List returns the run's checkpoints ordered by sequence, payloads
// still encoded. Intended for diagnostics, not resumption.
func (s *Service) List(ctx context.Context, runID id.RunID) ([]*Checkpoint, error) {
	return s.store.ListCheckpoints(ctx, runID)
}
