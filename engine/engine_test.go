package engine_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/backoff"
	"github.com/zakops/gatekeep/engine"
	"github.com/zakops/gatekeep/orchestrator"
	"github.com/zakops/gatekeep/store/memory"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopAgent struct{}

func (nopAgent) Step(context.Context, orchestrator.StepInput, orchestrator.Sink) (*orchestrator.StepResult, error) {
	return &orchestrator.StepResult{Content: "ok"}, nil
}

type nopRunner struct{}

func (nopRunner) Execute(context.Context, string, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}

func build(t *testing.T, cfg gatekeep.Config, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append(opts, engine.WithLogger(discard()))
	eng, err := engine.Build(cfg, memory.New(), nopAgent{}, nopRunner{}, opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return eng
}

func TestBuild_NoStore(t *testing.T) {
	t.Parallel()

	_, err := engine.Build(gatekeep.DefaultConfig(), nil, nopAgent{}, nopRunner{})
	if err != gatekeep.ErrNoStore {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

// Retry delays must start at the configured base and grow with every
// attempt until the cap. A failing task waits longer each time, never
// shorter.
func TestBuild_DefaultBackoffStrictlyIncreases(t *testing.T) {
	t.Parallel()

	cfg := gatekeep.DefaultConfig()
	eng := build(t, cfg)

	bo := eng.Backoff()
	if got := bo.Delay(1); got != cfg.RetryBase {
		t.Errorf("Delay(1) = %v, want retry base %v", got, cfg.RetryBase)
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := bo.Delay(attempt)
		if d <= prev {
			t.Fatalf("Delay(%d) = %v, not greater than Delay(%d) = %v", attempt, d, attempt-1, prev)
		}
		prev = d
	}
}

func TestBuild_BackoffOverride(t *testing.T) {
	t.Parallel()

	want := backoff.NewConstant(time.Second)
	eng := build(t, gatekeep.DefaultConfig(), engine.WithBackoff(want))
	if eng.Backoff() != backoff.Strategy(want) {
		t.Fatal("WithBackoff override not in effect")
	}
}

func TestBuild_GateOnlyWithSecret(t *testing.T) {
	t.Parallel()

	if eng := build(t, gatekeep.DefaultConfig()); eng.Gate() != nil {
		t.Error("gate configured without a JWT secret")
	}

	cfg := gatekeep.DefaultConfig()
	cfg.JWTSecret = "secret"
	if eng := build(t, cfg); eng.Gate() == nil {
		t.Error("gate missing despite JWT secret")
	}
}
