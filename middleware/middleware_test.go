package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/middleware"
	"github.com/zakops/gatekeep/task"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *task.Task, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *task.Task, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	tk := &task.Task{Type: "test", ID: id.NewTaskID()}
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	err := chain(context.Background(), tk, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) error {
		called = true
		return nil
	}

	err := chain(context.Background(), &task.Task{ID: id.NewTaskID()}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *task.Task, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	err := chain(context.Background(), &task.Task{ID: id.NewTaskID()}, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	tk := &task.Task{Type: "panicky", ID: id.NewTaskID()}

	err := mw(context.Background(), tk, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in task panicky: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_LogsGatedAction(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mw := middleware.Recover(logger)
	tk := &task.Task{
		Type:    "tool_execution",
		ID:      id.NewTaskID(),
		Payload: []byte(`{"action_name":"transition_deal","action_args":{}}`),
	}

	err := mw(context.Background(), tk, func(_ context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	out := buf.String()
	if !strings.Contains(out, "action=transition_deal") {
		t.Errorf("panic log missing gated action: %s", out)
	}
	if !strings.Contains(out, "attempt=1") {
		t.Errorf("panic log missing attempt: %s", out)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	tk := &task.Task{Type: "normal", ID: id.NewTaskID()}

	called := false
	err := mw(context.Background(), tk, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	tk := &task.Task{Type: "slow", ID: id.NewTaskID(), Timeout: 10 * time.Millisecond}

	err := mw(context.Background(), tk, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTimeout_AnnotatesDeadlineError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mw := middleware.Timeout(logger)
	tk := &task.Task{
		Type:    "tool_execution",
		ID:      id.NewTaskID(),
		Timeout: 10 * time.Millisecond,
		Payload: []byte(`{"action_name":"delete_records"}`),
	}

	err := mw(context.Background(), tk, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeded 10ms deadline") {
		t.Errorf("error not annotated with deadline: %v", err)
	}
	if !strings.Contains(buf.String(), "action=delete_records") {
		t.Errorf("deadline log missing gated action: %s", buf.String())
	}
}

func TestTimeout_PassesThroughHandlerError(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	tk := &task.Task{Type: "flaky", ID: id.NewTaskID(), Timeout: time.Second}

	want := errors.New("boom")
	err := mw(context.Background(), tk, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_ZeroIsUnbounded(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	tk := &task.Task{Type: "fast", ID: id.NewTaskID()}

	err := mw(context.Background(), tk, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			return errors.New("unexpected deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogging_PassesThroughError(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	tk := &task.Task{Type: "noisy", ID: id.NewTaskID()}

	want := errors.New("boom")
	err := mw(context.Background(), tk, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
