package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zakops/gatekeep/backoff"
	"github.com/zakops/gatekeep/dlq"
	"github.com/zakops/gatekeep/ext"
	"github.com/zakops/gatekeep/store/memory"
	"github.com/zakops/gatekeep/task"
	"github.com/zakops/gatekeep/worker"
)

func TestPool_ExecutesEnqueuedTasks(t *testing.T) {
	t.Parallel()

	st := memory.New()
	registry := task.NewRegistry()
	logger := discard()

	var ran atomic.Int32
	registry.Register("ship", func(context.Context, []byte) error {
		ran.Add(1)
		return nil
	})

	executor := worker.NewExecutor(
		registry, ext.NewRegistry(logger), st,
		dlq.NewService(st, st),
		backoff.NewConstant(time.Millisecond),
		logger,
	)
	pool := worker.NewPool(st, executor, ext.NewRegistry(logger), logger,
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(5*time.Millisecond),
	)

	ctx := context.Background()
	for range 3 {
		if err := st.EnqueueTask(ctx, task.New("ship", nil)); err != nil {
			t.Fatalf("EnqueueTask: %v", err)
		}
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(context.Background()) //nolint:errcheck

	deadline := time.After(2 * time.Second)
	for ran.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("pool executed %d tasks, want 3", ran.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	count, err := st.CountTasks(ctx, task.CountOpts{Status: task.StatusCompleted})
	if err != nil {
		t.Fatalf("CountTasks: %v", err)
	}
	if count != 3 {
		t.Errorf("completed tasks = %d, want 3", count)
	}
}

func TestPool_StopIsGraceful(t *testing.T) {
	t.Parallel()

	st := memory.New()
	registry := task.NewRegistry()
	logger := discard()

	started := make(chan struct{})
	release := make(chan struct{})
	registry.Register("slow", func(ctx context.Context, _ []byte) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	executor := worker.NewExecutor(
		registry, ext.NewRegistry(logger), st,
		dlq.NewService(st, st),
		backoff.NewConstant(time.Millisecond),
		logger,
	)
	pool := worker.NewPool(st, executor, ext.NewRegistry(logger), logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(5*time.Millisecond),
	)

	ctx := context.Background()
	tsk := task.New("slow", nil)
	if err := st.EnqueueTask(ctx, tsk); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-started
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, err := st.GetTask(ctx, tsk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Errorf("status after graceful stop = %q, want completed", got.Status)
	}
}
