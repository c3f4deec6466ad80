package feedback

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/agentfabric/fabric/internal/events"
)

func newTestTracker(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(cfg, events.NewClock(), nil, logger)
}

func TestStartOperationEmitsInitializingStage(t *testing.T) {
	tr := newTestTracker(t, Config{})
	ctx := context.Background()

	id, err := tr.StartOperation(ctx, "story_generation", "user-1", nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	op, ok := tr.Get(id)
	if !ok {
		t.Fatal("expected operation to be tracked")
	}
	if op.Stage != "initializing" || op.Status != StatusRunning {
		t.Fatalf("unexpected initial state: %+v", op)
	}
}

func TestUpdateComputesProgressFromSteps(t *testing.T) {
	tr := newTestTracker(t, Config{})
	ctx := context.Background()
	total := 4
	id, _ := tr.StartOperation(ctx, "ingest", "", &total, nil)

	done := 2
	if err := tr.Update(ctx, id, UpdateOptions{StepsDone: &done}); err != nil {
		t.Fatalf("update: %v", err)
	}

	op, _ := tr.Get(id)
	if op.Progress != 0.5 {
		t.Fatalf("expected progress 0.5, got %f", op.Progress)
	}
	if op.UpdateCount != 1 {
		t.Fatalf("expected update_count 1, got %d", op.UpdateCount)
	}
}

func TestUpdateFailsClosedOnUnknownOperation(t *testing.T) {
	tr := newTestTracker(t, Config{})
	if err := tr.Update(context.Background(), "nope", UpdateOptions{}); err != ErrUnknownOperation {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestUpdateFailsClosedAtMaxUpdates(t *testing.T) {
	tr := newTestTracker(t, Config{MaxUpdatesPerOperation: 1})
	ctx := context.Background()
	id, _ := tr.StartOperation(ctx, "x", "", nil, nil)

	if err := tr.Update(ctx, id, UpdateOptions{}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := tr.Update(ctx, id, UpdateOptions{}); err != ErrUpdateLimitReached {
		t.Fatalf("expected ErrUpdateLimitReached, got %v", err)
	}
}

func TestCompleteOperationRemovesFromActiveSet(t *testing.T) {
	tr := newTestTracker(t, Config{})
	ctx := context.Background()
	id, _ := tr.StartOperation(ctx, "x", "", nil, nil)

	if err := tr.Complete(ctx, id, nil, true, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, ok := tr.Get(id); ok {
		t.Fatal("expected operation to be removed after completion")
	}
}

func TestCallbackInvokedOnUpdate(t *testing.T) {
	tr := newTestTracker(t, Config{})
	ctx := context.Background()
	id, _ := tr.StartOperation(ctx, "x", "", nil, nil)

	var got Operation
	called := make(chan struct{}, 1)
	token, ok := tr.AddCallback(id, func(op Operation) {
		got = op
		called <- struct{}{}
	})
	if !ok {
		t.Fatal("expected callback registration to succeed")
	}

	stage := "executing"
	if err := tr.Update(ctx, id, UpdateOptions{Stage: &stage}); err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
	if got.Stage != "executing" {
		t.Fatalf("callback saw stale state: %+v", got)
	}

	tr.RemoveCallback(id, token)
}

func TestSweepStaleFailsTimedOutOperations(t *testing.T) {
	tr := newTestTracker(t, Config{OperationTimeout: time.Millisecond, CleanupInterval: time.Hour})
	ctx := context.Background()
	id, _ := tr.StartOperation(ctx, "x", "", nil, nil)

	time.Sleep(5 * time.Millisecond)
	tr.sweepStale()

	if _, ok := tr.Get(id); ok {
		t.Fatal("expected stale operation to be failed and removed")
	}
}
