package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func tempManager(t *testing.T) (*Manager, *FileStateStore) {
	t.Helper()
	store := NewFileStateStore(filepath.Join(t.TempDir(), "session.json"))
	mgr, err := NewManager(store, nil, noopLogger())
	if err != nil {
		t.Fatal(err)
	}
	return mgr, store
}

func testTargets() []Target {
	return []Target{
		{ID: "QQQ-index-20251003", Kind: KindIndexOptions, Underlying: "QQQ"},
		{ID: "AAPL-const", Kind: KindConstituentOptions, Underlying: "AAPL"},
		{ID: "AAPL-equity", Kind: KindEquitySnapshot, Underlying: "AAPL"},
	}
}

func TestInitializeRejectsDuplicateIDs(t *testing.T) {
	mgr, _ := tempManager(t)

	err := mgr.Initialize([]Target{{ID: "a"}, {ID: "a"}})
	if err == nil {
		t.Fatal("duplicate target ids should be rejected")
	}
}

func TestTargetLifecycle(t *testing.T) {
	ctx := context.Background()
	mgr, _ := tempManager(t)

	if err := mgr.Initialize(testTargets()); err != nil {
		t.Fatal(err)
	}
	if mgr.Status() != StatusReady {
		t.Fatalf("expected ready, got %s", mgr.Status())
	}

	target, ok := mgr.NextTarget()
	if !ok || target.ID != "QQQ-index-20251003" {
		t.Fatalf("unexpected next target %+v", target)
	}

	if err := mgr.Start(ctx, target.ID); err != nil {
		t.Fatal(err)
	}
	if mgr.Status() != StatusFetching {
		t.Fatalf("expected fetching, got %s", mgr.Status())
	}

	if err := mgr.Complete(ctx, target.ID, 120, 500); err != nil {
		t.Fatal(err)
	}

	summary := mgr.Summary()
	if summary.Completed != 1 || summary.Pending != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Stats.RecordsFetched != 120 || summary.Stats.UnitsConsumed != 500 {
		t.Fatalf("unexpected stats %+v", summary.Stats)
	}
}

func TestTargetInExactlyOneBucket(t *testing.T) {
	ctx := context.Background()
	mgr, _ := tempManager(t)

	if err := mgr.Initialize(testTargets()); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Start(ctx, "QQQ-index-20251003"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Complete(ctx, "QQQ-index-20251003", 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Start(ctx, "AAPL-const"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Fail(ctx, "AAPL-const", "boom", 3); err != nil {
		t.Fatal(err)
	}

	summary := mgr.Summary()
	if summary.Completed+summary.Failed+summary.Pending != summary.Total {
		t.Fatalf("buckets do not partition the target set: %+v", summary)
	}
	if summary.InProgress != "" {
		t.Fatalf("no target should remain in progress: %+v", summary)
	}
	if summary.Stats.Retries != 3 || summary.Stats.Errors != 1 {
		t.Fatalf("unexpected stats %+v", summary.Stats)
	}
}

func TestResumePointPrefersInProgress(t *testing.T) {
	ctx := context.Background()
	store := NewFileStateStore(filepath.Join(t.TempDir(), "session.json"))

	mgr, err := NewManager(store, nil, noopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Initialize(testTargets()); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Start(ctx, "AAPL-const"); err != nil {
		t.Fatal(err)
	}

	// Simulated crash: reload from disk.
	reloaded, err := NewManager(store, nil, noopLogger())
	if err != nil {
		t.Fatal(err)
	}

	target, ok := reloaded.ResumePoint()
	if !ok || target.ID != "AAPL-const" {
		t.Fatalf("resume should pick the in-progress target, got %+v", target)
	}
}

func TestResumePointFallsBackToPending(t *testing.T) {
	mgr, _ := tempManager(t)
	if err := mgr.Initialize(testTargets()); err != nil {
		t.Fatal(err)
	}

	target, ok := mgr.ResumePoint()
	if !ok || target.ID != "QQQ-index-20251003" {
		t.Fatalf("resume should fall back to pending head, got %+v", target)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr, _ := tempManager(t)
	if err := mgr.Initialize(testTargets()); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Start(ctx, "QQQ-index-20251003"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Complete(ctx, "QQQ-index-20251003", 10, 10); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Complete(ctx, "QQQ-index-20251003", 10, 10); err != nil {
		t.Fatal(err)
	}

	if got := len(mgr.CompletedTargets()); got != 1 {
		t.Fatalf("repeated completion should not duplicate, got %d entries", got)
	}
}

func TestStartCompletedTargetRejected(t *testing.T) {
	ctx := context.Background()
	mgr, _ := tempManager(t)
	if err := mgr.Initialize(testTargets()); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Start(ctx, "QQQ-index-20251003"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Complete(ctx, "QQQ-index-20251003", 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Start(ctx, "QQQ-index-20251003"); err == nil {
		t.Fatal("restarting a completed target should fail")
	}
}

func TestFinishStatusReflectsFailures(t *testing.T) {
	ctx := context.Background()
	mgr, _ := tempManager(t)
	if err := mgr.Initialize(testTargets()); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Finish(); err != nil {
		t.Fatal(err)
	}
	if mgr.Status() != StatusCompleted {
		t.Fatalf("no failures should finish completed, got %s", mgr.Status())
	}

	if err := mgr.Fail(ctx, "AAPL-const", "boom", 1); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Finish(); err != nil {
		t.Fatal(err)
	}
	if mgr.Status() != StatusFailed {
		t.Fatalf("failures should finish failed, got %s", mgr.Status())
	}
}

func TestCheckpointAppends(t *testing.T) {
	mgr, store := tempManager(t)
	if err := mgr.Initialize(testTargets()); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	state, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Checkpoints) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(state.Checkpoints))
	}
	if state.Checkpoints[0].Pending != 3 {
		t.Fatalf("unexpected checkpoint %+v", state.Checkpoints[0])
	}
}

func TestResetStartsFreshSession(t *testing.T) {
	mgr, _ := tempManager(t)
	if err := mgr.Initialize(testTargets()); err != nil {
		t.Fatal(err)
	}

	oldID := mgr.SessionID()
	time.Sleep(time.Millisecond)
	if err := mgr.Reset(); err != nil {
		t.Fatal(err)
	}

	if mgr.SessionID() == oldID {
		t.Fatal("reset should issue a new session id")
	}
	if summary := mgr.Summary(); summary.Total != 0 || summary.Status != StatusInitialized {
		t.Fatalf("reset should clear targets, got %+v", summary)
	}
}

func TestRetryableFailures(t *testing.T) {
	ctx := context.Background()
	mgr, _ := tempManager(t)
	if err := mgr.Initialize(testTargets()); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Fail(ctx, "AAPL-const", "boom", 1); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Fail(ctx, "AAPL-equity", "boom", 3); err != nil {
		t.Fatal(err)
	}

	retryable := mgr.RetryableFailures(3)
	if len(retryable) != 1 || retryable[0] != "AAPL-const" {
		t.Fatalf("unexpected retryable set %v", retryable)
	}
}

func TestStateStoreAbsentFile(t *testing.T) {
	store := NewFileStateStore(filepath.Join(t.TempDir(), "missing.json"))
	state, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if state != nil {
		t.Fatalf("absent file should load nil state, got %+v", state)
	}
}
