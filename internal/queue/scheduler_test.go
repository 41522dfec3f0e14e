package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testScheduler(t *testing.T, config *SchedulerConfig) (*Scheduler, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(NewMemoryTaskStore(), config)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestScheduler_EnqueueAndReady(t *testing.T) {
	ctx := context.Background()
	s, _ := testScheduler(t, nil)

	id, err := s.Enqueue(ctx, StageTranscribe, "item-1", PriorityNormal, nil, 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty task ID")
	}

	ready, err := s.Ready(ctx)
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != id {
		t.Fatalf("ready = %v, want the single enqueued task", ready)
	}
	if ready[0].MaxAttempts != DefaultMaxAttempts {
		t.Errorf("max attempts = %d, want default %d", ready[0].MaxAttempts, DefaultMaxAttempts)
	}
}

func TestScheduler_ReadyOrdering(t *testing.T) {
	ctx := context.Background()
	s, now := testScheduler(t, nil)

	// Oldest normal first, then a high-priority latecomer.
	normalOld, _ := s.Enqueue(ctx, StageEmbed, "item-1", PriorityNormal, nil, 0)
	*now = now.Add(time.Second)
	normalNew, _ := s.Enqueue(ctx, StageEmbed, "item-2", PriorityNormal, nil, 0)
	*now = now.Add(time.Second)
	high, _ := s.Enqueue(ctx, StageStore, "item-3", PriorityHigh, nil, 0)
	low, _ := s.Enqueue(ctx, StageSummarize, "item-4", PriorityLow, nil, 0)

	ready, err := s.Ready(ctx)
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}

	want := []string{high, normalOld, normalNew, low}
	if len(ready) != len(want) {
		t.Fatalf("got %d ready tasks, want %d", len(ready), len(want))
	}
	for i, id := range want {
		if ready[i].ID != id {
			t.Errorf("ready[%d] = %s, want %s", i, ready[i].ID, id)
		}
	}
}

func TestScheduler_ReadyBatchLimit(t *testing.T) {
	ctx := context.Background()
	s, _ := testScheduler(t, &SchedulerConfig{BatchSize: 10})

	for i := 0; i < 25; i++ {
		if _, err := s.Enqueue(ctx, StageStore, "item", PriorityNormal, nil, 0); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	ready, err := s.Ready(ctx)
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if len(ready) != 10 {
		t.Errorf("got %d ready tasks, want batch limit 10", len(ready))
	}
}

func TestScheduler_BackoffDoublesAndCaps(t *testing.T) {
	ctx := context.Background()
	s, now := testScheduler(t, &SchedulerConfig{
		BaseRetryDelay: 30 * time.Second,
		MaxRetryDelay:  time.Hour,
	})

	id, _ := s.Enqueue(ctx, StageTranscribe, "item-1", PriorityNormal, nil, 0)

	wantDelays := []time.Duration{
		60 * time.Second,  // attempt 1
		120 * time.Second, // attempt 2
		240 * time.Second,
		480 * time.Second,
		960 * time.Second,
		1920 * time.Second,
		time.Hour, // capped
		time.Hour,
	}

	for i, want := range wantDelays {
		if err := s.RecordFailure(ctx, id, errors.New("boom")); err != nil {
			t.Fatalf("RecordFailure #%d: %v", i+1, err)
		}
		task, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if task.NextRetryAt == nil {
			t.Fatalf("attempt %d: NextRetryAt not set", i+1)
		}
		if got := task.NextRetryAt.Sub(*now); got != want {
			t.Errorf("attempt %d: backoff = %v, want %v", i+1, got, want)
		}
	}
}

func TestScheduler_BackedOffTaskNotReady(t *testing.T) {
	ctx := context.Background()
	s, now := testScheduler(t, nil)

	id, _ := s.Enqueue(ctx, StageEmbed, "item-1", PriorityNormal, nil, 0)
	if err := s.RecordFailure(ctx, id, errors.New("transient")); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	ready, _ := s.Ready(ctx)
	if len(ready) != 0 {
		t.Fatal("backed-off task should not be ready immediately")
	}

	*now = now.Add(61 * time.Second)
	ready, _ = s.Ready(ctx)
	if len(ready) != 1 {
		t.Fatal("task should be ready after its backoff elapses")
	}
}

func TestScheduler_RecordSuccessClearsFailureState(t *testing.T) {
	ctx := context.Background()
	s, now := testScheduler(t, nil)

	id, _ := s.Enqueue(ctx, StageSummarize, "item-1", PriorityNormal, nil, 0)
	s.RecordFailure(ctx, id, errors.New("transient"))
	*now = now.Add(2 * time.Minute)

	if err := s.RecordSuccess(ctx, id); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	task, _ := s.Get(ctx, id)
	if !task.Completed {
		t.Error("task not marked completed")
	}
	if task.LastError != "" {
		t.Errorf("last error = %q, want cleared", task.LastError)
	}
	if task.NextRetryAt != nil {
		t.Error("retry schedule not cleared")
	}

	ready, _ := s.Ready(ctx)
	if len(ready) != 0 {
		t.Error("completed task must never be ready")
	}
}

func TestScheduler_ExhaustedBudgetFiresCallback(t *testing.T) {
	ctx := context.Background()
	s, _ := testScheduler(t, nil)

	var exhaustedTask *Task
	var exhaustedErr error
	s.OnExhausted(func(ctx context.Context, task *Task, lastErr error) {
		exhaustedTask = task
		exhaustedErr = lastErr
	})

	id, _ := s.Enqueue(ctx, StageTranscribe, "item-1", PriorityNormal, nil, 3)

	for i := 0; i < 2; i++ {
		s.RecordFailure(ctx, id, errors.New("transient"))
	}
	if exhaustedTask != nil {
		t.Fatal("callback fired before budget was spent")
	}

	finalErr := errors.New("connection refused after 3 tries")
	if err := s.RecordFailure(ctx, id, finalErr); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	if exhaustedTask == nil {
		t.Fatal("exhausted callback never fired")
	}
	if exhaustedTask.ID != id {
		t.Errorf("callback task = %s, want %s", exhaustedTask.ID, id)
	}
	if exhaustedErr != finalErr {
		t.Errorf("callback error = %v, want the final error verbatim", exhaustedErr)
	}
	if exhaustedTask.LastError != finalErr.Error() {
		t.Errorf("last error = %q, want %q", exhaustedTask.LastError, finalErr.Error())
	}

	if exhaustedTask.NextRetryAt != nil {
		t.Error("no retry should be scheduled once the budget is spent")
	}

	ready, _ := s.Ready(ctx)
	if len(ready) != 0 {
		t.Error("exhausted task must never be ready")
	}
}

func TestScheduler_FailPermanently(t *testing.T) {
	ctx := context.Background()
	s, _ := testScheduler(t, nil)

	fired := false
	s.OnExhausted(func(ctx context.Context, task *Task, lastErr error) { fired = true })

	id, _ := s.Enqueue(ctx, StageEmbed, "item-1", PriorityNormal, nil, 10)
	if err := s.FailPermanently(ctx, id, errors.New("empty input")); err != nil {
		t.Fatalf("FailPermanently: %v", err)
	}

	if !fired {
		t.Error("exhausted callback should fire on permanent failure")
	}
	task, _ := s.Get(ctx, id)
	if !task.Exhausted() {
		t.Error("task should have no budget left")
	}
	ready, _ := s.Ready(ctx)
	if len(ready) != 0 {
		t.Error("permanently failed task must never be ready")
	}
}

func TestScheduler_SweepRemovesOldCompleted(t *testing.T) {
	ctx := context.Background()
	s, now := testScheduler(t, &SchedulerConfig{Retention: 24 * time.Hour})

	oldID, _ := s.Enqueue(ctx, StageStore, "item-1", PriorityNormal, nil, 0)
	s.RecordSuccess(ctx, oldID)

	pendingID, _ := s.Enqueue(ctx, StageStore, "item-2", PriorityNormal, nil, 0)

	*now = now.Add(25 * time.Hour)
	freshID, _ := s.Enqueue(ctx, StageStore, "item-3", PriorityNormal, nil, 0)
	s.RecordSuccess(ctx, freshID)

	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := s.Get(ctx, oldID); err == nil {
		t.Error("old completed task should be gone")
	}
	if _, err := s.Get(ctx, freshID); err != nil {
		t.Error("fresh completed task should survive the sweep")
	}
	if _, err := s.Get(ctx, pendingID); err != nil {
		t.Error("pending task should survive the sweep regardless of age")
	}
}

func TestScheduler_Stats(t *testing.T) {
	ctx := context.Background()
	s, _ := testScheduler(t, nil)

	readyID, _ := s.Enqueue(ctx, StageStore, "item-1", PriorityNormal, nil, 0)
	_ = readyID

	waitingID, _ := s.Enqueue(ctx, StageEmbed, "item-2", PriorityNormal, nil, 0)
	s.RecordFailure(ctx, waitingID, errors.New("transient"))

	doneID, _ := s.Enqueue(ctx, StageSummarize, "item-3", PriorityNormal, nil, 0)
	s.RecordSuccess(ctx, doneID)

	deadID, _ := s.Enqueue(ctx, StageTranscribe, "item-4", PriorityNormal, nil, 1)
	s.RecordFailure(ctx, deadID, errors.New("fatal"))

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := Stats{Pending: 1, Waiting: 1, Completed: 1, Exhausted: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}
