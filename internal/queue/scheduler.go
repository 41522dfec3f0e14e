package queue

import (
	"context"
	"math"
	"sort"
	"time"
)

const (
	DefaultMaxAttempts = 10
	DefaultBatchSize   = 10

	defaultBaseRetryDelay = 30 * time.Second
	defaultMaxRetryDelay  = time.Hour
)

// TaskStore persists tasks. The scheduler owns all ordering and retry math;
// stores only hold state.
type TaskStore interface {
	Save(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	All(ctx context.Context) ([]*Task, error)
	Delete(ctx context.Context, id string) error
}

// Stats is a point-in-time picture of the queue.
type Stats struct {
	Pending   int `json:"pending"`
	Waiting   int `json:"waiting"` // backed off, not yet retryable
	Completed int `json:"completed"`
	Exhausted int `json:"exhausted"`
}

// ExhaustedFunc is invoked when a task burns its last attempt. The final
// error is delivered verbatim.
type ExhaustedFunc func(ctx context.Context, task *Task, lastErr error)

// SchedulerConfig bounds retry and batch behavior.
type SchedulerConfig struct {
	MaxAttempts    int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	BatchSize      int
	Retention      time.Duration
}

// Scheduler decides which tasks run and when failed tasks come back.
type Scheduler struct {
	store       TaskStore
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	batchSize   int
	retention   time.Duration
	onExhausted ExhaustedFunc

	now func() time.Time
}

func NewScheduler(store TaskStore, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = &SchedulerConfig{}
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseDelay := config.BaseRetryDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseRetryDelay
	}
	maxDelay := config.MaxRetryDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxRetryDelay
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	retention := config.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	return &Scheduler{
		store:       store,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		batchSize:   batchSize,
		retention:   retention,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// OnExhausted registers the terminal-failure callback. Call before the driver
// starts; registration is not synchronized.
func (s *Scheduler) OnExhausted(fn ExhaustedFunc) {
	s.onExhausted = fn
}

// Enqueue adds a task for the given stage and returns its ID. A maxAttempts
// of zero takes the scheduler default.
func (s *Scheduler) Enqueue(ctx context.Context, stage Stage, mediaID string, priority Priority, payload []byte, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	task := NewTask(stage, mediaID, priority, payload, maxAttempts)
	if err := s.store.Save(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Ready returns tasks eligible to run right now, highest priority first and
// oldest first within a priority, capped at the batch size.
func (s *Scheduler) Ready(ctx context.Context) ([]*Task, error) {
	tasks, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ready := tasks[:0]
	for _, t := range tasks {
		if t.ReadyAt(now) {
			ready = append(ready, t)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})

	if len(ready) > s.batchSize {
		ready = ready[:s.batchSize]
	}
	return ready, nil
}

// Get returns the task by ID.
func (s *Scheduler) Get(ctx context.Context, taskID string) (*Task, error) {
	return s.store.Get(ctx, taskID)
}

// RecordSuccess marks the task complete and clears any failure state.
func (s *Scheduler) RecordSuccess(ctx context.Context, taskID string) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}

	now := s.now()
	task.Completed = true
	task.CompletedAt = &now
	task.LastError = ""
	task.NextRetryAt = nil
	return s.store.Save(ctx, task)
}

// RecordFailure consumes one attempt and schedules the retry with exponential
// backoff. When the budget is spent the exhausted callback fires with the
// final error.
func (s *Scheduler) RecordFailure(ctx context.Context, taskID string, taskErr error) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}

	now := s.now()
	task.Attempts++
	task.LastAttemptAt = &now
	task.LastError = taskErr.Error()

	// No retry is scheduled once the budget is spent.
	if task.Exhausted() {
		task.NextRetryAt = nil
	} else {
		retryAt := now.Add(s.backoff(task.Attempts))
		task.NextRetryAt = &retryAt
	}

	if err := s.store.Save(ctx, task); err != nil {
		return err
	}

	if task.Exhausted() && s.onExhausted != nil {
		s.onExhausted(ctx, task, taskErr)
	}
	return nil
}

// FailPermanently spends the entire remaining budget at once. Used for
// validation failures that can never succeed on retry.
func (s *Scheduler) FailPermanently(ctx context.Context, taskID string, taskErr error) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}

	now := s.now()
	task.Attempts = task.MaxAttempts
	task.LastAttemptAt = &now
	task.LastError = taskErr.Error()
	task.NextRetryAt = nil

	if err := s.store.Save(ctx, task); err != nil {
		return err
	}

	if s.onExhausted != nil {
		s.onExhausted(ctx, task, taskErr)
	}
	return nil
}

// Sweep deletes completed tasks older than the retention window and returns
// how many were removed.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	tasks, err := s.store.All(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, t := range tasks {
		if t.Completed && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			if err := s.store.Delete(ctx, t.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Stats counts tasks by state.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	tasks, err := s.store.All(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := s.now()
	var stats Stats
	for _, t := range tasks {
		switch {
		case t.Completed:
			stats.Completed++
		case t.Exhausted():
			stats.Exhausted++
		case t.ReadyAt(now):
			stats.Pending++
		default:
			stats.Waiting++
		}
	}
	return stats, nil
}

// backoff returns min(base * 2^attempts, cap).
func (s *Scheduler) backoff(attempts int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempts))) * s.baseDelay
	if d > s.maxDelay || d <= 0 {
		d = s.maxDelay
	}
	return d
}
