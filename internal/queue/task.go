package queue

import (
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline step a task drives. Each stage handler records its
// result and enqueues exactly one task for the next stage.
type Stage string

const (
	StageStore      Stage = "store"
	StageTranscribe Stage = "transcribe"
	StageEmbed      Stage = "embed"
	StageSummarize  Stage = "summarize"
)

// Priority orders ready tasks. Lower values run first.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 5
	PriorityLow    Priority = 9
)

// Task is one unit of pipeline work. Payload carries stage-specific input as
// JSON so tasks survive a round trip through Redis.
type Task struct {
	ID          string    `json:"id"`
	Stage       Stage     `json:"stage"`
	MediaID     string    `json:"media_id"`
	Priority    Priority  `json:"priority"`
	Payload     []byte    `json:"payload,omitempty"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Completed   bool      `json:"completed"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// NewTask builds a fresh task with zero attempts.
func NewTask(stage Stage, mediaID string, priority Priority, payload []byte, maxAttempts int) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Stage:       stage,
		MediaID:     mediaID,
		Priority:    priority,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
}

// Exhausted reports whether the retry budget is spent.
func (t *Task) Exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}

// ReadyAt reports whether the task is eligible to run at the given instant:
// not yet completed, budget remaining, and past any scheduled retry time.
func (t *Task) ReadyAt(now time.Time) bool {
	if t.Completed || t.Exhausted() {
		return false
	}
	if t.Attempts == 0 || t.NextRetryAt == nil {
		return true
	}
	return !now.Before(*t.NextRetryAt)
}
