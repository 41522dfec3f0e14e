package media

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks an item through the processing pipeline. Transitions are
// strictly forward; Failed is reachable from any non-terminal status.
type Status string

const (
	StatusPending      Status = "pending"
	StatusStoring      Status = "storing"
	StatusTranscribing Status = "transcribing"
	StatusEmbedding    Status = "embedding"
	StatusSummarizing  Status = "summarizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var statusOrder = map[Status]int{
	StatusPending:      0,
	StatusStoring:      1,
	StatusTranscribing: 2,
	StatusEmbedding:    3,
	StatusSummarizing:  4,
	StatusCompleted:    5,
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo enforces monotonic forward progress. Failed is always
// reachable from a non-terminal status, and never leavable.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	cur, ok := statusOrder[s]
	if !ok {
		return false
	}
	nxt, ok := statusOrder[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Kind distinguishes source media. Video items get an audio extraction pass
// before transcription.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Item is one log entry moving through the pipeline. Result fields fill in
// as stages complete; LastError holds the most recent failure verbatim.
type Item struct {
	ID         string `json:"id"`
	Kind       Kind   `json:"kind"`
	SourcePath string `json:"source_path"`
	Status     Status `json:"status"`

	StorageLocator string    `json:"storage_locator,omitempty"`
	Transcript     string    `json:"transcript,omitempty"`
	Embedding      []float64 `json:"embedding,omitempty"`
	Summary        string    `json:"summary,omitempty"`

	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// clone copies an item for crossing the store boundary. The embedding slice
// is duplicated so neither side can mutate the other's vector.
func (i *Item) clone() *Item {
	cp := *i
	if i.Embedding != nil {
		cp.Embedding = append([]float64(nil), i.Embedding...)
	}
	return &cp
}

// NewItem builds a pending item for a local source file.
func NewItem(kind Kind, sourcePath string) *Item {
	now := time.Now().UTC()
	return &Item{
		ID:         uuid.New().String(),
		Kind:       kind,
		SourcePath: sourcePath,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
