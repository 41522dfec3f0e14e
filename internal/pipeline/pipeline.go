package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shipslog/backend/internal/chunker"
	apperrors "github.com/shipslog/backend/internal/errors"
	"github.com/shipslog/backend/internal/ffmpeg"
	"github.com/shipslog/backend/internal/logger"
	"github.com/shipslog/backend/internal/media"
	"github.com/shipslog/backend/internal/queue"
	"github.com/shipslog/backend/internal/storage"
)

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Embedder converts text to an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Summarizer condenses a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// AudioExtractor pulls the audio track out of a video file.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, src, dst string) error
}

// Splitter breaks oversized audio into transcribable chunks.
type Splitter interface {
	Split(ctx context.Context, path string) ([]chunker.Chunk, error)
}

// Fetcher streams a stored object back down by its locator. Optional: when
// nil, a missing staged file fails the item instead of being re-downloaded.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (io.ReadCloser, error)
}

// Transcripts shorter than this are used as their own summary; a network
// round trip would only pad them out.
const shortTranscriptWords = 20

// Config holds pipeline tuning knobs.
type Config struct {
	// ChunkConcurrency bounds parallel chunk transcriptions within a single
	// transcribe task, independent of the driver's task concurrency.
	ChunkConcurrency int

	// DefaultPriority applies to tasks whose submission did not specify one.
	DefaultPriority queue.Priority
}

// Pipeline moves media items through store, transcribe, embed, and
// summarize. Each stage runs as one task; completing a stage records its
// result and enqueues exactly one task for the next stage.
type Pipeline struct {
	items     media.Store
	scheduler *queue.Scheduler
	storer    storage.Storer
	fetcher   Fetcher
	splitter  Splitter
	extractor AudioExtractor

	transcriber Transcriber
	embedder    Embedder
	summarizer  Summarizer

	chunkConcurrency int
	defaultPriority  queue.Priority
	log              *logger.Logger
}

func New(
	items media.Store,
	scheduler *queue.Scheduler,
	storer storage.Storer,
	fetcher Fetcher,
	splitter Splitter,
	extractor AudioExtractor,
	transcriber Transcriber,
	embedder Embedder,
	summarizer Summarizer,
	config *Config,
) *Pipeline {
	if config == nil {
		config = &Config{}
	}
	chunkConcurrency := config.ChunkConcurrency
	if chunkConcurrency <= 0 {
		chunkConcurrency = 2
	}

	p := &Pipeline{
		items:            items,
		scheduler:        scheduler,
		storer:           storer,
		fetcher:          fetcher,
		splitter:         splitter,
		extractor:        extractor,
		transcriber:      transcriber,
		embedder:         embedder,
		summarizer:       summarizer,
		chunkConcurrency: chunkConcurrency,
		defaultPriority:  config.DefaultPriority,
		log:              logger.Default().WithComponent("pipeline"),
	}
	scheduler.OnExhausted(p.onTaskExhausted)
	return p
}

// Submit validates the file synchronously, registers a pending item, and
// enqueues its first task. Validation failures surface immediately; nothing
// is enqueued for a file that can never process.
func (p *Pipeline) Submit(ctx context.Context, path string, priority queue.Priority) (*media.Item, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.FileNotFound(path)
		}
		return nil, apperrors.InternalError(fmt.Sprintf("failed to stat %s", path)).WithCause(err)
	}
	if info.Size() == 0 {
		return nil, apperrors.EmptyInput("media file")
	}

	var kind media.Kind
	switch {
	case ffmpeg.IsAudioFile(path):
		kind = media.KindAudio
	case ffmpeg.IsVideoFile(path):
		kind = media.KindVideo
	default:
		return nil, apperrors.UnsupportedFormat(filepath.Ext(path)).
			WithDetails(map[string]interface{}{"supported": ffmpeg.SupportedExtensions()})
	}

	item := media.NewItem(kind, path)
	if err := p.items.Create(ctx, item); err != nil {
		return nil, err
	}

	payload, err := marshalPayload(StorePayload{SourcePath: path})
	if err != nil {
		return nil, err
	}
	if _, err := p.scheduler.Enqueue(ctx, queue.StageStore, item.ID, priority, payload, 0); err != nil {
		return nil, err
	}

	p.log.Info(ctx, "media item submitted", map[string]interface{}{
		"item_id": item.ID,
		"kind":    string(kind),
		"path":    filepath.Base(path),
	})
	return item, nil
}

// HandleTask is the queue driver's entry point. It dispatches on the task's
// stage; an unknown stage is a validation failure so the task is never
// retried.
func (p *Pipeline) HandleTask(ctx context.Context, task *queue.Task) error {
	switch task.Stage {
	case queue.StageStore:
		return p.handleStore(ctx, task)
	case queue.StageTranscribe:
		return p.handleTranscribe(ctx, task)
	case queue.StageEmbed:
		return p.handleEmbed(ctx, task)
	case queue.StageSummarize:
		return p.handleSummarize(ctx, task)
	default:
		return apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("unknown stage %q", task.Stage), apperrors.CategoryClient, 400)
	}
}

// GetStatus returns the item's current state.
func (p *Pipeline) GetStatus(ctx context.Context, itemID string) (*media.Item, error) {
	return p.items.Get(ctx, itemID)
}

// GetResult returns the item only once processing has finished, completed or
// failed.
func (p *Pipeline) GetResult(ctx context.Context, itemID string) (*media.Item, error) {
	item, err := p.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Status.Terminal() {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("item %s is still %s", itemID, item.Status), apperrors.CategoryClient, 409)
	}
	return item, nil
}

// List returns recent items, newest first.
func (p *Pipeline) List(ctx context.Context, limit int) ([]*media.Item, error) {
	return p.items.List(ctx, limit)
}

// onTaskExhausted fires when a task burns its whole retry budget. The item
// fails with the final error preserved verbatim.
func (p *Pipeline) onTaskExhausted(ctx context.Context, task *queue.Task, lastErr error) {
	item, err := p.items.Get(ctx, task.MediaID)
	if err != nil {
		p.log.Error(ctx, "failed to load item for terminal failure", err, map[string]interface{}{
			"item_id": task.MediaID,
			"task_id": task.ID,
		})
		return
	}
	if item.Status.Terminal() {
		return
	}

	item.Status = media.StatusFailed
	item.LastError = lastErr.Error()
	if err := p.items.Update(ctx, item); err != nil {
		p.log.Error(ctx, "failed to mark item failed", err, map[string]interface{}{"item_id": item.ID})
		return
	}

	p.log.Warn(ctx, "item failed permanently", map[string]interface{}{
		"item_id": item.ID,
		"stage":   string(task.Stage),
		"error":   lastErr.Error(),
	})
}

// transition loads the item and moves it to the given status if it is not
// already there. Retried tasks re-enter their stage without a status change.
func (p *Pipeline) transition(ctx context.Context, itemID string, status media.Status) (*media.Item, error) {
	item, err := p.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == status {
		return item, nil
	}
	item.Status = status
	if err := p.items.Update(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// advance persists stage results and enqueues the next stage's task.
func (p *Pipeline) advance(ctx context.Context, item *media.Item, next queue.Stage, priority queue.Priority, payload []byte) error {
	if err := p.items.Update(ctx, item); err != nil {
		return err
	}
	if _, err := p.scheduler.Enqueue(ctx, next, item.ID, priority, payload, 0); err != nil {
		return err
	}
	return nil
}
