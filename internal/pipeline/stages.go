package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shipslog/backend/internal/chunker"
	apperrors "github.com/shipslog/backend/internal/errors"
	"github.com/shipslog/backend/internal/media"
	"github.com/shipslog/backend/internal/queue"
	"github.com/shipslog/backend/internal/storage"
)

func (p *Pipeline) handleStore(ctx context.Context, task *queue.Task) error {
	var payload StorePayload
	if err := unmarshalPayload(task.Payload, &payload); err != nil {
		return apperrors.New(apperrors.CodeInvalidRequest, err.Error(), apperrors.CategoryClient, 400)
	}

	item, err := p.transition(ctx, task.MediaID, media.StatusStoring)
	if err != nil {
		return err
	}

	locator, err := p.storer.Store(ctx, payload.SourcePath)
	if err != nil {
		return err
	}

	item.StorageLocator = locator
	next, err := marshalPayload(TranscribePayload{SourcePath: payload.SourcePath})
	if err != nil {
		return err
	}
	return p.advance(ctx, item, queue.StageTranscribe, task.Priority, next)
}

func (p *Pipeline) handleTranscribe(ctx context.Context, task *queue.Task) error {
	var payload TranscribePayload
	if err := unmarshalPayload(task.Payload, &payload); err != nil {
		return apperrors.New(apperrors.CodeInvalidRequest, err.Error(), apperrors.CategoryClient, 400)
	}

	item, err := p.transition(ctx, task.MediaID, media.StatusTranscribing)
	if err != nil {
		return err
	}

	workPath := payload.SourcePath
	if _, statErr := os.Stat(workPath); os.IsNotExist(statErr) {
		restored, err := p.restoreFromStorage(ctx, item)
		if err != nil {
			return err
		}
		defer os.Remove(restored)
		workPath = restored
	}

	if item.Kind == media.KindVideo {
		audioPath := filepath.Join(os.TempDir(), fmt.Sprintf("audio-%s.wav", item.ID))
		if err := p.extractor.ExtractAudio(ctx, workPath, audioPath); err != nil {
			os.Remove(audioPath)
			return apperrors.ChunkingError("failed to extract audio track").WithCause(err)
		}
		defer os.Remove(audioPath)
		workPath = audioPath
	}

	chunks, err := p.splitter.Split(ctx, workPath)
	if err != nil {
		return err
	}
	defer chunker.Cleanup(chunks)

	transcript, err := p.transcribeChunks(ctx, chunks)
	if err != nil {
		return err
	}

	item.Transcript = transcript
	return p.advance(ctx, item, queue.StageEmbed, task.Priority, nil)
}

// restoreFromStorage re-downloads the stored object when the staged upload
// no longer exists, e.g. after a restart with a persistent task store. A
// missing file with no remote copy is unrecoverable, so it fails the item
// rather than spending retries.
func (p *Pipeline) restoreFromStorage(ctx context.Context, item *media.Item) (string, error) {
	if p.fetcher == nil || !storage.IsRemoteLocator(item.StorageLocator) {
		return "", apperrors.FileNotFound(item.SourcePath)
	}

	body, err := p.fetcher.Fetch(ctx, item.StorageLocator)
	if err != nil {
		return "", err
	}
	defer body.Close()

	restored := filepath.Join(os.TempDir(), fmt.Sprintf("restore-%s%s", item.ID, strings.ToLower(filepath.Ext(item.SourcePath))))
	dst, err := os.Create(restored)
	if err != nil {
		return "", apperrors.InternalError("failed to create restore file").WithCause(err)
	}
	if _, err := io.Copy(dst, body); err != nil {
		dst.Close()
		os.Remove(restored)
		return "", apperrors.StorageError("failed to restore stored media").WithCause(err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(restored)
		return "", apperrors.InternalError("failed to flush restore file").WithCause(err)
	}

	p.log.Info(ctx, "restored media from storage", map[string]interface{}{
		"item_id": item.ID,
		"locator": item.StorageLocator,
	})
	return restored, nil
}

// transcribeChunks runs chunk transcriptions with bounded parallelism and
// joins the results in chunk order. Any chunk failure fails the whole task;
// the scheduler retries it as a unit.
func (p *Pipeline) transcribeChunks(ctx context.Context, chunks []chunker.Chunk) (string, error) {
	if len(chunks) == 1 {
		return p.transcriber.Transcribe(ctx, chunks[0].Path)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, p.chunkConcurrency)
	parts := make([]chunker.TranscriptPart, len(chunks))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk chunker.Chunk) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			text, err := p.transcriber.Transcribe(ctx, chunk.Path)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("chunk %d: %w", chunk.Index, err)
				}
				mu.Unlock()
				cancel()
				return
			}
			parts[i] = chunker.TranscriptPart{Index: chunk.Index, Text: text}
		}(i, chunk)
	}
	wg.Wait()

	if firstErr != nil {
		return "", firstErr
	}
	return chunker.Recombine(parts), nil
}

func (p *Pipeline) handleEmbed(ctx context.Context, task *queue.Task) error {
	item, err := p.transition(ctx, task.MediaID, media.StatusEmbedding)
	if err != nil {
		return err
	}

	if strings.TrimSpace(item.Transcript) == "" {
		return apperrors.EmptyInput("transcript")
	}

	vector, err := p.embedder.Embed(ctx, item.Transcript)
	if err != nil {
		return err
	}

	item.Embedding = vector
	return p.advance(ctx, item, queue.StageSummarize, task.Priority, nil)
}

func (p *Pipeline) handleSummarize(ctx context.Context, task *queue.Task) error {
	item, err := p.transition(ctx, task.MediaID, media.StatusSummarizing)
	if err != nil {
		return err
	}

	// Short entries are their own summary; a model call would only pad
	// them out.
	summary := item.Transcript
	if len(strings.Fields(item.Transcript)) >= shortTranscriptWords {
		summary, err = p.summarizer.Summarize(ctx, item.Transcript)
		if err != nil {
			return err
		}
	}

	item.Summary = summary
	item.Status = media.StatusCompleted
	item.LastError = ""
	if err := p.items.Update(ctx, item); err != nil {
		return err
	}

	p.log.Info(ctx, "item completed", map[string]interface{}{"item_id": item.ID})
	return nil
}
