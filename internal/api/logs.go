package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/shipslog/backend/internal/errors"
	"github.com/shipslog/backend/internal/media"
	"github.com/shipslog/backend/internal/pipeline"
	"github.com/shipslog/backend/internal/queue"
	"github.com/shipslog/backend/internal/storage"
)

// Upload size cap: generous enough for long video entries.
const maxUploadBytes = 2 << 30

// presignExpiry bounds how long a media download link stays valid.
const presignExpiry = 15 * time.Minute

// Presigner issues time-limited download URLs for stored objects.
type Presigner interface {
	PresignURL(ctx context.Context, locator string, expiry time.Duration) (string, error)
}

// LogHandlers exposes the pipeline over HTTP.
type LogHandlers struct {
	pipeline  *pipeline.Pipeline
	scheduler *queue.Scheduler
	presigner Presigner
	uploadDir string
}

// NewLogHandlers builds the handler set. presigner may be nil when no object
// storage is configured; the media endpoint then reports not found.
func NewLogHandlers(p *pipeline.Pipeline, scheduler *queue.Scheduler, presigner Presigner, uploadDir string) (*LogHandlers, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &LogHandlers{pipeline: p, scheduler: scheduler, presigner: presigner, uploadDir: uploadDir}, nil
}

// ItemResponse is the wire shape of a media item.
type ItemResponse struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	StorageLocator string    `json:"storage_locator,omitempty"`
	Transcript     string    `json:"transcript,omitempty"`
	Embedding      []float64 `json:"embedding,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      string    `json:"created_at"`
	UpdatedAt      string    `json:"updated_at"`
}

func itemResponse(item *media.Item) ItemResponse {
	return ItemResponse{
		ID:             item.ID,
		Kind:           string(item.Kind),
		Status:         string(item.Status),
		StorageLocator: item.StorageLocator,
		Transcript:     item.Transcript,
		Embedding:      item.Embedding,
		Summary:        item.Summary,
		Error:          item.LastError,
		CreatedAt:      item.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:      item.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func parsePriority(s string) (queue.Priority, error) {
	switch strings.ToLower(s) {
	case "", "normal":
		return queue.PriorityNormal, nil
	case "high":
		return queue.PriorityHigh, nil
	case "low":
		return queue.PriorityLow, nil
	default:
		return 0, apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("unknown priority %q", s), apperrors.CategoryClient, http.StatusBadRequest)
	}
}

// CreateLog handles POST /logs: a multipart upload with a "file" part and an
// optional "priority" field. The file is staged to disk and validated before
// the item enters the queue, so a bad upload fails here, not in a worker.
func (h *LogHandlers) CreateLog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidRequest, "expected a multipart upload", apperrors.CategoryClient, http.StatusBadRequest))
		return
	}

	priority, err := parsePriority(r.FormValue("priority"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidRequest, "file part is required", apperrors.CategoryClient, http.StatusBadRequest))
		return
	}
	defer file.Close()

	stagedPath, err := h.stageUpload(file, header.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.pipeline.Submit(r.Context(), stagedPath, priority)
	if err != nil {
		os.Remove(stagedPath)
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, itemResponse(item))
}

// stageUpload copies the upload into the working directory under a unique
// name, preserving the extension the format check depends on.
func (h *LogHandlers) stageUpload(file io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	staged := filepath.Join(h.uploadDir, uuid.New().String()+ext)

	dst, err := os.Create(staged)
	if err != nil {
		return "", apperrors.InternalError("failed to stage upload").WithCause(err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(staged)
		return "", apperrors.InternalError("failed to write upload").WithCause(err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(staged)
		return "", apperrors.InternalError("failed to flush upload").WithCause(err)
	}
	return staged, nil
}

// GetLog handles GET /logs/{id}.
func (h *LogHandlers) GetLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidRequest, "id is required", apperrors.CategoryClient, http.StatusBadRequest))
		return
	}

	item, err := h.pipeline.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, itemResponse(item))
}

// GetLogResult handles GET /logs/{id}/result. It returns 409 while the item
// is still processing.
func (h *LogHandlers) GetLogResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, err := h.pipeline.GetResult(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, itemResponse(item))
}

// GetLogMedia handles GET /logs/{id}/media: returns a time-limited download
// URL for the stored source. Only remotely stored media can be presigned.
func (h *LogHandlers) GetLogMedia(w http.ResponseWriter, r *http.Request) {
	item, err := h.pipeline.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.presigner == nil || !storage.IsRemoteLocator(item.StorageLocator) {
		writeError(w, r, apperrors.NotFound("stored media"))
		return
	}

	url, err := h.presigner.PresignURL(r.Context(), item.StorageLocator, presignExpiry)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"url":        url,
		"expires_in": int(presignExpiry.Seconds()),
	})
}

// ListLogs handles GET /logs.
func (h *LogHandlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, apperrors.New(apperrors.CodeInvalidRequest, "limit must be a positive integer", apperrors.CategoryClient, http.StatusBadRequest))
			return
		}
		limit = n
	}

	items, err := h.pipeline.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, itemResponse(item))
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"items": out})
}

// QueueStats handles GET /queue/stats.
func (h *LogHandlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.scheduler.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !apperrors.As(err, &appErr) {
		err = apperrors.InternalError(err.Error())
	}
	apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), err)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), status, data)
}
