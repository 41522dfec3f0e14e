package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shipslog/backend/internal/chunker"
	"github.com/shipslog/backend/internal/health"
	"github.com/shipslog/backend/internal/media"
	"github.com/shipslog/backend/internal/pipeline"
	"github.com/shipslog/backend/internal/queue"
)

type fakeStorer struct{}

func (fakeStorer) Store(ctx context.Context, path string) (string, error) {
	return "s3://test-bucket/audio/" + filepath.Base(path), nil
}

type fakePresigner struct{}

func (fakePresigner) PresignURL(ctx context.Context, locator string, expiry time.Duration) (string, error) {
	return "https://storage.example/" + locator, nil
}

type fakeSplitter struct{}

func (fakeSplitter) Split(ctx context.Context, path string) ([]chunker.Chunk, error) {
	return []chunker.Chunk{{Index: 0, Path: path}}, nil
}

type fakeExtractor struct{}

func (fakeExtractor) ExtractAudio(ctx context.Context, src, dst string) error { return nil }

type fakeAI struct{}

func (fakeAI) Transcribe(ctx context.Context, path string) (string, error) { return "ahoy", nil }
func (fakeAI) Embed(ctx context.Context, text string) ([]float64, error)   { return []float64{1}, nil }
func (fakeAI) Summarize(ctx context.Context, transcript string) (string, error) {
	return transcript, nil
}

// testServer wires real pipeline and scheduler instances behind the router,
// with fakes standing in for storage and the model calls. No driver runs, so
// submitted items stay pending until a test steps the queue itself.
func testServer(t *testing.T) (*httptest.Server, *queue.Scheduler, *pipeline.Pipeline) {
	t.Helper()

	scheduler := queue.NewScheduler(queue.NewMemoryTaskStore(), nil)
	pipe := pipeline.New(media.NewMemoryStore(), scheduler, fakeStorer{}, nil, fakeSplitter{}, fakeExtractor{}, fakeAI{}, fakeAI{}, fakeAI{}, nil)

	handlers, err := NewLogHandlers(pipe, scheduler, fakePresigner{}, t.TempDir())
	if err != nil {
		t.Fatalf("NewLogHandlers: %v", err)
	}
	healthHandlers := health.NewHandler(health.NewChecker(&health.CheckerConfig{}))

	srv := httptest.NewServer(NewRouter(handlers, healthHandlers))
	t.Cleanup(srv.Close)
	return srv, scheduler, pipe
}

func uploadRequest(t *testing.T, url, filename, priority string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write(content)
	}
	if priority != "" {
		mw.WriteField("priority", priority)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/logs", &body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeItem(t *testing.T, resp *http.Response) ItemResponse {
	t.Helper()
	defer resp.Body.Close()
	var item ItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return item
}

func TestCreateLog(t *testing.T) {
	srv, scheduler, _ := testServer(t)

	resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL, "entry.mp3", "high", []byte("audio bytes")))
	if err != nil {
		t.Fatalf("POST /logs: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	item := decodeItem(t, resp)
	if item.ID == "" {
		t.Fatal("expected an item ID")
	}
	if item.Kind != "audio" || item.Status != "pending" {
		t.Fatalf("got kind=%s status=%s, want audio/pending", item.Kind, item.Status)
	}

	stats, err := scheduler.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("pending tasks = %d, want 1", stats.Pending)
	}
}

func TestCreateLog_Rejections(t *testing.T) {
	srv, _, _ := testServer(t)

	tests := []struct {
		name     string
		filename string
		priority string
		content  []byte
	}{
		{"missing file part", "", "", nil},
		{"unknown priority", "entry.mp3", "urgent", []byte("audio")},
		{"unsupported format", "notes.txt", "", []byte("text")},
		{"empty file", "entry.mp3", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL, tt.filename, tt.priority, tt.content))
			if err != nil {
				t.Fatalf("POST /logs: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGetLog(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL, "entry.mp3", "", []byte("audio")))
	if err != nil {
		t.Fatalf("POST /logs: %v", err)
	}
	created := decodeItem(t, resp)

	resp, err = http.Get(srv.URL + "/api/v1/logs/" + created.ID)
	if err != nil {
		t.Fatalf("GET /logs/{id}: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeItem(t, resp)
	if got.ID != created.ID {
		t.Fatalf("got item %s, want %s", got.ID, created.ID)
	}
}

func TestGetLog_NotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/logs/no-such-id")
	if err != nil {
		t.Fatalf("GET /logs/{id}: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetLogResult_WhileProcessing(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL, "entry.mp3", "", []byte("audio")))
	if err != nil {
		t.Fatalf("POST /logs: %v", err)
	}
	created := decodeItem(t, resp)

	resp, err = http.Get(srv.URL + "/api/v1/logs/" + created.ID + "/result")
	if err != nil {
		t.Fatalf("GET /logs/{id}/result: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestGetLogMedia(t *testing.T) {
	srv, scheduler, pipe := testServer(t)

	resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL, "entry.mp3", "", []byte("audio")))
	if err != nil {
		t.Fatalf("POST /logs: %v", err)
	}
	created := decodeItem(t, resp)

	// Run the store stage so the item gains a storage locator.
	ctx := context.Background()
	ready, err := scheduler.Ready(ctx)
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("ready tasks = %d, want 1", len(ready))
	}
	if err := pipe.HandleTask(ctx, ready[0]); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	if err := scheduler.RecordSuccess(ctx, ready[0].ID); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	resp, err = http.Get(srv.URL + "/api/v1/logs/" + created.ID + "/media")
	if err != nil {
		t.Fatalf("GET /logs/{id}/media: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		URL       string `json:"url"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(body.URL, "https://storage.example/s3://test-bucket/") {
		t.Errorf("url = %q", body.URL)
	}
	if body.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d", body.ExpiresIn)
	}
}

func TestGetLogMedia_NotYetStored(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL, "entry.mp3", "", []byte("audio")))
	if err != nil {
		t.Fatalf("POST /logs: %v", err)
	}
	created := decodeItem(t, resp)

	// No stage has run, so there is no storage locator to presign.
	resp, err = http.Get(srv.URL + "/api/v1/logs/" + created.ID + "/media")
	if err != nil {
		t.Fatalf("GET /logs/{id}/media: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListLogs(t *testing.T) {
	srv, _, _ := testServer(t)

	for i := 0; i < 3; i++ {
		resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL, "entry.mp3", "", []byte("audio")))
		if err != nil {
			t.Fatalf("POST /logs: %v", err)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/api/v1/logs?limit=2")
	if err != nil {
		t.Fatalf("GET /logs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Items []ItemResponse `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(body.Items))
	}
}

func TestListLogs_BadLimit(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/logs?limit=zero")
	if err != nil {
		t.Fatalf("GET /logs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestQueueStats(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/queue/stats")
	if err != nil {
		t.Fatalf("GET /queue/stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats queue.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Pending != 0 {
		t.Fatalf("pending = %d, want 0", stats.Pending)
	}
}
