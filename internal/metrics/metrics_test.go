package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordStageAndExposition(t *testing.T) {
	m := New()
	m.RecordStage("transcribe", true, 2*time.Second)
	m.RecordStage("transcribe", false, 500*time.Millisecond)
	m.RecordStage("embed", true, 100*time.Millisecond)
	m.SetQueueDepth(4, 2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler()(rec, req)

	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`shipslog_tasks_pending 4`,
		`shipslog_tasks_waiting 2`,
		`shipslog_stage_executions_total{stage="transcribe",outcome="success"} 1`,
		`shipslog_stage_executions_total{stage="transcribe",outcome="failure"} 1`,
		`shipslog_stage_executions_total{stage="embed",outcome="success"} 1`,
		`shipslog_stage_duration_seconds_count{stage="transcribe"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/logs", "/logs"},
		{"/logs/0198e3a2-1111-2222-3333-444455556666", "/logs/{id}"},
		{"/logs/42", "/logs/{id}"},
	}
	for _, tt := range tests {
		if got := normalizeEndpoint(tt.path); got != tt.want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRecordRequest_ErrorsTracked(t *testing.T) {
	m := New()
	m.RecordRequest("GET", "/logs", 200, 10*time.Millisecond)
	m.RecordRequest("POST", "/logs", 400, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	out := rec.Body.String()

	if !strings.Contains(out, `shipslog_http_requests_total{endpoint="/logs",method="GET"} 1`) {
		t.Error("request count missing")
	}
	if !strings.Contains(out, `status_class="4xx"`) {
		t.Error("error class missing")
	}
}
