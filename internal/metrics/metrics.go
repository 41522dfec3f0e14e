package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application metrics, exposed in Prometheus text format.
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	requestCount    map[string]*uint64    // endpoint:method -> count
	requestDuration map[string]*Histogram // endpoint:method -> duration histogram
	requestErrors   map[string]*uint64    // endpoint:method:status_class -> count

	// Queue metrics
	tasksPending int64
	tasksWaiting int64

	// Per-stage outcome counters and latency
	stageSuccess  map[string]*uint64
	stageFailure  map[string]*uint64
	stageDuration map[string]*Histogram

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu    sync.Mutex
	count uint64
	sum   float64
	// Buckets sized for external-service latency: 100ms to 5m
	buckets    []float64
	bucketVals []uint64
}

func NewHistogram() *Histogram {
	return &Histogram{
		buckets:    []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		bucketVals: make([]uint64, 11),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]*uint64),
		requestDuration: make(map[string]*Histogram),
		requestErrors:   make(map[string]*uint64),
		stageSuccess:    make(map[string]*uint64),
		stageFailure:    make(map[string]*uint64),
		stageDuration:   make(map[string]*Histogram),
		startTime:       time.Now(),
	}
}

var defaultMetrics = New()

// Default returns the default metrics instance
func Default() *Metrics {
	return defaultMetrics
}

// RecordRequest records a request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)

	m.mu.Lock()
	if m.requestCount[key] == nil {
		var zero uint64
		m.requestCount[key] = &zero
	}
	if m.requestDuration[key] == nil {
		m.requestDuration[key] = NewHistogram()
	}
	m.mu.Unlock()

	atomic.AddUint64(m.requestCount[key], 1)

	m.mu.RLock()
	m.requestDuration[key].Observe(duration.Seconds())
	m.mu.RUnlock()

	if statusCode >= 400 {
		errorKey := fmt.Sprintf("%s:%d", key, statusCode/100*100)
		m.mu.Lock()
		if m.requestErrors[errorKey] == nil {
			var zero uint64
			m.requestErrors[errorKey] = &zero
		}
		m.mu.Unlock()
		atomic.AddUint64(m.requestErrors[errorKey], 1)
	}
}

// normalizeEndpoint normalizes an endpoint path for metrics (removes IDs)
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if len(part) > 0 && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SetQueueDepth records the current ready and backed-off task counts.
func (m *Metrics) SetQueueDepth(pending, waiting int64) {
	atomic.StoreInt64(&m.tasksPending, pending)
	atomic.StoreInt64(&m.tasksWaiting, waiting)
}

// RecordStage records one stage execution outcome and its latency.
func (m *Metrics) RecordStage(stage string, success bool, duration time.Duration) {
	m.mu.Lock()
	if m.stageSuccess[stage] == nil {
		var zero uint64
		m.stageSuccess[stage] = &zero
	}
	if m.stageFailure[stage] == nil {
		var zero uint64
		m.stageFailure[stage] = &zero
	}
	if m.stageDuration[stage] == nil {
		m.stageDuration[stage] = NewHistogram()
	}
	m.mu.Unlock()

	if success {
		atomic.AddUint64(m.stageSuccess[stage], 1)
	} else {
		atomic.AddUint64(m.stageFailure[stage], 1)
	}

	m.mu.RLock()
	m.stageDuration[stage].Observe(duration.Seconds())
	m.mu.RUnlock()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		uptime := time.Since(m.startTime).Seconds()
		sb.WriteString("# HELP shipslog_uptime_seconds Time since the server started\n")
		sb.WriteString("# TYPE shipslog_uptime_seconds gauge\n")
		sb.WriteString(fmt.Sprintf("shipslog_uptime_seconds %f\n\n", uptime))

		sb.WriteString("# HELP shipslog_tasks_pending Tasks ready to run\n")
		sb.WriteString("# TYPE shipslog_tasks_pending gauge\n")
		sb.WriteString(fmt.Sprintf("shipslog_tasks_pending %d\n\n", atomic.LoadInt64(&m.tasksPending)))

		sb.WriteString("# HELP shipslog_tasks_waiting Tasks backed off awaiting retry\n")
		sb.WriteString("# TYPE shipslog_tasks_waiting gauge\n")
		sb.WriteString(fmt.Sprintf("shipslog_tasks_waiting %d\n\n", atomic.LoadInt64(&m.tasksWaiting)))

		m.mu.RLock()
		if len(m.stageSuccess) > 0 {
			sb.WriteString("# HELP shipslog_stage_executions_total Stage executions by outcome\n")
			sb.WriteString("# TYPE shipslog_stage_executions_total counter\n")
			stages := make([]string, 0, len(m.stageSuccess))
			for s := range m.stageSuccess {
				stages = append(stages, s)
			}
			sort.Strings(stages)
			for _, stage := range stages {
				sb.WriteString(fmt.Sprintf("shipslog_stage_executions_total{stage=\"%s\",outcome=\"success\"} %d\n", stage, atomic.LoadUint64(m.stageSuccess[stage])))
				sb.WriteString(fmt.Sprintf("shipslog_stage_executions_total{stage=\"%s\",outcome=\"failure\"} %d\n", stage, atomic.LoadUint64(m.stageFailure[stage])))
			}
			sb.WriteString("\n")
		}

		if len(m.stageDuration) > 0 {
			sb.WriteString("# HELP shipslog_stage_duration_seconds Stage execution latency\n")
			sb.WriteString("# TYPE shipslog_stage_duration_seconds histogram\n")
			stages := make([]string, 0, len(m.stageDuration))
			for s := range m.stageDuration {
				stages = append(stages, s)
			}
			sort.Strings(stages)
			for _, stage := range stages {
				h := m.stageDuration[stage]
				h.mu.Lock()
				for i, bucket := range h.buckets {
					sb.WriteString(fmt.Sprintf("shipslog_stage_duration_seconds_bucket{stage=\"%s\",le=\"%g\"} %d\n", stage, bucket, h.bucketVals[i]))
				}
				sb.WriteString(fmt.Sprintf("shipslog_stage_duration_seconds_bucket{stage=\"%s\",le=\"+Inf\"} %d\n", stage, h.count))
				sb.WriteString(fmt.Sprintf("shipslog_stage_duration_seconds_sum{stage=\"%s\"} %f\n", stage, h.sum))
				sb.WriteString(fmt.Sprintf("shipslog_stage_duration_seconds_count{stage=\"%s\"} %d\n", stage, h.count))
				h.mu.Unlock()
			}
			sb.WriteString("\n")
		}

		if len(m.requestCount) > 0 {
			sb.WriteString("# HELP shipslog_http_requests_total Total HTTP requests\n")
			sb.WriteString("# TYPE shipslog_http_requests_total counter\n")
			keys := make([]string, 0, len(m.requestCount))
			for k := range m.requestCount {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					count := atomic.LoadUint64(m.requestCount[key])
					sb.WriteString(fmt.Sprintf("shipslog_http_requests_total{endpoint=\"%s\",method=\"%s\"} %d\n", parts[0], parts[1], count))
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestErrors) > 0 {
			sb.WriteString("# HELP shipslog_http_errors_total Total HTTP errors by status class\n")
			sb.WriteString("# TYPE shipslog_http_errors_total counter\n")
			keys := make([]string, 0, len(m.requestErrors))
			for k := range m.requestErrors {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				parts := strings.Split(key, ":")
				if len(parts) >= 3 {
					count := atomic.LoadUint64(m.requestErrors[key])
					sb.WriteString(fmt.Sprintf("shipslog_http_errors_total{endpoint=\"%s\",method=\"%s\",status_class=\"%sxx\"} %d\n", parts[0], parts[1], parts[2][:1], count))
				}
			}
			sb.WriteString("\n")
		}
		m.mu.RUnlock()

		w.Write([]byte(sb.String()))
	}
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, duration)
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
