package queue

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/shipslog/backend/internal/errors"
	"github.com/shipslog/backend/internal/logger"
	"github.com/shipslog/backend/internal/metrics"
)

const (
	DefaultConcurrency   = 3
	DefaultPollInterval  = 10 * time.Second
	DefaultErrorInterval = 30 * time.Second
)

// Handler executes one task. A nil return records success; a validation
// error fails the task permanently; anything else consumes a retry attempt.
type Handler func(ctx context.Context, task *Task) error

// DriverConfig bounds the polling loop.
type DriverConfig struct {
	Concurrency     int
	PollInterval    time.Duration
	ErrorInterval   time.Duration
	CallTimeout     time.Duration
	CleanupInterval time.Duration
}

// Driver polls the scheduler for ready tasks and dispatches them to the
// handler, never more than Concurrency at once.
type Driver struct {
	scheduler *Scheduler
	handler   Handler
	log       *logger.Logger

	concurrency     int
	pollInterval    time.Duration
	errorInterval   time.Duration
	callTimeout     time.Duration
	cleanupInterval time.Duration

	sem      chan struct{}
	wg       sync.WaitGroup
	stopChan chan struct{}
	mu       sync.RWMutex
	running  bool

	// inFlight guards against dispatching a task that is still being
	// processed from an earlier polling pass.
	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
}

func NewDriver(scheduler *Scheduler, handler Handler, config *DriverConfig) *Driver {
	if config == nil {
		config = &DriverConfig{}
	}

	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	errorInterval := config.ErrorInterval
	if errorInterval <= 0 {
		errorInterval = DefaultErrorInterval
	}
	callTimeout := config.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	cleanupInterval := config.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	return &Driver{
		scheduler:       scheduler,
		handler:         handler,
		log:             logger.Default().WithComponent("queue.driver"),
		concurrency:     concurrency,
		pollInterval:    pollInterval,
		errorInterval:   errorInterval,
		callTimeout:     callTimeout,
		cleanupInterval: cleanupInterval,
		sem:             make(chan struct{}, concurrency),
		stopChan:        make(chan struct{}),
		inFlight:        make(map[string]struct{}),
	}
}

// Start launches the polling loop. Calling Start on a running driver is a
// no-op.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	d.running = true
	d.stopChan = make(chan struct{})

	d.wg.Add(2)
	go d.pollLoop()
	go d.cleanupLoop()

	d.log.Info(context.Background(), "driver started", map[string]interface{}{
		"concurrency":   d.concurrency,
		"poll_interval": d.pollInterval.String(),
	})
}

// Stop halts polling and waits for in-flight tasks to finish or the context
// to expire.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopChan)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info(ctx, "driver stopped", nil)
		return nil
	case <-ctx.Done():
		d.log.Warn(ctx, "driver shutdown timed out", nil)
		return ctx.Err()
	}
}

// IsRunning reports whether the polling loop is active.
func (d *Driver) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

func (d *Driver) pollLoop() {
	defer d.wg.Done()

	for {
		interval := d.pollOnce()

		select {
		case <-d.stopChan:
			return
		case <-time.After(interval):
		}
	}
}

// pollOnce runs a single polling pass and returns how long to wait before
// the next one.
func (d *Driver) pollOnce() time.Duration {
	ctx := context.Background()

	tasks, err := d.scheduler.Ready(ctx)
	if err != nil {
		d.log.Error(ctx, "failed to fetch ready tasks", err, nil)
		return d.errorInterval
	}

	if stats, err := d.scheduler.Stats(ctx); err == nil {
		metrics.Default().SetQueueDepth(int64(stats.Pending), int64(stats.Waiting))
	}

	for _, task := range tasks {
		if !d.claim(task.ID) {
			continue
		}

		select {
		case d.sem <- struct{}{}:
		case <-d.stopChan:
			d.release(task.ID)
			return d.pollInterval
		}

		d.wg.Add(1)
		go func(task *Task) {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			defer d.release(task.ID)
			d.dispatch(task)
		}(task)
	}

	return d.pollInterval
}

func (d *Driver) dispatch(task *Task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.callTimeout)
	defer cancel()
	ctx = apperrors.WithItemID(ctx, task.MediaID)

	d.log.Info(ctx, "dispatching task", map[string]interface{}{
		"task_id": task.ID,
		"stage":   string(task.Stage),
		"attempt": task.Attempts + 1,
	})

	start := time.Now()
	err := d.handler(ctx, task)
	metrics.Default().RecordStage(string(task.Stage), err == nil, time.Since(start))

	if err == nil {
		if err := d.scheduler.RecordSuccess(context.Background(), task.ID); err != nil {
			d.log.Error(ctx, "failed to record task success", err, map[string]interface{}{"task_id": task.ID})
		}
		return
	}

	if !apperrors.Classify(err) {
		d.log.Warn(ctx, "task failed permanently, not retrying", map[string]interface{}{
			"task_id": task.ID,
			"stage":   string(task.Stage),
			"error":   err.Error(),
		})
		if err := d.scheduler.FailPermanently(context.Background(), task.ID, err); err != nil {
			d.log.Error(ctx, "failed to record permanent failure", err, map[string]interface{}{"task_id": task.ID})
		}
		return
	}

	d.log.Warn(ctx, "task failed, will retry", map[string]interface{}{
		"task_id": task.ID,
		"stage":   string(task.Stage),
		"error":   err.Error(),
	})
	if err := d.scheduler.RecordFailure(context.Background(), task.ID, err); err != nil {
		d.log.Error(ctx, "failed to record task failure", err, map[string]interface{}{"task_id": task.ID})
	}
}

func (d *Driver) cleanupLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			removed, err := d.scheduler.Sweep(context.Background())
			if err != nil {
				d.log.Error(context.Background(), "task sweep failed", err, nil)
				continue
			}
			if removed > 0 {
				d.log.Info(context.Background(), "swept completed tasks", map[string]interface{}{"removed": removed})
			}
		}
	}
}

func (d *Driver) claim(taskID string) bool {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	if _, busy := d.inFlight[taskID]; busy {
		return false
	}
	d.inFlight[taskID] = struct{}{}
	return true
}

func (d *Driver) release(taskID string) {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	delete(d.inFlight, taskID)
}
