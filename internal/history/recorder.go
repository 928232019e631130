package history

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/infrastructure/metrics"
	"github.com/nerrad567/iotrelay/internal/telemetry"
)

// Default recorder limits.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
	DefaultBufferSize    = 4096

	writeTimeout = 10 * time.Second
)

// Table labels used for write metrics.
const (
	tableStatus = "device_status"
	tableSensor = "sensor_data"
	tableAlert  = "alert_history"
)

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RecorderConfig controls batching.
type RecorderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// entry is one queued row; exactly one field is set.
type entry struct {
	status  *StatusRow
	sensors []SensorPoint
	alert   *alert.Alert
}

func (e entry) table() string {
	switch {
	case e.status != nil:
		return tableStatus
	case e.alert != nil:
		return tableAlert
	default:
		return tableSensor
	}
}

func (e entry) rows() int {
	if e.sensors != nil {
		return len(e.sensors)
	}
	return 1
}

// Recorder persists telemetry and alerts asynchronously.
//
// Record methods enqueue without blocking so they can be called from MQTT
// callbacks. A background loop writes the queue to the repository in one
// transaction per batch, either when BatchSize rows are pending or every
// FlushInterval. When the queue is full, new rows are dropped and counted.
type Recorder struct {
	repo   Repository
	cfg    RecorderConfig
	logger Logger

	entries  chan entry
	flushReq chan chan error
	done     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewRecorder creates a Recorder. Call Start to begin writing.
func NewRecorder(repo Repository, cfg RecorderConfig, logger Logger) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		repo:     repo,
		cfg:      cfg,
		logger:   logger,
		entries:  make(chan entry, cfg.BufferSize),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop. It returns when ctx is cancelled or Close
// is called; pending rows are written before the loop exits.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	r.wg.Add(1)
	go r.loop(ctx)
}

// Close stops the flush loop after writing pending rows. Safe to call more
// than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
}

// Flush writes everything queued so far and returns the write error, if any.
func (r *Recorder) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case r.flushReq <- reply:
	case <-r.done:
		return ErrRecorderClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordStatus queues a status snapshot. The online column is taken from the
// payload's "online" flag, defaulting to true.
func (r *Recorder) RecordStatus(deviceID string, status map[string]any, at time.Time) {
	online := true
	if v, ok := status[telemetry.KeyOnline].(bool); ok {
		online = v
	}
	r.enqueue(entry{status: &StatusRow{
		DeviceID:  deviceID,
		Timestamp: at,
		Online:    online,
		Status:    status,
	}})
}

// RecordReading queues one sensor row per numeric measurement.
func (r *Recorder) RecordReading(deviceID string, values map[string]any, at time.Time) {
	measurements := telemetry.Measurements(values)
	if len(measurements) == 0 {
		return
	}
	location, _ := values[telemetry.KeyLocation].(string)

	points := make([]SensorPoint, 0, len(measurements))
	for _, m := range measurements {
		points = append(points, SensorPoint{
			DeviceID:   deviceID,
			Timestamp:  at,
			SensorType: m.SensorType,
			Value:      m.Value,
			Unit:       m.Unit,
			Location:   location,
		})
	}
	r.enqueue(entry{sensors: points})
}

// ArchiveAlert queues an alert.
func (r *Recorder) ArchiveAlert(a alert.Alert) {
	r.enqueue(entry{alert: &a})
}

func (r *Recorder) enqueue(e entry) {
	select {
	case <-r.done:
		metrics.AddHistoryWrites(e.table(), metrics.ResultSkipped, e.rows())
		return
	default:
	}

	select {
	case r.entries <- e:
	default:
		metrics.AddHistoryWrites(e.table(), metrics.ResultSkipped, e.rows())
		r.logger.Warn("history queue full, dropping rows", "table", e.table(), "rows", e.rows())
	}
}

func (r *Recorder) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	var batch Batch
	writeCtx := context.WithoutCancel(ctx)

	for {
		select {
		case e := <-r.entries:
			batch.add(e)
			if batch.Len() >= r.cfg.BatchSize {
				r.write(writeCtx, &batch) //nolint:errcheck // logged in write
			}

		case <-ticker.C:
			r.write(writeCtx, &batch) //nolint:errcheck // logged in write

		case reply := <-r.flushReq:
			r.drainInto(&batch)
			reply <- r.write(writeCtx, &batch)

		case <-r.done:
			r.drainInto(&batch)
			r.write(writeCtx, &batch) //nolint:errcheck // logged in write
			return

		case <-ctx.Done():
			r.drainInto(&batch)
			r.write(writeCtx, &batch) //nolint:errcheck // logged in write
			return
		}
	}
}

func (r *Recorder) drainInto(batch *Batch) {
	for {
		select {
		case e := <-r.entries:
			batch.add(e)
		default:
			return
		}
	}
}

// write persists and resets the batch. Failed batches are dropped so one bad
// row cannot wedge the queue.
func (r *Recorder) write(ctx context.Context, batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := r.repo.InsertBatch(ctx, batch)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		r.logger.Error("history batch write failed", "rows", batch.Len(), "error", err)
	} else {
		r.logger.Debug("history batch written", "rows", batch.Len())
	}

	metrics.AddHistoryWrites(tableStatus, result, len(batch.Statuses))
	metrics.AddHistoryWrites(tableSensor, result, len(batch.Sensors))
	metrics.AddHistoryWrites(tableAlert, result, len(batch.Alerts))

	batch.reset()
	return err
}

func (b *Batch) add(e entry) {
	switch {
	case e.status != nil:
		b.Statuses = append(b.Statuses, *e.status)
	case e.alert != nil:
		b.Alerts = append(b.Alerts, *e.alert)
	default:
		b.Sensors = append(b.Sensors, e.sensors...)
	}
}
