package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/iotrelay/internal/infrastructure/metrics"
)

// DefaultQueueSize is used when New is given a non-positive size.
const DefaultQueueSize = 1024

// Task is a unit of work executed on the engine goroutine.
type Task = func(ctx context.Context)

// Logger defines the logging interface used by the Bridge.
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

// Bridge hands work from the MQTT callback goroutines to a single engine
// goroutine.
//
// Dispatch never blocks: work is queued on a buffered channel, or dropped
// and logged when the queue is full or closed. Run is the only consumer, so
// queued tasks execute one at a time in submission order.
//
// Thread Safety: Dispatch, Call and Close are safe for concurrent use.
type Bridge struct {
	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}

	// stop is closed before the queue so Call stops waiting for space.
	stop     chan struct{}
	stopOnce sync.Once

	runOnce sync.Once
	logger  Logger
}

type queued struct {
	name string
	task Task
}

// New creates a Bridge with the given queue capacity.
func New(size int, logger Logger) *Bridge {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		queue:  make(chan queued, size),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

// Dispatch queues task for the engine goroutine without blocking.
// It returns false if the task was dropped. name is used only for logging.
func (b *Bridge) Dispatch(name string, task Task) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("engine queue closed, dropping work", "task", name)
		metrics.IncBridgeDropped("closed")
		return false
	}

	select {
	case b.queue <- queued{name: name, task: task}:
		metrics.SetBridgeDepth(len(b.queue))
		return true
	default:
		b.logger.Warn("engine queue full, dropping work", "task", name, "capacity", cap(b.queue))
		metrics.IncBridgeDropped("full")
		return false
	}
}

// Call queues fn and waits for it to finish on the engine goroutine,
// returning its error. Unlike Dispatch it waits for queue space.
//
// Call must not be used from an MQTT callback or from inside a task.
func (b *Bridge) Call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	item := queued{name: name, task: func(ctx context.Context) {
		result <- fn(ctx)
	}}

	if err := b.enqueueWait(ctx, item); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", name, ctx.Err())
	}
}

func (b *Bridge) enqueueWait(ctx context.Context, item queued) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		metrics.IncBridgeDropped("closed")
		return ErrClosed
	}

	select {
	case b.queue <- item:
		metrics.SetBridgeDepth(len(b.queue))
		return nil
	case <-b.stop:
		metrics.IncBridgeDropped("closed")
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("queueing %s: %w", item.name, ctx.Err())
	}
}

// Run executes queued tasks until the Bridge is closed and drained.
//
// When ctx is cancelled Run closes the Bridge and finishes the tasks already
// queued using a context detached from ctx's cancellation, so in-flight
// persistence is not cut short. Run may be called once; later calls return
// immediately.
func (b *Bridge) Run(ctx context.Context) {
	first := false
	b.runOnce.Do(func() { first = true })
	if !first {
		return
	}
	defer close(b.done)

	for {
		select {
		case item, ok := <-b.queue:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				b.drain(ctx, &item)
				return
			}
			b.execute(ctx, item)
		case <-ctx.Done():
			b.drain(ctx, nil)
			return
		}
	}
}

// drain closes the bridge and runs what is left, starting with first if set.
func (b *Bridge) drain(ctx context.Context, first *queued) {
	b.Close()
	drainCtx := context.WithoutCancel(ctx)
	if first != nil {
		b.execute(drainCtx, *first)
	}
	for item := range b.queue {
		b.execute(drainCtx, item)
	}
}

func (b *Bridge) execute(ctx context.Context, item queued) {
	metrics.SetBridgeDepth(len(b.queue))
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("engine task panicked", "task", item.name, "panic", r)
		}
	}()
	item.task(ctx)
}

// Close stops accepting work. Tasks already queued still run.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() { close(b.stop) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.queue)
}

// Wait blocks until Run has drained the queue and returned.
func (b *Bridge) Wait() {
	<-b.done
}

// Len returns the number of queued tasks.
func (b *Bridge) Len() int {
	return len(b.queue)
}
