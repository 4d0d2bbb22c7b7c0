// Package buffer turns a stream of pushed items into size- and time-bounded
// batches handed to a delivery callback.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kon-rad/guardrail/internal/metrics"
)

const (
	DefaultMaxBatchSize  = 50
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxQueueLimit = 5000
)

// DeliverFunc receives a batch the buffer no longer owns.
type DeliverFunc[T any] func(ctx context.Context, batch []T) error

// delivery is a detached batch waiting for its turn to start.
type delivery[T any] struct {
	batch   []T
	seq     uint64
	prev    <-chan struct{}
	started chan struct{}
}

type Options struct {
	MaxBatchSize  int
	FlushInterval time.Duration
	MaxQueueLimit int
}

func (o Options) withDefaults() Options {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.MaxQueueLimit <= 0 {
		o.MaxQueueLimit = DefaultMaxQueueLimit
	}
	return o
}

// Buffer is a FIFO queue with drop-oldest eviction. Push and the
// snapshot-and-reset step of Flush run under one mutex; delivery runs on its
// own goroutine and never blocks the caller.
type Buffer[T any] struct {
	opts    Options
	deliver DeliverFunc[T]
	logger  *slog.Logger
	stats   *metrics.SDK

	mu     sync.Mutex
	queue  []T
	closed bool
	seq    uint64

	// lastStarted is closed once the most recently taken batch has been
	// handed to deliver.
	lastStarted chan struct{}

	stop      chan struct{}
	stopOnce  sync.Once
	timerDone chan struct{}
	inflight  sync.WaitGroup
}

// New starts the periodic flush loop; call Close to stop it.
func New[T any](opts Options, deliver DeliverFunc[T], logger *slog.Logger, stats *metrics.SDK) *Buffer[T] {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	b := &Buffer[T]{
		opts:      opts,
		deliver:   deliver,
		logger:    logger,
		stats:     stats,
		queue:     make([]T, 0, min(opts.MaxBatchSize, opts.MaxQueueLimit)),
		stop:      make(chan struct{}),
		timerDone: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Buffer[T]) run() {
	defer close(b.timerDone)
	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.flush(metrics.ReasonInterval)
		}
	}
}

// Push appends item, evicting the oldest entries when the queue is at its
// limit, and flushes once the batch size is reached. Push never fails.
func (b *Buffer[T]) Push(item T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.stats.Dropped(1)
		b.logger.Debug("telemetry buffer closed, event dropped")
		return
	}

	var zero T
	evicted := 0
	for len(b.queue) >= b.opts.MaxQueueLimit {
		b.queue[0] = zero
		b.queue = b.queue[1:]
		evicted++
	}
	b.queue = append(b.queue, item)

	var d *delivery[T]
	if len(b.queue) >= b.opts.MaxBatchSize {
		d = b.takeLocked()
	}
	depth := len(b.queue)
	b.mu.Unlock()

	b.stats.QueueDepth(depth)
	if evicted > 0 {
		b.stats.Evicted(evicted)
		b.logger.Warn("telemetry queue limit reached, dropped oldest events",
			"evicted", evicted,
			"limit", b.opts.MaxQueueLimit,
		)
	}
	if d != nil {
		b.dispatch(d, metrics.ReasonSize)
	}
}

// Flush hands the current contents to the delivery callback. It is a no-op
// when the queue is empty or the buffer is closed.
func (b *Buffer[T]) Flush() {
	b.flush(metrics.ReasonManual)
}

func (b *Buffer[T]) flush(reason string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	d := b.takeLocked()
	b.mu.Unlock()

	if d != nil {
		b.stats.QueueDepth(0)
		b.dispatch(d, reason)
	}
}

// takeLocked detaches the queue and registers the pending delivery. The
// WaitGroup is incremented under the lock so Close cannot miss it, and the
// delivery is chained behind the previous one so sends start in flush order.
func (b *Buffer[T]) takeLocked() *delivery[T] {
	if len(b.queue) == 0 {
		return nil
	}
	b.seq++
	d := &delivery[T]{
		batch:   b.queue,
		seq:     b.seq,
		prev:    b.lastStarted,
		started: make(chan struct{}),
	}
	b.lastStarted = d.started
	b.queue = make([]T, 0, min(b.opts.MaxBatchSize, b.opts.MaxQueueLimit))
	b.inflight.Add(1)
	return d
}

// dispatch delivers on its own goroutine. A delivery waits until the
// previous one has started, then runs concurrently with it.
func (b *Buffer[T]) dispatch(d *delivery[T], reason string) {
	b.stats.Flushed(reason)
	go func() {
		defer b.inflight.Done()
		if d.prev != nil {
			<-d.prev
		}
		start := time.Now()
		err := b.safeDeliver(d.batch, d.started)
		b.stats.Delivered(time.Since(start), err)
		if err != nil {
			b.logger.Error("telemetry flush failed, batch dropped",
				"reason", reason,
				"seq", d.seq,
				"events", len(d.batch),
				"error", err,
			)
		}
	}()
}

func (b *Buffer[T]) safeDeliver(batch []T, started chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliver panicked: %v", r)
		}
	}()
	close(started)
	return b.deliver(context.Background(), batch)
}

// Len reports the number of queued items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Pending returns a copy of the queued items in push order.
func (b *Buffer[T]) Pending() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]T(nil), b.queue...)
}

// Close stops the periodic flush, flushes what is left and waits for
// in-flight deliveries until ctx is done. In-flight deliveries are not
// cancelled; their own timeouts bound them. Close is idempotent.
func (b *Buffer[T]) Close(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.timerDone

	b.mu.Lock()
	var d *delivery[T]
	if !b.closed {
		b.closed = true
		d = b.takeLocked()
	}
	b.mu.Unlock()

	if d != nil {
		b.stats.QueueDepth(0)
		b.dispatch(d, metrics.ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain telemetry deliveries: %w", ctx.Err())
	}
}
