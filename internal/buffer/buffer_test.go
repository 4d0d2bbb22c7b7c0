package buffer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kon-rad/guardrail/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type recorder struct {
	mu      sync.Mutex
	batches [][]string
	ch      chan []string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan []string, 64)}
}

func (r *recorder) deliver(_ context.Context, batch []string) error {
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
	r.ch <- batch
	return nil
}

func (r *recorder) next(t *testing.T) []string {
	t.Helper()
	select {
	case b := <-r.ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
		return nil
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func newBuffer(t *testing.T, opts Options, deliver DeliverFunc[string]) *Buffer[string] {
	t.Helper()
	b := New(opts, deliver, discardLogger(), nil)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestPushPreservesOrderBelowLimits(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	b := newBuffer(t, Options{MaxBatchSize: 100, FlushInterval: time.Hour, MaxQueueLimit: 100}, rec.deliver)

	want := []string{"a", "b", "c", "d", "e"}
	for _, s := range want {
		b.Push(s)
	}
	assert.Equal(t, want, b.Pending())
	assert.Equal(t, 0, rec.count())
}

func TestPushAtBatchSizeFlushesImmediately(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	b := newBuffer(t, Options{MaxBatchSize: 2, FlushInterval: time.Hour, MaxQueueLimit: 100}, rec.deliver)

	b.Push("A")
	assert.Equal(t, 1, b.Len())
	b.Push("B")
	assert.Equal(t, 0, b.Len(), "queue must be empty as soon as Push returns")
	assert.Equal(t, []string{"A", "B"}, rec.next(t))

	b.Push("C")
	assert.Equal(t, []string{"C"}, b.Pending())
}

func TestPushEvictsOldestAtQueueLimit(t *testing.T) {
	t.Parallel()

	stats, err := metrics.NewSDK(nil, "m")
	require.NoError(t, err)
	rec := newRecorder()
	b := New(Options{MaxBatchSize: 10, FlushInterval: time.Hour, MaxQueueLimit: 3}, rec.deliver, discardLogger(), stats)
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	for _, s := range []string{"A", "B", "C", "D"} {
		b.Push(s)
	}
	assert.Equal(t, []string{"B", "C", "D"}, b.Pending())

	b.Push("E")
	b.Push("F")
	pending := b.Pending()
	assert.Len(t, pending, 3)
	assert.Equal(t, "F", pending[len(pending)-1])
	assert.Equal(t, []string{"D", "E", "F"}, pending)
	assert.Equal(t, 0, rec.count())
}

func TestFlushEmptyQueueNeverDelivers(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	b := newBuffer(t, Options{MaxBatchSize: 5, FlushInterval: time.Hour, MaxQueueLimit: 10},
		func(context.Context, []string) error {
			calls.Add(1)
			return nil
		})

	b.Flush()
	b.Flush()
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, int64(0), calls.Load())
}

func TestFlushSnapshotIsIndependentOfLaterPushes(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	got := make(chan []string, 2)
	b := newBuffer(t, Options{MaxBatchSize: 100, FlushInterval: time.Hour, MaxQueueLimit: 100},
		func(_ context.Context, batch []string) error {
			<-release
			got <- batch
			return nil
		})

	b.Push("A")
	b.Push("B")
	b.Flush()
	b.Push("C")
	assert.Equal(t, []string{"C"}, b.Pending())

	close(release)
	assert.Equal(t, []string{"A", "B"}, <-got)

	b.Flush()
	assert.Equal(t, []string{"C"}, <-got)
}

func TestIntervalFlushDeliversTricklingEvent(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	b := newBuffer(t, Options{MaxBatchSize: 50, FlushInterval: 20 * time.Millisecond, MaxQueueLimit: 100}, rec.deliver)

	b.Push("lonely")
	assert.Equal(t, []string{"lonely"}, rec.next(t))
	assert.Equal(t, 0, b.Len())
}

func TestDeliveryFailureIsIsolated(t *testing.T) {
	t.Parallel()

	stats, err := metrics.NewSDK(nil, "m")
	require.NoError(t, err)
	var calls atomic.Int64
	done := make(chan struct{}, 4)
	b := New(Options{MaxBatchSize: 1, FlushInterval: time.Hour, MaxQueueLimit: 10},
		func(_ context.Context, batch []string) error {
			defer func() { done <- struct{}{} }()
			if calls.Add(1) == 1 {
				return errors.New("backend down")
			}
			if batch[0] == "panic" {
				panic("sink exploded")
			}
			return nil
		}, discardLogger(), stats)
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	b.Push("first")
	<-done
	b.Push("panic")
	<-done
	b.Push("third")
	<-done

	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, 0, b.Len(), "failed batches are never re-queued")
	require.NoError(t, b.Close(context.Background()))
}

func TestCloseFlushesRemainderAndStopsAcceptingPushes(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	b := New(Options{MaxBatchSize: 10, FlushInterval: time.Hour, MaxQueueLimit: 10}, rec.deliver, discardLogger(), nil)

	b.Push("x")
	b.Push("y")
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, []string{"x", "y"}, rec.next(t))

	b.Push("late")
	b.Flush()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 1, rec.count())
	require.NoError(t, b.Close(context.Background()))
}

func TestCloseWaitsForInflightUntilContextDone(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	b := New(Options{MaxBatchSize: 1, FlushInterval: time.Hour, MaxQueueLimit: 10},
		func(context.Context, []string) error {
			<-block
			return nil
		}, discardLogger(), nil)

	b.Push("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := b.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	require.NoError(t, b.Close(context.Background()))
}

func TestConcurrentPushersLoseNothingBelowLimit(t *testing.T) {
	t.Parallel()

	var delivered atomic.Int64
	b := New(Options{MaxBatchSize: 7, FlushInterval: 5 * time.Millisecond, MaxQueueLimit: 10000},
		func(_ context.Context, batch []string) error {
			delivered.Add(int64(len(batch)))
			return nil
		}, discardLogger(), nil)

	const producers, perProducer = 8, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Push("e")
			}
		}()
	}
	wg.Wait()
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, int64(producers*perProducer), delivered.Load())
}

func TestQueueLimitBelowBatchSizeKeepsNewest(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	b := New(Options{MaxBatchSize: 3, FlushInterval: time.Hour, MaxQueueLimit: 2}, rec.deliver, discardLogger(), nil)

	b.Push("a")
	b.Push("b")
	b.Push("c")
	assert.Equal(t, []string{"b", "c"}, b.Pending())

	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, []string{"b", "c"}, rec.next(t))
}

func TestDeliveriesStartInFlushOrder(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		started []int
	)
	b := New(Options{MaxBatchSize: 1, FlushInterval: time.Hour, MaxQueueLimit: 10},
		func(_ context.Context, batch []int) error {
			mu.Lock()
			started = append(started, batch[0])
			mu.Unlock()
			return nil
		}, discardLogger(), nil)

	const pushes = 2000
	for i := 0; i < pushes; i++ {
		b.Push(i)
	}
	require.NoError(t, b.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, started, pushes)
	for i, v := range started {
		if v != i {
			t.Fatalf("delivery %d started with batch %d; first entries %v", i, v, started[:min(len(started), 5)])
		}
	}
}

func TestSlowDeliveryDoesNotBlockNextStart(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	secondStarted := make(chan struct{})
	b := New(Options{MaxBatchSize: 1, FlushInterval: time.Hour, MaxQueueLimit: 10},
		func(_ context.Context, batch []string) error {
			if batch[0] == "slow" {
				<-release
				return nil
			}
			close(secondStarted)
			return nil
		}, discardLogger(), nil)

	b.Push("slow")
	b.Push("fast")
	select {
	case <-secondStarted:
	case <-time.After(2 * time.Second):
		t.Fatalf("second delivery waited for the first to finish")
	}
	close(release)
	require.NoError(t, b.Close(context.Background()))
}
