package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moodjournal/internal/worker"
)

func countingTask(n *int64) worker.Func {
	return worker.Func{Name: "count", Fn: func(context.Context) error {
		atomic.AddInt64(n, 1)
		return nil
	}}
}

// flakyTask fails until it has been attempted failFor times.
type flakyTask struct {
	mu       sync.Mutex
	attempts int
	failFor  int
}

func (f *flakyTask) Type() string { return "flaky" }

func (f *flakyTask) Process(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failFor {
		return errors.New("transient")
	}
	return nil
}

func (f *flakyTask) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func TestPool_ProcessTasks(t *testing.T) {
	pool := worker.NewPool(worker.Options{Workers: 4, QueueSize: 100}, nil)
	pool.Start()

	var n int64
	for i := 0; i < 50; i++ {
		require.True(t, pool.Submit(countingTask(&n)))
	}

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int64(50), atomic.LoadInt64(&n), "stop drains the queue")
}

func TestPool_Retry(t *testing.T) {
	pool := worker.NewPool(worker.Options{Workers: 1, QueueSize: 4, MaxRetries: 2, RetryDelay: time.Millisecond}, nil)
	pool.Start()

	task := &flakyTask{failFor: 2}
	require.True(t, pool.Submit(task))
	require.NoError(t, pool.Stop(context.Background()))

	assert.Equal(t, 3, task.Attempts())
	assert.Equal(t, 0, pool.DeadLetterCount())
}

func TestPool_DeadLetter(t *testing.T) {
	pool := worker.NewPool(worker.Options{Workers: 1, QueueSize: 4, MaxRetries: 1, RetryDelay: time.Millisecond}, nil)
	pool.Start()

	task := &flakyTask{failFor: 10}
	require.True(t, pool.Submit(task))
	require.NoError(t, pool.Stop(context.Background()))

	assert.Equal(t, 2, task.Attempts())
	assert.Equal(t, 1, pool.DeadLetterCount())
	assert.Equal(t, 1, pool.Stats().DeadLetters)
}

func TestPool_Backpressure(t *testing.T) {
	pool := worker.NewPool(worker.Options{Workers: 1, QueueSize: 3}, nil)
	// Not started, so nothing drains the queue.

	var n int64
	for i := 0; i < 3; i++ {
		assert.True(t, pool.Submit(countingTask(&n)))
	}
	assert.False(t, pool.Submit(countingTask(&n)), "queue is full")
	assert.Equal(t, 3, pool.Stats().QueueLength)

	pool.Start()
	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int64(3), atomic.LoadInt64(&n))
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := worker.NewPool(worker.Options{Workers: 2}, nil)
	pool.Start()
	require.NoError(t, pool.Stop(context.Background()))
	require.NoError(t, pool.Stop(context.Background()), "second stop is a no-op")

	var n int64
	assert.False(t, pool.Submit(countingTask(&n)))
	assert.Equal(t, 2, pool.Workers())
}

func TestPool_StopTimeoutCancelsTasks(t *testing.T) {
	pool := worker.NewPool(worker.Options{Workers: 1, QueueSize: 1}, nil)
	pool.Start()

	started := make(chan struct{})
	require.True(t, pool.Submit(worker.Func{Name: "block", Fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Stop(ctx), context.DeadlineExceeded)
}

func TestInline(t *testing.T) {
	d := worker.Inline{MaxRetries: 1}

	task := &flakyTask{failFor: 1}
	assert.True(t, d.Submit(task))
	assert.Equal(t, 2, task.Attempts(), "runs synchronously with retries")

	failing := &flakyTask{failFor: 5}
	assert.True(t, d.Submit(failing))
	assert.Equal(t, 2, failing.Attempts())
}
