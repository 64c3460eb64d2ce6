package performance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BenchmarkWorkerPool benchmarks the worker pool performance.
func BenchmarkWorkerPool(b *testing.B) {
	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var wg sync.WaitGroup
		wg.Add(1)
		if err := pool.SubmitContext(context.Background(), func() {
			time.Sleep(time.Microsecond)
			wg.Done()
		}); err != nil {
			b.Fatal(err)
		}
		wg.Wait()
	}
}

// BenchmarkBatchProcessor benchmarks batch processing.
func BenchmarkBatchProcessor(b *testing.B) {
	var processed int64

	processor := NewBatchProcessor(100, func(items []int) error {
		atomic.AddInt64(&processed, int64(len(items)))
		return nil
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		processor.Add(i)
	}
	processor.Flush()
}

// TestWorkerPoolFunctionality tests worker pool basic functionality.
func TestWorkerPoolFunctionality(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start()

	var counter int64
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		err := pool.SubmitContext(context.Background(), func() {
			atomic.AddInt64(&counter, 1)
			wg.Done()
		})
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for tasks to complete")
	}

	pool.Stop()

	assert.Equal(t, int64(100), atomic.LoadInt64(&counter))

	stats := pool.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, stats.TasksTotal, stats.TasksDone)
}

func TestWorkerPoolStopDrainsQueue(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()

	var counter int64
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.SubmitContext(context.Background(), func() {
			atomic.AddInt64(&counter, 1)
		}))
	}
	pool.Stop()

	assert.Equal(t, int64(50), atomic.LoadInt64(&counter))
	assert.ErrorIs(t, pool.SubmitContext(context.Background(), func() {}), ErrPoolStopped)

	pool.Start()
	assert.False(t, pool.Stats().Running)
}

func TestWorkerPoolSubmitContextCancelled(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	defer pool.Stop()

	release := make(chan struct{})
	require.NoError(t, pool.SubmitContext(context.Background(), func() { <-release }))

	// Fill the queue so the next submission has to wait.
	for {
		fill, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		err := pool.SubmitContext(fill, func() {})
		cancel()
		if err != nil {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.SubmitContext(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

// TestBatchProcessorFunctionality tests batch processor basic functionality.
func TestBatchProcessorFunctionality(t *testing.T) {
	var batches [][]int

	processor := NewBatchProcessor(5, func(items []int) error {
		batch := make([]int, len(items))
		copy(batch, items)
		batches = append(batches, batch)
		return nil
	})

	for i := 0; i < 12; i++ {
		require.NoError(t, processor.Add(i))
	}
	require.NoError(t, processor.Flush())

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 5)
	assert.Len(t, batches[1], 5)
	assert.Equal(t, []int{10, 11}, batches[2])
}
