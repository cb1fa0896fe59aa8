package comm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewThreadPool_InvalidWorkers(t *testing.T) {
	p, err := NewThreadPool(0, func(int) {})
	require.ErrorIs(t, err, ErrInvalidWorkers)
	require.Nil(t, p)
}

func TestThreadPool_ProcessesAllPosted(t *testing.T) {
	var sum atomic.Int64
	p, err := NewThreadPool(4, func(v int) {
		sum.Add(int64(v))
	})
	require.NoError(t, err)
	require.Equal(t, 4, p.Size())
	require.True(t, p.Running())

	for i := 1; i <= 1000; i++ {
		require.NoError(t, p.Post(i))
	}

	p.Stop()
	p.Wait()

	require.False(t, p.Running())
	require.Equal(t, int64(1000*1001/2), sum.Load())
	require.Equal(t, 0, p.Len())
}

func TestThreadPool_PostAfterStop(t *testing.T) {
	p, err := NewThreadPool(2, func(string) {})
	require.NoError(t, err)

	p.Stop()
	require.ErrorIs(t, p.Post("late"), ErrPoolStopped)

	// a second Stop is a no-op
	p.Stop()
	p.Wait()
}

func TestThreadPool_UsesAllWorkers(t *testing.T) {
	const n = 4

	var (
		started = make(chan struct{}, n)
		release = make(chan struct{})
	)
	p, err := NewThreadPool(n, func(int) {
		started <- struct{}{}
		<-release
	})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		require.NoError(t, p.Post(i))
	}

	// every worker must be busy at once
	for i := 0; i < n; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d workers started", i, n)
		}
	}

	close(release)
	p.Stop()
	p.Wait()
}

func TestThreadPool_PostFromWorker(t *testing.T) {
	var (
		wg    sync.WaitGroup
		count atomic.Int32
		p     *ThreadPool[int]
	)

	wg.Add(2)
	p, err := NewThreadPool(2, func(v int) {
		defer wg.Done()
		count.Add(1)
		if v == 0 {
			if err := p.Post(1); err != nil {
				t.Errorf("Post from worker: %v", err)
			}
		}
	})
	require.NoError(t, err)

	require.NoError(t, p.Post(0))
	wg.Wait()

	p.Stop()
	p.Wait()
	require.Equal(t, int32(2), count.Load())
}

func TestThreadPool_StopDrainsQueuedWork(t *testing.T) {
	var (
		gate  = make(chan struct{})
		count atomic.Int32
	)
	p, err := NewThreadPool(1, func(int) {
		<-gate
		count.Add(1)
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Post(i))
	}

	// the sentinel is queued behind the ten items
	p.Stop()
	close(gate)
	p.Wait()

	require.Equal(t, int32(10), count.Load())
}
