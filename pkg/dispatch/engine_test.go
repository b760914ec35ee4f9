package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_SubmitBeforeStart(t *testing.T) {
	e := New(DefaultConfig(), nil, nil)

	err := e.Submit("console", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.False(t, e.Running())
}

func TestEngine_StartIsIdempotentUnderRace(t *testing.T) {
	e := New(Config{Lanes: map[string]int{"files": 2}}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Start()
		}()
	}
	wg.Wait()

	assert.True(t, e.Running())
	e.mu.RLock()
	assert.Len(t, e.lanes, 1)
	e.mu.RUnlock()

	require.NoError(t, e.Stop(context.Background()))
}

func TestEngine_SingleWorkerLanePreservesOrder(t *testing.T) {
	e := New(Config{QueueSize: 4}, nil, nil)
	e.Start()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, e.Submit("console", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}))
	}
	require.NoError(t, e.Stop(context.Background()))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestEngine_StopDrainsQueuedTasks(t *testing.T) {
	e := New(Config{Lanes: map[string]int{"files": 3}, QueueSize: 64}, nil, nil)
	e.Start()

	var ran int64
	for i := 0; i < 50; i++ {
		require.NoError(t, e.Submit("files", func(context.Context) error {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&ran, 1)
			return nil
		}))
	}
	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, int64(50), atomic.LoadInt64(&ran))

	err := e.Submit("files", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
	assert.False(t, e.Running())
}

func TestEngine_TaskErrorsAndPanicsDoNotStopWorkers(t *testing.T) {
	e := New(DefaultConfig(), nil, nil)
	e.Start()

	var ran int64
	require.NoError(t, e.Submit("x", func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, e.Submit("x", func(context.Context) error { panic("bad task") }))
	require.NoError(t, e.Submit("x", func(context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	}))
	require.NoError(t, e.Stop(context.Background()))

	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestEngine_StopTimeout(t *testing.T) {
	e := New(DefaultConfig(), nil, nil)
	e.Start()

	release := make(chan struct{})
	require.NoError(t, e.Submit("slow", func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestEngine_StopReleasesBlockedSubmit(t *testing.T) {
	e := New(Config{QueueSize: 1}, nil, nil)
	e.Start()

	release := make(chan struct{})
	defer close(release)
	running := make(chan struct{})
	require.NoError(t, e.Submit("files", func(context.Context) error {
		close(running)
		<-release
		return nil
	}))
	<-running
	require.NoError(t, e.Submit("files", func(context.Context) error { return nil }))

	submitted := make(chan error, 1)
	go func() {
		submitted <- e.Submit("files", func(context.Context) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := e.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-submitted:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("submit still blocked after stop")
	}
}

func TestEngine_NilTaskIgnored(t *testing.T) {
	e := New(DefaultConfig(), nil, nil)
	assert.NoError(t, e.Submit("console", nil))
}

func TestInstance(t *testing.T) {
	a := Instance()
	b := Instance()
	assert.Same(t, a, b)
}
