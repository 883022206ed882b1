// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package task_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecutor(t *testing.T, cfgs ...task.QueueConfig) *task.Executor {
	t.Helper()
	e := task.NewExecutor()
	require.NoError(t, e.Run(cfgs...))
	t.Cleanup(e.Shutdown)
	return e
}

func TestExecutorRunsEveryTaskOnce(t *testing.T) {
	const (
		tasks      = 100
		increments = 1000000
	)
	n := increments
	if testing.Short() {
		n = 1000
	}

	e := newExecutor(t, task.QueueConfig{Type: task.General, Threads: 4})

	var counter int64
	handles := make([]*task.Task, 0, tasks)
	for i := 0; i < tasks; i++ {
		h, err := e.Go(task.General, func() {
			for j := 0; j < n; j++ {
				atomic.AddInt64(&counter, 1)
			}
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}
	assert.Equal(t, int64(tasks*n), atomic.LoadInt64(&counter))
}

func TestExecutorConcurrentProducers(t *testing.T) {
	e := newExecutor(t,
		task.QueueConfig{Type: task.General, Threads: 3},
		task.QueueConfig{Type: task.Upload, Threads: 1},
	)

	const producers, perProducer = 8, 250
	var (
		executed int64
		seen     sync.Map
		wg       sync.WaitGroup
		handles  = make(chan *task.Task, producers*perProducer)
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			typ := task.General
			if p%2 == 1 {
				typ = task.Upload
			}
			for i := 0; i < perProducer; i++ {
				h, err := e.Enqueue(typ, func() (interface{}, error) {
					atomic.AddInt64(&executed, 1)
					return nil, nil
				})
				if assert.NoError(t, err) {
					handles <- h
				}
			}
		}(p)
	}
	wg.Wait()
	close(handles)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for h := range handles {
		require.NoError(t, h.Wait(ctx))
		_, dup := seen.LoadOrStore(h.ID(), struct{}{})
		assert.False(t, dup, "duplicate task id %d", h.ID())
	}
	assert.Equal(t, int64(producers*perProducer), atomic.LoadInt64(&executed))
}

func TestExecutorQueueIsolation(t *testing.T) {
	e := newExecutor(t,
		task.QueueConfig{Type: task.General, Threads: 1},
		task.QueueConfig{Type: task.Upload, Threads: 1},
	)

	block := make(chan struct{})
	_, err := e.Go(task.General, func() { <-block })
	require.NoError(t, err)

	// upload work proceeds while the only general worker is blocked
	h, err := e.Enqueue(task.Upload, func() (interface{}, error) { return 42, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
	v, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	close(block)
}

func TestExecutorFIFO(t *testing.T) {
	e := newExecutor(t, task.QueueConfig{Type: task.General, Threads: 1})

	var (
		mutex sync.Mutex
		order []int
	)
	started := make(chan struct{})
	block := make(chan struct{})
	_, err := e.Go(task.General, func() {
		close(started)
		<-block
	})
	require.NoError(t, err)
	<-started

	var last *task.Task
	for i := 0; i < 10; i++ {
		i := i
		last, err = e.Go(task.General, func() {
			mutex.Lock()
			order = append(order, i)
			mutex.Unlock()
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 10, e.Pending(task.General))
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, last.Wait(ctx))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestExecutorTaskErrorAndPanic(t *testing.T) {
	e := newExecutor(t, task.QueueConfig{Type: task.General, Threads: 1})
	errBoom := errors.New("boom")

	failing, err := e.Enqueue(task.General, func() (interface{}, error) { return nil, errBoom })
	require.NoError(t, err)
	panicking, err := e.Go(task.General, func() { panic("bad task") })
	require.NoError(t, err)
	after, err := e.Enqueue(task.General, func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, after.Wait(ctx))

	_, err = failing.Result()
	assert.ErrorIs(t, err, errBoom)
	_, err = panicking.Result()
	assert.Error(t, err)
	v, err := after.Result()
	assert.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestExecutorEnqueuePreconditions(t *testing.T) {
	e := task.NewExecutor()
	_, err := e.Go(task.General, func() {})
	assert.ErrorIs(t, err, task.ErrNotRunning)

	assert.ErrorIs(t, e.Run(), task.ErrNoQueues)
	assert.ErrorIs(t, e.Run(task.QueueConfig{Type: task.General}), task.ErrInvalidThreads)

	require.NoError(t, e.Run(task.QueueConfig{Type: task.General, Threads: 1}))
	assert.ErrorIs(t, e.Run(task.QueueConfig{Type: task.General, Threads: 1}), task.ErrAlreadyRunning)

	_, err = e.Go("missing", func() {})
	assert.ErrorIs(t, err, task.ErrUnknownType)

	e.Shutdown()
	_, err = e.Go(task.General, func() {})
	assert.ErrorIs(t, err, task.ErrShutdown)
}

func TestExecutorShutdownWithQueuedTasks(t *testing.T) {
	e := task.NewExecutor()
	require.NoError(t, e.Run(task.QueueConfig{Type: task.General, Threads: 2}))

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		_, err := e.Go(task.General, func() {
			started <- struct{}{}
			<-release
		})
		require.NoError(t, err)
	}
	<-started
	<-started

	var queued []*task.Task
	for i := 0; i < 50; i++ {
		h, err := e.Go(task.General, func() {})
		require.NoError(t, err)
		queued = append(queued, h)
	}

	done := make(chan struct{})
	go func() {
		e.Shutdown()
		close(done)
	}()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not join workers")
	}

	for _, h := range queued {
		assert.True(t, h.Completed())
	}
	// second call must not hang
	e.Shutdown()
}

func TestExecutorWaitIdle(t *testing.T) {
	e := newExecutor(t, task.QueueConfig{Type: task.General, Threads: 2})

	var counter int64
	for i := 0; i < 20; i++ {
		_, err := e.Go(task.General, func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&counter, 1)
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(ctx))
	assert.Equal(t, int64(20), atomic.LoadInt64(&counter))
}

func TestExecutorWaitIdleStopsWithContext(t *testing.T) {
	e := newExecutor(t, task.QueueConfig{Type: task.General, Threads: 1})

	gate := make(chan struct{})
	_, err := e.Go(task.General, func() { <-gate })
	require.NoError(t, err)
	_, err = e.Go(task.General, func() {})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.WaitIdle(ctx), context.DeadlineExceeded)

	idle := make(chan error, 1)
	go func() { idle <- e.WaitIdle(context.Background()) }()
	select {
	case <-idle:
		t.Fatal("idle while a task is blocked")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-idle:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitIdle did not return after the tasks finished")
	}
	assert.Zero(t, e.Pending(task.General))
}

func TestExecutorWaitIdleAfterShutdown(t *testing.T) {
	e := task.NewExecutor()
	require.NoError(t, e.WaitIdle(context.Background()))
	require.NoError(t, e.Run(task.QueueConfig{Type: task.General, Threads: 1}))

	gate := make(chan struct{})
	_, err := e.Go(task.General, func() { <-gate })
	require.NoError(t, err)
	queued, err := e.Go(task.General, func() {})
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(gate)
	}()
	e.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(ctx))
	require.NoError(t, queued.Wait(ctx))
	_, err = queued.Result()
	assert.ErrorIs(t, err, task.ErrShutdown)
}

func TestTaskIDsIncrease(t *testing.T) {
	e := newExecutor(t, task.QueueConfig{Type: task.General, Threads: 1})

	a, err := e.Go(task.General, func() {})
	require.NoError(t, err)
	b, err := e.Go(task.General, func() {})
	require.NoError(t, err)
	assert.Less(t, a.ID(), b.ID())
	assert.Equal(t, task.General, b.Type())
}
