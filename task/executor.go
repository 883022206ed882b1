// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package task is a typed worker pool. Work is partitioned into named
// queues, each serviced by its own group of worker goroutines, so that
// for example GPU uploads never wait behind asset decoding.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// package errors
var (
	ErrAlreadyRunning = errors.New("executor is already running")
	ErrNotRunning     = errors.New("executor is not running")
	ErrShutdown       = errors.New("executor is shut down")
	ErrUnknownType    = errors.New("unknown task type")
	ErrNoQueues       = errors.New("no queues configured")
	ErrInvalidThreads = errors.New("thread count must be positive")
	ErrNotCompleted   = errors.New("task is not completed")
)

// QueueConfig describes one queue and how many workers serve it.
type QueueConfig struct {
	Type    Type
	Threads int
}

type queue struct {
	mutex sync.Mutex
	cond  *sync.Cond
	tasks []*Task
	stop  bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used to report task failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

// NewExecutor creates an Executor. Run must be called before Enqueue.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		log: logrus.StandardLogger(),
	}
	e.idle = sync.NewCond(&e.idleMutex)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Executor runs tasks on a fixed set of workers per queue type.
type Executor struct {
	log logrus.FieldLogger

	// mutex guards lifecycle only, queues have their own locks
	mutex    sync.RWMutex
	running  bool
	shutdown bool
	queues   map[Type]*queue

	workers sync.WaitGroup

	// outstanding counts tasks enqueued and not yet finished, idle is
	// broadcast when it drops to zero
	idleMutex   sync.Mutex
	idle        *sync.Cond
	outstanding int
}

// Run creates a queue for every distinct type and starts its workers.
// Threads of repeated types are summed up. It may only be called once.
func (e *Executor) Run(configs ...QueueConfig) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.running || e.shutdown {
		return ErrAlreadyRunning
	}
	if len(configs) == 0 {
		return ErrNoQueues
	}

	threads := make(map[Type]int)
	for _, cfg := range configs {
		if cfg.Threads <= 0 {
			return fmt.Errorf("queue %q: %w", cfg.Type, ErrInvalidThreads)
		}
		threads[cfg.Type] += cfg.Threads
	}

	e.queues = make(map[Type]*queue, len(threads))
	for typ, n := range threads {
		q := newQueue()
		e.queues[typ] = q
		for i := 0; i < n; i++ {
			e.workers.Add(1)
			go e.worker(typ, q)
		}
	}
	e.running = true
	return nil
}

// Enqueue appends work to the queue of the given type and wakes one of
// its workers. The returned Task can be used to await completion and
// read the result.
func (e *Executor) Enqueue(typ Type, fn func() (interface{}, error)) (*Task, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if e.shutdown {
		return nil, ErrShutdown
	}
	if !e.running {
		return nil, ErrNotRunning
	}
	q, ok := e.queues[typ]
	if !ok {
		return nil, fmt.Errorf("%q: %w", typ, ErrUnknownType)
	}

	t := newTask(typ, fn)

	q.mutex.Lock()
	if q.stop {
		q.mutex.Unlock()
		return nil, ErrShutdown
	}
	e.idleMutex.Lock()
	e.outstanding++
	e.idleMutex.Unlock()
	q.tasks = append(q.tasks, t)
	q.mutex.Unlock()
	q.cond.Signal()

	return t, nil
}

// Go enqueues fire-and-forget work without a return value.
func (e *Executor) Go(typ Type, fn func()) (*Task, error) {
	return e.Enqueue(typ, func() (interface{}, error) {
		fn()
		return nil, nil
	})
}

// Pending returns the number of tasks waiting in the queue of typ.
func (e *Executor) Pending(typ Type) int {
	e.mutex.RLock()
	q, ok := e.queues[typ]
	e.mutex.RUnlock()
	if !ok {
		return 0
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.tasks)
}

// WaitIdle blocks until all queues are empty and no task is running, or
// until ctx is done.
func (e *Executor) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		e.idleMutex.Lock()
		e.idle.Broadcast()
		e.idleMutex.Unlock()
	})
	defer stop()

	e.idleMutex.Lock()
	defer e.idleMutex.Unlock()
	for e.outstanding > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.idle.Wait()
	}
	return nil
}

// Shutdown stops every worker and waits for them to exit. Tasks that are
// already executing are allowed to finish, queued tasks are cancelled
// with ErrShutdown. Enqueue fails afterwards.
func (e *Executor) Shutdown() {
	e.mutex.Lock()
	if e.shutdown {
		e.mutex.Unlock()
		return
	}
	e.shutdown = true
	queues := e.queues
	e.mutex.Unlock()

	for _, q := range queues {
		q.mutex.Lock()
		q.stop = true
		q.mutex.Unlock()
		q.cond.Broadcast()
	}

	e.workers.Wait()

	for _, q := range queues {
		q.mutex.Lock()
		cancelled := q.tasks
		q.tasks = nil
		q.mutex.Unlock()

		for _, t := range cancelled {
			t.finish(nil, ErrShutdown)
		}
		e.done(len(cancelled))
	}
}

func (e *Executor) worker(typ Type, q *queue) {
	defer e.workers.Done()

	for {
		q.mutex.Lock()
		for !q.stop && len(q.tasks) == 0 {
			q.cond.Wait()
		}
		if q.stop {
			q.mutex.Unlock()
			return
		}

		t := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mutex.Unlock()

		e.execute(typ, t)
		e.done(1)
	}
}

func (e *Executor) done(n int) {
	e.idleMutex.Lock()
	e.outstanding -= n
	if e.outstanding == 0 {
		e.idle.Broadcast()
	}
	e.idleMutex.Unlock()
}

func (e *Executor) execute(typ Type, t *Task) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("task %d panicked: %v", t.id, r)
			e.log.WithFields(logrus.Fields{
				"queue": string(typ),
				"task":  t.id,
			}).Error(err)
			t.finish(nil, err)
		}
	}()

	result, err := t.fn()
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"queue": string(typ),
			"task":  t.id,
		}).WithError(err).Debug("task failed")
	}
	t.finish(result, err)
}
