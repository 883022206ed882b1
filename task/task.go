// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package task

import (
	"context"
	"sync"
	"sync/atomic"
)

// Type names a queue. Workers bound to a Type only ever
// dequeue work from the queue of that Type.
type Type string

// Queue types used by the engine.
const (
	General Type = "general"
	Upload  Type = "upload"
)

var taskCounter uint64

// Task is a handle to a unit of work enqueued on an Executor.
// It stays valid for as long as the caller holds it.
type Task struct {
	id  uint64
	typ Type
	fn  func() (interface{}, error)

	done chan struct{}
	once sync.Once

	result interface{}
	err    error
}

func newTask(typ Type, fn func() (interface{}, error)) *Task {
	return &Task{
		id:   atomic.AddUint64(&taskCounter, 1),
		typ:  typ,
		fn:   fn,
		done: make(chan struct{}),
	}
}

// ID returns the monotonically increasing id of the task.
func (t *Task) ID() uint64 {
	return t.id
}

// Type returns the queue type the task was enqueued on.
func (t *Task) Type() Type {
	return t.typ
}

// Done returns a channel that is closed once the task finished,
// failed or was cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Completed reports whether the task is finished.
func (t *Task) Completed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the task is finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the stored return value and error of the task.
// Only meaningful once Done is closed.
func (t *Task) Result() (interface{}, error) {
	select {
	case <-t.done:
		return t.result, t.err
	default:
		return nil, ErrNotCompleted
	}
}

func (t *Task) finish(result interface{}, err error) {
	t.once.Do(func() {
		t.result = result
		t.err = err
		t.fn = nil
		close(t.done)
	})
}
