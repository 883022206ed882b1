// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Zubo/obsidian-engine-sub000/task"
	"github.com/sirupsen/logrus"
)

// DefaultStaleThreshold is the number of scheduling passes a resource may
// wait for its dependencies before the loader warns about it.
const DefaultStaleThreshold = 1000

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger, defaults to the logrus standard logger.
func WithLoaderLogger(l logrus.FieldLogger) LoaderOption {
	return func(ld *Loader) {
		ld.log = l
	}
}

// WithStaleThreshold sets after how many passes a waiting resource is
// reported.
func WithStaleThreshold(n int) LoaderOption {
	return func(ld *Loader) {
		ld.staleThreshold = n
	}
}

type pending struct {
	r      *Resource
	passes int
}

// LoaderStats is a snapshot of the loader bookkeeping.
type LoaderStats struct {
	Requested     int
	LoadPending   int
	UploadPending int
	Stale         int
}

// NewLoader creates a Loader scheduling work on exec and starts its
// scheduling goroutine. exec needs a task.General and a task.Upload queue.
func NewLoader(exec *task.Executor, mgr *Manager, opts ...LoaderOption) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		exec:           exec,
		mgr:            mgr,
		log:            logrus.StandardLogger(),
		staleThreshold: DefaultStaleThreshold,
		ctx:            ctx,
		cancel:         cancel,
		requested:      make(map[string]struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.cond = sync.NewCond(&l.mutex)
	l.unsubscribe = mgr.Subscribe(l.onTransition)
	go l.run()
	return l
}

// Loader turns requests into asset load and upload tasks. A resource is
// only uploaded after every resource it depends on is ready.
type Loader struct {
	exec           *task.Executor
	mgr            *Manager
	log            logrus.FieldLogger
	staleThreshold int

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	done        chan struct{}

	// mutex guards the bookkeeping below
	mutex         sync.Mutex
	cond          *sync.Cond
	requested     map[string]struct{}
	loadPending   []*Resource
	uploadPending []*pending
	stop          bool

	// generation counts transitions, the upload pass only runs again
	// after something changed
	generation uint64
	seen       uint64
}

func (l *Loader) onTransition(r *Resource, from, to State) {
	l.mutex.Lock()
	l.generation++
	if to == Released {
		delete(l.requested, r.path)
	}
	l.mutex.Unlock()
	l.cond.Signal()
}

// Request asks for r and everything it depends on to be uploaded. It
// reports whether a new asset load was scheduled. Every path is
// requested at most once until its resource is released.
func (l *Loader) Request(r *Resource) bool {
	l.mutex.Lock()
	appended := l.request(r)
	l.mutex.Unlock()

	if appended {
		l.cond.Signal()
	}
	return appended
}

// RequestPath requests the resource of path.
func (l *Loader) RequestPath(path string) *Resource {
	r := l.mgr.Get(path)
	l.Request(r)
	return r
}

func (l *Loader) request(r *Resource) bool {
	if l.stop {
		return false
	}
	if _, ok := l.requested[r.path]; ok {
		return false
	}
	l.requested[r.path] = struct{}{}

	appended := false
	for _, p := range r.Dependencies() {
		if l.request(l.mgr.Get(p)) {
			appended = true
		}
	}

	if r.State() == Unloaded {
		l.loadPending = append(l.loadPending, r)
		appended = true
	}
	return appended
}

// Stats returns the current bookkeeping sizes.
func (l *Loader) Stats() LoaderStats {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	s := LoaderStats{
		Requested:     len(l.requested),
		LoadPending:   len(l.loadPending),
		UploadPending: len(l.uploadPending),
	}
	for _, p := range l.uploadPending {
		if p.passes >= l.staleThreshold {
			s.Stale++
		}
	}
	return s
}

func (l *Loader) report(r *Resource, stage string, err error) {
	if err == nil || errors.Is(err, ErrReleased) || errors.Is(err, context.Canceled) {
		return
	}
	l.log.WithFields(logrus.Fields{
		"path":  r.path,
		"stage": stage,
	}).WithError(err).Debug("task did not make the resource ready")
}

// Close stops the scheduling goroutine and waits for it. Tasks already
// handed to the executor may still run.
func (l *Loader) Close() {
	l.mutex.Lock()
	if l.stop {
		l.mutex.Unlock()
		<-l.done
		return
	}
	l.stop = true
	l.mutex.Unlock()
	l.cond.Broadcast()

	<-l.done
	l.unsubscribe()
	l.cancel()
}

func (l *Loader) run() {
	defer close(l.done)

	for {
		l.mutex.Lock()
		for !l.stop && len(l.loadPending) == 0 &&
			(len(l.uploadPending) == 0 || l.generation == l.seen) {
			l.cond.Wait()
		}
		if l.stop {
			l.mutex.Unlock()
			return
		}
		loads, uploads := l.loadPending, l.uploadPending
		l.loadPending, l.uploadPending = nil, nil
		l.seen = l.generation
		l.mutex.Unlock()

		kept := l.scheduleUploads(uploads)
		kept = append(kept, l.scheduleLoads(loads)...)

		l.mutex.Lock()
		l.uploadPending = append(l.uploadPending, kept...)
		l.mutex.Unlock()
	}
}

// scheduleUploads enqueues the upload of every loaded resource whose
// dependencies are ready and returns the ones that have to wait.
func (l *Loader) scheduleUploads(list []*pending) []*pending {
	var kept []*pending
	for _, p := range list {
		r := p.r
		switch r.State() {
		case Unloaded, AssetLoading:
			kept = append(kept, p)
			continue
		case AssetLoaded:
		default:
			continue
		}

		ready, err := l.dependenciesReady(r)
		if err != nil {
			r.fail(AssetLoaded, err)
			continue
		}
		if !ready {
			p.passes++
			if p.passes == l.staleThreshold {
				l.log.WithFields(logrus.Fields{
					"path":   r.path,
					"passes": p.passes,
				}).Warn("resource is waiting on its dependencies for long")
			}
			kept = append(kept, p)
			continue
		}

		if !r.transition(AssetLoaded, GPUUploading) {
			continue
		}
		_, err = l.exec.Enqueue(task.Upload, func() (interface{}, error) {
			err := r.upload(l.ctx)
			l.report(r, "upload", err)
			return nil, err
		})
		if err != nil {
			r.fail(GPUUploading, err)
		}
	}
	return kept
}

// dependenciesReady reports whether every dependency of r is ready. A
// dependency that can never become ready is an error.
func (l *Loader) dependenciesReady(r *Resource) (bool, error) {
	ready := true
	for _, p := range r.Dependencies() {
		d := l.mgr.Lookup(p)
		if d == nil {
			return false, fmt.Errorf("%s: %w", p, ErrDependencyFailed)
		}
		switch d.State() {
		case GPUReady:
		case Failed:
			return false, fmt.Errorf("%s: %w: %v", p, ErrDependencyFailed, d.Err())
		case Released:
			return false, fmt.Errorf("%s: %w: released", p, ErrDependencyFailed)
		default:
			ready = false
		}
	}
	if !ready && l.cyclic(r) {
		return false, ErrDependencyCycle
	}
	return ready, nil
}

// cyclic reports whether r can reach itself through known dependencies.
func (l *Loader) cyclic(r *Resource) bool {
	visited := make(map[string]bool)
	var visit func(path string) bool
	visit = func(path string) bool {
		if path == r.path {
			return true
		}
		if visited[path] {
			return false
		}
		visited[path] = true
		d := l.mgr.Lookup(path)
		if d == nil {
			return false
		}
		for _, p := range d.Dependencies() {
			if visit(p) {
				return true
			}
		}
		return false
	}
	for _, p := range r.Dependencies() {
		if visit(p) {
			return true
		}
	}
	return false
}

// scheduleLoads enqueues the asset load of every unloaded resource and
// returns them for the upload pass.
func (l *Loader) scheduleLoads(list []*Resource) []*pending {
	var moved []*pending
	for _, r := range list {
		if !r.transition(Unloaded, AssetLoading) {
			if s := r.State(); !s.Terminal() && s < GPUUploading {
				moved = append(moved, &pending{r: r})
			}
			continue
		}
		_, err := l.exec.Enqueue(task.General, func() (interface{}, error) {
			err := r.load(l.ctx, l.Request)
			l.report(r, "asset load", err)
			return nil, err
		})
		if err != nil {
			r.fail(AssetLoading, err)
			continue
		}
		moved = append(moved, &pending{r: r})
	}
	return moved
}
