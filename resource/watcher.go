// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultSettle is how long the watcher waits for a burst of file
// events to end before reloading.
const DefaultSettle = 100 * time.Millisecond

// Watcher reloads resources whose asset files change below the root of
// a DirSource. Changed resources and their dependents are replaced
// through Manager.Reload and requested again.
type Watcher struct {
	src    *asset.DirSource
	mgr    *Manager
	loader *Loader
	log    logrus.FieldLogger
	settle time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mutex    sync.Mutex
	dirty    map[string]struct{}
	timer    *time.Timer
	reloaded func(paths []string)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSettle sets the debounce interval.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.settle = d
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l logrus.FieldLogger) WatcherOption {
	return func(w *Watcher) {
		w.log = l
	}
}

// OnReload is called with the paths requested again after every reload.
func OnReload(fn func(paths []string)) WatcherOption {
	return func(w *Watcher) {
		w.reloaded = fn
	}
}

// NewWatcher starts watching every directory below the root of src.
func NewWatcher(src *asset.DirSource, mgr *Manager, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		src:     src,
		mgr:     mgr,
		loader:  loader,
		log:     logrus.StandardLogger(),
		settle:  DefaultSettle,
		watcher: fw,
		done:    make(chan struct{}),
		dirty:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addTree(src.Root()); err != nil {
		fw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.watch()
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) watch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("asset watcher")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.log.WithError(err).WithField("dir", event.Name).Warn("cannot watch directory")
			}
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	rel, err := w.src.Rel(event.Name)
	if err != nil || asset.TypeFromPath(rel) == asset.Unknown {
		return
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.dirty[rel] = struct{}{}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.settle, w.flush)
	} else {
		w.timer.Reset(w.settle)
	}
}

func (w *Watcher) flush() {
	w.mutex.Lock()
	dirty := w.dirty
	w.dirty = make(map[string]struct{})
	w.timer = nil
	w.mutex.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	var reloaded []string
	for path := range dirty {
		r := w.mgr.Lookup(path)
		if r == nil || r.State() == Unloaded {
			continue
		}
		for _, fresh := range w.mgr.Reload(path) {
			w.loader.Request(fresh)
			reloaded = append(reloaded, fresh.Path())
		}
	}
	if len(reloaded) == 0 {
		return
	}
	w.log.WithField("paths", reloaded).Info("reloading changed assets")
	if w.reloaded != nil {
		w.reloaded(reloaded)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mutex.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mutex.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
