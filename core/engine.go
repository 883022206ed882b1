// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core assembles the engine: the task executor, the resource
// manager and loader, the frame renderer and the active scene.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/Zubo/obsidian-engine-sub000/internal/budget"
	"github.com/Zubo/obsidian-engine-sub000/renderer"
	"github.com/Zubo/obsidian-engine-sub000/resource"
	"github.com/Zubo/obsidian-engine-sub000/scene"
	"github.com/Zubo/obsidian-engine-sub000/task"
	"github.com/sirupsen/logrus"
)

// package errors
var (
	ErrNoStorage = errors.New("no asset storage configured")
	ErrShutdown  = errors.New("engine is shut down")
)

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger, defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// Engine ties the runtime together. Frame, LoadScene and Shutdown are
// called from the render goroutine.
type Engine struct {
	cfg Configuration
	log logrus.FieldLogger
	dev gfx.Device
	src asset.Source

	exec     *task.Executor
	budget   *budget.Controller
	manager  *resource.Manager
	loader   *resource.Loader
	renderer *renderer.Renderer
	watcher  *resource.Watcher

	mutex    sync.Mutex
	scene    *scene.Scene
	held     []string
	shutdown bool
}

// NewEngine builds and starts the engine on dev, reading assets from src.
func NewEngine(cfg Configuration, dev gfx.Device, src asset.Source, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		cfg: cfg,
		log: logrus.StandardLogger(),
		dev: dev,
		src: src,
	}
	for _, opt := range opts {
		opt(e)
	}

	general, upload := cfg.Tasks.GeneralThreads, cfg.Tasks.UploadThreads
	if general <= 0 {
		general = 1
	}
	if upload <= 0 {
		upload = 1
	}
	e.exec = task.NewExecutor(task.WithLogger(e.log))
	if err := e.exec.Run(
		task.QueueConfig{Type: task.General, Threads: general},
		task.QueueConfig{Type: task.Upload, Threads: upload},
	); err != nil {
		return nil, err
	}

	rcfg := renderer.DefaultConfig()
	rcfg.FrameOverlap = cfg.Renderer.FrameOverlap
	rcfg.FenceTimeout = cfg.Renderer.FenceTimeout
	rcfg.Shadows = cfg.Renderer.Shadows
	rend, err := renderer.New(dev, rcfg, renderer.WithLogger(e.log))
	if err != nil {
		e.exec.Shutdown()
		return nil, err
	}
	e.renderer = rend

	mopts := []resource.Option{resource.WithLogger(e.log)}
	if cfg.Resources.MemoryLimitBytes > 0 || cfg.Resources.UploadBytesPerSec > 0 {
		e.budget = budget.New(budget.Config{
			MemoryLimitBytes:  cfg.Resources.MemoryLimitBytes,
			UploadBytesPerSec: cfg.Resources.UploadBytesPerSec,
		})
		mopts = append(mopts, resource.WithBudget(e.budget))
	}
	e.manager = resource.NewManager(src, dev, rend, mopts...)

	lopts := []resource.LoaderOption{resource.WithLoaderLogger(e.log)}
	if cfg.Resources.StaleThreshold > 0 {
		lopts = append(lopts, resource.WithStaleThreshold(cfg.Resources.StaleThreshold))
	}
	e.loader = resource.NewLoader(e.exec, e.manager, lopts...)

	if dir, ok := src.(*asset.DirSource); ok && cfg.Resources.HotReload {
		wopts := []resource.WatcherOption{resource.WithWatcherLogger(e.log)}
		if cfg.Resources.SettleDelay > 0 {
			wopts = append(wopts, resource.WithSettle(cfg.Resources.SettleDelay))
		}
		if e.watcher, err = resource.NewWatcher(dir, e.manager, e.loader, wopts...); err != nil {
			e.log.WithError(err).Warn("hot reload disabled")
		}
	}
	return e, nil
}

// OpenSource opens the asset storage selected by cfg.
func OpenSource(cfg StorageConfiguration) (asset.Source, error) {
	switch {
	case cfg.Object.Endpoint != "" && cfg.Object.Bucket != "":
		return asset.NewObjectSource(cfg.Object)
	case cfg.Archive != "":
		return asset.OpenArchive(cfg.Archive)
	case cfg.Directory != "":
		return asset.NewDirSource(cfg.Directory), nil
	}
	return nil, ErrNoStorage
}

// Manager returns the resource manager.
func (e *Engine) Manager() *resource.Manager {
	return e.manager
}

// Loader returns the resource loader.
func (e *Engine) Loader() *resource.Loader {
	return e.loader
}

// Renderer returns the frame renderer.
func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

// Budget returns the payload budget, nil when unlimited.
func (e *Engine) Budget() *budget.Controller {
	return e.budget
}

// Scene returns the active scene.
func (e *Engine) Scene() *scene.Scene {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.scene
}

// LoadScene makes s the active scene. Every resource it references is
// referenced and requested, the previous scene's references are dropped.
// References are held by path so they follow resources across hot
// reloads.
func (e *Engine) LoadScene(s *scene.Scene) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.shutdown {
		return ErrShutdown
	}

	paths := s.Paths()
	held := make([]string, 0, len(paths))
	for _, p := range paths {
		r := e.manager.Acquire(p)
		e.loader.Request(r)
		held = append(held, r.Path())
	}
	for _, p := range e.held {
		e.manager.Unref(p)
	}
	e.scene, e.held = s, held
	e.log.WithField("resources", len(held)).Info("scene loaded")
	return nil
}

// LoadSceneFile reads a scene file and makes it active.
func (e *Engine) LoadSceneFile(path string) error {
	s, err := scene.LoadFile(path)
	if err != nil {
		return err
	}
	return e.LoadScene(s)
}

// Frame collects the draw calls of the active scene and renders them.
func (e *Engine) Frame() error {
	e.mutex.Lock()
	s := e.scene
	down := e.shutdown
	e.mutex.Unlock()
	if down {
		return ErrShutdown
	}

	params := gfx.SceneParams{}
	if s != nil {
		for _, dc := range s.Collect(e.manager, e.loader) {
			e.renderer.SubmitDrawCall(dc)
		}
		params = s.Params()
	}
	return e.renderer.Draw(params)
}

// UpdateExtent schedules a resize before the next frame.
func (e *Engine) UpdateExtent(extent gfx.Extent2D) {
	e.renderer.UpdateExtent(extent)
}

// WaitLoaded blocks until every resource of the active scene is ready
// or failed. It returns the number of failed resources.
func (e *Engine) WaitLoaded(ctx context.Context) (int, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		e.mutex.Lock()
		held := e.held
		e.mutex.Unlock()

		done, failed := true, 0
		for _, p := range held {
			r := e.manager.Lookup(p)
			if r == nil {
				continue
			}
			switch r.State() {
			case resource.GPUReady, resource.Released:
			case resource.Failed:
				failed++
			default:
				done = false
			}
		}
		if done {
			return failed, nil
		}

		select {
		case <-ctx.Done():
			return failed, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops loading, drains the device and releases everything.
// The device itself is left to the caller.
func (e *Engine) Shutdown() error {
	e.mutex.Lock()
	if e.shutdown {
		e.mutex.Unlock()
		return nil
	}
	e.shutdown = true
	e.held = nil
	e.mutex.Unlock()

	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			e.log.WithError(err).Warn("closing watcher")
		}
	}
	e.loader.Close()
	e.exec.Shutdown()

	var errs []error
	if err := e.dev.WaitIdle(); err != nil {
		errs = append(errs, fmt.Errorf("wait idle: %w", err))
	}
	e.manager.Close()
	if err := e.renderer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close renderer: %w", err))
	}
	if c, ok := e.src.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.log.Info("engine shut down")
	return errors.Join(errs...)
}
