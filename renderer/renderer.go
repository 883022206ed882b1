// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package renderer drives a gfx.Device with a fixed number of frames in
// flight. Each frame slot is only rewritten after the fence of its
// previous submission signaled, and device resources released by the
// resource layer are kept alive until no frame in flight can use them.
package renderer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus"
)

// package errors
var (
	ErrClosed        = errors.New("renderer closed")
	ErrInvalidConfig = errors.New("invalid renderer configuration")
)

// Config is used to configure the renderer
type Config struct {
	// FrameOverlap is the number of frames in flight.
	FrameOverlap int

	// FenceTimeout bounds every fence wait, exceeding it means the
	// device is lost.
	FenceTimeout time.Duration

	// Shadows enables the shadow pass.
	Shadows bool

	ClearColor glm.Vec4
}

// DefaultConfig returns the configuration used for zero values.
func DefaultConfig() Config {
	return Config{
		FrameOverlap: 2,
		FenceTimeout: 10 * time.Second,
		Shadows:      true,
		ClearColor:   glm.Vec4{0.005, 0.005, 0.005, 1},
	}
}

// Option configures the Renderer.
type Option func(*Renderer)

// WithLogger sets the logger, defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Renderer) {
		r.log = l
	}
}

// FrameSlot is the frame in flight data of one slot.
type FrameSlot struct {
	Index int
	Frame gfx.Frame

	// Uses counts the submissions done with this slot.
	Uses uint64
}

type deferredRelease struct {
	frame uint64
	fn    func()
}

// Stats counts renderer activity.
type Stats struct {
	Frames      uint64
	Skipped     uint64
	Resizes     uint64
	Draws       uint64
	ReleasesRun uint64
	Pending     int
}

// New creates the renderer and the frame slot arena.
func New(dev gfx.Device, cfg Config, opts ...Option) (*Renderer, error) {
	def := DefaultConfig()
	if cfg.FrameOverlap == 0 {
		cfg.FrameOverlap = def.FrameOverlap
	}
	if cfg.FenceTimeout == 0 {
		cfg.FenceTimeout = def.FenceTimeout
	}
	if cfg.FrameOverlap < 1 {
		return nil, fmt.Errorf("%w: frame overlap %d", ErrInvalidConfig, cfg.FrameOverlap)
	}

	r := &Renderer{
		dev: dev,
		cfg: cfg,
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.slots = make([]FrameSlot, cfg.FrameOverlap)
	for idx := range r.slots {
		frame, err := dev.NewFrame(idx)
		if err != nil {
			for _, s := range r.slots[:idx] {
				s.Frame.Destroy()
			}
			return nil, fmt.Errorf("frame slot %d: %w", idx, err)
		}
		r.slots[idx] = FrameSlot{Index: idx, Frame: frame}
	}
	return r, nil
}

// Renderer is the multi buffered frame renderer. Draw, Close and Stats
// belong to the render goroutine, every other method is safe for
// concurrent use.
type Renderer struct {
	dev   gfx.Device
	cfg   Config
	log   logrus.FieldLogger
	slots []FrameSlot

	frameNumber uint64
	stats       Stats

	drawMutex sync.Mutex
	draws     []gfx.DrawCall

	releaseMutex sync.Mutex
	releases     []deferredRelease
	closed       bool

	extentMutex   sync.Mutex
	pendingExtent *gfx.Extent2D
}

// FrameNumber returns the number of frames submitted so far, which
// is also the number of the next frame.
func (r *Renderer) FrameNumber() uint64 {
	return atomic.LoadUint64(&r.frameNumber)
}

// Overlap returns the number of frames in flight.
func (r *Renderer) Overlap() int {
	return len(r.slots)
}

// Stats returns the activity counters.
func (r *Renderer) Stats() Stats {
	s := r.stats
	r.releaseMutex.Lock()
	s.Pending = len(r.releases)
	r.releaseMutex.Unlock()
	return s
}

// SubmitDrawCall queues a draw call for the next frame.
func (r *Renderer) SubmitDrawCall(dc gfx.DrawCall) {
	r.drawMutex.Lock()
	r.draws = append(r.draws, dc)
	r.drawMutex.Unlock()
}

func (r *Renderer) takeDraws() []gfx.DrawCall {
	r.drawMutex.Lock()
	defer r.drawMutex.Unlock()
	draws := r.draws
	r.draws = nil
	return draws
}

// UpdateExtent schedules a resize, applied at the start of the next Draw.
func (r *Renderer) UpdateExtent(e gfx.Extent2D) {
	r.extentMutex.Lock()
	r.pendingExtent = &e
	r.extentMutex.Unlock()
}

func (r *Renderer) takePendingExtent() (gfx.Extent2D, bool) {
	r.extentMutex.Lock()
	defer r.extentMutex.Unlock()
	if r.pendingExtent == nil {
		return gfx.Extent2D{}, false
	}
	e := *r.pendingExtent
	r.pendingExtent = nil
	return e, true
}

// scheduleSurfaceResize is used when the device reports an out of date
// surface without a window event telling the new size.
func (r *Renderer) scheduleSurfaceResize() {
	r.extentMutex.Lock()
	defer r.extentMutex.Unlock()
	if r.pendingExtent != nil {
		return
	}
	e := r.dev.Extent()
	if sizer, ok := r.dev.(gfx.SurfaceSizer); ok {
		e = sizer.SurfaceExtent()
	}
	r.pendingExtent = &e
}

// DeferRelease runs fn once every frame that may reference a device
// resource released now has completed on the device.
func (r *Renderer) DeferRelease(fn func()) {
	r.releaseMutex.Lock()
	if r.closed {
		r.releaseMutex.Unlock()
		fn()
		return
	}
	r.releases = append(r.releases, deferredRelease{
		frame: r.FrameNumber(),
		fn:    fn,
	})
	r.releaseMutex.Unlock()
}

// flushReleases runs every release requested at least overlap frames
// before current. The fence of current's slot has signaled, so every
// frame before current-overlap+1 finished on the device.
func (r *Renderer) flushReleases(current uint64) {
	overlap := uint64(len(r.slots))
	var ready []func()

	r.releaseMutex.Lock()
	kept := r.releases[:0]
	for _, rel := range r.releases {
		if rel.frame+overlap <= current {
			ready = append(ready, rel.fn)
		} else {
			kept = append(kept, rel)
		}
	}
	r.releases = kept
	r.releaseMutex.Unlock()

	for _, fn := range ready {
		fn()
	}
	r.stats.ReleasesRun += uint64(len(ready))
}

// Draw renders one frame. A frame is skipped, with nothing recorded,
// while the surface is being resized.
func (r *Renderer) Draw(params gfx.SceneParams) error {
	r.releaseMutex.Lock()
	closed := r.closed
	r.releaseMutex.Unlock()
	if closed {
		return ErrClosed
	}

	draws := r.takeDraws()

	if extent, ok := r.takePendingExtent(); ok {
		return r.resize(extent)
	}
	extent := r.dev.Extent()
	if extent.Empty() {
		r.stats.Skipped++
		return nil
	}

	current := r.FrameNumber()
	slot := &r.slots[current%uint64(len(r.slots))]

	if err := slot.Frame.Wait(r.cfg.FenceTimeout); err != nil {
		if errors.Is(err, gfx.ErrTimeout) {
			return fmt.Errorf("%w: fence of slot %d not signaled after %s", gfx.ErrDeviceLost, slot.Index, r.cfg.FenceTimeout)
		}
		return fmt.Errorf("slot %d fence: %w", slot.Index, err)
	}

	r.flushReleases(current)

	if err := slot.Frame.Acquire(); err != nil {
		if errors.Is(err, gfx.ErrOutOfDate) {
			r.log.WithField("frame", current).Debug("surface out of date, skipping frame")
			r.scheduleSurfaceResize()
			r.stats.Skipped++
			return nil
		}
		return fmt.Errorf("acquire: %w", err)
	}

	if err := slot.Frame.Reset(); err != nil {
		return fmt.Errorf("slot %d fence reset: %w", slot.Index, err)
	}
	if err := slot.Frame.WriteUniforms(gfx.NewFrameUniforms(params, extent)); err != nil {
		return fmt.Errorf("slot %d uniforms: %w", slot.Index, err)
	}

	if err := r.record(slot, draws, params, extent); err != nil {
		return err
	}
	if err := slot.Frame.Submit(); err != nil {
		return fmt.Errorf("slot %d submit: %w", slot.Index, err)
	}
	slot.Uses++
	atomic.AddUint64(&r.frameNumber, 1)
	r.stats.Frames++

	if err := slot.Frame.Present(); err != nil {
		if errors.Is(err, gfx.ErrOutOfDate) {
			r.scheduleSurfaceResize()
			return nil
		}
		return fmt.Errorf("present: %w", err)
	}
	return nil
}

func (r *Renderer) resize(extent gfx.Extent2D) error {
	if err := r.dev.WaitIdle(); err != nil {
		return fmt.Errorf("resize wait: %w", err)
	}
	if err := r.dev.Resize(extent); err != nil {
		return fmt.Errorf("resize to %dx%d: %w", extent.Width, extent.Height, err)
	}
	r.log.WithFields(logrus.Fields{
		"width":  extent.Width,
		"height": extent.Height,
	}).Debug("surface resized")
	r.stats.Resizes++
	r.stats.Skipped++
	return nil
}

func (r *Renderer) record(slot *FrameSlot, draws []gfx.DrawCall, params gfx.SceneParams, extent gfx.Extent2D) error {
	cb, err := slot.Frame.Begin()
	if err != nil {
		return fmt.Errorf("slot %d begin: %w", slot.Index, err)
	}

	opaque, transparent := SortDrawCalls(draws, params.CameraPos)

	if r.cfg.Shadows {
		if err := cb.BeginPass(gfx.ShadowPass, gfx.PassParams{Extent: extent}); err != nil {
			return err
		}
		for _, dc := range opaque {
			if err := cb.Draw(dc); err != nil {
				return err
			}
		}
		if err := cb.EndPass(); err != nil {
			return err
		}
	}

	if err := cb.BeginPass(gfx.MainPass, gfx.PassParams{Extent: extent, ClearColor: r.cfg.ClearColor}); err != nil {
		return err
	}
	for _, list := range [][]gfx.DrawCall{opaque, transparent} {
		for _, dc := range list {
			if err := cb.Draw(dc); err != nil {
				return err
			}
		}
	}
	r.stats.Draws += uint64(len(opaque) + len(transparent))
	return cb.EndPass()
}

// SortDrawCalls drops draw calls without a mesh and splits the rest
// into opaque calls sorted front to back and transparent calls sorted
// back to front, as seen from eye.
func SortDrawCalls(draws []gfx.DrawCall, eye glm.Vec3) (opaque, transparent []gfx.DrawCall) {
	for _, dc := range draws {
		if !dc.Mesh.Valid() {
			continue
		}
		if dc.Transparent {
			transparent = append(transparent, dc)
		} else {
			opaque = append(opaque, dc)
		}
	}
	dist := func(dc gfx.DrawCall) float32 {
		return dc.Transform.Col(3).Vec3().Sub(eye).LenSqr()
	}
	sort.SliceStable(opaque, func(i, j int) bool { return dist(opaque[i]) < dist(opaque[j]) })
	sort.SliceStable(transparent, func(i, j int) bool { return dist(transparent[i]) > dist(transparent[j]) })
	return opaque, transparent
}

// Close waits for the device, runs every pending release and destroys
// the frame slots. Releases deferred afterwards run immediately.
func (r *Renderer) Close() error {
	r.releaseMutex.Lock()
	if r.closed {
		r.releaseMutex.Unlock()
		return nil
	}
	r.releaseMutex.Unlock()

	err := r.dev.WaitIdle()

	r.releaseMutex.Lock()
	r.closed = true
	pending := r.releases
	r.releases = nil
	r.releaseMutex.Unlock()

	for _, rel := range pending {
		rel.fn()
	}
	r.stats.ReleasesRun += uint64(len(pending))

	for _, s := range r.slots {
		s.Frame.Destroy()
	}
	return err
}
