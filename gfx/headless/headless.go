// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package headless implements a software gfx.Device. Submitted command
// lists are executed by a simulated GPU goroutine after a configurable
// latency. The device keeps an event log and records every hazard it
// observes, like a draw that references a released resource or a uniform
// write into a frame slot the GPU still reads.
package headless

import (
	"fmt"
	"sync"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/sirupsen/logrus"
)

// Option configures the Device.
type Option func(*Device)

// WithLatency sets how long the simulated GPU takes per submission.
func WithLatency(d time.Duration) Option {
	return func(dev *Device) {
		dev.latency = d
	}
}

// WithExtent sets the initial surface size.
func WithExtent(e gfx.Extent2D) Option {
	return func(dev *Device) {
		dev.extent = e
		dev.surface = e
	}
}

// WithLogger sets the logger, defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(dev *Device) {
		dev.log = l
	}
}

type kind int

const (
	kindTexture kind = iota
	kindMesh
	kindShader
	kindMaterial
)

func (k kind) String() string {
	return [...]string{"texture", "mesh", "shader", "material"}[k]
}

type resource struct {
	kind     kind
	name     string
	size     uint64
	released bool
	deps     []gfx.ResourceID
}

type submission struct {
	frame *frame
	seq   uint64
	draws []recordedDraw
}

type recordedDraw struct {
	pass gfx.Pass
	call gfx.DrawCall
}

// New creates a headless device and starts its GPU goroutine.
func New(opts ...Option) *Device {
	d := &Device{
		log:       logrus.StandardLogger(),
		extent:    gfx.Extent2D{Width: 800, Height: 600},
		surface:   gfx.Extent2D{Width: 800, Height: 600},
		resources: make(map[gfx.ResourceID]*resource),
		queue:     make(chan *submission, 64),
		gpuDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.gpu()
	return d
}

// Device is a software rendering device.
type Device struct {
	log     logrus.FieldLogger
	latency time.Duration

	mutex      sync.Mutex
	extent     gfx.Extent2D
	surface    gfx.Extent2D
	nextID     gfx.ResourceID
	resources  map[gfx.ResourceID]*resource
	events     []Event
	violations []Violation
	submitted  uint64
	completed  uint64
	destroyed  bool

	inflight sync.WaitGroup
	queue    chan *submission
	gpuDone  chan struct{}
}

func (d *Device) record(e Event) {
	e.Time = time.Now()
	d.events = append(d.events, e)
}

func (d *Device) violate(v Violation) {
	d.log.WithField("violation", v.Kind).Warn(v.Message)
	d.violations = append(d.violations, v)
}

func (d *Device) add(r *resource) gfx.ResourceID {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	id := d.nextID
	d.nextID++
	d.resources[id] = r
	d.record(Event{Kind: EventUpload, Resource: id, Name: r.name})
	return id
}

// unpack runs the unpack function the same way a staging upload would.
func unpack(fn gfx.UnpackFunc, size uint64) error {
	buf := make([]byte, size)
	return fn(buf)
}

// UploadTexture implements gfx.Device.
func (d *Device) UploadTexture(t gfx.UploadTexture) (gfx.ResourceID, error) {
	if err := t.Validate(); err != nil {
		return gfx.InvalidID, err
	}
	if err := unpack(t.Unpack, t.Size()); err != nil {
		return gfx.InvalidID, fmt.Errorf("texture %s unpack: %w", t.DebugName, err)
	}
	return d.add(&resource{kind: kindTexture, name: t.DebugName, size: t.Size()}), nil
}

// UploadMesh implements gfx.Device.
func (d *Device) UploadMesh(m gfx.UploadMesh) (gfx.ResourceID, error) {
	if err := m.Validate(); err != nil {
		return gfx.InvalidID, err
	}
	if err := unpack(m.Unpack, m.Size()); err != nil {
		return gfx.InvalidID, fmt.Errorf("mesh %s unpack: %w", m.DebugName, err)
	}
	return d.add(&resource{kind: kindMesh, name: m.DebugName, size: m.Size()}), nil
}

// UploadShader implements gfx.Device.
func (d *Device) UploadShader(s gfx.UploadShader) (gfx.ResourceID, error) {
	if err := s.Validate(); err != nil {
		return gfx.InvalidID, err
	}
	if err := unpack(s.Unpack, s.Size); err != nil {
		return gfx.InvalidID, fmt.Errorf("shader %s unpack: %w", s.DebugName, err)
	}
	return d.add(&resource{kind: kindShader, name: s.DebugName, size: s.Size}), nil
}

// UploadMaterial implements gfx.Device. Every texture and shader the
// material binds must be uploaded and alive.
func (d *Device) UploadMaterial(m gfx.UploadMaterial) (gfx.ResourceID, error) {
	if err := m.Validate(); err != nil {
		return gfx.InvalidID, err
	}
	deps := m.Dependencies()
	d.mutex.Lock()
	for _, id := range deps {
		r, ok := d.resources[id]
		if !ok || r.released {
			d.mutex.Unlock()
			return gfx.InvalidID, fmt.Errorf("material %s binds %d: %w", m.DebugName, id, gfx.ErrUnknownResource)
		}
	}
	d.mutex.Unlock()
	return d.add(&resource{kind: kindMaterial, name: m.DebugName, deps: deps}), nil
}

func (d *Device) release(k kind, id gfx.ResourceID) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	r, ok := d.resources[id]
	if !ok || r.kind != k {
		d.violate(Violation{Kind: ViolationUnknownRelease, Resource: id,
			Message: fmt.Sprintf("release of unknown %s %d", k, id)})
		return
	}
	if r.released {
		d.violate(Violation{Kind: ViolationDoubleRelease, Resource: id,
			Message: fmt.Sprintf("double release of %s %s", k, r.name)})
		return
	}
	r.released = true
	d.record(Event{Kind: EventRelease, Resource: id, Name: r.name})
}

// ReleaseTexture implements gfx.Device.
func (d *Device) ReleaseTexture(id gfx.ResourceID) { d.release(kindTexture, id) }

// ReleaseMesh implements gfx.Device.
func (d *Device) ReleaseMesh(id gfx.ResourceID) { d.release(kindMesh, id) }

// ReleaseShader implements gfx.Device.
func (d *Device) ReleaseShader(id gfx.ResourceID) { d.release(kindShader, id) }

// ReleaseMaterial implements gfx.Device.
func (d *Device) ReleaseMaterial(id gfx.ResourceID) { d.release(kindMaterial, id) }

// NewFrame implements gfx.Device.
func (d *Device) NewFrame(slot int) (gfx.Frame, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.destroyed {
		return nil, gfx.ErrDeviceLost
	}
	f := &frame{
		dev:  d,
		slot: slot,
		done: make(chan struct{}),
	}
	close(f.done) // created signaled
	return f, nil
}

// Resize implements gfx.Device.
func (d *Device) Resize(e gfx.Extent2D) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.submitted != d.completed {
		d.violate(Violation{Kind: ViolationResizeInFlight,
			Message: fmt.Sprintf("resize with %d submissions in flight", d.submitted-d.completed)})
	}
	d.extent = e
	d.record(Event{Kind: EventResize, Extent: e})
	return nil
}

// Extent implements gfx.Device.
func (d *Device) Extent() gfx.Extent2D {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.extent
}

// SetSurfaceExtent simulates the window being resized. Acquire and
// Present return gfx.ErrOutOfDate until Resize is called with e.
func (d *Device) SetSurfaceExtent(e gfx.Extent2D) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.surface = e
}

// SurfaceExtent implements gfx.SurfaceSizer.
func (d *Device) SurfaceExtent() gfx.Extent2D {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.surface
}

func (d *Device) outOfDate() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.surface != d.extent
}

// WaitIdle implements gfx.Device.
func (d *Device) WaitIdle() error {
	d.inflight.Wait()
	d.mutex.Lock()
	d.record(Event{Kind: EventIdle})
	d.mutex.Unlock()
	return nil
}

// Destroy implements gfx.Device.
func (d *Device) Destroy() {
	d.mutex.Lock()
	if d.destroyed {
		d.mutex.Unlock()
		return
	}
	d.destroyed = true
	d.mutex.Unlock()

	d.inflight.Wait()
	close(d.queue)
	<-d.gpuDone
}

func (d *Device) submit(s *submission) error {
	d.mutex.Lock()
	if d.destroyed {
		d.mutex.Unlock()
		return gfx.ErrDeviceLost
	}
	d.submitted++
	s.seq = d.submitted
	d.record(Event{Kind: EventSubmit, Slot: s.frame.slot, Seq: s.seq, Draws: len(s.draws)})
	d.inflight.Add(1)
	d.mutex.Unlock()

	d.queue <- s
	return nil
}

// gpu executes submissions in order, like a single device queue.
func (d *Device) gpu() {
	defer close(d.gpuDone)
	for s := range d.queue {
		if d.latency > 0 {
			time.Sleep(d.latency)
		}
		d.mutex.Lock()
		for _, rd := range s.draws {
			d.checkDraw(rd, true)
		}
		d.completed++
		d.record(Event{Kind: EventComplete, Slot: s.frame.slot, Seq: s.seq})
		d.mutex.Unlock()

		s.frame.complete()
		d.inflight.Done()
	}
}

// checkDraw must be called with the mutex held.
func (d *Device) checkDraw(rd recordedDraw, executing bool) {
	stage := "recorded"
	if executing {
		stage = "executed"
	}
	for _, id := range rd.call.Resources() {
		r, ok := d.resources[id]
		switch {
		case !ok:
			d.violate(Violation{Kind: ViolationUnknownResource, Resource: id,
				Message: fmt.Sprintf("%s draw in %s pass references unknown resource %d", stage, rd.pass, id)})
		case r.released:
			d.violate(Violation{Kind: ViolationReleasedResource, Resource: id,
				Message: fmt.Sprintf("%s draw in %s pass references released %s %s", stage, rd.pass, r.kind, r.name)})
		}
	}
}

// Events returns a copy of the event log.
func (d *Device) Events() []Event {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	events := make([]Event, len(d.events))
	copy(events, d.events)
	return events
}

// Violations returns every hazard observed so far.
func (d *Device) Violations() []Violation {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	violations := make([]Violation, len(d.violations))
	copy(violations, d.violations)
	return violations
}

// Stats summarizes device usage.
type Stats struct {
	Live      int
	Released  int
	Submitted uint64
	Completed uint64
	Bytes     uint64
}

// Stats returns the current usage counters.
func (d *Device) Stats() Stats {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	s := Stats{Submitted: d.submitted, Completed: d.completed}
	for _, r := range d.resources {
		if r.released {
			s.Released++
			continue
		}
		s.Live++
		s.Bytes += r.size
	}
	return s
}

// Released reports whether id was released.
func (d *Device) Released(id gfx.ResourceID) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	r, ok := d.resources[id]
	return ok && r.released
}
