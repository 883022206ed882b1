// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"fmt"
	"sync"
	"time"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
)

type frame struct {
	dev  *Device
	slot int

	mutex     sync.Mutex
	done      chan struct{} // closed when the fence is signaled
	busy      bool          // submitted and not yet completed by the GPU
	acquired  bool
	recording *commandBuffer
	uniforms  gfx.FrameUniforms
	uses      uint64
	destroyed bool
}

func (f *frame) complete() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.busy = false
	close(f.done)
}

// Wait implements gfx.Frame.
func (f *frame) Wait(timeout time.Duration) error {
	f.mutex.Lock()
	done := f.done
	uses := f.uses
	f.mutex.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		return gfx.ErrTimeout
	}

	f.dev.mutex.Lock()
	f.dev.record(Event{Kind: EventFenceWait, Slot: f.slot, Seq: uses})
	f.dev.mutex.Unlock()
	return nil
}

// Reset implements gfx.Frame.
func (f *frame) Reset() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	select {
	case <-f.done:
	default:
		return fmt.Errorf("slot %d: reset of an unsignaled fence", f.slot)
	}
	f.done = make(chan struct{})
	return nil
}

// Acquire implements gfx.Frame.
func (f *frame) Acquire() error {
	if f.dev.outOfDate() {
		return gfx.ErrOutOfDate
	}
	f.mutex.Lock()
	f.acquired = true
	f.mutex.Unlock()

	f.dev.mutex.Lock()
	f.dev.record(Event{Kind: EventAcquire, Slot: f.slot})
	f.dev.mutex.Unlock()
	return nil
}

// WriteUniforms implements gfx.Frame.
func (f *frame) WriteUniforms(u gfx.FrameUniforms) error {
	f.mutex.Lock()
	busy := f.busy
	f.uniforms = u
	uses := f.uses
	f.mutex.Unlock()

	f.dev.mutex.Lock()
	defer f.dev.mutex.Unlock()
	if busy {
		f.dev.violate(Violation{Kind: ViolationUniformInFlight,
			Message: fmt.Sprintf("uniform write into slot %d while the GPU reads it", f.slot)})
	}
	f.dev.record(Event{Kind: EventUniformWrite, Slot: f.slot, Seq: uses + 1})
	return nil
}

// Begin implements gfx.Frame.
func (f *frame) Begin() (gfx.CommandBuffer, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.busy {
		return nil, fmt.Errorf("slot %d: command buffer still pending on the GPU", f.slot)
	}
	f.recording = &commandBuffer{frame: f, current: -1}
	return f.recording, nil
}

// Submit implements gfx.Frame.
func (f *frame) Submit() error {
	f.mutex.Lock()
	cb := f.recording
	if cb == nil {
		f.mutex.Unlock()
		return fmt.Errorf("slot %d: submit without recording", f.slot)
	}
	if cb.current >= 0 {
		f.mutex.Unlock()
		return fmt.Errorf("slot %d: %w: pass %s not ended", f.slot, gfx.ErrPassState, gfx.Pass(cb.current))
	}
	select {
	case <-f.done:
		f.mutex.Unlock()
		return fmt.Errorf("slot %d: submit with a signaled fence", f.slot)
	default:
	}
	f.recording = nil
	f.busy = true
	f.uses++
	f.mutex.Unlock()

	return f.dev.submit(&submission{frame: f, draws: cb.draws})
}

// Present implements gfx.Frame.
func (f *frame) Present() error {
	f.mutex.Lock()
	acquired := f.acquired
	f.acquired = false
	f.mutex.Unlock()
	if !acquired {
		return fmt.Errorf("slot %d: present without an acquired image", f.slot)
	}
	if f.dev.outOfDate() {
		return gfx.ErrOutOfDate
	}
	f.dev.mutex.Lock()
	f.dev.record(Event{Kind: EventPresent, Slot: f.slot})
	f.dev.mutex.Unlock()
	return nil
}

// Destroy implements gfx.Frame.
func (f *frame) Destroy() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.busy {
		f.dev.mutex.Lock()
		f.dev.violate(Violation{Kind: ViolationDestroyInFlight,
			Message: fmt.Sprintf("slot %d destroyed while in flight", f.slot)})
		f.dev.mutex.Unlock()
	}
	f.destroyed = true
}

type commandBuffer struct {
	frame   *frame
	current gfx.Pass
	passes  []gfx.Pass
	draws   []recordedDraw
}

// BeginPass implements gfx.CommandBuffer.
func (c *commandBuffer) BeginPass(p gfx.Pass, _ gfx.PassParams) error {
	if c.current >= 0 {
		return fmt.Errorf("%w: %s begun inside %s", gfx.ErrPassState, p, c.current)
	}
	c.current = p
	c.passes = append(c.passes, p)
	return nil
}

// Draw implements gfx.CommandBuffer.
func (c *commandBuffer) Draw(dc gfx.DrawCall) error {
	if c.current < 0 {
		return fmt.Errorf("%w: draw outside of a pass", gfx.ErrPassState)
	}
	rd := recordedDraw{pass: c.current, call: dc}
	dev := c.frame.dev
	dev.mutex.Lock()
	dev.checkDraw(rd, false)
	dev.record(Event{Kind: EventDraw, Slot: c.frame.slot, Pass: c.current, Resource: dc.Mesh, Transparent: dc.Transparent, Position: dc.Transform.Col(3).Vec3()})
	dev.mutex.Unlock()
	c.draws = append(c.draws, rd)
	return nil
}

// EndPass implements gfx.CommandBuffer.
func (c *commandBuffer) EndPass() error {
	if c.current < 0 {
		return fmt.Errorf("%w: end without a pass", gfx.ErrPassState)
	}
	c.current = -1
	return nil
}
