// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"
	"math"
	"time"
	"unsafe"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	vk "github.com/devblok/vulkan"
)

// NewFrame implements gfx.Device.
func (d *Device) NewFrame(slot int) (gfx.Frame, error) {
	f := &frame{device: d, slot: slot}

	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := check("vk.CreateCommandPool()", vk.CreateCommandPool(d.device, &cpci, nil, &f.pool)); err != nil {
		return nil, err
	}
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        f.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmds := make([]vk.CommandBuffer, 1)
	if err := check("vk.AllocateCommandBuffers()", vk.AllocateCommandBuffers(d.device, &cbai, cmds)); err != nil {
		f.Destroy()
		return nil, err
	}
	f.cmd = cmds[0]

	sci := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	if err := check("vk.CreateSemaphore()", vk.CreateSemaphore(d.device, &sci, nil, &f.imageAvailable)); err != nil {
		f.Destroy()
		return nil, err
	}
	if err := check("vk.CreateSemaphore()", vk.CreateSemaphore(d.device, &sci, nil, &f.renderFinished)); err != nil {
		f.Destroy()
		return nil, err
	}
	// signaled, the first Wait of a slot returns at once
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}
	if err := check("vk.CreateFence()", vk.CreateFence(d.device, &fci, nil, &f.fence)); err != nil {
		f.Destroy()
		return nil, err
	}

	var err error
	if f.uniform, err = NewBuffer(d.device, uint64(frameUniformSize), vk.BufferUsageUniformBufferBit, hostVisible, d.alloc); err != nil {
		f.Destroy()
		return nil, err
	}
	if f.mapped, err = f.uniform.Mem().Map(); err != nil {
		f.Destroy()
		return nil, err
	}
	if f.set, err = d.allocateSet(d.frameLayout); err != nil {
		f.Destroy()
		return nil, err
	}
	wds := []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          f.set,
		DstBinding:      0,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: f.uniform.Get(),
			Range:  frameUniformSize,
		}},
	}, {
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          f.set,
		DstBinding:      1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			ImageView:   d.shadowMap.View(),
			Sampler:     d.shadowSampler,
		}},
	}}
	vk.UpdateDescriptorSets(d.device, uint32(len(wds)), wds, 0, nil)
	return f, nil
}

type frame struct {
	device *Device
	slot   int

	pool           vk.CommandPool
	cmd            vk.CommandBuffer
	imageAvailable vk.Semaphore
	renderFinished vk.Semaphore
	fence          vk.Fence
	uniform        Buffer
	mapped         []byte
	set            vk.DescriptorSet

	imageIndex uint32
	recording  *commandBuffer
}

func (f *frame) Wait(timeout time.Duration) error {
	ns := uint64(math.MaxUint64)
	if timeout > 0 {
		ns = uint64(timeout.Nanoseconds())
	}
	res := vk.WaitForFences(f.device.device, 1, []vk.Fence{f.fence}, vk.True, ns)
	if res == vk.Timeout {
		return fmt.Errorf("frame %d: %w", f.slot, gfx.ErrTimeout)
	}
	return check("vk.WaitForFences()", res)
}

func (f *frame) Reset() error {
	return check("vk.ResetFences()", vk.ResetFences(f.device.device, 1, []vk.Fence{f.fence}))
}

func (f *frame) Acquire() error {
	d := f.device
	res := vk.AcquireNextImage(d.device, d.swapchain, math.MaxUint64, f.imageAvailable, nil, &f.imageIndex)
	if res == vk.Suboptimal {
		return nil
	}
	return check("vk.AcquireNextImage()", res)
}

func (f *frame) WriteUniforms(u gfx.FrameUniforms) error {
	copy(f.mapped, unsafe.Slice((*byte)(unsafe.Pointer(&u)), frameUniformSize))
	return nil
}

func (f *frame) Begin() (gfx.CommandBuffer, error) {
	if err := check("vk.ResetCommandBuffer()", vk.ResetCommandBuffer(f.cmd, vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit))); err != nil {
		return nil, err
	}
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := check("vk.BeginCommandBuffer()", vk.BeginCommandBuffer(f.cmd, &cbbi)); err != nil {
		return nil, err
	}
	f.recording = &commandBuffer{frame: f}
	return f.recording, nil
}

func (f *frame) Submit() error {
	if f.recording != nil && f.recording.pass != nil {
		return fmt.Errorf("%w: submit inside %s pass", gfx.ErrPassState, *f.recording.pass)
	}
	f.recording = nil
	if err := check("vk.EndCommandBuffer()", vk.EndCommandBuffer(f.cmd)); err != nil {
		return err
	}

	submit := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{f.imageAvailable},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{f.cmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{f.renderFinished},
	}}
	f.device.queueMutex.Lock()
	defer f.device.queueMutex.Unlock()
	return check("vk.QueueSubmit()", vk.QueueSubmit(f.device.queue, 1, submit, f.fence))
}

func (f *frame) Present() error {
	d := f.device
	pi := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{f.renderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{d.swapchain},
		PImageIndices:      []uint32{f.imageIndex},
	}
	d.queueMutex.Lock()
	res := vk.QueuePresent(d.queue, &pi)
	d.queueMutex.Unlock()
	if res == vk.Suboptimal {
		return fmt.Errorf("vk.QueuePresent(): %w", gfx.ErrOutOfDate)
	}
	return check("vk.QueuePresent()", res)
}

// Destroy releases the frame objects, the slot must be idle.
func (f *frame) Destroy() {
	dev := f.device.device
	if f.set != nil {
		vk.FreeDescriptorSets(dev, f.device.descriptorPool, 1, &f.set)
	}
	if f.uniform.buffer != nil {
		f.uniform.Release()
	}
	if f.fence != nil {
		vk.DestroyFence(dev, f.fence, nil)
	}
	if f.renderFinished != nil {
		vk.DestroySemaphore(dev, f.renderFinished, nil)
	}
	if f.imageAvailable != nil {
		vk.DestroySemaphore(dev, f.imageAvailable, nil)
	}
	if f.pool != nil {
		vk.DestroyCommandPool(dev, f.pool, nil)
	}
	*f = frame{device: f.device, slot: f.slot}
}

type commandBuffer struct {
	frame    *frame
	pass     *gfx.Pass
	pipeline vk.Pipeline
}

func (c *commandBuffer) BeginPass(p gfx.Pass, params gfx.PassParams) error {
	if c.pass != nil {
		return fmt.Errorf("%w: %s pass begun inside %s pass", gfx.ErrPassState, p, *c.pass)
	}
	d := c.frame.device
	cmd := c.frame.cmd

	var (
		rpbi   vk.RenderPassBeginInfo
		extent gfx.Extent2D
	)
	switch p {
	case gfx.ShadowPass:
		extent = gfx.Extent2D{Width: d.cfg.ShadowMapSize, Height: d.cfg.ShadowMapSize}
		clear := make([]vk.ClearValue, 1)
		clear[0].SetDepthStencil(1, 0)
		rpbi = vk.RenderPassBeginInfo{
			SType:           vk.StructureTypeRenderPassBeginInfo,
			RenderPass:      d.shadowPass,
			Framebuffer:     d.shadowFramebuffer,
			ClearValueCount: 1,
			PClearValues:    clear,
		}
	case gfx.MainPass:
		extent = params.Extent
		if extent.Empty() {
			extent = d.Extent()
		}
		idx := int(c.frame.imageIndex)
		if idx >= len(d.framebuffers) {
			return fmt.Errorf("%w: image %d without framebuffer", gfx.ErrOutOfDate, idx)
		}
		clear := make([]vk.ClearValue, 2)
		clear[0].SetColor(params.ClearColor[:])
		clear[1].SetDepthStencil(1, 0)
		rpbi = vk.RenderPassBeginInfo{
			SType:           vk.StructureTypeRenderPassBeginInfo,
			RenderPass:      d.mainPass,
			Framebuffer:     d.framebuffers[idx],
			ClearValueCount: 2,
			PClearValues:    clear,
		}
	default:
		return fmt.Errorf("%w: unknown pass %d", gfx.ErrPassState, p)
	}
	rpbi.RenderArea = vk.Rect2D{
		Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
	}

	vk.CmdBeginRenderPass(cmd, &rpbi, vk.SubpassContentsInline)
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{rpbi.RenderArea})
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, d.pipelineLayout, 0, 1, []vk.DescriptorSet{c.frame.set}, 0, nil)

	c.pass = &p
	c.pipeline = nil
	return nil
}

func (c *commandBuffer) bindPipeline(p vk.Pipeline) {
	if c.pipeline != p {
		vk.CmdBindPipeline(c.frame.cmd, vk.PipelineBindPointGraphics, p)
		c.pipeline = p
	}
}

func (c *commandBuffer) Draw(dc gfx.DrawCall) error {
	if c.pass == nil {
		return fmt.Errorf("%w: draw outside of a pass", gfx.ErrPassState)
	}
	d := c.frame.device
	cmd := c.frame.cmd

	r, ok := d.lookup(dc.Mesh)
	m, isMesh := r.(*mesh)
	if !ok || !isMesh {
		return fmt.Errorf("%w: mesh %d", gfx.ErrUnknownResource, dc.Mesh)
	}

	shadow := *c.pass == gfx.ShadowPass
	var materials []*material
	if !shadow {
		if len(dc.Materials) == 0 {
			return fmt.Errorf("%w: mesh %d drawn without materials", gfx.ErrInvalidDescription, dc.Mesh)
		}
		for _, id := range dc.Materials {
			r, ok := d.lookup(id)
			mat, isMaterial := r.(*material)
			if !ok || !isMaterial {
				return fmt.Errorf("%w: material %d", gfx.ErrUnknownResource, id)
			}
			materials = append(materials, mat)
		}
	} else if d.shadowPipeline == nil {
		return nil
	} else {
		c.bindPipeline(d.shadowPipeline)
	}

	pc := pushConstant{Model: dc.Transform}
	vk.CmdPushConstants(cmd, d.pipelineLayout, vk.ShaderStageFlags(vk.ShaderStageVertexBit), 0, uint32(unsafe.Sizeof(pc)), unsafe.Pointer(&pc))
	vk.CmdBindVertexBuffers(cmd, 0, 1, []vk.Buffer{m.buffer.Get()}, []vk.DeviceSize{0})

	bindMaterial := func(idx int) {
		if shadow {
			return
		}
		if idx >= len(materials) {
			idx = len(materials) - 1
		}
		mat := materials[idx]
		c.bindPipeline(mat.pipeline)
		vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, d.pipelineLayout, 1, 1, []vk.DescriptorSet{mat.set}, 0, nil)
	}

	if len(m.indexCounts) == 0 {
		bindMaterial(0)
		vk.CmdDraw(cmd, m.vertexCount, 1, 0, 0)
		return nil
	}
	for i, count := range m.indexCounts {
		bindMaterial(i)
		vk.CmdBindIndexBuffer(cmd, m.buffer.Get(), vk.DeviceSize(m.indexOffsets[i]), vk.IndexTypeUint32)
		vk.CmdDrawIndexed(cmd, count, 1, 0, 0, 0)
	}
	return nil
}

func (c *commandBuffer) EndPass() error {
	if c.pass == nil {
		return fmt.Errorf("%w: end without a pass", gfx.ErrPassState)
	}
	vk.CmdEndRenderPass(c.frame.cmd)
	c.pass = nil
	return nil
}
