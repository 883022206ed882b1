// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"
	"math"
	"sync"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	vk "github.com/devblok/vulkan"
	"github.com/sirupsen/logrus"
)

// NewDevice creates the logical device presenting to the surface of inst
// and everything that does not depend on uploaded resources.
func NewDevice(inst *Instance, cfg Config, opts ...Option) (*Device, error) {
	def := DefaultConfig()
	if cfg.Extent.Empty() {
		cfg.Extent = def.Extent
	}
	if cfg.SwapchainSize == 0 {
		cfg.SwapchainSize = def.SwapchainSize
	}
	if cfg.ShadowMapSize == 0 {
		cfg.ShadowMapSize = def.ShadowMapSize
	}
	if cfg.MaxMaterials == 0 {
		cfg.MaxMaterials = def.MaxMaterials
	}
	if cfg.DeviceIndex < 0 || cfg.DeviceIndex >= len(inst.devices) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoDevice, cfg.DeviceIndex, len(inst.devices))
	}

	d := &Device{
		cfg:       cfg,
		log:       logrus.StandardLogger(),
		surface:   inst.Surface(),
		physical:  inst.devices[cfg.DeviceIndex],
		extent:    cfg.Extent,
		resources: make(map[gfx.ResourceID]interface{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	steps := []func() error{
		d.createLogicalDevice,
		d.createCommandPool,
		d.createSamplers,
		d.createLayouts,
		d.createRenderPasses,
		d.createSwapchain,
		d.createShadowTarget,
		d.createDefaults,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			d.Destroy()
			return nil, err
		}
	}
	return d, nil
}

// Device is a Vulkan gfx.Device. Uploads and releases are safe for
// concurrent use, frame recording belongs to the render goroutine.
type Device struct {
	cfg Config
	log logrus.FieldLogger

	surface  vk.Surface
	physical vk.PhysicalDevice
	device   vk.Device
	alloc    *MemoryAllocator

	queueFamily uint32
	// queueMutex serializes submissions, vulkan queues are not thread safe
	queueMutex sync.Mutex
	queue      vk.Queue

	// uploadMutex guards the transfer command pool
	uploadMutex sync.Mutex
	uploadPool  vk.CommandPool

	linearSampler vk.Sampler
	shadowSampler vk.Sampler

	frameLayout     vk.DescriptorSetLayout
	materialLayout  vk.DescriptorSetLayout
	pipelineLayout  vk.PipelineLayout
	pipelineCache   vk.PipelineCache
	descriptorPool  vk.DescriptorPool
	mainPass        vk.RenderPass
	shadowPass      vk.RenderPass
	imageFormat     vk.Format
	imageColorspace vk.ColorSpace

	swapchain    vk.Swapchain
	images       []vk.Image
	imageViews   []vk.ImageView
	depth        Image
	framebuffers []vk.Framebuffer
	extentMutex  sync.Mutex
	extent       gfx.Extent2D

	shadowMap         Image
	shadowFramebuffer vk.Framebuffer
	shadowPipeline    vk.Pipeline

	defaultVertex vk.ShaderModule
	whiteTexture  gfx.ResourceID

	mutex     sync.RWMutex
	nextID    gfx.ResourceID
	resources map[gfx.ResourceID]interface{}
	destroyed bool
}

func (d *Device) createLogicalDevice() error {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(d.physical, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(d.physical, &count, families)

	found := false
	for idx := uint32(0); idx < count; idx++ {
		families[idx].Deref()
		var present vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(d.physical, idx, d.surface, &present)
		if families[idx].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 && present.B() {
			d.queueFamily = idx
			found = true
			break
		}
	}
	if !found {
		return ErrNoQueue
	}

	extensions := []string{vk.KhrSwapchainExtensionName}
	dci := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos: []vk.DeviceQueueCreateInfo{{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: d.queueFamily,
			QueueCount:       1,
			PQueuePriorities: []float32{1},
		}},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy: vk.True,
		}},
	}
	var device vk.Device
	if err := check("vk.CreateDevice()", vk.CreateDevice(d.physical, &dci, nil, &device)); err != nil {
		return err
	}
	d.device = device
	d.alloc = NewMemoryAllocator(device, d.physical)

	var queue vk.Queue
	vk.GetDeviceQueue(device, d.queueFamily, 0, &queue)
	d.queue = queue

	var formatCount uint32
	if err := check("vk.GetPhysicalDeviceSurfaceFormats()", vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &formatCount, nil)); err != nil {
		return err
	}
	if formatCount == 0 {
		return fmt.Errorf("%w: surface has no formats", ErrNoDevice)
	}
	formats := make([]vk.SurfaceFormat, formatCount)
	if err := check("vk.GetPhysicalDeviceSurfaceFormats()", vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &formatCount, formats)); err != nil {
		return err
	}
	formats[0].Deref()
	d.imageFormat = formats[0].Format
	if d.imageFormat == vk.FormatUndefined {
		d.imageFormat = vk.FormatB8g8r8a8Unorm
	}
	d.imageColorspace = formats[0].ColorSpace
	return nil
}

func (d *Device) createCommandPool() error {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var pool vk.CommandPool
	if err := check("vk.CreateCommandPool()", vk.CreateCommandPool(d.device, &cpci, nil, &pool)); err != nil {
		return err
	}
	d.uploadPool = pool
	return nil
}

func (d *Device) createSamplers() error {
	sci := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        vk.FilterLinear,
		MinFilter:        vk.FilterLinear,
		AddressModeU:     vk.SamplerAddressModeRepeat,
		AddressModeV:     vk.SamplerAddressModeRepeat,
		AddressModeW:     vk.SamplerAddressModeRepeat,
		AnisotropyEnable: vk.True,
		MaxAnisotropy:    16,
		BorderColor:      vk.BorderColorFloatOpaqueBlack,
		CompareOp:        vk.CompareOpAlways,
		MipmapMode:       vk.SamplerMipmapModeLinear,
	}
	if err := check("vk.CreateSampler()", vk.CreateSampler(d.device, &sci, nil, &d.linearSampler)); err != nil {
		return err
	}

	sci.AnisotropyEnable = vk.False
	sci.MaxAnisotropy = 1
	sci.AddressModeU = vk.SamplerAddressModeClampToBorder
	sci.AddressModeV = vk.SamplerAddressModeClampToBorder
	sci.AddressModeW = vk.SamplerAddressModeClampToBorder
	sci.BorderColor = vk.BorderColorFloatOpaqueWhite
	return check("vk.CreateSampler()", vk.CreateSampler(d.device, &sci, nil, &d.shadowSampler))
}

func (d *Device) createDefaults() error {
	vertex, _, err := loadShaderFiles(d.cfg.ShaderDirectory)
	if err != nil {
		return err
	}
	if code, ok := vertex["default"]; ok {
		if d.defaultVertex, err = d.createShaderModule(code); err != nil {
			return err
		}
	}
	if code, ok := vertex["shadow"]; ok {
		module, err := d.createShaderModule(code)
		if err != nil {
			return err
		}
		d.shadowPipeline, err = d.createShadowPipeline(module)
		vk.DestroyShaderModule(d.device, module, nil)
		if err != nil {
			return err
		}
	}

	white := []byte{0xff, 0xff, 0xff, 0xff}
	d.whiteTexture, err = d.UploadTexture(gfx.UploadTexture{
		Format: gfx.FormatR8G8B8A8, Width: 1, Height: 1, MipLevels: 1,
		Unpack:    func(dst []byte) error { copy(dst, white); return nil },
		DebugName: "white",
	})
	return err
}

// beginOnce allocates and begins a one time command buffer. The upload
// mutex must be held until endOnce returns.
func (d *Device) beginOnce() (vk.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        d.uploadPool,
		CommandBufferCount: 1,
	}
	cmds := make([]vk.CommandBuffer, 1)
	if err := check("vk.AllocateCommandBuffers()", vk.AllocateCommandBuffers(d.device, &cbai, cmds)); err != nil {
		return nil, err
	}
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := check("vk.BeginCommandBuffer()", vk.BeginCommandBuffer(cmds[0], &cbbi)); err != nil {
		vk.FreeCommandBuffers(d.device, d.uploadPool, 1, cmds)
		return nil, err
	}
	return cmds[0], nil
}

// endOnce submits cmd and waits for it on its own fence, frames in
// flight are not waited for.
func (d *Device) endOnce(cmd vk.CommandBuffer) error {
	cmds := []vk.CommandBuffer{cmd}
	defer vk.FreeCommandBuffers(d.device, d.uploadPool, 1, cmds)

	if err := check("vk.EndCommandBuffer()", vk.EndCommandBuffer(cmd)); err != nil {
		return err
	}

	fci := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if err := check("vk.CreateFence()", vk.CreateFence(d.device, &fci, nil, &fence)); err != nil {
		return err
	}
	defer vk.DestroyFence(d.device, fence, nil)

	si := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cmds,
	}}
	d.queueMutex.Lock()
	err := check("vk.QueueSubmit()", vk.QueueSubmit(d.queue, 1, si, fence))
	d.queueMutex.Unlock()
	if err != nil {
		return err
	}
	return check("vk.WaitForFences()", vk.WaitForFences(d.device, 1, []vk.Fence{fence}, vk.True, math.MaxUint64))
}

// transitionLayout records a layout transition of a whole single level
// image.
func transitionLayout(cmd vk.CommandBuffer, img vk.Image, aspect vk.ImageAspectFlagBits, old, new vk.ImageLayout) error {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           old,
		NewLayout:           new,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}

	var srcStage, dstStage vk.PipelineStageFlagBits
	switch {
	case old == vk.ImageLayoutUndefined && new == vk.ImageLayoutTransferDstOptimal:
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageTopOfPipeBit
		dstStage = vk.PipelineStageTransferBit
	case old == vk.ImageLayoutTransferDstOptimal && new == vk.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageTransferBit
		dstStage = vk.PipelineStageFragmentShaderBit
	case old == vk.ImageLayoutUndefined && new == vk.ImageLayoutShaderReadOnlyOptimal:
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageTopOfPipeBit
		dstStage = vk.PipelineStageFragmentShaderBit
	default:
		return fmt.Errorf("unsupported layout transition %d -> %d", old, new)
	}

	vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage), 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	return nil
}

// WaitIdle implements gfx.Device.
func (d *Device) WaitIdle() error {
	d.queueMutex.Lock()
	defer d.queueMutex.Unlock()
	return check("vk.DeviceWaitIdle()", vk.DeviceWaitIdle(d.device))
}

// Extent implements gfx.Device.
func (d *Device) Extent() gfx.Extent2D {
	d.extentMutex.Lock()
	defer d.extentMutex.Unlock()
	return d.extent
}

// SurfaceExtent implements gfx.SurfaceSizer.
func (d *Device) SurfaceExtent() gfx.Extent2D {
	var caps vk.SurfaceCapabilities
	if vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &caps) != vk.Success {
		return d.Extent()
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	if caps.CurrentExtent.Width == math.MaxUint32 {
		return d.Extent()
	}
	return gfx.Extent2D{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height}
}

// Resize implements gfx.Device. The caller waits for the device first.
func (d *Device) Resize(e gfx.Extent2D) error {
	d.extentMutex.Lock()
	d.extent = e
	d.extentMutex.Unlock()
	if e.Empty() {
		return nil
	}
	return d.createSwapchain()
}

// Destroy implements gfx.Device.
func (d *Device) Destroy() {
	d.mutex.Lock()
	if d.destroyed {
		d.mutex.Unlock()
		return
	}
	d.destroyed = true
	resources := d.resources
	d.resources = nil
	d.mutex.Unlock()

	if d.device == nil {
		return
	}
	vk.DeviceWaitIdle(d.device)

	for _, r := range resources {
		destroyResource(d.device, r)
	}
	d.destroySwapchain(true)
	if d.shadowFramebuffer != nil {
		vk.DestroyFramebuffer(d.device, d.shadowFramebuffer, nil)
		d.shadowMap.Release()
	}
	for _, p := range []vk.Pipeline{d.shadowPipeline} {
		if p != nil {
			vk.DestroyPipeline(d.device, p, nil)
		}
	}
	if d.defaultVertex != nil {
		vk.DestroyShaderModule(d.device, d.defaultVertex, nil)
	}
	vk.DestroyRenderPass(d.device, d.mainPass, nil)
	vk.DestroyRenderPass(d.device, d.shadowPass, nil)
	vk.DestroyDescriptorPool(d.device, d.descriptorPool, nil)
	vk.DestroyPipelineCache(d.device, d.pipelineCache, nil)
	vk.DestroyPipelineLayout(d.device, d.pipelineLayout, nil)
	vk.DestroyDescriptorSetLayout(d.device, d.frameLayout, nil)
	vk.DestroyDescriptorSetLayout(d.device, d.materialLayout, nil)
	vk.DestroySampler(d.device, d.linearSampler, nil)
	vk.DestroySampler(d.device, d.shadowSampler, nil)
	vk.DestroyCommandPool(d.device, d.uploadPool, nil)
	vk.DestroyDevice(d.device, nil)
}
