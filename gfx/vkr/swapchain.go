// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	vk "github.com/devblok/vulkan"
)

const depthFormat = vk.FormatD16Unorm

func (d *Device) createRenderPasses() error {
	attachments := []vk.AttachmentDescription{
		{
			Format:         d.imageFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		},
		{
			Format:         depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}
	colorRef := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	depthRef := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	main := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses: []vk.SubpassDescription{{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			ColorAttachmentCount:    uint32(len(colorRef)),
			PColorAttachments:       colorRef,
			PDepthStencilAttachment: &depthRef,
		}},
		DependencyCount: 1,
		PDependencies: []vk.SubpassDependency{{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
		}},
	}
	if err := check("vk.CreateRenderPass()", vk.CreateRenderPass(d.device, &main, nil, &d.mainPass)); err != nil {
		return err
	}

	// depth only, left readable for the main pass
	shadowRef := vk.AttachmentReference{
		Attachment: 0,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	shadow := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments: []vk.AttachmentDescription{{
			Format:         depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutShaderReadOnlyOptimal,
		}},
		SubpassCount: 1,
		PSubpasses: []vk.SubpassDescription{{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			PDepthStencilAttachment: &shadowRef,
		}},
		DependencyCount: 1,
		PDependencies: []vk.SubpassDependency{{
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit),
			SrcAccessMask: vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		}},
	}
	return check("vk.CreateRenderPass()", vk.CreateRenderPass(d.device, &shadow, nil, &d.shadowPass))
}

// createSwapchain builds the swapchain for the current extent, replacing
// the previous one together with its views, depth and framebuffers.
func (d *Device) createSwapchain() error {
	var caps vk.SurfaceCapabilities
	if err := check("vk.GetPhysicalDeviceSurfaceCapabilities()", vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &caps)); err != nil {
		return err
	}
	caps.Deref()

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	extent := d.Extent()
	old := d.swapchain
	scci := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         d.surface,
		MinImageCount:   d.cfg.SwapchainSize,
		ImageFormat:     d.imageFormat,
		ImageColorSpace: d.imageColorspace,
		ImageExtent: vk.Extent2D{
			Width:  extent.Width,
			Height: extent.Height,
		},
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     old,
	}
	var swapchain vk.Swapchain
	if err := check("vk.CreateSwapchain()", vk.CreateSwapchain(d.device, &scci, nil, &swapchain)); err != nil {
		return err
	}
	d.destroySwapchain(old != nil)
	d.swapchain = swapchain

	var count uint32
	if err := check("vk.GetSwapchainImages()", vk.GetSwapchainImages(d.device, swapchain, &count, nil)); err != nil {
		return err
	}
	d.images = make([]vk.Image, count)
	if err := check("vk.GetSwapchainImages()", vk.GetSwapchainImages(d.device, swapchain, &count, d.images)); err != nil {
		return err
	}

	for _, img := range d.images {
		ivci := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img,
			ViewType: vk.ImageViewType2d,
			Format:   d.imageFormat,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		var view vk.ImageView
		if err := check("vk.CreateImageView()", vk.CreateImageView(d.device, &ivci, nil, &view)); err != nil {
			return err
		}
		d.imageViews = append(d.imageViews, view)
	}

	depth, err := NewImage(d.device, ImageConfig{
		Width:  extent.Width,
		Height: extent.Height,
		Format: depthFormat,
		Usage:  vk.ImageUsageDepthStencilAttachmentBit,
		Aspect: vk.ImageAspectDepthBit,
	}, d.alloc)
	if err != nil {
		return err
	}
	d.depth = depth

	for _, view := range d.imageViews {
		attachments := []vk.ImageView{view, d.depth.View()}
		fci := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      d.mainPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           extent.Width,
			Height:          extent.Height,
			Layers:          1,
		}
		var fb vk.Framebuffer
		if err := check("vk.CreateFramebuffer()", vk.CreateFramebuffer(d.device, &fci, nil, &fb)); err != nil {
			return err
		}
		d.framebuffers = append(d.framebuffers, fb)
	}

	d.log.WithField("extent", extent).WithField("images", count).Debug("swapchain created")
	return nil
}

// destroySwapchain destroys the surface sized objects, the swapchain
// itself only when destroyHandle is set.
func (d *Device) destroySwapchain(destroyHandle bool) {
	for _, fb := range d.framebuffers {
		vk.DestroyFramebuffer(d.device, fb, nil)
	}
	d.framebuffers = nil
	if d.depth.image != nil {
		d.depth.Release()
		d.depth = Image{}
	}
	for _, view := range d.imageViews {
		vk.DestroyImageView(d.device, view, nil)
	}
	d.imageViews = nil
	d.images = nil
	if destroyHandle && d.swapchain != nil {
		vk.DestroySwapchain(d.device, d.swapchain, nil)
		d.swapchain = nil
	}
}

func (d *Device) createShadowTarget() error {
	shadowMap, err := NewImage(d.device, ImageConfig{
		Width:  d.cfg.ShadowMapSize,
		Height: d.cfg.ShadowMapSize,
		Format: depthFormat,
		Usage:  vk.ImageUsageDepthStencilAttachmentBit | vk.ImageUsageSampledBit,
		Aspect: vk.ImageAspectDepthBit,
	}, d.alloc)
	if err != nil {
		return err
	}
	d.shadowMap = shadowMap

	attachments := []vk.ImageView{shadowMap.View()}
	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      d.shadowPass,
		AttachmentCount: 1,
		PAttachments:    attachments,
		Width:           d.cfg.ShadowMapSize,
		Height:          d.cfg.ShadowMapSize,
		Layers:          1,
	}
	if err := check("vk.CreateFramebuffer()", vk.CreateFramebuffer(d.device, &fci, nil, &d.shadowFramebuffer)); err != nil {
		return err
	}

	// sampled by the main pass even when no shadow pass ran
	d.uploadMutex.Lock()
	defer d.uploadMutex.Unlock()
	cmd, err := d.beginOnce()
	if err != nil {
		return err
	}
	if err := transitionLayout(cmd, shadowMap.Get(), vk.ImageAspectDepthBit, vk.ImageLayoutUndefined, vk.ImageLayoutShaderReadOnlyOptimal); err != nil {
		return err
	}
	return d.endOnce(cmd)
}
