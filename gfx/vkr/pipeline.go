// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"unsafe"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/Zubo/obsidian-engine-sub000/model"
	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
)

// pushConstant is the per draw data pushed to the vertex stage.
type pushConstant struct {
	Model glm.Mat4
}

// materialUniform is the material uniform block, std140 compatible.
type materialUniform struct {
	Ambient   glm.Vec4
	Diffuse   glm.Vec4
	Specular  glm.Vec4
	Color     glm.Vec4
	Shininess float32
	Flags     uint32
	_         [2]uint32
}

// material flags
const (
	flagLit uint32 = 1 << iota
	flagDiffuseTexture
	flagNormalTexture
	flagTransparent
)

const (
	frameUniformSize    = vk.DeviceSize(unsafe.Sizeof(gfx.FrameUniforms{}))
	materialUniformSize = vk.DeviceSize(unsafe.Sizeof(materialUniform{}))
)

func vertexBindings() []vk.VertexInputBindingDescription {
	return []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    model.VertexSize,
		InputRate: vk.VertexInputRateVertex,
	}}
}

func vertexAttributes() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{Location: 0, Format: vk.FormatR32g32b32Sfloat, Offset: model.OffsetPos},
		{Location: 1, Format: vk.FormatR32g32b32Sfloat, Offset: model.OffsetNormal},
		{Location: 2, Format: vk.FormatR32g32b32Sfloat, Offset: model.OffsetColor},
		{Location: 3, Format: vk.FormatR32g32Sfloat, Offset: model.OffsetUV},
	}
}

func (d *Device) createLayouts() error {
	frameBindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
		},
		{
			Binding:         1,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	}
	materialBindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
		{
			Binding:         1,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
		{
			Binding:         2,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	}
	for _, l := range []struct {
		bindings []vk.DescriptorSetLayoutBinding
		dst      *vk.DescriptorSetLayout
	}{
		{frameBindings, &d.frameLayout},
		{materialBindings, &d.materialLayout},
	} {
		dslci := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(l.bindings)),
			PBindings:    l.bindings,
		}
		if err := check("vk.CreateDescriptorSetLayout()", vk.CreateDescriptorSetLayout(d.device, &dslci, nil, l.dst)); err != nil {
			return err
		}
	}

	setLayouts := []vk.DescriptorSetLayout{d.frameLayout, d.materialLayout}
	pcr := []vk.PushConstantRange{{
		Offset:     0,
		Size:       uint32(unsafe.Sizeof(pushConstant{})),
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
	}}
	plci := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: uint32(len(pcr)),
		PPushConstantRanges:    pcr,
	}
	if err := check("vk.CreatePipelineLayout()", vk.CreatePipelineLayout(d.device, &plci, nil, &d.pipelineLayout)); err != nil {
		return err
	}

	pcci := vk.PipelineCacheCreateInfo{SType: vk.StructureTypePipelineCacheCreateInfo}
	if err := check("vk.CreatePipelineCache()", vk.CreatePipelineCache(d.device, &pcci, nil, &d.pipelineCache)); err != nil {
		return err
	}

	// one material set per material, one frame set per frame in flight
	sets := d.cfg.MaxMaterials + d.cfg.SwapchainSize
	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: sets},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 2*d.cfg.MaxMaterials + d.cfg.SwapchainSize},
	}
	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       sets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	return check("vk.CreateDescriptorPool()", vk.CreateDescriptorPool(d.device, &dpci, nil, &d.descriptorPool))
}

func (d *Device) allocateSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     d.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	var set vk.DescriptorSet
	if err := check("vk.AllocateDescriptorSets()", vk.AllocateDescriptorSets(d.device, &dsai, &set)); err != nil {
		return nil, err
	}
	return set, nil
}

type pipelineConfig struct {
	vertex, fragment vk.ShaderModule
	renderPass       vk.RenderPass
	transparent      bool
	depthOnly        bool
}

func (d *Device) createPipeline(cfg pipelineConfig) (vk.Pipeline, error) {
	stages := []vk.PipelineShaderStageCreateInfo{{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageVertexBit,
		Module: cfg.vertex,
		PName:  safeString("main"),
	}}
	if cfg.fragment != nil {
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: cfg.fragment,
			PName:  safeString("main"),
		})
	}

	blend := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: 0xF,
		BlendEnable:    vk.False,
	}
	if cfg.transparent {
		blend = vk.PipelineColorBlendAttachmentState{
			ColorWriteMask:      0xF,
			BlendEnable:         vk.True,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorOne,
			DstAlphaBlendFactor: vk.BlendFactorZero,
			AlphaBlendOp:        vk.BlendOpAdd,
		}
	}
	colorBlend := &vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blend},
	}
	cull := vk.CullModeBackBit
	if cfg.depthOnly {
		colorBlend = &vk.PipelineColorBlendStateCreateInfo{
			SType: vk.StructureTypePipelineColorBlendStateCreateInfo,
		}
		cull = vk.CullModeFrontBit
	}
	var depthWrite vk.Bool32 = vk.True
	if cfg.transparent {
		depthWrite = vk.False
	}

	bindings, attributes := vertexBindings(), vertexAttributes()
	stencil := vk.StencilOpState{
		FailOp:    vk.StencilOpKeep,
		PassOp:    vk.StencilOpKeep,
		CompareOp: vk.CompareOpAlways,
	}
	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(cull),
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  vk.True,
			DepthWriteEnable: depthWrite,
			DepthCompareOp:   vk.CompareOpLessOrEqual,
			Back:             stencil,
			Front:            stencil,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: colorBlend,
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     d.pipelineLayout,
		RenderPass: cfg.renderPass,
	}}

	pipelines := make([]vk.Pipeline, 1)
	if err := check("vk.CreateGraphicsPipelines()", vk.CreateGraphicsPipelines(d.device, d.pipelineCache, 1, gpci, nil, pipelines)); err != nil {
		return nil, err
	}
	return pipelines[0], nil
}

func (d *Device) createShadowPipeline(vertex vk.ShaderModule) (vk.Pipeline, error) {
	return d.createPipeline(pipelineConfig{
		vertex:     vertex,
		renderPass: d.shadowPass,
		depthOnly:  true,
	})
}
