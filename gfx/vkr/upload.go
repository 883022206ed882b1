// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"
	"unsafe"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	vk "github.com/devblok/vulkan"
)

type texture struct {
	image Image
}

type mesh struct {
	buffer       Buffer
	indexOffsets []uint64
	indexCounts  []uint32
	vertexCount  uint32
}

type shader struct {
	module vk.ShaderModule
	typ    gfx.ShaderType
}

type material struct {
	pipeline    vk.Pipeline
	set         vk.DescriptorSet
	uniform     Buffer
	transparent bool
	pool        vk.DescriptorPool
}

func destroyResource(dev vk.Device, r interface{}) {
	switch r := r.(type) {
	case *texture:
		r.image.Release()
	case *mesh:
		r.buffer.Release()
	case *shader:
		vk.DestroyShaderModule(dev, r.module, nil)
	case *material:
		vk.DestroyPipeline(dev, r.pipeline, nil)
		vk.FreeDescriptorSets(dev, r.pool, 1, &r.set)
		r.uniform.Release()
	}
}

func (d *Device) add(r interface{}) gfx.ResourceID {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	id := d.nextID
	d.nextID++
	d.resources[id] = r
	return id
}

func (d *Device) remove(id gfx.ResourceID) interface{} {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	r := d.resources[id]
	delete(d.resources, id)
	return r
}

func (d *Device) lookup(id gfx.ResourceID) (interface{}, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	r, ok := d.resources[id]
	return r, ok
}

// stage creates a host visible transfer source of size bytes filled by fill.
func (d *Device) stage(size uint64, fill gfx.UnpackFunc) (Buffer, error) {
	staging, err := NewBuffer(d.device, size, vk.BufferUsageTransferSrcBit, hostVisible, d.alloc)
	if err != nil {
		return Buffer{}, err
	}
	data, err := staging.Mem().Map()
	if err != nil {
		staging.Release()
		return Buffer{}, err
	}
	if err := fill(data[:size]); err != nil {
		staging.Release()
		return Buffer{}, err
	}
	return staging, nil
}

// UploadTexture implements gfx.Device. Three channel data is expanded
// to RGBA.
func (d *Device) UploadTexture(t gfx.UploadTexture) (gfx.ResourceID, error) {
	if err := t.Validate(); err != nil {
		return gfx.InvalidID, err
	}

	pixels := uint64(t.Width) * uint64(t.Height)
	fill := t.Unpack
	if t.Format == gfx.FormatR8G8B8 {
		fill = func(dst []byte) error {
			rgb := make([]byte, t.Size())
			if err := t.Unpack(rgb); err != nil {
				return err
			}
			for p := uint64(0); p < pixels; p++ {
				copy(dst[p*4:p*4+3], rgb[p*3:p*3+3])
				dst[p*4+3] = 0xff
			}
			return nil
		}
	}
	staging, err := d.stage(pixels*4, fill)
	if err != nil {
		return gfx.InvalidID, fmt.Errorf("texture %s: %w", t.DebugName, err)
	}
	defer staging.Release()

	img, err := NewImage(d.device, ImageConfig{
		Width:  t.Width,
		Height: t.Height,
		Format: vk.FormatR8g8b8a8Unorm,
		Usage:  vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit,
		Aspect: vk.ImageAspectColorBit,
	}, d.alloc)
	if err != nil {
		return gfx.InvalidID, err
	}

	err = func() error {
		d.uploadMutex.Lock()
		defer d.uploadMutex.Unlock()
		cmd, err := d.beginOnce()
		if err != nil {
			return err
		}
		if err := transitionLayout(cmd, img.Get(), vk.ImageAspectColorBit, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal); err != nil {
			return err
		}
		vk.CmdCopyBufferToImage(cmd, staging.Get(), img.Get(), vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: t.Width, Height: t.Height, Depth: 1},
		}})
		if err := transitionLayout(cmd, img.Get(), vk.ImageAspectColorBit, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal); err != nil {
			return err
		}
		return d.endOnce(cmd)
	}()
	if err != nil {
		img.Release()
		return gfx.InvalidID, fmt.Errorf("texture %s: %w", t.DebugName, err)
	}

	id := d.add(&texture{image: img})
	d.log.WithField("id", id).WithField("name", t.DebugName).Debug("texture uploaded")
	return id, nil
}

// UploadMesh implements gfx.Device. Vertices and all index buffers share
// one device buffer.
func (d *Device) UploadMesh(m gfx.UploadMesh) (gfx.ResourceID, error) {
	if err := m.Validate(); err != nil {
		return gfx.InvalidID, err
	}

	size := m.Size()
	staging, err := d.stage(size, m.Unpack)
	if err != nil {
		return gfx.InvalidID, fmt.Errorf("mesh %s: %w", m.DebugName, err)
	}
	defer staging.Release()

	buf, err := NewBuffer(d.device, size,
		vk.BufferUsageTransferDstBit|vk.BufferUsageVertexBufferBit|vk.BufferUsageIndexBufferBit,
		vk.MemoryPropertyDeviceLocalBit, d.alloc)
	if err != nil {
		return gfx.InvalidID, err
	}

	err = func() error {
		d.uploadMutex.Lock()
		defer d.uploadMutex.Unlock()
		cmd, err := d.beginOnce()
		if err != nil {
			return err
		}
		vk.CmdCopyBuffer(cmd, staging.Get(), buf.Get(), 1, []vk.BufferCopy{{Size: vk.DeviceSize(size)}})
		return d.endOnce(cmd)
	}()
	if err != nil {
		buf.Release()
		return gfx.InvalidID, fmt.Errorf("mesh %s: %w", m.DebugName, err)
	}

	r := &mesh{
		buffer:      buf,
		vertexCount: uint32(m.VertexCount),
	}
	offset := m.VertexBufferSize
	for _, s := range m.IndexBufferSizes {
		r.indexOffsets = append(r.indexOffsets, offset)
		r.indexCounts = append(r.indexCounts, uint32(s/4))
		offset += s
	}
	id := d.add(r)
	d.log.WithField("id", id).WithField("name", m.DebugName).Debug("mesh uploaded")
	return id, nil
}

// UploadShader implements gfx.Device.
func (d *Device) UploadShader(s gfx.UploadShader) (gfx.ResourceID, error) {
	if err := s.Validate(); err != nil {
		return gfx.InvalidID, err
	}
	if s.Type != gfx.VertexShader && s.Type != gfx.FragmentShader {
		return gfx.InvalidID, fmt.Errorf("%w: shader %s has type %s", gfx.ErrInvalidDescription, s.DebugName, s.Type)
	}

	code := make([]byte, s.Size)
	if err := s.Unpack(code); err != nil {
		return gfx.InvalidID, fmt.Errorf("shader %s: %w", s.DebugName, err)
	}
	module, err := d.createShaderModule(code)
	if err != nil {
		return gfx.InvalidID, fmt.Errorf("shader %s: %w", s.DebugName, err)
	}
	return d.add(&shader{module: module, typ: s.Type}), nil
}

func (d *Device) shaderModule(id gfx.ResourceID, typ gfx.ShaderType) (vk.ShaderModule, error) {
	r, ok := d.lookup(id)
	s, isShader := r.(*shader)
	if !ok || !isShader {
		return nil, fmt.Errorf("%w: shader %d", gfx.ErrUnknownResource, id)
	}
	if s.typ != typ {
		return nil, fmt.Errorf("%w: shader %d is a %s shader", gfx.ErrInvalidDescription, id, s.typ)
	}
	return s.module, nil
}

func (d *Device) textureView(id gfx.ResourceID) (vk.ImageView, bool, error) {
	if !id.Valid() {
		r, _ := d.lookup(d.whiteTexture)
		return r.(*texture).image.View(), false, nil
	}
	r, ok := d.lookup(id)
	t, isTexture := r.(*texture)
	if !ok || !isTexture {
		return nil, false, fmt.Errorf("%w: texture %d", gfx.ErrUnknownResource, id)
	}
	return t.image.View(), true, nil
}

// UploadMaterial implements gfx.Device. Every material gets its own
// pipeline and descriptor set. Without a vertex shader the default one
// from the shader directory is used.
func (d *Device) UploadMaterial(m gfx.UploadMaterial) (gfx.ResourceID, error) {
	if err := m.Validate(); err != nil {
		return gfx.InvalidID, err
	}

	fragment, err := d.shaderModule(m.FragmentShader, gfx.FragmentShader)
	if err != nil {
		return gfx.InvalidID, err
	}
	vertex := d.defaultVertex
	if m.VertexShader.Valid() {
		if vertex, err = d.shaderModule(m.VertexShader, gfx.VertexShader); err != nil {
			return gfx.InvalidID, err
		}
	}
	if vertex == nil {
		return gfx.InvalidID, fmt.Errorf("material %s: %w", m.DebugName, ErrNoVertexStage)
	}

	u := materialUniform{}
	var colorTex, normalTex gfx.ResourceID = gfx.InvalidID, gfx.InvalidID
	switch m.Type {
	case gfx.Lit:
		u.Ambient = m.Lit.AmbientColor
		u.Diffuse = m.Lit.DiffuseColor
		u.Specular = m.Lit.SpecularColor
		u.Shininess = m.Lit.Shininess
		u.Flags |= flagLit
		colorTex, normalTex = m.Lit.DiffuseTexture, m.Lit.NormalTexture
	case gfx.Unlit:
		u.Color = m.Unlit.Color
		colorTex = m.Unlit.ColorTexture
	}
	if m.Transparent {
		u.Flags |= flagTransparent
	}
	colorView, hasColor, err := d.textureView(colorTex)
	if err != nil {
		return gfx.InvalidID, err
	}
	normalView, hasNormal, err := d.textureView(normalTex)
	if err != nil {
		return gfx.InvalidID, err
	}
	if hasColor {
		u.Flags |= flagDiffuseTexture
	}
	if hasNormal {
		u.Flags |= flagNormalTexture
	}

	r := &material{transparent: m.Transparent, pool: d.descriptorPool}
	if r.uniform, err = NewBuffer(d.device, uint64(materialUniformSize), vk.BufferUsageUniformBufferBit, hostVisible, d.alloc); err != nil {
		return gfx.InvalidID, err
	}
	data, err := r.uniform.Mem().Map()
	if err != nil {
		r.uniform.Release()
		return gfx.InvalidID, err
	}
	copy(data, unsafe.Slice((*byte)(unsafe.Pointer(&u)), materialUniformSize))
	r.uniform.Mem().Unmap()

	if r.set, err = d.allocateSet(d.materialLayout); err != nil {
		r.uniform.Release()
		return gfx.InvalidID, err
	}
	wds := []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          r.set,
		DstBinding:      0,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: r.uniform.Get(),
			Range:  materialUniformSize,
		}},
	}, {
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          r.set,
		DstBinding:      1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			ImageView:   colorView,
			Sampler:     d.linearSampler,
		}},
	}, {
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          r.set,
		DstBinding:      2,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			ImageView:   normalView,
			Sampler:     d.linearSampler,
		}},
	}}
	vk.UpdateDescriptorSets(d.device, uint32(len(wds)), wds, 0, nil)

	r.pipeline, err = d.createPipeline(pipelineConfig{
		vertex:      vertex,
		fragment:    fragment,
		renderPass:  d.mainPass,
		transparent: m.Transparent,
	})
	if err != nil {
		vk.FreeDescriptorSets(d.device, d.descriptorPool, 1, &r.set)
		r.uniform.Release()
		return gfx.InvalidID, fmt.Errorf("material %s: %w", m.DebugName, err)
	}

	id := d.add(r)
	d.log.WithField("id", id).WithField("name", m.DebugName).Debug("material uploaded")
	return id, nil
}

func (d *Device) release(id gfx.ResourceID) {
	r := d.remove(id)
	if r == nil {
		d.log.WithField("id", id).Warn("release of unknown resource")
		return
	}
	destroyResource(d.device, r)
}

// ReleaseTexture implements gfx.Device. Frames referencing the texture
// must have completed.
func (d *Device) ReleaseTexture(id gfx.ResourceID) { d.release(id) }

// ReleaseMesh implements gfx.Device.
func (d *Device) ReleaseMesh(id gfx.ResourceID) { d.release(id) }

// ReleaseShader implements gfx.Device. Pipelines built from the shader
// are unaffected.
func (d *Device) ReleaseShader(id gfx.ResourceID) { d.release(id) }

// ReleaseMaterial implements gfx.Device.
func (d *Device) ReleaseMaterial(id gfx.ResourceID) { d.release(id) }
