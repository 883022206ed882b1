// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"fmt"

	glm "github.com/go-gl/mathgl/mgl32"
)

// UnpackFunc fills dst with the unpacked resource data. dst is sized by
// the device from the description.
type UnpackFunc func(dst []byte) error

// UploadTexture describes a texture upload.
type UploadTexture struct {
	Format    TextureFormat
	Width     uint32
	Height    uint32
	MipLevels uint32
	Unpack    UnpackFunc
	DebugName string
}

// Size returns the number of bytes of unpacked pixel data.
func (t UploadTexture) Size() uint64 {
	return uint64(t.Width) * uint64(t.Height) * uint64(t.Format.PixelSize())
}

// Validate checks the description is uploadable.
func (t UploadTexture) Validate() error {
	if t.Format.PixelSize() == 0 {
		return fmt.Errorf("%w: texture %s has format %s", ErrInvalidDescription, t.DebugName, t.Format)
	}
	if t.Width == 0 || t.Height == 0 {
		return fmt.Errorf("%w: texture %s is empty", ErrInvalidDescription, t.DebugName)
	}
	if t.Unpack == nil {
		return fmt.Errorf("%w: texture %s has no data", ErrInvalidDescription, t.DebugName)
	}
	return nil
}

// UploadMesh describes a mesh upload. Unpacked data holds the vertex
// buffer followed by all index buffers.
type UploadMesh struct {
	VertexCount      uint64
	VertexBufferSize uint64
	IndexCount       uint64
	IndexBufferSizes []uint64
	AABB             Box3D
	HasNormals       bool
	HasColors        bool
	HasUV            bool
	HasTangents      bool
	Unpack           UnpackFunc
	DebugName        string
}

// Size returns the number of bytes of unpacked mesh data.
func (m UploadMesh) Size() uint64 {
	size := m.VertexBufferSize
	for _, s := range m.IndexBufferSizes {
		size += s
	}
	return size
}

// Validate checks the description is uploadable.
func (m UploadMesh) Validate() error {
	if m.VertexCount == 0 || m.VertexBufferSize == 0 {
		return fmt.Errorf("%w: mesh %s has no vertices", ErrInvalidDescription, m.DebugName)
	}
	if m.VertexBufferSize%m.VertexCount != 0 {
		return fmt.Errorf("%w: mesh %s vertex buffer not divisible by vertex count", ErrInvalidDescription, m.DebugName)
	}
	if m.Unpack == nil {
		return fmt.Errorf("%w: mesh %s has no data", ErrInvalidDescription, m.DebugName)
	}
	return nil
}

// UploadShader describes a SPIR-V shader upload.
type UploadShader struct {
	Type      ShaderType
	Size      uint64
	Unpack    UnpackFunc
	DebugName string
}

// Validate checks the description is uploadable.
func (s UploadShader) Validate() error {
	if s.Size == 0 || s.Size%4 != 0 {
		return fmt.Errorf("%w: shader %s size %d is not a SPIR-V word multiple", ErrInvalidDescription, s.DebugName, s.Size)
	}
	if s.Unpack == nil {
		return fmt.Errorf("%w: shader %s has no data", ErrInvalidDescription, s.DebugName)
	}
	return nil
}

// LitMaterial holds lit material parameters.
type LitMaterial struct {
	DiffuseTexture ResourceID
	NormalTexture  ResourceID
	AmbientColor   glm.Vec4
	DiffuseColor   glm.Vec4
	SpecularColor  glm.Vec4
	Shininess      float32
}

// UnlitMaterial holds unlit material parameters.
type UnlitMaterial struct {
	Color        glm.Vec4
	ColorTexture ResourceID
}

// UploadMaterial describes a material upload. VertexShader may be
// InvalidID, the device then uses its default vertex shader.
type UploadMaterial struct {
	Type           MaterialType
	VertexShader   ResourceID
	FragmentShader ResourceID
	Lit            *LitMaterial
	Unlit          *UnlitMaterial
	Transparent    bool
	DebugName      string
}

// Validate checks the description is uploadable.
func (m UploadMaterial) Validate() error {
	if !m.FragmentShader.Valid() {
		return fmt.Errorf("%w: material %s has no fragment shader", ErrInvalidDescription, m.DebugName)
	}
	switch m.Type {
	case Lit:
		if m.Lit == nil {
			return fmt.Errorf("%w: lit material %s without lit data", ErrInvalidDescription, m.DebugName)
		}
	case Unlit:
		if m.Unlit == nil {
			return fmt.Errorf("%w: unlit material %s without unlit data", ErrInvalidDescription, m.DebugName)
		}
	default:
		return fmt.Errorf("%w: material %s has type %s", ErrInvalidDescription, m.DebugName, m.Type)
	}
	return nil
}

// Dependencies returns the device resources the material binds.
func (m UploadMaterial) Dependencies() []ResourceID {
	ids := []ResourceID{m.FragmentShader}
	if m.VertexShader.Valid() {
		ids = append(ids, m.VertexShader)
	}
	if m.Lit != nil {
		for _, id := range []ResourceID{m.Lit.DiffuseTexture, m.Lit.NormalTexture} {
			if id.Valid() {
				ids = append(ids, id)
			}
		}
	}
	if m.Unlit != nil && m.Unlit.ColorTexture.Valid() {
		ids = append(ids, m.Unlit.ColorTexture)
	}
	return ids
}
