// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package model converts meshes between their in-memory form, the
// interchange formats and mesh assets.
package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Zubo/obsidian-engine-sub000/asset"
	glm "github.com/go-gl/mathgl/mgl32"
)

// ErrLayout is returned when a mesh asset does not use the Vertex layout.
var ErrLayout = errors.New("unsupported vertex layout")

// Vertex is the vertex layout of every mesh the engine draws.
type Vertex struct {
	Pos    glm.Vec3
	Normal glm.Vec3
	Color  glm.Vec3
	UV     glm.Vec2
}

// VertexSize is the size of a Vertex in bytes, without padding.
const VertexSize = (3 + 3 + 3 + 2) * 4

// Attribute offsets inside a Vertex
const (
	OffsetPos    = 0
	OffsetNormal = 12
	OffsetColor  = 24
	OffsetUV     = 36
)

// Mesh is a vertex buffer with one index buffer per material slot.
type Mesh struct {
	Vertices  []Vertex
	Indices   [][]uint32
	Materials []string
}

// Bounds returns the axis aligned bounding box of all vertices.
func (m *Mesh) Bounds() asset.AABB {
	if len(m.Vertices) == 0 {
		return asset.AABB{}
	}
	top, bottom := m.Vertices[0].Pos, m.Vertices[0].Pos
	for _, v := range m.Vertices[1:] {
		for i := 0; i < 3; i++ {
			top[i] = float32(math.Max(float64(top[i]), float64(v.Pos[i])))
			bottom[i] = float32(math.Min(float64(bottom[i]), float64(v.Pos[i])))
		}
	}
	return asset.AABB{TopRight: top, BottomLeft: bottom}
}

// Info returns the mesh asset metadata describing m.
func (m *Mesh) Info() asset.MeshInfo {
	info := asset.MeshInfo{
		VertexCount:      uint64(len(m.Vertices)),
		VertexBufferSize: uint64(len(m.Vertices) * VertexSize),
		HasNormals:       true,
		HasColors:        true,
		HasUV:            true,
		DefaultMaterials: m.Materials,
		AABB:             m.Bounds(),
	}
	for _, idx := range m.Indices {
		info.IndexCount += uint64(len(idx))
		info.IndexBufferSizes = append(info.IndexBufferSizes, uint64(len(idx)*4))
	}
	return info
}

// Raw encodes the vertex buffer followed by every index buffer, little
// endian.
func (m *Mesh) Raw() []byte {
	info := m.Info()
	size := info.VertexBufferSize
	for _, s := range info.IndexBufferSizes {
		size += s
	}
	raw := make([]byte, size)
	off := 0
	put := func(f float32) {
		binary.LittleEndian.PutUint32(raw[off:], math.Float32bits(f))
		off += 4
	}
	for _, v := range m.Vertices {
		for _, f := range v.Pos {
			put(f)
		}
		for _, f := range v.Normal {
			put(f)
		}
		for _, f := range v.Color {
			put(f)
		}
		for _, f := range v.UV {
			put(f)
		}
	}
	for _, idx := range m.Indices {
		for _, i := range idx {
			binary.LittleEndian.PutUint32(raw[off:], i)
			off += 4
		}
	}
	return raw
}

// Pack builds a mesh asset.
func (m *Mesh) Pack(mode asset.CompressionMode) (*asset.Asset, error) {
	if len(m.Vertices) == 0 {
		return nil, errors.New("mesh has no vertices")
	}
	return asset.PackMesh(m.Info(), m.Raw(), mode)
}

// Read decodes a mesh asset written by Pack.
func Read(a *asset.Asset) (*Mesh, error) {
	info, err := asset.ReadMeshInfo(a)
	if err != nil {
		return nil, err
	}
	if info.VertexCount == 0 || info.VertexBufferSize != info.VertexCount*VertexSize {
		return nil, fmt.Errorf("%w: %d bytes for %d vertices", ErrLayout, info.VertexBufferSize, info.VertexCount)
	}
	raw := make([]byte, info.UnpackedSize)
	if err := asset.Unpack(info.Info, a.Blob, raw); err != nil {
		return nil, err
	}

	m := &Mesh{
		Vertices:  make([]Vertex, info.VertexCount),
		Materials: info.DefaultMaterials,
	}
	off := 0
	get := func() float32 {
		f := math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		off += 4
		return f
	}
	for i := range m.Vertices {
		v := &m.Vertices[i]
		v.Pos = glm.Vec3{get(), get(), get()}
		v.Normal = glm.Vec3{get(), get(), get()}
		v.Color = glm.Vec3{get(), get(), get()}
		v.UV = glm.Vec2{get(), get()}
	}
	for _, size := range info.IndexBufferSizes {
		idx := make([]uint32, size/4)
		for i := range idx {
			idx[i] = binary.LittleEndian.Uint32(raw[off:])
			off += 4
		}
		m.Indices = append(m.Indices, idx)
	}
	return m, nil
}
