// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"errors"
	"fmt"
	"io"

	"github.com/Zubo/obsidian-engine-sub000/util/collada"
	glm "github.com/go-gl/mathgl/mgl32"
)

// ErrNoGeometry is returned for documents without triangles.
var ErrNoGeometry = errors.New("no triangle geometry")

// ImportCollada reads the first geometry of a Collada document. Every
// triangles element becomes an index buffer, vertices sharing all
// attributes are merged.
func ImportCollada(r io.Reader) (*Mesh, error) {
	doc, err := collada.Decode(r)
	if err != nil {
		return nil, err
	}
	if len(doc.Geometries) == 0 || len(doc.Geometries[0].Mesh.Triangles) == 0 {
		return nil, ErrNoGeometry
	}
	src := &doc.Geometries[0].Mesh

	m := &Mesh{}
	merged := make(map[[3]int]uint32)
	for _, tris := range src.Triangles {
		idx, err := m.addTriangles(src, &tris, merged)
		if err != nil {
			return nil, fmt.Errorf("triangles %q: %w", tris.Material, err)
		}
		m.Indices = append(m.Indices, idx)
	}
	return m, nil
}

type attribute struct {
	source collada.Source
	offset int
	ok     bool
}

func lookupAttribute(mesh *collada.Mesh, tris *collada.Triangles, semantic string) (attribute, error) {
	in, ok := tris.Input(semantic)
	if !ok {
		return attribute{}, nil
	}
	s, err := mesh.Lookup(in.Source)
	if err != nil {
		return attribute{}, fmt.Errorf("%s %s: %w", semantic, in.Source, err)
	}
	return attribute{source: s, offset: int(in.Offset), ok: true}, nil
}

func (m *Mesh) addTriangles(mesh *collada.Mesh, tris *collada.Triangles, merged map[[3]int]uint32) ([]uint32, error) {
	pos, err := lookupAttribute(mesh, tris, "VERTEX")
	if err != nil {
		return nil, err
	}
	if !pos.ok {
		return nil, errors.New("no VERTEX input")
	}
	normal, err := lookupAttribute(mesh, tris, "NORMAL")
	if err != nil {
		return nil, err
	}
	uv, err := lookupAttribute(mesh, tris, "TEXCOORD")
	if err != nil {
		return nil, err
	}

	stride := tris.Stride()
	if stride == 0 || len(tris.Index)%(stride*3) != 0 {
		return nil, fmt.Errorf("index count %d is not a multiple of %d", len(tris.Index), stride*3)
	}

	indices := make([]uint32, 0, len(tris.Index)/stride)
	for at := 0; at < len(tris.Index); at += stride {
		p := tris.Index[at : at+stride]
		key := [3]int{p[pos.offset], -1, -1}
		if normal.ok {
			key[1] = p[normal.offset]
		}
		if uv.ok {
			key[2] = p[uv.offset]
		}
		if i, ok := merged[key]; ok {
			indices = append(indices, i)
			continue
		}

		v := Vertex{Color: glm.Vec3{1, 1, 1}}
		e, ok := pos.source.Element(key[0], 3)
		if !ok {
			return nil, fmt.Errorf("position %d out of range", key[0])
		}
		v.Pos = glm.Vec3{e[0], e[1], e[2]}
		if normal.ok {
			if e, ok := normal.source.Element(key[1], 3); ok {
				v.Normal = glm.Vec3{e[0], e[1], e[2]}
			}
		}
		if uv.ok {
			if e, ok := uv.source.Element(key[2], 2); ok {
				// collada has the origin bottom left, vulkan top left
				v.UV = glm.Vec2{e[0], 1 - e[1]}
			}
		}

		i := uint32(len(m.Vertices))
		m.Vertices = append(m.Vertices, v)
		merged[key] = i
		indices = append(indices, i)
	}
	return indices, nil
}
