// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package scene holds the objects to be drawn and turns them into draw
// calls for the resources that are ready.
package scene

import (
	"math"

	"github.com/Zubo/obsidian-engine-sub000/gfx"
	"github.com/Zubo/obsidian-engine-sub000/resource"
	glm "github.com/go-gl/mathgl/mgl32"
)

// Camera is the point of view of a scene.
type Camera struct {
	Pos         glm.Vec3 `json:"pos" toml:"pos" yaml:"pos"`
	RotationRad glm.Vec2 `json:"cameraRotationRad" toml:"cameraRotationRad" yaml:"cameraRotationRad"`
}

// Forward returns the direction the camera looks at.
func (c Camera) Forward() glm.Vec3 {
	return gfx.CameraForward(c.RotationRad).Normalize()
}

// Right returns the direction to the right of the camera.
func (c Camera) Right() glm.Vec3 {
	return c.Forward().Cross(glm.Vec3{0, 1, 0}).Normalize()
}

// Move translates the camera along its own axes.
func (c *Camera) Move(forward, right, up float32) {
	c.Pos = c.Pos.
		Add(c.Forward().Mul(forward)).
		Add(c.Right().Mul(right)).
		Add(glm.Vec3{0, up, 0})
}

// Rotate turns the camera by a mouse motion in pixels. Looking up and
// down stops at the poles.
func (c *Camera) Rotate(dxPixels, dyPixels int32) {
	const factor = 0.01
	c.RotationRad = c.RotationRad.Add(glm.Vec2{-float32(dyPixels), -float32(dxPixels)}.Mul(factor))
	c.RotationRad[0] = glm.Clamp(c.RotationRad[0], -math.Pi/2, math.Pi/2)
}

// GameObject is a node of the scene graph. Euler angles are in degrees.
type GameObject struct {
	Name      string        `json:"name" toml:"name" yaml:"name"`
	Position  glm.Vec3      `json:"pos" toml:"pos" yaml:"pos"`
	Euler     glm.Vec3      `json:"euler" toml:"euler" yaml:"euler"`
	Scale     glm.Vec3      `json:"scale" toml:"scale" yaml:"scale"`
	Mesh      string        `json:"mesh,omitempty" toml:"mesh,omitempty" yaml:"mesh,omitempty"`
	Materials []string      `json:"materials,omitempty" toml:"materials,omitempty" yaml:"materials,omitempty"`
	Children  []*GameObject `json:"children,omitempty" toml:"children,omitempty" yaml:"children,omitempty"`
}

// Transform returns the local transform, translation after rotation
// after scale. A zero scale counts as one.
func (o *GameObject) Transform() glm.Mat4 {
	scale := o.Scale
	if scale == (glm.Vec3{}) {
		scale = glm.Vec3{1, 1, 1}
	}
	return glm.Translate3D(o.Position.X(), o.Position.Y(), o.Position.Z()).
		Mul4(glm.HomogRotate3DX(glm.DegToRad(o.Euler.X()))).
		Mul4(glm.HomogRotate3DY(glm.DegToRad(o.Euler.Y()))).
		Mul4(glm.HomogRotate3DZ(glm.DegToRad(o.Euler.Z()))).
		Mul4(glm.Scale3D(scale.X(), scale.Y(), scale.Z()))
}

// Walk calls fn for o and every descendant with its world transform.
func (o *GameObject) Walk(parent glm.Mat4, fn func(o *GameObject, world glm.Mat4)) {
	world := parent.Mul4(o.Transform())
	fn(o, world)
	for _, c := range o.Children {
		c.Walk(world, fn)
	}
}

// Scene is the set of objects drawn every frame.
type Scene struct {
	AmbientColor glm.Vec3             `json:"ambientColor" toml:"ambientColor" yaml:"ambientColor"`
	Sun          gfx.DirectionalLight `json:"sun" toml:"sun" yaml:"sun"`
	Camera       Camera               `json:"camera" toml:"camera" yaml:"camera"`
	Objects      []*GameObject        `json:"gameObjects" toml:"gameObjects" yaml:"gameObjects"`
}

// Walk visits every object of the scene with its world transform.
func (s *Scene) Walk(fn func(o *GameObject, world glm.Mat4)) {
	for _, o := range s.Objects {
		o.Walk(glm.Ident4(), fn)
	}
}

// Paths returns every resource path the scene references, each once.
func (s *Scene) Paths() []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	s.Walk(func(o *GameObject, _ glm.Mat4) {
		add(o.Mesh)
		for _, m := range o.Materials {
			add(m)
		}
	})
	return paths
}

// Params returns the scene wide frame parameters.
func (s *Scene) Params() gfx.SceneParams {
	return gfx.SceneParams{
		CameraPos:         s.Camera.Pos,
		CameraRotationRad: s.Camera.RotationRad,
		AmbientColor:      s.AmbientColor,
		Sun:               s.Sun,
	}
}

// Requester schedules resources that are not ready yet.
type Requester interface {
	Request(r *resource.Resource) bool
}

// Collect returns a draw call for every object whose mesh and materials
// are ready, and requests the resources of the others.
func (s *Scene) Collect(mgr *resource.Manager, req Requester) []gfx.DrawCall {
	var draws []gfx.DrawCall
	ready := func(path string) (*resource.Resource, bool) {
		r := mgr.Get(path)
		if r.Ready() {
			return r, true
		}
		if r.State() == resource.Unloaded {
			req.Request(r)
		}
		return r, false
	}
	// id reads the device id once, a resource may be released meanwhile
	id := func(path string) (gfx.ResourceID, *resource.Resource) {
		r, ok := ready(path)
		if !ok {
			return gfx.InvalidID, r
		}
		return r.ID(), r
	}

	s.Walk(func(o *GameObject, world glm.Mat4) {
		if o.Mesh == "" || len(o.Materials) == 0 {
			return
		}
		mesh, _ := id(o.Mesh)
		complete := mesh.Valid()
		dc := gfx.DrawCall{
			Transform: world,
			Mesh:      mesh,
			Materials: make([]gfx.ResourceID, 0, len(o.Materials)),
		}
		for _, p := range o.Materials {
			mat, r := id(p)
			if !mat.Valid() {
				complete = false
				continue
			}
			dc.Materials = append(dc.Materials, mat)
			dc.Transparent = dc.Transparent || r.Transparent()
		}
		if complete {
			draws = append(draws, dc)
		}
	})
	return draws
}
