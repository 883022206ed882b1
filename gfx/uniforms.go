// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"math"

	glm "github.com/go-gl/mathgl/mgl32"
)

// Projection defaults
const (
	FieldOfView = 70.0
	NearPlane   = 0.1
	FarPlane    = 400.0

	shadowExtent   = 40.0
	shadowDistance = 100.0
)

// DirectionalLight is a light infinitely far away, like the sun.
type DirectionalLight struct {
	Direction glm.Vec3 `json:"direction" toml:"direction" yaml:"direction"`
	Color     glm.Vec3 `json:"color" toml:"color" yaml:"color"`
	Intensity float32  `json:"intensity" toml:"intensity" yaml:"intensity"`
}

// SceneParams are the scene wide parameters of a frame.
type SceneParams struct {
	CameraPos         glm.Vec3
	CameraRotationRad glm.Vec2
	AmbientColor      glm.Vec3
	Sun               DirectionalLight
}

// CameraData is the camera uniform block, std140 compatible.
type CameraData struct {
	View     glm.Mat4
	Proj     glm.Mat4
	ViewProj glm.Mat4
	Position glm.Vec4
}

// SceneData is the scene uniform block, std140 compatible.
type SceneData struct {
	AmbientColor glm.Vec4
	SunDirection glm.Vec4
	SunColor     glm.Vec4
	LightSpace   glm.Mat4
}

// FrameUniforms is everything written into a frame slot's buffers.
type FrameUniforms struct {
	Camera CameraData
	Scene  SceneData
}

// CameraView returns the view matrix of a camera at pos rotated
// by rot.X around X and rot.Y around Y.
func CameraView(pos glm.Vec3, rot glm.Vec2) glm.Mat4 {
	return glm.HomogRotate3DX(-rot.X()).
		Mul4(glm.HomogRotate3DY(-rot.Y())).
		Mul4(glm.Translate3D(-pos.X(), -pos.Y(), -pos.Z()))
}

// CameraForward returns the direction the camera looks at.
func CameraForward(rot glm.Vec2) glm.Vec3 {
	m := glm.HomogRotate3DY(rot.Y()).Mul4(glm.HomogRotate3DX(rot.X()))
	return m.Mul4x1(glm.Vec4{0, 0, -1, 0}).Vec3()
}

// NewFrameUniforms computes the uniform data of a frame.
func NewFrameUniforms(p SceneParams, extent Extent2D) FrameUniforms {
	view := CameraView(p.CameraPos, p.CameraRotationRad)
	proj := glm.Perspective(glm.DegToRad(FieldOfView), extent.Aspect(), NearPlane, FarPlane)
	proj[5] *= -1 // Flip from OpenGl to Vulkan projection

	sunDir := p.Sun.Direction
	if sunDir.Len() == 0 {
		sunDir = glm.Vec3{0, -1, 0}
	}
	sunDir = sunDir.Normalize()

	return FrameUniforms{
		Camera: CameraData{
			View:     view,
			Proj:     proj,
			ViewProj: proj.Mul4(view),
			Position: p.CameraPos.Vec4(1),
		},
		Scene: SceneData{
			AmbientColor: p.AmbientColor.Vec4(1),
			SunDirection: sunDir.Vec4(0),
			SunColor:     p.Sun.Color.Mul(p.Sun.Intensity).Vec4(1),
			LightSpace:   LightSpace(sunDir, p.CameraPos),
		},
	}
}

// LightSpace returns the orthographic view projection of a directional
// light covering the area around center.
func LightSpace(dir, center glm.Vec3) glm.Mat4 {
	up := glm.Vec3{0, 1, 0}
	if math.Abs(float64(dir.Dot(up))) > 0.99 {
		up = glm.Vec3{0, 0, 1}
	}
	eye := center.Sub(dir.Mul(shadowDistance / 2))
	view := glm.LookAtV(eye, center, up)
	proj := glm.Ortho(-shadowExtent, shadowExtent, -shadowExtent, shadowExtent, 0, shadowDistance)
	proj[5] *= -1
	return proj.Mul4(view)
}
