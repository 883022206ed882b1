// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx defines rendering related features that devices must implement.
// The renderer and the resource loader only talk to a Device, concrete
// implementations live in the headless and vkr subpackages.
package gfx

import (
	"errors"
	"fmt"
	"time"

	glm "github.com/go-gl/mathgl/mgl32"
)

// package errors
var (
	ErrOutOfDate          = errors.New("presentation surface out of date")
	ErrTimeout            = errors.New("fence wait timed out")
	ErrDeviceLost         = errors.New("device lost")
	ErrUnknownResource    = errors.New("unknown device resource")
	ErrInvalidDescription = errors.New("invalid upload description")
	ErrPassState          = errors.New("command buffer pass state violated")
)

// ResourceID identifies a resource that lives on the device.
type ResourceID int64

// InvalidID is the id of a resource that was never uploaded.
const InvalidID ResourceID = ^ResourceID(0)

// Valid reports whether id may refer to an uploaded resource.
func (id ResourceID) Valid() bool {
	return id != InvalidID
}

// Extent2D is the size of a presentation surface in pixels.
type Extent2D struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// Empty reports a zero sized surface, e.g. a minimized window.
func (e Extent2D) Empty() bool {
	return e.Width == 0 || e.Height == 0
}

// Aspect returns width divided by height.
func (e Extent2D) Aspect() float32 {
	if e.Height == 0 {
		return 1
	}
	return float32(e.Width) / float32(e.Height)
}

// Extent3D is the size of an image.
type Extent3D struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

// TextureFormat is the pixel layout of a texture.
type TextureFormat uint32

// Texture formats
const (
	FormatUnknown TextureFormat = iota
	FormatR8G8B8
	FormatR8G8B8A8
)

// PixelSize returns the number of bytes a single pixel takes.
func (f TextureFormat) PixelSize() int {
	switch f {
	case FormatR8G8B8:
		return 3
	case FormatR8G8B8A8:
		return 4
	}
	return 0
}

func (f TextureFormat) String() string {
	switch f {
	case FormatR8G8B8:
		return "R8G8B8"
	case FormatR8G8B8A8:
		return "R8G8B8A8"
	}
	return "unknown"
}

// ShaderType represents the pipeline stage a shader is written for.
type ShaderType uint32

// Identifies shader objects with their types
const (
	VertexShader ShaderType = iota
	FragmentShader
	UnknownShader
)

func (t ShaderType) String() string {
	switch t {
	case VertexShader:
		return "vertex"
	case FragmentShader:
		return "fragment"
	}
	return "unknown"
}

// MaterialType selects the shading model of a material.
type MaterialType uint32

// Material types
const (
	Unlit MaterialType = iota
	Lit
)

func (t MaterialType) String() string {
	switch t {
	case Unlit:
		return "unlit"
	case Lit:
		return "lit"
	}
	return fmt.Sprintf("MaterialType(%d)", uint32(t))
}

// Box3D is an axis aligned bounding box.
type Box3D struct {
	TopCorner    glm.Vec3
	BottomCorner glm.Vec3
}

// Center returns the middle of the box.
func (b Box3D) Center() glm.Vec3 {
	return b.TopCorner.Add(b.BottomCorner).Mul(0.5)
}

// Device describes the rendering device. Upload calls may come from
// any goroutine, frame related calls come from the render goroutine only.
type Device interface {
	UploadTexture(UploadTexture) (ResourceID, error)
	UploadMesh(UploadMesh) (ResourceID, error)
	UploadShader(UploadShader) (ResourceID, error)
	UploadMaterial(UploadMaterial) (ResourceID, error)

	ReleaseTexture(ResourceID)
	ReleaseMesh(ResourceID)
	ReleaseShader(ResourceID)
	ReleaseMaterial(ResourceID)

	// NewFrame creates the device objects of one frame in flight.
	NewFrame(slot int) (Frame, error)

	// Resize rebuilds everything that depends on the surface size.
	// Uploaded resources survive.
	Resize(Extent2D) error

	// Extent returns the size the surface objects were built for.
	Extent() Extent2D

	// WaitIdle blocks until the device finished all submitted work.
	WaitIdle() error

	// Destroy destroys internal members
	Destroy()
}

// SurfaceSizer is implemented by devices that can query the current size
// of their presentation surface.
type SurfaceSizer interface {
	SurfaceExtent() Extent2D
}

// Frame holds the command buffer, synchronization primitives and
// per frame buffers of one frame slot.
type Frame interface {
	// Wait blocks until the previous submission of this slot completed.
	// Returns ErrTimeout when the fence does not signal in time.
	Wait(timeout time.Duration) error

	// Reset unsignals the fence before a new submission.
	Reset() error

	// Acquire acquires the next presentable image, ErrOutOfDate
	// means the surface has to be resized first.
	Acquire() error

	// WriteUniforms writes per frame data into this slot's buffers.
	WriteUniforms(FrameUniforms) error

	// Begin starts recording the slot's command buffer.
	Begin() (CommandBuffer, error)

	// Submit ends recording and submits to the device, signalling
	// the fence on completion.
	Submit() error

	// Present queues the acquired image for presentation.
	Present() error

	Destroy()
}

// Pass identifies a render pass.
type Pass int

// Render passes in recording order
const (
	ShadowPass Pass = iota
	MainPass
)

func (p Pass) String() string {
	switch p {
	case ShadowPass:
		return "shadow"
	case MainPass:
		return "main"
	}
	return "unknown"
}

// PassParams configures a render pass instance.
type PassParams struct {
	Extent     Extent2D
	ClearColor glm.Vec4
}

// CommandBuffer records draw commands for a frame.
type CommandBuffer interface {
	BeginPass(Pass, PassParams) error
	Draw(DrawCall) error
	EndPass() error
}

// DrawCall is produced fresh every frame, one per visible mesh instance.
// Materials are matched to the mesh index buffers in order.
type DrawCall struct {
	Transform   glm.Mat4
	Mesh        ResourceID
	Materials   []ResourceID
	Transparent bool
}

// Resources returns every device resource the draw call references.
func (d DrawCall) Resources() []ResourceID {
	ids := make([]ResourceID, 0, len(d.Materials)+1)
	ids = append(ids, d.Mesh)
	return append(ids, d.Materials...)
}
